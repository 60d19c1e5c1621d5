// gpio.go - 10-port GPIO fabric (component C4)
//
// The corpus has no general-purpose line-level I/O library that fits a
// dense, SoC-internal register file the way periph.io/x/periph's conn/gpio
// package fits a discrete hardware pin driver (see DESIGN.md for why that
// dependency was surveyed and rejected); this file follows the teacher's
// own per-port register-array style instead (memory_bus.go's IORegion
// callback table, generalised to per-pin listeners).
//
// License: GPLv3 or later

package main

import "log/slog"

const gpioPortCount = 10

// PinState mirrors spec.md §4.4's get_state result: float when neither
// driven nor pulled, otherwise the resolved logic level plus which pull
// resistor (if any) is active.
type PinState struct {
	Float    bool
	High     bool
	PullUp   bool
	PullDown bool
}

// gpioPortMeta fixes, per port, its name, how many pins it has, and whether
// it supports external interrupts, per spec.md §4.4. The register byte
// offsets are the same for every port (the gpioReg* constants below).
type gpioPortMeta struct {
	name          string
	pins          int
	supportsIRQ   bool
}

var gpioPorts = [gpioPortCount]gpioPortMeta{
	{"PA", 16, true}, {"PB", 16, true}, {"PC", 16, false}, {"PD", 16, false},
	{"PE", 16, true}, {"PF", 16, false}, {"PG", 16, false}, {"PH", 16, false},
	{"PI", 8, false}, {"PJ", 8, false},
}

// Register offsets within a port's block (word-granular, spec.md §3:
// "per port: output-data, output-enable, input-pull-up, input-pull-down,
// input-data, and interrupt enable/status").
const (
	gpioRegOut     = 0x00
	gpioRegOE      = 0x04
	gpioRegPU      = 0x08
	gpioRegPD      = 0x0C
	gpioRegIn      = 0x10 // read-only
	gpioRegIntEn   = 0x14
	gpioRegIntStat = 0x18
	gpioRegBlock   = 0x20 // stride between ports in the peripheral window
)

type gpioListener func(level bool)

type gpioPort struct {
	out, oe, pu, pd   uint32
	in                uint32 // externally driven input level, one bit per pin
	intEn, intStat    uint32
	listeners         map[int][]gpioListener
}

// GPIO implements component C4.
type GPIO struct {
	ports [gpioPortCount]gpioPort
	ic    *InterruptController
	log   *slog.Logger
}

func NewGPIO(ic *InterruptController, log *slog.Logger) *GPIO {
	g := &GPIO{ic: ic, log: log}
	for i := range g.ports {
		g.ports[i].listeners = make(map[int][]gpioListener)
	}
	return g
}

// logicLevel resolves the externally-visible level of a pin: driven output
// wins when output-enable is set, otherwise external input, falling back to
// whichever pull resistor (if any) is active.
func (g *GPIO) logicLevel(port, pin int) (level bool, float bool) {
	p := &g.ports[port]
	mask := uint32(1) << uint(pin)
	if p.oe&mask != 0 {
		return p.out&mask != 0, false
	}
	if p.pu&mask != 0 {
		return true, false
	}
	if p.pd&mask != 0 {
		return false, false
	}
	return p.in&mask != 0, true
}

func (g *GPIO) AttachListener(port, pin int, fn gpioListener) {
	p := &g.ports[port]
	p.listeners[pin] = append(p.listeners[pin], fn)
}

// SetInput drives an externally-sourced level (e.g. a button) onto a pin
// and fires listeners/IRQ if that changes the resolved level.
func (g *GPIO) SetInput(port, pin int, high bool) {
	p := &g.ports[port]
	before, _ := g.logicLevel(port, pin)
	mask := uint32(1) << uint(pin)
	if high {
		p.in |= mask
	} else {
		p.in &^= mask
	}
	after, _ := g.logicLevel(port, pin)
	if before != after {
		g.notify(port, pin, after)
	}
}

func (g *GPIO) GetState(port, pin int) PinState {
	level, float := g.logicLevel(port, pin)
	p := &g.ports[port]
	mask := uint32(1) << uint(pin)
	return PinState{
		Float:    float,
		High:     level,
		PullUp:   p.pu&mask != 0,
		PullDown: p.pd&mask != 0,
	}
}

// FireInterrupt raises the port's external IRQ line (edge is currently
// informational; the reference firmware distinguishes edges via the input
// register snapshot rather than separate edge-select bits, per spec.md's
// "best guess" framing of undocumented bit numbering in §9).
func (g *GPIO) FireInterrupt(port, pin int, edge bool) {
	meta := gpioPorts[port]
	if !meta.supportsIRQ {
		return
	}
	p := &g.ports[port]
	mask := uint32(1) << uint(pin)
	if p.intEn&mask == 0 {
		return
	}
	p.intStat |= mask
	// Each interrupt-capable port is wired to its own controller line;
	// ports are assigned consecutive lines starting at line 0 (lines
	// 40-49 were tried first but collide with IRQ_PPU_DMA/IRQ_PPU_VBLANK_END,
	// see DESIGN.md).
	g.ic.SetLine(port, true)
}

func (g *GPIO) notify(port, pin int, level bool) {
	for _, fn := range g.ports[port].listeners[pin] {
		fn(level)
	}
}

func (g *GPIO) Read(port int, offset uint32) uint32 {
	p := &g.ports[port]
	switch offset {
	case gpioRegOut:
		return p.out
	case gpioRegOE:
		return p.oe
	case gpioRegPU:
		return p.pu
	case gpioRegPD:
		return p.pd
	case gpioRegIn:
		var v uint32
		for pin := 0; pin < gpioPorts[port].pins; pin++ {
			level, _ := g.logicLevel(port, pin)
			if level {
				v |= 1 << uint(pin)
			}
		}
		return v
	case gpioRegIntEn:
		return p.intEn
	case gpioRegIntStat:
		return p.intStat
	}
	return 0
}

func (g *GPIO) Write(port int, offset uint32, val uint32) {
	p := &g.ports[port]
	prevLevels := make([]bool, gpioPorts[port].pins)
	for pin := range prevLevels {
		prevLevels[pin], _ = g.logicLevel(port, pin)
	}

	switch offset {
	case gpioRegOut:
		p.out = val
	case gpioRegOE:
		p.oe = val
	case gpioRegPU:
		p.pu = val
	case gpioRegPD:
		p.pd = val
	case gpioRegIntEn:
		p.intEn = val
	case gpioRegIntStat:
		// Write-1-to-clear, per spec.md §4.4.
		p.intStat &^= val
	default:
		return
	}

	for pin := range prevLevels {
		after, _ := g.logicLevel(port, pin)
		if after != prevLevels[pin] {
			g.notify(port, pin, after)
		}
	}
}

// Read32/Write32 implement the Peripheral interface (see bus.go) for the
// GPIO slot: offset selects the port via gpioRegBlock-sized blocks.
func (g *GPIO) Read32(offset uint32) uint32 {
	port := int(offset / gpioRegBlock)
	if port >= gpioPortCount {
		return 0
	}
	return g.Read(port, offset%gpioRegBlock)
}

func (g *GPIO) Write32(offset uint32, val uint32) {
	port := int(offset / gpioRegBlock)
	if port >= gpioPortCount {
		return
	}
	g.Write(port, offset%gpioRegBlock, val)
}

func (g *GPIO) Reset() {
	for i := range g.ports {
		g.ports[i] = gpioPort{listeners: g.ports[i].listeners}
		for k := range g.ports[i].listeners {
			delete(g.ports[i].listeners, k)
		}
	}
}

func (g *GPIO) SaveState(w *SaveWriter) {
	w.Tag("GPIO")
	for i := range g.ports {
		p := &g.ports[i]
		w.U32(p.out)
		w.U32(p.oe)
		w.U32(p.pu)
		w.U32(p.pd)
		w.U32(p.in)
		w.U32(p.intEn)
		w.U32(p.intStat)
	}
}

func (g *GPIO) LoadState(r *SaveReader) {
	r.Tag("GPIO")
	for i := range g.ports {
		p := &g.ports[i]
		p.out = r.U32()
		p.oe = r.U32()
		p.pu = r.U32()
		p.pd = r.U32()
		p.in = r.U32()
		p.intEn = r.U32()
		p.intStat = r.U32()
	}
}
