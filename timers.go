// timers.go - six countup timers and the clock-gating register (component C7)
//
// Grounded on the teacher's per-channel register-array style (audio_chip.go's
// channel table) generalised to a fixed six-entry array, since spec.md fixes
// the timer count and layout rather than letting it vary at runtime.
//
// License: GPLv3 or later

package main

import "log/slog"

const timerCount = 6

// Timer control-word bits, spec.md §4.5.
const (
	timerCtrlEnable    = 1 << 0
	timerCtrlIRQEnable = 1 << 1
	timerCtrlIRQFlag   = 1 << 2
	timerCtrlCCPol     = 1 << 3
)

type timerChannel struct {
	ctrl    uint32
	preload uint32
	count   uint32
}

// Clock source selection: a 4-bit field per timer in the clock-gating
// register, only bit 0 of which is confirmed (spec.md §9 flags encodings
// above 0b1011 as unconfirmed "best guess"). Per the resolved open
// question (DESIGN.md): bit 0 set selects the 32kHz source, bit 0 clear
// selects PCLK/2; the upper three bits are don't-care.
const clockSel32kHzBit = 1

// Timers implements component C7: six identical up-counters, each clocked
// from main-PCLK/2 or 32 kHz depending on its 4-bit field in the gating
// register, overflowing past 0xFFFF onto line 56.
type Timers struct {
	ch        [timerCount]timerChannel
	clockGate uint32 // 4 bits per timer selecting its clock source

	ic  *InterruptController
	log *slog.Logger
}

func NewTimers(ic *InterruptController, log *slog.Logger) *Timers {
	return &Timers{ic: ic, log: log}
}

func (t *Timers) uses32kHz(ch int) bool {
	field := (t.clockGate >> uint(ch*4)) & 0xF
	return field&clockSel32kHzBit != 0
}

// TickPCLK advances every timer whose clock-select bit chooses PCLK/2; the
// scheduler calls this every 4th CPU instruction per spec.md §5.
func (t *Timers) TickPCLK() {
	for i := range t.ch {
		if !t.uses32kHz(i) {
			t.tick(i)
		}
	}
}

// Tick32kHz advances every timer whose clock-select bit chooses the 32 kHz
// source; the scheduler batches this to cover missed real-time ticks.
func (t *Timers) Tick32kHz(n int) {
	for i := range t.ch {
		if t.uses32kHz(i) {
			for k := 0; k < n; k++ {
				t.tick(i)
			}
		}
	}
}

func (t *Timers) tick(i int) {
	c := &t.ch[i]
	if c.ctrl&timerCtrlEnable == 0 {
		return
	}
	if c.count == 0xFFFF {
		c.count = c.preload
		if c.ctrl&timerCtrlIRQEnable != 0 {
			c.ctrl |= timerCtrlIRQFlag
			t.ic.SetLine(IRQ_TIMER, true)
		}
		return
	}
	c.count++
}

// anyIRQFlag reports whether line 56 should remain asserted: any timer's
// flag still set keeps it high, since all six timers share the line.
func (t *Timers) anyIRQFlag() bool {
	for i := range t.ch {
		if t.ch[i].ctrl&timerCtrlIRQFlag != 0 {
			return true
		}
	}
	return false
}

// Register layout: each timer occupies a 0x10 block (ctrl, preload, count),
// followed by the shared clock-gating register at offset 0x60.
const (
	timerRegCtrl    = 0x00
	timerRegPreload = 0x04
	timerRegCount   = 0x08
	timerRegBlock   = 0x10
	timerRegGate    = 0x60
)

func (t *Timers) Read32(offset uint32) uint32 {
	if offset == timerRegGate {
		return t.clockGate
	}
	i := int(offset / timerRegBlock)
	if i >= timerCount {
		return 0
	}
	c := &t.ch[i]
	switch offset % timerRegBlock {
	case timerRegCtrl:
		return c.ctrl
	case timerRegPreload:
		return c.preload
	case timerRegCount:
		return c.count
	}
	return 0
}

func (t *Timers) Write32(offset uint32, val uint32) {
	if offset == timerRegGate {
		t.clockGate = val
		return
	}
	i := int(offset / timerRegBlock)
	if i >= timerCount {
		return
	}
	c := &t.ch[i]
	switch offset % timerRegBlock {
	case timerRegCtrl:
		c.ctrl = val
		if !t.anyIRQFlag() {
			t.ic.SetLine(IRQ_TIMER, false)
		}
	case timerRegPreload:
		c.preload = val
	case timerRegCount:
		c.count = val
	}
}

func (t *Timers) Reset() {
	for i := range t.ch {
		t.ch[i] = timerChannel{}
	}
	t.clockGate = 0
}

func (t *Timers) SaveState(w *SaveWriter) {
	w.Tag("TMRS")
	for i := range t.ch {
		w.U32(t.ch[i].ctrl)
		w.U32(t.ch[i].preload)
		w.U32(t.ch[i].count)
	}
	w.U32(t.clockGate)
}

func (t *Timers) LoadState(r *SaveReader) {
	r.Tag("TMRS")
	for i := range t.ch {
		t.ch[i].ctrl = r.U32()
		t.ch[i].preload = r.U32()
		t.ch[i].count = r.U32()
	}
	t.clockGate = r.U32()
}
