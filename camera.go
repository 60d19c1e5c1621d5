// camera.go - camera sensor interface (component C13)
//
// Grounded on spec.md §4.11 for the register layout and tick behaviour, and
// on audio_backend_oto.go's mutex-guarded pull model for the cross-thread
// handshake shape: the worker goroutine plays the role of the host audio
// callback, and camera.Tick plays the role of the SPU update that drains
// it, both serialised through a single mutex rather than a raw channel so
// the "outstanding capture" state (spec.md's condition-variable request
// flag) is inspectable from Tick without consuming it.
//
// License: GPLv3 or later

package main

import (
	"log/slog"
	"sync"
)

const (
	cameraCtrlEnable = 0 // 1 = camera sampling on
	cameraCtrlMode   = 1 // 0 = VGA (640x480), 1 = QVGA (320x240)
	cameraCtrlClock  = 2 // clock-gate bit; firmware may mask the interface by clock
)

const cameraIntEnFrameEnd = 2 // spec.md §4.11: "interrupt-enable (bit 2 = frame-end)"

// Register offsets within the camera's bus slot.
const (
	cameraRegControl  = 0x00
	cameraRegFB0      = 0x04
	cameraRegFB1      = 0x08
	cameraRegFB2      = 0x0C
	cameraRegActiveFB = 0x10 // selects which of FB0..FB2 the next frame lands in
	cameraRegIntEn    = 0x14
	cameraRegIntStat  = 0x18
)

const (
	cameraWidthVGA   = 640
	cameraHeightVGA  = 480
	cameraWidthQVGA  = 320
	cameraHeightQVGA = 240
)

// Camera implements component C13: it owns the worker goroutine that pulls
// RGB24 frames from the external webcam collaborator, converts them to
// RGB565, and (once the scheduler notices completion) lands them in RAM at
// the firmware-selected framebuffer address.
type Camera struct {
	ctrl     uint32
	fb       [3]uint32
	activeFB uint32
	intEn    uint32
	intStat  uint32

	mu        sync.Mutex
	requested bool
	done      bool
	frame     []byte // RGB565, valid only while done is true
	killed    bool
	cond      *sync.Cond

	source CameraSource
	bus    *Bus
	ic     *InterruptController
	log    *slog.Logger
}

func NewCamera(source CameraSource, bus *Bus, ic *InterruptController, log *slog.Logger) *Camera {
	c := &Camera{source: source, bus: bus, ic: ic, log: log}
	c.cond = sync.NewCond(&c.mu)
	go c.workerLoop()
	return c
}

func (c *Camera) dims() (w, h int) {
	if BitSet(c.ctrl, cameraCtrlMode) {
		return cameraWidthQVGA, cameraHeightQVGA
	}
	return cameraWidthVGA, cameraHeightVGA
}

// workerLoop mirrors spec.md §5's description: it waits on a condition
// variable for a frame request, captures and converts into a private
// temporary, then signals completion; it never touches RAM or the IRQ
// controller directly, keeping interrupt delivery on the scheduler thread.
func (c *Camera) workerLoop() {
	for {
		c.mu.Lock()
		for !c.requested && !c.killed {
			c.cond.Wait()
		}
		if c.killed {
			c.mu.Unlock()
			return
		}
		width, height := c.dims()
		c.mu.Unlock()

		rgb24, err := c.source.CaptureFrame(width, height)

		c.mu.Lock()
		c.requested = false
		if err != nil {
			c.log.Warn("camera capture failed", "err", err)
		} else {
			c.frame = rgb24ToRGB565(rgb24)
			c.done = true
		}
		c.mu.Unlock()
	}
}

// Stop joins the worker goroutine, per spec.md §5's "kill flag under its
// mutex, notifying the cvar" shutdown sequence.
func (c *Camera) Stop() {
	c.mu.Lock()
	c.killed = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Tick is driven by the system scheduler on the camera's scheduler slot
// (spec.md §4.13). It requests a new capture if enabled and idle, then
// drains a completed one into the chosen framebuffer and raises the
// frame-end IRQ.
func (c *Camera) Tick() {
	c.mu.Lock()
	enabled := BitSet(c.ctrl, cameraCtrlEnable)
	if enabled && !c.requested && !c.done {
		c.requested = true
		c.cond.Signal()
	}

	if !c.done {
		c.mu.Unlock()
		return
	}
	frame := c.frame
	c.frame = nil
	c.done = false
	c.mu.Unlock()

	if !enabled || !BitSet(c.ctrl, cameraCtrlClock) {
		return
	}

	dst := c.bus.DMAPtr(c.fb[c.activeFB%3])
	if dst == nil {
		c.log.Warn("camera framebuffer address outside ram window", "addr", c.fb[c.activeFB%3])
		return
	}
	n := len(frame)
	if len(dst) < n {
		n = len(dst)
	}
	copy(dst[:n], frame[:n])

	c.intStat |= 1 << cameraIntEnFrameEnd
	if BitSet(c.intEn, cameraIntEnFrameEnd) {
		c.ic.SetLine(IRQ_CAMERA, true)
	}
}

// rgb24ToRGB565 packs 8-bit RGB triples into the PPU's native 5-6-5 format
// (spec.md §4.8's pixel layout), one pixel per two output bytes,
// little-endian like every other wavedata/pixel register in this project.
func rgb24ToRGB565(rgb24 []byte) []byte {
	n := len(rgb24) / 3
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		r := rgb24[i*3+0]
		g := rgb24[i*3+1]
		b := rgb24[i*3+2]
		v := uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
		out[i*2+0] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func (c *Camera) Read32(offset uint32) uint32 {
	switch offset {
	case cameraRegControl:
		return c.ctrl
	case cameraRegFB0:
		return c.fb[0]
	case cameraRegFB1:
		return c.fb[1]
	case cameraRegFB2:
		return c.fb[2]
	case cameraRegActiveFB:
		return c.activeFB
	case cameraRegIntEn:
		return c.intEn
	case cameraRegIntStat:
		return c.intStat
	}
	return 0
}

func (c *Camera) Write32(offset uint32, val uint32) {
	switch offset {
	case cameraRegControl:
		c.ctrl = val
	case cameraRegFB0:
		c.fb[0] = val
	case cameraRegFB1:
		c.fb[1] = val
	case cameraRegFB2:
		c.fb[2] = val
	case cameraRegActiveFB:
		c.activeFB = val % 3
	case cameraRegIntEn:
		c.intEn = val
	case cameraRegIntStat:
		c.intStat &^= val // write-1-to-clear, spec.md §4.11
		if c.intStat&(1<<cameraIntEnFrameEnd) == 0 {
			c.ic.SetLine(IRQ_CAMERA, false)
		}
	default:
		c.log.Warn("camera write to unmapped offset", "offset", offset, "val", val)
	}
}

func (c *Camera) Reset() {
	c.mu.Lock()
	c.requested = false
	c.done = false
	c.frame = nil
	c.mu.Unlock()
	c.ctrl = 0
	c.fb = [3]uint32{}
	c.activeFB = 0
	c.intEn = 0
	c.intStat = 0
}

func (c *Camera) SaveState(w *SaveWriter) {
	w.Tag("CAMR")
	w.U32(c.ctrl)
	w.U32(c.fb[0])
	w.U32(c.fb[1])
	w.U32(c.fb[2])
	w.U32(c.activeFB)
	w.U32(c.intEn)
	w.U32(c.intStat)
}

func (c *Camera) LoadState(r *SaveReader) {
	r.Tag("CAMR")
	c.ctrl = r.U32()
	c.fb[0] = r.U32()
	c.fb[1] = r.U32()
	c.fb[2] = r.U32()
	c.activeFB = r.U32()
	c.intEn = r.U32()
	c.intStat = r.U32()
}
