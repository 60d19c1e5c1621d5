// bln_dma.go - 2-D blit/blend/fill engine with colour-key and descramble
// (component C9)
//
// Grounded directly on original_source/src/dma/blndma.cpp: the register
// layout (srcA/srcB/dest base+offset+wh, fill pattern, width/height, blend
// factors, control word), the GetAddress block/linear addressing split, and
// the blend algebra are carried over verbatim, collapsed from the original's
// dedicated worker thread into a synchronous run inside the control-register
// write that sets the start bit
// (see DESIGN.md: the cooperative scheduler has no use for a second OS
// thread here, unlike the camera and audio boundaries which genuinely block
// on external I/O).
//
// License: GPLv3 or later

package main

import "log/slog"

// Control-word 1 bit positions, original_source/src/dma/blndma.cpp.
const (
	blnOpMask    = 0x3
	blnBlendSub  = 1 << 8
	blnColourKey = 1 << 16
	blnStart     = 1 << 24
)

const (
	blnOpIdle = iota
	blnOpCopy
	blnOpBlend
	blnOpFill
)

// Control-word 2 bits.
const (
	blnAlphaEnable = 1 << 0
	blnColourARGB  = 1 << 8
)

var blnWidthVals = [8]uint16{256, 320, 512, 640, 1024, 2048}
var blnHeightVals = [8]uint16{240, 256, 480, 512, 1024, 2048}

type blnAddrInfo struct {
	blockMode bool
	base      uint32
	width     uint16
	height    uint16
	offx      uint16
	offy      uint16
	start     uint32
	blendFac  uint8
}

// addr returns the byte address of pixel (x,y), or -1 if the block-mode
// source/dest is out of bounds. base/start are already byte addresses
// (spec.md §4.7: addr(x,y) = start + 2*(transfer_width*y + x)); only the
// grid offset is measured in pixels and so gets doubled to bytes.
func (a *blnAddrInfo) addr(x, y, transferWidth uint16) int64 {
	if a.blockMode {
		if uint32(x)+uint32(a.offx) >= uint32(a.width) {
			return -1
		}
		if uint32(y)+uint32(a.offy) >= uint32(a.height) {
			return -1
		}
		grid := int64(a.width)*int64(y+a.offy) + int64(x+a.offx)
		return int64(a.base) + 2*grid
	}
	grid := int64(transferWidth)*int64(y) + int64(x)
	return int64(a.start) + 2*grid
}

// BLNDMA implements component C9.
type BLNDMA struct {
	srcA, srcB, dest blnAddrInfo

	width, height   uint16
	op              uint32
	blendSub        bool
	colourKeyOn     bool
	colourKey       uint16
	alphaEnable     bool
	argb1555        bool
	descrambleOn    bool
	fillPattern     uint16

	irqStatus bool
	irqEnable bool

	bus *Bus
	ic  *InterruptController
	log *slog.Logger
}

func NewBLNDMA(bus *Bus, ic *InterruptController, log *slog.Logger) *BLNDMA {
	return &BLNDMA{bus: bus, ic: ic, log: log}
}

// readPixel/writePixel take a byte address, as returned by blnAddrInfo.addr.
func (d *BLNDMA) readPixel(byteAddr uint32) uint16 {
	return d.bus.Read16(ramBase + byteAddr)
}

func (d *BLNDMA) writePixel(byteAddr uint32, v uint16) {
	d.bus.Write16(ramBase+byteAddr, v)
}

// suppressed reports whether an ARGB1555 pixel should be treated as
// transparent (alpha-enable + high bit set), per spec.md §4.7.
func (d *BLNDMA) suppressed(v uint16) bool {
	return d.argb1555 && d.alphaEnable && v&0x8000 != 0
}

func (d *BLNDMA) splitRGB(v uint16) (r, g, b uint8) {
	if d.argb1555 {
		b = uint8(v & 0x1F)
		g = uint8((v >> 5) & 0x1F)
		r = uint8((v >> 10) & 0x1F)
		return
	}
	b = uint8(v & 0x1F)
	g = uint8((v >> 5) & 0x3F)
	r = uint8((v >> 11) & 0x1F)
	return
}

func (d *BLNDMA) packRGB(r, g, b uint8) uint16 {
	if d.argb1555 {
		return uint16(b) | uint16(g)<<5 | uint16(r)<<10
	}
	return uint16(b) | uint16(g)<<5 | uint16(r)<<11
}

func (d *BLNDMA) run() {
	switch d.op {
	case blnOpCopy:
		d.runCopy()
	case blnOpBlend:
		d.runBlend()
	case blnOpFill:
		d.runFill()
	}
	d.op = blnOpIdle
	d.irqStatus = true
	if d.irqEnable {
		d.ic.SetLine(IRQ_BLNDMA, true)
	}
}

func (d *BLNDMA) runCopy() {
	for y := uint16(0); y < d.height; y++ {
		for x := uint16(0); x < d.width; x++ {
			addrA := d.srcA.addr(x, y, d.width)
			var val uint16
			if addrA >= 0 {
				val = d.readPixel(uint32(addrA))
				if d.descrambleOn {
					val = descramble16(val)
				}
			}
			if d.colourKeyOn && val == d.colourKey {
				continue
			}
			if d.suppressed(val) {
				continue
			}
			addrD := d.dest.addr(x, y, d.width)
			if addrD < 0 {
				continue
			}
			d.writePixel(uint32(addrD), val)
		}
	}
}

func (d *BLNDMA) runBlend() {
	aA, aB := d.srcA.blendFac, d.srcB.blendFac
	for y := uint16(0); y < d.height; y++ {
		for x := uint16(0); x < d.width; x++ {
			var valA, valB uint16
			if a := d.srcA.addr(x, y, d.width); a >= 0 {
				valA = d.readPixel(uint32(a))
			}
			if b := d.srcB.addr(x, y, d.width); b >= 0 {
				valB = d.readPixel(uint32(b))
			}

			var rA, gA, bA, rB, gB, bB uint8
			if !d.suppressed(valA) {
				rA, gA, bA = d.splitRGB(valA)
			}
			if !d.suppressed(valB) {
				rB, gB, bB = d.splitRGB(valB)
			}

			var r, g, b uint8
			if d.blendSub {
				r = uint8((uint16(rA)*uint16(aA) - uint16(rB)*uint16(aB)) >> 6)
				g = uint8((uint16(gA)*uint16(aA) - uint16(gB)*uint16(aB)) >> 6)
				b = uint8((uint16(bA)*uint16(aA) - uint16(bB)*uint16(aB)) >> 6)
			} else {
				r = uint8((uint16(rA)*uint16(aA) + uint16(rB)*uint16(aB)) >> 6)
				g = uint8((uint16(gA)*uint16(aA) + uint16(gB)*uint16(aB)) >> 6)
				b = uint8((uint16(bA)*uint16(aA) + uint16(bB)*uint16(aB)) >> 6)
			}
			if d.argb1555 {
				r &= 0x1F
				g &= 0x1F
				b &= 0x1F
			} else {
				r &= 0x1F
				g &= 0x3F
				b &= 0x1F
			}

			addrD := d.dest.addr(x, y, d.width)
			if addrD < 0 {
				continue
			}
			d.writePixel(uint32(addrD), d.packRGB(r, g, b))
		}
	}
}

func (d *BLNDMA) runFill() {
	val := d.fillPattern
	if d.colourKeyOn && val == d.colourKey {
		return
	}
	if d.suppressed(val) {
		return
	}
	for y := uint16(0); y < d.height; y++ {
		for x := uint16(0); x < d.width; x++ {
			addrD := d.dest.addr(x, y, d.width)
			if addrD < 0 {
				continue
			}
			d.writePixel(uint32(addrD), val)
		}
	}
}

// Register offsets mirror original_source/src/dma/blndma.cpp's word indices,
// multiplied by 4 for a byte-addressed peripheral slot.
const (
	blnRegSrcA      = 0x00
	blnRegSrcB      = 0x04
	blnRegDest      = 0x08
	blnRegWH        = 0x0C
	blnRegFillPat   = 0x10
	blnRegCtrl1     = 0x14
	blnRegIRQCtrl   = 0x18
	blnRegBlendFac  = 0x1C
	blnRegColourKey = 0x20
	blnRegAddrMode  = 0x24
	blnRegCtrl2     = 0x28
	blnRegABase     = 0x30
	blnRegAOffXY    = 0x34
	blnRegAWH       = 0x38
	blnRegBBase     = 0x40
	blnRegBOffXY    = 0x44
	blnRegBWH       = 0x48
	blnRegDBase     = 0x50
	blnRegDOffXY    = 0x54
	blnRegDWH       = 0x58
)

const (
	blnIRQStatusBit = 1 << 8
	blnIRQEnableBit = 1 << 16
	blnIRQClearBit  = 1 << 24
)

func (d *BLNDMA) Read32(offset uint32) uint32 {
	switch offset {
	case blnRegIRQCtrl:
		var v uint32
		if d.irqStatus {
			v |= blnIRQStatusBit
		}
		if d.irqEnable {
			v |= blnIRQEnableBit
		}
		return v
	}
	return 0
}

func (d *BLNDMA) Write32(offset uint32, val uint32) {
	switch offset {
	case blnRegIRQCtrl:
		if val&blnIRQClearBit != 0 {
			d.ic.SetLine(IRQ_BLNDMA, false)
			d.irqStatus = false
		}
		d.irqEnable = val&blnIRQEnableBit != 0

	case blnRegWH:
		d.width = uint16(val & 0x7FF)
		d.height = uint16(val >> 16)

	case blnRegFillPat:
		d.fillPattern = uint16(val)

	case blnRegBlendFac:
		d.srcA.blendFac = uint8(val & 0x3F)
		d.srcB.blendFac = uint8((val >> 8) & 0x3F)

	case blnRegColourKey:
		d.colourKey = uint16(val)

	case blnRegAddrMode:
		d.srcA.blockMode = BitSet(val, 0)
		d.srcB.blockMode = BitSet(val, 8)
		d.dest.blockMode = BitSet(val, 16)

	case blnRegCtrl2:
		d.alphaEnable = BitSet(val, 0)
		d.argb1555 = BitSet(val, 8)

	case blnRegABase:
		d.srcA.base = val & 0x0FFFFFFF
		d.srcA.start = d.srcA.base
	case blnRegAOffXY:
		d.srcA.offx = uint16(val & 0x7FF)
		d.srcA.offy = uint16(val >> 16)
	case blnRegAWH:
		d.srcA.width = blnWidthVals[val&0x7]
		d.srcA.height = blnHeightVals[(val>>8)&0x7]
	case blnRegBBase:
		d.srcB.base = val & 0x0FFFFFFF
		d.srcB.start = d.srcB.base
	case blnRegBOffXY:
		d.srcB.offx = uint16(val & 0x7FF)
		d.srcB.offy = uint16(val >> 16)
	case blnRegBWH:
		d.srcB.width = blnWidthVals[val&0x7]
		d.srcB.height = blnHeightVals[(val>>8)&0x7]
	case blnRegDBase:
		d.dest.base = val & 0x0FFFFFFF
		d.dest.start = d.dest.base
	case blnRegDOffXY:
		d.dest.offx = uint16(val & 0x7FF)
		d.dest.offy = uint16(val >> 16)
	case blnRegDWH:
		d.dest.width = blnWidthVals[val&0x7]
		d.dest.height = blnHeightVals[(val>>8)&0x7]

	case blnRegCtrl1:
		d.colourKeyOn = BitSet(val, 16)
		d.descrambleOn = BitSet(val, 20)
		d.blendSub = BitSet(val, 8)
		if BitSet(val, 24) {
			d.op = val & blnOpMask
			d.run()
		}
	}
}

func (d *BLNDMA) Reset() {
	*d = BLNDMA{bus: d.bus, ic: d.ic, log: d.log}
}

func (d *BLNDMA) SaveState(w *SaveWriter) {
	w.Tag("BDMA")
	w.U32(uint32(d.width)<<16 | uint32(d.height))
	w.U32(d.op)
	w.Bool(d.blendSub)
	w.Bool(d.colourKeyOn)
	w.U16(d.colourKey)
	w.Bool(d.alphaEnable)
	w.Bool(d.argb1555)
	w.Bool(d.descrambleOn)
	w.U16(d.fillPattern)
	w.Bool(d.irqStatus)
	w.Bool(d.irqEnable)
	saveAddrInfo(w, &d.srcA)
	saveAddrInfo(w, &d.srcB)
	saveAddrInfo(w, &d.dest)
}

func saveAddrInfo(w *SaveWriter, a *blnAddrInfo) {
	w.Bool(a.blockMode)
	w.U32(a.base)
	w.U16(a.width)
	w.U16(a.height)
	w.U16(a.offx)
	w.U16(a.offy)
	w.U32(a.start)
	w.U8(a.blendFac)
}

func loadAddrInfo(r *SaveReader, a *blnAddrInfo) {
	a.blockMode = r.Bool()
	a.base = r.U32()
	a.width = r.U16()
	a.height = r.U16()
	a.offx = r.U16()
	a.offy = r.U16()
	a.start = r.U32()
	a.blendFac = r.U8()
}

func (d *BLNDMA) LoadState(r *SaveReader) {
	r.Tag("BDMA")
	wh := r.U32()
	d.width, d.height = uint16(wh>>16), uint16(wh)
	d.op = r.U32()
	d.blendSub = r.Bool()
	d.colourKeyOn = r.Bool()
	d.colourKey = r.U16()
	d.alphaEnable = r.Bool()
	d.argb1555 = r.Bool()
	d.descrambleOn = r.Bool()
	d.fillPattern = r.U16()
	d.irqStatus = r.Bool()
	d.irqEnable = r.Bool()
	loadAddrInfo(r, &d.srcA)
	loadAddrInfo(r, &d.srcB)
	loadAddrInfo(r, &d.dest)
}
