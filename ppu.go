// ppu.go - layer + sprite compositor and PPU-DMA (component C10)
//
// Grounded on the teacher's tile/plane compositing idiom in the trimmed
// video chip sources (per-layer plane buffers blended into one composite
// before presentation) generalised from the teacher's single fixed-depth
// text mode to spec.md §4.8's three layers x four depth slots x sprites.
// Output scaling reuses golang.org/x/image/draw (pulled transitively by
// ebiten in the teacher's go.mod) for the sub-640x480 nearest-neighbour
// upscale spec.md calls for.
//
// License: GPLv3 or later

package main

import (
	"image"
	"image/color"
	"log/slog"

	"golang.org/x/image/draw"
)

const (
	layerCount  = 3
	spriteCount = 512
	paletteSize = 1024 // 512 layer + 512 sprite, ARGB1555
	rzTableSize = 8
)

// Screen modes, spec.md §3.
const (
	ScreenQVGA     = iota // 320x240
	ScreenVGA             // 640x480
	ScreenHVGA            // 480x320
	ScreenVGA2CIF         // 640x480
)

var screenDims = [4][2]int{{320, 240}, {640, 480}, {480, 320}, {640, 480}}

// Layer control-word bits.
const (
	layerCtrlBitmap  = 1 << 0
	layerCtrlWallpap = 1 << 1
	layerCtrlHMotion = 1 << 2
	layerCtrlBlend   = 1 << 3
	layerCtrlRGB565  = 1 << 4 // colour-space override for 16bpp direct colour
	layerCtrlDirect16 = 1 << 5 // bitmap-mode pixels are 16bpp direct colour, not palette-indexed
)

type layerState struct {
	x int32 // signed 11-bit
	y int32 // unsigned 10-bit

	ctrl uint32
	attr uint32 // register-mode attribute, also the per-character fallback

	numArrayAddr  uint32
	attrArrayAddr uint32 // 0 means "register mode"
	charDataAddr  uint32
	hmotionAddr   uint32

	alpha uint32 // 0..63
}

func (l *layerState) bpp() int {
	return [4]int{2, 4, 6, 8}[Field(l.attr, 1, 0)]
}
func (l *layerState) charW() int  { return [4]int{8, 16, 32, 64}[Field(l.attr, 5, 4)] }
func (l *layerState) charH() int  { return [4]int{8, 16, 32, 64}[Field(l.attr, 7, 6)] }
func (l *layerState) palBank() uint32 { return Field(l.attr, 12, 8) }
func (l *layerState) depthSlot() uint32 { return Field(l.attr, 14, 13) }
func (l *layerState) hFlip() bool { return BitSet(l.attr, 2) }
func (l *layerState) vFlip() bool { return BitSet(l.attr, 3) }

type spriteEntry struct {
	num  uint32
	attr uint32
}

func (s *spriteEntry) charIndex() uint32 { return Field(s.num, 15, 0) }
// x and y decode the biased 10-bit sprite coordinates: field values at or
// above 1024-96 (x) / 1024-128 (y) wrap to negative screen positions.
func (s *spriteEntry) x() int32 {
	v := int32(Field(s.num, 25, 16))
	if v >= 1024-96 {
		v -= 1024
	}
	return v
}
func (s *spriteEntry) directRGB() bool { return BitSet(s.num, 26) }
func (s *spriteEntry) rgb565() bool    { return BitSet(s.num, 27) }
func (s *spriteEntry) rzIndex() uint32 { return Field(s.num, 30, 28) }
func (s *spriteEntry) rzEnable() bool  { return BitSet(s.num, 31) }

func (s *spriteEntry) y() int32 {
	v := int32(Field(s.attr, 25, 16))
	if v >= 1024-128 {
		v -= 1024
	}
	return v
}
func (s *spriteEntry) bpp() int        { return [4]int{2, 4, 6, 8}[Field(s.attr, 1, 0)] }
func (s *spriteEntry) hFlip() bool     { return BitSet(s.attr, 2) }
func (s *spriteEntry) vFlip() bool     { return BitSet(s.attr, 3) }
func (s *spriteEntry) charW() int      { return [4]int{8, 16, 32, 64}[Field(s.attr, 5, 4)] }
func (s *spriteEntry) charH() int      { return [4]int{8, 16, 32, 64}[Field(s.attr, 7, 6)] }
func (s *spriteEntry) palBank() uint32 { return Field(s.attr, 12, 8) }
func (s *spriteEntry) blendOn() bool   { return BitSet(s.attr, 15) }
func (s *spriteEntry) depthSlot() uint32 { return Field(s.attr, 14, 13) }
func (s *spriteEntry) alpha() uint32   { return Field(s.attr, 31, 26) }

// rzMatrix is one of 8 Q10 fixed-point 2x2 affine matrices.
type rzMatrix struct{ hx, hy, vx, vy int32 }

// customPixel bits, spec.md §3: bit31 transparent, bit30 blend, 0..15 RGB565.
const (
	pixTransparent = 1 << 31
	pixBlend       = 1 << 30
)

// PPU implements component C10.
type PPU struct {
	mode   uint32
	layers [layerCount]layerState
	sprites [spriteCount]spriteEntry
	rz     [rzTableSize]rzMatrix
	palette [paletteSize]uint16 // ARGB1555

	globalKey    uint16
	globalKeyOn  bool

	spriteCharBase uint32

	dmaCtrl  uint32
	dmaAddr  uint32
	dmaWords uint32
	dmaIRQStat bool
	dmaIRQEn   bool
	regs     [256]uint32 // flat register file backing PPU-DMA RAM<->PPU moves

	scanline     int
	vblankStart  int
	vblankEnd    int
	vblankStartIRQEn, vblankEndIRQEn bool
	vblankStartStat, vblankEndStat   bool

	planes  [layerCount][]uint32 // up to 1024x1024 custom-pixel planes
	composite []uint16           // 640x480 RGB565

	bus *Bus
	ic  *InterruptController
	log *slog.Logger

	video  VideoOutput
}

func NewPPU(bus *Bus, ic *InterruptController, video VideoOutput, log *slog.Logger) *PPU {
	p := &PPU{bus: bus, ic: ic, video: video, log: log}
	for i := range p.planes {
		p.planes[i] = make([]uint32, 1024*1024)
	}
	p.composite = make([]uint16, 640*480)
	p.vblankStart = 480
	p.vblankEnd = 496
	return p
}

func (p *PPU) screenDims() (int, int) {
	d := screenDims[p.mode&3]
	return d[0], d[1]
}

// Tick advances the scanline counter, called ~once per scanline by the
// scheduler, and raises vblank IRQs per spec.md §4.8.
func (p *PPU) Tick() {
	p.scanline++
	_, h := p.screenDims()
	if p.scanline == p.vblankStart {
		p.vblankStartStat = true
		if p.vblankStartIRQEn {
			p.ic.SetLine(IRQ_PPU_VBLANK_START, true)
		}
	}
	if p.scanline == p.vblankEnd {
		p.vblankEndStat = true
		if p.vblankEndIRQEn {
			p.ic.SetLine(IRQ_PPU_VBLANK_END, true)
		}
	}
	if p.scanline >= h+64 {
		p.scanline = 0
	}
}

// Register layout within the PPU's bus slot. Per-layer blocks and the
// sprite/rz/palette tables are flat arrays indexed off their own base so
// firmware can address any entry with a single store.
const (
	ppuRegMode      = 0x0000
	ppuRegVBStart   = 0x0004
	ppuRegVBEnd     = 0x0008
	ppuRegVBCtrl    = 0x000C // bit0 start-en, bit1 end-en, bit8 start-stat, bit9 end-stat
	ppuRegGlobalKey = 0x0010 // bits 0..15 key, bit 16 enable
	ppuRegSpriteBase = 0x0014
	ppuRegDMACtrl   = 0x0018 // bit0 direction (1=RAM->PPU), bit31 enable
	ppuRegDMAAddr   = 0x001C
	ppuRegDMAWords  = 0x0020
	ppuRegDMAIRQ    = 0x0024 // bit0 enable, bit1 status (write-1-clear)

	ppuLayerBase  = 0x0100
	ppuLayerSize  = 0x0040
	ppuSpriteBase = 0x1000
	ppuSpriteSize = 0x2000 // 512 * 8 bytes
	ppuRZBase     = 0x3000
	ppuRZSize     = 0x0080 // 8 * 16 bytes
	ppuPalBase    = 0x3100
	ppuPalSize    = 0x0800 // 1024 * 2 bytes
	ppuScratchBase = 0x4000
	ppuScratchSize = 0x0400 // 256 * 4 bytes
)

func (p *PPU) Read32(offset uint32) uint32 {
	switch {
	case offset == ppuRegMode:
		return p.mode
	case offset == ppuRegVBStart:
		return uint32(p.vblankStart)
	case offset == ppuRegVBEnd:
		return uint32(p.vblankEnd)
	case offset == ppuRegVBCtrl:
		return packVBCtrl(p.vblankStartIRQEn, p.vblankEndIRQEn, p.vblankStartStat, p.vblankEndStat)
	case offset == ppuRegGlobalKey:
		v := uint32(p.globalKey)
		if p.globalKeyOn {
			v |= 1 << 16
		}
		return v
	case offset == ppuRegSpriteBase:
		return p.spriteCharBase
	case offset == ppuRegDMACtrl:
		return p.dmaCtrl
	case offset == ppuRegDMAAddr:
		return p.dmaAddr
	case offset == ppuRegDMAWords:
		return p.dmaWords
	case offset == ppuRegDMAIRQ:
		return packDMAIRQ(p.dmaIRQEn, p.dmaIRQStat)
	case offset >= ppuLayerBase && offset < ppuLayerBase+layerCount*ppuLayerSize:
		return p.readLayerReg(offset)
	case offset >= ppuSpriteBase && offset < ppuSpriteBase+ppuSpriteSize:
		return p.readSpriteReg(offset)
	case offset >= ppuRZBase && offset < ppuRZBase+ppuRZSize:
		return p.readRZReg(offset)
	case offset >= ppuPalBase && offset < ppuPalBase+ppuPalSize:
		i := (offset - ppuPalBase) / 2
		return uint32(p.palette[i])
	case offset >= ppuScratchBase && offset < ppuScratchBase+ppuScratchSize:
		return p.regs[(offset-ppuScratchBase)/4]
	}
	return 0
}

func (p *PPU) Write32(offset uint32, val uint32) {
	switch {
	case offset == ppuRegMode:
		p.mode = val
	case offset == ppuRegVBStart:
		p.vblankStart = int(val)
	case offset == ppuRegVBEnd:
		p.vblankEnd = int(val)
	case offset == ppuRegVBCtrl:
		p.vblankStartIRQEn = BitSet(val, 0)
		p.vblankEndIRQEn = BitSet(val, 1)
		if BitSet(val, 8) {
			p.vblankStartStat = false
			p.ic.SetLine(IRQ_PPU_VBLANK_START, false)
		}
		if BitSet(val, 9) {
			p.vblankEndStat = false
			p.ic.SetLine(IRQ_PPU_VBLANK_END, false)
		}
	case offset == ppuRegGlobalKey:
		p.globalKey = uint16(val)
		p.globalKeyOn = BitSet(val, 16)
	case offset == ppuRegSpriteBase:
		p.spriteCharBase = val
	case offset == ppuRegDMACtrl:
		p.dmaCtrl = val
		if BitSet(val, 31) {
			p.ServiceDMA()
		}
	case offset == ppuRegDMAAddr:
		p.dmaAddr = val
	case offset == ppuRegDMAWords:
		p.dmaWords = val
	case offset == ppuRegDMAIRQ:
		p.dmaIRQEn = BitSet(val, 0)
		if BitSet(val, 1) {
			p.dmaIRQStat = false
			p.ic.SetLine(IRQ_PPU_DMA, false)
		}
	case offset >= ppuLayerBase && offset < ppuLayerBase+layerCount*ppuLayerSize:
		p.writeLayerReg(offset, val)
	case offset >= ppuSpriteBase && offset < ppuSpriteBase+ppuSpriteSize:
		p.writeSpriteReg(offset, val)
	case offset >= ppuRZBase && offset < ppuRZBase+ppuRZSize:
		p.writeRZReg(offset, val)
	case offset >= ppuPalBase && offset < ppuPalBase+ppuPalSize:
		i := (offset - ppuPalBase) / 2
		p.palette[i] = uint16(val)
	case offset >= ppuScratchBase && offset < ppuScratchBase+ppuScratchSize:
		p.regs[(offset-ppuScratchBase)/4] = val
	}
}

func packVBCtrl(startEn, endEn, startStat, endStat bool) uint32 {
	var v uint32
	if startEn {
		v |= 1 << 0
	}
	if endEn {
		v |= 1 << 1
	}
	if startStat {
		v |= 1 << 8
	}
	if endStat {
		v |= 1 << 9
	}
	return v
}

func packDMAIRQ(en, stat bool) uint32 {
	var v uint32
	if en {
		v |= 1 << 0
	}
	if stat {
		v |= 1 << 1
	}
	return v
}

func (p *PPU) readLayerReg(offset uint32) uint32 {
	i := (offset - ppuLayerBase) / ppuLayerSize
	l := &p.layers[i]
	switch (offset - ppuLayerBase) % ppuLayerSize {
	case 0x00:
		return uint32(l.x)
	case 0x04:
		return uint32(l.y)
	case 0x08:
		return l.ctrl
	case 0x0C:
		return l.attr
	case 0x10:
		return l.numArrayAddr
	case 0x14:
		return l.attrArrayAddr
	case 0x18:
		return l.charDataAddr
	case 0x1C:
		return l.hmotionAddr
	case 0x20:
		return l.alpha
	}
	return 0
}

func (p *PPU) writeLayerReg(offset uint32, val uint32) {
	i := (offset - ppuLayerBase) / ppuLayerSize
	l := &p.layers[i]
	switch (offset - ppuLayerBase) % ppuLayerSize {
	case 0x00:
		l.x = int32(SignExtend(val, 11))
	case 0x04:
		l.y = int32(val)
	case 0x08:
		l.ctrl = val
	case 0x0C:
		l.attr = val
	case 0x10:
		l.numArrayAddr = val
	case 0x14:
		l.attrArrayAddr = val
	case 0x18:
		l.charDataAddr = val
	case 0x1C:
		l.hmotionAddr = val
	case 0x20:
		l.alpha = val
	}
}

func (p *PPU) readSpriteReg(offset uint32) uint32 {
	i := (offset - ppuSpriteBase) / 8
	s := &p.sprites[i]
	if (offset-ppuSpriteBase)%8 == 0 {
		return s.num
	}
	return s.attr
}

func (p *PPU) writeSpriteReg(offset uint32, val uint32) {
	i := (offset - ppuSpriteBase) / 8
	s := &p.sprites[i]
	if (offset-ppuSpriteBase)%8 == 0 {
		s.num = val
	} else {
		s.attr = val
	}
}

func (p *PPU) readRZReg(offset uint32) uint32 {
	i := (offset - ppuRZBase) / 16
	m := &p.rz[i]
	switch (offset - ppuRZBase) % 16 {
	case 0:
		return uint32(m.hx)
	case 4:
		return uint32(m.hy)
	case 8:
		return uint32(m.vx)
	default:
		return uint32(m.vy)
	}
}

func (p *PPU) writeRZReg(offset uint32, val uint32) {
	i := (offset - ppuRZBase) / 16
	m := &p.rz[i]
	switch (offset - ppuRZBase) % 16 {
	case 0:
		m.hx = int32(val)
	case 4:
		m.hy = int32(val)
	case 8:
		m.vx = int32(val)
	default:
		m.vy = int32(val)
	}
}

// unpackBpp reads one pixel's raw palette index for bpp 2, 4, 6 or 8 from an
// MSB-first bit stream, per spec.md §4.8. It returns 0 for any other bpp;
// 16bpp direct colour is decoded by the callers.
func unpackBpp(data []byte, pixelIndex int, bpp int) uint32 {
	switch bpp {
	case 2, 4, 8:
		bitOff := pixelIndex * bpp
		byteOff := bitOff / 8
		if byteOff >= len(data) {
			return 0
		}
		shift := 8 - bpp - (bitOff % 8)
		return uint32(data[byteOff]>>uint(shift)) & ((1 << bpp) - 1)
	case 6:
		bitOff := pixelIndex * 6
		byteOff := bitOff / 8
		bitInByte := bitOff % 8
		if byteOff >= len(data) {
			return 0
		}
		if bitInByte <= 2 {
			return uint32(data[byteOff]>>uint(2-bitInByte)) & 0x3F
		}
		// splits across two bytes: tail bits from this byte, head from next
		tailBits := 8 - bitInByte
		tail := uint32(data[byteOff]) & ((1 << tailBits) - 1)
		var head uint32
		if byteOff+1 < len(data) {
			head = uint32(data[byteOff+1]) >> uint(8-(6-tailBits))
		}
		return (tail << uint(6-tailBits)) | head
	}
	return 0
}

func (p *PPU) depalettise(index uint32, bank uint32, spritePalette bool) (uint16, bool) {
	base := bank * 16
	if spritePalette {
		base += 512
	}
	entry := p.palette[base+(index&0xF)]
	transparent := entry&0x8000 != 0
	return argb1555ToRGB565(entry), transparent
}

func argb1555ToRGB565(v uint16) uint16 {
	r := (v >> 10) & 0x1F
	g6 := ((v >> 5) & 0x1F) << 1 // widen 5-bit green to 6-bit by doubling
	b := v & 0x1F
	return r<<11 | g6<<5 | b
}

// renderLayerCharMode rasterises one text/char-mode layer into its plane,
// per spec.md §4.8.
func (p *PPU) renderLayerCharMode(idx int) {
	l := &p.layers[idx]
	plane := p.planes[idx]
	cw, ch := l.charW(), l.charH()
	if cw == 0 || ch == 0 || l.numArrayAddr == 0 {
		return
	}
	lw, lh := 1024, 1024
	gridW := lw / cw
	gridH := lh / ch
	bpp := l.bpp()
	charBytes := (cw * ch * bpp) / 8
	normalMode := l.attrArrayAddr != 0

	for gy := 0; gy < gridH; gy++ {
		for gx := 0; gx < gridW; gx++ {
			cellIdx := gy*gridW + gx
			numAddr := l.numArrayAddr + uint32(cellIdx)*2
			charIdx := p.bus.Read16(numAddr)

			attr := l.attr
			if normalMode {
				attr = p.bus.Read32(l.attrArrayAddr + uint32(cellIdx)*4)
			}
			hflip := BitSet(attr, 2)
			vflip := BitSet(attr, 3)
			bank := Field(attr, 12, 8)

			charAddr := l.charDataAddr + uint32(charIdx)*uint32(charBytes)
			data := p.bus.DMAPtr(charAddr)
			if len(data) > charBytes {
				data = data[:charBytes]
			}

			for y := 0; y < ch; y++ {
				for x := 0; x < cw; x++ {
					sx, sy := x, y
					if hflip {
						sx = cw - 1 - x
					}
					if vflip {
						sy = ch - 1 - y
					}
					pixelIdx := sy*cw + sx
					px := gx*cw + x
					py := gy*ch + y
					if px >= lw || py >= lh {
						continue
					}
					var cp uint32
					if bpp == 16 {
						off := pixelIdx * 2
						if off+1 < len(data) {
							v := uint16(data[off]) | uint16(data[off+1])<<8
							if l.ctrl&layerCtrlRGB565 != 0 {
								cp = uint32(v)
							} else {
								rgb := argb1555ToRGB565(v)
								cp = uint32(rgb)
								if v&0x8000 != 0 {
									cp |= pixTransparent
								}
							}
						}
					} else {
						idx := unpackBpp(data, pixelIdx, bpp)
						rgb, transparent := p.depalettise(idx, bank, false)
						cp = uint32(rgb)
						if transparent {
							cp |= pixTransparent
						}
					}
					if l.ctrl&layerCtrlBlend != 0 {
						cp |= pixBlend
					}
					plane[py*lw+px] = cp
				}
			}
		}
	}
}

// renderLayerBitmapMode treats the number array as 32-bit line pointers,
// per spec.md §4.8.
func (p *PPU) renderLayerBitmapMode(idx int) {
	l := &p.layers[idx]
	plane := p.planes[idx]
	if l.numArrayAddr == 0 {
		return
	}
	_, h := p.screenDims()
	bpp := l.bpp()
	if l.ctrl&layerCtrlDirect16 != 0 {
		bpp = 16
	}
	wallpaper := l.ctrl&layerCtrlWallpap != 0

	for y := 0; y < h; y++ {
		lineY := y
		if wallpaper {
			lineY = 0
		}
		ptr := p.bus.Read32(l.numArrayAddr + uint32(lineY)*4)
		lineAddr := ptr & 0x01FFFFFF
		data := p.bus.DMAPtr(ramBase + lineAddr)

		for x := 0; x < 1024; x++ {
			var cp uint32
			if bpp == 16 {
				off := x * 2
				if off+1 < len(data) {
					v := uint16(data[off]) | uint16(data[off+1])<<8
					if l.ctrl&layerCtrlRGB565 != 0 {
						cp = uint32(v)
					} else {
						cp = uint32(argb1555ToRGB565(v))
						if v&0x8000 != 0 {
							cp |= pixTransparent
						}
					}
				}
			} else {
				idx := unpackBpp(data, x, bpp)
				rgb, transparent := p.depalettise(idx, l.palBank(), false)
				cp = uint32(rgb)
				if transparent {
					cp |= pixTransparent
				}
			}
			plane[y*1024+x] = cp
		}
	}
}

func (p *PPU) hmotion(l *layerState, y int) int32 {
	if l.ctrl&layerCtrlHMotion == 0 {
		return 0
	}
	return int32(int16(p.bus.Read16(l.hmotionAddr + uint32(y)*2)))
}

// renderSprite blits one sprite into the composite for the given depth
// slot, applying rotate/zoom when enabled, per spec.md §4.8.
func (p *PPU) renderSprite(s *spriteEntry) {
	cw, ch := s.charW(), s.charH()
	bpp := s.bpp()
	baseX, baseY := s.x(), s.y()

	var mtx rzMatrix
	if s.rzEnable() {
		mtx = p.rz[s.rzIndex()]
	} else {
		mtx = rzMatrix{hx: 1024, hy: 0, vx: 0, vy: 1024}
	}

	cx, cy := cw/2, ch/2
	charBytes := (cw * ch * bpp) / 8
	var data []byte
	if !s.directRGB() {
		charData := p.bus.DMAPtr(p.spriteCharBase + s.charIndex()*uint32(charBytes))
		if len(charData) > charBytes {
			charData = charData[:charBytes]
		}
		data = charData
	}

	for dy := -ch; dy < ch*2; dy++ {
		for dx := -cw; dx < cw*2; dx++ {
			rel := [2]int32{int32(dx - cx), int32(dy - cy)}
			srcX := (mtx.hx*rel[0] + mtx.vx*rel[1]) / 1024 + int32(cx)
			srcY := (mtx.hy*rel[0] + mtx.vy*rel[1]) / 1024 + int32(cy)
			if srcX < 0 || srcX >= int32(cw) || srcY < 0 || srcY >= int32(ch) {
				continue
			}
			sx, sy := int(srcX), int(srcY)
			if s.hFlip() {
				sx = cw - 1 - sx
			}
			if s.vFlip() {
				sy = ch - 1 - sy
			}

			px := int(baseX) + dx
			py := int(baseY) + dy
			if px < 0 || px >= 640 || py < 0 || py >= 480 {
				continue
			}

			var rgb uint16
			transparent := true
			if s.directRGB() {
				pixelIdx := sy*cw + sx
				off := p.spriteCharBase + s.charIndex()*uint32(cw*ch*2) + uint32(pixelIdx*2)
				buf := p.bus.DMAPtr(off)
				if len(buf) >= 2 {
					v := uint16(buf[0]) | uint16(buf[1])<<8
					if s.rgb565() {
						rgb, transparent = v, false
					} else {
						rgb = argb1555ToRGB565(v)
						transparent = v&0x8000 != 0
					}
				}
			} else {
				pixelIdx := sy*cw + sx
				idx := unpackBpp(data, pixelIdx, bpp)
				rgb, transparent = p.depalettise(idx, s.palBank(), true)
			}
			if transparent {
				continue
			}
			if s.blendOn() {
				p.composite[py*640+px] = blendRGB565(p.composite[py*640+px], rgb, s.alpha())
			} else {
				p.composite[py*640+px] = rgb
			}
		}
	}
}

// blendIntoComposite alpha-blends a custom-pixel plane onto the 640x480
// composite, honouring per-layer alpha (or opaque when blend is disabled)
// and the per-scanline H-motion table, per spec.md §4.8.
func (p *PPU) blendIntoComposite(l *layerState, plane []uint32) {
	for y := 0; y < 480; y++ {
		srcY := int(l.y) + y
		if srcY < 0 || srcY >= 1024 {
			continue
		}
		rowX := int(l.x) + int(p.hmotion(l, y))
		for x := 0; x < 640; x++ {
			srcX := rowX + x
			if srcX < 0 || srcX >= 1024 {
				continue
			}
			cp := plane[srcY*1024+srcX]
			if cp&pixTransparent != 0 {
				continue
			}
			rgb := uint16(cp & 0xFFFF)
			if cp&pixBlend != 0 && l.alpha < 63 {
				p.composite[y*640+x] = blendRGB565(p.composite[y*640+x], rgb, l.alpha)
			} else {
				p.composite[y*640+x] = rgb
			}
		}
	}
}

func blendRGB565(dst, src uint16, alpha uint32) uint16 {
	dr, dg, db := (dst>>11)&0x1F, (dst>>5)&0x3F, dst&0x1F
	sr, sg, sb := (src>>11)&0x1F, (src>>5)&0x3F, src&0x1F
	a := uint32(alpha)
	r := (uint32(sr)*a + uint32(dr)*(63-a)) / 63
	g := (uint32(sg)*a + uint32(dg)*(63-a)) / 63
	b := (uint32(sb)*a + uint32(db)*(63-a)) / 63
	return uint16(r)<<11 | uint16(g)<<5 | uint16(b)
}

// Render runs the full frame composition and pushes the result to the host
// video sink, per spec.md §4.8.
func (p *PPU) Render() {
	for i := range p.composite {
		p.composite[i] = 0
	}
	for i := range p.layers {
		l := &p.layers[i]
		if l.ctrl&layerCtrlBitmap != 0 {
			p.renderLayerBitmapMode(i)
		} else {
			p.renderLayerCharMode(i)
		}
	}

	for slot := uint32(0); slot < 4; slot++ {
		for i := range p.layers {
			if p.layers[i].depthSlot() != slot {
				continue
			}
			p.blendIntoComposite(&p.layers[i], p.planes[i])
		}
		for i := range p.sprites {
			s := &p.sprites[i]
			if s.depthSlot() != slot {
				continue
			}
			p.renderSprite(s)
		}
	}

	if p.globalKeyOn {
		for i := range p.composite {
			if p.composite[i] == p.globalKey {
				p.composite[i] = 0
			}
		}
	}

	w, h := p.screenDims()
	out := p.scaleToFullFrame(w, h)
	p.video.UpdateFrame(out)
}

// scaleToFullFrame upscales a w x h logical composite (already stored in the
// 640x480 buffer's top-left corner by the renderer) to 640x480 RGB565 bytes
// using nearest-neighbour, per spec.md §4.8. Full VGA modes are a no-op
// resize.
func (p *PPU) scaleToFullFrame(w, h int) []byte {
	buf := make([]byte, 640*480*2)
	if w == 640 && h == 480 {
		for i, v := range p.composite {
			buf[i*2] = byte(v)
			buf[i*2+1] = byte(v >> 8)
		}
		return buf
	}

	src := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := p.composite[y*640+x]
			r := uint8((v>>11)&0x1F) << 3
			g := uint8((v>>5)&0x3F) << 2
			b := uint8(v&0x1F) << 3
			src.Set(x, y, color.RGBA{r, g, b, 0xFF})
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, 640, 480))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	for i := 0; i < 640*480; i++ {
		o := i * 4
		r, g, b := dst.Pix[o], dst.Pix[o+1], dst.Pix[o+2]
		v := uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
		buf[i*2] = byte(v)
		buf[i*2+1] = byte(v >> 8)
	}
	return buf
}

// ServiceDMA implements PPU-DMA: word_count+1 32-bit words moved between
// the PPU register file and RAM, per spec.md §4.8.
func (p *PPU) ServiceDMA() {
	toRAM := !BitSet(p.dmaCtrl, 0) // bit0 set selects RAM->PPU
	n := p.dmaWords + 1
	for i := uint32(0); i < n; i++ {
		regIdx := i % uint32(len(p.regs))
		addr := p.dmaAddr + i*4
		if toRAM {
			p.bus.Write32(addr, p.regs[regIdx])
		} else {
			p.regs[regIdx] = p.bus.Read32(addr)
		}
	}
	p.dmaCtrl &^= 1 << 31 // clear enable bit
	p.dmaIRQStat = true
	if p.dmaIRQEn {
		p.ic.SetLine(IRQ_PPU_DMA, true)
	}
}

func (p *PPU) Reset() {
	*p = *NewPPU(p.bus, p.ic, p.video, p.log)
}

func (p *PPU) SaveState(w *SaveWriter) {
	w.Tag("PPU")
	w.U32(p.mode)
	for i := range p.layers {
		l := &p.layers[i]
		w.I32(l.x)
		w.I32(l.y)
		w.U32(l.ctrl)
		w.U32(l.attr)
		w.U32(l.numArrayAddr)
		w.U32(l.attrArrayAddr)
		w.U32(l.charDataAddr)
		w.U32(l.hmotionAddr)
		w.U32(l.alpha)
	}
	for i := range p.sprites {
		w.U32(p.sprites[i].num)
		w.U32(p.sprites[i].attr)
	}
	for i := range p.rz {
		w.I32(p.rz[i].hx)
		w.I32(p.rz[i].hy)
		w.I32(p.rz[i].vx)
		w.I32(p.rz[i].vy)
	}
	for i := range p.palette {
		w.U16(p.palette[i])
	}
	w.U16(p.globalKey)
	w.Bool(p.globalKeyOn)
	w.U32(p.dmaCtrl)
	w.U32(p.dmaAddr)
	w.U32(p.dmaWords)
	w.Bool(p.dmaIRQStat)
	w.Bool(p.dmaIRQEn)
	w.U32Array(p.regs[:])
	w.U32(uint32(p.scanline))
}

func (p *PPU) LoadState(r *SaveReader) {
	r.Tag("PPU")
	p.mode = r.U32()
	for i := range p.layers {
		l := &p.layers[i]
		l.x = r.I32()
		l.y = r.I32()
		l.ctrl = r.U32()
		l.attr = r.U32()
		l.numArrayAddr = r.U32()
		l.attrArrayAddr = r.U32()
		l.charDataAddr = r.U32()
		l.hmotionAddr = r.U32()
		l.alpha = r.U32()
	}
	for i := range p.sprites {
		p.sprites[i].num = r.U32()
		p.sprites[i].attr = r.U32()
	}
	for i := range p.rz {
		p.rz[i].hx = r.I32()
		p.rz[i].hy = r.I32()
		p.rz[i].vx = r.I32()
		p.rz[i].vy = r.I32()
	}
	for i := range p.palette {
		p.palette[i] = r.U16()
	}
	p.globalKey = r.U16()
	p.globalKeyOn = r.Bool()
	p.dmaCtrl = r.U32()
	p.dmaAddr = r.U32()
	p.dmaWords = r.U32()
	p.dmaIRQStat = r.Bool()
	p.dmaIRQEn = r.Bool()
	copy(p.regs[:], r.U32Array(len(p.regs)))
	p.scanline = int(r.U32())
}
