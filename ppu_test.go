// ppu_test.go - layer/sprite compositing behaviour for component C10
//
// License: GPLv3 or later

package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newPPU(t *testing.T) (*PPU, *Bus) {
	log := slog.New(slog.DiscardHandler)
	bus := NewBus(log)
	ic := NewInterruptController(log)
	video := NewHeadlessOutput()
	p := NewPPU(bus, ic, video, log)
	return p, bus
}

// TestBitmapModeRedLine mirrors the reference fixture: layer 0 in bitmap
// mode, RGB565 override, line pointer addressing a row of eight 0xF800
// pixels followed by zeros, no other layers or sprites enabled.
func TestBitmapModeRedLine(t *testing.T) {
	p, bus := newPPU(t)

	lineAddr := uint32(ramBase + 0x1000)
	for i := 0; i < 8; i++ {
		bus.Write16(lineAddr+uint32(i*2), 0xF800)
	}

	ptrTable := uint32(ramBase + 0x2000)
	for y := 0; y < 480; y++ {
		bus.Write32(ptrTable+uint32(y*4), lineAddr)
	}

	p.Write32(ppuRegMode, ScreenVGA)
	p.Write32(ppuLayerBase+0x00, 0) // x
	p.Write32(ppuLayerBase+0x04, 0) // y
	p.Write32(ppuLayerBase+0x08, layerCtrlBitmap|layerCtrlDirect16|layerCtrlRGB565)
	p.Write32(ppuLayerBase+0x10, ptrTable)

	p.Render()

	buf := p.scaleToFullFrame(640, 480)
	for x := 0; x < 8; x++ {
		v := uint16(buf[x*2]) | uint16(buf[x*2+1])<<8
		require.Equal(t, uint16(0xF800), v, "pixel %d", x)
	}
	v := uint16(buf[8*2]) | uint16(buf[8*2+1])<<8
	require.Equal(t, uint16(0), v)
}

// TestSpriteNegativeXBias checks that a sprite X field in [1024-96, 1024)
// renders at the corresponding negative screen X, per spec.md's biased
// sprite coordinate encoding.
func TestSpriteNegativeXBias(t *testing.T) {
	s := spriteEntry{num: uint32(1024-10) << 16}
	require.Equal(t, int32(-10), s.x())
}

func TestSpriteYBias(t *testing.T) {
	s := spriteEntry{attr: uint32(1024-20) << 16}
	require.Equal(t, int32(-20), s.y())
}

func TestGlobalColourKeyDropsMatchingPixel(t *testing.T) {
	p, _ := newPPU(t)
	p.composite[0] = 0x1234
	p.composite[1] = 0x5678
	p.globalKey = 0x1234
	p.globalKeyOn = true

	for i := range p.composite {
		if p.composite[i] == p.globalKey {
			p.composite[i] = 0
		}
	}
	require.Equal(t, uint16(0), p.composite[0])
	require.Equal(t, uint16(0x5678), p.composite[1])
}

func TestVBlankStartRaisesLineAndStatus(t *testing.T) {
	p, _ := newPPU(t)
	p.ic.SetGlobalEnable(true)
	p.ic.WriteMaskH(0xFFFFFFFF)
	p.ic.WriteMaskL(0xFFFFFFFF)
	p.Write32(ppuRegVBStart, 10)
	p.Write32(ppuRegVBCtrl, 1) // start-en

	for i := 0; i < 10; i++ {
		p.Tick()
	}
	require.True(t, p.ic.isPending(IRQ_PPU_VBLANK_START))
	require.True(t, p.vblankStartStat)

	p.Write32(ppuRegVBCtrl, 1|1<<8) // clear status bit
	require.False(t, p.vblankStartStat)
	require.False(t, p.ic.isPending(IRQ_PPU_VBLANK_START))
}

func TestPPUDMARAMToRegsTransfer(t *testing.T) {
	p, bus := newPPU(t)
	addr := uint32(ramBase + 0x4000)
	bus.Write32(addr, 0xAABBCCDD)
	bus.Write32(addr+4, 0x11223344)

	p.Write32(ppuRegDMAAddr, addr)
	p.Write32(ppuRegDMAWords, 1) // word_count+1 = 2 words
	p.Write32(ppuRegDMACtrl, 1<<0|1<<31)

	require.Equal(t, uint32(0xAABBCCDD), p.regs[0])
	require.Equal(t, uint32(0x11223344), p.regs[1])
	require.True(t, p.dmaIRQStat)
	require.Equal(t, uint32(0), p.dmaCtrl&(1<<31))
}

func TestArgb1555ToRGB565GreenWiden(t *testing.T) {
	// pure green at max 5-bit intensity (0x1F) doubles to 0x3E in the 6-bit field.
	v := argb1555ToRGB565(0x03E0)
	require.Equal(t, uint16(0x07C0), v)
}
