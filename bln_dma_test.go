// bln_dma_test.go - copy/blend/fill and colour-key behaviour for C9
//
// License: GPLv3 or later

package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newBLN(t *testing.T) (*BLNDMA, *Bus, *InterruptController) {
	log := slog.New(slog.DiscardHandler)
	bus := NewBus(log)
	ic := NewInterruptController(log)
	ic.SetGlobalEnable(true)
	ic.WriteMaskL(0xFFFFFFFF)
	ic.WriteMaskH(0xFFFFFFFF)
	return NewBLNDMA(bus, ic, log), bus, ic
}

// setupLinearSrcDest wires linear addressing with src/dest base registers
// holding byte addresses, per spec.md §4.7's addr(x,y) = start + 2*(w*y+x):
// start/base is already a byte address, only the (x,y) grid is doubled.
func setupLinearSrcDest(d *BLNDMA, srcByte, destByte uint32) {
	d.Write32(blnRegAddrMode, 0) // all linear
	d.Write32(blnRegABase, srcByte)
	d.Write32(blnRegDBase, destByte)
	d.Write32(blnRegWH, (2<<16)|2) // 2x2 transfer
}

func TestBLNDMACopyLinear(t *testing.T) {
	d, bus, ic := newBLN(t)
	const destBase = 0x1000
	setupLinearSrcDest(d, 0, destBase)
	bus.Write16(ramBase+0, 0x1111)
	bus.Write16(ramBase+2, 0x2222)
	bus.Write16(ramBase+4, 0x3333)
	bus.Write16(ramBase+6, 0x4444)
	d.Write32(blnRegIRQCtrl, blnIRQEnableBit)

	d.Write32(blnRegCtrl1, blnStart|blnOpCopy)

	require.Equal(t, uint16(0x1111), bus.Read16(ramBase+destBase+0))
	require.Equal(t, uint16(0x4444), bus.Read16(ramBase+destBase+6))
	require.True(t, ic.isPending(IRQ_BLNDMA))
}

func TestBLNDMALinearFillLandsAtByteAddress(t *testing.T) {
	// Named scenario: linear base 0x100000 must land the fill at RAM bytes
	// 0x100000..0x10003F, not double that -- base/start is a byte address.
	d, bus, _ := newBLN(t)
	const destBase = 0x100000
	setupLinearSrcDest(d, 0, destBase)
	d.Write32(blnRegWH, (2<<16)|16) // 2 rows x 16 pixels/row = 0x40 bytes
	d.Write32(blnRegFillPat, 0x7E0)

	d.Write32(blnRegCtrl1, blnStart|blnOpFill)

	require.Equal(t, uint16(0x7E0), bus.Read16(ramBase+destBase))
	require.Equal(t, uint16(0x7E0), bus.Read16(ramBase+destBase+0x3E))
	// Confirms the fill did not also land doubled at 0x200000.
	require.NotEqual(t, uint16(0x7E0), bus.Read16(ramBase+2*destBase))
}

func TestBLNDMAColourKeySkipsPixel(t *testing.T) {
	d, bus, _ := newBLN(t)
	const destBase = 0x1000
	setupLinearSrcDest(d, 0, destBase)
	d.Write32(blnRegColourKey, 0x1234)
	bus.Write16(ramBase+0, 0x1234)
	bus.Write16(ramBase+destBase, 0xBEEF) // pre-existing dest value

	d.Write32(blnRegCtrl1, blnStart|blnOpCopy|blnColourKey)

	require.Equal(t, uint16(0xBEEF), bus.Read16(ramBase+destBase))
}

func TestBLNDMAFill(t *testing.T) {
	d, bus, _ := newBLN(t)
	const destBase = 0x1000
	setupLinearSrcDest(d, 0, destBase)
	d.Write32(blnRegFillPat, 0x7E0)

	d.Write32(blnRegCtrl1, blnStart|blnOpFill)

	for off := uint32(0); off < 8; off += 2 {
		require.Equal(t, uint16(0x7E0), bus.Read16(ramBase+destBase+off))
	}
}

func TestDescrambleRoundTripsThroughLUT(t *testing.T) {
	v := uint32(0x12345678)
	scrambled := descramble32(v)
	require.NotEqual(t, v, scrambled)
	// descrambleLUT is a bit-reversal, an involution, so applying it twice
	// recovers the original value (the LUT is a documented placeholder, not
	// claimed to match real silicon -- see descramble.go).
	require.Equal(t, v, descramble32(scrambled))
}
