// apb_dma_test.go - open-coded transfer loop and hook dispatch for C8
//
// License: GPLv3 or later

package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAPBDMAOpenCodedCopyToAPBAndIRQ(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	bus := NewBus(log)
	ic := NewInterruptController(log)
	ic.SetGlobalEnable(true)
	ic.WriteMaskL(0xFFFFFFFF)
	ic.WriteMaskH(0xFFFFFFFF)
	d := NewAPBDMA(bus, ic, log)

	bus.Write32(ramBase, 0xAABBCCDD)
	d.Write32(apbRegAHBStart, ramBase)
	d.Write32(apbRegAHBEnd, ramBase)
	d.Write32(apbRegAPBAddr, ramBase+0x100)
	d.Write32(apbRegSettings, apbSettingDirToAPB|apbSettingEnable|apbSettingIRQMask|(apbSize32<<apbSettingSizeShift))

	require.Equal(t, uint32(0xAABBCCDD), bus.Read32(ramBase+0x100))
	require.Equal(t, uint32(1), d.Read32(apbRegIRQStat))
	require.True(t, ic.isPending(IRQ_APBDMA_CH0))

	d.Write32(apbRegIRQStat, 1)
	require.False(t, ic.isPending(IRQ_APBDMA_CH0))
}

func TestAPBDMAOutOfWindowAbortDoesNotRaiseIRQ(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	bus := NewBus(log)
	ic := NewInterruptController(log)
	ic.SetGlobalEnable(true)
	ic.WriteMaskL(0xFFFFFFFF)
	ic.WriteMaskH(0xFFFFFFFF)
	d := NewAPBDMA(bus, ic, log)

	d.Write32(apbRegAHBStart, 0xDEADBEEF) // well outside the ram window
	d.Write32(apbRegAHBEnd, 0xDEADBEFF)
	d.Write32(apbRegAPBAddr, ramBase+0x100)
	d.Write32(apbRegSettings, apbSettingDirToAPB|apbSettingEnable|apbSettingIRQMask|(apbSize32<<apbSettingSizeShift))

	require.False(t, ic.isPending(IRQ_APBDMA_CH0))
	require.Equal(t, uint32(0), d.Read32(apbRegIRQStat))
	require.Zero(t, d.Read32(apbRegSettings)&apbSettingEnable)
}

func TestAPBDMAHookFastPath(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	bus := NewBus(log)
	ic := NewInterruptController(log)
	d := NewAPBDMA(bus, ic, log)

	var gotLen int
	d.RegisterHook(DMAHook{
		Base: ramBase + 0x200, End: ramBase + 0x300, ToAPB: true, Continuous: false,
		Fn: func(ram []byte, toAPB bool) { gotLen = len(ram) },
	})

	d.Write32(apbRegAHBStart, ramBase)
	d.Write32(apbRegAHBEnd, ramBase+12)
	d.Write32(apbRegAPBAddr, ramBase+0x200)
	d.Write32(apbRegSettings, apbSettingDirToAPB|apbSettingEnable|(apbSize32<<apbSettingSizeShift))

	require.Equal(t, 16, gotLen)
}
