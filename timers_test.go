// timers_test.go - overflow/reload/IRQ behaviour for component C7
//
// License: GPLv3 or later

package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimerOverflowReloadsAndRaisesIRQ(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	ic := NewInterruptController(log)
	ic.SetGlobalEnable(true)
	ic.WriteMaskH(0xFFFFFFFF)
	ic.WriteMaskL(0xFFFFFFFF)
	tm := NewTimers(ic, log)

	tm.Write32(timerRegPreload, 0xFFF0)
	tm.Write32(timerRegCount, 0xFFFE)
	tm.Write32(timerRegCtrl, timerCtrlEnable|timerCtrlIRQEnable)

	tm.TickPCLK() // count -> 0xFFFF
	require.Equal(t, uint32(0xFFFF), tm.Read32(timerRegCount))
	require.False(t, ic.isPending(IRQ_TIMER))

	tm.TickPCLK() // overflow -> reload
	require.Equal(t, uint32(0xFFF0), tm.Read32(timerRegCount))
	require.NotZero(t, tm.Read32(timerRegCtrl)&timerCtrlIRQFlag)
	require.True(t, ic.isPending(IRQ_TIMER))
}

func Test32kHzTimerIgnoresPCLKTicks(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	ic := NewInterruptController(log)
	tm := NewTimers(ic, log)

	tm.Write32(timerRegGate, clockSel32kHzBit) // timer 0 on 32kHz source
	tm.Write32(timerRegCtrl, timerCtrlEnable)

	tm.TickPCLK()
	require.Equal(t, uint32(0), tm.Read32(timerRegCount))

	tm.Tick32kHz(3)
	require.Equal(t, uint32(3), tm.Read32(timerRegCount))
}
