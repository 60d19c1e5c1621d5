// system_test.go - scheduler ratios, soft reset, shutdown and savestate
// round-trip for component C15
//
// License: GPLv3 or later

package main

import (
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestSDImage writes a minimal aligned SD card image NewSDCard accepts.
func newTestSDImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "card.img")
	require.NoError(t, os.WriteFile(path, make([]byte, sdFileAlignment), 0o644))
	return path
}

// newTestFirmware writes a one-instruction NOR image (NOP-equivalent zero
// word is fine; Run/Step correctness is cpu_test.go's concern, not this
// file's) entering and loading at the base of RAM.
func newTestFirmware(t *testing.T) string {
	t.Helper()
	buf := make([]byte, norHeaderSize+4)
	binary.LittleEndian.PutUint32(buf[norHeaderLoad:], ramBase)
	binary.LittleEndian.PutUint32(buf[norHeaderStack:], ramBase+0x1000)
	binary.LittleEndian.PutUint32(buf[norHeaderEntry:], ramBase)
	path := filepath.Join(t.TempDir(), "fw.nor")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func newTestSystem(t *testing.T) (*System, Config) {
	t.Helper()
	cfg := Config{
		FirmwarePath: newTestFirmware(t),
		SDImagePath:  newTestSDImage(t),
		UseNOR:       true,
		SaveDir:      t.TempDir(),
	}
	log := slog.New(slog.DiscardHandler)
	video := NewHeadlessOutput()
	audio := NewHeadlessAudioOutput()
	sys, err := NewSystem(cfg, video, audio, nil, log)
	require.NoError(t, err)
	require.NoError(t, sys.LoadFirmware())
	return sys, cfg
}

func TestNewSystemGlobalEnableStartsDisabledAndEntryLoaded(t *testing.T) {
	sys, _ := newTestSystem(t)
	require.False(t, sys.ic.globalEnable)
	require.Equal(t, uint32(ramBase), sys.entry)
}

func TestRunStopsPromptlyOnShutdownRequest(t *testing.T) {
	sys, _ := newTestSystem(t)
	require.NoError(t, sys.Start())

	sys.RequestShutdown()
	err := sys.Run()
	require.NoError(t, err)
	require.False(t, sys.video.IsStarted())
	require.False(t, sys.audio.IsStarted())
}

func TestSchedulerRatiosFireAtExpectedInstructionCounts(t *testing.T) {
	sys, _ := newTestSystem(t)

	// Run exactly 2000 instructions by hand (bypassing Run's shutdown
	// check) and confirm the every-4th/200th/320th counts.
	var timerTicks, spuTicks, gamepadPolls int
	for i := uint64(1); i <= 2000; i++ {
		sys.cpu.Step()
		sys.instrCount = i
		if i%4 == 0 {
			timerTicks++
		}
		if i%200 == 0 {
			spuTicks++
		}
		if i%320 == 0 {
			gamepadPolls++
		}
	}
	require.Equal(t, 500, timerTicks)
	require.Equal(t, 10, spuTicks)
	require.Equal(t, 6, gamepadPolls)
}

func TestSoftResetReloadsFirmwareAndResetsInterruptController(t *testing.T) {
	sys, _ := newTestSystem(t)
	sys.ic.SetGlobalEnable(true)
	sys.ic.WriteMaskL(0xFF)

	require.NoError(t, sys.SoftReset())

	require.False(t, sys.ic.globalEnable)
	require.Equal(t, uint32(ramBase), sys.entry)
}

func TestOnKeyEventTracksPlayerZeroButtons(t *testing.T) {
	sys, _ := newTestSystem(t)

	sys.onKeyEvent(38, true) // arrow up, per keyToButton
	require.NotZero(t, sys.buttons[0]&ButtonUp)

	sys.onKeyEvent(38, false)
	require.Zero(t, sys.buttons[0]&ButtonUp)
}

func TestOnKeyEventMotionToggleRequiresZone3D(t *testing.T) {
	sys, _ := newTestSystem(t)
	sys.onKeyEvent(motionToggleKey, true)
	require.Zero(t, sys.buttons[0]&motionActive, "motion bit should not toggle with Zone3D off")

	sys.cfg.Zone3D = true
	sys.onKeyEvent(motionToggleKey, true)
	require.NotZero(t, sys.buttons[0]&motionActive)
}

func TestSaveAndLoadSlotRoundTrips(t *testing.T) {
	sys, _ := newTestSystem(t)
	sys.ic.SetGlobalEnable(true)
	sys.ic.WriteMaskL(0x5A)

	require.NoError(t, sys.SaveToSlot(0))

	sys.ic.WriteMaskL(0)
	sys.ic.SetGlobalEnable(false)

	require.NoError(t, sys.LoadFromSlot(0))
	require.True(t, sys.ic.globalEnable)
	require.Equal(t, uint32(0x5A), sys.ic.maskL)
}

func TestLoadIGameReportsUnspecifiedFormat(t *testing.T) {
	err := LoadIGame("whatever.iga", nil)
	require.Error(t, err)
}
