// spu_test.go - channel playback and mixing behaviour for component C11
//
// License: GPLv3 or later

package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newSPU(t *testing.T) (*SPU, *Bus) {
	log := slog.New(slog.DiscardHandler)
	bus := NewBus(log)
	ic := NewInterruptController(log)
	s := NewSPU(bus, ic, log)
	return s, bus
}

// write8PCMWaveform lays out an 8-bit PCM byte stream in RAM starting at
// addr, packed two bytes per halfword little-endian, terminated by 0xFF.
func write8PCMWaveform(bus *Bus, addr uint32, bytes []byte) {
	for i := 0; i+1 < len(bytes); i += 2 {
		v := uint16(bytes[i]) | uint16(bytes[i+1])<<8
		bus.Write16(addr+uint32(i), v)
	}
	if len(bytes)%2 == 1 {
		bus.Write16(addr+uint32(len(bytes)-1), uint16(bytes[len(bytes)-1]))
	}
}

// TestEightBitPCMRepeat mirrors the reference fixture: a 4-byte waveform
// 80 81 82 FF in 8-bit PCM tone-mode=repeat, envelope pinned at 0x7F, with
// the phase-step set so exactly one sample emits per engine tick. The
// sequence of wavd values (after the 0x8000 XOR bias, before mixing) should
// cycle 0x0000, 0x0100, 0x0200, then repeat.
func TestEightBitPCMRepeat(t *testing.T) {
	s, bus := newSPU(t)

	waveAddr := uint32(0x1000) // word-addressable within RAM, byte offset 0x2000
	write8PCMWaveform(bus, ramBase+waveAddr*2, []byte{0x80, 0x81, 0x82, 0xFF})

	ch := 0
	ca := channelStart(ch)
	pa := channelPhaseStart(ch)

	s.regs[ca+chanWavAddr] = waveAddr & 0xFFFF
	s.regs[ca+chanLoopAdr] = waveAddr & 0xFFFF // repeat restarts at the same wave
	s.regs[ca+chanMode] = (2 << 12)            // tone_mode = repeat (2), m16=0 (8-bit PCM), adpcm=0
	s.regs[ca+chanEnvD] = 0x7F                 // envelope = 0x7F (max, avoid stop)
	s.regs[ca+chanEnv0] = 0                    // no auto increment
	s.regs[ca+chanPan] = 0x7F                  // vol=0x7F, pan=0
	s.regs[pa+0] = 1 << 19                     // phase-step: carries every tick

	s.Write32(spuRegChEn*4, 1<<uint(ch)) // enables + starts the channel

	var got []uint16
	for i := 0; i < 7; i++ {
		s.tickChannel(ch)
		got = append(got, uint16(s.regs[ca+chanWavD])^0x8000)
	}

	require.Equal(t, []uint16{0x0000, 0x0100, 0x0200, 0x0000, 0x0100, 0x0200, 0x0000}, got)
}

func TestChannelEnableStartsAndDisableStops(t *testing.T) {
	s, _ := newSPU(t)
	s.Write32(spuRegChEn*4, 1<<3)
	require.True(t, s.bit(s.regs[spuRegChSts], 3))

	s.Write32(spuRegChEn*4, 0)
	require.False(t, s.bit(s.regs[spuRegChSts], 3))
	require.Equal(t, uint32(0x8000), s.regs[channelStart(3)+chanWavD])
}

func TestBeatIRQFiresOnCountdown(t *testing.T) {
	s, _ := newSPU(t)
	s.ic.SetGlobalEnable(true)
	s.ic.WriteMaskH(0xFFFFFFFF)
	s.ic.WriteMaskL(0xFFFFFFFF)

	s.regs[spuRegBeatBaseCnt] = 1 // period = 4*1 = 4 engine ticks per division
	s.regs[spuRegBeatCnt] = (1 << 15) | 1 // enable + count=1, fires on first division

	for i := 0; i < 4; i++ {
		s.engineTick()
	}
	require.True(t, s.ic.isPending(IRQ_SPU_BEAT))
	require.True(t, s.bit(s.regs[spuRegBeatCnt], spuBeatCntIRQFlag))

	s.Write32(spuRegBeatCnt*4, s.regs[spuRegBeatCnt]|(1<<spuBeatCntIRQFlag))
	require.False(t, s.ic.isPending(IRQ_SPU_BEAT))
}

func TestSoftChannelHalfBufferIRQ(t *testing.T) {
	s, bus := newSPU(t)
	s.ic.SetGlobalEnable(true)
	s.ic.WriteMaskH(0xFFFFFFFF)
	s.ic.WriteMaskL(0xFFFFFFFF)

	base := uint32(0x2000)
	for i := uint32(0); i < 512; i++ {
		bus.Write16(ramBase+base+i*2, 0x8000)
	}

	s.regs[spuRegSoftchBaseL] = base & 0xFFFF
	s.regs[spuRegSoftchBaseH] = base >> 16
	s.regs[spuRegSoftchCompCtrl] = 96 // phase += 96/96 = 1 every tick
	s.regs[spuRegSoftchCtrl] = 1 << spuSoftchIRQEn // buf size field 0 -> 256 samples, half=128; irq-en bit14
	s.Write32(spuRegCtrl*4, 1<<spuCtrlSoftchEn)

	for i := 0; i < 130; i++ {
		s.tickSoftChannel()
	}
	require.True(t, s.ic.isPending(IRQ_SPU_SOFTCHAN))
}

func TestMixChannelsFullScaleHardLeftStaysInRange(t *testing.T) {
	s, _ := newSPU(t)
	ch := 0
	ca := channelStart(ch)
	pa := channelPhaseStart(ch)
	s.regs[spuRegChEn] = 1
	s.regs[ca+chanWavD] = 0xFFFF // max positive after XOR bias (int16(0x7FFF))
	s.ch[ch].lastSamp = 0xFFFF
	s.ch[ch].currEnv = 0x7F
	s.regs[ca+chanPan] = 0x7F // vol=0x7F, pan=0
	s.regs[pa+1] = 0          // lerp factor 0, uses last_samp fully

	l, r := s.mixChannels()
	require.True(t, l > 0)
	require.True(t, r >= 0)
	require.LessOrEqual(t, l, int16(32767))
}

func TestOKIADPCMStepTableMonotonic(t *testing.T) {
	for i := 1; i < len(okiStepTable); i++ {
		require.GreaterOrEqual(t, okiStepTable[i], okiStepTable[i-1])
	}
}
