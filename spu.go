// spu.go - 24-channel mixing sound processor (component C11)
//
// The register layout below mirrors the reference SPU's word-indexed map
// (channel blocks of 16 words, phase blocks of 4 words, a second bank for
// channels 16-23) one for one: a flat 16384-word file fills exactly one
// 64KiB bus slot. Write32 follows audio_chip.go's idiom of a
// mutex-guarded register write with side effects dispatched by address,
// but the oscillators underneath are the spec's ADPCM/ADPCM36/PCM sample
// players rather than the teacher's square/triangle/sine/noise synth.
//
// License: GPLv3 or later

package main

import (
	"log/slog"
	"sync"
)

const spuChannelCount = 24

// Word-index register map, ported from the reference SPU's addressing.
const (
	spuRegChEn        = 0x0400
	spuRegChStopSts   = 0x040B
	spuRegChSts       = 0x040F
	spuRegBank        = 0x041F
	spuRegEnvMode     = 0x0415
	spuRegToneRel     = 0x0416
	spuRegRampDown    = 0x040A
	spuRegCtrl        = 0x040D
	spuRegBeatBaseCnt = 0x0404
	spuRegBeatCnt     = 0x0405
	spuRegEnvClk0     = 0x0406 // +0..+3 for four 16-ch groups

	spuRegSoftchCompCtrl = 0x0419
	spuRegSoftchBaseL    = 0x0420
	spuRegSoftchBaseH    = 0x0421
	spuRegSoftchCtrl     = 0x0422
	spuRegSoftchPtr      = 0x042C

	spuUpperBankOffset = 0x0100 // added to the low-bank word index for ch 16-23 control words

	// per-channel block, word offsets from channelStart(ch)
	chanWavAddr = 0
	chanMode    = 1
	chanLoopAdr = 2
	chanPan     = 3
	chanEnv0    = 4
	chanEnvD    = 5
	chanEnv1    = 6
	chanEnvAH   = 7
	chanEnvAL   = 8
	chanWavD0   = 9
	chanLoopCt  = 10
	chanWavD    = 11
	chanAdpcm   = 13
	chanExAddr  = 14
)

const (
	spuCtrlSoftchEn   = 12
	spuSoftchIRQEn    = 14
	spuSoftchIRQSt    = 15
	spuBeatCntEnable  = 15
	spuBeatCntIRQFlag = 14
)

func channelStart(ch int) int {
	if ch < 16 {
		return (0x0000 + 64*ch) / 4
	}
	return (0x0400 + 64*(ch-16)) / 4
}

func channelPhaseStart(ch int) int {
	if ch < 16 {
		return (0x0800 + 64*ch) / 4
	}
	return (0x0c00 + 64*(ch-16)) / 4
}

func upperOffset(ch int) int {
	if ch >= 16 {
		return spuUpperBankOffset
	}
	return 0
}

// okiADPCMState is a standard MSM6258-style OKI ADPCM decoder. The original
// firmware's decoder source (okiadpcm.h) wasn't part of the retrieval pack;
// these are the widely published OKI/Dialogic ADPCM step and index tables
// (see DESIGN.md).
type okiADPCMState struct {
	predicted int32
	stepIndex int
}

var okiStepTable = [49]int32{
	16, 17, 19, 21, 23, 25, 28, 31, 34, 37, 41, 45, 50, 55, 60, 66,
	73, 80, 88, 97, 107, 118, 130, 143, 157, 173, 190, 209, 230, 253, 279, 307,
	337, 371, 408, 449, 494, 544, 598, 658, 724, 796, 876, 963, 1060, 1166, 1282, 1411, 1552,
}

var okiIndexTable = [8]int32{-1, -1, -1, -1, 2, 4, 6, 8}

func (s *okiADPCMState) reset() { s.predicted = 0; s.stepIndex = 0 }

func (s *okiADPCMState) clock(nibble uint8) int32 {
	step := okiStepTable[s.stepIndex]
	diff := step >> 3
	if nibble&4 != 0 {
		diff += step
	}
	if nibble&2 != 0 {
		diff += step >> 1
	}
	if nibble&1 != 0 {
		diff += step >> 2
	}
	if nibble&8 != 0 {
		s.predicted -= diff
	} else {
		s.predicted += diff
	}
	if s.predicted > 2047 {
		s.predicted = 2047
	} else if s.predicted < -2048 {
		s.predicted = -2048
	}
	s.stepIndex += int(okiIndexTable[nibble&7])
	if s.stepIndex < 0 {
		s.stepIndex = 0
	} else if s.stepIndex > 48 {
		s.stepIndex = 48
	}
	return s.predicted
}

type spuChannel struct {
	adpcm          okiADPCMState
	envDivCnt      uint32
	envClk         uint32
	rampDownDivCnt uint32
	nibAddr        uint32
	envAddr        uint32
	adpcm36Header  uint16
	adpcm36Remain  uint16
	lastSamp       uint16
	currEnv        int8
	adpcm36Prev    [2]int32
	iirL, iirR     float64
}

func (c *spuChannel) reset(loop bool) {
	c.adpcm.reset()
	c.adpcm36Header = 0
	c.adpcm36Remain = 0
	c.adpcm36Prev[0] = 0
	c.adpcm36Prev[1] = 0
	if !loop {
		c.iirL, c.iirR = 0, 0
		c.envDivCnt = 0
		c.rampDownDivCnt = 0
		c.lastSamp = 0x8000
	}
}

// SPU implements component C11: 24 ADPCM/PCM playback channels, a DMA-fed
// soft channel, a beat interrupt generator, and the 281.25kHz->48kHz host
// resampler.
type SPU struct {
	regs [16384]uint32
	ch   [spuChannelCount]spuChannel

	softchPhase float64
	softchL     int16
	softchR     int16
	beatBaseCnt int
	rateConv    float64

	bus *Bus
	ic  *InterruptController
	log *slog.Logger

	mu sync.Mutex
}

func NewSPU(bus *Bus, ic *InterruptController, log *slog.Logger) *SPU {
	return &SPU{bus: bus, ic: ic, log: log}
}

func (s *SPU) bit(v uint32, n uint) bool { return BitSet(v, n) }

func (s *SPU) getStartAddr(ch int, loop bool) uint32 {
	ca := channelStart(ch)
	var base, hi uint32
	if loop {
		base = s.regs[ca+chanLoopAdr] & 0xFFFF
		hi = (s.regs[ca+chanMode] >> 6) & 0x3F
	} else {
		base = s.regs[ca+chanWavAddr] & 0xFFFF
		hi = s.regs[ca+chanMode] & 0x3F
	}
	xaddr := s.regs[ca+chanExAddr] & 0xFF
	return (xaddr << 23) | (hi << 17) | (base << 1)
}

func (s *SPU) getEnvAddr(ch int) uint32 {
	ca := channelStart(ch)
	base := s.regs[ca+chanEnvAL] & 0xFFFF
	hi := s.regs[ca+chanEnvAH] & 0x3F
	xaddr := s.regs[ca+chanExAddr] & 0xFF
	return (xaddr << 23) | (hi << 17) | (base << 1)
}

func (s *SPU) startChannel(ch int, loop bool) {
	s.ch[ch].reset(loop)
	off := upperOffset(ch)
	s.regs[spuRegChSts+off] |= 1 << uint(ch%16)
	s.ch[ch].nibAddr = (s.getStartAddr(ch, loop) & 0x03FFFFFF) * 2

	envClkReg := s.regs[spuRegEnvClk0+(ch%16)/4+off]
	clkVal := (envClkReg >> uint((ch%4)*4)) & 0xF
	if clkVal >= 0b1011 {
		clkVal = 0b1011 // values above 0b1011 are clamped to 0b1011
	}
	if !loop {
		s.ch[ch].envClk = 4 * (4 << clkVal)
		s.ch[ch].envAddr = s.getEnvAddr(ch) & 0x03FFFFFF
		s.ch[ch].currEnv = int8(s.regs[channelStart(ch)+chanEnvD] & 0x7F)
	}
}

func (s *SPU) stopChannel(ch int) {
	s.ch[ch].reset(false)
	off := upperOffset(ch)
	bit := uint32(1) << uint(ch%16)
	s.regs[spuRegChSts+off] &^= bit
	s.regs[spuRegChEn+off] &^= bit
	s.regs[spuRegRampDown+off] &^= bit
	s.regs[channelStart(ch)+chanWavD] = 0x8000
	s.regs[channelStart(ch)+chanMode] &= 0x7FFF
}

// decodeADPCM36 follows spec.md §4.9's filter equation exactly: the header's
// 6-bit filter field is f0 (sign-extended), f1 is always zero.
func (s *SPU) decodeADPCM36(ch int, data uint8) uint16 {
	c := &s.ch[ch]
	shift := int32(c.adpcm36Header & 0xF)
	filter := int32((c.adpcm36Header & 0x3F0) >> 4)
	f0 := filter
	if filter&0x20 != 0 {
		f0 |= ^int32(0x3F)
	}
	sdata := int32(int16(data) << 12)
	sdata = (sdata >> shift) + ((c.adpcm36Prev[0]*f0 + c.adpcm36Prev[1]*0 + 32) >> 12)
	sdata = int32(int16(sdata))
	c.adpcm36Prev[1] = c.adpcm36Prev[0]
	c.adpcm36Prev[0] = sdata
	return uint16(sdata) ^ 0x8000
}

func (s *SPU) tickEnvelope(ch int) {
	ca := channelStart(ch)
	off := upperOffset(ch)
	envInc := uint8(s.regs[ca+chanEnv0] & 0x7F)
	env := int16(s.regs[ca+chanEnvD] & 0x7F)
	envTarg := int16((s.regs[ca+chanEnv0] >> 8) & 0x7F)
	autoMode := !s.bit(s.regs[spuRegEnvMode+off], uint(ch%16))

	if envInc != 0 || autoMode {
		envSgn := s.bit(s.regs[ca+chanEnv0], 7)
		cnt := uint8((s.regs[ca+chanEnvD] >> 8) & 0xFF)
		if cnt == 0 {
			cnt = uint8(s.regs[ca+chanEnv1] & 0xFF)
			if envSgn {
				env -= int16(envInc)
			} else {
				env += int16(envInc)
			}
			if env == envTarg && autoMode {
				s.regs[ca+chanEnv0] = uint32(s.bus.Read16(ramBase + (s.ch[ch].envAddr & 0x03FFFFFE)))
				s.regs[ca+chanEnv1] = uint32(s.bus.Read16(ramBase + ((s.ch[ch].envAddr + 2) & 0x03FFFFFE)))
				s.ch[ch].envAddr += 4
			}
		} else {
			cnt--
		}
		s.regs[ca+chanEnvD] = (s.regs[ca+chanEnvD] & 0xFF) | uint32(cnt)<<8
	}

	if env <= 0 {
		s.stopChannel(ch)
	} else {
		s.regs[ca+chanEnvD] = (s.regs[ca+chanEnvD] &^ 0xFF80) | uint32(env&0x7F)
	}
}

func (s *SPU) fetchWaveHalfword(nibAddr uint32) uint16 {
	return s.bus.Read16(ramBase + ((nibAddr >> 1) & 0x03FFFFFE))
}

func (s *SPU) tickChannel(ch int) {
	off := upperOffset(ch)
	if !s.bit(s.regs[spuRegChEn+off], uint(ch%16)) {
		return
	}
	ca := channelStart(ch)
	pa := channelPhaseStart(ch)
	c := &s.ch[ch]

	if s.bit(s.regs[spuRegRampDown+off], uint(ch%16)) {
		c.rampDownDivCnt++
		sel := (s.regs[pa+3] >> 16) & 0x7
		div := uint32(4 * 13 * min32(4<<(2*sel), 8192))
		if c.rampDownDivCnt >= div {
			c.rampDownDivCnt = 0
			env := int16(s.regs[ca+chanEnvD] & 0x7F)
			delta := int16((s.regs[ca+chanLoopCt] >> 9) & 0x3F)
			env -= delta
			if env <= 0 {
				s.stopChannel(ch)
				return
			}
			s.regs[ca+chanEnvD] = (s.regs[ca+chanEnvD] &^ 0xFF80) | uint32(env&0x7F)
		}
	}

	c.envDivCnt++
	if c.envDivCnt >= c.envClk {
		c.envDivCnt = 0
		s.tickEnvelope(ch)
	}
	if !s.bit(s.regs[spuRegChEn+off], uint(ch%16)) {
		return // envelope tick may have stopped the channel
	}

	s.regs[pa+1] += s.regs[pa+0]
	if !s.bit(s.regs[pa+1], 19) {
		return
	}
	s.regs[pa+1] &= 0x7FFFF

	mode := s.regs[ca+chanMode]
	adpcm := s.bit(mode, 15)
	adpcm36 := s.bit(s.regs[ca+chanAdpcm], 15)
	toneMode := (mode >> 12) & 0x3
	m16 := s.bit(mode, 14)

	if toneMode == 0 {
		s.stopChannel(ch)
		return
	}
	c.lastSamp = uint16(s.regs[ca+chanWavD])

	nibs := uint32(1)
	getSample := func() bool {
		fetch := s.fetchWaveHalfword(c.nibAddr)
		if adpcm {
			if adpcm36 {
				if c.adpcm36Remain == 0 {
					c.adpcm36Header = fetch
					c.nibAddr += 4
					fetch = s.fetchWaveHalfword(c.nibAddr)
					c.adpcm36Remain = 8
				} else if c.nibAddr&0x3 == 0x3 {
					c.adpcm36Remain--
				}
				if fetch == 0xFFFF && s.fetchWaveHalfword(c.nibAddr-4) == 0xFFFF {
					return false
				}
				nib := uint8(fetch>>(4*(c.nibAddr&0x3))) & 0xF
				s.regs[ca+chanWavD] = uint32(s.decodeADPCM36(ch, nib))
			} else {
				if fetch == 0xFFFF {
					return false
				}
				nib := uint8(fetch>>(4*(c.nibAddr&0x3))) & 0xF
				s.regs[ca+chanWavD] = uint32((uint16(c.adpcm.clock(nib))<<4)&0xFFFF) ^ 0x8000
			}
		} else if m16 {
			nibs = 4
			if fetch == 0xFFFF {
				return false
			}
			s.regs[ca+chanWavD] = uint32(fetch)
		} else {
			nibs = 2
			byt := uint16(fetch>>(4*(c.nibAddr&0x3))) & 0xFF
			if byt == 0xFF {
				return false
			}
			s.regs[ca+chanWavD] = uint32(byt) << 8
		}
		if (s.regs[ca+chanWavD]^uint32(c.lastSamp))&0x8000 != 0 {
			c.currEnv = int8(s.regs[ca+chanEnvD] & 0x7F)
		}
		c.nibAddr += nibs
		return true
	}

	if !getSample() {
		if s.bit(s.regs[spuRegToneRel+off], uint(ch%16)) {
			s.regs[spuRegToneRel+off] = SetBit(s.regs[spuRegToneRel+off], uint(ch%16), false)
			c.nibAddr += nibs
		} else if toneMode == 2 {
			s.startChannel(ch, true)
			getSample()
		} else {
			s.stopChannel(ch)
		}
	}
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func softchBufSize(sizeField uint32) int {
	lo := sizeField & 0x3
	hi := (sizeField >> 3) & 0x1
	return 0x100 * (1 << (lo | hi<<2))
}

func (s *SPU) tickSoftChannel() {
	if !s.bit(s.regs[spuRegCtrl], spuCtrlSoftchEn) {
		return
	}
	s.softchPhase += 96.0 / float64(s.regs[spuRegSoftchCompCtrl]&0xFFFF)
	if s.softchPhase < 1.0 {
		return
	}
	s.softchPhase -= 1.0

	ctrl := s.regs[spuRegSoftchCtrl]
	base := (s.regs[spuRegSoftchBaseH] << 16) | (s.regs[spuRegSoftchBaseL] & 0xFFFF)
	halfSize := softchBufSize(ctrl&0xF) / 2
	stereo := ctrl&0x4 != 0
	ptr := s.regs[spuRegSoftchPtr]

	stride := uint32(2)
	if stereo {
		stride = 4
	}
	idx := base + ptr*stride
	s.softchL = int16(s.bus.Read16(ramBase+(idx&0x03FFFFFE)) ^ 0x8000)
	if stereo {
		s.softchR = int16(s.bus.Read16(ramBase+((idx+2)&0x03FFFFFE)) ^ 0x8000)
	} else {
		s.softchR = s.softchL
	}

	nextPtr := (ptr + 1) % uint32(2*halfSize)
	if (nextPtr^ptr)&uint32(halfSize) != 0 {
		if s.bit(ctrl, spuSoftchIRQEn) {
			s.ic.SetLine(IRQ_SPU_SOFTCHAN, true)
			s.regs[spuRegSoftchCtrl] = SetBit(s.regs[spuRegSoftchCtrl], spuSoftchIRQSt, true)
		}
	}
	s.regs[spuRegSoftchPtr] = nextPtr
}

func (s *SPU) startSoftChannel() {
	s.regs[spuRegSoftchPtr] = 0
	s.softchPhase = 0
	s.softchL, s.softchR = 0, 0
}

// engineTick runs one 281.25kHz tick: all 24 channels, the soft channel, and
// the beat divider (spec.md §4.9).
func (s *SPU) engineTick() {
	for ch := 0; ch < spuChannelCount; ch++ {
		s.tickChannel(ch)
	}
	s.tickSoftChannel()

	beatEn := s.bit(s.regs[spuRegBeatCnt], spuBeatCntEnable)
	beatPeriod := 4 * int(s.regs[spuRegBeatBaseCnt]&0x3FF)
	if !beatEn {
		s.beatBaseCnt = 0
		return
	}
	s.beatBaseCnt++
	if s.beatBaseCnt >= beatPeriod {
		beatCnt := int(s.regs[spuRegBeatCnt] & 0x3FFF)
		if beatCnt > 0 {
			beatCnt--
			if beatCnt == 0 {
				s.ic.SetLine(IRQ_SPU_BEAT, true)
				s.regs[spuRegBeatCnt] = SetBit(s.regs[spuRegBeatCnt], spuBeatCntIRQFlag, true)
			}
		}
		s.regs[spuRegBeatCnt] = (s.regs[spuRegBeatCnt] &^ 0x3FFF) | uint32(beatCnt&0x3FFF)
		s.beatBaseCnt = 0
	}
}

// mixChannels implements spec.md §4.9's per-sample mixing formula: linear
// interpolation between the last and current wave sample, envelope scale,
// pan split, one-pole IIR per side, accumulate, divide by 8, saturate.
func (s *SPU) mixChannels() (l, r int16) {
	var lm, rm int32
	for ch := 0; ch < spuChannelCount; ch++ {
		off := upperOffset(ch)
		if !s.bit(s.regs[spuRegChEn+off], uint(ch%16)) {
			continue
		}
		ca := channelStart(ch)
		pa := channelPhaseStart(ch)
		c := &s.ch[ch]

		phase := s.regs[pa+1]
		lerp := float64(phase) / float64(1<<19)
		lastSamp := int32(int16(c.lastSamp ^ 0x8000))
		samp := int32(int16(uint16(s.regs[ca+chanWavD]) ^ 0x8000))
		lerpSamp := int32(float64(samp)*lerp + float64(lastSamp)*(1-lerp))
		scaled := (lerpSamp * int32(c.currEnv&0x7F)) / (1 << 7)

		vol := int32(s.regs[ca+chanPan] & 0x7F)
		pan := int32((s.regs[ca+chanPan] >> 8) & 0x7F)
		var panL, panR int32
		if pan < 0x40 {
			panL = 0x7F * vol
			panR = pan * 2 * vol
		} else {
			panL = (0x7F - pan) * 2 * vol
			panR = 0x7F * vol
		}
		lf := (scaled * panL) / (1 << 14)
		rf := (scaled * panR) / (1 << 14)

		const alpha = 0.33
		c.iirL = c.iirL*alpha + float64(lf)*(1-alpha)
		c.iirR = c.iirR*alpha + float64(rf)*(1-alpha)
		lm += int32(c.iirL)
		rm += int32(c.iirR)
	}
	if s.bit(s.regs[spuRegCtrl], spuCtrlSoftchEn) {
		lm += int32(s.softchL)
		rm += int32(s.softchR)
	}
	lm /= 8
	rm /= 8
	return int16(clampI32(lm, -32767, 32767)), int16(clampI32(rm, -32767, 32767))
}

func clampI32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NextSample implements the AudioOutput pull callback contract, driven by
// the host backend at 48kHz: it runs the host-rate accumulator from
// spec.md §4.9, draining engine ticks while the accumulator stays positive,
// and returns one mixed stereo sample per call.
func (s *SPU) NextSample() (int16, int16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rateConv += 1.0 / 48000.0
	for s.rateConv > 0 {
		s.engineTick()
		s.rateConv -= 1.0 / 281250.0
	}
	return s.mixChannels()
}

// Tick is called by the system scheduler at the cadence spec.md §4.13
// assigns the SPU's "host-sample updater" slot; it just forwards to
// NextSample and discards the result, since the audio backend pulls
// samples on its own thread via AudioOutput.SetSampleSource.
func (s *SPU) Tick() { s.NextSample() }

// Read32/Write32 implement the Peripheral interface (see bus.go). Channel
// enable/disable, global control, soft-channel control and the beat counter
// need side effects beyond a flat store; everything else is a plain
// register read/write into the word file.
func (s *SPU) Read32(offset uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := offset / 4
	if int(idx) >= len(s.regs) {
		return 0
	}
	return s.regs[idx]
}

func (s *SPU) Write32(offset uint32, val uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := int(offset / 4)
	if idx >= len(s.regs) {
		return
	}

	if idx == spuRegChEn || idx == spuRegChEn+spuUpperBankOffset {
		base := 0
		if idx == spuRegChEn+spuUpperBankOffset {
			base = 16
		}
		old := s.regs[idx]
		for i := 0; i < 16; i++ {
			was := old&(1<<uint(i)) != 0
			now := val&(1<<uint(i)) != 0
			if now && !was {
				s.startChannel(base+i, false)
			} else if was && !now {
				s.stopChannel(base + i)
			}
		}
	} else if idx == spuRegCtrl {
		if val&(1<<spuCtrlSoftchEn) != 0 && s.regs[idx]&(1<<spuCtrlSoftchEn) == 0 {
			s.startSoftChannel()
		}
	}

	s.regs[idx] = val

	switch idx {
	case spuRegSoftchCtrl:
		if val&(1<<spuSoftchIRQSt) != 0 {
			s.regs[idx] &^= 1 << spuSoftchIRQSt
			s.ic.SetLine(IRQ_SPU_SOFTCHAN, false)
		}
	case spuRegBeatCnt:
		if val&(1<<spuBeatCntIRQFlag) != 0 {
			s.regs[idx] &^= 1 << spuBeatCntIRQFlag
			s.ic.SetLine(IRQ_SPU_BEAT, false)
		}
	}
}

func (s *SPU) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.regs {
		s.regs[i] = 0
	}
	for i := range s.ch {
		s.ch[i] = spuChannel{}
		s.ch[i].reset(false)
	}
	s.softchPhase, s.softchL, s.softchR = 0, 0, 0
	s.beatBaseCnt = 0
	s.rateConv = 0
}

func (s *SPU) SaveState(w *SaveWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Tag("SPU")
	w.U32Array(s.regs[:])
	for i := range s.ch {
		c := &s.ch[i]
		w.U32(uint32(c.adpcm.predicted))
		w.U32(uint32(c.adpcm.stepIndex))
		w.U32(c.envDivCnt)
		w.U32(c.envClk)
		w.U32(c.rampDownDivCnt)
		w.U32(c.nibAddr)
		w.U32(c.envAddr)
		w.U16(c.adpcm36Header)
		w.U16(c.adpcm36Remain)
		w.U16(c.lastSamp)
		w.U32(uint32(c.currEnv))
		w.U32(uint32(c.adpcm36Prev[0]))
		w.U32(uint32(c.adpcm36Prev[1]))
	}
	w.U8(boolByte(s.bit(s.regs[spuRegCtrl], spuCtrlSoftchEn)))
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func (s *SPU) LoadState(r *SaveReader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Tag("SPU")
	regs := r.U32Array(len(s.regs))
	copy(s.regs[:], regs)
	for i := range s.ch {
		c := &s.ch[i]
		c.adpcm.predicted = int32(r.U32())
		c.adpcm.stepIndex = int(r.U32())
		c.envDivCnt = r.U32()
		c.envClk = r.U32()
		c.rampDownDivCnt = r.U32()
		c.nibAddr = r.U32()
		c.envAddr = r.U32()
		c.adpcm36Header = r.U16()
		c.adpcm36Remain = r.U16()
		c.lastSamp = r.U16()
		c.currEnv = int8(r.U32())
		c.adpcm36Prev[0] = int32(r.U32())
		c.adpcm36Prev[1] = int32(r.U32())
	}
	r.U8()
}
