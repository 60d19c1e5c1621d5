// audio_backend_oto.go - oto v3 audio output backend
//
// Adapted from the teacher's OtoPlayer: the synth-chip sample source is
// replaced by a plain (int16, int16) stereo pull callback (spu.go's mixer
// output), and the format switches from float32 mono to signed 16-bit
// stereo PCM to match the SPU's 48kHz stereo ring buffer (spec.md §4.9)
// instead of the teacher's synth chip's mono float stream.
//
// License: GPLv3 or later

package main

import (
	"sync"
	"sync/atomic"

	"github.com/ebitengine/oto/v3"
)

type OtoOutput struct {
	ctx     *oto.Context
	player  *oto.Player
	source  atomic.Pointer[func() (int16, int16)]
	started bool
	mutex   sync.Mutex
}

func NewOtoOutput(sampleRate int) (*OtoOutput, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   4,
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-ready

	oo := &OtoOutput{ctx: ctx}
	oo.player = ctx.NewPlayer(oo)
	return oo, nil
}

func (oo *OtoOutput) SetSampleSource(fn func() (int16, int16)) {
	oo.source.Store(&fn)
}

// Read implements io.Reader for oto's pull model: each call fills p with
// interleaved little-endian (L,R) int16 frames drawn from the SPU mixer.
func (oo *OtoOutput) Read(p []byte) (n int, err error) {
	srcPtr := oo.source.Load()
	if srcPtr == nil {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	src := *srcPtr

	frames := len(p) / 4
	for i := 0; i < frames; i++ {
		l, r := src()
		o := i * 4
		p[o+0] = byte(l)
		p[o+1] = byte(l >> 8)
		p[o+2] = byte(r)
		p[o+3] = byte(r >> 8)
	}
	return frames * 4, nil
}

func (oo *OtoOutput) Start() error {
	oo.mutex.Lock()
	defer oo.mutex.Unlock()
	if !oo.started {
		oo.player.Play()
		oo.started = true
	}
	return nil
}

func (oo *OtoOutput) Stop() error {
	oo.mutex.Lock()
	defer oo.mutex.Unlock()
	if oo.started {
		oo.player.Pause()
		oo.started = false
	}
	return nil
}

func (oo *OtoOutput) Close() error {
	oo.Stop()
	oo.mutex.Lock()
	defer oo.mutex.Unlock()
	return oo.player.Close()
}

func (oo *OtoOutput) IsStarted() bool {
	oo.mutex.Lock()
	defer oo.mutex.Unlock()
	return oo.started
}
