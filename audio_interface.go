// audio_interface.go - host audio sink contract
//
// License: GPLv3 or later

package main

import "fmt"

// AudioError mirrors VideoError's shape for the audio side.
type AudioError struct {
	Operation string
	Details   string
	Err       error
}

func (e *AudioError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio %s failed: %s: %v", e.Operation, e.Details, e.Err)
	}
	return fmt.Sprintf("audio %s failed: %s", e.Operation, e.Details)
}

// AudioOutput is implemented by every host audio backend. The SPU's mixer
// (spu.go) produces interleaved stereo int16 pairs at 48kHz; a backend's
// SampleSource is polled for each frame the host's audio device demands.
type AudioOutput interface {
	Start() error
	Stop() error
	Close() error
	IsStarted() bool

	SetSampleSource(func() (int16, int16))
}

const (
	AUDIO_BACKEND_OTO = iota
	AUDIO_BACKEND_HEADLESS
)

func NewAudioOutput(backend int, sampleRate int) (AudioOutput, error) {
	switch backend {
	case AUDIO_BACKEND_OTO:
		return NewOtoOutput(sampleRate)
	case AUDIO_BACKEND_HEADLESS:
		return NewHeadlessAudioOutput(), nil
	}
	return nil, &AudioError{
		Operation: "backend creation",
		Details:   fmt.Sprintf("unknown backend type: %d", backend),
	}
}
