// audio_backend_headless.go - no-op audio sink for headless runs
//
// License: GPLv3 or later

package main

type HeadlessAudioOutput struct {
	started bool
	source  func() (int16, int16)
}

func NewHeadlessAudioOutput() *HeadlessAudioOutput { return &HeadlessAudioOutput{} }

func (ho *HeadlessAudioOutput) SetSampleSource(fn func() (int16, int16)) { ho.source = fn }

func (ho *HeadlessAudioOutput) Start() error  { ho.started = true; return nil }
func (ho *HeadlessAudioOutput) Stop() error   { ho.started = false; return nil }
func (ho *HeadlessAudioOutput) Close() error  { ho.started = false; return nil }
func (ho *HeadlessAudioOutput) IsStarted() bool { return ho.started }
