// video_backend_headless.go - no-op video sink for tests and CI
//
// License: GPLv3 or later

package main

import "sync/atomic"

type HeadlessOutput struct {
	started    bool
	config     DisplayConfig
	frameCount uint64
}

func NewHeadlessOutput() *HeadlessOutput {
	return &HeadlessOutput{}
}

func (h *HeadlessOutput) Start() error    { h.started = true; return nil }
func (h *HeadlessOutput) Stop() error     { h.started = false; return nil }
func (h *HeadlessOutput) Close() error    { h.started = false; return nil }
func (h *HeadlessOutput) IsStarted() bool { return h.started }

func (h *HeadlessOutput) SetDisplayConfig(config DisplayConfig) error {
	h.config = config
	return nil
}

func (h *HeadlessOutput) GetDisplayConfig() DisplayConfig { return h.config }

func (h *HeadlessOutput) UpdateFrame(buffer []byte) error {
	atomic.AddUint64(&h.frameCount, 1)
	return nil
}

func (h *HeadlessOutput) GetFrameCount() uint64 {
	return atomic.LoadUint64(&h.frameCount)
}
