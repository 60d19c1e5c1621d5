// camera_backend_headless.go - synthetic webcam source for tests and CI
//
// License: GPLv3 or later

package main

import "sync/atomic"

// HeadlessCameraSource stands in for a V4L-style webcam: each capture
// produces a horizontal grey ramp so tests can tell frames apart without a
// real camera driver.
type HeadlessCameraSource struct {
	started    bool
	frameCount uint64
}

func NewHeadlessCameraSource() *HeadlessCameraSource { return &HeadlessCameraSource{} }

func (h *HeadlessCameraSource) Start() error    { h.started = true; return nil }
func (h *HeadlessCameraSource) Stop() error     { h.started = false; return nil }
func (h *HeadlessCameraSource) Close() error    { h.started = false; return nil }
func (h *HeadlessCameraSource) IsStarted() bool { return h.started }

func (h *HeadlessCameraSource) CaptureFrame(width, height int) ([]byte, error) {
	n := atomic.AddUint64(&h.frameCount, 1)
	buf := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := byte((x*256/width + int(n)) & 0xFF)
			o := (y*width + x) * 3
			buf[o+0] = v
			buf[o+1] = v
			buf[o+2] = v
		}
	}
	return buf, nil
}
