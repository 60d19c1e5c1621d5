// video_interface.go - host video sink contract
//
// License: GPLv3 or later

package main

import "fmt"

// VideoError provides detailed error context for video operations.
type VideoError struct {
	Operation string
	Details   string
	Err       error
}

func (e *VideoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("video %s failed: %s: %v", e.Operation, e.Details, e.Err)
	}
	return fmt.Sprintf("video %s failed: %s", e.Operation, e.Details)
}

// DisplayConfig is the hardware-independent presentation configuration: the
// PPU always composites at 640x480 RGB565 (spec.md §4.8); Scale controls
// the host window's integer magnification of that fixed surface.
type DisplayConfig struct {
	Width       int
	Height      int
	Scale       int
	Fullscreen  bool
}

func ClampScale(s int) int {
	if s < 1 {
		return 1
	}
	if s > 4 {
		return 4
	}
	return s
}

// VideoOutput is implemented by every host presentation backend. UpdateFrame
// takes one 640x480 RGB565 buffer per PPU render() call (spec.md §4.8).
type VideoOutput interface {
	Start() error
	Stop() error
	Close() error
	IsStarted() bool

	SetDisplayConfig(config DisplayConfig) error
	GetDisplayConfig() DisplayConfig
	UpdateFrame(rgb565 []byte) error

	GetFrameCount() uint64
}

// KeyboardInput is implemented by video outputs that forward host key events
// into the gamepad/iGame button-bit mapping (spec.md §1's "deliberately out
// of scope" game-pad mapping collaborator).
type KeyboardInput interface {
	SetKeyHandler(func(key byte, pressed bool))
}

const (
	VIDEO_BACKEND_EBITEN = iota
	VIDEO_BACKEND_HEADLESS
)

func NewVideoOutput(backend int) (VideoOutput, error) {
	switch backend {
	case VIDEO_BACKEND_EBITEN:
		return NewEbitenOutput()
	case VIDEO_BACKEND_HEADLESS:
		return NewHeadlessOutput(), nil
	}
	return nil, &VideoError{
		Operation: "backend creation",
		Details:   fmt.Sprintf("unknown backend type: %d", backend),
	}
}
