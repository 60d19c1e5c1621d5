// video_backend_ebiten.go - ebiten-backed host video sink
//
// Adapted from the teacher's EbitenOutput: the text-terminal keyboard
// translation and clipboard paste path are dropped (no terminal emulator
// surface exists in this domain) in favour of a plain pressed/released key
// callback feeding the gamepad button-bit mapping described in spec.md §1.
// The fixed 640x480 RGB565-to-RGBA conversion on every frame is new: the
// PPU always hands this backend a fully-composited 640x480 RGB565 buffer
// (spec.md §4.8), so there is no variable-format path to keep.
//
// License: GPLv3 or later

package main

import (
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
)

const (
	ppuWidth  = 640
	ppuHeight = 480
)

type EbitenOutput struct {
	running     bool
	window      *ebiten.Image
	scale       int
	fullscreen  bool
	rgb565      []byte
	rgba        []byte
	bufferMutex sync.RWMutex
	frameCount  uint64
	keyHandler  func(key byte, pressed bool)
}

func NewEbitenOutput() (VideoOutput, error) {
	return &EbitenOutput{
		scale:  1,
		rgb565: make([]byte, ppuWidth*ppuHeight*2),
		rgba:   make([]byte, ppuWidth*ppuHeight*4),
	}, nil
}

func (eo *EbitenOutput) Start() error {
	if eo.running {
		return nil
	}
	eo.running = true
	ebiten.SetWindowSize(ppuWidth*eo.scale, ppuHeight*eo.scale)
	ebiten.SetWindowTitle("SPG293")
	ebiten.SetWindowResizable(true)
	ebiten.SetRunnableOnUnfocused(true)
	ebiten.SetVsyncEnabled(true)
	if eo.fullscreen {
		ebiten.SetFullscreen(true)
	}
	go ebiten.RunGame(eo)
	return nil
}

func (eo *EbitenOutput) Stop() error  { eo.running = false; return nil }
func (eo *EbitenOutput) Close() error { return eo.Stop() }
func (eo *EbitenOutput) IsStarted() bool { return eo.running }

// UpdateFrame accepts one 640x480 RGB565 buffer, per spec.md §4.8, and
// expands it to RGBA for ebiten's image.
func (eo *EbitenOutput) UpdateFrame(rgb565 []byte) error {
	eo.bufferMutex.Lock()
	defer eo.bufferMutex.Unlock()
	copy(eo.rgb565, rgb565)
	for i := 0; i+1 < len(eo.rgb565); i += 2 {
		px := uint16(eo.rgb565[i]) | uint16(eo.rgb565[i+1])<<8
		r := uint8((px>>11)&0x1F) << 3
		g := uint8((px>>5)&0x3F) << 2
		b := uint8(px&0x1F) << 3
		o := i * 2
		eo.rgba[o], eo.rgba[o+1], eo.rgba[o+2], eo.rgba[o+3] = r, g, b, 0xFF
	}
	return nil
}

func (eo *EbitenOutput) SetDisplayConfig(config DisplayConfig) error {
	eo.bufferMutex.Lock()
	defer eo.bufferMutex.Unlock()
	eo.scale = ClampScale(config.Scale)
	eo.fullscreen = config.Fullscreen
	ebiten.SetFullscreen(eo.fullscreen)
	if !eo.fullscreen {
		ebiten.SetWindowSize(ppuWidth*eo.scale, ppuHeight*eo.scale)
	}
	return nil
}

func (eo *EbitenOutput) GetDisplayConfig() DisplayConfig {
	return DisplayConfig{Width: ppuWidth, Height: ppuHeight, Scale: eo.scale, Fullscreen: eo.fullscreen}
}

func (eo *EbitenOutput) GetFrameCount() uint64 { return eo.frameCount }

func (eo *EbitenOutput) SetKeyHandler(fn func(key byte, pressed bool)) {
	eo.bufferMutex.Lock()
	eo.keyHandler = fn
	eo.bufferMutex.Unlock()
}

// gamepadKeys maps host keyboard keys to the firmware's button-bit vector,
// one byte code per button; the mapping table itself lives with the gamepad
// emulator (deliberately out of scope per spec.md §1), this backend only
// forwards raw press/release events for whichever keys it is told matter.
var gamepadKeys = []ebiten.Key{
	ebiten.KeyArrowUp, ebiten.KeyArrowDown, ebiten.KeyArrowLeft, ebiten.KeyArrowRight,
	ebiten.KeyZ, ebiten.KeyX, ebiten.KeyEnter, ebiten.KeyShiftLeft,
}

func (eo *EbitenOutput) Update() error {
	if ebiten.IsWindowBeingClosed() || !eo.running {
		return ebiten.Termination
	}
	eo.bufferMutex.RLock()
	handler := eo.keyHandler
	eo.bufferMutex.RUnlock()
	if handler == nil {
		return nil
	}
	for _, k := range gamepadKeys {
		if ebiten.IsKeyPressed(k) {
			handler(byte(k), true)
		} else {
			handler(byte(k), false)
		}
	}
	return nil
}

func (eo *EbitenOutput) Draw(screen *ebiten.Image) {
	if eo.window == nil {
		eo.window = ebiten.NewImage(ppuWidth, ppuHeight)
	}
	eo.bufferMutex.RLock()
	eo.window.WritePixels(eo.rgba)
	eo.bufferMutex.RUnlock()
	screen.DrawImage(eo.window, nil)
	eo.frameCount++
}

func (eo *EbitenOutput) Layout(_, _ int) (int, int) {
	return ppuWidth, ppuHeight
}
