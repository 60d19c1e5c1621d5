// camera_interface.go - host webcam source contract
//
// License: GPLv3 or later

package main

import "fmt"

// CameraError mirrors VideoError/AudioError's shape for the camera side.
type CameraError struct {
	Operation string
	Details   string
	Err       error
}

func (e *CameraError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("camera %s failed: %s: %v", e.Operation, e.Details, e.Err)
	}
	return fmt.Sprintf("camera %s failed: %s", e.Operation, e.Details)
}

// CameraSource is implemented by every host webcam backend. CaptureFrame is
// called from the camera worker goroutine (camera.go), never from the
// scheduler thread, and must return exactly width*height*3 bytes of RGB24
// (spec.md §1's "Host V4L-style webcam source ... produces RGB24 frames").
type CameraSource interface {
	Start() error
	Stop() error
	Close() error
	IsStarted() bool

	CaptureFrame(width, height int) ([]byte, error)
}

const (
	CAMERA_BACKEND_HEADLESS = iota
)

// NewCameraSource only has a headless backend in this tree: a real
// V4L-style webcam grabber is one of spec.md §1's "deliberately out of
// scope" external collaborators. CAMERA_BACKEND_HEADLESS produces a
// synthetic but deterministic RGB24 pattern so the capture pipeline,
// worker handshake, and frame-end IRQ can be exercised without real
// hardware.
func NewCameraSource(backend int) (CameraSource, error) {
	switch backend {
	case CAMERA_BACKEND_HEADLESS:
		return NewHeadlessCameraSource(), nil
	}
	return nil, &CameraError{
		Operation: "backend creation",
		Details:   fmt.Sprintf("unknown backend type: %d", backend),
	}
}
