// Package camera provides camera access and frame capture functionality.
// Frames are read through OpenCV, scaled down to a maximum height and handed
// out JPEG-encoded, which is what the recognizer consumes.
package camera

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/MrCodeEU/facegate/pkg/logging"
	"gocv.io/x/gocv"
)

// Frame represents a single camera frame.
type Frame struct {
	Data      []byte // JPEG
	Width     int
	Height    int
	Timestamp time.Time
}

// Source delivers frames from an opened capture device.
type Source interface {
	// ReadFrame returns the next frame. ErrNoFrame means nothing was available
	// this time; callers may simply try again.
	ReadFrame() (*Frame, error)
	Close() error
}

// Opener opens a capture device by index.
type Opener interface {
	Open(device int) (Source, error)
}

// ErrDeviceOpen is returned when the capture device cannot be opened.
var ErrDeviceOpen = errors.New("failed to open camera device")

// ErrCameraNotOpen is returned when trying to capture from a closed camera.
var ErrCameraNotOpen = errors.New("camera not open")

// ErrNoFrame is returned when no frame could be captured.
var ErrNoFrame = errors.New("failed to capture frame")

// DeviceOpener opens V4L2 devices through OpenCV.
type DeviceOpener struct {
	// MaxHeight bounds the height of delivered frames; 0 disables scaling.
	MaxHeight int
}

// Open implements Opener.
func (o DeviceOpener) Open(device int) (Source, error) {
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w %d: %v", ErrDeviceOpen, device, err)
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return nil, fmt.Errorf("%w %d", ErrDeviceOpen, device)
	}

	logging.Component("camera").Debugf("Opened capture device %d", device)
	return &Device{
		capture:   capture,
		frame:     gocv.NewMat(),
		device:    device,
		maxHeight: o.MaxHeight,
	}, nil
}

// Device is an open OpenCV capture device.
type Device struct {
	mu        sync.Mutex
	capture   *gocv.VideoCapture
	frame     gocv.Mat
	device    int
	maxHeight int
	closed    bool
}

// ReadFrame implements Source.
func (d *Device) ReadFrame() (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrCameraNotOpen
	}
	if ok := d.capture.Read(&d.frame); !ok || d.frame.Empty() {
		return nil, ErrNoFrame
	}

	img := d.frame
	width, height := ScaledSize(img.Cols(), img.Rows(), d.maxHeight)
	if height != img.Rows() {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(d.frame, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationArea)
		img = resized
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrNoFrame, err)
	}
	defer buf.Close()

	return &Frame{
		Data:      append([]byte(nil), buf.GetBytes()...),
		Width:     width,
		Height:    height,
		Timestamp: time.Now(),
	}, nil
}

// Close releases the capture device. It is safe to call more than once.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	_ = d.frame.Close()
	logging.Component("camera").Debugf("Closed capture device %d", d.device)
	return d.capture.Close()
}

// ScaledSize returns the frame size after scaling down to maxHeight while
// keeping the aspect ratio. Frames already small enough are left alone.
func ScaledSize(width, height, maxHeight int) (int, int) {
	if maxHeight <= 0 || height <= maxHeight || height == 0 {
		return width, height
	}
	return width * maxHeight / height, maxHeight
}
