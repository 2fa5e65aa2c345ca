package recognition

import (
	"fmt"

	"github.com/MrCodeEU/facegate/pkg/logging"
)

// Mode selects the face detector.
type Mode int

const (
	// ModeFast uses the HOG detector.
	ModeFast Mode = iota
	// ModeAccurate uses the heavier CNN (MMOD) detector.
	ModeAccurate
)

func (m Mode) String() string {
	if m == ModeAccurate {
		return "accurate"
	}
	return "fast"
}

// Detector locates faces in an encoded image.
type Detector interface {
	DetectFaces(imageData []byte) ([]Region, error)
	Mode() Mode
}

// Encoder turns one detected region into a descriptor.
type Encoder interface {
	Encode(imageData []byte, region Region) (Descriptor, error)
}

// FastDetector detects faces with the HOG detector.
type FastDetector struct {
	rec *DlibRecognizer
}

// DetectFaces implements Detector.
func (d FastDetector) DetectFaces(imageData []byte) ([]Region, error) {
	return d.rec.detect(imageData, ModeFast)
}

// Mode implements Detector.
func (FastDetector) Mode() Mode { return ModeFast }

// AccurateDetector detects faces with the CNN detector.
type AccurateDetector struct {
	rec *DlibRecognizer
}

// DetectFaces implements Detector.
func (d AccurateDetector) DetectFaces(imageData []byte) ([]Region, error) {
	return d.rec.detect(imageData, ModeAccurate)
}

// Mode implements Detector.
func (AccurateDetector) Mode() Mode { return ModeAccurate }

// NewDetector picks the detector variant once, from configuration.
func NewDetector(rec *DlibRecognizer, useCNN bool) Detector {
	if useCNN {
		return AccurateDetector{rec: rec}
	}
	return FastDetector{rec: rec}
}

// Pipeline runs detection followed by encoding for every found face.
type Pipeline struct {
	detector Detector
	encoder  Encoder
}

// NewPipeline creates a Pipeline.
func NewPipeline(detector Detector, encoder Encoder) *Pipeline {
	return &Pipeline{detector: detector, encoder: encoder}
}

// Templates returns one descriptor per face found in imageData, in detection
// order. A frame without faces yields an empty slice and no error.
func (p *Pipeline) Templates(imageData []byte) ([]Descriptor, error) {
	regions, err := p.detector.DetectFaces(imageData)
	if err != nil {
		return nil, err
	}

	descriptors := make([]Descriptor, 0, len(regions))
	for i, region := range regions {
		d, err := p.encoder.Encode(imageData, region)
		if err != nil {
			return nil, fmt.Errorf("encode face %d: %w", i, err)
		}
		descriptors = append(descriptors, d)
	}

	if len(descriptors) > 0 {
		logging.Debugf("Detected %d face(s) using %s detector", len(descriptors), p.detector.Mode())
	}
	return descriptors, nil
}
