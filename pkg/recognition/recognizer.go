// Package recognition turns camera frames into face descriptors.
// It uses dlib via go-face for detection, landmark extraction and encoding.
package recognition

import (
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/MrCodeEU/facegate/pkg/logging"
)

// Descriptor is a 128-dimensional face descriptor from dlib.
type Descriptor = face.Descriptor

// Region is a detected face location. Engines that compute the descriptor
// while detecting attach it, so Encode does not run the network twice.
type Region struct {
	Rect       image.Rectangle
	Descriptor *Descriptor
}

// ModelFiles are the dlib model files that must be present in the model directory.
var ModelFiles = []string{
	"shape_predictor_5_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
	"mmod_human_face_detector.dat",
}

// ErrNoFaceDetected is returned when a region cannot be found in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// ErrModelMissing is returned when a model file is absent from the model directory.
var ErrModelMissing = errors.New("recognition model file missing")

// FaceEngine is the subset of *face.Recognizer used here.
type FaceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	RecognizeCNN(imgData []byte) ([]face.Face, error)
	Close()
}

// DlibRecognizer implements detection and encoding using dlib via go-face.
type DlibRecognizer struct {
	engine    FaceEngine
	factory   func(path string) (FaceEngine, error)
	modelPath string
	loaded    bool
	mu        sync.RWMutex
}

// NewRecognizer creates a new DlibRecognizer instance.
func NewRecognizer() *DlibRecognizer {
	return &DlibRecognizer{
		factory: func(path string) (FaceEngine, error) {
			return face.NewRecognizer(path)
		},
	}
}

// VerifyModels checks that every file in ModelFiles exists under modelPath.
func VerifyModels(modelPath string) error {
	for _, name := range ModelFiles {
		if _, err := os.Stat(filepath.Join(modelPath, name)); err != nil {
			return fmt.Errorf("%w: %s in %s", ErrModelMissing, name, modelPath)
		}
	}
	return nil
}

// LoadModels loads the dlib models from the specified path.
func (r *DlibRecognizer) LoadModels(modelPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return nil
	}

	logging.Infof("Loading face recognition models from: %s", modelPath)

	engine, err := r.factory(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	r.engine = engine
	r.modelPath = modelPath
	r.loaded = true

	logging.Debugf("Face recognition models loaded")
	return nil
}

// IsLoaded returns true if models are loaded.
func (r *DlibRecognizer) IsLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Close releases the recognizer resources.
func (r *DlibRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine != nil {
		r.engine.Close()
		r.engine = nil
	}
	r.loaded = false
	return nil
}

// detect runs the HOG or CNN detector and converts the results to regions.
func (r *DlibRecognizer) detect(imageData []byte, mode Mode) ([]Region, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.loaded {
		return nil, ErrModelNotLoaded
	}

	var (
		faces []face.Face
		err   error
	)
	if mode == ModeAccurate {
		faces, err = r.engine.RecognizeCNN(imageData)
	} else {
		faces, err = r.engine.Recognize(imageData)
	}
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	regions := make([]Region, len(faces))
	for i, f := range faces {
		d := f.Descriptor
		regions[i] = Region{Rect: f.Rectangle, Descriptor: &d}
	}
	return regions, nil
}

// Encode returns the descriptor of the face in region. A region detected by
// this recognizer already carries it; otherwise the image is recognized again
// and the face with the same bounding box is used.
func (r *DlibRecognizer) Encode(imageData []byte, region Region) (Descriptor, error) {
	if region.Descriptor != nil {
		return *region.Descriptor, nil
	}

	regions, err := r.detect(imageData, ModeFast)
	if err != nil {
		return Descriptor{}, err
	}
	for _, candidate := range regions {
		if candidate.Rect == region.Rect {
			return *candidate.Descriptor, nil
		}
	}
	return Descriptor{}, ErrNoFaceDetected
}

// EuclideanDistance calculates the Euclidean distance between two descriptors.
func EuclideanDistance(d1, d2 Descriptor) float64 {
	var sum float64
	for i := range d1 {
		diff := float64(d1[i] - d2[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
