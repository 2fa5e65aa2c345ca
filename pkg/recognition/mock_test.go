package recognition

import (
	"github.com/Kagami/go-face"
)

type MockFaceEngine struct {
	RecognizeFunc    func(data []byte) ([]face.Face, error)
	RecognizeCNNFunc func(data []byte) ([]face.Face, error)
	CloseFunc        func()
}

func (m *MockFaceEngine) Recognize(data []byte) ([]face.Face, error) {
	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(data)
	}
	return nil, nil
}

func (m *MockFaceEngine) RecognizeCNN(data []byte) ([]face.Face, error) {
	if m.RecognizeCNNFunc != nil {
		return m.RecognizeCNNFunc(data)
	}
	return nil, nil
}

func (m *MockFaceEngine) Close() {
	if m.CloseFunc != nil {
		m.CloseFunc()
	}
}

func loadedRecognizer(engine *MockFaceEngine) *DlibRecognizer {
	r := NewRecognizer()
	r.factory = func(path string) (FaceEngine, error) {
		return engine, nil
	}
	_ = r.LoadModels("dummy")
	return r
}

type stubDetector struct {
	regions []Region
	err     error
}

func (s stubDetector) DetectFaces([]byte) ([]Region, error) { return s.regions, s.err }
func (s stubDetector) Mode() Mode { return ModeFast }

type stubEncoder struct {
	encode func(region Region) (Descriptor, error)
}

func (s stubEncoder) Encode(_ []byte, region Region) (Descriptor, error) {
	return s.encode(region)
}
