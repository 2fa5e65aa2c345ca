package pam

import (
	"time"

	"github.com/MrCodeEU/facegate/pkg/camera"
	"github.com/MrCodeEU/facegate/pkg/recognition"
	"github.com/MrCodeEU/facegate/pkg/storage"
)

// MockStore implements Store for testing
type MockStore struct {
	LoadFunc func(user string) (*storage.TemplateSet, error)
	saves    int
}

func (m *MockStore) Load(user string) (*storage.TemplateSet, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc(user)
	}
	return storage.NewTemplateSet(user), nil
}

func (m *MockStore) Save(*storage.TemplateSet) error {
	m.saves++
	return nil
}

// MockCamera implements camera.Opener and camera.Source for testing
type MockCamera struct {
	OpenFunc      func(device int) error
	ReadFrameFunc func() (*camera.Frame, error)
	opened        int
	closed        int
}

func (m *MockCamera) Open(device int) (camera.Source, error) {
	m.opened++
	if m.OpenFunc != nil {
		if err := m.OpenFunc(device); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MockCamera) ReadFrame() (*camera.Frame, error) {
	if m.ReadFrameFunc != nil {
		return m.ReadFrameFunc()
	}
	return &camera.Frame{Data: []byte{0xff, 0xd8}}, nil
}

func (m *MockCamera) Close() error {
	m.closed++
	return nil
}

// MockRecognizer implements session.Recognizer for testing
type MockRecognizer struct {
	TemplatesFunc func(imageData []byte) ([]recognition.Descriptor, error)
	closed        bool
}

func (m *MockRecognizer) Templates(imageData []byte) ([]recognition.Descriptor, error) {
	if m.TemplatesFunc != nil {
		return m.TemplatesFunc(imageData)
	}
	return nil, nil
}

func (m *MockRecognizer) Close() error {
	m.closed = true
	return nil
}

// MockEnvironment implements gate.Environment for testing
type MockEnvironment struct {
	Vars      map[string]string
	LidIsShut bool
}

func (m MockEnvironment) LookupEnv(key string) (string, bool) {
	v, ok := m.Vars[key]
	return v, ok
}

func (m MockEnvironment) LidClosed() bool { return m.LidIsShut }

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }
