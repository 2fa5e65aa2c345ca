package enroll

import (
	"time"

	"github.com/MrCodeEU/facegate/pkg/camera"
	"github.com/MrCodeEU/facegate/pkg/recognition"
	"github.com/MrCodeEU/facegate/pkg/storage"
)

type fakeClock struct {
	now    time.Time
	sleeps int
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps++
	c.now = c.now.Add(d)
}

// MockStore counts saves and can be told to fail.
type MockStore struct {
	SaveFunc func(set *storage.TemplateSet) error
	saves    int
	saved    []storage.Template
}

func (m *MockStore) Save(set *storage.TemplateSet) error {
	m.saves++
	if m.SaveFunc != nil {
		if err := m.SaveFunc(set); err != nil {
			return err
		}
	}
	m.saved = set.List()
	return nil
}

type MockSource struct {
	ReadFrameFunc func() (*camera.Frame, error)
	closes        int
}

func (m *MockSource) ReadFrame() (*camera.Frame, error) {
	if m.ReadFrameFunc != nil {
		return m.ReadFrameFunc()
	}
	return &camera.Frame{Data: []byte{0xff, 0xd8}}, nil
}

func (m *MockSource) Close() error {
	m.closes++
	return nil
}

type MockOpener struct {
	Source  *MockSource
	OpenErr error
}

func (m *MockOpener) Open(int) (camera.Source, error) {
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	if m.Source == nil {
		m.Source = &MockSource{}
	}
	return m.Source, nil
}

// scriptedRecognizer returns one entry of ticks per call. Past the end of the
// script it calls exhausted, if set, and returns no faces.
type scriptedRecognizer struct {
	ticks     [][]recognition.Descriptor
	calls     int
	exhausted func()
}

func (r *scriptedRecognizer) Templates([]byte) ([]recognition.Descriptor, error) {
	i := r.calls
	r.calls++
	if i < len(r.ticks) {
		return r.ticks[i], nil
	}
	if r.exhausted != nil {
		r.exhausted()
	}
	return nil, nil
}

func vec(x float32) recognition.Descriptor {
	var d recognition.Descriptor
	d[0] = x
	return d
}
