package session

import (
	"errors"
	"time"

	"github.com/MrCodeEU/facegate/pkg/camera"
	"github.com/MrCodeEU/facegate/pkg/recognition"
)

// fakeClock advances only when slept on.
type fakeClock struct {
	now    time.Time
	sleeps int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps++
	c.now = c.now.Add(d)
}

// fakeEnv is a gate.Environment with fixed answers.
type fakeEnv struct {
	vars   map[string]string
	closed bool
}

func (e fakeEnv) LookupEnv(key string) (string, bool) {
	v, ok := e.vars[key]
	return v, ok
}

func (e fakeEnv) LidClosed() bool { return e.closed }

// MockSource is a camera.Source whose reads are scripted.
type MockSource struct {
	ReadFrameFunc func() (*camera.Frame, error)
	closes        int
	reads         int
}

func (m *MockSource) ReadFrame() (*camera.Frame, error) {
	m.reads++
	if m.ReadFrameFunc != nil {
		return m.ReadFrameFunc()
	}
	return &camera.Frame{Data: []byte{0xff, 0xd8}}, nil
}

func (m *MockSource) Close() error {
	m.closes++
	return nil
}

// MockOpener hands out a single MockSource.
type MockOpener struct {
	Source  *MockSource
	OpenErr error
	opened  int
	device  int
}

func (m *MockOpener) Open(device int) (camera.Source, error) {
	m.opened++
	m.device = device
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	if m.Source == nil {
		m.Source = &MockSource{}
	}
	return m.Source, nil
}

// scriptedRecognizer returns one entry of ticks per call and nothing once the
// script runs out. onCall runs before each result is returned.
type scriptedRecognizer struct {
	ticks  [][]recognition.Descriptor
	errs   []error
	calls  int
	onCall func()
}

func (r *scriptedRecognizer) Templates([]byte) ([]recognition.Descriptor, error) {
	i := r.calls
	r.calls++
	if r.onCall != nil {
		r.onCall()
	}
	if i < len(r.errs) && r.errs[i] != nil {
		return nil, r.errs[i]
	}
	if i < len(r.ticks) {
		return r.ticks[i], nil
	}
	return nil, nil
}

type message struct {
	text     string
	severity Severity
}

// recordingConversation keeps every message sent.
type recordingConversation struct {
	messages []message
	err      error
}

func (c *recordingConversation) Send(msg string, severity Severity) error {
	c.messages = append(c.messages, message{msg, severity})
	return c.err
}

var errMockDelivery = errors.New("conversation closed")

// vec returns a descriptor at the given offset along the first axis.
func vec(x float32) recognition.Descriptor {
	var d recognition.Descriptor
	d[0] = x
	return d
}
