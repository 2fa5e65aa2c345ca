package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrCodeEU/facegate/pkg/config"
	"github.com/MrCodeEU/facegate/pkg/session"
)

type MockAuthenticator struct {
	Result session.Result
	user   string
	closed bool
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, user string) session.Result {
	m.user = user
	return m.Result
}

func (m *MockAuthenticator) Close() error {
	m.closed = true
	return nil
}

func writeConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "facegate.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvConfigPath, path)
}

func withAgent(t *testing.T, agent authenticator, err error) {
	t.Helper()
	saved := newAgent
	t.Cleanup(func() { newAgent = saved })
	newAgent = func(*config.Config, session.Conversation) (authenticator, error) {
		return agent, err
	}
}

const testConfig = `
logging:
  level: debug
  file: ""
`

func TestRunAuthentication(t *testing.T) {
	tests := []struct {
		name     string
		result   session.Result
		expected int
	}{
		{
			name:     "Success",
			result:   session.Result{State: session.Accepted, Code: session.Success},
			expected: 0,
		},
		{
			name:     "NotEnrolled",
			result:   session.Result{State: session.Rejected, Code: session.UserUnknown},
			expected: 2,
		},
		{
			name:     "Timeout",
			result:   session.Result{State: session.Rejected, Code: session.AuthError, Err: session.ErrTimeout},
			expected: 1,
		},
		{
			name:     "CameraError",
			result:   session.Result{State: session.Error, Code: session.AuthError},
			expected: 1,
		},
		{
			name:     "Disabled",
			result:   session.Result{State: session.Unavailable, Code: session.AuthInfoUnavailable},
			expected: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeConfig(t, testConfig)
			mock := &MockAuthenticator{Result: tt.result}
			withAgent(t, mock, nil)

			var out, errOut bytes.Buffer
			code := runAuthentication(context.Background(), "alice", &out, &errOut)

			if code != tt.expected {
				t.Errorf("expected exit code %d, got %d", tt.expected, code)
			}
			if mock.user != "alice" {
				t.Errorf("expected user alice, got %q", mock.user)
			}
			if !mock.closed {
				t.Error("agent not closed")
			}
			if errOut.Len() != 0 {
				t.Errorf("unexpected stderr output %q", errOut.String())
			}
		})
	}
}

func TestRunAuthentication_MissingConfig(t *testing.T) {
	t.Setenv(config.EnvConfigPath, filepath.Join(t.TempDir(), "absent.yaml"))
	withAgent(t, &MockAuthenticator{}, nil)

	var out, errOut bytes.Buffer
	if code := runAuthentication(context.Background(), "alice", &out, &errOut); code != 4 {
		t.Errorf("expected exit code 4, got %d", code)
	}
	if !strings.Contains(errOut.String(), "configuration error") {
		t.Errorf("unexpected stderr %q", errOut.String())
	}
}

func TestRunAuthentication_MalformedConfig(t *testing.T) {
	writeConfig(t, "video: [not a map")
	withAgent(t, &MockAuthenticator{}, nil)

	var out, errOut bytes.Buffer
	if code := runAuthentication(context.Background(), "alice", &out, &errOut); code != 4 {
		t.Errorf("expected exit code 4, got %d", code)
	}
}

func TestRunAuthentication_AgentFailure(t *testing.T) {
	writeConfig(t, testConfig)
	withAgent(t, nil, errors.New("models missing"))

	var out, errOut bytes.Buffer
	if code := runAuthentication(context.Background(), "alice", &out, &errOut); code != 4 {
		t.Errorf("expected exit code 4, got %d", code)
	}
}

func TestPamUser(t *testing.T) {
	t.Setenv("PAM_USER", "carol")
	if got := pamUser(); got != "carol" {
		t.Errorf("expected carol, got %q", got)
	}
}
