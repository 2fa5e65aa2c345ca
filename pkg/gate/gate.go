// Package gate decides whether an authentication attempt may touch the camera.
package gate

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/MrCodeEU/facegate/pkg/config"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/storage"
)

// Reason is why an attempt was aborted before capture.
type Reason int

const (
	// Open means no gate fired.
	Open Reason = iota
	ServiceDisabled
	RemoteSessionIgnored
	LidClosed
	NoEnrolledTemplates
)

func (r Reason) String() string {
	switch r {
	case Open:
		return "open"
	case ServiceDisabled:
		return "service disabled"
	case RemoteSessionIgnored:
		return "remote session ignored"
	case LidClosed:
		return "lid closed"
	case NoEnrolledTemplates:
		return "no enrolled templates"
	default:
		return "unknown"
	}
}

// RemoteSessionMarkers are the environment variables set inside SSH sessions.
var RemoteSessionMarkers = []string{"SSH_CONNECTION", "SSH_CLIENT", "SSHD_OPTS"}

// DefaultLidStateGlob matches the ACPI lid state files.
const DefaultLidStateGlob = "/proc/acpi/button/lid/*/state"

// Environment is the ambient state the gates look at.
type Environment interface {
	LookupEnv(key string) (string, bool)
	LidClosed() bool
}

// SystemEnvironment reads the process environment and ACPI lid state.
type SystemEnvironment struct {
	LidStateGlob string
}

// LookupEnv implements Environment.
func (SystemEnvironment) LookupEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}

// LidClosed reports whether any lid state file says "closed". A machine
// without a lid, or with unreadable state, counts as open.
func (e SystemEnvironment) LidClosed() bool {
	pattern := e.LidStateGlob
	if pattern == "" {
		pattern = DefaultLidStateGlob
	}

	paths, err := filepath.Glob(pattern)
	if err != nil {
		return false
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			logging.Component("gate").WithError(err).Debugf("Failed to read lid state %s", p)
			continue
		}
		if strings.Contains(string(data), "closed") {
			return true
		}
	}
	return false
}

// Evaluate runs the gates in fixed order and returns the first that fires,
// or Open.
func Evaluate(core config.CoreConfig, env Environment, set *storage.TemplateSet) Reason {
	if core.Disabled {
		return ServiceDisabled
	}

	if core.IgnoreSSH {
		for _, key := range RemoteSessionMarkers {
			if _, ok := env.LookupEnv(key); ok {
				return RemoteSessionIgnored
			}
		}
	}

	if core.IgnoreClosedLid && env.LidClosed() {
		return LidClosed
	}

	if set == nil || set.IsEmpty() {
		return NoEnrolledTemplates
	}

	return Open
}
