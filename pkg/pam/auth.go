// Package pam provides PAM (Pluggable Authentication Modules) integration.
// It wires the configured store, camera and recognizer into one session per
// authentication attempt and maps the outcome onto pam_exec exit codes.
package pam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MrCodeEU/facegate/pkg/camera"
	"github.com/MrCodeEU/facegate/pkg/config"
	"github.com/MrCodeEU/facegate/pkg/gate"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/recognition"
	"github.com/MrCodeEU/facegate/pkg/session"
	"github.com/MrCodeEU/facegate/pkg/storage"
)

// Exit codes returned to pam_exec.
const (
	ExitSuccess             = 0
	ExitAuthError           = 1
	ExitUserUnknown         = 2
	ExitAuthInfoUnavailable = 3
	// ExitSystemError is used when the agent cannot start at all.
	ExitSystemError = 4
)

// ExitCode maps a session outcome to its exit status.
func ExitCode(code session.Code) int {
	switch code {
	case session.Success:
		return ExitSuccess
	case session.UserUnknown:
		return ExitUserUnknown
	case session.AuthInfoUnavailable:
		return ExitAuthInfoUnavailable
	default:
		return ExitAuthError
	}
}

// WriterConversation writes advisory messages one per line. pam_exec shows
// them to the user when run with the stdout option.
type WriterConversation struct {
	W io.Writer
}

// Send implements session.Conversation.
func (c WriterConversation) Send(msg string, severity session.Severity) error {
	_, err := fmt.Fprintln(c.W, msg)
	return err
}

// Store loads and saves template sets.
type Store interface {
	Load(user string) (*storage.TemplateSet, error)
	Save(set *storage.TemplateSet) error
}

// Components are the long-lived parts an Agent hands to each session.
type Components struct {
	Store       Store
	Recognizer  session.Recognizer
	Camera      camera.Opener
	Environment gate.Environment
	Clock       session.Clock
	// Closer releases the recognizer, if it holds native resources.
	Closer io.Closer
}

// Agent authenticates users against their enrolled templates.
type Agent struct {
	cfg  *config.Config
	conv session.Conversation
	comp Components
}

// New returns an Agent over the given components.
func New(cfg *config.Config, conv session.Conversation, comp Components) *Agent {
	return &Agent{cfg: cfg, conv: conv, comp: comp}
}

// BuildComponents opens the file store and loads the dlib recognizer and
// OpenCV camera described by cfg. Missing model files are reported here,
// before any attempt is made.
func BuildComponents(cfg *config.Config) (Components, error) {
	store, err := storage.NewFileStore(cfg.TemplateDir(), cfg.Storage.EncryptionEnabled)
	if err != nil {
		return Components{}, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := recognition.VerifyModels(cfg.Recognition.ModelPath); err != nil {
		return Components{}, err
	}
	rec := recognition.NewRecognizer()
	if err := rec.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return Components{}, fmt.Errorf("failed to load recognition models: %w", err)
	}
	detector := recognition.NewDetector(rec, cfg.Core.UseCNN)
	logging.Component("pam").Debugf("Using %s detector", detector.Mode())

	return Components{
		Store:       store,
		Recognizer:  recognition.NewPipeline(detector, rec),
		Camera:      camera.DeviceOpener{MaxHeight: cfg.Video.MaxHeight},
		Environment: gate.SystemEnvironment{},
		Closer:      rec,
	}, nil
}

// NewAgent builds an Agent from BuildComponents.
func NewAgent(cfg *config.Config, conv session.Conversation) (*Agent, error) {
	comp, err := BuildComponents(cfg)
	if err != nil {
		return nil, err
	}
	return New(cfg, conv, comp), nil
}

// Close releases the recognizer.
func (a *Agent) Close() error {
	if a.comp.Closer != nil {
		return a.comp.Closer.Close()
	}
	return nil
}

// Authenticate runs one attempt for user.
func (a *Agent) Authenticate(ctx context.Context, user string) session.Result {
	log := logging.Component("pam").WithField("user", user)

	if strings.TrimSpace(user) == "" {
		log.Warn("No user to authenticate")
		return session.Result{State: session.Rejected, Code: session.UserUnknown, Err: storage.ErrInvalidUser}
	}

	set, err := a.comp.Store.Load(user)
	if err != nil {
		log.WithError(err).Error("Failed to load templates")
		if errors.Is(err, storage.ErrInvalidUser) {
			return session.Result{State: session.Rejected, Code: session.UserUnknown, Err: err}
		}
		return session.Result{State: session.Error, Code: session.AuthError, Err: err}
	}

	ctrl := session.NewController(a.cfg, set, session.Dependencies{
		Environment:  a.comp.Environment,
		Camera:       a.comp.Camera,
		Recognizer:   a.comp.Recognizer,
		Conversation: a.conv,
		Clock:        a.comp.Clock,
	})
	res := ctrl.Authenticate(ctx)

	entry := log.WithField("elapsed", res.Elapsed)
	switch res.State {
	case session.Accepted:
		entry.Info("Authentication successful")
	case session.Unavailable:
		entry.Infof("Authentication skipped: %s", res.Reason)
	default:
		entry.WithError(res.Err).Warnf("Authentication failed: %s", res.State)
	}
	return res
}
