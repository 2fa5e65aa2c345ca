// Package session runs one face authentication attempt: it evaluates the
// gates, polls the camera until a frame yields a known face or the deadline
// passes, and reports the outcome to the host.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrCodeEU/facegate/pkg/camera"
	"github.com/MrCodeEU/facegate/pkg/config"
	"github.com/MrCodeEU/facegate/pkg/gate"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/recognition"
	"github.com/MrCodeEU/facegate/pkg/storage"
	"github.com/sirupsen/logrus"
)

// State is a step of the attempt state machine.
type State int

const (
	Idle State = iota
	Gated
	Capturing
	Accepted
	Rejected
	// Unavailable is the terminal state for gate aborts that say nothing
	// about the user's face.
	Unavailable
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Gated:
		return "gated"
	case Capturing:
		return "capturing"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Unavailable:
		return "unavailable"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the attempt is finished.
func (s State) Terminal() bool {
	return s == Accepted || s == Rejected || s == Unavailable || s == Error
}

// Code is the outcome reported to the host authentication stack.
type Code int

const (
	Success Code = iota
	UserUnknown
	AuthInfoUnavailable
	AuthError
)

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case UserUnknown:
		return "user unknown"
	case AuthInfoUnavailable:
		return "auth info unavailable"
	case AuthError:
		return "auth error"
	default:
		return "unknown"
	}
}

// Severity tags an advisory message.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "info"
}

// Conversation delivers advisory messages to the user through the host.
type Conversation interface {
	Send(msg string, severity Severity) error
}

// Recognizer turns a frame into zero or more candidate descriptors.
type Recognizer interface {
	Templates(imageData []byte) ([]recognition.Descriptor, error)
}

// Advisory messages.
const (
	MsgDetectionNotice = "Attempting face detection"
	MsgNoModel         = "No face model known"
	MsgTimeout         = "Face detection timeout reached"
)

// ErrTimeout is set on a Result rejected because the deadline passed.
var ErrTimeout = errors.New("face detection timeout")

// ErrCancelled is set on a Result when the context ended the attempt.
var ErrCancelled = errors.New("attempt cancelled")

// ErrConversation wraps a failure to deliver a message to the host.
var ErrConversation = errors.New("message delivery failed")

// DefaultTickInterval is used when the configured interval is not positive.
const DefaultTickInterval = 10 * time.Millisecond

// Result is the outcome of one attempt.
type Result struct {
	State   State
	Reason  gate.Reason
	Code    Code
	Elapsed time.Duration
	Ticks   int
	Err     error
}

// Dependencies are the capabilities a Controller drives.
type Dependencies struct {
	Environment  gate.Environment
	Camera       camera.Opener
	Recognizer   Recognizer
	Conversation Conversation
	// Clock defaults to SystemClock.
	Clock Clock
}

// Controller runs a single authentication attempt for one user. It is
// built per attempt and is not safe for concurrent use.
type Controller struct {
	core     config.CoreConfig
	video    config.VideoConfig
	set      *storage.TemplateSet
	matcher  Matcher
	interval time.Duration

	env   gate.Environment
	cam   camera.Opener
	rec   Recognizer
	conv  Conversation
	clock Clock

	state State
}

// NewController snapshots cfg and binds the user's templates to deps.
func NewController(cfg *config.Config, set *storage.TemplateSet, deps Dependencies) *Controller {
	c := &Controller{
		core:     cfg.Core,
		video:    cfg.Video,
		set:      set,
		matcher:  NewMatcher(cfg.Video.Certainty),
		interval: time.Duration(cfg.Video.TickIntervalMs) * time.Millisecond,
		env:      deps.Environment,
		cam:      deps.Camera,
		rec:      deps.Recognizer,
		conv:     deps.Conversation,
		clock:    deps.Clock,
		state:    Idle,
	}
	if c.interval <= 0 {
		c.interval = DefaultTickInterval
	}
	if c.clock == nil {
		c.clock = SystemClock{}
	}
	if c.env == nil {
		c.env = gate.SystemEnvironment{}
	}
	return c
}

// SetDistance replaces the matcher's distance function.
func (c *Controller) SetDistance(fn DistanceFunc) {
	c.matcher.Distance = fn
}

// State returns the current state of the attempt.
func (c *Controller) State() State {
	return c.state
}

// Authenticate runs the attempt to completion. The capture device, when
// opened, is closed before Authenticate returns.
func (c *Controller) Authenticate(ctx context.Context) Result {
	start := c.clock.Now()
	user := ""
	if c.set != nil {
		user = c.set.User
	}
	log := logging.Attempt("session", user)

	c.state = Gated
	if reason := gate.Evaluate(c.core, c.env, c.set); reason != gate.Open {
		return c.abort(reason, start, log)
	}

	if c.core.DetectionNotice {
		if err := c.send(MsgDetectionNotice, SeverityInfo); err != nil {
			return c.finish(Result{State: Error, Code: AuthError, Err: err}, start, log)
		}
	}

	c.state = Capturing
	src, err := c.cam.Open(c.video.Device)
	if err != nil {
		log.WithError(err).Errorf("Failed to open capture device %d", c.video.Device)
		return c.finish(Result{State: Error, Code: AuthError, Err: err}, start, log)
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.WithError(err).Warn("Failed to close capture device")
		}
	}()

	deadline := start.Add(time.Duration(c.video.Timeout) * time.Second)
	ticks := 0
	for {
		if err := ctx.Err(); err != nil {
			return c.finish(Result{
				State: Rejected,
				Code:  AuthError,
				Ticks: ticks,
				Err:   fmt.Errorf("%w: %v", ErrCancelled, err),
			}, start, log)
		}

		if !c.clock.Now().Before(deadline) {
			log.Infof("Timeout after %d ticks", ticks)
			res := Result{State: Rejected, Code: AuthError, Ticks: ticks, Err: ErrTimeout}
			if !c.core.SuppressTimeout {
				if err := c.send(MsgTimeout, SeverityError); err != nil {
					res = Result{State: Error, Code: AuthError, Ticks: ticks, Err: err}
				}
			}
			return c.finish(res, start, log)
		}

		ticks++
		if c.matchFrame(src, log) {
			res := Result{State: Accepted, Code: Success, Ticks: ticks}
			res = c.finish(res, start, log)
			if !c.core.NoConfirmation {
				msg := fmt.Sprintf("Identified face as %s in %s", user, res.Elapsed.Round(time.Millisecond))
				if err := c.send(msg, SeverityInfo); err != nil {
					c.state = Error
					res.State, res.Code, res.Err = Error, AuthError, err
				}
			}
			return res
		}

		c.clock.Sleep(c.interval)
	}
}

// matchFrame pulls one frame and reports whether any face in it matches.
// Read and recognition failures skip the tick.
func (c *Controller) matchFrame(src camera.Source, log *logrus.Entry) bool {
	frame, err := src.ReadFrame()
	if err != nil {
		log.WithError(err).Debug("No frame this tick")
		return false
	}

	candidates, err := c.rec.Templates(frame.Data)
	if err != nil {
		log.WithError(err).Debug("Recognition failed this tick")
		return false
	}

	for i, candidate := range candidates {
		if t, d, ok := c.matcher.Match(candidate, c.set); ok {
			log.Debugf("Face %d matched template %d (%s) at distance %.4f", i, t.ID, t.Label, d)
			return true
		}
	}
	return false
}

func (c *Controller) abort(reason gate.Reason, start time.Time, log *logrus.Entry) Result {
	log.Infof("Attempt aborted: %s", reason)

	if reason != gate.NoEnrolledTemplates {
		return c.finish(Result{State: Unavailable, Reason: reason, Code: AuthInfoUnavailable}, start, log)
	}

	res := Result{State: Rejected, Reason: reason, Code: UserUnknown}
	if !c.core.SuppressUnknown {
		if err := c.send(MsgNoModel, SeverityError); err != nil {
			res = Result{State: Error, Reason: reason, Code: AuthError, Err: err}
		}
	}
	return c.finish(res, start, log)
}

func (c *Controller) finish(res Result, start time.Time, log *logrus.Entry) Result {
	c.state = res.State
	res.Elapsed = c.clock.Now().Sub(start)
	log.WithFields(logrus.Fields{
		"state":   res.State.String(),
		"code":    res.Code.String(),
		"elapsed": res.Elapsed,
	}).Debug("Attempt finished")
	return res
}

func (c *Controller) send(msg string, severity Severity) error {
	if c.conv == nil {
		return nil
	}
	if err := c.conv.Send(msg, severity); err != nil {
		return fmt.Errorf("%w: %v", ErrConversation, err)
	}
	return nil
}
