// Package enroll captures new face templates for a user and tests the
// camera against the templates already enrolled.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrCodeEU/facegate/pkg/camera"
	"github.com/MrCodeEU/facegate/pkg/config"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/recognition"
	"github.com/MrCodeEU/facegate/pkg/session"
	"github.com/MrCodeEU/facegate/pkg/storage"
	"github.com/sirupsen/logrus"
)

// ErrAmbiguousEnrollment is returned when a frame holds more than one face.
var ErrAmbiguousEnrollment = errors.New("multiple faces detected, only one face may be in frame")

// ErrNoTemplates is returned by Verify when there is nothing to test against.
var ErrNoTemplates = errors.New("no face model known")

// Store persists a template set.
type Store interface {
	Save(set *storage.TemplateSet) error
}

// Dependencies are the capabilities a Controller drives.
type Dependencies struct {
	Store      Store
	Camera     camera.Opener
	Recognizer session.Recognizer
	// Clock defaults to session.SystemClock.
	Clock session.Clock
	// Progress, when set, is called once per processed frame with the
	// number of faces found in it.
	Progress func(faces int)
}

// Match describes a successful Verify.
type Match struct {
	Template storage.Template
	Distance float64
	Ticks    int
	Elapsed  time.Duration
}

// Controller runs enrollment and verification for one user.
type Controller struct {
	set      *storage.TemplateSet
	device   int
	interval time.Duration
	matcher  session.Matcher
	deps     Dependencies
}

// NewController binds set to deps using the capture settings in cfg.
func NewController(cfg *config.Config, set *storage.TemplateSet, deps Dependencies) *Controller {
	c := &Controller{
		set:      set,
		device:   cfg.Video.Device,
		interval: time.Duration(cfg.Video.TickIntervalMs) * time.Millisecond,
		matcher:  session.NewMatcher(cfg.Video.Certainty),
		deps:     deps,
	}
	if c.interval <= 0 {
		c.interval = session.DefaultTickInterval
	}
	if c.deps.Clock == nil {
		c.deps.Clock = session.SystemClock{}
	}
	return c
}

// Enroll polls the camera until a frame holds exactly one face, adds it to
// the set under label and saves the set. There is no deadline; cancel ctx
// to give up. A frame with several faces ends the attempt with
// ErrAmbiguousEnrollment and leaves the set untouched.
func (c *Controller) Enroll(ctx context.Context, label string) (storage.Template, error) {
	log := logging.Attempt("enroll", c.set.User)

	var enrolled storage.Template
	err := c.poll(ctx, log, func(candidates []recognition.Descriptor, _ int) (bool, error) {
		switch len(candidates) {
		case 0:
			return false, nil
		case 1:
		default:
			log.Warnf("Found %d faces, refusing to enroll", len(candidates))
			return true, fmt.Errorf("%w (found %d)", ErrAmbiguousEnrollment, len(candidates))
		}

		enrolled = c.set.Add(candidates[0], label)
		if err := c.deps.Store.Save(c.set); err != nil {
			log.WithError(err).Error("Failed to save templates")
			return true, err
		}
		log.Infof("Enrolled template %d (%s)", enrolled.ID, label)
		return true, nil
	})
	if err != nil {
		return storage.Template{}, err
	}
	return enrolled, nil
}

// Verify polls the camera until a face matches one of the enrolled
// templates. It runs until ctx is done.
func (c *Controller) Verify(ctx context.Context) (Match, error) {
	if c.set.IsEmpty() {
		return Match{}, ErrNoTemplates
	}
	log := logging.Attempt("enroll", c.set.User)
	start := c.deps.Clock.Now()

	var found Match
	err := c.poll(ctx, log, func(candidates []recognition.Descriptor, tick int) (bool, error) {
		for _, candidate := range candidates {
			if t, d, ok := c.matcher.Match(candidate, c.set); ok {
				found = Match{Template: t, Distance: d, Ticks: tick}
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return Match{}, err
	}
	found.Elapsed = c.deps.Clock.Now().Sub(start)
	log.Infof("Matched template %d at distance %.4f", found.Template.ID, found.Distance)
	return found, nil
}

// poll opens the device and feeds every frame's candidates to handle until
// it reports done or ctx ends. The device is closed on return.
func (c *Controller) poll(ctx context.Context, log *logrus.Entry, handle func([]recognition.Descriptor, int) (bool, error)) error {
	src, err := c.deps.Camera.Open(c.device)
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.WithError(err).Warn("Failed to close capture device")
		}
	}()

	for tick := 1; ; tick++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if candidates, ok := c.capture(src, log); ok {
			if c.deps.Progress != nil {
				c.deps.Progress(len(candidates))
			}
			done, err := handle(candidates, tick)
			if done || err != nil {
				return err
			}
		}

		c.deps.Clock.Sleep(c.interval)
	}
}

func (c *Controller) capture(src camera.Source, log *logrus.Entry) ([]recognition.Descriptor, bool) {
	frame, err := src.ReadFrame()
	if err != nil {
		log.WithError(err).Debug("No frame this tick")
		return nil, false
	}
	candidates, err := c.deps.Recognizer.Templates(frame.Data)
	if err != nil {
		log.WithError(err).Debug("Recognition failed this tick")
		return nil, false
	}
	return candidates, true
}
