// Package pipeline runs the capture, estimate, draw and publish cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/andresmejia3/posecast/internal/skeleton"
	"github.com/andresmejia3/posecast/internal/tensor"
	"github.com/andresmejia3/posecast/internal/types"
)

// Estimator turns a frame into keypoints. Both the in-process TFLite engine
// and the external pipe estimator implement it.
type Estimator interface {
	Estimate(ctx context.Context, frame types.Frame) (types.Pose, error)
	Scheme() *skeleton.Scheme
	Close() error
}

// Source yields frames. Read returns types.ErrEmptyFrame to skip a cycle and
// types.ErrEndOfStream when a finite source is exhausted.
type Source interface {
	Read() (types.Frame, error)
	Close() error
}

// Display receives each frame with its visible skeleton. Returning true asks
// the session to stop after this cycle.
type Display interface {
	Show(frame types.Frame, sk skeleton.Skeleton) (quit bool, err error)
	Close() error
}

// Sink receives one event per cycle that found at least one keypoint.
type Sink interface {
	Publish(ctx context.Context, event types.PoseEvent) error
	Close() error
}

// Finisher is a Sink that takes the session's final cycle count. Close
// calls Finish before closing the sink.
type Finisher interface {
	Finish(cycles int)
}

// Cycle is the outcome of one Step.
type Cycle struct {
	Event   types.PoseEvent
	Skipped bool
	Quit    bool
}

// Stats summarizes a Run.
type Stats struct {
	Cycles     int
	Skipped    int
	Detections int
	Dropped    int
	Elapsed    time.Duration
}

type Options struct {
	// ID identifies the session to sinks. A random UUID when empty.
	ID      string
	Display Display
	Sinks   []Sink
	Log     *logrus.Logger
	// OnCycle is called after every Step, skipped or not.
	OnCycle func(Cycle)
}

// Session owns everything a cycle touches. Close releases all of it.
type Session struct {
	ID        string
	source    Source
	estimator Estimator
	display   Display
	sinks     []Sink
	onCycle   func(Cycle)
	log       *logrus.Entry
	now       func() time.Time
	cycle     int
}

func NewSession(source Source, estimator Estimator, opts Options) *Session {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Display == nil {
		opts.Display = headless{}
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Session{
		ID:        opts.ID,
		source:    source,
		estimator: estimator,
		display:   opts.Display,
		sinks:     opts.Sinks,
		onCycle:   opts.OnCycle,
		log:       log.WithField("session", opts.ID),
		now:       time.Now,
	}
}

// OnCycle replaces the callback run after every Step.
func (s *Session) OnCycle(fn func(Cycle)) { s.onCycle = fn }

// Step runs one cycle: read, estimate, rescale to frame pixels, drop
// out-of-frame keypoints, show and publish.
func (s *Session) Step(ctx context.Context) (Cycle, error) {
	frame, err := s.source.Read()
	if errors.Is(err, types.ErrEmptyFrame) {
		s.log.Debug("empty frame, skipping cycle")
		return Cycle{Skipped: true}, nil
	}
	if err != nil {
		return Cycle{}, err
	}

	pose, err := s.estimator.Estimate(ctx, frame)
	if err != nil {
		return Cycle{}, fmt.Errorf("estimate: %w", err)
	}
	if pose.Width <= 0 || pose.Height <= 0 {
		return Cycle{}, fmt.Errorf("estimator returned an empty coordinate space %vx%v", pose.Width, pose.Height)
	}

	fw, fh := float32(frame.Width), float32(frame.Height)
	scaled := make([]types.Keypoint, len(pose.Keypoints))
	for i, kp := range pose.Keypoints {
		kp.X, kp.Y = tensor.Rescale(kp.X, kp.Y, pose.Width, pose.Height, fw, fh)
		scaled[i] = kp
	}
	sk, err := skeleton.New(s.estimator.Scheme(), scaled)
	if err != nil {
		return Cycle{}, err
	}
	visible, dropped := sk.Clip(fw, fh)

	s.cycle++
	entry := s.log.WithFields(logrus.Fields{"cycle": s.cycle, "keypoints": len(visible.Keypoints)})
	if dropped > 0 {
		entry.WithField("dropped", dropped).Debug("keypoints outside the frame")
	} else {
		entry.Debug("cycle")
	}

	quit, err := s.display.Show(frame, visible)
	if err != nil {
		return Cycle{}, fmt.Errorf("display: %w", err)
	}

	event := types.PoseEvent{
		SessionID: s.ID,
		Cycle:     s.cycle,
		Time:      s.now(),
		Scheme:    visible.Scheme.Name,
		Width:     frame.Width,
		Height:    frame.Height,
		Keypoints: visible.Keypoints,
		Dropped:   dropped,
	}
	if len(event.Keypoints) > 0 {
		s.publish(ctx, event)
	}
	return Cycle{Event: event, Quit: quit}, nil
}

func (s *Session) publish(ctx context.Context, event types.PoseEvent) {
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			s.log.WithError(err).WithField("sink", fmt.Sprintf("%T", sink)).Warn("publish failed")
		}
	}
}

// Run steps until the display asks to quit, the source ends or ctx is done.
// Cancellation and end of stream are normal exits.
func (s *Session) Run(ctx context.Context) (stats Stats, err error) {
	start := s.now()
	defer func() { stats.Elapsed = s.now().Sub(start) }()

	for ctx.Err() == nil {
		var c Cycle
		c, err = s.Step(ctx)
		if errors.Is(err, types.ErrEndOfStream) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return stats, err
		}

		stats.Cycles++
		if c.Skipped {
			stats.Skipped++
		} else if len(c.Event.Keypoints) > 0 {
			stats.Detections++
		}
		stats.Dropped += c.Event.Dropped
		if s.onCycle != nil {
			s.onCycle(c)
		}
		if c.Quit {
			break
		}
	}
	return stats, nil
}

// Close releases the display, sinks, estimator and source in that order.
func (s *Session) Close() error {
	var errs []error
	if err := s.display.Close(); err != nil {
		errs = append(errs, fmt.Errorf("display: %w", err))
	}
	for _, sink := range s.sinks {
		if f, ok := sink.(Finisher); ok {
			f.Finish(s.cycle)
		}
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink: %w", err))
		}
	}
	if err := s.estimator.Close(); err != nil {
		errs = append(errs, fmt.Errorf("estimator: %w", err))
	}
	if err := s.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("source: %w", err))
	}
	return errors.Join(errs...)
}

type headless struct{}

func (headless) Show(types.Frame, skeleton.Skeleton) (bool, error) { return false, nil }
func (headless) Close() error                                      { return nil }
