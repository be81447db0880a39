package store

import (
	"context"
	"time"

	"github.com/andresmejia3/posecast/internal/types"
)

const endSessionTimeout = 5 * time.Second

// Recorder is a pipeline sink that writes every published cycle to the store.
type Recorder struct {
	store     *Store
	sessionID string
	cycles    int
}

// NewRecorder registers the session and returns a sink bound to it.
func NewRecorder(ctx context.Context, s *Store, meta SessionMeta) (*Recorder, error) {
	if err := s.StartSession(ctx, meta); err != nil {
		return nil, err
	}
	return &Recorder{store: s, sessionID: meta.ID}, nil
}

func (r *Recorder) Publish(ctx context.Context, event types.PoseEvent) error {
	if err := r.store.InsertPose(ctx, event); err != nil {
		return err
	}
	if event.Cycle > r.cycles {
		r.cycles = event.Cycle
	}
	return nil
}

// Finish records the session's total cycle count, including trailing cycles
// that found nobody.
func (r *Recorder) Finish(cycles int) {
	if cycles > r.cycles {
		r.cycles = cycles
	}
}

// Close marks the session ended. It uses its own context because the run
// context is usually cancelled by the time sinks close.
func (r *Recorder) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), endSessionTimeout)
	defer cancel()
	return r.store.EndSession(ctx, r.sessionID, r.cycles)
}
