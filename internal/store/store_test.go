package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/andresmejia3/posecast/internal/types"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// testcontainers panics when the Docker socket is missing
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("posecast_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	meta := SessionMeta{ID: "session-a", Source: "0", Backend: "pipe", Scheme: "blazepose33"}
	rec, err := NewRecorder(ctx, s, meta)
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}

	captured := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	events := []types.PoseEvent{
		{SessionID: meta.ID, Cycle: 1, Time: captured, Scheme: meta.Scheme, Width: 640, Height: 480,
			Keypoints: []types.Keypoint{
				{ID: 0, X: 320, Y: 240, Z: -0.1, Score: 1},
				{ID: 11, X: 300, Y: 260, Z: 0.2, Score: 1},
			}},
		{SessionID: meta.ID, Cycle: 3, Time: captured.Add(time.Second), Scheme: meta.Scheme, Width: 640, Height: 480,
			Keypoints: []types.Keypoint{{ID: 5, X: 10, Y: 20, Z: 0, Score: 1}}},
	}
	for _, ev := range events {
		if err := rec.Publish(ctx, ev); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	// Two trailing cycles without detections.
	rec.Finish(5)
	if err := rec.Close(); err != nil {
		t.Fatalf("Recorder Close failed: %v", err)
	}

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}
	got := sessions[0]
	if got.ID != meta.ID || got.Backend != "pipe" || got.Scheme != "blazepose33" {
		t.Errorf("Unexpected session %+v", got)
	}
	if got.Keypoints != 3 {
		t.Errorf("Expected 3 keypoints recorded, got %d", got.Keypoints)
	}
	if got.Cycles != 5 {
		t.Errorf("Expected 5 cycles, got %d", got.Cycles)
	}
	if got.EndedAt == nil {
		t.Errorf("Expected ended_at to be set after Close")
	}

	poses, err := s.SessionPoses(ctx, meta.ID)
	if err != nil {
		t.Fatalf("SessionPoses failed: %v", err)
	}
	if len(poses) != 2 {
		t.Fatalf("Expected 2 cycles, got %d", len(poses))
	}
	if len(poses[0].Keypoints) != 2 || poses[0].Keypoints[1].ID != 11 {
		t.Errorf("Unexpected first cycle %+v", poses[0])
	}
	if kp := poses[0].Keypoints[0]; kp.X != 320 || kp.Y != 240 || kp.Z != -0.1 {
		t.Errorf("Keypoint did not round trip: %+v", kp)
	}
	if !poses[1].Time.Equal(captured.Add(time.Second)) || poses[1].Scheme != "blazepose33" {
		t.Errorf("Unexpected second cycle header %+v", poses[1])
	}

	if err := s.RenameSession(ctx, meta.ID, "warmup"); err != nil {
		t.Fatalf("RenameSession failed: %v", err)
	}
	if err := s.RenameSession(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := s.SessionPoses(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	sessions, _ = s.ListSessions(ctx)
	if sessions[0].Name != "warmup" {
		t.Errorf("Expected name 'warmup', got %q", sessions[0].Name)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.ListSessions(ctx); err == nil {
		t.Errorf("Expected ListSessions to fail after tables are dropped")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
