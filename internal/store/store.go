package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/andresmejia3/posecast/internal/types"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session not found")

// Store manages the PostgreSQL connection used to record pose sessions.
type Store struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the session and keypoint tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			backend TEXT NOT NULL,
			scheme TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ended_at TIMESTAMPTZ,
			cycles INT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS pose_keypoints (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			cycle INT NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL,
			frame_width INT NOT NULL,
			frame_height INT NOT NULL,
			keypoint_id INT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			score REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS pose_keypoints_session_cycle_idx ON pose_keypoints (session_id, cycle);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close(ctx)
}

// SessionMeta describes a recording when it starts.
type SessionMeta struct {
	ID      string
	Source  string
	Backend string
	Scheme  string
}

// SessionSummary is one row of ListSessions.
type SessionSummary struct {
	ID        string
	Name      string
	Source    string
	Backend   string
	Scheme    string
	StartedAt time.Time
	EndedAt   *time.Time
	Cycles    int
	Keypoints int
}

// StartSession registers a new recording.
func (s *Store) StartSession(ctx context.Context, meta SessionMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO sessions (id, source, backend, scheme, started_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, meta.ID, meta.Source, meta.Backend, meta.Scheme)
	return err
}

// InsertPose bulk-copies one cycle's keypoints.
func (s *Store) InsertPose(ctx context.Context, event types.PoseEvent) error {
	rows := make([][]any, len(event.Keypoints))
	for i, kp := range event.Keypoints {
		rows[i] = []any{event.SessionID, event.Cycle, event.Time, event.Width, event.Height, kp.ID, kp.X, kp.Y, kp.Z, kp.Score}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.CopyFrom(ctx,
		pgx.Identifier{"pose_keypoints"},
		[]string{"session_id", "cycle", "captured_at", "frame_width", "frame_height", "keypoint_id", "x", "y", "z", "score"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// EndSession stamps the end time and final cycle count.
func (s *Store) EndSession(ctx context.Context, id string, cycles int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, "UPDATE sessions SET ended_at = NOW(), cycles = $2 WHERE id = $1", id, cycles)
	return err
}

// ListSessions returns every recording, newest first, with its keypoint count.
func (s *Store) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.conn.Query(ctx, `
		SELECT s.id, s.name, s.source, s.backend, s.scheme, s.started_at, s.ended_at, s.cycles,
			(SELECT COUNT(*) FROM pose_keypoints k WHERE k.session_id = s.id)
		FROM sessions s
		ORDER BY s.started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Source, &sum.Backend, &sum.Scheme,
			&sum.StartedAt, &sum.EndedAt, &sum.Cycles, &sum.Keypoints); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SessionPoses reads a recording back as one event per cycle.
func (s *Store) SessionPoses(ctx context.Context, id string) ([]types.PoseEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var scheme string
	err := s.conn.QueryRow(ctx, "SELECT scheme FROM sessions WHERE id = $1", id).Scan(&scheme)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, `
		SELECT cycle, captured_at, frame_width, frame_height, keypoint_id, x, y, z, score
		FROM pose_keypoints
		WHERE session_id = $1
		ORDER BY cycle, keypoint_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.PoseEvent
	for rows.Next() {
		var (
			ev types.PoseEvent
			kp types.Keypoint
		)
		if err := rows.Scan(&ev.Cycle, &ev.Time, &ev.Width, &ev.Height, &kp.ID, &kp.X, &kp.Y, &kp.Z, &kp.Score); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].Cycle != ev.Cycle {
			ev.SessionID = id
			ev.Scheme = scheme
			out = append(out, ev)
		}
		last := &out[len(out)-1]
		last.Keypoints = append(last.Keypoints, kp)
	}
	return out, rows.Err()
}

// RenameSession updates the name of a recording.
func (s *Store) RenameSession(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag, err := s.conn.Exec(ctx, "UPDATE sessions SET name = $1 WHERE id = $2", name, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS pose_keypoints CASCADE;
		DROP TABLE IF EXISTS sessions CASCADE;
	`)
	return err
}
