//go:build unix

package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/posecast/internal/logging"
	"github.com/andresmejia3/posecast/internal/protocol"
	"github.com/andresmejia3/posecast/internal/types"
)

// Scripts run as `sh -c script sh --frame-pipe F --points-pipe P ...`,
// so $2 is the frame pipe and $4 the points pipe.
const (
	// Reads one 4x2 frame, answers with a single point (0.5, 0.25, 0) and
	// then idles until killed.
	onePointScript = `exec 3<"$2" 4>"$4"
head -c 24 <&3 >/dev/null
printf '\014\000\000\000\000\000\000\077\000\000\200\076\000\000\000\000' >&4
exec sleep 30`

	// Reads one frame and answers with an empty list.
	noPointsScript = `exec 3<"$2" 4>"$4"
head -c 24 <&3 >/dev/null
printf '\000\000\000\000' >&4
exec sleep 30`

	// Reads one frame and dies without answering.
	crashScript = `exec 3<"$2" 4>"$4"
head -c 24 <&3 >/dev/null
echo "estimator crashed" >&2
exit 1`
)

func testConfig(t *testing.T, script string) Config {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	return Config{
		Command:      "/bin/sh",
		Args:         []string{"-c", script, "sh"},
		Dir:          t.TempDir(),
		Width:        4,
		Height:       2,
		StartTimeout: 5 * time.Second,
	}
}

func testFrame() types.Frame {
	return types.Frame{Width: 4, Height: 2, Order: types.BGR, Data: make([]byte, 24)}
}

func assertRemoved(t *testing.T, paths ...string) {
	t.Helper()
	for _, path := range paths {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("Expected %s to be removed, stat returned %v", path, err)
		}
	}
}

func TestPipeEstimator_RoundTrip(t *testing.T) {
	cfg := testConfig(t, onePointScript)
	p, err := Start(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	framePath := filepath.Join(cfg.Dir, DefaultFramePipe)
	info, err := os.Stat(framePath)
	if err != nil {
		t.Fatalf("frame pipe missing: %v", err)
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		t.Errorf("Expected %s to be a named pipe, got mode %v", framePath, info.Mode())
	}

	pose, err := p.Estimate(context.Background(), testFrame())
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if pose.Width != 1 || pose.Height != 1 {
		t.Errorf("Expected normalized pose, got %vx%v", pose.Width, pose.Height)
	}
	if len(pose.Keypoints) != 1 {
		t.Fatalf("Expected 1 keypoint, got %d", len(pose.Keypoints))
	}
	kp := pose.Keypoints[0]
	if kp.ID != 0 || kp.X != 0.5 || kp.Y != 0.25 || kp.Z != 0 {
		t.Errorf("Unexpected keypoint %+v", kp)
	}

	if err := p.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	assertRemoved(t, framePath, filepath.Join(cfg.Dir, DefaultPointsPipe))

	// Second close is a no-op.
	if err := p.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestPipeEstimator_ResizesToGeometry(t *testing.T) {
	cfg := testConfig(t, noPointsScript)
	p, err := Start(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Close()

	big := types.Frame{Width: 8, Height: 4, Order: types.BGR, Data: make([]byte, 8*4*3)}
	pose, err := p.Estimate(context.Background(), big)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if len(pose.Keypoints) != 0 {
		t.Errorf("Expected no keypoints, got %d", len(pose.Keypoints))
	}
}

func TestPipeEstimator_ExitBeforeOpen(t *testing.T) {
	cfg := testConfig(t, `echo "no module named mediapipe" >&2; exit 3`)

	start := time.Now()
	_, err := Start(context.Background(), cfg, logging.Discard())
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrStart) || !errors.Is(err, ErrExited) {
		t.Errorf("Expected ErrStart and ErrExited, got %v", err)
	}
	if !strings.Contains(err.Error(), "no module named mediapipe") {
		t.Errorf("Expected estimator stderr in error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("Start took %s, expected it to notice the exit", elapsed)
	}
	assertRemoved(t, filepath.Join(cfg.Dir, DefaultFramePipe), filepath.Join(cfg.Dir, DefaultPointsPipe))
}

func TestPipeEstimator_StartTimeout(t *testing.T) {
	cfg := testConfig(t, `exec sleep 30`)
	cfg.StartTimeout = 200 * time.Millisecond

	_, err := Start(context.Background(), cfg, logging.Discard())
	if !errors.Is(err, ErrStart) {
		t.Fatalf("Expected ErrStart, got %v", err)
	}
	assertRemoved(t, filepath.Join(cfg.Dir, DefaultFramePipe), filepath.Join(cfg.Dir, DefaultPointsPipe))
}

func TestPipeEstimator_ImmediateTimeout(t *testing.T) {
	// The deadline fires before the opener goroutine can block in OpenFile.
	for i := 0; i < 10; i++ {
		cfg := testConfig(t, `exec sleep 30`)
		cfg.StartTimeout = time.Nanosecond

		errc := make(chan error, 1)
		go func() {
			_, err := Start(context.Background(), cfg, logging.Discard())
			errc <- err
		}()

		select {
		case err := <-errc:
			if !errors.Is(err, ErrStart) {
				t.Fatalf("iteration %d: Expected ErrStart, got %v", i, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("iteration %d: Start did not return after its deadline", i)
		}
		assertRemoved(t, filepath.Join(cfg.Dir, DefaultFramePipe), filepath.Join(cfg.Dir, DefaultPointsPipe))
	}
}

func TestPipeEstimator_Cancelled(t *testing.T) {
	cfg := testConfig(t, `exec sleep 30`)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	if _, err := Start(ctx, cfg, logging.Discard()); !errors.Is(err, ErrStart) {
		t.Fatalf("Expected ErrStart, got %v", err)
	}
}

func TestPipeEstimator_MidRunExit(t *testing.T) {
	cfg := testConfig(t, crashScript)
	p, err := Start(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Close()

	_, err = p.Estimate(context.Background(), testFrame())
	if !errors.Is(err, protocol.ErrPeerClosed) {
		t.Fatalf("Expected ErrPeerClosed, got %v", err)
	}
	var perr *protocol.ProtocolError
	if !errors.As(err, &perr) {
		t.Errorf("Expected a ProtocolError, got %T", err)
	}

	// The failure is sticky.
	if _, err := p.Estimate(context.Background(), testFrame()); !errors.Is(err, protocol.ErrPeerClosed) {
		t.Errorf("Expected sticky ErrPeerClosed, got %v", err)
	}
}

func TestPipeEstimator_StaleEndpointsReplaced(t *testing.T) {
	cfg := testConfig(t, noPointsScript)
	stale := filepath.Join(cfg.Dir, DefaultFramePipe)
	if err := os.WriteFile(stale, []byte("leftover"), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := Start(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Close()

	info, err := os.Stat(stale)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		t.Errorf("Expected stale file to be replaced by a named pipe")
	}
}

func TestStart_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"Zero geometry", Config{Command: "/bin/sh", Width: 0, Height: 2}},
		{"Unknown format", Config{Command: "/bin/sh", Width: 4, Height: 2, Format: "pickle"}},
		{"Missing binary", Config{Command: "/nonexistent/estimator", Width: 4, Height: 2, Dir: t.TempDir()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Start(context.Background(), tt.cfg, logging.Discard()); !errors.Is(err, ErrStart) {
				t.Errorf("Expected ErrStart, got %v", err)
			}
		})
	}
}
