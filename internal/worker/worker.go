// Package worker supervises an external pose estimator that talks over two
// named pipes: raw frames in, length-prefixed point lists out.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/andresmejia3/posecast/internal/logging"
	"github.com/andresmejia3/posecast/internal/protocol"
	"github.com/andresmejia3/posecast/internal/skeleton"
	"github.com/andresmejia3/posecast/internal/tensor"
	"github.com/andresmejia3/posecast/internal/types"
	"github.com/andresmejia3/posecast/internal/utils"
)

var (
	// ErrStart covers every way the estimator can fail to come up.
	ErrStart = errors.New("estimator failed to start")
	// ErrExited means the estimator process is gone.
	ErrExited = errors.New("estimator exited")
)

const (
	DefaultFramePipe    = "frame_pipe"
	DefaultPointsPipe   = "points_pipe"
	DefaultStartTimeout = 30 * time.Second
)

// Config describes how to launch the estimator and where its endpoints live.
type Config struct {
	Command string
	Args    []string
	// Dir is the estimator's working directory. Relative pipe paths are
	// resolved against it.
	Dir        string
	FramePipe  string
	PointsPipe string
	Width      int
	Height     int
	Format     string
	// StartTimeout bounds how long the estimator may take to open both pipes.
	StartTimeout time.Duration
	// ReadTimeout bounds each wait for points. Zero waits forever.
	ReadTimeout time.Duration
	MaxPayload  int
}

func (c Config) pipePath(name, fallback string) string {
	if name == "" {
		name = fallback
	}
	if filepath.IsAbs(name) || c.Dir == "" {
		return name
	}
	return filepath.Join(c.Dir, name)
}

// Paths returns the resolved frame and points FIFO paths.
func (c Config) Paths() (frames, points string) {
	return c.pipePath(c.FramePipe, DefaultFramePipe), c.pipePath(c.PointsPipe, DefaultPointsPipe)
}

// PipeEstimator owns the estimator process and both pipe ends.
type PipeEstimator struct {
	cfg        Config
	Cmd        *utils.SafeCommand
	framePath  string
	pointsPath string
	frames     *os.File
	points     *os.File
	exchange   *protocol.Exchange
	stderrLog  io.WriteCloser
	log        *logrus.Entry

	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

// Start removes stale endpoints, creates both FIFOs, launches the estimator
// and opens the pipes in the order the estimator does: frames first, then
// points. On failure everything created so far is torn down.
func Start(ctx context.Context, cfg Config, log *logrus.Logger) (*PipeEstimator, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid geometry %dx%d", ErrStart, cfg.Width, cfg.Height)
	}
	if cfg.Format == "" {
		cfg.Format = protocol.DefaultCodec
	}
	codec, err := protocol.CodecByName(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStart, err)
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}

	framePath, pointsPath := cfg.Paths()
	p := &PipeEstimator{
		cfg:        cfg,
		framePath:  framePath,
		pointsPath: pointsPath,
		log:        log.WithField("component", "estimator"),
	}

	if err := p.start(ctx); err != nil {
		p.Close()
		return nil, err
	}

	p.exchange = protocol.NewExchange(p.frames, p.points, protocol.Geometry{Width: cfg.Width, Height: cfg.Height}, codec)
	if cfg.MaxPayload > 0 {
		p.exchange.SetMaxPayload(cfg.MaxPayload)
	}
	p.log.WithFields(logrus.Fields{
		"pid":    p.Cmd.Process.Pid,
		"frames": p.framePath,
		"points": p.pointsPath,
		"format": codec.Name(),
	}).Info("estimator connected")
	return p, nil
}

func (p *PipeEstimator) start(ctx context.Context) error {
	for _, path := range []string{p.framePath, p.pointsPath} {
		if err := utils.RemoveIfExists(path); err != nil {
			return fmt.Errorf("%w: remove stale endpoint %s: %v", ErrStart, path, err)
		}
		if err := mkfifo(path); err != nil {
			return fmt.Errorf("%w: create endpoint %s: %v", ErrStart, path, err)
		}
	}

	args := append([]string{}, p.cfg.Args...)
	args = append(args,
		"--frame-pipe", p.framePath,
		"--points-pipe", p.pointsPath,
		"--width", strconv.Itoa(p.cfg.Width),
		"--height", strconv.Itoa(p.cfg.Height),
		"--format", p.cfg.Format,
	)
	p.stderrLog = logging.LineWriter(p.log)
	p.Cmd = utils.NewSafeCommand(ctx, p.cfg.Command, args, p.stderrLog)
	p.Cmd.Dir = p.cfg.Dir
	if err := p.Cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrStart, err)
	}
	p.exited = make(chan struct{})
	go func() {
		p.waitErr = p.Cmd.Wait()
		close(p.exited)
	}()

	deadline := time.NewTimer(p.cfg.StartTimeout)
	defer deadline.Stop()

	var err error
	if p.frames, err = p.open(ctx, deadline.C, p.framePath, os.O_WRONLY, os.O_RDONLY); err != nil {
		return err
	}
	if p.points, err = p.open(ctx, deadline.C, p.pointsPath, os.O_RDONLY, os.O_WRONLY); err != nil {
		return err
	}
	return nil
}

const unblockRetry = 5 * time.Millisecond

// open opens one end of a FIFO. Opening blocks until the estimator opens the
// other end, so it races process exit, cancellation and the start deadline.
// A stuck open is released by opening the opposite end ourselves.
func (p *PipeEstimator) open(ctx context.Context, deadline <-chan time.Time, path string, flag, opposite int) (*os.File, error) {
	type result struct {
		f   *os.File
		err error
	}
	done := make(chan result, 1)
	go func() {
		f, err := os.OpenFile(path, flag, 0)
		done <- result{f, err}
	}()

	var cause error
	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", ErrStart, path, r.err)
		}
		return r.f, nil
	case <-p.exited:
		cause = fmt.Errorf("%w: %v%s", ErrExited, p.waitErr, lastLine(p.Cmd.Logs()))
	case <-ctx.Done():
		cause = ctx.Err()
	case <-deadline:
		cause = fmt.Errorf("timed out after %s", p.cfg.StartTimeout)
	}

	// The opener may not have reached OpenFile yet, so the peer is retried
	// until it sticks and held until the opener returns.
	var peer *os.File
	retry := time.NewTicker(unblockRetry)
	defer retry.Stop()
	for {
		if peer == nil {
			if f, err := os.OpenFile(path, opposite|syscall.O_NONBLOCK, 0); err == nil {
				peer = f
			}
		}
		select {
		case r := <-done:
			if r.f != nil {
				r.f.Close()
			}
			if peer != nil {
				peer.Close()
			}
			return nil, fmt.Errorf("%w: waiting for %s: %w", ErrStart, filepath.Base(path), cause)
		case <-retry.C:
		}
	}
}

func lastLine(logs string) string {
	lines := strings.Split(strings.TrimSpace(logs), "\n")
	if last := lines[len(lines)-1]; last != "" {
		return ": " + last
	}
	return ""
}

// Geometry is the frame size the estimator was launched with.
func (p *PipeEstimator) Geometry() protocol.Geometry { return p.exchange.Geometry() }

// Scheme is BlazePose33; the estimator emits MediaPipe landmark order.
func (p *PipeEstimator) Scheme() *skeleton.Scheme { return skeleton.BlazePose33 }

// Logs returns the estimator's captured stderr.
func (p *PipeEstimator) Logs() string { return p.Cmd.Logs() }

// Estimate resizes frame to the negotiated geometry, sends it and waits for
// the points. Coordinates come back normalized, so the pose is 1x1.
func (p *PipeEstimator) Estimate(ctx context.Context, frame types.Frame) (types.Pose, error) {
	if err := ctx.Err(); err != nil {
		return types.Pose{}, err
	}
	geo := p.exchange.Geometry()
	frame, err := tensor.ResizeFrame(frame, geo.Width, geo.Height)
	if err != nil {
		return types.Pose{}, err
	}
	if p.cfg.ReadTimeout > 0 {
		if err := p.points.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
			return types.Pose{}, fmt.Errorf("set read deadline: %w", err)
		}
	}

	points, err := p.exchange.RoundTrip(frame)
	if err != nil {
		return types.Pose{}, p.annotate(err)
	}
	if len(points) > skeleton.BlazePose33.Size() {
		return types.Pose{}, &protocol.ProtocolError{
			Op:  "receive-points",
			Err: fmt.Errorf("%w: %d points for a %d-point skeleton", protocol.ErrSchema, len(points), skeleton.BlazePose33.Size()),
		}
	}

	keypoints := make([]types.Keypoint, len(points))
	for i, pt := range points {
		keypoints[i] = types.Keypoint{ID: i, X: pt.X, Y: pt.Y, Z: pt.Z, Score: 1}
	}
	return types.Pose{Width: 1, Height: 1, Keypoints: keypoints}, nil
}

// annotate adds the exit status when the failure was caused by the
// estimator going away.
func (p *PipeEstimator) annotate(err error) error {
	select {
	case <-p.exited:
		return fmt.Errorf("%w (%w: %v)", err, ErrExited, p.waitErr)
	default:
		return err
	}
}

// Close kills the estimator, closes both pipe ends and removes both FIFOs.
// Safe to call more than once and on a partially started estimator.
func (p *PipeEstimator) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		if p.frames != nil {
			p.frames.Close()
		}
		if p.exited != nil {
			if err := p.Cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				errs = append(errs, fmt.Errorf("kill estimator: %w", err))
			}
			<-p.exited
		}
		if p.points != nil {
			p.points.Close()
		}
		if p.stderrLog != nil {
			p.stderrLog.Close()
		}
		for _, path := range []string{p.framePath, p.pointsPath} {
			if err := utils.RemoveIfExists(path); err != nil {
				errs = append(errs, err)
			}
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}
