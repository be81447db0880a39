package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (estimator logs)
// This ensures we don't lose critical crash information if the estimator dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *LockedBuffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe.
// Extra writers (e.g. a logger) receive a copy of every stderr byte.
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args []string, extra ...io.Writer) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &LockedBuffer{}
	cmd.Stderr = io.MultiWriter(append([]io.Writer{stderr}, extra...)...)
	// Don't let grandchildren holding the stderr pipe block Wait forever.
	cmd.WaitDelay = 2 * time.Second
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Logs returns everything the process wrote to stderr so far.
func (s *SafeCommand) Logs() string {
	if s == nil || s.Stderr == nil {
		return ""
	}
	return s.Stderr.String()
}

// LockedBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type LockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *LockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *LockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// ShowError prints a formatted error box and dumps estimator logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 POSECAST ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if logs := strings.TrimSpace(s.Logs()); logs != "" {
		fmt.Fprintf(os.Stderr, "\nESTIMATOR LOGS:\n%s\n", logs)
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is the unified exit strategy for commands that cannot return an error.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Filesystem Endpoints ---

// RemoveIfExists deletes path, treating "already gone" as success.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// FmtDuration renders a duration as HH:MM:SS for summaries.
func FmtDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
