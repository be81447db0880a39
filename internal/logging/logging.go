// Package logging configures the structured logger shared by all commands.
package logging

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to out at the given level ("debug", "info",
// ...) in "text" or "json" format.
func New(out io.Writer, level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return log, nil
}

// Discard returns a logger that drops everything. Handy for tests.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// LineWriter returns a writer that logs each complete line at Debug with
// the given fields. Close flushes a trailing partial line.
func LineWriter(entry *logrus.Entry) io.WriteCloser {
	pr, pw := io.Pipe()
	go func() {
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				entry.Debug(line)
			}
		}
		// Keep draining so writers never block after a scan error.
		_, _ = io.Copy(io.Discard, pr)
	}()
	return pw
}
