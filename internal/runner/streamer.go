package runner

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"time"

	"jobrunner/internal/ui"
)

// maxLineBytes is the longest output line relayed before the scanner gives up.
const maxLineBytes = 1 << 20

// LogPoster delivers a single log line to the backend.
type LogPoster interface {
	PostLog(ctx context.Context, jobID, line string) error
}

// Streamer relays log lines to the backend and echoes them locally.
// Delivery is fire-and-forget: one attempt per line, errors are dropped.
// Once Disable is called nothing is posted again.
type Streamer struct {
	poster  LogPoster
	console *ui.Console
	timeout time.Duration
	jobID   func() string
	enabled bool
}

// NewStreamer returns an enabled streamer. jobID is read on every send so
// that a resolved identity takes effect immediately.
func NewStreamer(poster LogPoster, console *ui.Console, timeout time.Duration, jobID func() string) *Streamer {
	return &Streamer{
		poster:  poster,
		console: console,
		timeout: timeout,
		jobID:   jobID,
		enabled: true,
	}
}

// Enabled reports whether lines are still posted.
func (s *Streamer) Enabled() bool {
	return s.enabled
}

// Disable stops all further posting. There is no way back.
func (s *Streamer) Disable() {
	s.enabled = false
}

// Send posts line if streaming is enabled, then echoes it locally.
func (s *Streamer) Send(ctx context.Context, line string) {
	if s.enabled {
		s.post(ctx, line)
	}
	s.console.PrintLine(line)
}

// Log sends a runner message with the "[runner] " prefix.
func (s *Streamer) Log(ctx context.Context, message string) {
	s.Send(ctx, ui.FormatRunnerMessage(message))
}

func (s *Streamer) post(ctx context.Context, line string) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.poster.PostLog(ctx, s.jobID(), line); err != nil {
		slog.Debug("Dropped log line", "error", err)
	}
}

// StreamLines sends r line by line. A positive limit stops reading after
// that many lines; the returned count tells the caller whether it was hit.
func (s *Streamer) StreamLines(ctx context.Context, r io.Reader, limit int) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	count := 0
	for (limit <= 0 || count < limit) && scanner.Scan() {
		s.Send(ctx, scanner.Text())
		count++
	}
	return count, scanner.Err()
}
