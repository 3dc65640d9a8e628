package runner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobrunner/internal/ui"
)

type recordingPoster struct {
	jobIDs []string
	lines  []string
	err    error
}

func (p *recordingPoster) PostLog(ctx context.Context, jobID, line string) error {
	p.jobIDs = append(p.jobIDs, jobID)
	p.lines = append(p.lines, line)
	return p.err
}

func newTestStreamer(poster LogPoster, out *bytes.Buffer, jobID func() string) *Streamer {
	return NewStreamer(poster, ui.NewPlainConsole(out, out), time.Second, jobID)
}

func TestStreamer_SendPostsAndEchoes(t *testing.T) {
	poster := &recordingPoster{}
	var out bytes.Buffer
	s := newTestStreamer(poster, &out, func() string { return "job-a" })

	s.Send(context.Background(), "hello")
	s.Log(context.Background(), "fetching job config")

	assert.Equal(t, []string{"hello", "[runner] fetching job config"}, poster.lines)
	assert.Equal(t, []string{"job-a", "job-a"}, poster.jobIDs)
	assert.Equal(t, "hello\n[runner] fetching job config\n", out.String())
}

func TestStreamer_FailuresAreSwallowed(t *testing.T) {
	poster := &recordingPoster{err: errors.New("connection refused")}
	var out bytes.Buffer
	s := newTestStreamer(poster, &out, func() string { return "job-a" })

	s.Send(context.Background(), "one")
	s.Send(context.Background(), "two")

	assert.Len(t, poster.lines, 2, "every line is attempted exactly once")
	assert.True(t, s.Enabled())
	assert.Equal(t, "one\ntwo\n", out.String())
}

func TestStreamer_DisableIsPermanent(t *testing.T) {
	poster := &recordingPoster{}
	var out bytes.Buffer
	s := newTestStreamer(poster, &out, func() string { return "job-a" })

	s.Send(context.Background(), "before")
	s.Disable()
	s.Send(context.Background(), "after")
	s.Log(context.Background(), "job completed")
	s.Disable()
	_, err := s.StreamLines(context.Background(), strings.NewReader("x\ny\n"), 0)
	require.NoError(t, err)

	assert.False(t, s.Enabled())
	assert.Equal(t, []string{"before"}, poster.lines)
}

func TestStreamer_UsesCurrentJobID(t *testing.T) {
	poster := &recordingPoster{}
	var out bytes.Buffer
	id := "train-gpu-01"
	s := newTestStreamer(poster, &out, func() string { return id })

	s.Send(context.Background(), "a")
	id = "42"
	s.Send(context.Background(), "b")

	assert.Equal(t, []string{"train-gpu-01", "42"}, poster.jobIDs)
}

func TestStreamer_StreamLines(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		limit         int
		expectedCount int
	}{
		{"unlimited", numberedLines(120), 0, 120},
		{"under limit", numberedLines(3), 50, 3},
		{"exactly limit", numberedLines(50), 50, 50},
		{"over limit", numberedLines(500), 50, 50},
		{"no trailing newline", "a\nb", 10, 2},
		{"empty", "", 50, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poster := &recordingPoster{}
			var out bytes.Buffer
			s := newTestStreamer(poster, &out, func() string { return "job-a" })

			count, err := s.StreamLines(context.Background(), strings.NewReader(tt.input), tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedCount, count)
			assert.Len(t, poster.lines, tt.expectedCount)
		})
	}
}

func TestStreamer_StreamLines_LongLine(t *testing.T) {
	poster := &recordingPoster{}
	var out bytes.Buffer
	s := newTestStreamer(poster, &out, func() string { return "job-a" })

	input := "short\n" + strings.Repeat("x", maxLineBytes+10) + "\n"
	count, err := s.StreamLines(context.Background(), strings.NewReader(input), 0)
	require.Error(t, err)
	assert.Equal(t, 1, count)
}
