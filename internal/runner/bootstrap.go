package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
)

// checkScript verifies that path is a regular file with an execute bit set.
func checkScript(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

// runScript executes a bootstrap script and relays its combined stdout and
// stderr one line at a time. A non-zero exit is returned as an error.
func (r *Runner) runScript(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, path)

	out, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to capture script output: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start script: %w", err)
	}

	lines, streamErr := r.streamer.StreamLines(ctx, out, 0)
	if streamErr != nil {
		slog.Warn("Stopped relaying script output", "script", path, "error", streamErr)
		// Keep the pipe drained so the script cannot block on a full buffer.
		_, _ = io.Copy(io.Discard, out)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("script exited with error: %w", err)
	}

	slog.Info("Bootstrap script completed", "script", path, "lines", lines)
	return nil
}
