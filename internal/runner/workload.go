package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"jobrunner/pkg/job"
	"jobrunner/pkg/runtime"
)

// OutputMode selects what happens to a workload container's output.
type OutputMode int

const (
	// OutputStartup relays the first MaxStartupLines lines and then stops
	// the container.
	OutputStartup OutputMode = iota
	// OutputDiscard never attaches to the container's output.
	OutputDiscard
)

func (m OutputMode) String() string {
	switch m {
	case OutputStartup:
		return "startup"
	case OutputDiscard:
		return "discard"
	default:
		return fmt.Sprintf("OutputMode(%d)", int(m))
	}
}

// containerResult is the outcome of one workload container run.
type containerResult struct {
	ExitCode int64
	// Capped is set when the startup window filled and the container was
	// stopped before it exited on its own.
	Capped bool
	Lines  int
}

// runOptions turns the job's docker settings into runtime options. The
// command is split on whitespace like an unquoted shell expansion.
func runOptions(cfg job.DockerRuntime) runtime.RunOptions {
	return runtime.RunOptions{
		Image:   cfg.Image,
		Command: strings.Fields(cfg.Command),
		GPU:     cfg.GPU,
	}
}

// runContainer runs the workload once. Errors mean the container could not
// be created, started or observed; an exit code is never an error.
func (r *Runner) runContainer(ctx context.Context, cfg job.DockerRuntime, mode OutputMode) (containerResult, error) {
	var result containerResult

	opts := runOptions(cfg)
	opts.DiscardLogs = mode == OutputDiscard
	c, err := r.runtime.StartContainer(ctx, opts)
	if err != nil {
		return result, err
	}
	defer func() {
		if removeErr := c.Remove(context.WithoutCancel(ctx)); removeErr != nil {
			slog.Warn("Failed to remove workload container", "containerID", c.ID(), "error", removeErr)
		}
	}()

	if mode == OutputStartup {
		logs, err := c.Logs(ctx)
		if err != nil {
			return result, err
		}

		limit := r.settings.MaxStartupLines
		result.Lines, err = r.streamer.StreamLines(ctx, logs, limit)
		logs.Close()
		if err != nil {
			slog.Warn("Stopped relaying startup output", "containerID", c.ID(), "error", err)
		}

		if result.Lines >= limit {
			result.Capped = true
			result.ExitCode = -1
			slog.Info("Startup window reached, stopping container", "containerID", c.ID(), "lines", result.Lines)
			return result, nil
		}
	}

	result.ExitCode, err = c.Wait(ctx)
	if err != nil {
		return result, err
	}

	slog.Info("Workload container exited", "containerID", c.ID(), "mode", mode.String(), "exitCode", result.ExitCode)
	return result, nil
}
