package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"jobrunner/internal/backend"
	"jobrunner/internal/config"
	runnerErrors "jobrunner/internal/errors"
	"jobrunner/internal/runner"
	"jobrunner/internal/ui"
	"jobrunner/pkg/runtime"
)

// Run executes one job with the container runtime named in settings.
func Run(ctx context.Context, settings *config.Settings) error {
	console := ui.NewConsole()

	containerRuntime, err := NewRuntimeFactory().GetContainerRuntime(settings.Runtime)
	if err != nil {
		runtimeErr := runnerErrors.NewRuntimeError(
			"Connecting to the container runtime",
			"container runtime unavailable: "+err.Error(),
			"Make sure the Docker daemon is installed and running on this machine.",
			err,
		)
		reportFatal(ctx, settings, console, runtimeErr.Cause)
		return runtimeErr
	}

	return Execute(ctx, settings, containerRuntime, console)
}

// Execute runs the job state machine against an existing container runtime
// and keeps the optional state file current.
func Execute(ctx context.Context, settings *config.Settings, containerRuntime runtime.ContainerRuntime, console *ui.Console) error {
	runID := uuid.New().String()
	slog.Info("Starting job run", "runId", runID, "jobId", settings.JobID, "backendURL", settings.BackendURL)

	client := backend.NewClient(settings.BackendURL, settings.RequestTimeout)
	r := runner.New(settings, client, containerRuntime, console)

	if settings.StateFile != "" {
		trackState(r, settings, runID)
	}

	if err := r.Run(ctx); err != nil {
		slog.Error("Job run failed", "runId", runID, "jobId", r.JobID(), "phase", r.Phase().String(), "error", err)
		return err
	}

	slog.Info("Job run completed", "runId", runID, "jobId", r.JobID())
	return nil
}

// trackState writes the state file now and after every transition. Write
// failures are logged and never affect the run.
func trackState(r *runner.Runner, settings *config.Settings, runID string) {
	path := settings.StateFile

	previous, err := loadState(path)
	if err != nil {
		slog.Warn("Ignoring unreadable state file", "file", path, "error", err)
	} else if previous != nil {
		slog.Warn("State file from an earlier run found, replacing it",
			"file", path, "runId", previous.RunID, "phase", previous.Phase.String())
	}

	state := newState(settings.JobID, runID)
	if err := saveState(path, state); err != nil {
		slog.Warn("Failed to save state", "file", path, "error", err)
	}

	r.OnTransition(func(tr runner.Transition) {
		state.record(tr)
		if err := saveState(path, state); err != nil {
			slog.Warn("Failed to save state", "file", path, "phase", tr.To.String(), "error", err)
		}
	})
}

// reportFatal sends the fatal line for failures that happen before the
// runner exists.
func reportFatal(ctx context.Context, settings *config.Settings, console *ui.Console, cause string) {
	line := ui.FormatRunnerMessage("fatal error: " + cause)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settings.LogTimeout)
	defer cancel()

	client := backend.NewClient(settings.BackendURL, settings.RequestTimeout)
	if err := client.PostLog(ctx, settings.JobID, line); err != nil {
		slog.Debug("Dropped log line", "error", err)
	}
	console.PrintLine(line)
}

// ValidatePrerequisites checks that the configured container runtime is reachable.
func ValidatePrerequisites(settings *config.Settings) error {
	slog.Info("Validating jobrunner prerequisites", "runtime", settings.Runtime)

	if _, err := NewRuntimeFactory().GetContainerRuntime(settings.Runtime); err != nil {
		return fmt.Errorf("container runtime prerequisite check failed: %w", err)
	}

	slog.Info("All prerequisites validated successfully")
	return nil
}
