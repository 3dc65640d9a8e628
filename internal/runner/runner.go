// Package runner drives a freshly booted machine through the job lifecycle:
// network settle, connectivity probe, identity resolution, config fetch,
// bootstrap scripts, image pull, an observed startup run, the privacy
// boundary and the silent workload run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"jobrunner/internal/backend"
	"jobrunner/internal/config"
	runnerErrors "jobrunner/internal/errors"
	"jobrunner/internal/parser"
	"jobrunner/internal/ui"
	"jobrunner/pkg/job"
	"jobrunner/pkg/runtime"
)

// Backend is the subset of the Backend Job Service the runner calls.
type Backend interface {
	LogPoster
	JobResolver
	FetchConfig(ctx context.Context, jobID string) ([]byte, error)
}

// Runner is a single-use state machine. Create one per job run.
type Runner struct {
	settings *config.Settings
	backend  Backend
	runtime  runtime.ContainerRuntime
	console  *ui.Console
	streamer *Streamer
	resolver *IdentityResolver

	phase        Phase
	jobID        string
	jobConfig    *job.Config
	onTransition TransitionFunc
	sleep        func(ctx context.Context, d time.Duration) error
}

// New creates a runner in the booting phase.
func New(settings *config.Settings, backend Backend, containerRuntime runtime.ContainerRuntime, console *ui.Console) *Runner {
	r := &Runner{
		settings: settings,
		backend:  backend,
		runtime:  containerRuntime,
		console:  console,
		resolver: NewIdentityResolver(backend),
		phase:    PhaseBooting,
		jobID:    settings.JobID,
		sleep:    sleepContext,
	}
	r.streamer = NewStreamer(backend, console, settings.LogTimeout, r.JobID)
	return r
}

// OnTransition registers fn to be called after every phase change.
func (r *Runner) OnTransition(fn TransitionFunc) {
	r.onTransition = fn
}

// Phase returns the current phase.
func (r *Runner) Phase() Phase {
	return r.phase
}

// JobID returns the identity used for backend calls.
func (r *Runner) JobID() string {
	return r.jobID
}

// JobConfig returns the fetched job config, or nil before it is fetched.
func (r *Runner) JobConfig() *job.Config {
	return r.jobConfig
}

// StreamingEnabled reports whether the privacy boundary is still ahead.
func (r *Runner) StreamingEnabled() bool {
	return r.streamer.Enabled()
}

// Run steps through every phase until the runner completes or fails. The
// returned error is a *errors.RunnerError when a mandatory phase failed.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("Starting job runner", "jobId", r.jobID, "backendURL", r.settings.BackendURL)

	for !r.phase.IsTerminal() {
		next, err := r.step(ctx)
		if err != nil {
			r.fail(ctx, err)
			return err
		}
		r.transition(next, nil)
	}

	slog.Info("Job runner completed", "jobId", r.jobID)
	return nil
}

// step executes the current phase and returns the phase that follows it.
func (r *Runner) step(ctx context.Context) (Phase, error) {
	switch r.phase {
	case PhaseBooting:
		return PhaseConnectivityChecking, r.boot(ctx)
	case PhaseConnectivityChecking:
		r.checkConnectivity(ctx)
		return PhaseResolvingIdentity, nil
	case PhaseResolvingIdentity:
		r.resolveIdentity(ctx)
		return PhaseFetchingConfig, nil
	case PhaseFetchingConfig:
		return PhaseRunningBootstrap, r.fetchConfig(ctx)
	case PhaseRunningBootstrap:
		return PhasePullingImage, r.runBootstrap(ctx)
	case PhasePullingImage:
		return PhaseStreamingStartup, r.pullImage(ctx)
	case PhaseStreamingStartup:
		return PhasePrivacyBoundaryCrossed, r.streamStartup(ctx)
	case PhasePrivacyBoundaryCrossed:
		r.crossPrivacyBoundary(ctx)
		return PhaseRunningWorkload, nil
	case PhaseRunningWorkload:
		return PhaseCompleted, r.runWorkload(ctx)
	default:
		return r.phase, fmt.Errorf("no transition out of phase %s", r.phase)
	}
}

func (r *Runner) transition(next Phase, err error) {
	prev := r.phase
	r.phase = next
	slog.Info("Runner phase changed", "from", prev.String(), "to", next.String(), "jobId", r.jobID)

	if r.onTransition != nil {
		r.onTransition(Transition{From: prev, To: next, JobID: r.jobID, Err: err})
	}
}

// fail emits the single fatal line and moves to PhaseFailed.
func (r *Runner) fail(ctx context.Context, err error) {
	cause := err.Error()
	var runnerErr *runnerErrors.RunnerError
	if errors.As(err, &runnerErr) && runnerErr.Cause != "" {
		cause = runnerErr.Cause
	}

	r.streamer.Log(context.WithoutCancel(ctx), "fatal error: "+cause)
	r.transition(PhaseFailed, err)
}

func (r *Runner) boot(ctx context.Context) error {
	r.streamer.Log(ctx, fmt.Sprintf("runner started (JOB_ID=%s)", r.jobID))
	r.streamer.Log(ctx, fmt.Sprintf("waiting for network (%s)", r.settings.NetworkWait))

	if err := r.sleep(ctx, r.settings.NetworkWait); err != nil {
		return runnerErrors.NewRuntimeError(
			"Waiting for network",
			"interrupted while waiting for network",
			"",
			err,
		)
	}
	return nil
}

// checkConnectivity posts one probe line. Failure only prints a warning.
func (r *Runner) checkConnectivity(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.settings.ConnectivityTimeout)
	defer cancel()

	err := r.backend.PostLog(ctx, r.jobID, ui.FormatRunnerMessage("connectivity check"))
	if err == nil {
		return
	}

	status := "000"
	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) {
		status = fmt.Sprintf("%03d", statusErr.StatusCode)
	}

	slog.Warn("Backend connectivity check failed", "backendURL", r.settings.BackendURL, "error", err)
	r.console.PrintWarning(fmt.Sprintf(
		"Backend unreachable (HTTP %s). Set %s_BACKEND_URL to a URL reachable from this machine.",
		status, config.EnvPrefix))
}

func (r *Runner) resolveIdentity(ctx context.Context) {
	resolved := r.resolver.Resolve(ctx, r.jobID)
	if resolved != r.jobID {
		r.jobID = resolved
		r.streamer.Log(ctx, "resolved job id: "+r.jobID)
		return
	}
	r.streamer.Log(ctx, "using job id by name: "+r.jobID)
}

func (r *Runner) fetchConfig(ctx context.Context) error {
	r.streamer.Log(ctx, "fetching job config")

	data, err := r.backend.FetchConfig(ctx, r.jobID)
	if err != nil {
		return noConfigError(err)
	}

	cfg, err := parser.ParseJobConfig(data)
	if err != nil {
		if errors.Is(err, parser.ErrEmptyConfig) || errors.Is(err, parser.ErrNotJSONObject) {
			return noConfigError(err)
		}
		return runnerErrors.NewConfigError(
			"Parsing job config",
			"invalid job config: "+err.Error(),
			"Make sure runtime.docker.image and runtime.docker.command are set for this job.",
			err,
		)
	}

	r.jobConfig = cfg
	slog.Info("Job config fetched", "jobId", r.jobID, "image", cfg.Runtime.Docker.Image,
		"gpu", cfg.Runtime.Docker.GPU, "scripts", cfg.Bootstrap.Scripts)
	return nil
}

func noConfigError(err error) error {
	return runnerErrors.NewConfigFetchError(
		"Fetching job config",
		"failed to fetch job config (no JSON response - check network or backend)",
		"Check that the backend URL is reachable and serves /jobs/{id}/config.",
		err,
	)
}

func (r *Runner) runBootstrap(ctx context.Context) error {
	r.streamer.Log(ctx, "running platform setup scripts")

	for _, name := range r.jobConfig.Bootstrap.Scripts {
		path := r.settings.ScriptPath(name)
		if err := checkScript(path); err != nil {
			return runnerErrors.NewBootstrapMissingError(
				"Running setup script "+name,
				"setup script not found or not executable: "+path,
				"Install the script on the machine image or remove it from bootstrap.scripts.",
				err,
			)
		}

		r.streamer.Log(ctx, "executing setup script: "+name)
		if err := r.runScript(ctx, path); err != nil {
			return runnerErrors.NewBootstrapError(
				"Running setup script "+name,
				fmt.Sprintf("setup script failed: %s: %v", name, err),
				"",
				err,
			)
		}
	}
	return nil
}

func (r *Runner) pullImage(ctx context.Context) error {
	imageName := r.jobConfig.Runtime.Docker.Image
	r.streamer.Log(ctx, "pulling docker image: "+imageName)

	err := r.runtime.PullImage(ctx, imageName, func(line string) {
		r.streamer.Send(ctx, line)
	})
	if err != nil {
		return runnerErrors.NewImagePullError(
			"Pulling image "+imageName,
			fmt.Sprintf("failed to pull docker image %s: %v", imageName, err),
			"Check the image reference and registry access from this machine.",
			err,
		)
	}
	return nil
}

func (r *Runner) streamStartup(ctx context.Context) error {
	r.streamer.Log(ctx, "starting container (startup logs only)")

	result, err := r.runContainer(ctx, r.jobConfig.Runtime.Docker, OutputStartup)
	if err != nil {
		return workloadStartError(err)
	}
	if !result.Capped && result.ExitCode != 0 {
		r.streamer.Log(ctx, fmt.Sprintf("startup container exited with code %d", result.ExitCode))
	}
	return nil
}

func (r *Runner) crossPrivacyBoundary(ctx context.Context) {
	r.streamer.Log(ctx, "log streaming disabled (privacy boundary reached)")
	r.streamer.Disable()
}

func (r *Runner) runWorkload(ctx context.Context) error {
	r.streamer.Log(ctx, "executing user workload silently")

	if _, err := r.runContainer(ctx, r.jobConfig.Runtime.Docker, OutputDiscard); err != nil {
		return workloadStartError(err)
	}

	r.streamer.Log(ctx, "job completed")
	return nil
}

func workloadStartError(err error) error {
	return runnerErrors.NewWorkloadStartError(
		"Running workload container",
		fmt.Sprintf("failed to run workload container: %v", err),
		"Check that the container runtime is healthy and the command exists in the image.",
		err,
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
