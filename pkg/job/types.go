package job

// Config is the job configuration served by the backend for a single job.
// It's fetched once per run and never modified afterwards.
type Config struct {
	Runtime   Runtime   `json:"runtime"`
	Bootstrap Bootstrap `json:"bootstrap"`
}

// Runtime holds the workload runtime settings.
type Runtime struct {
	Docker DockerRuntime `json:"docker"`
}

// DockerRuntime describes the workload container.
type DockerRuntime struct {
	Image string `json:"image" validate:"required"`
	// Command is split on whitespace into the container arguments.
	Command string `json:"command" validate:"required"`
	GPU     bool   `json:"gpu"`
}

// Bootstrap lists the platform setup scripts to run before the workload, in order.
type Bootstrap struct {
	Scripts []string `json:"scripts" validate:"dive,required,excludesall=/\\"`
}
