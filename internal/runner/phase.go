package runner

// Phase is a step of the runner's lifecycle. Phases only move forward.
type Phase string

const (
	PhaseBooting                Phase = "booting"
	PhaseConnectivityChecking   Phase = "connectivity_checking"
	PhaseResolvingIdentity      Phase = "resolving_identity"
	PhaseFetchingConfig         Phase = "fetching_config"
	PhaseRunningBootstrap       Phase = "running_bootstrap"
	PhasePullingImage           Phase = "pulling_image"
	PhaseStreamingStartup       Phase = "streaming_startup"
	PhasePrivacyBoundaryCrossed Phase = "privacy_boundary_crossed"
	PhaseRunningWorkload        Phase = "running_workload"
	PhaseCompleted              Phase = "completed"
	PhaseFailed                 Phase = "failed"
)

func (p Phase) String() string {
	return string(p)
}

// IsTerminal reports whether no further transition can leave p.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Transition describes one phase change observed by a TransitionFunc.
type Transition struct {
	From  Phase
	To    Phase
	JobID string
	// Err is set only when To is PhaseFailed.
	Err error
}

// TransitionFunc is called after every phase change.
type TransitionFunc func(Transition)
