package app

import (
	"fmt"

	"jobrunner/internal/runtime"
	pkgruntime "jobrunner/pkg/runtime"
)

// RuntimeFactory creates container runtimes from the name in the runner
// settings, keeping the orchestrator free of concrete implementations.
type RuntimeFactory struct{}

// NewRuntimeFactory creates a new instance of RuntimeFactory.
func NewRuntimeFactory() *RuntimeFactory {
	return &RuntimeFactory{}
}

// GetContainerRuntime returns the container runtime registered under name.
func (f *RuntimeFactory) GetContainerRuntime(name string) (pkgruntime.ContainerRuntime, error) {
	switch name {
	case "docker":
		dockerRuntime, err := runtime.NewDockerRuntime()
		if err != nil {
			return nil, fmt.Errorf("failed to create Docker runtime: %w", err)
		}
		return dockerRuntime, nil
	default:
		return nil, fmt.Errorf("unsupported container runtime: %s", name)
	}
}
