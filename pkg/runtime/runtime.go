// Located in pkg/runtime/runtime.go
package runtime

import (
	"context"
	"io"
)

// RunOptions defines the parameters for running a workload container.
type RunOptions struct {
	Image   string
	Command []string
	// GPU requests access to all GPU devices on the host.
	GPU bool
	// DiscardLogs disables the container log driver so output is never
	// written on the host.
	DiscardLogs bool
}

// Container is a created and started container.
type Container interface {
	ID() string
	// Logs follows the combined stdout and stderr of the container,
	// demultiplexed into plain text.
	Logs(ctx context.Context) (io.ReadCloser, error)
	// Wait blocks until the container is no longer running and returns its exit code.
	Wait(ctx context.Context) (int64, error)
	// Remove force-removes the container, killing it if it is still running.
	Remove(ctx context.Context) error
}

// ContainerRuntime defines the contract for container operations.
type ContainerRuntime interface {
	// PullImage pulls image and calls progress once per progress message.
	PullImage(ctx context.Context, image string, progress func(line string)) error
	StartContainer(ctx context.Context, opts RunOptions) (Container, error)
}
