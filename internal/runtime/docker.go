package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"

	"jobrunner/pkg/runtime"
)

// DockerRuntime implements the ContainerRuntime interface using Docker client.
type DockerRuntime struct {
	client *client.Client
}

// NewDockerRuntime creates a new DockerRuntime instance using client.FromEnv.
func NewDockerRuntime() (*DockerRuntime, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	// Check if Docker daemon is accessible
	if _, err := dockerClient.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to connect to Docker daemon: %w", err)
	}

	return &DockerRuntime{
		client: dockerClient,
	}, nil
}

// PullImage pulls a Docker image, reporting one line per status message.
func (d *DockerRuntime) PullImage(ctx context.Context, imageName string, progress func(line string)) error {
	slog.Info("Pulling Docker image", "image", imageName)

	reader, err := d.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	defer reader.Close()

	if err := decodePullStream(reader, progress); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}

	slog.Info("Successfully pulled Docker image", "image", imageName)
	return nil
}

// decodePullStream walks the daemon's JSON message stream. Byte-level
// download ticks are skipped, matching the docker CLI without a terminal.
func decodePullStream(r io.Reader, progress func(line string)) error {
	decoder := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to decode pull output: %w", err)
		}

		if msg.Error != nil {
			return msg.Error
		}
		if msg.Progress != nil && (msg.Progress.Current > 0 || msg.Progress.Total > 0) {
			continue
		}
		if line := formatPullMessage(msg); line != "" && progress != nil {
			progress(line)
		}
	}
}

func formatPullMessage(msg jsonmessage.JSONMessage) string {
	status := strings.TrimSpace(msg.Status)
	if status == "" {
		return strings.TrimSpace(msg.Stream)
	}
	if msg.ID != "" {
		return msg.ID + ": " + status
	}
	return status
}

// StartContainer creates and starts a container. The caller owns the
// returned container and must remove it.
func (d *DockerRuntime) StartContainer(ctx context.Context, opts runtime.RunOptions) (runtime.Container, error) {
	slog.Info("Starting container", "image", opts.Image, "command", opts.Command, "gpu", opts.GPU, "discardLogs", opts.DiscardLogs)

	containerConfig := &container.Config{
		Image: opts.Image,
		Cmd:   opts.Command,
	}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, newHostConfig(opts), nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	containerID := resp.ID

	if err := d.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		// Clean up on start failure
		if removeErr := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); removeErr != nil {
			slog.Error("Failed to remove container after start failure", "containerID", containerID, "error", removeErr)
		}
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	return &dockerContainer{
		client: d.client,
		id:     containerID,
	}, nil
}

func newHostConfig(opts runtime.RunOptions) *container.HostConfig {
	hostConfig := &container.HostConfig{}
	if opts.GPU {
		// Equivalent of `docker run --gpus all`
		hostConfig.Resources.DeviceRequests = []container.DeviceRequest{{
			Count:        -1,
			Capabilities: [][]string{{"gpu"}},
		}}
	}
	if opts.DiscardLogs {
		// Equivalent of `docker run --log-driver none`
		hostConfig.LogConfig = container.LogConfig{Type: "none"}
	}
	return hostConfig
}

// dockerContainer is a handle to a started container.
type dockerContainer struct {
	client  *client.Client
	id      string
	removed bool
}

func (c *dockerContainer) ID() string {
	return c.id
}

// Logs follows the container output and demultiplexes the stdout and
// stderr frames into a single plain stream.
func (c *dockerContainer) Logs(ctx context.Context) (io.ReadCloser, error) {
	logs, err := c.client.ContainerLogs(ctx, c.id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get container logs: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		_, copyErr := stdcopy.StdCopy(pw, pw, logs)
		pw.CloseWithError(copyErr)
	}()

	return &demuxReader{PipeReader: pr, source: logs}, nil
}

// Wait blocks until the container stops and returns its exit code.
func (c *dockerContainer) Wait(ctx context.Context) (int64, error) {
	statusCh, errCh := c.client.ContainerWait(ctx, c.id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return status.StatusCode, fmt.Errorf("container wait failed: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	case err := <-errCh:
		return -1, fmt.Errorf("failed to wait for container: %w", err)
	}
}

// Remove force-removes the container. Calling it twice is a no-op.
func (c *dockerContainer) Remove(ctx context.Context) error {
	if c.removed {
		return nil
	}
	c.removed = true

	if err := c.client.ContainerRemove(ctx, c.id, container.RemoveOptions{Force: true}); err != nil {
		slog.Error("Failed to remove container", "containerID", c.id, "error", err)
		return fmt.Errorf("failed to remove container %s: %w", c.id, err)
	}
	return nil
}

// demuxReader closes both the pipe and the underlying log stream so the
// copying goroutine is released.
type demuxReader struct {
	*io.PipeReader
	source io.ReadCloser
}

func (r *demuxReader) Close() error {
	r.PipeReader.Close()
	return r.source.Close()
}
