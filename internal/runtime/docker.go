package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"stepbox/pkg/runtime"
)

// dockerAPI is the subset of the Docker client used by DockerRuntime.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// DockerRuntime implements the ContainerRuntime interface using Docker client.
type DockerRuntime struct {
	client dockerAPI
}

// NewDockerRuntime creates a new DockerRuntime instance using client.FromEnv.
func NewDockerRuntime(ctx context.Context) (*DockerRuntime, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	d := &DockerRuntime{client: dockerClient}
	if err := d.Ping(ctx); err != nil {
		dockerClient.Close()
		return nil, err
	}
	return d, nil
}

// Ping checks that the Docker daemon is accessible.
func (d *DockerRuntime) Ping(ctx context.Context) error {
	ping, err := d.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to Docker daemon: %w", err)
	}
	slog.Debug("Docker daemon reachable", "apiVersion", ping.APIVersion, "osType", ping.OSType)
	return nil
}

// PullImage pulls a Docker image.
func (d *DockerRuntime) PullImage(ctx context.Context, imageName string) error {
	slog.Info("Pulling Docker image", "image", imageName)

	reader, err := d.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	defer reader.Close()

	// Stream the pull output (but don't print it to avoid clutter)
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to stream image pull output: %w", err)
	}

	slog.Info("Successfully pulled Docker image", "image", imageName)
	return nil
}

// ImageExists reports whether imageName is present locally.
func (d *DockerRuntime) ImageExists(ctx context.Context, imageName string) (bool, error) {
	images, err := d.client.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", imageName)),
	})
	if err != nil {
		return false, fmt.Errorf("failed to list images: %w", err)
	}
	return len(images) > 0, nil
}

// ContainerExists reports whether a container with exactly this name exists,
// running or not.
func (d *DockerRuntime) ContainerExists(ctx context.Context, name string) (bool, error) {
	containers, err := d.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+name+"$")),
	})
	if err != nil {
		return false, fmt.Errorf("failed to list containers: %w", err)
	}
	// the name filter matches substrings on older daemons
	for _, c := range containers {
		for _, n := range c.Names {
			if n == "/"+name {
				return true, nil
			}
		}
	}
	return false, nil
}

// RemoveContainer force-removes the container called name.
func (d *DockerRuntime) RemoveContainer(ctx context.Context, name string) error {
	err := d.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err == nil || errdefs.IsNotFound(err) {
		return nil
	}
	return fmt.Errorf("failed to remove container %s: %w", name, err)
}

// Close releases the client connection.
func (d *DockerRuntime) Close() error {
	return d.client.Close()
}

var _ runtime.ContainerRuntime = (*DockerRuntime)(nil)
