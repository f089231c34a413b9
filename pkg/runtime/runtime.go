// Located in pkg/runtime/runtime.go
package runtime

import "context"

// ContainerRuntime defines the contract for inspecting the container engine
// the build containers run on.
type ContainerRuntime interface {
	Ping(ctx context.Context) error
	PullImage(ctx context.Context, image string) error
	ImageExists(ctx context.Context, image string) (bool, error)
	ContainerExists(ctx context.Context, name string) (bool, error)
	// RemoveContainer force-removes a container. A missing container is not an error.
	RemoveContainer(ctx context.Context, name string) error
	Close() error
}
