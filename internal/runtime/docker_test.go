package runtime

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDockerAPI is a mock implementation of the dockerAPI interface
type MockDockerAPI struct {
	*mock.Mock
}

func NewMockDockerAPI() *MockDockerAPI {
	return &MockDockerAPI{Mock: &mock.Mock{}}
}

func (m *MockDockerAPI) Ping(ctx context.Context) (types.Ping, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Ping), args.Error(1)
}

func (m *MockDockerAPI) ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, ref, options)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *MockDockerAPI) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	args := m.Called(ctx, options)
	return args.Get(0).([]image.Summary), args.Error(1)
}

func (m *MockDockerAPI) ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error) {
	args := m.Called(ctx, options)
	return args.Get(0).([]container.Summary), args.Error(1)
}

func (m *MockDockerAPI) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	args := m.Called(ctx, containerID, options)
	return args.Error(0)
}

func (m *MockDockerAPI) Close() error {
	return m.Called().Error(0)
}

func TestDockerRuntime_Ping(t *testing.T) {
	api := NewMockDockerAPI()
	api.On("Ping", mock.Anything).Return(types.Ping{APIVersion: "1.47"}, nil).Once()
	api.On("Ping", mock.Anything).Return(types.Ping{}, errors.New("connection refused")).Once()
	d := &DockerRuntime{client: api}

	assert.NoError(t, d.Ping(context.Background()))
	err := d.Ping(context.Background())
	assert.ErrorContains(t, err, "failed to connect to Docker daemon")
	api.AssertExpectations(t)
}

func TestDockerRuntime_PullImage(t *testing.T) {
	api := NewMockDockerAPI()
	api.On("ImagePull", mock.Anything, "ubuntu:22.04", image.PullOptions{}).
		Return(io.NopCloser(strings.NewReader(`{"status":"Downloaded"}`)), nil)
	api.On("ImagePull", mock.Anything, "missing:latest", image.PullOptions{}).
		Return(nil, errors.New("manifest unknown"))
	d := &DockerRuntime{client: api}

	assert.NoError(t, d.PullImage(context.Background(), "ubuntu:22.04"))
	assert.ErrorContains(t, d.PullImage(context.Background(), "missing:latest"), "failed to pull image missing:latest")
}

func TestDockerRuntime_ImageExists(t *testing.T) {
	api := NewMockDockerAPI()
	api.On("ImageList", mock.Anything, mock.MatchedBy(func(opts image.ListOptions) bool {
		return opts.Filters.ExactMatch("reference", "ubuntu:22.04")
	})).Return([]image.Summary{{ID: "sha256:1"}}, nil)
	api.On("ImageList", mock.Anything, mock.MatchedBy(func(opts image.ListOptions) bool {
		return opts.Filters.ExactMatch("reference", "absent:latest")
	})).Return([]image.Summary{}, nil)
	d := &DockerRuntime{client: api}

	ok, err := d.ImageExists(context.Background(), "ubuntu:22.04")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.ImageExists(context.Background(), "absent:latest")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDockerRuntime_ContainerExists(t *testing.T) {
	tests := []struct {
		name       string
		containers []container.Summary
		listErr    error
		want       bool
		wantErr    string
	}{
		{
			name:       "exact match",
			containers: []container.Summary{{ID: "1", Names: []string{"/build-42"}}},
			want:       true,
		},
		{
			name:       "only a longer name",
			containers: []container.Summary{{ID: "1", Names: []string{"/build-420"}}},
			want:       false,
		},
		{
			name:       "none",
			containers: []container.Summary{},
			want:       false,
		},
		{
			name:       "list error",
			containers: []container.Summary{},
			listErr:    errors.New("daemon gone"),
			wantErr:    "failed to list containers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := NewMockDockerAPI()
			api.On("ContainerList", mock.Anything, mock.MatchedBy(func(opts container.ListOptions) bool {
				return opts.All && opts.Filters.ExactMatch("name", "^/build-42$")
			})).Return(tt.containers, tt.listErr)
			d := &DockerRuntime{client: api}

			got, err := d.ContainerExists(context.Background(), "build-42")
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDockerRuntime_RemoveContainer(t *testing.T) {
	force := container.RemoveOptions{Force: true}
	api := NewMockDockerAPI()
	api.On("ContainerRemove", mock.Anything, "present", force).Return(nil)
	api.On("ContainerRemove", mock.Anything, "gone", force).Return(errdefs.NotFound(errors.New("no such container")))
	api.On("ContainerRemove", mock.Anything, "stuck", force).Return(errors.New("removal in progress"))
	d := &DockerRuntime{client: api}

	assert.NoError(t, d.RemoveContainer(context.Background(), "present"))
	assert.NoError(t, d.RemoveContainer(context.Background(), "gone"))
	assert.ErrorContains(t, d.RemoveContainer(context.Background(), "stuck"), "failed to remove container stuck")
	api.AssertExpectations(t)
}

func TestNewDockerRuntime_RequiresDockerDaemon(t *testing.T) {
	// passes with or without a running daemon; only the error format is checked
	d, err := NewDockerRuntime(context.Background())
	if err != nil {
		errorMsg := err.Error()
		if !strings.HasPrefix(errorMsg, "failed to create Docker client") && !strings.HasPrefix(errorMsg, "failed to connect to Docker daemon") {
			t.Errorf("Unexpected error format: %s", errorMsg)
		}
		return
	}
	d.Close()
}
