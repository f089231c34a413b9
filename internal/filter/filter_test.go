package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"stepbox/pkg/launcher"
)

func TestShouldRedirect(t *testing.T) {
	tests := []struct {
		name string
		req  *launcher.Request
		want bool
	}{
		{
			name: "nil request",
			req:  nil,
			want: false,
		},
		{
			name: "plain build command",
			req:  &launcher.Request{Cmds: []string{"make", "all"}},
			want: true,
		},
		{
			name: "docker ps",
			req:  &launcher.Request{Cmds: []string{"docker", "ps"}},
			want: false,
		},
		{
			name: "docker token in the middle",
			req:  &launcher.Request{Cmds: []string{"sudo", "docker", "build", "."}},
			want: false,
		},
		{
			name: "echo docker is skipped too",
			req:  &launcher.Request{Cmds: []string{"echo", "docker"}},
			want: false,
		},
		{
			name: "docker as substring of a token is redirected",
			req:  &launcher.Request{Cmds: []string{"echo", "dockerfile"}},
			want: true,
		},
		{
			name: "shell script starting with docker",
			req:  &launcher.Request{Cmds: []string{"/bin/sh", "-c", "docker build -t app ."}},
			want: false,
		},
		{
			name: "shell script with combined flags starting with docker",
			req:  &launcher.Request{Cmds: []string{"/bin/sh", "-xec", "docker compose up"}},
			want: false,
		},
		{
			name: "bash script starting with docker",
			req:  &launcher.Request{Cmds: []string{"bash", "-c", "docker-compose down"}},
			want: false,
		},
		{
			name: "shell script not starting with docker",
			req:  &launcher.Request{Cmds: []string{"/bin/sh", "-c", "make && docker push app"}},
			want: true,
		},
		{
			name: "shell script with extra arguments",
			req:  &launcher.Request{Cmds: []string{"/bin/sh", "-c", "docker ps", "extra"}},
			want: true,
		},
		{
			name: "non shell binary with docker script",
			req:  &launcher.Request{Cmds: []string{"python3", "-c", "docker ps"}},
			want: true,
		},
		{
			name: "empty command",
			req:  &launcher.Request{},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRedirect(tt.req))
		})
	}
}

func TestAll_ShortCircuits(t *testing.T) {
	var calls []string
	pass := func(name string) Predicate {
		return func(*launcher.Request) bool {
			calls = append(calls, name)
			return true
		}
	}
	fail := func(name string) Predicate {
		return func(*launcher.Request) bool {
			calls = append(calls, name)
			return false
		}
	}

	ok := All(pass("first"), fail("second"), pass("third"))(&launcher.Request{})

	assert.False(t, ok)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestAll_EmptyAcceptsEverything(t *testing.T) {
	assert.True(t, All()(nil))
}
