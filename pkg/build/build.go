// Located in pkg/build/build.go
package build

import (
	"context"
	"io"
	"sort"
	"strings"

	"stepbox/pkg/launcher"
)

// EnvVars is a build environment. Its natural order is case-insensitive
// ascending key order.
type EnvVars map[string]string

// Keys returns the variable names in natural order.
func (e EnvVars) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		li, lj := strings.ToLower(keys[i]), strings.ToLower(keys[j])
		if li == lj {
			return keys[i] < keys[j]
		}
		return li < lj
	})
	return keys
}

// Overlay returns a copy of e with the entries of other applied on top.
func (e EnvVars) Overlay(other map[string]string) EnvVars {
	out := make(EnvVars, len(e)+len(other))
	for k, v := range e {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Lookup returns the value of name and whether it is set.
func (e EnvVars) Lookup(name string) (string, bool) {
	v, ok := e[name]
	return v, ok
}

// Node is the machine a build runs on.
type Node interface {
	Hostname(ctx context.Context) (string, error)
	TempDir() string
	// CreateLauncher returns an undecorated launcher that echoes to log.
	CreateLauncher(log io.Writer) launcher.Launcher
}

// Build is a single execution of a job.
type Build interface {
	Environment(ctx context.Context) (EnvVars, error)
	Workspace() string
	JobName() string
	Number() int
	BuiltOn() Node
	// DefaultImage is used when no image is configured.
	DefaultImage() string
}
