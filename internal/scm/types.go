package scm

import "context"

// State is the result reported for a build.
type State string

const (
	StateRunning  State = "running"
	StateSuccess  State = "success"
	StateFailed   State = "failed"
	StateCanceled State = "canceled"
)

// Status is the build status reported against a commit.
type Status struct {
	State       State
	Commit      string
	Ref         string
	Description string
	TargetURL   string
}

// Notifier reports build progress to a source control provider.
// This interface is provider-agnostic and can be implemented by any SCM provider
// such as GitLab, GitHub, Bitbucket, etc.
type Notifier interface {
	// Notify publishes status for the commit it names.
	Notify(ctx context.Context, status Status) error
}
