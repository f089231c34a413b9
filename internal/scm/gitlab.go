package scm

import (
	"context"
	"fmt"
	"log/slog"

	gitlab "github.com/xanzy/go-gitlab"

	"stepbox/pkg/pipeline"
)

// GitLabNotifier reports build results as GitLab commit statuses.
type GitLabNotifier struct {
	client  *gitlab.Client
	project string
	name    string
}

// NewGitLabNotifier creates a new GitLabNotifier with authentication.
// The token is read from the variable named in cfg through getenv.
func NewGitLabNotifier(cfg pipeline.GitLab, getenv func(string) string) (*GitLabNotifier, error) {
	token := getenv(cfg.Token())
	if token == "" {
		return nil, fmt.Errorf("%s environment variable is required", cfg.Token())
	}

	client, err := gitlab.NewClient(token, gitlab.WithBaseURL(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}

	return &GitLabNotifier{
		client:  client,
		project: cfg.Project,
		name:    cfg.StatusName(),
	}, nil
}

// Notify sets the commit status of status.Commit.
func (g *GitLabNotifier) Notify(ctx context.Context, status Status) error {
	if status.Commit == "" {
		slog.Debug("No commit to report status for", "project", g.project, "state", status.State)
		return nil
	}

	opts := &gitlab.SetCommitStatusOptions{
		State: buildState(status.State),
		Name:  gitlab.String(g.name),
	}
	if status.Ref != "" {
		opts.Ref = gitlab.String(status.Ref)
	}
	if status.Description != "" {
		opts.Description = gitlab.String(status.Description)
	}
	if status.TargetURL != "" {
		opts.TargetURL = gitlab.String(status.TargetURL)
	}

	slog.Info("Reporting commit status to GitLab", "project", g.project, "commit", status.Commit, "state", status.State)
	if _, _, err := g.client.Commits.SetCommitStatus(g.project, status.Commit, opts, gitlab.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to set GitLab commit status: %w", err)
	}
	return nil
}

func buildState(s State) gitlab.BuildStateValue {
	switch s {
	case StateRunning:
		return gitlab.Running
	case StateSuccess:
		return gitlab.Success
	case StateCanceled:
		return gitlab.Canceled
	default:
		return gitlab.Failed
	}
}

var _ Notifier = (*GitLabNotifier)(nil)
