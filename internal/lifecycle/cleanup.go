package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"stepbox/internal/invocation"
	"stepbox/pkg/launcher"
)

const (
	// stopVerb kills the container's main process immediately. A step that
	// was aborted must not get the docker stop grace period.
	stopVerb   = "kill"
	removeVerb = "rm"

	// StatusNotRun is recorded when a cleanup command could not be started.
	StatusNotRun = -1
)

// Result holds the exit status of both cleanup commands.
type Result struct {
	StopStatus   int
	RemoveStatus int
}

// Manager stops and removes a build's container at teardown.
type Manager struct {
	launcher launcher.Launcher
	binary   string
	log      io.Writer
}

// NewManager creates a Manager that runs cleanup commands through l, which
// should be the node's undecorated launcher.
func NewManager(l launcher.Launcher, binary string, log io.Writer) *Manager {
	if binary == "" {
		binary = invocation.DefaultBinary
	}
	if log == nil {
		log = io.Discard
	}
	return &Manager{launcher: l, binary: binary, log: log}
}

// Cleanup kills and then removes the named container. Neither a non-zero
// exit status nor a launch failure stops the sequence, and nothing is
// returned as an error: the container is usually already gone because each
// step runs with --rm.
func (m *Manager) Cleanup(ctx context.Context, containerName string) Result {
	fmt.Fprintf(m.log, "Job is done; attempting to cleanup container by name: %s\n", containerName)
	slog.Info("Cleaning up build container", "container", containerName)

	var res Result
	res.StopStatus = m.run(ctx, stopVerb, containerName)
	res.RemoveStatus = m.run(ctx, removeVerb, containerName)
	return res
}

func (m *Manager) run(ctx context.Context, verb, containerName string) int {
	req := &launcher.Request{
		Cmds:       []string{m.binary, verb, containerName},
		ReadStdout: true,
		ReadStderr: true,
	}

	status, err := m.launchAndJoin(ctx, req)
	if err != nil {
		fmt.Fprintf(m.log, "Failed to run %s %s against container %s: %v\n", m.binary, verb, containerName, err)
		slog.Warn("Container cleanup command failed", "verb", verb, "container", containerName, "error", err)
		return StatusNotRun
	}

	fmt.Fprintf(m.log, "Run %s %s against container %s; got status %d\n", m.binary, verb, containerName, status)
	slog.Debug("Container cleanup command finished", "verb", verb, "container", containerName, "status", status)
	return status
}

func (m *Manager) launchAndJoin(ctx context.Context, req *launcher.Request) (int, error) {
	proc, err := m.launcher.Launch(ctx, req)
	if err != nil {
		return StatusNotRun, err
	}

	status, joinErr := proc.Join(ctx)

	// forward whatever the command printed, even when join failed
	if out := proc.Stdout(); out != nil {
		if _, err := io.Copy(m.log, out); err != nil {
			slog.Warn("Failed to forward cleanup stdout", "error", err)
		}
	}
	if out := proc.Stderr(); out != nil {
		if _, err := io.Copy(m.log, out); err != nil {
			slog.Warn("Failed to forward cleanup stderr", "error", err)
		}
	}

	if joinErr != nil {
		return StatusNotRun, joinErr
	}
	return status, nil
}
