package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stepboxerrors "stepbox/internal/errors"
)

func TestExecutor_Plan(t *testing.T) {
	f := newFixture(t, `docker:
  image: alpine:3.20
  include_environment: JOB_NAME
steps:
  - name: compile
    shell: make all
  - name: image
    command: [docker, build, .]
  - name: login
    command: [registry-login, --password, hunter2]
    mask: [2]
`)

	plan, err := f.executor(Options{}).Plan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "demo", plan.Job)
	assert.Equal(t, 1, plan.Number)
	assert.Equal(t, "demo-1", plan.Container)
	assert.Equal(t, "alpine:3.20", plan.Image)
	assert.Equal(t, f.workspace, plan.Workspace)
	assert.Equal(t,
		strings.Replace(f.prefix(1), "-h node1", "-h node1 -e JOB_NAME=demo", 1),
		strings.Join(plan.Prefix, " "))

	require.Len(t, plan.Steps, 3)
	assert.Equal(t, PlanStep{Name: "compile", Command: "/bin/sh -xec 'make all'", InContainer: true}, plan.Steps[0])
	assert.False(t, plan.Steps[1].InContainer)
	assert.NotContains(t, plan.Steps[2].Command, "hunter2")
	assert.Equal(t, "demo #1 in demo-1 (alpine:3.20)", plan.String())

	// planning neither launches anything nor claims a build number
	assert.Empty(t, f.node.Launcher.Commands())
	assert.NoDirExists(t, f.stateDir)
	assert.NoDirExists(t, f.workspace)
}

func TestExecutor_PlanFollowsState(t *testing.T) {
	f := newFixture(t, twoSteps)
	e := f.executor(Options{})

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	plan, err := e.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, plan.Number)
	assert.Equal(t, "demo-2", plan.Container)
}

func TestExecutor_PlanDefaultImage(t *testing.T) {
	f := newFixture(t, `steps:
  - name: compile
    shell: make
`)

	plan, err := f.executor(Options{}).Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stepbox/demo:latest", plan.Image)
	assert.Equal(t, "stepbox/demo:latest", plan.Prefix[len(plan.Prefix)-1])
}

func TestExecutor_PlanInvalidOptions(t *testing.T) {
	f := newFixture(t, `docker:
  options: --label "unterminated
steps:
  - name: compile
    shell: make
`)

	_, err := f.executor(Options{}).Plan(context.Background())
	assert.True(t, errors.Is(err, stepboxerrors.ErrConfigInvalid))
}
