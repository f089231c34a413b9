package app

import (
	"context"
	"fmt"

	stepboxerrors "stepbox/internal/errors"
	"stepbox/internal/filter"
	"stepbox/internal/workspace"
	"stepbox/internal/wrapper"
	"stepbox/pkg/launcher"
)

// Plan is what the next build of a pipeline would run.
type Plan struct {
	Job       string     `yaml:"job"`
	Number    int        `yaml:"number"`
	Container string     `yaml:"container"`
	Image     string     `yaml:"image"`
	Workspace string     `yaml:"workspace"`
	Prefix    []string   `yaml:"prefix"`
	Steps     []PlanStep `yaml:"steps"`
}

// PlanStep is a step of a Plan.
type PlanStep struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
	// InContainer is false for steps the decorator leaves on the host.
	InContainer bool `yaml:"in_container"`
}

// Plan resolves the next build of the pipeline without touching the
// workspace or the job state.
func (e *Executor) Plan(ctx context.Context) (*Plan, error) {
	p, err := e.load()
	if err != nil {
		return nil, err
	}

	state, err := loadState(e.opts.StateDir, p.Job)
	if err != nil {
		return nil, stepboxerrors.NewFileSystemError("Cannot read job state", err.Error(), "", err)
	}
	dir, err := resolveWorkspace(p)
	if err != nil {
		return nil, stepboxerrors.NewFileSystemError("Cannot resolve workspace", err.Error(), "", err)
	}
	// an existing checkout still contributes its commit to the environment
	gitInfo, err := workspace.Inspect(dir)
	if err != nil {
		gitInfo = nil
	}

	run := e.newRun(p, state.NextBuildNumber, dir, gitInfo)
	cfg := wrapperConfig(p)
	prefix, err := wrapper.New(cfg).RunPrefix(ctx, run)
	if err != nil {
		return nil, stepboxerrors.NewConfigError("Cannot build the docker run command", err.Error(),
			"Check the docker options and include_environment settings of the pipeline", err)
	}

	plan := &Plan{
		Job:       p.Job,
		Number:    run.Number(),
		Container: wrapper.ContainerName(run),
		Image:     cfg.ImageOr(run.DefaultImage()),
		Workspace: dir,
		Prefix:    prefix,
	}
	for _, step := range p.Steps {
		req := &launcher.Request{Cmds: step.Args(), Masks: step.Masks()}
		plan.Steps = append(plan.Steps, PlanStep{
			Name:        step.Name,
			Command:     launcher.FormatCommand(req.Cmds, req.Masks),
			InContainer: step.Input != "" || filter.ShouldRedirect(req),
		})
	}
	return plan, nil
}

// String renders the plan summary line.
func (p *Plan) String() string {
	return fmt.Sprintf("%s #%d in %s (%s)", p.Job, p.Number, p.Container, p.Image)
}
