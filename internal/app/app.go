package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"stepbox/internal/build"
	stepboxerrors "stepbox/internal/errors"
	"stepbox/internal/parser"
	"stepbox/internal/scm"
	"stepbox/internal/ui"
	"stepbox/internal/workspace"
	"stepbox/internal/wrapper"
	pkgbuild "stepbox/pkg/build"
	"stepbox/pkg/launcher"
	"stepbox/pkg/pipeline"
	"stepbox/pkg/runtime"
)

// Options configures an Executor.
type Options struct {
	PipelinePath string
	// StateDir holds the per-job state files. Defaults to DefaultStateDir.
	StateDir string
	// Log receives the build log. Defaults to os.Stdout.
	Log io.Writer
	// Node runs the build. Defaults to the local machine.
	Node pkgbuild.Node
	// Runtime opens the container engine used to verify that teardown left
	// no container behind. Nil skips the check.
	Runtime func(ctx context.Context) (runtime.ContainerRuntime, error)
	// Notifier replaces the notifier configured in the pipeline.
	Notifier scm.Notifier
	// Getenv resolves token variables. Defaults to os.Getenv.
	Getenv func(string) string
}

// Summary describes a finished build.
type Summary struct {
	Job        string
	Number     int
	RunID      string
	Container  string
	Workspace  string
	Result     Result
	FailedStep string
	ExitStatus int
}

// Executor runs the steps of a pipeline, each inside a fresh container, and
// removes the build container when the build is over.
type Executor struct {
	opts    Options
	log     io.Writer
	console *ui.Console
}

// NewExecutor creates an Executor for opts.
func NewExecutor(opts Options) *Executor {
	if opts.StateDir == "" {
		opts.StateDir = DefaultStateDir
	}
	if opts.Log == nil {
		opts.Log = os.Stdout
	}
	if opts.Node == nil {
		opts.Node = build.NewLocalNode()
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	return &Executor{
		opts:    opts,
		log:     opts.Log,
		console: ui.NewConsoleWithWriters(opts.Log, opts.Log),
	}
}

// Run executes the pipeline once. The returned error is a StepboxError
// unless the build succeeded; the summary is set whenever a build number was
// assigned.
func (e *Executor) Run(ctx context.Context) (*Summary, error) {
	slog.Info("Starting stepbox build", "pipeline", e.opts.PipelinePath)

	p, err := e.load()
	if err != nil {
		return nil, err
	}

	state, err := loadState(e.opts.StateDir, p.Job)
	if err != nil {
		return nil, stepboxerrors.NewFileSystemError("Cannot read job state", err.Error(),
			fmt.Sprintf("Remove or repair the state file in %s", e.opts.StateDir), err)
	}
	number := state.claimBuildNumber()
	if err := saveState(e.opts.StateDir, state); err != nil {
		return nil, stepboxerrors.NewFileSystemError("Cannot write job state", err.Error(),
			"Check that the state directory is writable", err)
	}

	dir, err := resolveWorkspace(p)
	if err != nil {
		return nil, stepboxerrors.NewFileSystemError("Cannot resolve workspace", err.Error(), "", err)
	}

	e.console.PrintStage("Preparing workspace %s", dir)
	gitInfo, err := workspace.Prepare(ctx, p.Workspace, dir, e.opts.Getenv)
	if err != nil {
		e.finish(state, "", number, ResultFailure, "")
		return &Summary{Job: p.Job, Number: number, Workspace: dir, Result: ResultFailure},
			stepboxerrors.NewCheckoutError("Workspace preparation failed", err.Error(),
				"Check the workspace source and checkout settings", err).
				InBuild(stepboxerrors.BuildInfo{Job: p.Job, Number: number})
	}

	run := e.newRun(p, number, dir, gitInfo)
	summary := &Summary{
		Job:       p.Job,
		Number:    number,
		RunID:     run.ID(),
		Container: wrapper.ContainerName(run),
		Workspace: dir,
	}
	slog.Info("Build created", "job", p.Job, "number", number, "runId", run.ID(), "container", summary.Container)

	notifier := e.notifier(p)
	status := commitStatus(gitInfo)
	e.notify(ctx, notifier, status, scm.StateRunning, fmt.Sprintf("build #%d running", number))

	summary.Result, summary.FailedStep, summary.ExitStatus, err = e.execute(ctx, p, run)

	finalState := scm.StateSuccess
	switch summary.Result {
	case ResultFailure:
		finalState = scm.StateFailed
	case ResultAborted:
		finalState = scm.StateCanceled
	}
	e.notify(context.WithoutCancel(ctx), notifier, status, finalState,
		fmt.Sprintf("build #%d %s", number, summary.Result))

	e.finish(state, run.ID(), number, summary.Result, summary.Container)
	e.printResult(summary)
	return summary, inBuild(err, summary)
}

// inBuild records the build on the StepboxError in err's chain.
func inBuild(err error, s *Summary) error {
	var stepboxErr *stepboxerrors.StepboxError
	if errors.As(err, &stepboxErr) {
		stepboxErr.InBuild(stepboxerrors.BuildInfo{Job: s.Job, Number: s.Number, Container: s.Container})
	}
	return err
}

// execute runs the steps between SetUp and TearDown.
func (e *Executor) execute(ctx context.Context, p *pipeline.Pipeline, run *build.Run) (Result, string, int, error) {
	w := wrapper.New(wrapperConfig(p))
	node := run.BuiltOn()
	base := node.CreateLauncher(e.log)

	env, err := w.SetUp(ctx, run, base, e.log)
	if err != nil {
		return ResultFailure, "", -1, stepboxerrors.NewRuntimeError("Container environment setup failed", err.Error(), "", err)
	}
	defer e.tearDown(context.WithoutCancel(ctx), env, run)

	l, err := w.DecorateLauncher(ctx, run, base, e.log)
	if err != nil {
		return ResultFailure, "", -1, stepboxerrors.NewConfigError("Cannot build the docker run command", err.Error(),
			"Check the docker options and include_environment settings of the pipeline", err)
	}

	buildEnv, err := run.Environment(ctx)
	if err != nil {
		return ResultFailure, "", -1, stepboxerrors.NewRuntimeError("Cannot compute the build environment", err.Error(), "", err)
	}

	for i, step := range p.Steps {
		e.console.PrintStage("Step %d/%d: %s", i+1, len(p.Steps), step.Name)

		status, err := e.runStep(ctx, l, step, run.Workspace(), buildEnv)
		if ctx.Err() != nil {
			// the decorated Kill only reaches the local docker client; the
			// container itself is killed at teardown
			if killErr := l.Kill(context.WithoutCancel(ctx), run.KillEnvironment()); killErr != nil {
				slog.Warn("Failed to kill build processes", "error", killErr)
			}
			return ResultAborted, step.Name, status, stepboxerrors.NewAbortError(
				fmt.Sprintf("Build aborted during step '%s'", step.Name), ctx.Err().Error(), "", ctx.Err())
		}
		if err != nil {
			return ResultFailure, step.Name, -1, stepboxerrors.NewStepError(
				fmt.Sprintf("Step '%s' could not run", step.Name), err.Error(),
				"Check that the container CLI is installed and on PATH", err)
		}
		if status != 0 {
			stepErr := fmt.Errorf("step %s exited with status %d", step.Name, status)
			return ResultFailure, step.Name, status, stepboxerrors.NewStepError(
				fmt.Sprintf("Step '%s' failed", step.Name), fmt.Sprintf("exit status %d", status),
				"Check the build log above", stepErr)
		}
	}
	return ResultSuccess, "", 0, nil
}

func (e *Executor) runStep(ctx context.Context, l launcher.Launcher, step pipeline.Step, dir string, env pkgbuild.EnvVars) (int, error) {
	if step.Input != "" {
		return e.runChannelStep(ctx, l, step, dir, env)
	}

	proc, err := l.Launch(ctx, &launcher.Request{
		Cmds:   step.Args(),
		Masks:  step.Masks(),
		Dir:    dir,
		Env:    env,
		Stdout: e.log,
		Stderr: e.log,
	})
	if err != nil {
		return -1, fmt.Errorf("failed to launch step: %w", err)
	}
	return proc.Join(ctx)
}

// runChannelStep feeds the step input while its output is copied to the
// log, so a step that echoes its input cannot fill the output pipe and stall
// the writer. Cancelling ctx kills the step even while input is pending.
func (e *Executor) runChannelStep(ctx context.Context, l launcher.Launcher, step pipeline.Step, dir string, env pkgbuild.EnvVars) (int, error) {
	ch, err := l.LaunchChannel(ctx, step.Args(), e.log, dir, env)
	if err != nil {
		return -1, fmt.Errorf("failed to launch step: %w", err)
	}

	closeInput := sync.OnceFunc(func() {
		if err := ch.Close(); err != nil {
			slog.Debug("Failed to close step input", "step", step.Name, "error", err)
		}
	})
	fed := make(chan struct{})
	go func() {
		defer close(fed)
		if _, err := io.WriteString(ch, step.Input); err != nil {
			slog.Warn("Step stopped reading its input", "step", step.Name, "error", err)
		}
		closeInput()
	}()

	copied := make(chan error, 1)
	go func() {
		_, err := io.Copy(e.log, ch)
		copied <- err
	}()

	copyDone := false
	var copyErr error
	select {
	case copyErr = <-copied:
		copyDone = true
	case <-ctx.Done():
	}

	// when ctx is done Wait kills the step, which also ends the output copy
	status, err := ch.Wait(ctx)
	if !copyDone {
		copyErr = <-copied
	}
	// closing stdin unblocks a write the step will never read
	closeInput()
	<-fed

	if err != nil {
		return status, err
	}
	if copyErr != nil {
		return -1, fmt.Errorf("failed to read step output: %w", copyErr)
	}
	return status, nil
}

func (e *Executor) tearDown(ctx context.Context, env wrapper.Environment, run *build.Run) {
	if err := env.TearDown(ctx, run, e.log); err != nil {
		slog.Warn("Teardown failed", "error", err)
	}
	if e.opts.Runtime == nil {
		return
	}

	name := wrapper.ContainerName(run)
	rt, err := e.opts.Runtime(ctx)
	if err != nil {
		slog.Warn("Skipping container leak check", "error", err)
		return
	}
	defer rt.Close()

	exists, err := rt.ContainerExists(ctx, name)
	if err != nil {
		slog.Warn("Container leak check failed", "container", name, "error", err)
		return
	}
	if !exists {
		return
	}
	e.console.PrintWarning(fmt.Sprintf("container %s survived cleanup; removing it", name))
	if err := rt.RemoveContainer(ctx, name); err != nil {
		slog.Error("Failed to remove leaked container", "container", name, "error", err)
	}
}

func (e *Executor) load() (*pipeline.Pipeline, error) {
	p, err := parser.Parse(e.opts.PipelinePath)
	if errors.Is(err, parser.ErrNotFound) {
		return nil, stepboxerrors.NewPipelineError("Pipeline file not found", e.opts.PipelinePath,
			"Pass the pipeline with --file", err)
	}
	if err != nil {
		return nil, stepboxerrors.NewParseError("Invalid pipeline", err.Error(),
			"Fix the pipeline definition and try again", err)
	}
	slog.Info("Pipeline parsed successfully", "job", p.Job, "steps", len(p.Steps))
	return p, nil
}

func (e *Executor) newRun(p *pipeline.Pipeline, number int, dir string, gitInfo *workspace.GitInfo) *build.Run {
	vars := make(map[string]string)
	for k, v := range gitInfo.Variables() {
		vars[k] = v
	}
	for k, v := range p.Variables() {
		vars[k] = v
	}
	return build.NewRun(build.Options{
		Job:       p.Job,
		Number:    number,
		Workspace: dir,
		Node:      e.opts.Node,
		Variables: vars,
	})
}

func (e *Executor) notifier(p *pipeline.Pipeline) scm.Notifier {
	if e.opts.Notifier != nil {
		return e.opts.Notifier
	}
	if p.Notify.GitLab == nil {
		return nil
	}
	n, err := scm.NewGitLabNotifier(*p.Notify.GitLab, e.opts.Getenv)
	if err != nil {
		e.console.PrintWarning(fmt.Sprintf("commit status reporting disabled: %v", err))
		return nil
	}
	return n
}

// notify never fails the build.
func (e *Executor) notify(ctx context.Context, n scm.Notifier, status scm.Status, state scm.State, description string) {
	if n == nil {
		return
	}
	status.State = state
	status.Description = description
	if err := n.Notify(ctx, status); err != nil {
		slog.Warn("Commit status update failed", "state", state, "error", err)
		e.console.PrintWarning(fmt.Sprintf("commit status update failed: %v", err))
	}
}

func commitStatus(gitInfo *workspace.GitInfo) scm.Status {
	if gitInfo == nil {
		return scm.Status{}
	}
	return scm.Status{Commit: gitInfo.Commit, Ref: gitInfo.Branch}
}

func (e *Executor) finish(state *JobState, runID string, number int, result Result, container string) {
	state.record(runID, number, result, container)
	if err := saveState(e.opts.StateDir, state); err != nil {
		slog.Warn("Failed to save job state", "error", err)
	}
}

func (e *Executor) printResult(s *Summary) {
	msg := fmt.Sprintf("Finished: %s (%s #%d)", s.Result, s.Job, s.Number)
	if s.Result == ResultSuccess {
		e.console.PrintSuccess(msg)
		return
	}
	e.console.PrintError(msg)
}

func resolveWorkspace(p *pipeline.Pipeline) (string, error) {
	dir := p.Workspace.Path
	if dir == "" {
		dir = workspace.DefaultPath(p.Job)
	}
	return filepath.Abs(dir)
}

func wrapperConfig(p *pipeline.Pipeline) wrapper.Config {
	return wrapper.Config{
		Image:              p.Docker.Image,
		IncludeEnvironment: p.Docker.IncludeEnvironment,
		Options:            p.Docker.Options,
		Binary:             p.Docker.Binary,
	}
}
