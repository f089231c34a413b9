package launcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"stepbox/pkg/launcher"
)

// ErrEmptyCommand is returned when a launch request has no command.
var ErrEmptyCommand = errors.New("empty command")

// ioWaitDelay bounds how long output copying may outlive a killed process,
// e.g. when a grandchild still holds the output pipe.
const ioWaitDelay = 2 * time.Second

// Local starts processes on the machine stepbox runs on.
type Local struct {
	log io.Writer

	mu    sync.Mutex
	procs map[*localProc]struct{}
}

// NewLocal creates a launcher that echoes each command line to log and
// forwards process output there unless the request says otherwise.
func NewLocal(log io.Writer) *Local {
	if log == nil {
		log = io.Discard
	}
	return &Local{log: log, procs: make(map[*localProc]struct{})}
}

// IsUnix reports whether processes run on a Unix-like platform.
func (l *Local) IsUnix() bool {
	return runtime.GOOS != "windows"
}

// Launch starts the process described by req. It returns once the process
// has started.
func (l *Local) Launch(ctx context.Context, req *launcher.Request) (launcher.Proc, error) {
	if req == nil || len(req.Cmds) == 0 {
		return nil, ErrEmptyCommand
	}

	fmt.Fprintf(l.log, "$ %s\n", launcher.FormatCommand(req.Cmds, req.Masks))

	cmd := exec.Command(req.Cmds[0], req.Cmds[1:]...)
	cmd.Dir = req.Dir
	env := mergeEnv(os.Environ(), req.Env)
	cmd.Env = env.list()
	cmd.Stdin = req.Stdin
	cmd.WaitDelay = ioWaitDelay

	p := newLocalProc(cmd, env)
	switch {
	case req.ReadStdout:
		cmd.Stdout = &p.stdout
	case req.Stdout != nil:
		cmd.Stdout = req.Stdout
	default:
		cmd.Stdout = l.log
	}
	switch {
	case req.ReadStderr:
		cmd.Stderr = &p.stderr
	case req.Stderr != nil:
		cmd.Stderr = req.Stderr
	default:
		cmd.Stderr = l.log
	}

	if err := l.start(p); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", req.Cmds[0], err)
	}
	return p, nil
}

// LaunchChannel starts cmd with its stdin and stdout connected to the
// returned Channel. Standard error goes to out.
func (l *Local) LaunchChannel(ctx context.Context, cmd []string, out io.Writer, workDir string, env map[string]string) (launcher.Channel, error) {
	if len(cmd) == 0 {
		return nil, ErrEmptyCommand
	}

	fmt.Fprintf(l.log, "$ %s\n", launcher.FormatCommand(cmd, nil))

	c := exec.Command(cmd[0], cmd[1:]...)
	c.Dir = workDir
	merged := mergeEnv(os.Environ(), env)
	c.Env = merged.list()
	if out == nil {
		out = l.log
	}
	c.Stderr = out
	c.WaitDelay = ioWaitDelay

	stdin, err := c.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	// an io.Pipe instead of StdoutPipe: Wait must not close the read side
	// before the caller has drained it
	pr, pw := io.Pipe()
	c.Stdout = pw

	p := newLocalProc(c, merged)
	p.afterWait = func() { pw.Close() }
	if err := l.start(p); err != nil {
		pw.Close()
		return nil, fmt.Errorf("failed to start %s: %w", cmd[0], err)
	}
	return &localChannel{localProc: p, stdin: stdin, stdout: pr}, nil
}

// Kill terminates every live process whose environment contains all
// entries of modelEnv.
func (l *Local) Kill(ctx context.Context, modelEnv map[string]string) error {
	l.mu.Lock()
	var targets []*localProc
	for p := range l.procs {
		if p.env.contains(modelEnv) {
			targets = append(targets, p)
		}
	}
	l.mu.Unlock()

	var errs []error
	for _, p := range targets {
		slog.Info("Killing process", "pid", p.cmd.Process.Pid, "command", p.cmd.Args)
		if err := p.Kill(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Local) start(p *localProc) error {
	// holding the lock across Start keeps Kill from missing a process
	// that has started but is not yet tracked
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := p.cmd.Start(); err != nil {
		return err
	}
	l.procs[p] = struct{}{}

	go func() {
		p.waitErr = p.cmd.Wait()
		if p.afterWait != nil {
			p.afterWait()
		}
		close(p.done)

		l.mu.Lock()
		delete(l.procs, p)
		l.mu.Unlock()
	}()
	return nil
}

type localProc struct {
	cmd       *exec.Cmd
	env       envMap
	stdout    bytes.Buffer
	stderr    bytes.Buffer
	afterWait func()
	done      chan struct{}
	waitErr   error
}

func newLocalProc(cmd *exec.Cmd, env envMap) *localProc {
	return &localProc{cmd: cmd, env: env, done: make(chan struct{})}
}

// Join waits for the process to exit. A non-zero exit is reported through
// the status, not as an error. When ctx ends first the process is killed.
func (p *localProc) Join(ctx context.Context) (int, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		if err := p.Kill(); err != nil {
			slog.Warn("Failed to kill process", "pid", p.cmd.Process.Pid, "error", err)
		}
		<-p.done
		return -1, ctx.Err()
	}

	if p.waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(p.waitErr, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, p.waitErr
	}
	return p.cmd.ProcessState.ExitCode(), nil
}

func (p *localProc) Stdout() io.Reader {
	<-p.done
	return bytes.NewReader(p.stdout.Bytes())
}

func (p *localProc) Stderr() io.Reader {
	<-p.done
	return bytes.NewReader(p.stderr.Bytes())
}

func (p *localProc) Kill() error {
	if !p.IsAlive() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}

func (p *localProc) IsAlive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

type localChannel struct {
	*localProc
	stdin  io.WriteCloser
	stdout *io.PipeReader
}

func (c *localChannel) Read(b []byte) (int, error)  { return c.stdout.Read(b) }
func (c *localChannel) Write(b []byte) (int, error) { return c.stdin.Write(b) }
func (c *localChannel) Close() error                { return c.stdin.Close() }

// Wait waits for the process to exit. When ctx ends first the process is
// killed and unread output is discarded.
func (c *localChannel) Wait(ctx context.Context) (int, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		c.stdout.CloseWithError(ctx.Err())
	}
	return c.Join(ctx)
}

// envMap is a process environment.
type envMap map[string]string

func mergeEnv(base []string, overrides map[string]string) envMap {
	env := make(envMap, len(base)+len(overrides))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	for k, v := range overrides {
		env[k] = v
	}
	return env
}

func (e envMap) list() []string {
	out := make([]string, 0, len(e))
	for k, v := range e {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func (e envMap) contains(model map[string]string) bool {
	if len(model) == 0 {
		return false
	}
	for k, v := range model {
		if e[k] != v {
			return false
		}
	}
	return true
}

var _ launcher.Launcher = (*Local)(nil)
