package testutil

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"stepbox/pkg/launcher"
)

// StubLauncher records launch requests and answers them from stubs keyed by
// the space-joined command line. Unstubbed commands exit 0 with no output.
type StubLauncher struct {
	mu       sync.Mutex
	stubs    map[string]StubResult
	launched []*launcher.Request
	channels [][]string
	opened   []*StubChannel
	kills    []map[string]string
	unix     bool
}

// StubResult is the canned outcome of a launch.
type StubResult struct {
	Status    int
	Stdout    string
	Stderr    string
	LaunchErr error
	JoinErr   error
	// OnLaunch runs before the launch returns, e.g. to cancel a context.
	OnLaunch func()
}

// NewStubLauncher creates a StubLauncher reporting a Unix platform.
func NewStubLauncher() *StubLauncher {
	return &StubLauncher{stubs: make(map[string]StubResult), unix: true}
}

// Stub registers the result for a command line.
func (s *StubLauncher) Stub(cmdline string, result StubResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs[cmdline] = result
}

// Launched returns the requests seen so far, in order.
func (s *StubLauncher) Launched() []*launcher.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*launcher.Request(nil), s.launched...)
}

// Commands returns the command lines seen so far, space-joined.
func (s *StubLauncher) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.launched))
	for _, r := range s.launched {
		out = append(out, strings.Join(r.Cmds, " "))
	}
	return out
}

// Channels returns the command lines of channel launches.
func (s *StubLauncher) Channels() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.channels...)
}

// OpenedChannels returns the channels handed out, in order.
func (s *StubLauncher) OpenedChannels() []*StubChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*StubChannel(nil), s.opened...)
}

// Kills returns the model environments Kill was called with.
func (s *StubLauncher) Kills() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]string(nil), s.kills...)
}

func (s *StubLauncher) IsUnix() bool { return s.unix }

func (s *StubLauncher) Launch(ctx context.Context, req *launcher.Request) (launcher.Proc, error) {
	s.mu.Lock()
	s.launched = append(s.launched, req)
	res := s.stubs[strings.Join(req.Cmds, " ")]
	s.mu.Unlock()

	if res.OnLaunch != nil {
		res.OnLaunch()
	}
	if res.LaunchErr != nil {
		return nil, res.LaunchErr
	}
	if req.Stdout != nil && !req.ReadStdout {
		io.WriteString(req.Stdout, res.Stdout)
	}
	if req.Stderr != nil && !req.ReadStderr {
		io.WriteString(req.Stderr, res.Stderr)
	}
	return &StubProc{status: res.Status, joinErr: res.JoinErr, stdout: res.Stdout, stderr: res.Stderr}, nil
}

func (s *StubLauncher) LaunchChannel(ctx context.Context, cmd []string, out io.Writer, workDir string, env map[string]string) (launcher.Channel, error) {
	s.mu.Lock()
	s.channels = append(s.channels, append([]string(nil), cmd...))
	res := s.stubs[strings.Join(cmd, " ")]
	s.mu.Unlock()

	if res.LaunchErr != nil {
		return nil, res.LaunchErr
	}
	if out != nil {
		io.WriteString(out, res.Stderr)
	}
	ch := &StubChannel{status: res.Status, out: bytes.NewBufferString(res.Stdout)}
	s.mu.Lock()
	s.opened = append(s.opened, ch)
	s.mu.Unlock()
	return ch, nil
}

func (s *StubLauncher) Kill(ctx context.Context, modelEnv map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kills = append(s.kills, modelEnv)
	return nil
}

// StubProc is a finished process.
type StubProc struct {
	status  int
	joinErr error
	stdout  string
	stderr  string
}

func (p *StubProc) Join(ctx context.Context) (int, error) { return p.status, p.joinErr }
func (p *StubProc) Stdout() io.Reader                     { return strings.NewReader(p.stdout) }
func (p *StubProc) Stderr() io.Reader                     { return strings.NewReader(p.stderr) }
func (p *StubProc) Kill() error                           { return nil }
func (p *StubProc) IsAlive() bool                         { return false }

// StubChannel echoes canned output and collects what was written to it.
type StubChannel struct {
	status  int
	out     *bytes.Buffer
	Written bytes.Buffer
	Closed  bool
}

func (c *StubChannel) Read(p []byte) (int, error)  { return c.out.Read(p) }
func (c *StubChannel) Write(p []byte) (int, error) { return c.Written.Write(p) }
func (c *StubChannel) Close() error {
	c.Closed = true
	return nil
}
func (c *StubChannel) Wait(ctx context.Context) (int, error) { return c.status, nil }

var _ launcher.Launcher = (*StubLauncher)(nil)
