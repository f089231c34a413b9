// Located in pkg/launcher/launcher.go
package launcher

import (
	"context"
	"io"
	"strings"
)

// MaskedToken replaces masked command tokens when a command line is printed.
const MaskedToken = "********"

// Request describes a single process launch issued by a build step.
type Request struct {
	// Cmds is the command line, binary first.
	Cmds []string
	// Masks, when non-nil, has one entry per element of Cmds. A true entry
	// hides the token when the command line is echoed to the build log.
	Masks []bool
	// Dir is the working directory. Empty means the launcher's default.
	Dir string
	// Env overrides entries of the inherited environment.
	Env map[string]string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// ReadStdout and ReadStderr capture the stream instead of forwarding it.
	// The captured bytes are available from Proc after Join returns.
	ReadStdout bool
	ReadStderr bool
}

// Clone returns a copy of r whose slices and map can be modified without
// affecting r.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	if r.Cmds != nil {
		c.Cmds = append([]string(nil), r.Cmds...)
	}
	if r.Masks != nil {
		c.Masks = append([]bool(nil), r.Masks...)
	}
	if r.Env != nil {
		c.Env = make(map[string]string, len(r.Env))
		for k, v := range r.Env {
			c.Env[k] = v
		}
	}
	return &c
}

// Proc is a started process.
type Proc interface {
	// Join blocks until the process exits and returns its exit status.
	Join(ctx context.Context) (int, error)
	// Stdout returns the captured standard output when the request set ReadStdout.
	Stdout() io.Reader
	// Stderr returns the captured standard error when the request set ReadStderr.
	Stderr() io.Reader
	// Kill terminates the process.
	Kill() error
	IsAlive() bool
}

// Channel is a process whose standard input and output are connected to the
// caller. Writes go to the process stdin, reads come from its stdout and
// Close closes stdin.
type Channel interface {
	io.ReadWriteCloser
	// Wait blocks until the process exits. Callers must drain the read side first.
	Wait(ctx context.Context) (int, error)
}

// Launcher starts processes on behalf of a build.
type Launcher interface {
	IsUnix() bool
	Launch(ctx context.Context, req *Request) (Proc, error)
	LaunchChannel(ctx context.Context, cmd []string, out io.Writer, workDir string, env map[string]string) (Channel, error)
	// Kill terminates every process started by this launcher whose
	// environment contains all of modelEnv.
	Kill(ctx context.Context, modelEnv map[string]string) error
}

// FormatCommand renders a command line for the build log, hiding masked tokens.
func FormatCommand(cmds []string, masks []bool) string {
	parts := make([]string, len(cmds))
	for i, c := range cmds {
		if i < len(masks) && masks[i] {
			parts[i] = MaskedToken
			continue
		}
		if c == "" || strings.ContainsAny(c, " \t\n\"'") {
			c = "'" + strings.ReplaceAll(c, "'", `'\''`) + "'"
		}
		parts[i] = c
	}
	return strings.Join(parts, " ")
}
