package decorator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"stepbox/internal/filter"
	"stepbox/pkg/launcher"
)

// Decorator wraps a launcher so that every accepted launch request runs
// inside a new container. Requests rejected by the filter are forwarded
// unchanged.
type Decorator struct {
	outer         launcher.Launcher
	prefix        []string
	shouldApply   filter.Predicate
	containerName string
	log           io.Writer
}

// New creates a Decorator. The prefix is copied; later changes to the
// caller's slice are not seen.
func New(outer launcher.Launcher, prefix []string, shouldApply filter.Predicate, containerName string, log io.Writer) *Decorator {
	if shouldApply == nil {
		shouldApply = filter.ShouldRedirect
	}
	if log == nil {
		log = io.Discard
	}
	return &Decorator{
		outer:         outer,
		prefix:        append([]string(nil), prefix...),
		shouldApply:   shouldApply,
		containerName: containerName,
		log:           log,
	}
}

// Prefix returns a copy of the argument vector prepended to redirected commands.
func (d *Decorator) Prefix() []string {
	return append([]string(nil), d.prefix...)
}

// ContainerName returns the name of the container the build's steps run in.
func (d *Decorator) ContainerName() string {
	return d.containerName
}

// IsUnix reports the platform of the wrapped launcher.
func (d *Decorator) IsUnix() bool {
	return d.outer.IsUnix()
}

// Launch rewrites req into a container run when the filter accepts it and
// hands the result to the wrapped launcher.
func (d *Decorator) Launch(ctx context.Context, req *launcher.Request) (launcher.Proc, error) {
	if d.shouldApply(req) {
		fmt.Fprintf(d.log, "Running with docker command: [%s]\n", strings.Join(d.prefix, ", "))
		slog.Debug("Redirecting launch into container", "container", d.containerName, "command", req.Cmds)

		rewritten := req.Clone()
		rewritten.Cmds = d.prefixCmds(req.Cmds)
		if req.Masks != nil {
			rewritten.Masks = d.prefixMasks(req.Masks)
		}
		req = rewritten
	}
	return d.outer.Launch(ctx, req)
}

// LaunchChannel always prefixes cmd; channel launches are not filtered.
func (d *Decorator) LaunchChannel(ctx context.Context, cmd []string, out io.Writer, workDir string, env map[string]string) (launcher.Channel, error) {
	return d.outer.LaunchChannel(ctx, d.prefixCmds(cmd), out, workDir, env)
}

// Kill is forwarded as is. It does not stop the build's container; teardown does.
func (d *Decorator) Kill(ctx context.Context, modelEnv map[string]string) error {
	return d.outer.Kill(ctx, modelEnv)
}

// prefixCmds returns prefix ::: args.
func (d *Decorator) prefixCmds(args []string) []string {
	out := make([]string, 0, len(d.prefix)+len(args))
	out = append(out, d.prefix...)
	return append(out, args...)
}

// prefixMasks keeps masks aligned with prefixCmds: prefix positions are
// unmasked and the original masks follow at their original offsets.
func (d *Decorator) prefixMasks(masks []bool) []bool {
	out := make([]bool, len(d.prefix)+len(masks))
	copy(out[len(d.prefix):], masks)
	return out
}

var _ launcher.Launcher = (*Decorator)(nil)
