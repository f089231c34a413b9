package wrapper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"stepbox/internal/decorator"
	"stepbox/internal/filter"
	"stepbox/internal/invocation"
	"stepbox/internal/lifecycle"
	"stepbox/internal/options"
	"stepbox/pkg/build"
	"stepbox/pkg/launcher"
)

// Config is the user configuration of the docker environment of a job.
type Config struct {
	// Image to run steps in. Blank means the build's default image.
	Image string
	// IncludeEnvironment lists the build variables forwarded into the container.
	IncludeEnvironment string
	// Options holds extra docker run options in shell syntax.
	Options string
	// Binary is the container CLI. Blank means docker.
	Binary string
}

// ImageOr returns the configured image, or defaultImage when none is set.
func (c Config) ImageOr(defaultImage string) string {
	if strings.TrimSpace(c.Image) == "" {
		return defaultImage
	}
	return c.Image
}

// Wrapper runs every step of a build inside a new container.
//
// Each step is only started once the previous one succeeded, so each step
// gets its own container; state outside the workspace does not carry over
// from one step to the next. The workspace is mounted into every container,
// which keeps files produced by a step visible to the host and later steps.
type Wrapper struct {
	cfg Config
}

// New creates a Wrapper for cfg.
func New(cfg Config) *Wrapper {
	return &Wrapper{cfg: cfg}
}

// Config returns the wrapper configuration.
func (w *Wrapper) Config() Config {
	return w.cfg
}

// DecorateLauncher returns l wrapped so that build steps run in the build's
// container. It is called once per build.
func (w *Wrapper) DecorateLauncher(ctx context.Context, b build.Build, l launcher.Launcher, log io.Writer) (launcher.Launcher, error) {
	prefix, err := w.RunPrefix(ctx, b)
	if err != nil {
		return nil, err
	}
	return decorator.New(l, prefix, filter.ShouldRedirect, ContainerName(b), log), nil
}

// RunPrefix builds the docker run invocation for b.
func (w *Wrapper) RunPrefix(ctx context.Context, b build.Build) ([]string, error) {
	env, err := b.Environment(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read build environment: %w", err)
	}

	node := b.BuiltOn()
	hostname, err := node.Hostname(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve node hostname: %w", err)
	}

	extra, err := options.Tokenize(w.cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("invalid docker options: %w", err)
	}

	invCtx := invocation.Context{
		Binary:        w.cfg.Binary,
		Workspace:     b.Workspace(),
		TempDir:       node.TempDir(),
		Hostname:      hostname,
		ContainerName: ContainerName(b),
		Image:         w.cfg.ImageOr(b.DefaultImage()),
	}
	opts := invocation.Options{
		IncludeEnvironment: options.Names(w.cfg.IncludeEnvironment),
		Extra:              extra,
	}

	prefix := invocation.RunPrefix(invCtx, opts, env)
	slog.Debug("Built container run prefix", "container", invCtx.ContainerName, "image", invCtx.Image, "args", len(prefix))
	return prefix, nil
}

// Environment is the per-build state returned by SetUp.
type Environment interface {
	// TearDown is called once when the build finishes, whatever its result.
	TearDown(ctx context.Context, b build.Build, log io.Writer) error
}

// SetUp names the build's container and returns the Environment whose
// TearDown removes it.
func (w *Wrapper) SetUp(_ context.Context, b build.Build, _ launcher.Launcher, _ io.Writer) (Environment, error) {
	name := ContainerName(b)
	slog.Debug("Build container assigned", "container", name, "binary", w.cfg.Binary)
	return &dockerEnvironment{binary: w.cfg.Binary, container: name}, nil
}

type dockerEnvironment struct {
	binary    string
	container string
}

// TearDown goes to the node that ran the build and stops and removes the
// container, which is still running when the user aborted a step.
func (e *dockerEnvironment) TearDown(ctx context.Context, b build.Build, log io.Writer) error {
	l := b.BuiltOn().CreateLauncher(log)
	lifecycle.NewManager(l, e.binary, log).Cleanup(ctx, e.container)
	return nil
}

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// ContainerName derives the container name of a build from its job name and
// number. The result is a valid docker container name.
func ContainerName(b build.Build) string {
	return fmt.Sprintf("%s-%d", SanitizeName(b.JobName()), b.Number())
}

// SanitizeName maps a job name onto the characters docker accepts in
// container names.
func SanitizeName(name string) string {
	s := invalidNameChars.ReplaceAllString(name, "_")
	s = strings.TrimLeft(s, "_.-")
	if s == "" {
		return "job"
	}
	return s
}
