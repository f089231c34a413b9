package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	hostlauncher "stepbox/internal/launcher"
	"stepbox/internal/wrapper"
	"stepbox/pkg/build"
	"stepbox/pkg/launcher"
)

// CookieVariable marks every process started for a build so that an aborted
// build can find and kill them.
const CookieVariable = "STEPBOX_COOKIE"

// Options describes a build to create.
type Options struct {
	Job       string
	Number    int
	Workspace string
	Node      build.Node
	// Variables are applied on top of the computed build variables.
	Variables map[string]string
}

// Run is one execution of a pipeline on a node.
type Run struct {
	job       string
	number    int
	id        string
	cookie    string
	workspace string
	node      build.Node
	vars      map[string]string
	baseEnv   func() []string
}

// NewRun creates a build with a fresh id and cookie.
func NewRun(opts Options) *Run {
	node := opts.Node
	if node == nil {
		node = NewLocalNode()
	}
	vars := make(map[string]string, len(opts.Variables))
	for k, v := range opts.Variables {
		vars[k] = v
	}
	return &Run{
		job:       opts.Job,
		number:    opts.Number,
		id:        uuid.New().String(),
		cookie:    uuid.New().String(),
		workspace: opts.Workspace,
		node:      node,
		vars:      vars,
		baseEnv:   os.Environ,
	}
}

// ID is the unique id of the build.
func (r *Run) ID() string { return r.id }

// Tag is the human readable build identifier.
func (r *Run) Tag() string {
	return fmt.Sprintf("stepbox-%s-%d", r.job, r.number)
}

// KillEnvironment returns the variables that identify the processes of the build.
func (r *Run) KillEnvironment() map[string]string {
	return map[string]string{CookieVariable: r.cookie}
}

// Environment returns the process environment with the build variables on top.
func (r *Run) Environment(ctx context.Context) (build.EnvVars, error) {
	env := make(build.EnvVars)
	for _, kv := range r.baseEnv() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = v
		}
	}

	host, err := r.node.Hostname(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve node name: %w", err)
	}

	env["JOB_NAME"] = r.job
	env["BUILD_NUMBER"] = strconv.Itoa(r.number)
	env["BUILD_ID"] = r.id
	env["BUILD_TAG"] = r.Tag()
	env["WORKSPACE"] = r.workspace
	env["NODE_NAME"] = host
	env[CookieVariable] = r.cookie
	return env.Overlay(r.vars), nil
}

func (r *Run) Workspace() string    { return r.workspace }
func (r *Run) JobName() string      { return r.job }
func (r *Run) Number() int          { return r.number }
func (r *Run) BuiltOn() build.Node  { return r.node }
func (r *Run) DefaultImage() string { return DefaultImage(r.job) }

// DefaultImage returns the image used for job when the pipeline names none.
func DefaultImage(job string) string {
	return fmt.Sprintf("stepbox/%s:latest", strings.ToLower(wrapper.SanitizeName(job)))
}

// LocalNode is the machine stepbox itself runs on.
type LocalNode struct{}

// NewLocalNode returns the local node.
func NewLocalNode() *LocalNode {
	return &LocalNode{}
}

func (n *LocalNode) Hostname(ctx context.Context) (string, error) {
	return os.Hostname()
}

func (n *LocalNode) TempDir() string {
	return os.TempDir()
}

func (n *LocalNode) CreateLauncher(log io.Writer) launcher.Launcher {
	return hostlauncher.NewLocal(log)
}

var (
	_ build.Build = (*Run)(nil)
	_ build.Node  = (*LocalNode)(nil)
)
