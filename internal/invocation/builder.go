package invocation

import (
	"slices"

	"stepbox/pkg/build"
)

const (
	// DefaultBinary is the container CLI used when none is configured.
	DefaultBinary = "docker"

	// WorkspaceVariable is forced into every container. Its value is left
	// for the shell that executes the run command to expand.
	WorkspaceVariable    = "WORKSPACE"
	workspacePlaceholder = "$WORKSPACE"
)

// Context is what the build contributes to a run invocation.
type Context struct {
	Binary        string
	Workspace     string
	TempDir       string
	Hostname      string
	ContainerName string
	Image         string
}

// Options is the user configuration of the invocation, already tokenized.
type Options struct {
	// IncludeEnvironment names the build variables forwarded into the container.
	IncludeEnvironment []string
	// Extra is appended verbatim before the image.
	Extra []string
}

// RunPrefix builds the argument vector that runs a command in a new container.
// The wrapped command's tokens are appended after the image by the caller.
//
// Generated command: <binary> run -i --rm --name <name> -w <ws> -v <ws>:<ws>
// -v <tmp>:<tmp> -h <host> [-e K=V...] [extra...] -e WORKSPACE=$WORKSPACE <image>
func RunPrefix(ctx Context, opts Options, env build.EnvVars) []string {
	binary := ctx.Binary
	if binary == "" {
		binary = DefaultBinary
	}

	args := []string{
		binary, "run",
		"-i",   // attach stdin and stream output
		"--rm", // remove the container once the step exits
		"--name", ctx.ContainerName,
		"-w", ctx.Workspace,
		"-v", Volume(ctx.Workspace),
		// step scripts are generated under the temp dir
		"-v", Volume(ctx.TempDir),
		"-h", ctx.Hostname,
	}

	for _, key := range env.Keys() {
		if slices.Contains(opts.IncludeEnvironment, key) {
			args = append(args, "-e", Environment(key, env[key]))
		}
	}

	args = append(args, opts.Extra...)

	args = append(args, "-e", Environment(WorkspaceVariable, workspacePlaceholder))

	return append(args, ctx.Image)
}

// Volume encodes a path bound to the same path inside the container.
func Volume(path string) string {
	return path + ":" + path
}

// Environment encodes a variable in the -e flag syntax.
func Environment(key, value string) string {
	return key + "=" + value
}
