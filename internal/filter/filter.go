package filter

import (
	"path/filepath"
	"slices"
	"strings"

	"stepbox/pkg/launcher"
)

// dockerToken is the command token that marks a container-management command.
const dockerToken = "docker"

// Predicate reports whether a launch request may be redirected into a container.
type Predicate func(req *launcher.Request) bool

// All combines predicates left to right and stops at the first one that fails.
func All(preds ...Predicate) Predicate {
	return func(req *launcher.Request) bool {
		for _, p := range preds {
			if !p(req) {
				return false
			}
		}
		return true
	}
}

// NotNil rejects a missing request.
func NotNil(req *launcher.Request) bool {
	return req != nil
}

// SkipDockerCommands rejects any request that has a "docker" token anywhere
// in its command line.
//
// This also matches unrelated commands such as `echo docker`; such steps run
// on the host.
func SkipDockerCommands(req *launcher.Request) bool {
	return !slices.Contains(req.Cmds, dockerToken)
}

// SkipShellDockerCommands rejects `sh -c "docker ..."` style requests, where
// the docker command is hidden inside a shell script argument.
func SkipShellDockerCommands(req *launcher.Request) bool {
	cmds := req.Cmds
	if len(cmds) != 3 {
		return true
	}
	return !(isShell(cmds[0]) && isScriptFlag(cmds[1]) && strings.HasPrefix(cmds[2], dockerToken))
}

func isShell(bin string) bool {
	switch filepath.Base(bin) {
	case "sh", "bash":
		return true
	}
	return false
}

func isScriptFlag(flag string) bool {
	return strings.HasPrefix(flag, "-") && !strings.HasPrefix(flag, "--") && strings.Contains(flag, "c")
}

// ShouldRedirect is the default predicate used when decorating a build's launcher.
func ShouldRedirect(req *launcher.Request) bool {
	return NotNil(req) && SkipDockerCommands(req) && SkipShellDockerCommands(req)
}
