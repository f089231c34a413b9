package invocation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"stepbox/pkg/build"
)

func testContext() Context {
	return Context{
		Workspace:     "/a",
		TempDir:       "/tmp",
		Hostname:      "node1",
		ContainerName: "build-42",
		Image:         "ubuntu",
	}
}

func TestRunPrefix_FixedFlags(t *testing.T) {
	args := RunPrefix(testContext(), Options{}, nil)

	want := []string{
		"docker", "run", "-i", "--rm",
		"--name", "build-42",
		"-w", "/a",
		"-v", "/a:/a",
		"-v", "/tmp:/tmp",
		"-h", "node1",
		"-e", "WORKSPACE=$WORKSPACE",
		"ubuntu",
	}
	assert.Equal(t, want, args)
}

func TestRunPrefix_ImageIsLastToken(t *testing.T) {
	opts := Options{
		IncludeEnvironment: []string{"PATH"},
		Extra:              []string{"--network", "host"},
	}
	args := RunPrefix(testContext(), opts, build.EnvVars{"PATH": "/usr/bin"})

	assert.Equal(t, "ubuntu", args[len(args)-1])
	assert.Equal(t, []string{"-e", "WORKSPACE=$WORKSPACE"}, args[len(args)-3:len(args)-1])
}

func TestRunPrefix_AllowlistFiltersEnvironment(t *testing.T) {
	env := build.EnvVars{
		"PATH":   "/usr/local/bin:/usr/bin",
		"HOME":   "/home/ci",
		"SECRET": "x",
	}
	opts := Options{IncludeEnvironment: []string{"PATH", "HOME"}}

	args := RunPrefix(testContext(), opts, env)
	joined := strings.Join(args, " ")

	assert.Contains(t, args, "PATH=/usr/local/bin:/usr/bin")
	assert.Contains(t, args, "HOME=/home/ci")
	assert.NotContains(t, joined, "SECRET")
}

func TestRunPrefix_EnvironmentInNaturalOrder(t *testing.T) {
	env := build.EnvVars{
		"path":         "p",
		"HOME":         "h",
		"Build_Number": "7",
	}
	opts := Options{IncludeEnvironment: []string{"path", "HOME", "Build_Number"}}

	args := RunPrefix(testContext(), opts, env)

	var injected []string
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-e" && !strings.HasPrefix(args[i+1], "WORKSPACE=") {
			injected = append(injected, args[i+1])
		}
	}
	assert.Equal(t, []string{"Build_Number=7", "HOME=h", "path=p"}, injected)
}

func TestRunPrefix_AllowlistedButUnsetVariableIsSkipped(t *testing.T) {
	opts := Options{IncludeEnvironment: []string{"JAVA_HOME"}}

	args := RunPrefix(testContext(), opts, build.EnvVars{"PATH": "/bin"})

	assert.NotContains(t, strings.Join(args, " "), "JAVA_HOME")
	assert.NotContains(t, strings.Join(args, " "), "PATH=")
}

func TestRunPrefix_ExtraOptionsVerbatimBeforeWorkspace(t *testing.T) {
	opts := Options{Extra: []string{"--privileged", "-v", "/cache:/cache"}}

	args := RunPrefix(testContext(), opts, nil)

	idx := indexOf(args, "--privileged")
	assert.Equal(t, []string{"--privileged", "-v", "/cache:/cache", "-e", "WORKSPACE=$WORKSPACE", "ubuntu"}, args[idx:])
}

func TestRunPrefix_CustomBinary(t *testing.T) {
	ctx := testContext()
	ctx.Binary = "podman"

	args := RunPrefix(ctx, Options{}, nil)

	assert.Equal(t, []string{"podman", "run"}, args[:2])
}

func TestVolumeAndEnvironment(t *testing.T) {
	assert.Equal(t, "/w:/w", Volume("/w"))
	assert.Equal(t, "K=V=1", Environment("K", "V=1"))
}

func indexOf(args []string, token string) int {
	for i, a := range args {
		if a == token {
			return i
		}
	}
	return -1
}
