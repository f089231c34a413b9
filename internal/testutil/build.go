package testutil

import (
	"context"
	"io"

	"stepbox/pkg/build"
	"stepbox/pkg/launcher"
)

// FakeNode is a build node backed by a StubLauncher.
type FakeNode struct {
	Host        string
	HostErr     error
	Temp        string
	Launcher    *StubLauncher
	LauncherLog io.Writer
}

func (n *FakeNode) Hostname(ctx context.Context) (string, error) { return n.Host, n.HostErr }
func (n *FakeNode) TempDir() string                              { return n.Temp }
func (n *FakeNode) CreateLauncher(log io.Writer) launcher.Launcher {
	n.LauncherLog = log
	return n.Launcher
}

// FakeBuild is a build with fixed values.
type FakeBuild struct {
	Job    string
	Num    int
	Dir    string
	Image  string
	Env    build.EnvVars
	EnvErr error
	Node   *FakeNode
}

// NewFakeBuild returns a build of job "build" number 42 in /a on node1.
func NewFakeBuild() *FakeBuild {
	return &FakeBuild{
		Job:   "build",
		Num:   42,
		Dir:   "/a",
		Image: "stepbox/build:latest",
		Env:   build.EnvVars{},
		Node: &FakeNode{
			Host:     "node1",
			Temp:     "/tmp",
			Launcher: NewStubLauncher(),
		},
	}
}

func (b *FakeBuild) Environment(ctx context.Context) (build.EnvVars, error) { return b.Env, b.EnvErr }
func (b *FakeBuild) Workspace() string                                     { return b.Dir }
func (b *FakeBuild) JobName() string                                       { return b.Job }
func (b *FakeBuild) Number() int                                           { return b.Num }
func (b *FakeBuild) BuiltOn() build.Node                                   { return b.Node }
func (b *FakeBuild) DefaultImage() string                                  { return b.Image }

var (
	_ build.Build = (*FakeBuild)(nil)
	_ build.Node  = (*FakeNode)(nil)
)
