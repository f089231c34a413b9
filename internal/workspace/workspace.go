package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"stepbox/pkg/pipeline"
)

// GitInfo describes the commit a workspace is at.
type GitInfo struct {
	Commit string
	Branch string
}

// Variables returns the build variables describing the commit.
func (g *GitInfo) Variables() map[string]string {
	if g == nil {
		return nil
	}
	vars := map[string]string{"GIT_COMMIT": g.Commit}
	if g.Branch != "" {
		vars["GIT_BRANCH"] = g.Branch
	}
	return vars
}

// DefaultPath returns the workspace used for job when the pipeline names none.
func DefaultPath(job string) string {
	return filepath.Join("workspace", job)
}

// Prepare creates the workspace directory dir and populates it from the
// pipeline's source directory and git checkout. It returns the commit the
// workspace is at, or nil when it is not a git working tree.
func Prepare(ctx context.Context, ws pipeline.Workspace, dir string, getenv func(string) string) (*GitInfo, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	if ws.Checkout != nil {
		if err := checkout(ctx, ws.Checkout, dir, getenv); err != nil {
			return nil, err
		}
	}

	if ws.Source != "" {
		if _, err := os.Stat(ws.Source); os.IsNotExist(err) {
			return nil, fmt.Errorf("workspace source directory not found: %s", ws.Source)
		}
		slog.Info("Copying workspace source", "source", ws.Source, "workspace", dir)
		if err := copyDirectory(ws.Source, dir); err != nil {
			return nil, fmt.Errorf("failed to copy source directory: %w", err)
		}
	}

	return Inspect(dir)
}

// Inspect returns the commit checked out in dir, or nil when dir is not
// inside a git working tree.
func Inspect(dir string) (*GitInfo, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		// fresh repository without commits
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	info := &GitInfo{Commit: head.Hash().String()}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}
	return info, nil
}

func checkout(ctx context.Context, co *pipeline.Checkout, dir string, getenv func(string) string) error {
	auth := authFor(co, getenv)

	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		slog.Info("Cloning repository", "url", co.URL, "ref", co.Ref, "workspace", dir)
		opts := &git.CloneOptions{URL: co.URL, Auth: auth}
		if co.Ref != "" {
			opts.ReferenceName = referenceName(co.Ref)
			opts.SingleBranch = true
		}
		if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
			return fmt.Errorf("failed to clone %s: %w", co.URL, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open workspace repository: %w", err)
	}

	slog.Info("Updating existing checkout", "url", co.URL, "ref", co.Ref, "workspace", dir)
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	pull := &git.PullOptions{RemoteName: git.DefaultRemoteName, Auth: auth}
	if co.Ref != "" {
		pull.ReferenceName = referenceName(co.Ref)
		pull.SingleBranch = true
	}
	if err := worktree.PullContext(ctx, pull); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to update checkout: %w", err)
	}
	return nil
}

func referenceName(ref string) plumbing.ReferenceName {
	if strings.HasPrefix(ref, "refs/") {
		return plumbing.ReferenceName(ref)
	}
	return plumbing.NewBranchReferenceName(ref)
}

func authFor(co *pipeline.Checkout, getenv func(string) string) transport.AuthMethod {
	if co.TokenEnv == "" || getenv == nil {
		return nil
	}
	token := getenv(co.TokenEnv)
	if token == "" {
		slog.Warn("Checkout token variable is empty", "variable", co.TokenEnv)
		return nil
	}
	return &http.BasicAuth{
		Username: "oauth2", // GitLab uses oauth2 as username for token auth
		Password: token,
	}
}

// copyDirectory recursively copies a directory from src to dst.
func copyDirectory(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		destPath := filepath.Join(dst, relPath)

		if d.IsDir() {
			if d.Name() == ".git" && path != src {
				return filepath.SkipDir
			}
			return os.MkdirAll(destPath, 0750)
		}
		if !d.Type().IsRegular() {
			slog.Debug("Skipping non-regular file", "path", path)
			return nil
		}

		return copyFile(path, destPath)
	})
}

// copyFile copies a single file from src to dst.
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", src, err)
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", dst, err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to get source file info: %w", err)
	}

	return os.Chmod(dst, srcInfo.Mode())
}
