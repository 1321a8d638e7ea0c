package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/compozy/agentrix/pkg/logger"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// Git is the version-control plumbing used by the Manager.
type Git interface {
	IsRepository(ctx context.Context, path string) bool
	Clone(ctx context.Context, url, path string) error
	DefaultBranch(ctx context.Context, repoPath string) (string, error)
	BranchExists(ctx context.Context, repoPath, branch string) (bool, error)
	AddWorktree(ctx context.Context, req WorktreeRequest) error
}

// WorktreeRequest describes a `git worktree add` call. A new branch is
// created from Base when CreateBranch is set.
type WorktreeRequest struct {
	RepoPath     string
	WorktreePath string
	Branch       string
	Base         string
	CreateBranch bool
}

type GitOption func(*GoGit)

// WithToken authenticates HTTPS clones with a GitHub token.
func WithToken(token string) GitOption {
	return func(g *GoGit) {
		if token != "" {
			g.auth = &http.BasicAuth{Username: "x-access-token", Password: token}
		}
	}
}

func WithBinary(binary string) GitOption {
	return func(g *GoGit) {
		if binary != "" {
			g.binary = binary
		}
	}
}

// GoGit reads repositories with go-git and shells out to the git binary for
// linked worktrees, which go-git cannot create.
type GoGit struct {
	binary string
	auth   transport.AuthMethod
}

func NewGoGit(opts ...GitOption) *GoGit {
	g := &GoGit{binary: "git"}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GoGit) IsRepository(_ context.Context, path string) bool {
	_, err := git.PlainOpen(path)
	return err == nil
}

func (g *GoGit) Clone(ctx context.Context, url, path string) error {
	log := logger.FromContext(ctx)
	log.Info("Cloning repository", "url", redactURL(url), "path", path)
	_, err := git.PlainCloneContext(ctx, path, false, &git.CloneOptions{
		URL:  url,
		Auth: g.auth,
	})
	if err != nil {
		if rmErr := os.RemoveAll(path); rmErr != nil {
			log.Warn("Failed to remove partial clone", "path", path, "error", rmErr)
		}
		return &GitError{Op: "clone", Path: path, Err: err}
	}
	return nil
}

// DefaultBranch prefers origin/HEAD and falls back to the checked out branch.
func (g *GoGit) DefaultBranch(_ context.Context, repoPath string) (string, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return "", &GitError{Op: "open", Path: repoPath, Err: err}
	}
	if ref, err := repo.Reference(plumbing.NewRemoteHEADReferenceName("origin"), true); err == nil {
		short := ref.Name().Short()
		return strings.TrimPrefix(short, "origin/"), nil
	}
	head, err := repo.Head()
	if err != nil {
		return "", &GitError{Op: "rev-parse HEAD", Path: repoPath, Err: err}
	}
	if !head.Name().IsBranch() {
		return "", &GitError{Op: "rev-parse HEAD", Path: repoPath, Err: errors.New("HEAD is detached")}
	}
	return head.Name().Short(), nil
}

// BranchExists reports whether branch exists locally or on origin.
func (g *GoGit) BranchExists(_ context.Context, repoPath, branch string) (bool, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return false, &GitError{Op: "open", Path: repoPath, Err: err}
	}
	for _, name := range []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(branch),
		plumbing.NewRemoteReferenceName("origin", branch),
	} {
		_, err := repo.Reference(name, false)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return false, &GitError{Op: "show-ref", Path: repoPath, Err: err}
		}
	}
	return false, nil
}

func (g *GoGit) AddWorktree(ctx context.Context, req WorktreeRequest) error {
	args := []string{"-C", req.RepoPath, "worktree", "add"}
	if req.CreateBranch {
		args = append(args, "-b", req.Branch, req.WorktreePath)
		if req.Base != "" {
			args = append(args, req.Base)
		}
	} else {
		args = append(args, req.WorktreePath, req.Branch)
	}
	cmd := exec.CommandContext(ctx, g.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &GitError{Op: "worktree add", Path: req.WorktreePath, Output: string(output), Err: err}
	}
	return nil
}

func redactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	return fmt.Sprintf("%s://***%s", raw[:scheme], raw[at:])
}
