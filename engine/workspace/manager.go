package workspace

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/compozy/agentrix/pkg/logger"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
)

const DefaultCloneURLTemplate = "https://github.com/{org}/{repo}.git"

// ViewPublisher receives every freshly scanned inventory.
type ViewPublisher interface {
	PublishRepositories(ctx context.Context, inv Inventory)
}

type RepositoryResult struct {
	RepositoryPath   string
	ClonedRepository bool
}

type WorktreeOptions struct {
	DefaultBranchOverride string
}

type WorktreeResult struct {
	WorktreePath    string
	CreatedWorktree bool
}

type Option func(*Manager)

// WithFs replaces the filesystem used for existence checks and scans.
func WithFs(fsys afero.Fs) Option {
	return func(m *Manager) {
		if fsys != nil {
			m.fs = fsys
		}
	}
}

func WithPublisher(p ViewPublisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithCloneURLTemplate sets the clone URL; {org} and {repo} are substituted.
func WithCloneURLTemplate(tmpl string) Option {
	return func(m *Manager) {
		if tmpl != "" {
			m.cloneURL = tmpl
		}
	}
}

// WithDefaultBranches sets the fallback base branches for new worktrees.
func WithDefaultBranches(branches ...string) Option {
	return func(m *Manager) {
		if len(branches) > 0 {
			m.defaultBranches = append([]string(nil), branches...)
		}
	}
}

// Manager provisions repositories and worktrees under a workspace root.
type Manager struct {
	git             Git
	fs              afero.Fs
	cloneURL        string
	defaultBranches []string
	publisher       ViewPublisher
	locks           *keyedMutex
	scans           singleflight.Group
}

func NewManager(git Git, opts ...Option) *Manager {
	m := &Manager{
		git:             git,
		fs:              afero.NewOsFs(),
		cloneURL:        DefaultCloneURLTemplate,
		defaultBranches: []string{"main", "master"},
		locks:           newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CloneURL renders the clone URL for org/repo.
func (m *Manager) CloneURL(org, repo string) string {
	return strings.NewReplacer("{org}", org, "{repo}", repo).Replace(m.cloneURL)
}

// EnsureRepositoryReady clones org/repo unless its repository path already
// opens as a git repository.
func (m *Manager) EnsureRepositoryReady(ctx context.Context, root, org, repo string) (RepositoryResult, error) {
	if err := validateNames(org, repo); err != nil {
		return RepositoryResult{}, err
	}
	repoPath := RepositoryPath(root, org, repo)
	unlock := m.locks.Lock("repository:" + org + "/" + repo)
	defer unlock()
	if m.git.IsRepository(ctx, repoPath) {
		return RepositoryResult{RepositoryPath: repoPath}, nil
	}
	if err := m.fs.MkdirAll(filepath.Dir(repoPath), 0o755); err != nil {
		return RepositoryResult{}, fmt.Errorf("failed to create repository directory: %w", err)
	}
	if err := m.git.Clone(ctx, m.CloneURL(org, repo), repoPath); err != nil {
		return RepositoryResult{}, err
	}
	logger.FromContext(ctx).Info("Repository cloned", "org", org, "repo", repo, "path", repoPath)
	return RepositoryResult{RepositoryPath: repoPath, ClonedRepository: true}, nil
}

// EnsureWorktreeReady adds a linked worktree for branch unless one exists.
// A missing branch is created from the override or the detected default.
func (m *Manager) EnsureWorktreeReady(
	ctx context.Context,
	root, org, repo, branch string,
	opts WorktreeOptions,
) (WorktreeResult, error) {
	if err := validateNames(org, repo); err != nil {
		return WorktreeResult{}, err
	}
	worktreePath, err := WorktreePath(root, org, repo, branch)
	if err != nil {
		return WorktreeResult{}, err
	}
	repoPath := RepositoryPath(root, org, repo)
	unlock := m.locks.Lock("worktree:" + worktreePath)
	defer unlock()
	if !m.git.IsRepository(ctx, repoPath) {
		return WorktreeResult{}, fmt.Errorf("%w: %s/%s", ErrRepositoryNotReady, org, repo)
	}
	if hasGitEntry(m.fs, worktreePath) {
		return WorktreeResult{WorktreePath: worktreePath}, nil
	}
	// Worktree adds write the shared .git directory, so they run one at a
	// time per repository even for different branches.
	unlockRepo := m.locks.Lock("worktrees:" + org + "/" + repo)
	defer unlockRepo()
	exists, err := m.git.BranchExists(ctx, repoPath, branch)
	if err != nil {
		return WorktreeResult{}, err
	}
	req := WorktreeRequest{
		RepoPath:     repoPath,
		WorktreePath: worktreePath,
		Branch:       branch,
		CreateBranch: !exists,
	}
	if !exists {
		req.Base = m.resolveBase(ctx, repoPath, opts.DefaultBranchOverride)
	}
	if err := m.fs.MkdirAll(filepath.Dir(worktreePath), 0o755); err != nil {
		return WorktreeResult{}, fmt.Errorf("failed to create worktrees directory: %w", err)
	}
	if err := m.git.AddWorktree(ctx, req); err != nil {
		return WorktreeResult{}, err
	}
	logger.FromContext(ctx).Info(
		"Worktree created",
		"org", org,
		"repo", repo,
		"branch", branch,
		"base", req.Base,
		"path", worktreePath,
	)
	return WorktreeResult{WorktreePath: worktreePath, CreatedWorktree: true}, nil
}

func (m *Manager) resolveBase(ctx context.Context, repoPath, override string) string {
	if override != "" {
		return override
	}
	base, err := m.git.DefaultBranch(ctx, repoPath)
	if err == nil && base != "" {
		return base
	}
	if err != nil {
		logger.FromContext(ctx).Debug("Falling back to configured default branch", "error", err)
	}
	for _, candidate := range m.defaultBranches {
		ok, err := m.git.BranchExists(ctx, repoPath, candidate)
		if err == nil && ok {
			return candidate
		}
	}
	return ""
}

// RefreshRepositoryViews rescans root and publishes the result. Concurrent
// calls for the same root share one scan.
func (m *Manager) RefreshRepositoryViews(ctx context.Context, root string) (Inventory, error) {
	v, err, _ := m.scans.Do(root, func() (any, error) {
		return ScanInventory(m.fs, root)
	})
	if err != nil {
		return Inventory{}, err
	}
	inv := v.(Inventory)
	if m.publisher != nil {
		m.publisher.PublishRepositories(ctx, inv)
	}
	return inv, nil
}

func validateNames(org, repo string) error {
	if err := validateSegment("organization", org); err != nil {
		return err
	}
	return validateSegment("repository", repo)
}
