package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Inventory is the org -> repository -> worktree view of a workspace root.
type Inventory struct {
	Root          string         `json:"root"`
	Organizations []Organization `json:"organizations"`
}

type Organization struct {
	Name         string       `json:"name"`
	Repositories []Repository `json:"repositories"`
}

type Repository struct {
	Name      string     `json:"name"`
	Path      string     `json:"path"`
	Cloned    bool       `json:"cloned"`
	Worktrees []Worktree `json:"worktrees"`
}

type Worktree struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// RepositoryCount returns the number of repositories across all organizations.
func (inv Inventory) RepositoryCount() int {
	n := 0
	for _, org := range inv.Organizations {
		n += len(org.Repositories)
	}
	return n
}

// ScanInventory walks root two levels deep. A missing root yields an empty
// inventory; plain files and dot entries are ignored.
func ScanInventory(fsys afero.Fs, root string) (Inventory, error) {
	inv := Inventory{Root: root, Organizations: []Organization{}}
	orgs, err := listDirs(fsys, root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return inv, nil
		}
		return inv, fmt.Errorf("failed to scan workspace root %s: %w", root, err)
	}
	for _, org := range orgs {
		orgPath := filepath.Join(root, org)
		repos, err := listDirs(fsys, orgPath)
		if err != nil {
			return inv, fmt.Errorf("failed to scan organization %s: %w", org, err)
		}
		entry := Organization{Name: org, Repositories: make([]Repository, 0, len(repos))}
		for _, name := range repos {
			repo, err := scanRepository(fsys, root, org, name)
			if err != nil {
				return inv, err
			}
			entry.Repositories = append(entry.Repositories, repo)
		}
		inv.Organizations = append(inv.Organizations, entry)
	}
	return inv, nil
}

func scanRepository(fsys afero.Fs, root, org, name string) (Repository, error) {
	repoPath := RepositoryPath(root, org, name)
	repo := Repository{
		Name:      name,
		Path:      repoPath,
		Cloned:    hasGitEntry(fsys, repoPath),
		Worktrees: []Worktree{},
	}
	worktreeRoot := filepath.Join(root, org, name, worktreesDir)
	trees, err := listDirs(fsys, worktreeRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return repo, nil
		}
		return repo, fmt.Errorf("failed to scan worktrees of %s/%s: %w", org, name, err)
	}
	for _, tree := range trees {
		repo.Worktrees = append(repo.Worktrees, Worktree{
			Name: tree,
			Path: filepath.Join(worktreeRoot, tree),
		})
	}
	return repo, nil
}

func listDirs(fsys afero.Fs, dir string) ([]string, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// hasGitEntry reports whether dir holds a .git directory or a worktree .git file.
func hasGitEntry(fsys afero.Fs, dir string) bool {
	_, err := fsys.Stat(filepath.Join(dir, ".git"))
	return err == nil
}
