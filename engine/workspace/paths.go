package workspace

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	repositoryDir = "repository"
	worktreesDir  = "worktrees"
)

var ErrInvalidName = errors.New("invalid workspace name")

// SanitizeBranchName maps every rune that is not an ASCII letter, digit or
// '-' to '_' so a branch can name a directory.
func SanitizeBranchName(branch string) (string, error) {
	if strings.TrimSpace(branch) == "" {
		return "", fmt.Errorf("%w: branch name cannot be empty", ErrInvalidName)
	}
	var b strings.Builder
	b.Grow(len(branch))
	for _, r := range branch {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String(), nil
}

// RepositoryPath is <root>/<org>/<repo>/repository.
func RepositoryPath(root, org, repo string) string {
	return filepath.Join(root, org, repo, repositoryDir)
}

// WorktreePath is <root>/<org>/<repo>/worktrees/<sanitized branch>.
func WorktreePath(root, org, repo, branch string) (string, error) {
	name, err := SanitizeBranchName(branch)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, org, repo, worktreesDir, name), nil
}

func validateSegment(kind, value string) error {
	if value == "" || value == "." || value == ".." || strings.ContainsAny(value, `/\`) {
		return fmt.Errorf("%w: %s %q", ErrInvalidName, kind, value)
	}
	return nil
}
