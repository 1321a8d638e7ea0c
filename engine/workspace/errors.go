package workspace

import (
	"errors"
	"fmt"
	"strings"
)

var ErrRepositoryNotReady = errors.New("repository is not ready")

// GitError reports a failed git operation with its output.
type GitError struct {
	Op     string
	Path   string
	Output string
	Err    error
}

func (e *GitError) Error() string {
	msg := fmt.Sprintf("git %s failed for %s", e.Op, e.Path)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GitError) Unwrap() error {
	return e.Err
}
