package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type BranchSource string

const (
	BranchSourceExplicit  BranchSource = "explicit"
	BranchSourceGenerated BranchSource = "generated"
)

var ErrGeneratorUnavailable = errors.New("branch name generator is not configured")

// BranchGenerator suggests a branch name for a prompt.
type BranchGenerator interface {
	GenerateBranchName(ctx context.Context, prompt, org, repo string) (string, error)
}

// BranchRequest drives ResolveBranch. Worktree is the client descriptor,
// either "branch" or "base:branch". DefaultBranches maps "org/repo" to the
// base used when the descriptor names none.
type BranchRequest struct {
	Worktree        string
	Generator       BranchGenerator
	Prompt          string
	Org             string
	Repo            string
	DefaultBranches map[string]string
}

type BranchResolution struct {
	Branch                string       `json:"branch"`
	DefaultBranchOverride string       `json:"defaultBranchOverride,omitempty"`
	Source                BranchSource `json:"source"`
}

// BranchResolutionError means no task can be created for the request.
type BranchResolutionError struct {
	Reason string
	Err    error
}

func (e *BranchResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to resolve branch: %s: %v", e.Reason, e.Err)
	}
	return "failed to resolve branch: " + e.Reason
}

func (e *BranchResolutionError) Unwrap() error {
	return e.Err
}

// ResolveBranch picks the branch for a run from the explicit descriptor or,
// when there is none, from the generator.
func ResolveBranch(ctx context.Context, req BranchRequest) (BranchResolution, error) {
	res := BranchResolution{DefaultBranchOverride: req.DefaultBranches[req.Org+"/"+req.Repo]}
	descriptor := strings.TrimSpace(req.Worktree)
	if descriptor != "" {
		base, branch, hasBase := strings.Cut(descriptor, ":")
		if !hasBase {
			branch, base = base, ""
		}
		branch, base = strings.TrimSpace(branch), strings.TrimSpace(base)
		if err := validateBranch(branch); err != nil {
			return BranchResolution{}, &BranchResolutionError{Reason: "invalid worktree descriptor", Err: err}
		}
		if hasBase {
			if err := validateBranch(base); err != nil {
				return BranchResolution{}, &BranchResolutionError{Reason: "invalid base branch", Err: err}
			}
			res.DefaultBranchOverride = base
		}
		res.Branch = branch
		res.Source = BranchSourceExplicit
		return res, nil
	}
	if req.Generator == nil {
		return BranchResolution{}, &BranchResolutionError{
			Reason: "no worktree descriptor given",
			Err:    ErrGeneratorUnavailable,
		}
	}
	branch, err := req.Generator.GenerateBranchName(ctx, req.Prompt, req.Org, req.Repo)
	if err != nil {
		return BranchResolution{}, &BranchResolutionError{Reason: "branch generation failed", Err: err}
	}
	branch = strings.TrimSpace(branch)
	if err := validateBranch(branch); err != nil {
		return BranchResolution{}, &BranchResolutionError{Reason: "generated branch is invalid", Err: err}
	}
	res.Branch = branch
	res.Source = BranchSourceGenerated
	return res, nil
}

// validateBranch applies the subset of git check-ref-format rules that
// matter for names typed by users or models.
func validateBranch(name string) error {
	switch {
	case name == "":
		return errors.New("branch name is empty")
	case strings.HasPrefix(name, "-"), strings.HasPrefix(name, "/"), strings.HasSuffix(name, "/"):
		return fmt.Errorf("branch %q has an invalid prefix or suffix", name)
	case strings.HasSuffix(name, ".lock"), strings.HasSuffix(name, "."):
		return fmt.Errorf("branch %q has an invalid suffix", name)
	case strings.Contains(name, ".."), strings.Contains(name, "//"), strings.Contains(name, "@{"):
		return fmt.Errorf("branch %q contains an invalid sequence", name)
	case strings.ContainsAny(name, " ~^:?*[\\\t\n"):
		return fmt.Errorf("branch %q contains an invalid character", name)
	}
	return nil
}
