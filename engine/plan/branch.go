package plan

import (
	"context"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
)

const (
	branchPrefix     = "feature/"
	maxBranchSlugLen = 48

	branchInstructions = `Suggest a git branch name for the change described below.
Reply with three to six lowercase words separated by hyphens and nothing else.`
)

// BranchNamer turns a prompt into a branch name through the language model.
type BranchNamer struct {
	service *Service
}

func NewBranchNamer(service *Service) *BranchNamer {
	return &BranchNamer{service: service}
}

// GenerateBranchName returns feature/<slug> derived from the model suggestion.
func (b *BranchNamer) GenerateBranchName(ctx context.Context, prompt, org, repo string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	if b == nil || b.service == nil || b.service.model == nil {
		return "", ErrServiceUnavailable
	}
	human := fmt.Sprintf("Repository: %s/%s\n\nChange:\n%s", org, repo, prompt)
	text, err := b.service.complete(ctx, branchInstructions, human)
	if err != nil {
		return "", fmt.Errorf("failed to generate branch name: %w", err)
	}
	name := BranchSlug(text)
	if name == "" {
		return "", fmt.Errorf("failed to generate branch name: %w", ErrEmptyCompletion)
	}
	return branchPrefix + name, nil
}

// BranchSlug normalizes free text into a branch-safe slug.
func BranchSlug(text string) string {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(text), "\n", 2)[0])
	line = strings.TrimPrefix(strings.Trim(line, "`\"'"), branchPrefix)
	s := slug.Make(line)
	if len(s) > maxBranchSlugLen {
		s = strings.TrimRight(s[:maxBranchSlugLen], "-")
	}
	return s
}
