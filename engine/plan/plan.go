package plan

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrEmptyPrompt        = errors.New("prompt is required when plan generation is enabled")
	ErrServiceUnavailable = errors.New("plan service is not configured")
)

// Planner drafts a plan for a prompt. *Service is the production implementation.
type Planner interface {
	GeneratePlan(ctx context.Context, prompt, repositoryPath string) (string, error)
}

type PlanRequest struct {
	PlanEnabled    bool
	Prompt         string
	Service        Planner
	RepositoryPath string
}

type PlanResult struct {
	PromptToExecute string
	PlanGenerated   bool
}

// GeneratePlanText returns the prompt the agent should run. With planning
// disabled the prompt passes through untouched; otherwise the generated plan
// replaces it.
func GeneratePlanText(ctx context.Context, req PlanRequest) (PlanResult, error) {
	if !req.PlanEnabled {
		return PlanResult{PromptToExecute: req.Prompt}, nil
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return PlanResult{}, ErrEmptyPrompt
	}
	if req.Service == nil {
		return PlanResult{}, ErrServiceUnavailable
	}
	text, err := req.Service.GeneratePlan(ctx, req.Prompt, req.RepositoryPath)
	if err != nil {
		return PlanResult{}, err
	}
	return PlanResult{PromptToExecute: text, PlanGenerated: true}, nil
}
