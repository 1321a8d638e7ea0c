package plan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/compozy/agentrix/pkg/logger"
	"github.com/tmc/langchaingo/llms"
)

const (
	DefaultTimeout = 60 * time.Second

	planInstructions = `You are a senior engineer preparing work for an autonomous coding agent.
Write a concise, numbered execution plan for the request below. Reference files and
commands where helpful. Reply with the plan only.`
)

var ErrEmptyCompletion = errors.New("language model returned an empty response")

type ServiceOption func(*Service)

func WithTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithTemperature(t float64) ServiceOption {
	return func(s *Service) {
		s.temperature = t
	}
}

// Service drafts execution plans with a language model.
type Service struct {
	model       llms.Model
	timeout     time.Duration
	temperature float64
}

func NewService(model llms.Model, opts ...ServiceOption) *Service {
	s := &Service{model: model, timeout: DefaultTimeout, temperature: 0.2}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GeneratePlan asks the model for a plan that fulfils prompt inside repositoryPath.
func (s *Service) GeneratePlan(ctx context.Context, prompt, repositoryPath string) (string, error) {
	if s == nil || s.model == nil {
		return "", ErrServiceUnavailable
	}
	request := fmt.Sprintf("Repository: %s\n\nRequest:\n%s", repositoryPath, prompt)
	text, err := s.complete(ctx, planInstructions, request)
	if err != nil {
		return "", fmt.Errorf("failed to generate plan: %w", err)
	}
	logger.FromContext(ctx).Debug("Plan generated", "repository", repositoryPath, "length", len(text))
	return text, nil
}

func (s *Service) complete(ctx context.Context, system, human string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, human),
	}
	resp, err := s.model.GenerateContent(ctx, messages, llms.WithTemperature(s.temperature))
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
