package plan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/compozy/agentrix/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type stubModel struct {
	mu    sync.Mutex
	reply string
	err   error
	delay time.Duration
	seen  []llms.MessageContent
}

func (m *stubModel) GenerateContent(
	ctx context.Context,
	messages []llms.MessageContent,
	_ ...llms.CallOption,
) (*llms.ContentResponse, error) {
	m.mu.Lock()
	m.seen = append(m.seen, messages...)
	m.mu.Unlock()
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

func (m *stubModel) humanText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var b strings.Builder
	for _, msg := range m.seen {
		if msg.Role != llms.ChatMessageTypeHuman {
			continue
		}
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				b.WriteString(text.Text)
			}
		}
	}
	return b.String()
}

type plannerFunc func(ctx context.Context, prompt, repositoryPath string) (string, error)

func (f plannerFunc) GeneratePlan(ctx context.Context, prompt, repositoryPath string) (string, error) {
	return f(ctx, prompt, repositoryPath)
}

func TestGeneratePlanText(t *testing.T) {
	t.Run("Should pass the prompt through when planning is disabled", func(t *testing.T) {
		called := false
		res, err := GeneratePlanText(t.Context(), PlanRequest{
			Prompt: "ship it",
			Service: plannerFunc(func(context.Context, string, string) (string, error) {
				called = true
				return "", nil
			}),
		})
		require.NoError(t, err)
		assert.Equal(t, PlanResult{PromptToExecute: "ship it"}, res)
		assert.False(t, called)
	})

	t.Run("Should reject an empty prompt when planning is enabled", func(t *testing.T) {
		_, err := GeneratePlanText(t.Context(), PlanRequest{PlanEnabled: true, Prompt: "  "})
		assert.ErrorIs(t, err, ErrEmptyPrompt)
	})

	t.Run("Should require a service when planning is enabled", func(t *testing.T) {
		_, err := GeneratePlanText(t.Context(), PlanRequest{PlanEnabled: true, Prompt: "x"})
		assert.ErrorIs(t, err, ErrServiceUnavailable)
	})

	t.Run("Should replace the prompt with the generated plan", func(t *testing.T) {
		res, err := GeneratePlanText(t.Context(), PlanRequest{
			PlanEnabled:    true,
			Prompt:         "add retries",
			RepositoryPath: "/ws/acme/api/repository",
			Service: plannerFunc(func(_ context.Context, prompt, repo string) (string, error) {
				return "1. " + prompt + " in " + repo, nil
			}),
		})
		require.NoError(t, err)
		assert.True(t, res.PlanGenerated)
		assert.Equal(t, "1. add retries in /ws/acme/api/repository", res.PromptToExecute)
	})

	t.Run("Should return planner errors unchanged", func(t *testing.T) {
		boom := errors.New("LLM timeout")
		_, err := GeneratePlanText(t.Context(), PlanRequest{
			PlanEnabled: true,
			Prompt:      "x",
			Service: plannerFunc(func(context.Context, string, string) (string, error) {
				return "", boom
			}),
		})
		assert.ErrorIs(t, err, boom)
	})
}

func TestService_GeneratePlan(t *testing.T) {
	t.Run("Should send the prompt and repository to the model", func(t *testing.T) {
		model := &stubModel{reply: "  1. read code\n2. write code  "}
		text, err := NewService(model).GeneratePlan(t.Context(), "refactor", "/repo")
		require.NoError(t, err)
		assert.Equal(t, "1. read code\n2. write code", text)
		assert.Contains(t, model.humanText(), "refactor")
		assert.Contains(t, model.humanText(), "/repo")
	})

	t.Run("Should time out slow models", func(t *testing.T) {
		model := &stubModel{reply: "late", delay: time.Second}
		_, err := NewService(model, WithTimeout(10*time.Millisecond)).GeneratePlan(t.Context(), "x", "/repo")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Should reject empty completions", func(t *testing.T) {
		_, err := NewService(&stubModel{reply: "   "}).GeneratePlan(t.Context(), "x", "/repo")
		assert.ErrorIs(t, err, ErrEmptyCompletion)
	})

	t.Run("Should report a missing model as unavailable", func(t *testing.T) {
		var s *Service
		_, err := s.GeneratePlan(t.Context(), "x", "/repo")
		assert.ErrorIs(t, err, ErrServiceUnavailable)
	})
}

func TestBranchNamer(t *testing.T) {
	t.Run("Should prefix the slugged suggestion", func(t *testing.T) {
		namer := NewBranchNamer(NewService(&stubModel{reply: "`Add Retry Logic`\nbecause"}))
		branch, err := namer.GenerateBranchName(t.Context(), "add retries to the client", "acme", "api")
		require.NoError(t, err)
		assert.Equal(t, "feature/add-retry-logic", branch)
	})

	t.Run("Should not double the prefix", func(t *testing.T) {
		namer := NewBranchNamer(NewService(&stubModel{reply: "feature/fix-login"}))
		branch, err := namer.GenerateBranchName(t.Context(), "fix login", "acme", "api")
		require.NoError(t, err)
		assert.Equal(t, "feature/fix-login", branch)
	})

	t.Run("Should fail without a model", func(t *testing.T) {
		_, err := NewBranchNamer(nil).GenerateBranchName(t.Context(), "x", "acme", "api")
		assert.ErrorIs(t, err, ErrServiceUnavailable)
	})

	t.Run("Should cap long slugs", func(t *testing.T) {
		s := BranchSlug(strings.Repeat("word ", 30))
		assert.LessOrEqual(t, len(s), maxBranchSlugLen)
		assert.False(t, strings.HasSuffix(s, "-"))
	})
}

func TestNewModel(t *testing.T) {
	t.Run("Should report hosted providers without keys as unavailable", func(t *testing.T) {
		for _, provider := range []string{"openai", "anthropic"} {
			_, err := NewModel(config.LLMConfig{Provider: provider, Model: "m"})
			assert.ErrorIs(t, err, ErrServiceUnavailable, provider)
		}
	})

	t.Run("Should reject unknown providers", func(t *testing.T) {
		_, err := NewModel(config.LLMConfig{Provider: "nope"})
		assert.ErrorContains(t, err, "unsupported provider")
	})

	t.Run("Should build an ollama model without credentials", func(t *testing.T) {
		model, err := NewModel(config.LLMConfig{Provider: "ollama", Model: "llama3", BaseURL: "http://127.0.0.1:11434"})
		require.NoError(t, err)
		assert.NotNil(t, model)
	})
}
