package agent

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	Dir  string
	Name string
	Args []string
}

type fakeRunner struct {
	mu       sync.Mutex
	calls    []call
	sessions map[string]bool
	pid      string
	startErr error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{sessions: map[string]bool{}, pid: "4242\n"}
}

func (f *fakeRunner) Output(_ context.Context, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Name: name, Args: args})
	switch args[0] {
	case "has-session":
		if f.sessions[args[2]] {
			return "", nil
		}
		return "", errors.New("can't find session")
	case "new-session":
		for i, a := range args {
			if a == "-s" {
				f.sessions[args[i+1]] = true
			}
		}
	}
	return f.pid, nil
}

func (f *fakeRunner) Start(_ context.Context, dir, name string, args ...string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Dir: dir, Name: name, Args: args})
	if f.startErr != nil {
		return 0, f.startErr
	}
	return 777, nil
}

func baseRequest() Request {
	return Request{
		Command: `codex --model "o4 mini"`,
		Workdir: "/ws/acme/api/worktrees/feat_x",
		Org:     "acme",
		Repo:    "api",
		Branch:  "feat/x",
		Prompt:  "fix the flaky test",
	}
}

func TestSessionName(t *testing.T) {
	t.Run("Should slug org, repo and branch", func(t *testing.T) {
		assert.Equal(t, "agentrix-acme-api-feat-x", SessionName("Acme", "api", "feat/x"))
	})
}

func TestLauncher_Tmux(t *testing.T) {
	t.Run("Should create a session on first launch and a window afterwards", func(t *testing.T) {
		runner := newFakeRunner()
		l := NewLauncher(WithRunner(runner), WithTmuxBinary("/usr/bin/tmux"))

		first, err := l.Launch(t.Context(), baseRequest())
		require.NoError(t, err)
		assert.True(t, first.UsingTmux)
		assert.True(t, first.CreatedSession)
		assert.Equal(t, 4242, first.PID)
		assert.Equal(t, "agentrix-acme-api-feat-x", first.TmuxSessionName)
		assert.NotEmpty(t, first.SessionID)

		second, err := l.Launch(t.Context(), baseRequest())
		require.NoError(t, err)
		assert.False(t, second.CreatedSession)
		assert.NotEqual(t, first.SessionID, second.SessionID)

		require.Len(t, runner.calls, 4)
		create := runner.calls[1]
		assert.Equal(t, "/usr/bin/tmux", create.Name)
		assert.Equal(t, "new-session", create.Args[0])
		assert.Equal(t, `codex --model 'o4 mini' 'fix the flaky test'`, create.Args[len(create.Args)-1])
		assert.Contains(t, create.Args, baseRequest().Workdir)
		assert.Equal(t, "new-window", runner.calls[3].Args[0])
	})

	t.Run("Should fail on unreadable pane pid", func(t *testing.T) {
		runner := newFakeRunner()
		runner.pid = "not-a-pid"
		_, err := NewLauncher(WithRunner(runner)).Launch(t.Context(), baseRequest())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read agent pid")
	})
}

func TestLauncher_Direct(t *testing.T) {
	t.Run("Should start the parsed command with the prompt appended", func(t *testing.T) {
		runner := newFakeRunner()
		session, err := NewLauncher(WithRunner(runner), WithTmux(false)).Launch(t.Context(), baseRequest())
		require.NoError(t, err)
		assert.False(t, session.UsingTmux)
		assert.Equal(t, 777, session.PID)
		require.Len(t, runner.calls, 1)
		assert.Equal(t, call{
			Dir:  baseRequest().Workdir,
			Name: "codex",
			Args: []string{"--model", "o4 mini", "fix the flaky test"},
		}, runner.calls[0])
	})

	t.Run("Should wrap start failures", func(t *testing.T) {
		runner := newFakeRunner()
		runner.startErr = exec.ErrNotFound
		_, err := NewLauncher(WithRunner(runner), WithTmux(false)).Launch(t.Context(), baseRequest())
		assert.ErrorIs(t, err, exec.ErrNotFound)
	})
}

func TestParseCommand(t *testing.T) {
	bad := map[string]string{
		"empty":        "   ",
		"newline":      "codex\nrm -rf /",
		"dash":         "--help",
		"unterminated": `codex "oops`,
	}
	for name, command := range bad {
		t.Run("Should reject "+name+" commands", func(t *testing.T) {
			_, err := parseCommand(command)
			assert.ErrorIs(t, err, ErrInvalidCommand)
		})
	}

	t.Run("Should require a workdir", func(t *testing.T) {
		req := baseRequest()
		req.Workdir = ""
		_, err := NewLauncher(WithRunner(newFakeRunner())).Launch(t.Context(), req)
		assert.ErrorIs(t, err, ErrInvalidCommand)
	})
}

func TestShellQuote(t *testing.T) {
	t.Run("Should leave safe words bare and quote the rest", func(t *testing.T) {
		assert.Equal(t, "codex", shellQuote("codex"))
		assert.Equal(t, "''", shellQuote(""))
		assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
		assert.False(t, strings.HasPrefix(shellQuote("--flag=a/b"), "'"))
	})
}
