package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/compozy/agentrix/pkg/logger"
	"github.com/google/shlex"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

const sessionPrefix = "agentrix"

var ErrInvalidCommand = errors.New("invalid agent command")

// Request describes one agent process to launch inside a worktree.
type Request struct {
	Command string
	Workdir string
	Org     string
	Repo    string
	Branch  string
	Prompt  string
}

// Session identifies a launched agent.
type Session struct {
	PID             int    `json:"pid"`
	SessionID       string `json:"sessionId"`
	TmuxSessionName string `json:"tmuxSessionName,omitempty"`
	UsingTmux       bool   `json:"usingTmux"`
	CreatedSession  bool   `json:"createdSession"`
}

type Option func(*Launcher)

// WithTmux toggles tmux sessions. Without tmux the agent runs as a detached process.
func WithTmux(enabled bool) Option {
	return func(l *Launcher) {
		l.useTmux = enabled
	}
}

func WithTmuxBinary(binary string) Option {
	return func(l *Launcher) {
		if binary != "" {
			l.tmux = binary
		}
	}
}

func WithRunner(r Runner) Option {
	return func(l *Launcher) {
		if r != nil {
			l.runner = r
		}
	}
}

type Launcher struct {
	runner  Runner
	tmux    string
	useTmux bool
}

func NewLauncher(opts ...Option) *Launcher {
	l := &Launcher{runner: execRunner{}, tmux: "tmux", useTmux: true}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SessionName returns the tmux session used for org/repo/branch.
func SessionName(org, repo, branch string) string {
	return sessionPrefix + "-" + slug.Make(org+"-"+repo+"-"+branch)
}

// Launch starts the agent. With tmux it reuses an existing session for the
// same worktree by opening a new window in it.
func (l *Launcher) Launch(ctx context.Context, req Request) (*Session, error) {
	if req.Workdir == "" {
		return nil, fmt.Errorf("%w: workdir is required", ErrInvalidCommand)
	}
	argv, err := parseCommand(req.Command)
	if err != nil {
		return nil, err
	}
	if req.Prompt != "" {
		argv = append(argv, req.Prompt)
	}
	log := logger.FromContext(ctx).With("org", req.Org, "repo", req.Repo, "branch", req.Branch)
	session := &Session{SessionID: uuid.NewString()}
	if !l.useTmux {
		pid, err := l.runner.Start(ctx, req.Workdir, argv[0], argv[1:]...)
		if err != nil {
			return nil, fmt.Errorf("failed to start agent %s: %w", argv[0], err)
		}
		session.PID = pid
		log.Info("Agent process started", "pid", pid, "command", argv[0])
		return session, nil
	}

	name := SessionName(req.Org, req.Repo, req.Branch)
	session.UsingTmux = true
	session.TmuxSessionName = name
	shellCmd := joinCommand(argv)
	var args []string
	if l.hasSession(ctx, name) {
		args = []string{"new-window", "-P", "-F", "#{pane_pid}", "-t", name, "-c", req.Workdir, shellCmd}
	} else {
		session.CreatedSession = true
		args = []string{"new-session", "-d", "-P", "-F", "#{pane_pid}", "-s", name, "-c", req.Workdir, shellCmd}
	}
	out, err := l.runner.Output(ctx, l.tmux, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to launch agent in tmux session %s: %w", name, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return nil, fmt.Errorf("failed to read agent pid from tmux output %q: %w", strings.TrimSpace(out), err)
	}
	session.PID = pid
	log.Info("Agent launched in tmux", "session", name, "pid", pid, "created_session", session.CreatedSession)
	return session, nil
}

func (l *Launcher) hasSession(ctx context.Context, name string) bool {
	_, err := l.runner.Output(ctx, l.tmux, "has-session", "-t", name)
	return err == nil
}

func parseCommand(command string) ([]string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("%w: command cannot be empty", ErrInvalidCommand)
	}
	if strings.ContainsAny(command, "\r\n") {
		return nil, fmt.Errorf("%w: command cannot contain newlines", ErrInvalidCommand)
	}
	parts, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: command cannot be empty after parsing", ErrInvalidCommand)
	}
	if strings.HasPrefix(parts[0], "-") {
		return nil, fmt.Errorf("%w: command name cannot start with dash", ErrInvalidCommand)
	}
	return parts, nil
}

// joinCommand quotes argv for the shell tmux runs the pane command in.
func joinCommand(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = shellQuote(arg)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:@%+,", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
