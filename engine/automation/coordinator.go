package automation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/compozy/agentrix/engine/agent"
	"github.com/compozy/agentrix/engine/core"
	"github.com/compozy/agentrix/engine/plan"
	"github.com/compozy/agentrix/engine/task"
	"github.com/compozy/agentrix/engine/workspace"
	"github.com/compozy/agentrix/pkg/logger"
)

// TaskType tags tasks created by the coordinator.
const TaskType = "automation:launch"

const (
	StepEnsureRepository = "ensure-repository"
	StepGeneratePlan     = "generate-plan"
	StepEnsureWorktree   = "ensure-worktree"
	StepLaunchAgent      = "launch-agent"
	StepRefreshViews     = "refresh-repository-views"
)

// Failure reasons recorded on automation tasks.
const (
	ReasonStepFailed   = "step_failed"
	ReasonInvalidInput = "invalid_input"
)

const planDisabledMessage = "Plan generation disabled for this request"

var ErrInvalidRequest = errors.New("invalid automation request")

// steps is both the declaration and the execution order; every task carries
// all five from the start.
var steps = []struct{ id, label string }{
	{StepEnsureRepository, "Ensure repository"},
	{StepGeneratePlan, "Generate plan"},
	{StepEnsureWorktree, "Ensure worktree"},
	{StepRefreshViews, "Refresh repository views"},
	{StepLaunchAgent, "Launch agent"},
}

// Workspace is the git orchestration the pipeline drives.
type Workspace interface {
	EnsureRepositoryReady(ctx context.Context, root, org, repo string) (workspace.RepositoryResult, error)
	EnsureWorktreeReady(
		ctx context.Context,
		root, org, repo, branch string,
		opts workspace.WorktreeOptions,
	) (workspace.WorktreeResult, error)
	RefreshRepositoryViews(ctx context.Context, root string) (workspace.Inventory, error)
}

type Launcher interface {
	Launch(ctx context.Context, req agent.Request) (*agent.Session, error)
}

// Request is one inbound automation run.
type Request struct {
	Org         string `json:"org"         validate:"required"`
	Repo        string `json:"repo"        validate:"required"`
	Worktree    string `json:"worktree"`
	Prompt      string `json:"prompt"`
	Command     string `json:"command"`
	PlanEnabled bool   `json:"plan"`
}

// Callbacks are invoked exactly once per run, on the executor goroutine.
type Callbacks struct {
	FinishSuccess func(identifier string)
	FinishFailure func(err error)
}

// Result is stored on succeeded automation tasks.
type Result struct {
	Org              string `json:"org"`
	Repo             string `json:"repo"`
	Branch           string `json:"branch"`
	RepositoryPath   string `json:"repositoryPath"`
	WorktreePath     string `json:"worktreePath"`
	ClonedRepository bool   `json:"clonedRepository"`
	CreatedWorktree  bool   `json:"createdWorktree"`
	PlanGenerated    bool   `json:"planGenerated"`
	PID              int    `json:"pid"`
	SessionID        string `json:"sessionId"`
	TmuxSessionName  string `json:"tmuxSessionName,omitempty"`
	UsingTmux        bool   `json:"usingTmux"`
	CreatedSession   bool   `json:"createdSession"`
}

// Launch is returned once the task has been registered.
type Launch struct {
	TaskID     core.ID
	Branch     BranchResolution
	Handle     *task.Handle
	Identifier string
}

type Option func(*Coordinator)

func WithPlanner(p plan.Planner) Option {
	return func(c *Coordinator) {
		c.planner = p
	}
}

func WithBranchGenerator(g BranchGenerator) Option {
	return func(c *Coordinator) {
		c.generator = g
	}
}

// WithBaseBranches sets per "org/repo" base branches for new worktrees.
func WithBaseBranches(m map[string]string) Option {
	return func(c *Coordinator) {
		c.baseBranches = maps.Clone(m)
	}
}

func WithDefaultCommand(command string) Option {
	return func(c *Coordinator) {
		if command != "" {
			c.defaultCommand = command
		}
	}
}

// Coordinator runs the automation pipeline as registry tasks.
type Coordinator struct {
	registry       *task.Registry
	workspace      Workspace
	launcher       Launcher
	planner        plan.Planner
	generator      BranchGenerator
	root           string
	baseBranches   map[string]string
	defaultCommand string
}

func NewCoordinator(
	registry *task.Registry,
	ws Workspace,
	launcher Launcher,
	root string,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		registry:       registry,
		workspace:      ws,
		launcher:       launcher,
		root:           root,
		defaultCommand: "codex",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start resolves the branch and registers the task. A resolution failure
// returns a *BranchResolutionError and creates nothing.
func (c *Coordinator) Start(ctx context.Context, req Request, cb Callbacks) (*Launch, error) {
	req.Org = strings.TrimSpace(req.Org)
	req.Repo = strings.TrimSpace(req.Repo)
	if req.Org == "" || req.Repo == "" {
		return nil, fmt.Errorf("%w: org and repo are required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Command) == "" {
		req.Command = c.defaultCommand
	}
	resolution, err := ResolveBranch(ctx, BranchRequest{
		Worktree:        req.Worktree,
		Generator:       c.generator,
		Prompt:          req.Prompt,
		Org:             req.Org,
		Repo:            req.Repo,
		DefaultBranches: c.baseBranches,
	})
	if err != nil {
		return nil, err
	}
	identifier := fmt.Sprintf("%s/%s#%s", req.Org, req.Repo, resolution.Branch)
	cfg := task.Config{
		Type:  TaskType,
		Title: "Launch agent for " + identifier,
		Metadata: task.Metadata{
			Org:        req.Org,
			Repo:       req.Repo,
			Branch:     resolution.Branch,
			BaseBranch: resolution.DefaultBranchOverride,
			Command:    req.Command,
			Extras: map[string]any{
				"planEnabled":  req.PlanEnabled,
				"branchSource": string(resolution.Source),
			},
		},
	}
	run := &pipeline{
		c:          c,
		req:        req,
		branch:     resolution,
		identifier: identifier,
		cb:         cb,
	}
	handle, err := c.registry.RunTask(ctx, cfg, run.execute)
	if err != nil {
		return nil, fmt.Errorf("failed to start automation task: %w", err)
	}
	logger.FromContext(ctx).Info(
		"Automation task started",
		"task_id", handle.ID,
		"identifier", identifier,
		"branch_source", resolution.Source,
	)
	return &Launch{TaskID: handle.ID, Branch: resolution, Handle: handle, Identifier: identifier}, nil
}

// pipeline is the state of one run; it lives on the executor goroutine.
type pipeline struct {
	c          *Coordinator
	req        Request
	branch     BranchResolution
	identifier string
	cb         Callbacks
	result     Result
	prompt     string
	finishOnce sync.Once
}

func (p *pipeline) execute(ctx context.Context, rt *task.Runtime) error {
	log := logger.FromContext(ctx).With("task_id", rt.TaskID, "identifier", p.identifier)
	ctx = logger.ContextWithLogger(ctx, log)
	progress := rt.Progress
	for _, s := range steps {
		if err := progress.EnsureStep(s.id, s.label); err != nil {
			return p.fail(ctx, rt, "", err)
		}
	}
	if err := rt.UpdateMetadata(task.Patch{Status: task.StatusRunning}); err != nil {
		return p.fail(ctx, rt, "", err)
	}
	p.result = Result{Org: p.req.Org, Repo: p.req.Repo, Branch: p.branch.Branch}
	p.prompt = p.req.Prompt

	runners := map[string]func(context.Context) (string, error){
		StepEnsureRepository: p.ensureRepository,
		StepGeneratePlan:     p.generatePlan,
		StepEnsureWorktree:   p.ensureWorktree,
		StepRefreshViews:     p.refreshViews,
		StepLaunchAgent:      p.launchAgent,
	}
	for _, s := range steps {
		if s.id == StepGeneratePlan && !p.req.PlanEnabled {
			if err := progress.SkipStep(s.id, task.StepUpdate{Message: planDisabledMessage}); err != nil {
				return p.fail(ctx, rt, s.id, err)
			}
			continue
		}
		if err := progress.StartStep(s.id, task.StepUpdate{}); err != nil {
			return p.fail(ctx, rt, s.id, err)
		}
		message, err := runners[s.id](ctx)
		if err != nil {
			return p.fail(ctx, rt, s.id, err)
		}
		if err := progress.CompleteStep(s.id, task.StepUpdate{Message: message}); err != nil {
			return p.fail(ctx, rt, s.id, err)
		}
	}
	return p.succeed(ctx, rt)
}

func (p *pipeline) ensureRepository(ctx context.Context) (string, error) {
	res, err := p.c.workspace.EnsureRepositoryReady(ctx, p.c.root, p.req.Org, p.req.Repo)
	if err != nil {
		return "", err
	}
	p.result.RepositoryPath = res.RepositoryPath
	p.result.ClonedRepository = res.ClonedRepository
	if res.ClonedRepository {
		return "Cloned repository into " + res.RepositoryPath, nil
	}
	return "Repository already present at " + res.RepositoryPath, nil
}

func (p *pipeline) generatePlan(ctx context.Context) (string, error) {
	res, err := plan.GeneratePlanText(ctx, plan.PlanRequest{
		PlanEnabled:    true,
		Prompt:         p.req.Prompt,
		Service:        p.c.planner,
		RepositoryPath: p.result.RepositoryPath,
	})
	if err != nil {
		return "", err
	}
	p.prompt = res.PromptToExecute
	p.result.PlanGenerated = res.PlanGenerated
	return "Plan generated", nil
}

func (p *pipeline) ensureWorktree(ctx context.Context) (string, error) {
	res, err := p.c.workspace.EnsureWorktreeReady(
		ctx,
		p.c.root,
		p.req.Org,
		p.req.Repo,
		p.branch.Branch,
		workspace.WorktreeOptions{DefaultBranchOverride: p.branch.DefaultBranchOverride},
	)
	if err != nil {
		return "", err
	}
	p.result.WorktreePath = res.WorktreePath
	p.result.CreatedWorktree = res.CreatedWorktree
	if res.CreatedWorktree {
		return "Created worktree at " + res.WorktreePath, nil
	}
	return "Worktree already present at " + res.WorktreePath, nil
}

func (p *pipeline) refreshViews(ctx context.Context) (string, error) {
	inv, err := p.c.workspace.RefreshRepositoryViews(ctx, p.c.root)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Published %d repositories", inv.RepositoryCount()), nil
}

func (p *pipeline) launchAgent(ctx context.Context) (string, error) {
	session, err := p.c.launcher.Launch(ctx, agent.Request{
		Command: p.req.Command,
		Workdir: p.result.WorktreePath,
		Org:     p.req.Org,
		Repo:    p.req.Repo,
		Branch:  p.branch.Branch,
		Prompt:  p.prompt,
	})
	if err != nil {
		return "", err
	}
	p.result.PID = session.PID
	p.result.SessionID = session.SessionID
	p.result.TmuxSessionName = session.TmuxSessionName
	p.result.UsingTmux = session.UsingTmux
	p.result.CreatedSession = session.CreatedSession
	if session.UsingTmux {
		return fmt.Sprintf("Agent running in tmux session %s (pid %d)", session.TmuxSessionName, session.PID), nil
	}
	return fmt.Sprintf("Agent running (pid %d)", session.PID), nil
}

func (p *pipeline) succeed(ctx context.Context, rt *task.Runtime) error {
	if err := rt.SetResult(p.result); err != nil {
		return p.fail(ctx, rt, "", err)
	}
	if err := rt.UpdateMetadata(task.Patch{Status: task.StatusSucceeded}); err != nil {
		return p.fail(ctx, rt, "", err)
	}
	p.finishOnce.Do(func() {
		if p.cb.FinishSuccess != nil {
			p.cb.FinishSuccess(p.identifier)
		}
	})
	logger.FromContext(ctx).Info("Automation task succeeded", "pid", p.result.PID)
	return nil
}

// fail records err on the step and the task, then reports it once.
func (p *pipeline) fail(ctx context.Context, rt *task.Runtime, stepID string, err error) error {
	log := logger.FromContext(ctx)
	if stepID != "" {
		if stepErr := rt.Progress.FailStep(stepID, task.StepUpdate{Message: err.Error()}); stepErr != nil {
			log.Error("Failed to record step failure", "step", stepID, "error", stepErr)
		}
	}
	reason := ReasonStepFailed
	if errors.Is(err, plan.ErrEmptyPrompt) {
		reason = ReasonInvalidInput
	}
	patch := task.Patch{
		Status: task.StatusFailed,
		Error:  &task.Failure{Reason: reason, Message: err.Error()},
	}
	if patchErr := rt.UpdateMetadata(patch); patchErr != nil {
		log.Error("Failed to record task failure", "error", patchErr)
	}
	p.finishOnce.Do(func() {
		if p.cb.FinishFailure != nil {
			p.cb.FinishFailure(err)
		}
	})
	log.Warn("Automation task failed", "step", stepID, "error", err)
	if stepID != "" {
		return fmt.Errorf("%s: %w", stepID, err)
	}
	return err
}
