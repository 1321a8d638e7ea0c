package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/compozy/agentrix/engine/agent"
	"github.com/compozy/agentrix/engine/automation"
	"github.com/compozy/agentrix/engine/github"
	"github.com/compozy/agentrix/engine/infra/filestore"
	"github.com/compozy/agentrix/engine/infra/monitoring"
	"github.com/compozy/agentrix/engine/plan"
	"github.com/compozy/agentrix/engine/streaming"
	"github.com/compozy/agentrix/engine/task"
	"github.com/compozy/agentrix/engine/workspace"
	"github.com/compozy/agentrix/pkg/config"
	"github.com/compozy/agentrix/pkg/logger"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	flushTimeout           = 5 * time.Second
)

// App holds the long-lived collaborators shared by serve and launch.
type App struct {
	Config      *config.Config
	Store       *filestore.Store
	Registry    *task.Registry
	Hub         *streaming.Hub
	Workspace   *workspace.Manager
	Coordinator *automation.Coordinator
	GitHub      *github.Client
	Monitoring  *monitoring.Service
}

type Option func(*options)

type options struct {
	git      workspace.Git
	launcher automation.Launcher
}

// WithGit replaces the go-git backed repository operations.
func WithGit(g workspace.Git) Option {
	return func(o *options) {
		o.git = g
	}
}

// WithLauncher replaces the tmux agent launcher.
func WithLauncher(l automation.Launcher) Option {
	return func(o *options) {
		o.launcher = l
	}
}

// New opens the snapshot, rehydrates the registry and wires the pipeline.
// It fails with filestore.ErrLocked when another process owns the snapshot.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	log := logger.FromContext(ctx)
	mon := monitoring.NewServiceWithFallback(ctx, monitoring.FromAppConfig(cfg.Monitoring))
	store, err := filestore.Open(cfg.Tasks.SnapshotPath)
	if err != nil {
		_ = mon.Shutdown(ctx)
		return nil, fmt.Errorf("failed to open task snapshot: %w", err)
	}

	var hub *streaming.Hub
	registry := task.NewRegistry(
		task.WithMaxRetained(cfg.Tasks.MaxRetained),
		task.WithObserver(mon.TaskObserver()),
		task.WithObserver(task.ObserverFunc(func(ctx context.Context, change task.Change) {
			hub.TaskChanged(ctx, change)
		})),
	)
	hub = streaming.NewHub(streaming.WithTaskSource(registry), streaming.WithLogger(log))
	err = registry.ConfigurePersistence(ctx, task.PersistenceConfig{
		Store:      store,
		Logger:     log,
		Window:     cfg.Tasks.FlushWindow,
		MaxRetries: uint64(cfg.Tasks.MaxRetries),
		OnSave:     mon.RecordSave,
	})
	if err != nil {
		hub.Close()
		_ = store.Close()
		_ = mon.Shutdown(ctx)
		return nil, fmt.Errorf("failed to configure task persistence: %w", err)
	}
	if err := mon.ObserveSubscribers(hub.Subscribers); err != nil {
		log.Warn("Failed to observe event subscribers", "error", err)
	}

	git := o.git
	if git == nil {
		git = workspace.NewGoGit(
			workspace.WithToken(cfg.GitHub.Token.Value()),
			workspace.WithBinary(cfg.Workspace.GitBinary),
		)
	}
	ws := workspace.NewManager(git,
		workspace.WithPublisher(hub),
		workspace.WithCloneURLTemplate(cfg.Workspace.CloneURLTemplate),
		workspace.WithDefaultBranches(cfg.Workspace.DefaultBranches...),
	)
	launcher := o.launcher
	if launcher == nil {
		launcher = agent.NewLauncher(
			agent.WithTmux(cfg.Agent.UseTmux),
			agent.WithTmuxBinary(cfg.Agent.TmuxBinary),
		)
	}
	coordOpts := []automation.Option{
		automation.WithBaseBranches(cfg.Workspace.BaseBranches),
		automation.WithDefaultCommand(cfg.Agent.Command),
	}
	if model, err := plan.NewModel(cfg.LLM); err != nil {
		log.Warn("Language model unavailable, plan generation and branch naming are disabled",
			"provider", cfg.LLM.Provider,
			"error", err,
		)
	} else {
		svc := plan.NewService(model, plan.WithTimeout(cfg.LLM.Timeout))
		coordOpts = append(coordOpts,
			automation.WithPlanner(svc),
			automation.WithBranchGenerator(plan.NewBranchNamer(svc)),
		)
	}

	a := &App{
		Config:      cfg,
		Store:       store,
		Registry:    registry,
		Hub:         hub,
		Workspace:   ws,
		Coordinator: automation.NewCoordinator(registry, ws, launcher, cfg.Workspace.Root, coordOpts...),
		Monitoring:  mon,
	}
	if client, err := github.NewClient(cfg.GitHub.Token.Value(), github.WithBaseURL(cfg.GitHub.BaseURL)); err == nil {
		a.GitHub = client
	} else if !errors.Is(err, github.ErrNotConfigured) {
		log.Warn("GitHub client unavailable", "error", err)
	}
	return a, nil
}

// ShutdownTimeout bounds Close. It falls back to ten seconds when
// server.shutdown_timeout is unset.
func (a *App) ShutdownTimeout() time.Duration {
	if a.Config.Server.ShutdownTimeout > 0 {
		return a.Config.Server.ShutdownTimeout
	}
	return defaultShutdownTimeout
}

// Close waits for running tasks until ctx ends, then flushes the snapshot and
// releases the lock. The flush gets its own budget so an expired wait still
// records the latest task state.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Registry.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to wait for running tasks: %w", err))
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if err := a.Registry.Close(flushCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush task snapshot: %w", err))
	}
	a.Hub.Close()
	if err := a.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Monitoring.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop monitoring: %w", err))
	}
	return errors.Join(errs...)
}
