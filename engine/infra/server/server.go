package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/compozy/agentrix/engine/automation"
	"github.com/compozy/agentrix/engine/core"
	"github.com/compozy/agentrix/engine/github"
	"github.com/compozy/agentrix/engine/infra/monitoring"
	"github.com/compozy/agentrix/engine/infra/server/router"
	"github.com/compozy/agentrix/engine/streaming"
	"github.com/compozy/agentrix/engine/task"
	"github.com/compozy/agentrix/engine/workspace"
	"github.com/compozy/agentrix/pkg/config"
	"github.com/compozy/agentrix/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
)

const (
	apiPrefix              = "/api/v0"
	defaultShutdownTimeout = 10 * time.Second
	defaultHeartbeat       = 15 * time.Second
	httpReadHeaderTimeout  = 10 * time.Second
	httpIdleTimeout        = 60 * time.Second
)

type TaskReader interface {
	ListTasks() []task.Task
	GetTask(id core.ID) (task.Task, error)
}

type Automation interface {
	Start(ctx context.Context, req automation.Request, cb automation.Callbacks) (*automation.Launch, error)
}

type RepositoryViews interface {
	RefreshRepositoryViews(ctx context.Context, root string) (workspace.Inventory, error)
}

type EventSource interface {
	Subscribe() (<-chan streaming.Event, func())
}

type GitHub interface {
	RepoSummary(ctx context.Context, owner, repo string) (github.RepoSummary, error)
	IssueDetail(ctx context.Context, owner, repo string, number int) (github.IssueDetail, error)
	PullDetail(ctx context.Context, owner, repo string, number int) (github.PullDetail, error)
}

// Deps are the collaborators behind the routes. GitHub and Monitoring are
// optional.
type Deps struct {
	Tasks         TaskReader
	Automation    Automation
	Views         RepositoryViews
	WorkspaceRoot string
	Events        EventSource
	GitHub        GitHub
	Monitoring    *monitoring.Service
	Logger        logger.Logger
}

type Option func(*Server)

// WithHeartbeat sets the interval of keep-alive events on /events.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

type Server struct {
	addr            string
	shutdownTimeout time.Duration
	heartbeat       time.Duration
	deps            Deps
	validate        *validator.Validate
	router          *gin.Engine
}

func NewServer(cfg config.ServerConfig, deps Deps, opts ...Option) (*Server, error) {
	if deps.Tasks == nil {
		return nil, errors.New("server requires a task reader")
	}
	if deps.Automation == nil {
		return nil, errors.New("server requires an automation coordinator")
	}
	if deps.Logger == nil {
		deps.Logger = logger.GetDefault()
	}
	s := &Server{
		addr:            net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		shutdownTimeout: cfg.ShutdownTimeout,
		heartbeat:       defaultHeartbeat,
		deps:            deps,
		validate:        validator.New(validator.WithRequiredStructEnabled()),
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = defaultShutdownTimeout
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s, nil
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(router.RequestID(s.deps.Logger))
	r.Use(LoggerMiddleware())
	if s.deps.Monitoring != nil {
		r.Use(s.deps.Monitoring.GinMiddleware())
		if s.deps.Monitoring.IsInitialized() {
			r.GET(s.deps.Monitoring.Path(), gin.WrapH(s.deps.Monitoring.ExporterHandler()))
		}
	}
	r.NoRoute(func(c *gin.Context) {
		router.RespondProblemWithCode(c, http.StatusNotFound, router.ErrNotFoundCode, "route not found")
	})
	api := r.Group(apiPrefix)
	s.registerHealth(api)
	s.registerTasks(api)
	s.registerAutomation(api)
	s.registerRepositories(api)
	s.registerGitHub(api)
	s.registerEvents(api)
	return r
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles requests on ln and shuts down gracefully once ctx is done.
// Open event streams are closed when shutdown begins.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log := logger.FromContext(ctx)
	baseCtx, cancelBase := context.WithCancel(logger.ContextWithLogger(context.WithoutCancel(ctx), s.deps.Logger))
	defer cancelBase()
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: httpReadHeaderTimeout,
		IdleTimeout:       httpIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelBase)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Starting HTTP server", "address", "http://"+ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Debug("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		log.Info("Server shutdown completed")
		return nil
	})
	return g.Wait()
}
