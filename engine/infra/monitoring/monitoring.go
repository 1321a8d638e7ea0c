package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/compozy/agentrix/engine/infra/monitoring/middleware"
	"github.com/compozy/agentrix/engine/task"
	"github.com/compozy/agentrix/pkg/logger"
	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "agentrix"

// Service encapsulates all monitoring and observability logic
type Service struct {
	meter             metric.Meter
	exporter          *prometheus.Exporter
	provider          *sdkmetric.MeterProvider
	registry          *prom.Registry
	config            *Config
	tasks             *TaskMetrics
	initialized       bool
	initializationErr error

	mu            sync.Mutex
	registrations []metric.Registration
}

func newDisabledService(cfg *Config, initErr error) *Service {
	return &Service{
		config:            cfg,
		meter:             noop.NewMeterProvider().Meter(meterName),
		initialized:       false,
		initializationErr: initErr,
	}
}

// NewService creates a monitoring service backed by a Prometheus exporter.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	log := logger.FromContext(ctx)
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		log.Debug("Monitoring disabled, using no-op meter")
		return newDisabledService(cfg, nil), nil
	}
	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)
	tasks, err := newTaskMetrics(meter)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create task metrics: %w", err)
	}
	service := &Service{
		meter:       meter,
		exporter:    exporter,
		provider:    provider,
		registry:    registry,
		config:      cfg,
		tasks:       tasks,
		initialized: true,
	}
	reg, err := registerSystemMetrics(ctx, meter, time.Now())
	if err != nil {
		log.Error("Failed to register system metrics", "error", err)
	} else {
		service.registrations = append(service.registrations, reg)
	}
	log.Info("Monitoring service initialized", "path", cfg.Path)
	return service, nil
}

// NewServiceWithFallback returns a no-op service when initialization fails,
// so monitoring problems never stop the daemon.
func NewServiceWithFallback(ctx context.Context, cfg *Config) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	service, err := NewService(ctx, cfg)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to initialize monitoring, using no-op implementation", "error", err)
		return newDisabledService(cfg, err)
	}
	return service
}

func (s *Service) Meter() metric.Meter {
	return s.meter
}

func (s *Service) Path() string {
	return s.config.Path
}

// GinMiddleware returns Gin middleware for HTTP metrics.
func (s *Service) GinMiddleware() gin.HandlerFunc {
	if !s.initialized {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return middleware.HTTPMetrics(s.meter)
}

// TaskObserver returns the registry observer that feeds task metrics.
func (s *Service) TaskObserver() task.Observer {
	if s.tasks == nil {
		return task.ObserverFunc(func(context.Context, task.Change) {})
	}
	return s.tasks
}

// RecordSave is installed as task.PersistenceConfig.OnSave.
func (s *Service) RecordSave(report task.SaveReport) {
	if s.tasks == nil {
		return
	}
	s.tasks.RecordSave(report)
}

// ObserveSubscribers exposes the number of live event stream subscribers.
func (s *Service) ObserveSubscribers(read func() int) error {
	if !s.initialized || read == nil {
		return nil
	}
	reg, err := registerGauge(s.meter, "agentrix_event_subscribers", "Connected event stream clients", read)
	if err != nil {
		return fmt.Errorf("failed to register subscriber gauge: %w", err)
	}
	s.mu.Lock()
	s.registrations = append(s.registrations, reg)
	s.mu.Unlock()
	return nil
}

// ExporterHandler returns an HTTP handler for the metrics endpoint
func (s *Service) ExporterHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.initialized {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := w.Write([]byte("Monitoring service not initialized")); err != nil {
				logger.FromContext(r.Context()).Error("Failed to write response", "error", err)
			}
			return
		}
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

// Shutdown unregisters callbacks and stops the meter provider.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	regs := s.registrations
	s.registrations = nil
	s.mu.Unlock()
	var errs []error
	for _, reg := range regs {
		if err := reg.Unregister(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.provider != nil {
		if err := s.provider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) IsInitialized() bool {
	return s.initialized
}

func (s *Service) InitializationError() error {
	return s.initializationErr
}

// SetAsGlobal sets this service's provider as the global OpenTelemetry meter provider
func (s *Service) SetAsGlobal() {
	if s.provider != nil {
		otel.SetMeterProvider(s.provider)
	}
}
