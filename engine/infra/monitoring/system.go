package monitoring

import (
	"context"
	"time"

	"github.com/compozy/agentrix/pkg/logger"
	"github.com/compozy/agentrix/pkg/version"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// registerSystemMetrics records build information and exposes uptime.
func registerSystemMetrics(ctx context.Context, meter metric.Meter, started time.Time) (metric.Registration, error) {
	buildInfo, err := meter.Float64Gauge(
		"agentrix_build_info",
		metric.WithDescription("Build information (value=1)"),
	)
	if err != nil {
		return nil, err
	}
	uptime, err := meter.Float64ObservableGauge(
		"agentrix_uptime_seconds",
		metric.WithDescription("Service uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveFloat64(uptime, time.Since(started).Seconds())
		return nil
	}, uptime)
	if err != nil {
		return nil, err
	}
	info := version.Get()
	buildInfo.Record(ctx, 1, metric.WithAttributes(
		attribute.String("version", info.Version),
		attribute.String("commit_hash", info.CommitHash),
		attribute.String("go_version", info.GoVersion),
	))
	logger.FromContext(ctx).Debug("System metrics initialized",
		"version", info.Version,
		"commit", info.CommitHash,
		"go_version", info.GoVersion,
	)
	return reg, nil
}

// registerGauge exposes an integer read on every collection.
func registerGauge(meter metric.Meter, name, description string, read func() int) (metric.Registration, error) {
	gauge, err := meter.Int64ObservableGauge(name, metric.WithDescription(description))
	if err != nil {
		return nil, err
	}
	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, int64(read()))
		return nil
	}, gauge)
}
