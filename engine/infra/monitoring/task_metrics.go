package monitoring

import (
	"context"

	"github.com/compozy/agentrix/engine/infra/monitoring/metrics"
	"github.com/compozy/agentrix/engine/task"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TaskMetrics observes the task registry and its snapshot writer.
type TaskMetrics struct {
	created      metric.Int64Counter
	finished     metric.Int64Counter
	active       metric.Int64UpDownCounter
	duration     metric.Float64Histogram
	saves        metric.Int64Counter
	saveDuration metric.Float64Histogram
}

func newTaskMetrics(meter metric.Meter) (*TaskMetrics, error) {
	created, err := meter.Int64Counter(
		"agentrix_tasks_created_total",
		metric.WithDescription("Tasks registered, by type"),
	)
	if err != nil {
		return nil, err
	}
	finished, err := meter.Int64Counter(
		"agentrix_tasks_finished_total",
		metric.WithDescription("Tasks that reached a terminal status"),
	)
	if err != nil {
		return nil, err
	}
	active, err := meter.Int64UpDownCounter(
		"agentrix_tasks_active",
		metric.WithDescription("Tasks not yet in a terminal status"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"agentrix_task_duration_seconds",
		metric.WithDescription("Time from task creation to completion"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.TaskDurationBuckets...),
	)
	if err != nil {
		return nil, err
	}
	saves, err := meter.Int64Counter(
		"agentrix_task_snapshot_saves_total",
		metric.WithDescription("Snapshot save attempts, by outcome"),
	)
	if err != nil {
		return nil, err
	}
	saveDuration, err := meter.Float64Histogram(
		"agentrix_task_snapshot_save_duration_seconds",
		metric.WithDescription("Snapshot save latency including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.SnapshotSaveBuckets...),
	)
	if err != nil {
		return nil, err
	}
	return &TaskMetrics{
		created:      created,
		finished:     finished,
		active:       active,
		duration:     duration,
		saves:        saves,
		saveDuration: saveDuration,
	}, nil
}

// TaskChanged implements task.Observer.
func (m *TaskMetrics) TaskChanged(ctx context.Context, change task.Change) {
	typeAttr := attribute.String("type", change.Task.Type)
	if change.Previous == "" {
		m.created.Add(ctx, 1, metric.WithAttributes(typeAttr))
		m.active.Add(ctx, 1, metric.WithAttributes(typeAttr))
	}
	if change.Previous.IsTerminal() || !change.Task.Status.IsTerminal() {
		return
	}
	attrs := metric.WithAttributes(typeAttr, attribute.String("status", string(change.Task.Status)))
	m.finished.Add(ctx, 1, attrs)
	m.active.Add(ctx, -1, metric.WithAttributes(typeAttr))
	if change.Task.CompletedAt != nil {
		m.duration.Record(ctx, change.Task.CompletedAt.Sub(change.Task.CreatedAt).Seconds(), attrs)
	}
}

// RecordSave is meant for task.PersistenceConfig.OnSave.
func (m *TaskMetrics) RecordSave(report task.SaveReport) {
	ctx := context.Background()
	outcome := "success"
	if report.Err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.saves.Add(ctx, 1, attrs)
	m.saveDuration.Record(ctx, report.Duration.Seconds(), attrs)
}

