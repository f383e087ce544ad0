package queue

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

type queueMetrics struct {
	enqueued  metric.Int64Counter
	completed metric.Int64Counter
	timeouts  metric.Int64Counter
	depth     metric.Int64Gauge
	waitMS    metric.Int64Histogram
}

func newQueueMetrics(logger pslog.Logger) *queueMetrics {
	meter := otel.Meter("pkt.systems/gridd/queue")
	m := &queueMetrics{}
	var err error

	m.enqueued, err = meter.Int64Counter(
		"gridd.queue.enqueued",
		metric.WithDescription("Session requests added to the queue"),
	)
	logMetricInitError(logger, "gridd.queue.enqueued", err)

	m.completed, err = meter.Int64Counter(
		"gridd.queue.completed",
		metric.WithDescription("Session requests completed"),
	)
	logMetricInitError(logger, "gridd.queue.completed", err)

	m.timeouts, err = meter.Int64Counter(
		"gridd.queue.timeouts",
		metric.WithDescription("Session requests that hit their deadline"),
	)
	logMetricInitError(logger, "gridd.queue.timeouts", err)

	m.depth, err = meter.Int64Gauge(
		"gridd.queue.depth",
		metric.WithDescription("Pending session requests"),
	)
	logMetricInitError(logger, "gridd.queue.depth", err)

	m.waitMS, err = meter.Int64Histogram(
		"gridd.queue.wait.duration_ms",
		metric.WithDescription("Time a submitter spent blocked in the queue"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "gridd.queue.wait.duration_ms", err)

	return m
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("queue.metric.init_failed", "metric", name, "error", err)
}

func (m *queueMetrics) recordEnqueue(ctx context.Context, depth int) {
	if m == nil {
		return
	}
	if m.enqueued != nil {
		m.enqueued.Add(ctx, 1)
	}
	if m.depth != nil {
		m.depth.Record(ctx, int64(depth))
	}
}

func (m *queueMetrics) recordComplete(ctx context.Context, ok bool) {
	if m == nil || m.completed == nil {
		return
	}
	m.completed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("gridd.success", ok)))
}

func (m *queueMetrics) recordTimeout(ctx context.Context) {
	if m == nil || m.timeouts == nil {
		return
	}
	m.timeouts.Add(ctx, 1)
}

func (m *queueMetrics) recordWait(ctx context.Context, wait time.Duration, ok bool) {
	if m == nil || m.waitMS == nil {
		return
	}
	m.waitMS.Record(ctx, wait.Milliseconds(), metric.WithAttributes(attribute.Bool("gridd.success", ok)))
}
