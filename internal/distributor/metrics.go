package distributor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

type distributorMetrics struct {
	created  metric.Int64Counter
	rejected metric.Int64Counter
	nodes    metric.Int64Gauge
}

func newDistributorMetrics(logger pslog.Logger) *distributorMetrics {
	meter := otel.Meter("pkt.systems/gridd/distributor")
	m := &distributorMetrics{}
	var err error

	m.created, err = meter.Int64Counter(
		"gridd.sessions.created",
		metric.WithDescription("Sessions successfully created"),
	)
	logMetricInitError(logger, "gridd.sessions.created", err)

	m.rejected, err = meter.Int64Counter(
		"gridd.sessions.rejected",
		metric.WithDescription("Session requests terminally rejected"),
	)
	logMetricInitError(logger, "gridd.sessions.rejected", err)

	m.nodes, err = meter.Int64Gauge(
		"gridd.nodes",
		metric.WithDescription("Nodes known to the distributor"),
	)
	logMetricInitError(logger, "gridd.nodes", err)

	return m
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("distributor.metric.init_failed", "metric", name, "error", err)
}

func (m *distributorMetrics) recordSessionCreated(ctx context.Context) {
	if m == nil || m.created == nil {
		return
	}
	m.created.Add(ctx, 1)
}

func (m *distributorMetrics) recordSessionRejected(ctx context.Context, code string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("gridd.failure_code", code)))
}

func (m *distributorMetrics) recordNodeCount(ctx context.Context, count int) {
	if m == nil || m.nodes == nil {
		return
	}
	m.nodes.Record(ctx, int64(count))
}
