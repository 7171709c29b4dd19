// SPDX-License-Identifier: Apache-2.0
// Domain metrics for the approval gate, memory subsystem, and tool
// execution. All Record methods are nil-receiver safe so callers never
// guard on telemetry being configured.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics tracks approval, memory, and tool activity for production
// monitoring.
type Metrics struct {
	// approvalDecisions counts terminal gate decisions by outcome and tool.
	approvalDecisions metric.Int64Counter

	// approvalWait measures how long sessions stayed suspended on the gate.
	approvalWait metric.Float64Histogram

	// approvalPending tracks currently suspended invocations.
	approvalPending metric.Int64UpDownCounter

	// memoryWrites counts writer outcomes by scope.
	memoryWrites metric.Int64Counter

	// memoryResolutions counts resolver reads by scope and hit/miss.
	memoryResolutions metric.Int64Counter

	// toolExecutions counts dispatched tools by name and success.
	toolExecutions metric.Int64Counter

	// toolDuration measures tool execution time.
	toolDuration metric.Float64Histogram
}

var (
	defaultMetrics     *Metrics
	defaultMetricsErr  error
	defaultMetricsOnce sync.Once
)

// Default returns process-wide metrics, initialized once against the
// global meter provider.
func Default() (*Metrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = NewMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// NewMetrics registers the Mneme instruments on the global meter.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("mneme/runtime")

	approvalDecisions, err := meter.Int64Counter(
		"mneme.approvals.decisions",
		metric.WithDescription("Terminal approval decisions by outcome, tool, and risk"),
	)
	if err != nil {
		return nil, err
	}

	approvalWait, err := meter.Float64Histogram(
		"mneme.approvals.wait_ms",
		metric.WithDescription("Time sessions spent suspended awaiting an operator decision"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	approvalPending, err := meter.Int64UpDownCounter(
		"mneme.approvals.pending",
		metric.WithDescription("Invocations currently awaiting an operator decision"),
	)
	if err != nil {
		return nil, err
	}

	memoryWrites, err := meter.Int64Counter(
		"mneme.memory.writes",
		metric.WithDescription("Memory append outcomes by scope"),
	)
	if err != nil {
		return nil, err
	}

	memoryResolutions, err := meter.Int64Counter(
		"mneme.memory.resolutions",
		metric.WithDescription("Memory resolutions by scope and presence"),
	)
	if err != nil {
		return nil, err
	}

	toolExecutions, err := meter.Int64Counter(
		"mneme.tools.executions",
		metric.WithDescription("Tool dispatches by name and success"),
	)
	if err != nil {
		return nil, err
	}

	toolDuration, err := meter.Float64Histogram(
		"mneme.tools.duration_ms",
		metric.WithDescription("Tool execution duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		approvalDecisions: approvalDecisions,
		approvalWait:      approvalWait,
		approvalPending:   approvalPending,
		memoryWrites:      memoryWrites,
		memoryResolutions: memoryResolutions,
		toolExecutions:    toolExecutions,
		toolDuration:      toolDuration,
	}, nil
}

// RecordApprovalDecision records a terminal gate decision.
func (m *Metrics) RecordApprovalDecision(ctx context.Context, tool, risk, outcome string, waited time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrToolName, tool),
		attribute.String(AttrToolRisk, risk),
		attribute.String(AttrApprovalOutcome, outcome),
	)
	m.approvalDecisions.Add(ctx, 1, attrs)
	if waited > 0 {
		m.approvalWait.Record(ctx, float64(waited.Milliseconds()), attrs)
	}
}

// RecordApprovalPending adjusts the pending gauge (+1 suspend, -1 resume).
func (m *Metrics) RecordApprovalPending(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.approvalPending.Add(ctx, delta)
}

// RecordMemoryWrite records a writer outcome for a scope.
func (m *Metrics) RecordMemoryWrite(ctx context.Context, scope string, err error) {
	if m == nil {
		return
	}
	outcome := "applied"
	if err != nil {
		outcome = "failed"
	}
	m.memoryWrites.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(AttrMemoryScope, scope),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordMemoryResolution records a resolver read for a scope.
func (m *Metrics) RecordMemoryResolution(ctx context.Context, scope string, found bool) {
	if m == nil {
		return
	}
	m.memoryResolutions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(AttrMemoryScope, scope),
			attribute.Bool("found", found),
		),
	)
}

// RecordToolExecution records a dispatched tool call.
func (m *Metrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrToolName, tool),
		attribute.Bool(AttrToolSuccess, err == nil),
	)
	m.toolExecutions.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}
