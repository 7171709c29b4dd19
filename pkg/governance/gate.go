// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

// Package governance mediates tool execution: every invocation passes
// through the approval gate, which either auto-approves it or suspends
// the session until an operator decision arrives through the broker.
package governance

import (
	"context"
	"log/slog"
	"time"

	"github.com/jllopis/mneme/pkg/core"
	"github.com/jllopis/mneme/pkg/telemetry"
)

// Risk classifies how dangerous a tool invocation is.
type Risk string

const (
	RiskBenign    Risk = "benign"
	RiskSensitive Risk = "sensitive"
)

// ShellToolName is the tool that is always Sensitive no matter what
// the registry says.
const ShellToolName = "shell"

// Invocation is one requested tool call under evaluation.
type Invocation struct {
	ID        string
	Name      string
	Arguments string
	Risk      Risk
}

// State is a gate state for one invocation.
type State string

const (
	StateIdle             State = "idle"
	StateEvaluating       State = "evaluating"
	StateAutoApproved     State = "auto_approved"
	StateAwaitingOperator State = "awaiting_operator"
	StateApproved         State = "approved"
	StateDenied           State = "denied"
)

// Decision is the terminal outcome attached 1:1 to an invocation.
// Terminal outcomes never revert to pending.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
)

// Result is the gate's answer for one invocation. Denial is a normal
// result, never an error: the runtime turns it into a conversational
// tool message and the session continues.
type Result struct {
	Invocation Invocation
	Decision   Decision
	// Auto is true when no operator was involved.
	Auto   bool
	Reason string
	Waited time.Duration
	// Trace records the state transitions taken, Idle through terminal.
	Trace []State
}

// Approved reports whether the runtime may dispatch the tool.
func (r Result) Approved() bool { return r.Decision == DecisionApproved }

// Notifier learns about invocations entering AwaitingOperator so an
// interactive surface can prompt and resolve through the broker.
type Notifier interface {
	Notify(ctx context.Context, inv Invocation)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, inv Invocation)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, inv Invocation) { f(ctx, inv) }

// Gate is the per-session approval state machine.
type Gate struct {
	broker      *Broker
	autoApprove bool
	timeout     time.Duration
	notifier    Notifier
	journal     Journal
	emitter     core.EventEmitter
	logger      *slog.Logger
	metrics     *telemetry.Metrics
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithAutoApprove skips operator involvement entirely, including for
// sensitive invocations.
func WithAutoApprove(auto bool) GateOption {
	return func(g *Gate) { g.autoApprove = auto }
}

// WithTimeout bounds the operator wait. Zero waits until a decision or
// context cancellation.
func WithTimeout(d time.Duration) GateOption {
	return func(g *Gate) { g.timeout = d }
}

// WithNotifier attaches an interactive approval surface.
func WithNotifier(n Notifier) GateOption {
	return func(g *Gate) { g.notifier = n }
}

// WithJournal records every decision for audit.
func WithJournal(j Journal) GateOption {
	return func(g *Gate) { g.journal = j }
}

// WithEmitter publishes approval lifecycle events.
func WithEmitter(e core.EventEmitter) GateOption {
	return func(g *Gate) { g.emitter = e }
}

// WithGateLogger overrides the component logger.
func WithGateLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) { g.logger = logger }
}

// WithGateMetrics attaches telemetry metrics.
func WithGateMetrics(m *telemetry.Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// NewGate creates a Gate delivering operator decisions from broker.
func NewGate(broker *Broker, opts ...GateOption) *Gate {
	g := &Gate{
		broker:  broker,
		emitter: core.NoopEventEmitter{},
		logger:  telemetry.Component("governance"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Broker returns the operator decision channel this gate consumes.
func (g *Gate) Broker() *Broker { return g.broker }

// Decide runs one invocation through the state machine and blocks,
// cooperatively, until a terminal decision. It never returns an error:
// timeout and cancellation both resolve to Denied.
func (g *Gate) Decide(ctx context.Context, inv Invocation) Result {
	start := time.Now()
	result := Result{
		Invocation: inv,
		Decision:   DecisionPending,
		Trace:      []State{StateIdle, StateEvaluating},
	}

	// The shell classification cannot be overridden by the registry.
	if inv.Name == ShellToolName {
		inv.Risk = RiskSensitive
		result.Invocation.Risk = RiskSensitive
	}

	if g.autoApprove || inv.Risk != RiskSensitive {
		result.Trace = append(result.Trace, StateAutoApproved, StateApproved)
		result.Decision = DecisionApproved
		result.Auto = true
		result.Reason = "auto-approved"
		g.finish(ctx, &result, start)
		return result
	}

	result.Trace = append(result.Trace, StateAwaitingOperator)
	pending := g.broker.Register(inv)
	g.metrics.RecordApprovalPending(ctx, 1)
	defer g.metrics.RecordApprovalPending(ctx, -1)

	sessionID, _ := core.SessionID(ctx)
	g.emitter.Emit(ctx, core.NewEvent(core.EventApprovalPending, sessionID, map[string]any{
		"invocation_id": inv.ID,
		"tool":          inv.Name,
		"risk":          string(inv.Risk),
	}))
	g.logger.InfoContext(ctx, "approval.request.pending",
		slog.String("invocation_id", inv.ID),
		slog.String("tool", inv.Name),
		slog.String("risk", string(inv.Risk)))

	if g.notifier != nil {
		g.notifier.Notify(ctx, inv)
	}

	var timeoutCh <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case sig := <-pending:
		if sig.Approved {
			result.Decision = DecisionApproved
		} else {
			result.Decision = DecisionDenied
		}
		result.Reason = sig.Reason
		if result.Reason == "" {
			if sig.Approved {
				result.Reason = "approved by operator"
			} else {
				result.Reason = "denied by operator"
			}
		}
	case <-timeoutCh:
		g.broker.Drop(inv.ID)
		result.Decision = DecisionDenied
		result.Reason = "approval timed out"
	case <-ctx.Done():
		g.broker.Drop(inv.ID)
		result.Decision = DecisionDenied
		result.Reason = "session cancelled while awaiting approval"
	}

	result.Trace = append(result.Trace, terminalState(result.Decision))
	g.finish(ctx, &result, start)
	return result
}

func terminalState(d Decision) State {
	if d == DecisionApproved {
		return StateApproved
	}
	return StateDenied
}

func (g *Gate) finish(ctx context.Context, result *Result, start time.Time) {
	result.Waited = time.Since(start)

	inv := result.Invocation
	g.metrics.RecordApprovalDecision(ctx, inv.Name, string(inv.Risk), string(result.Decision), result.Waited)

	sessionID, _ := core.SessionID(ctx)
	g.emitter.Emit(ctx, core.NewEvent(core.EventApprovalDecided, sessionID, map[string]any{
		"invocation_id": inv.ID,
		"tool":          inv.Name,
		"decision":      string(result.Decision),
		"auto":          result.Auto,
	}))
	g.logger.InfoContext(ctx, "approval.request.decided",
		slog.String("invocation_id", inv.ID),
		slog.String("tool", inv.Name),
		slog.String("decision", string(result.Decision)),
		slog.Bool("auto", result.Auto),
		slog.Duration("waited", result.Waited))

	if g.journal != nil {
		record := JournalRecord{
			InvocationID: inv.ID,
			SessionID:    sessionID,
			Tool:         inv.Name,
			Risk:         string(inv.Risk),
			Outcome:      string(result.Decision),
			Reason:       result.Reason,
			Auto:         result.Auto,
			WaitedMs:     result.Waited.Milliseconds(),
		}
		if err := g.journal.Record(ctx, record); err != nil {
			g.logger.WarnContext(ctx, "approval.journal.error",
				slog.String("invocation_id", inv.ID),
				slog.String("error", err.Error()))
		}
	}
}
