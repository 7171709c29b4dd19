// Package runtime drives sessions: one logical sequential thread of
// control that composes the system prompt once, exchanges turns with
// the model, routes every requested tool call through the approval
// gate, and loops until the model stops calling tools or the turn cap
// is reached.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jllopis/mneme/pkg/config"
	"github.com/jllopis/mneme/pkg/core"
	"github.com/jllopis/mneme/pkg/errors"
	"github.com/jllopis/mneme/pkg/governance"
	"github.com/jllopis/mneme/pkg/guardrails"
	"github.com/jllopis/mneme/pkg/llm"
	"github.com/jllopis/mneme/pkg/memory"
	"github.com/jllopis/mneme/pkg/prompt"
	"github.com/jllopis/mneme/pkg/resilience"
	"github.com/jllopis/mneme/pkg/telemetry"
	"github.com/jllopis/mneme/pkg/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Session is the per-conversation execution engine. All fields are set
// at construction and read-only afterwards, so a session value can be
// copied to spawn subagents.
type Session struct {
	cfg      config.AgentConfig
	model    config.ModelConfig
	provider llm.Provider
	registry *tools.Registry
	gate     *governance.Gate

	resolver   *memory.Resolver
	writer     *memory.Writer
	classifier guardrails.FeedbackClassifier
	scrubber   *guardrails.Scrubber
	transcript memory.ConversationStore

	basePrompt string
	retry      resilience.RetryConfig
	emitter    core.EventEmitter
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	tracer     trace.Tracer
	subagent   bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithMemory overrides the resolver/writer pair (tests point them at a
// temp home).
func WithMemory(resolver *memory.Resolver, writer *memory.Writer) SessionOption {
	return func(s *Session) {
		s.resolver = resolver
		s.writer = writer
	}
}

// WithClassifier swaps the feedback classifier.
func WithClassifier(c guardrails.FeedbackClassifier) SessionOption {
	return func(s *Session) { s.classifier = c }
}

// WithScrubber swaps the memory scrubber.
func WithScrubber(sc *guardrails.Scrubber) SessionOption {
	return func(s *Session) { s.scrubber = sc }
}

// WithTranscript records the full exchange into store, keyed by
// session id.
func WithTranscript(store memory.ConversationStore) SessionOption {
	return func(s *Session) { s.transcript = store }
}

// WithBasePrompt replaces the stock instruction block.
func WithBasePrompt(p string) SessionOption {
	return func(s *Session) { s.basePrompt = p }
}

// WithRetry overrides the model-call retry policy.
func WithRetry(rc resilience.RetryConfig) SessionOption {
	return func(s *Session) { s.retry = rc }
}

// WithEmitter publishes session lifecycle events.
func WithEmitter(e core.EventEmitter) SessionOption {
	return func(s *Session) { s.emitter = e }
}

// WithSessionLogger overrides the component logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithSessionMetrics attaches telemetry metrics.
func WithSessionMetrics(m *telemetry.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// NewSession assembles a session over an already-validated config. The
// registry decides tool availability; the gate decides tool
// permission.
func NewSession(cfg config.AgentConfig, model config.ModelConfig, provider llm.Provider, registry *tools.Registry, gate *governance.Gate, opts ...SessionOption) *Session {
	s := &Session{
		cfg:      cfg,
		model:    model,
		provider: provider,
		registry: registry,
		gate:     gate,
		retry:    resilience.DefaultRetryConfig(),
		emitter:  core.NoopEventEmitter{},
		logger:   telemetry.Component("runtime"),
		tracer:   otel.Tracer("mneme/runtime"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		s.resolver = memory.NewResolver()
	}
	if s.writer == nil {
		s.writer = memory.NewWriter(s.resolver)
	}
	if s.classifier == nil {
		s.classifier = guardrails.NewRegexClassifier()
	}
	if s.scrubber == nil {
		s.scrubber = guardrails.NewScrubber()
	}
	return s
}

// Registry returns the session's tool table.
func (s *Session) Registry() *tools.Registry { return s.registry }

// runState is the per-Handle mutable state: transcript sequencing and
// the identity of this particular run.
type runState struct {
	sessionID string
	run       int64
	seq       int
}

// Handle runs one session exchange: input in, final assistant text
// out. It is synchronous to the caller even while suspended on an
// operator approval. Denials, tool failures, and memory problems all
// degrade into the conversation; only an exhausted model retry budget
// returns an error. With a transcript configured, a reused session id
// replays its prior exchanges before the new input.
func (s *Session) Handle(ctx context.Context, input string) (string, error) {
	ctx, sessionID := core.EnsureSessionID(ctx)
	ctx, span := s.tracer.Start(ctx, "Session.Handle")
	defer span.End()
	span.SetAttributes(telemetry.SessionAttributes(sessionID, s.cfg.AssistantID, s.subagent)...)
	span.SetAttributes(
		attribute.Int(telemetry.AttrMaxTurns, s.cfg.MaxTurns),
		attribute.Bool(telemetry.AttrMemoryEnabled, s.cfg.EnableMemory),
	)
	st := &runState{sessionID: sessionID, run: time.Now().UnixNano()}

	s.emitter.Emit(ctx, core.NewEvent(core.EventSessionStarted, sessionID, map[string]any{
		"subagent": s.subagent,
		"tools":    s.registry.Len(),
	}))
	s.logger.InfoContext(ctx, "session.start",
		slog.String("session_id", sessionID),
		slog.Bool("subagent", s.subagent),
		slog.Int("tools", s.registry.Len()))

	system := s.composePrompt(ctx)
	messages := []llm.Message{llm.SystemMessage(system)}
	messages = append(messages, s.history(ctx, sessionID)...)
	messages = append(messages, llm.UserMessage(input))
	s.record(ctx, st, string(llm.RoleSystem), system, "")
	s.record(ctx, st, string(llm.RoleUser), input, "")

	final := ""
	completed := false
	turns := 0
	for turn := 0; turn < s.cfg.MaxTurns; turn++ {
		turns = turn + 1
		s.emitter.Emit(ctx, core.NewEvent(core.EventTurnStarted, sessionID, map[string]any{
			"turn": turns,
		}))

		resp, err := s.chat(ctx, messages)
		if err != nil {
			span.RecordError(err)
			s.emitter.Emit(ctx, core.NewEvent(core.EventSessionError, sessionID, map[string]any{
				"error": err.Error(),
			}))
			s.logger.ErrorContext(ctx, "session.error",
				slog.String("session_id", sessionID),
				slog.Int("turn", turns),
				slog.String("error", err.Error()))
			return "", err
		}

		final = resp.Content
		if len(resp.ToolCalls) == 0 {
			s.record(ctx, st, string(llm.RoleAssistant), resp.Content, "")
			completed = true
			break
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		s.record(ctx, st, string(llm.RoleAssistant), resp.Content, "")

		for i, call := range resp.ToolCalls {
			if call.ID == "" {
				call.ID = fmt.Sprintf("%s-call-%d-%d", sessionID, turns, i)
			}
			result := s.dispatch(ctx, call)
			messages = append(messages, llm.ToolResultMessage(call.ID, result))
			s.record(ctx, st, string(llm.RoleTool), result, call.ID)
		}
	}

	span.SetAttributes(attribute.Int(telemetry.AttrTurn, turns))
	if !completed {
		s.logger.WarnContext(ctx, "session.turns.exhausted",
			slog.String("session_id", sessionID),
			slog.Int("max_turns", s.cfg.MaxTurns))
	}

	s.persistFeedback(ctx, input)

	s.emitter.Emit(ctx, core.NewEvent(core.EventSessionCompleted, sessionID, map[string]any{
		"turns":        turns,
		"output_chars": len(final),
	}))
	s.logger.InfoContext(ctx, "session.complete",
		slog.String("session_id", sessionID),
		slog.Int("turns", turns))
	return final, nil
}

// composePrompt builds the system prompt for this run. With memory
// disabled the result is exactly the base instruction block.
func (s *Session) composePrompt(ctx context.Context) string {
	base := s.basePrompt
	if base == "" {
		base = prompt.DefaultBasePrompt
	}
	base = base + "\n\n" + prompt.EnvBlock(s.cfg.WorkingDir)

	if !s.cfg.EnableMemory {
		return prompt.Compose(prompt.MemoryBlocks{}, base, "", false)
	}

	mc := s.resolver.ResolveContext(ctx, s.cfg)
	blocks := prompt.MemoryBlocks{User: mc.UserBlock, Project: mc.ProjectBlock}
	return prompt.Compose(blocks, base, prompt.UsageDocs, true)
}

// history replays prior user and assistant text for this session id
// from the transcript. System records are superseded by the freshly
// composed prompt; tool records are skipped because stored messages
// cannot rebuild a well-formed call/result sequence.
func (s *Session) history(ctx context.Context, sessionID string) []llm.Message {
	if s.transcript == nil {
		return nil
	}
	stored, err := s.transcript.GetMessages(ctx, sessionID)
	if err != nil {
		s.logger.WarnContext(ctx, "session.history.error",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return nil
	}

	var replay []llm.Message
	for _, m := range stored {
		role := llm.Role(m.Role)
		if role != llm.RoleUser && role != llm.RoleAssistant {
			continue
		}
		if m.Content == "" {
			continue
		}
		replay = append(replay, llm.Message{Role: role, Content: m.Content})
	}
	return replay
}

// chat performs one model exchange under the per-request timeout and
// the retry budget. An exhausted budget is the session's only fatal
// outcome.
func (s *Session) chat(ctx context.Context, messages []llm.Message) (*llm.ChatResponse, error) {
	req := llm.ChatRequest{
		Model:       s.model.Name,
		Messages:    messages,
		Tools:       s.registry.Definitions(),
		Temperature: s.model.Temperature,
	}

	ctx, span := s.tracer.Start(ctx, "Session.LLM.Chat", trace.WithAttributes(
		telemetry.LLMAttributes(s.model.Name, 0, 0, 0)...,
	))
	defer span.End()

	var resp *llm.ChatResponse
	err := s.retry.Do(ctx, func() error {
		r, err := resilience.WithTimeoutResult(ctx,
			resilience.TimeoutConfig{Duration: s.model.RequestTimeout},
			func(ctx context.Context) (*llm.ChatResponse, error) {
				return s.provider.Chat(ctx, req)
			})
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if errors.IsCode(err, errors.CodeLLMFatal) {
			return nil, err
		}
		return nil, errors.New(errors.CodeLLMFatal, "model exchange failed after retries", err).
			WithContext("model", s.model.Name)
	}
	span.SetAttributes(telemetry.LLMAttributes(s.model.Name,
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens, len(resp.ToolCalls))...)
	return resp, nil
}

// dispatch routes one requested tool call through the gate and, when
// approved, executes it. The return value is always a conversational
// tool result; nothing here ends the session.
func (s *Session) dispatch(ctx context.Context, call llm.ToolCall) string {
	sessionID, _ := core.SessionID(ctx)
	name := call.Function.Name

	descriptor, ok := s.registry.Get(name)
	if !ok {
		s.logger.WarnContext(ctx, "session.tool.missing",
			slog.String("session_id", sessionID),
			slog.String("tool", name))
		return fmt.Sprintf("tool error: %q is not available", name)
	}

	ctx, span := s.tracer.Start(ctx, "Session.Tool.Call", trace.WithAttributes(
		telemetry.ToolAttributes(name, call.ID, string(descriptor.Risk), "")...,
	))
	defer span.End()

	inv := governance.Invocation{
		ID:        call.ID,
		Name:      name,
		Arguments: approvalPreview(name, call.Function.Arguments),
		Risk:      descriptor.Risk,
	}
	s.emitter.Emit(ctx, core.NewEvent(core.EventToolRequested, sessionID, map[string]any{
		"invocation_id": inv.ID,
		"tool":          name,
		"risk":          string(descriptor.Risk),
	}))

	decision := s.gate.Decide(ctx, inv)
	outcome := "denied"
	if decision.Approved() {
		outcome = "approved"
	}
	span.SetAttributes(telemetry.ApprovalAttributes(inv.ID, outcome, decision.Auto)...)
	if decision.Waited > 0 {
		span.SetAttributes(attribute.Float64(telemetry.AttrApprovalWaitMs, float64(decision.Waited.Milliseconds())))
	}
	if !decision.Approved() {
		span.SetAttributes(attribute.String(telemetry.AttrApprovalReason, decision.Reason))
		s.logger.InfoContext(ctx, "session.tool.denied",
			slog.String("session_id", sessionID),
			slog.String("tool", name),
			slog.String("reason", decision.Reason))
		return "tool call denied: " + decision.Reason
	}

	start := time.Now()
	out, err := descriptor.Handler(ctx, json.RawMessage(call.Function.Arguments))
	elapsed := time.Since(start)
	span.SetAttributes(
		attribute.Float64(telemetry.AttrToolDurationMs, float64(elapsed.Milliseconds())),
		attribute.Bool(telemetry.AttrToolSuccess, err == nil),
	)
	s.metrics.RecordToolExecution(ctx, name, elapsed, err)
	s.emitter.Emit(ctx, core.NewEvent(core.EventToolCompleted, sessionID, map[string]any{
		"invocation_id": inv.ID,
		"tool":          name,
		"success":       err == nil,
		"duration_ms":   elapsed.Milliseconds(),
	}))
	if err != nil {
		span.RecordError(err)
		s.logger.WarnContext(ctx, "session.tool.error",
			slog.String("session_id", sessionID),
			slog.String("tool", name),
			slog.String("error", err.Error()))
		return "tool error: " + err.Error()
	}
	return out
}

// persistFeedback appends the input to layered memory when the
// classifier marks it as a durable preference. Failures degrade to a
// warning; the session result is unaffected.
func (s *Session) persistFeedback(ctx context.Context, input string) {
	if !s.cfg.EnableMemory || !s.classifier.Classify(ctx, input) {
		return
	}

	scrubbed := s.scrubber.Scrub(ctx, input)
	if scrubbed.Modified {
		s.logger.InfoContext(ctx, "session.memory.scrubbed",
			slog.Int("redactions", len(scrubbed.Redactions)))
	}

	scope, err := s.writer.AppendPreferred(ctx, s.cfg, scrubbed.Content)
	if err != nil {
		s.logger.WarnContext(ctx, "session.memory.persist_failed",
			slog.String("scope", string(scope)),
			slog.String("error", err.Error()))
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(telemetry.MemoryAttributes(
		string(scope), s.resolver.TargetPath(scope, s.cfg), len(scrubbed.Content))...)

	sessionID, _ := core.SessionID(ctx)
	s.emitter.Emit(ctx, core.NewEvent(core.EventMemoryWritten, sessionID, map[string]any{
		"scope": string(scope),
	}))
	s.logger.InfoContext(ctx, "session.memory.persisted",
		slog.String("scope", string(scope)))
}

// record appends one message to the transcript store, when configured.
func (s *Session) record(ctx context.Context, st *runState, role, content, toolCallID string) {
	if s.transcript == nil {
		return
	}
	st.seq++
	msg := memory.ConversationMessage{
		ID:         fmt.Sprintf("%s-%d-%04d", st.sessionID, st.run, st.seq),
		SessionID:  st.sessionID,
		Role:       role,
		Content:    content,
		ToolCallID: toolCallID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.transcript.AppendMessage(ctx, st.sessionID, msg); err != nil {
		s.logger.WarnContext(ctx, "session.transcript.error",
			slog.String("session_id", st.sessionID),
			slog.String("error", err.Error()))
	}
}
