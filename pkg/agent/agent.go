// Package agent assembles a ready-to-run agent from configuration: the
// model provider, the tool registry with its availability gates, the
// approval machinery, memory, and the session runtime. It is the
// embedding surface; cmd/mneme is just one caller.
package agent

import (
	"context"
	"database/sql"
	stderrors "errors"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/jllopis/mneme/pkg/config"
	"github.com/jllopis/mneme/pkg/core"
	"github.com/jllopis/mneme/pkg/errors"
	"github.com/jllopis/mneme/pkg/governance"
	"github.com/jllopis/mneme/pkg/guardrails"
	"github.com/jllopis/mneme/pkg/llm"
	"github.com/jllopis/mneme/pkg/mcp"
	"github.com/jllopis/mneme/pkg/memory"
	"github.com/jllopis/mneme/pkg/resilience"
	"github.com/jllopis/mneme/pkg/runtime"
	"github.com/jllopis/mneme/pkg/skills"
	"github.com/jllopis/mneme/pkg/telemetry"
	"github.com/jllopis/mneme/pkg/tools"
)

// NotifierFactory builds the operator notifier once the broker exists.
// The broker is created during assembly, so callers that want console
// or static approvals hand in a constructor instead of an instance.
type NotifierFactory func(*governance.Broker) governance.Notifier

// Handle is a constructed agent. It owns the session wiring and the
// resources behind it (journal and conversation databases, MCP server
// processes); Close releases them.
type Handle struct {
	cfg     *config.Config
	session *runtime.Session
	broker  *governance.Broker
	sweeper *governance.Sweeper
	mcp     *mcp.Manager
	dbs     []*sql.DB
	logger  *slog.Logger

	// option-settable, consumed during assembly
	provider        llm.Provider
	notifierFactory NotifierFactory
	emitter         core.EventEmitter
	classifier      guardrails.FeedbackClassifier
	metrics         *telemetry.Metrics
	httpClient      *http.Client
	extraTools      []tools.Descriptor
}

// Result is the outcome of one Invoke call.
type Result struct {
	// SessionID identifies the session the exchange ran under.
	SessionID string `json:"session_id"`
	// Output is the model's final text for the turn loop.
	Output string `json:"output"`
}

// Option configures a Handle during construction.
type Option func(*Handle) error

// WithProvider overrides the model provider. The default is an Ollama
// provider built from the model section of the configuration.
func WithProvider(p llm.Provider) Option {
	return func(h *Handle) error {
		if p == nil {
			return errors.New(errors.CodeConfig, "provider must not be nil", nil)
		}
		h.provider = p
		return nil
	}
}

// WithNotifier installs the operator approval channel.
func WithNotifier(f NotifierFactory) Option {
	return func(h *Handle) error {
		h.notifierFactory = f
		return nil
	}
}

// WithEmitter subscribes an event emitter to session and gate events.
func WithEmitter(e core.EventEmitter) Option {
	return func(h *Handle) error {
		h.emitter = e
		return nil
	}
}

// WithClassifier replaces the default regex feedback classifier.
func WithClassifier(c guardrails.FeedbackClassifier) Option {
	return func(h *Handle) error {
		h.classifier = c
		return nil
	}
}

// WithMetrics attaches pre-built telemetry metrics instead of creating
// them during assembly.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(h *Handle) error {
		h.metrics = m
		return nil
	}
}

// WithHTTPClient sets the client used by the fetch_url tool.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Handle) error {
		h.httpClient = c
		return nil
	}
}

// WithTools registers additional tool descriptors after the builtins.
// A name collision here fails construction; embedders own their names.
func WithTools(descriptors ...tools.Descriptor) Option {
	return func(h *Handle) error {
		h.extraTools = append(h.extraTools, descriptors...)
		return nil
	}
}

// New validates cfg and assembles the agent. Construction is the fatal
// boundary: anything wrong with the configuration or the wiring errors
// here, before any session exists. Runtime failures after this point
// degrade instead.
func New(cfg *config.Config, opts ...Option) (*Handle, error) {
	if cfg == nil {
		return nil, errors.New(errors.CodeConfig, "config is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Conversation.Store == "sqlite" && strings.TrimSpace(cfg.Conversation.Path) == "" {
		return nil, errors.New(errors.CodeConfig, "conversation.path is required when conversation.store is sqlite", nil)
	}

	h := &Handle{
		cfg:    cfg,
		logger: telemetry.Component("agent"),
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}

	if h.metrics == nil {
		m, err := telemetry.NewMetrics()
		if err != nil {
			h.logger.Warn("agent.metrics.unavailable", slog.String("error", err.Error()))
		} else {
			h.metrics = m
		}
	}

	if h.provider == nil {
		h.provider = llm.NewOllamaWithTimeout(cfg.Model.Endpoint, cfg.Model.RequestTimeout)
	}

	registry, err := tools.Builtins(cfg.Agent, h.httpClient)
	if err != nil {
		return nil, err
	}
	h.loadSkills(registry)
	h.importMCPTools(registry)
	for _, d := range h.extraTools {
		if err := registry.Register(d); err != nil {
			h.close()
			return nil, err
		}
	}

	gate, err := h.buildGate()
	if err != nil {
		h.close()
		return nil, err
	}

	resolver := memory.NewResolver(memory.WithResolverMetrics(h.metrics))
	writer := memory.NewWriter(resolver, memory.WithWriterMetrics(h.metrics))

	transcript, err := h.buildTranscript()
	if err != nil {
		h.close()
		return nil, err
	}

	sessionOpts := []runtime.SessionOption{
		runtime.WithMemory(resolver, writer),
		runtime.WithTranscript(transcript),
		runtime.WithRetry(h.retryConfig()),
		runtime.WithSessionMetrics(h.metrics),
	}
	if h.emitter != nil {
		sessionOpts = append(sessionOpts, runtime.WithEmitter(h.emitter))
	}
	if h.classifier != nil {
		sessionOpts = append(sessionOpts, runtime.WithClassifier(h.classifier))
	}

	h.session = runtime.NewSession(cfg.Agent, cfg.Model, h.provider, registry, gate, sessionOpts...)

	if cfg.Agent.EnableSubagents {
		if err := registry.Register(h.session.TaskTool()); err != nil {
			h.close()
			return nil, err
		}
	}

	h.logger.Info("agent.ready",
		slog.String("assistant_id", cfg.Agent.AssistantID),
		slog.String("model", cfg.Model.Name),
		slog.Int("tools", registry.Len()),
		slog.Bool("memory", cfg.Agent.EnableMemory))
	return h, nil
}

// loadSkills merges the user and project skill layers into the
// registry. A broken or colliding skill is skipped with a warning;
// skills never block construction.
func (h *Handle) loadSkills(registry *tools.Registry) {
	if !h.cfg.Agent.EnableSkills {
		return
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	loader := skills.NewLoader(skills.UserDir(home), skills.ProjectDir(h.cfg.Agent.WorkingDir))
	for _, d := range skills.Tools(loader.Load()) {
		if err := registry.Register(d); err != nil {
			h.logger.Warn("agent.skill.skipped",
				slog.String("skill", d.Name),
				slog.String("error", err.Error()))
		}
	}
}

// importMCPTools spawns the configured MCP servers and registers the
// tools they expose. Server failures are already downgraded to
// warnings by the manager; only a registry collision is logged here.
func (h *Handle) importMCPTools(registry *tools.Registry) {
	if len(h.cfg.MCP.Servers) == 0 {
		return
	}
	h.mcp = mcp.NewManager()
	for _, d := range h.mcp.Connect(context.Background(), h.cfg.MCP.Servers) {
		if err := registry.Register(d); err != nil {
			h.logger.Warn("agent.mcp.tool_skipped",
				slog.String("tool", d.Name),
				slog.String("error", err.Error()))
		}
	}
}

func (h *Handle) buildGate() (*governance.Gate, error) {
	h.broker = governance.NewBroker()

	gateOpts := []governance.GateOption{
		governance.WithAutoApprove(h.cfg.Agent.AutoApprove),
		governance.WithTimeout(h.cfg.Approval.Timeout),
		governance.WithGateMetrics(h.metrics),
	}
	if h.emitter != nil {
		gateOpts = append(gateOpts, governance.WithEmitter(h.emitter))
	}
	if h.notifierFactory != nil {
		if n := h.notifierFactory(h.broker); n != nil {
			gateOpts = append(gateOpts, governance.WithNotifier(n))
		}
	}
	if path := h.cfg.Approval.JournalPath; path != "" {
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, errors.New(errors.CodeConfig, "open approval journal", err).
				WithContext("path", path)
		}
		h.dbs = append(h.dbs, db)
		journal, err := governance.NewSQLiteJournal(db)
		if err != nil {
			return nil, errors.New(errors.CodeConfig, "initialize approval journal", err).
				WithContext("path", path)
		}
		gateOpts = append(gateOpts, governance.WithJournal(journal))
	}

	// The sweeper trails the per-wait timeout so it only collects
	// entries whose waiter is already gone.
	h.sweeper = governance.NewSweeper(h.broker, h.cfg.Approval.SweepInterval, 2*h.cfg.Approval.Timeout)
	h.sweeper.Start()

	return governance.NewGate(h.broker, gateOpts...), nil
}

func (h *Handle) buildTranscript() (memory.ConversationStore, error) {
	convCfg := memory.ConversationConfig{}
	if h.cfg.Conversation.Window > 0 {
		convCfg.TruncationStrategy = memory.NewWindowStrategy(h.cfg.Conversation.Window, true)
	}
	if h.cfg.Conversation.Store != "sqlite" {
		return memory.NewInMemoryConversation(convCfg), nil
	}
	db, err := sql.Open("sqlite", h.cfg.Conversation.Path)
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "open conversation store", err).
			WithContext("path", h.cfg.Conversation.Path)
	}
	h.dbs = append(h.dbs, db)
	store, err := memory.NewSQLiteConversation(db, convCfg)
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "initialize conversation store", err).
			WithContext("path", h.cfg.Conversation.Path)
	}
	return store, nil
}

func (h *Handle) retryConfig() resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	if h.cfg.Model.MaxRetries > 0 {
		rc = rc.WithMaxAttempts(h.cfg.Model.MaxRetries)
	}
	if h.cfg.Model.RetryDelay > 0 {
		rc = rc.WithInitialDelay(h.cfg.Model.RetryDelay)
	}
	return rc
}

// Invoke runs one exchange through the session: prompt composition,
// the model turn loop, tool dispatch behind the gate, and feedback
// persistence. It blocks until the loop settles, including while a
// tool call waits for operator approval.
func (h *Handle) Invoke(ctx context.Context, input string) (*Result, error) {
	if strings.TrimSpace(input) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "input is required", nil)
	}
	ctx, sessionID := core.EnsureSessionID(ctx)
	output, err := h.session.Handle(ctx, input)
	if err != nil {
		return nil, err
	}
	return &Result{SessionID: sessionID, Output: output}, nil
}

// Session exposes the underlying runtime session for callers that need
// the lower-level surface.
func (h *Handle) Session() *runtime.Session { return h.session }

// Registry returns the assembled tool registry.
func (h *Handle) Registry() *tools.Registry { return h.session.Registry() }

// Config returns the configuration the agent was built from.
func (h *Handle) Config() *config.Config { return h.cfg }

// Close stops the sweeper and releases MCP connections and database
// handles. The Handle must not be used afterwards.
func (h *Handle) Close() error {
	return h.close()
}

func (h *Handle) close() error {
	var errs []error
	if h.sweeper != nil {
		h.sweeper.Stop()
	}
	if h.mcp != nil {
		if err := h.mcp.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, db := range h.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
