package runtime

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/mneme/pkg/config"
	"github.com/jllopis/mneme/pkg/core"
	"github.com/jllopis/mneme/pkg/errors"
	"github.com/jllopis/mneme/pkg/governance"
	"github.com/jllopis/mneme/pkg/llm"
	"github.com/jllopis/mneme/pkg/memory"
	"github.com/jllopis/mneme/pkg/prompt"
	"github.com/jllopis/mneme/pkg/resilience"
	mnemetest "github.com/jllopis/mneme/pkg/testing"
	"github.com/jllopis/mneme/pkg/tools"
)

func testAgentConfig(t *testing.T) config.AgentConfig {
	t.Helper()
	return config.AgentConfig{
		AssistantID:  "mneme",
		WorkingDir:   t.TempDir(),
		EnableMemory: true,
		MaxTurns:     8,
	}
}

func testModel() config.ModelConfig {
	return config.ModelConfig{Name: "test-model"}
}

func fastRetry() resilience.RetryConfig {
	return resilience.DefaultRetryConfig().
		WithMaxAttempts(2).
		WithInitialDelay(time.Millisecond)
}

func testMemory(t *testing.T) (*memory.Resolver, *memory.Writer) {
	t.Helper()
	resolver := memory.NewResolver(memory.WithHome(t.TempDir()))
	return resolver, memory.NewWriter(resolver)
}

type echoInput struct {
	Text string `json:"text"`
}

func echoDescriptor(calls *int) tools.Descriptor {
	return tools.Descriptor{
		Name:        "echo",
		Description: "Echo text back.",
		Schema:      tools.GenerateSchema[echoInput](),
		Risk:        governance.RiskBenign,
		Handler: func(_ context.Context, args json.RawMessage) (string, error) {
			var in echoInput
			_ = json.Unmarshal(args, &in)
			if calls != nil {
				*calls++
			}
			return "echo: " + in.Text, nil
		},
	}
}

func sensitiveDescriptor(name string, calls *int) tools.Descriptor {
	return tools.Descriptor{
		Name:        name,
		Description: "A tool that needs approval.",
		Schema:      tools.GenerateSchema[echoInput](),
		Risk:        governance.RiskSensitive,
		Handler: func(_ context.Context, _ json.RawMessage) (string, error) {
			if calls != nil {
				*calls++
			}
			return "done", nil
		},
	}
}

func TestSessionPlainExchange(t *testing.T) {
	cfg := testAgentConfig(t)
	provider := llm.NewScriptedProvider(llm.TextTurn("Hello there."))
	registry := tools.NewRegistry()
	gate := governance.NewGate(governance.NewBroker())
	resolver, writer := testMemory(t)
	collector := mnemetest.NewEventCollector()

	s := NewSession(cfg, testModel(), provider, registry, gate,
		WithMemory(resolver, writer),
		WithEmitter(collector),
		WithRetry(fastRetry()))

	out, err := s.Handle(context.Background(), "Hi")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out != "Hello there." {
		t.Errorf("expected final text, got %q", out)
	}
	if provider.CallCount != 1 {
		t.Errorf("expected 1 model call, got %d", provider.CallCount)
	}

	req, err := provider.LastRequest()
	if err != nil {
		t.Fatalf("LastRequest: %v", err)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(req.Messages))
	}
	if req.Messages[0].Role != llm.RoleSystem || req.Messages[1].Role != llm.RoleUser {
		t.Errorf("unexpected message roles: %v, %v", req.Messages[0].Role, req.Messages[1].Role)
	}

	for _, want := range []core.EventType{core.EventSessionStarted, core.EventTurnStarted, core.EventSessionCompleted} {
		if !collector.HasEvent(want) {
			t.Errorf("expected %q event", want)
		}
	}
}

func TestSessionComposesMemoryMarkers(t *testing.T) {
	cfg := testAgentConfig(t)
	provider := llm.NewScriptedProvider(llm.TextTurn("ok"))
	resolver, writer := testMemory(t)

	s := NewSession(cfg, testModel(), provider, tools.NewRegistry(),
		governance.NewGate(governance.NewBroker()),
		WithMemory(resolver, writer),
		WithRetry(fastRetry()))

	if _, err := s.Handle(context.Background(), "Hi"); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	system := provider.SystemPrompts()[0]
	for _, marker := range []string{
		prompt.UserMemoryOpen, prompt.UserMemoryClose,
		prompt.ProjectMemoryOpen, prompt.ProjectMemoryClose,
	} {
		if !strings.Contains(system, marker) {
			t.Errorf("system prompt missing marker %q", marker)
		}
	}
	if !strings.Contains(system, "## Memory") {
		t.Error("system prompt missing usage documentation")
	}
}

func TestSessionMemoryDisabledPromptIsExactlyBase(t *testing.T) {
	cfg := testAgentConfig(t)
	cfg.EnableMemory = false
	provider := llm.NewScriptedProvider(llm.TextTurn("ok"))
	resolver, writer := testMemory(t)

	s := NewSession(cfg, testModel(), provider, tools.NewRegistry(),
		governance.NewGate(governance.NewBroker()),
		WithMemory(resolver, writer),
		WithRetry(fastRetry()))

	if _, err := s.Handle(context.Background(), "Hi"); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	system := provider.SystemPrompts()[0]
	want := prompt.DefaultBasePrompt + "\n\n" + prompt.EnvBlock(cfg.WorkingDir)
	if system != want {
		t.Errorf("disabled memory must yield the base prompt exactly, got %q", system)
	}
	if strings.Contains(system, prompt.UserMemoryOpen) {
		t.Error("disabled memory must not emit memory markers")
	}
}

func TestSessionToolLoop(t *testing.T) {
	cfg := testAgentConfig(t)
	provider := llm.NewScriptedProvider(
		llm.ToolCallTurn("c1", "echo", `{"text":"hi"}`),
		llm.TextTurn("The tool said: echo: hi"),
	)
	calls := 0
	registry := tools.NewRegistry()
	if err := registry.Register(echoDescriptor(&calls)); err != nil {
		t.Fatalf("register: %v", err)
	}
	resolver, writer := testMemory(t)
	collector := mnemetest.NewEventCollector()

	s := NewSession(cfg, testModel(), provider, registry,
		governance.NewGate(governance.NewBroker()),
		WithMemory(resolver, writer),
		WithEmitter(collector),
		WithRetry(fastRetry()))

	out, err := s.Handle(context.Background(), "run echo")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out != "The tool said: echo: hi" {
		t.Errorf("unexpected final text %q", out)
	}
	if calls != 1 {
		t.Errorf("expected 1 tool execution, got %d", calls)
	}

	// The second request must carry the assistant tool call and the
	// tool result.
	second := provider.Requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != llm.RoleTool || last.Content != "echo: hi" {
		t.Errorf("expected tool result message, got role=%v content=%q", last.Role, last.Content)
	}
	if last.ToolCallID != "c1" {
		t.Errorf("tool result must reference the call id, got %q", last.ToolCallID)
	}
	assistant := second.Messages[len(second.Messages)-2]
	if assistant.Role != llm.RoleAssistant || len(assistant.ToolCalls) != 1 {
		t.Errorf("expected assistant tool-call message before the result")
	}

	if !collector.HasEvent(core.EventToolRequested) || !collector.HasEvent(core.EventToolCompleted) {
		t.Error("expected tool.requested and tool.completed events")
	}
}

func TestSessionDeniedToolContinues(t *testing.T) {
	cfg := testAgentConfig(t)
	provider := llm.NewScriptedProvider(
		llm.ToolCallTurn("c1", "deploy", `{"text":"prod"}`),
		llm.TextTurn("Understood, skipping."),
	)
	calls := 0
	registry := tools.NewRegistry()
	if err := registry.Register(sensitiveDescriptor("deploy", &calls)); err != nil {
		t.Fatalf("register: %v", err)
	}
	resolver, writer := testMemory(t)
	collector := mnemetest.NewEventCollector()

	// No operator and a short wait: the gate resolves to Denied.
	gate := governance.NewGate(governance.NewBroker(),
		governance.WithTimeout(30*time.Millisecond),
		governance.WithEmitter(collector))

	s := NewSession(cfg, testModel(), provider, registry, gate,
		WithMemory(resolver, writer),
		WithEmitter(collector),
		WithRetry(fastRetry()))

	out, err := s.Handle(context.Background(), "deploy to prod")
	if err != nil {
		t.Fatalf("denial must not be an error: %v", err)
	}
	if out != "Understood, skipping." {
		t.Errorf("unexpected final text %q", out)
	}
	if calls != 0 {
		t.Error("denied tool must never execute")
	}

	second := provider.Requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != llm.RoleTool || !strings.Contains(last.Content, "denied") {
		t.Errorf("expected a denial tool result, got %q", last.Content)
	}
	if !collector.HasEvent(core.EventApprovalDecided) {
		t.Error("expected approval.decided event")
	}
	if collector.HasEvent(core.EventToolCompleted) {
		t.Error("denied tool must not emit tool.completed")
	}
}

func TestSessionOperatorApprovesSensitiveTool(t *testing.T) {
	cfg := testAgentConfig(t)
	provider := llm.NewScriptedProvider(
		llm.ToolCallTurn("c1", "deploy", `{"text":"prod"}`),
		llm.TextTurn("Deployed."),
	)
	calls := 0
	registry := tools.NewRegistry()
	if err := registry.Register(sensitiveDescriptor("deploy", &calls)); err != nil {
		t.Fatalf("register: %v", err)
	}
	resolver, writer := testMemory(t)

	broker := governance.NewBroker()
	gate := governance.NewGate(broker,
		governance.WithNotifier(governance.NotifierFunc(func(_ context.Context, inv governance.Invocation) {
			go broker.Resolve(inv.ID, true, "looks fine")
		})))

	s := NewSession(cfg, testModel(), provider, registry, gate,
		WithMemory(resolver, writer),
		WithRetry(fastRetry()))

	out, err := s.Handle(context.Background(), "deploy")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out != "Deployed." {
		t.Errorf("unexpected final text %q", out)
	}
	if calls != 1 {
		t.Errorf("approved tool must execute once, got %d", calls)
	}
}

func TestSessionOperatorDenyUnblocksPromptly(t *testing.T) {
	cfg := testAgentConfig(t)
	provider := llm.NewScriptedProvider(
		llm.ToolCallTurn("c1", "deploy", `{"text":"prod"}`),
		llm.TextTurn("Fine."),
	)
	registry := tools.NewRegistry()
	if err := registry.Register(sensitiveDescriptor("deploy", nil)); err != nil {
		t.Fatalf("register: %v", err)
	}
	resolver, writer := testMemory(t)

	broker := governance.NewBroker()
	gate := governance.NewGate(broker,
		governance.WithNotifier(governance.NotifierFunc(func(_ context.Context, inv governance.Invocation) {
			go broker.Resolve(inv.ID, false, "not today")
		})))

	s := NewSession(cfg, testModel(), provider, registry, gate,
		WithMemory(resolver, writer),
		WithRetry(fastRetry()))

	start := time.Now()
	out, err := s.Handle(context.Background(), "deploy")
	if err != nil {
		t.Fatalf("deny must not be an error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("deny should unblock promptly, took %v", elapsed)
	}
	if out != "Fine." {
		t.Errorf("unexpected final text %q", out)
	}

	second := provider.Requests[1]
	last := second.Messages[len(second.Messages)-1]
	if !strings.Contains(last.Content, "not today") {
		t.Errorf("denial reason must reach the model, got %q", last.Content)
	}
}

func TestSessionUnknownToolBecomesResult(t *testing.T) {
	cfg := testAgentConfig(t)
	provider := llm.NewScriptedProvider(
		llm.ToolCallTurn("c1", "nope", `{}`),
		llm.TextTurn("My mistake."),
	)
	resolver, writer := testMemory(t)

	s := NewSession(cfg, testModel(), provider, tools.NewRegistry(),
		governance.NewGate(governance.NewBroker()),
		WithMemory(resolver, writer),
		WithRetry(fastRetry()))

	out, err := s.Handle(context.Background(), "try it")
	if err != nil {
		t.Fatalf("unknown tool must not be an error: %v", err)
	}
	if out != "My mistake." {
		t.Errorf("unexpected final text %q", out)
	}

	second := provider.Requests[1]
	last := second.Messages[len(second.Messages)-1]
	if !strings.Contains(last.Content, "not available") {
		t.Errorf("expected not-available tool result, got %q", last.Content)
	}
}

func TestSessionTurnCapStops(t *testing.T) {
	cfg := testAgentConfig(t)
	cfg.MaxTurns = 2
	provider := llm.NewScriptedProvider(
		llm.ToolCallTurn("c1", "echo", `{"text":"1"}`),
		llm.ToolCallTurn("c2", "echo", `{"text":"2"}`),
		llm.ToolCallTurn("c3", "echo", `{"text":"3"}`),
	)
	calls := 0
	registry := tools.NewRegistry()
	if err := registry.Register(echoDescriptor(&calls)); err != nil {
		t.Fatalf("register: %v", err)
	}
	resolver, writer := testMemory(t)

	s := NewSession(cfg, testModel(), provider, registry,
		governance.NewGate(governance.NewBroker()),
		WithMemory(resolver, writer),
		WithRetry(fastRetry()))

	out, err := s.Handle(context.Background(), "loop forever")
	if err != nil {
		t.Fatalf("turn cap must not be an error: %v", err)
	}
	if out != "" {
		t.Errorf("expected empty final text at the cap, got %q", out)
	}
	if provider.CallCount != 2 {
		t.Errorf("expected exactly 2 model calls, got %d", provider.CallCount)
	}
	if calls != 2 {
		t.Errorf("expected 2 tool executions, got %d", calls)
	}
}

func TestSessionModelFailureIsFatal(t *testing.T) {
	cfg := testAgentConfig(t)
	provider := llm.NewScriptedProvider()
	provider.Err = stderrors.New("connection refused")
	resolver, writer := testMemory(t)
	collector := mnemetest.NewEventCollector()

	s := NewSession(cfg, testModel(), provider, tools.NewRegistry(),
		governance.NewGate(governance.NewBroker()),
		WithMemory(resolver, writer),
		WithEmitter(collector),
		WithRetry(fastRetry()))

	_, err := s.Handle(context.Background(), "Hi")
	if err == nil {
		t.Fatal("expected a fatal error")
	}
	if !errors.IsCode(err, errors.CodeLLMFatal) {
		t.Errorf("expected LLM_FATAL, got %v", err)
	}
	if provider.CallCount != 2 {
		t.Errorf("expected the retry budget to be spent, got %d calls", provider.CallCount)
	}
	if !collector.HasEvent(core.EventSessionError) {
		t.Error("expected session.error event")
	}
}

func TestSessionFeedbackPersistsScrubbed(t *testing.T) {
	cfg := testAgentConfig(t)
	provider := llm.NewScriptedProvider(llm.TextTurn("Noted."))
	resolver, writer := testMemory(t)
	collector := mnemetest.NewEventCollector()

	s := NewSession(cfg, testModel(), provider, tools.NewRegistry(),
		governance.NewGate(governance.NewBroker()),
		WithMemory(resolver, writer),
		WithEmitter(collector),
		WithRetry(fastRetry()))

	input := "Remember: always send reports to ops@example.com"
	if _, err := s.Handle(context.Background(), input); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	path := filepath.Join(cfg.WorkingDir, memory.DotDir, "agent.md")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("project memory file missing: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "Remember: always send reports to") {
		t.Errorf("feedback not persisted: %q", content)
	}
	if strings.Contains(content, "ops@example.com") {
		t.Error("email must be scrubbed before persisting")
	}
	if !strings.Contains(content, "[EMAIL]") {
		t.Errorf("expected scrub mask in %q", content)
	}
	if !collector.HasEvent(core.EventMemoryWritten) {
		t.Error("expected memory.written event")
	}
}

func TestSessionNonFeedbackNotPersisted(t *testing.T) {
	cfg := testAgentConfig(t)
	provider := llm.NewScriptedProvider(llm.TextTurn("Hi."))
	resolver, writer := testMemory(t)

	s := NewSession(cfg, testModel(), provider, tools.NewRegistry(),
		governance.NewGate(governance.NewBroker()),
		WithMemory(resolver, writer),
		WithRetry(fastRetry()))

	if _, err := s.Handle(context.Background(), "what time is it"); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	path := filepath.Join(cfg.WorkingDir, memory.DotDir, "agent.md")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("ordinary input must not create a memory file (stat err=%v)", err)
	}
}

func TestSessionRecordsTranscript(t *testing.T) {
	cfg := testAgentConfig(t)
	provider := llm.NewScriptedProvider(
		llm.ToolCallTurn("c1", "echo", `{"text":"hi"}`),
		llm.TextTurn("All done."),
	)
	registry := tools.NewRegistry()
	if err := registry.Register(echoDescriptor(nil)); err != nil {
		t.Fatalf("register: %v", err)
	}
	resolver, writer := testMemory(t)
	store := memory.NewInMemoryConversation(memory.ConversationConfig{})

	s := NewSession(cfg, testModel(), provider, registry,
		governance.NewGate(governance.NewBroker()),
		WithMemory(resolver, writer),
		WithTranscript(store),
		WithRetry(fastRetry()))

	ctx := core.WithSessionID(context.Background(), "sess-transcript")
	if _, err := s.Handle(ctx, "run echo"); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	msgs, err := store.GetMessages(context.Background(), "sess-transcript")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	roles := make([]string, len(msgs))
	for i, m := range msgs {
		roles[i] = m.Role
	}
	want := []string{"system", "user", "assistant", "tool", "assistant"}
	if len(roles) != len(want) {
		t.Fatalf("expected %d transcript messages, got %d (%v)", len(want), len(roles), roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("message %d: expected role %q, got %q", i, want[i], roles[i])
		}
	}
	if msgs[3].ToolCallID != "c1" {
		t.Errorf("tool message must keep the call id, got %q", msgs[3].ToolCallID)
	}
	if msgs[4].Content != "All done." {
		t.Errorf("final assistant message mismatch: %q", msgs[4].Content)
	}
}

func TestSessionCarriesHistoryAcrossExchanges(t *testing.T) {
	cfg := testAgentConfig(t)
	provider := llm.NewScriptedProvider(
		llm.TextTurn("Nice to meet you, Ada."),
		llm.TextTurn("Your name is Ada."),
	)
	resolver, writer := testMemory(t)
	store := memory.NewInMemoryConversation(memory.ConversationConfig{})

	s := NewSession(cfg, testModel(), provider, tools.NewRegistry(),
		governance.NewGate(governance.NewBroker()),
		WithMemory(resolver, writer),
		WithTranscript(store),
		WithRetry(fastRetry()))

	ctx := core.WithSessionID(context.Background(), "sess-repl")
	if _, err := s.Handle(ctx, "My name is Ada."); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	out, err := s.Handle(ctx, "What is my name?")
	if err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	if out != "Your name is Ada." {
		t.Errorf("unexpected final text %q", out)
	}

	// The second request replays the first exchange between the fresh
	// system prompt and the new input. System and tool records do not
	// replay.
	second := provider.Requests[1]
	roles := make([]llm.Role, len(second.Messages))
	for i, m := range second.Messages {
		roles[i] = m.Role
	}
	want := []llm.Role{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleUser}
	if len(roles) != len(want) {
		t.Fatalf("expected %d messages in the second request, got %d (%v)", len(want), len(roles), roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("message %d: expected role %q, got %q", i, want[i], roles[i])
		}
	}
	if second.Messages[1].Content != "My name is Ada." {
		t.Errorf("prior user input must replay, got %q", second.Messages[1].Content)
	}
	if second.Messages[2].Content != "Nice to meet you, Ada." {
		t.Errorf("prior assistant reply must replay, got %q", second.Messages[2].Content)
	}
	if second.Messages[3].Content != "What is my name?" {
		t.Errorf("new input must come last, got %q", second.Messages[3].Content)
	}
}
