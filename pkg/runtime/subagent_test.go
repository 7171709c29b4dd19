package runtime

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jllopis/mneme/pkg/core"
	"github.com/jllopis/mneme/pkg/errors"
	"github.com/jllopis/mneme/pkg/governance"
	"github.com/jllopis/mneme/pkg/llm"
	mnemetest "github.com/jllopis/mneme/pkg/testing"
	"github.com/jllopis/mneme/pkg/tools"
)

func hasTool(defs []llm.Tool, name string) bool {
	for _, d := range defs {
		if d.Function.Name == name {
			return true
		}
	}
	return false
}

func TestTaskToolSpawnsChildSession(t *testing.T) {
	cfg := testAgentConfig(t)
	cfg.EnableSubagents = true

	// Parent and child share the provider, so the script interleaves:
	// parent delegates, child answers, parent wraps up.
	provider := llm.NewScriptedProvider(
		llm.ToolCallTurn("c1", TaskToolName, `{"description":"count files","prompt":"Count the files in the repo"}`),
		llm.TextTurn("There are 42 files."),
		llm.TextTurn("The subagent counted 42 files."),
	)

	registry := tools.NewRegistry()
	if err := registry.Register(echoDescriptor(nil)); err != nil {
		t.Fatalf("register: %v", err)
	}
	resolver, writer := testMemory(t)
	collector := mnemetest.NewEventCollector()

	s := NewSession(cfg, testModel(), provider, registry,
		governance.NewGate(governance.NewBroker(), governance.WithAutoApprove(true)),
		WithMemory(resolver, writer),
		WithEmitter(collector),
		WithRetry(fastRetry()))
	if err := registry.Register(s.TaskTool()); err != nil {
		t.Fatalf("register task: %v", err)
	}

	out, err := s.Handle(context.Background(), "how many files are there?")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out != "The subagent counted 42 files." {
		t.Errorf("unexpected final text %q", out)
	}
	if provider.CallCount != 3 {
		t.Fatalf("expected 3 model calls (parent, child, parent), got %d", provider.CallCount)
	}

	// The parent advertises the task tool, the child must not.
	if !hasTool(provider.Requests[0].Tools, TaskToolName) {
		t.Error("parent request must include the task tool")
	}
	if hasTool(provider.Requests[1].Tools, TaskToolName) {
		t.Error("child request must not include the task tool")
	}
	if !hasTool(provider.Requests[1].Tools, "echo") {
		t.Error("child request must keep the remaining tools")
	}

	// The child session starts from the delegated prompt alone.
	child := provider.Requests[1]
	if child.Messages[1].Role != llm.RoleUser || child.Messages[1].Content != "Count the files in the repo" {
		t.Errorf("child user message mismatch: %+v", child.Messages[1])
	}

	// The parent sees the child's answer as the tool result.
	final := provider.Requests[2]
	last := final.Messages[len(final.Messages)-1]
	if last.Role != llm.RoleTool || last.Content != "There are 42 files." {
		t.Errorf("expected subagent answer as tool result, got %q", last.Content)
	}
}

func TestTaskToolChildHasDistinctSessionID(t *testing.T) {
	cfg := testAgentConfig(t)
	cfg.EnableSubagents = true
	provider := llm.NewScriptedProvider(
		llm.ToolCallTurn("c1", TaskToolName, `{"prompt":"do the thing"}`),
		llm.TextTurn("done"),
		llm.TextTurn("all done"),
	)
	registry := tools.NewRegistry()
	resolver, writer := testMemory(t)
	collector := mnemetest.NewEventCollector()

	s := NewSession(cfg, testModel(), provider, registry,
		governance.NewGate(governance.NewBroker(), governance.WithAutoApprove(true)),
		WithMemory(resolver, writer),
		WithEmitter(collector),
		WithRetry(fastRetry()))
	if err := registry.Register(s.TaskTool()); err != nil {
		t.Fatalf("register task: %v", err)
	}

	ctx := core.WithSessionID(context.Background(), "parent-session")
	if _, err := s.Handle(ctx, "delegate"); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	var started []core.Event
	for _, ev := range collector.Events() {
		if ev.Type == core.EventSessionStarted {
			started = append(started, ev)
		}
	}
	if len(started) != 2 {
		t.Fatalf("expected 2 session.started events, got %d", len(started))
	}
	if started[0].SessionID != "parent-session" {
		t.Errorf("parent session id mismatch: %q", started[0].SessionID)
	}
	if started[1].SessionID == "parent-session" || started[1].SessionID == "" {
		t.Errorf("child must mint its own session id, got %q", started[1].SessionID)
	}
	if sub, _ := started[1].Payload["subagent"].(bool); !sub {
		t.Error("child session.started must be flagged as subagent")
	}
	if sub, _ := started[0].Payload["subagent"].(bool); sub {
		t.Error("parent session.started must not be flagged as subagent")
	}
}

func TestTaskToolRejectsBadInput(t *testing.T) {
	cfg := testAgentConfig(t)
	provider := llm.NewScriptedProvider()
	resolver, writer := testMemory(t)

	s := NewSession(cfg, testModel(), provider, tools.NewRegistry(),
		governance.NewGate(governance.NewBroker()),
		WithMemory(resolver, writer),
		WithRetry(fastRetry()))
	task := s.TaskTool()

	if _, err := task.Handler(context.Background(), []byte(`{"prompt":"   "}`)); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Errorf("blank prompt: expected INVALID_INPUT, got %v", err)
	}
	if _, err := task.Handler(context.Background(), []byte(`{"prompt":`)); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Errorf("malformed json: expected INVALID_INPUT, got %v", err)
	}
	if provider.CallCount != 0 {
		t.Errorf("rejected input must not reach the model, got %d calls", provider.CallCount)
	}
}

func TestApprovalPreviewTruncation(t *testing.T) {
	long := strings.Repeat("a", 600)
	got := approvalPreview(TaskToolName, long)
	if len(got) != taskPreviewLimit+3 {
		t.Errorf("expected %d bytes, got %d", taskPreviewLimit+3, len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis suffix, got %q", got[len(got)-10:])
	}

	// Truncation never splits a rune.
	multibyte := strings.Repeat("€", 300)
	got = approvalPreview(TaskToolName, multibyte)
	if !utf8.ValidString(got) {
		t.Error("truncated preview must remain valid UTF-8")
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("expected ellipsis suffix on multibyte input")
	}

	if got := approvalPreview(TaskToolName, "short"); got != "short" {
		t.Errorf("short input must pass through, got %q", got)
	}
	if got := approvalPreview("echo", long); got != long {
		t.Error("non-task arguments must pass through untruncated")
	}
}

func TestTaskApprovalPromptTruncatedAtGate(t *testing.T) {
	cfg := testAgentConfig(t)
	cfg.EnableSubagents = true

	prompt := strings.Repeat("x", 2000)
	provider := llm.NewScriptedProvider(
		llm.ToolCallTurn("c1", TaskToolName, `{"prompt":"`+prompt+`"}`),
		llm.TextTurn("Fine."),
	)
	registry := tools.NewRegistry()
	resolver, writer := testMemory(t)

	captured := make(chan string, 1)
	broker := governance.NewBroker()
	gate := governance.NewGate(broker,
		governance.WithNotifier(governance.NotifierFunc(func(_ context.Context, inv governance.Invocation) {
			captured <- inv.Arguments
			go broker.Resolve(inv.ID, false, "not now")
		})))

	s := NewSession(cfg, testModel(), provider, registry, gate,
		WithMemory(resolver, writer),
		WithRetry(fastRetry()))
	if err := registry.Register(s.TaskTool()); err != nil {
		t.Fatalf("register task: %v", err)
	}

	if _, err := s.Handle(context.Background(), "delegate"); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	select {
	case args := <-captured:
		if len(args) > taskPreviewLimit+3 {
			t.Errorf("operator preview too long: %d bytes", len(args))
		}
		if !strings.HasSuffix(args, "...") {
			t.Error("operator preview must end with an ellipsis")
		}
	case <-time.After(time.Second):
		t.Fatal("notifier never ran")
	}
}
