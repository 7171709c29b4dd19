package runtime

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/jllopis/mneme/pkg/core"
	"github.com/jllopis/mneme/pkg/errors"
	"github.com/jllopis/mneme/pkg/governance"
	"github.com/jllopis/mneme/pkg/tools"
)

// TaskToolName is the delegation tool.
const TaskToolName = "task"

// taskPreviewLimit bounds the argument text shown to the operator when
// a delegation awaits approval; the child prompt itself is unbounded.
const taskPreviewLimit = 500

// TaskInput is the delegation request.
type TaskInput struct {
	Description string `json:"description,omitempty" jsonschema_description:"Short (3-5 word) description of the task."`
	Prompt      string `json:"prompt" jsonschema:"required" jsonschema_description:"The full task for the subagent to perform. Include all context it needs; it cannot see this conversation."`
}

var taskSchema = tools.GenerateSchema[TaskInput]()

// TaskTool returns the delegation descriptor for this session. The
// spawned child shares the provider, the approval gate, and the memory
// paths, but runs with its own session id, its own transcript, and a
// registry without the task tool, so delegation cannot recurse.
func (s *Session) TaskTool() tools.Descriptor {
	return tools.Descriptor{
		Name:        TaskToolName,
		Description: "Delegate a self-contained task to a general-purpose subagent. The subagent works autonomously with the same tools (except delegation) and returns its final answer.",
		Schema:      taskSchema,
		Risk:        governance.RiskSensitive,
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var input TaskInput
			if err := json.Unmarshal(args, &input); err != nil {
				return "", errors.New(errors.CodeInvalidInput, "invalid task arguments", err)
			}
			if strings.TrimSpace(input.Prompt) == "" {
				return "", errors.New(errors.CodeInvalidInput, "task prompt is required", nil)
			}

			child := s.spawn()
			childCtx := core.WithSessionID(ctx, core.NewSessionID())
			out, err := child.Handle(childCtx, input.Prompt)
			if err != nil {
				return "", errors.New(errors.CodeToolFailure, "subagent session failed", err).
					WithContext("description", input.Description)
			}
			return out, nil
		},
	}
}

// spawn derives the child session. Session fields are read-only after
// construction, so a value copy with a narrowed registry is all a
// child needs.
func (s *Session) spawn() *Session {
	child := *s
	child.registry = s.registry.Without(TaskToolName)
	child.subagent = true
	return &child
}

// approvalPreview is what the gate (and the operator behind it) sees
// as the invocation arguments. Only delegation gets truncated; other
// tools have naturally bounded arguments.
func approvalPreview(name, args string) string {
	if name != TaskToolName || len(args) <= taskPreviewLimit {
		return args
	}
	cut := taskPreviewLimit
	for cut > 0 && !utf8.RuneStart(args[cut]) {
		cut--
	}
	return args[:cut] + "..."
}
