// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration with rich attributes
// for agent observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for Mneme telemetry. These follow OpenTelemetry
// naming conventions where applicable.
const (
	// Session attributes
	AttrSessionID   = "mneme.session.id"
	AttrAssistantID = "mneme.assistant.id"
	AttrTurn        = "mneme.session.turn"
	AttrMaxTurns    = "mneme.session.max_turns"
	AttrSubagent    = "mneme.session.subagent"

	// Tool attributes
	AttrToolName       = "mneme.tool.name"
	AttrToolCallID     = "mneme.tool.call_id"
	AttrToolRisk       = "mneme.tool.risk"
	AttrToolSource     = "mneme.tool.source" // builtin, mcp, skill
	AttrToolDurationMs = "mneme.tool.duration_ms"
	AttrToolSuccess    = "mneme.tool.success"

	// Approval attributes
	AttrApprovalInvocationID = "mneme.approval.invocation_id"
	AttrApprovalOutcome      = "mneme.approval.outcome" // approved, denied
	AttrApprovalAuto         = "mneme.approval.auto"
	AttrApprovalWaitMs       = "mneme.approval.wait_ms"
	AttrApprovalReason       = "mneme.approval.reason"

	// Memory attributes
	AttrMemoryScope   = "mneme.memory.scope" // user, project
	AttrMemoryPath    = "mneme.memory.path"
	AttrMemoryEnabled = "mneme.memory.enabled"
	AttrMemoryBytes   = "mneme.memory.bytes"

	// LLM attributes (standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMToolCalls    = "gen_ai.tool_calls"
)

// SessionAttributes returns attributes for a session span.
func SessionAttributes(sessionID, assistantID string, subagent bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrSessionID, sessionID),
	}
	if assistantID != "" {
		attrs = append(attrs, attribute.String(AttrAssistantID, assistantID))
	}
	if subagent {
		attrs = append(attrs, attribute.Bool(AttrSubagent, true))
	}
	return attrs
}

// ToolAttributes returns attributes for a tool dispatch span.
func ToolAttributes(name, callID, risk, source string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrToolName, name),
		attribute.String(AttrToolRisk, risk),
	}
	if callID != "" {
		attrs = append(attrs, attribute.String(AttrToolCallID, callID))
	}
	if source != "" {
		attrs = append(attrs, attribute.String(AttrToolSource, source))
	}
	return attrs
}

// ApprovalAttributes returns attributes for a gate evaluation span.
func ApprovalAttributes(invocationID, outcome string, auto bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrApprovalInvocationID, invocationID),
		attribute.String(AttrApprovalOutcome, outcome),
		attribute.Bool(AttrApprovalAuto, auto),
	}
}

// MemoryAttributes returns attributes for memory operations.
func MemoryAttributes(scope, path string, bytes int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrMemoryScope, scope),
	}
	if path != "" {
		attrs = append(attrs, attribute.String(AttrMemoryPath, path))
	}
	if bytes > 0 {
		attrs = append(attrs, attribute.Int(AttrMemoryBytes, bytes))
	}
	return attrs
}

// LLMAttributes returns attributes for a model exchange span.
func LLMAttributes(model string, inputTokens, outputTokens, toolCalls int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMProvider, "ollama"),
		attribute.String(AttrLLMModel, model),
	}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if toolCalls > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMToolCalls, toolCalls))
	}
	return attrs
}
