package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ScriptedProvider is a mock provider that returns a pre-defined sequence
// of responses, including tool-call turns. Useful for testing multi-turn
// interactions such as the tool loop. It also records every request it
// receives so tests can inspect the composed prompts.
type ScriptedProvider struct {
	mu        sync.Mutex
	Responses []*ChatResponse
	Err       error
	// CallCount tracks how many times Chat has been called.
	CallCount int
	// Requests holds a copy of each received request, in order.
	Requests []ChatRequest
}

// NewScriptedProvider creates a ScriptedProvider from the given turns.
func NewScriptedProvider(responses ...*ChatResponse) *ScriptedProvider {
	return &ScriptedProvider{Responses: responses}
}

// TextTurn builds a plain assistant text response.
func TextTurn(content string) *ChatResponse {
	return &ChatResponse{
		Content: content,
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}
}

// ToolCallTurn builds a response in which the model requests a single
// tool invocation with the given JSON arguments.
func ToolCallTurn(id, name, arguments string) *ChatResponse {
	return &ChatResponse{
		ToolCalls: []ToolCall{{
			ID:   id,
			Type: ToolTypeFunction,
			Function: FunctionCall{
				Name:      name,
				Arguments: arguments,
			},
		}},
		Usage: Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}
}

// Chat pops the next scripted response or returns the configured error.
func (s *ScriptedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	s.Requests = append(s.Requests, req)

	if s.Err != nil {
		return nil, s.Err
	}

	if len(s.Responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}

	resp := s.Responses[0]
	s.Responses = s.Responses[1:]
	return resp, nil
}

// AddResponse appends a response to the queue.
func (s *ScriptedProvider) AddResponse(resp *ChatResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, resp)
}

// LastRequest returns the most recently received request.
func (s *ScriptedProvider) LastRequest() (ChatRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Requests) == 0 {
		return ChatRequest{}, fmt.Errorf("scripted mock: no requests received")
	}
	return s.Requests[len(s.Requests)-1], nil
}

// SystemPrompts returns the system-role content of each received request,
// one entry per call.
func (s *ScriptedProvider) SystemPrompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, req := range s.Requests {
		prompt := ""
		for _, m := range req.Messages {
			if m.Role == RoleSystem {
				prompt = m.Content
				break
			}
		}
		out = append(out, prompt)
	}
	return out
}
