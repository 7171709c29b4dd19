// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/mneme/pkg/errors"
	"github.com/jllopis/mneme/pkg/governance"
	"github.com/jllopis/mneme/pkg/tools"
)

// ToolCaller abstracts MCP tool execution for adapters.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

// Adapt converts one MCP tool definition into a registry descriptor.
// The server's input schema passes through untouched; risk comes from
// the server configuration, so one sensitive server marks all its
// tools.
func Adapt(tool mcp.Tool, caller ToolCaller, risk governance.Risk) (tools.Descriptor, error) {
	if tool.Name == "" {
		return tools.Descriptor{}, errors.New(errors.CodeInvalidInput, "mcp tool name is required", nil)
	}
	if caller == nil {
		return tools.Descriptor{}, errors.New(errors.CodeInvalidInput, "mcp tool caller is required", nil)
	}

	var schema any = tool.InputSchema
	if tool.RawInputSchema != nil {
		schema = tool.RawInputSchema
	}

	return tools.Descriptor{
		Name:        tool.Name,
		Description: tool.Description,
		Schema:      schema,
		Risk:        risk,
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args := map[string]interface{}{}
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return "", errors.New(errors.CodeInvalidInput,
						fmt.Sprintf("%s: invalid arguments", tool.Name), err)
				}
			}
			if err := validateRequiredArgs(tool, args); err != nil {
				return "", errors.New(errors.CodeInvalidInput, fmt.Sprintf("%s: %v", tool.Name, err), nil)
			}
			result, err := caller.CallTool(ctx, tool.Name, args)
			if err != nil {
				return "", errors.New(errors.CodeToolFailure, fmt.Sprintf("%s: call failed", tool.Name), err)
			}
			return resultText(tool.Name, result)
		},
	}, nil
}

func validateRequiredArgs(tool mcp.Tool, args map[string]interface{}) error {
	schema := tool.InputSchema
	if schema.Type != "" && schema.Type != "object" {
		return nil
	}
	for _, key := range schema.Required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("missing required field %q", key)
		}
	}
	return nil
}

func resultText(name string, result *mcp.CallToolResult) (string, error) {
	if result == nil {
		return "", errors.New(errors.CodeToolFailure, fmt.Sprintf("%s: nil result", name), nil)
	}
	if result.IsError {
		return "", errors.New(errors.CodeToolFailure,
			fmt.Sprintf("%s: %s", name, extractTextContent(result.Content)), nil)
	}
	if result.StructuredContent != nil {
		encoded, err := json.Marshal(result.StructuredContent)
		if err != nil {
			return "", errors.New(errors.CodeToolFailure, fmt.Sprintf("%s: encode structured result", name), err)
		}
		return string(encoded), nil
	}
	if text := extractTextContent(result.Content); text != "" {
		return text, nil
	}
	return "(no content)", nil
}

func extractTextContent(items []mcp.Content) string {
	if len(items) == 0 {
		return ""
	}
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
