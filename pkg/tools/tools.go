// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

// Package tools defines the tool contract and the builtin tool set.
//
// Includes:
//   - Descriptor: name, description, JSON input schema, risk class, handler.
//   - GenerateSchema[T](): derive JSON Schema from Go input structs.
//   - Registry: ordered descriptor table the runtime dispatches from.
//   - Builtins: shell, file tools rooted at the working directory, fetch_url.
package tools

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/jllopis/mneme/pkg/governance"
	"github.com/jllopis/mneme/pkg/llm"
)

// Handler executes one tool call. The returned string goes back to the
// model verbatim as the tool result message.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Descriptor describes one callable tool.
type Descriptor struct {
	Name        string
	Description string
	Schema      any
	Risk        governance.Risk
	Handler     Handler
}

// Definition converts the descriptor into the wire tool format sent to
// the model.
func (d Descriptor) Definition() llm.Tool {
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Schema,
		},
	}
}

// GenerateSchema derives the JSON schema for a tool input struct.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}
