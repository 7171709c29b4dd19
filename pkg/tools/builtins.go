// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"net/http"

	"github.com/jllopis/mneme/pkg/config"
)

// Builtins assembles the builtin registry for cfg. Registration is the
// availability gate: with EnableShell false the shell tool is never
// registered, so no shell invocation can exist to approve.
func Builtins(cfg config.AgentConfig, client *http.Client) (*Registry, error) {
	ws, err := newWorkspace(cfg.WorkingDir)
	if err != nil {
		return nil, err
	}

	descriptors := []Descriptor{
		ReadFileTool(ws),
		ListDirTool(ws),
		WriteFileTool(ws),
		EditFileTool(ws),
		FetchURLTool(client),
	}
	if cfg.EnableShell {
		descriptors = append(descriptors, ShellTool(ws))
	}

	reg := NewRegistry()
	if err := reg.RegisterAll(descriptors...); err != nil {
		return nil, err
	}
	return reg, nil
}
