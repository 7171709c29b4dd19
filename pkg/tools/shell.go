// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jllopis/mneme/pkg/errors"
	"github.com/jllopis/mneme/pkg/governance"
)

const defaultShellTimeout = 120 * time.Second

// ShellInput is one command for the working directory shell.
type ShellInput struct {
	Command string `json:"command" jsonschema_description:"The shell command to execute."`
	Timeout int    `json:"timeout,omitempty" jsonschema_description:"Timeout in seconds (default 120)."`
}

var shellSchema = GenerateSchema[ShellInput]()

// ShellTool runs a command through sh -c in the working directory and
// returns combined stdout/stderr. It is always Sensitive.
func ShellTool(ws *workspace) Descriptor {
	return Descriptor{
		Name:        governance.ShellToolName,
		Description: "Execute a shell command in the working directory. Returns combined stdout and stderr.",
		Schema:      shellSchema,
		Risk:        governance.RiskSensitive,
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in ShellInput
			if err := json.Unmarshal(args, &in); err != nil {
				return "", errors.New(errors.CodeInvalidInput, "shell: invalid arguments", err)
			}
			if strings.TrimSpace(in.Command) == "" {
				return "", errors.New(errors.CodeInvalidInput, "shell: command is required", nil)
			}

			timeout := defaultShellTimeout
			if in.Timeout > 0 {
				timeout = time.Duration(in.Timeout) * time.Second
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(ctx, "sh", "-c", in.Command)
			cmd.Dir = ws.root
			out, err := cmd.CombinedOutput()
			output := capOutput(string(out))
			if ctx.Err() == context.DeadlineExceeded {
				return "", errors.New(errors.CodeToolFailure,
					fmt.Sprintf("shell: command timed out after %s", timeout), ctx.Err()).
					WithContext("output", output)
			}
			if err != nil {
				// Non-zero exit is a result the model should see, not a
				// dispatch failure.
				return fmt.Sprintf("%s\n(exit error: %v)", output, err), nil
			}
			return output, nil
		},
	}
}
