// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jllopis/mneme/pkg/config"
	"github.com/jllopis/mneme/pkg/governance"
	"github.com/jllopis/mneme/pkg/telemetry"
	"github.com/jllopis/mneme/pkg/tools"
)

// Manager owns the MCP client connections of one session: it spawns
// the configured stdio servers, turns their tools into descriptors,
// and closes every connection on shutdown. A server that fails to
// connect or list is skipped with a warning; MCP import never takes
// the session down.
type Manager struct {
	logger     *slog.Logger
	clientOpts []ClientOption

	mu      sync.Mutex
	clients []*Client
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger for connect warnings.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithClientOptions applies options to every client the manager opens.
func WithClientOptions(opts ...ClientOption) ManagerOption {
	return func(m *Manager) { m.clientOpts = opts }
}

// NewManager builds an empty manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{logger: telemetry.Component("mcp")}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect spawns each configured server and returns the descriptors of
// every tool they expose. A server marked sensitive marks every one of
// its tools sensitive.
func (m *Manager) Connect(ctx context.Context, servers []config.MCPServerConfig) []tools.Descriptor {
	var out []tools.Descriptor
	for _, server := range servers {
		if server.Command == "" {
			m.logger.Warn("mcp.server.invalid",
				slog.String("server", server.Name),
				slog.String("error", "command is required"))
			continue
		}
		client, err := NewClientWithStdio(server.Command, server.Env, server.Args, m.clientOpts...)
		if err != nil {
			m.logger.Warn("mcp.server.connect_failed",
				slog.String("server", server.Name),
				slog.String("command", server.Command),
				slog.String("error", err.Error()))
			continue
		}
		list, err := client.ListTools(ctx)
		if err != nil {
			m.logger.Warn("mcp.server.list_failed",
				slog.String("server", server.Name),
				slog.String("error", err.Error()))
			_ = client.Close()
			continue
		}

		risk := governance.RiskBenign
		if server.Sensitive {
			risk = governance.RiskSensitive
		}
		adapted := 0
		for _, tool := range list {
			desc, err := Adapt(tool, client, risk)
			if err != nil {
				m.logger.Warn("mcp.tool.skip",
					slog.String("server", server.Name),
					slog.String("tool", tool.Name),
					slog.String("error", err.Error()))
				continue
			}
			out = append(out, desc)
			adapted++
		}

		m.mu.Lock()
		m.clients = append(m.clients, client)
		m.mu.Unlock()

		m.logger.Info("mcp.server.connected",
			slog.String("server", server.Name),
			slog.Int("tools", adapted))
	}
	return out
}

// Close shuts down every connection the manager opened.
func (m *Manager) Close() error {
	m.mu.Lock()
	clients := m.clients
	m.clients = nil
	m.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
