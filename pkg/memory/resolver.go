// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"log/slog"
	"os"
	"unicode/utf8"

	"github.com/jllopis/mneme/pkg/config"
	"github.com/jllopis/mneme/pkg/errors"
	"github.com/jllopis/mneme/pkg/telemetry"
)

// Resolver reads memory layers from disk. Resolution is a pure read:
// it never creates files and is safe under concurrent sessions sharing
// the same paths.
type Resolver struct {
	home    string
	exists  ExistsFunc
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithHome overrides the user home directory (tests).
func WithHome(home string) ResolverOption {
	return func(r *Resolver) { r.home = home }
}

// WithExists overrides the existence predicate used for candidate
// selection (tests).
func WithExists(exists ExistsFunc) ResolverOption {
	return func(r *Resolver) { r.exists = exists }
}

// WithResolverLogger overrides the component logger.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// WithResolverMetrics attaches telemetry metrics.
func WithResolverMetrics(m *telemetry.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a Resolver. The home directory defaults to the
// current user's; if it cannot be determined, user-scope resolution
// degrades to empty content.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		exists: pathExists,
		logger: telemetry.Component("memory"),
	}
	if home, err := os.UserHomeDir(); err == nil {
		r.home = home
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func pathExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// TargetPath returns the path a scope resolves to right now. For user
// scope this is fixed. For project scope it is the first existing
// candidate, or the preferred candidate when none exist yet (so a first
// write lands where later resolutions will look first without shadowing
// an established file).
func (r *Resolver) TargetPath(scope Scope, cfg config.AgentConfig) string {
	switch scope {
	case ScopeUser:
		if r.home == "" {
			return ""
		}
		return UserPath(r.home, cfg.AssistantID)
	case ScopeProject:
		candidates := ProjectCandidates(cfg.WorkingDir)
		if existing := FirstExisting(candidates, r.exists); existing != "" {
			return existing
		}
		return candidates[0]
	default:
		return ""
	}
}

// ResolveRecord resolves one scope to a Record. A missing file yields
// an empty record and no error. The returned error, when non-nil, is a
// non-fatal diagnostic (CodeMemoryIO or CodeMalformedMemory); the
// record is still usable and its Text is empty.
func (r *Resolver) ResolveRecord(ctx context.Context, scope Scope, cfg config.AgentConfig) (Record, error) {
	record := Record{Scope: scope}

	var path string
	switch scope {
	case ScopeUser:
		if r.home == "" {
			return record, errors.New(errors.CodeMemoryIO, "user home directory unknown", nil).
				WithContext("scope", string(scope))
		}
		path = UserPath(r.home, cfg.AssistantID)
	case ScopeProject:
		path = FirstExisting(ProjectCandidates(cfg.WorkingDir), r.exists)
		if path == "" {
			// No candidate exists. Empty memory, not an error.
			r.record(ctx, scope, false)
			return record, nil
		}
	default:
		return record, errors.New(errors.CodeInvalidInput, "unknown memory scope", nil).
			WithContext("scope", string(scope))
	}
	record.Path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.record(ctx, scope, false)
			return record, nil
		}
		r.record(ctx, scope, false)
		return record, errors.New(errors.CodeMemoryIO, "failed to read memory file", err).
			WithContext("scope", string(scope)).
			WithContext("path", path)
	}

	if !utf8.Valid(data) {
		r.record(ctx, scope, false)
		return record, errors.New(errors.CodeMalformedMemory, "memory file is not valid UTF-8", nil).
			WithContext("scope", string(scope)).
			WithContext("path", path)
	}

	record.Text = string(data)
	if info, err := os.Stat(path); err == nil {
		record.ModTime = info.ModTime()
	}
	r.record(ctx, scope, true)
	return record, nil
}

// Resolve returns the memory text for a scope. Missing files and
// degraded reads both yield empty text; the error is the non-fatal
// diagnostic described on ResolveRecord.
func (r *Resolver) Resolve(ctx context.Context, scope Scope, cfg config.AgentConfig) (string, error) {
	record, err := r.ResolveRecord(ctx, scope, cfg)
	return record.Text, err
}

// ResolveContext resolves both scopes into a Context. Degraded reads
// are logged at warning level and produce empty blocks; ResolveContext
// itself never fails.
func (r *Resolver) ResolveContext(ctx context.Context, cfg config.AgentConfig) Context {
	var mc Context

	user, err := r.ResolveRecord(ctx, ScopeUser, cfg)
	if err != nil {
		r.logger.WarnContext(ctx, "memory.resolve.degraded",
			slog.String("scope", string(ScopeUser)),
			slog.String("error", err.Error()))
	}
	mc.UserBlock = user.Text

	project, err := r.ResolveRecord(ctx, ScopeProject, cfg)
	if err != nil {
		r.logger.WarnContext(ctx, "memory.resolve.degraded",
			slog.String("scope", string(ScopeProject)),
			slog.String("error", err.Error()))
	}
	mc.ProjectBlock = project.Text

	return mc
}

func (r *Resolver) record(ctx context.Context, scope Scope, found bool) {
	r.metrics.RecordMemoryResolution(ctx, string(scope), found)
}
