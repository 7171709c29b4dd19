// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jllopis/mneme/pkg/config"
	"github.com/jllopis/mneme/pkg/errors"
	"github.com/jllopis/mneme/pkg/telemetry"
)

// DefaultLockWait bounds how long an append waits for the per-path lock
// before giving up with a memory I/O error.
const DefaultLockWait = 5 * time.Second

// Writer appends feedback blocks to memory files. Appends are atomic
// (staged to a temp file in the target directory, then renamed over),
// idempotent for exact duplicates, and serialized per cleaned absolute
// path so concurrent sessions never interleave or truncate each other.
type Writer struct {
	resolver *Resolver
	lockWait time.Duration
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// WriterOption customizes a Writer.
type WriterOption func(*Writer)

// WithLockWait overrides the bounded lock wait.
func WithLockWait(d time.Duration) WriterOption {
	return func(w *Writer) {
		if d > 0 {
			w.lockWait = d
		}
	}
}

// WithWriterLogger overrides the component logger.
func WithWriterLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) { w.logger = logger }
}

// WithWriterMetrics attaches telemetry metrics.
func WithWriterMetrics(m *telemetry.Metrics) WriterOption {
	return func(w *Writer) { w.metrics = m }
}

// NewWriter creates a Writer that targets the same paths the resolver
// reads from.
func NewWriter(resolver *Resolver, opts ...WriterOption) *Writer {
	w := &Writer{
		resolver: resolver,
		lockWait: DefaultLockWait,
		logger:   telemetry.Component("memory"),
		locks:    make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Append appends newText to the scope's memory file, creating the scope
// directory and file on first write. If the file already ends with
// newText (modulo trailing newline) the call is a no-op. Returned
// errors are non-fatal: the caller logs and the session continues.
func (w *Writer) Append(ctx context.Context, scope Scope, cfg config.AgentConfig, newText string) error {
	block := strings.TrimRight(newText, "\n")
	if strings.TrimSpace(block) == "" {
		return nil
	}

	target := w.resolver.TargetPath(scope, cfg)
	if target == "" {
		return errors.New(errors.CodeMemoryIO, "no memory path for scope", nil).
			WithContext("scope", string(scope))
	}

	key, err := filepath.Abs(filepath.Clean(target))
	if err != nil {
		key = filepath.Clean(target)
	}

	release, err := w.acquire(ctx, key)
	if err != nil {
		w.metrics.RecordMemoryWrite(ctx, string(scope), err)
		return err
	}
	defer release()

	existing := ""
	if data, err := os.ReadFile(target); err == nil {
		existing = string(data)
	} else if !os.IsNotExist(err) {
		werr := errors.New(errors.CodeMemoryIO, "failed to read memory file before append", err).
			WithContext("scope", string(scope)).
			WithContext("path", target)
		w.metrics.RecordMemoryWrite(ctx, string(scope), werr)
		return werr
	}

	if hasTrailingBlock(existing, block) {
		w.logger.DebugContext(ctx, "memory.write.noop",
			slog.String("scope", string(scope)),
			slog.String("path", target))
		return nil
	}

	full := existing
	if full != "" && !strings.HasSuffix(full, "\n") {
		full += "\n"
	}
	full += block + "\n"

	if err := w.writeAtomic(target, []byte(full)); err != nil {
		werr := errors.New(errors.CodeMemoryIO, "failed to write memory file", err).
			WithContext("scope", string(scope)).
			WithContext("path", target)
		w.metrics.RecordMemoryWrite(ctx, string(scope), werr)
		return werr
	}

	w.metrics.RecordMemoryWrite(ctx, string(scope), nil)
	w.logger.InfoContext(ctx, "memory.write.applied",
		slog.String("scope", string(scope)),
		slog.String("path", target),
		slog.Int("bytes", len(block)))
	return nil
}

// AppendPreferred writes feedback to the project scope, falling back to
// the user scope when the project path cannot take the write. Returns
// the scope that received the block.
func (w *Writer) AppendPreferred(ctx context.Context, cfg config.AgentConfig, newText string) (Scope, error) {
	err := w.Append(ctx, ScopeProject, cfg, newText)
	if err == nil {
		return ScopeProject, nil
	}
	w.logger.WarnContext(ctx, "memory.write.fallback",
		slog.String("from", string(ScopeProject)),
		slog.String("to", string(ScopeUser)),
		slog.String("error", err.Error()))
	if err := w.Append(ctx, ScopeUser, cfg, newText); err != nil {
		return ScopeUser, err
	}
	return ScopeUser, nil
}

// hasTrailingBlock reports whether existing already ends with block as
// a whole line-aligned suffix, ignoring trailing newlines.
func hasTrailingBlock(existing, block string) bool {
	e := strings.TrimRight(existing, "\n")
	if e == block {
		return true
	}
	return strings.HasSuffix(e, "\n"+block)
}

// acquire takes the per-path lock, waiting at most lockWait.
func (w *Writer) acquire(ctx context.Context, key string) (func(), error) {
	w.mu.Lock()
	ch, ok := w.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		w.locks[key] = ch
	}
	w.mu.Unlock()

	timer := time.NewTimer(w.lockWait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, errors.New(errors.CodeMemoryIO, "timed out waiting for memory file lock", nil).
			WithContext("path", key).
			WithContext("wait", w.lockWait.String())
	case <-ctx.Done():
		return nil, errors.New(errors.CodeContextLost, "context cancelled waiting for memory file lock", ctx.Err()).
			WithContext("path", key)
	}
}

// writeAtomic stages content to a temp file in the target directory and
// renames it over the target, so an interrupted write leaves either the
// old or the new content.
func (w *Writer) writeAtomic(target string, content []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
