// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jllopis/mneme/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Sweeper expires overdue pending approvals to Denied. It backs up the
// per-wait timeout: even with no timeout configured, nothing stays
// pending longer than maxAge.
type Sweeper struct {
	broker   *Broker
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper over broker. interval is how often to
// sweep, maxAge how long an approval may stay pending.
func NewSweeper(broker *Broker, interval, maxAge time.Duration) *Sweeper {
	return &Sweeper{
		broker:   broker,
		interval: interval,
		maxAge:   maxAge,
		logger:   telemetry.Component("governance"),
	}
}

// Start launches the background sweep loop. It is a no-op when the
// interval or max age is not positive.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.interval <= 0 || s.maxAge <= 0 {
		s.logger.Info("approval.sweeper.disabled",
			slog.Duration("interval", s.interval),
			slog.Duration("max_age", s.maxAge))
		return
	}
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.logger.Info("approval.sweeper.start",
			slog.Duration("interval", s.interval),
			slog.Duration("max_age", s.maxAge))
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("approval.sweeper.stop")
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

// Sweep runs one pass, denying every approval pending longer than
// maxAge. It returns how many were expired.
func (s *Sweeper) Sweep(ctx context.Context) int {
	ctx, span := otel.Tracer("mneme/governance").Start(ctx, "governance.approval.sweep",
		trace.WithAttributes(attribute.String("max_age", s.maxAge.String())))
	defer span.End()

	cutoff := time.Now().Add(-s.maxAge)
	expired := 0
	for _, info := range s.broker.Pending() {
		if info.Since.After(cutoff) {
			continue
		}
		if s.broker.Resolve(info.ID, false, "approval expired") {
			expired++
			s.logger.WarnContext(ctx, "approval.request.expired",
				slog.String("invocation_id", info.ID),
				slog.String("tool", info.Tool),
				slog.Duration("pending_for", time.Since(info.Since)))
		}
	}
	span.SetAttributes(attribute.Int("expired", expired))
	return expired
}
