// Copyright 2025 The Go ToolStream Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Option represents an option for configuring the [Manager].
type Option func(*Manager)

// WithLogger sets the [*slog.Logger] for the [Manager].
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithTracer sets the [trace.Tracer] for the [Manager].
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = tracer
	}
}

// WithRetention sets how long stream records are kept after their last
// activity before the janitor reclaims them.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithSweepInterval sets how often the janitor scans for stale streams.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// WithClock sets the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}
