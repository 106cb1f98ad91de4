// Copyright 2025 The Go ToolStream Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Option represents an option for configuring the [Adapter].
type Option func(*Adapter)

// WithLogger sets the [*slog.Logger] for the [Adapter].
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithTracer sets the [trace.Tracer] for the [Adapter].
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Adapter) {
		a.tracer = tracer
	}
}
