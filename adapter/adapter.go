// Copyright 2025 The Go ToolStream Authors
// SPDX-License-Identifier: Apache-2.0

// Package adapter bridges the stream lifecycle manager to a calling
// protocol. It offers a uniform execution contract — run streaming if the
// operation supports it, fall back to a plain synchronous call if not —
// together with envelope builders for whatever wire protocol sits above, and
// thin passthroughs so the protocol layer has one dependency instead of two.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-toolstream/toolstream"
	"github.com/go-toolstream/toolstream/manager"
	"github.com/go-toolstream/toolstream/registry"
)

// ErrStreamCancelled is returned by ExecuteStreamingTool when the awaited
// stream ends through cancellation rather than completion or failure.
var ErrStreamCancelled = errors.New("stream cancelled")

// SyncExecutor is the plain synchronous tool executor used as the fallback
// when an operation is not registered as streaming. Its internals are a host
// concern.
type SyncExecutor interface {
	ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error)
}

// SyncExecutorFunc adapts a function to the SyncExecutor interface.
type SyncExecutorFunc func(ctx context.Context, name string, args map[string]any) (any, error)

// ExecuteTool implements SyncExecutor.
func (f SyncExecutorFunc) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	return f(ctx, name, args)
}

// ExecuteResult is the outcome of ExecuteStreamingTool. IsStreaming reports
// which execution path ran; StreamID is set only on the streaming path.
type ExecuteResult struct {
	StreamID    string `json:"streamId,omitempty"`
	Result      any    `json:"result,omitempty"`
	IsStreaming bool   `json:"isStreaming"`
}

// Adapter translates between the manager's event model and a calling
// protocol's envelopes.
type Adapter struct {
	manager  *manager.Manager
	registry *registry.Registry
	executor SyncExecutor
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates an Adapter over the given manager, registry, and synchronous
// fallback executor. The executor may be nil, in which case calls for
// unregistered operations fail with ErrOperationNotFound.
func New(mgr *manager.Manager, reg *registry.Registry, executor SyncExecutor, opts ...Option) *Adapter {
	a := &Adapter{
		manager:  mgr,
		registry: reg,
		executor: executor,
		logger:   slog.Default(),
		tracer:   otel.GetTracerProvider().Tracer("github.com/go-toolstream/toolstream/adapter"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ExecuteStreamingTool runs a named tool, streaming if it is registered as a
// streaming operation and synchronously otherwise. Callers never need to
// know in advance which path applies.
//
// On the streaming path the optional onMessage callback is attached before
// the stream starts, so it observes every message including the terminal
// one, in emission order. The call blocks until the stream reaches a
// terminal state and returns the completed result, a handler error, or
// ErrStreamCancelled. The manager owns terminal-message emission; the
// adapter only observes it.
func (a *Adapter) ExecuteStreamingTool(ctx context.Context, name string, args, options map[string]any, onMessage manager.MessageHandler) (*ExecuteResult, error) {
	ctx, span := a.tracer.Start(ctx, "toolstream.adapter.ExecuteStreamingTool",
		trace.WithAttributes(attribute.String("toolstream.tool", name)))
	defer span.End()

	if !a.registry.Has(name) {
		if a.executor == nil {
			return nil, fmt.Errorf("%q: %w", name, toolstream.ErrOperationNotFound)
		}
		a.logger.InfoContext(ctx, "executing non-streaming tool", "tool", name)
		result, err := a.executor.ExecuteTool(ctx, name, args)
		if err != nil {
			return nil, err
		}
		return &ExecuteResult{Result: result, IsStreaming: false}, nil
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	observe := func(msg *toolstream.StreamingMessage) {
		if onMessage != nil {
			onMessage(msg)
		}
		switch msg.Type {
		case toolstream.MessageTypeComplete:
			select {
			case done <- outcome{result: msg.Complete.Result}:
			default:
			}
		case toolstream.MessageTypeError:
			var err error
			if toolstream.IsCancellation(msg) {
				err = fmt.Errorf("%w: %s", ErrStreamCancelled, msg.Error.Error)
			} else {
				err = errors.New(msg.Error.Error)
			}
			select {
			case done <- outcome{err: err}:
			default:
			}
		}
	}

	id, err := a.manager.StartStream(ctx, name, args, options, observe)
	if err != nil {
		return nil, err
	}

	select {
	case out := <-done:
		if out.err != nil {
			return &ExecuteResult{StreamID: id, IsStreaming: true}, out.err
		}
		return &ExecuteResult{StreamID: id, Result: out.result, IsStreaming: true}, nil
	case <-ctx.Done():
		// The caller gave up; request cooperative cancellation and let the
		// stream wind down on its own.
		a.manager.CancelStream(context.WithoutCancel(ctx), id)
		return &ExecuteResult{StreamID: id, IsStreaming: true}, ctx.Err()
	}
}

// RegisterStreamingOperation registers a streaming operation with the
// underlying registry.
func (a *Adapter) RegisterStreamingOperation(op *toolstream.StreamingOperation) error {
	return a.registry.Register(op)
}

// HasStreamingOperation reports whether the named operation streams.
func (a *Adapter) HasStreamingOperation(name string) bool {
	return a.registry.Has(name)
}

// GetOperation returns the named streaming operation.
func (a *Adapter) GetOperation(name string) (*toolstream.StreamingOperation, bool) {
	return a.registry.Get(name)
}

// ListOperations returns the introspection view of every registered
// streaming operation.
func (a *Adapter) ListOperations() []toolstream.OperationSummary {
	return a.registry.List()
}

// CancelStream requests cooperative cancellation of a stream.
func (a *Adapter) CancelStream(ctx context.Context, id string) bool {
	return a.manager.CancelStream(ctx, id)
}

// GetStreamInfo returns a copy of a stream's lifecycle record.
func (a *Adapter) GetStreamInfo(id string) (toolstream.StreamInfo, bool) {
	return a.manager.GetStreamInfo(id)
}

// GetActiveStreams returns copies of all pending and active stream records.
func (a *Adapter) GetActiveStreams() []toolstream.StreamInfo {
	return a.manager.GetActiveStreams()
}
