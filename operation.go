// Copyright 2025 The Go ToolStream Authors
// SPDX-License-Identifier: Apache-2.0

package toolstream

import (
	"context"
	"fmt"
	"time"

	"github.com/go-json-experiment/json"
)

// Handler is the asynchronous function implementing a named operation's
// actual work. It receives a StreamingContext for emitting messages and
// observing cancellation, and returns a result or an error. Handlers are
// expected to poll sc.IsCancelled at safe points and return early when it
// reports true.
type Handler func(ctx context.Context, sc *StreamingContext) (any, error)

// Capabilities declares what a streaming operation supports. It is consulted
// by transport layers to decide how to surface the operation to callers.
type Capabilities struct {
	SupportsStreaming      bool `json:"supportsStreaming"`
	SupportsProgress       bool `json:"supportsProgress"`
	SupportsPartialResults bool `json:"supportsPartialResults"`
	SupportsCancellation   bool `json:"supportsCancellation"`

	// EstimatedDuration is an optional hint for how long one invocation
	// typically takes.
	EstimatedDuration time.Duration `json:"estimatedDuration,omitempty"`
}

// StreamingOperation is a registered long-running capability. Entries are
// registered once at startup and read-only thereafter.
type StreamingOperation struct {
	// Name is the unique registry key.
	Name string `json:"name"`

	// Description is a human-readable summary for capability discovery.
	Description string `json:"description,omitempty"`

	// Capabilities declares what this operation supports.
	Capabilities Capabilities `json:"capabilities"`

	// Execute is the handler invoked for each stream.
	Execute Handler `json:"-"`
}

// Validate ensures the operation can be registered.
func (op *StreamingOperation) Validate() error {
	if op == nil {
		return fmt.Errorf("operation cannot be nil: %w", ErrInvalidOperation)
	}
	if op.Name == "" {
		return fmt.Errorf("operation name cannot be empty: %w", ErrInvalidOperation)
	}
	if op.Execute == nil {
		return fmt.Errorf("operation %q has no execute handler: %w", op.Name, ErrInvalidOperation)
	}
	return nil
}

// StreamingContext is the capability handed to a running handler. It is the
// only channel through which handler code may affect stream state: the three
// callables are wired by the stream manager, and the context deliberately
// holds no reference to the manager itself.
type StreamingContext struct {
	// StreamID identifies the stream this context belongs to.
	StreamID string

	// Operation is the name of the operation being executed.
	Operation string

	// StartTime records when the stream was created.
	StartTime time.Time

	// Args are the caller-supplied operation arguments.
	Args map[string]any

	// Options are the caller-supplied invocation options.
	Options map[string]any

	// EmitFunc forwards a message into the manager's re-broadcast path.
	EmitFunc func(msg *StreamingMessage)

	// IsCancelledFunc reads the live stream state.
	IsCancelledFunc func() bool

	// UpdateProgressFunc records a progress update for the stream.
	UpdateProgressFunc func(progress float64, stage string)
}

// Emit forwards a message to the stream's subscribers.
func (sc *StreamingContext) Emit(msg *StreamingMessage) {
	if sc.EmitFunc != nil {
		sc.EmitFunc(msg)
	}
}

// IsCancelled reports whether cancellation has been requested for the stream.
func (sc *StreamingContext) IsCancelled() bool {
	if sc.IsCancelledFunc == nil {
		return false
	}
	return sc.IsCancelledFunc()
}

// UpdateProgress records a progress update. The value is clamped to [0, 100]
// by the manager.
func (sc *StreamingContext) UpdateProgress(progress float64, stage string) {
	if sc.UpdateProgressFunc != nil {
		sc.UpdateProgressFunc(progress, stage)
	}
}

// DecodeArgs unmarshals the context's arguments into a typed struct, so
// handlers can work with well-typed parameters instead of map lookups.
func (sc *StreamingContext) DecodeArgs(v any) error {
	data, err := json.Marshal(sc.Args)
	if err != nil {
		return fmt.Errorf("failed to encode args: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode args: %w", err)
	}
	return nil
}

// OperationSummary is the introspection view of a registered operation,
// returned by registry listing for capability-discovery endpoints.
type OperationSummary struct {
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}
