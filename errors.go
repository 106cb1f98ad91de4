// Copyright 2025 The Go ToolStream Authors
// SPDX-License-Identifier: Apache-2.0

package toolstream

import (
	"errors"
	"fmt"
)

// Subsystem errors. Unknown-stream conditions on emit, cancel, and info
// lookups are deliberately not errors: those paths return silent no-ops or
// false so callers racing against stream reclamation are not penalized.
var (
	// ErrOperationNotFound is returned when a named operation is not present
	// in the registry. This rejects the call; no stream is created.
	ErrOperationNotFound = errors.New("streaming operation not found")

	// ErrStreamNotFound is returned where a stream id lookup must surface an
	// error rather than a boolean.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrInvalidOperation is returned when registering an operation without
	// a name or execute handler.
	ErrInvalidOperation = errors.New("invalid streaming operation")

	// ErrManagerClosed is returned when starting a stream after the manager
	// has been shut down.
	ErrManagerClosed = errors.New("stream manager is closed")
)

// CodeCancelled is the error payload code distinguishing cancellation from
// handler failure. Consumers handling "stream ended abnormally" branch on
// this code, not on a separate message type.
const CodeCancelled = "CANCELLED"

// RecoverableError wraps a handler error to mark the failure as retryable.
// The manager surfaces the wrapped error's text and the given code in the
// terminal error message with recoverable set to true.
type RecoverableError struct {
	// Code is an optional machine-readable error code.
	Code string

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *RecoverableError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *RecoverableError) Unwrap() error {
	return e.Err
}

// IsCancellation reports whether a message is the terminal cancellation
// notice of a stream.
func IsCancellation(msg *StreamingMessage) bool {
	return msg != nil && msg.Type == MessageTypeError && msg.Error != nil && msg.Error.Code == CodeCancelled
}
