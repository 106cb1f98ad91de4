// Copyright 2025 The Go ToolStream Authors
// SPDX-License-Identifier: Apache-2.0

package toolstream

import (
	"maps"
	"time"
)

// StreamState represents the lifecycle state of a stream.
type StreamState string

const (
	// StreamStatePending indicates the stream record exists but the handler
	// has not been invoked yet.
	StreamStatePending StreamState = "pending"

	// StreamStateActive indicates the handler is running.
	StreamStateActive StreamState = "active"

	// StreamStatePaused is reserved for future use; the base lifecycle never
	// enters it.
	StreamStatePaused StreamState = "paused"

	// StreamStateCompleted indicates the handler returned a result.
	StreamStateCompleted StreamState = "completed"

	// StreamStateError indicates the handler failed.
	StreamStateError StreamState = "error"

	// StreamStateCancelled indicates the stream was cancelled by request.
	StreamStateCancelled StreamState = "cancelled"
)

// IsTerminal reports whether the state permits no further transitions.
func (s StreamState) IsTerminal() bool {
	switch s {
	case StreamStateCompleted, StreamStateError, StreamStateCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a stream in this state may move to the given
// state. Transitions are monotonic: pending streams activate, active streams
// finish, and terminal states admit nothing. Cancellation is reachable from
// any non-terminal state so a stream can be cancelled before its handler
// starts.
func (s StreamState) CanTransition(to StreamState) bool {
	if s.IsTerminal() {
		return false
	}
	switch to {
	case StreamStateCancelled:
		return true
	case StreamStateActive:
		return s == StreamStatePending || s == StreamStatePaused
	case StreamStateCompleted, StreamStateError:
		return s == StreamStateActive
	case StreamStatePaused:
		return s == StreamStateActive
	default:
		return false
	}
}

// StreamInfo is the mutable lifecycle record for one stream. It is owned
// exclusively by the stream manager: handler code never touches it directly,
// and accessors hand out copies.
type StreamInfo struct {
	// ID uniquely identifies the stream for the process lifetime.
	ID string `json:"id"`

	// Operation is the name of the registered operation being executed.
	Operation string `json:"operation"`

	// State is the current lifecycle state.
	State StreamState `json:"state"`

	// StartTime records when the stream was created.
	StartTime time.Time `json:"startTime"`

	// LastActivity is updated on every emitted message or progress update.
	// The stale-stream janitor reclaims records whose LastActivity is older
	// than the retention window.
	LastActivity time.Time `json:"lastActivity"`

	// Progress is the last recorded completion percentage, within [0, 100]
	// and non-decreasing for the life of the stream.
	Progress float64 `json:"progress"`

	// CurrentStage is the last recorded progress stage label.
	CurrentStage string `json:"currentStage,omitempty"`

	// MessageCount is the number of messages emitted so far. It only grows.
	MessageCount int `json:"messageCount"`

	// Metadata holds the original arguments and options for diagnostics.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy of the record safe to hand outside the manager.
func (si *StreamInfo) Clone() StreamInfo {
	out := *si
	if si.Metadata != nil {
		out.Metadata = maps.Clone(si.Metadata)
	}
	return out
}

// IsActive reports whether the stream is still pending or running.
func (si *StreamInfo) IsActive() bool {
	return si.State == StreamStatePending || si.State == StreamStateActive
}
