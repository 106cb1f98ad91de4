// Copyright 2025 The Go ToolStream Authors
// SPDX-License-Identifier: Apache-2.0

package toolstream

import (
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of payload a StreamingMessage carries.
type MessageType string

// Message type constants.
const (
	// MessageTypeProgress is an incremental progress update.
	MessageTypeProgress MessageType = "progress"

	// MessageTypeData is a partial or final data payload.
	MessageTypeData MessageType = "data"

	// MessageTypeError is a failure or cancellation notice. Error messages
	// with code CodeCancelled terminate a stream through cancellation.
	MessageTypeError MessageType = "error"

	// MessageTypeComplete is the successful terminal message of a stream.
	MessageTypeComplete MessageType = "complete"
)

// ContentType identifies the encoding of a data payload's content.
type ContentType string

// Content type constants for data payloads.
const (
	ContentTypeJSON   ContentType = "json"
	ContentTypeText   ContentType = "text"
	ContentTypeBinary ContentType = "binary"
)

// ProgressPayload carries an incremental progress update.
type ProgressPayload struct {
	// Stage is a free-text label for the current phase of work.
	Stage string `json:"stage"`

	// Progress is a completion percentage, always within [0, 100].
	Progress float64 `json:"progress"`

	// Message is a human-readable progress description.
	Message string `json:"message,omitempty"`

	// Details carries optional structured progress detail.
	Details map[string]any `json:"details,omitempty"`
}

// DataPayload carries a partial or final piece of stream output.
type DataPayload struct {
	// Partial indicates whether more data messages will follow.
	Partial bool `json:"partial"`

	// Content is the opaque payload data.
	Content any `json:"content"`

	// ContentType describes the encoding of Content.
	ContentType ContentType `json:"contentType"`
}

// ErrorPayload carries a failure or cancellation notice.
type ErrorPayload struct {
	// Error is a human-readable description of the failure.
	Error string `json:"error"`

	// Code is an optional machine-readable error code. Cancellation is
	// signaled with CodeCancelled rather than a dedicated message type.
	Code string `json:"code,omitempty"`

	// Recoverable indicates whether the caller may retry the operation.
	Recoverable bool `json:"recoverable"`

	// Context carries optional structured error detail.
	Context map[string]any `json:"context,omitempty"`
}

// Metrics summarizes the work performed by a completed stream.
type Metrics struct {
	Duration   time.Duration `json:"duration"`
	Operations int           `json:"operations"`
	CacheHits  int           `json:"cacheHits,omitempty"`
	Errors     int           `json:"errors,omitempty"`
}

// CompletePayload carries the final result of a successful stream.
type CompletePayload struct {
	// Result is the opaque operation result.
	Result any `json:"result"`

	// Summary is a human-readable completion description.
	Summary string `json:"summary,omitempty"`

	// Metrics holds optional execution metrics.
	Metrics *Metrics `json:"metrics,omitempty"`
}

// StreamingMessage is one unit of stream output. Exactly one of the payload
// fields is non-nil, matching Type. Messages are immutable once constructed;
// the only later mutation is the stream manager stamping the owning stream id
// into Metadata during re-broadcast.
type StreamingMessage struct {
	// ID uniquely identifies this message.
	ID string `json:"id"`

	// Timestamp records when the message was constructed.
	Timestamp time.Time `json:"timestamp"`

	// Type identifies which payload field is set.
	Type MessageType `json:"type"`

	// Progress is set for progress messages.
	Progress *ProgressPayload `json:"progress,omitempty"`

	// Data is set for data messages.
	Data *DataPayload `json:"data,omitempty"`

	// Error is set for error messages.
	Error *ErrorPayload `json:"error,omitempty"`

	// Complete is set for complete messages.
	Complete *CompletePayload `json:"complete,omitempty"`

	// Metadata is an open key/value bag. After re-broadcast it carries the
	// owning stream id under MetadataStreamID.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsTerminal reports whether this message ends its stream.
func (m *StreamingMessage) IsTerminal() bool {
	return m.Type == MessageTypeComplete || m.Type == MessageTypeError
}

// StreamID returns the owning stream id stamped by the manager, or the empty
// string if the message has not been re-broadcast yet.
func (m *StreamingMessage) StreamID() string {
	if m.Metadata == nil {
		return ""
	}
	id, _ := m.Metadata[MetadataStreamID].(string)
	return id
}

// ClampProgress bounds a progress value to [0, 100].
func ClampProgress(progress float64) float64 {
	switch {
	case progress < 0:
		return 0
	case progress > 100:
		return 100
	default:
		return progress
	}
}

func newMessage(typ MessageType) *StreamingMessage {
	return &StreamingMessage{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      typ,
	}
}

// NewProgressMessage creates a progress message with the progress value
// clamped to [0, 100].
func NewProgressMessage(stage string, progress float64, text string) *StreamingMessage {
	msg := newMessage(MessageTypeProgress)
	msg.Progress = &ProgressPayload{
		Stage:    stage,
		Progress: ClampProgress(progress),
		Message:  text,
	}
	return msg
}

// NewDataMessage creates a data message.
func NewDataMessage(content any, contentType ContentType, partial bool) *StreamingMessage {
	msg := newMessage(MessageTypeData)
	msg.Data = &DataPayload{
		Partial:     partial,
		Content:     content,
		ContentType: contentType,
	}
	return msg
}

// NewErrorMessage creates an error message.
func NewErrorMessage(text, code string, recoverable bool) *StreamingMessage {
	msg := newMessage(MessageTypeError)
	msg.Error = &ErrorPayload{
		Error:       text,
		Code:        code,
		Recoverable: recoverable,
	}
	return msg
}

// NewCompleteMessage creates a complete message.
func NewCompleteMessage(result any, summary string, metrics *Metrics) *StreamingMessage {
	msg := newMessage(MessageTypeComplete)
	msg.Complete = &CompletePayload{
		Result:  result,
		Summary: summary,
		Metrics: metrics,
	}
	return msg
}
