// Copyright 2025 The Go ToolStream Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"github.com/go-toolstream/toolstream"
)

// StreamingResponse wraps a tool result for delivery as the response to the
// original call. When the result came from a stream it additionally carries
// the stream id, its last known state, and the operation's declared
// capabilities.
type StreamingResponse struct {
	Result       any                        `json:"result,omitempty"`
	StreamID     string                     `json:"streamId,omitempty"`
	State        toolstream.StreamState     `json:"state,omitempty"`
	Capabilities *toolstream.Capabilities   `json:"capabilities,omitempty"`
	IsStreaming  bool                       `json:"isStreaming"`
}

// ProgressNotification carries a progress message for delivery over an
// out-of-band notification channel, not as a response to the original call.
type ProgressNotification struct {
	StreamID string                       `json:"streamId"`
	Message  *toolstream.StreamingMessage `json:"message"`
}

// CompletionNotification carries a terminal complete message for delivery to
// long-poll or push subscribers.
type CompletionNotification struct {
	StreamID string                       `json:"streamId"`
	Result   any                          `json:"result,omitempty"`
	Message  *toolstream.StreamingMessage `json:"message"`
}

// ErrorNotification carries a terminal error message for delivery to
// long-poll or push subscribers. Cancellation arrives here too, with the
// payload code set to CodeCancelled.
type ErrorNotification struct {
	StreamID string                       `json:"streamId"`
	Error    string                       `json:"error"`
	Message  *toolstream.StreamingMessage `json:"message"`
}

// CreateStreamingResponse builds the response envelope for a tool result.
// State and capabilities may be zero-valued for non-streaming results.
func CreateStreamingResponse(result any, streamID string, state toolstream.StreamState, caps *toolstream.Capabilities) *StreamingResponse {
	return &StreamingResponse{
		Result:       result,
		StreamID:     streamID,
		State:        state,
		Capabilities: caps,
		IsStreaming:  streamID != "",
	}
}

// CreateProgressResponse builds the out-of-band envelope for a progress
// message.
func CreateProgressResponse(streamID string, msg *toolstream.StreamingMessage) *ProgressNotification {
	return &ProgressNotification{
		StreamID: streamID,
		Message:  msg,
	}
}

// CreateCompletionResponse builds the out-of-band envelope for a terminal
// complete message.
func CreateCompletionResponse(streamID string, msg *toolstream.StreamingMessage) *CompletionNotification {
	env := &CompletionNotification{
		StreamID: streamID,
		Message:  msg,
	}
	if msg != nil && msg.Complete != nil {
		env.Result = msg.Complete.Result
	}
	return env
}

// CreateErrorResponse builds the out-of-band envelope for a terminal error
// message.
func CreateErrorResponse(streamID string, msg *toolstream.StreamingMessage) *ErrorNotification {
	env := &ErrorNotification{
		StreamID: streamID,
		Message:  msg,
	}
	if msg != nil && msg.Error != nil {
		env.Error = msg.Error.Error
	}
	return env
}
