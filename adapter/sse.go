// Copyright 2025 The Go ToolStream Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/go-toolstream/toolstream"
)

// NotificationStream represents a Server-Sent Events (SSE) connection
// delivering one stream's out-of-band notifications to a push subscriber.
type NotificationStream struct {
	w           http.ResponseWriter
	flusher     http.Flusher
	streamID    string
	mu          sync.Mutex
	isConnected bool
}

// SinkRegistry manages active SSE notification streams, keyed by stream id.
type SinkRegistry struct {
	sinks map[string]*NotificationStream
	mu    sync.RWMutex
}

// NewSinkRegistry creates a new SinkRegistry.
func NewSinkRegistry() *SinkRegistry {
	return &SinkRegistry{
		sinks: make(map[string]*NotificationStream),
	}
}

// CreateSink initializes a new SSE notification stream for a stream id.
// Returns nil if the client does not support SSE.
func (r *SinkRegistry) CreateSink(streamID string, w http.ResponseWriter, req *http.Request) *NotificationStream {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Close existing sink if any
	if existing, exists := r.sinks[streamID]; exists {
		existing.close()
		delete(r.sinks, streamID)
	}

	// Set up SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // For Nginx proxy

	sink := &NotificationStream{
		w:           w,
		flusher:     flusher,
		streamID:    streamID,
		isConnected: true,
	}
	r.sinks[streamID] = sink

	return sink
}

// GetSink retrieves a notification stream by stream id.
func (r *SinkRegistry) GetSink(streamID string) *NotificationStream {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sinks[streamID]
}

// CloseSink removes a notification stream from the registry.
func (r *SinkRegistry) CloseSink(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sink, exists := r.sinks[streamID]; exists {
		sink.close()
		delete(r.sinks, streamID)
	}
}

// close marks the stream disconnected. It takes the stream's own lock, so a
// close blocks until any in-flight send has finished writing; nothing touches
// the underlying ResponseWriter afterwards.
func (s *NotificationStream) close() {
	s.mu.Lock()
	s.isConnected = false
	s.mu.Unlock()
}

// send writes one SSE frame with the given event name and JSON body.
func (s *NotificationStream) send(event string, body any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isConnected {
		return fmt.Errorf("notification stream is closed")
	}

	data, err := sonic.ConfigDefault.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s notification: %w", event, err)
	}

	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	s.flusher.Flush()

	return nil
}

// SendProgress sends a progress notification through the stream.
func (s *NotificationStream) SendProgress(env *ProgressNotification) error {
	return s.send("progress", env)
}

// SendCompletion sends a completion notification through the stream.
func (s *NotificationStream) SendCompletion(env *CompletionNotification) error {
	return s.send("complete", env)
}

// SendError sends an error notification through the stream.
func (s *NotificationStream) SendError(env *ErrorNotification) error {
	return s.send("error", env)
}

// ServeNotifications forwards every manager message to the matching SSE sink
// as an out-of-band envelope: progress messages as progress notifications,
// terminal messages as completion or error notifications followed by sink
// close. The returned function detaches the forwarder.
func (a *Adapter) ServeNotifications(sinks *SinkRegistry) func() {
	return a.manager.SubscribeAll(func(msg *toolstream.StreamingMessage) {
		streamID := msg.StreamID()
		sink := sinks.GetSink(streamID)
		if sink == nil {
			return
		}

		var err error
		switch msg.Type {
		case toolstream.MessageTypeProgress:
			err = sink.SendProgress(CreateProgressResponse(streamID, msg))
		case toolstream.MessageTypeData:
			err = sink.send("data", CreateProgressResponse(streamID, msg))
		case toolstream.MessageTypeComplete:
			err = sink.SendCompletion(CreateCompletionResponse(streamID, msg))
			sinks.CloseSink(streamID)
		case toolstream.MessageTypeError:
			err = sink.SendError(CreateErrorResponse(streamID, msg))
			sinks.CloseSink(streamID)
		}
		if err != nil {
			a.logger.Warn("failed to push notification", "stream_id", streamID, "type", msg.Type, "error", err)
		}
	})
}
