// Copyright 2025 The Go ToolStream Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"slices"
	"sync"

	"github.com/go-toolstream/toolstream"
)

// subscriber pairs a message handler with a removable identity.
type subscriber struct {
	id int64
	fn MessageHandler
}

// subscriptions is the typed fan-out table: one handler list per stream id
// plus one list observing every stream. Delivery is synchronous so a
// stream's messages arrive in emission order; there is no replay for late
// subscribers.
type subscriptions struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[string][]subscriber
	all    []subscriber
}

// add attaches a handler to one stream and returns an unsubscribe function.
func (s *subscriptions) add(streamID string, fn MessageHandler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byID == nil {
		s.byID = make(map[string][]subscriber)
	}
	s.nextID++
	id := s.nextID
	s.byID[streamID] = append(s.byID[streamID], subscriber{id: id, fn: fn})

	return func() { s.remove(streamID, id) }
}

// addAll attaches a handler observing every stream and returns an
// unsubscribe function.
func (s *subscriptions) addAll(fn MessageHandler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.all = append(s.all, subscriber{id: id, fn: fn})

	return func() { s.removeAll(id) }
}

func (s *subscriptions) remove(streamID string, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.byID[streamID]
	for i, sub := range subs {
		if sub.id == id {
			s.byID[streamID] = slices.Delete(subs, i, i+1)
			break
		}
	}
	if len(s.byID[streamID]) == 0 {
		delete(s.byID, streamID)
	}
}

func (s *subscriptions) removeAll(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.all {
		if sub.id == id {
			s.all = slices.Delete(s.all, i, i+1)
			break
		}
	}
}

// broadcast delivers a message to the all-streams subscribers and then to
// the stream's own subscribers. Handlers run synchronously on the emitting
// path, so cross-cutting forwarders observe a terminal message before the
// caller awaiting it is released.
func (s *subscriptions) broadcast(streamID string, msg *toolstream.StreamingMessage) {
	s.mu.RLock()
	perStream := slices.Clone(s.byID[streamID])
	all := slices.Clone(s.all)
	s.mu.RUnlock()

	for _, sub := range all {
		sub.fn(msg)
	}
	for _, sub := range perStream {
		sub.fn(msg)
	}
}

// drop discards all per-stream subscribers for a stream.
func (s *subscriptions) drop(streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, streamID)
}

// reset discards every subscription.
func (s *subscriptions) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = nil
	s.all = nil
}

// Subscribe attaches a handler to one stream. The handler receives messages
// emitted after attachment only. The returned function detaches it; per-stream
// handlers are also detached automatically once the stream's terminal message
// has been delivered.
func (m *Manager) Subscribe(streamID string, fn MessageHandler) func() {
	return m.subs.add(streamID, fn)
}

// SubscribeAll attaches a handler observing every stream, for cross-cutting
// concerns such as logging. The returned function detaches it.
func (m *Manager) SubscribeAll(fn MessageHandler) func() {
	return m.subs.addAll(fn)
}
