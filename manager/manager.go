// Copyright 2025 The Go ToolStream Authors
// SPDX-License-Identifier: Apache-2.0

// Package manager owns the set of in-flight streams. It creates streams,
// advances their lifecycle state as handlers run, accepts cooperative
// cancellation requests, re-broadcasts every emitted message to subscribers,
// and periodically reclaims streams that have been inactive too long.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-toolstream/toolstream"
	"github.com/go-toolstream/toolstream/registry"
)

// Default housekeeping parameters. Both are configurable through options.
const (
	// DefaultRetention is how long a stream record is kept after its last
	// activity before the janitor reclaims it.
	DefaultRetention = 24 * time.Hour

	// DefaultSweepInterval is how often the janitor scans for stale streams.
	DefaultSweepInterval = time.Hour
)

// MessageHandler receives re-broadcast stream messages. Handlers are invoked
// synchronously in emission order for a given stream; they must return
// quickly and must not call back into emitting manager operations.
type MessageHandler func(msg *toolstream.StreamingMessage)

// Manager is the stream lifecycle manager. The stream id to StreamInfo map
// is its only shared mutable state; every mutation of a record is funneled
// through manager methods so that no record is ever written concurrently.
type Manager struct {
	registry *registry.Registry
	logger   *slog.Logger
	tracer   trace.Tracer

	// mu guards streams and closed.
	mu      sync.RWMutex
	streams map[string]*toolstream.StreamInfo
	closed  bool

	// emitMu serializes the update-and-fan-out path so subscribers observe
	// messages for a stream in emission order.
	emitMu sync.Mutex

	subs subscriptions

	retention     time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Manager backed by the given registry and starts its
// stale-stream janitor. Call Close to stop the janitor and release
// subscriptions.
func New(reg *registry.Registry, opts ...Option) *Manager {
	m := &Manager{
		registry:      reg,
		logger:        slog.Default(),
		tracer:        otel.GetTracerProvider().Tracer("github.com/go-toolstream/toolstream/manager"),
		streams:       make(map[string]*toolstream.StreamInfo),
		retention:     DefaultRetention,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.wg.Add(1)
	go m.janitor()

	return m
}

// Registry returns the operation registry backing this manager.
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// StartStream looks up the named operation, creates a stream record, and
// launches the handler on its own goroutine without blocking the caller. The
// returned id is available immediately; progress and results are observed
// through subscriptions, not the return value.
//
// The optional onMessage handlers are attached to the new stream before the
// handler launches, so a caller that needs the terminal message is guaranteed
// not to miss it.
func (m *Manager) StartStream(ctx context.Context, operation string, args, options map[string]any, onMessage ...MessageHandler) (string, error) {
	ctx, span := m.tracer.Start(ctx, "toolstream.manager.StartStream",
		trace.WithAttributes(attribute.String("toolstream.operation", operation)))
	defer span.End()

	if operation == "" {
		return "", fmt.Errorf("operation name cannot be empty: %w", toolstream.ErrInvalidOperation)
	}

	op, ok := m.registry.Get(operation)
	if !ok {
		m.logger.WarnContext(ctx, "unknown streaming operation", "operation", operation)
		return "", fmt.Errorf("%q: %w", operation, toolstream.ErrOperationNotFound)
	}

	id := uuid.NewString()
	now := m.now()
	info := &toolstream.StreamInfo{
		ID:           id,
		Operation:    operation,
		State:        toolstream.StreamStatePending,
		StartTime:    now,
		LastActivity: now,
		Metadata: map[string]any{
			"args":    args,
			"options": options,
		},
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", toolstream.ErrManagerClosed
	}
	m.streams[id] = info
	m.mu.Unlock()

	for _, fn := range onMessage {
		m.subs.add(id, fn)
	}

	sc := &toolstream.StreamingContext{
		StreamID:  id,
		Operation: operation,
		StartTime: now,
		Args:      args,
		Options:   options,
		EmitFunc: func(msg *toolstream.StreamingMessage) {
			m.EmitMessage(context.Background(), id, msg)
		},
		IsCancelledFunc: func() bool {
			state, ok := m.GetStreamState(id)
			return !ok || state == toolstream.StreamStateCancelled
		},
		UpdateProgressFunc: func(progress float64, stage string) {
			m.UpdateProgress(context.Background(), id, progress, stage)
		},
	}

	m.transition(id, toolstream.StreamStateActive)

	// Detach from the caller's cancellation: the stream outlives the call
	// that started it, and cancellation is a separate, cooperative request.
	go m.runHandler(context.WithoutCancel(ctx), op, sc)

	m.logger.InfoContext(ctx, "stream started", "stream_id", id, "operation", operation)
	return id, nil
}

// runHandler executes the operation handler and finalizes the stream. Handler
// failures never escape as panics or errors; they are converted into a
// terminal error message and a state transition.
func (m *Manager) runHandler(ctx context.Context, op *toolstream.StreamingOperation, sc *toolstream.StreamingContext) {
	id := sc.StreamID

	defer func() {
		if r := recover(); r != nil {
			m.finishError(ctx, id, fmt.Errorf("handler panic: %v", r))
		}
	}()

	// Cancelled before the handler ran; the cancellation message was already
	// emitted by CancelStream.
	if sc.IsCancelled() {
		return
	}

	result, err := op.Execute(ctx, sc)

	// Cancelled mid-flight: suppress completion and error emission.
	if sc.IsCancelled() {
		return
	}

	if err != nil {
		m.finishError(ctx, id, err)
		return
	}
	m.finishComplete(ctx, id, result)
}

// finishComplete transitions the stream to completed and emits the single
// terminal complete message. The transition is the arbiter against races
// with cancellation: if it fails, another terminal path already won.
func (m *Manager) finishComplete(ctx context.Context, id string, result any) {
	m.mu.Lock()
	info, ok := m.streams[id]
	if !ok || !info.State.CanTransition(toolstream.StreamStateCompleted) {
		m.mu.Unlock()
		return
	}
	info.State = toolstream.StreamStateCompleted
	info.Progress = 100
	info.CurrentStage = "Completed"
	info.LastActivity = m.now()
	operation := info.Operation
	duration := m.now().Sub(info.StartTime)
	m.mu.Unlock()

	msg := toolstream.NewCompleteMessage(result, fmt.Sprintf("%s completed", operation), &toolstream.Metrics{
		Duration:   duration,
		Operations: 1,
	})
	m.emit(ctx, id, msg, true)

	m.logger.InfoContext(ctx, "stream completed", "stream_id", id, "operation", operation, "duration", duration)
}

// finishError transitions the stream to error and emits the single terminal
// error message. A handler marks a failure retryable by returning a
// *toolstream.RecoverableError.
func (m *Manager) finishError(ctx context.Context, id string, handlerErr error) {
	m.mu.Lock()
	info, ok := m.streams[id]
	if !ok || !info.State.CanTransition(toolstream.StreamStateError) {
		m.mu.Unlock()
		return
	}
	info.State = toolstream.StreamStateError
	info.LastActivity = m.now()
	operation := info.Operation
	m.mu.Unlock()

	code := ""
	recoverable := false
	var rerr *toolstream.RecoverableError
	if errors.As(handlerErr, &rerr) {
		code = rerr.Code
		recoverable = true
	}

	msg := toolstream.NewErrorMessage(handlerErr.Error(), code, recoverable)
	m.emit(ctx, id, msg, true)

	m.logger.ErrorContext(ctx, "stream failed", "stream_id", id, "operation", operation, "error", handlerErr)
}

// CancelStream requests cooperative cancellation of a stream. It returns
// false if the id is unknown or the stream is already terminal. On success
// the state flips to cancelled and the terminal cancellation message is
// emitted synchronously; the handler is expected to observe IsCancelled at
// its own checkpoints and stop. In-flight work is never forcibly killed.
func (m *Manager) CancelStream(ctx context.Context, id string) bool {
	ctx, span := m.tracer.Start(ctx, "toolstream.manager.CancelStream",
		trace.WithAttributes(attribute.String("toolstream.stream_id", id)))
	defer span.End()

	m.mu.Lock()
	info, ok := m.streams[id]
	if !ok || !info.State.CanTransition(toolstream.StreamStateCancelled) {
		m.mu.Unlock()
		return false
	}
	info.State = toolstream.StreamStateCancelled
	info.LastActivity = m.now()
	operation := info.Operation
	m.mu.Unlock()

	msg := toolstream.NewErrorMessage("stream cancelled by request", toolstream.CodeCancelled, false)
	m.emit(ctx, id, msg, true)

	m.logger.InfoContext(ctx, "stream cancelled", "stream_id", id, "operation", operation)
	return true
}

// EmitMessage records a message against a stream and re-broadcasts it to
// subscribers. Unknown stream ids are dropped silently: the stream may have
// been reclaimed. Messages arriving after a terminal state are dropped as
// well, never raised to the handler.
func (m *Manager) EmitMessage(ctx context.Context, id string, msg *toolstream.StreamingMessage) {
	m.emit(ctx, id, msg, false)
}

// UpdateProgress records a progress update for a stream. The update is
// synthesized into a regular progress message so subscribers see it, and the
// manager mirrors it into the stream record.
func (m *Manager) UpdateProgress(ctx context.Context, id string, progress float64, stage string) {
	m.emit(ctx, id, toolstream.NewProgressMessage(stage, progress, ""), false)
}

// emit is the single update-and-fan-out path. The terminal flag is set only
// by the three finalizers, each of which has already won its state
// transition, so exactly one terminal message reaches subscribers per stream.
func (m *Manager) emit(ctx context.Context, id string, msg *toolstream.StreamingMessage, terminal bool) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	info, ok := m.streams[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if info.State.IsTerminal() && !terminal {
		m.mu.Unlock()
		m.logger.DebugContext(ctx, "message dropped after terminal state", "stream_id", id, "type", msg.Type)
		return
	}

	info.LastActivity = m.now()
	info.MessageCount++
	if msg.Type == toolstream.MessageTypeProgress && msg.Progress != nil {
		// Progress recorded on the stream is clamped and never decreases.
		if p := toolstream.ClampProgress(msg.Progress.Progress); p > info.Progress {
			info.Progress = p
		}
		if msg.Progress.Stage != "" {
			info.CurrentStage = msg.Progress.Stage
		}
	}
	m.mu.Unlock()

	if msg.Metadata == nil {
		msg.Metadata = make(map[string]any)
	}
	msg.Metadata[toolstream.MetadataStreamID] = id

	m.subs.broadcast(id, msg)

	// Nothing follows a terminal message; the stream's subscribers can go.
	if terminal {
		m.subs.drop(id)
	}
}

// GetStreamInfo returns a copy of the stream's lifecycle record.
func (m *Manager) GetStreamInfo(id string) (toolstream.StreamInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.streams[id]
	if !ok {
		return toolstream.StreamInfo{}, false
	}
	return info.Clone(), true
}

// GetStreamState returns the stream's current lifecycle state.
func (m *Manager) GetStreamState(id string) (toolstream.StreamState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.streams[id]
	if !ok {
		return "", false
	}
	return info.State, true
}

// GetActiveStreams returns copies of all pending and active stream records.
func (m *Manager) GetActiveStreams() []toolstream.StreamInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := make([]toolstream.StreamInfo, 0, len(m.streams))
	for _, info := range m.streams {
		if info.IsActive() {
			active = append(active, info.Clone())
		}
	}
	return active
}

// transition moves a stream to the given state if the state machine permits
// it, reporting whether the move happened.
func (m *Manager) transition(id string, to toolstream.StreamState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.streams[id]
	if !ok || !info.State.CanTransition(to) {
		return false
	}
	info.State = to
	info.LastActivity = m.now()
	return true
}

// Close stops the janitor and releases all subscriptions. Streams already
// running keep their cooperative-cancellation contract; Close does not wait
// for handlers to return.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		close(m.done)
		m.wg.Wait()
		m.subs.reset()

		m.logger.Info("stream manager closed")
	})
}
