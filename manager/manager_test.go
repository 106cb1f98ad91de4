// Copyright 2025 The Go ToolStream Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-toolstream/toolstream"
	"github.com/go-toolstream/toolstream/registry"
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *registry.Registry) {
	t.Helper()

	reg := registry.New()
	base := []Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithSweepInterval(time.Hour),
	}
	m := New(reg, append(base, opts...)...)
	t.Cleanup(m.Close)
	return m, reg
}

func mustRegister(t *testing.T, reg *registry.Registry, name string, handler toolstream.Handler) {
	t.Helper()

	err := reg.Register(&toolstream.StreamingOperation{
		Name: name,
		Capabilities: toolstream.Capabilities{
			SupportsStreaming:    true,
			SupportsProgress:     true,
			SupportsCancellation: true,
		},
		Execute: handler,
	})
	if err != nil {
		t.Fatalf("Register(%q) error = %v", name, err)
	}
}

// collector gathers broadcast messages and signals on the terminal one.
type collector struct {
	mu       sync.Mutex
	msgs     []*toolstream.StreamingMessage
	terminal chan *toolstream.StreamingMessage
}

func newCollector() *collector {
	return &collector{terminal: make(chan *toolstream.StreamingMessage, 1)}
}

func (c *collector) handle(msg *toolstream.StreamingMessage) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()

	if msg.IsTerminal() {
		select {
		case c.terminal <- msg:
		default:
		}
	}
}

func (c *collector) messages() []*toolstream.StreamingMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*toolstream.StreamingMessage(nil), c.msgs...)
}

func (c *collector) awaitTerminal(t *testing.T) *toolstream.StreamingMessage {
	t.Helper()

	select {
	case msg := <-c.terminal:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal message")
		return nil
	}
}

func TestStartStream_UniqueIDs(t *testing.T) {
	t.Parallel()

	m, reg := newTestManager(t)
	mustRegister(t, reg, "noop", func(ctx context.Context, sc *toolstream.StreamingContext) (any, error) {
		return nil, nil
	})

	seen := make(map[string]bool)
	for range 50 {
		id, err := m.StartStream(context.Background(), "noop", nil, nil)
		if err != nil {
			t.Fatalf("StartStream() error = %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate stream id %q", id)
		}
		seen[id] = true
	}
}

func TestStartStream_UnknownOperation(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)

	_, err := m.StartStream(context.Background(), "does-not-exist", map[string]any{}, map[string]any{})
	if !errors.Is(err, toolstream.ErrOperationNotFound) {
		t.Fatalf("StartStream() error = %v, want ErrOperationNotFound", err)
	}

	// A rejected call must not leave a stream record behind.
	if got := len(m.streams); got != 0 {
		t.Errorf("len(streams) = %d after rejected call, want 0", got)
	}
	if got := len(m.GetActiveStreams()); got != 0 {
		t.Errorf("GetActiveStreams() returned %d streams, want 0", got)
	}
}

func TestStartStream_EmptyOperation(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)

	if _, err := m.StartStream(context.Background(), "", nil, nil); !errors.Is(err, toolstream.ErrInvalidOperation) {
		t.Errorf("StartStream(\"\") error = %v, want ErrInvalidOperation", err)
	}
}

func TestStream_CompleteLifecycle(t *testing.T) {
	t.Parallel()

	m, reg := newTestManager(t)
	mustRegister(t, reg, "echo", func(ctx context.Context, sc *toolstream.StreamingContext) (any, error) {
		sc.Emit(toolstream.NewProgressMessage("halfway", 50, "halfway"))
		return "done", nil
	})

	c := newCollector()
	id, err := m.StartStream(context.Background(), "echo", map[string]any{"q": "x"}, nil, c.handle)
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}

	terminal := c.awaitTerminal(t)
	if terminal.Type != toolstream.MessageTypeComplete {
		t.Fatalf("terminal message type = %q, want %q", terminal.Type, toolstream.MessageTypeComplete)
	}
	if terminal.Complete.Result != "done" {
		t.Errorf("terminal result = %v, want %q", terminal.Complete.Result, "done")
	}
	if terminal.Complete.Metrics == nil || terminal.Complete.Metrics.Operations != 1 {
		t.Errorf("terminal metrics = %+v, want operations 1", terminal.Complete.Metrics)
	}
	if got := terminal.StreamID(); got != id {
		t.Errorf("terminal stream id = %q, want %q", got, id)
	}

	msgs := c.messages()
	if len(msgs) != 2 {
		t.Fatalf("received %d messages, want 2", len(msgs))
	}
	if msgs[0].Type != toolstream.MessageTypeProgress || msgs[0].Progress.Progress != 50 {
		t.Errorf("first message = %+v, want progress 50", msgs[0])
	}

	info, ok := m.GetStreamInfo(id)
	if !ok {
		t.Fatal("GetStreamInfo() did not find the stream")
	}
	if info.State != toolstream.StreamStateCompleted {
		t.Errorf("info.State = %q, want %q", info.State, toolstream.StreamStateCompleted)
	}
	if info.Progress != 100 {
		t.Errorf("info.Progress = %v, want 100", info.Progress)
	}
	if info.CurrentStage != "Completed" {
		t.Errorf("info.CurrentStage = %q, want %q", info.CurrentStage, "Completed")
	}
	if info.MessageCount != 2 {
		t.Errorf("info.MessageCount = %d, want 2", info.MessageCount)
	}
}

func TestUpdateProgress_ClampedAndMonotonic(t *testing.T) {
	t.Parallel()

	m, reg := newTestManager(t)

	ready := make(chan struct{})
	release := make(chan struct{})
	mustRegister(t, reg, "steps", func(ctx context.Context, sc *toolstream.StreamingContext) (any, error) {
		sc.UpdateProgress(50, "a")
		sc.UpdateProgress(-10, "b")
		sc.UpdateProgress(20, "c")
		close(ready)
		<-release
		return nil, nil
	})

	id, err := m.StartStream(context.Background(), "steps", nil, nil)
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}

	<-ready
	info, ok := m.GetStreamInfo(id)
	if !ok {
		t.Fatal("GetStreamInfo() did not find the stream")
	}
	// Recorded progress is clamped and never decreases, whatever the
	// handler reported.
	if info.Progress != 50 {
		t.Errorf("info.Progress = %v, want 50", info.Progress)
	}
	if info.CurrentStage != "c" {
		t.Errorf("info.CurrentStage = %q, want %q", info.CurrentStage, "c")
	}
	if info.MessageCount != 3 {
		t.Errorf("info.MessageCount = %d, want 3", info.MessageCount)
	}

	c := newCollector()
	unsub := m.Subscribe(id, c.handle)
	defer unsub()
	close(release)

	c.awaitTerminal(t)
	info, _ = m.GetStreamInfo(id)
	if info.Progress != 100 {
		t.Errorf("info.Progress = %v after completion, want 100", info.Progress)
	}
}

func TestCancelStream(t *testing.T) {
	t.Parallel()

	m, reg := newTestManager(t)

	handlerDone := make(chan struct{})
	mustRegister(t, reg, "slow", func(ctx context.Context, sc *toolstream.StreamingContext) (any, error) {
		defer close(handlerDone)
		for !sc.IsCancelled() {
			time.Sleep(time.Millisecond)
		}
		return nil, nil
	})

	c := newCollector()
	id, err := m.StartStream(context.Background(), "slow", nil, nil, c.handle)
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}

	if !m.CancelStream(context.Background(), id) {
		t.Fatal("CancelStream() = false on an active stream")
	}

	if state, _ := m.GetStreamState(id); state != toolstream.StreamStateCancelled {
		t.Errorf("GetStreamState() = %q, want %q", state, toolstream.StreamStateCancelled)
	}
	for _, info := range m.GetActiveStreams() {
		if info.ID == id {
			t.Error("GetActiveStreams() still includes the cancelled stream")
		}
	}

	// Second cancel is a no-op.
	if m.CancelStream(context.Background(), id) {
		t.Error("CancelStream() = true on an already cancelled stream")
	}
	if m.CancelStream(context.Background(), "unknown-id") {
		t.Error("CancelStream() = true on an unknown stream id")
	}

	terminal := c.awaitTerminal(t)
	if !toolstream.IsCancellation(terminal) {
		t.Fatalf("terminal message = %+v, want cancellation with code %q", terminal, toolstream.CodeCancelled)
	}
	if terminal.Error.Recoverable {
		t.Error("cancellation message marked recoverable")
	}

	// The handler observes cancellation cooperatively; its return must not
	// produce a second terminal message.
	<-handlerDone
	info, _ := m.GetStreamInfo(id)
	if info.MessageCount != 1 {
		t.Errorf("info.MessageCount = %d after handler exit, want 1", info.MessageCount)
	}
	if info.State != toolstream.StreamStateCancelled {
		t.Errorf("info.State = %q after handler exit, want cancelled", info.State)
	}
}

func TestCancelStream_CompletedStream(t *testing.T) {
	t.Parallel()

	m, reg := newTestManager(t)
	mustRegister(t, reg, "quick", func(ctx context.Context, sc *toolstream.StreamingContext) (any, error) {
		return 42, nil
	})

	c := newCollector()
	id, err := m.StartStream(context.Background(), "quick", nil, nil, c.handle)
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	c.awaitTerminal(t)

	if m.CancelStream(context.Background(), id) {
		t.Error("CancelStream() = true on a completed stream")
	}
}

func TestStream_HandlerError(t *testing.T) {
	t.Parallel()

	m, reg := newTestManager(t)
	mustRegister(t, reg, "boom", func(ctx context.Context, sc *toolstream.StreamingContext) (any, error) {
		return nil, errors.New("x")
	})

	c := newCollector()
	id, err := m.StartStream(context.Background(), "boom", nil, nil, c.handle)
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}

	terminal := c.awaitTerminal(t)
	if terminal.Type != toolstream.MessageTypeError {
		t.Fatalf("terminal message type = %q, want %q", terminal.Type, toolstream.MessageTypeError)
	}
	if !strings.Contains(terminal.Error.Error, "x") {
		t.Errorf("terminal error = %q, want it to contain %q", terminal.Error.Error, "x")
	}
	if terminal.Error.Recoverable {
		t.Error("handler failure marked recoverable by default")
	}

	info, _ := m.GetStreamInfo(id)
	if info.State != toolstream.StreamStateError {
		t.Errorf("info.State = %q, want %q", info.State, toolstream.StreamStateError)
	}

	var terminals int
	for _, msg := range c.messages() {
		if msg.IsTerminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("received %d terminal messages, want exactly 1", terminals)
	}
}

func TestStream_HandlerPanic(t *testing.T) {
	t.Parallel()

	m, reg := newTestManager(t)
	mustRegister(t, reg, "panics", func(ctx context.Context, sc *toolstream.StreamingContext) (any, error) {
		panic("kaboom")
	})

	c := newCollector()
	id, err := m.StartStream(context.Background(), "panics", nil, nil, c.handle)
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}

	terminal := c.awaitTerminal(t)
	if terminal.Type != toolstream.MessageTypeError {
		t.Fatalf("terminal message type = %q, want %q", terminal.Type, toolstream.MessageTypeError)
	}
	if !strings.Contains(terminal.Error.Error, "kaboom") {
		t.Errorf("terminal error = %q, want it to contain %q", terminal.Error.Error, "kaboom")
	}

	if state, _ := m.GetStreamState(id); state != toolstream.StreamStateError {
		t.Errorf("GetStreamState() = %q, want %q", state, toolstream.StreamStateError)
	}
}

func TestStream_RecoverableError(t *testing.T) {
	t.Parallel()

	m, reg := newTestManager(t)
	mustRegister(t, reg, "flaky", func(ctx context.Context, sc *toolstream.StreamingContext) (any, error) {
		return nil, &toolstream.RecoverableError{Code: "RATE_LIMIT", Err: errors.New("try again later")}
	})

	c := newCollector()
	if _, err := m.StartStream(context.Background(), "flaky", nil, nil, c.handle); err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}

	terminal := c.awaitTerminal(t)
	if !terminal.Error.Recoverable {
		t.Error("recoverable handler error not marked recoverable")
	}
	if terminal.Error.Code != "RATE_LIMIT" {
		t.Errorf("terminal error code = %q, want %q", terminal.Error.Code, "RATE_LIMIT")
	}
}

func TestEmitMessage_AfterTerminalState(t *testing.T) {
	t.Parallel()

	m, reg := newTestManager(t)
	mustRegister(t, reg, "quick", func(ctx context.Context, sc *toolstream.StreamingContext) (any, error) {
		return "ok", nil
	})

	c := newCollector()
	id, err := m.StartStream(context.Background(), "quick", nil, nil, c.handle)
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	c.awaitTerminal(t)

	before, _ := m.GetStreamInfo(id)

	// Late emissions are dropped silently, never raised to the caller.
	m.EmitMessage(context.Background(), id, toolstream.NewDataMessage("late", toolstream.ContentTypeText, false))

	after, _ := m.GetStreamInfo(id)
	if after.MessageCount != before.MessageCount {
		t.Errorf("MessageCount grew from %d to %d after terminal state", before.MessageCount, after.MessageCount)
	}
	if after.State != toolstream.StreamStateCompleted {
		t.Errorf("info.State = %q after late emit, want completed", after.State)
	}
}

func TestEmitMessage_UnknownStream(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)

	// Must not panic or error; the stream may simply have been reclaimed.
	m.EmitMessage(context.Background(), "reclaimed-id", toolstream.NewDataMessage("x", toolstream.ContentTypeText, false))

	if _, ok := m.GetStreamState("reclaimed-id"); ok {
		t.Error("GetStreamState() found a stream that was never started")
	}
}

func TestReclaim_StaleStreams(t *testing.T) {
	t.Parallel()

	base := time.Now()
	m, reg := newTestManager(t, WithClock(func() time.Time { return base }))

	mustRegister(t, reg, "quick", func(ctx context.Context, sc *toolstream.StreamingContext) (any, error) {
		return nil, nil
	})
	mustRegister(t, reg, "stuck", func(ctx context.Context, sc *toolstream.StreamingContext) (any, error) {
		for !sc.IsCancelled() {
			time.Sleep(time.Millisecond)
		}
		return nil, nil
	})

	c := newCollector()
	completed, err := m.StartStream(context.Background(), "quick", nil, nil, c.handle)
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	c.awaitTerminal(t)

	stuck, err := m.StartStream(context.Background(), "stuck", nil, nil)
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}

	// Nothing is stale inside the retention window.
	if got := m.reclaim(base.Add(time.Hour)); got != 0 {
		t.Fatalf("reclaim() = %d inside retention window, want 0", got)
	}

	// Past the window both streams go, terminal or not.
	if got := m.reclaim(base.Add(25 * time.Hour)); got != 2 {
		t.Fatalf("reclaim() = %d, want 2", got)
	}
	if _, ok := m.GetStreamInfo(completed); ok {
		t.Error("GetStreamInfo() still finds the reclaimed completed stream")
	}
	if _, ok := m.GetStreamInfo(stuck); ok {
		t.Error("GetStreamInfo() still finds the reclaimed active stream")
	}
}

func TestSubscribeAll(t *testing.T) {
	t.Parallel()

	m, reg := newTestManager(t)
	mustRegister(t, reg, "echo", func(ctx context.Context, sc *toolstream.StreamingContext) (any, error) {
		sc.Emit(toolstream.NewDataMessage("chunk", toolstream.ContentTypeText, true))
		return "done", nil
	})

	c := newCollector()
	unsub := m.SubscribeAll(c.handle)
	defer unsub()

	id, err := m.StartStream(context.Background(), "echo", nil, nil)
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}

	c.awaitTerminal(t)
	for i, msg := range c.messages() {
		if got := msg.StreamID(); got != id {
			t.Errorf("message %d stream id = %q, want %q", i, got, id)
		}
	}
}

func TestSubscribe_NoReplayForLateSubscribers(t *testing.T) {
	t.Parallel()

	m, reg := newTestManager(t)

	ready := make(chan struct{})
	release := make(chan struct{})
	mustRegister(t, reg, "two-phase", func(ctx context.Context, sc *toolstream.StreamingContext) (any, error) {
		sc.Emit(toolstream.NewDataMessage("one", toolstream.ContentTypeText, true))
		close(ready)
		<-release
		sc.Emit(toolstream.NewDataMessage("two", toolstream.ContentTypeText, true))
		return "done", nil
	})

	id, err := m.StartStream(context.Background(), "two-phase", nil, nil)
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}

	<-ready
	c := newCollector()
	unsub := m.Subscribe(id, c.handle)
	defer unsub()
	close(release)

	c.awaitTerminal(t)
	msgs := c.messages()
	if len(msgs) != 2 {
		t.Fatalf("late subscriber received %d messages, want 2 (no replay)", len(msgs))
	}
	if content := msgs[0].Data.Content; content != "two" {
		t.Errorf("first observed message content = %v, want %q", content, "two")
	}
}

func TestManagerClose(t *testing.T) {
	t.Parallel()

	m, reg := newTestManager(t)
	mustRegister(t, reg, "noop", func(ctx context.Context, sc *toolstream.StreamingContext) (any, error) {
		return nil, nil
	})

	m.Close()

	if _, err := m.StartStream(context.Background(), "noop", nil, nil); !errors.Is(err, toolstream.ErrManagerClosed) {
		t.Errorf("StartStream() after Close error = %v, want ErrManagerClosed", err)
	}

	// Close is idempotent.
	m.Close()
}
