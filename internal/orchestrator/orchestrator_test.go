package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gesturelabs/signcast/internal/classifier"
	"github.com/gesturelabs/signcast/internal/vision"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// gateFunc adapts a function to the Gatekeeper interface.
type gateFunc func(ctx context.Context, frame *vision.Frame) bool

func (f gateFunc) Present(ctx context.Context, frame *vision.Frame) bool { return f(ctx, frame) }

// switchGate flips between present and absent under test control.
type switchGate struct {
	mu      sync.Mutex
	present bool
}

func (g *switchGate) Present(context.Context, *vision.Frame) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.present
}

func (g *switchGate) set(present bool) {
	g.mu.Lock()
	g.present = present
	g.mu.Unlock()
}

// classifyFunc adapts a function to the Classifier interface.
type classifyFunc func(ctx context.Context, frame *vision.Frame) (string, error)

func (f classifyFunc) Classify(ctx context.Context, frame *vision.Frame) (string, error) {
	return f(ctx, frame)
}

// blockingClassifier parks every call until released (or its context ends).
type blockingClassifier struct {
	started chan struct{}
	release chan struct{}
	label   string
}

func newBlockingClassifier(label string) *blockingClassifier {
	return &blockingClassifier{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
		label:   label,
	}
}

func (b *blockingClassifier) Classify(ctx context.Context, _ *vision.Frame) (string, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return b.label, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// testClock is an injectable, manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func litFrame() *vision.Frame {
	f := vision.NewFrame(2, 2)
	f.Pix[0] = 0xFF
	return f
}

// nextEvent reads events until one of the wanted kind arrives.
func nextEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", kind)
			}
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

// waitSettled polls until no classifier calls are in flight.
func waitSettled(t *testing.T, o *Orchestrator) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o.PendingCount() == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("in-flight calls never settled")
}

func TestPresenceTransitions(t *testing.T) {
	gate := &switchGate{}
	o := New(gate, classifyFunc(func(context.Context, *vision.Frame) (string, error) {
		return "HELLO", nil
	}), classifier.NewRetryPolicy(0), Options{}, newLogger())
	defer o.Close()

	gate.set(true)
	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	appeared := nextEvent(t, o.Events(), EventPresenceChanged)
	if !appeared.Present {
		t.Fatal("expected appeared transition")
	}
	if appeared.SessionID == "" {
		t.Fatal("expected a session id on appearance")
	}

	gate.set(false)
	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	vanished := nextEvent(t, o.Events(), EventPresenceChanged)
	if vanished.Present {
		t.Fatal("expected vanished transition")
	}
	if vanished.SessionID != appeared.SessionID {
		t.Fatal("expected vanish to carry the same session id")
	}
}

func TestAbsentFramesEmitIdleStatus(t *testing.T) {
	o := New(gateFunc(func(context.Context, *vision.Frame) bool { return false }),
		classifyFunc(func(context.Context, *vision.Frame) (string, error) { return "", nil }),
		classifier.NewRetryPolicy(0), Options{}, newLogger())
	defer o.Close()

	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	status := nextEvent(t, o.Events(), EventStatusChanged)
	if !strings.Contains(status.Status, "idle") {
		t.Fatalf("expected idle status, got %q", status.Status)
	}
}

func TestDispatchPacing(t *testing.T) {
	clock := newTestClock()
	calls := 0
	var mu sync.Mutex

	o := New(gateFunc(func(context.Context, *vision.Frame) bool { return true }),
		classifyFunc(func(context.Context, *vision.Frame) (string, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return "HELLO", nil
		}),
		classifier.NewRetryPolicy(0),
		Options{DispatchInterval: 500 * time.Millisecond}, newLogger())
	defer o.Close()
	o.clock = clock.Now

	for i := 0; i < 5; i++ {
		if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	waitSettled(t, o)
	mu.Lock()
	if calls != 1 {
		mu.Unlock()
		t.Fatalf("expected one dispatch within the window, got %d", calls)
	}
	mu.Unlock()

	clock.Advance(499 * time.Millisecond)
	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	status := nextEvent(t, o.Events(), EventStatusChanged)
	if !strings.Contains(status.Status, "waiting") {
		t.Fatalf("expected waiting status, got %q", status.Status)
	}

	clock.Advance(time.Millisecond)
	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitSettled(t, o)
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected second dispatch once interval elapsed, got %d", calls)
	}
}

func TestAppearanceResetsWindowAndCounter(t *testing.T) {
	clock := newTestClock()
	gate := &switchGate{present: true}
	calls := 0
	var mu sync.Mutex

	o := New(gate, classifyFunc(func(context.Context, *vision.Frame) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return "HELLO", nil
	}), classifier.NewRetryPolicy(0),
		Options{DispatchInterval: time.Hour, SessionCap: 1}, newLogger())
	defer o.Close()
	o.clock = clock.Now

	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitSettled(t, o)

	// Cap is spent for this session.
	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	status := nextEvent(t, o.Events(), EventStatusChanged)
	if !strings.Contains(status.Status, "session cap") {
		t.Fatalf("expected session cap status, got %q", status.Status)
	}

	// Vanish and reappear: fresh session, fresh window, immediate dispatch
	// even though the hour-long interval has not elapsed.
	gate.set(false)
	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	gate.set(true)
	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitSettled(t, o)

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected dispatch in the new session, got %d calls", calls)
	}
}

func TestSingleFlightBound(t *testing.T) {
	blocking := newBlockingClassifier("HELLO")
	o := New(gateFunc(func(context.Context, *vision.Frame) bool { return true }),
		blocking, classifier.NewRetryPolicy(0),
		Options{Policy: PolicySingleFlight, DispatchInterval: time.Nanosecond}, newLogger())
	defer o.Close()

	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-blocking.started

	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	status := nextEvent(t, o.Events(), EventStatusChanged)
	if !strings.Contains(status.Status, "in flight") {
		t.Fatalf("expected busy status, got %q", status.Status)
	}
	if o.PendingCount() != 1 {
		t.Fatalf("expected exactly one in-flight call, got %d", o.PendingCount())
	}

	close(blocking.release)
	result := nextEvent(t, o.Events(), EventResultReceived)
	if result.Label != "HELLO" {
		t.Fatalf("expected HELLO, got %q", result.Label)
	}
	waitSettled(t, o)
}

func TestPauseCancelsSingleFlight(t *testing.T) {
	blocking := newBlockingClassifier("HELLO")
	o := New(gateFunc(func(context.Context, *vision.Frame) bool { return true }),
		blocking, classifier.NewRetryPolicy(0),
		Options{Policy: PolicySingleFlight}, newLogger())
	defer o.Close()

	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-blocking.started

	o.Pause()
	if o.PendingCount() != 0 {
		t.Fatalf("expected empty in-flight set after Pause, got %d", o.PendingCount())
	}

	// The cancelled call must not surface a result or an error status.
	for {
		select {
		case evt := <-o.Events():
			if evt.Kind == EventResultReceived {
				t.Fatalf("cancelled call emitted a result: %q", evt.Label)
			}
			if evt.Kind == EventStatusChanged && strings.HasPrefix(evt.Status, "error:") {
				t.Fatalf("cancelled call emitted an error status: %q", evt.Status)
			}
		default:
			return
		}
	}
}

func TestPausedFramesAreRefused(t *testing.T) {
	o := New(gateFunc(func(context.Context, *vision.Frame) bool { return true }),
		classifyFunc(func(context.Context, *vision.Frame) (string, error) { return "HELLO", nil }),
		classifier.NewRetryPolicy(0), Options{}, newLogger())
	defer o.Close()

	o.Pause()
	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	status := nextEvent(t, o.Events(), EventStatusChanged)
	if status.Status != "paused" {
		t.Fatalf("expected paused status, got %q", status.Status)
	}
}

func TestResumeReopensWindow(t *testing.T) {
	clock := newTestClock()
	calls := 0
	var mu sync.Mutex

	o := New(gateFunc(func(context.Context, *vision.Frame) bool { return true }),
		classifyFunc(func(context.Context, *vision.Frame) (string, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return "HELLO", nil
		}), classifier.NewRetryPolicy(0),
		Options{DispatchInterval: time.Hour}, newLogger())
	defer o.Close()
	o.clock = clock.Now

	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitSettled(t, o)

	o.Pause()
	o.Resume()

	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitSettled(t, o)

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected immediate dispatch after Resume, got %d calls", calls)
	}
}

func TestVanishDrainsInFlightByDefault(t *testing.T) {
	blocking := newBlockingClassifier("LATE")
	gate := &switchGate{present: true}
	o := New(gate, blocking, classifier.NewRetryPolicy(0), Options{}, newLogger())
	defer o.Close()

	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-blocking.started

	gate.set(false)
	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	close(blocking.release)
	result := nextEvent(t, o.Events(), EventResultReceived)
	if result.Label != "LATE" {
		t.Fatalf("expected drained call to deliver its result, got %q", result.Label)
	}
}

func TestCancelOnVanishSuppressesResult(t *testing.T) {
	blocking := newBlockingClassifier("LATE")
	gate := &switchGate{present: true}
	o := New(gate, blocking, classifier.NewRetryPolicy(0), Options{CancelOnVanish: true}, newLogger())
	defer o.Close()

	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-blocking.started

	gate.set(false)
	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitSettled(t, o)

	for {
		select {
		case evt := <-o.Events():
			if evt.Kind == EventResultReceived {
				t.Fatalf("cancelled call emitted a result: %q", evt.Label)
			}
		default:
			return
		}
	}
}

func TestEmptyLabelBecomesStatus(t *testing.T) {
	o := New(gateFunc(func(context.Context, *vision.Frame) bool { return true }),
		classifyFunc(func(context.Context, *vision.Frame) (string, error) { return "", nil }),
		classifier.NewRetryPolicy(0), Options{}, newLogger())
	defer o.Close()

	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-o.Events():
			if evt.Kind == EventResultReceived {
				t.Fatal("empty label must not become a result")
			}
			if evt.Kind == EventStatusChanged && strings.Contains(evt.Status, "no gesture") {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for no-gesture status")
		}
	}
}

func TestClassifierErrorBecomesStatus(t *testing.T) {
	o := New(gateFunc(func(context.Context, *vision.Frame) bool { return true }),
		classifyFunc(func(context.Context, *vision.Frame) (string, error) {
			return "", errors.New("503 service unavailable")
		}),
		classifier.NewRetryPolicy(0), Options{}, newLogger())
	defer o.Close()

	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-o.Events():
			if evt.Kind == EventStatusChanged && strings.HasPrefix(evt.Status, "error:") {
				if !strings.Contains(evt.Status, "server error") {
					t.Fatalf("expected classified server error, got %q", evt.Status)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for error status")
		}
	}
}

func TestFrameOwnership(t *testing.T) {
	blocking := newBlockingClassifier("HELLO")
	var seen *vision.Frame
	var mu sync.Mutex

	o := New(gateFunc(func(context.Context, *vision.Frame) bool { return true }),
		classifyFunc(func(ctx context.Context, frame *vision.Frame) (string, error) {
			mu.Lock()
			seen = frame
			mu.Unlock()
			return blocking.Classify(ctx, frame)
		}),
		classifier.NewRetryPolicy(0), Options{}, newLogger())
	defer o.Close()

	frame := litFrame()
	if err := o.SubmitFrame(context.Background(), frame); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-blocking.started

	// Caller reuses the buffer while the call is in flight.
	frame.Pix[0] = 0x00

	mu.Lock()
	if seen == frame {
		mu.Unlock()
		t.Fatal("dispatch must operate on a clone, not the caller's frame")
	}
	if seen.Pix[0] != 0xFF {
		mu.Unlock()
		t.Fatal("clone shares the caller's pixel buffer")
	}
	mu.Unlock()

	close(blocking.release)
	waitSettled(t, o)
}

func TestCloseRefusesFrames(t *testing.T) {
	o := New(gateFunc(func(context.Context, *vision.Frame) bool { return true }),
		classifyFunc(func(context.Context, *vision.Frame) (string, error) { return "HELLO", nil }),
		classifier.NewRetryPolicy(0), Options{}, newLogger())

	o.Close()
	if err := o.SubmitFrame(context.Background(), litFrame()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	// The event channel closes so consumers can range over it.
	for range o.Events() {
	}
}

func TestCloseCancelsInFlight(t *testing.T) {
	blocking := newBlockingClassifier("HELLO")
	o := New(gateFunc(func(context.Context, *vision.Frame) bool { return true }),
		blocking, classifier.NewRetryPolicy(0), Options{}, newLogger())

	if err := o.SubmitFrame(context.Background(), litFrame()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-blocking.started

	done := make(chan struct{})
	go func() {
		o.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return while a call was in flight")
	}
}
