// Package orchestrator drives hybrid gesture recognition: a cheap local
// gatekeeper decides when a hand is in view, and only then are frames
// dispatched (paced, capped and retry-wrapped) to the expensive remote
// classifier. Results, presence transitions and progress lines are emitted
// on a single event stream.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gesturelabs/signcast/internal/classifier"
	"github.com/gesturelabs/signcast/internal/vision"
	"github.com/google/uuid"
)

// ErrClosed is returned by SubmitFrame after Close.
var ErrClosed = errors.New("orchestrator closed")

// Policy selects how many classifier calls may be in flight at once.
type Policy string

const (
	// PolicyStreaming allows any number of paced calls in flight.
	PolicyStreaming Policy = "streaming"
	// PolicySingleFlight admits at most one call at a time; Pause cancels it.
	PolicySingleFlight Policy = "single_flight"
)

// Gatekeeper is the local presence check. It must not fail open; see
// detector.Gatekeeper for the fail-closed wrapper.
type Gatekeeper interface {
	Present(ctx context.Context, frame *vision.Frame) bool
}

// Classifier is the remote gesture classifier collaborator.
type Classifier interface {
	Classify(ctx context.Context, frame *vision.Frame) (string, error)
}

// Options tunes the state machine. Zero values fall back to the documented
// defaults.
type Options struct {
	DispatchInterval time.Duration // minimum gap between dispatches, default 500ms
	SessionCap       int           // max requests per presence session, default 20
	Policy           Policy        // default PolicyStreaming
	CancelOnVanish   bool          // cancel in-flight calls when presence vanishes (default: let them drain)
	CallTimeout      time.Duration // per-dispatch deadline, default 30s
	EventBuffer      int           // outbound event channel capacity, default 64
}

func (o Options) withDefaults() Options {
	if o.DispatchInterval <= 0 {
		o.DispatchInterval = 500 * time.Millisecond
	}
	if o.SessionCap <= 0 {
		o.SessionCap = 20
	}
	if o.Policy == "" {
		o.Policy = PolicyStreaming
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 64
	}
	return o
}

// Orchestrator is the hybrid recognition state machine. All per-frame
// decisions, pause/resume and close serialize on one mutex so presence
// transitions and dispatch decisions are atomic with respect to each other.
//
// The orchestrator borrows its collaborators; closing it stops all work but
// leaves releasing the gatekeeper and classifier to the owning scope, which
// may share them across orchestrator instances.
type Orchestrator struct {
	gate     Gatekeeper
	classify Classifier
	retry    classifier.RetryPolicy
	opts     Options
	log      *slog.Logger

	events chan Event

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu          sync.Mutex
	idle        *sync.Cond // signalled whenever inflight shrinks
	present     bool
	window      DispatchWindow
	sessionID   string
	sessionSent int
	seq         uint64
	gen         uint64
	inflight    map[uint64]context.CancelFunc
	paused      bool
	closed      bool
	dropped     uint64

	clock func() time.Time
}

// New builds an Orchestrator around the given collaborators.
func New(gate Gatekeeper, classify Classifier, retry classifier.RetryPolicy, opts Options, log *slog.Logger) *Orchestrator {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		gate:       gate,
		classify:   classify,
		retry:      retry,
		opts:       opts,
		log:        log.With(slog.String("component", "orchestrator")),
		events:     make(chan Event, opts.EventBuffer),
		baseCtx:    ctx,
		baseCancel: cancel,
		inflight:   make(map[uint64]context.CancelFunc),
		window:     NewDispatchWindow(opts.DispatchInterval),
		clock:      time.Now,
	}
	o.idle = sync.NewCond(&o.mu)
	return o
}

// Events returns the outbound event stream. The channel is closed by Close.
// Slow consumers lose events rather than stalling frame intake.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// SubmitFrame runs the per-frame algorithm: gatekeep, track the presence
// transition, then decide whether to dispatch a classifier call. The frame
// may be reused by the caller as soon as SubmitFrame returns; dispatched
// work operates on a clone.
func (o *Orchestrator) SubmitFrame(ctx context.Context, frame *vision.Frame) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}

	present := o.gate.Present(ctx, frame)
	appeared := present && !o.present
	vanished := !present && o.present
	o.present = present
	now := o.clock()

	if appeared {
		o.window.Reset()
		o.sessionSent = 0
		o.sessionID = uuid.NewString()
		o.emitLocked(Event{Kind: EventPresenceChanged, Present: true, SessionID: o.sessionID, Time: now})
	}
	if vanished {
		o.emitLocked(Event{Kind: EventPresenceChanged, Present: false, SessionID: o.sessionID, Time: now})
		if o.opts.CancelOnVanish {
			o.cancelInflightLocked()
		}
	}

	if !present {
		if len(o.inflight) == 0 {
			o.emitLocked(Event{Kind: EventStatusChanged, Status: "idle: no hand in view", Time: now})
		}
		// Draining: in-flight calls settle on their own.
		return nil
	}

	if o.paused {
		o.emitLocked(Event{Kind: EventStatusChanged, Status: "paused", SessionID: o.sessionID, Time: now})
		return nil
	}
	if o.sessionSent >= o.opts.SessionCap {
		o.emitLocked(Event{
			Kind:      EventStatusChanged,
			Status:    fmt.Sprintf("session cap reached (%d requests)", o.opts.SessionCap),
			SessionID: o.sessionID,
			Time:      now,
		})
		return nil
	}
	if o.opts.Policy == PolicySingleFlight && len(o.inflight) > 0 {
		o.emitLocked(Event{Kind: EventStatusChanged, Status: "classification in flight", SessionID: o.sessionID, Time: now})
		return nil
	}
	if !o.window.Allow(now) {
		o.emitLocked(Event{
			Kind:      EventStatusChanged,
			Status:    fmt.Sprintf("waiting %dms before next request", o.window.Remaining(now).Milliseconds()),
			SessionID: o.sessionID,
			Time:      now,
		})
		return nil
	}

	o.dispatchLocked(frame, now)
	return nil
}

// dispatchLocked launches one classifier call. Must be called with o.mu held.
func (o *Orchestrator) dispatchLocked(frame *vision.Frame, now time.Time) {
	o.sessionSent++
	o.window.Record(now)
	o.seq++
	seq := o.seq
	gen := o.gen
	sessionID := o.sessionID

	callCtx, cancel := context.WithCancel(o.baseCtx)
	o.inflight[seq] = cancel
	o.emitPendingLocked(now)

	clone := frame.Clone()
	o.log.Debug("dispatching classification",
		slog.Uint64("seq", seq),
		slog.String("session_id", sessionID),
		slog.Int("pending", len(o.inflight)))

	o.wg.Add(1)
	go o.runDispatch(callCtx, cancel, seq, gen, sessionID, clone)
}

// runDispatch performs one retry-wrapped classifier call. The in-flight slot
// is released on every exit path; events are emitted only when the dispatch
// generation is still current and the call was not cancelled.
func (o *Orchestrator) runDispatch(ctx context.Context, cancel context.CancelFunc, seq, gen uint64, sessionID string, frame *vision.Frame) {
	defer o.wg.Done()
	defer cancel()

	callCtx, timeoutCancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	defer timeoutCancel()

	start := o.clock()
	label, err := o.retry.Do(callCtx, func(ctx context.Context) (string, error) {
		return o.classify.Classify(ctx, frame)
	})

	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.inflight, seq)
	now := o.clock()
	o.emitPendingLocked(now)
	o.idle.Broadcast()

	if gen != o.gen {
		// The context that launched this call has moved on (pause, cancel on
		// vanish, or close). Slot released above; no events.
		return
	}
	if ctx.Err() != nil {
		return
	}

	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		o.emitLocked(Event{Kind: EventStatusChanged, Status: "error: classification timed out", SessionID: sessionID, Time: now})
	case err != nil:
		o.emitLocked(Event{Kind: EventStatusChanged, Status: "error: " + err.Error(), SessionID: sessionID, Time: now})
	case label == "":
		o.emitLocked(Event{Kind: EventStatusChanged, Status: "no gesture recognized", SessionID: sessionID, Time: now})
	default:
		o.log.Info("gesture recognized",
			slog.String("label", label),
			slog.Uint64("seq", seq),
			slog.Duration("latency", now.Sub(start)))
		o.emitLocked(Event{Kind: EventResultReceived, Label: label, Sequence: seq, SessionID: sessionID, Time: now})
	}
}

// Pause suspends dispatching. Under single-flight policy it also cancels the
// in-flight call and waits for its slot to be released before returning, so
// callers can rely on an empty in-flight set.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || o.paused {
		o.paused = true
		return
	}
	o.paused = true

	if o.opts.Policy == PolicySingleFlight {
		o.cancelInflightLocked()
		for len(o.inflight) > 0 {
			o.idle.Wait()
		}
	}
}

// Resume lifts a pause and reopens the dispatch window so the next eligible
// frame dispatches without waiting out a stale interval.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.paused = false
	o.window.Reset()
}

// PendingCount returns the number of classifier calls currently in flight.
func (o *Orchestrator) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight)
}

// Close cancels all in-flight work, waits for it to settle, and closes the
// event stream. SubmitFrame fails with ErrClosed afterward. Collaborators
// are not released here; their owner retires them.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.cancelInflightLocked()
	o.mu.Unlock()

	o.baseCancel()
	o.wg.Wait()
	close(o.events)
}

// cancelInflightLocked bumps the generation and signals cancellation to all
// in-flight calls. Slots are released by the tasks themselves; the new
// generation guarantees they emit nothing on the way out.
func (o *Orchestrator) cancelInflightLocked() {
	o.gen++
	for _, cancel := range o.inflight {
		cancel()
	}
}

func (o *Orchestrator) emitPendingLocked(now time.Time) {
	o.emitLocked(Event{Kind: EventPendingCountChanged, Pending: len(o.inflight), Time: now})
}

// emitLocked pushes an event without ever blocking the frame path. Must be
// called with o.mu held.
func (o *Orchestrator) emitLocked(evt Event) {
	if o.closed {
		return
	}
	select {
	case o.events <- evt:
	default:
		o.dropped++
		if o.dropped%100 == 1 {
			o.log.Warn("event stream backlogged, dropping events", slog.Uint64("dropped", o.dropped))
		}
	}
}
