package orchestrator

import "time"

// DispatchWindow paces outbound classifier calls to a fixed minimum
// interval. A zero last-dispatch time means the next call is immediate;
// the window is reset to that state whenever presence newly appears and on
// Resume so a stale interval is never waited out.
type DispatchWindow struct {
	last     time.Time
	interval time.Duration
}

func NewDispatchWindow(interval time.Duration) DispatchWindow {
	return DispatchWindow{interval: interval}
}

// Allow reports whether a new call may be dispatched at now.
func (w *DispatchWindow) Allow(now time.Time) bool {
	if w.last.IsZero() {
		return true
	}
	return now.Sub(w.last) >= w.interval
}

// Remaining returns how long until the window reopens; zero when open.
func (w *DispatchWindow) Remaining(now time.Time) time.Duration {
	if w.last.IsZero() {
		return 0
	}
	remaining := w.interval - now.Sub(w.last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Record marks a dispatch at now.
func (w *DispatchWindow) Record(now time.Time) {
	w.last = now
}

// Reset reopens the window immediately.
func (w *DispatchWindow) Reset() {
	w.last = time.Time{}
}
