package core

import (
	"sync"

	"github.com/quantfold/paperbot/types"
)

// alertCapacity bounds the in-memory alert log. On overflow the oldest entry
// is dropped.
const alertCapacity = 100

// AlertLog is a bounded, append-only ring of engine alerts. It backs the
// status API; delivery to notifiers goes through the engine's event queue.
type AlertLog struct {
	mu      sync.Mutex
	entries []types.Alert
	start   int
	count   int
}

// NewAlertLog creates an empty alert log.
func NewAlertLog() *AlertLog {
	return &AlertLog{entries: make([]types.Alert, alertCapacity)}
}

// Append adds an alert, evicting the oldest entry when full.
func (l *AlertLog) Append(a types.Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := (l.start + l.count) % alertCapacity
	l.entries[idx] = a
	if l.count < alertCapacity {
		l.count++
		return
	}
	l.start = (l.start + 1) % alertCapacity
}

// Recent returns up to n alerts in chronological order, oldest first.
func (l *AlertLog) Recent(n int) []types.Alert {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > l.count {
		n = l.count
	}
	out := make([]types.Alert, 0, n)
	for i := l.count - n; i < l.count; i++ {
		out = append(out, l.entries[(l.start+i)%alertCapacity])
	}
	return out
}

// Len returns the number of retained alerts.
func (l *AlertLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
