package engine

import (
	"sync"
	"time"
)

// firingMemo tracks rule firings per flow so the same (rule, subject)
// pair fires at most once in one flow. This is what terminates feedback
// loops where a derived write re-enters the engine through the change
// feed: the second attempt to fire the same rule on the same subject is
// skipped instead of cascading forever.
//
// Distinct from the step quota: the memo catches recursive patterns
// (A fires A again), the quota catches linear explosions through many
// distinct subjects. Together they guarantee termination.
type firingMemo struct {
	mu      sync.Mutex
	history map[string]map[string]bool // flow token -> rule:subject
}

func newFiringMemo() *firingMemo {
	return &firingMemo{history: make(map[string]map[string]bool)}
}

// seen reports whether (kind, subject) already fired in this flow.
func (m *firingMemo) seen(flow string, kind TriggerKind, subject string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.history[flow] == nil {
		return false
	}
	return m.history[flow][string(kind)+":"+subject]
}

// record marks (kind, subject) as fired in this flow. Call immediately
// after a false seen, before firing the rule.
func (m *firingMemo) record(flow string, kind TriggerKind, subject string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.history[flow] == nil {
		m.history[flow] = make(map[string]bool)
	}
	m.history[flow][string(kind)+":"+subject] = true
}

// clear drops all history for a flow. Called when the flow completes,
// successfully or not.
func (m *firingMemo) clear(flow string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.history, flow)
}

// flowSize returns the number of (rule, subject) pairs tracked for a
// flow. Used by tests.
func (m *firingMemo) flowSize(flow string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.history[flow])
}

// suppressionMemo records write signatures the engine has already
// handled on the direct path, so the reactive path does not derive a
// duplicate trigger when the same write arrives through the change feed.
//
// Marks are consumed on match. Unconsumed marks (the feed lagging or a
// watcher not running) expire after ttl so they cannot suppress a later
// genuine event with the same signature.
type suppressionMemo struct {
	mu    sync.Mutex
	marks map[string][]time.Time
	ttl   time.Duration
	now   func() time.Time
}

func newSuppressionMemo(ttl time.Duration, now func() time.Time) *suppressionMemo {
	if now == nil {
		now = time.Now
	}
	return &suppressionMemo{
		marks: make(map[string][]time.Time),
		ttl:   ttl,
		now:   now,
	}
}

// mark records one handled write with the given signature.
func (m *suppressionMemo) mark(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prune(key)
	m.marks[key] = append(m.marks[key], m.now())
}

// consume reports whether an unexpired mark exists for key, removing one
// if so.
func (m *suppressionMemo) consume(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prune(key)
	stamps := m.marks[key]
	if len(stamps) == 0 {
		return false
	}
	if len(stamps) == 1 {
		delete(m.marks, key)
	} else {
		m.marks[key] = stamps[1:]
	}
	return true
}

// prune drops expired marks for key. Caller holds the lock.
func (m *suppressionMemo) prune(key string) {
	cutoff := m.now().Add(-m.ttl)
	stamps := m.marks[key]
	i := 0
	for i < len(stamps) && stamps[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	if i == len(stamps) {
		delete(m.marks, key)
		return
	}
	m.marks[key] = stamps[i:]
}
