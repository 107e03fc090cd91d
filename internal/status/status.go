// Package status holds the read side of the board state: a copy of the
// pressed set, history and counters that HTTP handlers and system events
// can read without going through the dispatcher.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/course-board/internal/input"
	"github.com/sweeney/course-board/internal/logic"
)

// Config is the subset of settings shown on the status page.
type Config struct {
	Backend      string
	DebounceMs   int64
	AuditBackend string
	Broker       string
	Topic        string
	HTTPAddr     string
}

// Snapshot is a copy of the board state. Slices are copies, so
// a Snapshot is safe to use after the lock is released.
type Snapshot struct {
	Pressed       []input.Pin
	History       []string
	Counts        logic.EventCounts
	Layout        input.Layout
	Backend       input.BackendInfo
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime is Now minus StartTime.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker is the shared status record. All methods are safe for
// concurrent use.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time, config and pin layout.
func NewTracker(startTime time.Time, cfg Config, layout input.Layout) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			Layout:    layout,
		},
	}
}

// Update sets the pressed set, history and counts.
// Called by the dispatcher after every transition.
func (t *Tracker) Update(pressed []input.Pin, history []string, counts logic.EventCounts) {
	pressed = append([]input.Pin(nil), pressed...)
	history = append([]string(nil), history...)
	t.mu.Lock()
	t.snap.Pressed = pressed
	t.snap.History = history
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetBackend records the active input backend.
func (t *Tracker) SetBackend(info input.BackendInfo) {
	t.mu.Lock()
	t.snap.Backend = info
	t.mu.Unlock()
}

// SetMQTTConnected is passed to the publisher as its connection callback.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot copies the current state and stamps Now.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Pressed = append([]input.Pin(nil), s.Pressed...)
	s.History = append([]string(nil), s.History...)
	s.Now = time.Now()
	return s
}
