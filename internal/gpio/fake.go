package gpio

import (
	"time"

	"github.com/sweeney/course-board/internal/input"
)

// FakeSource drives a Source's edge path with a scripted clock, for tests
// that need debounced GPIO input without hardware.
type FakeSource struct {
	*Source
	clock time.Time
}

// NewFakeSource creates a started FakeSource whose clock begins at start.
func NewFakeSource(cfg Config, handler input.Handler, start time.Time) *FakeSource {
	f := &FakeSource{Source: New(cfg, handler), clock: start}
	f.Source.now = func() time.Time { return f.clock }
	f.Source.running = true
	f.Source.active = true
	return f
}

// Advance moves the fake clock forward.
func (f *FakeSource) Advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

// Press delivers a pressed edge on pin at the current fake time.
func (f *FakeSource) Press(pin int) {
	f.handleEdge(pin, true)
}

// Release delivers a released edge on pin at the current fake time.
func (f *FakeSource) Release(pin int) {
	f.handleEdge(pin, false)
}
