package logic

import (
	"sort"
	"time"

	"github.com/sweeney/course-board/internal/input"
)

// Tracker owns the pressed set and the course history. It assumes every
// event is already debounced and physically meaningful.
type Tracker struct {
	clearPin input.Pin
	courses  Courses
	pressed  map[input.Pin]struct{}
	history  []string
	counts   EventCounts
}

// NewTracker creates a Tracker with nothing pressed and an empty history.
func NewTracker(clearPin input.Pin, courses Courses) *Tracker {
	return &Tracker{
		clearPin: clearPin,
		courses:  courses,
		pressed:  make(map[input.Pin]struct{}),
	}
}

// Apply runs one event through the state machine. The second result is
// false for an event of unknown kind, which changes nothing.
func (t *Tracker) Apply(ev input.Event) (Transition, bool) {
	switch ev.Kind {
	case input.Down:
		return t.down(ev), true
	case input.Up:
		return t.up(ev), true
	}
	return Transition{}, false
}

func (t *Tracker) down(ev input.Event) Transition {
	t.pressed[ev.Pin] = struct{}{}
	t.counts.ButtonDown++

	rec := Record{Time: ev.Time, Pin: ev.Pin, Action: ActionButtonDown, Source: ev.Source}
	var msgs []Message

	if ev.Pin == t.clearPin {
		rec.Action = ActionClearDown
		t.history = nil
		t.counts.Clear++
		msgs = append(msgs, NewHistoryCleared())
	} else if course, ok := t.courses.CourseByPin(ev.Pin); ok {
		id := course.CourseID
		rec.CourseID = &id
		t.history = append(t.history, course.CourseID)
		t.counts.CourseSelected++
		msgs = append(msgs, NewCourseAdded(course))
	}

	msgs = append(msgs, NewPressedUpdate(t.Pressed()))
	return Transition{Record: rec, Messages: msgs}
}

func (t *Tracker) up(ev input.Event) Transition {
	delete(t.pressed, ev.Pin)
	t.counts.ButtonUp++
	return Transition{
		Record:   Record{Time: ev.Time, Pin: ev.Pin, Action: ActionButtonUp, Source: ev.Source},
		Messages: []Message{NewPressedUpdate(t.Pressed())},
	}
}

// Clear empties the history as a clear-pin press would, without touching
// the pressed set: no physical button went down, so none will come up.
func (t *Tracker) Clear(now time.Time) Transition {
	t.history = nil
	t.counts.Clear++
	return Transition{
		Record:   Record{Time: now, Pin: t.clearPin, Action: ActionClearDown, Source: input.SourceSimulated},
		Messages: []Message{NewHistoryCleared()},
	}
}

// Pressed returns the held pins in ascending order.
func (t *Tracker) Pressed() []input.Pin {
	pins := make([]input.Pin, 0, len(t.pressed))
	for p := range t.pressed {
		pins = append(pins, p)
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i] < pins[j] })
	return pins
}

// IsPressed reports whether pin is held.
func (t *Tracker) IsPressed(pin input.Pin) bool {
	_, ok := t.pressed[pin]
	return ok
}

// History returns a copy of the course IDs selected since the last clear.
func (t *Tracker) History() []string {
	return append([]string{}, t.history...)
}

// ClearPin returns the clear pin.
func (t *Tracker) ClearPin() input.Pin {
	return t.clearPin
}

// Counts returns the transition counts since startup.
func (t *Tracker) Counts() EventCounts {
	return t.counts
}
