// Package logic contains the press-state machine for the course board.
// This package has NO I/O (no GPIO, serial, files or sockets) and no locks:
// exactly one goroutine owns a Tracker. Time always comes from the event.
package logic

import (
	"errors"
	"time"

	"github.com/sweeney/course-board/internal/input"
)

// Course is one selectable course, bound to a physical button.
type Course struct {
	CourseID    string    `json:"course_id"`
	Title       string    `json:"title"`
	Room        string    `json:"room"`
	Description string    `json:"description"`
	Overview    string    `json:"overview"`
	ButtonPin   input.Pin `json:"button_gpio_pin"`
	ImagePath   string    `json:"image_path"`
}

// Validate checks that every required text field is set.
func (c Course) Validate() error {
	switch {
	case c.CourseID == "":
		return errors.New("course_id is required")
	case c.Title == "":
		return errors.New("title is required")
	case c.Room == "":
		return errors.New("room is required")
	case c.Description == "":
		return errors.New("description is required")
	case c.Overview == "":
		return errors.New("overview is required")
	case c.ButtonPin < 0:
		return errors.New("button_gpio_pin must not be negative")
	}
	return nil
}

// Courses resolves the course bound to a pin. It is queried on every
// transition and may change between any two of them.
type Courses interface {
	CourseByPin(pin input.Pin) (Course, bool)
}

// Action tags an audit record.
type Action string

const (
	ActionClearDown  Action = "clear_down"
	ActionButtonDown Action = "button_down"
	ActionButtonUp   Action = "button_up"
)

// Record is the audit entry produced by one transition.
type Record struct {
	Time     time.Time
	Pin      input.Pin
	CourseID *string
	Action   Action
	Source   input.SourceKind
}

// Transition is the outcome of applying one event: the audit record to
// append first, then the notifications to broadcast, in order.
type Transition struct {
	Record   Record
	Messages []Message
}

// EventCounts tracks recognized transitions since startup.
type EventCounts struct {
	ButtonDown     int
	ButtonUp       int
	Clear          int
	CourseSelected int
}
