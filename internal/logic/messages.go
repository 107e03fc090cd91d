package logic

import "github.com/sweeney/course-board/internal/input"

// Message is a notification pushed to live subscribers. Every message
// marshals to a JSON object with a "type" field.
type Message interface {
	MessageType() string
}

// Message types.
const (
	TypeHello          = "hello"
	TypeState          = "state"
	TypePressedUpdate  = "pressed_update"
	TypeCourseAdded    = "course_added"
	TypeCoursesUpdated = "courses_updated"
	TypeHistoryCleared = "history_cleared"
)

// HelloMessage greets a websocket client before the state snapshot.
type HelloMessage struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

func NewHello(title string) HelloMessage { return HelloMessage{Type: TypeHello, Title: title} }

func (HelloMessage) MessageType() string { return TypeHello }

// StateMessage is the full snapshot a subscriber receives on joining.
type StateMessage struct {
	Type             string            `json:"type"`
	PressedPins      []input.Pin       `json:"pressed_pins"`
	HistoryCourseIDs []string          `json:"history_course_ids"`
	Courses          []Course          `json:"courses"`
	ClearPin         input.Pin         `json:"clear_pin"`
	Backend          input.BackendInfo `json:"backend"`
}

// NewState builds a state message. Nil slices are replaced with empty ones
// so they marshal as [] rather than null.
func NewState(pressed []input.Pin, history []string, courses []Course, clearPin input.Pin, backend input.BackendInfo) StateMessage {
	if pressed == nil {
		pressed = []input.Pin{}
	}
	if history == nil {
		history = []string{}
	}
	if courses == nil {
		courses = []Course{}
	}
	if backend.CoursePins == nil {
		backend.CoursePins = []input.Pin{}
	}
	return StateMessage{
		Type:             TypeState,
		PressedPins:      pressed,
		HistoryCourseIDs: history,
		Courses:          courses,
		ClearPin:         clearPin,
		Backend:          backend,
	}
}

func (StateMessage) MessageType() string { return TypeState }

// PressedUpdateMessage carries the full pressed set after a change.
type PressedUpdateMessage struct {
	Type        string      `json:"type"`
	PressedPins []input.Pin `json:"pressed_pins"`
}

func NewPressedUpdate(pressed []input.Pin) PressedUpdateMessage {
	if pressed == nil {
		pressed = []input.Pin{}
	}
	return PressedUpdateMessage{Type: TypePressedUpdate, PressedPins: pressed}
}

func (PressedUpdateMessage) MessageType() string { return TypePressedUpdate }

// CourseAddedMessage announces a course appended to the history.
type CourseAddedMessage struct {
	Type   string `json:"type"`
	Course Course `json:"course"`
}

func NewCourseAdded(c Course) CourseAddedMessage {
	return CourseAddedMessage{Type: TypeCourseAdded, Course: c}
}

func (CourseAddedMessage) MessageType() string { return TypeCourseAdded }

// CoursesUpdatedMessage tells clients to refetch the course list.
type CoursesUpdatedMessage struct {
	Type string `json:"type"`
}

func NewCoursesUpdated() CoursesUpdatedMessage {
	return CoursesUpdatedMessage{Type: TypeCoursesUpdated}
}

func (CoursesUpdatedMessage) MessageType() string { return TypeCoursesUpdated }

// HistoryClearedMessage announces an empty history.
type HistoryClearedMessage struct {
	Type string `json:"type"`
}

func NewHistoryCleared() HistoryClearedMessage {
	return HistoryClearedMessage{Type: TypeHistoryCleared}
}

func (HistoryClearedMessage) MessageType() string { return TypeHistoryCleared }
