// Package input defines the canonical input event model shared by every
// button backend, and the normalizer that maps backend-native identifiers
// onto canonical pins.
package input

import (
	"fmt"
	"time"
)

// Pin identifies one physical course button or the clear button,
// independent of the backend that reported it.
type Pin int

// Kind is the direction of an edge.
type Kind string

const (
	Down Kind = "down"
	Up   Kind = "up"
)

// SourceKind tags which backend produced an event.
type SourceKind string

const (
	SourceGPIO      SourceKind = "gpio"
	SourceSerial    SourceKind = "serial"
	SourceKeyboard  SourceKind = "keyboard"
	SourceSimulated SourceKind = "simulated"
)

// RawEvent is an edge in backend-native terms, before normalization.
// Input is the GPIO line offset, the serial input index or the key rune,
// depending on the backend.
type RawEvent struct {
	Input int
	Kind  Kind
	Time  time.Time
}

// Event is a normalized edge on a canonical pin.
type Event struct {
	Pin    Pin
	Kind   Kind
	Source SourceKind
	Time   time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("pin=%d kind=%s source=%s", e.Pin, e.Kind, e.Source)
}

// Handler receives raw edges from a source. A source never calls its
// handler concurrently with itself.
type Handler func(RawEvent)
