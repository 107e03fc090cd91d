// Package mqtt mirrors board notifications to an MQTT broker, with an
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/course-board/internal/logic"
)

// DefaultTopic is the topic prefix when none is configured.
const DefaultTopic = "courseboard"

// EventsTopic returns the topic board notifications are published to.
func EventsTopic(prefix string) string { return prefix + "/events" }

// SystemTopic returns the topic for system lifecycle events.
func SystemTopic(prefix string) string { return prefix + "/system" }

// Publisher mirrors board notifications and lifecycle events to a broker.
// Publish failures are returned for logging only; callers keep running.
type Publisher interface {
	Publish(msg logic.Message, at time.Time) error
	PublishSystem(event SystemEvent) error
	Close() error
}

// ConnectionStatus is implemented by publishers that track a live session.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a STARTUP, SHUTDOWN, HEARTBEAT or OFFLINE notice sent to
// the system topic. Reason names the signal on shutdown. When RawPayload is
// set it is sent as-is in place of the generated lifecycle payload.
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string
	RawPayload []byte
	Retained   bool
}

// Payload is the envelope for messages on the events topic.
type Payload struct {
	Board BoardPayload `json:"board"`
}

// BoardPayload wraps one notification with the time it was published.
type BoardPayload struct {
	Timestamp string        `json:"timestamp"`
	Event     string        `json:"event"`
	Message   logic.Message `json:"message"`
}

// FormatPayload encodes msg for the events topic.
func FormatPayload(msg logic.Message, at time.Time) ([]byte, error) {
	return json.Marshal(Payload{Board: BoardPayload{
		Timestamp: at.UTC().Format(time.RFC3339),
		Event:     msg.MessageType(),
		Message:   msg,
	}})
}

// Lifecycle is the envelope for system events without a status body,
// such as the broker-side will.
type Lifecycle struct {
	System LifecycleDetail `json:"system"`
}

type LifecycleDetail struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload encodes event for the system topic.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(Lifecycle{System: LifecycleDetail{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     event.Event,
		Reason:    event.Reason,
	}})
}
