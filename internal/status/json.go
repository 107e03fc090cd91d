package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/course-board/internal/input"
)

// Report is the document served at /index.json and published as the body
// of STARTUP, SHUTDOWN and HEARTBEAT events.
type Report struct {
	Status ReportBody `json:"status"`
}

// ReportBody carries Event and Reason only when published as a lifecycle event.
type ReportBody struct {
	Event         string            `json:"event,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	PressedPins   []input.Pin       `json:"pressed_pins"`
	HistoryLength int               `json:"history_length"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	StartTime     string            `json:"start_time"`
	Timestamp     string            `json:"timestamp"`
	Backend       input.BackendInfo `json:"backend"`
	MQTT          BrokerReport      `json:"mqtt"`
	Counts        CountsReport      `json:"event_counts"`
	Config        SettingsReport    `json:"config"`
}

type BrokerReport struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

type CountsReport struct {
	ButtonDown     int `json:"button_down"`
	ButtonUp       int `json:"button_up"`
	Clear          int `json:"clear"`
	CourseSelected int `json:"course_selected"`
}

type SettingsReport struct {
	Backend      string `json:"backend"`
	DebounceMs   int64  `json:"debounce_ms"`
	AuditBackend string `json:"audit_backend"`
	Broker       string `json:"broker,omitempty"`
	Topic        string `json:"topic,omitempty"`
	HTTPAddr     string `json:"http_addr"`
}

func newReport(snap Snapshot) Report {
	body := ReportBody{
		PressedPins:   snap.Pressed,
		HistoryLength: len(snap.History),
		UptimeSeconds: int64(snap.Uptime() / time.Second),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Backend:       snap.Backend,
		MQTT:          BrokerReport{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts:        CountsReport(snap.Counts),
		Config:        SettingsReport(snap.Config),
	}
	// Empty lists render as [] rather than null.
	if body.PressedPins == nil {
		body.PressedPins = []input.Pin{}
	}
	if body.Backend.CoursePins == nil {
		body.Backend.CoursePins = []input.Pin{}
	}
	return Report{Status: body}
}

// FormatJSON renders snap for /index.json.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(newReport(snap), "", "  ")
	return data
}

// FormatStatusEvent renders snap as a lifecycle event body.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	r := newReport(snap)
	r.Status.Event = event
	r.Status.Reason = reason
	data, _ := json.Marshal(r)
	return data
}
