package input

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Source observes one physical channel and emits raw edges to the handler
// it was constructed with.
type Source interface {
	// Start begins emitting. Calling Start on a running source is a no-op.
	Start() error
	// Stop ceases emitting and releases owned handles within a bounded time.
	// Calling Stop more than once is a no-op.
	Stop() error
	// Info describes the backend for the state payload.
	Info() BackendInfo
}

// BackendInfo is the backend description included in the state payload.
type BackendInfo struct {
	Backend      string      `json:"backend"`
	Type         string      `json:"type,omitempty"`
	Active       bool        `json:"active"`
	CoursePins   []Pin       `json:"course_pins"`
	ClearPin     Pin         `json:"clear_pin"`
	SerialPort   string      `json:"serial_port,omitempty"`
	BaudRate     int         `json:"baud_rate,omitempty"`
	InputMapping map[int]Pin `json:"input_mapping,omitempty"`
}

// Disabled is a source that never emits.
type Disabled struct {
	Backend string

	mu      sync.Mutex
	started bool
}

// Start logs that no hardware is attached.
func (d *Disabled) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		log.Infof("input backend %q: no hardware attached, inputs disabled", d.Backend)
		d.started = true
	}
	return nil
}

// Stop is a no-op.
func (d *Disabled) Stop() error {
	d.mu.Lock()
	d.started = false
	d.mu.Unlock()
	return nil
}

// Info reports the disabled backend.
func (d *Disabled) Info() BackendInfo {
	return BackendInfo{Backend: d.Backend, Type: "disabled"}
}
