// Package gpio provides the interrupt-driven GPIO button source.
// The real implementation uses the Linux GPIO character device.
// On other platforms, or when the chip is absent, the source is inert.
package gpio

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/course-board/internal/input"
)

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// DefaultDebounce is the minimum spacing between two accepted presses on one pin.
const DefaultDebounce = 50 * time.Millisecond

// Pull selects the line bias.
type Pull string

const (
	PullUp   Pull = "up"
	PullDown Pull = "down"
	PullNone Pull = "none"
)

// ParsePull validates a pull mode string. Empty means PullUp.
func ParsePull(s string) (Pull, error) {
	switch Pull(s) {
	case "", PullUp:
		return PullUp, nil
	case PullDown:
		return PullDown, nil
	case PullNone:
		return PullNone, nil
	}
	return "", fmt.Errorf("unknown pull mode %q", s)
}

// Config configures a GPIO source.
type Config struct {
	Chip     string
	Pins     []input.Pin
	Pull     Pull
	Debounce time.Duration
}

// Debouncer suppresses contact bounce on press edges. It remembers the last
// accepted press per pin; release edges are never debounced.
// Not safe for concurrent use; the source serializes calls.
type Debouncer struct {
	window   time.Duration
	lastDown map[int]time.Time
}

// NewDebouncer creates a Debouncer with the given window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window, lastDown: make(map[int]time.Time)}
}

// AcceptDown reports whether a press at now should be emitted. Accepted
// presses restart the window for that pin; rejected ones do not.
func (d *Debouncer) AcceptDown(pin int, now time.Time) bool {
	if last, ok := d.lastDown[pin]; ok && now.Sub(last) < d.window {
		return false
	}
	d.lastDown[pin] = now
	return true
}

// Source emits debounced edges for the configured pins.
type Source struct {
	cfg     Config
	handler input.Handler
	now     func() time.Time

	mu        sync.Mutex
	debouncer *Debouncer
	running   bool
	active    bool
	hw        lineCloser
}

type lineCloser interface {
	Close() error
}

// New creates a GPIO source. Nothing touches the hardware until Start.
func New(cfg Config, handler input.Handler) *Source {
	if cfg.Chip == "" {
		cfg.Chip = DefaultChip
	}
	if cfg.Pull == "" {
		cfg.Pull = PullUp
	}
	return &Source{
		cfg:       cfg,
		handler:   handler,
		now:       time.Now,
		debouncer: NewDebouncer(cfg.Debounce),
	}
}

// Start requests the lines and begins emitting. If the platform has no GPIO
// chip, Start logs once and returns nil; the source then emits nothing.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true

	if err := CheckChip(s.cfg.Chip); err != nil {
		log.WithField("chip", s.cfg.Chip).Infof("gpio inactive: %v", err)
		return nil
	}
	hw, err := s.open()
	if err != nil {
		s.running = false
		return fmt.Errorf("gpio: %w", err)
	}
	s.hw = hw
	s.active = true
	log.Infof("gpio ready: chip=%s pins=%v pull=%s debounce=%v", s.cfg.Chip, s.cfg.Pins, s.cfg.Pull, s.cfg.Debounce)
	return nil
}

// Stop releases the lines. The edge handler is not called after Stop returns.
func (s *Source) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.active = false
	hw := s.hw
	s.hw = nil
	s.mu.Unlock()

	// Closing waits for the watcher goroutine, which may be blocked on s.mu.
	if hw == nil {
		return nil
	}
	return hw.Close()
}

// Info reports the GPIO backend.
func (s *Source) Info() input.BackendInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return input.BackendInfo{Backend: "gpio", Type: "gpio", Active: s.active}
}

// handleEdge applies debouncing and forwards the edge. It is called from the
// line watcher goroutine, one edge at a time.
func (s *Source) handleEdge(pin int, pressed bool) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	now := s.now()
	if pressed && !s.debouncer.AcceptDown(pin, now) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	kind := input.Up
	if pressed {
		kind = input.Down
	}
	s.handler(input.RawEvent{Input: pin, Kind: kind, Time: now})
}
