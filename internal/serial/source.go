package serial

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/course-board/internal/input"
)

const (
	// DefaultPort is where an Arduino usually appears on a Raspberry Pi.
	DefaultPort = "/dev/ttyACM0"
	// DefaultBaud matches the stock firmware.
	DefaultBaud = 9600

	minBackoff  = time.Second
	stopTimeout = 2 * time.Second
	maxLineLen  = 256
)

// Config configures a serial source.
type Config struct {
	Port       string
	Baud       int
	InputCount int
	// Backoff is the wait after an I/O failure. Values below one second are raised.
	Backoff time.Duration
	// Mapping is reported in Info; translation itself happens in the normalizer.
	Mapping input.Mapping
	// Open defaults to OpenPort.
	Open OpenFunc
}

// Source reads lines from a serial port on a dedicated goroutine and emits
// an edge for each decoded change.
type Source struct {
	cfg     Config
	handler input.Handler
	decoder *Decoder
	backoff time.Duration
	now     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	port   Port
}

// New creates a serial source. The port is not opened until Start.
func New(cfg Config, handler input.Handler) *Source {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.Open == nil {
		cfg.Open = OpenPort
	}
	backoff := cfg.Backoff
	if backoff < minBackoff {
		backoff = minBackoff
	}
	return &Source{
		cfg:     cfg,
		handler: handler,
		decoder: NewDecoder(cfg.InputCount),
		backoff: backoff,
		now:     time.Now,
	}
}

// Start launches the read loop.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	log.Infof("serial listener started: port=%s baud=%d", s.cfg.Port, s.cfg.Baud)
	return nil
}

// Stop ends the read loop and closes the port. It waits at most two seconds
// for the loop to exit.
func (s *Source) Stop() error {
	s.mu.Lock()
	cancel, done, port := s.cancel, s.done, s.port
	if cancel == nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel = nil
	cancel()
	s.mu.Unlock()

	if port != nil {
		// Unblocks a Read in progress.
		port.Close()
	}

	select {
	case <-done:
		log.Info("serial listener stopped")
		return nil
	case <-time.After(stopTimeout):
		return fmt.Errorf("serial: read loop did not exit within %v", stopTimeout)
	}
}

// Info reports the serial backend.
func (s *Source) Info() input.BackendInfo {
	s.mu.Lock()
	active := s.port != nil
	s.mu.Unlock()
	return input.BackendInfo{
		Backend:      "serial",
		Type:         "arduino",
		Active:       active,
		SerialPort:   s.cfg.Port,
		BaudRate:     s.cfg.Baud,
		InputMapping: s.cfg.Mapping,
	}
}

func (s *Source) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		port, err := s.cfg.Open(s.cfg.Port, s.cfg.Baud)
		if err != nil {
			log.Warnf("serial: %v; retrying in %v", err, s.backoff)
			if !sleep(ctx, s.backoff) {
				return
			}
			continue
		}

		if !s.setPort(ctx, port) {
			port.Close()
			return
		}
		err = s.readLines(ctx, port)
		s.setPort(ctx, nil)
		port.Close()

		if ctx.Err() != nil {
			return
		}
		log.Warnf("serial read error: %v; reopening in %v", err, s.backoff)
		if !sleep(ctx, s.backoff) {
			return
		}
	}
}

// setPort publishes the open port so Stop can close it. It refuses once
// ctx is cancelled; Stop cancels under the same lock.
func (s *Source) setPort(ctx context.Context, p Port) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p != nil && ctx.Err() != nil {
		return false
	}
	s.port = p
	return true
}

// readLines splits the byte stream into lines until the port fails or ctx ends.
// A Read that times out returns no bytes and no error.
func (s *Source) readLines(ctx context.Context, port Port) error {
	buf := make([]byte, 128)
	line := make([]byte, 0, maxLineLen)
	overflow := false

	for {
		n, err := port.Read(buf)
		if ctx.Err() != nil {
			return nil
		}
		for _, b := range buf[:n] {
			if b == '\n' {
				if overflow {
					log.Warnf("serial: dropped line longer than %d bytes", maxLineLen)
				} else {
					s.handleLine(string(line))
				}
				line = line[:0]
				overflow = false
				continue
			}
			if len(line) >= maxLineLen {
				overflow = true
				continue
			}
			line = append(line, b)
		}
		if err != nil {
			return err
		}
	}
}

func (s *Source) handleLine(line string) {
	changes, err := s.decoder.Decode(line)
	if err != nil {
		log.Warnf("serial: %v", err)
		return
	}
	now := s.now()
	for _, c := range changes {
		kind := input.Up
		if c.Down {
			kind = input.Down
		}
		s.handler(input.RawEvent{Input: c.Index, Kind: kind, Time: now})
	}
}

// sleep waits for d or until ctx ends. It reports whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
