// Package keyboard simulates button presses from terminal keystrokes, for
// development without hardware attached.
package keyboard

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/sweeney/course-board/internal/input"
)

// DefaultPressDuration is the gap between the synthesized press and release.
const DefaultPressDuration = 50 * time.Millisecond

const (
	stopTimeout = 2 * time.Second
	ctrlC       = 0x03
)

// Config configures a keyboard source.
type Config struct {
	// In defaults to os.Stdin. A terminal is switched to raw mode while running.
	In            io.Reader
	PressDuration time.Duration
	// Interrupt is called on Ctrl-C, which raw mode no longer turns into SIGINT.
	Interrupt func()
	// Mapping is reported in Info; translation itself happens in the normalizer.
	Mapping input.Mapping
}

// Source reads single keystrokes and emits a press followed by a release
// for each one.
type Source struct {
	cfg     Config
	handler input.Handler

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	restore func()
}

// New creates a keyboard source.
func New(cfg Config, handler input.Handler) *Source {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.PressDuration <= 0 {
		cfg.PressDuration = DefaultPressDuration
	}
	return &Source{cfg: cfg, handler: handler}
}

// Start switches the terminal to raw mode (if it is one) and begins reading.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}

	if f, ok := s.cfg.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		old, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("keyboard: raw mode: %w", err)
		}
		s.restore = func() { term.Restore(fd, old) }
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	keys := make(chan rune)
	go readKeys(s.cfg.In, keys, s.stop)
	go s.run(keys, s.stop, s.done)

	log.Info("keyboard simulation enabled: press mapped keys to simulate buttons (Ctrl+C to quit)")
	return nil
}

// Stop ends emission and restores the terminal. A read already blocked on
// the terminal is abandoned; its keystroke, if any, is discarded.
func (s *Source) Stop() error {
	s.mu.Lock()
	stop, done, restore := s.stop, s.done, s.restore
	s.stop, s.restore = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}

	close(stop)
	var err error
	select {
	case <-done:
	case <-time.After(stopTimeout):
		err = fmt.Errorf("keyboard: loop did not exit within %v", stopTimeout)
	}
	if restore != nil {
		restore()
	}
	return err
}

// Info reports the keyboard backend.
func (s *Source) Info() input.BackendInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return input.BackendInfo{
		Backend:      "keyboard",
		Type:         "keyboard",
		Active:       s.stop != nil,
		InputMapping: s.cfg.Mapping,
	}
}

// readKeys decodes whole UTF-8 runes so a multi-byte key is never split
// into bytes that could match other mapped keys. Invalid bytes are dropped.
func readKeys(in io.Reader, keys chan<- rune, stop <-chan struct{}) {
	defer close(keys)
	br := bufio.NewReaderSize(in, 16)
	for {
		r, size, err := br.ReadRune()
		if size > 0 && !(r == utf8.RuneError && size == 1) {
			select {
			case keys <- r:
			case <-stop:
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Warnf("keyboard read: %v", err)
			}
			return
		}
	}
}

func (s *Source) run(keys <-chan rune, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case r, ok := <-keys:
			if !ok {
				return
			}
			if r == ctrlC {
				if s.cfg.Interrupt != nil {
					s.cfg.Interrupt()
				}
				continue
			}
			s.press(int(unicode.ToLower(r)), stop)
		}
	}
}

// press emits a down edge, waits, then emits the matching up edge. The
// release is still emitted if Stop arrives during the wait.
func (s *Source) press(key int, stop <-chan struct{}) {
	s.handler(input.RawEvent{Input: key, Kind: input.Down, Time: time.Now()})

	t := time.NewTimer(s.cfg.PressDuration)
	select {
	case <-t.C:
	case <-stop:
		t.Stop()
	}

	s.handler(input.RawEvent{Input: key, Kind: input.Up, Time: time.Now()})
}
