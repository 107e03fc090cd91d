package serial

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/course-board/internal/input"
)

// pipePort is an in-memory Port fed by the test.
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{r: r, w: w}
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *pipePort) Close() error {
	p.w.Close()
	return p.r.Close()
}

func (p *pipePort) send(t *testing.T, s string) {
	t.Helper()
	if _, err := p.w.Write([]byte(s)); err != nil {
		t.Fatalf("write to port: %v", err)
	}
}

type recorder struct {
	mu     sync.Mutex
	events []input.RawEvent
	signal chan struct{}
}

func newRecorder() *recorder {
	return &recorder{signal: make(chan struct{}, 100)}
}

func (r *recorder) handle(ev input.RawEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *recorder) waitFor(t *testing.T, n int) []input.RawEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		if len(r.events) >= n {
			out := append([]input.RawEvent(nil), r.events...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		select {
		case <-r.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events", n)
		}
	}
}

func TestSourceEmitsDecodedLines(t *testing.T) {
	port := newPipePort()
	rec := newRecorder()
	s := New(Config{
		Open: func(string, int) (Port, error) { return port, nil },
	}, rec.handle)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	port.send(t, "BTN:2:DOWN\n")
	port.send(t, "garbage\nSTATE:01")
	port.send(t, "10000000\r\nBTN:2:UP\n")

	// Input 2 is already down when the mask arrives, so the mask adds only input 1.
	got := rec.waitFor(t, 3)
	want := []struct {
		input int
		kind  input.Kind
	}{
		{2, input.Down},
		{1, input.Down},
		{2, input.Up},
	}
	for i, w := range want {
		if got[i].Input != w.input || got[i].Kind != w.kind {
			t.Errorf("event %d: got %d/%s, want %d/%s", i, got[i].Input, got[i].Kind, w.input, w.kind)
		}
	}
}

func TestSourceStopIsBoundedAndIdempotent(t *testing.T) {
	port := newPipePort()
	s := New(Config{
		Open: func(string, int) (Port, error) { return port, nil },
	}, func(input.RawEvent) {})

	s.Start()
	s.Start()

	start := time.Now()
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > stopTimeout {
		t.Errorf("stop took %v", elapsed)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestSourceRetriesAfterOpenFailure(t *testing.T) {
	port := newPipePort()
	rec := newRecorder()

	var mu sync.Mutex
	attempts := 0
	s := New(Config{
		Open: func(string, int) (Port, error) {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts == 1 {
				return nil, errors.New("no such device")
			}
			return port, nil
		},
	}, rec.handle)
	s.backoff = 10 * time.Millisecond

	s.Start()
	defer s.Stop()

	port.send(t, "BTN:4:UP\n")
	got := rec.waitFor(t, 1)
	if got[0].Input != 4 || got[0].Kind != input.Up {
		t.Errorf("got %+v, want up on 4", got[0])
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Errorf("open attempts: got %d, want 2", attempts)
	}
}

func TestSourceReopensAfterReadError(t *testing.T) {
	first := newPipePort()
	second := newPipePort()
	rec := newRecorder()

	var mu sync.Mutex
	ports := []*pipePort{first, second}
	s := New(Config{
		Open: func(string, int) (Port, error) {
			mu.Lock()
			defer mu.Unlock()
			if len(ports) == 0 {
				return nil, errors.New("exhausted")
			}
			p := ports[0]
			ports = ports[1:]
			return p, nil
		},
	}, rec.handle)
	s.backoff = 10 * time.Millisecond

	s.Start()
	defer s.Stop()

	first.send(t, "BTN:0:DOWN\n")
	rec.waitFor(t, 1)
	first.w.CloseWithError(errors.New("cable pulled"))

	second.send(t, "BTN:0:UP\n")
	got := rec.waitFor(t, 2)
	if got[1].Input != 0 || got[1].Kind != input.Up {
		t.Errorf("event after reconnect: got %+v, want up on 0", got[1])
	}
}

func TestNewRaisesBackoffToMinimum(t *testing.T) {
	s := New(Config{Backoff: 10 * time.Millisecond}, func(input.RawEvent) {})
	if s.backoff != time.Second {
		t.Errorf("backoff: got %v, want 1s", s.backoff)
	}
}
