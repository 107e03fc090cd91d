package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/course-board/internal/audit"
	"github.com/sweeney/course-board/internal/broadcast"
	"github.com/sweeney/course-board/internal/input"
	"github.com/sweeney/course-board/internal/logic"
	"github.com/sweeney/course-board/internal/status"
)

const (
	pinMath  input.Pin = 17
	pinArt   input.Pin = 27
	pinClear input.Pin = 22
)

type catalog map[input.Pin]logic.Course

func (c catalog) CourseByPin(pin input.Pin) (logic.Course, bool) {
	course, ok := c[pin]
	return course, ok
}

func (c catalog) Courses() []logic.Course {
	out := make([]logic.Course, 0, len(c))
	for _, course := range c {
		out = append(out, course)
	}
	return out
}

func testCatalog() catalog {
	return catalog{
		pinMath: {CourseID: "math", Title: "Maths", ButtonPin: pinMath},
		pinArt:  {CourseID: "art", Title: "Art", ButtonPin: pinArt},
	}
}

type memAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (m *memAudit) Append(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) Recent(_ context.Context, n int) ([]audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry{}, m.entries...), nil
}

func (m *memAudit) Close() error { return nil }

func (m *memAudit) snapshot() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry{}, m.entries...)
}

type chanSink struct {
	msgs chan logic.Message
}

func newChanSink() *chanSink { return &chanSink{msgs: make(chan logic.Message, 64)} }

func (s *chanSink) Send(m logic.Message) error {
	s.msgs <- m
	return nil
}

func (s *chanSink) Close() error { return nil }

func (s *chanSink) next(t *testing.T) logic.Message {
	t.Helper()
	select {
	case m := <-s.msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

type harness struct {
	d      *Dispatcher
	audit  *memAudit
	fanout *broadcast.Fanout
	status *status.Tracker
	cancel context.CancelFunc
	runErr chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		audit:  &memAudit{},
		fanout: broadcast.New(16),
		status: status.NewTracker(time.Now(), status.Config{}, input.Layout{CoursePins: []input.Pin{pinMath, pinArt}, ClearPin: pinClear}),
		runErr: make(chan error, 1),
	}
	h.d = New(Config{
		ClearPin: pinClear,
		Catalog:  testCatalog(),
		Audit:    h.audit,
		Fanout:   h.fanout,
		Status:   h.status,
	})
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- h.d.Run(ctx) }()
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	h.fanout.Close()
}

var t0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func ev(pin input.Pin, kind input.Kind, offset time.Duration) input.Event {
	return input.Event{Pin: pin, Kind: kind, Source: input.SourceGPIO, Time: t0.Add(offset)}
}

// sync waits until every event submitted so far has been applied.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	_, err := h.d.State(context.Background())
	require.NoError(t, err)
}

func TestAuditOrderingDownUp(t *testing.T) {
	h := newHarness(t)
	h.start()

	h.d.Submit(ev(pinMath, input.Down, 0))
	h.d.Submit(ev(pinMath, input.Up, 100*time.Millisecond))
	h.stop(t)

	entries := h.audit.snapshot()
	require.Len(t, entries, 2)

	assert.Equal(t, logic.ActionButtonDown, entries[0].Action)
	require.NotNil(t, entries[0].CourseID)
	assert.Equal(t, "math", *entries[0].CourseID)
	assert.Equal(t, pinMath, entries[0].Pin)
	assert.Equal(t, input.SourceGPIO, entries[0].Source)

	assert.Equal(t, logic.ActionButtonUp, entries[1].Action)
	assert.Nil(t, entries[1].CourseID)
	assert.True(t, entries[0].Timestamp.Before(entries[1].Timestamp))
}

func TestSubscribeAfterPressesGetsStateFirst(t *testing.T) {
	h := newHarness(t)
	h.start()
	defer h.stop(t)

	h.d.Submit(ev(pinMath, input.Down, 0))
	h.d.Submit(ev(pinMath, input.Up, time.Second))
	h.d.Submit(ev(pinArt, input.Down, 2*time.Second))

	sink := newChanSink()
	_, err := h.d.Subscribe(context.Background(), sink, logic.NewHello("board"))
	require.NoError(t, err)

	hello, ok := sink.next(t).(logic.HelloMessage)
	require.True(t, ok, "first message should be hello")
	assert.Equal(t, "board", hello.Title)

	state, ok := sink.next(t).(logic.StateMessage)
	require.True(t, ok, "second message should be state")
	assert.Equal(t, []input.Pin{pinArt}, state.PressedPins)
	assert.Equal(t, []string{"math", "art"}, state.HistoryCourseIDs)
	assert.Equal(t, pinClear, state.ClearPin)
	assert.Len(t, state.Courses, 2)

	h.d.Submit(ev(pinArt, input.Up, 3*time.Second))
	upd, ok := sink.next(t).(logic.PressedUpdateMessage)
	require.True(t, ok, "next message should be pressed_update")
	assert.Empty(t, upd.PressedPins)

	select {
	case m := <-sink.msgs:
		t.Fatalf("unexpected extra message %s", m.MessageType())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastOrderForCoursePress(t *testing.T) {
	h := newHarness(t)
	h.start()
	defer h.stop(t)

	sink := newChanSink()
	_, err := h.d.Subscribe(context.Background(), sink)
	require.NoError(t, err)
	_, ok := sink.next(t).(logic.StateMessage)
	require.True(t, ok)

	h.d.Submit(ev(pinMath, input.Down, 0))
	added, ok := sink.next(t).(logic.CourseAddedMessage)
	require.True(t, ok)
	assert.Equal(t, "math", added.Course.CourseID)
	_, ok = sink.next(t).(logic.PressedUpdateMessage)
	require.True(t, ok)

	h.d.Submit(ev(pinClear, input.Down, time.Second))
	_, ok = sink.next(t).(logic.HistoryClearedMessage)
	require.True(t, ok)
	upd, ok := sink.next(t).(logic.PressedUpdateMessage)
	require.True(t, ok)
	assert.Equal(t, []input.Pin{pinMath, pinClear}, upd.PressedPins)
}

func TestRunDrainsQueuedEvents(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 10; i++ {
		kind := input.Down
		if i%2 == 1 {
			kind = input.Up
		}
		h.d.Submit(ev(pinArt, kind, time.Duration(i)*time.Millisecond))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.d.Run(ctx))

	assert.Len(t, h.audit.snapshot(), 10)
	assert.Empty(t, h.status.Snapshot().Pressed)
	assert.Equal(t, 5, h.status.Snapshot().Counts.ButtonDown)

	h.d.Submit(ev(pinArt, input.Down, time.Second))
	assert.Len(t, h.audit.snapshot(), 10, "events after stop are dropped")
}

func TestRunTwiceFails(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.d.Run(ctx))
	assert.Error(t, h.d.Run(ctx))
}

func TestRequestClear(t *testing.T) {
	h := newHarness(t)
	h.start()
	defer h.stop(t)

	h.d.Submit(ev(pinMath, input.Down, 0))
	h.sync(t)

	sink := newChanSink()
	_, err := h.d.Subscribe(context.Background(), sink)
	require.NoError(t, err)
	sink.next(t)

	require.NoError(t, h.d.RequestClear(context.Background()))

	_, ok := sink.next(t).(logic.HistoryClearedMessage)
	require.True(t, ok)

	snap := h.status.Snapshot()
	assert.Empty(t, snap.History)
	assert.Equal(t, []input.Pin{pinMath}, snap.Pressed, "clear must not release held pins")

	entries := h.audit.snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, logic.ActionClearDown, entries[1].Action)
	assert.Equal(t, pinClear, entries[1].Pin)
	assert.Equal(t, input.SourceSimulated, entries[1].Source)
}

func TestCoursesUpdated(t *testing.T) {
	h := newHarness(t)
	h.start()
	defer h.stop(t)

	sink := newChanSink()
	_, err := h.d.Subscribe(context.Background(), sink)
	require.NoError(t, err)
	sink.next(t)

	require.NoError(t, h.d.CoursesUpdated(context.Background()))
	_, ok := sink.next(t).(logic.CoursesUpdatedMessage)
	assert.True(t, ok)
}

func TestAuditFailureDoesNotStopTransition(t *testing.T) {
	h := newHarness(t)
	h.audit.err = errors.New("disk full")
	h.start()
	defer h.stop(t)

	sink := newChanSink()
	_, err := h.d.Subscribe(context.Background(), sink)
	require.NoError(t, err)
	sink.next(t)

	h.d.Submit(ev(pinMath, input.Down, 0))
	_, ok := sink.next(t).(logic.CourseAddedMessage)
	assert.True(t, ok)
	h.sync(t)
	assert.Equal(t, []string{"math"}, h.status.Snapshot().History)
}

func TestRequestsAfterStop(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.stop(t)

	ctx := context.Background()
	assert.ErrorIs(t, h.d.RequestClear(ctx), ErrStopped)
	assert.ErrorIs(t, h.d.CoursesUpdated(ctx), ErrStopped)
	_, err := h.d.Subscribe(ctx, newChanSink())
	assert.ErrorIs(t, err, ErrStopped)
	_, err = h.d.State(ctx)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestRequestHonorsContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.d.RequestClear(ctx), context.Canceled)
}

func TestSetBackend(t *testing.T) {
	h := newHarness(t)
	h.start()
	defer h.stop(t)

	info := input.BackendInfo{Backend: "keyboard", Type: "keyboard", Active: true, CoursePins: []input.Pin{pinMath, pinArt}, ClearPin: pinClear}
	h.d.SetBackend(info)

	state, err := h.d.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, info, state.Backend)
	assert.Equal(t, "keyboard", h.d.Snapshot().Backend.Backend)
}

func TestNilCatalog(t *testing.T) {
	d := New(Config{ClearPin: pinClear})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	d.Submit(ev(pinMath, input.Down, 0))
	state, err := d.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []input.Pin{pinMath}, state.PressedPins)
	assert.Empty(t, state.HistoryCourseIDs)
	assert.Equal(t, status.Snapshot{}, d.Snapshot())

	cancel()
	<-done
}

func TestConcurrentProducersAndClears(t *testing.T) {
	h := newHarness(t)
	h.start()
	defer h.stop(t)

	const (
		pairs   = 200
		clearer = 5
		clears  = 10
	)
	pins := []input.Pin{pinMath, pinArt, 5, 6}

	var wg sync.WaitGroup
	for _, pin := range pins {
		wg.Add(1)
		go func(pin input.Pin) {
			defer wg.Done()
			for i := 0; i < pairs; i++ {
				off := time.Duration(i) * time.Millisecond
				h.d.Submit(ev(pin, input.Down, off))
				h.d.Submit(ev(pin, input.Up, off))
			}
		}(pin)
	}
	for c := 0; c < clearer; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < clears; i++ {
				assert.NoError(t, h.d.RequestClear(context.Background()))
			}
		}()
	}
	wg.Wait()

	state, err := h.d.State(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state.PressedPins)
	assert.Empty(t, h.status.Snapshot().Pressed)

	entries := h.audit.snapshot()
	require.Len(t, entries, len(pins)*pairs*2+clearer*clears)

	last := map[input.Pin]logic.Action{}
	var cleared int
	for i, e := range entries {
		if e.Pin == pinClear {
			assert.Equal(t, logic.ActionClearDown, e.Action)
			cleared++
			continue
		}
		prev, seen := last[e.Pin]
		if !seen {
			assert.Equal(t, logic.ActionButtonDown, e.Action, "pin %d starts with %s", e.Pin, e.Action)
		} else {
			assert.NotEqual(t, prev, e.Action, "entry %d: pin %d repeated %s", i, e.Pin, e.Action)
		}
		last[e.Pin] = e.Action
	}
	assert.Equal(t, clearer*clears, cleared)
	for _, pin := range pins {
		assert.Equal(t, logic.ActionButtonUp, last[pin], "pin %d", pin)
	}

	counts := h.status.Snapshot().Counts
	assert.Equal(t, len(pins)*pairs, counts.ButtonDown)
	assert.Equal(t, len(pins)*pairs, counts.ButtonUp)
	assert.Equal(t, clearer*clears, counts.Clear)
}
