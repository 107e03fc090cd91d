// Package dispatch owns the press state. One goroutine, Run, applies every
// event and request in arrival order, so the audit log, the status holder
// and the subscribers all observe transitions in the same order.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/course-board/internal/audit"
	"github.com/sweeney/course-board/internal/broadcast"
	"github.com/sweeney/course-board/internal/input"
	"github.com/sweeney/course-board/internal/logic"
	"github.com/sweeney/course-board/internal/status"
)

// ErrStopped is returned by requests made after Run has returned.
var ErrStopped = errors.New("dispatcher stopped")

// DefaultQueueSize is the event queue length. Submit blocks when it is full.
const DefaultQueueSize = 256

const auditTimeout = 2 * time.Second

// Catalog resolves courses by pin and lists them all.
type Catalog interface {
	logic.Courses
	Courses() []logic.Course
}

type noCourses struct{}

func (noCourses) CourseByPin(input.Pin) (logic.Course, bool) { return logic.Course{}, false }
func (noCourses) Courses() []logic.Course                    { return nil }

// Config wires a Dispatcher to its collaborators. Audit and Status may be nil.
type Config struct {
	ClearPin  input.Pin
	Catalog   Catalog
	Audit     audit.Writer
	Fanout    *broadcast.Fanout
	Status    *status.Tracker
	QueueSize int
}

// Dispatcher is the single writer of the press state.
type Dispatcher struct {
	catalog Catalog
	audit   audit.Writer
	fanout  *broadcast.Fanout
	status  *status.Tracker
	tracker *logic.Tracker
	now     func() time.Time

	events   chan input.Event
	requests chan func()
	done     chan struct{}
	runOnce  sync.Once

	backendMu sync.RWMutex
	backend   input.BackendInfo
}

// New creates a Dispatcher. Nothing is processed until Run is called.
func New(cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Fanout == nil {
		cfg.Fanout = broadcast.New(0)
	}
	if cfg.Catalog == nil {
		cfg.Catalog = noCourses{}
	}
	return &Dispatcher{
		catalog:  cfg.Catalog,
		audit:    cfg.Audit,
		fanout:   cfg.Fanout,
		status:   cfg.Status,
		tracker:  logic.NewTracker(cfg.ClearPin, cfg.Catalog),
		now:      time.Now,
		events:   make(chan input.Event, cfg.QueueSize),
		requests: make(chan func()),
		done:     make(chan struct{}),
	}
}

// Run processes events and requests until ctx is done, then applies the
// events already queued and returns. Run must be called once.
func (d *Dispatcher) Run(ctx context.Context) error {
	started := false
	d.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("dispatcher: Run called twice")
	}
	defer close(d.done)

	for {
		select {
		case ev := <-d.events:
			d.apply(ev)
		case req := <-d.requests:
			d.catchUp()
			req()
		case <-ctx.Done():
			d.drain()
			return nil
		}
	}
}

func (d *Dispatcher) drain() {
	n := 0
	for {
		select {
		case ev := <-d.events:
			d.apply(ev)
			n++
		default:
			if n > 0 {
				log.WithField("events", n).Info("dispatch: drained queued events")
			}
			return
		}
	}
}

// catchUp applies the events queued before a request arrived, so the
// request sees every event whose Submit returned before it was made.
func (d *Dispatcher) catchUp() {
	for n := len(d.events); n > 0; n-- {
		d.apply(<-d.events)
	}
}

// Submit queues an event. It blocks while the queue is full. Events
// submitted after Run has returned are dropped.
func (d *Dispatcher) Submit(ev input.Event) {
	select {
	case <-d.done:
		log.WithField("event", ev.String()).Warn("dispatch: stopped, event dropped")
		return
	default:
	}
	select {
	case d.events <- ev:
	case <-d.done:
		log.WithField("event", ev.String()).Warn("dispatch: stopped, event dropped")
	}
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// do runs fn on the dispatcher goroutine and waits for it to finish.
func (d *Dispatcher) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	req := func() {
		defer close(finished)
		fn()
	}
	select {
	case d.requests <- req:
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	// The loop received req and is running it now.
	<-finished
	return nil
}

// Subscribe registers sink with the fanout. The sink first receives the
// greeting messages, then a state message, then every later notification.
// No transition can fall between the state and the first notification.
func (d *Dispatcher) Subscribe(ctx context.Context, sink broadcast.Sink, greeting ...logic.Message) (*broadcast.Handle, error) {
	var (
		h   *broadcast.Handle
		err error
	)
	if derr := d.do(ctx, func() {
		initial := append(append([]logic.Message{}, greeting...), d.state())
		h, err = d.fanout.Subscribe(sink, initial...)
	}); derr != nil {
		return nil, derr
	}
	return h, err
}

// Unsubscribe removes a subscriber.
func (d *Dispatcher) Unsubscribe(h *broadcast.Handle) {
	d.fanout.Unsubscribe(h)
}

// RequestClear empties the history as if the clear button had been pressed.
func (d *Dispatcher) RequestClear(ctx context.Context) error {
	return d.do(ctx, func() {
		d.commit(d.tracker.Clear(d.now()))
	})
}

// CoursesUpdated tells every subscriber to refetch the course list.
func (d *Dispatcher) CoursesUpdated(ctx context.Context) error {
	return d.do(ctx, func() {
		d.fanout.Broadcast(logic.NewCoursesUpdated())
	})
}

// State returns the full state message as of the current position in the
// event stream.
func (d *Dispatcher) State(ctx context.Context) (logic.StateMessage, error) {
	var msg logic.StateMessage
	err := d.do(ctx, func() { msg = d.state() })
	return msg, err
}

// Snapshot returns the latest published status without waiting for the
// dispatcher goroutine.
func (d *Dispatcher) Snapshot() status.Snapshot {
	if d.status == nil {
		return status.Snapshot{}
	}
	return d.status.Snapshot()
}

// SetBackend records the active input backend for state messages.
func (d *Dispatcher) SetBackend(info input.BackendInfo) {
	d.backendMu.Lock()
	d.backend = info
	d.backendMu.Unlock()
	if d.status != nil {
		d.status.SetBackend(info)
	}
}

func (d *Dispatcher) backendInfo() input.BackendInfo {
	d.backendMu.RLock()
	defer d.backendMu.RUnlock()
	return d.backend
}

func (d *Dispatcher) state() logic.StateMessage {
	return logic.NewState(d.tracker.Pressed(), d.tracker.History(), d.catalog.Courses(), d.tracker.ClearPin(), d.backendInfo())
}

func (d *Dispatcher) apply(ev input.Event) {
	t, ok := d.tracker.Apply(ev)
	if !ok {
		log.WithField("event", ev.String()).Warn("dispatch: unknown event kind, ignored")
		return
	}
	log.WithFields(log.Fields{"pin": ev.Pin, "kind": ev.Kind, "source": ev.Source}).Debug("dispatch: event applied")
	d.commit(t)
}

// commit publishes one transition: audit first, then status, then
// subscribers. An audit failure is logged and does not hold back the rest.
func (d *Dispatcher) commit(t logic.Transition) {
	if d.audit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		if err := d.audit.Append(ctx, audit.FromRecord(t.Record)); err != nil {
			log.WithField("action", t.Record.Action).Errorf("dispatch: audit append failed: %v", err)
		}
		cancel()
	}
	if d.status != nil {
		d.status.Update(d.tracker.Pressed(), d.tracker.History(), d.tracker.Counts())
	}
	for _, m := range t.Messages {
		d.fanout.Broadcast(m)
	}
}
