// Package broadcast fans notifications out to live subscribers. Each
// subscriber has its own bounded queue and sender goroutine, so a slow or
// broken sink never delays the others.
package broadcast

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/course-board/internal/logic"
)

// DefaultQueueSize is the per-subscriber queue length.
const DefaultQueueSize = 64

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("broadcast: fanout closed")

// Sink delivers messages to one subscriber.
type Sink interface {
	// Send delivers one message and must return within a bounded time.
	// An error evicts the subscriber.
	Send(msg logic.Message) error
	// Close releases the subscriber's connection. Called exactly once,
	// from the sender goroutine, after the last Send.
	Close() error
}

// Handle identifies a registered subscriber.
type Handle struct {
	id    uint64
	sink  Sink
	queue chan logic.Message
	done  chan struct{}
}

// ID returns the subscriber's unique id.
func (h *Handle) ID() uint64 { return h.id }

// Done is closed once the subscriber is gone and its sink has been closed,
// whether by Unsubscribe, eviction or Close.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Fanout holds the subscriber set.
type Fanout struct {
	queueSize int

	mu     sync.Mutex
	subs   map[uint64]*Handle
	nextID uint64
	closed bool
	wg     sync.WaitGroup
}

// New creates a Fanout whose subscribers queue up to queueSize messages.
func New(queueSize int) *Fanout {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Fanout{
		queueSize: queueSize,
		subs:      make(map[uint64]*Handle),
	}
}

// Subscribe registers sink. The initial messages are queued ahead of any
// later broadcast.
func (f *Fanout) Subscribe(sink Sink, initial ...logic.Message) (*Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	f.nextID++
	h := &Handle{
		id:    f.nextID,
		sink:  sink,
		queue: make(chan logic.Message, f.queueSize+len(initial)),
		done:  make(chan struct{}),
	}
	for _, m := range initial {
		h.queue <- m
	}
	f.subs[h.id] = h

	f.wg.Add(1)
	go f.send(h)
	return h, nil
}

// Unsubscribe removes h. Messages already queued are still delivered
// before the sink is closed. Unknown or already removed handles are ignored.
func (f *Fanout) Unsubscribe(h *Handle) {
	if h == nil {
		return
	}
	f.mu.Lock()
	f.removeLocked(h)
	f.mu.Unlock()
}

// Broadcast queues msg for every subscriber. A subscriber whose queue is
// full is evicted.
func (f *Fanout) Broadcast(msg logic.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.subs {
		select {
		case h.queue <- msg:
		default:
			log.WithField("subscriber", h.id).Warn("broadcast: queue full, evicting subscriber")
			f.removeLocked(h)
		}
	}
}

// Len returns the number of registered subscribers.
func (f *Fanout) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close removes every subscriber and waits for their senders to finish.
// Later calls to Subscribe fail and Broadcast does nothing.
func (f *Fanout) Close() {
	f.mu.Lock()
	f.closed = true
	for _, h := range f.subs {
		f.removeLocked(h)
	}
	f.mu.Unlock()
	f.wg.Wait()
}

// removeLocked deletes h and closes its queue. Only Subscribe and Broadcast
// write to a queue, both under f.mu, so closing here is safe.
func (f *Fanout) removeLocked(h *Handle) {
	if _, ok := f.subs[h.id]; !ok {
		return
	}
	delete(f.subs, h.id)
	close(h.queue)
}

func (f *Fanout) send(h *Handle) {
	defer f.wg.Done()
	defer close(h.done)

	for msg := range h.queue {
		if err := h.sink.Send(msg); err != nil {
			log.WithFields(log.Fields{"subscriber": h.id, "error": err}).Info("broadcast: send failed, evicting subscriber")
			f.Unsubscribe(h)
			break
		}
	}
	if err := h.sink.Close(); err != nil {
		log.WithField("subscriber", h.id).Debugf("broadcast: close sink: %v", err)
	}
}
