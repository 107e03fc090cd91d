package mqtt

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/course-board/internal/logic"
)

const (
	// DefaultSinkQueue is how many notifications the sink holds while the
	// publisher is busy. Older ones are dropped first.
	DefaultSinkQueue = 256

	sinkCloseTimeout = 5 * time.Second
)

type stamped struct {
	msg logic.Message
	at  time.Time
}

// Sink subscribes a Publisher to the broadcast fanout. Send only queues
// the message; a goroutine owned by the sink publishes it. A slow or
// unreachable broker therefore never fills the fanout queue, and publish
// errors are logged rather than returned, so the mirror is never evicted.
type Sink struct {
	pub Publisher
	now func() time.Time

	mu      sync.Mutex
	pending *ringBuffer[stamped]

	wake      chan struct{}
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewSink creates a Sink publishing through pub and starts its publisher
// goroutine. queueSize <= 0 selects DefaultSinkQueue.
func NewSink(pub Publisher, queueSize int) *Sink {
	if queueSize <= 0 {
		queueSize = DefaultSinkQueue
	}
	s := &Sink{
		pub:     pub,
		now:     time.Now,
		pending: newRingBuffer[stamped]("sink queue", queueSize),
		wake:    make(chan struct{}, 1),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.loop()
	return s
}

// Send queues msg for publishing and returns immediately.
func (s *Sink) Send(msg logic.Message) error {
	s.mu.Lock()
	s.pending.push(stamped{msg: msg, at: s.now()})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close publishes what is still queued, waiting at most a few seconds.
// The publisher is closed by its owner after the final shutdown event.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() { close(s.closing) })
	select {
	case <-s.done:
	case <-time.After(sinkCloseTimeout):
		log.Warn("mqtt: sink did not flush before close timeout")
	}
	return nil
}

func (s *Sink) loop() {
	defer close(s.done)
	for {
		s.flush()
		select {
		case <-s.wake:
		case <-s.closing:
			s.flush()
			return
		}
	}
}

func (s *Sink) flush() {
	s.mu.Lock()
	batch := s.pending.drainAll()
	s.mu.Unlock()

	for _, m := range batch {
		if err := s.pub.Publish(m.msg, m.at); err != nil {
			log.WithField("type", m.msg.MessageType()).Warnf("mqtt: publish failed: %v", err)
		}
	}
}
