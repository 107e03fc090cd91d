package mqtt

import log "github.com/sirupsen/logrus"

// bufferedMsg is a serialized publish waiting for the broker to come back.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer keeps the newest items pushed since the last drain. It backs
// both the publisher's offline buffer and the sink's hand-off queue.
// Callers synchronize access.
type ringBuffer[T any] struct {
	name    string // for log lines
	items   []T
	start   int // index of the oldest item
	count   int
	dropped int // since the last drain
}

func newRingBuffer[T any](name string, capacity int) *ringBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer[T]{name: name, items: make([]T, capacity)}
}

// push appends v, overwriting the oldest item when full.
func (r *ringBuffer[T]) push(v T) {
	capacity := len(r.items)
	if r.count < capacity {
		r.items[(r.start+r.count)%capacity] = v
		r.count++
		return
	}
	if r.dropped == 0 {
		log.Warnf("mqtt: %s full (%d messages), dropping oldest", r.name, capacity)
	}
	r.dropped++
	r.items[r.start] = v
	r.start = (r.start + 1) % capacity
}

// drainAll returns the buffered items oldest first and empties the buffer.
func (r *ringBuffer[T]) drainAll() []T {
	if r.count == 0 {
		return nil
	}
	out := make([]T, r.count)
	for i := range out {
		out[i] = r.items[(r.start+i)%len(r.items)]
	}
	if r.dropped > 0 {
		log.Warnf("mqtt: %d messages were dropped from the %s", r.dropped, r.name)
	}
	r.start, r.count, r.dropped = 0, 0, 0
	return out
}

func (r *ringBuffer[T]) len() int {
	return r.count
}
