package mqtt

import "testing"

func pushN(rb *ringBuffer[bufferedMsg], from, to int) {
	for i := from; i < to; i++ {
		rb.push(bufferedMsg{topic: "t", payload: []byte{byte(i)}})
	}
}

func payloadBytes(msgs []bufferedMsg) []byte {
	out := make([]byte, len(msgs))
	for i, m := range msgs {
		out[i] = m.payload[0]
	}
	return out
}

func TestRingBufferEmptyDrain(t *testing.T) {
	rb := newRingBuffer[bufferedMsg]("offline buffer", 4)
	if got := rb.drainAll(); got != nil {
		t.Errorf("drain of empty buffer: got %d items, want nil", len(got))
	}
}

func TestRingBufferKeepsNewest(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		pushed   int
		want     []byte
	}{
		{"partial", 4, 3, []byte{0, 1, 2}},
		{"exactly full", 4, 4, []byte{0, 1, 2, 3}},
		{"overflow drops oldest", 4, 7, []byte{3, 4, 5, 6}},
		{"capacity clamps to one", 0, 3, []byte{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb := newRingBuffer[bufferedMsg]("offline buffer", tt.capacity)
			pushN(rb, 0, tt.pushed)
			got := payloadBytes(rb.drainAll())
			if string(got) != string(tt.want) {
				t.Errorf("drained: got %v, want %v", got, tt.want)
			}
			if rb.len() != 0 {
				t.Errorf("len after drain: got %d, want 0", rb.len())
			}
		})
	}
}

func TestRingBufferReusableAfterDrain(t *testing.T) {
	rb := newRingBuffer[bufferedMsg]("offline buffer", 3)
	pushN(rb, 0, 5)
	rb.drainAll()
	if rb.dropped != 0 {
		t.Errorf("dropped count should reset on drain, got %d", rb.dropped)
	}

	pushN(rb, 10, 12)
	if rb.len() != 2 {
		t.Errorf("len: got %d, want 2", rb.len())
	}
	got := payloadBytes(rb.drainAll())
	if string(got) != string([]byte{10, 11}) {
		t.Errorf("second cycle: got %v, want [10 11]", got)
	}
}

func TestRingBufferPreservesFields(t *testing.T) {
	rb := newRingBuffer[bufferedMsg]("offline buffer", 2)
	rb.push(bufferedMsg{
		topic:    "courseboard/system",
		payload:  []byte(`{"system":{}}`),
		qos:      1,
		retained: true,
	})

	got := rb.drainAll()
	if len(got) != 1 {
		t.Fatalf("drained: got %d items, want 1", len(got))
	}
	m := got[0]
	if m.topic != "courseboard/system" || string(m.payload) != `{"system":{}}` || m.qos != 1 || !m.retained {
		t.Errorf("fields not preserved: %+v", m)
	}
}
