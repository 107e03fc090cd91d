package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/sweeney/course-board/internal/logic"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	Topic      string // prefix; defaults to DefaultTopic
	ClientID   string
	BufferSize int // messages held while disconnected

	// OnConnectionChange, if set, is called whenever the broker
	// connection comes up or goes down.
	OnConnectionChange func(connected bool)
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the broker is unreachable are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topic  string

	mu        sync.Mutex
	connected bool
	buf       *ringBuffer[bufferedMsg]
	onChange  func(bool)
}

// NewRealPublisher creates a publisher for the given broker. A broker that
// is down at startup is not an error: the client keeps retrying and
// messages are buffered until it connects.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker is required")
	}
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.ClientID == "" {
		opts.ClientID = "course-board"
	}

	p := &RealPublisher{
		topic:    opts.Topic,
		buf:      newRingBuffer[bufferedMsg]("offline buffer", opts.BufferSize),
		onChange: opts.OnConnectionChange,
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "connection lost",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(SystemTopic(p.topic), will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.handleConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { p.handleLost(err) })

	p.client = paho.NewClient(co)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.WithField("broker", opts.Broker).Warn("mqtt: broker not reachable yet, retrying in background")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func (p *RealPublisher) handleConnect() {
	p.mu.Lock()
	p.connected = true
	pending := p.buf.drainAll()
	onChange := p.onChange
	p.mu.Unlock()

	log.WithField("replayed", len(pending)).Info("mqtt: connected")
	if onChange != nil {
		onChange(true)
	}

	// Paho calls this on its own goroutine; waiting for tokens here is fine.
	for _, m := range pending {
		if err := p.send(m); err != nil {
			log.WithField("topic", m.topic).Warnf("mqtt: replay failed: %v", err)
		}
	}
}

func (p *RealPublisher) handleLost(err error) {
	p.mu.Lock()
	p.connected = false
	onChange := p.onChange
	p.mu.Unlock()

	log.Warnf("mqtt: connection lost: %v", err)
	if onChange != nil {
		onChange(false)
	}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Publish sends a board notification to <topic>/events.
func (p *RealPublisher) Publish(msg logic.Message, at time.Time) error {
	payload, err := FormatPayload(msg, at)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(bufferedMsg{topic: EventsTopic(p.topic), payload: payload})
}

// PublishSystem sends a system lifecycle event to <topic>/system.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) so lifecycle events survive a flaky link
	return p.publish(bufferedMsg{
		topic:    SystemTopic(p.topic),
		payload:  payload,
		qos:      1,
		retained: event.Retained,
	})
}

func (p *RealPublisher) publish(m bufferedMsg) error {
	p.mu.Lock()
	if !p.connected {
		p.buf.push(m)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.send(m)
}

func (p *RealPublisher) send(m bufferedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", m.topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
