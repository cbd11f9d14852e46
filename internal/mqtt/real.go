package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// bufferCapacity bounds messages held while the broker is unreachable.
const bufferCapacity = 256

// Options configures a RealPublisher.
type Options struct {
	Broker   string
	ClientID string
	Topics   Topics
	Logger   *slog.Logger
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// disconnected are buffered and replayed, oldest first, on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	logger *slog.Logger

	mu     sync.Mutex
	buffer *ringBuffer
}

// NewRealPublisher creates a publisher and starts connecting to the broker.
// The broker being down is not an error: paho keeps retrying in the
// background and messages are buffered until it connects.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	p := &RealPublisher{
		topics: o.Topics,
		logger: o.Logger,
		buffer: newRingBuffer(bufferCapacity),
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "CONNECTION_LOST", Retained: true})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(o.Topics.System(), string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) {
			p.logger.Info("mqtt_connected", "broker", o.Broker)
			go p.replay()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn("mqtt_connection_lost", "error", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		p.logger.Warn("mqtt_connect_pending", "broker", o.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// IsConnected reports whether the broker connection is open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// PublishSpace sends the retained state of one space.
func (p *RealPublisher) PublishSpace(s SpaceState) error {
	payload, err := FormatSpacePayload(s)
	if err != nil {
		return fmt.Errorf("format space payload: %w", err)
	}
	return p.publish(p.topics.Space(s.Spot), 1, true, payload)
}

// PublishDelivery sends a delivery report. QoS 0, not retained.
func (p *RealPublisher) PublishDelivery(d DeliveryReport) error {
	payload, err := FormatDeliveryPayload(d)
	if err != nil {
		return fmt.Errorf("format delivery payload: %w", err)
	}
	return p.publish(p.topics.Delivery(d.Spot), 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(p.topics.System(), 1, event.Retained, payload)
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.hold(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.hold(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (p *RealPublisher) hold(msg bufferedMsg) {
	p.mu.Lock()
	first := p.buffer.push(msg)
	p.mu.Unlock()
	if first {
		p.logger.Warn("mqtt_buffer_full", "capacity", bufferCapacity)
	}
}

// replay republishes buffered messages after a reconnect.
func (p *RealPublisher) replay() {
	p.mu.Lock()
	msgs := p.buffer.drainAll()
	p.mu.Unlock()
	if len(msgs) == 0 {
		return
	}

	p.logger.Info("mqtt_replaying", "messages", len(msgs))
	for _, m := range msgs {
		if err := p.publish(m.topic, m.qos, m.retained, m.payload); err != nil {
			p.logger.Warn("mqtt_replay_failed", "topic", m.topic, "error", err)
		}
	}
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
