// Package mqtt forwards relayed outbox messages to an MQTT broker so that
// in-vehicle devices and route dashboards can follow assignment changes.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/iota-uz/iota-fleet/pkg/outbox"
)

// Client is the subset of paho.Client the dispatcher needs.
type Client interface {
	IsConnected() bool
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
	// PublishTimeout bounds the wait for broker acknowledgement when the
	// dispatch context has no earlier deadline.
	PublishTimeout time.Duration
}

// Envelope is the wire format published to the broker. MQTT 3.1.1 has no
// headers, so delivery metadata travels next to the payload.
type Envelope struct {
	EventID  string          `json:"event_id"`
	Topic    string          `json:"topic"`
	Sequence int64           `json:"sequence"`
	Payload  json.RawMessage `json:"payload"`
}

type Dispatcher struct {
	client Client
	opts   Options
}

// Connect dials the broker and returns a dispatcher owning the connection.
func Connect(opts Options) (*Dispatcher, error) {
	if strings.TrimSpace(opts.Broker) == "" {
		return nil, fmt.Errorf("mqtt: broker is required")
	}
	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)

	client := paho.NewClient(clientOpts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.Broker, token.Error())
	}
	return New(client, opts), nil
}

func New(client Client, opts Options) *Dispatcher {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 10 * time.Second
	}
	return &Dispatcher{client: client, opts: opts}
}

// TopicFor maps an outbox topic onto the broker namespace.
func (d *Dispatcher) TopicFor(topic string) string {
	prefix := strings.Trim(d.opts.TopicPrefix, "/")
	if prefix == "" {
		return topic
	}
	return prefix + "/" + topic
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg outbox.DispatchedMessage) error {
	body, err := json.Marshal(Envelope{
		EventID:  msg.Meta.EventID.String(),
		Topic:    msg.Meta.Topic,
		Sequence: msg.Meta.Sequence,
		Payload:  msg.Payload,
	})
	if err != nil {
		return fmt.Errorf("mqtt: encode envelope: %w", err)
	}

	timeout := d.opts.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	topic := d.TopicFor(msg.Meta.Topic)
	token := d.client.Publish(topic, d.opts.QoS, false, body)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt: publish to %s timed out after %s", topic, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", topic, err)
	}
	return nil
}

func (d *Dispatcher) Close() {
	if d.client.IsConnected() {
		d.client.Disconnect(250)
	}
}
