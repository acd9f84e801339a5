package mqttclient

import (
	"context"
	"encoding/json"
	"fmt"
)

// Conn is the publish side of a Manager.
type Conn interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
}

// IPublisher publishes to a fixed topic.
type IPublisher interface {
	PublishMessage(ctx context.Context, message any) error
}

// Publisher is bound to one topic and QoS.
type Publisher struct {
	conn  Conn
	topic string
	qos   byte
}

func NewPublisher(conn Conn, topic string, qos byte) *Publisher {
	return &Publisher{conn: conn, topic: topic, qos: qos}
}

func (p *Publisher) Topic() string { return p.topic }

// PublishMessage sends []byte and string payloads as is and JSON-encodes anything else.
func (p *Publisher) PublishMessage(ctx context.Context, message any) error {
	var payload []byte
	switch v := message.(type) {
	case []byte:
		payload = v
	case string:
		payload = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode message for %s: %w", p.topic, err)
		}
		payload = b
	}
	return p.conn.Publish(ctx, p.topic, p.qos, false, payload)
}
