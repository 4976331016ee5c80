package eventbus

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
)

// Publisher is the optional cloud event bus channel. A nil *Publisher is a
// valid "not configured" value; Publish on it is a no-op.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisherFromEnv connects using VIGIL_EVENTBUS_URL. Returns (nil, nil)
// when the variable is unset: the channel is simply skipped.
func NewPublisherFromEnv() (*Publisher, error) {
	url := os.Getenv("VIGIL_EVENTBUS_URL")
	if url == "" {
		return nil, nil
	}
	return NewPublisher(url)
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("event bus connect: %w", err)
	}
	return &Publisher{conn: conn}, nil
}

func (p *Publisher) Publish(subject string, payload any) error {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, data)
}

func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Drain()
	p.conn.Close()
}
