// Package bus mirrors broadcast traffic onto NATS so other services can
// consume the live feed without holding a websocket to this process.
package bus

import (
	"encoding/json"

	"github.com/nats-io/nats.go"

	"edahub-backend/internal/hub"
)

const subjectPrefix = "eda.data."

type Publisher struct {
	Conn *nats.Conn
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn}, nil
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

// Ready and Send make the publisher a hub subscriber: every broadcast row is
// republished on eda.data.<connectionID>.
func (p *Publisher) Ready() bool {
	return p.Conn != nil && p.Conn.Status() == nats.CONNECTED
}

func (p *Publisher) Send(msg hub.Message) error {
	return p.Publish(subjectPrefix+msg.ConnectionID, msg)
}
