package notify

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	perrors "git.home.luguber.info/inful/promoter/internal/errors"
)

// NATSPublisher publishes events to a per-group NATS subject. Plain core NATS
// publish is intentional: subscribers that are offline miss the notification
// and recover from the durable event list instead.
type NATSPublisher struct {
	conn          *nats.Conn
	subjectPrefix string
	ownsConn      bool
}

var _ Publisher = &NATSPublisher{}

// NewNATSPublisher connects to NATS. subjectPrefix defaults to "promoter.notify".
func NewNATSPublisher(url, subjectPrefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	p := NewNATSPublisherWithConn(conn, subjectPrefix)
	p.ownsConn = true
	return p, nil
}

// NewNATSPublisherWithConn reuses an existing connection (the daemon shares
// one connection between store and publisher).
func NewNATSPublisherWithConn(conn *nats.Conn, subjectPrefix string) *NATSPublisher {
	if subjectPrefix == "" {
		subjectPrefix = "promoter.notify"
	}
	return &NATSPublisher{conn: conn, subjectPrefix: subjectPrefix}
}

// Publish sends event to the group's subject.
func (p *NATSPublisher) Publish(_ context.Context, group string, event []byte) error {
	subject := p.subjectPrefix + "." + group
	if err := p.conn.Publish(subject, event); err != nil {
		return perrors.PublishError(group, err)
	}
	return nil
}

// Close closes the connection when this publisher owns it.
func (p *NATSPublisher) Close() error {
	if p.ownsConn && p.conn != nil {
		p.conn.Close()
	}
	return nil
}
