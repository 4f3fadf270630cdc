// Package notifier publishes user-facing lifecycle notifications over NATS.
// Delivery is fire-and-forget; the submission record is the source of truth
// and a lost notification never blocks the pipeline.
package notifier

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
)

// subjectPrefix namespaces every notification subject.
const subjectPrefix = "notifications"

// NATSNotifier implements domain.Notifier on a NATS connection.
type NATSNotifier struct {
	conn *nats.Conn
}

// message is the wire envelope published per notification.
type message struct {
	UserID  string         `json:"user_id"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
	SentAt  time.Time      `json:"sent_at"`
}

// NewNATS connects to the given NATS URL with reconnect enabled.
func NewNATS(url string) (*NATSNotifier, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSNotifier{conn: conn}, nil
}

// Notify publishes one event for one user.
func (n *NATSNotifier) Notify(_ domain.Context, userID, event string, payload map[string]any) error {
	b, err := json.Marshal(message{UserID: userID, Event: event, Payload: payload, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("op=notify.marshal: %w", err)
	}
	subject := fmt.Sprintf("%s.%s.%s", subjectPrefix, event, userID)
	if err := n.conn.Publish(subject, b); err != nil {
		return fmt.Errorf("op=notify.publish: %w", err)
	}
	return nil
}

// Close drains the connection.
func (n *NATSNotifier) Close() {
	if n.conn != nil {
		_ = n.conn.Drain()
	}
}

// Noop is the fallback Notifier used when no transport is configured, such
// as in tests and local development.
type Noop struct{}

// Notify discards the notification.
func (Noop) Notify(_ domain.Context, _, _ string, _ map[string]any) error { return nil }
