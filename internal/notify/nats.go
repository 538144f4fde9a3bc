package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
	"github.com/nats-io/nats.go"
)

// Publisher is the part of *nats.Conn the NATS sink uses.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATS publishes notifications as JSON on <subject>.<gateway>. The
// notification kind travels in the Notification-Kind header.
type NATS struct {
	pub     Publisher
	subject string
	logger  *slog.Logger
}

func NewNATS(pub Publisher, subject string, logger *slog.Logger) *NATS {
	return &NATS{pub: pub, subject: subject, logger: logger}
}

// Subject returns the subject a notification is published on.
func (s *NATS) Subject(n domain.Notification) string {
	if n.Gateway == "" {
		return s.subject
	}
	return s.subject + "." + string(n.Gateway)
}

func (s *NATS) Notify(_ context.Context, n domain.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		s.logger.Error("failed to marshal notification", "error", err)
		return
	}

	msg := nats.NewMsg(s.Subject(n))
	msg.Header.Set("Notification-Kind", string(n.Kind))
	if n.EventKey != "" {
		msg.Header.Set(nats.MsgIdHdr, string(n.Kind)+":"+n.EventKey)
	}
	msg.Data = data

	if err := s.pub.PublishMsg(msg); err != nil {
		s.logger.Warn("failed to publish notification",
			"error", err,
			"subject", msg.Subject,
			"payment_reference", n.Reference,
		)
	}
}

// ConnectNATS dials the notification bus with reconnects enabled.
func ConnectNATS(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.Timeout(10*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return nc, nil
}
