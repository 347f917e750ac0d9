// Package notify hands messages for users without a live connection to the push notification subsystem.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"realtime-chat/internal/storage"
)

// Config of the NATS connection
type Config struct {
	URL     string `env:"NATS_URL"`
	Subject string `env:"NATS_SUBJECT" envDefault:"chat.offline"`
}

// OfflineMessage is the payload published for every stored message with offline recipients
type OfflineMessage struct {
	Message    storage.Message `json:"message"`
	Recipients []int64         `json:"recipients"`
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes OfflineMessage events on Subject
type NATS struct {
	logger  *zap.SugaredLogger
	pub     publisher
	conn    *nats.Conn
	subject string
}

// Connect dials the NATS server, reconnecting forever in background once connected
func Connect(logger *zap.SugaredLogger, cfg Config) (*NATS, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("realtime-chat"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infof("NATS reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	n := newNATS(logger, conn, cfg.Subject)
	n.conn = conn
	return n, nil
}

func newNATS(logger *zap.SugaredLogger, pub publisher, subject string) *NATS {
	return &NATS{
		logger:  logger,
		pub:     pub,
		subject: subject,
	}
}

func (n *NATS) MessageCreated(ctx context.Context, msg storage.Message, offline []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(OfflineMessage{Message: msg, Recipients: offline})
	if err != nil {
		return err
	}

	if err := n.pub.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", n.subject, err)
	}

	n.logger.Debugf("Offline notification for message (%d) published to %d users", msg.ID, len(offline))
	return nil
}

// Close flushes pending publications and closes the connection
func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

// Nop drops every notification, used when no NATS url is configured
type Nop struct{}

func (Nop) MessageCreated(context.Context, storage.Message, []int64) error { return nil }

func (Nop) Close() error { return nil }
