// Package nats mirrors registry events onto NATS subjects.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

const (
	connectWait   = 5 * time.Second
	maxReconnects = -1
	reconnectWait = 2 * time.Second
)

// Config holds the NATS connection settings.
type Config struct {
	URL           string
	SubjectPrefix string
	Name          string
}

// Publisher implements domain.Publisher on a NATS connection. Channel names
// are appended to the subject prefix.
type Publisher struct {
	conn   *nats.Conn
	prefix string
}

var _ domain.Publisher = (*Publisher)(nil)

// Connect dials NATS with reconnect handling that logs through logger.
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	log := logger.With(slog.String("component", "nats"))
	name := cfg.Name
	if name == "" {
		name = "registryd"
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(connectWait),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("nats connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", cfg.URL, err)
	}
	return NewPublisher(nc, cfg.SubjectPrefix), nil
}

// NewPublisher wraps an open connection.
func NewPublisher(conn *nats.Conn, prefix string) *Publisher {
	return &Publisher{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the NATS subject a channel maps to.
func (p *Publisher) Subject(channel string) string {
	channel = strings.ReplaceAll(channel, ":", ".")
	if p.prefix == "" {
		return channel
	}
	return p.prefix + "." + channel
}

// Publish sends payload on the subject for channel.
func (p *Publisher) Publish(_ context.Context, channel string, payload []byte) error {
	if p.conn == nil {
		return fmt.Errorf("nats: connection is not initialized")
	}
	subject := p.Subject(channel)
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("nats: publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
