package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSConfig holds connection settings for the NATS bus.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NATSBus publishes events to a NATS server as JSON messages on
// {prefix}.{event subject}, e.g. orchd.task.status.
type NATSBus struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSBus connects to NATS and returns a bus. The connection retries
// in the background if the server is not reachable at startup.
func NewNATSBus(cfg NATSConfig, logger *zap.Logger) (*NATSBus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "orchd"
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 5
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	logger.Info("connected to NATS", zap.String("url", cfg.URL))

	return &NATSBus{
		conn:   conn,
		prefix: cfg.SubjectPrefix,
		logger: logger,
	}, nil
}

// Publish sends the event as JSON. NATS publishes are buffered and
// non-blocking; a full buffer is reported as an error.
func (b *NATSBus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	subject := b.prefix + "." + event.Subject()
	if err := b.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}

	b.logger.Debug("event published",
		zap.String("subject", subject),
		zap.Int("bytes", len(payload)),
	)
	return nil
}

// Close flushes and closes the connection.
func (b *NATSBus) Close() error {
	if b.conn == nil {
		return nil
	}
	// Best effort flush so queued events reach the server before close
	_ = b.conn.FlushTimeout(2 * time.Second)
	b.conn.Close()
	return nil
}
