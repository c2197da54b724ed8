// Package events announces completed pipeline runs to other services.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tradesim/trade-simulator/internal/model"
)

// SubjectRunCompleted carries a model.Run as JSON.
const SubjectRunCompleted = "tradesim.run.completed"

// Publisher announces runs.
type Publisher interface {
	PublishRun(ctx context.Context, run model.Run) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishRun(context.Context, model.Run) error { return nil }
func (Nop) Close() error                                 { return nil }

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// NATSPublisher publishes run events on a core NATS subject.
type NATSPublisher struct {
	nc      conn
	subject string
}

// NewNATSPublisher connects to url. Reconnects are unlimited.
func NewNATSPublisher(url string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("tradesim"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{nc: nc, subject: SubjectRunCompleted}, nil
}

func (p *NATSPublisher) PublishRun(ctx context.Context, run model.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.ID, err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}

	timeout := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if err := p.nc.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("flush %s: %w", p.subject, err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	p.nc.Close()
	return nil
}
