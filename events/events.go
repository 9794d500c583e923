// Package events publishes committed call transitions so live clients
// and downstream consumers can follow a call without polling.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firgia/soca/metrics"
	"github.com/firgia/soca/types"
	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"
)

const DefaultSubjectPrefix = "soca"

type Publisher interface {
	PublishCall(ctx context.Context, ev types.CallEvent) error
}

// Subject is "<prefix>.calls.<call id>.<state>" so consumers can filter
// a single call with "<prefix>.calls.<id>.>" or every ending with
// "<prefix>.calls.*.ended".
func Subject(prefix, callID string, state types.CallState) string {
	return fmt.Sprintf("%s.calls.%s.%s", prefix, callID, state)
}

func Encode(ev types.CallEvent) ([]byte, error) {
	b, err := msgpack.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal call event: %w", err)
	}
	return b, nil
}

func Decode(b []byte) (types.CallEvent, error) {
	var ev types.CallEvent
	if err := msgpack.Unmarshal(b, &ev); err != nil {
		return ev, fmt.Errorf("msgpack unmarshal call event: %w", err)
	}
	return ev, nil
}

type conn interface {
	Publish(subject string, data []byte) error
}

type NATSConfig struct {
	URL            string
	SubjectPrefix  string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
}

type NATSPublisher struct {
	conn   conn
	prefix string
	logger *slog.Logger
}

// Connect dials NATS and returns a publisher plus the connection so the
// caller can drain it on shutdown.
func Connect(cfg NATSConfig, logger *slog.Logger) (*NATSPublisher, *nats.Conn, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("soca-calls"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("nats error", "err", err)
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	return NewNATSPublisher(nc, cfg.SubjectPrefix, logger), nc, nil
}

func NewNATSPublisher(c conn, prefix string, logger *slog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{
		conn:   c,
		prefix: prefix,
		logger: logger,
	}
}

func (p *NATSPublisher) PublishCall(ctx context.Context, ev types.CallEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := Encode(ev)
	if err != nil {
		return err
	}

	subject := Subject(p.prefix, ev.CallID, ev.State)
	err = p.conn.Publish(subject, data)
	metrics.EventsPublished.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	p.logger.Debug("call event published", "subject", subject, "call_id", ev.CallID)
	return nil
}

// NoopPublisher discards events. Used when NATS is not configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishCall(context.Context, types.CallEvent) error {
	return nil
}
