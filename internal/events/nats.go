package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"tweetcast/internal/config"
	"tweetcast/internal/logging"
)

const natsHandlerTimeout = 30 * time.Second

// NATS publishes events as JSON on "<prefix>.<type>" subjects.
type NATS struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// ConnectNATS dials url and reconnects forever on connection loss.
func ConnectNATS(url, prefix string, logger *slog.Logger) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("tweetcast"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATS{
		nc:     nc,
		prefix: strings.Trim(strings.TrimSpace(prefix), "."),
		logger: logging.NewComponentLogger(logger, "events"),
	}, nil
}

// Subject returns the subject an event type is published on.
func Subject(prefix string, eventType Type) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return string(eventType)
	}
	return prefix + "." + string(eventType)
}

func (b *NATS) Publish(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.nc.Publish(Subject(b.prefix, event.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

func (b *NATS) Subscribe(handler Handler, types ...Type) (func(), error) {
	if handler == nil {
		return func() {}, nil
	}
	subjects := make([]string, 0, len(types))
	for _, t := range types {
		subjects = append(subjects, Subject(b.prefix, t))
	}
	if len(subjects) == 0 {
		subjects = append(subjects, Subject(b.prefix, ">"))
	}

	var subs []*nats.Subscription
	for _, subject := range subjects {
		sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
			var event Event
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				logging.WarnWithContext(b.logger, "undecodable event", "event_decode_failed",
					logging.String("subject", msg.Subject),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check publishers on this subject"),
					logging.String(logging.FieldImpact, "event ignored"),
				)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), natsHandlerTimeout)
			defer cancel()
			handler(ctx, event)
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}
	return func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}, nil
}

// Close drains pending messages and closes the connection.
func (b *NATS) Close() error {
	if b == nil || b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}

// Open returns a NATS bus when events.nats_url is configured and a Local bus
// otherwise.
func Open(cfg *config.Config, logger *slog.Logger) (Bus, error) {
	if cfg != nil {
		if url := strings.TrimSpace(cfg.Events.NatsURL); url != "" {
			return ConnectNATS(url, cfg.Events.SubjectPrefix, logger)
		}
	}
	return NewLocal(logger), nil
}
