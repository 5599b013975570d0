// Package push carries job status changes over NATS as an alternative to
// polling. Messages use the same record shape as a status fetch and go
// through the same fold, so terminal states stay absorbing.
package push

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/joseph-ayodele/podcast-tracker/internal/backend"
	"github.com/joseph-ayodele/podcast-tracker/internal/entity"
	"github.com/joseph-ayodele/podcast-tracker/internal/jobs"
)

// Applier folds records into tracked state; *reconcile.Loop satisfies it.
type Applier interface {
	Apply(updates []entity.Job) []jobs.Transition
}

type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	applier Applier
	logger  *slog.Logger
}

// Connect opens a NATS connection for push delivery.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("podcast-tracker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("push.disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("push.reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// Subscribe starts delivering messages on subject to applier.
func Subscribe(nc *nats.Conn, subject string, applier Applier, logger *slog.Logger) (*Subscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscriber{nc: nc, applier: applier, logger: logger}
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		s.Handle(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.sub = sub
	logger.Info("push.subscribed", "subject", subject)
	return s, nil
}

// Handle decodes one message (a record or an array of records) and applies it.
// Malformed messages are logged and dropped.
func (s *Subscriber) Handle(data []byte) []jobs.Transition {
	data = bytes.TrimSpace(data)
	var (
		updates []entity.Job
		err     error
	)
	if len(data) > 0 && data[0] == '[' {
		updates, err = backend.DecodeRecords(data)
	} else {
		var job entity.Job
		job, err = backend.DecodeRecord(data)
		updates = []entity.Job{job}
	}
	if err != nil {
		s.logger.Warn("push.malformed_message", "bytes", len(data), "error", err)
		return nil
	}
	trs := s.applier.Apply(updates)
	s.logger.Debug("push.applied", "records", len(updates), "transitions", len(trs))
	return trs
}

// Close drains the subscription. The connection stays owned by the caller.
func (s *Subscriber) Close() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Drain()
}

// Publisher emits job records on a subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

func NewPublisher(nc *nats.Conn, subject string) *Publisher {
	return &Publisher{nc: nc, subject: subject}
}

func (p *Publisher) Publish(job entity.Job) error {
	b, err := json.Marshal(backend.FromEntity(job))
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return p.nc.Publish(p.subject, b)
}
