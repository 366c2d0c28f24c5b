// Package events carries pipeline events off the process: a NATS publisher that
// implements orchestrator.Emitter, stream writers that frame events as SSE or
// NDJSON, and a relay from a run's NATS subject to a stream writer.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulesmith/internal/orchestrator"
)

// DefaultSubjectPrefix roots every run subject.
const DefaultSubjectPrefix = "rulesmith.runs"

// Subject returns the NATS subject for one event of a run:
//
//	<prefix>.<run_id>.<event_type>
func Subject(prefix, runID string, t orchestrator.EventType) string {
	return fmt.Sprintf("%s.%s.%s", prefix, runID, t)
}

// RunSubjects returns the wildcard subject matching every event of a run.
func RunSubjects(prefix, runID string) string {
	return fmt.Sprintf("%s.%s.*", prefix, runID)
}

// eventType extracts the last subject token.
func eventType(subject string) orchestrator.EventType {
	return orchestrator.EventType(subject[strings.LastIndexByte(subject, '.')+1:])
}

// Connect dials NATS with reconnects enabled.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("rulesmith"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return nc, nil
}

// Publisher publishes each event to its run subject. Publish only buffers in the
// client, so Emit never blocks on the server. Failed publishes are counted as
// drops and not retried.
type Publisher struct {
	nc      *nats.Conn
	prefix  string
	logger  *zap.Logger
	dropped atomic.Int64
}

// NewPublisher creates a publisher. An empty prefix uses DefaultSubjectPrefix.
func NewPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger}
}

// Emit implements orchestrator.Emitter.
func (p *Publisher) Emit(event orchestrator.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		p.drop(event, err)
		return
	}
	if err := p.nc.Publish(Subject(p.prefix, event.RunID, event.Type), data); err != nil {
		p.drop(event, err)
	}
}

func (p *Publisher) drop(event orchestrator.Event, err error) {
	p.dropped.Add(1)
	p.logger.Warn("event publish failed",
		zap.String("run.id", event.RunID),
		zap.String("event", string(event.Type)),
		zap.Int("seq", event.Seq),
		zap.Error(err),
	)
}

// Dropped implements orchestrator.DropCounter.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Prefix returns the subject prefix.
func (p *Publisher) Prefix() string {
	return p.prefix
}

var (
	_ orchestrator.Emitter     = (*Publisher)(nil)
	_ orchestrator.DropCounter = (*Publisher)(nil)
)
