package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Relay subscribes to every event of runID and forwards them to w until a
// terminal event, ctx cancellation, or a write error. Events published before the
// subscription is active are not replayed.
func Relay(ctx context.Context, nc *nats.Conn, prefix, runID string, w Writer, heartbeat time.Duration) error {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}

	msgs := make(chan *nats.Msg, 64)
	sub, err := nc.ChanSubscribe(RunSubjects(prefix, runID), msgs)
	if err != nil {
		return fmt.Errorf("subscribing to run %s: %w", runID, err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()
	if err := nc.Flush(); err != nil {
		return fmt.Errorf("flushing subscription: %w", err)
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgs:
			t := eventType(msg.Subject)
			if err := w.WriteEvent(t, msg.Data); err != nil {
				return err
			}
			if t.Terminal() {
				return nil
			}
			ticker.Reset(heartbeat)
		case <-ticker.C:
			if err := w.Heartbeat(); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
