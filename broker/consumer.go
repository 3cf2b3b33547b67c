package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/hydrofind/hydrofind/task"
)

// Consumer pulls deliveries one at a time from the durable consumer.
type Consumer struct {
	consumer     jetstream.Consumer
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// Delivery is one in-flight task message. The worker must settle it with
// exactly one of Ack or Nak.
type Delivery struct {
	msg     *task.Message
	retries int
	sentAt  time.Time

	raw jetstream.Msg
}

// Message returns the decoded task payload.
func (d *Delivery) Message() *task.Message { return d.msg }

// Retries returns how many republishes preceded this delivery.
func (d *Delivery) Retries() int { return d.retries }

// SentAt returns the publish wall-clock time, zero when absent.
func (d *Delivery) SentAt() time.Time { return d.sentAt }

// Ack settles the delivery; the queue forgets it.
func (d *Delivery) Ack() error { return d.raw.Ack() }

// Nak returns the delivery for redelivery.
func (d *Delivery) Nak() error { return d.raw.Nak() }

// Next fetches a single delivery, waiting up to the fetch timeout. An
// empty window returns ErrNoMessages so the poll loop can spin quietly.
func (c *Consumer) Next(ctx context.Context) (*Delivery, error) {
	msgs, err := c.consumer.Fetch(1, jetstream.FetchMaxWait(c.fetchTimeout))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrNoMessages
	}

	for raw := range msgs.Messages() {
		return c.decode(raw)
	}
	if err := msgs.Error(); err != nil && err != context.DeadlineExceeded {
		c.logger.Warn("Message fetch error", "error", err)
	}
	return nil, ErrNoMessages
}

func (c *Consumer) decode(raw jetstream.Msg) (*Delivery, error) {
	msg, err := task.ParseMessage(raw.Data())
	if err != nil {
		// A payload that cannot decode will never decode; drop it.
		c.logger.Error("Discarding undecodable message", "error", err)
		if termErr := raw.Term(); termErr != nil {
			c.logger.Warn("Failed to terminate message", "error", termErr)
		}
		return nil, fmt.Errorf("decode delivery: %w", err)
	}

	d := &Delivery{msg: msg, raw: raw}
	if v := raw.Headers().Get(HeaderRetryCount); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			d.retries = n
		}
	}
	if v := raw.Headers().Get(HeaderSentTimestamp); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			d.sentAt = time.Unix(ts, 0)
		}
	}
	return d, nil
}
