// Package broker is the durable task transport between the producer and
// the workers, backed by a JetStream work queue. Messages survive restarts
// and are redelivered until a worker explicitly acknowledges them.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hydrofind/hydrofind/task"
)

// Message headers carried alongside the task payload.
const (
	HeaderTaskID        = "x-task-id"
	HeaderPriority      = "x-priority"
	HeaderRetryCount    = "x-retry-count"
	HeaderSentTimestamp = "x-sent-timestamp"
)

// ErrNoMessages means the fetch window elapsed without a delivery.
var ErrNoMessages = errors.New("broker: no messages")

// Config holds transport settings.
type Config struct {
	URL          string
	StreamName   string
	SubjectBase  string
	ConsumerName string

	// FetchTimeout bounds one worker poll.
	FetchTimeout time.Duration

	// AckWait is how long JetStream waits for an acknowledgement before
	// redelivering; it must exceed the slowest pipeline run.
	AckWait time.Duration
}

// DefaultConfig returns the queue layout used by the service.
func DefaultConfig() Config {
	return Config{
		URL:          nats.DefaultURL,
		StreamName:   "SEARCH_TASKS",
		SubjectBase:  "search.task",
		ConsumerName: "search-workers",
		FetchTimeout: 5 * time.Second,
		AckWait:      10 * time.Minute,
	}
}

// Broker wraps the JetStream stream and its durable consumer.
type Broker struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	cfg    Config
	logger *slog.Logger
}

// Connect dials the broker and materializes the stream.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Broker, error) {
	nc, err := nats.Connect(cfg.URL, nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}
	b, err := New(ctx, nc, cfg, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

// New builds a Broker on an existing connection (tests pass an embedded
// server's connection here) and ensures the stream exists.
func New(ctx context.Context, nc *nats.Conn, cfg Config, logger *slog.Logger) (*Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	b := &Broker{nc: nc, js: js, cfg: cfg, logger: logger}
	if err := b.ensureStream(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Broker) ensureStream(ctx context.Context) error {
	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      b.cfg.StreamName,
		Subjects:  []string{b.cfg.SubjectBase + ".*"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", b.cfg.StreamName, err)
	}
	return nil
}

// Close drains in-flight acknowledgements and disconnects.
func (b *Broker) Close() {
	if b.nc != nil {
		b.nc.Drain()
	}
}

// Healthy reports connection liveness.
func (b *Broker) Healthy() bool {
	return b.nc != nil && b.nc.Status() == nats.CONNECTED
}

// Publish enqueues a task message durably. retryCount is zero on first
// publish; retries republish the same payload with the count bumped.
func (b *Broker) Publish(ctx context.Context, msg *task.Message, retryCount int) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.TaskID, err)
	}

	subject := b.cfg.SubjectBase + ".single"
	if msg.Type == task.KindBatch {
		subject = b.cfg.SubjectBase + ".batch"
	}

	m := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			HeaderTaskID:        []string{msg.TaskID},
			HeaderPriority:      []string{strconv.Itoa(msg.Priority)},
			HeaderRetryCount:    []string{strconv.Itoa(retryCount)},
			HeaderSentTimestamp: []string{strconv.FormatInt(time.Now().Unix(), 10)},
		},
	}

	if _, err := b.js.PublishMsg(ctx, m); err != nil {
		return fmt.Errorf("publish task %s: %w", msg.TaskID, err)
	}

	b.logger.Debug("Published task",
		"task_id", msg.TaskID,
		"subject", subject,
		"retry_count", retryCount)
	return nil
}

// Consumer binds the durable worker consumer. Every delivery must be
// acknowledged explicitly; prefetch is one message at a time.
func (b *Broker) Consumer(ctx context.Context) (*Consumer, error) {
	stream, err := b.js.Stream(ctx, b.cfg.StreamName)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", b.cfg.StreamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       b.cfg.ConsumerName,
		FilterSubject: b.cfg.SubjectBase + ".*",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.cfg.AckWait,
		MaxDeliver:    3,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", b.cfg.ConsumerName, err)
	}

	return &Consumer{consumer: consumer, fetchTimeout: b.cfg.FetchTimeout, logger: b.logger}, nil
}

// QueueStats is a point-in-time view of the queue.
type QueueStats struct {
	Messages   uint64 `json:"messages"`
	Pending    uint64 `json:"pending"`
	AckPending int    `json:"ack_pending"`
	Consumers  int    `json:"consumers"`
}

// Stats reads stream and consumer counters.
func (b *Broker) Stats(ctx context.Context) (QueueStats, error) {
	stream, err := b.js.Stream(ctx, b.cfg.StreamName)
	if err != nil {
		return QueueStats{}, fmt.Errorf("get stream %s: %w", b.cfg.StreamName, err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return QueueStats{}, fmt.Errorf("stream info: %w", err)
	}

	stats := QueueStats{
		Messages:  info.State.Msgs,
		Consumers: info.State.Consumers,
	}
	if ci, err := stream.Consumer(ctx, b.cfg.ConsumerName); err == nil {
		if cinfo, err := ci.Info(ctx); err == nil {
			stats.Pending = cinfo.NumPending
			stats.AckPending = cinfo.NumAckPending
		}
	}
	return stats, nil
}

// Purge drops every queued message. Operator escape hatch; in-flight
// deliveries are not recalled.
func (b *Broker) Purge(ctx context.Context) error {
	stream, err := b.js.Stream(ctx, b.cfg.StreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", b.cfg.StreamName, err)
	}
	if err := stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge stream: %w", err)
	}
	b.logger.Info("Purged queue", "stream", b.cfg.StreamName)
	return nil
}
