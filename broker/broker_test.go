package broker

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrofind/hydrofind/task"
)

// startServer runs an embedded JetStream server on a random port.
func startServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	require.NoError(t, err)

	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second), "embedded server failed to start")

	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	ns := startServer(t)

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	cfg := DefaultConfig()
	cfg.FetchTimeout = 500 * time.Millisecond

	b, err := New(context.Background(), nc, cfg, nil)
	require.NoError(t, err)
	return b
}

func TestPublishAndConsume(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	msg := &task.Message{TaskID: "t1", Query: "Фитинг BSP 3/4", Type: task.KindSingle, Priority: 5}
	require.NoError(t, b.Publish(ctx, msg, 0))

	consumer, err := b.Consumer(ctx)
	require.NoError(t, err)

	d, err := consumer.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", d.Message().TaskID)
	assert.Equal(t, "Фитинг BSP 3/4", d.Message().Query)
	assert.Zero(t, d.Retries())
	assert.False(t, d.SentAt().IsZero())

	require.NoError(t, d.Ack())

	// Work queue: an acknowledged message is gone.
	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Messages)
}

func TestRetryCountRoundTrip(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	msg := &task.Message{TaskID: "t1", Query: "q", Type: task.KindSingle, Priority: 5}
	require.NoError(t, b.Publish(ctx, msg, 2))

	consumer, err := b.Consumer(ctx)
	require.NoError(t, err)

	d, err := consumer.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Retries())
	require.NoError(t, d.Ack())
}

func TestNakRedelivers(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, &task.Message{TaskID: "t1", Query: "q", Type: task.KindSingle, Priority: 5}, 0))

	consumer, err := b.Consumer(ctx)
	require.NoError(t, err)

	d, err := consumer.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Nak())

	again, err := consumer.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", again.Message().TaskID)
	require.NoError(t, again.Ack())
}

func TestBatchSubject(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	msg := &task.Message{TaskID: "b1", Text: "Фитинг X - 10шт\nМуфта Y", Type: task.KindBatch, Priority: 7}
	require.NoError(t, b.Publish(ctx, msg, 0))

	consumer, err := b.Consumer(ctx)
	require.NoError(t, err)

	d, err := consumer.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b1", d.Message().TaskID)
	assert.NotEmpty(t, d.Message().Text)
	require.NoError(t, d.Ack())
}

func TestNext_EmptyQueue(t *testing.T) {
	b := newTestBroker(t)

	consumer, err := b.Consumer(context.Background())
	require.NoError(t, err)

	_, err = consumer.Next(context.Background())
	assert.ErrorIs(t, err, ErrNoMessages)
}

func TestStatsAndPurge(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, &task.Message{TaskID: "t1", Query: "a", Type: task.KindSingle, Priority: 5}, 0))
	require.NoError(t, b.Publish(ctx, &task.Message{TaskID: "t2", Query: "b", Type: task.KindSingle, Priority: 5}, 0))

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Messages)

	require.NoError(t, b.Purge(ctx))

	stats, err = b.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Messages)
}

func TestHealthy(t *testing.T) {
	b := newTestBroker(t)
	assert.True(t, b.Healthy())
}
