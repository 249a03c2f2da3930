package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryDelayGrowsWithAttempt(t *testing.T) {
	assert.Zero(t, RetryDelay(0))
	assert.Equal(t, 30*time.Second, RetryDelay(1))
	for a := 2; a < MaxAttempts; a++ {
		assert.Greater(t, RetryDelay(a), RetryDelay(a-1), "attempt %d", a)
	}
	assert.Equal(t, 10*time.Minute, RetryDelay(50))
}

func TestDestination(t *testing.T) {
	name, args := Destination(ReconcileTask{Kind: TaskDeleteRemote})
	assert.Equal(t, ReconcileQueueName, name)
	assert.Nil(t, args)

	name, args = Destination(ReconcileTask{Kind: TaskDeleteRemote, Attempt: 2})
	assert.Equal(t, "identity.reconcile.retry.2", name)
	assert.Equal(t, int64(60_000), args["x-message-ttl"])
	assert.Equal(t, "", args["x-dead-letter-exchange"])
	assert.Equal(t, ReconcileQueueName, args["x-dead-letter-routing-key"])
}

// loopback redelivers every republished task into the consumer and keeps
// the delay each one would have waited in its retry queue.
type loopback struct {
	t      *testing.T
	c      *Consumer
	delays []time.Duration
}

func (l *loopback) Enqueue(ctx context.Context, t ReconcileTask) error {
	name, args := Destination(t)
	if name == ReconcileQueueName {
		return errors.New("retry published without delay")
	}
	l.delays = append(l.delays, time.Duration(args["x-message-ttl"].(int64))*time.Millisecond)
	return l.c.Process(ctx, body(l.t, t))
}

type failingHandler struct{ calls int }

func (h *failingHandler) Handle(context.Context, ReconcileTask) error {
	h.calls++
	return errors.New("provider unavailable")
}

func TestFailingTaskIsSpreadOverGrowingDelays(t *testing.T) {
	h := &failingHandler{}
	c := &Consumer{Handler: h, Log: zerolog.Nop()}
	lb := &loopback{t: t, c: c}
	c.Retry = lb

	require.NoError(t, c.Process(context.Background(), body(t, ReconcileTask{Kind: TaskDeleteRemote, RemoteRef: "auth0|x"})))

	assert.Equal(t, MaxAttempts, h.calls)
	require.Len(t, lb.delays, MaxAttempts-1)
	var total time.Duration
	for i, d := range lb.delays {
		if i > 0 {
			assert.Greater(t, d, lb.delays[i-1])
		}
		total += d
	}
	assert.GreaterOrEqual(t, total, 5*time.Minute)
}
