package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Handler executes one reconciliation task.
type Handler interface {
	Handle(ctx context.Context, t ReconcileTask) error
}

// Retrier puts a task back on the queue.
type Retrier interface {
	Enqueue(ctx context.Context, t ReconcileTask) error
}

// Consumer drains the identity.reconcile queue.  A task whose handler
// fails is republished with Attempt+1 until MaxAttempts, then dropped with
// an error log so an operator can pick it up.  The Retrier is expected to
// hold the task back for RetryDelay(Attempt) before it is redelivered.
type Consumer struct {
	URL     string
	Handler Handler
	Retry   Retrier
	Log     zerolog.Logger
}

// Run connects to RabbitMQ and consumes until ctx is cancelled.  Broker
// failures are retried with exponential backoff capped at 30s.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Log.Warn().Err(err).Dur("retry_in", backoff).Msg("reconcile consumer: dial failed")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.Warn().Err(err).Msg("reconcile consumer: consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(10, 0, false); err != nil {
		c.Log.Warn().Err(err).Msg("reconcile consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(ReconcileQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(ReconcileQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Process(ctx, d.Body); err != nil {
				c.Log.Error().Err(err).Msg("reconcile consumer: rejecting message")
				_ = d.Nack(false, false) // malformed; requeueing would loop forever
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Process handles one message body.  It only returns an error for bodies
// that cannot be decoded; handler failures are retried or dropped here.
func (c *Consumer) Process(ctx context.Context, body []byte) error {
	var t ReconcileTask
	if err := json.Unmarshal(body, &t); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	switch t.Kind {
	case TaskDeleteRemote, TaskResyncRemote, TaskPurgeLocal:
	default:
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}

	log := c.Log.With().Str("kind", string(t.Kind)).Uint64("user_id", t.UserID).
		Str("remote_ref", t.RemoteRef).Int("attempt", t.Attempt).Logger()

	err := c.Handler.Handle(ctx, t)
	if err == nil {
		log.Info().Msg("reconcile task done")
		return nil
	}
	t.Attempt++
	if t.Attempt >= MaxAttempts || c.Retry == nil {
		log.Error().Err(err).Str("reason", t.Reason).Msg("reconcile task abandoned; manual repair required")
		return nil
	}
	if rerr := c.Retry.Enqueue(ctx, t); rerr != nil {
		log.Error().Err(err).AnErr("retry_err", rerr).Msg("reconcile task failed and could not be requeued")
		return nil
	}
	log.Warn().Err(err).Dur("retry_in", RetryDelay(t.Attempt)).Msg("reconcile task failed; requeued")
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
