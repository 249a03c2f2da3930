// Package service holds the background side of account management: the
// RabbitMQ publisher for reconciliation tasks and the reconciler that
// executes them.
package service

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/account-admin/internal/queue"
)

// Publisher sends ReconcileTask messages to the identity.reconcile queue,
// or for retries to the delay queue of their attempt.
// It dials per publish; tasks are rare and a held connection would need
// its own reconnect logic.
type Publisher struct {
	url string
	log zerolog.Logger
}

func NewPublisher(url string, log zerolog.Logger) *Publisher {
	return &Publisher{url: url, log: log}
}

// Enqueue publishes t as a persistent message.  Errors are logged and
// returned; the caller decides whether they matter.
func (p *Publisher) Enqueue(ctx context.Context, t queue.ReconcileTask) error {
	pub, err := publishing(t, time.Now())
	if err != nil {
		p.log.Error().Err(err).Msg("rabbitmq: marshal task failed")
		return err
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.Error().Err(err).Msg("rabbitmq: dial failed")
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Error().Err(err).Msg("rabbitmq: channel open failed")
		return err
	}
	defer func() { _ = ch.Close() }()

	name, args := queue.Destination(t)
	if _, err := ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		args,  // args
	); err != nil {
		p.log.Error().Err(err).Str("queue", name).Msg("rabbitmq: queue declare failed")
		return err
	}

	if err := ch.PublishWithContext(ctx, "", name, false, false, pub); err != nil {
		p.log.Error().Err(err).Str("queue", name).Msg("rabbitmq: publish failed")
		return err
	}
	p.log.Info().Str("kind", string(t.Kind)).Uint64("user_id", t.UserID).Str("remote_ref", t.RemoteRef).
		Int("attempt", t.Attempt).Str("queue", name).Dur("delay", queue.RetryDelay(t.Attempt)).
		Msg("reconcile task queued")
	return nil
}

func publishing(t queue.ReconcileTask, now time.Time) (amqp.Publishing, error) {
	if t.CreatedAt == "" {
		t.CreatedAt = now.UTC().Format(time.RFC3339)
	}
	body, err := json.Marshal(t)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now.UTC(),
		Type:         string(t.Kind),
		Body:         body,
	}, nil
}
