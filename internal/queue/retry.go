package queue

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	retryBaseDelay = 30 * time.Second
	retryMaxDelay  = 10 * time.Minute
)

// RetryDelay is how long a task waits before the given attempt runs.  It
// starts at 30s and doubles per attempt up to 10 minutes; attempt 0 is the
// first delivery and does not wait.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := retryBaseDelay
	for i := 1; i < attempt && d < retryMaxDelay; i++ {
		d *= 2
	}
	return min(d, retryMaxDelay)
}

// RetryQueueName is the delay queue holding tasks waiting for attempt.
// Each attempt has its own queue so a short delay never sits behind a
// longer one.
func RetryQueueName(attempt int) string {
	return fmt.Sprintf("%s.retry.%d", ReconcileQueueName, attempt)
}

// RetryQueueArgs declares a delay queue: messages expire after
// RetryDelay(attempt) and are dead-lettered back onto the reconcile queue
// through the default exchange.
func RetryQueueArgs(attempt int) amqp.Table {
	return amqp.Table{
		"x-message-ttl":             RetryDelay(attempt).Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": ReconcileQueueName,
	}
}

// Destination returns the queue t is published to and its declare
// arguments.  First deliveries go straight to the reconcile queue; retries
// go through the delay queue of their attempt.
func Destination(t ReconcileTask) (string, amqp.Table) {
	if t.Attempt < 1 {
		return ReconcileQueueName, nil
	}
	return RetryQueueName(t.Attempt), RetryQueueArgs(t.Attempt)
}
