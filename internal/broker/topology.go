package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeSales is the durable direct exchange branches publish into.
	// The routing key of every message is the branch identifier.
	ExchangeSales = "sales.direct"

	// ExchangeDeadLetter receives messages rejected without requeue.
	ExchangeDeadLetter = "sales.dlx"

	// QueueDeadLetter parks poison and retry-exhausted messages for manual
	// inspection.
	QueueDeadLetter = "sales.dlq"
)

// QueueName returns the durable queue bound for a branch.
func QueueName(branch string) string {
	return fmt.Sprintf("sales.queue.%s", branch)
}

// DeclareTopology sets up the exchange, the per-branch queues and the
// dead-letter path. Every declaration is idempotent: re-declaring an
// existing durable entity with the same arguments is a no-op, so both the
// publishers and the consumer call this at startup.
func DeclareTopology(ch *amqp.Channel, branches []string) error {
	if err := ch.ExchangeDeclare(
		ExchangeSales,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare sales exchange: %v", err)
	}

	if err := ch.ExchangeDeclare(
		ExchangeDeadLetter,
		"fanout",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %v", err)
	}

	if _, err := ch.QueueDeclare(QueueDeadLetter, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %v", err)
	}
	if err := ch.QueueBind(QueueDeadLetter, "", ExchangeDeadLetter, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue: %v", err)
	}

	// Quorum queues expose x-delivery-count on redelivered messages, which
	// is what bounds the requeue loop on permanently broken records.
	args := amqp.Table{
		"x-queue-type":           "quorum",
		"x-dead-letter-exchange": ExchangeDeadLetter,
	}

	for _, branch := range branches {
		q, err := ch.QueueDeclare(QueueName(branch), true, false, false, false, args)
		if err != nil {
			return fmt.Errorf("failed to declare queue for %s: %v", branch, err)
		}
		if err := ch.QueueBind(q.Name, branch, ExchangeSales, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue for %s: %v", branch, err)
		}
	}

	return nil
}
