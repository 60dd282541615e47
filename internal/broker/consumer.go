package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/retailgrid/sales-sync/internal/processor"
	"github.com/retailgrid/sales-sync/pkg/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
)

// State is the consumer lifecycle, queryable by the control surface instead
// of being inferred from shared flags.
type State int32

const (
	StateIdle State = iota
	StateConnected
	StateConsuming
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateConsuming:
		return "consuming"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Handler applies a raw message body. A nil return acknowledges the message,
// processor.ErrMalformed rejects it permanently, any other error requeues.
type Handler interface {
	Apply(ctx context.Context, body []byte) error
}

// Consumer subscribes to every branch queue with a prefetch of one
// unacknowledged message per queue. That bounds memory and keeps per-branch
// processing strictly in order; branches still interleave with each other.
type Consumer struct {
	url           string
	branches      []string
	handler       Handler
	deliveryLimit int
	logger        *slog.Logger

	conn     *amqp.Connection
	channels []*amqp.Channel
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	state    atomic.Int32
	mu       sync.Mutex
}

func NewConsumer(url string, branches []string, handler Handler, deliveryLimit int, logger *slog.Logger) *Consumer {
	return &Consumer{
		url:           url,
		branches:      branches,
		handler:       handler,
		deliveryLimit: deliveryLimit,
		logger:        logger,
	}
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

// Start connects, declares topology and begins consuming all branch queues.
// It returns once the subscriptions are registered; delivery loops run in
// the background until Stop or a broker failure.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.State(); s == StateConsuming || s == StateConnected {
		return fmt.Errorf("consumer already running (state %s)", s)
	}

	conn, err := amqp.Dial(c.url)
	if err != nil {
		c.state.Store(int32(StateFaulted))
		return fmt.Errorf("failed to connect to RabbitMQ: %v", err)
	}

	setupCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		c.state.Store(int32(StateFaulted))
		return fmt.Errorf("failed to open setup channel: %v", err)
	}
	if err := DeclareTopology(setupCh, c.branches); err != nil {
		setupCh.Close()
		conn.Close()
		c.state.Store(int32(StateFaulted))
		return err
	}
	setupCh.Close()

	c.conn = conn
	c.channels = nil
	c.state.Store(int32(StateConnected))

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	for _, branch := range c.branches {
		ch, err := conn.Channel()
		if err != nil {
			cancel()
			conn.Close()
			c.state.Store(int32(StateFaulted))
			return fmt.Errorf("failed to open channel for %s: %v", branch, err)
		}

		// QoS: prefetch 1 keeps exactly one in-flight message per queue,
		// which is the per-branch ordering guarantee.
		if err := ch.Qos(1, 0, false); err != nil {
			cancel()
			conn.Close()
			c.state.Store(int32(StateFaulted))
			return fmt.Errorf("failed to set QoS for %s: %v", branch, err)
		}

		msgs, err := ch.Consume(QueueName(branch), "", false, false, false, false, nil)
		if err != nil {
			cancel()
			conn.Close()
			c.state.Store(int32(StateFaulted))
			return fmt.Errorf("failed to register consumer for %s: %v", branch, err)
		}

		c.channels = append(c.channels, ch)
		c.wg.Add(1)
		go c.consumeLoop(loopCtx, branch, msgs)
	}

	c.state.Store(int32(StateConsuming))
	c.logger.Info("Consumer is online and waiting for messages", "queues", len(c.branches))
	return nil
}

// Stop cancels the delivery loops cooperatively and waits for in-flight
// message handling to finish before releasing broker resources.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.wg.Wait()

	for _, ch := range c.channels {
		ch.Close()
	}
	c.channels = nil
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	if c.State() != StateFaulted {
		c.state.Store(int32(StateIdle))
	}
	c.logger.Info("Consumer stopped")
}

// Listen runs the consumer in the foreground until the context is canceled
// or the broker link drops. Used by the headless consumer binary.
func (c *Consumer) Listen(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Stop()

	connClosed := make(chan *amqp.Error, 1)
	c.conn.NotifyClose(connClosed)

	select {
	case <-ctx.Done():
		return nil
	case err := <-connClosed:
		c.state.Store(int32(StateFaulted))
		return fmt.Errorf("broker connection lost: %v", err)
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, branch string, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				c.logger.Warn("Delivery channel closed", "branch", branch)
				c.state.Store(int32(StateFaulted))
				return
			}
			c.handleDelivery(ctx, branch, d)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, branch string, d amqp.Delivery) {
	// Stop is advisory for in-flight work: the apply runs on a context
	// detached from the loop's cancel and is bounded only by the store
	// timeouts, so a message caught mid-apply at shutdown still completes
	// and is acknowledged.
	err := c.handler.Apply(context.WithoutCancel(ctx), d.Body)
	if err == nil {
		metrics.MessagesConsumed.WithLabelValues("applied", branch).Inc()
		if err := d.Ack(false); err != nil {
			c.logger.Error("Failed to Ack message", "branch", branch, "error", err)
		}
		return
	}

	switch decideNack(err, deliveryCount(d), c.deliveryLimit) {
	case nackDrop:
		c.logger.Error("Poison message, rejecting without requeue", "branch", branch, "error", err)
		metrics.MessagesConsumed.WithLabelValues("poison", branch).Inc()
		metrics.DeadLettered.WithLabelValues(branch, "malformed").Inc()
		d.Nack(false, false)

	case nackDeadLetter:
		c.logger.Error("Delivery limit exceeded, parking in DLQ",
			"branch", branch,
			"delivery_count", deliveryCount(d),
			"limit", c.deliveryLimit,
			"error", err,
		)
		metrics.MessagesConsumed.WithLabelValues("exhausted", branch).Inc()
		metrics.DeadLettered.WithLabelValues(branch, "retry_exhausted").Inc()
		d.Nack(false, false)

	case nackRequeue:
		c.logger.Error("Processing failed, requeueing", "branch", branch, "error", err)
		metrics.Redeliveries.WithLabelValues(branch).Inc()
		// Throttle the redelivery unless the loop is already stopping.
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
		d.Nack(false, true)
	}
}

type nackAction int

const (
	nackRequeue nackAction = iota
	nackDrop
	nackDeadLetter
)

// decideNack maps a handler failure to an acknowledgment action. Malformed
// payloads are never requeued; transient failures are, until the quorum
// queue's delivery count passes the configured limit.
func decideNack(err error, deliveries int64, limit int) nackAction {
	if errors.Is(err, processor.ErrMalformed) {
		return nackDrop
	}
	if limit > 0 && deliveries >= int64(limit) {
		return nackDeadLetter
	}
	return nackRequeue
}

// deliveryCount reads the x-delivery-count header stamped by quorum queues.
// Absent on the first delivery.
func deliveryCount(d amqp.Delivery) int64 {
	if d.Headers == nil {
		return 0
	}
	switch v := d.Headers["x-delivery-count"].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}
