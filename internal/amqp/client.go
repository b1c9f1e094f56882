package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"ecu/internal/activity"
	"ecu/internal/log"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Client publishes and consumes activity messages. A broken connection is
// re-dialled on the next publish; repeated failures open a circuit breaker
// so publishing never stalls request handling.
type Client struct {
	url          string
	exchangeName string
	queueName    string
	logger       *log.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	failureCount int64
	state        int32
	lastFailure  time.Time
}

var _ activity.Recorder = (*Client)(nil)

func NewClient(url, exchangeName, queueName string, logger *log.Logger) (*Client, error) {
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       logger,
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) log() *log.Logger {
	l := c.logger
	if l == nil {
		l = log.New(log.DefaultConfig())
	}
	return l.WithComponent(log.ComponentAMQP)
}

// connect dials and declares the topology. Callers must not hold c.mu.
func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := setup(channel, c.exchangeName, c.queueName); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, channel
	c.mu.Unlock()
	return nil
}

func setup(ch *amqp091.Channel, exchange, queue string) error {
	err := ch.ExchangeDeclare(
		exchange, // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// routing key is the queue name
	if err := ch.QueueBind(queue, queue, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

func (c *Client) currentChannel() *amqp091.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil || c.channel.IsClosed() {
		return nil
	}
	return c.channel
}

// Record publishes e; it satisfies activity.Recorder.
func (c *Client) Record(ctx context.Context, e activity.Event) error {
	return c.PublishActivity(ctx, e)
}

// PublishActivity publishes an activity message.
func (c *Client) PublishActivity(ctx context.Context, e activity.Event) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish activity %s: %w", e.ID, ErrCircuitOpen)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := NewActivityMessage(e).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ch := c.currentChannel()
	if ch == nil {
		if err := c.connect(); err != nil {
			c.recordFailure()
			return err
		}
		ch = c.currentChannel()
		if ch == nil {
			c.recordFailure()
			return errors.New("AMQP channel unavailable")
		}
	}

	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(
		pctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    e.ID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.dropConnection()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	c.log().DebugContext(ctx, "Published activity message",
		log.FieldEventID, e.ID,
		log.FieldEventKind, string(e.Kind),
		"exchange", c.exchangeName,
		"queue", c.queueName)
	return nil
}

// ConsumeActivity delivers messages to handler until ctx is cancelled,
// reconnecting with exponential backoff when the connection drops.
// Malformed messages are dropped; handler errors requeue the message.
func (c *Client) ConsumeActivity(ctx context.Context, handler func(context.Context, *ActivityMessage) error) error {
	attempt := 0
	for {
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !isConnectionError(err) {
			return err
		}
		wait := exponentialBackoff(attempt)
		attempt++
		c.log().WarnContext(ctx, "AMQP consumer disconnected, reconnecting",
			log.FieldError, err,
			"attempt", attempt,
			"backoff", wait.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		c.dropConnection()
		if err := c.connect(); err != nil {
			c.log().WarnContext(ctx, "AMQP reconnect failed", log.FieldError, err)
			continue
		}
		attempt = 0
	}
}

func (c *Client) consumeOnce(ctx context.Context, handler func(context.Context, *ActivityMessage) error) error {
	ch := c.currentChannel()
	if ch == nil {
		return amqp091.ErrClosed
	}
	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	logger := c.log()
	logger.InfoContext(ctx, "Started consuming activity messages", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}

			msg, err := ActivityMessageFromJSON(delivery.Body)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to unmarshal message", log.FieldError, err)
				_ = delivery.Nack(false, false)
				continue
			}

			if err := handler(ctx, msg); err != nil {
				logger.ErrorContext(ctx, "Failed to handle message",
					log.FieldError, err,
					log.FieldEventID, msg.Event.ID)
				_ = delivery.Nack(false, true)
				continue
			}

			_ = delivery.Ack(false)
			logger.DebugContext(ctx, "Processed activity message",
				log.FieldEventID, msg.Event.ID,
				log.FieldEventKind, string(msg.Event.Kind))
		}
	}
}

func (c *Client) dropConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.mu.Lock()
	last := c.lastFailure
	c.mu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "channel closed"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
