package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	publishTimeout   = 5 * time.Second
	dialTimeout      = 10 * time.Second
	reconnectMax     = 30 * time.Second
	consumerPrefetch = 50
)

// RabbitBus is the broker-backed bus: a durable topic exchange with durable
// queues, persistent messages, and a dead-letter exchange. The client
// reconnects with exponential backoff when the connection or the publish
// channel drops.
type RabbitBus struct {
	url string
	lg  *zap.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	pubChan *amqp.Channel

	closed    chan struct{}
	closeOnce sync.Once
	reconnect chan struct{}
}

var _ Publisher = (*RabbitBus)(nil)

// ConnectRabbit dials the broker, declares the topology, and starts the
// reconnect watcher.
func ConnectRabbit(ctx context.Context, url string) (*RabbitBus, error) {
	b := &RabbitBus{
		url:       url,
		lg:        zctx.From(ctx),
		closed:    make(chan struct{}),
		reconnect: make(chan struct{}, 1),
	}
	if err := b.connectOnce(); err != nil {
		return nil, errors.Wrap(err, "connect rabbitmq")
	}
	go b.watch()
	return b, nil
}

// Publish sends the envelope to the topic exchange with its routing key. The
// message is persistent and carries the type tag both inside the envelope and
// in the AMQP Type property for broker-side visibility.
func (b *RabbitBus) Publish(ctx context.Context, env Envelope) error {
	b.mu.RLock()
	conn, ch := b.conn, b.pubChan
	b.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq: connection is not open")
	}
	if ch == nil || ch.IsClosed() {
		return errors.New("rabbitmq: publish channel is not open")
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return ch.PublishWithContext(ctx,
		Exchange, env.RoutingKey, false, false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Type:         env.TypeTag,
			MessageId:    env.MessageID,
			Timestamp:    env.OccurredAt,
			Body:         env.Encode(),
		})
}

// Subscribe consumes queue until ctx is cancelled, recreating the channel
// with backoff whenever it drops. Malformed messages and messages that fail
// again on redelivery are dead-lettered; first-time handler failures are
// requeued, giving every message at least one redelivery before the DLX.
func (b *RabbitBus) Subscribe(ctx context.Context, queue string, handler Handler) {
	lg := zctx.From(ctx).With(zap.String("queue", queue))

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.closed:
			return
		default:
		}

		ch, err := b.consumerChannel()
		if err != nil {
			lg.Error("open consumer channel", zap.Error(err))
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = time.Second

		deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			_ = ch.Close()
			lg.Error("start consuming", zap.Error(err))
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	consume:
		for {
			select {
			case <-ctx.Done():
				_ = ch.Close()
				return
			case amqpErr := <-chClosed:
				lg.Warn("consumer channel closed", zap.Error(amqpErr))
				break consume
			case d, open := <-deliveries:
				if !open {
					break consume
				}
				b.handleDelivery(ctx, lg, handler, d)
			}
		}

		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func (b *RabbitBus) handleDelivery(ctx context.Context, lg *zap.Logger, handler Handler, d amqp.Delivery) {
	env, err := DecodeEnvelope(d.Body)
	if err != nil {
		// Malformed JSON cannot be fixed by redelivery.
		lg.Error("malformed envelope, dead-lettering", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	attempt := 1
	if d.Redelivered {
		attempt = 2
	}
	err = handler(ctx, Delivery{
		Envelope:    env,
		Attempt:     attempt,
		Redelivered: d.Redelivered,
	})
	if err == nil {
		_ = d.Ack(false)
		return
	}

	if d.Redelivered {
		lg.Error("handler failed on redelivery, dead-lettering",
			zap.String("message_id", env.MessageID),
			zap.Error(err),
		)
		_ = d.Nack(false, false)
		return
	}

	lg.Warn("handler failed, requeueing",
		zap.String("message_id", env.MessageID),
		zap.Error(err),
	)
	_ = d.Nack(false, true)
}

// Ping reports whether the underlying connection is usable.
func (b *RabbitBus) Ping() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.conn == nil || b.conn.IsClosed() {
		return errors.New("rabbitmq: no connection")
	}
	return nil
}

// Close stops the watcher and closes AMQP resources.
func (b *RabbitBus) Close() {
	b.closeOnce.Do(func() { close(b.closed) })

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubChan != nil {
		_ = b.pubChan.Close()
		b.pubChan = nil
	}
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
}

func (b *RabbitBus) consumerChannel() (*amqp.Channel, error) {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, errors.New("rabbitmq: connection is not ready")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(consumerPrefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (b *RabbitBus) connectOnce() error {
	conn, err := amqp.DialConfig(b.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	b.mu.Lock()
	b.conn = conn
	if b.pubChan != nil {
		_ = b.pubChan.Close()
	}
	b.pubChan = ch
	b.mu.Unlock()

	go func() {
		connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
		chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-b.closed:
			return
		case <-connClosed:
		case <-chClosed:
		}
		select {
		case b.reconnect <- struct{}{}:
		default:
		}
	}()

	b.lg.Info("rabbitmq connected", zap.String("exchange", Exchange))
	return nil
}

func (b *RabbitBus) watch() {
	backoff := time.Second
	for {
		select {
		case <-b.closed:
			return
		case <-b.reconnect:
			for {
				select {
				case <-b.closed:
					return
				default:
				}
				if err := b.connectOnce(); err == nil {
					backoff = time.Second
					break
				} else {
					b.lg.Error("rabbitmq reconnect failed", zap.Error(err))
				}
				time.Sleep(backoff)
				backoff = nextBackoff(backoff)
			}
		}
	}
}

// declareTopology declares the exchange, the dead-letter exchange, and the
// durable consumer queues. Declaration is idempotent, so every service can
// run it at startup regardless of boot order.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return errors.Wrap(err, "declare exchange")
	}
	if err := ch.ExchangeDeclare(ExchangeDeadLetter, "topic", true, false, false, false, nil); err != nil {
		return errors.Wrap(err, "declare dead-letter exchange")
	}

	for _, queue := range []string{QueueNotifications, QueueRestaurant} {
		_, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange": ExchangeDeadLetter,
		})
		if err != nil {
			return errors.Wrapf(err, "declare queue %s", queue)
		}
		if err := ch.QueueBind(queue, "order.placed", Exchange, false, nil); err != nil {
			return errors.Wrapf(err, "bind queue %s", queue)
		}
	}

	// Single shared parking queue for messages that exhaust redelivery.
	if _, err := ch.QueueDeclare(QueueDeadLetter, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "declare queue %s", QueueDeadLetter)
	}
	if err := ch.QueueBind(QueueDeadLetter, "#", ExchangeDeadLetter, false, nil); err != nil {
		return errors.Wrapf(err, "bind queue %s", QueueDeadLetter)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > reconnectMax {
		return reconnectMax
	}
	return next
}
