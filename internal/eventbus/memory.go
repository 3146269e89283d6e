package eventbus

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// MemoryBusConfig tunes the in-process bus.
type MemoryBusConfig struct {
	// MaxDeliveries caps how many times a message is handed to a failing
	// handler before it is dead-lettered.
	MaxDeliveries int
}

// DefaultMemoryBusConfig returns the defaults used by tests and the
// single-process development mode.
func DefaultMemoryBusConfig() MemoryBusConfig {
	return MemoryBusConfig{
		MaxDeliveries: 3,
	}
}

type memoryQueue struct {
	name    string
	pattern string
	wake    chan struct{}

	mu          sync.Mutex
	backlog     []Envelope
	deadLetters []Envelope
}

func (q *memoryQueue) push(env Envelope) {
	q.mu.Lock()
	q.backlog = append(q.backlog, env)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *memoryQueue) pop() (Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.backlog) == 0 {
		return Envelope{}, false
	}
	env := q.backlog[0]
	q.backlog = q.backlog[1:]
	return env, true
}

// MemoryBus is an in-process topic exchange with the same delivery contract
// as the broker-backed bus: per-queue ordering, at-least-once delivery with a
// retry cap, and queue-level isolation. Each bound queue owns an unbounded
// backlog drained by its own worker goroutine, so a stalled consumer on one
// queue accumulates messages without delaying the publisher or any other
// queue.
type MemoryBus struct {
	cfg MemoryBusConfig

	mu     sync.RWMutex
	queues map[string]*memoryQueue
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

var _ Publisher = (*MemoryBus)(nil)

// NewMemoryBus creates a bus with no bound queues.
func NewMemoryBus(cfg MemoryBusConfig) *MemoryBus {
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 1
	}
	return &MemoryBus{
		cfg:    cfg,
		queues: make(map[string]*memoryQueue),
		done:   make(chan struct{}),
	}
}

// Bind declares a named queue bound to the exchange with a routing pattern.
// Binding is idempotent for the same queue name.
func (b *MemoryBus) Bind(queue, pattern string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[queue]; ok {
		return
	}
	b.queues[queue] = &memoryQueue{
		name:    queue,
		pattern: pattern,
		wake:    make(chan struct{}, 1),
	}
}

// Publish fans the envelope out to every queue whose pattern matches the
// routing key. Delivery is an append to each queue's backlog, so Publish
// never waits on a consumer. A message matching no queue is dropped,
// mirroring an unbound topic exchange.
func (b *MemoryBus) Publish(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New("memory bus closed")
	}
	var matched []*memoryQueue
	for _, q := range b.queues {
		if MatchTopic(q.pattern, env.RoutingKey) {
			matched = append(matched, q)
		}
	}
	b.mu.RUnlock()

	for _, q := range matched {
		q.push(env)
	}
	return nil
}

// Subscribe attaches handler to a bound queue and starts its worker. The
// worker retries a failing delivery in place up to the configured cap, then
// dead-letters it; processing is sequential per queue so per-producer order
// is preserved. The worker stops when ctx is cancelled or, after draining
// the backlog, when the bus is closed.
func (b *MemoryBus) Subscribe(ctx context.Context, queue string, handler Handler) error {
	b.mu.RLock()
	q, ok := b.queues[queue]
	b.mu.RUnlock()
	if !ok {
		return errors.Errorf("queue %q is not bound", queue)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		lg := zctx.From(ctx).With(zap.String("queue", q.name))
		for {
			if env, ok := q.pop(); ok {
				b.deliver(ctx, lg, q, handler, env)
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				if env, ok := q.pop(); ok {
					b.deliver(ctx, lg, q, handler, env)
					continue
				}
				return
			case <-q.wake:
			}
		}
	}()
	return nil
}

func (b *MemoryBus) deliver(ctx context.Context, lg *zap.Logger, q *memoryQueue, handler Handler, env Envelope) {
	for attempt := 1; attempt <= b.cfg.MaxDeliveries; attempt++ {
		err := handler(ctx, Delivery{
			Envelope:    env,
			Attempt:     attempt,
			Redelivered: attempt > 1,
		})
		if err == nil {
			return
		}
		lg.Warn("handler failed, redelivering",
			zap.String("message_id", env.MessageID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	q.mu.Lock()
	q.deadLetters = append(q.deadLetters, env)
	q.mu.Unlock()
	lg.Error("message dead-lettered after retry cap",
		zap.String("message_id", env.MessageID),
		zap.Int("max_deliveries", b.cfg.MaxDeliveries),
	)
}

// DeadLetters returns a snapshot of the queue's dead-lettered envelopes.
func (b *MemoryBus) DeadLetters(queue string) []Envelope {
	b.mu.RLock()
	q, ok := b.queues[queue]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Envelope(nil), q.deadLetters...)
}

// Close stops accepting publishes, lets the workers drain their backlogs,
// and waits for them.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.done)
	b.wg.Wait()
}
