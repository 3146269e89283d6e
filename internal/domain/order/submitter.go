package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/clevy11/bytebites-orders/internal/eventbus"
	"github.com/clevy11/bytebites-orders/internal/events"
	"github.com/clevy11/bytebites-orders/internal/resilience"
)

// FallbackAddress is the sentinel delivery address on a degraded order, kept
// stable so operators and reconciliation jobs can find fallback orders.
const FallbackAddress = "Fallback address"

// Submitter persists an order and publishes its OrderPlacedEvent behind an
// explicit resilience policy: bounded retries around persistence, a circuit
// breaker across calls, and a degraded fallback when both give up.
//
// Only persistence is ever retried. Publication happens at most once, strictly
// after the order is committed; a publish failure is surfaced in the logs but
// never rolls the order back (at-least-once fan-out without an outbox).
type Submitter struct {
	repo    Repository
	bus     eventbus.Publisher
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
}

// NewSubmitter composes the resilience policy around repo and bus.
func NewSubmitter(repo Repository, bus eventbus.Publisher, breaker *resilience.Breaker, retry resilience.RetryConfig) *Submitter {
	return &Submitter{
		repo:    repo,
		bus:     bus,
		breaker: breaker,
		retry:   retry,
	}
}

// Submit stores the order and fans out the placed event. It never fails from
// the caller's point of view: when the breaker is open or retries are
// exhausted, the caller receives a degraded fallback order and the underlying
// cause goes to the error log. The fallback path publishes nothing.
func (s *Submitter) Submit(ctx context.Context, o *Order) *Order {
	lg := zctx.From(ctx).With(
		zap.String("customer_id", o.CustomerID),
		zap.Int64("restaurant_id", o.RestaurantID),
	)

	if !s.breaker.Allow() {
		lg.Error("order submission short-circuited",
			zap.Error(resilience.ErrCircuitOpen),
			zap.String("breaker_state", s.breaker.State().String()),
		)
		return s.fallback(o)
	}

	var saved *Order
	err := resilience.Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		saved, err = s.repo.Save(ctx, o)
		return err
	})
	if err != nil {
		// A cancelled caller says nothing about backend health; only real
		// persistence failures count against the breaker.
		if !errors.Is(err, context.Canceled) {
			s.breaker.RecordFailure()
		}
		lg.Error("order persistence failed, returning degraded order", zap.Error(err))
		return s.fallback(o)
	}
	s.breaker.RecordSuccess()

	s.publishPlaced(ctx, lg, saved)
	return saved
}

// publishPlaced emits the OrderPlacedEvent for a committed order. The order
// already exists, so a failure here is logged loudly and swallowed: the
// caller must not see a 5xx for a broker outage.
func (s *Submitter) publishPlaced(ctx context.Context, lg *zap.Logger, o *Order) {
	items := make([]events.OrderItemData, len(o.Items))
	for i, it := range o.Items {
		items[i] = events.OrderItemData{
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    it.UnitPrice,
		}
	}

	env, err := eventbus.NewEnvelope(events.RoutingKeyOrderPlaced, events.TypeTagOrderPlaced, events.OrderPlacedEvent{
		OrderID:      o.ID,
		CustomerID:   o.CustomerID,
		RestaurantID: o.RestaurantID,
		Items:        items,
		TotalAmount:  o.TotalAmount,
	})
	if err != nil {
		lg.Error("encode order placed event", zap.Int64("order_id", o.ID), zap.Error(err))
		return
	}

	if err := s.bus.Publish(ctx, env); err != nil {
		lg.Error("publish order placed event; order is committed, fan-out lost",
			zap.Int64("order_id", o.ID),
			zap.Error(errors.Wrap(err, "publish")),
		)
		return
	}
	lg.Info("order placed event published",
		zap.Int64("order_id", o.ID),
		zap.String("message_id", env.MessageID),
	)
}

// fallback builds the degraded order: pending, zero total, sentinel address,
// no event published. Fail visible, not silent.
func (s *Submitter) fallback(o *Order) *Order {
	return &Order{
		CustomerID:      o.CustomerID,
		RestaurantID:    o.RestaurantID,
		TotalAmount:     decimal.Zero,
		Status:          StatusPending,
		DeliveryAddress: FallbackAddress,
	}
}
