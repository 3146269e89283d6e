// Package consumer holds the independent order-placed consumers. Each one is
// idempotent per order ID: the bus delivers at-least-once, and two workers
// may race on the same redelivered message.
package consumer

import (
	"context"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/clevy11/bytebites-orders/internal/eventbus"
	"github.com/clevy11/bytebites-orders/internal/events"
)

// Mailer sends the customer-facing order confirmation. Implementations talk
// to a mail or push gateway; failures must be returned, not swallowed, so the
// bus redelivery policy applies.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, ev events.OrderPlacedEvent) error
}

// NotificationDispatcher consumes order-placed events and notifies the
// customer exactly once per order.
type NotificationDispatcher struct {
	registry *eventbus.Registry
	mailer   Mailer
	guard    *Guard
}

// NewNotificationDispatcher wires the dispatcher with its own type registry.
func NewNotificationDispatcher(mailer Mailer) *NotificationDispatcher {
	registry := eventbus.NewRegistry()
	events.RegisterOrderPlaced(registry)
	return &NotificationDispatcher{
		registry: registry,
		mailer:   mailer,
		guard:    NewGuard(),
	}
}

// HandleDelivery is the bus-facing entrypoint: decode, then handle.
func (d *NotificationDispatcher) HandleDelivery(ctx context.Context, delivery eventbus.Delivery) error {
	decoded, err := d.registry.Decode(delivery.Envelope)
	if err != nil {
		return err
	}
	ev, ok := decoded.(events.OrderPlacedEvent)
	if !ok {
		return errors.Errorf("unexpected event type %T", decoded)
	}
	return d.Handle(ctx, ev)
}

// Handle dispatches the confirmation for one order-placed event. A repeat
// delivery of an already-notified order is acknowledged without side effects.
func (d *NotificationDispatcher) Handle(ctx context.Context, ev events.OrderPlacedEvent) error {
	lg := zctx.From(ctx).With(
		zap.Int64("order_id", ev.OrderID),
		zap.String("customer_id", ev.CustomerID),
	)

	key := orderKey(ev.OrderID)
	if !d.guard.Claim(key) {
		lg.Info("duplicate order placed event, notification skipped")
		return nil
	}

	lg.Info("sending order confirmation",
		zap.Int64("restaurant_id", ev.RestaurantID),
		zap.String("total_amount", ev.TotalAmount.String()),
	)

	if err := d.mailer.SendOrderConfirmation(ctx, ev); err != nil {
		d.guard.Release(key)
		return errors.Wrap(err, "send order confirmation")
	}

	d.guard.Done(key)
	lg.Info("order confirmation sent")
	return nil
}

// LogMailer is the development Mailer: it records the notification in the log
// instead of calling a mail gateway.
type LogMailer struct {
	Logger *zap.Logger
}

func (m *LogMailer) SendOrderConfirmation(_ context.Context, ev events.OrderPlacedEvent) error {
	m.Logger.Info("order confirmation email",
		zap.Int64("order_id", ev.OrderID),
		zap.String("customer_id", ev.CustomerID),
		zap.String("total_amount", ev.TotalAmount.String()),
		zap.Int("items", len(ev.Items)),
	)
	return nil
}

func orderKey(orderID int64) string {
	return strconv.FormatInt(orderID, 10)
}
