package consumer

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/clevy11/bytebites-orders/internal/eventbus"
	"github.com/clevy11/bytebites-orders/internal/events"
)

// Kitchen starts restaurant-side preparation for a placed order.
type Kitchen interface {
	StartPreparation(ctx context.Context, ev events.OrderPlacedEvent) error
}

// KitchenWorkflowTrigger consumes order-placed events and kicks off kitchen
// preparation once per order, independently of the notification path.
type KitchenWorkflowTrigger struct {
	registry *eventbus.Registry
	kitchen  Kitchen
	guard    *Guard
}

// NewKitchenWorkflowTrigger wires the trigger with its own type registry.
func NewKitchenWorkflowTrigger(kitchen Kitchen) *KitchenWorkflowTrigger {
	registry := eventbus.NewRegistry()
	events.RegisterOrderPlaced(registry)
	return &KitchenWorkflowTrigger{
		registry: registry,
		kitchen:  kitchen,
		guard:    NewGuard(),
	}
}

// HandleDelivery is the bus-facing entrypoint: decode, then handle.
func (t *KitchenWorkflowTrigger) HandleDelivery(ctx context.Context, delivery eventbus.Delivery) error {
	decoded, err := t.registry.Decode(delivery.Envelope)
	if err != nil {
		return err
	}
	ev, ok := decoded.(events.OrderPlacedEvent)
	if !ok {
		return errors.Errorf("unexpected event type %T", decoded)
	}
	return t.Handle(ctx, ev)
}

// Handle triggers preparation for one order-placed event, suppressing
// duplicate deliveries of the same order.
func (t *KitchenWorkflowTrigger) Handle(ctx context.Context, ev events.OrderPlacedEvent) error {
	lg := zctx.From(ctx).With(
		zap.Int64("order_id", ev.OrderID),
		zap.Int64("restaurant_id", ev.RestaurantID),
	)

	key := orderKey(ev.OrderID)
	if !t.guard.Claim(key) {
		lg.Info("duplicate order placed event, preparation already triggered")
		return nil
	}

	lg.Info("starting order preparation", zap.Int("items", len(ev.Items)))

	if err := t.kitchen.StartPreparation(ctx, ev); err != nil {
		t.guard.Release(key)
		return errors.Wrap(err, "start preparation")
	}

	t.guard.Done(key)
	lg.Info("order preparation triggered")
	return nil
}

// LogKitchen is the development Kitchen: it records the trigger in the log
// instead of calling a kitchen display system.
type LogKitchen struct {
	Logger *zap.Logger
}

func (k *LogKitchen) StartPreparation(_ context.Context, ev events.OrderPlacedEvent) error {
	k.Logger.Info("kitchen preparation started",
		zap.Int64("order_id", ev.OrderID),
		zap.Int64("restaurant_id", ev.RestaurantID),
		zap.Int("items", len(ev.Items)),
	)
	return nil
}
