package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clevy11/bytebites-orders/internal/consumer"
	"github.com/clevy11/bytebites-orders/internal/eventbus"
)

// RunNotificationWorker consumes the notification queue until ctx is
// cancelled. It shares the broker topology with the API but holds its own
// connection.
func RunNotificationWorker(ctx context.Context, lg *zap.Logger, cfg *Config) error {
	dispatcher := consumer.NewNotificationDispatcher(&consumer.LogMailer{Logger: lg})
	return runWorker(ctx, lg, cfg, eventbus.QueueNotifications, dispatcher.HandleDelivery)
}

// RunKitchenWorker consumes the restaurant queue until ctx is cancelled.
func RunKitchenWorker(ctx context.Context, lg *zap.Logger, cfg *Config) error {
	trigger := consumer.NewKitchenWorkflowTrigger(&consumer.LogKitchen{Logger: lg})
	return runWorker(ctx, lg, cfg, eventbus.QueueRestaurant, trigger.HandleDelivery)
}

func runWorker(ctx context.Context, lg *zap.Logger, cfg *Config, queue string, handler eventbus.Handler) error {
	bus, err := eventbus.ConnectRabbit(ctx, cfg.AMQPURL)
	if err != nil {
		return errors.Wrap(err, "connect rabbitmq")
	}
	defer bus.Close()

	lg.Info("Worker consuming", zap.String("queue", queue))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bus.Subscribe(ctx, queue, handler)
		return nil
	})
	return g.Wait()
}
