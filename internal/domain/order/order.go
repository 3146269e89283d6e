package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the order lifecycle position. Only the early transitions matter
// to this pipeline; terminal delivery states live in other services.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusPreparing Status = "PREPARING"
	StatusReady     Status = "READY"
	StatusCancelled Status = "CANCELLED"
)

// ParseStatus validates a client-supplied status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusAccepted, StatusPreparing, StatusReady, StatusCancelled:
		return st, nil
	default:
		return "", errors.Errorf("unknown order status %q", s)
	}
}

// Order is the aggregate root. TotalAmount is always recomputed server-side
// as the sum of line totals; it is never trusted from the client.
type Order struct {
	ID                  int64
	CustomerID          string
	RestaurantID        int64
	Items               []Item
	TotalAmount         decimal.Decimal
	Status              Status
	DeliveryAddress     string
	SpecialInstructions string
	CreatedAt           time.Time
}

// Item is a single line in an order. TotalPrice is derived from UnitPrice and
// Quantity during assembly and is never independently settable.
type Item struct {
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// ErrNotFound marks a lookup that matched no order.
var ErrNotFound = errors.New("order not found")

// Repository defines persistence operations for orders. Save assigns the ID.
type Repository interface {
	Save(ctx context.Context, o *Order) (*Order, error)
	FindByID(ctx context.Context, id int64) (*Order, error)
	FindByCustomer(ctx context.Context, customerID string) ([]Order, error)
	FindByRestaurant(ctx context.Context, restaurantID int64) ([]Order, error)
	UpdateStatus(ctx context.Context, id, restaurantID int64, status Status) (*Order, error)
}
