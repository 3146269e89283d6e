// Package events holds the wire contracts of the events this system exchanges
// over the bus. The type tags here are stable cross-service strings; the Go
// types are this module's local representation of them.
package events

import (
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/clevy11/bytebites-orders/internal/eventbus"
)

// Contract strings for the order-placed event. Both sides of the bus agree on
// these, never on Go type names.
const (
	RoutingKeyOrderPlaced = "order.placed"
	TypeTagOrderPlaced    = "order.placed"
)

// OrderPlacedEvent is published once per successfully created order. It
// carries everything a consumer needs to act without re-querying the order
// store. Consumers receive it at-least-once and must not mutate it.
//
// Monetary amounts travel as JSON strings ("21.00"), not numbers, so
// consumers in float-only runtimes cannot lose precision. decimal accepts
// both forms on decode.
type OrderPlacedEvent struct {
	OrderID      int64           `json:"orderId"`
	CustomerID   string          `json:"customerId"`
	RestaurantID int64           `json:"restaurantId"`
	Items        []OrderItemData `json:"items"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
}

// OrderItemData is the simplified per-item summary inside the event.
type OrderItemData struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// DecodeOrderPlaced parses an order-placed payload.
func DecodeOrderPlaced(payload []byte) (OrderPlacedEvent, error) {
	var ev OrderPlacedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return OrderPlacedEvent{}, errors.Wrap(err, "decode order.placed payload")
	}
	return ev, nil
}

// RegisterOrderPlaced installs the order-placed decoder into a consumer's
// type registry.
func RegisterOrderPlaced(r *eventbus.Registry) {
	r.Register(TypeTagOrderPlaced, func(payload []byte) (any, error) {
		return DecodeOrderPlaced(payload)
	})
}
