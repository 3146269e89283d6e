package order

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrEmptyItems rejects a submission with no line items.
var ErrEmptyItems = errors.New("at least one item is required")

// InvalidQuantityError indicates a line item with quantity below 1.
type InvalidQuantityError struct {
	Name string
}

func (e *InvalidQuantityError) Error() string {
	return "quantity must be at least 1 for item " + e.Name
}

// InvalidPriceError indicates a line item with a non-positive unit price.
type InvalidPriceError struct {
	Name string
}

func (e *InvalidPriceError) Error() string {
	return "price must be positive for item " + e.Name
}

// InvalidNameError indicates a line item with a blank name.
type InvalidNameError struct {
	Index int
}

func (e *InvalidNameError) Error() string {
	return "item name is required"
}

// ItemRequest is one client-supplied line of an order submission.
type ItemRequest struct {
	Name     string
	Price    decimal.Decimal
	Quantity int
}

// PlaceOrderRequest holds the client input for placing an order.
type PlaceOrderRequest struct {
	RestaurantID        int64
	Items               []ItemRequest
	DeliveryAddress     string
	SpecialInstructions string
}

// Assemble validates a submission and produces the Order aggregate with
// status PENDING.
//
// Pricing policy: unit prices are client-supplied and validated as strictly
// positive. Line totals and the order total are computed here with fixed-point
// decimal arithmetic; the client's idea of a total is never read.
func Assemble(req PlaceOrderRequest, customerID string) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	items := make([]Item, len(req.Items))
	total := decimal.Zero
	for i, it := range req.Items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			return nil, &InvalidNameError{Index: i}
		}
		if it.Quantity < 1 {
			return nil, &InvalidQuantityError{Name: name}
		}
		if !it.Price.IsPositive() {
			return nil, &InvalidPriceError{Name: name}
		}

		lineTotal := it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		items[i] = Item{
			Name:       name,
			UnitPrice:  it.Price,
			Quantity:   it.Quantity,
			TotalPrice: lineTotal,
		}
		total = total.Add(lineTotal)
	}

	return &Order{
		CustomerID:          customerID,
		RestaurantID:        req.RestaurantID,
		Items:               items,
		TotalAmount:         total,
		Status:              StatusPending,
		DeliveryAddress:     req.DeliveryAddress,
		SpecialInstructions: req.SpecialInstructions,
	}, nil
}
