package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAssemble_EmptyItems(t *testing.T) {
	_, err := Assemble(PlaceOrderRequest{RestaurantID: 7}, "42")
	assert.ErrorIs(t, err, ErrEmptyItems)
}

func TestAssemble_InvalidQuantity(t *testing.T) {
	for _, qty := range []int{0, -1} {
		_, err := Assemble(PlaceOrderRequest{
			RestaurantID: 7,
			Items:        []ItemRequest{{Name: "Pizza", Price: dec("10.50"), Quantity: qty}},
		}, "42")

		var qtyErr *InvalidQuantityError
		require.ErrorAs(t, err, &qtyErr, "quantity %d", qty)
		assert.Equal(t, "Pizza", qtyErr.Name)
	}
}

func TestAssemble_InvalidPrice(t *testing.T) {
	for _, price := range []string{"0", "-1.50"} {
		_, err := Assemble(PlaceOrderRequest{
			RestaurantID: 7,
			Items:        []ItemRequest{{Name: "Pizza", Price: dec(price), Quantity: 1}},
		}, "42")

		var priceErr *InvalidPriceError
		require.ErrorAs(t, err, &priceErr, "price %s", price)
		assert.Equal(t, "Pizza", priceErr.Name)
	}
}

func TestAssemble_BlankName(t *testing.T) {
	_, err := Assemble(PlaceOrderRequest{
		RestaurantID: 7,
		Items: []ItemRequest{
			{Name: "Pizza", Price: dec("10.50"), Quantity: 1},
			{Name: "   ", Price: dec("5.00"), Quantity: 1},
		},
	}, "42")

	var nameErr *InvalidNameError
	require.ErrorAs(t, err, &nameErr)
	assert.Equal(t, 1, nameErr.Index)
}

func TestAssemble_Totals(t *testing.T) {
	o, err := Assemble(PlaceOrderRequest{
		RestaurantID: 7,
		Items: []ItemRequest{
			{Name: "Pizza", Price: dec("10.50"), Quantity: 2},
			{Name: "Cola", Price: dec("2.25"), Quantity: 3},
		},
		DeliveryAddress: "1 Main St",
	}, "42")
	require.NoError(t, err)

	assert.Equal(t, "42", o.CustomerID)
	assert.Equal(t, int64(7), o.RestaurantID)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, "1 Main St", o.DeliveryAddress)

	require.Len(t, o.Items, 2)
	assert.True(t, o.Items[0].TotalPrice.Equal(dec("21.00")), "got %s", o.Items[0].TotalPrice)
	assert.True(t, o.Items[1].TotalPrice.Equal(dec("6.75")), "got %s", o.Items[1].TotalPrice)
	assert.True(t, o.TotalAmount.Equal(dec("27.75")), "got %s", o.TotalAmount)
}

func TestAssemble_NoFloatDrift(t *testing.T) {
	// 0.1 * 3 is exactly 0.3 in decimal arithmetic.
	o, err := Assemble(PlaceOrderRequest{
		RestaurantID: 7,
		Items:        []ItemRequest{{Name: "Gum", Price: dec("0.1"), Quantity: 3}},
	}, "42")
	require.NoError(t, err)
	assert.True(t, o.TotalAmount.Equal(dec("0.3")), "got %s", o.TotalAmount)
}

func TestAssemble_TotalInvariantUnderReordering(t *testing.T) {
	items := []ItemRequest{
		{Name: "Pizza", Price: dec("10.50"), Quantity: 2},
		{Name: "Cola", Price: dec("2.25"), Quantity: 3},
		{Name: "Fries", Price: dec("4.40"), Quantity: 1},
	}
	reversed := []ItemRequest{items[2], items[1], items[0]}

	a, err := Assemble(PlaceOrderRequest{RestaurantID: 7, Items: items}, "42")
	require.NoError(t, err)
	b, err := Assemble(PlaceOrderRequest{RestaurantID: 7, Items: reversed}, "42")
	require.NoError(t, err)

	assert.True(t, a.TotalAmount.Equal(b.TotalAmount))
}

func TestAssemble_TrimsItemNames(t *testing.T) {
	o, err := Assemble(PlaceOrderRequest{
		RestaurantID: 7,
		Items:        []ItemRequest{{Name: "  Pizza  ", Price: dec("10.50"), Quantity: 1}},
	}, "42")
	require.NoError(t, err)
	assert.Equal(t, "Pizza", o.Items[0].Name)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("PREPARING")
	require.NoError(t, err)
	assert.Equal(t, StatusPreparing, st)

	_, err = ParseStatus("DELIVERED")
	assert.Error(t, err)

	_, err = ParseStatus("pending")
	assert.Error(t, err)
}
