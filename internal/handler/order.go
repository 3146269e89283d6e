package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/clevy11/bytebites-orders/internal/auth"
	"github.com/clevy11/bytebites-orders/internal/domain/order"
)

type placeOrderItem struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type placeOrderRequest struct {
	RestaurantID        int64            `json:"restaurantId"`
	Items               []placeOrderItem `json:"items"`
	DeliveryAddress     string           `json:"deliveryAddress"`
	SpecialInstructions string           `json:"specialInstructions,omitempty"`
}

type orderItemResponse struct {
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Quantity   int             `json:"quantity"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

type orderResponse struct {
	ID                  int64               `json:"id"`
	CustomerID          string              `json:"customerId"`
	RestaurantID        int64               `json:"restaurantId"`
	Items               []orderItemResponse `json:"items"`
	TotalAmount         decimal.Decimal     `json:"totalAmount"`
	Status              string              `json:"status"`
	DeliveryAddress     string              `json:"deliveryAddress"`
	SpecialInstructions string              `json:"specialInstructions,omitempty"`
	CreatedAt           time.Time           `json:"createdAt"`
}

type updateStatusRequest struct {
	RestaurantID int64  `json:"restaurantId"`
	Status       string `json:"status"`
}

func orderToResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			Name:       it.Name,
			UnitPrice:  it.UnitPrice,
			Quantity:   it.Quantity,
			TotalPrice: it.TotalPrice,
		}
	}
	return orderResponse{
		ID:                  o.ID,
		CustomerID:          o.CustomerID,
		RestaurantID:        o.RestaurantID,
		Items:               items,
		TotalAmount:         o.TotalAmount,
		Status:              string(o.Status),
		DeliveryAddress:     o.DeliveryAddress,
		SpecialInstructions: o.SpecialInstructions,
		CreatedAt:           o.CreatedAt,
	}
}

func ordersToResponse(orders []order.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = orderToResponse(&orders[i])
	}
	return out
}

// PlaceOrder handles POST /api/orders. Validation failures are 400; once the
// order assembles, submission always answers 201 even on the degraded path.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req placeOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	items := make([]order.ItemRequest, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.ItemRequest{
			Name:     it.Name,
			Price:    it.Price,
			Quantity: it.Quantity,
		}
	}

	assembled, err := order.Assemble(order.PlaceOrderRequest{
		RestaurantID:        req.RestaurantID,
		Items:               items,
		DeliveryAddress:     req.DeliveryAddress,
		SpecialInstructions: req.SpecialInstructions,
	}, p.Subject)
	if err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	saved := h.submitter.Submit(r.Context(), assembled)
	writeJSON(w, http.StatusCreated, orderToResponse(saved))
}

// validationMessage maps assembly errors to client-facing messages. All of
// them are client faults; anything unrecognized falls through verbatim.
func validationMessage(err error) string {
	var (
		qtyErr   *order.InvalidQuantityError
		priceErr *order.InvalidPriceError
		nameErr  *order.InvalidNameError
	)
	switch {
	case errors.Is(err, order.ErrEmptyItems):
		return "at least one item is required"
	case errors.As(err, &qtyErr), errors.As(err, &priceErr), errors.As(err, &nameErr):
		return err.Error()
	default:
		return err.Error()
	}
}

// ListMyOrders handles GET /api/orders, scoped to the caller's own orders.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	orders, err := h.orders.FindByCustomer(r.Context(), p.Subject)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ordersToResponse(orders))
}

// GetOrder handles GET /api/orders/{id}. A customer sees only their own
// orders; admins see everything. A foreign order answers 404, not 403, to
// avoid confirming its existence.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := h.orders.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeInternal(w, r, err)
		return
	}

	if o.CustomerID != p.Subject && !p.HasRole(auth.RoleAdmin) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(o))
}

// RestaurantOrders handles GET /api/orders/restaurant/{restaurantId}.
func (h *Handler) RestaurantOrders(w http.ResponseWriter, r *http.Request) {
	restaurantID, err := strconv.ParseInt(chi.URLParam(r, "restaurantId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid restaurant id")
		return
	}

	orders, err := h.orders.FindByRestaurant(r.Context(), restaurantID)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ordersToResponse(orders))
}

// UpdateOrderStatus handles PUT /api/orders/{id}/status. The update is scoped
// by restaurant in the repository, so an owner cannot move another
// restaurant's order; a mismatch surfaces as 404.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req updateStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	status, err := order.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.orders.UpdateStatus(r.Context(), id, req.RestaurantID, status)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(updated))
}
