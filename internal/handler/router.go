package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clevy11/bytebites-orders/internal/auth"
	"github.com/clevy11/bytebites-orders/pkg/health"
)

// PublicPrefixes lists path prefixes that bypass the authorization gate.
// Everything else requires a verified bearer token.
var PublicPrefixes = []string{
	"/auth/register",
	"/auth/login",
	"/auth/refresh-token",
	"/livez",
	"/readyz",
}

// NewRouter assembles the chi router. The gate runs on every route; paths in
// PublicPrefixes pass through it unauthenticated. Role checks are declared
// per route group.
func NewRouter(h *Handler, codec *auth.Codec, healthSvc *health.Health) http.Handler {
	r := chi.NewRouter()
	r.Use(auth.Gate(codec, PublicPrefixes))

	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/refresh-token", h.Refresh)
	})

	r.Route("/api/orders", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleCustomer))
			r.Post("/", h.PlaceOrder)
		})

		// Any authenticated principal may list and read its own orders.
		r.Get("/", h.ListMyOrders)
		r.Get("/{id}", h.GetOrder)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleRestaurantOwner))
			r.Get("/restaurant/{restaurantId}", h.RestaurantOrders)
			r.Put("/{id}/status", h.UpdateOrderStatus)
		})
	})

	return r
}
