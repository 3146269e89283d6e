// Package handler exposes the HTTP surface of the order service: auth
// endpoints, the order API, and the router wiring them to the authorization
// gate.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/clevy11/bytebites-orders/internal/auth"
	"github.com/clevy11/bytebites-orders/internal/domain/order"
)

// Handler holds the dependencies shared by all HTTP endpoints.
type Handler struct {
	authService *auth.Service
	orders      order.Repository
	submitter   *order.Submitter
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(authService *auth.Service, orders order.Repository, submitter *order.Submitter) *Handler {
	return &Handler{
		authService: authService,
		orders:      orders,
		submitter:   submitter,
	}
}

// errorResponse is the uniform JSON error body.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

// writeInternal logs the cause and returns an opaque 500. Internal detail
// never leaks into the response body.
func writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
