package http

import (
	"net/http"
	"strings"

	"github.com/askluigi/agentd/internal/domain/order"
)

// CreateOrder validates and places a storefront order.
func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[order.CreateRequest](w, r)
	if !ok {
		return
	}

	o, err := h.orders.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "create order failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id": o.ID,
		"ok": true,
	})
}

// ListOrders returns the orders placed under the given email, newest first.
func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	orders, err := h.orders.ListForEmail(r.Context(), email)
	if err != nil {
		writeDomainError(w, err, "list orders failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}
