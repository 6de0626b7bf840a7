package service

import (
	"context"
	"log/slog"

	"github.com/askluigi/agentd/internal/domain/order"
	"github.com/askluigi/agentd/internal/port/database"
)

// OrderService places and lists storefront orders.
type OrderService struct {
	store database.Store
}

// NewOrderService creates an OrderService.
func NewOrderService(store database.Store) *OrderService {
	return &OrderService{store: store}
}

// Create validates and persists one order.
func (s *OrderService) Create(ctx context.Context, req order.CreateRequest) (*order.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	o := &order.Order{
		Email:    req.Email,
		Name:     req.Name,
		Address:  req.Address,
		Items:    req.Items,
		Subtotal: req.Subtotal,
	}
	if err := s.store.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "order placed", "order_id", o.ID, "items", len(o.Items))
	return o, nil
}

// ListForEmail returns the customer's orders, newest first.
func (s *OrderService) ListForEmail(ctx context.Context, email string) ([]order.Order, error) {
	return s.store.ListOrdersForEmail(ctx, email)
}
