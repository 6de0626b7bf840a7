package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/askluigi/agentd/internal/domain/order"
)

func (s *Store) CreateOrder(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO orders (email, name, address, items, subtotal)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		o.Email, o.Name, o.Address, itemsJSON, o.Subtotal,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (s *Store) ListOrdersForEmail(ctx context.Context, email string) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, email, name, address, items, subtotal, created_at
		 FROM orders WHERE email = $1 ORDER BY created_at DESC`, email)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []order.Order{}
	for rows.Next() {
		var o order.Order
		var itemsJSON []byte
		if err := rows.Scan(&o.ID, &o.Email, &o.Name, &o.Address, &itemsJSON, &o.Subtotal, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
