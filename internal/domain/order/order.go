// Package order defines the storefront order record.
package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/askluigi/agentd/internal/domain"
)

// Item is one line item of an order.
type Item struct {
	HeadphoneID int `json:"headphoneId"`
	Quantity    int `json:"quantity"`
}

// Order is a placed storefront order.
type Order struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Items     []Item    `json:"items"`
	Subtotal  float64   `json:"subtotal"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRequest holds the fields needed to place an order.
type CreateRequest struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Address  string  `json:"address"`
	Items    []Item  `json:"items"`
	Subtotal float64 `json:"subtotal"`
}

// Validate checks the request and normalizes whitespace in place.
func (r *CreateRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)
	r.Address = strings.TrimSpace(r.Address)

	if r.Name == "" || r.Email == "" || r.Address == "" {
		return fmt.Errorf("%w: name, email, and address are required", domain.ErrValidation)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: items must be a non-empty array", domain.ErrValidation)
	}
	for _, it := range r.Items {
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item quantity must be positive", domain.ErrValidation)
		}
	}
	if r.Subtotal <= 0 {
		return fmt.Errorf("%w: subtotal must be a positive number", domain.ErrValidation)
	}
	return nil
}
