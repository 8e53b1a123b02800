package repository

import (
	"context"

	"github.com/utafrali/cartservice/internal/domain"
)

// CartRepository defines the interface for cart persistence operations.
// Implementations keep one cart document per user ID.
type CartRepository interface {
	// Get retrieves a cart by its user ID. A missing cart yields a NotFound error.
	Get(ctx context.Context, userID string) (*domain.Cart, error)

	// Save upserts the cart, overwriting any existing cart for the user.
	Save(ctx context.Context, cart *domain.Cart) error

	// Delete removes the cart for the user ID and returns what was deleted,
	// or nil when there was nothing to delete.
	Delete(ctx context.Context, userID string) (*domain.Cart, error)
}
