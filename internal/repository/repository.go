package repository

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/models"
)

// OrderRepository stores orders keyed by order ID.
type OrderRepository interface {
	// GetByID returns the order regardless of owner. Used by fulfilment.
	GetByID(ctx context.Context, orderID string) (*models.Order, error)

	// GetForUser returns the order only when userID owns it; otherwise
	// errors.ErrNotFound.
	GetForUser(ctx context.Context, userID, orderID string) (*models.Order, error)

	// ListByUserID returns the user's orders, newest first.
	ListByUserID(ctx context.Context, userID string) ([]*models.Order, error)

	// List returns orders across all users matching filter, newest first.
	List(ctx context.Context, filter OrderFilter) ([]*models.Order, error)

	// Update replaces the stored order when its version still equals
	// order.Version, then increments order.Version. A lost race returns
	// errors.ErrConflict.
	Update(ctx context.Context, order *models.Order) error
}

// OrderFilter narrows a cross-user order listing. An empty Status matches
// every order; Limit must be positive.
type OrderFilter struct {
	Status models.OrderStatus
	Limit  int
}

// CartRepository stores one cart per user.
type CartRepository interface {
	// Get returns errors.ErrNotFound when the user has no cart yet.
	Get(ctx context.Context, userID string) (*models.Cart, error)

	// Save creates the cart when cart.Version is zero, otherwise updates it
	// if the stored version matches. On success cart.Version is incremented.
	Save(ctx context.Context, cart *models.Cart) error
}

// CheckoutRepository turns a cart into an order as one logical unit.
type CheckoutRepository interface {
	// PlaceOrder persists order and then drains the cart read at
	// cart.Version. The cart is untouched when the order write fails, and
	// no order remains when the drain fails.
	PlaceOrder(ctx context.Context, order *models.Order, cart *models.Cart) error
}

// OrderCache caches per-user order lists under a generation counter.
// GetByUserID returns the current generation alongside the list (nil on a
// miss); SetByUserID only lands for readers of that generation, so a list
// read before an invalidation can never be served after it.
type OrderCache interface {
	GetByUserID(ctx context.Context, userID string) ([]*models.Order, int64, error)
	SetByUserID(ctx context.Context, userID string, generation int64, orders []*models.Order) error
	InvalidateByUserID(ctx context.Context, userID string) error
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store bundles the repositories of one storage backend.
type Store interface {
	Orders() OrderRepository
	Carts() CartRepository
	Checkout() CheckoutRepository
	Pinger
}
