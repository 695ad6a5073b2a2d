package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/models"
)

// MemoryStore keeps orders and carts in process memory. It backs the
// "memory" storage driver and the service tests.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	carts  map[string]*models.Cart
	now    func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*models.Order),
		carts:  make(map[string]*models.Cart),
		now:    time.Now,
	}
}

// Orders returns the store's order repository.
func (s *MemoryStore) Orders() OrderRepository { return memoryOrders{s} }

// Carts returns the store's cart repository.
func (s *MemoryStore) Carts() CartRepository { return memoryCarts{s} }

// Checkout returns the store's checkout repository.
func (s *MemoryStore) Checkout() CheckoutRepository { return memoryCheckout{s} }

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

type memoryOrders struct{ s *MemoryStore }

func (r memoryOrders) GetByID(ctx context.Context, orderID string) (*models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order, ok := r.s.orders[orderID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return order.Clone(), nil
}

func (r memoryOrders) GetForUser(ctx context.Context, userID, orderID string) (*models.Order, error) {
	order, err := r.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, errors.ErrNotFound
	}
	return order, nil
}

func (r memoryOrders) ListByUserID(ctx context.Context, userID string) ([]*models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	orders := make([]*models.Order, 0)
	for _, order := range r.s.orders {
		if order.UserID == userID {
			orders = append(orders, order.Clone())
		}
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (r memoryOrders) List(ctx context.Context, filter OrderFilter) ([]*models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	orders := make([]*models.Order, 0)
	for _, order := range r.s.orders {
		if filter.Status == "" || order.Status == filter.Status {
			orders = append(orders, order.Clone())
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].OrderID < orders[j].OrderID
	})
	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}
	return orders, nil
}

func (r memoryOrders) Update(ctx context.Context, order *models.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.orders[order.OrderID]
	if !ok {
		return errors.ErrNotFound
	}
	if stored.Version != order.Version {
		return errors.ErrConflict
	}

	order.Version++
	r.s.orders[order.OrderID] = order.Clone()
	return nil
}

type memoryCarts struct{ s *MemoryStore }

func (r memoryCarts) Get(ctx context.Context, userID string) (*models.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cart, ok := r.s.carts[userID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return cart.Clone(), nil
}

func (r memoryCarts) Save(ctx context.Context, cart *models.Cart) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.carts[cart.UserID]
	switch {
	case cart.Version == 0 && ok:
		return errors.ErrConflict
	case cart.Version != 0 && (!ok || stored.Version != cart.Version):
		return errors.ErrConflict
	}

	now := r.s.now()
	if cart.Version == 0 {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now
	cart.Version++
	r.s.carts[cart.UserID] = cart.Clone()
	return nil
}

type memoryCheckout struct{ s *MemoryStore }

func (r memoryCheckout) PlaceOrder(ctx context.Context, order *models.Order, cart *models.Cart) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.carts[cart.UserID]
	if !ok || stored.Version != cart.Version {
		return errors.ErrConflict
	}
	if _, exists := r.s.orders[order.OrderID]; exists {
		return errors.ErrConflict
	}

	order.Version = 1
	r.s.orders[order.OrderID] = order.Clone()

	drained := stored.Clone()
	drained.Items = []models.CartItem{}
	drained.Version++
	drained.UpdatedAt = r.s.now()
	r.s.carts[cart.UserID] = drained

	cart.Items = []models.CartItem{}
	cart.Version = drained.Version
	cart.UpdatedAt = drained.UpdatedAt
	return nil
}
