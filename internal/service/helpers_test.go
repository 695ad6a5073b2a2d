package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/repository"
)

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Orders: config.OrdersConfig{ReturnWindow: 96 * time.Hour},
		Features: config.FeatureFlags{
			EnableOrderEvents:  true,
			EnableOrderCaching: true,
		},
	}
}

type recordedEvent struct {
	Type     string
	OrderID  string
	Status   models.OrderStatus
	Previous models.OrderStatus
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (p *fakePublisher) record(eventType string, order *models.Order, previous models.OrderStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Type: eventType, OrderID: order.OrderID, Status: order.Status, Previous: previous})
	return p.err
}

func (p *fakePublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	return p.record("order.created", order, "")
}

func (p *fakePublisher) PublishOrderCancelled(ctx context.Context, order *models.Order, previous models.OrderStatus) error {
	return p.record("order.cancelled", order, previous)
}

func (p *fakePublisher) PublishReturnRequested(ctx context.Context, order *models.Order) error {
	return p.record("order.return_requested", order, "")
}

func (p *fakePublisher) PublishReturnCancelled(ctx context.Context, order *models.Order) error {
	return p.record("order.return_cancelled", order, "")
}

func (p *fakePublisher) PublishFulfilmentUpdated(ctx context.Context, order *models.Order, previous models.OrderStatus) error {
	return p.record("order.fulfilment_updated", order, previous)
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type cachedList struct {
	generation int64
	orders     []*models.Order
}

type fakeCache struct {
	mu          sync.Mutex
	lists       map[string]cachedList
	generations map[string]int64
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{lists: make(map[string]cachedList), generations: make(map[string]int64)}
}

func (c *fakeCache) GetByUserID(ctx context.Context, userID string) ([]*models.Order, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen := c.generations[userID]
	if entry, ok := c.lists[userID]; ok && entry.generation == gen {
		return entry.orders, gen, nil
	}
	return nil, gen, nil
}

func (c *fakeCache) SetByUserID(ctx context.Context, userID string, generation int64, orders []*models.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[userID] = cachedList{generation: generation, orders: orders}
	return nil
}

func (c *fakeCache) InvalidateByUserID(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[userID]++
	c.invalidated = append(c.invalidated, userID)
	return nil
}

// failingCheckoutStore fails every order write without touching the cart.
type failingCheckoutStore struct {
	*repository.MemoryStore
}

func (s failingCheckoutStore) Checkout() repository.CheckoutRepository { return failingCheckout{} }

type failingCheckout struct{}

func (failingCheckout) PlaceOrder(ctx context.Context, order *models.Order, cart *models.Cart) error {
	return errors.New("orders table unavailable")
}

type testEnv struct {
	store     *repository.MemoryStore
	svc       *OrderService
	carts     *CartService
	publisher *fakePublisher
	cache     *fakeCache
	now       time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     repository.NewMemoryStore(),
		publisher: &fakePublisher{},
		cache:     newFakeCache(),
		now:       testNow,
	}
	env.svc = NewOrderService(env.store, env.cache, env.publisher, nil, nil, testConfig())
	env.svc.now = func() time.Time { return env.now }
	env.carts = NewCartService(env.store.Carts(), nil)
	return env
}

func (e *testEnv) fillCart(t *testing.T, userID string, items ...models.CartItem) {
	t.Helper()
	for _, item := range items {
		if _, err := e.carts.AddItem(context.Background(), userID, item); err != nil {
			t.Fatalf("AddItem(%s) error = %v", item.ProductID, err)
		}
	}
}

func item(id string, price string, qty int) models.CartItem {
	return models.CartItem{
		ProductID: id,
		Name:      "Product " + id,
		Price:     decimal.RequireFromString(price),
		Image:     "/img/" + id + ".png",
		Quantity:  qty,
	}
}

func validRequest(paymentStatus models.PaymentStatus) *models.CreateOrderRequest {
	return &models.CreateOrderRequest{
		Delivery:      models.DeliveryInfo{Name: "A", Mobile: "999", Address: "X"},
		PaymentMethod: models.PaymentMethodCashOnDelivery,
		PaymentStatus: paymentStatus,
		TotalAmount:   decimal.NewFromInt(300),
	}
}

// placeOrder creates an order from a one-line cart.
func (e *testEnv) placeOrder(t *testing.T, userID string, paymentStatus models.PaymentStatus) *models.Order {
	t.Helper()
	e.fillCart(t, userID, item("p1", "100", 1))
	order, err := e.svc.CreateOrderFromCart(context.Background(), userID, validRequest(paymentStatus))
	if err != nil {
		t.Fatalf("CreateOrderFromCart() error = %v", err)
	}
	return order
}

// deliverOrder creates an order a day before deliveredAt and marks it
// delivered at deliveredAt. The clock is restored afterwards.
func (e *testEnv) deliverOrder(t *testing.T, userID string, deliveredAt time.Time) *models.Order {
	t.Helper()
	saved := e.now
	defer func() { e.now = saved }()

	e.now = deliveredAt.Add(-24 * time.Hour)
	order := e.placeOrder(t, userID, models.PaymentStatusSuccessful)
	e.now = deliveredAt
	delivered, err := e.svc.ApplyFulfilmentUpdate(context.Background(), order.OrderID, &models.FulfilmentUpdate{
		Status:     models.OrderStatusDelivered,
		OccurredAt: &deliveredAt,
	})
	if err != nil {
		t.Fatalf("ApplyFulfilmentUpdate(Delivered) error = %v", err)
	}
	return delivered
}

func assertKind(t *testing.T, err error, want errors.Kind) {
	t.Helper()
	if got := errors.KindOf(err); got != want {
		t.Fatalf("error kind = %q (%v), want %q", got, err, want)
	}
}
