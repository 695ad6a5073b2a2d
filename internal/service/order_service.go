package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/repository"
)

// Operation names used in logs, metrics and state errors.
const (
	OpCreate       = "create"
	OpList         = "list"
	OpCancel       = "cancel"
	OpReturn       = "return"
	OpCancelReturn = "cancel-return"
	OpFulfilment   = "fulfilment"
	OpSellerList   = "seller-list"
)

// EventPublisher publishes order lifecycle events.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
	PublishOrderCancelled(ctx context.Context, order *models.Order, previousStatus models.OrderStatus) error
	PublishReturnRequested(ctx context.Context, order *models.Order) error
	PublishReturnCancelled(ctx context.Context, order *models.Order) error
	PublishFulfilmentUpdated(ctx context.Context, order *models.Order, previousStatus models.OrderStatus) error
}

// Notifier tells the buyer about a lifecycle change.
type Notifier interface {
	NotifyOrderStatus(ctx context.Context, order *models.Order, previousStatus models.OrderStatus) error
}

const notifyTimeout = 10 * time.Second

// OrderService handles order business logic.
type OrderService struct {
	store     repository.Store
	cache     repository.OrderCache
	publisher EventPublisher
	notifier  Notifier
	metrics   *metrics.Metrics
	config    *config.Config
	logger    *logging.Logger
	now       func() time.Time
}

// NewOrderService creates a new order service. cache, publisher, notifier
// and m may be nil.
func NewOrderService(
	store repository.Store,
	cache repository.OrderCache,
	publisher EventPublisher,
	notifier Notifier,
	m *metrics.Metrics,
	cfg *config.Config,
) *OrderService {
	return &OrderService{
		store:     store,
		cache:     cache,
		publisher: publisher,
		notifier:  notifier,
		metrics:   m,
		config:    cfg,
		logger:    logging.NewLogger("order-service"),
		now:       time.Now,
	}
}

// CreateOrderFromCart snapshots the user's cart into a new order and drains
// the cart.
func (s *OrderService) CreateOrderFromCart(ctx context.Context, userID string, req *models.CreateOrderRequest) (*models.Order, error) {
	order, err := s.createOrderFromCart(ctx, userID, req)
	s.observeError(OpCreate, err)
	return order, err
}

func (s *OrderService) createOrderFromCart(ctx context.Context, userID string, req *models.CreateOrderRequest) (*models.Order, error) {
	if userID == "" {
		return nil, errors.NewValidationError("user_id", "user ID is required")
	}
	if err := ValidateCreateOrderRequest(req); err != nil {
		return nil, err
	}

	cart, err := s.store.Carts().Get(ctx, userID)
	if errors.Is(err, errors.ErrNotFound) || (err == nil && cart.IsEmpty()) {
		return nil, errors.NewValidationError("cart", "cart is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}

	status := models.OrderStatusPending
	if req.PaymentStatus.IsSuccessful() {
		status = models.OrderStatusPlaced
	}

	now := s.now().UTC()
	order := &models.Order{
		OrderID:       uuid.NewString(),
		UserID:        userID,
		Items:         models.CloneItems(cart.Items),
		Status:        status,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: req.PaymentStatus,
		TotalAmount:   req.TotalAmount,
		Delivery:      req.Delivery,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.logger.Info("Creating order", logging.Fields{
		"order_id":   order.OrderID,
		"user_id":    userID,
		"item_count": len(order.Items),
		"status":     order.Status,
	})

	if err := s.store.Checkout().PlaceOrder(ctx, order, cart); err != nil {
		s.logger.Error("Failed to create order", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("place order: %w", err)
	}

	s.metrics.ObserveCreated(string(order.Status))
	s.invalidateUserOrders(ctx, userID)

	if s.eventsEnabled() {
		if err := s.publisher.PublishOrderCreated(ctx, order); err != nil {
			s.logger.Error("Failed to publish order created event", logging.Fields{
				"order_id": order.OrderID,
				"error":    err.Error(),
			})
		}
	}
	s.notify(ctx, order, "")

	s.logger.Info("Order created successfully", logging.Fields{
		"order_id": order.OrderID,
		"total":    order.TotalAmount.String(),
	})

	return order, nil
}

// ListOrders returns the user's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID string) ([]*models.Order, error) {
	s.logger.Debug("Listing orders", logging.Fields{"user_id": userID})

	// The generation is read before the store so a write that lands in
	// between invalidates the list this call is about to cache.
	var generation int64
	cacheable := false
	if s.cachingEnabled() {
		orders, gen, err := s.cache.GetByUserID(ctx, userID)
		if err == nil && orders != nil {
			s.logger.Debug("User orders found in cache", logging.Fields{"user_id": userID})
			return orders, nil
		}
		generation, cacheable = gen, err == nil
	}

	orders, err := s.store.Orders().ListByUserID(ctx, userID)
	if err != nil {
		s.observeError(OpList, err)
		return nil, fmt.Errorf("list orders: %w", err)
	}

	if cacheable {
		if err := s.cache.SetByUserID(ctx, userID, generation, orders); err != nil {
			s.logger.Warn("Failed to cache user orders", logging.Fields{
				"user_id": userID,
				"error":   err.Error(),
			})
		}
	}

	return orders, nil
}

const (
	DefaultSellerListLimit = 50
	MaxSellerListLimit     = 200
)

// ListSellerOrders returns orders across all buyers, newest first,
// optionally narrowed to one status. A zero limit means
// DefaultSellerListLimit; larger limits are capped at MaxSellerListLimit.
func (s *OrderService) ListSellerOrders(ctx context.Context, status models.OrderStatus, limit int) ([]*models.Order, error) {
	if status != "" && !status.Valid() {
		err := errors.NewValidationError("status", fmt.Sprintf("invalid order status %q", status))
		s.observeError(OpSellerList, err)
		return nil, err
	}
	if limit < 0 {
		err := errors.NewValidationError("limit", "limit cannot be negative")
		s.observeError(OpSellerList, err)
		return nil, err
	}
	if limit == 0 {
		limit = DefaultSellerListLimit
	}
	if limit > MaxSellerListLimit {
		limit = MaxSellerListLimit
	}

	orders, err := s.store.Orders().List(ctx, repository.OrderFilter{Status: status, Limit: limit})
	if err != nil {
		s.observeError(OpSellerList, err)
		return nil, fmt.Errorf("list seller orders: %w", err)
	}

	s.logger.Debug("Seller orders listed", logging.Fields{
		"status": status,
		"limit":  limit,
		"count":  len(orders),
	})
	return orders, nil
}

// CancelOrder cancels an order that has not been delivered yet.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID string) (*models.Order, error) {
	s.logger.Info("Cancelling order", logging.Fields{
		"order_id": orderID,
		"user_id":  userID,
	})

	order, err := s.store.Orders().GetForUser(ctx, userID, orderID)
	if err != nil {
		s.observeError(OpCancel, err)
		return nil, err
	}

	if !order.CanCancel() {
		err := errors.NewStateError(OpCancel, string(order.Status), "only orders that have not been delivered can be cancelled")
		s.observeError(OpCancel, err)
		return nil, err
	}

	previous := order.Status
	order.Status = models.OrderStatusCancelled
	if err := s.save(ctx, OpCancel, order, previous); err != nil {
		return nil, err
	}

	if s.eventsEnabled() {
		if err := s.publisher.PublishOrderCancelled(ctx, order, previous); err != nil {
			s.logger.Error("Failed to publish order cancelled event", logging.Fields{
				"order_id": order.OrderID,
				"error":    err.Error(),
			})
		}
	}
	s.notify(ctx, order, previous)

	return order, nil
}

// ReturnOrder requests a return of a delivered order within the return window.
func (s *OrderService) ReturnOrder(ctx context.Context, userID, orderID, reason string) (*models.Order, error) {
	s.logger.Info("Requesting return", logging.Fields{
		"order_id": orderID,
		"user_id":  userID,
	})

	order, err := s.store.Orders().GetForUser(ctx, userID, orderID)
	if err != nil {
		s.observeError(OpReturn, err)
		return nil, err
	}

	if err := s.checkReturnable(order); err != nil {
		s.observeError(OpReturn, err)
		return nil, err
	}

	previous := order.Status
	order.Status = models.OrderStatusReturned
	order.ReturnStatus = models.ReturnStatusRequested
	order.ReturnReason = reason
	if err := s.save(ctx, OpReturn, order, previous); err != nil {
		return nil, err
	}

	if s.eventsEnabled() {
		if err := s.publisher.PublishReturnRequested(ctx, order); err != nil {
			s.logger.Error("Failed to publish return requested event", logging.Fields{
				"order_id": order.OrderID,
				"error":    err.Error(),
			})
		}
	}
	s.notify(ctx, order, previous)

	return order, nil
}

func (s *OrderService) checkReturnable(order *models.Order) error {
	if order.Status != models.OrderStatusDelivered {
		return errors.NewStateError(OpReturn, string(order.Status), "only delivered orders can be returned")
	}
	if order.DeliveredAt == nil {
		return errors.NewStateError(OpReturn, string(order.Status), "delivery date is not recorded")
	}
	if !order.WithinReturnWindow(s.now(), s.returnWindow()) {
		return errors.NewStateError(OpReturn, string(order.Status),
			fmt.Sprintf("return window of %s after delivery has passed", s.returnWindow()))
	}
	return nil
}

// CancelReturnRequest withdraws a pending return, restoring the order to Delivered.
func (s *OrderService) CancelReturnRequest(ctx context.Context, userID, orderID string) (*models.Order, error) {
	s.logger.Info("Cancelling return request", logging.Fields{
		"order_id": orderID,
		"user_id":  userID,
	})

	order, err := s.store.Orders().GetForUser(ctx, userID, orderID)
	if err != nil {
		s.observeError(OpCancelReturn, err)
		return nil, err
	}

	if !order.HasPendingReturn() {
		err := errors.NewStateError(OpCancelReturn, string(order.Status), "no pending return request")
		s.observeError(OpCancelReturn, err)
		return nil, err
	}

	previous := order.Status
	order.Status = models.OrderStatusDelivered
	order.ReturnStatus = models.ReturnStatusNone
	order.ReturnReason = ""
	if err := s.save(ctx, OpCancelReturn, order, previous); err != nil {
		return nil, err
	}

	if s.eventsEnabled() {
		if err := s.publisher.PublishReturnCancelled(ctx, order); err != nil {
			s.logger.Error("Failed to publish return cancelled event", logging.Fields{
				"order_id": order.OrderID,
				"error":    err.Error(),
			})
		}
	}
	s.notify(ctx, order, previous)

	return order, nil
}

// save writes order with a version check and records the transition.
func (s *OrderService) save(ctx context.Context, op string, order *models.Order, previous models.OrderStatus) error {
	order.UpdatedAt = s.now().UTC()
	if err := s.store.Orders().Update(ctx, order); err != nil {
		s.observeError(op, err)
		s.logger.Error("Failed to update order", logging.Fields{
			"order_id":  order.OrderID,
			"operation": op,
			"error":     err.Error(),
		})
		return fmt.Errorf("update order %s: %w", order.OrderID, err)
	}

	if previous != order.Status {
		s.metrics.ObserveTransition(op, string(previous), string(order.Status))
	}
	s.invalidateUserOrders(ctx, order.UserID)

	s.logger.Info("Order updated", logging.Fields{
		"order_id":        order.OrderID,
		"operation":       op,
		"previous_status": previous,
		"status":          order.Status,
		"version":         order.Version,
	})
	return nil
}

func (s *OrderService) invalidateUserOrders(ctx context.Context, userID string) {
	if !s.cachingEnabled() {
		return
	}
	if err := s.cache.InvalidateByUserID(ctx, userID); err != nil {
		s.logger.Warn("Failed to invalidate user orders cache", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
}

// notify sends a best-effort notification without holding up the caller.
func (s *OrderService) notify(ctx context.Context, order *models.Order, previous models.OrderStatus) {
	if s.notifier == nil || !s.config.Features.EnableNotifications {
		return
	}

	snapshot := order.Clone()
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyOrderStatus(nctx, snapshot, previous); err != nil {
			s.logger.Error("Failed to send order notification", logging.Fields{
				"order_id": snapshot.OrderID,
				"status":   snapshot.Status,
				"error":    err.Error(),
			})
		}
	}()
}

func (s *OrderService) observeError(op string, err error) {
	if err == nil {
		return
	}
	s.metrics.ObserveError(op, string(errors.KindOf(err)))
}

func (s *OrderService) eventsEnabled() bool {
	return s.publisher != nil && s.config.Features.EnableOrderEvents
}

func (s *OrderService) cachingEnabled() bool {
	return s.cache != nil && s.config.Features.EnableOrderCaching
}

func (s *OrderService) returnWindow() time.Duration {
	if s.config.Orders.ReturnWindow > 0 {
		return s.config.Orders.ReturnWindow
	}
	return 96 * time.Hour
}
