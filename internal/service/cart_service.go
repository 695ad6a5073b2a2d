package service

import (
	"context"
	"fmt"

	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/repository"
)

// CartService manages the line items of each user's cart.
type CartService struct {
	carts   repository.CartRepository
	metrics *metrics.Metrics
	logger  *logging.Logger
}

func NewCartService(carts repository.CartRepository, m *metrics.Metrics) *CartService {
	return &CartService{
		carts:   carts,
		metrics: m,
		logger:  logging.NewLogger("cart-service"),
	}
}

// GetCart returns the user's cart. A user without one gets an empty,
// unsaved cart.
func (s *CartService) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	cart, err := s.carts.Get(ctx, userID)
	if errors.Is(err, errors.ErrNotFound) {
		return models.NewCart(userID), nil
	}
	if err != nil {
		s.observeError("cart-get", err)
		return nil, err
	}
	return cart, nil
}

// AddItem adds item to the cart, creating the cart on first use.
func (s *CartService) AddItem(ctx context.Context, userID string, item models.CartItem) (*models.Cart, error) {
	if err := ValidateCartItem(&item); err != nil {
		s.observeError("cart-add", err)
		return nil, err
	}

	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	if existing := cart.Quantity(item.ProductID); existing > MaxLineQuantity-item.Quantity {
		err := errors.NewValidationError("qty", fmt.Sprintf("line quantity cannot exceed %d (already %d in cart)", MaxLineQuantity, existing))
		s.observeError("cart-add", err)
		return nil, err
	}

	cart.AddItem(item)
	if err := s.save(ctx, "cart-add", cart); err != nil {
		return nil, err
	}

	s.logger.Debug("Item added to cart", logging.Fields{
		"user_id":    userID,
		"product_id": item.ProductID,
		"qty":        item.Quantity,
	})
	return cart, nil
}

// UpdateQuantity sets the quantity of a product already in the cart.
func (s *CartService) UpdateQuantity(ctx context.Context, userID, productID string, qty int) (*models.Cart, error) {
	if err := ValidateQuantity(qty); err != nil {
		s.observeError("cart-update", err)
		return nil, err
	}

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		s.observeError("cart-update", err)
		return nil, err
	}
	if !cart.SetQuantity(productID, qty) {
		s.observeError("cart-update", errors.ErrNotFound)
		return nil, errors.ErrNotFound
	}

	if err := s.save(ctx, "cart-update", cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// RemoveItem drops a product from the cart.
func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) (*models.Cart, error) {
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		s.observeError("cart-remove", err)
		return nil, err
	}
	if !cart.RemoveItem(productID) {
		s.observeError("cart-remove", errors.ErrNotFound)
		return nil, errors.ErrNotFound
	}

	if err := s.save(ctx, "cart-remove", cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// ClearCart empties the cart. Clearing a missing or empty cart succeeds.
func (s *CartService) ClearCart(ctx context.Context, userID string) (*models.Cart, error) {
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return cart, nil
	}

	cart.Items = []models.CartItem{}
	if err := s.save(ctx, "cart-clear", cart); err != nil {
		return nil, err
	}

	s.logger.Info("Cart cleared", logging.Fields{"user_id": userID})
	return cart, nil
}

func (s *CartService) save(ctx context.Context, op string, cart *models.Cart) error {
	if err := s.carts.Save(ctx, cart); err != nil {
		s.observeError(op, err)
		s.logger.Error("Failed to save cart", logging.Fields{
			"user_id": cart.UserID,
			"error":   err.Error(),
		})
		return err
	}
	return nil
}

func (s *CartService) observeError(op string, err error) {
	s.metrics.ObserveError(op, string(errors.KindOf(err)))
}
