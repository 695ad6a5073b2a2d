package service

import (
	"fmt"
	"strings"

	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/models"
)

// MaxLineQuantity caps the quantity of a single cart or order line.
const MaxLineQuantity = 1000

// ValidateCreateOrderRequest checks the checkout input before any write.
func ValidateCreateOrderRequest(req *models.CreateOrderRequest) error {
	if req == nil {
		return errors.NewValidationError("request", "request body is required")
	}

	if err := validateDelivery(&req.Delivery); err != nil {
		return err
	}

	if strings.TrimSpace(string(req.PaymentMethod)) == "" {
		return errors.NewValidationError("payment_method", "payment method is required")
	}

	if strings.TrimSpace(string(req.PaymentStatus)) == "" {
		return errors.NewValidationError("payment_status", "payment status is required")
	}

	if !req.TotalAmount.IsPositive() {
		return errors.NewValidationError("total_amount", "total amount must be positive")
	}

	return nil
}

func validateDelivery(d *models.DeliveryInfo) error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.NewValidationError("delivery.name", "recipient name is required")
	}

	if strings.TrimSpace(d.Mobile) == "" {
		return errors.NewValidationError("delivery.mobile", "mobile number is required")
	}

	if strings.TrimSpace(d.Address) == "" {
		return errors.NewValidationError("delivery.address", "address is required")
	}

	return nil
}

// ValidateCartItem checks a line item before it is added to a cart.
func ValidateCartItem(item *models.CartItem) error {
	if strings.TrimSpace(item.ProductID) == "" {
		return errors.NewValidationError("id", "product ID is required")
	}

	if strings.TrimSpace(item.Name) == "" {
		return errors.NewValidationError("name", "product name is required")
	}

	if err := ValidateQuantity(item.Quantity); err != nil {
		return err
	}

	if item.Price.IsNegative() {
		return errors.NewValidationError("price", "price cannot be negative")
	}

	return nil
}

// ValidateQuantity checks a requested line quantity.
func ValidateQuantity(qty int) error {
	if qty <= 0 {
		return errors.NewValidationError("qty", "quantity must be positive")
	}
	if qty > MaxLineQuantity {
		return errors.NewValidationError("qty", fmt.Sprintf("quantity cannot exceed %d", MaxLineQuantity))
	}
	return nil
}

// ValidateFulfilmentUpdate rejects empty or malformed fulfilment updates.
func ValidateFulfilmentUpdate(update *models.FulfilmentUpdate) error {
	if update == nil {
		return errors.NewValidationError("request", "request body is required")
	}

	if update.Status == "" && update.ReturnStatus == "" && update.PaymentStatus == "" && update.TrackingInfo == "" {
		return errors.NewValidationError("update", "at least one field must be set")
	}

	if update.Status != "" && !update.Status.Valid() {
		return errors.NewValidationError("status", "invalid order status")
	}

	if !update.ReturnStatus.Valid() {
		return errors.NewValidationError("return_status", "invalid return status")
	}

	if len(update.TrackingInfo) > 500 {
		return errors.NewValidationError("tracking_info", "tracking info too long (max 500 characters)")
	}

	return nil
}
