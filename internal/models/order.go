package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "Pending"
	OrderStatusPlaced         OrderStatus = "Placed"
	OrderStatusShipped        OrderStatus = "Shipped"
	OrderStatusOutForDelivery OrderStatus = "Out for Delivery"
	OrderStatusDelivered      OrderStatus = "Delivered"
	OrderStatusCancelled      OrderStatus = "Cancelled"
	OrderStatusReturned       OrderStatus = "Returned"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending,
		OrderStatusPlaced,
		OrderStatusShipped,
		OrderStatusOutForDelivery,
		OrderStatusDelivered,
		OrderStatusCancelled,
		OrderStatusReturned:
		return true
	}
	return false
}

// ReturnStatus tracks a return request on a Returned order.
type ReturnStatus string

const (
	ReturnStatusNone            ReturnStatus = ""
	ReturnStatusRequested       ReturnStatus = "Requested"
	ReturnStatusPickupScheduled ReturnStatus = "Pickup Scheduled"
	ReturnStatusRefunded        ReturnStatus = "Refunded"
)

// Valid reports whether s is a known return status, including none.
func (s ReturnStatus) Valid() bool {
	switch s {
	case ReturnStatusNone,
		ReturnStatusRequested,
		ReturnStatusPickupScheduled,
		ReturnStatusRefunded:
		return true
	}
	return false
}

// PaymentStatus is reported by the checkout client and stored verbatim.
type PaymentStatus string

const (
	PaymentStatusSuccessful PaymentStatus = "Successful"
	PaymentStatusPending    PaymentStatus = "Pending"
)

// IsSuccessful reports whether the payment completed. Only the exact
// literal counts.
func (s PaymentStatus) IsSuccessful() bool {
	return s == PaymentStatusSuccessful
}

// PaymentMethod is the buyer's chosen way to pay.
type PaymentMethod string

const (
	PaymentMethodCashOnDelivery PaymentMethod = "cod"
	PaymentMethodRazorpay       PaymentMethod = "razorpay"
)

// OrderItem is a line of an order, copied from the cart at checkout.
type OrderItem struct {
	ProductID string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Image     string          `json:"image"`
	Quantity  int             `json:"qty"`
}

// DeliveryInfo is where and to whom the order ships.
type DeliveryInfo struct {
	Name         string `json:"name"`
	Mobile       string `json:"mobile"`
	Address      string `json:"address"`
	Instructions string `json:"instructions,omitempty"`
}

// Order is a placed order and its lifecycle state. Version increments on
// every stored update.
type Order struct {
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	Items         []OrderItem     `json:"items"`
	Status        OrderStatus     `json:"order_status"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Delivery      DeliveryInfo    `json:"delivery"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty"`
	TrackingInfo  string          `json:"tracking_info,omitempty"`
	ReturnStatus  ReturnStatus    `json:"return_status,omitempty"`
	ReturnReason  string          `json:"return_reason,omitempty"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CanCancel reports whether the buyer may still cancel the order.
func (o *Order) CanCancel() bool {
	switch o.Status {
	case OrderStatusPending, OrderStatusPlaced, OrderStatusShipped, OrderStatusOutForDelivery:
		return true
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned:
		return false
	}
	return false
}

// WithinReturnWindow reports whether a delivered order can still be
// returned at now. The bound is inclusive and measured in continuous time.
func (o *Order) WithinReturnWindow(now time.Time, window time.Duration) bool {
	if o.DeliveredAt == nil {
		return false
	}
	return now.Sub(*o.DeliveredAt) <= window
}

// HasPendingReturn reports whether a return request can be withdrawn.
func (o *Order) HasPendingReturn() bool {
	return o.Status == OrderStatusReturned && o.ReturnStatus == ReturnStatusRequested
}

// Clone returns a deep copy, so callers can mutate without touching o.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = CloneItems(o.Items)
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		c.DeliveredAt = &t
	}
	return &c
}

// CloneItems copies order lines.
func CloneItems(items []OrderItem) []OrderItem {
	if items == nil {
		return nil
	}
	out := make([]OrderItem, len(items))
	copy(out, items)
	return out
}

// Subtotal sums price times quantity over items.
func Subtotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// CreateOrderRequest is the checkout input for turning a cart into an order.
type CreateOrderRequest struct {
	Delivery      DeliveryInfo    `json:"delivery"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
}

// FulfilmentUpdate is a seller or carrier update applied to an order.
type FulfilmentUpdate struct {
	Status        OrderStatus   `json:"status,omitempty"`
	ReturnStatus  ReturnStatus  `json:"return_status,omitempty"`
	PaymentStatus PaymentStatus `json:"payment_status,omitempty"`
	TrackingInfo  string        `json:"tracking_info,omitempty"`
	OccurredAt    *time.Time    `json:"occurred_at,omitempty"`
}
