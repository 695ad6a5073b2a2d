package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem is a product line in a cart. Its shape matches OrderItem so
// checkout can snapshot it directly.
type CartItem = OrderItem

// Cart is a user's shopping cart. Version increments on every write and
// guards concurrent read-modify-write cycles.
type Cart struct {
	UserID    string     `json:"user_id"`
	Items     []CartItem `json:"items"`
	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewCart returns an empty cart for userID.
func NewCart(userID string) *Cart {
	return &Cart{
		UserID: userID,
		Items:  []CartItem{},
	}
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// Subtotal is the sum of price times quantity.
func (c *Cart) Subtotal() decimal.Decimal {
	return Subtotal(c.Items)
}

// AddItem merges item into the cart, incrementing quantity when the product
// is already present.
func (c *Cart) AddItem(item CartItem) {
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID {
			c.Items[i].Quantity += item.Quantity
			return
		}
	}
	c.Items = append(c.Items, item)
}

// Quantity returns the quantity of productID, or 0 when it is not in the cart.
func (c *Cart) Quantity(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return c.Items[i].Quantity
		}
	}
	return 0
}

// SetQuantity overwrites the quantity of productID. It returns false when
// the product is not in the cart.
func (c *Cart) SetQuantity(productID string, qty int) bool {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity = qty
			return true
		}
	}
	return false
}

// RemoveItem drops productID. It returns false when nothing was removed.
func (c *Cart) RemoveItem(productID string) bool {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the cart.
func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Items = CloneItems(c.Items)
	if cp.Items == nil {
		cp.Items = []CartItem{}
	}
	return &cp
}
