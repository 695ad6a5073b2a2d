package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/models"
)

type cartResponse struct {
	UserID    string            `json:"user_id"`
	Items     []models.CartItem `json:"items"`
	Subtotal  decimal.Decimal   `json:"subtotal"`
	ItemCount int               `json:"item_count"`
	Version   int64             `json:"version"`
}

func newCartResponse(cart *models.Cart) cartResponse {
	items := cart.Items
	if items == nil {
		items = []models.CartItem{}
	}
	count := 0
	for _, item := range items {
		count += item.Quantity
	}
	return cartResponse{
		UserID:    cart.UserID,
		Items:     items,
		Subtotal:  cart.Subtotal(),
		ItemCount: count,
		Version:   cart.Version,
	}
}

type quantityRequest struct {
	Quantity int `json:"qty"`
}

// GetCart handles GET /api/v1/cart
func (h *Handlers) GetCart(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	cart, err := h.cartService.GetCart(c.Request.Context(), userID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, newCartResponse(cart))
}

// AddCartItem handles POST /api/v1/cart/items
func (h *Handlers) AddCartItem(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var item models.CartItem
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	cart, err := h.cartService.AddItem(c.Request.Context(), userID, item)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, newCartResponse(cart))
}

// UpdateCartItem handles PATCH /api/v1/cart/items/:productId
func (h *Handlers) UpdateCartItem(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	cart, err := h.cartService.UpdateQuantity(c.Request.Context(), userID, c.Param("productId"), req.Quantity)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, newCartResponse(cart))
}

// RemoveCartItem handles DELETE /api/v1/cart/items/:productId
func (h *Handlers) RemoveCartItem(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	cart, err := h.cartService.RemoveItem(c.Request.Context(), userID, c.Param("productId"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, newCartResponse(cart))
}

// ClearCart handles POST /api/v1/cart/clear
func (h *Handlers) ClearCart(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	cart, err := h.cartService.ClearCart(c.Request.Context(), userID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, newCartResponse(cart))
}
