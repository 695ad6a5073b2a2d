package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/repository"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/requestctx"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/service"
)

// ReadinessCheck is a dependency that must answer before the service is ready.
type ReadinessCheck struct {
	Name   string
	Pinger repository.Pinger
}

// Handlers holds all HTTP handlers for the storefront orders service.
type Handlers struct {
	orderService *service.OrderService
	cartService  *service.CartService
	config       *config.Config
	gatherer     prometheus.Gatherer
	checks       []ReadinessCheck
	logger       *logging.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(
	orderService *service.OrderService,
	cartService *service.CartService,
	cfg *config.Config,
	gatherer prometheus.Gatherer,
	checks ...ReadinessCheck,
) *Handlers {
	return &Handlers{
		orderService: orderService,
		cartService:  cartService,
		config:       cfg,
		gatherer:     gatherer,
		checks:       checks,
		logger:       logging.NewLogger("handlers"),
	}
}

// currentUserID returns the authenticated caller, aborting with 401 when
// there is none.
func currentUserID(c *gin.Context) (string, bool) {
	userID := requestctx.UserIDFromContext(c.Request.Context())
	if userID == "" {
		userID = c.GetString("user_id")
	}
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return "", false
	}
	return userID, true
}

func (h *Handlers) handleError(c *gin.Context, err error) {
	var validationErr *errors.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   validationErr.Message,
			"field":   validationErr.Field,
			"details": validationErr.Details,
		})
		return
	}

	var stateErr *errors.StateError
	if errors.As(err, &stateErr) {
		c.JSON(http.StatusConflict, gin.H{
			"error":  stateErr.Message,
			"status": stateErr.Status,
		})
		return
	}

	switch {
	case errors.Is(err, errors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, errors.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "the resource was modified concurrently, retry the request"})
	default:
		h.logger.Error("Request failed", logging.Fields{
			"path":       c.FullPath(),
			"request_id": requestctx.RequestIDFromContext(c.Request.Context()),
			"error":      err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
