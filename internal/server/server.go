package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/middleware"
)

type Server struct {
	config     *config.Config
	router     *gin.Engine
	handlers   *handlers.Handlers
	httpServer *http.Server
	logger     *logging.Logger
}

func New(cfg *config.Config, h *handlers.Handlers, m *metrics.Metrics) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.HeaderRequestID},
		ExposeHeaders:    []string{middleware.HeaderRequestID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.RequestID())
	router.Use(middleware.Observe(m))

	s := &Server{
		config:   cfg,
		router:   router,
		handlers: h,
		logger:   logging.NewLogger("server"),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handlers.Health)
	s.router.GET("/ready", s.handlers.Ready)
	s.router.GET("/live", s.handlers.Live)
	s.router.GET("/metrics", s.handlers.Metrics)

	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.Auth(s.config.Auth.JWTSecret))
	{
		v1.POST("/orders", s.handlers.CreateOrder)
		v1.GET("/orders", s.handlers.ListOrders)
		v1.POST("/orders/:id/cancel", s.handlers.CancelOrder)
		v1.POST("/orders/:id/return", s.handlers.ReturnOrder)
		v1.POST("/orders/:id/cancel-return", s.handlers.CancelReturn)

		v1.GET("/cart", s.handlers.GetCart)
		v1.POST("/cart/items", s.handlers.AddCartItem)
		v1.PATCH("/cart/items/:productId", s.handlers.UpdateCartItem)
		v1.DELETE("/cart/items/:productId", s.handlers.RemoveCartItem)
		v1.POST("/cart/clear", s.handlers.ClearCart)

		seller := v1.Group("/seller")
		seller.Use(middleware.RequireRole(s.config.Auth.SellerRole))
		seller.GET("/orders", s.handlers.ListSellerOrders)
		seller.PATCH("/orders/:id/fulfilment", s.handlers.UpdateFulfilment)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	logging.Infof("Starting server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
