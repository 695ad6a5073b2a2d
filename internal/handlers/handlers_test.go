package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/repository"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/service"
)

const testSecret = "handler-test-secret"

type testAPI struct {
	router *gin.Engine
	h      *Handlers
}

func newTestAPI(t *testing.T, checks ...ReadinessCheck) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Auth:   config.AuthConfig{JWTSecret: testSecret, SellerRole: "seller"},
		Orders: config.OrdersConfig{ReturnWindow: 96 * time.Hour},
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("metrics.New() error = %v", err)
	}

	store := repository.NewMemoryStore()
	orders := service.NewOrderService(store, nil, nil, nil, m, cfg)
	carts := service.NewCartService(store.Carts(), m)
	h := NewHandlers(orders, carts, cfg, reg, checks...)

	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", h.Metrics)

	api := r.Group("/api/v1", middleware.Auth(testSecret))
	api.POST("/orders", h.CreateOrder)
	api.GET("/orders", h.ListOrders)
	api.POST("/orders/:id/cancel", h.CancelOrder)
	api.POST("/orders/:id/return", h.ReturnOrder)
	api.POST("/orders/:id/cancel-return", h.CancelReturn)
	api.GET("/cart", h.GetCart)
	api.POST("/cart/items", h.AddCartItem)
	api.PATCH("/cart/items/:productId", h.UpdateCartItem)
	api.DELETE("/cart/items/:productId", h.RemoveCartItem)
	api.POST("/cart/clear", h.ClearCart)
	api.GET("/seller/orders", middleware.RequireRole("seller"), h.ListSellerOrders)
	api.PATCH("/seller/orders/:id/fulfilment", middleware.RequireRole("seller"), h.UpdateFulfilment)

	return &testAPI{router: r, h: h}
}

func (a *testAPI) do(t *testing.T, method, path, userID, role string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := middleware.SignToken(testSecret, userID, role)
		if err != nil {
			t.Fatalf("SignToken() error = %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
	}
}

func checkoutBody(payment models.PaymentStatus) gin.H {
	return gin.H{
		"delivery": gin.H{
			"name":    "Asha",
			"mobile":  "9999999999",
			"address": "12 Lake Road",
		},
		"payment_method": "razorpay",
		"payment_status": payment,
		"total_amount":   "300",
	}
}

func (a *testAPI) placeOrder(t *testing.T, userID string) models.Order {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/cart/items", userID, "", gin.H{"id": "p1", "name": "Shirt", "price": "100", "qty": 3})
	if w.Code != http.StatusOK {
		t.Fatalf("add item: status %d body %s", w.Code, w.Body.String())
	}
	w = a.do(t, http.MethodPost, "/api/v1/orders", userID, "", checkoutBody(models.PaymentStatusSuccessful))
	if w.Code != http.StatusCreated {
		t.Fatalf("create order: status %d body %s", w.Code, w.Body.String())
	}
	var order models.Order
	decode(t, w, &order)
	return order
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := &Handlers{}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	h.Health(c)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	decode(t, w, &resp)

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
	if resp["service"] != serviceName {
		t.Errorf("Expected service %q, got %v", serviceName, resp["service"])
	}
}

func TestLive(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := &Handlers{}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	h.Live(c)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func TestReady(t *testing.T) {
	tests := []struct {
		name   string
		checks []ReadinessCheck
		want   int
	}{
		{"no checks", nil, http.StatusOK},
		{"all healthy", []ReadinessCheck{{Name: "store", Pinger: stubPinger{}}, {Name: "cache", Pinger: stubPinger{}}}, http.StatusOK},
		{"store down", []ReadinessCheck{{Name: "store", Pinger: stubPinger{err: errors.New("connection refused")}}}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t, tt.checks...)
			w := api.do(t, http.MethodGet, "/ready", "", "", nil)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

// slowPinger succeeds after delay unless its context ends first.
type slowPinger struct{ delay time.Duration }

func (p slowPinger) Ping(ctx context.Context) error {
	select {
	case <-time.After(p.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestReady_ReportsOnlyFailingChecks(t *testing.T) {
	api := newTestAPI(t,
		ReadinessCheck{Name: "store", Pinger: stubPinger{err: errors.New("connection refused")}},
		ReadinessCheck{Name: "cache", Pinger: slowPinger{delay: 50 * time.Millisecond}},
	)

	w := api.do(t, http.MethodGet, "/ready", "", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}

	var resp struct {
		Failures map[string]string `json:"failures"`
	}
	decode(t, w, &resp)
	if len(resp.Failures) != 1 || resp.Failures["store"] != "connection refused" {
		t.Errorf("failures = %v, want only store", resp.Failures)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.placeOrder(t, "user_1")

	w := api.do(t, http.MethodGet, "/metrics", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "storefront_orders_orders_created_total") {
		t.Errorf("metrics output missing orders_created counter:\n%s", w.Body.String())
	}
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", errors.NewValidationError("cart", "cart is empty"), http.StatusBadRequest},
		{"state", errors.NewStateError("cancel", "Delivered", "order already delivered"), http.StatusConflict},
		{"not found", fmt.Errorf("get order: %w", errors.ErrNotFound), http.StatusNotFound},
		{"conflict", fmt.Errorf("update order: %w", errors.ErrConflict), http.StatusConflict},
		{"internal", errors.New("dial tcp: connection refused"), http.StatusInternalServerError},
	}

	h := NewHandlers(nil, nil, &config.Config{}, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			h.handleError(c, tt.err)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	t.Run("internal errors are generic", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

		h.handleError(c, errors.New("pq: password authentication failed"))

		if strings.Contains(w.Body.String(), "password") {
			t.Errorf("internal detail leaked: %s", w.Body.String())
		}
	})
}

func TestUnauthenticated(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/v1/orders", "", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}

	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	api.h.GetCart(c)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("handler without identity: status = %d, want 401", rec.Code)
	}
}

func TestAddCartItem_RejectsQuantityOverflow(t *testing.T) {
	api := newTestAPI(t)
	api.do(t, http.MethodPost, "/api/v1/cart/items", "user_1", "", gin.H{"id": "p1", "name": "Shirt", "price": "100", "qty": 1})

	w := api.do(t, http.MethodPost, "/api/v1/cart/items", "user_1", "", gin.H{"id": "p1", "name": "Shirt", "price": "100", "qty": int64(math.MaxInt64)})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
	}

	w = api.do(t, http.MethodGet, "/api/v1/cart", "user_1", "", nil)
	var cart cartResponse
	decode(t, w, &cart)
	if cart.ItemCount != 1 || cart.Subtotal.String() != "100" {
		t.Errorf("cart changed after rejected add: %+v", cart)
	}
}

func TestCartEndpoints(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/v1/cart", "user_1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get empty cart: status %d", w.Code)
	}

	api.do(t, http.MethodPost, "/api/v1/cart/items", "user_1", "", gin.H{"id": "p1", "name": "Shirt", "price": "100", "qty": 1})
	api.do(t, http.MethodPost, "/api/v1/cart/items", "user_1", "", gin.H{"id": "p2", "name": "Cap", "price": "50.50", "qty": 2})

	w = api.do(t, http.MethodPatch, "/api/v1/cart/items/p1", "user_1", "", gin.H{"qty": 3})
	if w.Code != http.StatusOK {
		t.Fatalf("update qty: status %d body %s", w.Code, w.Body.String())
	}

	var cart cartResponse
	decode(t, w, &cart)
	if want := "401"; cart.Subtotal.String() != want {
		t.Errorf("subtotal = %s, want %s", cart.Subtotal, want)
	}
	if cart.ItemCount != 5 {
		t.Errorf("item_count = %d, want 5", cart.ItemCount)
	}

	w = api.do(t, http.MethodPatch, "/api/v1/cart/items/p1", "user_1", "", gin.H{"qty": 0})
	if w.Code != http.StatusBadRequest {
		t.Errorf("zero qty: status = %d, want 400", w.Code)
	}

	w = api.do(t, http.MethodPatch, "/api/v1/cart/items/missing", "user_1", "", gin.H{"qty": 1})
	if w.Code != http.StatusNotFound {
		t.Errorf("missing product: status = %d, want 404", w.Code)
	}

	w = api.do(t, http.MethodDelete, "/api/v1/cart/items/p2", "user_1", "", nil)
	decode(t, w, &cart)
	if len(cart.Items) != 1 {
		t.Errorf("items after remove = %d, want 1", len(cart.Items))
	}

	w = api.do(t, http.MethodPost, "/api/v1/cart/clear", "user_1", "", nil)
	decode(t, w, &cart)
	if len(cart.Items) != 0 || !cart.Subtotal.IsZero() {
		t.Errorf("cart after clear = %+v", cart)
	}

	w = api.do(t, http.MethodPost, "/api/v1/cart/items", "user_1", "", gin.H{"id": "p3", "qty": 1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("item without name: status = %d, want 400", w.Code)
	}
}

func TestCreateOrder(t *testing.T) {
	t.Run("empty cart", func(t *testing.T) {
		api := newTestAPI(t)
		w := api.do(t, http.MethodPost, "/api/v1/orders", "user_1", "", checkoutBody(models.PaymentStatusSuccessful))
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("missing delivery", func(t *testing.T) {
		api := newTestAPI(t)
		api.do(t, http.MethodPost, "/api/v1/cart/items", "user_1", "", gin.H{"id": "p1", "name": "Shirt", "price": "100", "qty": 1})
		body := checkoutBody(models.PaymentStatusSuccessful)
		body["delivery"] = gin.H{"name": "Asha"}

		w := api.do(t, http.MethodPost, "/api/v1/orders", "user_1", "", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("drains cart", func(t *testing.T) {
		api := newTestAPI(t)
		order := api.placeOrder(t, "user_1")

		if order.Status != models.OrderStatusPlaced {
			t.Errorf("status = %q, want Placed", order.Status)
		}
		if len(order.Items) != 1 || order.Items[0].Quantity != 3 {
			t.Errorf("items = %+v", order.Items)
		}

		var cart cartResponse
		decode(t, api.do(t, http.MethodGet, "/api/v1/cart", "user_1", "", nil), &cart)
		if len(cart.Items) != 0 {
			t.Errorf("cart not drained: %+v", cart.Items)
		}
	})

	t.Run("pending payment", func(t *testing.T) {
		api := newTestAPI(t)
		api.do(t, http.MethodPost, "/api/v1/cart/items", "user_1", "", gin.H{"id": "p1", "name": "Shirt", "price": "100", "qty": 1})
		w := api.do(t, http.MethodPost, "/api/v1/orders", "user_1", "", checkoutBody(models.PaymentStatusPending))

		var order models.Order
		decode(t, w, &order)
		if order.Status != models.OrderStatusPending {
			t.Errorf("status = %q, want Pending", order.Status)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		api := newTestAPI(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader("{"))
		token, _ := middleware.SignToken(testSecret, "user_1", "")
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		api.router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}

func TestOrderLifecycle(t *testing.T) {
	api := newTestAPI(t)
	order := api.placeOrder(t, "user_1")
	path := "/api/v1/orders/" + order.OrderID

	w := api.do(t, http.MethodPost, path+"/cancel", "user_2", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("other user's cancel: status = %d, want 404", w.Code)
	}

	w = api.do(t, http.MethodPost, path+"/cancel", "user_1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: status %d body %s", w.Code, w.Body.String())
	}
	var cancelled models.Order
	decode(t, w, &cancelled)
	if cancelled.Status != models.OrderStatusCancelled {
		t.Errorf("status = %q, want Cancelled", cancelled.Status)
	}

	w = api.do(t, http.MethodPost, path+"/cancel", "user_1", "", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second cancel: status = %d, want 409", w.Code)
	}

	var list struct {
		Orders []models.Order `json:"orders"`
		Count  int            `json:"count"`
	}
	decode(t, api.do(t, http.MethodGet, "/api/v1/orders", "user_1", "", nil), &list)
	if list.Count != 1 || list.Orders[0].Status != models.OrderStatusCancelled {
		t.Errorf("list = %+v", list)
	}

	decode(t, api.do(t, http.MethodGet, "/api/v1/orders", "user_2", "", nil), &list)
	if list.Count != 0 || list.Orders == nil {
		t.Errorf("other user's list = %+v, want empty array", list)
	}
}

func TestReturnFlow(t *testing.T) {
	api := newTestAPI(t)
	order := api.placeOrder(t, "user_1")
	path := "/api/v1/orders/" + order.OrderID

	w := api.do(t, http.MethodPost, path+"/return", "user_1", "", gin.H{"reason": "too small"})
	if w.Code != http.StatusConflict {
		t.Errorf("return before delivery: status = %d, want 409", w.Code)
	}

	fulfilment := "/api/v1/seller/orders/" + order.OrderID + "/fulfilment"
	w = api.do(t, http.MethodPatch, fulfilment, "user_1", "", gin.H{"status": models.OrderStatusDelivered})
	if w.Code != http.StatusForbidden {
		t.Errorf("buyer fulfilment update: status = %d, want 403", w.Code)
	}

	w = api.do(t, http.MethodPatch, fulfilment, "seller_1", "seller", gin.H{"status": models.OrderStatusDelivered})
	if w.Code != http.StatusOK {
		t.Fatalf("deliver: status %d body %s", w.Code, w.Body.String())
	}

	w = api.do(t, http.MethodPatch, fulfilment, "seller_1", "seller", gin.H{"status": models.OrderStatusShipped})
	if w.Code != http.StatusConflict {
		t.Errorf("backwards fulfilment: status = %d, want 409", w.Code)
	}

	w = api.do(t, http.MethodPost, path+"/return", "user_1", "", gin.H{"reason": "too small"})
	if w.Code != http.StatusOK {
		t.Fatalf("return: status %d body %s", w.Code, w.Body.String())
	}
	var returned models.Order
	decode(t, w, &returned)
	if returned.Status != models.OrderStatusReturned || returned.ReturnStatus != models.ReturnStatusRequested || returned.ReturnReason != "too small" {
		t.Errorf("returned order = %+v", returned)
	}

	w = api.do(t, http.MethodPost, path+"/cancel-return", "user_1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel-return: status %d body %s", w.Code, w.Body.String())
	}
	var restored models.Order
	decode(t, w, &restored)
	if restored.Status != models.OrderStatusDelivered || restored.ReturnStatus != models.ReturnStatusNone || restored.ReturnReason != "" {
		t.Errorf("restored order = %+v", restored)
	}

	w = api.do(t, http.MethodPost, path+"/return", "user_1", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("return without body: status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
}

func TestListSellerOrders(t *testing.T) {
	api := newTestAPI(t)
	first := api.placeOrder(t, "user_1")
	second := api.placeOrder(t, "user_2")

	w := api.do(t, http.MethodPost, "/api/v1/orders/"+first.OrderID+"/cancel", "user_1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: status %d body %s", w.Code, w.Body.String())
	}

	tests := []struct {
		name      string
		query     string
		userID    string
		role      string
		wantCode  int
		wantOrder []string
	}{
		{"all buyers", "", "seller_1", "seller", http.StatusOK, []string{first.OrderID, second.OrderID}},
		{"placed only", "?status=Placed", "seller_1", "seller", http.StatusOK, []string{second.OrderID}},
		{"cancelled only", "?status=Cancelled", "seller_1", "seller", http.StatusOK, []string{first.OrderID}},
		{"limit", "?limit=1", "seller_1", "seller", http.StatusOK, nil},
		{"unknown status", "?status=Lost", "seller_1", "seller", http.StatusBadRequest, nil},
		{"malformed limit", "?limit=ten", "seller_1", "seller", http.StatusBadRequest, nil},
		{"negative limit", "?limit=-1", "seller_1", "seller", http.StatusBadRequest, nil},
		{"buyer forbidden", "", "user_1", "", http.StatusForbidden, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, http.MethodGet, "/api/v1/seller/orders"+tt.query, tt.userID, tt.role, nil)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}

			var resp struct {
				Orders []models.Order `json:"orders"`
				Count  int            `json:"count"`
			}
			decode(t, w, &resp)
			if resp.Count != len(resp.Orders) {
				t.Errorf("count = %d, orders = %d", resp.Count, len(resp.Orders))
			}
			if tt.query == "?limit=1" && len(resp.Orders) != 1 {
				t.Errorf("limit=1 returned %d orders", len(resp.Orders))
			}
			if tt.wantOrder == nil {
				return
			}
			got := make([]string, len(resp.Orders))
			for i, o := range resp.Orders {
				got[i] = o.OrderID
			}
			sort.Strings(got)
			want := append([]string(nil), tt.wantOrder...)
			sort.Strings(want)
			if strings.Join(got, ",") != strings.Join(want, ",") {
				t.Errorf("orders = %v, want %v", got, want)
			}
		})
	}
}
