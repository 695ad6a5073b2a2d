package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/requestctx"
)

func TestNotifyOrderStatus_SendsRequest(t *testing.T) {
	var got Notification
	var gotAuth, gotRequestID, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get(HeaderRequestID)
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewHTTPNotificationClient(config.ServiceConfig{BaseURL: srv.URL, Timeout: time.Second, APIKey: "secret"})
	order := &models.Order{
		OrderID:     "ord_1",
		UserID:      "user_1",
		Status:      models.OrderStatusCancelled,
		TotalAmount: decimal.RequireFromString("300"),
	}

	ctx := requestctx.WithRequestID(context.Background(), "req-1")
	if err := client.NotifyOrderStatus(ctx, order, models.OrderStatusPlaced); err != nil {
		t.Fatalf("NotifyOrderStatus() error = %v", err)
	}

	if gotPath != "/api/v2/notifications" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotRequestID != "req-1" {
		t.Errorf("request id = %q", gotRequestID)
	}
	if got.Type != NotificationOrderCancelled || got.Recipient != "user_1" {
		t.Errorf("notification = %+v", got)
	}
	if got.Metadata["total"] != "300.00" {
		t.Errorf("total = %q, want 300.00", got.Metadata["total"])
	}
}

func TestNotifyOrderStatus_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPNotificationClient(config.ServiceConfig{BaseURL: srv.URL, Timeout: time.Second})
	err := client.NotifyOrderStatus(context.Background(), &models.Order{OrderID: "ord_1", Status: models.OrderStatusPlaced}, "")
	if err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestBuildNotification(t *testing.T) {
	tests := []struct {
		name     string
		status   models.OrderStatus
		previous models.OrderStatus
		want     NotificationType
	}{
		{"placed", models.OrderStatusPlaced, "", NotificationOrderPlaced},
		{"pending", models.OrderStatusPending, "", NotificationOrderPending},
		{"shipped", models.OrderStatusShipped, models.OrderStatusPlaced, NotificationOrderShipped},
		{"delivered", models.OrderStatusDelivered, models.OrderStatusOutForDelivery, NotificationOrderDelivered},
		{"return withdrawn", models.OrderStatusDelivered, models.OrderStatusReturned, NotificationReturnCancelled},
		{"returned", models.OrderStatusReturned, models.OrderStatusDelivered, NotificationReturnRequested},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := buildNotification(&models.Order{OrderID: "ord_1", Status: tt.status}, tt.previous)
			if !ok {
				t.Fatal("expected a notification")
			}
			if n.Type != tt.want {
				t.Errorf("Type = %q, want %q", n.Type, tt.want)
			}
		})
	}

	if _, ok := buildNotification(&models.Order{Status: "Unknown"}, ""); ok {
		t.Error("unknown status should not notify")
	}
}
