package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/requestctx"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/service"
)

// HeaderRequestID carries the correlation id to downstream services.
const HeaderRequestID = "X-Request-ID"

var _ service.Notifier = (*HTTPNotificationClient)(nil)

// NotificationType names the buyer-facing message to send.
type NotificationType string

const (
	NotificationOrderPlaced     NotificationType = "order_placed"
	NotificationOrderPending    NotificationType = "order_pending_payment"
	NotificationOrderShipped    NotificationType = "order_shipped"
	NotificationOutForDelivery  NotificationType = "order_out_for_delivery"
	NotificationOrderDelivered  NotificationType = "order_delivered"
	NotificationOrderCancelled  NotificationType = "order_cancelled"
	NotificationReturnRequested NotificationType = "return_requested"
	NotificationReturnCancelled NotificationType = "return_cancelled"
)

// Notification is the request body sent to the notification service.
type Notification struct {
	Type      NotificationType  `json:"type"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// HTTPNotificationClient sends order notifications over HTTP.
type HTTPNotificationClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	logger     *logging.Logger
}

// NewHTTPNotificationClient creates a client for the notification service.
func NewHTTPNotificationClient(cfg config.ServiceConfig) *HTTPNotificationClient {
	return &HTTPNotificationClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		apiKey: cfg.APIKey,
		logger: logging.NewLogger("notification-client"),
	}
}

// NotifyOrderStatus tells the buyer about the order's current status.
// Statuses without a message are skipped.
func (c *HTTPNotificationClient) NotifyOrderStatus(ctx context.Context, order *models.Order, previousStatus models.OrderStatus) error {
	notification, ok := buildNotification(order, previousStatus)
	if !ok {
		return nil
	}
	return c.send(ctx, notification)
}

func buildNotification(order *models.Order, previous models.OrderStatus) (*Notification, bool) {
	n := &Notification{
		Recipient: order.UserID,
		Metadata: map[string]string{
			"order_id": order.OrderID,
			"status":   string(order.Status),
			"total":    order.TotalAmount.StringFixed(2),
		},
	}

	switch order.Status {
	case models.OrderStatusPending:
		n.Type, n.Subject = NotificationOrderPending, "Order Received"
		n.Body = fmt.Sprintf("Your order %s is awaiting payment confirmation.", order.OrderID)
	case models.OrderStatusPlaced:
		n.Type, n.Subject = NotificationOrderPlaced, "Order Confirmed"
		n.Body = fmt.Sprintf("Your order %s has been placed.", order.OrderID)
	case models.OrderStatusShipped:
		n.Type, n.Subject = NotificationOrderShipped, "Order Shipped"
		n.Body = fmt.Sprintf("Your order %s has been shipped.", order.OrderID)
	case models.OrderStatusOutForDelivery:
		n.Type, n.Subject = NotificationOutForDelivery, "Out for Delivery"
		n.Body = fmt.Sprintf("Your order %s is out for delivery.", order.OrderID)
	case models.OrderStatusDelivered:
		if previous == models.OrderStatusReturned {
			n.Type, n.Subject = NotificationReturnCancelled, "Return Cancelled"
			n.Body = fmt.Sprintf("The return request for order %s has been withdrawn.", order.OrderID)
		} else {
			n.Type, n.Subject = NotificationOrderDelivered, "Order Delivered"
			n.Body = fmt.Sprintf("Your order %s has been delivered.", order.OrderID)
		}
	case models.OrderStatusCancelled:
		n.Type, n.Subject = NotificationOrderCancelled, "Order Cancelled"
		n.Body = fmt.Sprintf("Your order %s has been cancelled.", order.OrderID)
	case models.OrderStatusReturned:
		n.Type, n.Subject = NotificationReturnRequested, "Return Requested"
		n.Body = fmt.Sprintf("We received your return request for order %s.", order.OrderID)
		n.Metadata["reason"] = order.ReturnReason
	default:
		return nil, false
	}
	return n, true
}

func (c *HTTPNotificationClient) send(ctx context.Context, notification *Notification) error {
	c.logger.Debug("Sending notification", logging.Fields{
		"user_id": notification.Recipient,
		"type":    notification.Type,
	})

	body, err := json.Marshal(notification)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/v2/notifications", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}

	c.setHeaders(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to send notification", logging.Fields{
			"user_id": notification.Recipient,
			"error":   err.Error(),
		})
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("notification service returned status %d", resp.StatusCode)
	}

	c.logger.Info("Notification sent", logging.Fields{
		"user_id": notification.Recipient,
		"type":    notification.Type,
	})

	return nil
}

func (c *HTTPNotificationClient) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	if requestID := requestctx.RequestIDFromContext(ctx); requestID != "" {
		req.Header.Set(HeaderRequestID, requestID)
	}
}
