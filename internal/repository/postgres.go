package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/models"
)

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS orders (
	order_id         TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	items            JSONB NOT NULL,
	order_status     TEXT NOT NULL,
	payment_method   TEXT NOT NULL,
	payment_status   TEXT NOT NULL,
	total_amount     NUMERIC(12,2) NOT NULL,
	delivery         JSONB NOT NULL,
	delivered_at     TIMESTAMPTZ,
	tracking_info    TEXT NOT NULL DEFAULT '',
	return_status    TEXT NOT NULL DEFAULT '',
	return_reason    TEXT NOT NULL DEFAULT '',
	version          BIGINT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_user_created_idx ON orders (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS orders_status_created_idx ON orders (order_status, created_at DESC);
CREATE TABLE IF NOT EXISTS carts (
	user_id    TEXT PRIMARY KEY,
	items      JSONB NOT NULL,
	version    BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

const orderColumns = `
	order_id, user_id, items, order_status, payment_method, payment_status,
	total_amount, delivery, delivered_at, tracking_info, return_status,
	return_reason, version, created_at, updated_at
`

// PostgresStore implements the order, cart and checkout repositories on PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logging.NewLogger("postgres-store"),
	}
}

// EnsureSchema creates the orders and carts tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Orders() OrderRepository { return postgresOrders{s} }

func (s *PostgresStore) Carts() CartRepository { return postgresCarts{s} }

func (s *PostgresStore) Checkout() CheckoutRepository { return postgresCheckout{s} }

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// execTx runs fn inside a transaction and commits when fn succeeds.
func (s *PostgresStore) execTx(ctx context.Context, fn func(q queryer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var order models.Order
	var itemsJSON, deliveryJSON []byte
	var deliveredAt sql.NullTime

	err := row.Scan(
		&order.OrderID,
		&order.UserID,
		&itemsJSON,
		&order.Status,
		&order.PaymentMethod,
		&order.PaymentStatus,
		&order.TotalAmount,
		&deliveryJSON,
		&deliveredAt,
		&order.TrackingInfo,
		&order.ReturnStatus,
		&order.ReturnReason,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(deliveryJSON, &order.Delivery); err != nil {
		return nil, fmt.Errorf("decode delivery: %w", err)
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		order.DeliveredAt = &t
	}
	return &order, nil
}

type postgresOrders struct{ s *PostgresStore }

func (r postgresOrders) GetByID(ctx context.Context, orderID string) (*models.Order, error) {
	r.s.logger.Debug("Fetching order by ID", logging.Fields{"order_id": orderID})

	row := r.s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		r.s.logger.Error("Failed to fetch order", logging.Fields{
			"order_id": orderID,
			"error":    err.Error(),
		})
		return nil, err
	}
	return order, nil
}

func (r postgresOrders) GetForUser(ctx context.Context, userID, orderID string) (*models.Order, error) {
	row := r.s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = $1 AND user_id = $2`,
		orderID, userID)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	return order, err
}

func (r postgresOrders) ListByUserID(ctx context.Context, userID string) ([]*models.Order, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.s.logger.Debug("Orders listed", logging.Fields{
		"user_id": userID,
		"count":   len(orders),
	})
	return orders, nil
}

func (r postgresOrders) List(ctx context.Context, filter OrderFilter) ([]*models.Order, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		WHERE ($1::text = '' OR order_status = $1)
		ORDER BY created_at DESC, order_id
		LIMIT $2`,
		string(filter.Status), filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.s.logger.Debug("Orders listed", logging.Fields{
		"status": filter.Status,
		"count":  len(orders),
	})
	return orders, nil
}

func (r postgresOrders) Update(ctx context.Context, order *models.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return err
	}
	deliveryJSON, err := json.Marshal(order.Delivery)
	if err != nil {
		return err
	}

	result, err := r.s.db.ExecContext(ctx, `
		UPDATE orders
		SET items = $3, order_status = $4, payment_status = $5, total_amount = $6,
		    delivery = $7, delivered_at = $8, tracking_info = $9, return_status = $10,
		    return_reason = $11, updated_at = $12, version = version + 1
		WHERE order_id = $1 AND version = $2
	`,
		order.OrderID,
		order.Version,
		itemsJSON,
		order.Status,
		order.PaymentStatus,
		order.TotalAmount,
		deliveryJSON,
		nullTime(order.DeliveredAt),
		order.TrackingInfo,
		order.ReturnStatus,
		order.ReturnReason,
		order.UpdatedAt,
	)
	if err != nil {
		r.s.logger.Error("Failed to update order", logging.Fields{
			"order_id": order.OrderID,
			"error":    err.Error(),
		})
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := r.s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM orders WHERE order_id = $1)`, order.OrderID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return errors.ErrNotFound
		}
		return errors.ErrConflict
	}

	order.Version++
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func insertOrder(ctx context.Context, q queryer, order *models.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return err
	}
	deliveryJSON, err := json.Marshal(order.Delivery)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		order.OrderID,
		order.UserID,
		itemsJSON,
		order.Status,
		order.PaymentMethod,
		order.PaymentStatus,
		order.TotalAmount,
		deliveryJSON,
		nullTime(order.DeliveredAt),
		order.TrackingInfo,
		order.ReturnStatus,
		order.ReturnReason,
		order.Version,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return errors.ErrConflict
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

type postgresCarts struct{ s *PostgresStore }

func (r postgresCarts) Get(ctx context.Context, userID string) (*models.Cart, error) {
	cart := &models.Cart{UserID: userID}
	var itemsJSON []byte

	err := r.s.db.QueryRowContext(ctx,
		`SELECT items, version, created_at, updated_at FROM carts WHERE user_id = $1`, userID,
	).Scan(&itemsJSON, &cart.Version, &cart.CreatedAt, &cart.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(itemsJSON, &cart.Items); err != nil {
		return nil, fmt.Errorf("decode cart items: %w", err)
	}
	return cart, nil
}

func (r postgresCarts) Save(ctx context.Context, cart *models.Cart) error {
	return saveCart(ctx, r.s.db, cart, time.Now().UTC())
}

func saveCart(ctx context.Context, q queryer, cart *models.Cart, now time.Time) error {
	items := cart.Items
	if items == nil {
		items = []models.CartItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return err
	}

	if cart.Version == 0 {
		_, err := q.ExecContext(ctx, `
			INSERT INTO carts (user_id, items, version, created_at, updated_at)
			VALUES ($1, $2, 1, $3, $3)
		`, cart.UserID, itemsJSON, now)
		if isUniqueViolation(err) {
			return errors.ErrConflict
		}
		if err != nil {
			return err
		}
		cart.CreatedAt = now
		cart.UpdatedAt = now
		cart.Version = 1
		return nil
	}

	result, err := q.ExecContext(ctx, `
		UPDATE carts SET items = $3, updated_at = $4, version = version + 1
		WHERE user_id = $1 AND version = $2
	`, cart.UserID, cart.Version, itemsJSON, now)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.ErrConflict
	}

	cart.UpdatedAt = now
	cart.Version++
	return nil
}

type postgresCheckout struct{ s *PostgresStore }

// PlaceOrder writes the order and drains the cart in one transaction.
func (r postgresCheckout) PlaceOrder(ctx context.Context, order *models.Order, cart *models.Cart) error {
	order.Version = 1
	drained := cart.Clone()
	drained.Items = []models.CartItem{}

	err := r.s.execTx(ctx, func(q queryer) error {
		if err := insertOrder(ctx, q, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if err := saveCart(ctx, q, drained, order.CreatedAt); err != nil {
			return fmt.Errorf("drain cart: %w", err)
		}
		return nil
	})
	if err != nil {
		order.Version = 0
		r.s.logger.Error("Checkout transaction failed", logging.Fields{
			"order_id": order.OrderID,
			"user_id":  order.UserID,
			"error":    err.Error(),
		})
		return err
	}

	*cart = *drained
	return nil
}
