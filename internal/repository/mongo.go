package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/models"
)

const (
	ordersCollection = "orders"
	cartsCollection  = "carts"
)

type itemDocument struct {
	ProductID string               `bson:"id"`
	Name      string               `bson:"name"`
	Price     primitive.Decimal128 `bson:"price"`
	Image     string               `bson:"image"`
	Quantity  int                  `bson:"qty"`
}

type deliveryDocument struct {
	Name         string `bson:"name"`
	Mobile       string `bson:"mobile"`
	Address      string `bson:"address"`
	Instructions string `bson:"instructions,omitempty"`
}

type orderDocument struct {
	OrderID       string               `bson:"_id"`
	UserID        string               `bson:"userId"`
	Items         []itemDocument       `bson:"items"`
	Status        string               `bson:"orderStatus"`
	PaymentMethod string               `bson:"paymentMethod"`
	PaymentStatus string               `bson:"paymentStatus"`
	TotalAmount   primitive.Decimal128 `bson:"totalAmount"`
	Delivery      deliveryDocument     `bson:"delivery"`
	DeliveredAt   *time.Time           `bson:"deliveredAt,omitempty"`
	TrackingInfo  string               `bson:"trackingInfo,omitempty"`
	ReturnStatus  string               `bson:"returnStatus,omitempty"`
	ReturnReason  string               `bson:"returnReason,omitempty"`
	Version       int64                `bson:"version"`
	CreatedAt     time.Time            `bson:"createdAt"`
	UpdatedAt     time.Time            `bson:"updatedAt"`
}

type cartDocument struct {
	UserID    string         `bson:"_id"`
	Items     []itemDocument `bson:"items"`
	Version   int64          `bson:"version"`
	CreatedAt time.Time      `bson:"createdAt"`
	UpdatedAt time.Time      `bson:"updatedAt"`
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("encode decimal %s: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode decimal %s: %w", v, err)
	}
	return d, nil
}

func toItemDocuments(items []models.OrderItem) ([]itemDocument, error) {
	docs := make([]itemDocument, 0, len(items))
	for _, item := range items {
		price, err := toDecimal128(item.Price)
		if err != nil {
			return nil, err
		}
		docs = append(docs, itemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     price,
			Image:     item.Image,
			Quantity:  item.Quantity,
		})
	}
	return docs, nil
}

func fromItemDocuments(docs []itemDocument) ([]models.OrderItem, error) {
	items := make([]models.OrderItem, 0, len(docs))
	for _, doc := range docs {
		price, err := fromDecimal128(doc.Price)
		if err != nil {
			return nil, err
		}
		items = append(items, models.OrderItem{
			ProductID: doc.ProductID,
			Name:      doc.Name,
			Price:     price,
			Image:     doc.Image,
			Quantity:  doc.Quantity,
		})
	}
	return items, nil
}

func toOrderDocument(order *models.Order) (*orderDocument, error) {
	items, err := toItemDocuments(order.Items)
	if err != nil {
		return nil, err
	}
	total, err := toDecimal128(order.TotalAmount)
	if err != nil {
		return nil, err
	}
	return &orderDocument{
		OrderID:       order.OrderID,
		UserID:        order.UserID,
		Items:         items,
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		PaymentStatus: string(order.PaymentStatus),
		TotalAmount:   total,
		Delivery:      deliveryDocument(order.Delivery),
		DeliveredAt:   order.DeliveredAt,
		TrackingInfo:  order.TrackingInfo,
		ReturnStatus:  string(order.ReturnStatus),
		ReturnReason:  order.ReturnReason,
		Version:       order.Version,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}, nil
}

func (d *orderDocument) toModel() (*models.Order, error) {
	items, err := fromItemDocuments(d.Items)
	if err != nil {
		return nil, err
	}
	total, err := fromDecimal128(d.TotalAmount)
	if err != nil {
		return nil, err
	}
	return &models.Order{
		OrderID:       d.OrderID,
		UserID:        d.UserID,
		Items:         items,
		Status:        models.OrderStatus(d.Status),
		PaymentMethod: models.PaymentMethod(d.PaymentMethod),
		PaymentStatus: models.PaymentStatus(d.PaymentStatus),
		TotalAmount:   total,
		Delivery:      models.DeliveryInfo(d.Delivery),
		DeliveredAt:   d.DeliveredAt,
		TrackingInfo:  d.TrackingInfo,
		ReturnStatus:  models.ReturnStatus(d.ReturnStatus),
		ReturnReason:  d.ReturnReason,
		Version:       d.Version,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}, nil
}

// MongoStore implements the order, cart and checkout repositories on MongoDB.
type MongoStore struct {
	client       *mongo.Client
	db           *mongo.Database
	transactions bool
	logger       *logging.Logger
}

// NewMongoStore uses database dbName on client. With transactions enabled
// checkout runs in a multi-document transaction, which needs a replica set.
// Otherwise checkout falls back to a compensating delete.
func NewMongoStore(client *mongo.Client, dbName string, transactions bool) *MongoStore {
	return &MongoStore{
		client:       client,
		db:           client.Database(dbName),
		transactions: transactions,
		logger:       logging.NewLogger("mongo-store"),
	}
}

// EnsureIndexes creates the per-user and per-status listing indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(ordersCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "orderStatus", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create orders indexes: %w", err)
	}
	return nil
}

// Ping checks the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Orders() OrderRepository { return mongoOrders{s} }

func (s *MongoStore) Carts() CartRepository { return mongoCarts{s} }

func (s *MongoStore) Checkout() CheckoutRepository { return mongoCheckout{s} }

func (s *MongoStore) orders() *mongo.Collection { return s.db.Collection(ordersCollection) }

func (s *MongoStore) carts() *mongo.Collection { return s.db.Collection(cartsCollection) }

type mongoOrders struct{ s *MongoStore }

func (r mongoOrders) findOne(ctx context.Context, filter bson.M) (*models.Order, error) {
	var doc orderDocument
	err := r.s.orders().FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel()
}

func (r mongoOrders) GetByID(ctx context.Context, orderID string) (*models.Order, error) {
	return r.findOne(ctx, bson.M{"_id": orderID})
}

func (r mongoOrders) GetForUser(ctx context.Context, userID, orderID string) (*models.Order, error) {
	return r.findOne(ctx, bson.M{"_id": orderID, "userId": userID})
}

func (r mongoOrders) ListByUserID(ctx context.Context, userID string) ([]*models.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cur, err := r.s.orders().Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []orderDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	orders := make([]*models.Order, 0, len(docs))
	for i := range docs {
		order, err := docs[i].toModel()
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (r mongoOrders) List(ctx context.Context, filter OrderFilter) ([]*models.Order, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["orderStatus"] = string(filter.Status)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(filter.Limit))

	cur, err := r.s.orders().Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []orderDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	orders := make([]*models.Order, 0, len(docs))
	for i := range docs {
		order, err := docs[i].toModel()
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (r mongoOrders) Update(ctx context.Context, order *models.Order) error {
	doc, err := toOrderDocument(order)
	if err != nil {
		return err
	}
	doc.Version = order.Version + 1

	result, err := r.s.orders().ReplaceOne(ctx, bson.M{"_id": order.OrderID, "version": order.Version}, doc)
	if err != nil {
		r.s.logger.Error("Failed to update order", logging.Fields{
			"order_id": order.OrderID,
			"error":    err.Error(),
		})
		return err
	}
	if result.MatchedCount == 0 {
		count, err := r.s.orders().CountDocuments(ctx, bson.M{"_id": order.OrderID})
		if err != nil {
			return err
		}
		if count == 0 {
			return errors.ErrNotFound
		}
		return errors.ErrConflict
	}

	order.Version = doc.Version
	return nil
}

type mongoCarts struct{ s *MongoStore }

func (r mongoCarts) Get(ctx context.Context, userID string) (*models.Cart, error) {
	var doc cartDocument
	err := r.s.carts().FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	items, err := fromItemDocuments(doc.Items)
	if err != nil {
		return nil, err
	}
	return &models.Cart{
		UserID:    doc.UserID,
		Items:     items,
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (r mongoCarts) Save(ctx context.Context, cart *models.Cart) error {
	return r.s.saveCart(ctx, cart, time.Now().UTC())
}

func (s *MongoStore) saveCart(ctx context.Context, cart *models.Cart, now time.Time) error {
	items, err := toItemDocuments(cart.Items)
	if err != nil {
		return err
	}

	if cart.Version == 0 {
		_, err := s.carts().InsertOne(ctx, cartDocument{
			UserID:    cart.UserID,
			Items:     items,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if mongo.IsDuplicateKeyError(err) {
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

	result, err := s.carts().UpdateOne(ctx,
		bson.M{"_id": cart.UserID, "version": cart.Version},
		bson.M{
			"$set": bson.M{"items": items, "updatedAt": now},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return errors.ErrConflict
	}

	cart.UpdatedAt = now
	cart.Version++
	return nil
}

type mongoCheckout struct{ s *MongoStore }

func (r mongoCheckout) PlaceOrder(ctx context.Context, order *models.Order, cart *models.Cart) error {
	order.Version = 1
	doc, err := toOrderDocument(order)
	if err != nil {
		order.Version = 0
		return err
	}

	drained := cart.Clone()
	drained.Items = []models.CartItem{}

	if r.s.transactions {
		err = r.placeInTransaction(ctx, doc, drained, order.CreatedAt)
	} else {
		err = r.placeWithCompensation(ctx, doc, drained, order.CreatedAt)
	}
	if err != nil {
		order.Version = 0
		r.s.logger.Error("Checkout failed", logging.Fields{
			"order_id":     order.OrderID,
			"user_id":      order.UserID,
			"transactions": r.s.transactions,
			"error":        err.Error(),
		})
		return err
	}

	*cart = *drained
	return nil
}

func (r mongoCheckout) placeInTransaction(ctx context.Context, doc *orderDocument, drained *models.Cart, now time.Time) error {
	sess, err := r.s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	// The callback may be retried on transient errors, so it works on a copy.
	attempt := func(sessCtx mongo.SessionContext) (interface{}, error) {
		cart := drained.Clone()
		if err := r.insertOrder(sessCtx, doc); err != nil {
			return nil, err
		}
		if err := r.s.saveCart(sessCtx, cart, now); err != nil {
			return nil, fmt.Errorf("drain cart: %w", err)
		}
		return cart, nil
	}

	result, err := sess.WithTransaction(ctx, attempt)
	if err != nil {
		return err
	}
	*drained = *result.(*models.Cart)
	return nil
}

func (r mongoCheckout) placeWithCompensation(ctx context.Context, doc *orderDocument, drained *models.Cart, now time.Time) error {
	if err := r.insertOrder(ctx, doc); err != nil {
		return err
	}

	drainErr := r.s.saveCart(ctx, drained, now)
	if drainErr == nil {
		return nil
	}

	// Use a fresh context so cancellation of the request does not strand the order.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := r.s.orders().DeleteOne(cleanupCtx, bson.M{"_id": doc.OrderID}); err != nil {
		r.s.logger.Error("Failed to remove order after cart drain failure", logging.Fields{
			"order_id": doc.OrderID,
			"error":    err.Error(),
		})
		return fmt.Errorf("drain cart: %w (compensation failed: %v)", drainErr, err)
	}
	return fmt.Errorf("drain cart: %w", drainErr)
}

func (r mongoCheckout) insertOrder(ctx context.Context, doc *orderDocument) error {
	_, err := r.s.orders().InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return errors.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}
