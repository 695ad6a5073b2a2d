package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/clients"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/events"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/repository"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/server"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/service"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	_ "github.com/lib/pq"
)

func main() {
	logger := logging.NewLogger("storefront-orders")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", logging.Fields{"error": err.Error()})
	}
	logging.Configure(cfg.LogLevel, nil)

	logging.Infof("Starting storefront-orders on port %d", cfg.Server.Port)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		logger.Fatal("Failed to register metrics", logging.Fields{"error": err.Error()})
	}

	ctx := context.Background()

	store, closeStore, err := initStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialise storage", logging.Fields{
			"driver": cfg.Storage.Driver,
			"error":  err.Error(),
		})
	}
	defer closeStore()

	checks := []handlers.ReadinessCheck{{Name: cfg.Storage.Driver, Pinger: store}}

	var orderCache repository.OrderCache
	if cfg.Features.EnableOrderCaching {
		redisCache := repository.NewRedisOrderCache(cfg.Redis)
		defer redisCache.Close()
		orderCache = redisCache
		checks = append(checks, handlers.ReadinessCheck{Name: "redis", Pinger: redisCache})
	}

	var publisher service.EventPublisher
	if cfg.Features.EnableOrderEvents {
		kafkaPublisher := events.NewKafkaPublisher(cfg.Kafka)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	var notifier service.Notifier
	if cfg.Features.EnableNotifications {
		notifier = clients.NewHTTPNotificationClient(cfg.NotificationService)
	}

	orderService := service.NewOrderService(store, orderCache, publisher, notifier, m, cfg)
	cartService := service.NewCartService(store.Carts(), m)

	h := handlers.NewHandlers(orderService, cartService, cfg, reg, checks...)
	srv := server.New(cfg, h, m)

	go func() {
		logger.Info("Server starting", logging.Fields{
			"port":                  cfg.Server.Port,
			"storage_driver":        cfg.Storage.Driver,
			"enable_order_events":   cfg.Features.EnableOrderEvents,
			"enable_order_caching":  cfg.Features.EnableOrderCaching,
			"enable_notifications":  cfg.Features.EnableNotifications,
			"enable_fulfilment_sub": cfg.Features.EnableFulfilmentConsumer,
		})
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", logging.Fields{"error": err.Error()})
		}
	}()

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()

	var consumer *events.KafkaConsumer
	if cfg.Features.EnableFulfilmentConsumer {
		consumer = events.NewKafkaConsumer(cfg.Kafka, orderService)
		go func() {
			if err := consumer.Start(consumerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Fulfilment consumer failed", logging.Fields{"error": err.Error()})
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if consumer != nil {
		stopConsumer()
		consumer.Stop()
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", logging.Fields{"error": err.Error()})
	}

	logger.Info("Server exited")
}

// initStore connects the configured storage driver and prepares its schema.
func initStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Store, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverMongo:
		return initMongo(ctx, cfg, logger)
	case config.DriverPostgres:
		return initPostgres(ctx, cfg, logger)
	default:
		logger.Warn("Using in-memory storage; data is lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	}
}

func initMongo(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Store, func(), error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Mongo.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			logger.Error("Failed to disconnect from MongoDB", logging.Fields{"error": err.Error()})
		}
	}

	store := repository.NewMongoStore(client, cfg.Mongo.Database, cfg.Mongo.Transactions)
	if err := store.Ping(connectCtx); err != nil {
		closeFn()
		return nil, nil, err
	}
	if err := store.EnsureIndexes(connectCtx); err != nil {
		closeFn()
		return nil, nil, err
	}

	logger.Info("MongoDB connected", logging.Fields{
		"database":     cfg.Mongo.Database,
		"transactions": cfg.Mongo.Transactions,
	})
	return store, closeFn, nil
}

func initPostgres(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Store, func(), error) {
	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return nil, nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	closeFn := func() { db.Close() }

	if err := db.PingContext(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}

	store := repository.NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}

	logger.Info("Database connected", logging.Fields{
		"host": cfg.Database.Host,
		"name": cfg.Database.Name,
	})
	return store, closeFn, nil
}
