package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Server              ServerConfig
	Storage             StorageConfig
	Mongo               MongoConfig
	Database            DatabaseConfig
	Redis               RedisConfig
	Kafka               KafkaConfig
	Auth                AuthConfig
	NotificationService ServiceConfig `envPrefix:"NOTIFICATION_SERVICE_"`
	Orders              OrdersConfig
	Features            FeatureFlags

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

type ServerConfig struct {
	Port           int           `env:"SERVER_PORT" envDefault:"8082"`
	ReadTimeout    time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout   time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	AllowedOrigins []string      `env:"SERVER_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
}

// Storage drivers.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type StorageConfig struct {
	Driver string `env:"STORAGE_DRIVER" envDefault:"mongo"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	Database string `env:"MONGO_DATABASE" envDefault:"storefront"`
	// Transactions requires a replica set or sharded cluster.
	Transactions   bool          `env:"MONGO_TRANSACTIONS" envDefault:"false"`
	ConnectTimeout time.Duration `env:"MONGO_CONNECT_TIMEOUT" envDefault:"10s"`
}

type DatabaseConfig struct {
	Host         string        `env:"DB_HOST" envDefault:"localhost"`
	Port         int           `env:"DB_PORT" envDefault:"5432"`
	User         string        `env:"DB_USER" envDefault:"acme"`
	Password     string        `env:"DB_PASSWORD" envDefault:"acme"`
	Name         string        `env:"DB_NAME" envDefault:"acme_storefront"`
	SSLMode      string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxLifetime  time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
}

func (d DatabaseConfig) ConnectionString() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" sslmode=" + d.SSLMode
}

type RedisConfig struct {
	Host     string        `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int           `env:"REDIS_PORT" envDefault:"6379"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	TTL      time.Duration `env:"REDIS_TTL" envDefault:"5m"`
}

type KafkaConfig struct {
	Brokers         []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	OrdersTopic     string   `env:"KAFKA_ORDERS_TOPIC" envDefault:"storefront.orders"`
	FulfilmentTopic string   `env:"KAFKA_FULFILMENT_TOPIC" envDefault:"storefront.fulfilment"`
	ConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"storefront-orders"`
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
	// SellerRole is the role claim that grants access to fulfilment routes.
	SellerRole string `env:"JWT_SELLER_ROLE" envDefault:"seller"`
}

type ServiceConfig struct {
	BaseURL string        `env:"URL" envDefault:"http://localhost:8084"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"5s"`
	APIKey  string        `env:"API_KEY"`
}

type OrdersConfig struct {
	ReturnWindow time.Duration `env:"ORDER_RETURN_WINDOW" envDefault:"96h"`
}

type FeatureFlags struct {
	EnableOrderEvents        bool `env:"FEATURE_ORDER_EVENTS" envDefault:"true"`
	EnableOrderCaching       bool `env:"FEATURE_ORDER_CACHING" envDefault:"true"`
	EnableNotifications      bool `env:"FEATURE_NOTIFICATIONS" envDefault:"false"`
	EnableFulfilmentConsumer bool `env:"FEATURE_FULFILMENT_CONSUMER" envDefault:"true"`
}

// Load reads a .env file when one exists, then parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse builds the configuration from environment variables only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverMongo, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if c.Orders.ReturnWindow <= 0 {
		return fmt.Errorf("ORDER_RETURN_WINDOW must be positive, got %s", c.Orders.ReturnWindow)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}
