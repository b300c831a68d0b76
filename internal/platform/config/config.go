package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every runtime setting the API needs. All values come from
// the environment; defaults keep local development working without a .env file.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Firebase  FirebaseConfig
	Redis     RedisConfig
	Payments  PaymentsConfig
	Cache     CacheConfig
	Events    EventsConfig
	Sweeper   SweeperConfig
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirestoreConfig identifies the backing Firestore database.
type FirestoreConfig struct {
	ProjectID    string
	DatabaseID   string
	EmulatorHost string
}

// FirebaseConfig configures identity verification.
type FirebaseConfig struct {
	ProjectID string
}

// RedisConfig configures the shared payment-status cache. An empty Addr
// selects the in-process cache instead.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PaymentsConfig configures the upstream payment providers.
type PaymentsConfig struct {
	MercadoPagoToken   string
	MercadoPagoBaseURL string
	StripeKey          string
	RequestTimeout     time.Duration
	WebhookSecret      string
}

// CacheConfig carries the payment-status cache TTLs.
type CacheConfig struct {
	PaidTTL    time.Duration
	PendingTTL time.Duration
}

// EventsConfig configures the Pub/Sub event publisher. An empty TopicID
// disables publishing.
type EventsConfig struct {
	ProjectID string
	TopicID   string
}

// SweeperConfig configures the pending-order expiry sweeper.
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getString("SERVER_ADDR", ":8080"),
			ReadTimeout:     getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Firestore: FirestoreConfig{
			ProjectID:    getString("FIRESTORE_PROJECT_ID", os.Getenv("GOOGLE_CLOUD_PROJECT")),
			DatabaseID:   getString("FIRESTORE_DATABASE_ID", "(default)"),
			EmulatorHost: getString("FIRESTORE_EMULATOR_HOST", ""),
		},
		Firebase: FirebaseConfig{
			ProjectID: getString("FIREBASE_PROJECT_ID", os.Getenv("GOOGLE_CLOUD_PROJECT")),
		},
		Redis: RedisConfig{
			Addr:     getString("REDIS_ADDR", ""),
			Password: getString("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		Payments: PaymentsConfig{
			MercadoPagoToken:   getString("MERCADOPAGO_ACCESS_TOKEN", ""),
			MercadoPagoBaseURL: getString("MERCADOPAGO_BASE_URL", "https://api.mercadopago.com"),
			StripeKey:          getString("STRIPE_SECRET_KEY", ""),
			RequestTimeout:     getDuration("PAYMENTS_REQUEST_TIMEOUT", 10*time.Second),
			WebhookSecret:      getString("PAYMENTS_WEBHOOK_SECRET", ""),
		},
		Cache: CacheConfig{
			PaidTTL:    getDuration("PAYMENT_STATUS_PAID_TTL", 5*time.Minute),
			PendingTTL: getDuration("PAYMENT_STATUS_PENDING_TTL", 30*time.Second),
		},
		Events: EventsConfig{
			ProjectID: getString("EVENTS_PROJECT_ID", os.Getenv("GOOGLE_CLOUD_PROJECT")),
			TopicID:   getString("EVENTS_TOPIC_ID", ""),
		},
		Sweeper: SweeperConfig{
			Interval:  getDuration("EXPIRY_SWEEP_INTERVAL", time.Minute),
			BatchSize: getInt("EXPIRY_SWEEP_BATCH", 50),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		return nil, fmt.Errorf("config: FIRESTORE_PROJECT_ID is required")
	}
	if cfg.Cache.PaidTTL <= 0 || cfg.Cache.PendingTTL <= 0 {
		return nil, fmt.Errorf("config: payment status cache TTLs must be positive")
	}
	if cfg.Sweeper.BatchSize <= 0 {
		return nil, fmt.Errorf("config: EXPIRY_SWEEP_BATCH must be positive")
	}
	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
