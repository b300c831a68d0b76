package di

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/keyforge-store/api/internal/payments"
	"github.com/keyforge-store/api/internal/platform/config"
	"github.com/keyforge-store/api/internal/platform/events"
	pfirestore "github.com/keyforge-store/api/internal/platform/firestore"
	"github.com/keyforge-store/api/internal/platform/observability"
	"github.com/keyforge-store/api/internal/platform/statuscache"
	firestoreRepo "github.com/keyforge-store/api/internal/repositories/firestore"
	"github.com/keyforge-store/api/internal/services"
)

// Services bundles the service-layer contracts handlers rely upon.
type Services struct {
	Allocation    services.AllocationService
	Fulfillment   services.FulfillmentService
	PaymentStatus services.PaymentStatusService
	Orders        services.OrderService
}

// Container wires repositories, services and background infrastructure for
// runtime use. Close releases everything it opened.
type Container struct {
	Config   *config.Config
	Services Services
	Sweeper  *services.ExpirySweeper

	Firestore *pfirestore.Provider

	redisClient  *redis.Client
	pubsubClient *pubsub.Client
	pubsubTopic  *pubsub.Topic
}

// NewContainer constructs the runtime dependency graph from configuration.
func NewContainer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("di: config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Container{Config: cfg}

	c.Firestore = pfirestore.NewProvider(cfg.Firestore)
	if _, err := c.Firestore.Client(ctx); err != nil {
		return nil, fmt.Errorf("di: firestore client: %w", err)
	}

	orderRepo, err := firestoreRepo.NewOrderRepository(c.Firestore)
	if err != nil {
		return nil, closeOnError(c, err)
	}
	stockRepo, err := firestoreRepo.NewStockRepository(c.Firestore)
	if err != nil {
		return nil, closeOnError(c, err)
	}
	catalogRepo, err := firestoreRepo.NewCatalogRepository(c.Firestore)
	if err != nil {
		return nil, closeOnError(c, err)
	}
	userRepo, err := firestoreRepo.NewUserRepository(c.Firestore)
	if err != nil {
		return nil, closeOnError(c, err)
	}

	cache, err := c.buildStatusCache(ctx, cfg, logger)
	if err != nil {
		return nil, closeOnError(c, err)
	}
	publisher, err := c.buildPublisher(ctx, cfg, logger)
	if err != nil {
		return nil, closeOnError(c, err)
	}
	manager, err := buildPaymentManager(cfg)
	if err != nil {
		return nil, closeOnError(c, err)
	}

	eventLogger := observability.EventLogger()

	allocation, err := services.NewAllocationService(services.AllocationServiceDeps{
		Stock:   stockRepo,
		Catalog: catalogRepo,
		Logger:  eventLogger,
	})
	if err != nil {
		return nil, closeOnError(c, err)
	}
	fulfillment, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Orders:    orderRepo,
		Users:     userRepo,
		Allocator: allocation,
		Events:    publisher,
		Logger:    eventLogger,
	})
	if err != nil {
		return nil, closeOnError(c, err)
	}
	paymentStatus, err := services.NewPaymentStatusService(services.PaymentStatusServiceDeps{
		Orders:      orderRepo,
		Provider:    manager,
		Cache:       cache,
		Fulfillment: fulfillment,
		Events:      publisher,
		PaidTTL:     cfg.Cache.PaidTTL,
		PendingTTL:  cfg.Cache.PendingTTL,
		Logger:      eventLogger,
	})
	if err != nil {
		return nil, closeOnError(c, err)
	}
	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      orderRepo,
		Catalog:     catalogRepo,
		Fulfillment: fulfillment,
		Events:      publisher,
		Logger:      eventLogger,
	})
	if err != nil {
		return nil, closeOnError(c, err)
	}
	sweeper, err := services.NewExpirySweeper(services.ExpirySweeperDeps{
		Orders:    orders,
		Interval:  cfg.Sweeper.Interval,
		BatchSize: cfg.Sweeper.BatchSize,
		Logger:    eventLogger,
	})
	if err != nil {
		return nil, closeOnError(c, err)
	}

	c.Services = Services{
		Allocation:    allocation,
		Fulfillment:   fulfillment,
		PaymentStatus: paymentStatus,
		Orders:        orders,
	}
	c.Sweeper = sweeper
	return c, nil
}

// Close releases the clients the container opened. Safe on a nil receiver.
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.pubsubTopic != nil {
		c.pubsubTopic.Stop()
	}
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub close: %w", err))
		}
	}
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Firestore != nil {
		if err := c.Firestore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("firestore close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ReadinessChecks exposes per-dependency probes for the readiness endpoint.
func (c *Container) ReadinessChecks() map[string]func(ctx context.Context) error {
	checks := make(map[string]func(ctx context.Context) error)
	if c.Firestore != nil {
		provider := c.Firestore
		checks["firestore"] = func(ctx context.Context) error {
			_, err := provider.Client(ctx)
			return err
		}
	}
	if c.redisClient != nil {
		client := c.redisClient
		checks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
	}
	return checks
}

func (c *Container) buildStatusCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (statuscache.Cache, error) {
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		logger.Info("payment status cache: using in-process cache")
		return statuscache.NewMemoryCache(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("di: redis ping: %w", err)
	}
	c.redisClient = client
	return statuscache.NewRedisCache(client), nil
}

func (c *Container) buildPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (events.Publisher, error) {
	if strings.TrimSpace(cfg.Events.TopicID) == "" {
		logger.Info("order events: publishing disabled")
		return events.NopPublisher{}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("di: pubsub client: %w", err)
	}
	c.pubsubClient = client
	c.pubsubTopic = client.Topic(cfg.Events.TopicID)
	return events.NewPubSubPublisher(c.pubsubTopic)
}

func buildPaymentManager(cfg *config.Config) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider)
	if strings.TrimSpace(cfg.Payments.MercadoPagoToken) != "" {
		mp, err := payments.NewMercadoPagoProvider(payments.MercadoPagoConfig{
			AccessToken: cfg.Payments.MercadoPagoToken,
			BaseURL:     cfg.Payments.MercadoPagoBaseURL,
			Timeout:     cfg.Payments.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		providers["mercadopago"] = mp
	}
	if strings.TrimSpace(cfg.Payments.StripeKey) != "" {
		sp, err := payments.NewStripeProvider(payments.StripeConfig{
			APIKey: cfg.Payments.StripeKey,
		})
		if err != nil {
			return nil, err
		}
		providers["stripe"] = sp
	}
	if len(providers) == 0 {
		return nil, errors.New("di: no payment provider configured")
	}

	opts := []payments.ManagerOption{}
	if _, ok := providers["mercadopago"]; ok {
		opts = append(opts, payments.WithDefaultProvider("mercadopago"))
	}
	return payments.NewManager(providers, opts...)
}

func closeOnError(c *Container, err error) error {
	_ = c.Close()
	return err
}
