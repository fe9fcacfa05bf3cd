package app

import (
	"context"
	"errors"
	"fmt"
	"storefront/internal/cache"
	"storefront/internal/client"
	"storefront/internal/config"
	"storefront/internal/repository"
	"storefront/internal/server"
	"storefront/internal/service"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

const returnPath = "/api/payments/vnpay/return"

// App holds the wired dependencies shared by the API server and opsctl.
type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	DB       *gorm.DB
	Services server.Services

	redis  *redis.Client
	writer *kafka.Writer
}

func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	if err := cfg.Checkout.Validate(); err != nil {
		return nil, fmt.Errorf("checkout config: %w", err)
	}
	if cfg.VNPay.ReturnURL == "" {
		cfg.VNPay.ReturnURL = strings.TrimRight(cfg.BaseURL, "/") + returnPath
	}

	db, err := client.InitDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, DB: db}

	gateway, err := client.NewGatewayClient(&cfg.VNPay)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.redis, err = client.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	var idempotency cache.IdempotencyStore
	if a.redis != nil {
		idempotency = cache.NewRedisIdempotencyStore(a.redis, cfg.Redis.IdempotencyTTL)
	} else {
		log.Warn().Msg("REDIS_ADDR not set, idempotency keys are kept in process memory")
		idempotency = cache.NewMemoryIdempotencyStore(cfg.Redis.IdempotencyTTL)
	}

	var publisher service.Publisher
	a.writer = client.NewKafkaWriter(cfg.Kafka)
	if a.writer != nil {
		publisher = a.writer
	} else {
		log.Warn().Msg("KAFKA_BROKERS not set, order notifications are only logged")
		publisher = service.NewLogPublisher(log)
	}
	notifier := service.NewNotificationDispatcher(publisher, log)

	orderRepo := repository.NewOrderRepository(db)
	txnRepo := repository.NewTransactionRepository(db)
	productRepo := repository.NewProductRepository(db)
	cartRepo := repository.NewCartRepository(db)
	couponRepo := repository.NewCouponRepository(db)
	eventRepo := repository.NewCallbackEventRepository(db)

	reconciliationService := service.NewReconciliationService(
		db, gateway, notifier,
		orderRepo,
		txnRepo,
		productRepo,
		eventRepo,
		log,
	)

	a.Services = server.Services{
		Cart:    service.NewCartService(cartRepo, productRepo),
		Catalog: service.NewCatalogService(db, productRepo, couponRepo),
		Checkout: service.NewCheckoutService(
			db, cfg.Checkout, gateway, notifier,
			cartRepo,
			productRepo,
			couponRepo,
			orderRepo,
			txnRepo,
			log,
		),
		Order: service.NewOrderService(
			db, notifier,
			orderRepo,
			txnRepo,
			productRepo,
			couponRepo,
			log,
		),
		Reconciliation: reconciliationService,
		Sweeper: service.NewSweeper(
			db, cfg.Checkout.PendingTTL, gateway, reconciliationService,
			orderRepo,
			txnRepo,
			productRepo,
			couponRepo,
			log,
		),
		Idempotency: idempotency,
	}

	return a, nil
}

func (a *App) Close() error {
	var errs []error
	if a.writer != nil {
		errs = append(errs, a.writer.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
