package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/config"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/coupon"
	httpdelivery "github.com/raviteja-iiith/e-merchandise-sub001/internal/delivery/http"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/messaging"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/messaging/gochannel"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/messaging/kafka"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/observability"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/payment"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/pricing"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/repository"
	rediscart "github.com/raviteja-iiith/e-merchandise-sub001/internal/repository/redis"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/repository/sqlstore"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/service"
	goredis "github.com/redis/go-redis/v9"
)

// broker is what the service needs from a message transport.
type broker interface {
	messaging.Publisher
	messaging.Subscriber
	Close() error
}

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	slog.SetDefault(cfg.NewLogger())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Tracing ---
	shutdownTracing, err := observability.SetupTracingSDK(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Error("Failed to flush traces", "err", err)
		}
	}()

	// --- Database ---
	db, err := sqlstore.InitDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	defer db.Close()

	products := sqlstore.NewProductRepository(db)
	coupons := sqlstore.NewCouponRepository(db)

	if cfg.SeedDemo {
		if err := seedDemo(ctx, products, coupons); err != nil {
			return fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	carts, closeCarts, err := newCartRepository(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeCarts()

	// --- Messaging ---
	var bus broker
	if len(cfg.KafkaBrokers) > 0 {
		slog.Info("Using Kafka broker", "brokers", cfg.KafkaBrokers)
		bus = kafka.NewKafkaBroker(cfg.KafkaBrokers)
	} else {
		slog.Info("Using in-process broker")
		bus = gochannel.NewBroker(256, false)
	}
	defer bus.Close()

	// --- Services ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	var shipping pricing.ShippingCalculator = pricing.FlatRate{Fee: cfg.ShippingFlatFee}
	if cfg.FreeShippingThreshold.Valid {
		shipping = pricing.FreeOver{Threshold: cfg.FreeShippingThreshold.Decimal, Fee: cfg.ShippingFlatFee}
	}

	validator := coupon.NewValidator(coupons)
	orderSvc := service.NewOrderService(
		sqlstore.NewOrderRepository(db),
		products,
		sqlstore.NewStockLedger(db),
		carts,
		sqlstore.NewEventStore(db),
		validator,
		pricing.NewEngine(cfg.TaxRate),
		shipping,
		payment.NewSimulated(cfg.PaymentMethods...),
		messaging.NewBrokerNotifier(bus),
		bus,
		metrics,
		service.Options{
			RestockOnReturn: cfg.RestockOnReturn,
			StoreTimeout:    cfg.StoreTimeout,
			NotifyTimeout:   cfg.NotifyTimeout,
			MaxOrderIDTries: config.MaxOrderIDTries,
			ListLimit:       config.OrderListLimit,
		},
	)
	cartSvc := service.NewCartService(carts, products, validator, cfg.StoreTimeout)

	// Consumer: notifications.outbound -> log
	go service.NewNotificationLogger(bus, config.ConsumerGroupID).Run(ctx)

	// --- HTTP API ---
	handler := httpdelivery.NewHandler(orderSvc, cartSvc, products, reg)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpdelivery.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server starting", "addr", cfg.HTTPAddr, "service", config.ServiceName, "version", config.ServiceVersion)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "err", err)
	}
	orderSvc.Wait()
	return nil
}

// newCartRepository keeps carts in Redis when REDIS_ADDR is set and in the
// database otherwise.
func newCartRepository(ctx context.Context, cfg *config.Config, db *sql.DB) (repository.CartRepository, func(), error) {
	if cfg.RedisAddr == "" {
		return sqlstore.NewCartRepository(db), func() {}, nil
	}

	client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	slog.Info("Using Redis cart store", "addr", cfg.RedisAddr)
	return rediscart.NewCartRepository(client, config.CartTTL), func() { client.Close() }, nil
}
