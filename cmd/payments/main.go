package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"payments/internal/api"
	"payments/internal/auth"
	"payments/internal/cache"
	"payments/internal/config"
	"payments/internal/events"
	"payments/internal/idempotency"
	"payments/internal/jobs"
	"payments/internal/metrics"
	"payments/internal/payment"
	"payments/internal/payout"
	"payments/internal/provider"
	"payments/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "payments")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer st.close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable at startup, continuing with store fallback", "addr", cfg.RedisAddr, "error", err)
	}
	statusCache := cache.NewRedis(rdb)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var publisher events.Publisher
	switch cfg.EventTransport {
	case "kafka":
		w := events.NewKafkaWriter(cfg.KafkaBrokers)
		defer w.Close()
		publisher = events.NewKafkaPublisher(w)
	default:
		publisher = st.outbox
	}
	emitter := events.NewEmitter(publisher, cfg.PublishTimeout, cfg.Currency, logger)

	providers, err := provider.NewSet(cfg.SupportedProviders)
	if err != nil {
		log.Fatal(err)
	}
	httpClient := &http.Client{Timeout: cfg.ExternalCallTimeout}
	gateway := provider.NewGateway(provider.Config{
		RazorpayKeyID:     cfg.RazorpayKeyID,
		RazorpayKeySecret: cfg.RazorpayKeySecret,
		RazorpayBaseURL:   cfg.RazorpayBaseURL,
		Client:            httpClient,
		Logger:            logger,
	})
	jobClient := jobs.NewClient(cfg.JobServiceURL, httpClient, logger)

	paySvc, err := payment.NewService(payment.Deps{
		Store:       st.payments,
		Cache:       statusCache,
		Guard:       idempotency.NewGuard(st.keys, statusCache, cfg.IdempotencyTTL, logger),
		Gateway:     gateway,
		Jobs:        jobClient,
		Notifier:    emitter,
		Providers:   providers,
		Metrics:     m,
		Logger:      logger,
		Currency:    cfg.Currency,
		CallTimeout: cfg.ExternalCallTimeout,
		StatusTTL:   cfg.StatusCacheTTL,

		TransactionalEvents: cfg.Outbox(),
	})
	if err != nil {
		log.Fatal(err)
	}
	payoutSvc, err := payout.NewService(payout.Deps{
		Payments:       st.payments,
		Payouts:        st.payouts,
		Jobs:           jobClient,
		Notifier:       emitter,
		CommissionRate: cfg.CommissionRate,
		CallTimeout:    cfg.ExternalCallTimeout,
		Metrics:        m,
		Logger:         logger,

		TransactionalEvents: cfg.Outbox(),
	})
	if err != nil {
		log.Fatal(err)
	}

	srv := &api.Server{Payments: paySvc, Payouts: payoutSvc, Gatherer: reg, Logger: logger}
	if cfg.JWTSecret != "" {
		srv.Auth = auth.NewValidator(cfg.JWTSecret)
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}()

	logger.Info("server started", "addr", cfg.HTTPAddr, "event_transport", cfg.EventTransport)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

// storage is the record backend selected by DATABASE_URL.
type storage struct {
	payments payment.Store
	payouts  payout.Store
	keys     idempotency.Store
	outbox   events.Publisher
	close    func()
}

func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage, error) {
	if cfg.InMemory() {
		logger.Warn("using in-memory storage, records are lost on exit")
		return storage{
			payments: store.NewMemoryPayments(),
			payouts:  store.NewMemoryPayouts(),
			keys:     store.NewMemoryIdempotencyKeys(),
			close:    func() {},
		}, nil
	}

	db, err := store.OpenSQL(cfg.DatabaseURL)
	if err != nil {
		return storage{}, err
	}
	err = store.Migrate(db)
	db.Close()
	if err != nil {
		return storage{}, err
	}

	dbpool, err := store.OpenPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return storage{}, err
	}
	return storage{
		payments: store.NewPayments(dbpool),
		payouts:  store.NewPayouts(dbpool),
		keys:     store.NewIdempotencyKeys(dbpool),
		outbox:   store.NewOutbox(dbpool),
		close:    dbpool.Close,
	}, nil
}
