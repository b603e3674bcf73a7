package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"anonfeedback-backend/internal/config"
	"anonfeedback-backend/internal/database"
	"anonfeedback-backend/internal/flow"
	"anonfeedback-backend/internal/handlers"
	"anonfeedback-backend/internal/logger"
	"anonfeedback-backend/internal/metrics"
	"anonfeedback-backend/internal/notify"
	"anonfeedback-backend/internal/payment"
	"anonfeedback-backend/internal/repository"
	"anonfeedback-backend/internal/routing"
	"anonfeedback-backend/internal/store"
	"anonfeedback-backend/internal/wallet"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Load .env (ignore error in production — env vars set directly)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("❌ invalid configuration", zap.Error(err))
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	backend, closeBackend, err := openBackend(cfg.Store, log)
	if err != nil {
		log.Fatal("❌ Failed to open round store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer closeBackend()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	roundRepo := repository.NewRoundRepo(store.New(backend, log.Named("store")))

	provider, closeProvider := openProvider(cfg.Pay, log)
	defer closeProvider()

	wallets, err := wallet.NewRegistry(cfg.WalletConnectors...)
	if err != nil {
		log.Fatal("❌ Invalid wallet connectors", zap.Error(err))
	}

	var notifier notify.Notifier = notify.NewLogNotifier(log.Named("notify"))
	if cfg.Notify.ResendAPIKey != "" && cfg.Notify.OwnerEmail != "" {
		notifier = notify.NewResendNotifier(cfg.Notify.ResendAPIKey, cfg.Notify.FromEmail, cfg.Notify.OwnerEmail, log.Named("notify"))
	} else {
		log.Warn("⚠️  RESEND_API_KEY or OWNER_EMAIL not set, notifications go to the log")
	}

	links := handlers.Links{BaseURL: cfg.BaseURL, ComposeURL: cfg.ShareComposeURL}
	ctrl := flow.NewController(roundRepo, provider, wallets, notifier, m, log, flow.Config{
		Cost:        cfg.Pay.CostUnits,
		Destination: cfg.Pay.Destination,
		AttemptTTL:  cfg.Auth.AttemptTTL,
		FeedbackURL: func(id string) string {
			return cfg.BaseURL + routing.FeedbackPath(id)
		},
	})

	// Initialize handlers
	roundHandler := handlers.NewRoundHandler(roundRepo, links, m, log)
	attemptHandler := handlers.NewAttemptHandler(ctrl, cfg.Auth.JWTSecret, cfg.Auth.AttemptTTL, log)
	viewHandler := handlers.NewViewHandler(roundHandler, cfg.Pay.Cost, log)

	var webhook *handlers.WebhookHandler
	if widget, ok := provider.(*payment.WidgetProvider); ok {
		webhook = handlers.NewWebhookHandler(widget, cfg.Pay.WebhookSecret, log)
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Rounds:    roundHandler,
		Attempts:  attemptHandler,
		Views:     viewHandler,
		Webhook:   webhook,
		JWTSecret: cfg.Auth.JWTSecret,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:    log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go pruneAttempts(ctx, ctrl, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("🚀 Anonymous feedback server starting",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.Store.Driver),
		zap.String("payment", provider.Name()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("❌ Server failed", zap.Error(err))
	}
}

func openBackend(cfg config.StoreConfig, log *zap.Logger) (store.Backend, func(), error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryBackend(), func() {}, nil
	case "file":
		b, err := store.NewFileBackend(cfg.FileDir, cfg.Key)
		if err != nil {
			return nil, nil, err
		}
		log.Info("📁 Using file store", zap.String("path", b.Path()))
		return b, func() {}, nil
	case "redis":
		client, err := database.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedisBackend(client, cfg.Key), func() { _ = client.Close() }, nil
	case "mongo":
		db, err := database.ConnectMongo(cfg.MongoURI, cfg.DBName, log)
		if err != nil {
			return nil, nil, err
		}
		return store.NewMongoBackend(db, cfg.Key), func() {
			_ = db.Client().Disconnect(context.Background())
		}, nil
	}
	return nil, nil, errors.New("unknown store driver " + cfg.Driver)
}

// openProvider never fails: an unreachable chain RPC leaves the direct provider
// reporting ErrProviderUnavailable until the service is restarted with a
// working RPC_URL.
func openProvider(cfg config.PaymentConfig, log *zap.Logger) (payment.Provider, func()) {
	if cfg.Driver == payment.WidgetName {
		return payment.NewWidgetProvider(cfg.WidgetAppID, cfg.Asset, log), func() {}
	}

	var chain payment.ReceiptReader
	if cfg.RPCURL == "" {
		log.Warn("⚠️  RPC_URL not set, direct payments unavailable")
	} else if client, err := ethclient.Dial(cfg.RPCURL); err != nil {
		log.Warn("⚠️  Failed to dial chain RPC, direct payments unavailable", zap.Error(err))
	} else {
		chain = client
	}

	p := payment.NewDirectProvider(chain, payment.DirectConfig{
		Asset:        cfg.Asset,
		PollInterval: cfg.PollInterval,
		Timeout:      cfg.Timeout,
	}, log)
	return p, p.Close
}

func pruneAttempts(ctx context.Context, ctrl *flow.Controller, log *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := ctrl.Prune(); n > 0 {
				log.Debug("pruned idle feedback attempts", zap.Int("count", n))
			}
		}
	}
}
