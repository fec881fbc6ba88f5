package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"cabshare/internal/auth"
	"cabshare/internal/chat"
	"cabshare/internal/config"
	"cabshare/internal/events"
	"cabshare/internal/logging"
	"cabshare/internal/middleware"
	"cabshare/internal/notify"
	"cabshare/internal/observability"
	"cabshare/internal/requests"
	"cabshare/internal/rides"
	"cabshare/internal/storage"
	"cabshare/internal/users"
	"cabshare/migrations"
	"cabshare/pkg/amqp"
	"cabshare/pkg/db"
	"cabshare/pkg/jwt"
	"cabshare/pkg/kafka"
	rredis "cabshare/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("cabshare exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── 1. JWT secret ──
	if err := jwt.Init(cfg.JWTSecret, cfg.TokenTTL); err != nil {
		return err
	}

	// ── 2. Storage ──
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	// ── 3. Redis ──
	var (
		codes  auth.Store = auth.NewMemoryStore()
		bucket middleware.Bucket
	)
	if cfg.RedisAddr != "" {
		redisClient, err := rredis.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, logger)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		codes = auth.NewRedisStore(redisClient)
		bucket = redisClient
	} else {
		logger.Warn("REDIS_ADDR not set; OTP codes kept in memory and rate limiting disabled")
	}
	limit := middleware.TokenBucket(cfg.RateLimit, bucket, logger)

	// ── 4. Event broker ──
	pub, sub, closeBroker, err := openBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBroker()
	async := events.NewAsync(pub, logger)

	// ── 5. Services ──
	otp := auth.NewService(codes, auth.LogMailer{Logger: logger}, cfg.OTPTTL)
	userSvc := users.NewService(store, otp, cfg.BcryptCost, logger)
	rideSvc := rides.NewService(store, async, logger)
	requestSvc := requests.NewService(store, async, logger)
	chatSvc := chat.NewService(store, logger)

	// ── 6. Background consumers ──
	notify.NewNotifier(sub, chatSvc, logger).Start(ctx)

	// ── 7. HTTP router ──
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(observability.HTTPMiddleware(logger))
	r.Use(chimw.Recoverer)
	r.Use(jwt.OptionalAuth)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"cabshare"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Mount("/users", users.NewHandler(userSvc, logger).Routes(limit))
	r.Mount("/rides", rides.NewHandler(rideSvc, logger).Routes(limit))
	r.Mount("/request", requests.NewHandler(requestSvc, logger).Routes(limit))
	r.Mount("/chat", chat.NewHandler(chatSvc, logger).Routes(limit))

	// ── 8. Start server ──
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("cabshare listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver, "broker", cfg.EventBroker)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ── 9. Graceful shutdown ──
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutCancel()
	err = srv.Shutdown(shutCtx)
	cancel() // stop consumers
	return err
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StoreDriver {
	case "mongo":
		m, err := storage.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		return storage.NewMemory(), nil
	default:
		database, err := db.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if cfg.RunMigrations {
			if err := database.RunMigrations(ctx, migrations.FS); err != nil {
				database.Close()
				return nil, fmt.Errorf("migrations failed: %w", err)
			}
		}
		return &pgStore{Postgres: storage.NewPostgres(database.Pool), db: database}, nil
	}
}

// pgStore closes the pool when the store is closed.
type pgStore struct {
	*storage.Postgres
	db *db.DB
}

func (s *pgStore) Close(context.Context) error {
	s.db.Close()
	return nil
}

// broker is what the notifier and the async publisher need from a transport.
type broker interface {
	events.Publisher
	events.Subscriber
}

func openBroker(ctx context.Context, cfg config.Config, logger *slog.Logger) (events.Publisher, events.Subscriber, func(), error) {
	var b broker
	closeFn := func() {}
	switch cfg.EventBroker {
	case "kafka":
		k := kafka.NewClient(cfg.KafkaBrokers, logger)
		if err := k.EnsureTopics(ctx, events.Topics...); err != nil {
			k.Close()
			return nil, nil, nil, err
		}
		b, closeFn = k, func() { k.Close() }
	case "amqp":
		a := amqp.NewClient(cfg.AMQPURL, logger)
		b, closeFn = a, func() { a.Close() }
	default:
		b = events.NewLocal(logger)
	}
	return b, b, closeFn, nil
}
