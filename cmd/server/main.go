package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"kassa/backend/internal/auth"
	"kassa/backend/internal/config"
	"kassa/backend/internal/domain"
	"kassa/backend/internal/events"
	"kassa/backend/internal/httpapi"
	"kassa/backend/internal/licensing"
	"kassa/backend/internal/observability"
	"kassa/backend/internal/printing"
	"kassa/backend/internal/service"
	"kassa/backend/internal/store"
	pgstore "kassa/backend/internal/store/postgres"
	redisstore "kassa/backend/internal/store/redis"
	sqlitestore "kassa/backend/internal/store/sqlite"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogFormat, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func newLogger(format string, w io.Writer) *slog.Logger {
	if format == "text" || format == "pretty" {
		return slog.New(slog.NewTextHandler(w, nil))
	}
	return slog.New(slog.NewJSONHandler(w, nil))
}

type app struct {
	handler     http.Handler
	writeBehind *store.WriteBehind
	closers     []func() error
}

func (a *app) close(logger *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close failed", slog.Any("error", err))
		}
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	a, err := setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("kassa backend listening", slog.String("addr", cfg.Address()), slog.String("backend", cfg.StoreBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if a.writeBehind != nil {
		g.Go(func() error {
			return a.writeBehind.Run(gctx)
		})
	}
	return g.Wait()
}

// setup builds the store, restores it from the configured backend and wires
// the service and HTTP handler.
func setup(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}
	s := store.NewSeeded()

	persister, closeFn, err := openPersister(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closeFn != nil {
		a.closers = append(a.closers, closeFn)
	}
	if persister != nil {
		loaded, err := store.Restore(ctx, s, persister)
		if err != nil {
			a.close(logger)
			return nil, err
		}
		a.writeBehind = store.NewWriteBehind(s, persister, logger, cfg.PersistInterval)
		if !loaded {
			a.writeBehind.MarkAll()
		}
		logger.Info("store restored", slog.String("backend", cfg.StoreBackend), slog.Bool("loaded", loaded))
	}

	manager := auth.NewManager(cfg.AuthSecret, cfg.AccessTokenTTL, s)
	if err := manager.Bootstrap(ctx, seedUsers(cfg)); err != nil {
		a.close(logger)
		return nil, err
	}
	gate, err := licensing.NewGate(cfg.Plan)
	if err != nil {
		a.close(logger)
		return nil, err
	}

	bus := events.NewBus(logger, 0)
	if cfg.EventRelay {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		bus.AddRelay(events.NewRedisRelay(client, ""))
		a.closers = append(a.closers, client.Close)
	}
	metrics := observability.NewMetrics()
	metrics.Observe(bus)

	var printer printing.Dispatcher = printing.Noop{}
	if cfg.PrintQueue {
		dispatcher := printing.NewAsynqDispatcher(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		printer = dispatcher
		a.closers = append(a.closers, dispatcher.Close)
	}

	svc, err := service.New(service.Options{
		Store:   s,
		Auth:    manager,
		Gate:    gate,
		Bus:     bus,
		Printer: printer,
		Logger:  logger,
	})
	if err != nil {
		a.close(logger)
		return nil, err
	}
	a.handler = httpapi.New(httpapi.Options{
		Service:       svc,
		Metrics:       metrics,
		Logger:        logger,
		AllowedOrigin: cfg.AllowedOrigin,
		Production:    cfg.IsProduction(),
	}).Handler()
	return a, nil
}

// openPersister connects the snapshot backend. The memory backend keeps
// nothing across restarts and returns a nil persister.
func openPersister(ctx context.Context, cfg config.Config) (store.Persister, func() error, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		p, err := pgstore.New(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and STORE_BACKEND=postgres: %w", err)
		}
		return p, p.Close, nil
	case config.BackendRedis:
		p := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := p.Ping(ctx); err != nil {
			_ = p.Close()
			return nil, nil, fmt.Errorf("redis unavailable and STORE_BACKEND=redis: %w", err)
		}
		return p, p.Close, nil
	case config.BackendSQLite:
		p, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	default:
		return nil, nil, nil
	}
}

func seedUsers(cfg config.Config) []auth.NewUser {
	return []auth.NewUser{
		{Username: "admin", Password: cfg.AdminPassword, Role: domain.RoleAdmin},
		{Username: "manager", Password: cfg.ManagerPassword, Role: domain.RoleManager, PIN: cfg.ManagerPIN},
		{Username: "cashier", Password: cfg.CashierPassword, Role: domain.RoleCashier},
	}
}
