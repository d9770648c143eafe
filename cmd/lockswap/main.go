// Package main runs the lockswap API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/lockswap/internal/app"
	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/httpapi"
	"github.com/R3E-Network/lockswap/internal/app/services/compliance"
	"github.com/R3E-Network/lockswap/internal/app/storage"
	"github.com/R3E-Network/lockswap/internal/app/storage/memory"
	"github.com/R3E-Network/lockswap/internal/app/storage/postgres"
	"github.com/R3E-Network/lockswap/internal/app/storage/redis"
	"github.com/R3E-Network/lockswap/internal/config"
	"github.com/R3E-Network/lockswap/internal/middleware"
	"github.com/R3E-Network/lockswap/internal/platform/migrations"
	"github.com/R3E-Network/lockswap/pkg/logger"
)

func main() {
	issueFor := flag.String("issue-token", "", "Print a bearer token for the given sender and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of tokens printed by -issue-token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LoggerConfig()).Named("lockswap")

	if *issueFor != "" {
		if err := printToken(cfg, ledger.Address(*issueFor), *tokenTTL); err != nil {
			log.WithError(err).Fatal("issue token")
		}
		return
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("lockswap exited")
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gate, err := buildGate(cfg.Gate, log)
	if err != nil {
		return err
	}
	rt := app.WithMetrics(storage.Runtime{Gate: gate, MaxAttempts: cfg.Ledger.MaxAttempts}.WithDefaults())

	ledgerStore, closeLedger, err := openLedger(ctx, cfg.Ledger, rt, log)
	if err != nil {
		return err
	}
	defer closeLedger()

	application, err := app.New(app.Stores{Ledger: ledgerStore, Runtime: rt}, app.Options{
		KeeperInterval: cfg.Keeper.Interval,
		DisableKeeper:  cfg.Keeper.Disabled,
		HashAlgorithm:  cfg.Escrow.HashAlgorithm,
	}, log.Named("app"))
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	audit, err := httpapi.NewAuditLog(cfg.Audit.Size, cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	var limiter *middleware.RateLimiter
	if cfg.Limits.RequestsPerSecond > 0 {
		limiter = middleware.NewRateLimiter(cfg.Limits.RequestsPerSecond, cfg.Limits.Burst, log.Named("ratelimit"))
		limiter.StartCleanup(ctx, time.Minute)
	}

	var auth *middleware.AuthMiddleware
	if cfg.Auth.JWTSecret == "" {
		log.Warn("JWT_SECRET not set; every mutating route will answer 401")
	} else {
		auth = middleware.NewAuthMiddleware([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, log.Named("auth"))
	}

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	handler := httpapi.New(application, httpapi.Config{
		Tracing: middleware.NewTracing(log.Named("http")),
		CORS:    middleware.NewCORS(middleware.ParseOrigins(cfg.HTTP.CORSOrigins)),
		Auth:    auth,
		Limiter: limiter,
		Audit:   audit,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTP.Addr).WithField("ledger", cfg.Ledger.Backend).Info("lockswap API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			log.WithError(err).Error("server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := application.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop application: %w", err))
	}
	log.Info("lockswap stopped")
	return errors.Join(errs...)
}

func buildGate(cfg config.GateConfig, log *logger.Logger) (storage.Gate, error) {
	var chain compliance.Chain
	if cfg.DenyListPath != "" {
		deny, err := compliance.LoadDenyList(cfg.DenyListPath)
		if err != nil {
			return nil, fmt.Errorf("load deny list: %w", err)
		}
		log.WithField("entries", deny.Len()).Info("deny list loaded")
		chain = append(chain, deny)
	}
	if cfg.NeoAddressing {
		chain = append(chain, compliance.AddressPolicy{})
	}
	if len(chain) == 0 {
		return compliance.AllowAll{}, nil
	}
	return chain, nil
}

func openLedger(ctx context.Context, cfg config.LedgerConfig, rt storage.Runtime, log *logger.Logger) (storage.Ledger, func(), error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		db, err := sqlx.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := migrations.Apply(ctx, db.DB); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("using postgres ledger")
		return postgres.New(db, rt), func() { _ = db.Close() }, nil
	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		log.WithField("prefix", cfg.RedisPrefix).Info("using redis ledger")
		return redis.New(client, rt, cfg.RedisPrefix), func() { _ = client.Close() }, nil
	default:
		log.Warn("using in-memory ledger; state is lost on restart")
		return memory.New(rt), func() {}, nil
	}
}

func printToken(cfg config.Config, sender ledger.Address, ttl time.Duration) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required to issue tokens")
	}
	auth := middleware.NewAuthMiddleware([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, nil)
	token, err := auth.Issue(sender, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
