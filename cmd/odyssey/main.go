package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-iam/internal/app"
	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/bootstrap"
	"github.com/odyssey-erp/odyssey-iam/internal/observability"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/ratelimit"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/roles"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/token"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
	"github.com/odyssey-erp/odyssey-iam/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("odyssey exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		return err
	}
	defer dbpool.Close()

	if err := db.Migrate(ctx, dbpool); err != nil {
		return err
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, PingTimeout: cfg.StoreTimeout})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)

	reconciler := bootstrap.New(bootstrap.NewStore(dbpool), auditLogger, nil, logger, shared.Resources())
	if _, err := reconciler.Run(ctx); err != nil {
		return err
	}

	issuer, err := token.NewIssuer(cfg.TokenKeys(), cfg.TokenTTLs(), nil)
	if err != nil {
		return err
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	mailQueue, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := mailQueue.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	responder := app.NewResponder(cfg, logger)

	rbacRepo := rbac.NewRepository(dbpool)
	rbacService := rbac.NewService(rbacRepo, auditLogger, nil, logger)
	rbacService.StoreTimeout = cfg.StoreTimeout
	gate := &rbac.Gate{
		Tokens:       issuer,
		Principals:   rbacRepo,
		Resolver:     rbacService,
		Responder:    responder,
		Metrics:      metrics,
		Logger:       logger,
		StoreTimeout: cfg.StoreTimeout,
	}
	limiter := ratelimit.New(redisClient, cfg.OffenseExpiry, metrics, logger)

	usersService := users.NewService(users.NewRepository(dbpool), rbacService, issuer, mailQueue, auditLogger, nil, logger,
		users.Config{PublicURL: cfg.PublicURL, StoreTimeout: cfg.StoreTimeout})
	rolesService := roles.NewService(roles.NewRepository(dbpool), rbacService, auditLogger, nil, logger)
	rolesService.StoreTimeout = cfg.StoreTimeout
	authService := auth.NewService(usersService, issuer, mailQueue, logger, cfg.PublicURL)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AuthHandler:        auth.NewHandler(logger, authService, gate, limiter, responder),
		UsersHandler:       users.NewHandler(logger, usersService, gate, responder),
		RolesHandler:       roles.NewHandler(logger, rolesService, gate, responder),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, gate, responder),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
