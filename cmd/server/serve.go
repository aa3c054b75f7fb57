package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ahlallah/ahl-allah-server/internal/config"
	"github.com/ahlallah/ahl-allah-server/internal/database"
	"github.com/ahlallah/ahl-allah-server/internal/handler"
	"github.com/ahlallah/ahl-allah-server/internal/lock"
	"github.com/ahlallah/ahl-allah-server/internal/logger"
	"github.com/ahlallah/ahl-allah-server/internal/metrics"
	"github.com/ahlallah/ahl-allah-server/internal/middleware"
	"github.com/ahlallah/ahl-allah-server/internal/notify"
	"github.com/ahlallah/ahl-allah-server/internal/oauth"
	"github.com/ahlallah/ahl-allah-server/internal/queue"
	"github.com/ahlallah/ahl-allah-server/internal/repository"
	"github.com/ahlallah/ahl-allah-server/internal/router"
	"github.com/ahlallah/ahl-allah-server/internal/service"
	"github.com/ahlallah/ahl-allah-server/internal/utils"
)

// serve wires every component and runs until ctx is cancelled.
func serve(ctx context.Context, migrateFirst bool) error {
	cfg := boot()
	log := logger.L()
	defer func() { _ = logger.Sync() }()

	db, err := database.Open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if migrateFirst {
		if err := migrate(ctx, db); err != nil {
			return err
		}
	}

	// Redis is optional: without it the limiter is off and OTP locks are
	// process local.
	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		log.Warn("redis unavailable, rate limiting disabled and OTP locks are local")
	} else {
		defer rdb.Close()
	}

	m := metrics.New()
	events := queue.Multi{m}
	if cfg.RabbitURL != "" {
		events = append(events, queue.NewPublisher(cfg.RabbitURL))
	}

	issuer := utils.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL)
	auth := service.New(service.Deps{
		Users:          repository.NewUserRepo(db),
		Tokens:         repository.NewTokenRepo(db),
		Otps:           repository.NewOtpRepo(db),
		Issuer:         issuer,
		Mailer:         notify.NewMailer(cfg.SMTP),
		SMS:            notify.NewSMS(cfg.SMS),
		Locker:         lock.New(rdb, "lock"),
		Events:         events,
		Policy:         cfg.OTP,
		RefreshTTLDays: cfg.RefreshTTLDays,
		BcryptCost:     cfg.BcryptCost,
	})

	oh := &handler.OAuthHandler{
		Auth:        auth,
		States:      oauth.NewStateStore(10 * time.Minute),
		FrontendURL: cfg.FrontendURL,
	}
	// Assign only configured providers so the handler sees a nil interface
	// rather than a typed nil pointer.
	if cfg.Google.Enabled() {
		oh.Google = oauth.NewGoogle(cfg.Google)
	}
	if cfg.Apple.Enabled() {
		oh.Apple = oauth.NewApple(cfg.Apple)
	}

	checks := map[string]handler.Check{"mysql": db.PingContext}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	e := router.New(m)
	router.RegisterRoutes(e, handler.Health{Checks: checks}, m)
	router.RegisterAuth(e, handler.NewAuthHandler(auth), oh, issuer,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
	router.RegisterAdmin(e, handler.NewAdminHandler(auth), issuer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.RabbitURL != "" {
		consumer := &queue.AuditConsumer{URL: cfg.RabbitURL, Path: cfg.AuditLogPath}
		g.Go(func() error { return consumer.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return e.Shutdown(sctx)
	})
	return g.Wait()
}
