// File: cmd/app/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	zlog "github.com/rs/zerolog/log"

	"peach-subscription-billing/internal/config"
	"peach-subscription-billing/internal/domain/ports/adapter"
	"peach-subscription-billing/internal/domain/ports/repository"
	"peach-subscription-billing/internal/infra/api"
	pg "peach-subscription-billing/internal/infra/db/postgres"
	"peach-subscription-billing/internal/infra/logging"
	"peach-subscription-billing/internal/infra/metrics"
	"peach-subscription-billing/internal/infra/notify"
	"peach-subscription-billing/internal/infra/payment"
	red "peach-subscription-billing/internal/infra/redis"
	"peach-subscription-billing/internal/infra/sched"
	"peach-subscription-billing/internal/infra/security"
	"peach-subscription-billing/internal/infra/worker"
	"peach-subscription-billing/internal/usecase"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		zlog.Fatal().Err(err).Msg("config")
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)
	limiter := red.NewRateLimiter(redisClient)

	// ---- Repositories ----
	txm := pg.NewTxManager(pool)
	userRepo := pg.NewUserRepo(pool)
	planRepo := pg.NewPlanRepoCacheDecorator(pg.NewPlanRepo(pool), redisClient)
	subRepo := pg.NewSubscriptionRepo(pool)
	payRepo := pg.NewPaymentRepo(pool)
	notifRepo := pg.NewNotificationRepo(pool)

	var methodRepo repository.PaymentMethodRepository = pg.NewPaymentMethodRepo(pool)
	if key := cfg.Security.TokenEncryptionKey; key != "" {
		cipher, err := security.NewTokenCipher(key)
		if err != nil {
			logger.Fatal().Err(err).Msg("token cipher")
		}
		methodRepo = pg.NewPaymentMethodRepoCrypto(methodRepo, cipher)
	} else {
		logger.Warn().Msg("security.token_encryption_key not set; registration tokens stored as received")
	}

	// ---- Payment gateway ----
	var gateway adapter.PaymentGateway
	if cfg.Peach.EntityID == "" || cfg.Peach.ClientID == "" {
		if !cfg.Runtime.Dev {
			logger.Fatal().Msg("peach.entity_id and peach.client_id are required outside dev mode")
		}
		logger.Warn().Msg("peach credentials missing; using noop gateway")
		gateway = payment.NewNoopGateway(logger)
	} else {
		gateway = payment.NewPeachGateway(payment.Config{
			AuthServiceURL:   cfg.Peach.AuthServiceURL,
			CheckoutEndpoint: cfg.Peach.CheckoutEndpoint,
			StatusEndpoint:   cfg.Peach.StatusEndpoint,
			ClientID:         cfg.Peach.ClientID,
			ClientSecret:     cfg.Peach.ClientSecret,
			MerchantID:       cfg.Peach.MerchantID,
			EntityID:         cfg.Peach.EntityID,
			NotificationURL:  cfg.Peach.NotificationURL,
			ShopperResultURL: cfg.Peach.ShopperResultURL,
			OriginDomain:     cfg.Peach.OriginDomain,
			Timeout:          cfg.Peach.Timeout,
		}, logger)
	}
	verifier := payment.NewVerifier(cfg.Peach.WebhookSecret, payment.SignatureMode(cfg.Peach.SignatureMode), logger)

	// ---- Use cases ----
	userUC := usecase.NewUserUseCase(userRepo, txm, logger)
	planUC := usecase.NewPlanUseCase(planRepo, logger)
	subUC := usecase.NewSubscriptionUseCase(subRepo, planRepo, txm, cfg.RenewInGraceEnabled(), cfg.Subscription.MaxRenewalAttempts, logger)
	payUC := usecase.NewPaymentUseCase(payRepo, subRepo, gateway, logger)
	methodUC := usecase.NewPaymentMethodUseCase(methodRepo, logger)

	var pusher adapter.NotificationPusher
	if cfg.Notify.Enabled && cfg.Notify.TelegramToken != "" {
		pusher, err = notify.NewTelegramNotifier(cfg.Notify.TelegramToken, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram notifier")
		}
	} else {
		pusher = notify.NewNoopNotifier(logger)
	}
	notifUC := usecase.NewNotificationUseCase(notifRepo, userRepo, pusher, logger)

	jobPool := worker.NewPool(4, logger)
	jobPool.Start(ctx)

	webhookUC := usecase.NewWebhookUseCase(verifier, gateway, payUC, subUC, methodUC, jobPool, 0, 0, logger)

	// ---- Background workers ----
	renewal := sched.NewRenewalWorker(
		cfg.Scheduler.RenewalInterval,
		cfg.Scheduler.Batch,
		subUC, payUC, methodUC, notifUC,
		locker, logger,
	)
	go func() { _ = renewal.Run(ctx) }()

	reconciler := sched.NewPaymentReconciler(payUC, subUC, cfg.Scheduler.ReconcileInterval, cfg.Scheduler.PendingStaleAfter, logger)
	go func() { _ = reconciler.Run(ctx) }()

	// ---- Metrics ----
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := pool.Stat()
				metrics.SetDBPoolStats(st.TotalConns(), st.IdleConns(), st.AcquiredConns())
			}
		}
	}()

	// ---- Graceful shutdown ----
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		<-sigc
		logger.Info().Msg("shutdown requested")
		cancel()
	}()

	// ---- API server ----
	auth := api.NewAuthManager(cfg.API.JWTSecret, !cfg.Runtime.Dev, "", cfg.API.SessionTTL)
	server := api.NewServer(&cfg.API, userUC, planUC, subUC, payUC, methodUC, notifUC, webhookUC, auth, limiter, logger)
	if err := server.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("api server")
	}
	logger.Info().Msg("bye")
}
