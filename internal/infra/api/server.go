package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"peach-subscription-billing/internal/config"
	red "peach-subscription-billing/internal/infra/redis"
	"peach-subscription-billing/internal/usecase"
)

// Checkout creation is the only endpoint that costs money on abuse, so it is
// the only rate-limited one.
const (
	checkoutRateLimit  = 10
	checkoutRateWindow = time.Minute
)

// Server wires the HTTP surface to the usecases. Handlers stay thin: decode,
// call the usecase, map the domain error onto a status code.
type Server struct {
	userUC    usecase.UserUseCase
	planUC    usecase.PlanUseCase
	subUC     usecase.SubscriptionUseCase
	payUC     usecase.PaymentUseCase
	methodUC  usecase.PaymentMethodUseCase
	notifUC   usecase.NotificationUseCase
	webhookUC usecase.WebhookUseCase

	auth    *AuthManager
	limiter *red.RateLimiter // nil disables checkout rate limiting
	cfg     *config.APIConfig
	log     *zerolog.Logger
}

func NewServer(
	cfg *config.APIConfig,
	userUC usecase.UserUseCase,
	planUC usecase.PlanUseCase,
	subUC usecase.SubscriptionUseCase,
	payUC usecase.PaymentUseCase,
	methodUC usecase.PaymentMethodUseCase,
	notifUC usecase.NotificationUseCase,
	webhookUC usecase.WebhookUseCase,
	auth *AuthManager,
	limiter *red.RateLimiter,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "APIServer").Logger()
	return &Server{
		userUC:    userUC,
		planUC:    planUC,
		subUC:     subUC,
		payUC:     payUC,
		methodUC:  methodUC,
		notifUC:   notifUC,
		webhookUC: webhookUC,
		auth:      auth,
		limiter:   limiter,
		cfg:       cfg,
		log:       &l,
	}
}

// Router builds the full route tree. Tests drive it directly with httptest.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(TraceID(s.log))
	r.Use(Recover(s.log))
	r.Use(RequestLog(s.log))
	r.Use(Timeout(s.cfg.RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Gateway-facing: authenticated by signature, not by session.
		r.Post("/webhooks/peach", s.handlePeachWebhook)

		r.Post("/users/register", s.handleUserRegister)

		r.Group(func(r chi.Router) {
			r.Use(RequireSession(s.auth))

			r.Get("/users/me", s.handleUserMe)
			r.Post("/users/me/telegram", s.handleLinkTelegram)

			r.Get("/plans", s.handlePlansList)

			r.Post("/payments/checkout", s.handleCheckout)
			r.Get("/payments/{merchantTxnID}/status", s.handlePaymentStatus)

			r.Post("/subscriptions", s.handleSubscriptionCreate)
			r.Get("/subscriptions/current", s.handleSubscriptionCurrent)
			r.Get("/subscriptions/{id}", s.handleSubscriptionGet)
			r.Post("/subscriptions/{id}/cancel", s.handleSubscriptionCancel)
			r.Post("/subscriptions/{id}/pause", s.handleSubscriptionPause)
			r.Post("/subscriptions/{id}/resume", s.handleSubscriptionResume)
			r.Get("/subscriptions/{id}/change-plan/preview", s.handlePlanChangePreview)
			r.Post("/subscriptions/{id}/change-plan", s.handlePlanChange)
			r.Post("/subscriptions/{id}/billing-date", s.handleBillingDateChange)

			r.Get("/payment-methods", s.handlePaymentMethodsList)
			r.Post("/payment-methods/{id}/default", s.handlePaymentMethodDefault)
			r.Post("/payment-methods/{id}/deactivate", s.handlePaymentMethodDeactivate)

			r.Get("/notifications", s.handleNotificationsList)
			r.Post("/notifications/{id}/ack", s.handleNotificationAck)

			r.Group(func(r chi.Router) {
				r.Use(RequireOperator())

				r.Post("/payments/{merchantTxnID}/refund", s.handleRefund)
				r.Post("/plans", s.handlePlanCreate)
				r.Get("/stats", s.handleStats)
			})
		})
	})

	return r
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("api server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
