package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"peach-subscription-billing/internal/domain"
	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/infra/logging"
	"peach-subscription-billing/internal/infra/metrics"
	red "peach-subscription-billing/internal/infra/redis"
)

const maxWebhookBody = 1 << 20 // gateway notifications are small; cap reads anyway

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain sentinel wrapped in err onto an HTTP status.
// Unrecognized errors become an opaque 500 so storage details never leak.
func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSignature):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

//
// ---------------- response shapes ----------------
//

type userResponse struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"display_name,omitempty"`
	TelegramLinked bool      `json:"telegram_linked"`
	CreatedAt      time.Time `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:             u.ID.String(),
		Email:          u.Email,
		DisplayName:    u.DisplayName,
		TelegramLinked: u.TelegramChatID != 0,
		CreatedAt:      u.CreatedAt,
	}
}

type planResponse struct {
	ID              string          `json:"id"`
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency"`
	DurationDays    int             `json:"duration_days"`
	GracePeriodDays int             `json:"grace_period_days"`
}

func toPlanResponse(p *model.Plan) planResponse {
	return planResponse{
		ID:              p.ID.String(),
		Code:            p.Code,
		Name:            p.Name,
		Price:           p.Price,
		Currency:        p.Currency,
		DurationDays:    p.DurationDays,
		GracePeriodDays: p.GracePeriodDays,
	}
}

type subscriptionResponse struct {
	ID               string          `json:"id"`
	PlanID           string          `json:"plan_id"`
	Status           string          `json:"status"`
	Price            decimal.Decimal `json:"price"`
	Currency         string          `json:"currency"`
	StartAt          *time.Time      `json:"start_at,omitempty"`
	EndAt            *time.Time      `json:"end_at,omitempty"`
	GraceEndAt       *time.Time      `json:"grace_end_at,omitempty"`
	AutoRenew        bool            `json:"auto_renew"`
	RenewalAttempts  int             `json:"renewal_attempts"`
	LastPaymentBrand string          `json:"last_payment_brand,omitempty"`
}

func toSubscriptionResponse(s *model.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:               s.ID.String(),
		PlanID:           s.PlanID.String(),
		Status:           string(s.Status),
		Price:            s.Price,
		Currency:         s.Currency,
		StartAt:          s.StartAt,
		EndAt:            s.EndAt,
		GraceEndAt:       s.GraceEndAt,
		AutoRenew:        s.AutoRenew,
		RenewalAttempts:  s.RenewalAttempts,
		LastPaymentBrand: s.LastPaymentBrand,
	}
}

type paymentResponse struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	Type           string          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Method         string          `json:"method"`
	MerchantTxnID  string          `json:"merchant_txn_id"`
	CheckoutID     string          `json:"checkout_id,omitempty"`
	PaymentBrand   string          `json:"payment_brand,omitempty"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

func toPaymentResponse(p *model.Payment) paymentResponse {
	resp := paymentResponse{
		ID:            p.ID.String(),
		Type:          string(p.Type),
		Amount:        p.Amount,
		Currency:      p.Currency,
		Method:        string(p.Method),
		MerchantTxnID: p.MerchantTxnID,
		CheckoutID:    p.CheckoutID,
		PaymentBrand:  p.PaymentBrand,
		FailureReason: p.FailureReason,
		Status:        string(p.Status),
		CreatedAt:     p.CreatedAt,
		CompletedAt:   p.CompletedAt,
	}
	if p.SubscriptionID != nil {
		resp.SubscriptionID = p.SubscriptionID.String()
	}
	return resp
}

type prorationResponse struct {
	CurrentPlanRefund decimal.Decimal `json:"current_plan_refund"`
	NewPlanCharge     decimal.Decimal `json:"new_plan_charge"`
	NetAmount         decimal.Decimal `json:"net_amount"`
	EffectiveDate     time.Time       `json:"effective_date"`
	DaysUsed          int             `json:"days_used"`
	DaysRemaining     int             `json:"days_remaining"`
}

func toProrationResponse(c model.ProrationCalculation) prorationResponse {
	return prorationResponse{
		CurrentPlanRefund: c.CurrentPlanRefund,
		NewPlanCharge:     c.NewPlanCharge,
		NetAmount:         c.NetAmount,
		EffectiveDate:     c.EffectiveDate,
		DaysUsed:          c.DaysUsed,
		DaysRemaining:     c.DaysRemaining,
	}
}

// The registration token stays server-side; clients only ever see card facts.
type paymentMethodResponse struct {
	ID        string    `json:"id"`
	Brand     string    `json:"brand,omitempty"`
	Last4     string    `json:"last4,omitempty"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

func toPaymentMethodResponse(m *model.PaymentMethodDetail) paymentMethodResponse {
	return paymentMethodResponse{
		ID:        m.ID.String(),
		Brand:     m.Brand,
		Last4:     m.Last4,
		IsDefault: m.IsDefault,
		CreatedAt: m.CreatedAt,
	}
}

type notificationResponse struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	Kind           string    `json:"kind"`
	Message        string    `json:"message"`
	Acknowledged   bool      `json:"acknowledged"`
	CreatedAt      time.Time `json:"created_at"`
}

func toNotificationResponse(n *model.Notification) notificationResponse {
	resp := notificationResponse{
		ID:           n.ID.String(),
		Kind:         string(n.Kind),
		Message:      n.Message,
		Acknowledged: n.Acknowledged,
		CreatedAt:    n.CreatedAt,
	}
	if n.SubscriptionID != nil {
		resp.SubscriptionID = n.SubscriptionID.String()
	}
	return resp
}

//
// ---------------- webhook ----------------
//

// handlePeachWebhook ingests one gateway notification. The body is verified
// and applied by the webhook usecase; only signature and parse rejections
// come back as non-2xx so the gateway retries exactly the deliveries that
// might still become valid.
func (s *Server) handlePeachWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		metrics.IncWebhookEvent("invalid")
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	outcome := "applied"
	err = s.webhookUC.ProcessWebhook(r.Context(), body)
	switch {
	case errors.Is(err, domain.ErrSignature):
		outcome = "signature_mismatch"
		http.Error(w, "invalid signature", http.StatusUnauthorized)
	case errors.Is(err, domain.ErrValidation):
		outcome = "invalid"
		http.Error(w, "invalid payload", http.StatusBadRequest)
	case err != nil:
		outcome = "error"
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}

	metrics.IncWebhookEvent(outcome)
	metrics.ObserveWebhook(outcome, time.Since(start).Seconds())
}

//
// ---------------- users ----------------
//

type userRegisterRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// handleUserRegister creates (or fetches) the account and mints a session so
// the client can call the rest of the API straight away.
func (s *Server) handleUserRegister(w http.ResponseWriter, r *http.Request) {
	var req userRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	u, err := s.userUC.RegisterOrFetch(r.Context(), req.Email, req.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := s.auth.Mint(w, u.ID, "user")
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		User  userResponse `json:"user"`
		Token string       `json:"token"`
	}{toUserResponse(u), token})
}

func (s *Server) handleUserMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.userUC.Get(r.Context(), sessionUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

type linkTelegramRequest struct {
	ChatID int64 `json:"chat_id"`
}

func (s *Server) handleLinkTelegram(w http.ResponseWriter, r *http.Request) {
	var req linkTelegramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ChatID == 0 {
		http.Error(w, "chat_id is required", http.StatusBadRequest)
		return
	}
	if err := s.userUC.LinkTelegramChat(r.Context(), sessionUserID(r.Context()), req.ChatID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

//
// ---------------- plans ----------------
//

func (s *Server) handlePlansList(w http.ResponseWriter, r *http.Request) {
	plans, err := s.planUC.ListActive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		items = append(items, toPlanResponse(p))
	}
	writeJSON(w, http.StatusOK, struct {
		Items []planResponse `json:"items"`
	}{items})
}

type planCreateRequest struct {
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency"`
	DurationDays    int             `json:"duration_days"`
	GracePeriodDays int             `json:"grace_period_days"`
}

func (s *Server) handlePlanCreate(w http.ResponseWriter, r *http.Request) {
	var req planCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	plan, err := s.planUC.Create(r.Context(), req.Code, req.Name, req.Price, req.Currency, req.DurationDays, req.GracePeriodDays)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlanResponse(plan))
}

//
// ---------------- payments ----------------
//

type checkoutRequest struct {
	SubscriptionID string `json:"subscription_id"`
	Method         string `json:"method"` // card|eft|voucher|scan_to_pay, defaults to card
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := sessionUserID(ctx)

	if s.limiter != nil {
		key := red.UserActionKey(userID.String(), "checkout")
		allowed, err := s.limiter.Allow(ctx, key, checkoutRateLimit, checkoutRateWindow)
		if err != nil {
			logging.With(ctx, s.log).Warn().Err(err).Msg("rate limiter unavailable, allowing request")
		} else if !allowed {
			http.Error(w, "too many checkout attempts", http.StatusTooManyRequests)
			return
		}
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	subID, err := model.ParseSubscriptionID(req.SubscriptionID)
	if err != nil {
		writeError(w, err)
		return
	}
	method := model.PaymentMethod(req.Method)
	if req.Method == "" {
		method = model.PaymentMethodCard
	}
	if method.GatewayBrand() == "" {
		http.Error(w, "unknown payment method", http.StatusBadRequest)
		return
	}

	p, checkoutID, err := s.payUC.CreateCheckout(ctx, userID, subID, method)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Payment    paymentResponse `json:"payment"`
		CheckoutID string          `json:"checkout_id"`
	}{toPaymentResponse(p), checkoutID})
}

// handlePaymentStatus returns the payment and, while it is still pending,
// reconciles against the gateway first so a shopper polling after the
// redirect sees the settled state even if the webhook is lagging.
func (s *Server) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := s.payUC.GetByMerchantTxnID(ctx, chi.URLParam(r, "merchantTxnID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !callerOwns(ctx, p.UserID) {
		writeError(w, domain.ErrNotFound)
		return
	}

	if p.Status == model.PaymentStatusPending && p.CheckoutID != "" {
		polled, err := s.payUC.PollStatus(ctx, p.ID)
		if err == nil {
			p = polled
		} else {
			logging.With(ctx, s.log).Warn().Err(err).
				Str("merchant_txn_id", p.MerchantTxnID).
				Msg("status poll failed, returning stored state")
		}
	}

	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"` // zero or omitted means full refund
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p, err := s.payUC.GetByMerchantTxnID(r.Context(), chi.URLParam(r, "merchantTxnID"))
	if err != nil {
		writeError(w, err)
		return
	}
	amount := req.Amount
	if amount.IsZero() {
		amount = p.Amount
	}

	refunded, err := s.payUC.Refund(r.Context(), p.ID, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(refunded))
}

//
// ---------------- subscriptions ----------------
//

type subscriptionCreateRequest struct {
	PlanCode      string     `json:"plan_code"`
	AutoRenew     *bool      `json:"auto_renew"` // defaults to true
	BillingAnchor *time.Time `json:"billing_anchor"`
}

func (s *Server) handleSubscriptionCreate(w http.ResponseWriter, r *http.Request) {
	var req subscriptionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	autoRenew := true
	if req.AutoRenew != nil {
		autoRenew = *req.AutoRenew
	}

	sub, err := s.subUC.Create(r.Context(), sessionUserID(r.Context()), req.PlanCode, autoRenew, req.BillingAnchor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubscriptionResponse(sub))
}

func (s *Server) handleSubscriptionCurrent(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subUC.GetCurrentForUser(r.Context(), sessionUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// ownSubscription loads the path subscription and hides it from callers other
// than its owner (operators see everything).
func (s *Server) ownSubscription(r *http.Request) (*model.Subscription, error) {
	id, err := model.ParseSubscriptionID(chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	sub, err := s.subUC.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !callerOwns(r.Context(), sub.UserID) {
		return nil, domain.ErrNotFound
	}
	return sub, nil
}

func (s *Server) handleSubscriptionGet(w http.ResponseWriter, r *http.Request) {
	sub, err := s.ownSubscription(r)
	if err != nil {
		writeError(w, err)
		return
	}
	// Serve the date-accurate status, not the stored one.
	refreshed, err := s.subUC.RefreshStatus(r.Context(), sub.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(refreshed))
}

// subscriptionAction handles the cancel/pause/resume family: parse the id,
// run the transition, return the updated record.
func (s *Server) subscriptionAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, userID model.UserID, id model.SubscriptionID) error) {
	ctx := r.Context()
	id, err := model.ParseSubscriptionID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := fn(ctx, sessionUserID(ctx), id); err != nil {
		writeError(w, err)
		return
	}
	sub, err := s.subUC.Get(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

func (s *Server) handleSubscriptionCancel(w http.ResponseWriter, r *http.Request) {
	s.subscriptionAction(w, r, s.subUC.Cancel)
}

func (s *Server) handleSubscriptionPause(w http.ResponseWriter, r *http.Request) {
	s.subscriptionAction(w, r, s.subUC.Pause)
}

func (s *Server) handleSubscriptionResume(w http.ResponseWriter, r *http.Request) {
	s.subscriptionAction(w, r, s.subUC.Resume)
}

func (s *Server) handlePlanChangePreview(w http.ResponseWriter, r *http.Request) {
	sub, err := s.ownSubscription(r)
	if err != nil {
		writeError(w, err)
		return
	}
	newPlan := r.URL.Query().Get("plan")
	if newPlan == "" {
		http.Error(w, "plan query parameter is required", http.StatusBadRequest)
		return
	}
	calc, err := s.subUC.PreviewPlanChange(r.Context(), sub.ID, newPlan)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProrationResponse(calc))
}

type planChangeRequest struct {
	PlanCode string `json:"plan_code"`
}

func (s *Server) handlePlanChange(w http.ResponseWriter, r *http.Request) {
	var req planChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	id, err := model.ParseSubscriptionID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	calc, err := s.subUC.ChangePlan(r.Context(), sessionUserID(r.Context()), id, req.PlanCode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProrationResponse(calc))
}

type billingDateRequest struct {
	NewDate time.Time `json:"new_date"`
}

func (s *Server) handleBillingDateChange(w http.ResponseWriter, r *http.Request) {
	var req billingDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.NewDate.IsZero() {
		http.Error(w, "new_date is required", http.StatusBadRequest)
		return
	}
	id, err := model.ParseSubscriptionID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	calc, err := s.subUC.ChangeBillingDate(r.Context(), sessionUserID(r.Context()), id, req.NewDate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProrationResponse(calc))
}

//
// ---------------- payment methods ----------------
//

func (s *Server) handlePaymentMethodsList(w http.ResponseWriter, r *http.Request) {
	methods, err := s.methodUC.List(r.Context(), sessionUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]paymentMethodResponse, 0, len(methods))
	for _, m := range methods {
		items = append(items, toPaymentMethodResponse(m))
	}
	writeJSON(w, http.StatusOK, struct {
		Items []paymentMethodResponse `json:"items"`
	}{items})
}

func (s *Server) handlePaymentMethodDefault(w http.ResponseWriter, r *http.Request) {
	id := model.PaymentMethodID(chi.URLParam(r, "id"))
	if err := s.methodUC.SetDefault(r.Context(), sessionUserID(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePaymentMethodDeactivate(w http.ResponseWriter, r *http.Request) {
	id := model.PaymentMethodID(chi.URLParam(r, "id"))
	if err := s.methodUC.Deactivate(r.Context(), sessionUserID(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

//
// ---------------- notifications ----------------
//

func (s *Server) handleNotificationsList(w http.ResponseWriter, r *http.Request) {
	onlyUnacknowledged := r.URL.Query().Get("unacknowledged") == "true"
	notifs, err := s.notifUC.ListForUser(r.Context(), sessionUserID(r.Context()), onlyUnacknowledged)
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]notificationResponse, 0, len(notifs))
	for _, n := range notifs {
		items = append(items, toNotificationResponse(n))
	}
	writeJSON(w, http.StatusOK, struct {
		Items []notificationResponse `json:"items"`
	}{items})
}

func (s *Server) handleNotificationAck(w http.ResponseWriter, r *http.Request) {
	id := model.NotificationID(chi.URLParam(r, "id"))
	if err := s.notifUC.Acknowledge(r.Context(), sessionUserID(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

//
// ---------------- operator ----------------
//

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	users, err := s.userUC.Count(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	counts, err := s.subUC.CountByStatus(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}

	writeJSON(w, http.StatusOK, struct {
		TotalUsers    int            `json:"total_users"`
		Subscriptions map[string]int `json:"subscriptions_by_status"`
	}{users, byStatus})
}
