//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"peach-subscription-billing/internal/domain"
	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/domain/ports/adapter"
	"peach-subscription-billing/internal/domain/ports/repository"
)

// =============================
// Adapters
// =============================

// ---- Mock PaymentGateway ----

type MockPaymentGateway struct {
	mu      sync.Mutex
	NameVal string

	// tracing of invocations
	Checkouts []adapter.CheckoutRequest
	Charges   []adapter.RecurringChargeRequest
	Refunds   []string

	CreateCheckoutFunc  func(ctx context.Context, req adapter.CheckoutRequest) (adapter.CheckoutResult, error)
	CheckoutStatusFunc  func(ctx context.Context, checkoutID string) (adapter.PaymentStatusResult, error)
	PaymentDetailsFunc  func(ctx context.Context, gatewayPaymentID string) (adapter.PaymentStatusResult, error)
	ChargeRecurringFunc func(ctx context.Context, req adapter.RecurringChargeRequest) (adapter.ChargeResult, error)
	RefundPaymentFunc   func(ctx context.Context, gatewayPaymentID string, amount decimal.Decimal, currency string) (adapter.ChargeResult, error)
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func (m *MockPaymentGateway) Name() string {
	if m.NameVal == "" {
		return "mockpay"
	}
	return m.NameVal
}

func (m *MockPaymentGateway) CreateCheckout(ctx context.Context, req adapter.CheckoutRequest) (adapter.CheckoutResult, error) {
	m.mu.Lock()
	m.Checkouts = append(m.Checkouts, req)
	m.mu.Unlock()
	if m.CreateCheckoutFunc != nil {
		return m.CreateCheckoutFunc(ctx, req)
	}
	return adapter.CheckoutResult{
		CheckoutID:        "CHK-" + uuid.NewString(),
		ResultCode:        "000.200.100",
		ResultDescription: "successfully created checkout",
	}, nil
}

func (m *MockPaymentGateway) CheckoutStatus(ctx context.Context, checkoutID string) (adapter.PaymentStatusResult, error) {
	if m.CheckoutStatusFunc != nil {
		return m.CheckoutStatusFunc(ctx, checkoutID)
	}
	return adapter.PaymentStatusResult{
		GatewayPaymentID:  "GW-" + checkoutID,
		ResultCode:        "000.000.000",
		ResultDescription: "Transaction succeeded",
	}, nil
}

func (m *MockPaymentGateway) PaymentDetails(ctx context.Context, gatewayPaymentID string) (adapter.PaymentStatusResult, error) {
	if m.PaymentDetailsFunc != nil {
		return m.PaymentDetailsFunc(ctx, gatewayPaymentID)
	}
	return adapter.PaymentStatusResult{
		GatewayPaymentID:  gatewayPaymentID,
		ResultCode:        "000.000.000",
		ResultDescription: "Transaction succeeded",
	}, nil
}

func (m *MockPaymentGateway) ChargeRecurring(ctx context.Context, req adapter.RecurringChargeRequest) (adapter.ChargeResult, error) {
	m.mu.Lock()
	m.Charges = append(m.Charges, req)
	m.mu.Unlock()
	if m.ChargeRecurringFunc != nil {
		return m.ChargeRecurringFunc(ctx, req)
	}
	return adapter.ChargeResult{
		GatewayPaymentID:  "GW-" + uuid.NewString(),
		ResultCode:        "000.000.000",
		ResultDescription: "Transaction succeeded",
	}, nil
}

func (m *MockPaymentGateway) RefundPayment(ctx context.Context, gatewayPaymentID string, amount decimal.Decimal, currency string) (adapter.ChargeResult, error) {
	m.mu.Lock()
	m.Refunds = append(m.Refunds, gatewayPaymentID)
	m.mu.Unlock()
	if m.RefundPaymentFunc != nil {
		return m.RefundPaymentFunc(ctx, gatewayPaymentID, amount, currency)
	}
	return adapter.ChargeResult{
		GatewayPaymentID:  "RF-" + uuid.NewString(),
		ResultCode:        "000.000.000",
		ResultDescription: "Refund succeeded",
	}, nil
}

// ---- Mock WebhookVerifier ----

type MockWebhookVerifier struct {
	VerifyAndParseFunc func(rawBody []byte) (*adapter.WebhookEvent, error)
}

var _ adapter.WebhookVerifier = (*MockWebhookVerifier)(nil)

func (m *MockWebhookVerifier) VerifyAndParse(rawBody []byte) (*adapter.WebhookEvent, error) {
	if m.VerifyAndParseFunc != nil {
		return m.VerifyAndParseFunc(rawBody)
	}
	return nil, domain.ErrValidation
}

// ---- Mock NotificationPusher ----

type MockPusher struct {
	mu   sync.Mutex
	Sent []string

	PushFunc func(ctx context.Context, chatID int64, text string) error
}

var _ adapter.NotificationPusher = (*MockPusher)(nil)

func (m *MockPusher) Push(ctx context.Context, chatID int64, text string) error {
	if m.PushFunc != nil {
		return m.PushFunc(ctx, chatID, text)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, text)
	return nil
}

// =============================
// Repositories
// =============================

// ---- Mock PaymentRepository ----

type MockPaymentRepo struct {
	mu    sync.Mutex
	byID  map[model.PaymentID]*model.Payment
	byTxn map[string]*model.Payment

	SaveFunc                 func(ctx context.Context, tx repository.Tx, p *model.Payment) error
	FindByIDFunc             func(ctx context.Context, tx repository.Tx, id model.PaymentID) (*model.Payment, error)
	FindByMerchantTxnIDFunc  func(ctx context.Context, tx repository.Tx, merchantTxnID string) (*model.Payment, error)
	SetCheckoutIDFunc        func(ctx context.Context, tx repository.Tx, id model.PaymentID, checkoutID string) error
	UpdateIfStatusFunc       func(ctx context.Context, tx repository.Tx, p *model.Payment, expect model.PaymentStatus) (bool, error)
	MarkRecurringStoredFunc  func(ctx context.Context, tx repository.Tx, id model.PaymentID) (bool, error)
	ListPendingOlderThanFunc func(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{
		byID:  map[model.PaymentID]*model.Payment{},
		byTxn: map[string]*model.Payment{},
	}
}

func (r *MockPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.byID[cp.ID] = &cp
	r.byTxn[cp.MerchantTxnID] = &cp
	return nil
}

func (r *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id model.PaymentID) (*model.Payment, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) FindByMerchantTxnID(ctx context.Context, tx repository.Tx, merchantTxnID string) (*model.Payment, error) {
	if r.FindByMerchantTxnIDFunc != nil {
		return r.FindByMerchantTxnIDFunc(ctx, tx, merchantTxnID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byTxn[merchantTxnID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) SetCheckoutID(ctx context.Context, tx repository.Tx, id model.PaymentID, checkoutID string) error {
	if r.SetCheckoutIDFunc != nil {
		return r.SetCheckoutIDFunc(ctx, tx, id, checkoutID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.CheckoutID = checkoutID
	return nil
}

func (r *MockPaymentRepo) UpdateIfStatus(ctx context.Context, tx repository.Tx, p *model.Payment, expect model.PaymentStatus) (bool, error) {
	if r.UpdateIfStatusFunc != nil {
		return r.UpdateIfStatusFunc(ctx, tx, p, expect)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[p.ID]
	if !ok || stored.Status != expect {
		return false, nil
	}
	cp := *p
	r.byID[cp.ID] = &cp
	r.byTxn[cp.MerchantTxnID] = &cp
	return true, nil
}

func (r *MockPaymentRepo) MarkRecurringStored(ctx context.Context, tx repository.Tx, id model.PaymentID) (bool, error) {
	if r.MarkRecurringStoredFunc != nil {
		return r.MarkRecurringStoredFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok || p.RecurringStored {
		return false, nil
	}
	p.RecurringStored = true
	return true, nil
}

func (r *MockPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if r.ListPendingOlderThanFunc != nil {
		return r.ListPendingOlderThanFunc(ctx, tx, olderThan, limit)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.byID {
		if p.Status == model.PaymentStatusPending && p.CreatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// ---- Mock SubscriptionRepository ----

type MockSubscriptionRepo struct {
	mu   sync.Mutex
	byID map[model.SubscriptionID]*model.Subscription

	SaveFunc             func(ctx context.Context, tx repository.Tx, sub *model.Subscription) error
	FindByIDFunc         func(ctx context.Context, tx repository.Tx, id model.SubscriptionID) (*model.Subscription, error)
	FindActiveByUserFunc func(ctx context.Context, tx repository.Tx, userID model.UserID) (*model.Subscription, error)
	UpdateIfStatusFunc   func(ctx context.Context, tx repository.Tx, sub *model.Subscription, expect model.SubscriptionStatus) (bool, error)
	ListRenewalDueFunc   func(ctx context.Context, tx repository.Tx, now time.Time, includeGrace bool, limit int) ([]*model.Subscription, error)
	ListGraceExpiredFunc func(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error)
	CountByStatusFunc    func(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error)
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{byID: map[model.SubscriptionID]*model.Subscription{}}
}

func (r *MockSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, sub *model.Subscription) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, sub)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	r.byID[cp.ID] = &cp
	return nil
}

func (r *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id model.SubscriptionID) (*model.Subscription, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID model.UserID) (*model.Subscription, error) {
	if r.FindActiveByUserFunc != nil {
		return r.FindActiveByUserFunc(ctx, tx, userID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.UserID == userID && !s.Status.IsTerminal() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) UpdateIfStatus(ctx context.Context, tx repository.Tx, sub *model.Subscription, expect model.SubscriptionStatus) (bool, error) {
	if r.UpdateIfStatusFunc != nil {
		return r.UpdateIfStatusFunc(ctx, tx, sub, expect)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[sub.ID]
	if !ok || stored.Status != expect {
		return false, nil
	}
	cp := *sub
	r.byID[cp.ID] = &cp
	return true, nil
}

func (r *MockSubscriptionRepo) ListRenewalDue(ctx context.Context, tx repository.Tx, now time.Time, includeGrace bool, limit int) ([]*model.Subscription, error) {
	if r.ListRenewalDueFunc != nil {
		return r.ListRenewalDueFunc(ctx, tx, now, includeGrace, limit)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.byID {
		if s.RenewalDue(now, includeGrace) {
			cp := *s
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *MockSubscriptionRepo) ListGraceExpired(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	if r.ListGraceExpiredFunc != nil {
		return r.ListGraceExpiredFunc(ctx, tx, now, limit)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.byID {
		if s.GraceExpired(now) {
			cp := *s
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *MockSubscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	if r.CountByStatusFunc != nil {
		return r.CountByStatusFunc(ctx, tx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[model.SubscriptionStatus]int)
	for _, s := range r.byID {
		out[s.Status]++
	}
	return out, nil
}

// ---- Mock PlanRepository ----

type MockPlanRepo struct {
	mu   sync.Mutex
	data map[model.PlanID]*model.Plan

	SaveFunc       func(ctx context.Context, tx repository.Tx, plan *model.Plan) error
	FindByIDFunc   func(ctx context.Context, tx repository.Tx, id model.PlanID) (*model.Plan, error)
	FindByCodeFunc func(ctx context.Context, tx repository.Tx, code string) (*model.Plan, error)
	ListActiveFunc func(ctx context.Context, tx repository.Tx) ([]*model.Plan, error)
}

var _ repository.PlanRepository = (*MockPlanRepo)(nil)

func NewMockPlanRepo() *MockPlanRepo {
	return &MockPlanRepo{data: map[model.PlanID]*model.Plan{}}
}

func (r *MockPlanRepo) Save(ctx context.Context, tx repository.Tx, plan *model.Plan) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, plan)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *plan
	r.data[cp.ID] = &cp
	return nil
}

func (r *MockPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id model.PlanID) (*model.Plan, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.data[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPlanRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.Plan, error) {
	if r.FindByCodeFunc != nil {
		return r.FindByCodeFunc(ctx, tx, code)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.data {
		if p.Code == code {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPlanRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	if r.ListActiveFunc != nil {
		return r.ListActiveFunc(ctx, tx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Plan
	for _, p := range r.data {
		if p.Active {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- Mock UserRepository ----

type MockUserRepo struct {
	mu   sync.Mutex
	byID map[model.UserID]*model.User

	SaveFunc        func(ctx context.Context, tx repository.Tx, u *model.User) error
	FindByIDFunc    func(ctx context.Context, tx repository.Tx, id model.UserID) (*model.User, error)
	FindByEmailFunc func(ctx context.Context, tx repository.Tx, email string) (*model.User, error)
	CountUsersFunc  func(ctx context.Context, tx repository.Tx) (int, error)
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{byID: map[model.UserID]*model.User{}}
}

func (r *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, u)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.byID[cp.ID] = &cp
	return nil
}

func (r *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id model.UserID) (*model.User, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockUserRepo) FindByEmail(ctx context.Context, tx repository.Tx, email string) (*model.User, error) {
	if r.FindByEmailFunc != nil {
		return r.FindByEmailFunc(ctx, tx, email)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockUserRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	if r.CountUsersFunc != nil {
		return r.CountUsersFunc(ctx, tx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID), nil
}

// ---- Mock PaymentMethodRepository ----

type MockPaymentMethodRepo struct {
	mu   sync.Mutex
	data map[model.PaymentMethodID]*model.PaymentMethodDetail

	SaveFunc                    func(ctx context.Context, tx repository.Tx, m *model.PaymentMethodDetail) error
	FindByIDFunc                func(ctx context.Context, tx repository.Tx, id model.PaymentMethodID) (*model.PaymentMethodDetail, error)
	FindDefaultActiveByUserFunc func(ctx context.Context, tx repository.Tx, userID model.UserID) (*model.PaymentMethodDetail, error)
	ListByUserFunc              func(ctx context.Context, tx repository.Tx, userID model.UserID) ([]*model.PaymentMethodDetail, error)
	SetDefaultFunc              func(ctx context.Context, tx repository.Tx, userID model.UserID, id model.PaymentMethodID) error
	DeactivateFunc              func(ctx context.Context, tx repository.Tx, userID model.UserID, id model.PaymentMethodID) error
}

var _ repository.PaymentMethodRepository = (*MockPaymentMethodRepo)(nil)

func NewMockPaymentMethodRepo() *MockPaymentMethodRepo {
	return &MockPaymentMethodRepo{data: map[model.PaymentMethodID]*model.PaymentMethodDetail{}}
}

func (r *MockPaymentMethodRepo) Save(ctx context.Context, tx repository.Tx, m *model.PaymentMethodDetail) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, m)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// upsert on (user, token) like the real repository
	for _, existing := range r.data {
		if existing.UserID == m.UserID && existing.Token == m.Token {
			existing.Brand = m.Brand
			existing.Last4 = m.Last4
			existing.ExpiryMonth = m.ExpiryMonth
			existing.ExpiryYear = m.ExpiryYear
			existing.UpdatedAt = m.UpdatedAt
			*m = *existing
			return nil
		}
	}
	cp := *m
	r.data[cp.ID] = &cp
	return nil
}

func (r *MockPaymentMethodRepo) FindByID(ctx context.Context, tx repository.Tx, id model.PaymentMethodID) (*model.PaymentMethodDetail, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.data[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentMethodRepo) FindDefaultActiveByUser(ctx context.Context, tx repository.Tx, userID model.UserID) (*model.PaymentMethodDetail, error) {
	if r.FindDefaultActiveByUserFunc != nil {
		return r.FindDefaultActiveByUserFunc(ctx, tx, userID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.data {
		if m.UserID == userID && m.IsDefault && m.IsActive {
			cp := *m
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentMethodRepo) ListByUser(ctx context.Context, tx repository.Tx, userID model.UserID) ([]*model.PaymentMethodDetail, error) {
	if r.ListByUserFunc != nil {
		return r.ListByUserFunc(ctx, tx, userID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PaymentMethodDetail
	for _, m := range r.data {
		if m.UserID == userID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MockPaymentMethodRepo) SetDefault(ctx context.Context, tx repository.Tx, userID model.UserID, id model.PaymentMethodID) error {
	if r.SetDefaultFunc != nil {
		return r.SetDefaultFunc(ctx, tx, userID, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.data[id]
	if !ok || target.UserID != userID {
		return domain.ErrNotFound
	}
	for _, m := range r.data {
		if m.UserID == userID {
			m.IsDefault = false
		}
	}
	target.IsDefault = true
	return nil
}

func (r *MockPaymentMethodRepo) Deactivate(ctx context.Context, tx repository.Tx, userID model.UserID, id model.PaymentMethodID) error {
	if r.DeactivateFunc != nil {
		return r.DeactivateFunc(ctx, tx, userID, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.data[id]
	if !ok || m.UserID != userID {
		return domain.ErrNotFound
	}
	m.IsActive = false
	m.IsDefault = false
	return nil
}

// ---- Mock NotificationRepository ----

type MockNotificationRepo struct {
	mu      sync.Mutex
	entries []*model.Notification

	SaveFunc        func(ctx context.Context, tx repository.Tx, n *model.Notification) error
	ExistsFunc      func(ctx context.Context, tx repository.Tx, subscriptionID model.SubscriptionID, kind string, since time.Time) (bool, error)
	ListByUserFunc  func(ctx context.Context, tx repository.Tx, userID model.UserID, onlyUnacknowledged bool) ([]*model.Notification, error)
	AcknowledgeFunc func(ctx context.Context, tx repository.Tx, userID model.UserID, id model.NotificationID) error
}

var _ repository.NotificationRepository = (*MockNotificationRepo)(nil)

func NewMockNotificationRepo() *MockNotificationRepo {
	return &MockNotificationRepo{}
}

func (r *MockNotificationRepo) Save(ctx context.Context, tx repository.Tx, n *model.Notification) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, n)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *n
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *MockNotificationRepo) Exists(ctx context.Context, tx repository.Tx, subscriptionID model.SubscriptionID, kind string, since time.Time) (bool, error) {
	if r.ExistsFunc != nil {
		return r.ExistsFunc(ctx, tx, subscriptionID, kind, since)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.entries {
		if n.SubscriptionID != nil && *n.SubscriptionID == subscriptionID &&
			string(n.Kind) == kind && n.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r *MockNotificationRepo) ListByUser(ctx context.Context, tx repository.Tx, userID model.UserID, onlyUnacknowledged bool) ([]*model.Notification, error) {
	if r.ListByUserFunc != nil {
		return r.ListByUserFunc(ctx, tx, userID, onlyUnacknowledged)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Notification
	for _, n := range r.entries {
		if n.UserID != userID {
			continue
		}
		if onlyUnacknowledged && n.Acknowledged {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MockNotificationRepo) Acknowledge(ctx context.Context, tx repository.Tx, userID model.UserID, id model.NotificationID) error {
	if r.AcknowledgeFunc != nil {
		return r.AcknowledgeFunc(ctx, tx, userID, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.entries {
		if n.ID == id && n.UserID == userID {
			n.Acknowledged = true
			return nil
		}
	}
	return domain.ErrNotFound
}

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx provides a way to control transaction behavior during tests.
// By default, it runs the function immediately without a real transaction.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
// It writes to io.Discard to prevent logs from cluttering test output.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
