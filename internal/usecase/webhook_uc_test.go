//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"peach-subscription-billing/internal/domain"
	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/domain/ports/adapter"
	"peach-subscription-billing/internal/domain/ports/repository"
	"peach-subscription-billing/internal/infra/worker"
	"peach-subscription-billing/internal/usecase"
)

type webhookUCTestDeps struct {
	verifier *MockWebhookVerifier
	gateway  *MockPaymentGateway
	payments *MockPaymentRepo
	subs     *MockSubscriptionRepo
	plans    *MockPlanRepo
	methods  *MockPaymentMethodRepo
	pool     *worker.Pool
}

func newWebhookUCDeps() *webhookUCTestDeps {
	return &webhookUCTestDeps{
		verifier: &MockWebhookVerifier{},
		gateway:  &MockPaymentGateway{},
		payments: NewMockPaymentRepo(),
		subs:     NewMockSubscriptionRepo(),
		plans:    NewMockPlanRepo(),
		methods:  NewMockPaymentMethodRepo(),
		pool:     worker.NewPool(1, newTestLogger()),
	}
}

func (d *webhookUCTestDeps) uc(fetchDelay time.Duration, fetchRetries int) usecase.WebhookUseCase {
	log := newTestLogger()
	payments := usecase.NewPaymentUseCase(d.payments, d.subs, d.gateway, log)
	subs := usecase.NewSubscriptionUseCase(d.subs, d.plans, NewMockTxManager(), true, 0, log)
	methods := usecase.NewPaymentMethodUseCase(d.methods, log)
	return usecase.NewWebhookUseCase(d.verifier, d.gateway, payments, subs, methods, d.pool, fetchDelay, fetchRetries, log)
}

// seedCheckoutPayment stores a pending subscription and its pending card
// payment, the state right after a shopper opened a checkout.
func (d *webhookUCTestDeps) seedCheckoutPayment(t *testing.T, userID model.UserID) (*model.Subscription, *model.Payment) {
	t.Helper()
	ctx := context.Background()
	plan := testPlan(t, "monthly", "100.00", 30, 3)
	if err := d.plans.Save(ctx, repository.NoTX, plan); err != nil {
		t.Fatalf("seeding plan: %v", err)
	}
	sub, err := model.NewSubscription(userID, plan, true, nil)
	if err != nil {
		t.Fatalf("building subscription: %v", err)
	}
	if err := d.subs.Save(ctx, repository.NoTX, sub); err != nil {
		t.Fatalf("seeding subscription: %v", err)
	}
	p, err := model.NewPayment(userID, &sub.ID, plan.Price, "ZAR", model.PaymentMethodCard)
	if err != nil {
		t.Fatalf("building payment: %v", err)
	}
	p.CheckoutID = "CHK-SEEDED"
	if err := d.payments.Save(ctx, repository.NoTX, p); err != nil {
		t.Fatalf("seeding payment: %v", err)
	}
	return sub, p
}

// deliver wires the verifier to hand back the given event for any body.
func (d *webhookUCTestDeps) deliver(event *adapter.WebhookEvent) {
	d.verifier.VerifyAndParseFunc = func(rawBody []byte) (*adapter.WebhookEvent, error) {
		return event, nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWebhookUseCase_ProcessWebhook(t *testing.T) {
	ctx := context.Background()
	userID := model.NewUserID()

	t.Run("should return the verifier's rejection untouched", func(t *testing.T) {
		// --- Arrange ---
		deps := newWebhookUCDeps()
		deps.verifier.VerifyAndParseFunc = func(rawBody []byte) (*adapter.WebhookEvent, error) {
			return nil, domain.ErrSignature
		}

		// --- Act ---
		err := deps.uc(time.Millisecond, 1).ProcessWebhook(ctx, []byte("{}"))

		// --- Assert ---
		if !errors.Is(err, domain.ErrSignature) {
			t.Errorf("expected ErrSignature, got %v", err)
		}
	})

	t.Run("should reject an unparseable body", func(t *testing.T) {
		// --- Arrange ---
		deps := newWebhookUCDeps()

		// --- Act ---
		err := deps.uc(time.Millisecond, 1).ProcessWebhook(ctx, []byte("not json"))

		// --- Assert ---
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("should absorb webhooks for unknown payments", func(t *testing.T) {
		// --- Arrange ---
		deps := newWebhookUCDeps()
		deps.deliver(&adapter.WebhookEvent{
			ResultCode:    "000.000.000",
			MerchantTxnID: "TXN_nobody_knows_this_one",
		})

		// --- Act ---
		err := deps.uc(time.Millisecond, 1).ProcessWebhook(ctx, []byte("{}"))

		// --- Assert ---
		if err != nil {
			t.Errorf("an unknown txn must still be acknowledged, got: %v", err)
		}
	})

	t.Run("should complete the payment, activate the subscription and store the token", func(t *testing.T) {
		// --- Arrange ---
		deps := newWebhookUCDeps()
		sub, p := deps.seedCheckoutPayment(t, userID)
		deps.deliver(&adapter.WebhookEvent{
			ResultCode:       "000.000.000",
			MerchantTxnID:    p.MerchantTxnID,
			GatewayPaymentID: "GW-9",
			PaymentBrand:     "VISA",
			RegistrationID:   "REG-PRIMARY",
		})

		// --- Act ---
		err := deps.uc(time.Millisecond, 1).ProcessWebhook(ctx, []byte("{}"))

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		storedPayment, _ := deps.payments.FindByID(ctx, repository.NoTX, p.ID)
		if storedPayment.Status != model.PaymentStatusCompleted {
			t.Errorf("expected payment 'completed', got '%s'", storedPayment.Status)
		}
		if storedPayment.GatewayPayID != "GW-9" {
			t.Errorf("expected gateway payment id recorded, got %q", storedPayment.GatewayPayID)
		}
		if !storedPayment.RecurringStored {
			t.Error("expected the token store to be claimed")
		}
		storedSub, _ := deps.subs.FindByID(ctx, repository.NoTX, sub.ID)
		if storedSub.Status != model.SubscriptionStatusActive {
			t.Errorf("expected subscription 'active', got '%s'", storedSub.Status)
		}
		methods, _ := deps.methods.ListByUser(ctx, repository.NoTX, userID)
		if len(methods) != 1 {
			t.Fatalf("expected 1 stored payment method, got %d", len(methods))
		}
		if methods[0].Token != "REG-PRIMARY" || !methods[0].IsDefault {
			t.Errorf("expected the token stored as default, got %+v", methods[0])
		}
	})

	t.Run("should be idempotent across redeliveries", func(t *testing.T) {
		// --- Arrange ---
		deps := newWebhookUCDeps()
		sub, p := deps.seedCheckoutPayment(t, userID)
		deps.deliver(&adapter.WebhookEvent{
			ResultCode:     "000.000.000",
			MerchantTxnID:  p.MerchantTxnID,
			PaymentBrand:   "VISA",
			RegistrationID: "REG-PRIMARY",
		})
		uc := deps.uc(time.Millisecond, 1)
		if err := uc.ProcessWebhook(ctx, []byte("{}")); err != nil {
			t.Fatalf("first delivery: %v", err)
		}
		afterFirst, _ := deps.subs.FindByID(ctx, repository.NoTX, sub.ID)

		// --- Act ---
		err := uc.ProcessWebhook(ctx, []byte("{}"))

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected redelivery to be absorbed, got: %v", err)
		}
		afterSecond, _ := deps.subs.FindByID(ctx, repository.NoTX, sub.ID)
		if !afterSecond.EndAt.Equal(*afterFirst.EndAt) {
			t.Errorf("redelivery stacked a second renewal: %v -> %v", *afterFirst.EndAt, *afterSecond.EndAt)
		}
		methods, _ := deps.methods.ListByUser(ctx, repository.NoTX, userID)
		if len(methods) != 1 {
			t.Errorf("expected 1 stored payment method after redelivery, got %d", len(methods))
		}
	})

	t.Run("should store the token once across concurrent deliveries", func(t *testing.T) {
		// --- Arrange ---
		deps := newWebhookUCDeps()
		sub, p := deps.seedCheckoutPayment(t, userID)
		deps.deliver(&adapter.WebhookEvent{
			ResultCode:     "000.000.000",
			MerchantTxnID:  p.MerchantTxnID,
			PaymentBrand:   "VISA",
			RegistrationID: "REG-PRIMARY",
		})
		uc := deps.uc(time.Millisecond, 1)

		// --- Act ---
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = uc.ProcessWebhook(ctx, []byte("{}"))
			}(i)
		}
		wg.Wait()

		// --- Assert ---
		for i, err := range errs {
			if err != nil {
				t.Fatalf("delivery %d: %v", i+1, err)
			}
		}
		methods, _ := deps.methods.ListByUser(ctx, repository.NoTX, userID)
		if len(methods) != 1 {
			t.Fatalf("expected exactly 1 stored payment method, got %d", len(methods))
		}
		storedSub, _ := deps.subs.FindByID(ctx, repository.NoTX, sub.ID)
		if storedSub.Status != model.SubscriptionStatusActive {
			t.Errorf("expected subscription 'active', got '%s'", storedSub.Status)
		}
	})

	t.Run("should fetch the token later when the webhook lacks it", func(t *testing.T) {
		// --- Arrange ---
		deps := newWebhookUCDeps()
		_, p := deps.seedCheckoutPayment(t, userID)
		deps.deliver(&adapter.WebhookEvent{
			ResultCode:       "000.000.000",
			MerchantTxnID:    p.MerchantTxnID,
			GatewayPaymentID: "GW-9",
			PaymentBrand:     "VISA",
		})
		calls := 0
		deps.gateway.PaymentDetailsFunc = func(ctx context.Context, gatewayPaymentID string) (adapter.PaymentStatusResult, error) {
			calls++
			if calls == 1 {
				// The gateway's read API lags the webhook.
				return adapter.PaymentStatusResult{ResultCode: "000.000.000"}, nil
			}
			return adapter.PaymentStatusResult{
				ResultCode:     "000.000.000",
				RegistrationID: "REG-LATE",
				PaymentBrand:   "VISA",
				CardLast4:      "4242",
			}, nil
		}
		poolCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		deps.pool.Start(poolCtx)
		defer deps.pool.Stop()

		// --- Act ---
		err := deps.uc(time.Millisecond, 3).ProcessWebhook(ctx, []byte("{}"))

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		waitFor(t, "the delayed token store", func() bool {
			methods, _ := deps.methods.ListByUser(context.Background(), repository.NoTX, userID)
			return len(methods) == 1
		})
		methods, _ := deps.methods.ListByUser(ctx, repository.NoTX, userID)
		if methods[0].Token != "REG-LATE" {
			t.Errorf("expected the late-fetched token, got %q", methods[0].Token)
		}
		if methods[0].Last4 != "4242" {
			t.Errorf("expected card metadata from the read API, got %q", methods[0].Last4)
		}
		stored, _ := deps.payments.FindByID(ctx, repository.NoTX, p.ID)
		if !stored.RecurringStored {
			t.Error("expected the claim flag set once the token landed")
		}
	})

	t.Run("should give up when the token never appears", func(t *testing.T) {
		// --- Arrange ---
		deps := newWebhookUCDeps()
		_, p := deps.seedCheckoutPayment(t, userID)
		deps.deliver(&adapter.WebhookEvent{
			ResultCode:       "000.000.000",
			MerchantTxnID:    p.MerchantTxnID,
			GatewayPaymentID: "GW-10",
		})
		var calls int32
		deps.gateway.PaymentDetailsFunc = func(ctx context.Context, gatewayPaymentID string) (adapter.PaymentStatusResult, error) {
			atomic.AddInt32(&calls, 1)
			return adapter.PaymentStatusResult{ResultCode: "000.000.000"}, nil
		}
		poolCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		deps.pool.Start(poolCtx)
		defer deps.pool.Stop()

		// --- Act ---
		err := deps.uc(time.Millisecond, 2).ProcessWebhook(ctx, []byte("{}"))

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		waitFor(t, "the fetch attempts to run out", func() bool {
			return atomic.LoadInt32(&calls) >= 2
		})
		if got := atomic.LoadInt32(&calls); got != 2 {
			t.Errorf("expected exactly 2 fetch attempts, got %d", got)
		}
		methods, _ := deps.methods.ListByUser(ctx, repository.NoTX, userID)
		if len(methods) != 0 {
			t.Errorf("expected no stored method, got %d", len(methods))
		}
		stored, _ := deps.payments.FindByID(ctx, repository.NoTX, p.ID)
		if stored.RecurringStored {
			t.Error("expected the claim flag untouched so a later poll can still store the token")
		}
	})

	t.Run("should treat a failed code as final for the payment", func(t *testing.T) {
		// --- Arrange ---
		deps := newWebhookUCDeps()
		sub, p := deps.seedCheckoutPayment(t, userID)
		deps.deliver(&adapter.WebhookEvent{
			ResultCode:        "800.100.157",
			ResultDescription: "insufficient funds",
			MerchantTxnID:     p.MerchantTxnID,
		})

		// --- Act ---
		err := deps.uc(time.Millisecond, 1).ProcessWebhook(ctx, []byte("{}"))

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		stored, _ := deps.payments.FindByID(ctx, repository.NoTX, p.ID)
		if stored.Status != model.PaymentStatusFailed {
			t.Errorf("expected payment 'failed', got '%s'", stored.Status)
		}
		if stored.FailureReason != "insufficient funds" {
			t.Errorf("expected the decline reason recorded, got %q", stored.FailureReason)
		}
		storedSub, _ := deps.subs.FindByID(ctx, repository.NoTX, sub.ID)
		if storedSub.Status != model.SubscriptionStatusPending {
			t.Errorf("a failed payment must not move the subscription, got '%s'", storedSub.Status)
		}
		methods, _ := deps.methods.ListByUser(ctx, repository.NoTX, userID)
		if len(methods) != 0 {
			t.Errorf("expected no payment method stored, got %d", len(methods))
		}
	})

	t.Run("should acknowledge even when the subscription step fails", func(t *testing.T) {
		// --- Arrange ---
		deps := newWebhookUCDeps()
		danglingSubID := model.NewSubscriptionID()
		p, err := model.NewPayment(userID, &danglingSubID, testPlan(t, "m", "10.00", 30, 3).Price, "ZAR", model.PaymentMethodEFT)
		if err != nil {
			t.Fatalf("building payment: %v", err)
		}
		if err := deps.payments.Save(ctx, repository.NoTX, p); err != nil {
			t.Fatalf("seeding payment: %v", err)
		}
		deps.deliver(&adapter.WebhookEvent{
			ResultCode:    "000.000.000",
			MerchantTxnID: p.MerchantTxnID,
		})

		// --- Act ---
		err = deps.uc(time.Millisecond, 1).ProcessWebhook(ctx, []byte("{}"))

		// --- Assert ---
		if err != nil {
			t.Errorf("the gateway must still get its acknowledgement, got: %v", err)
		}
		stored, _ := deps.payments.FindByID(ctx, repository.NoTX, p.ID)
		if stored.Status != model.PaymentStatusCompleted {
			t.Errorf("expected payment 'completed', got '%s'", stored.Status)
		}
	})

	t.Run("should absorb a conflicting late delivery", func(t *testing.T) {
		// --- Arrange ---
		deps := newWebhookUCDeps()
		_, p := deps.seedCheckoutPayment(t, userID)
		uc := deps.uc(time.Millisecond, 1)
		deps.deliver(&adapter.WebhookEvent{ResultCode: "000.000.000", MerchantTxnID: p.MerchantTxnID})
		if err := uc.ProcessWebhook(ctx, []byte("{}")); err != nil {
			t.Fatalf("settling delivery: %v", err)
		}
		deps.deliver(&adapter.WebhookEvent{ResultCode: "800.100.157", MerchantTxnID: p.MerchantTxnID})

		// --- Act ---
		err := uc.ProcessWebhook(ctx, []byte("{}"))

		// --- Assert ---
		if err != nil {
			t.Errorf("a late conflicting delivery must be absorbed, got: %v", err)
		}
		stored, _ := deps.payments.FindByID(ctx, repository.NoTX, p.ID)
		if stored.Status != model.PaymentStatusCompleted {
			t.Errorf("the stored outcome must win, got '%s'", stored.Status)
		}
	})
}
