package adapter

import (
	"context"

	"github.com/shopspring/decimal"

	"peach-subscription-billing/internal/domain/model"
)

// CheckoutRequest carries everything the gateway needs to open a checkout.
type CheckoutRequest struct {
	Amount             decimal.Decimal
	Currency           string
	MerchantTxnID      string
	CustomerID         string // forwarded as merchantCustomerId
	Method             model.PaymentMethod
	CreateRegistration bool   // tokenize the card for later recurring charges
	SubscriptionID     string // forwarded as customParameters[subscription_id]
}

// CheckoutResult is the gateway's answer to a checkout creation.
type CheckoutResult struct {
	CheckoutID        string
	ResultCode        string
	ResultDescription string
}

// PaymentStatusResult is the gateway's view of a checkout or settled payment.
type PaymentStatusResult struct {
	MerchantTxnID     string
	GatewayPaymentID  string
	ResultCode        string
	ResultDescription string
	PaymentBrand      string
	RegistrationID    string // set when a registration/token was created
	CardLast4         string
	CardExpiryMonth   string
	CardExpiryYear    string
}

// RecurringChargeRequest initiates a token-based charge without the shopper.
type RecurringChargeRequest struct {
	RegistrationID string
	Amount         decimal.Decimal
	Currency       string
	MerchantTxnID  string
	CustomerID     string
}

// ChargeResult is the outcome of a recurring charge or a refund.
type ChargeResult struct {
	GatewayPaymentID  string
	ResultCode        string
	ResultDescription string
}

// PaymentGateway is the port for the payment provider. Implementations must
// bound every call with the request context and return domain.ErrGateway for
// transport failures and malformed responses; a declined charge is a normal
// result carried in the result code, not an error.
type PaymentGateway interface {
	Name() string

	CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error)
	CheckoutStatus(ctx context.Context, checkoutID string) (PaymentStatusResult, error)
	PaymentDetails(ctx context.Context, gatewayPaymentID string) (PaymentStatusResult, error)
	ChargeRecurring(ctx context.Context, req RecurringChargeRequest) (ChargeResult, error)
	RefundPayment(ctx context.Context, gatewayPaymentID string, amount decimal.Decimal, currency string) (ChargeResult, error)
}

// WebhookEvent is the verified, typed form of one gateway notification.
type WebhookEvent struct {
	ResultCode        string
	ResultDescription string
	MerchantTxnID     string
	GatewayPaymentID  string // the gateway's "id" field, when present
	CheckoutID        string
	PaymentBrand      string
	RegistrationID    string
	SubscriptionID    string // customParameters[subscription_id], either spelling
}

// WebhookVerifier checks the HMAC signature of a raw webhook body and parses
// it into a typed event. Returns domain.ErrSignature on mismatch and
// domain.ErrValidation when the body is unparseable or misses required fields.
type WebhookVerifier interface {
	VerifyAndParse(rawBody []byte) (*WebhookEvent, error)
}
