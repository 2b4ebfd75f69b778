package payment

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"peach-subscription-billing/internal/domain/ports/adapter"
)

// NoopGateway is the dev-mode gateway. Every operation succeeds locally
// without touching a provider, so checkout and renewal flows can run end to
// end before Peach credentials exist.
type NoopGateway struct {
	log *zerolog.Logger
}

// Compile-time check
var _ adapter.PaymentGateway = (*NoopGateway)(nil)

func NewNoopGateway(logger *zerolog.Logger) *NoopGateway {
	return &NoopGateway{log: logger}
}

// Name implements adapter.PaymentGateway.
func (g *NoopGateway) Name() string { return "noop" }

// CreateCheckout implements adapter.PaymentGateway.
func (g *NoopGateway) CreateCheckout(ctx context.Context, req adapter.CheckoutRequest) (adapter.CheckoutResult, error) {
	g.log.Info().Str("merchant_txn_id", req.MerchantTxnID).Msg("Noop gateway created checkout")
	return adapter.CheckoutResult{
		CheckoutID:        "noop-" + req.MerchantTxnID,
		ResultCode:        "000.200.100",
		ResultDescription: "successfully created checkout",
	}, nil
}

// CheckoutStatus implements adapter.PaymentGateway.
func (g *NoopGateway) CheckoutStatus(ctx context.Context, checkoutID string) (adapter.PaymentStatusResult, error) {
	return adapter.PaymentStatusResult{
		GatewayPaymentID:  "noop-pay-" + checkoutID,
		ResultCode:        "000.100.110",
		ResultDescription: "Request successfully processed",
		PaymentBrand:      "VISA",
		RegistrationID:    "noop-reg-" + checkoutID,
		CardLast4:         "0000",
	}, nil
}

// PaymentDetails implements adapter.PaymentGateway.
func (g *NoopGateway) PaymentDetails(ctx context.Context, gatewayPaymentID string) (adapter.PaymentStatusResult, error) {
	return adapter.PaymentStatusResult{
		GatewayPaymentID:  gatewayPaymentID,
		ResultCode:        "000.100.110",
		ResultDescription: "Request successfully processed",
		PaymentBrand:      "VISA",
		RegistrationID:    "noop-reg-" + gatewayPaymentID,
		CardLast4:         "0000",
	}, nil
}

// ChargeRecurring implements adapter.PaymentGateway.
func (g *NoopGateway) ChargeRecurring(ctx context.Context, req adapter.RecurringChargeRequest) (adapter.ChargeResult, error) {
	g.log.Info().Str("merchant_txn_id", req.MerchantTxnID).Msg("Noop gateway charged token")
	return adapter.ChargeResult{
		GatewayPaymentID:  "noop-pay-" + req.MerchantTxnID,
		ResultCode:        "000.100.110",
		ResultDescription: "Request successfully processed",
	}, nil
}

// RefundPayment implements adapter.PaymentGateway.
func (g *NoopGateway) RefundPayment(ctx context.Context, gatewayPaymentID string, amount decimal.Decimal, currency string) (adapter.ChargeResult, error) {
	g.log.Info().Str("gateway_payment_id", gatewayPaymentID).Str("amount", amount.StringFixed(2)).Msg("Noop gateway refunded payment")
	return adapter.ChargeResult{
		GatewayPaymentID:  gatewayPaymentID,
		ResultCode:        "000.100.110",
		ResultDescription: "Request successfully processed",
	}, nil
}
