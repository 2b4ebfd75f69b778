package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"peach-subscription-billing/internal/domain"
	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/domain/ports/adapter"
)

// tokenRefreshMargin forces a token refresh while the cached bearer token
// still has a few minutes left, so in-flight requests never ride an expiring
// token.
const tokenRefreshMargin = 5 * time.Minute

// Config carries the Peach Payments credentials and endpoints.
type Config struct {
	AuthServiceURL   string
	CheckoutEndpoint string
	StatusEndpoint   string
	ClientID         string
	ClientSecret     string
	MerchantID       string
	EntityID         string
	NotificationURL  string
	ShopperResultURL string
	OriginDomain     string
	Timeout          time.Duration
}

// PeachGateway implements adapter.PaymentGateway with direct HTTP calls to the
// Peach Payments checkout and payments APIs.
type PeachGateway struct {
	cfg    Config
	client *http.Client
	log    *zerolog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// Compile-time check
var _ adapter.PaymentGateway = (*PeachGateway)(nil)

// NewPeachGateway creates a gateway client with a bounded request timeout.
func NewPeachGateway(cfg Config, logger *zerolog.Logger) *PeachGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &PeachGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    logger,
	}
}

// Name implements adapter.PaymentGateway.
func (g *PeachGateway) Name() string { return "peach" }

type peachResult struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type peachCard struct {
	Last4       string `json:"last4Digits"`
	ExpiryMonth string `json:"expiryMonth"`
	ExpiryYear  string `json:"expiryYear"`
}

// peachPaymentResponse is the shape shared by the checkout status, payment
// details, recurring payment and refund responses.
type peachPaymentResponse struct {
	ID             string      `json:"id"`
	MerchantTxnID  string      `json:"merchantTransactionId"`
	PaymentBrand   string      `json:"paymentBrand"`
	RegistrationID string      `json:"registrationId"`
	Result         peachResult `json:"result"`
	Card           peachCard   `json:"card"`
}

func (r *peachPaymentResponse) toStatusResult() adapter.PaymentStatusResult {
	return adapter.PaymentStatusResult{
		MerchantTxnID:     r.MerchantTxnID,
		GatewayPaymentID:  r.ID,
		ResultCode:        r.Result.Code,
		ResultDescription: r.Result.Description,
		PaymentBrand:      r.PaymentBrand,
		RegistrationID:    r.RegistrationID,
		CardLast4:         r.Card.Last4,
		CardExpiryMonth:   r.Card.ExpiryMonth,
		CardExpiryYear:    r.Card.ExpiryYear,
	}
}

type peachAuthResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// authenticate returns the cached bearer token, refreshing it when it is
// within tokenRefreshMargin of expiry. The mutex is held across the refresh
// request so concurrent callers share a single refresh.
func (g *PeachGateway) authenticate(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.accessToken != "" && time.Until(g.tokenExpiry) > tokenRefreshMargin {
		return g.accessToken, nil
	}

	requestData := map[string]interface{}{
		"clientId":     g.cfg.ClientID,
		"clientSecret": g.cfg.ClientSecret,
		"merchantId":   g.cfg.MerchantID,
	}

	var response peachAuthResponse
	if err := g.doJSON(ctx, http.MethodPost, g.cfg.AuthServiceURL+"/api/oauth/token", "", requestData, &response); err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}
	if response.AccessToken == "" {
		return "", fmt.Errorf("authenticate: no access_token in response: %w", domain.ErrGateway)
	}

	expiresIn := response.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	g.accessToken = response.AccessToken
	g.tokenExpiry = time.Now().Add(time.Duration(expiresIn) * time.Second)

	g.log.Debug().Time("token_expiry", g.tokenExpiry).Msg("Refreshed Peach access token")
	return g.accessToken, nil
}

// CreateCheckout implements adapter.PaymentGateway.
func (g *PeachGateway) CreateCheckout(ctx context.Context, req adapter.CheckoutRequest) (adapter.CheckoutResult, error) {
	accessToken, err := g.authenticate(ctx)
	if err != nil {
		return adapter.CheckoutResult{}, err
	}

	requestData := map[string]interface{}{
		"entityId":              g.cfg.EntityID,
		"amount":                req.Amount.StringFixed(2),
		"currency":              req.Currency,
		"paymentType":           "DB",
		"merchantTransactionId": req.MerchantTxnID,
		"nonce":                 uuid.New().String(),
		"notificationUrl":       g.cfg.NotificationURL,
		"shopperResultUrl":      g.cfg.ShopperResultURL,
	}

	if req.Method == model.PaymentMethodCard {
		if req.CreateRegistration {
			requestData["createRegistration"] = true
		}
	} else if brand := req.Method.GatewayBrand(); brand != "" {
		requestData["paymentBrand"] = brand
	}

	customParams := map[string]string{}
	if req.SubscriptionID != "" {
		customParams["subscription_id"] = req.SubscriptionID
	}
	if req.CustomerID != "" {
		customParams["user_id"] = req.CustomerID
	}
	if len(customParams) > 0 {
		requestData["customParameters"] = customParams
	}

	var response struct {
		CheckoutID string      `json:"checkoutId"`
		Result     peachResult `json:"result"`
	}
	if err := g.doJSON(ctx, http.MethodPost, g.cfg.CheckoutEndpoint+"/v2/checkout", accessToken, requestData, &response); err != nil {
		return adapter.CheckoutResult{}, fmt.Errorf("create checkout: %w", err)
	}
	if response.CheckoutID == "" {
		return adapter.CheckoutResult{}, fmt.Errorf("create checkout: no checkoutId in response: %w", domain.ErrGateway)
	}

	g.log.Debug().
		Str("checkout_id", response.CheckoutID).
		Str("merchant_txn_id", req.MerchantTxnID).
		Msg("Created Peach checkout")

	return adapter.CheckoutResult{
		CheckoutID:        response.CheckoutID,
		ResultCode:        response.Result.Code,
		ResultDescription: response.Result.Description,
	}, nil
}

// CheckoutStatus implements adapter.PaymentGateway. The status endpoint is
// authenticated by the checkout id alone.
func (g *PeachGateway) CheckoutStatus(ctx context.Context, checkoutID string) (adapter.PaymentStatusResult, error) {
	url := fmt.Sprintf("%s/v2/checkout/%s/status", g.cfg.StatusEndpoint, checkoutID)

	var response peachPaymentResponse
	if err := g.doJSON(ctx, http.MethodGet, url, "", nil, &response); err != nil {
		return adapter.PaymentStatusResult{}, fmt.Errorf("checkout status: %w", err)
	}

	return response.toStatusResult(), nil
}

// PaymentDetails implements adapter.PaymentGateway.
func (g *PeachGateway) PaymentDetails(ctx context.Context, gatewayPaymentID string) (adapter.PaymentStatusResult, error) {
	accessToken, err := g.authenticate(ctx)
	if err != nil {
		return adapter.PaymentStatusResult{}, err
	}

	url := fmt.Sprintf("%s/v1/payments/%s", g.cfg.CheckoutEndpoint, gatewayPaymentID)

	var response peachPaymentResponse
	if err := g.doJSON(ctx, http.MethodGet, url, accessToken, nil, &response); err != nil {
		return adapter.PaymentStatusResult{}, fmt.Errorf("payment details: %w", err)
	}

	return response.toStatusResult(), nil
}

// ChargeRecurring implements adapter.PaymentGateway. A declined charge is a
// normal response carried in the result code; only transport and protocol
// failures return an error.
func (g *PeachGateway) ChargeRecurring(ctx context.Context, req adapter.RecurringChargeRequest) (adapter.ChargeResult, error) {
	accessToken, err := g.authenticate(ctx)
	if err != nil {
		return adapter.ChargeResult{}, err
	}

	requestData := map[string]interface{}{
		"entityId":              g.cfg.EntityID,
		"amount":                req.Amount.StringFixed(2),
		"currency":              req.Currency,
		"paymentType":           "DB",
		"merchantTransactionId": req.MerchantTxnID,
		"nonce":                 uuid.New().String(),
		"registrationId":        req.RegistrationID,
		"customer": map[string]string{
			"merchantCustomerId": req.CustomerID,
		},
		"notificationUrl": g.cfg.NotificationURL,
		"customParameters": map[string]string{
			"paymentType": "recurring",
		},
	}

	var response peachPaymentResponse
	if err := g.doJSON(ctx, http.MethodPost, g.cfg.CheckoutEndpoint+"/v2/payments", accessToken, requestData, &response); err != nil {
		return adapter.ChargeResult{}, fmt.Errorf("recurring charge: %w", err)
	}

	g.log.Debug().
		Str("merchant_txn_id", req.MerchantTxnID).
		Str("result_code", response.Result.Code).
		Msg("Processed recurring charge")

	return adapter.ChargeResult{
		GatewayPaymentID:  response.ID,
		ResultCode:        response.Result.Code,
		ResultDescription: response.Result.Description,
	}, nil
}

// RefundPayment implements adapter.PaymentGateway.
func (g *PeachGateway) RefundPayment(ctx context.Context, gatewayPaymentID string, amount decimal.Decimal, currency string) (adapter.ChargeResult, error) {
	accessToken, err := g.authenticate(ctx)
	if err != nil {
		return adapter.ChargeResult{}, err
	}

	requestData := map[string]interface{}{
		"entityId":    g.cfg.EntityID,
		"amount":      amount.StringFixed(2),
		"currency":    currency,
		"paymentType": "RF",
	}

	url := fmt.Sprintf("%s/v2/payments/%s", g.cfg.CheckoutEndpoint, gatewayPaymentID)

	var response peachPaymentResponse
	if err := g.doJSON(ctx, http.MethodPost, url, accessToken, requestData, &response); err != nil {
		return adapter.ChargeResult{}, fmt.Errorf("refund payment: %w", err)
	}

	return adapter.ChargeResult{
		GatewayPaymentID:  response.ID,
		ResultCode:        response.Result.Code,
		ResultDescription: response.Result.Description,
	}, nil
}

// doJSON sends one JSON request and decodes the JSON response into out. Any
// transport failure, non-2xx status or undecodable body is reported as
// domain.ErrGateway; a timeout is a failure, never an assumed success.
func (g *PeachGateway) doJSON(ctx context.Context, method, url, bearer string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request data: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if g.cfg.OriginDomain != "" {
		req.Header.Set("Origin", g.cfg.OriginDomain)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %v: %w", err, domain.ErrGateway)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %v: %w", err, domain.ErrGateway)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d, body: %s: %w", resp.StatusCode, truncateBody(respBody), domain.ErrGateway)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to unmarshal response: %v, body: %s: %w", err, truncateBody(respBody), domain.ErrGateway)
		}
	}
	return nil
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
