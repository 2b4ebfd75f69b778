package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"peach-subscription-billing/internal/domain"
	"peach-subscription-billing/internal/domain/ports/adapter"
)

// SignatureMode selects how the signed webhook payload is rebuilt before the
// HMAC check.
type SignatureMode string

const (
	// SignatureModeSortedPairs signs the decoded parameters sorted by key and
	// concatenated as key followed by value with no separator.
	SignatureModeSortedPairs SignatureMode = "sorted_pairs"
	// SignatureModeRawBody signs the request body byte for byte as
	// transmitted, with the signature pair itself stripped.
	SignatureModeRawBody SignatureMode = "raw_body"
)

// CanonicalPayload builds the signed payload for sorted-pairs mode. The
// signature parameter is dropped, the remaining keys sorted lexicographically
// and each pair appended as key then value with nothing in between.
func CanonicalPayload(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}
	return b.String()
}

// ComputeSignature returns the lowercase hex HMAC-SHA256 of payload.
func ComputeSignature(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a sorted-pairs signature in constant time.
func VerifySignature(secret string, params map[string]string, claimed string) bool {
	expected := ComputeSignature(secret, CanonicalPayload(params))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(claimed)))
}

// VerifyRawSignature checks a raw-body signature in constant time.
func VerifyRawSignature(secret string, rawBody []byte, claimed string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(claimed)))
}

// Verifier authenticates and parses Peach form-encoded webhook deliveries.
type Verifier struct {
	secret string
	mode   SignatureMode
	log    *zerolog.Logger
}

// Compile-time check
var _ adapter.WebhookVerifier = (*Verifier)(nil)

// NewVerifier creates a webhook verifier. Unknown modes fall back to
// sorted-pairs, the format Peach documents for form webhooks.
func NewVerifier(secret string, mode SignatureMode, logger *zerolog.Logger) *Verifier {
	if mode != SignatureModeRawBody {
		mode = SignatureModeSortedPairs
	}
	return &Verifier{secret: secret, mode: mode, log: logger}
}

// VerifyAndParse implements adapter.WebhookVerifier. Computed signatures are
// never echoed anywhere a response could carry them; a mismatch only logs the
// mode at debug level.
func (v *Verifier) VerifyAndParse(rawBody []byte) (*adapter.WebhookEvent, error) {
	values, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return nil, fmt.Errorf("malformed webhook body: %v: %w", err, domain.ErrValidation)
	}

	params := make(map[string]string, len(values))
	for k := range values {
		params[k] = values.Get(k)
	}

	claimed := params["signature"]
	if claimed == "" {
		return nil, fmt.Errorf("missing signature parameter: %w", domain.ErrValidation)
	}

	var ok bool
	switch v.mode {
	case SignatureModeRawBody:
		ok = VerifyRawSignature(v.secret, stripSignatureParam(rawBody), claimed)
	default:
		ok = VerifySignature(v.secret, params, claimed)
	}
	if !ok {
		v.log.Debug().Str("mode", string(v.mode)).Msg("Webhook signature mismatch")
		return nil, domain.ErrSignature
	}

	event := &adapter.WebhookEvent{
		ResultCode:        params["result.code"],
		ResultDescription: params["result.description"],
		MerchantTxnID:     params["merchantTransactionId"],
		GatewayPaymentID:  params["id"],
		CheckoutID:        params["checkoutId"],
		PaymentBrand:      params["paymentBrand"],
		RegistrationID:    params["registrationId"],
		SubscriptionID:    subscriptionIDParam(params),
	}
	if event.ResultCode == "" {
		return nil, fmt.Errorf("missing result.code parameter: %w", domain.ErrValidation)
	}
	if event.MerchantTxnID == "" {
		return nil, fmt.Errorf("missing merchantTransactionId parameter: %w", domain.ErrValidation)
	}

	return event, nil
}

// subscriptionIDParam reads the subscription custom parameter under both
// spellings deliveries have been seen to carry, plain and percent-encoded.
func subscriptionIDParam(params map[string]string) string {
	if v := params["customParameters[subscription_id]"]; v != "" {
		return v
	}
	return params["customParameters%5Bsubscription_id%5D"]
}

// stripSignatureParam drops the signature pair from a form body without
// re-encoding the remaining pairs, so raw-body mode signs exactly the bytes
// the gateway signed.
func stripSignatureParam(rawBody []byte) []byte {
	parts := strings.Split(string(rawBody), "&")
	kept := parts[:0]
	for _, p := range parts {
		if p == "signature" || strings.HasPrefix(p, "signature=") {
			continue
		}
		kept = append(kept, p)
	}
	return []byte(strings.Join(kept, "&"))
}
