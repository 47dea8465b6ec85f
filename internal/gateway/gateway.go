package gateway

import (
	"context"
	"fmt"
	"strings"

	gatewaytypes "github.com/frahmantamala/payment-orchestration/internal/core/datamodel/gateway"
)

// Gateway is the uniform contract every payment provider adapter implements.
// Business failures are representable as response values; implementations
// must not panic or return Go errors across this boundary for them.
type Gateway interface {
	Name() string

	ProcessPayment(ctx context.Context, req *gatewaytypes.PaymentRequest) *gatewaytypes.PaymentResponse
	GetPaymentStatus(ctx context.Context, transactionID string) *gatewaytypes.PaymentResponse
	CancelPayment(ctx context.Context, transactionID, reason string) *gatewaytypes.PaymentResponse
	RefundPayment(ctx context.Context, req *gatewaytypes.RefundRequest) *gatewaytypes.RefundResponse

	// VerifyWebhook recomputes the provider signature over the payload and
	// compares in constant time. Malformed input yields false, never an error.
	VerifyWebhook(payload gatewaytypes.WebhookPayload, signature string) bool
	ParseWebhookData(payload gatewaytypes.WebhookPayload) (*gatewaytypes.PaymentResponse, error)

	SupportedMethods() map[string]string
	ValidateConfig() bool
	IsTestMode() bool
	Fees() gatewaytypes.FeeSchedule
}

// PayloadString extracts a string field from a webhook payload, tolerating
// the numeric types encoding/json produces for untyped maps.
func PayloadString(payload gatewaytypes.WebhookPayload, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return fmt.Sprintf("%d", int64(s))
		}
		return fmt.Sprintf("%v", s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

// MaskCardNumber keeps the BIN and the last four digits, masking the rest.
func MaskCardNumber(number string) string {
	digits := strings.ReplaceAll(number, "-", "")
	if len(digits) < 10 {
		return strings.Repeat("*", len(digits))
	}
	return digits[:6] + strings.Repeat("*", len(digits)-10) + digits[len(digits)-4:]
}
