package gateway

import (
	"errors"

	"github.com/frahmantamala/payment-orchestration/internal/core/datamodel/transaction"
)

// ErrorCode tags a failed canonical response. Adapters never return Go
// errors for business failures; the code travels inside the response.
type ErrorCode string

const (
	ErrCodeAPIError           ErrorCode = "API_ERROR"
	ErrCodeSystemError        ErrorCode = "SYSTEM_ERROR"
	ErrCodeInquiryError       ErrorCode = "INQUIRY_ERROR"
	ErrCodeCancelError        ErrorCode = "CANCEL_ERROR"
	ErrCodeRefundError        ErrorCode = "REFUND_ERROR"
	ErrCodeRetryError         ErrorCode = "RETRY_ERROR"
	ErrCodeTransactionMissing ErrorCode = "TRANSACTION_NOT_FOUND"
	ErrCodeInvalidOrderState  ErrorCode = "INVALID_ORDER_STATE"
)

// PaymentRequest is the canonical request every adapter translates into its
// own wire format.
type PaymentRequest struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"payment_method"`
	ProductName   string `json:"product_name"`
	BuyerName     string `json:"buyer_name"`
	BuyerEmail    string `json:"buyer_email"`
	BuyerPhone    string `json:"buyer_phone"`
	ReturnURL     string `json:"return_url"`
	CancelURL     string `json:"cancel_url"`
}

func (r *PaymentRequest) Validate() error {
	if r.TransactionID == "" {
		return errors.New("transaction_id is required")
	}
	if r.Amount <= 0 {
		return errors.New("amount must be greater than 0")
	}
	if r.Currency == "" {
		return errors.New("currency is required")
	}
	if r.PaymentMethod == "" {
		return errors.New("payment_method is required")
	}
	return nil
}

// CardInfo carries gateway-masked card detail only. Full PANs never enter
// this system.
type CardInfo struct {
	MaskedNumber string `json:"masked_number,omitempty"`
	CardType     string `json:"card_type,omitempty"`
}

// PaymentResponse is the canonical outcome shape shared by every adapter
// operation and by webhook parsing. Status carries one of the four
// gateway-level canonical values (completed, pending, processing, failed);
// cancel success maps to cancelled.
type PaymentResponse struct {
	Success              bool               `json:"success"`
	Status               transaction.Status `json:"status"`
	TransactionID        string             `json:"transaction_id"`
	GatewayTransactionID string             `json:"gateway_transaction_id,omitempty"`
	ApprovalNumber       string             `json:"approval_number,omitempty"`
	Card                 *CardInfo          `json:"card,omitempty"`
	Amount               int64              `json:"amount,omitempty"`
	Message              string             `json:"message,omitempty"`
	ErrorCode            ErrorCode          `json:"error_code,omitempty"`
	RawData              map[string]any     `json:"raw_data,omitempty"`
}

// Failed builds the canonical failure response for an adapter operation.
func Failed(transactionID string, code ErrorCode, message string) *PaymentResponse {
	return &PaymentResponse{
		Status:        transaction.StatusFailed,
		TransactionID: transactionID,
		ErrorCode:     code,
		Message:       message,
	}
}

type RefundRequest struct {
	TransactionID        string `json:"transaction_id"`
	GatewayTransactionID string `json:"gateway_transaction_id"`
	Amount               int64  `json:"amount"`
	Reason               string `json:"reason"`
}

func (r *RefundRequest) Validate() error {
	if r.TransactionID == "" {
		return errors.New("transaction_id is required")
	}
	if r.Amount <= 0 {
		return errors.New("refund amount must be greater than 0")
	}
	return nil
}

type RefundResponse struct {
	Success        bool           `json:"success"`
	TransactionID  string         `json:"transaction_id"`
	RefundedAmount int64          `json:"refunded_amount,omitempty"`
	Message        string         `json:"message,omitempty"`
	ErrorCode      ErrorCode      `json:"error_code,omitempty"`
	RawData        map[string]any `json:"raw_data,omitempty"`
}

// WebhookPayload is the decoded JSON body of an inbound gateway
// notification. Field names inside are gateway-specific; adapters own the
// mapping back to the canonical response.
type WebhookPayload map[string]any

// FeeSchedule is what a gateway charges per transaction; the registry ranks
// gateways by FixedFee + amount*PercentRate.
type FeeSchedule struct {
	FixedFee    int64   `json:"fixed_fee"`
	PercentRate float64 `json:"percent_rate"`
}

func (f FeeSchedule) Cost(amount int64) float64 {
	return float64(f.FixedFee) + float64(amount)*f.PercentRate
}
