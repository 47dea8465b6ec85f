package payment

import (
	"github.com/frahmantamala/payment-orchestration/internal/core/common/validation"
	"github.com/frahmantamala/payment-orchestration/internal/core/datamodel/transaction"
)

// ProcessPaymentRequest is the operator/storefront request to start a
// payment. Gateway is optional; when empty the cheapest active gateway for
// the method and amount is selected.
type ProcessPaymentRequest struct {
	OrderID       string `json:"order_id"`
	Gateway       string `json:"gateway,omitempty"`
	PaymentMethod string `json:"payment_method"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency,omitempty"`
	ProductName   string `json:"product_name,omitempty"`
	BuyerName     string `json:"buyer_name,omitempty"`
	BuyerEmail    string `json:"buyer_email,omitempty"`
	BuyerPhone    string `json:"buyer_phone,omitempty"`
}

func (r *ProcessPaymentRequest) Validate() error {
	v := validation.NewValidator()
	v.Field("order_id", r.OrderID).Required()
	v.Field("payment_method", r.PaymentMethod).Required()
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	if appErr := validation.ValidatePaymentAmount(r.Amount); appErr != nil {
		return appErr
	}
	if r.Currency == "" {
		r.Currency = "KRW"
	}
	return nil
}

type CancelPaymentRequest struct {
	Reason string `json:"reason"`
}

func (r *CancelPaymentRequest) Validate() error {
	v := validation.NewValidator()
	v.Field("reason", r.Reason).Required().MaxLength(500)
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type RefundPaymentRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (r *RefundPaymentRequest) Validate() error {
	if appErr := validation.ValidatePaymentAmount(r.Amount); appErr != nil {
		return appErr
	}
	v := validation.NewValidator()
	v.Field("reason", r.Reason).Required().MaxLength(500)
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// TransactionResponse is the stored view of one payment attempt.
type TransactionResponse struct {
	TransactionID        string  `json:"transaction_id"`
	OrderID              string  `json:"order_id"`
	Gateway              string  `json:"gateway"`
	PaymentMethod        string  `json:"payment_method"`
	Amount               int64   `json:"amount"`
	Currency             string  `json:"currency"`
	Status               string  `json:"status"`
	GatewayTransactionID *string `json:"gateway_transaction_id,omitempty"`
	ApprovalNumber       *string `json:"approval_number,omitempty"`
	CardNumberMasked     *string `json:"card_number_masked,omitempty"`
	CardType             *string `json:"card_type,omitempty"`
	FailureReason        *string `json:"failure_reason,omitempty"`
	RetryCount           int     `json:"retry_count"`
	RefundAmount         int64   `json:"refund_amount"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

func NewTransactionResponse(t *transaction.PaymentTransaction) *TransactionResponse {
	return &TransactionResponse{
		TransactionID:        t.TransactionID,
		OrderID:              t.OrderID,
		Gateway:              string(t.Gateway),
		PaymentMethod:        t.PaymentMethod,
		Amount:               t.Amount,
		Currency:             t.Currency,
		Status:               string(t.Status),
		GatewayTransactionID: t.GatewayTransactionID,
		ApprovalNumber:       t.ApprovalNumber,
		CardNumberMasked:     t.CardNumberMasked,
		CardType:             t.CardType,
		FailureReason:        t.FailureReason,
		RetryCount:           t.RetryCount,
		RefundAmount:         t.RefundAmount,
		CreatedAt:            t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:            t.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// MethodsResponse lists payable methods with the cheapest gateway for the
// queried amount.
type MethodsResponse struct {
	Amount  int64          `json:"amount"`
	Methods []MethodOption `json:"methods"`
}

type MethodOption struct {
	Method      string   `json:"method"`
	Label       string   `json:"label"`
	Gateways    []string `json:"gateways"`
	Recommended string   `json:"recommended,omitempty"`
}
