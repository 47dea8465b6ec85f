package transaction

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
	StatusExpired    Status = "expired"
)

// transitions is the one-directional state machine: a status may only move
// to the statuses listed for it. Terminal states have no entries.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {StatusCancelled, StatusRefunded},
	StatusFailed:     {StatusExpired},
}

func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

type Gateway string

const (
	GatewayInicis   Gateway = "inicis"
	GatewayToss     Gateway = "toss"
	GatewayKakaoPay Gateway = "kakaopay"
)

// PaymentTransaction is one row per payment attempt. Rows are never deleted;
// terminal states are retained as the audit ledger.
type PaymentTransaction struct {
	ID                   int64           `gorm:"primaryKey"`
	TransactionID        string          `gorm:"column:transaction_id;not null;uniqueIndex"`
	GatewayTransactionID *string         `gorm:"column:gateway_transaction_id;index"`
	OrderID              string          `gorm:"column:order_id;not null;index"`
	Amount               int64           `gorm:"column:amount;not null"`
	Currency             string          `gorm:"column:currency;not null;default:KRW"`
	Gateway              Gateway         `gorm:"column:gateway;not null"`
	PaymentMethod        string          `gorm:"column:payment_method;not null"`
	Status               Status          `gorm:"column:status;not null;default:pending;index"`
	RetryCount           int             `gorm:"column:retry_count;not null;default:0"`
	LastRetryAt          *time.Time      `gorm:"column:last_retry_at"`
	ApprovalNumber       *string         `gorm:"column:approval_number"`
	CardNumberMasked     *string         `gorm:"column:card_number_masked"`
	CardType             *string         `gorm:"column:card_type"`
	FailureReason        *string         `gorm:"column:failure_reason"`
	CancelReason         *string         `gorm:"column:cancel_reason"`
	CancelledAt          *time.Time      `gorm:"column:cancelled_at"`
	RefundAmount         int64           `gorm:"column:refund_amount;not null;default:0"`
	RefundReason         *string         `gorm:"column:refund_reason"`
	RefundedAt           *time.Time      `gorm:"column:refunded_at"`
	GatewayRequest       json.RawMessage `gorm:"column:gateway_request;type:jsonb"`
	GatewayResponse      json.RawMessage `gorm:"column:gateway_response;type:jsonb"`
	WebhookPayload       json.RawMessage `gorm:"column:webhook_payload;type:jsonb"`
	WebhookReceivedAt    *time.Time      `gorm:"column:webhook_received_at"`
	CreatedAt            time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt            time.Time       `gorm:"column:updated_at;default:now()"`
}

func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}

// NewTransactionID generates the caller-side transaction identifier. The
// order id keeps it human-traceable; the uuid fragment keeps it unique.
func NewTransactionID(orderID string) string {
	return fmt.Sprintf("TXN-%s-%s", orderID, uuid.NewString()[:8])
}

// RemainingRefundable is how much of the original amount is still open for
// refund. Never negative as long as the refund invariant holds.
func (t *PaymentTransaction) RemainingRefundable() int64 {
	return t.Amount - t.RefundAmount
}

func (t *PaymentTransaction) IsFullyRefunded() bool {
	return t.RefundAmount >= t.Amount
}

// IsCancellable reports whether a cancel may be attempted at all. Failed and
// terminal transactions are not cancellable.
func (t *PaymentTransaction) IsCancellable() bool {
	switch t.Status {
	case StatusPending, StatusProcessing, StatusCompleted:
		return true
	}
	return false
}

// IsRefundable reports whether any refund may still be issued. Partial
// refunds keep the status at completed until the amount is exhausted.
func (t *PaymentTransaction) IsRefundable() bool {
	return t.Status == StatusCompleted && t.RemainingRefundable() > 0
}

// RetryBucket is one row of the retry outcome aggregation: how many
// transactions holding a given attempt number ended in a given status.
type RetryBucket struct {
	RetryCount int    `gorm:"column:retry_count" json:"retry_count"`
	Status     Status `gorm:"column:status" json:"status"`
	Count      int64  `gorm:"column:count" json:"count"`
}
