package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentCompleted = "payment.completed"
	EventTypePaymentFailed    = "payment.failed"
	EventTypePaymentCancelled = "payment.cancelled"
	EventTypePaymentRefunded  = "payment.refunded"
)

type PaymentCompletedEvent struct {
	BaseEvent
	TransactionID        string `json:"transaction_id"`
	OrderID              string `json:"order_id"`
	Gateway              string `json:"gateway"`
	Amount               int64  `json:"amount"`
	GatewayTransactionID string `json:"gateway_transaction_id"`
}

func NewPaymentCompletedEvent(transactionID, orderID, gateway string, amount int64, gatewayTransactionID string) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"transaction_id":         transactionID,
				"order_id":               orderID,
				"gateway":                gateway,
				"amount":                 amount,
				"gateway_transaction_id": gatewayTransactionID,
			},
		},
		TransactionID:        transactionID,
		OrderID:              orderID,
		Gateway:              gateway,
		Amount:               amount,
		GatewayTransactionID: gatewayTransactionID,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	Gateway       string `json:"gateway"`
	Amount        int64  `json:"amount"`
	FailureReason string `json:"failure_reason"`
	RetryCount    int    `json:"retry_count"`
}

func NewPaymentFailedEvent(transactionID, orderID, gateway string, amount int64, failureReason string, retryCount int) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"transaction_id": transactionID,
				"order_id":       orderID,
				"gateway":        gateway,
				"amount":         amount,
				"failure_reason": failureReason,
				"retry_count":    retryCount,
			},
		},
		TransactionID: transactionID,
		OrderID:       orderID,
		Gateway:       gateway,
		Amount:        amount,
		FailureReason: failureReason,
		RetryCount:    retryCount,
	}
}

type PaymentCancelledEvent struct {
	BaseEvent
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	CancelReason  string `json:"cancel_reason"`
}

func NewPaymentCancelledEvent(transactionID, orderID, cancelReason string) *PaymentCancelledEvent {
	return &PaymentCancelledEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentCancelled,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"transaction_id": transactionID,
				"order_id":       orderID,
				"cancel_reason":  cancelReason,
			},
		},
		TransactionID: transactionID,
		OrderID:       orderID,
		CancelReason:  cancelReason,
	}
}

type PaymentRefundedEvent struct {
	BaseEvent
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	RefundAmount  int64  `json:"refund_amount"`
	FullyRefunded bool   `json:"fully_refunded"`
}

func NewPaymentRefundedEvent(transactionID, orderID string, refundAmount int64, fullyRefunded bool) *PaymentRefundedEvent {
	return &PaymentRefundedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentRefunded,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"transaction_id": transactionID,
				"order_id":       orderID,
				"refund_amount":  refundAmount,
				"fully_refunded": fullyRefunded,
			},
		},
		TransactionID: transactionID,
		OrderID:       orderID,
		RefundAmount:  refundAmount,
		FullyRefunded: fullyRefunded,
	}
}
