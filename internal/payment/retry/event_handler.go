package retry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/payment-orchestration/internal/core/datamodel/transaction"
	"github.com/frahmantamala/payment-orchestration/internal/core/events"
)

// EventHandler wires payment failures into the retry pipeline: every
// payment.failed event is offered to the scheduler, which applies the
// attempt ceiling before enqueueing.
type EventHandler struct {
	scheduler *Scheduler
	logger    *slog.Logger
}

func NewEventHandler(scheduler *Scheduler, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		scheduler: scheduler,
		logger:    logger,
	}
}

func (h *EventHandler) HandlePaymentFailed(ctx context.Context, event events.Event) error {
	failedEvent, ok := event.(*events.PaymentFailedEvent)
	if !ok {
		h.logger.Error("invalid event type for payment failed handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentFailedEvent, got %T", event)
	}

	h.logger.Info("handling payment failed event",
		"transaction_id", failedEvent.TransactionID,
		"gateway", failedEvent.Gateway,
		"retry_count", failedEvent.RetryCount,
		"event_id", failedEvent.EventID())

	t := &transaction.PaymentTransaction{
		TransactionID: failedEvent.TransactionID,
		Status:        transaction.StatusFailed,
		RetryCount:    failedEvent.RetryCount,
	}
	if !h.scheduler.ScheduleRetry(ctx, t) {
		h.logger.Info("payment not scheduled for retry",
			"transaction_id", failedEvent.TransactionID,
			"retry_count", failedEvent.RetryCount)
	}
	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypePaymentFailed, h.HandlePaymentFailed)

	h.logger.Info("retry event handlers registered",
		"handlers", []string{events.EventTypePaymentFailed})
}
