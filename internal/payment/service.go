package payment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	gatewaytypes "github.com/frahmantamala/payment-orchestration/internal/core/datamodel/gateway"
	"github.com/frahmantamala/payment-orchestration/internal/core/datamodel/transaction"
	"github.com/frahmantamala/payment-orchestration/internal/core/events"
	"github.com/frahmantamala/payment-orchestration/internal/gateway"
	"github.com/frahmantamala/payment-orchestration/internal/order"
	"github.com/frahmantamala/payment-orchestration/pkg/metrics"
)

// RepositoryAPI is the transaction store contract. Implementations must
// guarantee single-row serialization for the ForUpdate variants when called
// inside Transact.
type RepositoryAPI interface {
	Create(t *transaction.PaymentTransaction) error
	GetByTransactionID(transactionID string) (*transaction.PaymentTransaction, error)
	GetByTransactionIDForUpdate(transactionID string) (*transaction.PaymentTransaction, error)
	GetByGatewayTransactionID(gatewayTransactionID string) (*transaction.PaymentTransaction, error)
	GetByOrderID(orderID string) ([]*transaction.PaymentTransaction, error)
	Update(t *transaction.PaymentTransaction) error
	IncrementRetryCount(id int64, at time.Time) error
	GetRetryable(maxAttempts int, cutoff time.Time, limit int) ([]*transaction.PaymentTransaction, error)
	ExpireExhausted(maxAttempts int, reason string) (int64, error)
	CountFailedBelow(maxAttempts int) (int64, error)
	CountByStatus(status transaction.Status) (int64, error)
	RetryOutcomes() ([]transaction.RetryBucket, error)
	Transact(fn func(RepositoryAPI) error) error
}

// ServiceAPI is what handlers and the retry scheduler consume.
type ServiceAPI interface {
	ProcessPayment(ctx context.Context, ord order.Order, gatewayName, method string, opts ProcessOptions) *gatewaytypes.PaymentResponse
	GetPaymentStatus(ctx context.Context, transactionID string) *gatewaytypes.PaymentResponse
	CancelPayment(ctx context.Context, transactionID, reason string) *gatewaytypes.PaymentResponse
	RefundPayment(ctx context.Context, transactionID string, amount int64, reason string) *gatewaytypes.RefundResponse
	HandleWebhook(ctx context.Context, gatewayName string, payload gatewaytypes.WebhookPayload, signature string) bool
	RetryPayment(ctx context.Context, transactionID string) *gatewaytypes.PaymentResponse
	ListPaymentsForOrder(ctx context.Context, orderID string) ([]*transaction.PaymentTransaction, error)
}

// Sentinels distinguishing a gateway decline and a lost guard re-check
// from storage failures inside the cancel/refund Transact closures.
var (
	errGatewayDeclined    = errors.New("gateway declined the operation")
	errConcurrentMutation = errors.New("transaction mutated concurrently")
)

// ProcessOptions carries the commercial and buyer detail for one payment
// attempt.
type ProcessOptions struct {
	Amount      int64
	Currency    string
	ProductName string
	BuyerName   string
	BuyerEmail  string
	BuyerPhone  string
}

// Service sequences gateway calls with local persistence: it owns every
// mutation of the transaction store, directly or via the retry scheduler
// calling back into it.
type Service struct {
	repo      RepositoryAPI
	registry  *gateway.Registry
	orders    order.Repository
	eventBus  *events.EventBus
	logger    *slog.Logger
	returnURL string
	cancelURL string
	now       func() time.Time
}

func NewService(repo RepositoryAPI, registry *gateway.Registry, orders order.Repository, eventBus *events.EventBus, logger *slog.Logger, returnURL, cancelURL string) *Service {
	return &Service{
		repo:      repo,
		registry:  registry,
		orders:    orders,
		eventBus:  eventBus,
		logger:    logger,
		returnURL: returnURL,
		cancelURL: cancelURL,
		now:       time.Now,
	}
}

// Registry exposes the gateway selector for method discovery.
func (s *Service) Registry() *gateway.Registry {
	return s.registry
}

// ProcessPayment creates a pending transaction, delegates to the adapter
// and persists the canonical outcome. The create + adapter call + order
// update is one logical unit: any internal failure rolls the persisted
// side effects back and yields a SYSTEM_ERROR response.
func (s *Service) ProcessPayment(ctx context.Context, ord order.Order, gatewayName, method string, opts ProcessOptions) *gatewaytypes.PaymentResponse {
	return s.processAttempt(ctx, ord, gatewayName, method, opts, 0)
}

func (s *Service) processAttempt(ctx context.Context, ord order.Order, gatewayName, method string, opts ProcessOptions, attempt int) (resp *gatewaytypes.PaymentResponse) {
	txID := transaction.NewTransactionID(ord.ID())

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during payment processing",
				"transaction_id", txID,
				"order_id", ord.ID(),
				"panic", r)
			resp = gatewaytypes.Failed(txID, gatewaytypes.ErrCodeSystemError, "payment processing failed")
		}
	}()

	if !ord.CanBePaid() {
		s.logger.Warn("payment rejected, order not eligible", "order_id", ord.ID())
		return gatewaytypes.Failed(txID, gatewaytypes.ErrCodeInvalidOrderState, "order is not eligible for payment")
	}

	gw, ok := s.registry.Get(gatewayName)
	if !ok || !gw.ValidateConfig() {
		s.logger.Error("payment requested for unknown or inactive gateway",
			"gateway", gatewayName, "order_id", ord.ID())
		return gatewaytypes.Failed(txID, gatewaytypes.ErrCodeSystemError, "payment gateway is not available")
	}

	req := &gatewaytypes.PaymentRequest{
		TransactionID: txID,
		OrderID:       ord.ID(),
		Amount:        opts.Amount,
		Currency:      opts.Currency,
		PaymentMethod: method,
		ProductName:   opts.ProductName,
		BuyerName:     opts.BuyerName,
		BuyerEmail:    opts.BuyerEmail,
		BuyerPhone:    opts.BuyerPhone,
		ReturnURL:     s.returnURL,
		CancelURL:     s.cancelURL,
	}
	if err := req.Validate(); err != nil {
		return gatewaytypes.Failed(txID, gatewaytypes.ErrCodeSystemError, err.Error())
	}

	var t *transaction.PaymentTransaction
	var gwResp *gatewaytypes.PaymentResponse

	err := s.repo.Transact(func(r RepositoryAPI) error {
		rawReq, _ := json.Marshal(req)
		t = &transaction.PaymentTransaction{
			TransactionID:  txID,
			OrderID:        ord.ID(),
			Amount:         opts.Amount,
			Currency:       opts.Currency,
			Gateway:        transaction.Gateway(gatewayName),
			PaymentMethod:  method,
			Status:         transaction.StatusPending,
			RetryCount:     attempt,
			GatewayRequest: rawReq,
		}
		if err := r.Create(t); err != nil {
			return err
		}

		gwResp = gw.ProcessPayment(ctx, req)
		s.applyOutcome(t, gwResp)

		if err := r.Update(t); err != nil {
			return err
		}
		return ord.UpdatePaymentStatus(orderPaymentStatus(gwResp))
	})
	if err != nil {
		s.logger.Error("payment processing failed, rolled back",
			"transaction_id", txID,
			"order_id", ord.ID(),
			"error", err)
		return gatewaytypes.Failed(txID, gatewaytypes.ErrCodeSystemError, "payment processing failed")
	}

	metrics.PaymentsProcessed.WithLabelValues(gatewayName, string(gwResp.Status)).Inc()
	s.logger.Info("payment processed",
		"transaction_id", txID,
		"order_id", ord.ID(),
		"gateway", gatewayName,
		"status", gwResp.Status,
		"amount", opts.Amount)

	s.publishOutcome(ctx, t, gwResp)
	return gwResp
}

// GetPaymentStatus re-queries the owning adapter and reconciles the stored
// transaction from the authoritative gateway answer.
func (s *Service) GetPaymentStatus(ctx context.Context, transactionID string) *gatewaytypes.PaymentResponse {
	t, err := s.repo.GetByTransactionID(transactionID)
	if err != nil {
		return gatewaytypes.Failed(transactionID, gatewaytypes.ErrCodeTransactionMissing, "payment transaction not found")
	}

	gw, ok := s.registry.Get(string(t.Gateway))
	if !ok {
		return gatewaytypes.Failed(transactionID, gatewaytypes.ErrCodeInquiryError, "owning gateway is not configured")
	}

	inquiry := gw.GetPaymentStatus(ctx, transactionID)
	if inquiry.ErrorCode != "" {
		// Inquiry failed; the stored record stays authoritative.
		return inquiry
	}

	if err := s.reconcileStored(ctx, transactionID, inquiry, nil); err != nil {
		s.logger.Error("status reconciliation failed",
			"transaction_id", transactionID, "error", err)
	}
	return inquiry
}

// CancelPayment is allowed only for pending, processing or completed
// transactions.
func (s *Service) CancelPayment(ctx context.Context, transactionID, reason string) *gatewaytypes.PaymentResponse {
	t, err := s.repo.GetByTransactionID(transactionID)
	if err != nil {
		return gatewaytypes.Failed(transactionID, gatewaytypes.ErrCodeTransactionMissing, "payment transaction not found")
	}
	if !t.IsCancellable() {
		return gatewaytypes.Failed(transactionID, gatewaytypes.ErrCodeCancelError, "transaction is not cancellable in its current status")
	}

	gw, ok := s.registry.Get(string(t.Gateway))
	if !ok {
		return gatewaytypes.Failed(transactionID, gatewaytypes.ErrCodeCancelError, "owning gateway is not configured")
	}

	// The cancellability re-check happens under the row lock, before the
	// gateway is asked to move money.
	var gwResp *gatewaytypes.PaymentResponse
	err = s.repo.Transact(func(r RepositoryAPI) error {
		locked, err := r.GetByTransactionIDForUpdate(transactionID)
		if err != nil {
			return err
		}
		if !transaction.CanTransition(locked.Status, transaction.StatusCancelled) {
			return errConcurrentMutation
		}
		gwResp = gw.CancelPayment(ctx, transactionID, reason)
		if !gwResp.Success {
			return errGatewayDeclined
		}
		now := s.now()
		locked.Status = transaction.StatusCancelled
		locked.CancelReason = &reason
		locked.CancelledAt = &now
		return r.Update(locked)
	})
	switch {
	case errors.Is(err, errGatewayDeclined):
		return gwResp
	case errors.Is(err, errConcurrentMutation):
		return gatewaytypes.Failed(transactionID, gatewaytypes.ErrCodeCancelError, "transaction was modified concurrently, cancel not performed")
	case err != nil:
		s.logger.Error("cancel persistence failed",
			"transaction_id", transactionID, "error", err)
		return gatewaytypes.Failed(transactionID, gatewaytypes.ErrCodeCancelError, "cancel could not be recorded")
	}

	s.logger.Info("payment cancelled", "transaction_id", transactionID, "reason", reason)
	s.eventBus.Publish(ctx, events.NewPaymentCancelledEvent(transactionID, t.OrderID, reason))
	return gwResp
}

// RefundPayment issues a partial or full refund. The refund amount may
// never exceed what is still refundable; full exhaustion flips the
// transaction to refunded.
func (s *Service) RefundPayment(ctx context.Context, transactionID string, amount int64, reason string) *gatewaytypes.RefundResponse {
	t, err := s.repo.GetByTransactionID(transactionID)
	if err != nil {
		return &gatewaytypes.RefundResponse{
			TransactionID: transactionID,
			ErrorCode:     gatewaytypes.ErrCodeTransactionMissing,
			Message:       "payment transaction not found",
		}
	}

	if t.Status != transaction.StatusCompleted {
		return &gatewaytypes.RefundResponse{
			TransactionID: transactionID,
			ErrorCode:     gatewaytypes.ErrCodeRefundError,
			Message:       "transaction is not refundable in its current status",
		}
	}
	if amount <= 0 || amount > t.RemainingRefundable() {
		return &gatewaytypes.RefundResponse{
			TransactionID: transactionID,
			ErrorCode:     gatewaytypes.ErrCodeRefundError,
			Message:       "refund amount exceeds refundable amount",
		}
	}

	gw, ok := s.registry.Get(string(t.Gateway))
	if !ok {
		return &gatewaytypes.RefundResponse{
			TransactionID: transactionID,
			ErrorCode:     gatewaytypes.ErrCodeRefundError,
			Message:       "owning gateway is not configured",
		}
	}

	// The refund amount is reserved under the row lock before the gateway
	// is called; a racing refund that consumed the budget stops us here.
	var fullyRefunded bool
	var gwResp *gatewaytypes.RefundResponse
	err = s.repo.Transact(func(r RepositoryAPI) error {
		locked, err := r.GetByTransactionIDForUpdate(transactionID)
		if err != nil {
			return err
		}
		if locked.Status != transaction.StatusCompleted || amount > locked.RemainingRefundable() {
			return errConcurrentMutation
		}
		gatewayTxID := ""
		if locked.GatewayTransactionID != nil {
			gatewayTxID = *locked.GatewayTransactionID
		}
		gwResp = gw.RefundPayment(ctx, &gatewaytypes.RefundRequest{
			TransactionID:        transactionID,
			GatewayTransactionID: gatewayTxID,
			Amount:               amount,
			Reason:               reason,
		})
		if !gwResp.Success {
			return errGatewayDeclined
		}
		now := s.now()
		locked.RefundAmount += amount
		locked.RefundReason = &reason
		locked.RefundedAt = &now
		if locked.IsFullyRefunded() {
			locked.Status = transaction.StatusRefunded
			fullyRefunded = true
		}
		return r.Update(locked)
	})
	switch {
	case errors.Is(err, errGatewayDeclined):
		return gwResp
	case errors.Is(err, errConcurrentMutation):
		return &gatewaytypes.RefundResponse{
			TransactionID: transactionID,
			ErrorCode:     gatewaytypes.ErrCodeRefundError,
			Message:       "refundable amount changed concurrently, refund not performed",
		}
	case err != nil:
		s.logger.Error("refund persistence failed",
			"transaction_id", transactionID, "error", err)
		return &gatewaytypes.RefundResponse{
			TransactionID: transactionID,
			ErrorCode:     gatewaytypes.ErrCodeRefundError,
			Message:       "refund could not be recorded",
		}
	}

	metrics.RefundsIssued.WithLabelValues(string(t.Gateway)).Inc()
	s.logger.Info("payment refunded",
		"transaction_id", transactionID,
		"refund_amount", amount,
		"fully_refunded", fullyRefunded)
	s.eventBus.Publish(ctx, events.NewPaymentRefundedEvent(transactionID, t.OrderID, amount, fullyRefunded))
	return gwResp
}

// HandleWebhook verifies, parses and reconciles an inbound gateway
// notification. Unmatched webhooks are accepted and logged so the sender
// does not retry-storm a transaction this system never created.
// Re-delivery of the same payload converges to the same state.
func (s *Service) HandleWebhook(ctx context.Context, gatewayName string, payload gatewaytypes.WebhookPayload, signature string) bool {
	gw, ok := s.registry.Get(gatewayName)
	if !ok {
		s.logger.Warn("webhook for unknown gateway", "gateway", gatewayName)
		return false
	}

	if !gw.VerifyWebhook(payload, signature) {
		s.logger.Warn("webhook signature verification failed", "gateway", gatewayName)
		return false
	}

	parsed, err := gw.ParseWebhookData(payload)
	if err != nil {
		s.logger.Warn("webhook payload could not be parsed",
			"gateway", gatewayName, "error", err)
		return false
	}

	t, err := s.lookupForWebhook(parsed)
	if err != nil {
		s.logger.Warn("orphaned webhook accepted, no matching transaction",
			"gateway", gatewayName,
			"transaction_id", parsed.TransactionID,
			"gateway_transaction_id", parsed.GatewayTransactionID)
		return true
	}

	rawPayload, _ := json.Marshal(payload)
	if err := s.reconcileStored(ctx, t.TransactionID, parsed, rawPayload); err != nil {
		s.logger.Error("webhook reconciliation failed",
			"transaction_id", t.TransactionID, "error", err)
		return false
	}

	s.logger.Info("webhook reconciled",
		"gateway", gatewayName,
		"transaction_id", t.TransactionID,
		"status", parsed.Status)
	return true
}

// RetryPayment re-attempts a failed payment against the same order. The
// failed transaction keeps its audit record; the new attempt is a fresh
// transaction carrying the incremented attempt number.
func (s *Service) RetryPayment(ctx context.Context, transactionID string) *gatewaytypes.PaymentResponse {
	t, err := s.repo.GetByTransactionID(transactionID)
	if err != nil {
		return gatewaytypes.Failed(transactionID, gatewaytypes.ErrCodeTransactionMissing, "payment transaction not found")
	}
	if t.Status != transaction.StatusFailed {
		return gatewaytypes.Failed(transactionID, gatewaytypes.ErrCodeRetryError, "only failed transactions can be retried")
	}

	ord, err := s.orders.GetByID(t.OrderID)
	if err != nil {
		s.logger.Error("retry aborted, order lookup failed",
			"transaction_id", transactionID, "order_id", t.OrderID, "error", err)
		return gatewaytypes.Failed(transactionID, gatewaytypes.ErrCodeRetryError, "order could not be resolved")
	}

	if err := s.repo.IncrementRetryCount(t.ID, s.now()); err != nil {
		s.logger.Error("retry count update failed",
			"transaction_id", transactionID, "error", err)
		return gatewaytypes.Failed(transactionID, gatewaytypes.ErrCodeRetryError, "retry bookkeeping failed")
	}

	opts := ProcessOptions{
		Amount:   t.Amount,
		Currency: t.Currency,
	}
	// Buyer and product detail live in the recorded original request.
	var origReq gatewaytypes.PaymentRequest
	if len(t.GatewayRequest) > 0 && json.Unmarshal(t.GatewayRequest, &origReq) == nil {
		opts.ProductName = origReq.ProductName
		opts.BuyerName = origReq.BuyerName
		opts.BuyerEmail = origReq.BuyerEmail
		opts.BuyerPhone = origReq.BuyerPhone
	}

	s.logger.Info("retrying payment",
		"transaction_id", transactionID,
		"order_id", t.OrderID,
		"attempt", t.RetryCount+1)
	return s.processAttempt(ctx, ord, string(t.Gateway), t.PaymentMethod, opts, t.RetryCount+1)
}

// ListPaymentsForOrder returns every attempt recorded against an order,
// newest first.
func (s *Service) ListPaymentsForOrder(ctx context.Context, orderID string) ([]*transaction.PaymentTransaction, error) {
	return s.repo.GetByOrderID(orderID)
}

// applyOutcome copies the adapter's canonical outcome onto the transaction,
// honoring the state machine and the set-at-most-once rule for the gateway
// transaction id.
func (s *Service) applyOutcome(t *transaction.PaymentTransaction, resp *gatewaytypes.PaymentResponse) {
	if transaction.CanTransition(t.Status, resp.Status) {
		t.Status = resp.Status
	}
	if resp.GatewayTransactionID != "" && t.GatewayTransactionID == nil {
		id := resp.GatewayTransactionID
		t.GatewayTransactionID = &id
	}
	if resp.ApprovalNumber != "" {
		approval := resp.ApprovalNumber
		t.ApprovalNumber = &approval
	}
	if resp.Card != nil {
		if resp.Card.MaskedNumber != "" {
			masked := resp.Card.MaskedNumber
			t.CardNumberMasked = &masked
		}
		if resp.Card.CardType != "" {
			cardType := resp.Card.CardType
			t.CardType = &cardType
		}
	}
	if resp.Status == transaction.StatusFailed && resp.Message != "" {
		msg := resp.Message
		t.FailureReason = &msg
	}
	// A cancel arriving via webhook or inquiry gets the same bookkeeping
	// as one issued through CancelPayment.
	if t.Status == transaction.StatusCancelled && t.CancelledAt == nil {
		now := s.now()
		t.CancelledAt = &now
		if resp.Message != "" && t.CancelReason == nil {
			reason := resp.Message
			t.CancelReason = &reason
		}
	}
	if raw, err := json.Marshal(resp.RawData); err == nil && resp.RawData != nil {
		t.GatewayResponse = raw
	}
}

// reconcileStored overwrites the stored transaction from an authoritative
// gateway answer under a row lock. Applying the same answer twice is a
// no-op, which is what makes webhook redelivery safe.
func (s *Service) reconcileStored(ctx context.Context, transactionID string, authoritative *gatewaytypes.PaymentResponse, rawWebhook json.RawMessage) error {
	var statusChanged bool
	var reconciled *transaction.PaymentTransaction

	err := s.repo.Transact(func(r RepositoryAPI) error {
		locked, err := r.GetByTransactionIDForUpdate(transactionID)
		if err != nil {
			return err
		}
		before := locked.Status
		s.applyOutcome(locked, authoritative)
		if rawWebhook != nil {
			now := s.now()
			locked.WebhookPayload = rawWebhook
			locked.WebhookReceivedAt = &now
		}
		statusChanged = locked.Status != before
		reconciled = locked
		return r.Update(locked)
	})
	if err != nil {
		return err
	}

	if statusChanged {
		s.propagateOrderStatus(reconciled)
		s.publishOutcome(ctx, reconciled, authoritative)
	}
	return nil
}

// propagateOrderStatus pushes a reconciled terminal outcome back to the
// order domain. Best effort: a missing order is logged, not fatal.
func (s *Service) propagateOrderStatus(t *transaction.PaymentTransaction) {
	var status order.PaymentStatus
	switch t.Status {
	case transaction.StatusCompleted:
		status = order.PaymentStatusPaid
	case transaction.StatusFailed:
		status = order.PaymentStatusFailed
	default:
		return
	}

	ord, err := s.orders.GetByID(t.OrderID)
	if err != nil {
		s.logger.Warn("order not resolvable for status propagation",
			"order_id", t.OrderID, "transaction_id", t.TransactionID, "error", err)
		return
	}
	if err := ord.UpdatePaymentStatus(status); err != nil {
		s.logger.Error("order payment status update failed",
			"order_id", t.OrderID, "status", status, "error", err)
	}
}

func (s *Service) publishOutcome(ctx context.Context, t *transaction.PaymentTransaction, resp *gatewaytypes.PaymentResponse) {
	switch t.Status {
	case transaction.StatusCompleted:
		s.eventBus.Publish(ctx, events.NewPaymentCompletedEvent(
			t.TransactionID, t.OrderID, string(t.Gateway), t.Amount, resp.GatewayTransactionID))
	case transaction.StatusFailed:
		reason := resp.Message
		if t.FailureReason != nil {
			reason = *t.FailureReason
		}
		s.eventBus.Publish(ctx, events.NewPaymentFailedEvent(
			t.TransactionID, t.OrderID, string(t.Gateway), t.Amount, reason, t.RetryCount))
	}
}

func (s *Service) lookupForWebhook(parsed *gatewaytypes.PaymentResponse) (*transaction.PaymentTransaction, error) {
	if parsed.TransactionID != "" {
		if t, err := s.repo.GetByTransactionID(parsed.TransactionID); err == nil {
			return t, nil
		}
	}
	// Some gateways only echo their own transaction id.
	return s.repo.GetByGatewayTransactionID(parsed.GatewayTransactionID)
}

// orderPaymentStatus maps a canonical gateway outcome onto the order
// domain's status: paid only for completed, processing for any other
// success-shaped outcome, failed otherwise.
func orderPaymentStatus(resp *gatewaytypes.PaymentResponse) order.PaymentStatus {
	switch {
	case resp.Status == transaction.StatusCompleted:
		return order.PaymentStatusPaid
	case resp.Success:
		return order.PaymentStatusProcessing
	default:
		return order.PaymentStatusFailed
	}
}
