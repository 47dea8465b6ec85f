package payment

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	gatewaytypes "github.com/frahmantamala/payment-orchestration/internal/core/datamodel/gateway"
	"github.com/frahmantamala/payment-orchestration/internal/gateway"
	"github.com/frahmantamala/payment-orchestration/internal/order"
	"github.com/frahmantamala/payment-orchestration/internal/transport"
)

type Handler struct {
	transport.BaseHandler
	PaymentService ServiceAPI
	Orders         order.Repository
	Registry       *gateway.Registry
	Logger         *slog.Logger
}

func NewHandler(paymentService ServiceAPI, orders order.Repository, registry *gateway.Registry, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:    transport.BaseHandler{Logger: logger},
		PaymentService: paymentService,
		Orders:         orders,
		Registry:       registry,
		Logger:         logger,
	}
}

// ProcessPayment handles POST /api/v1/payments
func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req ProcessPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("ProcessPayment: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	if err := req.Validate(); err != nil {
		h.Logger.Error("ProcessPayment: validation error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	ord, err := h.Orders.GetByID(req.OrderID)
	if err != nil {
		h.Logger.Error("ProcessPayment: order not found", "order_id", req.OrderID, "error", err)
		h.HandleError(w, errors.NewNotFoundError("order not found", errors.ErrCodeValidationFailed))
		return
	}

	gatewayName := req.Gateway
	if gatewayName == "" {
		gw, err := h.Registry.Recommend(req.Amount, req.PaymentMethod)
		if err != nil {
			h.Logger.Warn("ProcessPayment: no gateway for method",
				"payment_method", req.PaymentMethod, "error", err)
			h.HandleError(w, errors.NewValidationError("no gateway supports the requested payment method", errors.ErrCodeGatewayUnavailable))
			return
		}
		gatewayName = gw.Name()
	}

	resp := h.PaymentService.ProcessPayment(r.Context(), ord, gatewayName, req.PaymentMethod, ProcessOptions{
		Amount:      req.Amount,
		Currency:    req.Currency,
		ProductName: req.ProductName,
		BuyerName:   req.BuyerName,
		BuyerEmail:  req.BuyerEmail,
		BuyerPhone:  req.BuyerPhone,
	})

	h.WriteJSON(w, statusForResponse(resp), resp)
}

// GetPayment handles GET /api/v1/payments/{transactionID}: returns the
// stored record after reconciling it against the gateway.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionID")
	if transactionID == "" {
		h.HandleError(w, errors.NewValidationError("transaction id is required", errors.ErrCodeValidationFailed))
		return
	}

	resp := h.PaymentService.GetPaymentStatus(r.Context(), transactionID)
	h.WriteJSON(w, statusForResponse(resp), resp)
}

// CancelPayment handles POST /api/v1/payments/{transactionID}/cancel
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionID")

	var req CancelPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("CancelPayment: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	resp := h.PaymentService.CancelPayment(r.Context(), transactionID, req.Reason)
	h.WriteJSON(w, statusForResponse(resp), resp)
}

// RefundPayment handles POST /api/v1/payments/{transactionID}/refund
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionID")

	var req RefundPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("RefundPayment: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	resp := h.PaymentService.RefundPayment(r.Context(), transactionID, req.Amount, req.Reason)

	status := http.StatusOK
	switch resp.ErrorCode {
	case gatewaytypes.ErrCodeTransactionMissing:
		status = http.StatusNotFound
	case gatewaytypes.ErrCodeRefundError:
		status = http.StatusConflict
	}
	h.WriteJSON(w, status, resp)
}

// RetryPayment handles POST /api/v1/payments/{transactionID}/retry. This is
// the operator override: it only requires the transaction to be failed, not
// under the automatic attempt ceiling.
func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionID")
	if transactionID == "" {
		h.HandleError(w, errors.NewValidationError("transaction id is required", errors.ErrCodeValidationFailed))
		return
	}

	h.Logger.Info("RetryPayment: manual retry requested", "transaction_id", transactionID)
	resp := h.PaymentService.RetryPayment(r.Context(), transactionID)
	h.WriteJSON(w, statusForResponse(resp), resp)
}

// ListOrderPayments handles GET /api/v1/orders/{orderID}/payments: the
// stored attempt history for one order, newest first.
func (h *Handler) ListOrderPayments(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		h.HandleError(w, errors.NewValidationError("order id is required", errors.ErrCodeValidationFailed))
		return
	}

	attempts, err := h.PaymentService.ListPaymentsForOrder(r.Context(), orderID)
	if err != nil {
		h.Logger.Error("ListOrderPayments: store query failed", "order_id", orderID, "error", err)
		h.HandleError(w, errors.NewInternalError("payments could not be listed", err))
		return
	}

	out := make([]*TransactionResponse, 0, len(attempts))
	for _, t := range attempts {
		out = append(out, NewTransactionResponse(t))
	}
	h.WriteJSON(w, http.StatusOK, out)
}

// GetPaymentMethods handles GET /api/v1/payments/methods?amount=N
func (h *Handler) GetPaymentMethods(w http.ResponseWriter, r *http.Request) {
	amount := int64(0)
	if raw := r.URL.Query().Get("amount"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			h.HandleError(w, errors.NewValidationError("amount must be a non-negative integer", errors.ErrCodeInvalidAmount))
			return
		}
		amount = parsed
	}

	methods := h.Registry.AllSupportedMethods()
	names := make([]string, 0, len(methods))
	for method := range methods {
		names = append(names, method)
	}
	sort.Strings(names)

	resp := MethodsResponse{Amount: amount, Methods: make([]MethodOption, 0, len(methods))}
	for _, method := range names {
		info := methods[method]
		option := MethodOption{
			Method:   method,
			Label:    info.Label,
			Gateways: info.Gateways,
		}
		if recommended, err := h.Registry.Recommend(amount, method); err == nil {
			option.Recommended = recommended.Name()
		}
		resp.Methods = append(resp.Methods, option)
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

// statusForResponse maps the canonical response onto an HTTP status.
func statusForResponse(resp *gatewaytypes.PaymentResponse) int {
	if resp.Success || resp.ErrorCode == "" {
		return http.StatusOK
	}
	switch resp.ErrorCode {
	case gatewaytypes.ErrCodeTransactionMissing:
		return http.StatusNotFound
	case gatewaytypes.ErrCodeInvalidOrderState, gatewaytypes.ErrCodeCancelError, gatewaytypes.ErrCodeRetryError:
		return http.StatusConflict
	case gatewaytypes.ErrCodeInquiryError:
		return http.StatusBadGateway
	default:
		// Gateway-declined payments are successful API calls.
		return http.StatusOK
	}
}
