package payment

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi"

	gatewaytypes "github.com/frahmantamala/payment-orchestration/internal/core/datamodel/gateway"
	"github.com/frahmantamala/payment-orchestration/internal/transport"
	"github.com/frahmantamala/payment-orchestration/pkg/metrics"
)

// WebhookHandler terminates inbound gateway notifications. Gateways post
// either JSON or form-encoded bodies with the signature in the X-Signature
// header; the payload is decoded generically and the owning adapter does
// verification and field mapping.
type WebhookHandler struct {
	*transport.BaseHandler
	paymentService ServiceAPI
	logger         *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, paymentService ServiceAPI, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:    baseHandler,
		paymentService: paymentService,
		logger:         logger,
	}
}

type WebhookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HandleGatewayWebhook handles POST /api/v1/webhooks/{gateway}
func (h *WebhookHandler) HandleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	gatewayName := chi.URLParam(r, "gateway")
	signature := r.Header.Get("X-Signature")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.logger.Error("webhook body read failed", "gateway", gatewayName, "error", err)
		h.WriteErrorResponse(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	payload, err := decodeWebhookBody(r.Header.Get("Content-Type"), body)
	if err != nil {
		h.logger.Warn("webhook body could not be decoded",
			"gateway", gatewayName, "error", err)
		metrics.WebhooksReceived.WithLabelValues(gatewayName, "malformed").Inc()
		h.WriteErrorResponse(w, http.StatusBadRequest, "malformed payload")
		return
	}

	if !h.paymentService.HandleWebhook(r.Context(), gatewayName, payload, signature) {
		metrics.WebhooksReceived.WithLabelValues(gatewayName, "rejected").Inc()
		h.WriteErrorResponse(w, http.StatusBadRequest, "webhook rejected")
		return
	}

	metrics.WebhooksReceived.WithLabelValues(gatewayName, "accepted").Inc()
	h.WriteJSON(w, http.StatusOK, WebhookResponse{Status: "ok"})
}

// WriteErrorResponse writes a webhook-shaped error body.
func (h *WebhookHandler) WriteErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	h.WriteJSON(w, statusCode, WebhookResponse{Status: "error", Message: message})
}

// decodeWebhookBody turns a JSON or form-encoded body into the generic
// payload map the adapters consume.
func decodeWebhookBody(contentType string, body []byte) (gatewaytypes.WebhookPayload, error) {
	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
		payload := make(gatewaytypes.WebhookPayload, len(values))
		for key := range values {
			payload[key] = values.Get(key)
		}
		return payload, nil
	}

	var payload gatewaytypes.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
