package retry

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/payment-orchestration/internal/transport"
)

type Handler struct {
	transport.BaseHandler
	scheduler *Scheduler
	logger    *slog.Logger
}

func NewHandler(scheduler *Scheduler, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.BaseHandler{Logger: logger},
		scheduler:   scheduler,
		logger:      logger,
	}
}

// GetRetryStats handles GET /api/v1/payments/retry-stats
func (h *Handler) GetRetryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.scheduler.CollectStats(r.Context())
	if err != nil {
		h.logger.Error("retry stats collection failed", "error", err)
		h.WriteError(w, http.StatusInternalServerError, "retry stats unavailable")
		return
	}
	h.WriteJSON(w, http.StatusOK, stats)
}
