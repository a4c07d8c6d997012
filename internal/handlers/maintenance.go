package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/requestctx"
	"github.com/hanko-field/checkout/internal/services"
)

// MaintenanceHandlers serves scheduler-triggered jobs under /internal.
type MaintenanceHandlers struct {
	maintenance services.MaintenanceService
}

// NewMaintenanceHandlers constructs maintenance handlers.
func NewMaintenanceHandlers(maintenance services.MaintenanceService) *MaintenanceHandlers {
	return &MaintenanceHandlers{maintenance: maintenance}
}

// Routes registers the internal maintenance endpoints.
func (h *MaintenanceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/maintenance:sweep", h.sweep)
}

type maintenanceReportPayload struct {
	DraftsPurged      int    `json:"draftsPurged"`
	IdempotencyPurged int    `json:"idempotencyPurged"`
	SessionsClosed    int    `json:"sessionsClosed"`
	StartedAt         string `json:"startedAt"`
	DurationMS        int64  `json:"durationMs"`
}

func (h *MaintenanceHandlers) sweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.maintenance == nil {
		httpx.WriteError(ctx, w, httpx.NewError("maintenance_unavailable", "maintenance service unavailable", http.StatusServiceUnavailable))
		return
	}

	report, err := h.maintenance.Sweep(ctx)
	payload := maintenanceReportPayload{
		DraftsPurged:      report.DraftsPurged,
		IdempotencyPurged: report.IdempotencyPurged,
		SessionsClosed:    report.SessionsClosed,
		StartedAt:         formatTime(report.StartedAt),
		DurationMS:        report.Duration.Milliseconds(),
	}
	if err != nil {
		// Partial progress is still reported so the scheduler log shows what ran.
		requestctx.Logger(ctx).Error("maintenance sweep failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("maintenance_failed", "maintenance sweep incomplete", http.StatusInternalServerError).
			WithDetails(map[string]any{"report": payload}))
		return
	}
	writeJSONResponse(w, http.StatusOK, payload)
}
