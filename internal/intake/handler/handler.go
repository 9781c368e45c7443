package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"vigil/internal/event"
	"vigil/internal/intake"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/httputil"
	"vigil/pkg/platform/middleware/metadata"
)

// Service defines the interface for event submission.
type Service interface {
	Submit(ctx context.Context, req intake.SubmitRequest) (event.AuditEvent, error)
}

// Handler handles the intake endpoints.
type Handler struct {
	logger *slog.Logger
	intake Service
}

// New creates a new intake Handler.
func New(intakeSvc Service, logger *slog.Logger) *Handler {
	return &Handler{
		logger: logger,
		intake: intakeSvc,
	}
}

// Register registers the intake routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(chimw.Recoverer)
		r.Use(chimw.RequestID)
		r.Use(chimw.Timeout(15 * time.Second))
		r.Use(metadata.ClientMetadata)
		r.Post("/events", h.handleSubmit)
	})
}

// handleSubmit accepts one audit event. 202 means the event is durably
// queued, not that it has been processed.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req intake.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid submission body",
			"client_ip", metadata.GetClientIP(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	e, err := h.intake.Submit(ctx, req)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			h.logger.WarnContext(ctx, "submission rejected",
				"client_ip", metadata.GetClientIP(ctx),
				"source", req.Source,
				"error", err.Error(),
			)
			httputil.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "submission failed",
			"source", req.Source,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, intake.SubmitResponse{EventID: e.ID.String()})
}
