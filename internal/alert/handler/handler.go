package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"vigil/internal/alert"
	"vigil/internal/event"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/httputil"
)

// Service defines the interface for alert queries.
type Service interface {
	List(ctx context.Context, q alert.Query) ([]*event.Alert, error)
}

// Handler handles the alert query endpoints.
type Handler struct {
	logger *slog.Logger
	alerts Service
}

// New creates a new alerts Handler.
func New(alerts Service, logger *slog.Logger) *Handler {
	return &Handler{
		logger: logger,
		alerts: alerts,
	}
}

// Register registers the alert routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(chimw.Recoverer)
		r.Use(chimw.RequestID)
		r.Use(chimw.Timeout(15 * time.Second))
		r.Get("/alerts", h.handleList)
	})
}

// ListResponse is the alert listing wire format, newest first.
type ListResponse struct {
	Alerts []*event.Alert `json:"alerts"`
	Count  int            `json:"count"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	q, err := parseQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	alerts, err := h.alerts.List(ctx, q)
	if err != nil {
		h.logger.ErrorContext(ctx, "alert listing failed",
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	if alerts == nil {
		alerts = []*event.Alert{}
	}

	httputil.WriteJSON(w, http.StatusOK, ListResponse{Alerts: alerts, Count: len(alerts)})
}

func parseQuery(r *http.Request) (alert.Query, error) {
	q := alert.Query{Source: r.URL.Query().Get("source")}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return alert.Query{}, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer")
		}
		q.Limit = limit
	}

	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return alert.Query{}, dErrors.New(dErrors.CodeInvalidInput, "from must be RFC 3339")
		}
		q.From = from
	}

	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return alert.Query{}, dErrors.New(dErrors.CodeInvalidInput, "to must be RFC 3339")
		}
		q.To = to
	}

	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return alert.Query{}, dErrors.New(dErrors.CodeInvalidInput, "to must not precede from")
	}

	return q, nil
}
