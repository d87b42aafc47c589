package audithandler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"appraisal/internal/domain/audit"
	"appraisal/internal/domain/auth"
	"appraisal/internal/transport/http/api"
	"appraisal/internal/transport/http/middleware"
	"appraisal/internal/transport/http/shared"
)

type Handler struct {
	Audit *audit.Service
	Perms middleware.PermissionStore
}

func NewHandler(auditSvc *audit.Service, perms middleware.PermissionStore) *Handler {
	return &Handler{Audit: auditSvc, Perms: perms}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequirePermission(auth.PermAuditRead, h.Perms)).Get("/audit", h.handleList)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := audit.Filter{
		Action:     r.URL.Query().Get("action"),
		EntityType: r.URL.Query().Get("entityType"),
		ActorID:    r.URL.Query().Get("actorId"),
	}
	page := shared.ParsePagination(r, 50, 200)
	includeDetails := r.URL.Query().Get("details") == "true"

	total, err := h.Audit.Count(r.Context(), filter)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "list_failed", "failed to count audit events", middleware.GetRequestID(r.Context()))
		return
	}
	events, err := h.Audit.List(r.Context(), filter, includeDetails, page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "list_failed", "failed to list audit events", middleware.GetRequestID(r.Context()))
		return
	}

	api.Success(w, map[string]any{
		"events": events,
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
	}, middleware.GetRequestID(r.Context()))
}
