package reportshandler

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"appraisal/internal/domain/auth"
	"appraisal/internal/domain/directory"
	"appraisal/internal/domain/evaluation"
	"appraisal/internal/domain/reports"
	"appraisal/internal/transport/http/api"
	"appraisal/internal/transport/http/middleware"
)

type Handler struct {
	Reports *reports.Service
	Dir     *directory.Service
	Perms   middleware.PermissionStore

	// ArchiveDir keeps a copy of every exported PDF; empty disables archiving.
	ArchiveDir string
}

func NewHandler(reportsSvc *reports.Service, dir *directory.Service, perms middleware.PermissionStore, archiveDir string) *Handler {
	return &Handler{Reports: reportsSvc, Dir: dir, Perms: perms, ArchiveDir: archiveDir}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	read := middleware.RequirePermission(auth.PermReportsRead, h.Perms)
	r.With(read).Get("/reports/periods/{periodID}", h.handlePeriodReport)
	r.With(read).Get("/reports/periods/{periodID}/pdf", h.handlePeriodReportPDF)
}

// departmentScope returns the departments the caller may report on. An empty
// slice with ok set means no restriction (admin).
func (h *Handler) departmentScope(r *http.Request) ([]string, bool) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		return nil, false
	}
	if user.Role == auth.RoleAdmin {
		return nil, true
	}
	actor, err := h.Dir.GetUser(r.Context(), user.UserID)
	if err != nil {
		return nil, false
	}
	scope := make([]string, 0, len(actor.ManagedDepartments)+1)
	if actor.Department != "" {
		scope = append(scope, actor.Department)
	}
	scope = append(scope, actor.ManagedDepartments...)
	if len(scope) == 0 {
		return nil, false
	}
	return scope, true
}

func (h *Handler) buildReport(w http.ResponseWriter, r *http.Request) (reports.PeriodReport, bool) {
	scope, ok := h.departmentScope(r)
	if !ok {
		api.Fail(w, http.StatusForbidden, "forbidden", "no reportable departments", middleware.GetRequestID(r.Context()))
		return reports.PeriodReport{}, false
	}

	report, err := h.Reports.BuildPeriodReport(r.Context(), chi.URLParam(r, "periodID"), scope)
	if errors.Is(err, evaluation.ErrNotFound) {
		api.Fail(w, http.StatusNotFound, "not_found", "period not found", middleware.GetRequestID(r.Context()))
		return reports.PeriodReport{}, false
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "report_failed", "failed to build report", middleware.GetRequestID(r.Context()))
		return reports.PeriodReport{}, false
	}
	return report, true
}

func (h *Handler) handlePeriodReport(w http.ResponseWriter, r *http.Request) {
	report, ok := h.buildReport(w, r)
	if !ok {
		return
	}
	api.Success(w, report, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handlePeriodReportPDF(w http.ResponseWriter, r *http.Request) {
	report, ok := h.buildReport(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := reports.RenderPDF(&buf, report); err != nil {
		api.Fail(w, http.StatusInternalServerError, "report_failed", "failed to render report", middleware.GetRequestID(r.Context()))
		return
	}
	h.archive(report.PeriodID, buf.Bytes())

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="period-report-`+report.PeriodID+`.pdf"`)
	_, _ = w.Write(buf.Bytes())
}

// archive keeps a dated copy of the export on disk. Failures are logged and
// never reach the caller.
func (h *Handler) archive(periodID string, pdf []byte) {
	if h.ArchiveDir == "" {
		return
	}
	if err := os.MkdirAll(h.ArchiveDir, 0o755); err != nil {
		slog.Warn("report archive dir", "dir", h.ArchiveDir, "err", err)
		return
	}
	name := "period-" + periodID + "-" + time.Now().UTC().Format("20060102T150405") + ".pdf"
	if err := os.WriteFile(filepath.Join(h.ArchiveDir, name), pdf, 0o644); err != nil {
		slog.Warn("report archive write", "file", name, "err", err)
	}
}
