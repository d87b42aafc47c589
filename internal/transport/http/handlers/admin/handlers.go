package adminhandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"appraisal/internal/domain/audit"
	"appraisal/internal/domain/auth"
	"appraisal/internal/domain/directory"
	"appraisal/internal/domain/evaluation"
	"appraisal/internal/transport/http/api"
	"appraisal/internal/transport/http/middleware"
	"appraisal/internal/transport/http/shared"
)

var validGrades = []string{"A", "B", "C", "D", "E"}

type Handler struct {
	Evals *evaluation.Service
	Dir   *directory.Service
	Perms middleware.PermissionStore
	Audit *audit.Service
}

func NewHandler(evals *evaluation.Service, dir *directory.Service, perms middleware.PermissionStore, auditSvc *audit.Service) *Handler {
	return &Handler{Evals: evals, Dir: dir, Perms: perms, Audit: auditSvc}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/templates", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermTemplatesRead, h.Perms)).Get("/", h.handleListTemplates)
		r.With(middleware.RequirePermission(auth.PermTemplatesRead, h.Perms)).Get("/{templateID}", h.handleGetTemplate)
		r.With(middleware.RequirePermission(auth.PermTemplatesWrite, h.Perms)).Post("/", h.handleSaveTemplate)
		r.With(middleware.RequirePermission(auth.PermTemplatesWrite, h.Perms)).Put("/{templateID}", h.handleSaveTemplate)
	})
	r.Route("/periods", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermPeriodsRead, h.Perms)).Get("/", h.handleListPeriods)
		r.With(middleware.RequirePermission(auth.PermPeriodsRead, h.Perms)).Get("/{periodID}", h.handleGetPeriod)
		r.With(middleware.RequirePermission(auth.PermPeriodsWrite, h.Perms)).Post("/", h.handleSavePeriod)
		r.With(middleware.RequirePermission(auth.PermPeriodsWrite, h.Perms)).Put("/{periodID}", h.handleSavePeriod)
		r.With(middleware.RequirePermission(auth.PermEvaluationsAssign, h.Perms)).Post("/{periodID}/assign", h.handleAssign)
	})
	r.Route("/users", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermUsersRead, h.Perms)).Get("/", h.handleListUsers)
		r.With(middleware.RequirePermission(auth.PermUsersRead, h.Perms)).Get("/{userID}", h.handleGetUser)
		r.With(middleware.RequirePermission(auth.PermUsersWrite, h.Perms)).Post("/", h.handleCreateUser)
		r.With(middleware.RequirePermission(auth.PermUsersWrite, h.Perms)).Put("/{userID}", h.handleUpdateUser)
		r.With(middleware.RequirePermission(auth.PermUsersWrite, h.Perms)).Delete("/{userID}", h.handleDeleteUser)
		r.With(middleware.RequirePermission(auth.PermUsersWrite, h.Perms)).Put("/{userID}/managed-departments", h.handleSetManagedDepartments)
	})
	r.With(middleware.RequirePermission(auth.PermUsersRead, h.Perms)).Get("/departments", h.handleListDepartments)
}

func (h *Handler) record(r *http.Request, action, entityType, entityID string, before, after any) {
	if h.Audit == nil {
		return
	}
	user, _ := middleware.GetUser(r.Context())
	err := h.Audit.Record(r.Context(), user.UserID, action, entityType, entityID,
		middleware.GetRequestID(r.Context()), shared.ClientIP(r), before, after)
	if err != nil {
		slog.Warn("audit "+action+" failed", "err", err)
	}
}

func (h *Handler) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.Evals.ListTemplates(r.Context())
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "list_failed", "failed to list templates", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, templates, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	template, err := h.Evals.GetTemplate(r.Context(), chi.URLParam(r, "templateID"))
	if errors.Is(err, evaluation.ErrNotFound) {
		api.Fail(w, http.StatusNotFound, "not_found", "template not found", middleware.GetRequestID(r.Context()))
		return
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "load_failed", "failed to load template", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, template, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSaveTemplate(w http.ResponseWriter, r *http.Request) {
	var template evaluation.Template
	if err := json.NewDecoder(r.Body).Decode(&template); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	if id := chi.URLParam(r, "templateID"); id != "" {
		template.ID = id
	}

	v := shared.NewValidator()
	v.Required("name", template.Name, "template name is required")
	if len(template.Items) == 0 {
		v.Add("items", "at least one item is required")
	}
	for i, item := range template.Items {
		field := "items[" + item.ID + "]"
		v.Required(field+".name", item.Name, "item name is required")
		if len(item.EnabledGrades) == 0 {
			v.Add(field+".enabledGrades", "at least one grade must stay enabled")
		}
		for _, grade := range item.EnabledGrades {
			v.Enum(field+".enabledGrades", grade, validGrades, "unknown grade "+grade)
		}
		if item.Weight < 0 {
			v.Add(field+".weight", "weight must not be negative")
		}
		template.Items[i].Position = i
	}
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	id, err := h.Evals.SaveTemplate(r.Context(), template)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "save_failed", "failed to save template", middleware.GetRequestID(r.Context()))
		return
	}
	template.ID = id
	h.record(r, "template.save", "template", id, nil, template)
	api.Created(w, template, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.Evals.ListPeriods(r.Context())
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "list_failed", "failed to list periods", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, periods, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := h.Evals.GetPeriod(r.Context(), chi.URLParam(r, "periodID"))
	if errors.Is(err, evaluation.ErrNotFound) {
		api.Fail(w, http.StatusNotFound, "not_found", "period not found", middleware.GetRequestID(r.Context()))
		return
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "load_failed", "failed to load period", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, period, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSavePeriod(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name       string `json:"name"`
		TemplateID string `json:"templateId"`
		StartDate  string `json:"startDate"`
		EndDate    string `json:"endDate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	v := shared.NewValidator()
	v.Required("name", payload.Name, "period name is required")
	v.Required("templateId", payload.TemplateID, "template is required")
	start, _ := v.Date("startDate", payload.StartDate)
	end, _ := v.Date("endDate", payload.EndDate)
	v.DateOrder("startDate", start, "endDate", end)
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	period := evaluation.Period{
		ID:         chi.URLParam(r, "periodID"),
		Name:       payload.Name,
		TemplateID: payload.TemplateID,
		StartDate:  start,
		EndDate:    end,
	}
	id, err := h.Evals.SavePeriod(r.Context(), period)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "save_failed", "failed to save period", middleware.GetRequestID(r.Context()))
		return
	}
	period.ID = id
	h.record(r, "period.save", "period", id, nil, period)
	api.Created(w, period, middleware.GetRequestID(r.Context()))
}

// handleAssign creates the self-stage-through-final evaluation rows for each
// evaluatee in the period. Re-assigning is a no-op for existing rows.
func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		EvaluateeIDs []string `json:"evaluateeIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	if len(payload.EvaluateeIDs) == 0 {
		api.Fail(w, http.StatusBadRequest, "validation_error", "evaluateeIds must not be empty", middleware.GetRequestID(r.Context()))
		return
	}

	periodID := chi.URLParam(r, "periodID")
	if _, err := h.Evals.GetPeriod(r.Context(), periodID); errors.Is(err, evaluation.ErrNotFound) {
		api.Fail(w, http.StatusNotFound, "not_found", "period not found", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Evals.Assign(r.Context(), periodID, payload.EvaluateeIDs); err != nil {
		api.Fail(w, http.StatusInternalServerError, "assign_failed", "failed to assign evaluations", middleware.GetRequestID(r.Context()))
		return
	}
	h.record(r, "period.assign", "period", periodID, nil, payload)
	api.Success(w, map[string]any{"periodId": periodID, "assigned": len(payload.EvaluateeIDs)}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Dir.ListUsers(r.Context(), r.URL.Query().Get("department"))
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "list_failed", "failed to list users", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, users, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.Dir.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if errors.Is(err, directory.ErrNotFound) {
		api.Fail(w, http.StatusNotFound, "not_found", "user not found", middleware.GetRequestID(r.Context()))
		return
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "load_failed", "failed to load user", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, user, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
		Role        string `json:"role"`
		Department  string `json:"department"`
		Password    string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	v := shared.NewValidator()
	v.Required("email", payload.Email, "email is required")
	v.Required("displayName", payload.DisplayName, "display name is required")
	v.Required("password", payload.Password, "password is required")
	v.Enum("role", payload.Role, []string{auth.RoleStaff, auth.RoleManager, auth.RoleMG, auth.RoleAdmin}, "unknown role")
	v.Required("role", payload.Role, "role is required")
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	hash, err := auth.HashPassword(payload.Password)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "hash_failed", "failed to process password", middleware.GetRequestID(r.Context()))
		return
	}

	id, err := h.Dir.CreateUser(r.Context(), payload.Email, payload.DisplayName, payload.Role, payload.Department, hash)
	if err != nil {
		api.Fail(w, http.StatusConflict, "create_failed", "failed to create user", middleware.GetRequestID(r.Context()))
		return
	}
	h.record(r, "user.create", "user", id, nil, map[string]string{
		"email": payload.Email, "displayName": payload.DisplayName,
		"role": payload.Role, "department": payload.Department,
	})
	api.Created(w, map[string]string{"id": id}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DisplayName string `json:"displayName"`
		Role        string `json:"role"`
		Department  string `json:"department"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	v := shared.NewValidator()
	v.Required("displayName", payload.DisplayName, "display name is required")
	v.Enum("role", payload.Role, []string{auth.RoleStaff, auth.RoleManager, auth.RoleMG, auth.RoleAdmin}, "unknown role")
	v.Required("role", payload.Role, "role is required")
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	userID := chi.URLParam(r, "userID")
	before, err := h.Dir.GetUser(r.Context(), userID)
	if errors.Is(err, directory.ErrNotFound) {
		api.Fail(w, http.StatusNotFound, "not_found", "user not found", middleware.GetRequestID(r.Context()))
		return
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "load_failed", "failed to load user", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Dir.UpdateUser(r.Context(), userID, payload.DisplayName, payload.Role, payload.Department); err != nil {
		api.Fail(w, http.StatusInternalServerError, "save_failed", "failed to update user", middleware.GetRequestID(r.Context()))
		return
	}
	h.record(r, "user.update", "user", userID, before, payload)
	api.Success(w, map[string]string{"id": userID}, middleware.GetRequestID(r.Context()))
}

// handleDeleteUser removes the user record. Their evaluations stay and show
// a placeholder name from then on.
func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	before, err := h.Dir.GetUser(r.Context(), userID)
	if errors.Is(err, directory.ErrNotFound) {
		api.Fail(w, http.StatusNotFound, "not_found", "user not found", middleware.GetRequestID(r.Context()))
		return
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "load_failed", "failed to load user", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Dir.DeleteUser(r.Context(), userID); err != nil {
		api.Fail(w, http.StatusInternalServerError, "delete_failed", "failed to delete user", middleware.GetRequestID(r.Context()))
		return
	}
	h.record(r, "user.delete", "user", userID, before, nil)
	api.Success(w, map[string]string{"id": userID}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSetManagedDepartments(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Departments []string `json:"departments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	userID := chi.URLParam(r, "userID")
	if err := h.Dir.SetManagedDepartments(r.Context(), userID, payload.Departments); err != nil {
		api.Fail(w, http.StatusInternalServerError, "save_failed", "failed to set managed departments", middleware.GetRequestID(r.Context()))
		return
	}
	h.record(r, "user.managed_departments", "user", userID, nil, payload)
	api.Success(w, map[string]any{"id": userID, "departments": payload.Departments}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	departments, err := h.Dir.ListDepartments(r.Context())
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "list_failed", "failed to list departments", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, departments, middleware.GetRequestID(r.Context()))
}
