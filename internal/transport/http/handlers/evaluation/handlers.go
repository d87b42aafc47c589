package evaluationhandler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
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

type Handler struct {
	Evals *evaluation.Service
	Dir   *directory.Service
	Perms middleware.PermissionStore
	Audit *audit.Service
	Idem  *middleware.IdempotencyStore
}

func NewHandler(evals *evaluation.Service, dir *directory.Service, perms middleware.PermissionStore, auditSvc *audit.Service, idem *middleware.IdempotencyStore) *Handler {
	return &Handler{Evals: evals, Dir: dir, Perms: perms, Audit: auditSvc, Idem: idem}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/evaluations", func(r chi.Router) {
		read := middleware.RequirePermission(auth.PermEvaluationsRead, h.Perms)
		write := middleware.RequirePermission(auth.PermEvaluationsWrite, h.Perms)
		submit := middleware.RequirePermission(auth.PermEvaluationsSubmit, h.Perms)

		r.With(read).Get("/", h.handleList)
		r.With(read).Get("/{evaluationID}", h.handleGet)
		r.With(read).Get("/{evaluationID}/validate", h.handleValidate)
		r.With(read).Get("/{evaluationID}/warnings", h.handleWarnings)
		r.With(write).Post("/{evaluationID}/open", h.handleOpen)
		r.With(write).Post("/{evaluationID}/release", h.handleRelease)
		r.With(write).Put("/{evaluationID}/items/{itemID}/grade", h.handleSetGrade)
		r.With(write).Put("/{evaluationID}/items/{itemID}/hold", h.handleSetHold)
		r.With(write).Put("/{evaluationID}/items/{itemID}/comment", h.handleEditComment)
		r.With(write).Put("/{evaluationID}/overall-comment", h.handleOverallComment)
		r.With(write).Put("/{evaluationID}/overall-grade", h.handleOverallGrade)
		r.With(write).Put("/{evaluationID}/final-decision", h.handleFinalDecision)
		r.With(write).Post("/{evaluationID}/draft", h.handleDraftSave)
		r.With(submit).Post("/{evaluationID}/submit", h.handleSubmit)
		r.With(submit).Post("/{evaluationID}/resubmit", h.handleResubmit)
	})
}

// canView implements the role visibility matrix: staff see their own
// evaluations, managers and regional supervisors see evaluatees from
// departments they manage, admins see everything.
func (h *Handler) canView(r *http.Request, user auth.UserContext, eval evaluation.Evaluation) bool {
	if user.Role == auth.RoleAdmin {
		return true
	}
	if eval.EvaluateeID == user.UserID {
		// Evaluatees never see what later stages wrote about them.
		return eval.Stage == evaluation.StageSelf
	}
	if user.Role != auth.RoleManager && user.Role != auth.RoleMG {
		return false
	}
	ceiling := evaluation.StageManager
	if user.Role == auth.RoleMG {
		ceiling = evaluation.StageMG
	}
	if evaluation.StageIndex(eval.Stage) > evaluation.StageIndex(ceiling) {
		return false
	}
	actor, err := h.Dir.GetUser(r.Context(), user.UserID)
	if err != nil {
		slog.Warn("visibility actor lookup failed", "userId", user.UserID, "err", err)
		return false
	}
	evaluatee, err := h.Dir.GetUserOrPlaceholder(r.Context(), eval.EvaluateeID)
	if err != nil {
		return false
	}
	return directory.Manages(actor, evaluatee.Department)
}

// canEdit narrows canView to the stage each role is responsible for.
func (h *Handler) canEdit(r *http.Request, user auth.UserContext, eval evaluation.Evaluation) bool {
	if !h.canView(r, user, eval) {
		return false
	}
	switch user.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleStaff:
		return eval.Stage == evaluation.StageSelf && eval.EvaluateeID == user.UserID
	case auth.RoleManager:
		return eval.Stage == evaluation.StageManager ||
			(eval.Stage == evaluation.StageSelf && eval.EvaluateeID == user.UserID)
	case auth.RoleMG:
		return eval.Stage == evaluation.StageMG ||
			(eval.Stage == evaluation.StageSelf && eval.EvaluateeID == user.UserID)
	}
	return false
}

type itemView struct {
	evaluation.EvaluationItem
	State evaluation.ItemState `json:"state"`
}

type evaluationView struct {
	evaluation.Evaluation
	ItemDetails []itemView                       `json:"itemDetails"`
	TotalScore  float64                          `json:"totalScore"`
	Completed   int                              `json:"completed"`
	References  []evaluation.ReferenceEvaluation `json:"references,omitempty"`
	Evaluatee   string                           `json:"evaluateeName"`
}

// buildView joins item definitions with their states and withholds grade
// criteria on self and manager stages for items flagged hideCriteriaFromSelf.
func (h *Handler) buildView(r *http.Request, eval evaluation.Evaluation, withReferences bool) evaluationView {
	view := evaluationView{
		Evaluation: eval,
		TotalScore: eval.DisplayScore(),
		Completed:  eval.CompletionCount(),
	}
	hideCriteria := eval.Stage == evaluation.StageSelf || eval.Stage == evaluation.StageManager
	for i, def := range eval.Defs {
		if hideCriteria && def.HideCriteriaFromSelf {
			def.GradeCriteria = nil
		}
		view.ItemDetails = append(view.ItemDetails, itemView{EvaluationItem: def, State: eval.Items[i]})
	}

	evaluatee, err := h.Dir.GetUserOrPlaceholder(r.Context(), eval.EvaluateeID)
	if err == nil {
		view.Evaluatee = evaluatee.DisplayName
	}
	if withReferences {
		view.References = h.Evals.LoadReferences(r.Context(), eval.EvaluateeID, eval.PeriodID, eval.Stage)
	}
	return view
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	filter := evaluation.Filter{
		EvaluateeID: r.URL.Query().Get("evaluateeId"),
		PeriodID:    r.URL.Query().Get("periodId"),
		Stage:       r.URL.Query().Get("stage"),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Statuses = []string{status}
	}
	if user.Role == auth.RoleStaff {
		filter.EvaluateeID = user.UserID
	}

	evals, err := h.Evals.ListEvaluations(r.Context(), filter)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "list_failed", "failed to list evaluations", middleware.GetRequestID(r.Context()))
		return
	}

	visible := make([]evaluation.Evaluation, 0, len(evals))
	for _, eval := range evals {
		if h.canView(r, user, eval) {
			visible = append(visible, eval)
		}
	}
	api.Success(w, visible, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	eval, err := h.Evals.Load(r.Context(), chi.URLParam(r, "evaluationID"))
	if errors.Is(err, evaluation.ErrNotFound) {
		api.Fail(w, http.StatusNotFound, "not_found", "evaluation not found", middleware.GetRequestID(r.Context()))
		return
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "load_failed", "failed to load evaluation", middleware.GetRequestID(r.Context()))
		return
	}
	if !h.canView(r, user, *eval) {
		api.Fail(w, http.StatusForbidden, "forbidden", "not allowed", middleware.GetRequestID(r.Context()))
		return
	}

	api.Success(w, h.buildView(r, *eval, true), middleware.GetRequestID(r.Context()))
}

// checkout opens (or re-uses) the user's editing controller for the
// evaluation in the URL. Opening a different evaluation abandons the
// previous controller's pending edits.
func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) (*evaluation.Controller, auth.UserContext, bool) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return nil, auth.UserContext{}, false
	}

	evaluationID := chi.URLParam(r, "evaluationID")
	ctrl, err := h.Evals.Open(r.Context(), user.UserID, evaluationID)
	if errors.Is(err, evaluation.ErrNotFound) {
		api.Fail(w, http.StatusNotFound, "not_found", "evaluation not found", middleware.GetRequestID(r.Context()))
		return nil, user, false
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "load_failed", "failed to open evaluation", middleware.GetRequestID(r.Context()))
		return nil, user, false
	}

	if !h.canEdit(r, user, ctrl.Evaluation()) {
		h.Evals.Release(user.UserID)
		api.Fail(w, http.StatusForbidden, "forbidden", "not allowed", middleware.GetRequestID(r.Context()))
		return nil, user, false
	}
	return ctrl, user, true
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := h.checkout(w, r)
	if !ok {
		return
	}
	eval := ctrl.Evaluation()
	api.Success(w, h.buildView(r, eval, true), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	h.Evals.Release(user.UserID)
	api.Success(w, map[string]string{"status": "released"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSetGrade(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := h.checkout(w, r)
	if !ok {
		return
	}

	var payload struct {
		Grade string `json:"grade"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	err := ctrl.SetGrade(r.Context(), chi.URLParam(r, "itemID"), payload.Grade)
	if h.failItemMutation(w, r, err) {
		return
	}
	api.Success(w, h.buildView(r, ctrl.Evaluation(), false), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSetHold(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := h.checkout(w, r)
	if !ok {
		return
	}

	var payload struct {
		Hold bool `json:"hold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	err := ctrl.SetHold(r.Context(), chi.URLParam(r, "itemID"), payload.Hold)
	if h.failItemMutation(w, r, err) {
		return
	}
	api.Success(w, h.buildView(r, ctrl.Evaluation(), false), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleEditComment(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := h.checkout(w, r)
	if !ok {
		return
	}

	var payload struct {
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	if err := ctrl.EditComment(chi.URLParam(r, "itemID"), payload.Comment); err != nil {
		api.Fail(w, http.StatusNotFound, "not_found", "item not found", middleware.GetRequestID(r.Context()))
		return
	}
	// The write lands after the debounce window; the caller gets the local state.
	api.Success(w, map[string]string{"status": "scheduled"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleOverallComment(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := h.checkout(w, r)
	if !ok {
		return
	}

	var payload struct {
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	if err := ctrl.EditOverallComment(payload.Comment); err != nil {
		api.Fail(w, http.StatusConflict, "wrong_stage", err.Error(), middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": "scheduled"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleOverallGrade(w http.ResponseWriter, r *http.Request) {
	h.handleFinalField(w, r, func(ctrl *evaluation.Controller, grade string) error {
		return ctrl.SetOverallGrade(r.Context(), grade)
	})
}

func (h *Handler) handleFinalDecision(w http.ResponseWriter, r *http.Request) {
	h.handleFinalField(w, r, func(ctrl *evaluation.Controller, grade string) error {
		return ctrl.SetFinalDecision(r.Context(), grade)
	})
}

func (h *Handler) handleFinalField(w http.ResponseWriter, r *http.Request, set func(*evaluation.Controller, string) error) {
	ctrl, _, ok := h.checkout(w, r)
	if !ok {
		return
	}

	var payload struct {
		Grade string `json:"grade"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	if err := set(ctrl, payload.Grade); err != nil {
		if errors.Is(err, evaluation.ErrGradeNotEnabled) {
			api.Fail(w, http.StatusBadRequest, "grade_not_enabled", "grade is not selectable", middleware.GetRequestID(r.Context()))
			return
		}
		api.Fail(w, http.StatusConflict, "wrong_stage", err.Error(), middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, h.buildView(r, ctrl.Evaluation(), false), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	evaluationID := chi.URLParam(r, "evaluationID")
	if ctrl, active := h.Evals.Controller(user.UserID, evaluationID); active {
		eval := ctrl.Evaluation()
		api.Success(w, newValidationView(ctrl.ValidateForSubmit(), eval), middleware.GetRequestID(r.Context()))
		return
	}

	eval, err := h.Evals.Load(r.Context(), evaluationID)
	if err != nil {
		api.Fail(w, http.StatusNotFound, "not_found", "evaluation not found", middleware.GetRequestID(r.Context()))
		return
	}
	if !h.canView(r, user, *eval) {
		api.Fail(w, http.StatusForbidden, "forbidden", "not allowed", middleware.GetRequestID(r.Context()))
		return
	}

	var result evaluation.ValidationResult
	for i, state := range eval.Items {
		ref := evaluation.ItemRef{ItemID: state.ItemID, Name: eval.Defs[i].Name}
		switch evaluation.Classify(state) {
		case evaluation.ItemUntouched:
			result.Untouched = append(result.Untouched, ref)
		case evaluation.ItemCommentOnly:
			result.CommentOnly = append(result.CommentOnly, ref)
		case evaluation.ItemHeld:
			result.HoldCount++
		}
	}
	api.Success(w, newValidationView(result, *eval), middleware.GetRequestID(r.Context()))
}

// validationView extends the classification with a jump target: the first
// item, in template order, with neither grade nor comment.
type validationView struct {
	evaluation.ValidationResult
	FirstIncomplete *evaluation.ItemRef `json:"firstIncomplete,omitempty"`
}

func newValidationView(result evaluation.ValidationResult, eval evaluation.Evaluation) validationView {
	view := validationView{ValidationResult: result}
	if idx := eval.FirstIncomplete(); idx >= 0 && idx < len(eval.Defs) {
		view.FirstIncomplete = &evaluation.ItemRef{ItemID: eval.Items[idx].ItemID, Name: eval.Defs[idx].Name}
	}
	return view
}

func (h *Handler) handleWarnings(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	warnings := map[string]string{}
	if ctrl, active := h.Evals.Controller(user.UserID, chi.URLParam(r, "evaluationID")); active {
		warnings = ctrl.Warnings()
	}
	api.Success(w, warnings, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDraftSave(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := h.checkout(w, r)
	if !ok {
		return
	}
	result := ctrl.DraftSave(r.Context())
	api.Success(w, result, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	h.handleCommit(w, r, false)
}

func (h *Handler) handleResubmit(w http.ResponseWriter, r *http.Request) {
	h.handleCommit(w, r, true)
}

func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request, resubmit bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	ctrl, user, ok := h.checkout(w, r)
	if !ok {
		return
	}

	var payload struct {
		Confirmed bool `json:"confirmed"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
			return
		}
	}

	evaluationID := chi.URLParam(r, "evaluationID")
	action := "evaluation.submit"
	endpoint := "evaluations.submit:" + evaluationID
	if resubmit {
		action = "evaluation.resubmit"
		endpoint = "evaluations.resubmit:" + evaluationID
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if h.Idem == nil {
		idemKey = ""
	}
	requestHash := middleware.RequestHash(body)
	if idemKey != "" {
		stored, replay, err := h.Idem.Check(r.Context(), user.UserID, endpoint, idemKey, requestHash)
		if errors.Is(err, middleware.ErrIdempotencyConflict) {
			api.Fail(w, http.StatusConflict, "idempotency_conflict", "idempotency key already used with a different payload", middleware.GetRequestID(r.Context()))
			return
		}
		if err != nil {
			slog.Warn("idempotency check failed", "err", err)
		}
		if replay {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(stored)
			return
		}
	}

	before := ctrl.Evaluation()
	if resubmit {
		err = ctrl.Resubmit(r.Context(), user.UserID, payload.Confirmed)
	} else {
		err = ctrl.Submit(r.Context(), user.UserID, payload.Confirmed)
	}

	var verr *evaluation.ValidationError
	var cerr *evaluation.ConfirmationError
	var perr *evaluation.PersistenceError
	switch {
	case errors.As(err, &verr):
		api.FailWithDetails(w, http.StatusUnprocessableEntity, "untouched_items", "some items have neither grade nor comment",
			map[string]any{"untouched": verr.Untouched}, middleware.GetRequestID(r.Context()))
		return
	case errors.As(err, &cerr):
		api.FailWithDetails(w, http.StatusConflict, "confirmation_required", "confirm comment-only and held items before submitting",
			map[string]any{"commentOnly": cerr.CommentOnly, "holdCount": cerr.HoldCount}, middleware.GetRequestID(r.Context()))
		return
	case errors.As(err, &perr):
		api.Fail(w, http.StatusInternalServerError, "save_failed", "failed to persist item "+perr.ItemID, middleware.GetRequestID(r.Context()))
		return
	case err != nil:
		api.Fail(w, http.StatusConflict, "invalid_transition", err.Error(), middleware.GetRequestID(r.Context()))
		return
	}

	after := ctrl.Evaluation()
	if h.Audit != nil {
		if err := h.Audit.Record(r.Context(), user.UserID, action, "evaluation", evaluationID,
			middleware.GetRequestID(r.Context()), shared.ClientIP(r), before, after); err != nil {
			slog.Warn("audit "+action+" failed", "err", err)
		}
	}

	// A successful submit clears the current-evaluation checkout.
	h.Evals.Release(user.UserID)

	envelope := api.Envelope{Success: true, Data: h.buildView(r, after, false), RequestID: middleware.GetRequestID(r.Context())}
	if idemKey != "" {
		if raw, err := json.Marshal(envelope); err == nil {
			if err := h.Idem.Save(r.Context(), user.UserID, endpoint, idemKey, requestHash, raw); err != nil {
				slog.Warn("idempotency save failed", "err", err)
			}
		}
	}
	api.WriteJSON(w, http.StatusOK, envelope)
}

// failItemMutation maps controller errors on item writes to API responses.
func (h *Handler) failItemMutation(w http.ResponseWriter, r *http.Request, err error) bool {
	if err == nil {
		return false
	}
	var perr *evaluation.PersistenceError
	switch {
	case errors.Is(err, evaluation.ErrGradeNotEnabled):
		api.Fail(w, http.StatusBadRequest, "grade_not_enabled", "grade is not selectable for this item", middleware.GetRequestID(r.Context()))
	case errors.Is(err, evaluation.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", "item not found", middleware.GetRequestID(r.Context()))
	case errors.As(err, &perr):
		api.Fail(w, http.StatusInternalServerError, "save_failed", "failed to persist item "+perr.ItemID, middleware.GetRequestID(r.Context()))
	default:
		api.Fail(w, http.StatusBadRequest, "invalid_request", err.Error(), middleware.GetRequestID(r.Context()))
	}
	return true
}
