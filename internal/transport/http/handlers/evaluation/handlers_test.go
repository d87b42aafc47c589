package evaluationhandler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"appraisal/internal/domain/auth"
	"appraisal/internal/domain/directory"
	"appraisal/internal/domain/evaluation"
	"appraisal/internal/transport/http/middleware"
)

type fakeEvalStore struct {
	evals     map[string]evaluation.Evaluation
	scores    map[string]map[string]evaluation.ScoreRecord
	templates map[string]evaluation.Template
	periods   map[string]evaluation.Period
}

func newFakeEvalStore() *fakeEvalStore {
	return &fakeEvalStore{
		evals:     map[string]evaluation.Evaluation{},
		scores:    map[string]map[string]evaluation.ScoreRecord{},
		templates: map[string]evaluation.Template{},
		periods:   map[string]evaluation.Period{},
	}
}

func (s *fakeEvalStore) GetEvaluation(_ context.Context, id string) (evaluation.Evaluation, error) {
	eval, ok := s.evals[id]
	if !ok {
		return evaluation.Evaluation{}, evaluation.ErrNotFound
	}
	return eval, nil
}

func (s *fakeEvalStore) ListEvaluations(_ context.Context, filter evaluation.Filter) ([]evaluation.Evaluation, error) {
	var out []evaluation.Evaluation
	for _, eval := range s.evals {
		if filter.EvaluateeID != "" && eval.EvaluateeID != filter.EvaluateeID {
			continue
		}
		if filter.PeriodID != "" && eval.PeriodID != filter.PeriodID {
			continue
		}
		if filter.Stage != "" && eval.Stage != filter.Stage {
			continue
		}
		out = append(out, eval)
	}
	return out, nil
}

func (s *fakeEvalStore) UpdateEvaluation(_ context.Context, id string, partial evaluation.Partial) error {
	eval := s.evals[id]
	if partial.Status != nil {
		eval.Status = *partial.Status
	}
	if partial.OverallComment != nil {
		eval.OverallComment = *partial.OverallComment
	}
	if partial.OverallGrade != nil {
		eval.OverallGrade = *partial.OverallGrade
	}
	if partial.FinalDecision != nil {
		eval.FinalDecision = *partial.FinalDecision
	}
	if partial.EvaluatorID != nil {
		eval.EvaluatorID = *partial.EvaluatorID
	}
	if partial.SubmittedAt != nil {
		eval.SubmittedAt = partial.SubmittedAt
	}
	s.evals[id] = eval
	return nil
}

func (s *fakeEvalStore) InsertEvaluations(_ context.Context, records []evaluation.Evaluation) error {
	for _, record := range records {
		s.evals[record.ID] = record
	}
	return nil
}

func (s *fakeEvalStore) ReplaceScore(_ context.Context, record evaluation.ScoreRecord) error {
	rows, ok := s.scores[record.EvaluationID]
	if !ok {
		rows = map[string]evaluation.ScoreRecord{}
		s.scores[record.EvaluationID] = rows
	}
	rows[record.ItemID] = record
	return nil
}

func (s *fakeEvalStore) DeleteScore(_ context.Context, evaluationID, itemID string) error {
	delete(s.scores[evaluationID], itemID)
	return nil
}

func (s *fakeEvalStore) ListScores(_ context.Context, evaluationID string) ([]evaluation.ScoreRecord, error) {
	var out []evaluation.ScoreRecord
	for _, record := range s.scores[evaluationID] {
		out = append(out, record)
	}
	return out, nil
}

func (s *fakeEvalStore) TemplateItems(_ context.Context, templateID string) ([]evaluation.EvaluationItem, error) {
	tpl, ok := s.templates[templateID]
	if !ok {
		return nil, evaluation.ErrNotFound
	}
	return tpl.Items, nil
}

func (s *fakeEvalStore) ListTemplates(context.Context) ([]evaluation.Template, error) {
	var out []evaluation.Template
	for _, tpl := range s.templates {
		out = append(out, tpl)
	}
	return out, nil
}

func (s *fakeEvalStore) GetTemplate(_ context.Context, id string) (evaluation.Template, error) {
	tpl, ok := s.templates[id]
	if !ok {
		return evaluation.Template{}, evaluation.ErrNotFound
	}
	return tpl, nil
}

func (s *fakeEvalStore) SaveTemplate(_ context.Context, template evaluation.Template) (string, error) {
	if template.ID == "" {
		template.ID = "tpl-new"
	}
	s.templates[template.ID] = template
	return template.ID, nil
}

func (s *fakeEvalStore) GetPeriod(_ context.Context, id string) (evaluation.Period, error) {
	period, ok := s.periods[id]
	if !ok {
		return evaluation.Period{}, evaluation.ErrNotFound
	}
	return period, nil
}

func (s *fakeEvalStore) ListPeriods(context.Context) ([]evaluation.Period, error) {
	var out []evaluation.Period
	for _, period := range s.periods {
		out = append(out, period)
	}
	return out, nil
}

func (s *fakeEvalStore) SavePeriod(_ context.Context, period evaluation.Period) (string, error) {
	if period.ID == "" {
		period.ID = "per-new"
	}
	s.periods[period.ID] = period
	return period.ID, nil
}

func (s *fakeEvalStore) PriorPeriod(_ context.Context, startBefore time.Time) (evaluation.Period, error) {
	var best evaluation.Period
	found := false
	for _, period := range s.periods {
		if period.StartDate.Before(startBefore) && (!found || period.StartDate.After(best.StartDate)) {
			best = period
			found = true
		}
	}
	if !found {
		return evaluation.Period{}, evaluation.ErrNotFound
	}
	return best, nil
}

type fakeDirStore struct {
	directory.StoreAPI
	users map[string]directory.User
}

func (s *fakeDirStore) GetUser(_ context.Context, id string) (directory.User, error) {
	user, ok := s.users[id]
	if !ok {
		return directory.User{}, directory.ErrNotFound
	}
	return user, nil
}

type allowAllPerms struct{}

func (allowAllPerms) HasPermission(context.Context, string, string) (bool, error) {
	return true, nil
}

func seedStore() *fakeEvalStore {
	store := newFakeEvalStore()
	store.templates["tpl-1"] = evaluation.Template{
		ID:   "tpl-1",
		Name: "Standard",
		Items: []evaluation.EvaluationItem{
			{
				ID: "item-1", Name: "Ownership", Position: 0,
				EnabledGrades:        []string{"A", "B", "C", "D", "E"},
				GradeScores:          map[string]float64{"A": 5, "B": 4, "C": 3, "D": 2, "E": 1},
				GradeCriteria:        map[string]string{"A": "consistently leads"},
				HideCriteriaFromSelf: true,
			},
			{
				ID: "item-2", Name: "Teamwork", Position: 1,
				EnabledGrades: []string{"A", "B", "C"},
				GradeScores:   map[string]float64{"A": 5, "B": 4, "C": 3},
				GradeCriteria: map[string]string{"A": "lifts the whole team"},
			},
		},
	}
	store.periods["per-1"] = evaluation.Period{
		ID: "per-1", Name: "FY25", TemplateID: "tpl-1",
		StartDate: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
	}
	store.evals["eval-1"] = evaluation.Evaluation{
		ID: "eval-1", EvaluateeID: "user-1", PeriodID: "per-1", TemplateID: "tpl-1",
		Stage: evaluation.StageSelf, Status: evaluation.StatusPending,
	}
	return store
}

func testRouter(store *fakeEvalStore, user auth.UserContext) http.Handler {
	dir := directory.NewService(&fakeDirStore{users: map[string]directory.User{
		"user-1": {ID: "user-1", DisplayName: "Aoi Tanaka", Department: "Sales", Role: auth.RoleStaff},
		"mgr-1":  {ID: "mgr-1", DisplayName: "Ren Suzuki", Department: "Sales", Role: auth.RoleManager},
	}})
	evals := evaluation.NewService(store, time.Hour)
	handler := NewHandler(evals, dir, allowAllPerms{}, nil, nil)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithUser(req.Context(), user)))
		})
	})
	handler.RegisterRoutes(r)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var envelope map[string]any
	if rec.Body.Len() > 0 && strings.Contains(rec.Header().Get("Content-Type"), "json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
			t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
		}
	}
	return rec, envelope
}

func TestGetEvaluationHidesCriteriaOnSelfStage(t *testing.T) {
	router := testRouter(seedStore(), auth.UserContext{UserID: "user-1", Role: auth.RoleStaff})

	rec, envelope := doJSON(t, router, http.MethodGet, "/evaluations/eval-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	data := envelope["data"].(map[string]any)
	if data["evaluateeName"] != "Aoi Tanaka" {
		t.Fatalf("expected evaluatee name, got %v", data["evaluateeName"])
	}
	items := data["itemDetails"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 item details, got %d", len(items))
	}
	hidden := items[0].(map[string]any)
	if _, present := hidden["gradeCriteria"]; present {
		t.Fatalf("criteria should be withheld on self stage for flagged item: %v", hidden)
	}
	visible := items[1].(map[string]any)
	if _, present := visible["gradeCriteria"]; !present {
		t.Fatalf("criteria should stay visible for unflagged item: %v", visible)
	}
}

func TestGetEvaluationForbiddenForOtherStaff(t *testing.T) {
	router := testRouter(seedStore(), auth.UserContext{UserID: "stranger", Role: auth.RoleStaff})

	rec, _ := doJSON(t, router, http.MethodGet, "/evaluations/eval-1", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestStaffCannotViewLaterStagesAboutThem(t *testing.T) {
	store := seedStore()
	eval := store.evals["eval-1"]
	eval.Stage = evaluation.StageManager
	store.evals["eval-1"] = eval
	router := testRouter(store, auth.UserContext{UserID: "user-1", Role: auth.RoleStaff})

	rec, _ := doJSON(t, router, http.MethodGet, "/evaluations/eval-1", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for manager-stage view by evaluatee, got %d", rec.Code)
	}
}

func TestManagerSeesSubordinateEvaluation(t *testing.T) {
	store := seedStore()
	eval := store.evals["eval-1"]
	eval.Stage = evaluation.StageManager
	store.evals["eval-1"] = eval
	router := testRouter(store, auth.UserContext{UserID: "mgr-1", Role: auth.RoleManager})

	rec, _ := doJSON(t, router, http.MethodGet, "/evaluations/eval-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSetGradePersistsAndReturnsView(t *testing.T) {
	store := seedStore()
	router := testRouter(store, auth.UserContext{UserID: "user-1", Role: auth.RoleStaff})

	rec, envelope := doJSON(t, router, http.MethodPut, "/evaluations/eval-1/items/item-1/grade", `{"grade":"A"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	row, ok := store.scores["eval-1"]["item-1"]
	if !ok {
		t.Fatal("expected a persisted score row")
	}
	if row.Grade != "A" || row.Score != 5 {
		t.Fatalf("unexpected row %+v", row)
	}
	if store.evals["eval-1"].Status != evaluation.StatusInProgress {
		t.Fatalf("first save should move status to in_progress, got %s", store.evals["eval-1"].Status)
	}

	data := envelope["data"].(map[string]any)
	if data["totalScore"].(float64) != 5 {
		t.Fatalf("expected total 5, got %v", data["totalScore"])
	}
}

func TestSetGradeRejectsDisabledGrade(t *testing.T) {
	router := testRouter(seedStore(), auth.UserContext{UserID: "user-1", Role: auth.RoleStaff})

	rec, envelope := doJSON(t, router, http.MethodPut, "/evaluations/eval-1/items/item-2/grade", `{"grade":"D"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	errObj := envelope["error"].(map[string]any)
	if errObj["code"] != "grade_not_enabled" {
		t.Fatalf("expected grade_not_enabled, got %v", errObj["code"])
	}
}

func TestSubmitBlockedByUntouchedItems(t *testing.T) {
	router := testRouter(seedStore(), auth.UserContext{UserID: "user-1", Role: auth.RoleStaff})

	rec, envelope := doJSON(t, router, http.MethodPost, "/evaluations/eval-1/submit", `{"confirmed":false}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	errObj := envelope["error"].(map[string]any)
	if errObj["code"] != "untouched_items" {
		t.Fatalf("expected untouched_items, got %v", errObj["code"])
	}
	details := errObj["details"].(map[string]any)
	if len(details["untouched"].([]any)) != 2 {
		t.Fatalf("expected 2 untouched refs, got %v", details["untouched"])
	}
}

func TestSubmitConfirmationFlow(t *testing.T) {
	store := seedStore()
	router := testRouter(store, auth.UserContext{UserID: "user-1", Role: auth.RoleStaff})

	if rec, _ := doJSON(t, router, http.MethodPut, "/evaluations/eval-1/items/item-1/grade", `{"grade":"B"}`); rec.Code != http.StatusOK {
		t.Fatalf("grade item-1: %d", rec.Code)
	}
	if rec, _ := doJSON(t, router, http.MethodPut, "/evaluations/eval-1/items/item-2/hold", `{"hold":true}`); rec.Code != http.StatusOK {
		t.Fatalf("hold item-2: %d", rec.Code)
	}

	rec, envelope := doJSON(t, router, http.MethodPost, "/evaluations/eval-1/submit", `{"confirmed":false}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 confirmation, got %d: %s", rec.Code, rec.Body.String())
	}
	errObj := envelope["error"].(map[string]any)
	if errObj["code"] != "confirmation_required" {
		t.Fatalf("expected confirmation_required, got %v", errObj["code"])
	}
	if errObj["details"].(map[string]any)["holdCount"].(float64) != 1 {
		t.Fatalf("expected holdCount 1, got %v", errObj["details"])
	}

	rec, envelope = doJSON(t, router, http.MethodPost, "/evaluations/eval-1/submit", `{"confirmed":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after confirmation, got %d: %s", rec.Code, rec.Body.String())
	}
	data := envelope["data"].(map[string]any)
	if data["status"] != evaluation.StatusSubmitted {
		t.Fatalf("expected submitted status, got %v", data["status"])
	}
	if store.evals["eval-1"].EvaluatorID != "user-1" {
		t.Fatalf("expected evaluator stamp, got %q", store.evals["eval-1"].EvaluatorID)
	}
}

func TestListRestrictsStaffToOwnEvaluations(t *testing.T) {
	store := seedStore()
	store.evals["eval-2"] = evaluation.Evaluation{
		ID: "eval-2", EvaluateeID: "someone-else", PeriodID: "per-1", TemplateID: "tpl-1",
		Stage: evaluation.StageSelf, Status: evaluation.StatusPending,
	}
	router := testRouter(store, auth.UserContext{UserID: "user-1", Role: auth.RoleStaff})

	rec, envelope := doJSON(t, router, http.MethodGet, "/evaluations/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rows := envelope["data"].([]any)
	if len(rows) != 1 {
		t.Fatalf("expected staff to see only their own evaluation, got %d", len(rows))
	}
	if rows[0].(map[string]any)["id"] != "eval-1" {
		t.Fatalf("unexpected row %v", rows[0])
	}
}

func TestValidateEndpointClassifiesItems(t *testing.T) {
	store := seedStore()
	store.scores["eval-1"] = map[string]evaluation.ScoreRecord{
		"item-1": {EvaluationID: "eval-1", ItemID: "item-1", Comment: "notes only"},
	}
	router := testRouter(store, auth.UserContext{UserID: "user-1", Role: auth.RoleStaff})

	rec, envelope := doJSON(t, router, http.MethodGet, "/evaluations/eval-1/validate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := envelope["data"].(map[string]any)
	if len(data["commentOnly"].([]any)) != 1 {
		t.Fatalf("expected 1 comment-only item, got %v", data["commentOnly"])
	}
	if len(data["untouched"].([]any)) != 1 {
		t.Fatalf("expected 1 untouched item, got %v", data["untouched"])
	}
	first := data["firstIncomplete"].(map[string]any)
	if first["itemId"] != "item-2" || first["name"] != "Teamwork" {
		t.Fatalf("expected first incomplete item-2, got %v", first)
	}
}

func TestValidateOmitsJumpTargetWhenAllItemsTouched(t *testing.T) {
	store := seedStore()
	store.scores["eval-1"] = map[string]evaluation.ScoreRecord{
		"item-1": {EvaluationID: "eval-1", ItemID: "item-1", Grade: "A", Score: 5},
		"item-2": {EvaluationID: "eval-1", ItemID: "item-2", Grade: "B", Score: 4},
	}
	router := testRouter(store, auth.UserContext{UserID: "user-1", Role: auth.RoleStaff})

	rec, envelope := doJSON(t, router, http.MethodGet, "/evaluations/eval-1/validate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if _, present := envelope["data"].(map[string]any)["firstIncomplete"]; present {
		t.Fatal("firstIncomplete must be omitted when every item is touched")
	}
}

func TestCommentEditIsScheduledNotImmediate(t *testing.T) {
	store := seedStore()
	router := testRouter(store, auth.UserContext{UserID: "user-1", Role: auth.RoleStaff})

	rec, envelope := doJSON(t, router, http.MethodPut, "/evaluations/eval-1/items/item-1/comment", `{"comment":"thinking"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if envelope["data"].(map[string]any)["status"] != "scheduled" {
		t.Fatalf("expected scheduled marker, got %v", envelope["data"])
	}
	if _, ok := store.scores["eval-1"]["item-1"]; ok {
		t.Fatal("comment should not be persisted before the debounce fires")
	}
}
