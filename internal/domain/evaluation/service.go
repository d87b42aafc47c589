package evaluation

import (
	"context"
	"sync"
	"time"
)

// Service loads evaluation aggregates and tracks the active editing
// controller per user. Opening a different evaluation cancels the previous
// controller's pending timers; an abandoned edit is never implicitly saved.
type Service struct {
	store    StoreAPI
	debounce time.Duration

	mu     sync.Mutex
	active map[string]*Controller
}

func NewService(store StoreAPI, debounce time.Duration) *Service {
	return &Service{
		store:    store,
		debounce: debounce,
		active:   map[string]*Controller{},
	}
}

func (s *Service) Store() StoreAPI {
	return s.store
}

// Load builds the full aggregate: evaluation row, template items in declared
// order, and one item state per template item merged from the score rows.
func (s *Service) Load(ctx context.Context, id string) (*Evaluation, error) {
	eval, err := s.store.GetEvaluation(ctx, id)
	if err != nil {
		return nil, err
	}

	defs, err := s.store.TemplateItems(ctx, eval.TemplateID)
	if err != nil {
		return nil, err
	}

	scores, err := s.store.ListScores(ctx, id)
	if err != nil {
		return nil, err
	}
	byItem := make(map[string]ScoreRecord, len(scores))
	for _, record := range scores {
		byItem[record.ItemID] = record
	}

	eval.Defs = defs
	eval.Items = make([]ItemState, len(defs))
	for i, def := range defs {
		state := ItemState{ItemID: def.ID}
		if record, ok := byItem[def.ID]; ok {
			state.Grade = record.Grade
			state.Score = record.Score
			state.Comment = record.Comment
		}
		eval.Items[i] = state
	}
	return &eval, nil
}

// Open checks out an evaluation for editing by the given user. Re-opening
// the same evaluation returns the existing controller; switching to another
// one cancels the old controller first.
func (s *Service) Open(ctx context.Context, userID, evaluationID string) (*Controller, error) {
	s.mu.Lock()
	if current, ok := s.active[userID]; ok {
		if current.Evaluation().ID == evaluationID {
			s.mu.Unlock()
			return current, nil
		}
		current.Cancel()
		delete(s.active, userID)
	}
	s.mu.Unlock()

	eval, err := s.Load(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	controller := NewController(s.store, eval, s.debounce)

	s.mu.Lock()
	s.active[userID] = controller
	s.mu.Unlock()
	return controller, nil
}

// Controller returns the user's active controller for the evaluation, if
// one is checked out.
func (s *Service) Controller(userID, evaluationID string) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	controller, ok := s.active[userID]
	if !ok || controller.Evaluation().ID != evaluationID {
		return nil, false
	}
	return controller, true
}

// Release drops the user's active controller after a successful submit (the
// current-evaluation pointer clears only once all writes succeeded) or when
// the user navigates away.
func (s *Service) Release(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if controller, ok := s.active[userID]; ok {
		controller.Cancel()
		delete(s.active, userID)
	}
}

func (s *Service) ListEvaluations(ctx context.Context, filter Filter) ([]Evaluation, error) {
	return s.store.ListEvaluations(ctx, filter)
}

func (s *Service) GetPeriod(ctx context.Context, id string) (Period, error) {
	return s.store.GetPeriod(ctx, id)
}

func (s *Service) ListPeriods(ctx context.Context) ([]Period, error) {
	return s.store.ListPeriods(ctx)
}

func (s *Service) SavePeriod(ctx context.Context, period Period) (string, error) {
	return s.store.SavePeriod(ctx, period)
}

func (s *Service) ListTemplates(ctx context.Context) ([]Template, error) {
	return s.store.ListTemplates(ctx)
}

func (s *Service) GetTemplate(ctx context.Context, id string) (Template, error) {
	return s.store.GetTemplate(ctx, id)
}

func (s *Service) SaveTemplate(ctx context.Context, template Template) (string, error) {
	return s.store.SaveTemplate(ctx, template)
}

// Assign creates the pending evaluations for a period: one row per stage per
// evaluatee. Existing rows are left untouched.
func (s *Service) Assign(ctx context.Context, periodID string, evaluateeIDs []string) error {
	records := make([]Evaluation, 0, len(evaluateeIDs)*len(StageOrder))
	for _, evaluateeID := range evaluateeIDs {
		for _, stage := range StageOrder {
			records = append(records, Evaluation{
				EvaluateeID: evaluateeID,
				PeriodID:    periodID,
				Stage:       stage,
				Status:      StatusPending,
			})
		}
	}
	return s.store.InsertEvaluations(ctx, records)
}
