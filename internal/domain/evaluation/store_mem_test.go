package evaluation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memStore is an in-memory StoreAPI used across the package tests.
type memStore struct {
	mu        sync.Mutex
	evals     map[string]Evaluation
	scores    map[string]map[string]ScoreRecord
	templates map[string]Template
	periods   map[string]Period

	replaceCalls   []ScoreRecord
	deleteCalls    []string
	failingItems   map[string]bool
	statusUpdates  []string
	overallUpdates []string
}

func newMemStore() *memStore {
	return &memStore{
		evals:        map[string]Evaluation{},
		scores:       map[string]map[string]ScoreRecord{},
		templates:    map[string]Template{},
		periods:      map[string]Period{},
		failingItems: map[string]bool{},
	}
}

func (m *memStore) GetEvaluation(_ context.Context, id string) (Evaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	eval, ok := m.evals[id]
	if !ok {
		return Evaluation{}, ErrNotFound
	}
	return eval, nil
}

func (m *memStore) ListEvaluations(_ context.Context, filter Filter) ([]Evaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Evaluation
	for _, eval := range m.evals {
		if filter.EvaluateeID != "" && eval.EvaluateeID != filter.EvaluateeID {
			continue
		}
		if filter.PeriodID != "" && eval.PeriodID != filter.PeriodID {
			continue
		}
		if filter.Stage != "" && eval.Stage != filter.Stage {
			continue
		}
		if len(filter.Statuses) > 0 {
			matched := false
			for _, status := range filter.Statuses {
				if eval.Status == status {
					matched = true
				}
			}
			if !matched {
				continue
			}
		}
		out = append(out, eval)
	}
	return out, nil
}

func (m *memStore) UpdateEvaluation(_ context.Context, id string, partial Partial) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	eval, ok := m.evals[id]
	if !ok {
		return ErrNotFound
	}
	if partial.Status != nil {
		eval.Status = *partial.Status
		m.statusUpdates = append(m.statusUpdates, *partial.Status)
	}
	if partial.OverallComment != nil {
		eval.OverallComment = *partial.OverallComment
		m.overallUpdates = append(m.overallUpdates, *partial.OverallComment)
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
		at := *partial.SubmittedAt
		eval.SubmittedAt = &at
	}
	m.evals[id] = eval
	return nil
}

func (m *memStore) InsertEvaluations(_ context.Context, records []Evaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, record := range records {
		id := record.ID
		if id == "" {
			id = fmt.Sprintf("eval-%d-%d", len(m.evals), i)
			record.ID = id
		}
		exists := false
		for _, eval := range m.evals {
			if eval.EvaluateeID == record.EvaluateeID && eval.PeriodID == record.PeriodID && eval.Stage == record.Stage {
				exists = true
			}
		}
		if !exists {
			m.evals[id] = record
		}
	}
	return nil
}

func (m *memStore) ReplaceScore(_ context.Context, record ScoreRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failingItems[record.ItemID] {
		return fmt.Errorf("simulated write failure for %s", record.ItemID)
	}
	m.replaceCalls = append(m.replaceCalls, record)
	rows, ok := m.scores[record.EvaluationID]
	if !ok {
		rows = map[string]ScoreRecord{}
		m.scores[record.EvaluationID] = rows
	}
	rows[record.ItemID] = record
	return nil
}

func (m *memStore) DeleteScore(_ context.Context, evaluationID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls = append(m.deleteCalls, itemID)
	if rows, ok := m.scores[evaluationID]; ok {
		delete(rows, itemID)
	}
	return nil
}

func (m *memStore) ListScores(_ context.Context, evaluationID string) ([]ScoreRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ScoreRecord
	for _, record := range m.scores[evaluationID] {
		out = append(out, record)
	}
	return out, nil
}

func (m *memStore) TemplateItems(_ context.Context, templateID string) ([]EvaluationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	template, ok := m.templates[templateID]
	if !ok {
		return nil, ErrNotFound
	}
	return template.Items, nil
}

func (m *memStore) ListTemplates(_ context.Context) ([]Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Template
	for _, template := range m.templates {
		out = append(out, template)
	}
	return out, nil
}

func (m *memStore) GetTemplate(_ context.Context, id string) (Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	template, ok := m.templates[id]
	if !ok {
		return Template{}, ErrNotFound
	}
	return template, nil
}

func (m *memStore) SaveTemplate(_ context.Context, template Template) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if template.ID == "" {
		template.ID = fmt.Sprintf("tpl-%d", len(m.templates)+1)
	}
	m.templates[template.ID] = template
	return template.ID, nil
}

func (m *memStore) GetPeriod(_ context.Context, id string) (Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	period, ok := m.periods[id]
	if !ok {
		return Period{}, ErrNotFound
	}
	return period, nil
}

func (m *memStore) ListPeriods(_ context.Context) ([]Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Period
	for _, period := range m.periods {
		out = append(out, period)
	}
	return out, nil
}

func (m *memStore) SavePeriod(_ context.Context, period Period) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if period.ID == "" {
		period.ID = fmt.Sprintf("per-%d", len(m.periods)+1)
	}
	m.periods[period.ID] = period
	return period.ID, nil
}

func (m *memStore) PriorPeriod(_ context.Context, startBefore time.Time) (Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best Period
	found := false
	for _, period := range m.periods {
		if !period.StartDate.Before(startBefore) {
			continue
		}
		if !found || period.StartDate.After(best.StartDate) {
			best = period
			found = true
		}
	}
	if !found {
		return Period{}, ErrNotFound
	}
	return best, nil
}

func (m *memStore) replaceCountFor(itemID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, record := range m.replaceCalls {
		if record.ItemID == itemID {
			count++
		}
	}
	return count
}

func (m *memStore) scoreRow(evaluationID, itemID string) (ScoreRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.scores[evaluationID]
	if !ok {
		return ScoreRecord{}, false
	}
	record, ok := rows[itemID]
	return record, ok
}

// testItems builds a two-item rubric matching the documented example scale.
func testItems() []EvaluationItem {
	scores := map[string]float64{"A": 5, "B": 4, "C": 3, "D": 2, "E": 1}
	return []EvaluationItem{
		{ID: "item-1", Name: "Ownership", Weight: 10, GradeScores: scores, EnabledGrades: []string{"A", "B", "C", "D", "E"}, Position: 0},
		{ID: "item-2", Name: "Teamwork", Weight: 20, GradeScores: scores, EnabledGrades: []string{"A", "B", "C"}, Position: 1},
	}
}

func seedEvaluation(store *memStore, id, stage, status string) {
	store.templates["tpl-1"] = Template{ID: "tpl-1", Name: "Annual", Items: testItems()}
	store.periods["per-1"] = Period{ID: "per-1", Name: "FY25", TemplateID: "tpl-1", StartDate: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)}
	store.evals[id] = Evaluation{
		ID:          id,
		EvaluateeID: "user-1",
		PeriodID:    "per-1",
		TemplateID:  "tpl-1",
		Stage:       stage,
		Status:      status,
	}
}
