package evaluation

import "time"

// EvaluationItem is a template-defined rubric line. Immutable from the
// evaluator's perspective; referenced by id from score rows.
type EvaluationItem struct {
	ID                   string             `json:"id"`
	Name                 string             `json:"name"`
	Description          string             `json:"description"`
	Weight               float64            `json:"weight"`
	GradeScores          map[string]float64 `json:"gradeScores"`
	GradeCriteria        map[string]string  `json:"gradeCriteria,omitempty"`
	EnabledGrades        []string           `json:"enabledGrades"`
	Category             string             `json:"category,omitempty"`
	Subcategory          string             `json:"subcategory,omitempty"`
	HideCriteriaFromSelf bool               `json:"hideCriteriaFromSelf"`
	Position             int                `json:"position"`
}

// ItemState is the per-evaluation mutable state of one rubric line.
type ItemState struct {
	ItemID  string  `json:"itemId"`
	Grade   string  `json:"grade"`
	Score   float64 `json:"score"`
	Comment string  `json:"comment"`
}

type Evaluation struct {
	ID             string     `json:"id"`
	EvaluateeID    string     `json:"evaluateeId"`
	PeriodID       string     `json:"periodId"`
	TemplateID     string     `json:"templateId"`
	Stage          string     `json:"stage"`
	Status         string     `json:"status"`
	OverallComment string     `json:"overallComment,omitempty"`
	OverallGrade   string     `json:"overallGrade,omitempty"`
	FinalDecision  string     `json:"finalDecision,omitempty"`
	EvaluatorID    string     `json:"evaluatorId,omitempty"`
	SubmittedAt    *time.Time `json:"submittedAt,omitempty"`

	// Items holds one state per template item, in template order. Defs is
	// the parallel slice of template definitions.
	Items []ItemState      `json:"items"`
	Defs  []EvaluationItem `json:"-"`
}

// ReferenceItem is a read-only projection of one earlier score row.
type ReferenceItem struct {
	Grade   string  `json:"grade"`
	Score   float64 `json:"score"`
	Comment string  `json:"comment"`
}

// ReferenceEvaluation is the side-by-side comparison view of an earlier
// pipeline stage or the prior period's final evaluation. Never editable.
type ReferenceEvaluation struct {
	Stage          string                   `json:"stage"`
	StageLabel     string                   `json:"stageLabel"`
	TotalScore     float64                  `json:"totalScore"`
	OverallComment string                   `json:"overallComment,omitempty"`
	Items          map[string]ReferenceItem `json:"items"`
}

type Template struct {
	ID    string           `json:"id"`
	Name  string           `json:"name"`
	Items []EvaluationItem `json:"items,omitempty"`
}

type Period struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	TemplateID string    `json:"templateId"`
	StartDate  time.Time `json:"startDate"`
	EndDate    time.Time `json:"endDate"`
}

// Filter narrows ListEvaluations; zero values are ignored, Statuses empty
// means any status.
type Filter struct {
	EvaluateeID string
	PeriodID    string
	Stage       string
	Statuses    []string
}

// ScoreRecord is one persisted row keyed by (evaluationID, itemID).
type ScoreRecord struct {
	EvaluationID string
	ItemID       string
	Grade        string
	Score        float64
	Comment      string
}

// Partial carries the updatable evaluation fields; nil pointers are left
// untouched by the store.
type Partial struct {
	Status         *string
	OverallComment *string
	OverallGrade   *string
	FinalDecision  *string
	EvaluatorID    *string
	SubmittedAt    *time.Time
}

// ItemRef identifies an item in validation results.
type ItemRef struct {
	ItemID string `json:"itemId"`
	Name   string `json:"name"`
}
