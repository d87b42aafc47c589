package evaluation

import (
	"context"
	"time"
)

type StoreAPI interface {
	GetEvaluation(ctx context.Context, id string) (Evaluation, error)
	ListEvaluations(ctx context.Context, filter Filter) ([]Evaluation, error)
	UpdateEvaluation(ctx context.Context, id string, partial Partial) error
	InsertEvaluations(ctx context.Context, records []Evaluation) error

	// ReplaceScore is idempotent on (evaluationID, itemID): a second write
	// with the same key overwrites the row.
	ReplaceScore(ctx context.Context, record ScoreRecord) error
	DeleteScore(ctx context.Context, evaluationID, itemID string) error
	ListScores(ctx context.Context, evaluationID string) ([]ScoreRecord, error)

	TemplateItems(ctx context.Context, templateID string) ([]EvaluationItem, error)
	ListTemplates(ctx context.Context) ([]Template, error)
	GetTemplate(ctx context.Context, id string) (Template, error)
	SaveTemplate(ctx context.Context, template Template) (string, error)

	GetPeriod(ctx context.Context, id string) (Period, error)
	ListPeriods(ctx context.Context) ([]Period, error)
	SavePeriod(ctx context.Context, period Period) (string, error)
	// PriorPeriod returns the period with the latest start date strictly
	// before the given one, or ErrNotFound.
	PriorPeriod(ctx context.Context, startBefore time.Time) (Period, error)
}
