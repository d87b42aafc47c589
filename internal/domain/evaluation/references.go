package evaluation

import (
	"context"
	"log/slog"
)

// LoadReferences collects read-only comparison data for an evaluation:
// submitted evaluations at earlier pipeline stages of the same evaluatee and
// period, followed by the submitted final evaluation of the most recent
// prior period. References are best-effort supplementary context; any
// lookup miss contributes nothing and never fails the load.
func (s *Service) LoadReferences(ctx context.Context, evaluateeID, periodID, currentStage string) []ReferenceEvaluation {
	var refs []ReferenceEvaluation

	for _, stage := range StagesBefore(currentStage) {
		evals, err := s.store.ListEvaluations(ctx, Filter{
			EvaluateeID: evaluateeID,
			PeriodID:    periodID,
			Stage:       stage,
			Statuses:    []string{StatusSubmitted},
		})
		if err != nil {
			slog.Warn("reference stage lookup failed", "stage", stage, "err", err)
			continue
		}
		if len(evals) == 0 {
			continue
		}
		ref, err := s.buildReference(ctx, evals[0], stage, StageLabels[stage])
		if err != nil {
			slog.Warn("reference build failed", "stage", stage, "err", err)
			continue
		}
		refs = append(refs, ref)
	}

	if prev, ok := s.prevFinalReference(ctx, evaluateeID, periodID); ok {
		refs = append(refs, prev)
	}
	return refs
}

// prevFinalReference finds the period whose start date is the latest one
// strictly before the current period's, and returns that period's submitted
// final evaluation for the evaluatee.
func (s *Service) prevFinalReference(ctx context.Context, evaluateeID, periodID string) (ReferenceEvaluation, bool) {
	period, err := s.store.GetPeriod(ctx, periodID)
	if err != nil {
		return ReferenceEvaluation{}, false
	}
	prior, err := s.store.PriorPeriod(ctx, period.StartDate)
	if err != nil {
		return ReferenceEvaluation{}, false
	}
	evals, err := s.store.ListEvaluations(ctx, Filter{
		EvaluateeID: evaluateeID,
		PeriodID:    prior.ID,
		Stage:       StageFinal,
		Statuses:    []string{StatusSubmitted},
	})
	if err != nil || len(evals) == 0 {
		return ReferenceEvaluation{}, false
	}
	ref, err := s.buildReference(ctx, evals[0], ReferencePrevFinal, prior.Name+" (final)")
	if err != nil {
		slog.Warn("previous final reference build failed", "period", prior.ID, "err", err)
		return ReferenceEvaluation{}, false
	}
	return ref, true
}

func (s *Service) buildReference(ctx context.Context, eval Evaluation, stage, label string) (ReferenceEvaluation, error) {
	scores, err := s.store.ListScores(ctx, eval.ID)
	if err != nil {
		return ReferenceEvaluation{}, err
	}

	ref := ReferenceEvaluation{
		Stage:          stage,
		StageLabel:     label,
		OverallComment: eval.OverallComment,
		Items:          make(map[string]ReferenceItem, len(scores)),
	}
	for _, record := range scores {
		ref.TotalScore += record.Score
		ref.Items[record.ItemID] = ReferenceItem{
			Grade:   record.Grade,
			Score:   record.Score,
			Comment: record.Comment,
		}
	}
	return ref, nil
}
