package evaluation

import (
	"context"
	"time"
)

// ValidationResult is the pre-submit classification of the evaluation's
// items. Untouched items block submission; comment-only items require
// confirmation; held items are surfaced but never block.
type ValidationResult struct {
	Untouched   []ItemRef `json:"untouched"`
	CommentOnly []ItemRef `json:"commentOnly"`
	HoldCount   int       `json:"holdCount"`
}

func (r ValidationResult) Blocked() bool {
	return len(r.Untouched) > 0
}

func (r ValidationResult) NeedsConfirmation() bool {
	return len(r.CommentOnly) > 0 || r.HoldCount > 0
}

// ValidateForSubmit classifies every item against the current local state.
func (c *Controller) ValidateForSubmit() ValidationResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result ValidationResult
	for i, state := range c.eval.Items {
		ref := ItemRef{ItemID: state.ItemID, Name: c.eval.Defs[i].Name}
		switch Classify(state) {
		case ItemUntouched:
			result.Untouched = append(result.Untouched, ref)
		case ItemCommentOnly:
			result.CommentOnly = append(result.CommentOnly, ref)
		case ItemHeld:
			result.HoldCount++
		}
	}
	return result
}

// Submit validates, flushes timers, persists every touched item, persists
// the final-stage overall fields, then flips the status. The operation is
// all-or-nothing at the evaluation level: an error leaves local state intact
// so the user can retry.
func (c *Controller) Submit(ctx context.Context, evaluatorID string, confirmed bool) error {
	return c.commit(ctx, evaluatorID, confirmed, EventSubmit)
}

// Resubmit re-commits an already-submitted evaluation. Status stays
// submitted; submittedAt and evaluatorId are re-stamped.
func (c *Controller) Resubmit(ctx context.Context, evaluatorID string, confirmed bool) error {
	return c.commit(ctx, evaluatorID, confirmed, EventResubmit)
}

func (c *Controller) commit(ctx context.Context, evaluatorID string, confirmed bool, event string) error {
	result := c.ValidateForSubmit()
	if result.Blocked() {
		return &ValidationError{Untouched: result.Untouched}
	}
	if result.NeedsConfirmation() && !confirmed {
		return &ConfirmationError{CommentOnly: result.CommentOnly, HoldCount: result.HoldCount}
	}

	// The transition is validated up front but the store flip happens last,
	// so a crash mid-submit leaves a recoverable partially-saved evaluation.
	c.mu.Lock()
	next, err := NextStatus(c.eval.Status, event)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	for key, timer := range c.timers {
		timer.Stop()
		delete(c.timers, key)
	}
	evalID := c.eval.ID
	stage := c.eval.Stage
	items := make([]ItemState, len(c.eval.Items))
	copy(items, c.eval.Items)
	overallComment := c.eval.OverallComment
	overallGrade := c.eval.OverallGrade
	finalDecision := c.eval.FinalDecision
	c.mu.Unlock()

	for _, state := range items {
		if state.Grade == "" && state.Comment == "" {
			continue
		}
		if err := c.store.ReplaceScore(ctx, ScoreRecord{
			EvaluationID: evalID,
			ItemID:       state.ItemID,
			Grade:        state.Grade,
			Score:        state.Score,
			Comment:      state.Comment,
		}); err != nil {
			return &PersistenceError{ItemID: state.ItemID, Err: err}
		}
	}

	now := time.Now().UTC()
	partial := Partial{
		Status:      &next,
		EvaluatorID: &evaluatorID,
		SubmittedAt: &now,
	}
	if stage == StageFinal {
		partial.OverallComment = &overallComment
		partial.OverallGrade = &overallGrade
		partial.FinalDecision = &finalDecision
	}
	if err := c.store.UpdateEvaluation(ctx, evalID, partial); err != nil {
		return err
	}

	c.mu.Lock()
	c.eval.Status = next
	c.eval.EvaluatorID = evaluatorID
	c.eval.SubmittedAt = &now
	c.mu.Unlock()
	return nil
}

// DraftResult reports a best-effort save: failures are per item, siblings
// are not aborted.
type DraftResult struct {
	Saved  int       `json:"saved"`
	Failed []ItemRef `json:"failed,omitempty"`
}

// DraftSave persists every item that currently has a grade. No validation,
// no status change, allowed in any status. Partial success is reported
// rather than aborted.
func (c *Controller) DraftSave(ctx context.Context) DraftResult {
	c.mu.Lock()
	evalID := c.eval.ID
	items := make([]ItemState, len(c.eval.Items))
	copy(items, c.eval.Items)
	names := make([]string, len(c.eval.Defs))
	for i, def := range c.eval.Defs {
		names[i] = def.Name
	}
	c.mu.Unlock()

	var result DraftResult
	for i, state := range items {
		if state.Grade == "" {
			continue
		}
		if err := c.store.ReplaceScore(ctx, ScoreRecord{
			EvaluationID: evalID,
			ItemID:       state.ItemID,
			Grade:        state.Grade,
			Score:        state.Score,
			Comment:      state.Comment,
		}); err != nil {
			c.recordWarning(state.ItemID, err)
			result.Failed = append(result.Failed, ItemRef{ItemID: state.ItemID, Name: names[i]})
			continue
		}
		c.clearWarning(state.ItemID)
		result.Saved++
	}
	return result
}
