package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// overallKey is the debounce-table key for the evaluation-level comment.
const overallKey = "__overall__"

const saveTimeout = 5 * time.Second

var ErrGradeNotEnabled = errors.New("grade not enabled for item")

// Controller owns the in-memory state of one evaluation under edit. All
// mutations go through it, and every asynchronous save reads the latest
// state through the controller at fire time rather than a value captured at
// schedule time. Structured edits (grade, hold) persist immediately;
// free-text edits are debounced per item with cancel-and-replace semantics.
type Controller struct {
	mu       sync.Mutex
	store    StoreAPI
	eval     *Evaluation
	debounce time.Duration
	timers   map[string]*time.Timer
	warnings map[string]string
	closed   bool
}

func NewController(store StoreAPI, eval *Evaluation, debounce time.Duration) *Controller {
	return &Controller{
		store:    store,
		eval:     eval,
		debounce: debounce,
		timers:   map[string]*time.Timer{},
		warnings: map[string]string{},
	}
}

// Evaluation returns a snapshot copy of the current state.
func (c *Controller) Evaluation() Evaluation {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := *c.eval
	snapshot.Items = make([]ItemState, len(c.eval.Items))
	copy(snapshot.Items, c.eval.Items)
	return snapshot
}

// Warnings reports the keys (item ids, or the overall comment) whose last
// background save failed, with the failure message.
func (c *Controller) Warnings() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.warnings))
	for key, msg := range c.warnings {
		out[key] = msg
	}
	return out
}

// SetGrade selects a grade for an item and persists it immediately. The
// item's pending comment timer is cancelled first so a stale debounced save
// cannot land after this write. An empty grade clears the selection.
func (c *Controller) SetGrade(ctx context.Context, itemID, grade string) error {
	if grade == GradeHold {
		return fmt.Errorf("use the hold toggle to defer an item")
	}

	c.mu.Lock()
	idx := c.eval.itemIndex(itemID)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	def := c.eval.Defs[idx]
	if grade != "" && !GradeEnabled(def, grade) {
		c.mu.Unlock()
		return fmt.Errorf("item %s grade %s: %w", itemID, grade, ErrGradeNotEnabled)
	}

	c.cancelTimerLocked(itemID)
	c.eval.Items[idx].Grade = grade
	c.eval.Items[idx].Score = ResolveScore(grade, def.GradeScores)
	state := c.eval.Items[idx]
	c.mu.Unlock()

	if err := c.persistItem(ctx, state); err != nil {
		c.recordWarning(itemID, err)
		return &PersistenceError{ItemID: itemID, Err: err}
	}
	c.clearWarning(itemID)
	return c.ensureInProgress(ctx)
}

// SetHold toggles the deferred marker. Setting it persists the hold with
// whatever comment exists; clearing it deletes the score row and resets
// grade and score locally while leaving the comment untouched.
func (c *Controller) SetHold(ctx context.Context, itemID string, hold bool) error {
	c.mu.Lock()
	idx := c.eval.itemIndex(itemID)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	c.cancelTimerLocked(itemID)

	if hold {
		c.eval.Items[idx].Grade = GradeHold
		c.eval.Items[idx].Score = 0
		state := c.eval.Items[idx]
		evalID := c.eval.ID
		c.mu.Unlock()

		if err := c.store.ReplaceScore(ctx, ScoreRecord{
			EvaluationID: evalID,
			ItemID:       itemID,
			Grade:        GradeHold,
			Score:        0,
			Comment:      state.Comment,
		}); err != nil {
			c.recordWarning(itemID, err)
			return &PersistenceError{ItemID: itemID, Err: err}
		}
		c.clearWarning(itemID)
		return c.ensureInProgress(ctx)
	}

	c.eval.Items[idx].Grade = ""
	c.eval.Items[idx].Score = 0
	evalID := c.eval.ID
	c.mu.Unlock()

	if err := c.store.DeleteScore(ctx, evalID, itemID); err != nil {
		c.recordWarning(itemID, err)
		return &PersistenceError{ItemID: itemID, Err: err}
	}
	c.clearWarning(itemID)
	return nil
}

// EditComment records a free-text edit and (re)arms the item's debounce
// timer. The persisted value is whatever the state holds when the timer
// fires, not the value passed here.
func (c *Controller) EditComment(itemID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.eval.itemIndex(itemID)
	if idx < 0 {
		return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	c.eval.Items[idx].Comment = text
	c.scheduleLocked(itemID)
	return nil
}

// EditOverallComment debounces the evaluation-level comment (final stage).
func (c *Controller) EditOverallComment(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eval.Stage != StageFinal {
		return fmt.Errorf("overall comment is only available on the %s stage", StageFinal)
	}
	c.eval.OverallComment = text
	c.scheduleLocked(overallKey)
	return nil
}

// SetOverallGrade persists the final-stage overall grade immediately.
func (c *Controller) SetOverallGrade(ctx context.Context, grade string) error {
	return c.setFinalField(ctx, grade, func(e *Evaluation) { e.OverallGrade = grade }, func(p *Partial) { p.OverallGrade = &grade })
}

// SetFinalDecision persists the final-stage decision immediately.
func (c *Controller) SetFinalDecision(ctx context.Context, grade string) error {
	return c.setFinalField(ctx, grade, func(e *Evaluation) { e.FinalDecision = grade }, func(p *Partial) { p.FinalDecision = &grade })
}

func (c *Controller) setFinalField(ctx context.Context, grade string, apply func(*Evaluation), set func(*Partial)) error {
	if !validOverallGrade(grade) {
		return fmt.Errorf("grade %q: %w", grade, ErrGradeNotEnabled)
	}

	c.mu.Lock()
	if c.eval.Stage != StageFinal {
		c.mu.Unlock()
		return fmt.Errorf("overall fields are only available on the %s stage", StageFinal)
	}
	apply(c.eval)
	evalID := c.eval.ID
	c.mu.Unlock()

	var partial Partial
	set(&partial)
	if err := c.store.UpdateEvaluation(ctx, evalID, partial); err != nil {
		c.recordWarning(overallKey, err)
		return err
	}
	c.clearWarning(overallKey)
	return c.ensureInProgress(ctx)
}

func validOverallGrade(grade string) bool {
	if grade == "" || grade == GradeHold {
		return true
	}
	for _, key := range GradeKeys {
		if key == grade {
			return true
		}
	}
	return false
}

// Flush persists every pending debounced edit now. Used before submission.
func (c *Controller) Flush(ctx context.Context) error {
	c.mu.Lock()
	keys := make([]string, 0, len(c.timers))
	for key, timer := range c.timers {
		timer.Stop()
		delete(c.timers, key)
		keys = append(keys, key)
	}
	c.mu.Unlock()

	var errs []error
	for _, key := range keys {
		if err := c.persistKey(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cancel drops every pending debounced edit without firing it. Used when an
// evaluation is abandoned: no implicit save of an abandoned edit.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, timer := range c.timers {
		timer.Stop()
		delete(c.timers, key)
	}
	c.closed = true
}

func (c *Controller) scheduleLocked(key string) {
	if c.closed {
		return
	}
	if timer, ok := c.timers[key]; ok {
		timer.Stop()
	}
	c.timers[key] = time.AfterFunc(c.debounce, func() { c.fire(key) })
}

func (c *Controller) cancelTimerLocked(key string) {
	if timer, ok := c.timers[key]; ok {
		timer.Stop()
		delete(c.timers, key)
	}
}

// fire runs on the timer goroutine. It re-reads the latest state under the
// lock, so edits made after scheduling are what get persisted.
func (c *Controller) fire(key string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	delete(c.timers, key)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := c.persistKey(ctx, key); err != nil {
		slog.Warn("autosave failed", "key", key, "err", err)
	}
}

// persistKey writes the current value behind a debounce key. Background
// failures are recorded as warnings, never thrown at the editing caller.
func (c *Controller) persistKey(ctx context.Context, key string) error {
	c.mu.Lock()
	if key == overallKey {
		comment := c.eval.OverallComment
		evalID := c.eval.ID
		c.mu.Unlock()
		if err := c.store.UpdateEvaluation(ctx, evalID, Partial{OverallComment: &comment}); err != nil {
			c.recordWarning(key, err)
			return err
		}
		c.clearWarning(key)
		return nil
	}

	idx := c.eval.itemIndex(key)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("item %s: %w", key, ErrNotFound)
	}
	state := c.eval.Items[idx]
	c.mu.Unlock()

	if err := c.persistItem(ctx, state); err != nil {
		c.recordWarning(key, err)
		return err
	}
	c.clearWarning(key)
	return nil
}

// persistItem writes one item's current record, or deletes the row when the
// item has reverted to fully empty.
func (c *Controller) persistItem(ctx context.Context, state ItemState) error {
	c.mu.Lock()
	evalID := c.eval.ID
	c.mu.Unlock()

	if state.Grade == "" && state.Comment == "" {
		return c.store.DeleteScore(ctx, evalID, state.ItemID)
	}
	return c.store.ReplaceScore(ctx, ScoreRecord{
		EvaluationID: evalID,
		ItemID:       state.ItemID,
		Grade:        state.Grade,
		Score:        state.Score,
		Comment:      state.Comment,
	})
}

// ensureInProgress moves a pending evaluation to in_progress after its first
// successful structured save.
func (c *Controller) ensureInProgress(ctx context.Context) error {
	c.mu.Lock()
	if c.eval.Status != StatusPending {
		c.mu.Unlock()
		return nil
	}
	next, err := NextStatus(c.eval.Status, EventSave)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	evalID := c.eval.ID
	c.mu.Unlock()

	if err := c.store.UpdateEvaluation(ctx, evalID, Partial{Status: &next}); err != nil {
		return err
	}
	c.mu.Lock()
	c.eval.Status = next
	c.mu.Unlock()
	return nil
}

func (c *Controller) recordWarning(key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings[key] = err.Error()
}

func (c *Controller) clearWarning(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.warnings, key)
}
