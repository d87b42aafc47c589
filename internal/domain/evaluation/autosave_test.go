package evaluation

import (
	"context"
	"errors"
	"testing"
	"time"
)

const (
	testDebounce = 20 * time.Millisecond
	settleWait   = 150 * time.Millisecond
)

func openController(t *testing.T, store *memStore, stage, status string, debounce time.Duration) *Controller {
	t.Helper()
	seedEvaluation(store, "eval-1", stage, status)
	svc := NewService(store, debounce)
	ctrl, err := svc.Open(context.Background(), "editor-1", "eval-1")
	if err != nil {
		t.Fatalf("open evaluation: %v", err)
	}
	return ctrl
}

func TestDebounceCoalescesRapidEdits(t *testing.T) {
	store := newMemStore()
	ctrl := openController(t, store, StageManager, StatusInProgress, testDebounce)

	for _, text := range []string{"g", "go", "good progress"} {
		if err := ctrl.EditComment("item-1", text); err != nil {
			t.Fatalf("edit: %v", err)
		}
	}
	time.Sleep(settleWait)

	if got := store.replaceCountFor("item-1"); got != 1 {
		t.Fatalf("expected exactly 1 write, got %d", got)
	}
	record, ok := store.scoreRow("eval-1", "item-1")
	if !ok {
		t.Fatal("expected a persisted score row")
	}
	if record.Comment != "good progress" {
		t.Fatalf("expected the final keystroke to win, got %q", record.Comment)
	}
}

func TestGradeSaveCancelsPendingCommentTimer(t *testing.T) {
	store := newMemStore()
	ctrl := openController(t, store, StageManager, StatusInProgress, testDebounce)

	if err := ctrl.EditComment("item-1", "steady"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := ctrl.SetGrade(context.Background(), "item-1", "B"); err != nil {
		t.Fatalf("set grade: %v", err)
	}
	time.Sleep(settleWait)

	// The structured save carries the comment; the debounced save never fires.
	if got := store.replaceCountFor("item-1"); got != 1 {
		t.Fatalf("expected exactly 1 write, got %d", got)
	}
	record, _ := store.scoreRow("eval-1", "item-1")
	if record.Grade != "B" || record.Score != 4 || record.Comment != "steady" {
		t.Fatalf("unexpected row: %+v", record)
	}
}

func TestSetGradeRejectsDisabledGrade(t *testing.T) {
	store := newMemStore()
	ctrl := openController(t, store, StageManager, StatusInProgress, testDebounce)

	// item-2 only enables A, B and C.
	err := ctrl.SetGrade(context.Background(), "item-2", "D")
	if !errors.Is(err, ErrGradeNotEnabled) {
		t.Fatalf("expected ErrGradeNotEnabled, got %v", err)
	}
	if len(store.replaceCalls) != 0 {
		t.Fatal("rejected grade must not be persisted")
	}
}

func TestSetGradeRejectsHoldKeyword(t *testing.T) {
	store := newMemStore()
	ctrl := openController(t, store, StageManager, StatusInProgress, testDebounce)

	if err := ctrl.SetGrade(context.Background(), "item-1", GradeHold); err == nil {
		t.Fatal("HOLD must go through the hold toggle, not SetGrade")
	}
}

func TestHoldRoundTrip(t *testing.T) {
	store := newMemStore()
	ctrl := openController(t, store, StageManager, StatusInProgress, testDebounce)

	if err := ctrl.EditComment("item-1", "defer to next cycle"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := ctrl.SetHold(context.Background(), "item-1", true); err != nil {
		t.Fatalf("set hold: %v", err)
	}
	record, ok := store.scoreRow("eval-1", "item-1")
	if !ok {
		t.Fatal("expected a persisted hold row")
	}
	if record.Grade != GradeHold || record.Score != 0 || record.Comment != "defer to next cycle" {
		t.Fatalf("unexpected hold row: %+v", record)
	}

	if err := ctrl.SetHold(context.Background(), "item-1", false); err != nil {
		t.Fatalf("clear hold: %v", err)
	}
	if _, ok := store.scoreRow("eval-1", "item-1"); ok {
		t.Fatal("clearing the hold must delete the score row")
	}
	state := ctrl.Evaluation().Items[0]
	if state.Grade != "" || state.Score != 0 {
		t.Fatalf("grade and score should reset, got %+v", state)
	}
	if state.Comment != "defer to next cycle" {
		t.Fatal("clearing the hold must keep the local comment")
	}
}

func TestFirstSaveMovesPendingToInProgress(t *testing.T) {
	store := newMemStore()
	ctrl := openController(t, store, StageSelf, StatusPending, testDebounce)

	if err := ctrl.SetGrade(context.Background(), "item-1", "A"); err != nil {
		t.Fatalf("set grade: %v", err)
	}
	if got := ctrl.Evaluation().Status; got != StatusInProgress {
		t.Fatalf("expected in_progress locally, got %s", got)
	}
	stored, _ := store.GetEvaluation(context.Background(), "eval-1")
	if stored.Status != StatusInProgress {
		t.Fatalf("expected in_progress in store, got %s", stored.Status)
	}
}

func TestBackgroundFailureBecomesWarning(t *testing.T) {
	store := newMemStore()
	ctrl := openController(t, store, StageManager, StatusInProgress, testDebounce)

	store.failingItems["item-1"] = true
	if err := ctrl.EditComment("item-1", "lost in transit"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	time.Sleep(settleWait)

	if _, ok := ctrl.Warnings()["item-1"]; !ok {
		t.Fatal("expected a warning after the background save failed")
	}
	// The local edit survives the failure.
	if got := ctrl.Evaluation().Items[0].Comment; got != "lost in transit" {
		t.Fatalf("local state lost: %q", got)
	}

	delete(store.failingItems, "item-1")
	if err := ctrl.EditComment("item-1", "recovered"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	time.Sleep(settleWait)

	if _, ok := ctrl.Warnings()["item-1"]; ok {
		t.Fatal("warning should clear after a successful save")
	}
}

func TestCancelDropsPendingEdits(t *testing.T) {
	store := newMemStore()
	ctrl := openController(t, store, StageManager, StatusInProgress, testDebounce)

	if err := ctrl.EditComment("item-1", "abandoned"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	ctrl.Cancel()
	time.Sleep(settleWait)

	if len(store.replaceCalls) != 0 {
		t.Fatal("cancelled edits must never be persisted")
	}
}

func TestFlushPersistsWithoutWaiting(t *testing.T) {
	store := newMemStore()
	ctrl := openController(t, store, StageManager, StatusInProgress, time.Hour)

	if err := ctrl.EditComment("item-1", "alpha"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := ctrl.EditComment("item-2", "beta"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := ctrl.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	for itemID, want := range map[string]string{"item-1": "alpha", "item-2": "beta"} {
		record, ok := store.scoreRow("eval-1", itemID)
		if !ok || record.Comment != want {
			t.Fatalf("%s: expected %q, got %+v (present %v)", itemID, want, record, ok)
		}
	}
}

func TestClearingCommentDeletesRow(t *testing.T) {
	store := newMemStore()
	ctrl := openController(t, store, StageManager, StatusInProgress, testDebounce)

	if err := ctrl.EditComment("item-1", "temporary"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	time.Sleep(settleWait)
	if _, ok := store.scoreRow("eval-1", "item-1"); !ok {
		t.Fatal("expected a persisted row")
	}

	if err := ctrl.EditComment("item-1", ""); err != nil {
		t.Fatalf("edit: %v", err)
	}
	time.Sleep(settleWait)
	if _, ok := store.scoreRow("eval-1", "item-1"); ok {
		t.Fatal("an emptied item must have its row deleted")
	}
}

func TestOverallCommentOnlyOnFinalStage(t *testing.T) {
	store := newMemStore()
	ctrl := openController(t, store, StageManager, StatusInProgress, testDebounce)

	if err := ctrl.EditOverallComment("year summary"); err == nil {
		t.Fatal("overall comment must be rejected outside the final stage")
	}
}

func TestOverallCommentDebounced(t *testing.T) {
	store := newMemStore()
	ctrl := openController(t, store, StageFinal, StatusInProgress, testDebounce)

	if err := ctrl.EditOverallComment("strong year"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := ctrl.EditOverallComment("strong year overall"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	time.Sleep(settleWait)

	store.mu.Lock()
	updates := append([]string(nil), store.overallUpdates...)
	store.mu.Unlock()
	if len(updates) != 1 || updates[0] != "strong year overall" {
		t.Fatalf("expected one coalesced update, got %v", updates)
	}
}

func TestSetOverallGradeFinalStageOnly(t *testing.T) {
	store := newMemStore()
	ctrl := openController(t, store, StageMG, StatusInProgress, testDebounce)
	if err := ctrl.SetOverallGrade(context.Background(), "A"); err == nil {
		t.Fatal("overall grade must be rejected outside the final stage")
	}

	store2 := newMemStore()
	final := openController(t, store2, StageFinal, StatusInProgress, testDebounce)
	if err := final.SetOverallGrade(context.Background(), "A"); err != nil {
		t.Fatalf("set overall grade: %v", err)
	}
	stored, _ := store2.GetEvaluation(context.Background(), "eval-1")
	if stored.OverallGrade != "A" {
		t.Fatalf("expected overall grade A, got %q", stored.OverallGrade)
	}

	if err := final.SetFinalDecision(context.Background(), "Q"); err == nil {
		t.Fatal("unknown decision grade must be rejected")
	}
}
