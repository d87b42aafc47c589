package evaluation

const (
	StageSelf    = "self"
	StageManager = "manager"
	StageMG      = "mg"
	StageFinal   = "final"

	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusSubmitted  = "submitted"

	// GradeHold marks an item as deferred: it scores zero and is excluded
	// from the untouched/comment-only/graded classification.
	GradeHold = "HOLD"

	// ReferencePrevFinal tags the prior period's final evaluation when it is
	// appended to the cross-stage reference list.
	ReferencePrevFinal = "prev_final"
)

var GradeKeys = []string{"A", "B", "C", "D", "E"}

// StageOrder is the pipeline position of each stage; references are
// collected from stages strictly before the current one.
var StageOrder = []string{StageSelf, StageManager, StageMG, StageFinal}

var StageLabels = map[string]string{
	StageSelf:    "Self",
	StageManager: "Manager",
	StageMG:      "Regional supervisor",
	StageFinal:   "Final decision",
}

func ValidStage(stage string) bool {
	for _, s := range StageOrder {
		if s == stage {
			return true
		}
	}
	return false
}

func StageIndex(stage string) int {
	for i, s := range StageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}

// StagesBefore returns the stages strictly earlier in the pipeline, in order.
func StagesBefore(stage string) []string {
	idx := StageIndex(stage)
	if idx <= 0 {
		return nil
	}
	out := make([]string, idx)
	copy(out, StageOrder[:idx])
	return out
}
