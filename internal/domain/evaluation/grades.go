package evaluation

// ResolveScore maps a grade key to its numeric score. Empty and HOLD grades
// score zero.
func ResolveScore(grade string, gradeScores map[string]float64) float64 {
	if grade == "" || grade == GradeHold {
		return 0
	}
	return gradeScores[grade]
}

// IsGraded reports whether the item carries a real grade (non-empty, not HOLD).
func IsGraded(state ItemState) bool {
	return state.Grade != "" && state.Grade != GradeHold
}

// ItemClass is the completion classification of a single item.
type ItemClass int

const (
	ItemUntouched ItemClass = iota
	ItemCommentOnly
	ItemGraded
	ItemHeld
)

func Classify(state ItemState) ItemClass {
	switch {
	case state.Grade == GradeHold:
		return ItemHeld
	case state.Grade != "":
		return ItemGraded
	case state.Comment != "":
		return ItemCommentOnly
	default:
		return ItemUntouched
	}
}

// ToggleEnabledGrade flips a grade key in an item's enabled set. Removing
// the last remaining grade is rejected: the result keeps at least one
// selectable grade. The returned bool reports whether the set changed.
func ToggleEnabledGrade(enabled []string, grade string) ([]string, bool) {
	for i, key := range enabled {
		if key == grade {
			if len(enabled) == 1 {
				return enabled, false
			}
			out := make([]string, 0, len(enabled)-1)
			out = append(out, enabled[:i]...)
			out = append(out, enabled[i+1:]...)
			return out, true
		}
	}
	out := make([]string, 0, len(enabled)+1)
	out = append(out, enabled...)
	out = append(out, grade)
	return out, true
}

// GradeEnabled reports whether a grade key is selectable on the item.
func GradeEnabled(item EvaluationItem, grade string) bool {
	for _, key := range item.EnabledGrades {
		if key == grade {
			return true
		}
	}
	return false
}
