package evaluation

import "math"

// TotalScore sums the item scores. Weights are descriptive and never enter
// the total.
func (e *Evaluation) TotalScore() float64 {
	var total float64
	for _, item := range e.Items {
		total += item.Score
	}
	return total
}

// DisplayScore rounds the total to one decimal for presentation; stored
// scores are never rounded.
func (e *Evaluation) DisplayScore() float64 {
	return math.Round(e.TotalScore()*10) / 10
}

// CompletionCount counts items with a grade or a comment. HOLD counts as
// complete because its grade is non-empty.
func (e *Evaluation) CompletionCount() int {
	count := 0
	for _, item := range e.Items {
		if item.Grade != "" || item.Comment != "" {
			count++
		}
	}
	return count
}

// FirstIncomplete returns the index, in template order, of the first item
// with neither grade nor comment, or -1 when every item has been touched.
func (e *Evaluation) FirstIncomplete() int {
	for i, item := range e.Items {
		if item.Grade == "" && item.Comment == "" {
			return i
		}
	}
	return -1
}

// itemIndex resolves an item id to its position, -1 when absent.
func (e *Evaluation) itemIndex(itemID string) int {
	for i, item := range e.Items {
		if item.ItemID == itemID {
			return i
		}
	}
	return -1
}
