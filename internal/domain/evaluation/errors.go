package evaluation

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by loads when the evaluation, template or period
// does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError blocks submission: at least one item has neither grade nor
// comment and is not on hold.
type ValidationError struct {
	Untouched []ItemRef
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%d item(s) untouched", len(e.Untouched))
}

// ConfirmationError does not block submission; it asks the caller to confirm
// the comment-only and held items before retrying with confirmation set.
type ConfirmationError struct {
	CommentOnly []ItemRef
	HoldCount   int
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("confirmation required: %d comment-only item(s), %d on hold", len(e.CommentOnly), e.HoldCount)
}

// PersistenceError wraps a store failure with the identity of the item whose
// write failed.
type PersistenceError struct {
	ItemID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist item %s: %v", e.ItemID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
