package directory

import (
	"errors"
	"time"
)

// ErrNotFound is returned by user lookups when no active row matches.
var ErrNotFound = errors.New("user not found")

// DeletedUserName is shown in place of an evaluatee whose account was
// removed; evaluation loads must not fail on a missing user.
const DeletedUserName = "(deleted user)"

type User struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	DisplayName        string     `json:"displayName"`
	Role               string     `json:"role"`
	Department         string     `json:"department"`
	ManagedDepartments []string   `json:"managedDepartments,omitempty"`
	LastLogin          *time.Time `json:"lastLogin,omitempty"`
}

type Department struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
