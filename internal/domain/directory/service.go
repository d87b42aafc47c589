package directory

import (
	"context"
	"errors"
)

type Service struct {
	store StoreAPI
}

type StoreAPI interface {
	GetUser(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context, department string) ([]User, error)
	CreateUser(ctx context.Context, email, displayName, role, department, passwordHash string) (string, error)
	UpdateUser(ctx context.Context, id, displayName, role, department string) error
	DeleteUser(ctx context.Context, id string) error
	SetManagedDepartments(ctx context.Context, userID string, departments []string) error
	ListDepartments(ctx context.Context) ([]Department, error)
}

func NewService(store StoreAPI) *Service {
	return &Service{store: store}
}

func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	return s.store.GetUser(ctx, id)
}

// GetUserOrPlaceholder degrades a missing user to a placeholder record so
// evaluation loads survive a deleted evaluatee.
func (s *Service) GetUserOrPlaceholder(ctx context.Context, id string) (User, error) {
	user, err := s.store.GetUser(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return User{ID: id, DisplayName: DeletedUserName}, nil
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *Service) ListUsers(ctx context.Context, department string) ([]User, error) {
	return s.store.ListUsers(ctx, department)
}

func (s *Service) CreateUser(ctx context.Context, email, displayName, role, department, passwordHash string) (string, error) {
	return s.store.CreateUser(ctx, email, displayName, role, department, passwordHash)
}

func (s *Service) UpdateUser(ctx context.Context, id, displayName, role, department string) error {
	return s.store.UpdateUser(ctx, id, displayName, role, department)
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	return s.store.DeleteUser(ctx, id)
}

func (s *Service) SetManagedDepartments(ctx context.Context, userID string, departments []string) error {
	return s.store.SetManagedDepartments(ctx, userID, departments)
}

func (s *Service) ListDepartments(ctx context.Context) ([]Department, error) {
	return s.store.ListDepartments(ctx)
}

// Manages reports whether the given user supervises the department, either
// directly or through the managed-department set.
func Manages(user User, department string) bool {
	if user.Department == department {
		return true
	}
	for _, dept := range user.ManagedDepartments {
		if dept == department {
			return true
		}
	}
	return false
}
