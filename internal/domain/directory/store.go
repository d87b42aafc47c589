package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	var user User
	err := s.DB.QueryRow(ctx, `
    SELECT id, email, display_name, role, department
    FROM users
    WHERE id = $1 AND deleted_at IS NULL
  `, id).Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.Department)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	managed, err := s.managedDepartments(ctx, id)
	if err != nil {
		return User{}, err
	}
	user.ManagedDepartments = managed
	return user, nil
}

func (s *Store) ListUsers(ctx context.Context, department string) ([]User, error) {
	query := `
    SELECT id, email, display_name, role, department
    FROM users
    WHERE deleted_at IS NULL
  `
	args := []any{}
	if department != "" {
		query += " AND department = $1"
		args = append(args, department)
	}
	query += " ORDER BY display_name"

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.Department); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, email, displayName, role, department, passwordHash string) (string, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
    INSERT INTO users (email, display_name, role, department, password_hash)
    VALUES ($1,$2,$3,$4,$5)
    RETURNING id
  `, email, displayName, role, department, passwordHash).Scan(&id)
	return id, err
}

func (s *Store) UpdateUser(ctx context.Context, id, displayName, role, department string) error {
	_, err := s.DB.Exec(ctx, `
    UPDATE users
    SET display_name = $2, role = $3, department = $4
    WHERE id = $1 AND deleted_at IS NULL
  `, id, displayName, role, department)
	return err
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	_, err := s.DB.Exec(ctx, "UPDATE users SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL", id)
	return err
}

func (s *Store) SetManagedDepartments(ctx context.Context, userID string, departments []string) error {
	if _, err := s.DB.Exec(ctx, "DELETE FROM managed_departments WHERE user_id = $1", userID); err != nil {
		return err
	}
	for _, dept := range departments {
		if _, err := s.DB.Exec(ctx, `
      INSERT INTO managed_departments (user_id, department)
      VALUES ($1,$2)
      ON CONFLICT (user_id, department) DO NOTHING
    `, userID, dept); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) managedDepartments(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.DB.Query(ctx, "SELECT department FROM managed_departments WHERE user_id = $1 ORDER BY department", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var dept string
		if err := rows.Scan(&dept); err != nil {
			return nil, err
		}
		out = append(out, dept)
	}
	return out, rows.Err()
}

func (s *Store) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := s.DB.Query(ctx, "SELECT id, name FROM departments ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Department
	for rows.Next() {
		var dept Department
		if err := rows.Scan(&dept.ID, &dept.Name); err != nil {
			return nil, err
		}
		out = append(out, dept)
	}
	return out, rows.Err()
}
