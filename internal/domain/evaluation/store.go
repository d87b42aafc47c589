package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// isUniqueViolation reports whether the error is a Postgres unique-constraint
// failure, the only store error the score upsert recovers from.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

func (s *Store) GetEvaluation(ctx context.Context, id string) (Evaluation, error) {
	var e Evaluation
	err := s.DB.QueryRow(ctx, `
    SELECT e.id, e.evaluatee_id, e.period_id, p.template_id, e.stage, e.status,
           COALESCE(e.overall_comment, ''), COALESCE(e.overall_grade, ''), COALESCE(e.final_decision, ''),
           COALESCE(e.evaluator_id::text, ''), e.submitted_at
    FROM evaluations e
    JOIN periods p ON e.period_id = p.id
    WHERE e.id = $1
  `, id).Scan(&e.ID, &e.EvaluateeID, &e.PeriodID, &e.TemplateID, &e.Stage, &e.Status,
		&e.OverallComment, &e.OverallGrade, &e.FinalDecision, &e.EvaluatorID, &e.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Evaluation{}, ErrNotFound
	}
	if err != nil {
		return Evaluation{}, err
	}
	return e, nil
}

func (s *Store) ListEvaluations(ctx context.Context, filter Filter) ([]Evaluation, error) {
	query := `
    SELECT e.id, e.evaluatee_id, e.period_id, p.template_id, e.stage, e.status,
           COALESCE(e.overall_comment, ''), COALESCE(e.overall_grade, ''), COALESCE(e.final_decision, ''),
           COALESCE(e.evaluator_id::text, ''), e.submitted_at
    FROM evaluations e
    JOIN periods p ON e.period_id = p.id
    WHERE 1=1
  `
	args := []any{}
	if filter.EvaluateeID != "" {
		query += fmt.Sprintf(" AND e.evaluatee_id = $%d", len(args)+1)
		args = append(args, filter.EvaluateeID)
	}
	if filter.PeriodID != "" {
		query += fmt.Sprintf(" AND e.period_id = $%d", len(args)+1)
		args = append(args, filter.PeriodID)
	}
	if filter.Stage != "" {
		query += fmt.Sprintf(" AND e.stage = $%d", len(args)+1)
		args = append(args, filter.Stage)
	}
	if len(filter.Statuses) > 0 {
		query += fmt.Sprintf(" AND e.status = ANY($%d)", len(args)+1)
		args = append(args, filter.Statuses)
	}
	query += " ORDER BY e.created_at"

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Evaluation
	for rows.Next() {
		var e Evaluation
		if err := rows.Scan(&e.ID, &e.EvaluateeID, &e.PeriodID, &e.TemplateID, &e.Stage, &e.Status,
			&e.OverallComment, &e.OverallGrade, &e.FinalDecision, &e.EvaluatorID, &e.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) UpdateEvaluation(ctx context.Context, id string, partial Partial) error {
	query := "UPDATE evaluations SET id = id"
	args := []any{id}
	set := func(column string, value any) {
		query += fmt.Sprintf(", %s = $%d", column, len(args)+1)
		args = append(args, value)
	}
	if partial.Status != nil {
		set("status", *partial.Status)
	}
	if partial.OverallComment != nil {
		set("overall_comment", *partial.OverallComment)
	}
	if partial.OverallGrade != nil {
		set("overall_grade", *partial.OverallGrade)
	}
	if partial.FinalDecision != nil {
		set("final_decision", *partial.FinalDecision)
	}
	if partial.EvaluatorID != nil {
		set("evaluator_id", *partial.EvaluatorID)
	}
	if partial.SubmittedAt != nil {
		set("submitted_at", *partial.SubmittedAt)
	}
	query += " WHERE id = $1"
	tag, err := s.DB.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) InsertEvaluations(ctx context.Context, records []Evaluation) error {
	for _, record := range records {
		status := record.Status
		if status == "" {
			status = StatusPending
		}
		if _, err := s.DB.Exec(ctx, `
      INSERT INTO evaluations (evaluatee_id, period_id, stage, status)
      VALUES ($1,$2,$3,$4)
      ON CONFLICT (evaluatee_id, period_id, stage) DO NOTHING
    `, record.EvaluateeID, record.PeriodID, record.Stage, status); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceScore upserts one score row. If the unique constraint still fires
// (concurrent insert racing the conflict target), it falls back to
// delete-then-insert so the latest value wins.
func (s *Store) ReplaceScore(ctx context.Context, record ScoreRecord) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO evaluation_scores (evaluation_id, item_id, grade, score, comment, updated_at)
    VALUES ($1,$2,$3,$4,$5,now())
    ON CONFLICT (evaluation_id, item_id)
    DO UPDATE SET grade = EXCLUDED.grade, score = EXCLUDED.score, comment = EXCLUDED.comment, updated_at = now()
  `, record.EvaluationID, record.ItemID, record.Grade, record.Score, record.Comment)
	if err == nil {
		return nil
	}

	if !isUniqueViolation(err) {
		return err
	}

	if _, err := s.DB.Exec(ctx, "DELETE FROM evaluation_scores WHERE evaluation_id = $1 AND item_id = $2",
		record.EvaluationID, record.ItemID); err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
    INSERT INTO evaluation_scores (evaluation_id, item_id, grade, score, comment, updated_at)
    VALUES ($1,$2,$3,$4,$5,now())
  `, record.EvaluationID, record.ItemID, record.Grade, record.Score, record.Comment)
	return err
}

func (s *Store) DeleteScore(ctx context.Context, evaluationID, itemID string) error {
	_, err := s.DB.Exec(ctx, "DELETE FROM evaluation_scores WHERE evaluation_id = $1 AND item_id = $2", evaluationID, itemID)
	return err
}

func (s *Store) ListScores(ctx context.Context, evaluationID string) ([]ScoreRecord, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT evaluation_id, item_id, grade, score, COALESCE(comment, '')
    FROM evaluation_scores
    WHERE evaluation_id = $1
  `, evaluationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoreRecord
	for rows.Next() {
		var record ScoreRecord
		if err := rows.Scan(&record.EvaluationID, &record.ItemID, &record.Grade, &record.Score, &record.Comment); err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *Store) TemplateItems(ctx context.Context, templateID string) ([]EvaluationItem, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, name, COALESCE(description, ''), weight, grade_scores, grade_criteria,
           enabled_grades, COALESCE(category, ''), COALESCE(subcategory, ''), hide_criteria_from_self, position
    FROM template_items
    WHERE template_id = $1
    ORDER BY position
  `, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []EvaluationItem
	for rows.Next() {
		var item EvaluationItem
		var scoresJSON, criteriaJSON []byte
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.Weight, &scoresJSON, &criteriaJSON,
			&item.EnabledGrades, &item.Category, &item.Subcategory, &item.HideCriteriaFromSelf, &item.Position); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(scoresJSON, &item.GradeScores); err != nil {
			return nil, fmt.Errorf("template item %s grade scores: %w", item.ID, err)
		}
		if len(criteriaJSON) > 0 {
			if err := json.Unmarshal(criteriaJSON, &item.GradeCriteria); err != nil {
				return nil, fmt.Errorf("template item %s grade criteria: %w", item.ID, err)
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.DB.Query(ctx, "SELECT id, name FROM templates ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var template Template
		if err := rows.Scan(&template.ID, &template.Name); err != nil {
			return nil, err
		}
		out = append(out, template)
	}
	return out, rows.Err()
}

func (s *Store) GetTemplate(ctx context.Context, id string) (Template, error) {
	var template Template
	err := s.DB.QueryRow(ctx, "SELECT id, name FROM templates WHERE id = $1", id).Scan(&template.ID, &template.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Template{}, ErrNotFound
	}
	if err != nil {
		return Template{}, err
	}
	items, err := s.TemplateItems(ctx, id)
	if err != nil {
		return Template{}, err
	}
	template.Items = items
	return template, nil
}

// SaveTemplate creates or updates a template and replaces its items with the
// given ordered set.
func (s *Store) SaveTemplate(ctx context.Context, template Template) (string, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := template.ID
	if id == "" {
		if err := tx.QueryRow(ctx, "INSERT INTO templates (name) VALUES ($1) RETURNING id", template.Name).Scan(&id); err != nil {
			return "", err
		}
	} else {
		if _, err := tx.Exec(ctx, "UPDATE templates SET name = $2 WHERE id = $1", id, template.Name); err != nil {
			return "", err
		}
		if _, err := tx.Exec(ctx, "DELETE FROM template_items WHERE template_id = $1", id); err != nil {
			return "", err
		}
	}

	for pos, item := range template.Items {
		scoresJSON, err := json.Marshal(item.GradeScores)
		if err != nil {
			return "", err
		}
		criteriaJSON, err := json.Marshal(item.GradeCriteria)
		if err != nil {
			return "", err
		}
		if _, err := tx.Exec(ctx, `
      INSERT INTO template_items (template_id, name, description, weight, grade_scores, grade_criteria,
                                  enabled_grades, category, subcategory, hide_criteria_from_self, position)
      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    `, id, item.Name, item.Description, item.Weight, scoresJSON, criteriaJSON,
			item.EnabledGrades, item.Category, item.Subcategory, item.HideCriteriaFromSelf, pos); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) GetPeriod(ctx context.Context, id string) (Period, error) {
	var period Period
	err := s.DB.QueryRow(ctx, `
    SELECT id, name, template_id, start_date, end_date
    FROM periods
    WHERE id = $1
  `, id).Scan(&period.ID, &period.Name, &period.TemplateID, &period.StartDate, &period.EndDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, ErrNotFound
	}
	if err != nil {
		return Period{}, err
	}
	return period, nil
}

func (s *Store) ListPeriods(ctx context.Context) ([]Period, error) {
	rows, err := s.DB.Query(ctx, "SELECT id, name, template_id, start_date, end_date FROM periods ORDER BY start_date DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Period
	for rows.Next() {
		var period Period
		if err := rows.Scan(&period.ID, &period.Name, &period.TemplateID, &period.StartDate, &period.EndDate); err != nil {
			return nil, err
		}
		out = append(out, period)
	}
	return out, rows.Err()
}

func (s *Store) SavePeriod(ctx context.Context, period Period) (string, error) {
	if period.ID == "" {
		var id string
		err := s.DB.QueryRow(ctx, `
      INSERT INTO periods (name, template_id, start_date, end_date)
      VALUES ($1,$2,$3,$4)
      RETURNING id
    `, period.Name, period.TemplateID, period.StartDate, period.EndDate).Scan(&id)
		return id, err
	}
	_, err := s.DB.Exec(ctx, `
    UPDATE periods SET name = $2, template_id = $3, start_date = $4, end_date = $5 WHERE id = $1
  `, period.ID, period.Name, period.TemplateID, period.StartDate, period.EndDate)
	return period.ID, err
}

func (s *Store) PriorPeriod(ctx context.Context, startBefore time.Time) (Period, error) {
	var period Period
	err := s.DB.QueryRow(ctx, `
    SELECT id, name, template_id, start_date, end_date
    FROM periods
    WHERE start_date < $1
    ORDER BY start_date DESC
    LIMIT 1
  `, startBefore).Scan(&period.ID, &period.Name, &period.TemplateID, &period.StartDate, &period.EndDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, ErrNotFound
	}
	if err != nil {
		return Period{}, err
	}
	return period, nil
}
