package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-thesis-api/internal/models"
)

// ErrVersionConflict is returned when a conditional write finds a different
// version than the caller expected.
var ErrVersionConflict = errors.New("version conflict")

const thesisColumns = `id, title, abstract, keywords, student_ref, supervisor_ref, status, document_ref,
       submission_date, last_resubmitted_at, approval_date, review_feedback, version, created_at, updated_at`

// ThesisRepository persists thesis records in PostgreSQL.
type ThesisRepository struct {
	db *sqlx.DB
}

// NewThesisRepository constructs the repository.
func NewThesisRepository(db *sqlx.DB) *ThesisRepository {
	return &ThesisRepository{db: db}
}

// GetByID fetches a thesis by identifier. Absent rows yield sql.ErrNoRows.
func (r *ThesisRepository) GetByID(ctx context.Context, id string) (*models.Thesis, error) {
	query := fmt.Sprintf("SELECT %s FROM theses WHERE id = $1", thesisColumns)
	var thesis models.Thesis
	if err := r.db.GetContext(ctx, &thesis, query, id); err != nil {
		return nil, err
	}
	return &thesis, nil
}

// List returns theses matching the filter, newest first, plus the total count.
func (r *ThesisRepository) List(ctx context.Context, filter models.ThesisFilter) ([]models.Thesis, int, error) {
	args := make([]interface{}, 0, 6)
	conditions := make([]string, 0, 4)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.StudentRef != "" {
		args = append(args, filter.StudentRef)
		conditions = append(conditions, fmt.Sprintf("student_ref = $%d", len(args)))
	}
	if filter.SupervisorRef != "" {
		args = append(args, filter.SupervisorRef)
		conditions = append(conditions, fmt.Sprintf("supervisor_ref = $%d", len(args)))
	}
	if keyword := strings.TrimSpace(filter.KeywordContains); keyword != "" {
		args = append(args, "%"+strings.ToLower(keyword)+"%")
		conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(keywords) AS k WHERE LOWER(k) LIKE $%d)", len(args)))
	}

	base := "FROM theses"
	if len(conditions) > 0 {
		base += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC, id LIMIT %d OFFSET %d", thesisColumns, base, limit, offset)
	var theses []models.Thesis
	if err := r.db.SelectContext(ctx, &theses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list theses: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count theses: %w", err)
	}
	return theses, total, nil
}

// Create inserts a new thesis row.
func (r *ThesisRepository) Create(ctx context.Context, thesis *models.Thesis) error {
	if thesis.ID == "" {
		thesis.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if thesis.CreatedAt.IsZero() {
		thesis.CreatedAt = now
	}
	if thesis.UpdatedAt.IsZero() {
		thesis.UpdatedAt = thesis.CreatedAt
	}
	const query = `INSERT INTO theses
	(id, title, abstract, keywords, student_ref, supervisor_ref, status, document_ref, submission_date,
	 last_resubmitted_at, approval_date, review_feedback, version, created_at, updated_at)
	VALUES (:id, :title, :abstract, :keywords, :student_ref, :supervisor_ref, :status, :document_ref, :submission_date,
	 :last_resubmitted_at, :approval_date, :review_feedback, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, thesis); err != nil {
		return fmt.Errorf("create thesis: %w", err)
	}
	return nil
}

// Save writes every mutable column of thesis provided the stored row still
// carries expectedVersion. When feedback is non-nil it is appended in the same
// transaction. A lost compare-and-swap yields ErrVersionConflict.
func (r *ThesisRepository) Save(ctx context.Context, thesis *models.Thesis, expectedVersion int, feedback *models.ReviewFeedbackEntry) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save thesis tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `UPDATE theses SET title = $1, abstract = $2, keywords = $3, status = $4, document_ref = $5,
	submission_date = $6, last_resubmitted_at = $7, approval_date = $8, review_feedback = $9, version = $10, updated_at = $11
	WHERE id = $12 AND version = $13`
	res, err := tx.ExecContext(ctx, query,
		thesis.Title, thesis.Abstract, thesis.Keywords, thesis.Status, thesis.DocumentRef,
		thesis.SubmissionDate, thesis.LastResubmittedAt, thesis.ApprovalDate, thesis.ReviewFeedback,
		thesis.Version, thesis.UpdatedAt, thesis.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("save thesis: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save thesis rows: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	if feedback != nil {
		if err = insertFeedback(ctx, tx, feedback); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save thesis tx: %w", err)
	}
	return nil
}

// Delete removes the thesis when the stored version matches expectedVersion.
func (r *ThesisRepository) Delete(ctx context.Context, id string, expectedVersion int) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM theses WHERE id = $1 AND version = $2", id, expectedVersion)
	if err != nil {
		return fmt.Errorf("delete thesis: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete thesis rows: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}
