package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-thesis-api/internal/models"
)

// FeedbackRepository reads review feedback entries. Entries are written only
// by ThesisRepository.Save, in the transaction that updates the thesis.
type FeedbackRepository struct {
	db *sqlx.DB
}

// NewFeedbackRepository constructs the repository.
func NewFeedbackRepository(db *sqlx.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// Latest returns the most recent entry for a thesis or sql.ErrNoRows.
func (r *FeedbackRepository) Latest(ctx context.Context, thesisID string) (*models.ReviewFeedbackEntry, error) {
	const query = `SELECT id, thesis_id, status, comment, author_ref, authored_at
	FROM thesis_feedback WHERE thesis_id = $1 ORDER BY authored_at DESC, seq DESC LIMIT 1`
	var entry models.ReviewFeedbackEntry
	if err := r.db.GetContext(ctx, &entry, query, thesisID); err != nil {
		return nil, err
	}
	return &entry, nil
}

// History returns every entry for a thesis oldest first.
func (r *FeedbackRepository) History(ctx context.Context, thesisID string) ([]models.ReviewFeedbackEntry, error) {
	const query = `SELECT id, thesis_id, status, comment, author_ref, authored_at
	FROM thesis_feedback WHERE thesis_id = $1 ORDER BY authored_at ASC, seq ASC`
	var entries []models.ReviewFeedbackEntry
	if err := r.db.SelectContext(ctx, &entries, query, thesisID); err != nil {
		return nil, fmt.Errorf("list thesis feedback: %w", err)
	}
	return entries, nil
}

func insertFeedback(ctx context.Context, exec sqlx.ExtContext, entry *models.ReviewFeedbackEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.AuthoredAt.IsZero() {
		entry.AuthoredAt = time.Now().UTC()
	}
	const query = `INSERT INTO thesis_feedback (id, thesis_id, status, comment, author_ref, authored_at)
	VALUES (:id, :thesis_id, :status, :comment, :author_ref, :authored_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, entry); err != nil {
		return fmt.Errorf("append thesis feedback: %w", err)
	}
	return nil
}
