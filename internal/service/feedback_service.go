package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-thesis-api/internal/models"
	appErrors "github.com/noah-isme/sma-thesis-api/pkg/errors"
)

type feedbackStore interface {
	Latest(ctx context.Context, thesisID string) (*models.ReviewFeedbackEntry, error)
	History(ctx context.Context, thesisID string) ([]models.ReviewFeedbackEntry, error)
}

type thesisFeedbackWriter interface {
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Thesis, error)
	AppendFeedback(ctx context.Context, id, comment string, actor *models.JWTClaims) (*models.ReviewFeedbackEntry, error)
}

// FeedbackService exposes the append-only review feedback log.
type FeedbackService struct {
	store  feedbackStore
	theses thesisFeedbackWriter
	logger *zap.Logger
}

// NewFeedbackService constructs the service.
func NewFeedbackService(store feedbackStore, theses thesisFeedbackWriter, logger *zap.Logger) *FeedbackService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackService{
		store:  store,
		theses: theses,
		logger: logger,
	}
}

// Append records a standalone comment on a thesis. Writes go through the
// workflow engine so the entry and the record projection commit together.
func (s *FeedbackService) Append(ctx context.Context, thesisID, comment string, actor *models.JWTClaims) (*models.ReviewFeedbackEntry, error) {
	entry, err := s.theses.AppendFeedback(ctx, thesisID, comment, actor)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("feedback appended", zap.String("thesis_id", entry.ThesisID), zap.String("status", string(entry.Status)))
	return entry, nil
}

// LatestFor returns the most recent entry for a thesis, or nil when the
// thesis has none.
func (s *FeedbackService) LatestFor(ctx context.Context, thesisID string) (*models.ReviewFeedbackEntry, error) {
	entry, err := s.store.Latest(ctx, thesisID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Storage(err, "failed to load feedback")
	}
	return entry, nil
}

// Latest is LatestFor behind the thesis read policy.
func (s *FeedbackService) Latest(ctx context.Context, thesisID string, actor *models.JWTClaims) (*models.ReviewFeedbackEntry, error) {
	if _, err := s.theses.Get(ctx, thesisID, actor); err != nil {
		return nil, err
	}
	return s.LatestFor(ctx, thesisID)
}

// History lists every entry of a visible thesis, oldest first.
func (s *FeedbackService) History(ctx context.Context, thesisID string, actor *models.JWTClaims) ([]models.ReviewFeedbackEntry, error) {
	if _, err := s.theses.Get(ctx, thesisID, actor); err != nil {
		return nil, err
	}
	entries, err := s.store.History(ctx, thesisID)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to load feedback history")
	}
	if entries == nil {
		entries = []models.ReviewFeedbackEntry{}
	}
	return entries, nil
}
