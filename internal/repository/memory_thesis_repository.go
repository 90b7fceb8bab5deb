package repository

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sma-thesis-api/internal/models"
)

// MemoryThesisRepository keeps theses and their feedback log in process. It
// honours the same compare-and-swap contract as ThesisRepository and is used
// for single-node deployments without PostgreSQL and in tests.
type MemoryThesisRepository struct {
	mu       sync.RWMutex
	theses   map[string]*models.Thesis
	feedback map[string][]models.ReviewFeedbackEntry
}

// NewMemoryThesisRepository constructs an empty repository.
func NewMemoryThesisRepository() *MemoryThesisRepository {
	return &MemoryThesisRepository{
		theses:   make(map[string]*models.Thesis),
		feedback: make(map[string][]models.ReviewFeedbackEntry),
	}
}

// GetByID returns a copy of the stored thesis or sql.ErrNoRows.
func (r *MemoryThesisRepository) GetByID(ctx context.Context, id string) (*models.Thesis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	thesis, ok := r.theses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return thesis.Clone(), nil
}

// List filters stored theses, newest first.
func (r *MemoryThesisRepository) List(ctx context.Context, filter models.ThesisFilter) ([]models.Thesis, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.mu.RLock()
	matched := make([]models.Thesis, 0, len(r.theses))
	for _, thesis := range r.theses {
		if matchesFilter(thesis, filter) {
			matched = append(matched, *thesis.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []models.Thesis{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// Create stores a new thesis.
func (r *MemoryThesisRepository) Create(ctx context.Context, thesis *models.Thesis) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if thesis.ID == "" {
		thesis.ID = uuid.NewString()
	}
	if thesis.CreatedAt.IsZero() {
		thesis.CreatedAt = time.Now().UTC()
	}
	if thesis.UpdatedAt.IsZero() {
		thesis.UpdatedAt = thesis.CreatedAt
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.theses[thesis.ID] = thesis.Clone()
	return nil
}

// Save replaces the stored thesis when its version equals expectedVersion and
// appends feedback under the same lock.
func (r *MemoryThesisRepository) Save(ctx context.Context, thesis *models.Thesis, expectedVersion int, feedback *models.ReviewFeedbackEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.theses[thesis.ID]
	if !ok || current.Version != expectedVersion {
		return ErrVersionConflict
	}
	r.theses[thesis.ID] = thesis.Clone()
	if feedback != nil {
		r.appendLocked(feedback)
	}
	return nil
}

// Delete removes the thesis and its feedback when the version matches.
func (r *MemoryThesisRepository) Delete(ctx context.Context, id string, expectedVersion int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.theses[id]
	if !ok || current.Version != expectedVersion {
		return ErrVersionConflict
	}
	delete(r.theses, id)
	delete(r.feedback, id)
	return nil
}

// Latest returns the newest feedback entry or sql.ErrNoRows.
func (r *MemoryThesisRepository) Latest(ctx context.Context, thesisID string) (*models.ReviewFeedbackEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.feedback[thesisID]
	if len(entries) == 0 {
		return nil, sql.ErrNoRows
	}
	latest := entries[len(entries)-1]
	return &latest, nil
}

// History returns the feedback entries oldest first.
func (r *MemoryThesisRepository) History(ctx context.Context, thesisID string) ([]models.ReviewFeedbackEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.feedback[thesisID]
	out := make([]models.ReviewFeedbackEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// entries stay ordered by authoredAt; equal timestamps keep insertion order.
func (r *MemoryThesisRepository) appendLocked(entry *models.ReviewFeedbackEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.AuthoredAt.IsZero() {
		entry.AuthoredAt = time.Now().UTC()
	}
	entries := append(r.feedback[entry.ThesisID], *entry)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].AuthoredAt.Before(entries[j].AuthoredAt)
	})
	r.feedback[entry.ThesisID] = entries
}

func matchesFilter(thesis *models.Thesis, filter models.ThesisFilter) bool {
	if len(filter.Status) > 0 {
		found := false
		for _, status := range filter.Status {
			if thesis.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.StudentRef != "" && thesis.StudentRef != filter.StudentRef {
		return false
	}
	if filter.SupervisorRef != "" && thesis.SupervisorRef != filter.SupervisorRef {
		return false
	}
	if keyword := strings.ToLower(strings.TrimSpace(filter.KeywordContains)); keyword != "" {
		for _, k := range thesis.Keywords {
			if strings.Contains(strings.ToLower(k), keyword) {
				return true
			}
		}
		return false
	}
	return true
}
