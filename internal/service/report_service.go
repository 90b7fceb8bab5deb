package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-thesis-api/internal/models"
	appErrors "github.com/noah-isme/sma-thesis-api/pkg/errors"
	"github.com/noah-isme/sma-thesis-api/pkg/export"
)

const reportKeyPrefix = "thesis:report:"

type thesisReader interface {
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Thesis, error)
}

type feedbackHistory interface {
	History(ctx context.Context, thesisID string) ([]models.ReviewFeedbackEntry, error)
}

type reportCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

type pdfRenderer interface {
	Render(doc export.Document) ([]byte, error)
}

// ReportServiceConfig governs report caching.
type ReportServiceConfig struct {
	CacheTTL time.Duration
}

// ThesisReport is a rendered PDF summary.
type ThesisReport struct {
	Filename string
	Content  []byte
	Cached   bool
}

// ReportService renders thesis summaries with their review history. Reports
// are cached per thesis version so any mutation yields a fresh render.
type ReportService struct {
	theses   thesisReader
	feedback feedbackHistory
	cache    reportCache
	renderer pdfRenderer
	logger   *zap.Logger
	cfg      ReportServiceConfig
}

// NewReportService constructs the report service. cache may be nil.
func NewReportService(theses thesisReader, feedback feedbackHistory, cache reportCache, renderer pdfRenderer, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if renderer == nil {
		renderer = export.NewPDFExporter()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &ReportService{
		theses:   theses,
		feedback: feedback,
		cache:    cache,
		renderer: renderer,
		logger:   logger,
		cfg:      cfg,
	}
}

// Generate returns the PDF report for a visible thesis.
func (s *ReportService) Generate(ctx context.Context, id string, actor *models.JWTClaims) (*ThesisReport, error) {
	thesis, err := s.theses.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	filename := fmt.Sprintf("thesis-%s-v%d.pdf", thesis.ID, thesis.Version)
	key := reportKey(thesis.ID, thesis.Version)
	if s.cache != nil {
		if payload, hit, err := s.cache.Get(ctx, key); err == nil && hit {
			return &ThesisReport{Filename: filename, Content: payload, Cached: true}, nil
		}
	}

	history, err := s.feedback.History(ctx, thesis.ID)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to load feedback history")
	}
	content, err := s.renderer.Render(buildReportDocument(thesis, history))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, content, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("failed to cache thesis report", zap.String("thesis_id", thesis.ID), zap.Error(err))
		}
	}
	return &ThesisReport{Filename: filename, Content: content}, nil
}

// Invalidate drops every cached version of a thesis report.
func (s *ReportService) Invalidate(ctx context.Context, thesisID string) {
	if s == nil {
		return
	}
	NewReportInvalidator(s.cache, s.logger).Invalidate(ctx, thesisID)
}

// ReportInvalidator drops cached reports without needing the thesis reader,
// so the engine can hold one while the report service reads through it.
type ReportInvalidator struct {
	cache  reportCache
	logger *zap.Logger
}

// NewReportInvalidator builds an invalidator over the report cache.
func NewReportInvalidator(cache reportCache, logger *zap.Logger) *ReportInvalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportInvalidator{cache: cache, logger: logger}
}

// Invalidate removes every cached version of the thesis report.
func (i *ReportInvalidator) Invalidate(ctx context.Context, thesisID string) {
	if i == nil || i.cache == nil {
		return
	}
	if err := i.cache.Invalidate(ctx, reportKeyPrefix+thesisID+":*"); err != nil {
		i.logger.Warn("failed to invalidate thesis report", zap.String("thesis_id", thesisID), zap.Error(err))
	}
}

func reportKey(thesisID string, version int) string {
	return reportKeyPrefix + thesisID + ":v" + strconv.Itoa(version)
}

func buildReportDocument(thesis *models.Thesis, history []models.ReviewFeedbackEntry) export.Document {
	doc := export.Document{
		Title: thesis.Title,
		Fields: []export.Field{
			{Label: "Status", Value: string(thesis.Status)},
			{Label: "Version", Value: strconv.Itoa(thesis.Version)},
			{Label: "Student", Value: thesis.StudentRef},
			{Label: "Supervisor", Value: thesis.SupervisorRef},
			{Label: "Keywords", Value: strings.Join(thesis.Keywords, ", ")},
			{Label: "Submitted", Value: formatReportTime(thesis.SubmissionDate)},
			{Label: "Last resubmitted", Value: formatReportTime(thesis.LastResubmittedAt)},
			{Label: "Approved", Value: formatReportTime(thesis.ApprovalDate)},
			{Label: "Abstract", Value: derefString(thesis.Abstract)},
		},
		SectionTitle: "Review history",
		Table: export.Dataset{
			Headers: []string{"Date", "Status", "Author", "Comment"},
			Rows:    make([]map[string]string, 0, len(history)),
		},
	}
	for _, entry := range history {
		doc.Table.Rows = append(doc.Table.Rows, map[string]string{
			"Date":    entry.AuthoredAt.UTC().Format("2006-01-02 15:04"),
			"Status":  string(entry.Status),
			"Author":  entry.AuthorRef,
			"Comment": entry.Comment,
		})
	}
	return doc
}

func formatReportTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04 MST")
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
