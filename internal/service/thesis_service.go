package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-thesis-api/internal/dto"
	"github.com/noah-isme/sma-thesis-api/internal/models"
	"github.com/noah-isme/sma-thesis-api/internal/repository"
	"github.com/noah-isme/sma-thesis-api/internal/workflow"
	appErrors "github.com/noah-isme/sma-thesis-api/pkg/errors"
)

const (
	maxTitleLength    = 300
	maxAbstractLength = 5000
	maxKeywordLength  = 64
	maxKeywords       = 20
	maxCommentLength  = 4000

	feedbackSaveAttempts = 3
)

// Transition outcomes reported to metrics.
const (
	TransitionResultSuccess   = "success"
	TransitionResultInvalid   = "invalid"
	TransitionResultForbidden = "forbidden"
	TransitionResultConflict  = "conflict"
)

type thesisStore interface {
	GetByID(ctx context.Context, id string) (*models.Thesis, error)
	List(ctx context.Context, filter models.ThesisFilter) ([]models.Thesis, int, error)
	Create(ctx context.Context, thesis *models.Thesis) error
	Save(ctx context.Context, thesis *models.Thesis, expectedVersion int, feedback *models.ReviewFeedbackEntry) error
	Delete(ctx context.Context, id string, expectedVersion int) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type workflowMetrics interface {
	RecordTransition(from, to models.ThesisStatus, result string)
	RecordVersionConflict(operation string)
}

type documentRemover interface {
	Schedule(thesisID, ref string)
}

type reportInvalidator interface {
	Invalidate(ctx context.Context, thesisID string)
}

// ThesisService is the thesis workflow engine. Every mutation checks, in
// order: existence, expected version, lifecycle rules, then actor policy.
type ThesisService struct {
	repo      thesisStore
	policy    *ThesisPolicy
	audit     auditLogger
	metrics   workflowMetrics
	cleanup   documentRemover
	reports   reportInvalidator
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// ThesisServiceOption configures the service.
type ThesisServiceOption func(*ThesisService)

// WithThesisPolicy overrides the default access policy.
func WithThesisPolicy(policy *ThesisPolicy) ThesisServiceOption {
	return func(s *ThesisService) {
		if policy != nil {
			s.policy = policy
		}
	}
}

// WithThesisAudit enables audit trail writes.
func WithThesisAudit(audit auditLogger) ThesisServiceOption {
	return func(s *ThesisService) { s.audit = audit }
}

// WithThesisMetrics records transition outcomes.
func WithThesisMetrics(metrics workflowMetrics) ThesisServiceOption {
	return func(s *ThesisService) { s.metrics = metrics }
}

// WithDocumentCleanup schedules blob removal for deleted theses.
func WithDocumentCleanup(cleanup documentRemover) ThesisServiceOption {
	return func(s *ThesisService) { s.cleanup = cleanup }
}

// WithReportInvalidator drops cached reports of deleted theses.
func WithReportInvalidator(reports reportInvalidator) ThesisServiceOption {
	return func(s *ThesisService) { s.reports = reports }
}

// WithThesisValidator injects a shared validator instance.
func WithThesisValidator(v *validator.Validate) ThesisServiceOption {
	return func(s *ThesisService) {
		if v != nil {
			s.validator = v
		}
	}
}

// WithThesisClock overrides the time source.
func WithThesisClock(now func() time.Time) ThesisServiceOption {
	return func(s *ThesisService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewThesisService constructs the engine with defaults.
func NewThesisService(repo thesisStore, logger *zap.Logger, opts ...ThesisServiceOption) *ThesisService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ThesisService{
		repo:      repo,
		policy:    NewThesisPolicy(nil),
		validator: validator.New(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	svc.validator.RegisterTagNameFunc(jsonFieldName)
	return svc
}

// Create opens a new thesis in DRAFT at version 0.
func (s *ThesisService) Create(ctx context.Context, req dto.CreateThesisRequest, actor *models.JWTClaims) (*models.Thesis, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if strings.TrimSpace(req.StudentRef) == "" && actor.Role == models.RoleStudent {
		req.StudentRef = actor.UserID
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationFrom(err, "invalid thesis payload")
	}

	details := map[string]string{}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		details["title"] = "must not be empty"
	}
	studentRef := strings.TrimSpace(req.StudentRef)
	if studentRef == "" {
		details["studentRef"] = "is required"
	}
	supervisorRef := strings.TrimSpace(req.SupervisorRef)
	if supervisorRef == "" {
		details["supervisorRef"] = "is required"
	}
	keywords := normalizeKeywords(req.Keywords, details)
	if len(details) > 0 {
		return nil, appErrors.Validation("invalid thesis payload", details)
	}
	if err := s.policy.CanCreate(actor, studentRef); err != nil {
		return nil, err
	}

	now := s.now()
	thesis := &models.Thesis{
		ID:            uuid.NewString(),
		Title:         title,
		Abstract:      normalizeOptional(req.Abstract),
		Keywords:      keywords,
		StudentRef:    studentRef,
		SupervisorRef: supervisorRef,
		Status:        models.ThesisStatusDraft,
		Version:       0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, thesis); err != nil {
		return nil, appErrors.Storage(err, "failed to create thesis")
	}
	s.emitAudit(ctx, actor, models.AuditActionThesisCreate, thesis.ID, nil, map[string]interface{}{
		"title":   thesis.Title,
		"status":  thesis.Status,
		"version": thesis.Version,
	})
	return thesis, nil
}

// Get loads a thesis visible to the actor.
func (s *ThesisService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Thesis, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	thesis, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanRead(actor, thesis); err != nil {
		return nil, err
	}
	return thesis, nil
}

// List returns theses matching the query within the actor's scope, plus the
// total match count.
func (s *ThesisService) List(ctx context.Context, query dto.ThesisQuery, actor *models.JWTClaims) ([]models.Thesis, int, error) {
	page := query.Page
	if page < 1 {
		page = 1
	}
	size := query.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	filter := models.ThesisFilter{
		Status:          query.Status,
		StudentRef:      strings.TrimSpace(query.StudentRef),
		SupervisorRef:   strings.TrimSpace(query.SupervisorRef),
		KeywordContains: strings.TrimSpace(query.Keyword),
		Limit:           size,
		Offset:          (page - 1) * size,
	}
	for _, status := range filter.Status {
		if !status.Valid() {
			return nil, 0, appErrors.Validation("invalid thesis filter", map[string]string{"status": "unknown status " + string(status)})
		}
	}
	if err := s.policy.Scope(actor, &filter); err != nil {
		return nil, 0, err
	}
	theses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Storage(err, "failed to list theses")
	}
	return theses, total, nil
}

// EditFields patches title, abstract and keywords while the thesis is in
// DRAFT or REVISION_NEEDED.
func (s *ThesisService) EditFields(ctx context.Context, id string, expectedVersion int, patch models.ThesisPatch, actor *models.JWTClaims) (*models.Thesis, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if patch.Empty() {
		return nil, appErrors.Validation("patch changes nothing", map[string]string{"patch": "at least one of title, abstract, keywords is required"})
	}
	details := map[string]string{}
	var title string
	if patch.Title != nil {
		title = strings.TrimSpace(*patch.Title)
		switch {
		case title == "":
			details["title"] = "must not be empty"
		case utf8.RuneCountInString(title) > maxTitleLength:
			details["title"] = fmt.Sprintf("must be at most %d characters", maxTitleLength)
		}
	}
	if patch.Abstract != nil && utf8.RuneCountInString(strings.TrimSpace(*patch.Abstract)) > maxAbstractLength {
		details["abstract"] = fmt.Sprintf("must be at most %d characters", maxAbstractLength)
	}
	var keywords pq.StringArray
	if patch.Keywords != nil {
		keywords = normalizeKeywords(patch.Keywords, details)
	}
	if len(details) > 0 {
		return nil, appErrors.Validation("invalid thesis patch", details)
	}

	thesis, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkVersion(thesis, expectedVersion, "edit"); err != nil {
		return nil, err
	}
	if !workflow.Editable(thesis.Status) {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, fmt.Sprintf("thesis cannot be edited in status %s", thesis.Status))
	}
	if err := s.policy.CanModify(actor, thesis); err != nil {
		return nil, err
	}

	before := map[string]interface{}{"title": thesis.Title, "abstract": thesis.Abstract, "keywords": thesis.Keywords}
	if patch.Title != nil {
		thesis.Title = title
	}
	if patch.Abstract != nil {
		thesis.Abstract = normalizeOptional(patch.Abstract)
	}
	if patch.Keywords != nil {
		thesis.Keywords = keywords
	}
	thesis.Version = expectedVersion + 1
	thesis.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, thesis, expectedVersion, nil); err != nil {
		return nil, s.persistError(err, "edit")
	}
	s.emitAudit(ctx, actor, models.AuditActionThesisUpdate, thesis.ID, before, map[string]interface{}{
		"title":    thesis.Title,
		"abstract": thesis.Abstract,
		"keywords": thesis.Keywords,
		"version":  thesis.Version,
	})
	return thesis, nil
}

// Delete hard-deletes a DRAFT thesis and schedules removal of its document.
func (s *ThesisService) Delete(ctx context.Context, id string, expectedVersion int, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	thesis, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.checkVersion(thesis, expectedVersion, "delete"); err != nil {
		return err
	}
	if !workflow.Deletable(thesis.Status) {
		return appErrors.Clone(appErrors.ErrPermissionDenied, fmt.Sprintf("thesis cannot be deleted in status %s", thesis.Status))
	}
	if err := s.policy.CanModify(actor, thesis); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id, expectedVersion); err != nil {
		return s.persistError(err, "delete")
	}
	// BindDocument always submits, so a DRAFT row carries a ref only when it
	// was written outside the engine, such as imported data.
	if thesis.DocumentRef != nil && s.cleanup != nil {
		s.cleanup.Schedule(thesis.ID, *thesis.DocumentRef)
	}
	if s.reports != nil {
		s.reports.Invalidate(ctx, thesis.ID)
	}
	s.emitAudit(ctx, actor, models.AuditActionThesisDelete, thesis.ID, map[string]interface{}{
		"title":   thesis.Title,
		"version": thesis.Version,
	}, nil)
	return nil
}

// Transition moves a thesis along one edge of the lifecycle table, applying
// timestamp side effects and recording comment as review feedback. The
// record update and the feedback entry commit together.
func (s *ThesisService) Transition(ctx context.Context, id string, expectedVersion int, target models.ThesisStatus, comment string, actor *models.JWTClaims) (*models.Thesis, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !target.Valid() {
		return nil, appErrors.Validation("invalid transition request", map[string]string{"status": "unknown status " + string(target)})
	}
	comment = strings.TrimSpace(comment)
	if utf8.RuneCountInString(comment) > maxCommentLength {
		return nil, appErrors.Validation("invalid transition request", map[string]string{"comment": fmt.Sprintf("must be at most %d characters", maxCommentLength)})
	}

	thesis, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	from := thesis.Status
	if err := s.checkVersion(thesis, expectedVersion, "transition"); err != nil {
		s.recordTransition(from, target, TransitionResultConflict)
		return nil, err
	}
	if !workflow.Allowed(from, target) {
		s.recordTransition(from, target, TransitionResultInvalid)
		if workflow.IsTerminal(from) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("thesis is %s; no further transitions are possible", from))
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move thesis from %s to %s", from, target))
	}
	if err := s.policy.CanTransition(actor, thesis, target); err != nil {
		s.recordTransition(from, target, TransitionResultForbidden)
		return nil, err
	}

	now := s.now()
	workflow.Enter(thesis, target, now)
	var entry *models.ReviewFeedbackEntry
	if comment != "" {
		entry = &models.ReviewFeedbackEntry{
			ID:         uuid.NewString(),
			ThesisID:   thesis.ID,
			Status:     target,
			Comment:    comment,
			AuthorRef:  actor.UserID,
			AuthoredAt: now,
		}
		projection := comment
		thesis.ReviewFeedback = &projection
	}
	thesis.Status = target
	thesis.Version = expectedVersion + 1
	thesis.UpdatedAt = now
	if err := s.repo.Save(ctx, thesis, expectedVersion, entry); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			s.recordTransition(from, target, TransitionResultConflict)
		}
		return nil, s.persistError(err, "transition")
	}
	s.recordTransition(from, target, TransitionResultSuccess)
	s.emitAudit(ctx, actor, models.AuditActionThesisTransition, thesis.ID,
		map[string]interface{}{"status": from, "version": expectedVersion},
		map[string]interface{}{"status": target, "version": thesis.Version, "comment": comment})
	return thesis, nil
}

// AppendFeedback records a comment outside of a transition. The entry is
// stamped with the current status and commits together with the record's
// reviewFeedback projection. No expected version is taken; a lost race
// reloads and retries.
func (s *ThesisService) AppendFeedback(ctx context.Context, id, comment string, actor *models.JWTClaims) (*models.ReviewFeedbackEntry, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	comment = strings.TrimSpace(comment)
	switch {
	case comment == "":
		return nil, appErrors.Validation("invalid feedback entry", map[string]string{"comment": "must not be empty"})
	case utf8.RuneCountInString(comment) > maxCommentLength:
		return nil, appErrors.Validation("invalid feedback entry", map[string]string{"comment": fmt.Sprintf("must be at most %d characters", maxCommentLength)})
	}

	var lastErr error
	for attempt := 0; attempt < feedbackSaveAttempts; attempt++ {
		thesis, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.policy.CanRead(actor, thesis); err != nil {
			return nil, err
		}
		now := s.now()
		entry := &models.ReviewFeedbackEntry{
			ID:         uuid.NewString(),
			ThesisID:   thesis.ID,
			Status:     thesis.Status,
			Comment:    comment,
			AuthorRef:  actor.UserID,
			AuthoredAt: now,
		}
		expected := thesis.Version
		projection := comment
		thesis.ReviewFeedback = &projection
		thesis.Version = expected + 1
		thesis.UpdatedAt = now
		err = s.repo.Save(ctx, thesis, expected, entry)
		if err == nil {
			s.emitAudit(ctx, actor, models.AuditActionThesisFeedback, thesis.ID, nil, map[string]interface{}{
				"status":  thesis.Status,
				"version": thesis.Version,
				"comment": comment,
			})
			return entry, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, s.persistError(err, "feedback")
		}
		lastErr = err
	}
	return nil, s.persistError(lastErr, "feedback")
}

// BindDocument attaches a stored document reference. Binding in DRAFT also
// submits the thesis within the same version bump; binding in
// REVISION_NEEDED leaves the status unchanged.
func (s *ThesisService) BindDocument(ctx context.Context, id string, expectedVersion int, documentRef string, actor *models.JWTClaims) (*models.Thesis, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	documentRef = strings.TrimSpace(documentRef)
	if documentRef == "" {
		return nil, appErrors.Validation("invalid document binding", map[string]string{"documentRef": "is required"})
	}
	thesis, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkVersion(thesis, expectedVersion, "bind"); err != nil {
		return nil, err
	}
	if !workflow.Bindable(thesis.Status) {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, fmt.Sprintf("documents cannot be attached in status %s", thesis.Status))
	}
	if err := s.policy.CanModify(actor, thesis); err != nil {
		return nil, err
	}

	now := s.now()
	from := thesis.Status
	previous := thesis.DocumentRef
	thesis.DocumentRef = &documentRef
	if from == models.ThesisStatusDraft {
		workflow.Enter(thesis, models.ThesisStatusSubmitted, now)
		thesis.Status = models.ThesisStatusSubmitted
	}
	thesis.Version = expectedVersion + 1
	thesis.UpdatedAt = now
	if err := s.repo.Save(ctx, thesis, expectedVersion, nil); err != nil {
		return nil, s.persistError(err, "bind")
	}
	if from != thesis.Status {
		s.recordTransition(from, thesis.Status, TransitionResultSuccess)
	}
	s.emitAudit(ctx, actor, models.AuditActionThesisDocument, thesis.ID,
		map[string]interface{}{"documentRef": previous, "status": from},
		map[string]interface{}{"documentRef": documentRef, "status": thesis.Status, "version": thesis.Version})
	return thesis, nil
}

func (s *ThesisService) load(ctx context.Context, id string) (*models.Thesis, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "thesis not found")
	}
	thesis, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "thesis not found")
		}
		return nil, appErrors.Storage(err, "failed to load thesis")
	}
	return thesis, nil
}

func (s *ThesisService) checkVersion(thesis *models.Thesis, expected int, operation string) error {
	if thesis.Version == expected {
		return nil
	}
	if s.metrics != nil {
		s.metrics.RecordVersionConflict(operation)
	}
	conflict := appErrors.Clone(appErrors.ErrConflict, "thesis was modified by another request; reload and retry")
	conflict.Details = map[string]string{
		"expectedVersion": strconv.Itoa(expected),
		"currentVersion":  strconv.Itoa(thesis.Version),
	}
	return conflict
}

func (s *ThesisService) persistError(err error, operation string) error {
	if errors.Is(err, repository.ErrVersionConflict) {
		if s.metrics != nil {
			s.metrics.RecordVersionConflict(operation)
		}
		return appErrors.Clone(appErrors.ErrConflict, "thesis was modified by another request; reload and retry")
	}
	return appErrors.Storage(err, "failed to persist thesis")
}

func (s *ThesisService) recordTransition(from, to models.ThesisStatus, result string) {
	if s.metrics != nil {
		s.metrics.RecordTransition(from, to, result)
	}
}

func (s *ThesisService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, thesisID string, before, after map[string]interface{}) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:     action,
		Resource:   "thesis",
		ResourceID: &thesisID,
		IPAddress:  "system",
		UserAgent:  "thesis-service",
	}
	if actor != nil {
		userID := actor.UserID
		log.UserID = &userID
	}
	if before != nil {
		log.OldValues, _ = json.Marshal(before)
	}
	if after != nil {
		log.NewValues, _ = json.Marshal(after)
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to create thesis audit", zap.String("thesis_id", thesisID), zap.String("action", action), zap.Error(err))
	}
}

func normalizeKeywords(raw []string, details map[string]string) pq.StringArray {
	if len(raw) > maxKeywords {
		details["keywords"] = fmt.Sprintf("at most %d keywords are allowed", maxKeywords)
		return nil
	}
	keywords := make(pq.StringArray, 0, len(raw))
	for i, keyword := range raw {
		keyword = strings.TrimSpace(keyword)
		field := fmt.Sprintf("keywords[%d]", i)
		switch {
		case keyword == "":
			details[field] = "must not be empty"
		case utf8.RuneCountInString(keyword) > maxKeywordLength:
			details[field] = fmt.Sprintf("must be at most %d characters", maxKeywordLength)
		}
		keywords = append(keywords, keyword)
	}
	return keywords
}

func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

func validationFrom(err error, message string) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Field()
		if idx := strings.Index(fe.Namespace(), "."); idx >= 0 {
			field = fe.Namespace()[idx+1:]
		}
		if fe.Param() != "" {
			details[field] = fe.Tag() + "=" + fe.Param()
		} else {
			details[field] = fe.Tag()
		}
	}
	return appErrors.Validation(message, details)
}
