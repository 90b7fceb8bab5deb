package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-thesis-api/internal/dto"
	"github.com/noah-isme/sma-thesis-api/internal/models"
	"github.com/noah-isme/sma-thesis-api/internal/repository"
	appErrors "github.com/noah-isme/sma-thesis-api/pkg/errors"
)

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

type transitionRecord struct {
	from, to models.ThesisStatus
	result   string
}

type workflowMetricsStub struct {
	mu          sync.Mutex
	transitions []transitionRecord
	conflicts   []string
}

func (m *workflowMetricsStub) RecordTransition(from, to models.ThesisStatus, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, transitionRecord{from: from, to: to, result: result})
}

func (m *workflowMetricsStub) RecordVersionConflict(operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = append(m.conflicts, operation)
}

type auditStub struct {
	mu   sync.Mutex
	logs []*models.AuditLog
	err  error
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return a.err
}

type cleanupStub struct {
	mu   sync.Mutex
	refs []string
}

func (c *cleanupStub) Schedule(thesisID, ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs = append(c.refs, ref)
}

type invalidatorStub struct {
	ids []string
}

func (i *invalidatorStub) Invalidate(ctx context.Context, thesisID string) {
	i.ids = append(i.ids, thesisID)
}

type failingSaveStore struct {
	*repository.MemoryThesisRepository
	err error
}

func (f *failingSaveStore) Save(ctx context.Context, thesis *models.Thesis, expectedVersion int, feedback *models.ReviewFeedbackEntry) error {
	return f.err
}

type engineFixture struct {
	svc     *ThesisService
	repo    *repository.MemoryThesisRepository
	metrics *workflowMetricsStub
	audit   *auditStub
	cleanup *cleanupStub
	reports *invalidatorStub
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		repo:    repository.NewMemoryThesisRepository(),
		metrics: &workflowMetricsStub{},
		audit:   &auditStub{},
		cleanup: &cleanupStub{},
		reports: &invalidatorStub{},
	}
	f.svc = NewThesisService(f.repo, nil,
		WithThesisClock(newSteppingClock().Now),
		WithThesisMetrics(f.metrics),
		WithThesisAudit(f.audit),
		WithDocumentCleanup(f.cleanup),
		WithReportInvalidator(f.reports),
	)
	return f
}

var pathTo = map[models.ThesisStatus][]models.ThesisStatus{
	models.ThesisStatusDraft:          nil,
	models.ThesisStatusSubmitted:      {models.ThesisStatusSubmitted},
	models.ThesisStatusUnderReview:    {models.ThesisStatusSubmitted, models.ThesisStatusUnderReview},
	models.ThesisStatusRevisionNeeded: {models.ThesisStatusSubmitted, models.ThesisStatusUnderReview, models.ThesisStatusRevisionNeeded},
	models.ThesisStatusApproved:       {models.ThesisStatusSubmitted, models.ThesisStatusUnderReview, models.ThesisStatusApproved},
	models.ThesisStatusRejected:       {models.ThesisStatusSubmitted, models.ThesisStatusUnderReview, models.ThesisStatusRejected},
	models.ThesisStatusPublished:      {models.ThesisStatusSubmitted, models.ThesisStatusUnderReview, models.ThesisStatusApproved, models.ThesisStatusPublished},
}

func (f *engineFixture) seed(t *testing.T, status models.ThesisStatus) *models.Thesis {
	t.Helper()
	ctx := context.Background()
	thesis, err := f.svc.Create(ctx, dto.CreateThesisRequest{
		Title:         "Graph Coloring Heuristics",
		Keywords:      []string{"graphs", "heuristics"},
		StudentRef:    "student-1",
		SupervisorRef: "teacher-1",
	}, adminActor)
	require.NoError(t, err)
	for _, next := range pathTo[status] {
		thesis, err = f.svc.Transition(ctx, thesis.ID, thesis.Version, next, "", adminActor)
		require.NoError(t, err)
	}
	require.Equal(t, status, thesis.Status)
	return thesis
}

func TestCreateStartsDraftAtVersionZero(t *testing.T) {
	f := newEngineFixture(t)
	abstract := "  We study colorings.  "
	thesis, err := f.svc.Create(context.Background(), dto.CreateThesisRequest{
		Title:         "  Graph Coloring  ",
		Abstract:      &abstract,
		Keywords:      []string{" graphs "},
		SupervisorRef: "teacher-1",
	}, studentActor)
	require.NoError(t, err)

	assert.NotEmpty(t, thesis.ID)
	assert.Equal(t, models.ThesisStatusDraft, thesis.Status)
	assert.Equal(t, 0, thesis.Version)
	assert.Equal(t, "Graph Coloring", thesis.Title)
	assert.Equal(t, "student-1", thesis.StudentRef)
	require.NotNil(t, thesis.Abstract)
	assert.Equal(t, "We study colorings.", *thesis.Abstract)
	assert.Equal(t, []string{"graphs"}, []string(thesis.Keywords))
	assert.Nil(t, thesis.SubmissionDate)
	assert.Nil(t, thesis.DocumentRef)

	stored, err := f.repo.GetByID(context.Background(), thesis.ID)
	require.NoError(t, err)
	assert.Equal(t, thesis.Title, stored.Title)
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionThesisCreate, f.audit.logs[0].Action)
}

func TestCreateValidation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, dto.CreateThesisRequest{Title: "T", StudentRef: "student-1"}, adminActor)
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Contains(t, appErrors.FromError(err).Details, "supervisorRef")

	_, err = f.svc.Create(ctx, dto.CreateThesisRequest{Title: "   ", StudentRef: "student-1", SupervisorRef: "teacher-1"}, adminActor)
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, "must not be empty", appErrors.FromError(err).Details["title"])

	_, err = f.svc.Create(ctx, dto.CreateThesisRequest{Title: "T", SupervisorRef: "teacher-1"}, adminActor)
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Contains(t, appErrors.FromError(err).Details, "studentRef")

	_, err = f.svc.Create(ctx, dto.CreateThesisRequest{Title: "T", Keywords: []string{"ok", " "}, StudentRef: "student-1", SupervisorRef: "teacher-1"}, adminActor)
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Contains(t, appErrors.FromError(err).Details, "keywords[1]")
}

func TestCreatePolicy(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	req := dto.CreateThesisRequest{Title: "T", StudentRef: "student-2", SupervisorRef: "teacher-1"}

	_, err := f.svc.Create(ctx, req, studentActor)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.svc.Create(ctx, req, supervisorActor)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.svc.Create(ctx, req, nil)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestTransitionGrid(t *testing.T) {
	allowed := map[models.ThesisStatus][]models.ThesisStatus{
		models.ThesisStatusDraft:          {models.ThesisStatusDraft, models.ThesisStatusSubmitted},
		models.ThesisStatusSubmitted:      {models.ThesisStatusSubmitted, models.ThesisStatusUnderReview},
		models.ThesisStatusUnderReview:    {models.ThesisStatusUnderReview, models.ThesisStatusRevisionNeeded, models.ThesisStatusApproved, models.ThesisStatusRejected},
		models.ThesisStatusRevisionNeeded: {models.ThesisStatusRevisionNeeded, models.ThesisStatusSubmitted},
		models.ThesisStatusApproved:       {models.ThesisStatusApproved, models.ThesisStatusPublished},
	}
	for _, from := range models.ThesisStatuses {
		for _, to := range models.ThesisStatuses {
			from, to := from, to
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				f := newEngineFixture(t)
				thesis := f.seed(t, from)
				expectOK := false
				for _, candidate := range allowed[from] {
					if candidate == to {
						expectOK = true
					}
				}

				updated, err := f.svc.Transition(context.Background(), thesis.ID, thesis.Version, to, "", adminActor)
				stored, getErr := f.repo.GetByID(context.Background(), thesis.ID)
				require.NoError(t, getErr)
				if expectOK {
					require.NoError(t, err)
					assert.Equal(t, to, updated.Status)
					assert.Equal(t, thesis.Version+1, updated.Version)
					assert.Equal(t, to, stored.Status)
					return
				}
				require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
				assert.Equal(t, from, stored.Status)
				assert.Equal(t, thesis.Version, stored.Version)
			})
		}
	}
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	for _, terminal := range []models.ThesisStatus{models.ThesisStatusRejected, models.ThesisStatusPublished} {
		f := newEngineFixture(t)
		thesis := f.seed(t, terminal)
		ctx := context.Background()

		for _, to := range models.ThesisStatuses {
			_, err := f.svc.Transition(ctx, thesis.ID, thesis.Version, to, "", adminActor)
			assert.ErrorIs(t, err, appErrors.ErrInvalidTransition, "%s -> %s", terminal, to)
		}
		title := "New"
		_, err := f.svc.EditFields(ctx, thesis.ID, thesis.Version, models.ThesisPatch{Title: &title}, adminActor)
		assert.ErrorIs(t, err, appErrors.ErrPermissionDenied)
		assert.ErrorIs(t, f.svc.Delete(ctx, thesis.ID, thesis.Version, adminActor), appErrors.ErrPermissionDenied)
		_, err = f.svc.BindDocument(ctx, thesis.ID, thesis.Version, "theses/x/doc.pdf", adminActor)
		assert.ErrorIs(t, err, appErrors.ErrPermissionDenied)
	}
}

func TestTransitionCheckOrder(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	thesis := f.seed(t, models.ThesisStatusDraft)

	_, err := f.svc.Transition(ctx, "missing", 0, "ARCHIVED", "", adminActor)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Transition(ctx, "missing", 0, models.ThesisStatusSubmitted, "", adminActor)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.svc.Transition(ctx, thesis.ID, thesis.Version+3, models.ThesisStatusApproved, "", otherTeacher)
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = f.svc.Transition(ctx, thesis.ID, thesis.Version, models.ThesisStatusApproved, "", otherTeacher)
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	_, err = f.svc.Transition(ctx, thesis.ID, thesis.Version, models.ThesisStatusSubmitted, "", otherStudent)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.Transition(ctx, thesis.ID, thesis.Version, models.ThesisStatusSubmitted, "", supervisorActor)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	stored, err := f.repo.GetByID(ctx, thesis.ID)
	require.NoError(t, err)
	assert.Equal(t, thesis.Version, stored.Version)

	results := map[string]int{}
	for _, rec := range f.metrics.transitions {
		results[rec.result]++
	}
	assert.Equal(t, 1, results[TransitionResultConflict])
	assert.Equal(t, 1, results[TransitionResultInvalid])
	assert.Equal(t, 2, results[TransitionResultForbidden])
	assert.Equal(t, []string{"transition"}, f.metrics.conflicts)
}

func TestSubmissionTimestamps(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	thesis := f.seed(t, models.ThesisStatusSubmitted)
	require.NotNil(t, thesis.SubmissionDate)
	assert.Nil(t, thesis.LastResubmittedAt)
	firstSubmission := *thesis.SubmissionDate

	thesis, err := f.svc.Transition(ctx, thesis.ID, thesis.Version, models.ThesisStatusSubmitted, "", studentActor)
	require.NoError(t, err)
	assert.Equal(t, firstSubmission, *thesis.SubmissionDate)
	assert.Nil(t, thesis.LastResubmittedAt)

	for _, next := range []models.ThesisStatus{models.ThesisStatusUnderReview, models.ThesisStatusRevisionNeeded} {
		thesis, err = f.svc.Transition(ctx, thesis.ID, thesis.Version, next, "", supervisorActor)
		require.NoError(t, err)
	}
	thesis, err = f.svc.Transition(ctx, thesis.ID, thesis.Version, models.ThesisStatusSubmitted, "", studentActor)
	require.NoError(t, err)
	assert.Equal(t, firstSubmission, *thesis.SubmissionDate)
	require.NotNil(t, thesis.LastResubmittedAt)
	assert.True(t, thesis.LastResubmittedAt.After(firstSubmission))
}

func TestApprovalDateSetOnce(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	thesis := f.seed(t, models.ThesisStatusApproved)
	require.NotNil(t, thesis.ApprovalDate)
	approved := *thesis.ApprovalDate

	thesis, err := f.svc.Transition(ctx, thesis.ID, thesis.Version, models.ThesisStatusApproved, "", adminActor)
	require.NoError(t, err)
	assert.Equal(t, approved, *thesis.ApprovalDate)

	thesis, err = f.svc.Transition(ctx, thesis.ID, thesis.Version, models.ThesisStatusPublished, "", adminActor)
	require.NoError(t, err)
	assert.Equal(t, approved, *thesis.ApprovalDate)
}

func TestTransitionCommentBecomesFeedback(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	thesis := f.seed(t, models.ThesisStatusUnderReview)

	thesis, err := f.svc.Transition(ctx, thesis.ID, thesis.Version, models.ThesisStatusRevisionNeeded, "  tighten chapter 2  ", supervisorActor)
	require.NoError(t, err)
	require.NotNil(t, thesis.ReviewFeedback)
	assert.Equal(t, "tighten chapter 2", *thesis.ReviewFeedback)

	history, err := f.repo.History(ctx, thesis.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ThesisStatusRevisionNeeded, history[0].Status)
	assert.Equal(t, "teacher-1", history[0].AuthorRef)
	assert.Equal(t, "tighten chapter 2", history[0].Comment)

	thesis, err = f.svc.Transition(ctx, thesis.ID, thesis.Version, models.ThesisStatusSubmitted, "   ", studentActor)
	require.NoError(t, err)
	history, err = f.repo.History(ctx, thesis.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, "tighten chapter 2", *thesis.ReviewFeedback)
}

func TestEditFields(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	thesis := f.seed(t, models.ThesisStatusDraft)

	_, err := f.svc.EditFields(ctx, thesis.ID, thesis.Version, models.ThesisPatch{}, studentActor)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	blank := "  "
	_, err = f.svc.EditFields(ctx, thesis.ID, thesis.Version, models.ThesisPatch{Title: &blank}, studentActor)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	title := "Planar Graph Coloring"
	_, err = f.svc.EditFields(ctx, thesis.ID, thesis.Version, models.ThesisPatch{Title: &title}, otherStudent)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.EditFields(ctx, thesis.ID, thesis.Version+1, models.ThesisPatch{Title: &title}, studentActor)
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	updated, err := f.svc.EditFields(ctx, thesis.ID, thesis.Version, models.ThesisPatch{Title: &title, Keywords: []string{"planar"}}, studentActor)
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, []string{"planar"}, []string(updated.Keywords))
	assert.Equal(t, thesis.Version+1, updated.Version)
	assert.Equal(t, models.ThesisStatusDraft, updated.Status)
	assert.True(t, updated.UpdatedAt.After(thesis.UpdatedAt))

	submitted := f.seed(t, models.ThesisStatusSubmitted)
	_, err = f.svc.EditFields(ctx, submitted.ID, submitted.Version, models.ThesisPatch{Title: &title}, studentActor)
	assert.ErrorIs(t, err, appErrors.ErrPermissionDenied)

	revision := f.seed(t, models.ThesisStatusRevisionNeeded)
	_, err = f.svc.EditFields(ctx, revision.ID, revision.Version, models.ThesisPatch{Title: &title}, studentActor)
	assert.NoError(t, err)
}

func TestDelete(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	thesis := f.seed(t, models.ThesisStatusDraft)

	assert.ErrorIs(t, f.svc.Delete(ctx, thesis.ID, thesis.Version+1, studentActor), appErrors.ErrConflict)
	assert.ErrorIs(t, f.svc.Delete(ctx, thesis.ID, thesis.Version, otherStudent), appErrors.ErrForbidden)
	require.NoError(t, f.svc.Delete(ctx, thesis.ID, thesis.Version, studentActor))

	_, err := f.svc.Get(ctx, thesis.ID, adminActor)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Equal(t, []string{thesis.ID}, f.reports.ids)
	assert.Empty(t, f.cleanup.refs)

	submitted := f.seed(t, models.ThesisStatusSubmitted)
	assert.ErrorIs(t, f.svc.Delete(ctx, submitted.ID, submitted.Version, adminActor), appErrors.ErrPermissionDenied)
	stored, err := f.repo.GetByID(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ThesisStatusSubmitted, stored.Status)
	assert.Equal(t, submitted.Version, stored.Version)
	assert.Equal(t, submitted.UpdatedAt, stored.UpdatedAt)
	assert.Equal(t, []string{thesis.ID}, f.reports.ids)

	assert.ErrorIs(t, f.svc.Delete(ctx, "missing", 0, adminActor), appErrors.ErrNotFound)
}

func TestEditFieldsCountsCharactersNotBytes(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	title := strings.Repeat("é", 200)
	thesis, err := f.svc.Create(ctx, dto.CreateThesisRequest{
		Title:         title,
		SupervisorRef: "teacher-1",
	}, studentActor)
	require.NoError(t, err)

	updated, err := f.svc.EditFields(ctx, thesis.ID, thesis.Version, models.ThesisPatch{Title: &title, Keywords: []string{strings.Repeat("ü", 40)}}, studentActor)
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)

	tooLong := strings.Repeat("é", maxTitleLength+1)
	_, err = f.svc.EditFields(ctx, thesis.ID, updated.Version, models.ThesisPatch{Title: &tooLong}, studentActor)
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Contains(t, appErrors.FromError(err).Details, "title")
}

func TestDeleteSchedulesDocumentCleanup(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	thesis := f.seed(t, models.ThesisStatusDraft)
	ref := "theses/" + thesis.ID + "/abc.pdf"
	stored, err := f.repo.GetByID(ctx, thesis.ID)
	require.NoError(t, err)
	stored.DocumentRef = &ref
	stored.Version++
	require.NoError(t, f.repo.Save(ctx, stored, thesis.Version, nil))

	require.NoError(t, f.svc.Delete(ctx, thesis.ID, stored.Version, studentActor))
	assert.Equal(t, []string{ref}, f.cleanup.refs)
}

func TestBindDocument(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	draft := f.seed(t, models.ThesisStatusDraft)

	_, err := f.svc.BindDocument(ctx, draft.ID, draft.Version, " ", studentActor)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	bound, err := f.svc.BindDocument(ctx, draft.ID, draft.Version, "theses/a/one.pdf", studentActor)
	require.NoError(t, err)
	assert.Equal(t, models.ThesisStatusSubmitted, bound.Status)
	assert.Equal(t, draft.Version+1, bound.Version)
	require.NotNil(t, bound.DocumentRef)
	assert.Equal(t, "theses/a/one.pdf", *bound.DocumentRef)
	require.NotNil(t, bound.SubmissionDate)

	_, err = f.svc.BindDocument(ctx, bound.ID, bound.Version, "theses/a/two.pdf", studentActor)
	assert.ErrorIs(t, err, appErrors.ErrPermissionDenied)

	revision := f.seed(t, models.ThesisStatusRevisionNeeded)
	rebound, err := f.svc.BindDocument(ctx, revision.ID, revision.Version, "theses/b/two.pdf", studentActor)
	require.NoError(t, err)
	assert.Equal(t, models.ThesisStatusRevisionNeeded, rebound.Status)
	assert.Equal(t, revision.SubmissionDate, rebound.SubmissionDate)

	_, err = f.svc.BindDocument(ctx, revision.ID, revision.Version, "theses/b/three.pdf", studentActor)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	_, err = f.svc.BindDocument(ctx, rebound.ID, rebound.Version, "theses/b/three.pdf", supervisorActor)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestListScopesByActor(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seed(t, models.ThesisStatusDraft)
	f.seed(t, models.ThesisStatusSubmitted)
	_, err := f.svc.Create(ctx, dto.CreateThesisRequest{Title: "Other", StudentRef: "student-2", SupervisorRef: "teacher-2"}, adminActor)
	require.NoError(t, err)

	items, total, err := f.svc.List(ctx, dto.ThesisQuery{}, studentActor)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 2)

	items, total, err = f.svc.List(ctx, dto.ThesisQuery{Status: []models.ThesisStatus{models.ThesisStatusSubmitted}}, supervisorActor)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, models.ThesisStatusSubmitted, items[0].Status)

	_, total, err = f.svc.List(ctx, dto.ThesisQuery{Page: 2, PageSize: 2}, adminActor)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	_, _, err = f.svc.List(ctx, dto.ThesisQuery{Status: []models.ThesisStatus{"BOGUS"}}, adminActor)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestGetEnforcesReadPolicy(t *testing.T) {
	f := newEngineFixture(t)
	thesis := f.seed(t, models.ThesisStatusDraft)

	_, err := f.svc.Get(context.Background(), thesis.ID, otherTeacher)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	got, err := f.svc.Get(context.Background(), thesis.ID, supervisorActor)
	require.NoError(t, err)
	assert.Equal(t, thesis.ID, got.ID)
}

func TestConcurrentTransitionsSingleWinner(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	thesis := f.seed(t, models.ThesisStatusUnderReview)
	var err error
	for thesis.Version < 5 {
		thesis, err = f.svc.Transition(ctx, thesis.ID, thesis.Version, models.ThesisStatusUnderReview, "", supervisorActor)
		require.NoError(t, err)
	}
	require.Equal(t, 5, thesis.Version)

	targets := []models.ThesisStatus{models.ThesisStatusApproved, models.ThesisStatusRevisionNeeded}
	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(target models.ThesisStatus) {
			defer wg.Done()
			_, err := f.svc.Transition(ctx, thesis.ID, 5, target, "decision", supervisorActor)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, appErrors.ErrConflict):
				conflicts++
			}
		}(targets[i%len(targets)])
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
	stored, err := f.repo.GetByID(ctx, thesis.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, stored.Version)
	history, err := f.repo.History(ctx, thesis.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestStorageFailureIsRetryable(t *testing.T) {
	repo := repository.NewMemoryThesisRepository()
	store := &failingSaveStore{MemoryThesisRepository: repo, err: errors.New("connection reset")}
	svc := NewThesisService(store, nil)
	thesis, err := svc.Create(context.Background(), dto.CreateThesisRequest{Title: "T", StudentRef: "student-1", SupervisorRef: "teacher-1"}, adminActor)
	require.NoError(t, err)

	_, err = svc.Transition(context.Background(), thesis.ID, 0, models.ThesisStatusSubmitted, "", adminActor)
	require.ErrorIs(t, err, appErrors.ErrStorage)
	assert.True(t, appErrors.FromError(err).Retryable())

	store.err = repository.ErrVersionConflict
	_, err = svc.Transition(context.Background(), thesis.ID, 0, models.ThesisStatusSubmitted, "", adminActor)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestAuditFailureDoesNotFailMutation(t *testing.T) {
	repo := repository.NewMemoryThesisRepository()
	audit := &auditStub{err: errors.New("audit down")}
	svc := NewThesisService(repo, nil, WithThesisAudit(audit))
	_, err := svc.Create(context.Background(), dto.CreateThesisRequest{Title: "T", StudentRef: "student-1", SupervisorRef: "teacher-1"}, adminActor)
	require.NoError(t, err)
	assert.Len(t, audit.logs, 1)
}

func TestFullLifecycleScenario(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	thesis, err := f.svc.Create(ctx, dto.CreateThesisRequest{Title: "Sparse Solvers", SupervisorRef: "teacher-1"}, studentActor)
	require.NoError(t, err)
	abstract := "Iterative methods."
	thesis, err = f.svc.EditFields(ctx, thesis.ID, thesis.Version, models.ThesisPatch{Abstract: &abstract}, studentActor)
	require.NoError(t, err)
	thesis, err = f.svc.BindDocument(ctx, thesis.ID, thesis.Version, "theses/"+thesis.ID+"/v1.pdf", studentActor)
	require.NoError(t, err)
	require.Equal(t, models.ThesisStatusSubmitted, thesis.Status)

	thesis, err = f.svc.Transition(ctx, thesis.ID, thesis.Version, models.ThesisStatusUnderReview, "", supervisorActor)
	require.NoError(t, err)
	thesis, err = f.svc.Transition(ctx, thesis.ID, thesis.Version, models.ThesisStatusRevisionNeeded, "expand evaluation", supervisorActor)
	require.NoError(t, err)

	thesis, err = f.svc.BindDocument(ctx, thesis.ID, thesis.Version, "theses/"+thesis.ID+"/v2.pdf", studentActor)
	require.NoError(t, err)
	thesis, err = f.svc.Transition(ctx, thesis.ID, thesis.Version, models.ThesisStatusSubmitted, "", studentActor)
	require.NoError(t, err)
	require.NotNil(t, thesis.LastResubmittedAt)

	thesis, err = f.svc.Transition(ctx, thesis.ID, thesis.Version, models.ThesisStatusUnderReview, "", supervisorActor)
	require.NoError(t, err)
	thesis, err = f.svc.Transition(ctx, thesis.ID, thesis.Version, models.ThesisStatusApproved, "well done", supervisorActor)
	require.NoError(t, err)
	require.NotNil(t, thesis.ApprovalDate)

	_, err = f.svc.Transition(ctx, thesis.ID, thesis.Version, models.ThesisStatusPublished, "", supervisorActor)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	thesis, err = f.svc.Transition(ctx, thesis.ID, thesis.Version, models.ThesisStatusPublished, "", adminActor)
	require.NoError(t, err)

	assert.Equal(t, models.ThesisStatusPublished, thesis.Status)
	assert.Equal(t, 9, thesis.Version)
	assert.Equal(t, "well done", *thesis.ReviewFeedback)
	assert.Equal(t, "theses/"+thesis.ID+"/v2.pdf", *thesis.DocumentRef)

	history, err := f.repo.History(ctx, thesis.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "expand evaluation", history[0].Comment)
	assert.Equal(t, "well done", history[1].Comment)
}
