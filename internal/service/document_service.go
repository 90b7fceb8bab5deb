package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-thesis-api/internal/dto"
	"github.com/noah-isme/sma-thesis-api/internal/models"
	appErrors "github.com/noah-isme/sma-thesis-api/pkg/errors"
	"github.com/noah-isme/sma-thesis-api/pkg/jobs"
)

// DocumentCleanupJobType tags queue jobs that remove orphaned blobs.
const DocumentCleanupJobType = "thesis_document_cleanup"

// Upload outcomes reported to metrics.
const (
	UploadResultAccepted = "accepted"
	UploadResultRejected = "rejected"
	UploadResultFailed   = "failed"
)

type jobDispatcher interface {
	TryEnqueue(job jobs.Job) error
}

type blobStore interface {
	Store(ctx context.Context, namespace string, data []byte, contentType string) (string, error)
	Open(ref string) (*os.File, error)
}

type documentSigner interface {
	Generate(subjectID, ref string) (string, time.Time, error)
	Parse(token string) (subjectID, ref string, expiresAt time.Time, err error)
}

type thesisBinder interface {
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Thesis, error)
	BindDocument(ctx context.Context, id string, expectedVersion int, documentRef string, actor *models.JWTClaims) (*models.Thesis, error)
}

type uploadMetrics interface {
	RecordDocumentUpload(result string, size int)
}

// DocumentUpload carries the uploaded file stream.
type DocumentUpload struct {
	Filename string
	Content  io.Reader
}

// DocumentDownload bundles an opened blob with metadata for streaming.
type DocumentDownload struct {
	File      *os.File
	Filename  string
	MimeType  string
	SizeBytes int64
	ExpiresAt time.Time
}

// DocumentServiceConfig holds upload validation parameters.
type DocumentServiceConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
	APIPrefix    string
}

// DocumentService stores thesis documents, binds them through the workflow
// engine and serves them behind signed URLs.
type DocumentService struct {
	theses  thesisBinder
	storage blobStore
	signer  documentSigner
	cleanup documentRemover
	metrics uploadMetrics
	logger  *zap.Logger
	cfg     DocumentServiceConfig
}

// NewDocumentService constructs the service with defaults.
func NewDocumentService(theses thesisBinder, storage blobStore, signer documentSigner, cleanup documentRemover, metrics uploadMetrics, logger *zap.Logger, cfg DocumentServiceConfig) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{"application/pdf"}
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	return &DocumentService{
		theses:  theses,
		storage: storage,
		signer:  signer,
		cleanup: cleanup,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
}

// Upload validates and stores a document, then binds it to the thesis.
// A stored blob that fails to bind is handed to the cleanup queue.
func (s *DocumentService) Upload(ctx context.Context, id string, expectedVersion int, upload DocumentUpload, actor *models.JWTClaims) (*models.Thesis, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if upload.Content == nil {
		return nil, appErrors.Validation("file is required", map[string]string{"file": "is required"})
	}
	current, err := s.theses.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(upload.Content, s.cfg.MaxFileSize+1))
	if err != nil {
		s.record(UploadResultFailed, 0)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload")
	}
	if len(data) == 0 {
		s.record(UploadResultRejected, 0)
		return nil, appErrors.Validation("file is empty", map[string]string{"file": "is empty"})
	}
	if int64(len(data)) > s.cfg.MaxFileSize {
		s.record(UploadResultRejected, 0)
		return nil, appErrors.Validation(fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize), map[string]string{"file": "too large"})
	}
	detected := mimetype.Detect(data)
	if !s.allowed(detected) {
		s.record(UploadResultRejected, 0)
		return nil, appErrors.Validation("mime type not allowed", map[string]string{"file": "unsupported content type " + detected.String()})
	}

	ref, err := s.storage.Store(ctx, "theses/"+current.ID, data, detected.String())
	if err != nil {
		s.record(UploadResultFailed, 0)
		return nil, appErrors.Storage(err, "failed to store document")
	}
	thesis, err := s.theses.BindDocument(ctx, id, expectedVersion, ref, actor)
	if err != nil {
		if s.cleanup != nil && (current.DocumentRef == nil || *current.DocumentRef != ref) {
			s.cleanup.Schedule(current.ID, ref)
		}
		s.record(UploadResultRejected, 0)
		return nil, err
	}
	s.record(UploadResultAccepted, len(data))
	return thesis, nil
}

// DownloadURL signs a short-lived link to the thesis' bound document.
func (s *DocumentService) DownloadURL(ctx context.Context, id string, actor *models.JWTClaims) (*dto.DocumentURLResponse, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	thesis, err := s.theses.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if thesis.DocumentRef == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "thesis has no document")
	}
	token, expiresAt, err := s.signer.Generate(thesis.ID, *thesis.DocumentRef)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	return &dto.DocumentURLResponse{
		DownloadURL: fmt.Sprintf("%s/theses/%s/document/download?token=%s", base, thesis.ID, url.QueryEscape(token)),
		ExpiresAt:   expiresAt,
	}, nil
}

// Download resolves a signed token into an open blob. The token alone
// authorises the read.
func (s *DocumentService) Download(ctx context.Context, id, token string) (*DocumentDownload, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	subjectID, ref, expiresAt, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	if subjectID != id || !strings.HasPrefix(ref, "theses/"+id+"/") {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.storage.Open(ref)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Storage(err, "failed to open document")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Storage(err, "failed to read document metadata")
	}
	detected, err := mimetype.DetectReader(file)
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Storage(err, "failed to inspect document")
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Storage(err, "failed to rewind document")
	}
	return &DocumentDownload{
		File:      file,
		Filename:  path.Base(ref),
		MimeType:  detected.String(),
		SizeBytes: info.Size(),
		ExpiresAt: expiresAt,
	}, nil
}

func (s *DocumentService) allowed(detected *mimetype.MIME) bool {
	for _, allowed := range s.cfg.AllowedMIMEs {
		if detected.Is(allowed) {
			return true
		}
	}
	return false
}

func (s *DocumentService) record(result string, size int) {
	if s.metrics != nil {
		s.metrics.RecordDocumentUpload(result, size)
	}
}

// DocumentCleanupPayload identifies a blob that may be orphaned.
type DocumentCleanupPayload struct {
	ThesisID string
	Ref      string
}

// DocumentCleanup schedules blob removal on the background queue.
type DocumentCleanup struct {
	queue  jobDispatcher
	logger *zap.Logger
}

// NewDocumentCleanup constructs a scheduler backed by queue.
func NewDocumentCleanup(queue jobDispatcher, logger *zap.Logger) *DocumentCleanup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentCleanup{queue: queue, logger: logger}
}

// Schedule enqueues removal of ref without waiting for queue space. When the
// queue is full or stopped the failure is logged and the blob is left in
// place.
func (c *DocumentCleanup) Schedule(thesisID, ref string) {
	if c == nil || c.queue == nil || ref == "" {
		return
	}
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    DocumentCleanupJobType,
		Payload: DocumentCleanupPayload{ThesisID: thesisID, Ref: ref},
	}
	if err := c.queue.TryEnqueue(job); err != nil {
		c.logger.Warn("failed to schedule document cleanup", zap.String("thesis_id", thesisID), zap.String("ref", ref), zap.Error(err))
	}
}

type thesisLookup interface {
	GetByID(ctx context.Context, id string) (*models.Thesis, error)
}

type blobRemover interface {
	Delete(ref string) error
}

type cleanupMetrics interface {
	RecordCleanup(result string)
}

// DocumentCleanupWorker removes blobs that no thesis references.
type DocumentCleanupWorker struct {
	theses  thesisLookup
	storage blobRemover
	metrics cleanupMetrics
	logger  *zap.Logger
}

// NewDocumentCleanupWorker constructs a worker.
func NewDocumentCleanupWorker(theses thesisLookup, storage blobRemover, metrics cleanupMetrics, logger *zap.Logger) *DocumentCleanupWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentCleanupWorker{theses: theses, storage: storage, metrics: metrics, logger: logger}
}

// Handle processes a queue job. A blob still bound to its thesis is kept.
func (w *DocumentCleanupWorker) Handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(DocumentCleanupPayload)
	if !ok || payload.Ref == "" {
		w.logger.Error("discarding malformed cleanup job", zap.String("job_id", job.ID))
		return nil
	}
	thesis, err := w.theses.GetByID(ctx, payload.ThesisID)
	switch {
	case err == nil:
		if thesis.DocumentRef != nil && *thesis.DocumentRef == payload.Ref {
			w.record("skipped")
			return nil
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return err
	}
	if err := w.storage.Delete(payload.Ref); err != nil {
		return err
	}
	w.record("deleted")
	w.logger.Debug("document blob removed", zap.String("thesis_id", payload.ThesisID), zap.String("ref", payload.Ref))
	return nil
}

func (w *DocumentCleanupWorker) record(result string) {
	if w.metrics != nil {
		w.metrics.RecordCleanup(result)
	}
}
