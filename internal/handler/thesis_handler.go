package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-thesis-api/internal/dto"
	"github.com/noah-isme/sma-thesis-api/internal/middleware"
	"github.com/noah-isme/sma-thesis-api/internal/models"
	"github.com/noah-isme/sma-thesis-api/internal/service"
	"github.com/noah-isme/sma-thesis-api/internal/workflow"
	appErrors "github.com/noah-isme/sma-thesis-api/pkg/errors"
	"github.com/noah-isme/sma-thesis-api/pkg/response"
)

type thesisService interface {
	Create(ctx context.Context, req dto.CreateThesisRequest, actor *models.JWTClaims) (*models.Thesis, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Thesis, error)
	List(ctx context.Context, query dto.ThesisQuery, actor *models.JWTClaims) ([]models.Thesis, int, error)
	EditFields(ctx context.Context, id string, expectedVersion int, patch models.ThesisPatch, actor *models.JWTClaims) (*models.Thesis, error)
	Delete(ctx context.Context, id string, expectedVersion int, actor *models.JWTClaims) error
	Transition(ctx context.Context, id string, expectedVersion int, target models.ThesisStatus, comment string, actor *models.JWTClaims) (*models.Thesis, error)
}

type documentService interface {
	Upload(ctx context.Context, id string, expectedVersion int, upload service.DocumentUpload, actor *models.JWTClaims) (*models.Thesis, error)
	DownloadURL(ctx context.Context, id string, actor *models.JWTClaims) (*dto.DocumentURLResponse, error)
	Download(ctx context.Context, id, token string) (*service.DocumentDownload, error)
}

type feedbackService interface {
	History(ctx context.Context, thesisID string, actor *models.JWTClaims) ([]models.ReviewFeedbackEntry, error)
	Latest(ctx context.Context, thesisID string, actor *models.JWTClaims) (*models.ReviewFeedbackEntry, error)
	Append(ctx context.Context, thesisID, comment string, actor *models.JWTClaims) (*models.ReviewFeedbackEntry, error)
}

type reportService interface {
	Generate(ctx context.Context, id string, actor *models.JWTClaims) (*service.ThesisReport, error)
}

// ThesisHandler manages thesis workflow HTTP endpoints.
type ThesisHandler struct {
	service   thesisService
	documents documentService
	feedback  feedbackService
	reports   reportService
}

// NewThesisHandler constructs the handler. documents, feedback and reports
// may be nil, in which case their endpoints answer 500.
func NewThesisHandler(service thesisService, documents documentService, feedback feedbackService, reports reportService) *ThesisHandler {
	return &ThesisHandler{service: service, documents: documents, feedback: feedback, reports: reports}
}

// Create godoc
// @Summary Create a thesis in DRAFT
// @Tags Theses
// @Accept json
// @Produce json
// @Param payload body dto.CreateThesisRequest true "Thesis payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /theses [post]
func (h *ThesisHandler) Create(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "thesis service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateThesisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid thesis payload"))
		return
	}
	thesis, err := h.service.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, thesis, nil, middleware.ExtractMeta(c))
}

// List godoc
// @Summary List theses visible to the caller
// @Tags Theses
// @Produce json
// @Param status query []string false "Status filter, repeatable or comma separated" collectionFormat(multi)
// @Param studentRef query string false "Student reference"
// @Param supervisorRef query string false "Supervisor reference"
// @Param keyword query string false "Keyword substring, case-insensitive"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size (max 100)"
// @Success 200 {object} response.Envelope
// @Router /theses [get]
func (h *ThesisHandler) List(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "thesis service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query, err := parseThesisQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, total, err := h.service.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	page, size := query.Page, query.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	response.JSON(c, http.StatusOK, items, &response.Pagination{Page: page, PageSize: size, TotalCount: total}, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get a thesis
// @Tags Theses
// @Produce json
// @Param id path string true "Thesis ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /theses/{id} [get]
func (h *ThesisHandler) Get(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "thesis service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	thesis, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, thesis, nil, middleware.ExtractMeta(c))
}

// Update godoc
// @Summary Edit title, abstract or keywords
// @Tags Theses
// @Accept json
// @Produce json
// @Param id path string true "Thesis ID"
// @Param payload body dto.UpdateThesisRequest true "Patch with expected version"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /theses/{id} [patch]
func (h *ThesisHandler) Update(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "thesis service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.UpdateThesisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid thesis patch"))
		return
	}
	if req.ExpectedVersion == nil {
		response.Error(c, missingVersion())
		return
	}
	patch := models.ThesisPatch{Title: req.Title, Abstract: req.Abstract, Keywords: req.Keywords}
	thesis, err := h.service.EditFields(c.Request.Context(), c.Param("id"), *req.ExpectedVersion, patch, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, thesis, nil, middleware.ExtractMeta(c))
}

// Delete godoc
// @Summary Delete a DRAFT thesis
// @Tags Theses
// @Produce json
// @Param id path string true "Thesis ID"
// @Param expectedVersion query int true "Expected version"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /theses/{id} [delete]
func (h *ThesisHandler) Delete(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "thesis service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	version, err := parseExpectedVersion(c.Query("expectedVersion"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), version, claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Transition godoc
// @Summary Move a thesis to another status
// @Tags Theses
// @Accept json
// @Produce json
// @Param id path string true "Thesis ID"
// @Param payload body dto.TransitionThesisRequest true "Target status, expected version and optional comment"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /theses/{id}/transition [post]
func (h *ThesisHandler) Transition(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "thesis service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.TransitionThesisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid transition payload"))
		return
	}
	if req.ExpectedVersion == nil {
		response.Error(c, missingVersion())
		return
	}
	target, ok := models.ParseThesisStatus(req.Status)
	if !ok {
		response.Error(c, appErrors.Validation("invalid transition payload", map[string]string{"status": "unknown status " + req.Status}))
		return
	}
	thesis, err := h.service.Transition(c.Request.Context(), c.Param("id"), *req.ExpectedVersion, target, req.Comment, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, thesis, nil, middleware.ExtractMeta(c))
}

// TransitionTable godoc
// @Summary Describe the thesis lifecycle
// @Tags Theses
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /workflow/transitions [get]
func (h *ThesisHandler) TransitionTable(c *gin.Context) {
	response.JSON(c, http.StatusOK, dto.TransitionTableResponse{States: workflow.Table()}, nil)
}

// UploadDocument godoc
// @Summary Upload and attach the thesis document
// @Description Attaching in DRAFT also submits the thesis.
// @Tags Theses
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Thesis ID"
// @Param expectedVersion formData int true "Expected version"
// @Param file formData file true "PDF document"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /theses/{id}/document [post]
func (h *ThesisHandler) UploadDocument(c *gin.Context) {
	if h.documents == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "document service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	version, err := parseExpectedVersion(c.PostForm("expectedVersion"))
	if err != nil {
		response.Error(c, err)
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Validation("file is required", map[string]string{"file": "is required"}))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()

	thesis, err := h.documents.Upload(c.Request.Context(), c.Param("id"), version, service.DocumentUpload{
		Filename: fileHeader.Filename,
		Content:  src,
	}, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, thesis, nil, middleware.ExtractMeta(c))
}

// DocumentURL godoc
// @Summary Get a signed download link for the thesis document
// @Tags Theses
// @Produce json
// @Param id path string true "Thesis ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /theses/{id}/document [get]
func (h *ThesisHandler) DocumentURL(c *gin.Context) {
	if h.documents == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "document service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	link, err := h.documents.DownloadURL(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil, middleware.ExtractMeta(c))
}

// DownloadDocument godoc
// @Summary Download the thesis document via signed token
// @Tags Theses
// @Produce octet-stream
// @Param id path string true "Thesis ID"
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /theses/{id}/document/download [get]
func (h *ThesisHandler) DownloadDocument(c *gin.Context) {
	if h.documents == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "document service not configured"))
		return
	}
	token := c.Query("token")
	if strings.TrimSpace(token) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.documents.Download(c.Request.Context(), c.Param("id"), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, result.SizeBytes, result.MimeType, result.File, nil)
}

// Feedback godoc
// @Summary List review feedback for a thesis
// @Tags Theses
// @Produce json
// @Param id path string true "Thesis ID"
// @Param latest query bool false "Return only the most recent entry"
// @Success 200 {object} response.Envelope
// @Router /theses/{id}/feedback [get]
func (h *ThesisHandler) Feedback(c *gin.Context) {
	if h.feedback == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "feedback service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if latest, _ := strconv.ParseBool(c.Query("latest")); latest {
		entry, err := h.feedback.Latest(c.Request.Context(), c.Param("id"), claims)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, entry, nil, middleware.ExtractMeta(c))
		return
	}
	entries, err := h.feedback.History(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil, middleware.ExtractMeta(c))
}

// AppendFeedback godoc
// @Summary Add a review comment to a thesis
// @Tags Theses
// @Accept json
// @Produce json
// @Param id path string true "Thesis ID"
// @Param payload body dto.AppendFeedbackRequest true "Comment"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /theses/{id}/feedback [post]
func (h *ThesisHandler) AppendFeedback(c *gin.Context) {
	if h.feedback == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "feedback service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.AppendFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid feedback payload"))
		return
	}
	entry, err := h.feedback.Append(c.Request.Context(), c.Param("id"), req.Comment, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, entry, nil, middleware.ExtractMeta(c))
}

// Report godoc
// @Summary Render a PDF summary of the thesis and its review history
// @Tags Theses
// @Produce application/pdf
// @Param id path string true "Thesis ID"
// @Success 200 {file} binary
// @Router /theses/{id}/report [get]
func (h *ThesisHandler) Report(c *gin.Context) {
	if h.reports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "report service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	report, err := h.reports.Generate(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, report.Cached)
	cacheState := "MISS"
	if report.Cached {
		cacheState = "HIT"
	}
	c.Header("X-Cache", cacheState)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", report.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/pdf", report.Content)
}

func parseThesisQuery(c *gin.Context) (dto.ThesisQuery, error) {
	query := dto.ThesisQuery{
		StudentRef:    strings.TrimSpace(c.Query("studentRef")),
		SupervisorRef: strings.TrimSpace(c.Query("supervisorRef")),
		Keyword:       strings.TrimSpace(c.Query("keyword")),
	}
	details := map[string]string{}
	for _, raw := range c.QueryArray("status") {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := models.ParseThesisStatus(part)
			if !ok {
				details["status"] = "unknown status " + strings.TrimSpace(part)
				continue
			}
			query.Status = append(query.Status, status)
		}
	}
	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			details["page"] = "must be a positive integer"
		}
		query.Page = page
	}
	if raw := c.Query("pageSize"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 || size > 100 {
			details["pageSize"] = "must be between 1 and 100"
		}
		query.PageSize = size
	}
	if len(details) > 0 {
		return query, appErrors.Validation("invalid thesis filter", details)
	}
	return query, nil
}

func parseExpectedVersion(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, missingVersion()
	}
	version, err := strconv.Atoi(raw)
	if err != nil || version < 0 {
		return 0, appErrors.Validation("invalid expected version", map[string]string{"expectedVersion": "must be a non-negative integer"})
	}
	return version, nil
}

func missingVersion() error {
	return appErrors.Validation("expected version is required", map[string]string{"expectedVersion": "is required"})
}
