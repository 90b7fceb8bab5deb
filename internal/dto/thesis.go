package dto

import (
	"time"

	"github.com/noah-isme/sma-thesis-api/internal/models"
	"github.com/noah-isme/sma-thesis-api/internal/workflow"
)

// CreateThesisRequest opens a new thesis in DRAFT. Students may omit
// studentRef; it defaults to the caller.
type CreateThesisRequest struct {
	Title         string   `json:"title" validate:"required,max=300"`
	Abstract      *string  `json:"abstract,omitempty" validate:"omitempty,max=5000"`
	Keywords      []string `json:"keywords,omitempty" validate:"omitempty,max=20,dive,required,max=64"`
	StudentRef    string   `json:"studentRef" validate:"omitempty,max=64"`
	SupervisorRef string   `json:"supervisorRef" validate:"required,max=64"`
}

// UpdateThesisRequest patches descriptive fields. Absent fields are kept.
type UpdateThesisRequest struct {
	ExpectedVersion *int     `json:"expectedVersion"`
	Title           *string  `json:"title,omitempty"`
	Abstract        *string  `json:"abstract,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
}

// TransitionThesisRequest moves a thesis to a new status.
type TransitionThesisRequest struct {
	ExpectedVersion *int   `json:"expectedVersion"`
	Status          string `json:"status"`
	Comment         string `json:"comment,omitempty"`
}

// AppendFeedbackRequest adds a review comment without changing status.
type AppendFeedbackRequest struct {
	Comment string `json:"comment"`
}

// ThesisQuery mirrors supported listing filters.
type ThesisQuery struct {
	Status        []models.ThesisStatus
	StudentRef    string
	SupervisorRef string
	Keyword       string
	Page          int
	PageSize      int
}

// DocumentURLResponse carries a signed, expiring download link.
type DocumentURLResponse struct {
	DownloadURL string    `json:"downloadUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// TransitionTableResponse exposes the lifecycle rules to clients.
type TransitionTableResponse struct {
	States []workflow.Edge `json:"states"`
}
