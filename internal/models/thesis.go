package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

// ThesisStatus enumerates the lifecycle states of a thesis.
type ThesisStatus string

const (
	ThesisStatusDraft          ThesisStatus = "DRAFT"
	ThesisStatusSubmitted      ThesisStatus = "SUBMITTED"
	ThesisStatusUnderReview    ThesisStatus = "UNDER_REVIEW"
	ThesisStatusRevisionNeeded ThesisStatus = "REVISION_NEEDED"
	ThesisStatusApproved       ThesisStatus = "APPROVED"
	ThesisStatusRejected       ThesisStatus = "REJECTED"
	ThesisStatusPublished      ThesisStatus = "PUBLISHED"
)

// ThesisStatuses lists every status in lifecycle order.
var ThesisStatuses = []ThesisStatus{
	ThesisStatusDraft,
	ThesisStatusSubmitted,
	ThesisStatusUnderReview,
	ThesisStatusRevisionNeeded,
	ThesisStatusApproved,
	ThesisStatusRejected,
	ThesisStatusPublished,
}

// Valid reports whether s is a known status.
func (s ThesisStatus) Valid() bool {
	for _, known := range ThesisStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseThesisStatus normalises raw input into a status.
func ParseThesisStatus(raw string) (ThesisStatus, bool) {
	status := ThesisStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return status, status.Valid()
}

// Thesis is the persisted thesis record.
type Thesis struct {
	ID                string         `db:"id" json:"id"`
	Title             string         `db:"title" json:"title"`
	Abstract          *string        `db:"abstract" json:"abstract,omitempty"`
	Keywords          pq.StringArray `db:"keywords" json:"keywords"`
	StudentRef        string         `db:"student_ref" json:"studentRef"`
	SupervisorRef     string         `db:"supervisor_ref" json:"supervisorRef"`
	Status            ThesisStatus   `db:"status" json:"status"`
	DocumentRef       *string        `db:"document_ref" json:"documentRef,omitempty"`
	SubmissionDate    *time.Time     `db:"submission_date" json:"submissionDate,omitempty"`
	LastResubmittedAt *time.Time     `db:"last_resubmitted_at" json:"lastResubmittedAt,omitempty"`
	ApprovalDate      *time.Time     `db:"approval_date" json:"approvalDate,omitempty"`
	ReviewFeedback    *string        `db:"review_feedback" json:"reviewFeedback,omitempty"`
	Version           int            `db:"version" json:"version"`
	CreatedAt         time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate it freely.
func (t *Thesis) Clone() *Thesis {
	if t == nil {
		return nil
	}
	c := *t
	if t.Keywords != nil {
		c.Keywords = append(pq.StringArray(nil), t.Keywords...)
	}
	c.Abstract = cloneString(t.Abstract)
	c.DocumentRef = cloneString(t.DocumentRef)
	c.ReviewFeedback = cloneString(t.ReviewFeedback)
	c.SubmissionDate = cloneTime(t.SubmissionDate)
	c.LastResubmittedAt = cloneTime(t.LastResubmittedAt)
	c.ApprovalDate = cloneTime(t.ApprovalDate)
	return &c
}

// ThesisFilter narrows thesis listing queries. Empty fields are ignored.
type ThesisFilter struct {
	Status          []ThesisStatus
	StudentRef      string
	SupervisorRef   string
	KeywordContains string
	Limit           int
	Offset          int
}

// ThesisPatch holds the editable descriptive fields. Nil means unchanged.
type ThesisPatch struct {
	Title    *string
	Abstract *string
	Keywords []string
}

// Empty reports whether the patch changes nothing.
func (p ThesisPatch) Empty() bool {
	return p.Title == nil && p.Abstract == nil && p.Keywords == nil
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
