// Package workflow holds the thesis lifecycle rules: which status may follow
// which, and what each status entry does to the record's domain timestamps.
package workflow

import (
	"time"

	"github.com/noah-isme/sma-thesis-api/internal/models"
)

type stateRule struct {
	next      []models.ThesisStatus
	editable  bool
	deletable bool
	bindable  bool
}

var rules = map[models.ThesisStatus]stateRule{
	models.ThesisStatusDraft: {
		next:      []models.ThesisStatus{models.ThesisStatusDraft, models.ThesisStatusSubmitted},
		editable:  true,
		deletable: true,
		bindable:  true,
	},
	models.ThesisStatusSubmitted: {
		next: []models.ThesisStatus{models.ThesisStatusSubmitted, models.ThesisStatusUnderReview},
	},
	models.ThesisStatusUnderReview: {
		next: []models.ThesisStatus{
			models.ThesisStatusUnderReview,
			models.ThesisStatusRevisionNeeded,
			models.ThesisStatusApproved,
			models.ThesisStatusRejected,
		},
	},
	models.ThesisStatusRevisionNeeded: {
		next:     []models.ThesisStatus{models.ThesisStatusRevisionNeeded, models.ThesisStatusSubmitted},
		editable: true,
		bindable: true,
	},
	models.ThesisStatusApproved: {
		next: []models.ThesisStatus{models.ThesisStatusApproved, models.ThesisStatusPublished},
	},
	models.ThesisStatusRejected:  {},
	models.ThesisStatusPublished: {},
}

// Allowed reports whether a record in status from may move to status to.
func Allowed(from, to models.ThesisStatus) bool {
	for _, candidate := range rules[from].next {
		if candidate == to {
			return true
		}
	}
	return false
}

// Targets returns a copy of the statuses reachable from status.
func Targets(status models.ThesisStatus) []models.ThesisStatus {
	next := rules[status].next
	out := make([]models.ThesisStatus, len(next))
	copy(out, next)
	return out
}

// IsTerminal reports whether status has no outgoing edges at all.
func IsTerminal(status models.ThesisStatus) bool {
	rule, ok := rules[status]
	return ok && len(rule.next) == 0
}

// Editable reports whether descriptive fields may change in status.
func Editable(status models.ThesisStatus) bool { return rules[status].editable }

// Deletable reports whether a record in status may be removed.
func Deletable(status models.ThesisStatus) bool { return rules[status].deletable }

// Bindable reports whether a document may be attached in status.
func Bindable(status models.ThesisStatus) bool { return rules[status].bindable }

// Enter applies the domain side effects of moving record into status to.
// Self-transitions leave every domain timestamp untouched.
func Enter(record *models.Thesis, to models.ThesisStatus, now time.Time) {
	if record == nil || record.Status == to {
		return
	}
	switch to {
	case models.ThesisStatusSubmitted:
		if record.SubmissionDate == nil {
			record.SubmissionDate = timePtr(now)
		} else {
			record.LastResubmittedAt = timePtr(now)
		}
	case models.ThesisStatusApproved:
		if record.ApprovalDate == nil {
			record.ApprovalDate = timePtr(now)
		}
	}
}

// Edge describes one row of the transition table for API consumers.
type Edge struct {
	From      models.ThesisStatus   `json:"from"`
	To        []models.ThesisStatus `json:"to"`
	Terminal  bool                  `json:"terminal"`
	Editable  bool                  `json:"editable"`
	Deletable bool                  `json:"deletable"`
	Bindable  bool                  `json:"bindable"`
}

// Table returns the full transition table in lifecycle order.
func Table() []Edge {
	edges := make([]Edge, 0, len(models.ThesisStatuses))
	for _, status := range models.ThesisStatuses {
		rule := rules[status]
		edges = append(edges, Edge{
			From:      status,
			To:        Targets(status),
			Terminal:  IsTerminal(status),
			Editable:  rule.editable,
			Deletable: rule.deletable,
			Bindable:  rule.bindable,
		})
	}
	return edges
}

func timePtr(t time.Time) *time.Time {
	return &t
}
