package models

import "time"

// ReviewFeedbackEntry is one append-only review comment attached to a thesis.
type ReviewFeedbackEntry struct {
	ID         string       `db:"id" json:"id"`
	ThesisID   string       `db:"thesis_id" json:"thesisId"`
	Status     ThesisStatus `db:"status" json:"status"`
	Comment    string       `db:"comment" json:"comment"`
	AuthorRef  string       `db:"author_ref" json:"authorRef"`
	AuthoredAt time.Time    `db:"authored_at" json:"authoredAt"`
}
