package models

import (
	"time"

	"github.com/lib/pq"
)

// Assignment describes graded work published for an offering.
type Assignment struct {
	ID           string         `db:"id" json:"id"`
	OfferingID   string         `db:"offering_id" json:"offering_id"`
	Title        string         `db:"title" json:"title"`
	Instructions string         `db:"instructions" json:"instructions"`
	DueAt        time.Time      `db:"due_at" json:"due_at"`
	MaxPoints    float64        `db:"max_points" json:"max_points"`
	Attachments  pq.StringArray `db:"attachments" json:"attachments,omitempty"`
	CreatedBy    string         `db:"created_by" json:"created_by"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// AssignmentFilter provides filters for listing assignments.
type AssignmentFilter struct {
	OfferingID string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

// AssignmentAggregate summarises grading progress for one assignment.
// AverageGrade is nil when nothing has been graded yet.
type AssignmentAggregate struct {
	AssignmentID   string   `db:"assignment_id" json:"assignment_id"`
	SubmittedCount int      `db:"submitted_count" json:"submitted_count"`
	GradedCount    int      `db:"graded_count" json:"graded_count"`
	AverageGrade   *float64 `db:"average_grade" json:"average_grade,omitempty"`
}
