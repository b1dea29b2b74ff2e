package models

import (
	"time"

	"github.com/lib/pq"
)

// SubmissionStatus tracks a learner's response to an assignment. There is no
// stored "not submitted" value: absence of a row is that state. LATE is
// derived once at submission time and never recalculated.
type SubmissionStatus string

const (
	SubmissionStatusSubmitted SubmissionStatus = "SUBMITTED"
	SubmissionStatusLate      SubmissionStatus = "LATE"
	SubmissionStatusGraded    SubmissionStatus = "GRADED"
)

// Submission is a learner's recorded response to an assignment. Exactly one
// row exists per (student, assignment); resubmission overwrites in place.
type Submission struct {
	ID           string           `db:"id" json:"id"`
	StudentID    string           `db:"student_id" json:"student_id"`
	AssignmentID string           `db:"assignment_id" json:"assignment_id"`
	Content      string           `db:"content" json:"content"`
	Attachments  pq.StringArray   `db:"attachments" json:"attachments,omitempty"`
	SubmittedAt  time.Time        `db:"submitted_at" json:"submitted_at"`
	Status       SubmissionStatus `db:"status" json:"status"`
	Grade        *float64         `db:"grade" json:"grade,omitempty"`
	Feedback     *string          `db:"feedback" json:"feedback,omitempty"`
	GradedAt     *time.Time       `db:"graded_at" json:"graded_at,omitempty"`
	GradedBy     *string          `db:"graded_by" json:"graded_by,omitempty"`
	Resubmitted  bool             `db:"resubmitted_after_grading" json:"resubmitted_after_grading"`
}

// SubmissionDetail enriches Submission with student and assignment info.
type SubmissionDetail struct {
	Submission
	StudentName     string  `db:"student_name" json:"student_name"`
	AssignmentTitle string  `db:"assignment_title" json:"assignment_title"`
	MaxPoints       float64 `db:"max_points" json:"max_points"`
}

// SubmissionFilter provides filters for listing submissions.
type SubmissionFilter struct {
	StudentID    string
	AssignmentID string
	Status       SubmissionStatus
	Page         int
	PageSize     int
}

// OfferingAggregate summarises grading progress across an offering.
type OfferingAggregate struct {
	OfferingID     string   `db:"offering_id" json:"offering_id"`
	EnrolledCount  int      `db:"enrolled_count" json:"enrolled_count"`
	SubmittedCount int      `db:"submitted_count" json:"submitted_count"`
	GradedCount    int      `db:"graded_count" json:"graded_count"`
	AverageGrade   *float64 `db:"average_grade" json:"average_grade,omitempty"`
	CompletionRate float64  `db:"completion_rate" json:"completion_rate"`
}

// GradeReportRow is one line of an offering grade report export.
type GradeReportRow struct {
	StudentName     string   `db:"student_name" json:"student_name"`
	AssignmentTitle string   `db:"assignment_title" json:"assignment_title"`
	Status          string   `db:"status" json:"status"`
	Grade           *float64 `db:"grade" json:"grade,omitempty"`
	MaxPoints       float64  `db:"max_points" json:"max_points"`
}
