package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edustack/campus-api/internal/models"
)

// SubmissionRepository handles persistence of assignment submissions. The
// unique (student_id, assignment_id) constraint plus the upsert below make
// resubmission an atomic overwrite rather than a read-then-write.
type SubmissionRepository struct {
	db *sqlx.DB
}

// NewSubmissionRepository constructs the repository.
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Upsert creates or overwrites the learner's submission. A resubmission of an
// already graded row keeps the grade and GRADED status and raises the
// resubmitted_after_grading flag for instructor review; otherwise status is
// re-derived from the incoming row. Returns the stored row.
func (r *SubmissionRepository) Upsert(ctx context.Context, submission *models.Submission) (*models.Submission, error) {
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	if submission.SubmittedAt.IsZero() {
		submission.SubmittedAt = time.Now().UTC()
	}
	const query = `INSERT INTO submissions (id, student_id, assignment_id, content, attachments, submitted_at, status, resubmitted_after_grading)
        VALUES (:id, :student_id, :assignment_id, :content, :attachments, :submitted_at, :status, FALSE)
        ON CONFLICT (student_id, assignment_id) DO UPDATE SET
            content = EXCLUDED.content,
            attachments = EXCLUDED.attachments,
            submitted_at = EXCLUDED.submitted_at,
            status = CASE WHEN submissions.status = 'GRADED' THEN submissions.status ELSE EXCLUDED.status END,
            resubmitted_after_grading = (submissions.status = 'GRADED')
        RETURNING id, student_id, assignment_id, content, attachments, submitted_at, status, grade, feedback, graded_at, graded_by, resubmitted_after_grading`
	rows, err := r.db.NamedQueryContext(ctx, query, submission)
	if err != nil {
		return nil, fmt.Errorf("upsert submission: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	if !rows.Next() {
		return nil, fmt.Errorf("upsert submission: no row returned")
	}
	var stored models.Submission
	if err := rows.StructScan(&stored); err != nil {
		return nil, fmt.Errorf("scan submission: %w", err)
	}
	return &stored, nil
}

// FindByID returns a submission by its ID.
func (r *SubmissionRepository) FindByID(ctx context.Context, id string) (*models.Submission, error) {
	const query = `SELECT id, student_id, assignment_id, content, attachments, submitted_at, status, grade, feedback, graded_at, graded_by, resubmitted_after_grading FROM submissions WHERE id = $1`
	var submission models.Submission
	if err := r.db.GetContext(ctx, &submission, query, id); err != nil {
		return nil, err
	}
	return &submission, nil
}

// FindDetailByID returns a submission with student and assignment context.
func (r *SubmissionRepository) FindDetailByID(ctx context.Context, id string) (*models.SubmissionDetail, error) {
	const query = `SELECT s.id, s.student_id, s.assignment_id, s.content, s.attachments, s.submitted_at, s.status, s.grade, s.feedback, s.graded_at, s.graded_by, s.resubmitted_after_grading,
        u.full_name AS student_name, a.title AS assignment_title, a.max_points AS max_points
        FROM submissions s
        LEFT JOIN users u ON u.id = s.student_id
        LEFT JOIN assignments a ON a.id = s.assignment_id
        WHERE s.id = $1`
	var detail models.SubmissionDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns submissions filtered by the provided criteria.
func (r *SubmissionRepository) List(ctx context.Context, filter models.SubmissionFilter) ([]models.SubmissionDetail, int, error) {
	base := `FROM submissions s
LEFT JOIN users u ON u.id = s.student_id
LEFT JOIN assignments a ON a.id = s.assignment_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("s.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.AssignmentID != "" {
		conditions = append(conditions, fmt.Sprintf("s.assignment_id = $%d", len(args)+1))
		args = append(args, filter.AssignmentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("s.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT s.id, s.student_id, s.assignment_id, s.content, s.attachments, s.submitted_at, s.status, s.grade, s.feedback, s.graded_at, s.graded_by, s.resubmitted_after_grading,
        u.full_name AS student_name, a.title AS assignment_title, a.max_points AS max_points
        %s ORDER BY s.submitted_at DESC LIMIT %d OFFSET %d`, base+clause, size, offset)

	var submissions []models.SubmissionDetail
	if err := r.db.SelectContext(ctx, &submissions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count submissions: %w", err)
	}
	return submissions, total, nil
}

// RecordGrade marks a submission as graded with the given score and feedback.
// Clears the resubmission flag: the instructor has now seen the latest copy.
func (r *SubmissionRepository) RecordGrade(ctx context.Context, id string, grade float64, feedback string, actorID string, gradedAt time.Time) error {
	const query = `UPDATE submissions SET grade = $2, feedback = $3, status = $4, graded_at = $5, graded_by = $6, resubmitted_after_grading = FALSE WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, grade, feedback, models.SubmissionStatusGraded, gradedAt, actorID); err != nil {
		return fmt.Errorf("record grade: %w", err)
	}
	return nil
}

// AggregateForAssignment computes grading progress for one assignment. AVG
// over an empty set yields NULL, which maps to a nil AverageGrade.
func (r *SubmissionRepository) AggregateForAssignment(ctx context.Context, assignmentID string) (*models.AssignmentAggregate, error) {
	const query = `SELECT $1 AS assignment_id,
        COUNT(*) AS submitted_count,
        COUNT(grade) AS graded_count,
        AVG(grade) AS average_grade
        FROM submissions WHERE assignment_id = $1`
	var agg models.AssignmentAggregate
	if err := r.db.GetContext(ctx, &agg, query, assignmentID); err != nil {
		return nil, fmt.Errorf("aggregate assignment: %w", err)
	}
	return &agg, nil
}

// AggregateForOffering computes grading progress across all assignments of an
// offering, plus the live enrollment count.
func (r *SubmissionRepository) AggregateForOffering(ctx context.Context, offeringID string) (*models.OfferingAggregate, error) {
	const query = `SELECT $1 AS offering_id,
        (SELECT COUNT(*) FROM enrollments e WHERE e.offering_id = $1 AND e.status IN ('APPROVED', 'COMPLETED')) AS enrolled_count,
        COUNT(s.id) AS submitted_count,
        COUNT(s.grade) AS graded_count,
        AVG(s.grade) AS average_grade
        FROM submissions s
        JOIN assignments a ON a.id = s.assignment_id
        WHERE a.offering_id = $1`
	var agg models.OfferingAggregate
	if err := r.db.GetContext(ctx, &agg, query, offeringID); err != nil {
		return nil, fmt.Errorf("aggregate offering: %w", err)
	}
	return &agg, nil
}

// GradeReportRows returns the flattened export rows for an offering.
func (r *SubmissionRepository) GradeReportRows(ctx context.Context, offeringID string) ([]models.GradeReportRow, error) {
	const query = `SELECT u.full_name AS student_name, a.title AS assignment_title, s.status AS status, s.grade, a.max_points
        FROM submissions s
        JOIN assignments a ON a.id = s.assignment_id
        LEFT JOIN users u ON u.id = s.student_id
        WHERE a.offering_id = $1
        ORDER BY u.full_name, a.due_at`
	var rows []models.GradeReportRow
	if err := r.db.SelectContext(ctx, &rows, query, offeringID); err != nil {
		return nil, fmt.Errorf("grade report rows: %w", err)
	}
	return rows, nil
}
