package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/edustack/campus-api/internal/models"
	appErrors "github.com/edustack/campus-api/pkg/errors"
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint hits.
const pgUniqueViolation = "23505"

// EnrollmentRepository handles persistence of enrollment requests. A partial
// unique index on (student_id, offering_id) WHERE status <> 'REJECTED' is the
// authority for the one-enrollment-per-pair rule; the repository translates
// that violation into ErrDuplicateEnrollment.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN users u ON u.id = e.student_id
LEFT JOIN course_offerings o ON o.id = e.offering_id
LEFT JOIN payment_records p ON p.enrollment_id = e.id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.OfferingID != "" {
		conditions = append(conditions, fmt.Sprintf("e.offering_id = $%d", len(args)+1))
		args = append(args, filter.OfferingID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"requested_at":   "e.requested_at",
		"student_name":   "u.full_name",
		"offering_title": "o.title",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "requested_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "e.requested_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.offering_id, e.payment_method, e.status, e.requested_at, e.decided_at, e.decided_by, e.completed_at,
        u.full_name AS student_name, o.title AS offering_title, p.state AS payment_state
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, offering_id, payment_method, status, requested_at, decided_at, decided_by, completed_at FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with contextual info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.offering_id, e.payment_method, e.status, e.requested_at, e.decided_at, e.decided_by, e.completed_at,
        u.full_name AS student_name, o.title AS offering_title, p.state AS payment_state
        FROM enrollments e
        LEFT JOIN users u ON u.id = e.student_id
        LEFT JOIN course_offerings o ON o.id = e.offering_id
        LEFT JOIN payment_records p ON p.enrollment_id = e.id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsNonRejected checks whether the learner already holds a live
// enrollment for the offering. The partial unique index remains the final
// authority; this pre-check only produces a friendlier error path.
func (r *EnrollmentRepository) ExistsNonRejected(ctx context.Context, studentID, offeringID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND offering_id = $2 AND status <> $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, offeringID, models.EnrollmentStatusRejected); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return true, nil
}

// HasAdmitted checks whether the learner holds an APPROVED or COMPLETED
// enrollment for the offering. Coursework intake gates on this.
func (r *EnrollmentRepository) HasAdmitted(ctx context.Context, studentID, offeringID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND offering_id = $2 AND status IN ($3, $4) LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, offeringID, models.EnrollmentStatusApproved, models.EnrollmentStatusCompleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment request in PENDING state.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.RequestedAt.IsZero() {
		enrollment.RequestedAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusPending
	}
	const query = `INSERT INTO enrollments (id, student_id, offering_id, payment_method, status, requested_at, decided_at, decided_by, completed_at)
        VALUES (:id, :student_id, :offering_id, :payment_method, :status, :requested_at, :decided_at, :decided_by, :completed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
			return appErrors.ErrDuplicateEnrollment
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Approve transitions a PENDING enrollment to APPROVED and reserves a seat in
// the same transaction. When the seat reservation loses the race the whole
// transaction rolls back and the enrollment stays PENDING.
func (r *EnrollmentRepository) Approve(ctx context.Context, id, offeringID, actorID string, decidedAt time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approve tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := tryReserveSeat(ctx, tx, offeringID); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE enrollments SET status = $2, decided_at = $3, decided_by = $4 WHERE id = $1 AND status = $5`,
		id, models.EnrollmentStatusApproved, decidedAt, actorID, models.EnrollmentStatusPending)
	if err != nil {
		return fmt.Errorf("approve enrollment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("approve enrollment result: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "enrollment is not pending")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit approve tx: %w", err)
	}
	return nil
}

// Reject transitions a PENDING enrollment to REJECTED. No ledger effect.
func (r *EnrollmentRepository) Reject(ctx context.Context, id, actorID string, decidedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE enrollments SET status = $2, decided_at = $3, decided_by = $4 WHERE id = $1 AND status = $5`,
		id, models.EnrollmentStatusRejected, decidedAt, actorID, models.EnrollmentStatusPending)
	if err != nil {
		return fmt.Errorf("reject enrollment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reject enrollment result: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "enrollment is not pending")
	}
	return nil
}

// Complete transitions an APPROVED enrollment to COMPLETED. The seat stays
// counted; reversal policy is explicit via Revoke.
func (r *EnrollmentRepository) Complete(ctx context.Context, id string, completedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE enrollments SET status = $2, completed_at = $3 WHERE id = $1 AND status = $4`,
		id, models.EnrollmentStatusCompleted, completedAt, models.EnrollmentStatusApproved)
	if err != nil {
		return fmt.Errorf("complete enrollment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete enrollment result: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "enrollment is not approved")
	}
	return nil
}

// Revoke reverses an APPROVED enrollment to REJECTED and releases the seat in
// one transaction.
func (r *EnrollmentRepository) Revoke(ctx context.Context, id, offeringID, actorID string, decidedAt time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin revoke tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := tx.ExecContext(ctx,
		`UPDATE enrollments SET status = $2, decided_at = $3, decided_by = $4 WHERE id = $1 AND status = $5`,
		id, models.EnrollmentStatusRejected, decidedAt, actorID, models.EnrollmentStatusApproved)
	if err != nil {
		return fmt.Errorf("revoke enrollment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke enrollment result: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "enrollment is not approved")
	}

	if err := releaseSeat(ctx, tx, offeringID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit revoke tx: %w", err)
	}
	return nil
}

// CountByOfferingAndStatus returns the number of enrollments per status.
func (r *EnrollmentRepository) CountByOfferingAndStatus(ctx context.Context, offeringID string, statuses ...models.EnrollmentStatus) (int, error) {
	query, args, err := sqlx.In(`SELECT COUNT(*) FROM enrollments WHERE offering_id = ? AND status IN (?)`, offeringID, statuses)
	if err != nil {
		return 0, fmt.Errorf("build enrollment count query: %w", err)
	}
	query = r.db.Rebind(query)
	var total int
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		return 0, fmt.Errorf("count enrollments by status: %w", err)
	}
	return total, nil
}
