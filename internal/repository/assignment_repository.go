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

// AssignmentRepository handles persistence of assignments.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// List returns assignments filtered by the provided criteria.
func (r *AssignmentRepository) List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, int, error) {
	base := `FROM assignments a`
	var conditions []string
	var args []interface{}

	if filter.OfferingID != "" {
		conditions = append(conditions, fmt.Sprintf("a.offering_id = $%d", len(args)+1))
		args = append(args, filter.OfferingID)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"due_at":     "a.due_at",
		"title":      "a.title",
		"created_at": "a.created_at",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "due_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "a.due_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf(`SELECT a.id, a.offering_id, a.title, a.instructions, a.due_at, a.max_points, a.attachments, a.created_by, a.created_at, a.updated_at
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var assignments []models.Assignment
	if err := r.db.SelectContext(ctx, &assignments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list assignments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count assignments: %w", err)
	}
	return assignments, total, nil
}

// FindByID returns an assignment by its ID.
func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	const query = `SELECT id, offering_id, title, instructions, due_at, max_points, attachments, created_by, created_at, updated_at FROM assignments WHERE id = $1`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// Create persists a new assignment record.
func (r *AssignmentRepository) Create(ctx context.Context, assignment *models.Assignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = now
	}
	assignment.UpdatedAt = now
	const query = `INSERT INTO assignments (id, offering_id, title, instructions, due_at, max_points, attachments, created_by, created_at, updated_at)
        VALUES (:id, :offering_id, :title, :instructions, :due_at, :max_points, :attachments, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

// Update edits assignment attributes.
func (r *AssignmentRepository) Update(ctx context.Context, assignment *models.Assignment) error {
	const query = `UPDATE assignments SET title = $2, instructions = $3, due_at = $4, max_points = $5, attachments = $6, updated_at = $7 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, assignment.ID, assignment.Title, assignment.Instructions, assignment.DueAt, assignment.MaxPoints, assignment.Attachments, time.Now().UTC()); err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	return nil
}
