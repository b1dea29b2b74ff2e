package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edustack/campus-api/internal/models"
	appErrors "github.com/edustack/campus-api/pkg/errors"
)

// OfferingRepository handles persistence of course offerings. It also acts as
// the capacity ledger: admitted_count is only ever changed through the
// conditional reserve/release statements below.
type OfferingRepository struct {
	db *sqlx.DB
}

// NewOfferingRepository constructs the repository.
func NewOfferingRepository(db *sqlx.DB) *OfferingRepository {
	return &OfferingRepository{db: db}
}

// List returns offerings filtered by the provided criteria.
func (r *OfferingRepository) List(ctx context.Context, filter models.OfferingFilter) ([]models.CourseOffering, int, error) {
	base := `FROM course_offerings o`
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("o.title ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.ActiveAt != nil {
		conditions = append(conditions, fmt.Sprintf("o.starts_at <= $%d AND o.ends_at >= $%d", len(args)+1, len(args)+1))
		args = append(args, *filter.ActiveAt)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"title":     "o.title",
		"starts_at": "o.starts_at",
		"price":     "o.price",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "starts_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "o.starts_at"
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

	query := fmt.Sprintf(`SELECT o.id, o.title, o.description, o.capacity, o.admitted_count, o.price, o.starts_at, o.ends_at, o.created_by, o.created_at, o.updated_at
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var offerings []models.CourseOffering
	if err := r.db.SelectContext(ctx, &offerings, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list offerings: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count offerings: %w", err)
	}
	return offerings, total, nil
}

// FindByID returns an offering by its ID.
func (r *OfferingRepository) FindByID(ctx context.Context, id string) (*models.CourseOffering, error) {
	const query = `SELECT id, title, description, capacity, admitted_count, price, starts_at, ends_at, created_by, created_at, updated_at FROM course_offerings WHERE id = $1`
	var offering models.CourseOffering
	if err := r.db.GetContext(ctx, &offering, query, id); err != nil {
		return nil, err
	}
	return &offering, nil
}

// Create persists a new offering record.
func (r *OfferingRepository) Create(ctx context.Context, offering *models.CourseOffering) error {
	if offering.ID == "" {
		offering.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if offering.CreatedAt.IsZero() {
		offering.CreatedAt = now
	}
	offering.UpdatedAt = now
	const query = `INSERT INTO course_offerings (id, title, description, capacity, admitted_count, price, starts_at, ends_at, created_by, created_at, updated_at)
        VALUES (:id, :title, :description, :capacity, 0, :price, :starts_at, :ends_at, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, offering); err != nil {
		return fmt.Errorf("create offering: %w", err)
	}
	return nil
}

// Update edits the mutable offering attributes. Capacity may shrink below the
// admitted count; existing admissions are never unwound here.
func (r *OfferingRepository) Update(ctx context.Context, offering *models.CourseOffering) error {
	const query = `UPDATE course_offerings SET title = $2, description = $3, capacity = $4, price = $5, starts_at = $6, ends_at = $7, updated_at = $8 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, offering.ID, offering.Title, offering.Description, offering.Capacity, offering.Price, offering.StartsAt, offering.EndsAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("update offering: %w", err)
	}
	return nil
}

// TryReserveSeat atomically takes a seat when one is free. A zero-row update
// means the offering is full, which is a normal business outcome, not a fault.
func (r *OfferingRepository) TryReserveSeat(ctx context.Context, offeringID string) error {
	return tryReserveSeat(ctx, r.db, offeringID)
}

// ReleaseSeat returns a previously reserved seat, flooring at zero.
func (r *OfferingRepository) ReleaseSeat(ctx context.Context, offeringID string) error {
	return releaseSeat(ctx, r.db, offeringID)
}

// Stats returns the seat usage for an offering.
func (r *OfferingRepository) Stats(ctx context.Context, offeringID string) (*models.OfferingStats, error) {
	const query = `SELECT id, admitted_count, capacity FROM course_offerings WHERE id = $1`
	var stats models.OfferingStats
	if err := r.db.GetContext(ctx, &stats, query, offeringID); err != nil {
		return nil, err
	}
	return &stats, nil
}

func tryReserveSeat(ctx context.Context, ext sqlx.ExecerContext, offeringID string) error {
	const query = `UPDATE course_offerings SET admitted_count = admitted_count + 1, updated_at = NOW() WHERE id = $1 AND admitted_count < capacity`
	result, err := ext.ExecContext(ctx, query, offeringID)
	if err != nil {
		return fmt.Errorf("reserve seat: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve seat result: %w", err)
	}
	if affected == 0 {
		return appErrors.ErrCapacityExceeded
	}
	return nil
}

func releaseSeat(ctx context.Context, ext sqlx.ExecerContext, offeringID string) error {
	const query = `UPDATE course_offerings SET admitted_count = admitted_count - 1, updated_at = NOW() WHERE id = $1 AND admitted_count > 0`
	if _, err := ext.ExecContext(ctx, query, offeringID); err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	return nil
}
