package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edustack/campus-api/internal/models"
	appErrors "github.com/edustack/campus-api/pkg/errors"
)

type offeringRepository interface {
	List(ctx context.Context, filter models.OfferingFilter) ([]models.CourseOffering, int, error)
	FindByID(ctx context.Context, id string) (*models.CourseOffering, error)
	Create(ctx context.Context, offering *models.CourseOffering) error
	Update(ctx context.Context, offering *models.CourseOffering) error
	Stats(ctx context.Context, offeringID string) (*models.OfferingStats, error)
}

// CreateOfferingRequest describes a new course offering.
type CreateOfferingRequest struct {
	Title       string  `json:"title" validate:"required"`
	Description *string `json:"description,omitempty"`
	Capacity    int     `json:"capacity" validate:"required,gt=0"`
	Price       float64 `json:"price" validate:"min=0"`
	StartsAt    string  `json:"starts_at" validate:"required"`
	EndsAt      string  `json:"ends_at" validate:"required"`
}

// UpdateOfferingRequest updates mutable offering fields. Capacity may grow or
// shrink; a shrink below the admitted count is rejected since admitted seats
// are never clawed back.
type UpdateOfferingRequest struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Capacity    *int     `json:"capacity,omitempty" validate:"omitempty,gt=0"`
	Price       *float64 `json:"price,omitempty" validate:"omitempty,min=0"`
}

// OfferingService manages the course offering catalogue.
type OfferingService struct {
	repo      offeringRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewOfferingService constructs OfferingService.
func NewOfferingService(repo offeringRepository, validate *validator.Validate, logger *zap.Logger) *OfferingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OfferingService{repo: repo, validator: validate, logger: logger}
}

// List returns offerings with pagination metadata.
func (s *OfferingService) List(ctx context.Context, filter models.OfferingFilter) ([]models.CourseOffering, *models.Pagination, error) {
	offerings, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list offerings")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return offerings, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one offering.
func (s *OfferingService) Get(ctx context.Context, id string) (*models.CourseOffering, error) {
	offering, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering")
	}
	return offering, nil
}

// Create publishes a new offering with an empty seat ledger.
func (s *OfferingService) Create(ctx context.Context, req CreateOfferingRequest, actorID string) (*models.CourseOffering, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid offering payload")
	}
	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "starts_at must be RFC3339")
	}
	endsAt, err := time.Parse(time.RFC3339, req.EndsAt)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "ends_at must be RFC3339")
	}
	if !endsAt.After(startsAt) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "ends_at must be after starts_at")
	}

	offering := &models.CourseOffering{
		Title:       req.Title,
		Description: req.Description,
		Capacity:    req.Capacity,
		Price:       req.Price,
		StartsAt:    startsAt,
		EndsAt:      endsAt,
		CreatedBy:   actorID,
	}
	if err := s.repo.Create(ctx, offering); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create offering")
	}
	s.logger.Info("offering created", zap.String("offering_id", offering.ID), zap.Int("capacity", offering.Capacity))
	return offering, nil
}

// Update applies partial changes to an offering.
func (s *OfferingService) Update(ctx context.Context, id string, req UpdateOfferingRequest) (*models.CourseOffering, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid offering payload")
	}
	offering, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		offering.Title = *req.Title
	}
	if req.Description != nil {
		offering.Description = req.Description
	}
	if req.Capacity != nil {
		if *req.Capacity < offering.AdmittedCount {
			return nil, appErrors.Clone(appErrors.ErrValidation, "capacity cannot drop below admitted count")
		}
		offering.Capacity = *req.Capacity
	}
	if req.Price != nil {
		offering.Price = *req.Price
	}
	if err := s.repo.Update(ctx, offering); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update offering")
	}
	return offering, nil
}

// Stats returns the seat ledger snapshot for an offering.
func (s *OfferingService) Stats(ctx context.Context, id string) (*models.OfferingStats, error) {
	stats, err := s.repo.Stats(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering stats")
	}
	return stats, nil
}
