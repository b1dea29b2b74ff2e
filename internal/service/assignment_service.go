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

type assignmentRepository interface {
	List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, int, error)
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	Create(ctx context.Context, assignment *models.Assignment) error
	Update(ctx context.Context, assignment *models.Assignment) error
}

// CreateAssignmentRequest publishes graded work for an offering.
type CreateAssignmentRequest struct {
	OfferingID   string   `json:"offering_id" validate:"required"`
	Title        string   `json:"title" validate:"required"`
	Instructions string   `json:"instructions"`
	DueAt        string   `json:"due_at" validate:"required"`
	MaxPoints    float64  `json:"max_points" validate:"required,gt=0"`
	Attachments  []string `json:"attachments,omitempty"`
}

// UpdateAssignmentRequest applies partial changes to an assignment. Moving
// the deadline never rewrites lateness already recorded on submissions.
type UpdateAssignmentRequest struct {
	Title        *string  `json:"title,omitempty"`
	Instructions *string  `json:"instructions,omitempty"`
	DueAt        *string  `json:"due_at,omitempty"`
	MaxPoints    *float64 `json:"max_points,omitempty" validate:"omitempty,gt=0"`
}

func notFoundOr(err error, missingMsg, failMsg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, missingMsg)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, failMsg)
}

// AssignmentService manages published assignments.
type AssignmentService struct {
	repo      assignmentRepository
	offerings offeringReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAssignmentService constructs AssignmentService.
func NewAssignmentService(repo assignmentRepository, offerings offeringReader, validate *validator.Validate, logger *zap.Logger) *AssignmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{repo: repo, offerings: offerings, validator: validate, logger: logger}
}

// List returns assignments with pagination metadata.
func (s *AssignmentService) List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, *models.Pagination, error) {
	assignments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return assignments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one assignment.
func (s *AssignmentService) Get(ctx context.Context, id string) (*models.Assignment, error) {
	assignment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "assignment not found", "failed to load assignment")
	}
	return assignment, nil
}

// Create publishes a new assignment under an existing offering.
func (s *AssignmentService) Create(ctx context.Context, req CreateAssignmentRequest, actorID string) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	dueAt, err := time.Parse(time.RFC3339, req.DueAt)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "due_at must be RFC3339")
	}
	if _, err := s.offerings.FindByID(ctx, req.OfferingID); err != nil {
		return nil, notFoundOr(err, "offering not found", "failed to load offering")
	}

	assignment := &models.Assignment{
		OfferingID:   req.OfferingID,
		Title:        req.Title,
		Instructions: req.Instructions,
		DueAt:        dueAt,
		MaxPoints:    req.MaxPoints,
		Attachments:  req.Attachments,
		CreatedBy:    actorID,
	}
	if err := s.repo.Create(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assignment")
	}
	s.logger.Info("assignment created", zap.String("assignment_id", assignment.ID), zap.String("offering_id", assignment.OfferingID))
	return assignment, nil
}

// Update applies partial changes to an assignment.
func (s *AssignmentService) Update(ctx context.Context, id string, req UpdateAssignmentRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	assignment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		assignment.Title = *req.Title
	}
	if req.Instructions != nil {
		assignment.Instructions = *req.Instructions
	}
	if req.DueAt != nil {
		dueAt, err := time.Parse(time.RFC3339, *req.DueAt)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "due_at must be RFC3339")
		}
		assignment.DueAt = dueAt
	}
	if req.MaxPoints != nil {
		assignment.MaxPoints = *req.MaxPoints
	}
	if err := s.repo.Update(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update assignment")
	}
	return assignment, nil
}
