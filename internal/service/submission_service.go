package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edustack/campus-api/internal/models"
	appErrors "github.com/edustack/campus-api/pkg/errors"
)

type submissionRepository interface {
	Upsert(ctx context.Context, submission *models.Submission) (*models.Submission, error)
	FindByID(ctx context.Context, id string) (*models.Submission, error)
	FindDetailByID(ctx context.Context, id string) (*models.SubmissionDetail, error)
	List(ctx context.Context, filter models.SubmissionFilter) ([]models.SubmissionDetail, int, error)
}

type assignmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
}

type enrollmentMembership interface {
	HasAdmitted(ctx context.Context, studentID, offeringID string) (bool, error)
}

// SubmitWorkRequest is a learner's assignment submission payload.
type SubmitWorkRequest struct {
	StudentID    string   `json:"student_id" validate:"required"`
	AssignmentID string   `json:"assignment_id" validate:"required"`
	Content      string   `json:"content" validate:"required"`
	Attachments  []string `json:"attachments,omitempty" validate:"omitempty,dive,required"`
}

// SubmissionService handles coursework intake. Each (student, assignment)
// pair holds at most one submission row; submitting again overwrites it.
// Lateness is fixed against the assignment deadline at the moment of
// submission and never recomputed, so extending a deadline does not clear
// LATE flags already earned.
type SubmissionService struct {
	repo        submissionRepository
	assignments assignmentReader
	enrollments enrollmentMembership
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewSubmissionService constructs SubmissionService.
func NewSubmissionService(repo submissionRepository, assignments assignmentReader, enrollments enrollmentMembership, validate *validator.Validate, logger *zap.Logger) *SubmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionService{
		repo:        repo,
		assignments: assignments,
		enrollments: enrollments,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Submit records a learner's work for an assignment. The learner must hold an
// approved or completed enrollment in the assignment's offering. A resubmission after
// grading keeps the existing grade and flags the row for instructor review.
func (s *SubmissionService) Submit(ctx context.Context, req SubmitWorkRequest) (*models.Submission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "submission content must not be empty")
	}

	assignment, err := s.assignments.FindByID(ctx, req.AssignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}

	enrolled, err := s.enrollments.HasAdmitted(ctx, req.StudentID, assignment.OfferingID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "student is not enrolled in this offering")
	}

	submittedAt := s.now()
	status := models.SubmissionStatusSubmitted
	if submittedAt.After(assignment.DueAt) {
		status = models.SubmissionStatusLate
	}

	submission := &models.Submission{
		StudentID:    req.StudentID,
		AssignmentID: req.AssignmentID,
		Content:      req.Content,
		Attachments:  req.Attachments,
		SubmittedAt:  submittedAt,
		Status:       status,
	}
	stored, err := s.repo.Upsert(ctx, submission)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store submission")
	}
	if stored.Resubmitted {
		s.logger.Info("resubmission after grading",
			zap.String("submission_id", stored.ID),
			zap.String("assignment_id", stored.AssignmentID))
	}
	return stored, nil
}

// Get returns one submission with student and assignment context.
func (s *SubmissionService) Get(ctx context.Context, id string) (*models.SubmissionDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}
	return detail, nil
}

// List returns submissions with pagination metadata.
func (s *SubmissionService) List(ctx context.Context, filter models.SubmissionFilter) ([]models.SubmissionDetail, *models.Pagination, error) {
	submissions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list submissions")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return submissions, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}
