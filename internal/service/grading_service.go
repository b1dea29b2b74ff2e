package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edustack/campus-api/internal/models"
	appErrors "github.com/edustack/campus-api/pkg/errors"
)

type gradingRepository interface {
	FindByID(ctx context.Context, id string) (*models.Submission, error)
	RecordGrade(ctx context.Context, id string, grade float64, feedback string, actorID string, gradedAt time.Time) error
	AggregateForAssignment(ctx context.Context, assignmentID string) (*models.AssignmentAggregate, error)
	AggregateForOffering(ctx context.Context, offeringID string) (*models.OfferingAggregate, error)
}

type aggregateCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// RecordGradeRequest is an instructor's grading payload.
type RecordGradeRequest struct {
	Grade    float64 `json:"grade"`
	Feedback string  `json:"feedback"`
}

// GradingService records grades and serves grading aggregates. A grade is a
// single value on [0, max_points]; recording again overwrites the previous
// value and always moves the submission to GRADED, which also clears any
// resubmission review flag. Aggregates are cached in Redis and invalidated
// whenever a grade lands.
type GradingService struct {
	repo        gradingRepository
	assignments assignmentReader
	offerings   offeringReader
	cache       aggregateCache
	audits      enrollmentAuditWriter
	cacheTTL    time.Duration
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewGradingService constructs GradingService. cache may be nil to disable
// aggregate caching; audits may be nil to skip the trail.
func NewGradingService(repo gradingRepository, assignments assignmentReader, offerings offeringReader, cache aggregateCache, audits enrollmentAuditWriter, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *GradingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &GradingService{
		repo:        repo,
		assignments: assignments,
		offerings:   offerings,
		cache:       cache,
		audits:      audits,
		cacheTTL:    cacheTTL,
		validator:   validate,
		logger:      logger,
	}
}

// RecordGrade stores a grade and feedback for a submission. Grades outside
// [0, max_points] are rejected without touching the row.
func (s *GradingService) RecordGrade(ctx context.Context, submissionID string, req RecordGradeRequest, actorID string) (*models.Submission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}

	submission, err := s.repo.FindByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}

	assignment, err := s.assignments.FindByID(ctx, submission.AssignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	if req.Grade < 0 || req.Grade > assignment.MaxPoints {
		return nil, appErrors.Clone(appErrors.ErrInvalidGrade,
			fmt.Sprintf("grade must be between 0 and %g", assignment.MaxPoints))
	}

	if err := s.repo.RecordGrade(ctx, submissionID, req.Grade, req.Feedback, actorID, time.Now().UTC()); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record grade")
	}

	s.invalidateAggregates(ctx, assignment.OfferingID, assignment.ID)
	s.writeGradeAudit(ctx, actorID, submissionID, req.Grade)

	updated, err := s.repo.FindByID(ctx, submissionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload submission")
	}
	return updated, nil
}

// AssignmentAggregate returns the grading summary for one assignment. The
// average covers graded submissions only and is nil when none exist.
func (s *GradingService) AssignmentAggregate(ctx context.Context, assignmentID string) (*models.AssignmentAggregate, error) {
	key := fmt.Sprintf("aggregates:assignment:%s", assignmentID)
	if s.cache != nil {
		var cached models.AssignmentAggregate
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !appErrors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("aggregate cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	if _, err := s.assignments.FindByID(ctx, assignmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}

	aggregate, err := s.repo.AggregateForAssignment(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute aggregate")
	}
	s.storeAggregate(ctx, key, aggregate)
	return aggregate, nil
}

// OfferingAggregate returns the grading summary across an offering: enrolled
// and submitted counts, graded count, average grade and completion rate. A
// completion rate over an empty roster is 0, not a division error.
func (s *GradingService) OfferingAggregate(ctx context.Context, offeringID string) (*models.OfferingAggregate, error) {
	key := fmt.Sprintf("aggregates:offering:%s", offeringID)
	if s.cache != nil {
		var cached models.OfferingAggregate
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !appErrors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("aggregate cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	if _, err := s.offerings.FindByID(ctx, offeringID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering")
	}

	aggregate, err := s.repo.AggregateForOffering(ctx, offeringID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute aggregate")
	}
	if aggregate.EnrolledCount > 0 {
		aggregate.CompletionRate = float64(aggregate.GradedCount) / float64(aggregate.EnrolledCount)
	}
	s.storeAggregate(ctx, key, aggregate)
	return aggregate, nil
}

func (s *GradingService) storeAggregate(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.cacheTTL); err != nil {
		s.logger.Warn("aggregate cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *GradingService) invalidateAggregates(ctx context.Context, offeringID, assignmentID string) {
	if s.cache == nil {
		return
	}
	for _, pattern := range []string{
		fmt.Sprintf("aggregates:assignment:%s", assignmentID),
		fmt.Sprintf("aggregates:offering:%s", offeringID),
	} {
		if err := s.cache.DeleteByPattern(ctx, pattern); err != nil {
			s.logger.Warn("aggregate cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
		}
	}
}

func (s *GradingService) writeGradeAudit(ctx context.Context, actorID, submissionID string, grade float64) {
	if s.audits == nil {
		return
	}
	values, _ := json.Marshal(map[string]interface{}{"grade": grade})
	if err := s.audits.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionGradeRecorded,
		Resource:   "submission",
		ResourceID: &submissionID,
		NewValues:  values,
	}); err != nil {
		s.logger.Warn("failed to record grading audit log", zap.Error(err))
	}
}
