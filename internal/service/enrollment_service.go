package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edustack/campus-api/internal/models"
	appErrors "github.com/edustack/campus-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ExistsNonRejected(ctx context.Context, studentID, offeringID string) (bool, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Approve(ctx context.Context, id, offeringID, actorID string, decidedAt time.Time) error
	Reject(ctx context.Context, id, actorID string, decidedAt time.Time) error
	Complete(ctx context.Context, id string, completedAt time.Time) error
	Revoke(ctx context.Context, id, offeringID, actorID string, decidedAt time.Time) error
}

type offeringReader interface {
	FindByID(ctx context.Context, id string) (*models.CourseOffering, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type paymentGate interface {
	Record(ctx context.Context, enrollmentID string, method models.PaymentMethod, proofRef *string) (*models.PaymentRecord, error)
	AttachProof(ctx context.Context, enrollmentID string, method models.PaymentMethod, proofRef string) (*models.PaymentRecord, error)
	StateFor(ctx context.Context, enrollmentID string, method models.PaymentMethod) (models.PaymentState, error)
}

type enrollmentAuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RequestEnrollmentRequest describes the intake payload.
type RequestEnrollmentRequest struct {
	StudentID     string  `json:"student_id" validate:"required"`
	OfferingID    string  `json:"offering_id" validate:"required"`
	PaymentMethod string  `json:"payment_method" validate:"required"`
	ProofRef      *string `json:"proof_ref,omitempty"`
}

// DecideEnrollmentRequest carries the admin's admission verdict.
type DecideEnrollmentRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected"`
}

// AttachProofRequest attaches a payment proof to an existing enrollment.
type AttachProofRequest struct {
	ProofRef string `json:"proof_ref" validate:"required"`
}

// EnrollmentService governs the admission workflow for a learner's request to
// join a course offering: intake, payment gate, admission decision and
// completion. Capacity is checked only at the approval transition; a full
// offering still accepts PENDING requests, matching the intake design where
// applications queue regardless of seats.
type EnrollmentService struct {
	repo      enrollmentRepository
	offerings offeringReader
	students  studentReader
	payments  paymentGate
	audits    enrollmentAuditWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, offerings offeringReader, students studentReader, payments paymentGate, audits enrollmentAuditWriter, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, offerings: offerings, students: students, payments: payments, audits: audits, validator: validate, logger: logger}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// Get returns a single enrollment with context.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

// Request creates a PENDING enrollment and records the payment gate entry.
// A learner holding a non-rejected enrollment for the same offering gets
// ErrDuplicateEnrollment; a full offering does not block the request.
func (s *EnrollmentService) Request(ctx context.Context, req RequestEnrollmentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	method := models.PaymentMethod(req.PaymentMethod)
	if !method.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown payment method")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student account inactive")
	}
	if _, err := s.offerings.FindByID(ctx, req.OfferingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering")
	}

	exists, err := s.repo.ExistsNonRejected(ctx, req.StudentID, req.OfferingID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}
	if exists {
		return nil, appErrors.ErrDuplicateEnrollment
	}

	enrollment := &models.Enrollment{
		StudentID:     req.StudentID,
		OfferingID:    req.OfferingID,
		PaymentMethod: method,
		Status:        models.EnrollmentStatusPending,
		RequestedAt:   time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		if appErrors.Is(err, appErrors.ErrDuplicateEnrollment) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	if _, err := s.payments.Record(ctx, enrollment.ID, method, req.ProofRef); err != nil {
		return nil, err
	}

	return s.Get(ctx, enrollment.ID)
}

// AttachProof stores the payment proof reference for a PENDING enrollment.
// Attaching never changes the enrollment status itself.
func (s *EnrollmentService) AttachProof(ctx context.Context, id string, req AttachProofRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid proof payload")
	}
	enrollment, err := s.loadEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.payments.AttachProof(ctx, enrollment.ID, enrollment.PaymentMethod, req.ProofRef); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Decide applies an admin admission verdict to a PENDING enrollment. Approval
// requires a cleared payment gate for gated methods and a successful seat
// reservation; losing the capacity race leaves the enrollment PENDING and
// surfaces ErrCapacityExceeded to the caller.
func (s *EnrollmentService) Decide(ctx context.Context, id string, req DecideEnrollmentRequest, actorID string) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}
	enrollment, err := s.loadEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "enrollment is "+string(enrollment.Status)+", expected PENDING")
	}

	now := time.Now().UTC()
	switch models.EnrollmentDecision(req.Decision) {
	case models.DecisionApproved:
		state, err := s.payments.StateFor(ctx, enrollment.ID, enrollment.PaymentMethod)
		if err != nil {
			return nil, err
		}
		if state != models.PaymentStateCleared {
			return nil, appErrors.Clone(appErrors.ErrPaymentNotCleared, "payment gate is "+string(state))
		}
		if err := s.repo.Approve(ctx, enrollment.ID, enrollment.OfferingID, actorID, now); err != nil {
			return nil, err
		}
	case models.DecisionRejected:
		if err := s.repo.Reject(ctx, enrollment.ID, actorID, now); err != nil {
			return nil, err
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown decision")
	}

	s.writeDecisionAudit(ctx, actorID, enrollment.ID, req.Decision)
	return s.Get(ctx, id)
}

// Complete closes an APPROVED enrollment. The seat stays counted.
func (s *EnrollmentService) Complete(ctx context.Context, id, actorID string) (*models.EnrollmentDetail, error) {
	enrollment, err := s.loadEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "enrollment is "+string(enrollment.Status)+", expected APPROVED")
	}
	if err := s.repo.Complete(ctx, enrollment.ID, time.Now().UTC()); err != nil {
		return nil, err
	}
	s.writeDecisionAudit(ctx, actorID, enrollment.ID, "completed")
	return s.Get(ctx, id)
}

// Revoke reverses an APPROVED enrollment, releasing its seat.
func (s *EnrollmentService) Revoke(ctx context.Context, id, actorID string) (*models.EnrollmentDetail, error) {
	enrollment, err := s.loadEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "enrollment is "+string(enrollment.Status)+", expected APPROVED")
	}
	if err := s.repo.Revoke(ctx, enrollment.ID, enrollment.OfferingID, actorID, time.Now().UTC()); err != nil {
		return nil, err
	}
	s.writeDecisionAudit(ctx, actorID, enrollment.ID, "revoked")
	return s.Get(ctx, id)
}

func (s *EnrollmentService) loadEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

func (s *EnrollmentService) writeDecisionAudit(ctx context.Context, actorID, enrollmentID, decision string) {
	if s.audits == nil {
		return
	}
	values, _ := json.Marshal(map[string]string{"decision": decision})
	if err := s.audits.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionEnrollmentDecision,
		Resource:   "enrollment",
		ResourceID: &enrollmentID,
		NewValues:  values,
	}); err != nil {
		s.logger.Warn("failed to record enrollment audit log", zap.Error(err))
	}
}
