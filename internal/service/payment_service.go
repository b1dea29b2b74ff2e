package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edustack/campus-api/internal/models"
	appErrors "github.com/edustack/campus-api/pkg/errors"
)

type paymentRepository interface {
	FindByEnrollment(ctx context.Context, enrollmentID string) (*models.PaymentRecord, error)
	Upsert(ctx context.Context, record *models.PaymentRecord) error
	UpdateState(ctx context.Context, enrollmentID string, state models.PaymentState, actorID string, reason *string) error
}

type paymentAuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RejectPaymentRequest carries the admin's rejection reason.
type RejectPaymentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// PaymentService is the manual verification gate in front of admission.
// It records claimed payments and exposes them for admin review; ungated
// methods clear immediately at intake.
type PaymentService struct {
	repo      paymentRepository
	audits    paymentAuditWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPaymentService constructs PaymentService.
func NewPaymentService(repo paymentRepository, audits paymentAuditWriter, validate *validator.Validate, logger *zap.Logger) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{repo: repo, audits: audits, validator: validate, logger: logger}
}

// Record stores the claimed payment for a fresh enrollment. Methods that do
// not require manual verification are cleared on the spot.
func (s *PaymentService) Record(ctx context.Context, enrollmentID string, method models.PaymentMethod, proofRef *string) (*models.PaymentRecord, error) {
	state := models.PaymentStateCleared
	if method.RequiresVerification() {
		state = models.PaymentStateAwaitingProof
		if proofRef != nil && *proofRef != "" {
			state = models.PaymentStateProofSubmitted
		}
	}

	record := &models.PaymentRecord{
		EnrollmentID: enrollmentID,
		Method:       method,
		ProofRef:     proofRef,
		State:        state,
	}
	if err := s.repo.Upsert(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}
	return s.find(ctx, enrollmentID)
}

// AttachProof upserts a proof artifact reference onto the gate record. The
// call is idempotent: attaching the same or a newer proof again just moves
// the record to PROOF_SUBMITTED unless it was already decided.
func (s *PaymentService) AttachProof(ctx context.Context, enrollmentID string, method models.PaymentMethod, proofRef string) (*models.PaymentRecord, error) {
	if proofRef == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "proof reference is required")
	}

	state := models.PaymentStateProofSubmitted
	if !method.RequiresVerification() {
		state = models.PaymentStateCleared
	}
	record := &models.PaymentRecord{
		EnrollmentID: enrollmentID,
		Method:       method,
		ProofRef:     &proofRef,
		State:        state,
	}
	if err := s.repo.Upsert(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to attach payment proof")
	}
	return s.find(ctx, enrollmentID)
}

// MarkCleared approves the claimed payment, unblocking the admission decision.
func (s *PaymentService) MarkCleared(ctx context.Context, enrollmentID, actorID string) (*models.PaymentRecord, error) {
	if err := s.repo.UpdateState(ctx, enrollmentID, models.PaymentStateCleared, actorID, nil); err != nil {
		return nil, err
	}
	s.writeAudit(ctx, actorID, enrollmentID, []byte(`{"state":"CLEARED"}`))
	return s.find(ctx, enrollmentID)
}

// MarkRejected declines the claimed payment with a reason.
func (s *PaymentService) MarkRejected(ctx context.Context, enrollmentID, actorID string, req RejectPaymentRequest) (*models.PaymentRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment rejection payload")
	}
	if err := s.repo.UpdateState(ctx, enrollmentID, models.PaymentStateRejected, actorID, &req.Reason); err != nil {
		return nil, err
	}
	s.writeAudit(ctx, actorID, enrollmentID, []byte(`{"state":"REJECTED"}`))
	return s.find(ctx, enrollmentID)
}

// StateFor returns the gate state for an enrollment. An enrollment with no
// gate record yet counts as AWAITING_PROOF for gated methods.
func (s *PaymentService) StateFor(ctx context.Context, enrollmentID string, method models.PaymentMethod) (models.PaymentState, error) {
	record, err := s.repo.FindByEnrollment(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if method.RequiresVerification() {
				return models.PaymentStateAwaitingProof, nil
			}
			return models.PaymentStateCleared, nil
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment record")
	}
	return record.State, nil
}

func (s *PaymentService) find(ctx context.Context, enrollmentID string) (*models.PaymentRecord, error) {
	record, err := s.repo.FindByEnrollment(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment record")
	}
	return record, nil
}

func (s *PaymentService) writeAudit(ctx context.Context, actorID, enrollmentID string, values []byte) {
	if s.audits == nil {
		return
	}
	if err := s.audits.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionPaymentReview,
		Resource:   "payment",
		ResourceID: &enrollmentID,
		NewValues:  values,
	}); err != nil {
		s.logger.Warn("failed to record payment audit log", zap.Error(err))
	}
}
