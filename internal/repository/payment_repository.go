package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/edustack/campus-api/internal/models"
	appErrors "github.com/edustack/campus-api/pkg/errors"
)

// PaymentRepository handles persistence of payment verification records.
// Records are keyed by enrollment id: attaching a proof is an idempotent
// upsert on the same key, never a second row.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// FindByEnrollment returns the payment record for an enrollment.
func (r *PaymentRepository) FindByEnrollment(ctx context.Context, enrollmentID string) (*models.PaymentRecord, error) {
	const query = `SELECT enrollment_id, method, proof_ref, state, reason, reviewed_by, reviewed_at, created_at, updated_at FROM payment_records WHERE enrollment_id = $1`
	var record models.PaymentRecord
	if err := r.db.GetContext(ctx, &record, query, enrollmentID); err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert records the claimed payment for an enrollment. A later call with a
// proof updates the existing row and moves AWAITING_PROOF forward; terminal
// states are never overwritten here.
func (r *PaymentRepository) Upsert(ctx context.Context, record *models.PaymentRecord) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	const query = `INSERT INTO payment_records (enrollment_id, method, proof_ref, state, reason, reviewed_by, reviewed_at, created_at, updated_at)
        VALUES (:enrollment_id, :method, :proof_ref, :state, :reason, :reviewed_by, :reviewed_at, :created_at, :updated_at)
        ON CONFLICT (enrollment_id) DO UPDATE SET
            proof_ref = COALESCE(EXCLUDED.proof_ref, payment_records.proof_ref),
            state = CASE WHEN payment_records.state IN ('CLEARED', 'REJECTED') THEN payment_records.state ELSE EXCLUDED.state END,
            updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("upsert payment record: %w", err)
	}
	return nil
}

// UpdateState applies an admin review decision. Only non-terminal records can
// move; a zero-row update signals the gate had already been decided.
func (r *PaymentRepository) UpdateState(ctx context.Context, enrollmentID string, state models.PaymentState, actorID string, reason *string) error {
	const query = `UPDATE payment_records SET state = $2, reason = $3, reviewed_by = $4, reviewed_at = $5, updated_at = $5
        WHERE enrollment_id = $1 AND state NOT IN ($6, $7)`
	result, err := r.db.ExecContext(ctx, query, enrollmentID, state, reason, actorID, time.Now().UTC(),
		models.PaymentStateCleared, models.PaymentStateRejected)
	if err != nil {
		return fmt.Errorf("update payment state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update payment state result: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "payment record missing or already decided")
	}
	return nil
}
