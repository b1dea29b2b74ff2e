package models

import "time"

// PaymentState tracks the manual verification gate for a claimed payment.
// AWAITING_PROOF and PROOF_SUBMITTED both mean "not yet eligible for an
// admission decision"; CLEARED and REJECTED are terminal.
type PaymentState string

const (
	PaymentStateAwaitingProof  PaymentState = "AWAITING_PROOF"
	PaymentStateProofSubmitted PaymentState = "PROOF_SUBMITTED"
	PaymentStateCleared        PaymentState = "CLEARED"
	PaymentStateRejected       PaymentState = "REJECTED"
)

// Terminal reports whether the gate can no longer change state.
func (s PaymentState) Terminal() bool {
	return s == PaymentStateCleared || s == PaymentStateRejected
}

// PaymentRecord stores the claimed payment for an enrollment. Keyed by
// enrollment id: proof attachment is an idempotent upsert, never a second row.
type PaymentRecord struct {
	EnrollmentID string        `db:"enrollment_id" json:"enrollment_id"`
	Method       PaymentMethod `db:"method" json:"method"`
	ProofRef     *string       `db:"proof_ref" json:"proof_ref,omitempty"`
	State        PaymentState  `db:"state" json:"state"`
	Reason       *string       `db:"reason" json:"reason,omitempty"`
	ReviewedBy   *string       `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time    `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}
