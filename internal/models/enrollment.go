package models

import "time"

// EnrollmentStatus represents the admission lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. REJECTED and COMPLETED are terminal.
const (
	EnrollmentStatusPending   EnrollmentStatus = "PENDING"
	EnrollmentStatusApproved  EnrollmentStatus = "APPROVED"
	EnrollmentStatusRejected  EnrollmentStatus = "REJECTED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
)

// PaymentMethod identifies how the learner claims to have paid.
type PaymentMethod string

const (
	PaymentMethodDirectTransfer PaymentMethod = "DIRECT_TRANSFER"
	PaymentMethodCard           PaymentMethod = "CARD"
	PaymentMethodScholarship    PaymentMethod = "SCHOLARSHIP"
)

// RequiresVerification reports whether the method must pass a manual
// payment review before the enrollment can be approved.
func (m PaymentMethod) RequiresVerification() bool {
	return m == PaymentMethodDirectTransfer
}

// Valid reports whether the method is one of the closed set.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodDirectTransfer, PaymentMethodCard, PaymentMethodScholarship:
		return true
	}
	return false
}

// Enrollment captures a student's request to join a course offering. Records
// are never deleted; status carries the history.
type Enrollment struct {
	ID            string           `db:"id" json:"id"`
	StudentID     string           `db:"student_id" json:"student_id"`
	OfferingID    string           `db:"offering_id" json:"offering_id"`
	PaymentMethod PaymentMethod    `db:"payment_method" json:"payment_method"`
	Status        EnrollmentStatus `db:"status" json:"status"`
	RequestedAt   time.Time        `db:"requested_at" json:"requested_at"`
	DecidedAt     *time.Time       `db:"decided_at" json:"decided_at,omitempty"`
	DecidedBy     *string          `db:"decided_by" json:"decided_by,omitempty"`
	CompletedAt   *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
}

// EnrollmentDetail enriches Enrollment with student and offering info.
type EnrollmentDetail struct {
	Enrollment
	StudentName   string        `db:"student_name" json:"student_name"`
	OfferingTitle string        `db:"offering_title" json:"offering_title"`
	PaymentState  *PaymentState `db:"payment_state" json:"payment_state,omitempty"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID  string
	OfferingID string
	Status     EnrollmentStatus
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

// EnrollmentDecision is an admin's admission verdict.
type EnrollmentDecision string

const (
	DecisionApproved EnrollmentDecision = "approved"
	DecisionRejected EnrollmentDecision = "rejected"
)
