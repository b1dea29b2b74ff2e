package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edustack/campus-api/internal/models"
	appErrors "github.com/edustack/campus-api/pkg/errors"
)

func newPaymentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestPaymentRepositoryFindByEnrollment(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	rows := sqlmock.NewRows([]string{"enrollment_id", "method", "proof_ref", "state", "reason", "reviewed_by", "reviewed_at", "created_at", "updated_at"}).
		AddRow("enr-1", "DIRECT_TRANSFER", "uploads/proof.png", "PROOF_SUBMITTED", nil, nil, nil, time.Now(), time.Now())
	mock.ExpectQuery("SELECT enrollment_id, method, proof_ref, state").
		WithArgs("enr-1").
		WillReturnRows(rows)

	record, err := repo.FindByEnrollment(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStateProofSubmitted, record.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectExec("INSERT INTO payment_records").
		WillReturnResult(sqlmock.NewResult(1, 1))

	record := &models.PaymentRecord{
		EnrollmentID: "enr-1",
		Method:       models.PaymentMethodDirectTransfer,
		State:        models.PaymentStateAwaitingProof,
	}
	require.NoError(t, repo.Upsert(context.Background(), record))
	assert.False(t, record.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryUpdateState(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payment_records SET state = $2, reason = $3, reviewed_by = $4, reviewed_at = $5, updated_at = $5")).
		WithArgs("enr-1", string(models.PaymentStateCleared), nil, "adm-1", sqlmock.AnyArg(), string(models.PaymentStateCleared), string(models.PaymentStateRejected)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateState(context.Background(), "enr-1", models.PaymentStateCleared, "adm-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryUpdateStateAlreadyDecided(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	reason := "proof does not match invoice"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payment_records SET state = $2, reason = $3, reviewed_by = $4, reviewed_at = $5, updated_at = $5")).
		WithArgs("enr-1", string(models.PaymentStateRejected), &reason, "adm-1", sqlmock.AnyArg(), string(models.PaymentStateCleared), string(models.PaymentStateRejected)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateState(context.Background(), "enr-1", models.PaymentStateRejected, "adm-1", &reason)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
