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

func newOfferingRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestOfferingRepositoryList(t *testing.T) {
	db, mock, cleanup := newOfferingRepoMock(t)
	defer cleanup()
	repo := NewOfferingRepository(db)

	rows := sqlmock.NewRows([]string{"id", "title", "description", "capacity", "admitted_count", "price", "starts_at", "ends_at", "created_by", "created_at", "updated_at"}).
		AddRow("off-1", "Algorithms", nil, 30, 12, 150.0, time.Now(), time.Now().Add(90*24*time.Hour), "adm-1", time.Now(), time.Now())
	mock.ExpectQuery("SELECT o.id, o.title, o.description, o.capacity, o.admitted_count").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM course_offerings o")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	list, total, err := repo.List(context.Background(), models.OfferingFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfferingRepositoryTryReserveSeat(t *testing.T) {
	db, mock, cleanup := newOfferingRepoMock(t)
	defer cleanup()
	repo := NewOfferingRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE course_offerings SET admitted_count = admitted_count + 1, updated_at = NOW() WHERE id = $1 AND admitted_count < capacity")).
		WithArgs("off-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.TryReserveSeat(context.Background(), "off-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfferingRepositoryTryReserveSeatFull(t *testing.T) {
	db, mock, cleanup := newOfferingRepoMock(t)
	defer cleanup()
	repo := NewOfferingRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE course_offerings SET admitted_count = admitted_count + 1, updated_at = NOW() WHERE id = $1 AND admitted_count < capacity")).
		WithArgs("off-full").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.TryReserveSeat(context.Background(), "off-full")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrCapacityExceeded.Code, appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfferingRepositoryReleaseSeat(t *testing.T) {
	db, mock, cleanup := newOfferingRepoMock(t)
	defer cleanup()
	repo := NewOfferingRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE course_offerings SET admitted_count = admitted_count - 1, updated_at = NOW() WHERE id = $1 AND admitted_count > 0")).
		WithArgs("off-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.ReleaseSeat(context.Background(), "off-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfferingRepositoryStats(t *testing.T) {
	db, mock, cleanup := newOfferingRepoMock(t)
	defer cleanup()
	repo := NewOfferingRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, admitted_count, capacity FROM course_offerings WHERE id = $1")).
		WithArgs("off-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "admitted_count", "capacity"}).AddRow("off-1", 12, 30))

	stats, err := repo.Stats(context.Background(), "off-1")
	require.NoError(t, err)
	assert.Equal(t, 12, stats.AdmittedCount)
	assert.Equal(t, 30, stats.Capacity)
	assert.NoError(t, mock.ExpectationsWereMet())
}
