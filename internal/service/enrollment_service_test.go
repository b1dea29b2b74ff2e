package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edustack/campus-api/internal/models"
	appErrors "github.com/edustack/campus-api/pkg/errors"
)

type fakeEnrollmentRepo struct {
	enrollments map[string]models.Enrollment
	nonRejected map[string]bool
	approveErr  error
	approved    []string
	rejected    []string
	revoked     []string
	completed   []string
}

func (f *fakeEnrollmentRepo) key(studentID, offeringID string) string {
	return studentID + "/" + offeringID
}

func (f *fakeEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var out []models.EnrollmentDetail
	for _, e := range f.enrollments {
		out = append(out, models.EnrollmentDetail{Enrollment: e})
	}
	return out, len(out), nil
}

func (f *fakeEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := f.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeEnrollmentRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if e, ok := f.enrollments[id]; ok {
		return &models.EnrollmentDetail{Enrollment: e}, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeEnrollmentRepo) ExistsNonRejected(ctx context.Context, studentID, offeringID string) (bool, error) {
	return f.nonRejected[f.key(studentID, offeringID)], nil
}

func (f *fakeEnrollmentRepo) Create(ctx context.Context, e *models.Enrollment) error {
	if f.enrollments == nil {
		f.enrollments = make(map[string]models.Enrollment)
	}
	if e.ID == "" {
		e.ID = "enr-new"
	}
	f.enrollments[e.ID] = *e
	return nil
}

func (f *fakeEnrollmentRepo) Approve(ctx context.Context, id, offeringID, actorID string, decidedAt time.Time) error {
	if f.approveErr != nil {
		return f.approveErr
	}
	e := f.enrollments[id]
	e.Status = models.EnrollmentStatusApproved
	e.DecidedAt = &decidedAt
	e.DecidedBy = &actorID
	f.enrollments[id] = e
	f.approved = append(f.approved, id)
	return nil
}

func (f *fakeEnrollmentRepo) Reject(ctx context.Context, id, actorID string, decidedAt time.Time) error {
	e := f.enrollments[id]
	e.Status = models.EnrollmentStatusRejected
	f.enrollments[id] = e
	f.rejected = append(f.rejected, id)
	return nil
}

func (f *fakeEnrollmentRepo) Complete(ctx context.Context, id string, completedAt time.Time) error {
	e := f.enrollments[id]
	e.Status = models.EnrollmentStatusCompleted
	e.CompletedAt = &completedAt
	f.enrollments[id] = e
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeEnrollmentRepo) Revoke(ctx context.Context, id, offeringID, actorID string, decidedAt time.Time) error {
	e := f.enrollments[id]
	e.Status = models.EnrollmentStatusRejected
	f.enrollments[id] = e
	f.revoked = append(f.revoked, id)
	return nil
}

type fakeOfferingReader struct {
	offerings map[string]models.CourseOffering
}

func (f *fakeOfferingReader) FindByID(ctx context.Context, id string) (*models.CourseOffering, error) {
	if o, ok := f.offerings[id]; ok {
		return &o, nil
	}
	return nil, sql.ErrNoRows
}

type fakeStudentReader struct {
	users map[string]models.User
}

func (f *fakeStudentReader) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

type fakePaymentGate struct {
	states   map[string]models.PaymentState
	recorded []string
}

func (f *fakePaymentGate) Record(ctx context.Context, enrollmentID string, method models.PaymentMethod, proofRef *string) (*models.PaymentRecord, error) {
	f.recorded = append(f.recorded, enrollmentID)
	state := models.PaymentStateCleared
	if method.RequiresVerification() {
		state = models.PaymentStateAwaitingProof
	}
	if f.states == nil {
		f.states = make(map[string]models.PaymentState)
	}
	if _, ok := f.states[enrollmentID]; !ok {
		f.states[enrollmentID] = state
	}
	return &models.PaymentRecord{EnrollmentID: enrollmentID, Method: method, State: f.states[enrollmentID]}, nil
}

func (f *fakePaymentGate) AttachProof(ctx context.Context, enrollmentID string, method models.PaymentMethod, proofRef string) (*models.PaymentRecord, error) {
	if f.states == nil {
		f.states = make(map[string]models.PaymentState)
	}
	f.states[enrollmentID] = models.PaymentStateProofSubmitted
	return &models.PaymentRecord{EnrollmentID: enrollmentID, Method: method, State: models.PaymentStateProofSubmitted, ProofRef: &proofRef}, nil
}

func (f *fakePaymentGate) StateFor(ctx context.Context, enrollmentID string, method models.PaymentMethod) (models.PaymentState, error) {
	if state, ok := f.states[enrollmentID]; ok {
		return state, nil
	}
	if method.RequiresVerification() {
		return models.PaymentStateAwaitingProof, nil
	}
	return models.PaymentStateCleared, nil
}

type fakeAuditWriter struct {
	logs []models.AuditLog
}

func (f *fakeAuditWriter) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	f.logs = append(f.logs, *log)
	return nil
}

func newEnrollmentFixture() (*EnrollmentService, *fakeEnrollmentRepo, *fakePaymentGate, *fakeAuditWriter) {
	repo := &fakeEnrollmentRepo{enrollments: map[string]models.Enrollment{}, nonRejected: map[string]bool{}}
	offerings := &fakeOfferingReader{offerings: map[string]models.CourseOffering{
		"off-1": {ID: "off-1", Title: "Algorithms", Capacity: 2, AdmittedCount: 0},
		"off-full": {ID: "off-full", Title: "Databases", Capacity: 1, AdmittedCount: 1},
	}}
	students := &fakeStudentReader{users: map[string]models.User{
		"stu-1": {ID: "stu-1", Role: models.RoleStudent, Active: true},
		"stu-2": {ID: "stu-2", Role: models.RoleStudent, Active: true},
		"stu-off": {ID: "stu-off", Role: models.RoleStudent, Active: false},
	}}
	gate := &fakePaymentGate{}
	audits := &fakeAuditWriter{}
	svc := NewEnrollmentService(repo, offerings, students, gate, audits, nil, nil)
	return svc, repo, gate, audits
}

func TestEnrollmentRequestCreatesPendingAndRecordsPayment(t *testing.T) {
	svc, repo, gate, _ := newEnrollmentFixture()

	detail, err := svc.Request(context.Background(), RequestEnrollmentRequest{
		StudentID:     "stu-1",
		OfferingID:    "off-1",
		PaymentMethod: string(models.PaymentMethodDirectTransfer),
	})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, detail.Status)
	assert.Len(t, gate.recorded, 1)
	assert.Len(t, repo.enrollments, 1)
}

func TestEnrollmentRequestFullOfferingStillPending(t *testing.T) {
	svc, _, _, _ := newEnrollmentFixture()

	detail, err := svc.Request(context.Background(), RequestEnrollmentRequest{
		StudentID:     "stu-1",
		OfferingID:    "off-full",
		PaymentMethod: string(models.PaymentMethodCard),
	})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, detail.Status)
}

func TestEnrollmentRequestDuplicateRejected(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	repo.nonRejected["stu-1/off-1"] = true

	_, err := svc.Request(context.Background(), RequestEnrollmentRequest{
		StudentID:     "stu-1",
		OfferingID:    "off-1",
		PaymentMethod: string(models.PaymentMethodCard),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrDuplicateEnrollment))
}

func TestEnrollmentRequestInactiveStudent(t *testing.T) {
	svc, _, _, _ := newEnrollmentFixture()

	_, err := svc.Request(context.Background(), RequestEnrollmentRequest{
		StudentID:     "stu-off",
		OfferingID:    "off-1",
		PaymentMethod: string(models.PaymentMethodCard),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrPreconditionFailed))
}

func TestEnrollmentApproveRequiresClearedPayment(t *testing.T) {
	svc, repo, gate, _ := newEnrollmentFixture()
	repo.enrollments["enr-1"] = models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", OfferingID: "off-1",
		PaymentMethod: models.PaymentMethodDirectTransfer,
		Status:        models.EnrollmentStatusPending,
	}
	gate.states = map[string]models.PaymentState{"enr-1": models.PaymentStateProofSubmitted}

	_, err := svc.Decide(context.Background(), "enr-1", DecideEnrollmentRequest{Decision: "approved"}, "admin-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrPaymentNotCleared))
	assert.Empty(t, repo.approved)
	assert.Equal(t, models.EnrollmentStatusPending, repo.enrollments["enr-1"].Status)
}

func TestEnrollmentApproveSucceedsWhenCleared(t *testing.T) {
	svc, repo, gate, audits := newEnrollmentFixture()
	repo.enrollments["enr-1"] = models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", OfferingID: "off-1",
		PaymentMethod: models.PaymentMethodDirectTransfer,
		Status:        models.EnrollmentStatusPending,
	}
	gate.states = map[string]models.PaymentState{"enr-1": models.PaymentStateCleared}

	detail, err := svc.Decide(context.Background(), "enr-1", DecideEnrollmentRequest{Decision: "approved"}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusApproved, detail.Status)
	assert.Equal(t, []string{"enr-1"}, repo.approved)
	require.Len(t, audits.logs, 1)
	assert.Equal(t, models.AuditActionEnrollmentDecision, audits.logs[0].Action)
}

func TestEnrollmentApproveUngatedMethodSkipsReview(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	repo.enrollments["enr-1"] = models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", OfferingID: "off-1",
		PaymentMethod: models.PaymentMethodScholarship,
		Status:        models.EnrollmentStatusPending,
	}

	detail, err := svc.Decide(context.Background(), "enr-1", DecideEnrollmentRequest{Decision: "approved"}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusApproved, detail.Status)
}

func TestEnrollmentApproveCapacityRaceLeavesPending(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	repo.enrollments["enr-1"] = models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", OfferingID: "off-1",
		PaymentMethod: models.PaymentMethodCard,
		Status:        models.EnrollmentStatusPending,
	}
	repo.approveErr = appErrors.ErrCapacityExceeded

	_, err := svc.Decide(context.Background(), "enr-1", DecideEnrollmentRequest{Decision: "approved"}, "admin-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrCapacityExceeded))
	assert.Equal(t, models.EnrollmentStatusPending, repo.enrollments["enr-1"].Status)
}

func TestEnrollmentDecideRequiresPendingStatus(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	repo.enrollments["enr-1"] = models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", OfferingID: "off-1",
		PaymentMethod: models.PaymentMethodCard,
		Status:        models.EnrollmentStatusRejected,
	}

	_, err := svc.Decide(context.Background(), "enr-1", DecideEnrollmentRequest{Decision: "approved"}, "admin-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestEnrollmentRejectDoesNotTouchSeats(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	repo.enrollments["enr-1"] = models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", OfferingID: "off-1",
		PaymentMethod: models.PaymentMethodDirectTransfer,
		Status:        models.EnrollmentStatusPending,
	}

	detail, err := svc.Decide(context.Background(), "enr-1", DecideEnrollmentRequest{Decision: "rejected"}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusRejected, detail.Status)
	assert.Empty(t, repo.approved)
	assert.Equal(t, []string{"enr-1"}, repo.rejected)
}

func TestEnrollmentCompleteOnlyFromApproved(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	repo.enrollments["enr-1"] = models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", OfferingID: "off-1",
		PaymentMethod: models.PaymentMethodCard,
		Status:        models.EnrollmentStatusPending,
	}

	_, err := svc.Complete(context.Background(), "enr-1", "admin-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))

	e := repo.enrollments["enr-1"]
	e.Status = models.EnrollmentStatusApproved
	repo.enrollments["enr-1"] = e

	detail, err := svc.Complete(context.Background(), "enr-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, detail.Status)
}

func TestEnrollmentRevokeReleasesSeat(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	repo.enrollments["enr-1"] = models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", OfferingID: "off-1",
		PaymentMethod: models.PaymentMethodCard,
		Status:        models.EnrollmentStatusApproved,
	}

	detail, err := svc.Revoke(context.Background(), "enr-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusRejected, detail.Status)
	assert.Equal(t, []string{"enr-1"}, repo.revoked)
}

func TestEnrollmentRequestUnknownPaymentMethod(t *testing.T) {
	svc, _, _, _ := newEnrollmentFixture()

	_, err := svc.Request(context.Background(), RequestEnrollmentRequest{
		StudentID:     "stu-1",
		OfferingID:    "off-1",
		PaymentMethod: "BARTER",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
