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

type fakeGradingRepo struct {
	submissions         map[string]models.Submission
	assignmentAggregate *models.AssignmentAggregate
	offeringAggregate   *models.OfferingAggregate
	aggregateCalls      int
}

func (f *fakeGradingRepo) FindByID(ctx context.Context, id string) (*models.Submission, error) {
	if s, ok := f.submissions[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeGradingRepo) RecordGrade(ctx context.Context, id string, grade float64, feedback string, actorID string, gradedAt time.Time) error {
	s := f.submissions[id]
	s.Status = models.SubmissionStatusGraded
	s.Grade = &grade
	s.Feedback = &feedback
	s.GradedBy = &actorID
	s.GradedAt = &gradedAt
	s.Resubmitted = false
	f.submissions[id] = s
	return nil
}

func (f *fakeGradingRepo) AggregateForAssignment(ctx context.Context, assignmentID string) (*models.AssignmentAggregate, error) {
	f.aggregateCalls++
	return f.assignmentAggregate, nil
}

func (f *fakeGradingRepo) AggregateForOffering(ctx context.Context, offeringID string) (*models.OfferingAggregate, error) {
	f.aggregateCalls++
	return f.offeringAggregate, nil
}

type fakeCache struct {
	store   map[string][]byte
	gets    int
	sets    int
	deletes []string
}

func (f *fakeCache) Get(ctx context.Context, key string, dest interface{}) error {
	f.gets++
	return appErrors.ErrCacheMiss
}

func (f *fakeCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.sets++
	return nil
}

func (f *fakeCache) DeleteByPattern(ctx context.Context, pattern string) error {
	f.deletes = append(f.deletes, pattern)
	return nil
}

func newGradingFixture() (*GradingService, *fakeGradingRepo, *fakeCache, *fakeAuditWriter) {
	repo := &fakeGradingRepo{submissions: map[string]models.Submission{
		"sub-1": {ID: "sub-1", StudentID: "stu-1", AssignmentID: "asg-1", Status: models.SubmissionStatusSubmitted},
	}}
	assignments := &fakeAssignmentReader{assignments: map[string]models.Assignment{
		"asg-1": {ID: "asg-1", OfferingID: "off-1", MaxPoints: 100},
	}}
	offerings := &fakeOfferingReader{offerings: map[string]models.CourseOffering{
		"off-1": {ID: "off-1", Title: "Algorithms", Capacity: 30},
	}}
	cache := &fakeCache{}
	audits := &fakeAuditWriter{}
	svc := NewGradingService(repo, assignments, offerings, cache, audits, time.Minute, nil, nil)
	return svc, repo, cache, audits
}

func TestRecordGradeWithinBounds(t *testing.T) {
	svc, repo, _, audits := newGradingFixture()

	submission, err := svc.RecordGrade(context.Background(), "sub-1", RecordGradeRequest{Grade: 87.5, Feedback: "solid work"}, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusGraded, submission.Status)
	require.NotNil(t, submission.Grade)
	assert.Equal(t, 87.5, *submission.Grade)
	assert.False(t, submission.Resubmitted)
	require.Len(t, audits.logs, 1)
	assert.Equal(t, models.AuditActionGradeRecorded, audits.logs[0].Action)
	_ = repo
}

func TestRecordGradeBoundaryValues(t *testing.T) {
	svc, _, _, _ := newGradingFixture()

	for _, grade := range []float64{0, 100} {
		submission, err := svc.RecordGrade(context.Background(), "sub-1", RecordGradeRequest{Grade: grade}, "inst-1")
		require.NoError(t, err)
		assert.Equal(t, grade, *submission.Grade)
	}
}

func TestRecordGradeAboveMaxRejected(t *testing.T) {
	svc, repo, _, _ := newGradingFixture()

	_, err := svc.RecordGrade(context.Background(), "sub-1", RecordGradeRequest{Grade: 100.5}, "inst-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidGrade))
	assert.Equal(t, models.SubmissionStatusSubmitted, repo.submissions["sub-1"].Status)
}

func TestRecordGradeNegativeRejected(t *testing.T) {
	svc, repo, _, _ := newGradingFixture()

	_, err := svc.RecordGrade(context.Background(), "sub-1", RecordGradeRequest{Grade: -5}, "inst-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidGrade))
	assert.Equal(t, models.SubmissionStatusSubmitted, repo.submissions["sub-1"].Status)
	assert.Nil(t, repo.submissions["sub-1"].Grade)
}

func TestRecordGradeOverwritesPrevious(t *testing.T) {
	svc, _, _, _ := newGradingFixture()

	_, err := svc.RecordGrade(context.Background(), "sub-1", RecordGradeRequest{Grade: 70}, "inst-1")
	require.NoError(t, err)
	submission, err := svc.RecordGrade(context.Background(), "sub-1", RecordGradeRequest{Grade: 82}, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, 82.0, *submission.Grade)
}

func TestRecordGradeClearsResubmissionFlag(t *testing.T) {
	svc, repo, _, _ := newGradingFixture()
	s := repo.submissions["sub-1"]
	s.Resubmitted = true
	repo.submissions["sub-1"] = s

	submission, err := svc.RecordGrade(context.Background(), "sub-1", RecordGradeRequest{Grade: 90}, "inst-1")
	require.NoError(t, err)
	assert.False(t, submission.Resubmitted)
}

func TestRecordGradeInvalidatesAggregateCache(t *testing.T) {
	svc, _, cache, _ := newGradingFixture()

	_, err := svc.RecordGrade(context.Background(), "sub-1", RecordGradeRequest{Grade: 75}, "inst-1")
	require.NoError(t, err)
	assert.Contains(t, cache.deletes, "aggregates:assignment:asg-1")
	assert.Contains(t, cache.deletes, "aggregates:offering:off-1")
}

func TestAssignmentAggregateNilAverageWhenNothingGraded(t *testing.T) {
	svc, repo, cache, _ := newGradingFixture()
	repo.assignmentAggregate = &models.AssignmentAggregate{
		AssignmentID:   "asg-1",
		SubmittedCount: 3,
		GradedCount:    0,
		AverageGrade:   nil,
	}

	aggregate, err := svc.AssignmentAggregate(context.Background(), "asg-1")
	require.NoError(t, err)
	assert.Equal(t, 3, aggregate.SubmittedCount)
	assert.Nil(t, aggregate.AverageGrade)
	assert.Equal(t, 1, cache.sets)
}

func TestOfferingAggregateCompletionRate(t *testing.T) {
	svc, repo, _, _ := newGradingFixture()
	avg := 81.25
	repo.offeringAggregate = &models.OfferingAggregate{
		OfferingID:     "off-1",
		EnrolledCount:  4,
		SubmittedCount: 3,
		GradedCount:    2,
		AverageGrade:   &avg,
	}

	aggregate, err := svc.OfferingAggregate(context.Background(), "off-1")
	require.NoError(t, err)
	assert.Equal(t, 0.5, aggregate.CompletionRate)
}

func TestOfferingAggregateEmptyRoster(t *testing.T) {
	svc, repo, _, _ := newGradingFixture()
	repo.offeringAggregate = &models.OfferingAggregate{OfferingID: "off-1"}

	aggregate, err := svc.OfferingAggregate(context.Background(), "off-1")
	require.NoError(t, err)
	assert.Zero(t, aggregate.CompletionRate)
	assert.Nil(t, aggregate.AverageGrade)
}

func TestOfferingAggregateUnknownOffering(t *testing.T) {
	svc, repo, _, _ := newGradingFixture()
	repo.offeringAggregate = &models.OfferingAggregate{OfferingID: "off-missing"}

	_, err := svc.OfferingAggregate(context.Background(), "off-missing")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	assert.Zero(t, repo.aggregateCalls)
}
