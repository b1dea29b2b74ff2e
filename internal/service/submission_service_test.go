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

type fakeSubmissionRepo struct {
	submissions map[string]models.Submission
	nextID      int
}

func (f *fakeSubmissionRepo) upsertKey(studentID, assignmentID string) string {
	return studentID + "/" + assignmentID
}

func (f *fakeSubmissionRepo) Upsert(ctx context.Context, s *models.Submission) (*models.Submission, error) {
	if f.submissions == nil {
		f.submissions = make(map[string]models.Submission)
	}
	key := f.upsertKey(s.StudentID, s.AssignmentID)
	existing, ok := f.submissions[key]
	stored := *s
	if ok {
		stored.ID = existing.ID
		if existing.Status == models.SubmissionStatusGraded {
			stored.Status = existing.Status
			stored.Grade = existing.Grade
			stored.Feedback = existing.Feedback
			stored.GradedAt = existing.GradedAt
			stored.GradedBy = existing.GradedBy
			stored.Resubmitted = true
		}
	} else {
		f.nextID++
		stored.ID = "sub-" + time.Now().UTC().Format("150405") + "-" + string(rune('a'+f.nextID))
	}
	f.submissions[key] = stored
	return &stored, nil
}

func (f *fakeSubmissionRepo) FindByID(ctx context.Context, id string) (*models.Submission, error) {
	for _, s := range f.submissions {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeSubmissionRepo) FindDetailByID(ctx context.Context, id string) (*models.SubmissionDetail, error) {
	s, err := f.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.SubmissionDetail{Submission: *s}, nil
}

func (f *fakeSubmissionRepo) List(ctx context.Context, filter models.SubmissionFilter) ([]models.SubmissionDetail, int, error) {
	var out []models.SubmissionDetail
	for _, s := range f.submissions {
		out = append(out, models.SubmissionDetail{Submission: s})
	}
	return out, len(out), nil
}

type fakeAssignmentReader struct {
	assignments map[string]models.Assignment
}

func (f *fakeAssignmentReader) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	if a, ok := f.assignments[id]; ok {
		return &a, nil
	}
	return nil, sql.ErrNoRows
}

type fakeMembership struct {
	approved map[string]bool
}

func (f *fakeMembership) HasAdmitted(ctx context.Context, studentID, offeringID string) (bool, error) {
	return f.approved[studentID+"/"+offeringID], nil
}

func newSubmissionFixture(due time.Time) (*SubmissionService, *fakeSubmissionRepo) {
	repo := &fakeSubmissionRepo{}
	assignments := &fakeAssignmentReader{assignments: map[string]models.Assignment{
		"asg-1": {ID: "asg-1", OfferingID: "off-1", Title: "Essay", DueAt: due, MaxPoints: 100},
	}}
	membership := &fakeMembership{approved: map[string]bool{"stu-1/off-1": true}}
	return NewSubmissionService(repo, assignments, membership, nil, nil), repo
}

func TestSubmitOnTime(t *testing.T) {
	due := time.Now().UTC().Add(time.Hour)
	svc, _ := newSubmissionFixture(due)

	submission, err := svc.Submit(context.Background(), SubmitWorkRequest{
		StudentID:    "stu-1",
		AssignmentID: "asg-1",
		Content:      "my essay",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusSubmitted, submission.Status)
	assert.False(t, submission.Resubmitted)
}

func TestSubmitAfterDeadlineIsLate(t *testing.T) {
	due := time.Now().UTC().Add(-time.Hour)
	svc, _ := newSubmissionFixture(due)

	submission, err := svc.Submit(context.Background(), SubmitWorkRequest{
		StudentID:    "stu-1",
		AssignmentID: "asg-1",
		Content:      "my essay",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusLate, submission.Status)
}

func TestSubmitLatenessFixedAtSubmissionTime(t *testing.T) {
	due := time.Now().UTC().Add(-time.Minute)
	svc, repo := newSubmissionFixture(due)

	first, err := svc.Submit(context.Background(), SubmitWorkRequest{
		StudentID:    "stu-1",
		AssignmentID: "asg-1",
		Content:      "v1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusLate, first.Status)

	// The row is overwritten in place, not duplicated.
	second, err := svc.Submit(context.Background(), SubmitWorkRequest{
		StudentID:    "stu-1",
		AssignmentID: "asg-1",
		Content:      "v2",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "v2", second.Content)
	assert.Len(t, repo.submissions, 1)
}

func TestSubmitRequiresEnrollment(t *testing.T) {
	svc, _ := newSubmissionFixture(time.Now().UTC().Add(time.Hour))

	_, err := svc.Submit(context.Background(), SubmitWorkRequest{
		StudentID:    "stu-2",
		AssignmentID: "asg-1",
		Content:      "my essay",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestSubmitRejectsEmptyContent(t *testing.T) {
	svc, _ := newSubmissionFixture(time.Now().UTC().Add(time.Hour))

	_, err := svc.Submit(context.Background(), SubmitWorkRequest{
		StudentID:    "stu-1",
		AssignmentID: "asg-1",
		Content:      "   ",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestSubmitUnknownAssignment(t *testing.T) {
	svc, _ := newSubmissionFixture(time.Now().UTC().Add(time.Hour))

	_, err := svc.Submit(context.Background(), SubmitWorkRequest{
		StudentID:    "stu-1",
		AssignmentID: "asg-missing",
		Content:      "my essay",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestResubmissionAfterGradingKeepsGradeAndFlags(t *testing.T) {
	svc, repo := newSubmissionFixture(time.Now().UTC().Add(time.Hour))

	first, err := svc.Submit(context.Background(), SubmitWorkRequest{
		StudentID:    "stu-1",
		AssignmentID: "asg-1",
		Content:      "v1",
	})
	require.NoError(t, err)

	// Grade lands between the two submissions.
	key := repo.upsertKey("stu-1", "asg-1")
	graded := repo.submissions[key]
	grade := 88.0
	graded.Status = models.SubmissionStatusGraded
	graded.Grade = &grade
	repo.submissions[key] = graded

	second, err := svc.Submit(context.Background(), SubmitWorkRequest{
		StudentID:    "stu-1",
		AssignmentID: "asg-1",
		Content:      "v2",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.SubmissionStatusGraded, second.Status)
	require.NotNil(t, second.Grade)
	assert.Equal(t, 88.0, *second.Grade)
	assert.True(t, second.Resubmitted)
	assert.Equal(t, "v2", second.Content)
}
