package service

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edustack/campus-api/internal/models"
	appErrors "github.com/edustack/campus-api/pkg/errors"
	"github.com/edustack/campus-api/pkg/storage"
)

type fakeGradeReportRepo struct {
	rows []models.GradeReportRow
}

func (f *fakeGradeReportRepo) GradeReportRows(ctx context.Context, offeringID string) ([]models.GradeReportRow, error) {
	return f.rows, nil
}

type fakeReportStore struct {
	saved map[string][]byte
}

func (f *fakeReportStore) Save(filename string, data []byte) (string, error) {
	if f.saved == nil {
		f.saved = make(map[string][]byte)
	}
	f.saved[filename] = data
	return filename, nil
}

func (f *fakeReportStore) Open(filename string) (*os.File, error) {
	return nil, os.ErrNotExist
}

func (f *fakeReportStore) Delete(filename string) error {
	delete(f.saved, filename)
	return nil
}

func newExportFixture(rows []models.GradeReportRow) (*ExportService, *fakeReportStore) {
	reports := &fakeGradeReportRepo{rows: rows}
	offerings := &fakeOfferingReader{offerings: map[string]models.CourseOffering{
		"off-1": {ID: "off-1", Title: "Algorithms", Capacity: 30},
	}}
	store := &fakeReportStore{}
	signer := storage.NewSignedURLSigner("export-test-secret", time.Minute)
	svc := NewExportService(reports, offerings, store, signer, ExportConfig{APIPrefix: "/api/v1"}, nil, nil, nil)
	return svc, store
}

func TestGenerateGradeReportCSV(t *testing.T) {
	grade := 95.0
	svc, store := newExportFixture([]models.GradeReportRow{
		{StudentName: "Ada Lovelace", AssignmentTitle: "Essay One", Status: "GRADED", Grade: &grade, MaxPoints: 100},
		{StudentName: "Ada Lovelace", AssignmentTitle: "Essay Two", Status: "SUBMITTED", Grade: nil, MaxPoints: 100},
	})

	result, err := svc.GenerateGradeReport(context.Background(), "off-1", ReportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, ReportFormatCSV, result.Format)
	assert.NotEmpty(t, result.Token)
	assert.True(t, strings.HasPrefix(result.URL, "/api/v1/exports/"))

	payload, ok := store.saved[result.RelativePath]
	require.True(t, ok)
	csv := string(payload)
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Student,Assignment,Status,Grade,Max Points", lines[0])
	assert.Equal(t, "Ada Lovelace,Essay One,GRADED,95.00,100.00", lines[1])
	assert.Equal(t, "Ada Lovelace,Essay Two,SUBMITTED,,100.00", lines[2])
}

func TestGenerateGradeReportPDF(t *testing.T) {
	grade := 80.0
	svc, store := newExportFixture([]models.GradeReportRow{
		{StudentName: "Ada Lovelace", AssignmentTitle: "Essay One", Status: "GRADED", Grade: &grade, MaxPoints: 100},
	})

	result, err := svc.GenerateGradeReport(context.Background(), "off-1", ReportFormatPDF)
	require.NoError(t, err)
	payload, ok := store.saved[result.RelativePath]
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(string(payload), "%PDF"))
}

func TestGenerateGradeReportUnknownOffering(t *testing.T) {
	svc, _ := newExportFixture(nil)

	_, err := svc.GenerateGradeReport(context.Background(), "off-missing", ReportFormatCSV)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestGenerateGradeReportUnsupportedFormat(t *testing.T) {
	svc, _ := newExportFixture(nil)

	_, err := svc.GenerateGradeReport(context.Background(), "off-1", ReportFormat("xml"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
