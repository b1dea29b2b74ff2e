package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edustack/campus-api/internal/models"
	"github.com/edustack/campus-api/pkg/export"
	appErrors "github.com/edustack/campus-api/pkg/errors"
	"github.com/edustack/campus-api/pkg/storage"
)

// ReportFormat selects the rendered output for a grade report.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

type gradeReportRepository interface {
	GradeReportRows(ctx context.Context, offeringID string) ([]models.GradeReportRow, error)
}

type reportStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       ReportFormat
	ExpiresAt    time.Time
}

// ExportService renders offering grade reports and persists the files with a
// signed download token.
type ExportService struct {
	reports   gradeReportRepository
	offerings offeringReader
	storage   reportStorage
	csv       csvRenderer
	pdf       pdfRenderer
	signer    *storage.SignedURLSigner
	logger    *zap.Logger
	cfg       ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(reports gradeReportRepository, offerings offeringReader, store reportStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		reports:   reports,
		offerings: offerings,
		storage:   store,
		csv:       csv,
		pdf:       pdf,
		signer:    signer,
		logger:    logger,
		cfg:       cfg,
	}
}

// GenerateGradeReport renders a grade report for one offering and stores it.
func (s *ExportService) GenerateGradeReport(ctx context.Context, offeringID string, format ReportFormat) (*ExportResult, error) {
	offering, err := s.offerings.FindByID(ctx, offeringID)
	if err != nil {
		return nil, notFoundOr(err, "offering not found", "failed to load offering")
	}

	rows, err := s.reports.GradeReportRows(ctx, offeringID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to collect grade report rows")
	}
	dataset := buildGradeDataset(rows)
	title := fmt.Sprintf("Grade Report - %s", offering.Title)

	var payload []byte
	switch format {
	case ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported report format")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render grade report")
	}

	filename := fmt.Sprintf("reports/grades-%s-%d.%s", offeringID, time.Now().UTC().Unix(), format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store grade report")
	}

	token, expiresAt, err := s.signer.Generate(offeringID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token")
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/exports/%s", prefix, token),
		Format:       format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates a download token.
func (s *ExportService) ParseToken(token string) (offeringID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, false)
}

// Open returns a handle to a stored report file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

func buildGradeDataset(rows []models.GradeReportRow) export.Dataset {
	dataset := export.Dataset{
		Headers: []string{"Student", "Assignment", "Status", "Grade", "Max Points"},
		Rows:    make([]map[string]string, 0, len(rows)),
	}
	for _, row := range rows {
		grade := ""
		if row.Grade != nil {
			grade = fmt.Sprintf("%.2f", *row.Grade)
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Student":    row.StudentName,
			"Assignment": row.AssignmentTitle,
			"Status":     row.Status,
			"Grade":      grade,
			"Max Points": fmt.Sprintf("%.2f", row.MaxPoints),
		})
	}
	return dataset
}
