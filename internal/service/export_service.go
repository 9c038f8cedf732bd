package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-onboarding-api/internal/models"
	appErrors "github.com/noah-isme/uni-onboarding-api/pkg/errors"
	"github.com/noah-isme/uni-onboarding-api/pkg/export"
)

// ExportFormat selects the report rendering.
type ExportFormat string

const (
	FormatCSV ExportFormat = "csv"
	FormatPDF ExportFormat = "pdf"
)

type batchReader interface {
	ListRecent(ctx context.Context, limit int) ([]models.ProvisionBatch, error)
}

// ExportResult carries rendered report bytes plus response metadata.
type ExportResult struct {
	Content     []byte
	ContentType string
	Filename    string
}

// ExportService renders batch activity reports for download.
type ExportService struct {
	batches batchReader
	csv     *export.CSVExporter
	pdf     *export.PDFExporter
	logger  *zap.Logger
}

// NewExportService constructs the report exporter.
func NewExportService(batches batchReader, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		batches: batches,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		logger:  logger,
	}
}

var batchReportHeaders = []string{"batch_id", "started_at", "finished_at", "processed", "succeeded", "failed", "by_type"}

// BatchReport renders the most recent scheduler batches in the requested
// format.
func (s *ExportService) BatchReport(ctx context.Context, format ExportFormat, limit int) (*ExportResult, error) {
	if limit < 1 || limit > 500 {
		limit = 50
	}
	batches, err := s.batches.ListRecent(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to list batches")
	}

	data := export.Dataset{Headers: batchReportHeaders}
	for _, b := range batches {
		finished := ""
		if b.FinishedAt != nil {
			finished = b.FinishedAt.Format(time.RFC3339)
		}
		data.Rows = append(data.Rows, map[string]string{
			"batch_id":    b.ID,
			"started_at":  b.StartedAt.Format(time.RFC3339),
			"finished_at": finished,
			"processed":   strconv.Itoa(b.Processed),
			"succeeded":   strconv.Itoa(b.Succeeded),
			"failed":      strconv.Itoa(b.Failed),
			"by_type":     formatBreakdown(b.ByType),
		})
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	switch format {
	case FormatCSV:
		content, err := s.csv.Render(data)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv report")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("provision-batches-%s.csv", stamp),
		}, nil
	case FormatPDF:
		content, err := s.pdf.Render(data, "Provisioning Batches")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf report")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "application/pdf",
			Filename:    fmt.Sprintf("provision-batches-%s.pdf", stamp),
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}

func formatBreakdown(b models.BatchBreakdown) string {
	if len(b) == 0 {
		return ""
	}
	parts := make([]string, 0, len(b))
	for t, n := range b {
		parts = append(parts, fmt.Sprintf("%s=%d", t, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
