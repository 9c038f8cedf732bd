package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-onboarding-api/internal/models"
	appErrors "github.com/noah-isme/uni-onboarding-api/pkg/errors"
)

type mockBatchReader struct {
	batches   []models.ProvisionBatch
	lastLimit int
}

func (m *mockBatchReader) ListRecent(ctx context.Context, limit int) ([]models.ProvisionBatch, error) {
	m.lastLimit = limit
	return m.batches, nil
}

func TestBatchReportCSV(t *testing.T) {
	finished := time.Date(2026, 3, 10, 12, 5, 0, 0, time.UTC)
	reader := &mockBatchReader{batches: []models.ProvisionBatch{{
		ID:         "batch-1",
		StartedAt:  time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		FinishedAt: &finished,
		Processed:  10,
		Succeeded:  8,
		Failed:     2,
		ByType:     models.BatchBreakdown{models.TaskEnroll: 6, models.TaskCreateIdentity: 4},
	}}}
	svc := NewExportService(reader, nil)

	result, err := svc.BatchReport(context.Background(), FormatCSV, 25)
	require.NoError(t, err)

	assert.Equal(t, "text/csv", result.ContentType)
	assert.Equal(t, 25, reader.lastLimit)
	body := string(result.Content)
	assert.Contains(t, body, "batch-1")
	assert.Contains(t, body, "2026-03-10T12:00:00Z")
	assert.Contains(t, body, "CREATE_IDENTITY=4 ENROLL=6")
	assert.True(t, strings.HasPrefix(result.Filename, "provision-batches-"))
}

func TestBatchReportPDF(t *testing.T) {
	svc := NewExportService(&mockBatchReader{}, nil)

	result, err := svc.BatchReport(context.Background(), FormatPDF, 10)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.NotEmpty(t, result.Content)
}

func TestBatchReportUnknownFormat(t *testing.T) {
	svc := NewExportService(&mockBatchReader{}, nil)

	_, err := svc.BatchReport(context.Background(), ExportFormat("xlsx"), 10)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestBatchReportClampsLimit(t *testing.T) {
	reader := &mockBatchReader{}
	svc := NewExportService(reader, nil)

	_, err := svc.BatchReport(context.Background(), FormatCSV, 0)
	require.NoError(t, err)
	assert.Equal(t, 50, reader.lastLimit)
}
