package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-onboarding-api/internal/models"
	appErrors "github.com/noah-isme/uni-onboarding-api/pkg/errors"
)

type recordStore interface {
	List(ctx context.Context, filter models.RecordFilter) ([]models.StudentRecord, int, error)
	FindByID(ctx context.Context, id string) (*models.StudentRecord, error)
	Update(ctx context.Context, record *models.StudentRecord) error
}

// RecordService serves the operator read surface over ingested records and
// the manual stage override.
type RecordService struct {
	records recordStore
	logger  *zap.Logger
}

// NewRecordService constructs the record query service.
func NewRecordService(records recordStore, logger *zap.Logger) *RecordService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordService{records: records, logger: logger}
}

// List returns records matching the filter along with the total count.
func (s *RecordService) List(ctx context.Context, filter models.RecordFilter) ([]models.StudentRecord, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 200 {
		filter.PageSize = 20
	}
	records, total, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to list records")
	}
	return records, total, nil
}

// Get returns a single record by id.
func (s *RecordService) Get(ctx context.Context, id string) (*models.StudentRecord, error) {
	record, err := s.records.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load record")
	}
	if record == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("record %s not found", id))
	}
	return record, nil
}

// AdvanceStage moves a record to a later lifecycle stage. Manual moves
// follow the same rule as ingestion: the stage only ever moves forward.
func (s *RecordService) AdvanceStage(ctx context.Context, id string, stage models.LifecycleStage) (*models.StudentRecord, error) {
	if !stage.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown stage %q", stage))
	}
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if stage.Rank() <= record.Stage.Rank() {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("stage %s does not advance %s", stage, record.Stage))
	}

	record.Stage = stage
	if err := s.records.Update(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to update record")
	}
	s.logger.Info("record stage advanced",
		zap.String("record_id", record.ID),
		zap.String("stage", string(stage)))
	return record, nil
}
