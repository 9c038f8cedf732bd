package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-onboarding-api/internal/models"
	appErrors "github.com/noah-isme/uni-onboarding-api/pkg/errors"
)

type taskStore interface {
	Create(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id string) (*models.Task, error)
	List(ctx context.Context, filter models.TaskFilter) ([]models.Task, int, error)
}

type taskRecordStore interface {
	FindByID(ctx context.Context, id string) (*models.StudentRecord, error)
}

// EnqueueTaskRequest is the operator-facing request for creating one task.
type EnqueueTaskRequest struct {
	Type        models.TaskType    `json:"type" validate:"required"`
	RecordID    string             `json:"record_id,omitempty"`
	Payload     models.TaskPayload `json:"payload"`
	ScheduledAt *time.Time         `json:"scheduled_at,omitempty"`
}

// TaskService validates and enqueues provisioning tasks and serves the
// task audit trail. Execution belongs to the batch scheduler.
type TaskService struct {
	tasks    taskStore
	records  taskRecordStore
	validate *validator.Validate
	logger   *zap.Logger
}

// NewTaskService constructs the task queue service.
func NewTaskService(tasks taskStore, records taskRecordStore, validate *validator.Validate, logger *zap.Logger) *TaskService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskService{tasks: tasks, records: records, validate: validate, logger: logger}
}

// Enqueue validates and persists a single task in PENDING state.
func (s *TaskService) Enqueue(ctx context.Context, req EnqueueTaskRequest, origin models.TaskOrigin) (*models.Task, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid task request")
	}
	if !req.Type.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown task type %q", req.Type))
	}

	task := &models.Task{
		Type:    req.Type,
		Payload: req.Payload,
		Origin:  origin,
	}
	if req.ScheduledAt != nil {
		task.ScheduledAt = req.ScheduledAt.UTC()
	}

	if err := s.bindTarget(ctx, task, req); err != nil {
		return nil, err
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to enqueue task")
	}

	s.logger.Info("task enqueued",
		zap.String("task_id", task.ID),
		zap.String("type", string(task.Type)),
		zap.String("origin", string(origin)))
	return task, nil
}

// bindTarget checks the type/target contract: record-scoped types require an
// existing record, BULK_INGEST requires a valid category and no record.
func (s *TaskService) bindTarget(ctx context.Context, task *models.Task, req EnqueueTaskRequest) error {
	switch req.Type {
	case models.TaskBulkIngest:
		if req.RecordID != "" {
			return appErrors.Clone(appErrors.ErrValidation, "bulk ingest tasks are not record-scoped")
		}
		if req.Payload.BulkIngest == nil || !req.Payload.BulkIngest.Category.Valid() {
			return appErrors.Clone(appErrors.ErrValidation, "bulk ingest tasks require a valid category")
		}
		return nil
	default:
		if req.RecordID == "" {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s tasks require a record_id", req.Type))
		}
		record, err := s.records.FindByID(ctx, req.RecordID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load record")
		}
		if record == nil {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("record %s not found", req.RecordID))
		}
		id := record.ID
		task.RecordID = &id
		return nil
	}
}

// BulkEnqueueRequest creates the same task for a set of records in one call.
type BulkEnqueueRequest struct {
	Type      models.TaskType    `json:"type" validate:"required"`
	RecordIDs []string           `json:"record_ids" validate:"required,min=1,max=500"`
	Payload   models.TaskPayload `json:"payload"`
}

// BulkEnqueueError reports a record that could not be enqueued.
type BulkEnqueueError struct {
	RecordID string `json:"record_id"`
	Message  string `json:"message"`
}

// BulkEnqueue creates one task per record id. Records that fail validation are
// reported individually; the rest are still enqueued.
func (s *TaskService) BulkEnqueue(ctx context.Context, req BulkEnqueueRequest, origin models.TaskOrigin) ([]models.Task, []BulkEnqueueError, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk task request")
	}
	if req.Type == models.TaskBulkIngest {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "bulk ingest tasks are not record-scoped")
	}

	var (
		created []models.Task
		failed  []BulkEnqueueError
	)
	for _, recordID := range req.RecordIDs {
		task, err := s.Enqueue(ctx, EnqueueTaskRequest{
			Type:     req.Type,
			RecordID: recordID,
			Payload:  req.Payload,
		}, origin)
		if err != nil {
			failed = append(failed, BulkEnqueueError{RecordID: recordID, Message: appErrors.FromError(err).Message})
			continue
		}
		created = append(created, *task)
	}

	s.logger.Info("bulk task enqueue finished",
		zap.String("type", string(req.Type)),
		zap.Int("created", len(created)),
		zap.Int("failed", len(failed)))
	return created, failed, nil
}

// EnqueueWorkflowForRecords creates one RUN_WORKFLOW task per record id.
// Used by the ingestion follow-up when automatic workflows are enabled.
func (s *TaskService) EnqueueWorkflowForRecords(ctx context.Context, recordIDs []string, origin models.TaskOrigin) (int, error) {
	created := 0
	for _, id := range recordIDs {
		recordID := id
		task := &models.Task{
			Type:     models.TaskRunWorkflow,
			RecordID: &recordID,
			Payload:  models.TaskPayload{Workflow: &models.WorkflowPayload{}},
			Origin:   origin,
		}
		if err := s.tasks.Create(ctx, task); err != nil {
			return created, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to enqueue workflow task")
		}
		created++
	}
	return created, nil
}

// Get returns a single task by id.
func (s *TaskService) Get(ctx context.Context, id string) (*models.Task, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load task")
	}
	if task == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("task %s not found", id))
	}
	return task, nil
}

// List returns tasks matching the filter along with the total count.
func (s *TaskService) List(ctx context.Context, filter models.TaskFilter) ([]models.Task, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 200 {
		filter.PageSize = 20
	}
	tasks, total, err := s.tasks.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to list tasks")
	}
	return tasks, total, nil
}
