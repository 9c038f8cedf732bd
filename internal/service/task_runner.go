package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-onboarding-api/internal/models"
	"github.com/noah-isme/uni-onboarding-api/pkg/config"
	appErrors "github.com/noah-isme/uni-onboarding-api/pkg/errors"
)

type runnerRecordStore interface {
	FindByID(ctx context.Context, id string) (*models.StudentRecord, error)
}

type workflowRunner interface {
	Run(ctx context.Context, recordID string, stageOverride models.LifecycleStage) (*WorkflowResult, error)
}

type ingestRunner interface {
	Run(ctx context.Context, category models.RecordCategory, now time.Time) (*IngestResult, error)
	NotifyEnabled(category models.RecordCategory) bool
}

type workflowEnqueuer interface {
	EnqueueWorkflowForRecords(ctx context.Context, recordIDs []string, origin models.TaskOrigin) (int, error)
}

// TaskRunner dispatches one claimed task to its executor and reports a
// human-readable summary plus the number of affected records.
type TaskRunner struct {
	records   runnerRecordStore
	provision *ProvisionService
	workflow  workflowRunner
	ingest    ingestRunner
	enqueuer  workflowEnqueuer
	runtime   *config.Runtime
	logger    *zap.Logger
}

// NewTaskRunner constructs the task dispatcher.
func NewTaskRunner(records runnerRecordStore, provision *ProvisionService, workflow workflowRunner, ingest ingestRunner, enqueuer workflowEnqueuer, runtime *config.Runtime, logger *zap.Logger) *TaskRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskRunner{
		records:   records,
		provision: provision,
		workflow:  workflow,
		ingest:    ingest,
		enqueuer:  enqueuer,
		runtime:   runtime,
		logger:    logger,
	}
}

// Execute runs a task to completion. The returned summary and count are
// persisted with the task for the audit trail.
func (r *TaskRunner) Execute(ctx context.Context, task *models.Task) (string, int, error) {
	switch task.Type {
	case models.TaskCreateIdentity:
		return r.runCreateIdentity(ctx, task)
	case models.TaskResetCredential:
		return r.runResetCredential(ctx, task)
	case models.TaskEnroll:
		return r.runEnroll(ctx, task)
	case models.TaskSendNotification:
		return r.runSendNotification(ctx, task)
	case models.TaskDeprovision:
		return r.runDeprovision(ctx, task)
	case models.TaskRunWorkflow:
		return r.runWorkflow(ctx, task)
	case models.TaskBulkIngest:
		return r.runBulkIngest(ctx, task)
	default:
		return "", 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown task type %q", task.Type))
	}
}

func (r *TaskRunner) loadRecord(ctx context.Context, task *models.Task) (*models.StudentRecord, error) {
	if task.RecordID == nil || *task.RecordID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s task has no record", task.Type))
	}
	record, err := r.records.FindByID(ctx, *task.RecordID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load record")
	}
	if record == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("record %s not found", *task.RecordID))
	}
	return record, nil
}

func (r *TaskRunner) runCreateIdentity(ctx context.Context, task *models.Task) (string, int, error) {
	record, err := r.loadRecord(ctx, task)
	if err != nil {
		return "", 0, err
	}
	created, err := r.provision.EnsureIdentity(ctx, record)
	if err != nil {
		return "", 0, err
	}
	summary := "identity already existed"
	if created {
		summary = "identity created"
	}
	if task.Payload.CreateIdentity != nil && task.Payload.CreateIdentity.Notify {
		if err := r.provision.SendNotification(ctx, record, TemplateCredentials, nil); err != nil {
			r.logger.Warn("credential notification failed",
				zap.String("record_id", record.ID),
				zap.Error(err))
			summary += ", notification failed"
		} else {
			summary += ", credentials sent"
		}
	}
	return summary, 1, nil
}

func (r *TaskRunner) runResetCredential(ctx context.Context, task *models.Task) (string, int, error) {
	record, err := r.loadRecord(ctx, task)
	if err != nil {
		return "", 0, err
	}
	notify := task.Payload.ResetCredential != nil && task.Payload.ResetCredential.Notify
	if err := r.provision.ResetCredential(ctx, record, notify); err != nil {
		return "", 0, err
	}
	return "credential reset", 1, nil
}

func (r *TaskRunner) runEnroll(ctx context.Context, task *models.Task) (string, int, error) {
	record, err := r.loadRecord(ctx, task)
	if err != nil {
		return "", 0, err
	}
	var override []string
	if task.Payload.Enroll != nil {
		override = task.Payload.Enroll.CourseCodes
	}
	outcome, err := r.provision.EnrollCourses(ctx, record, override)
	if err != nil {
		return "", 0, err
	}
	summary := fmt.Sprintf("enrolled in %d course(s)", len(outcome.Enrolled))
	if len(outcome.FailedCourses) > 0 {
		summary += fmt.Sprintf(", %d failed", len(outcome.FailedCourses))
	}
	return summary, 1, nil
}

func (r *TaskRunner) runSendNotification(ctx context.Context, task *models.Task) (string, int, error) {
	record, err := r.loadRecord(ctx, task)
	if err != nil {
		return "", 0, err
	}
	if task.Payload.Notify == nil || task.Payload.Notify.Template == "" {
		return "", 0, appErrors.Clone(appErrors.ErrValidation, "notification tasks require a template")
	}
	if err := r.provision.SendNotification(ctx, record, task.Payload.Notify.Template, task.Payload.Notify.Variables); err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("sent %s notification", task.Payload.Notify.Template), 1, nil
}

func (r *TaskRunner) runDeprovision(ctx context.Context, task *models.Task) (string, int, error) {
	record, err := r.loadRecord(ctx, task)
	if err != nil {
		return "", 0, err
	}
	if err := r.provision.Deprovision(ctx, record); err != nil {
		return "", 0, err
	}
	return "accounts removed", 1, nil
}

func (r *TaskRunner) runWorkflow(ctx context.Context, task *models.Task) (string, int, error) {
	if task.RecordID == nil || *task.RecordID == "" {
		return "", 0, appErrors.Clone(appErrors.ErrValidation, "workflow tasks require a record")
	}
	var stage models.LifecycleStage
	if task.Payload.Workflow != nil {
		stage = task.Payload.Workflow.Stage
	}
	result, err := r.workflow.Run(ctx, *task.RecordID, stage)
	if err != nil {
		return "", 0, err
	}
	summary := fmt.Sprintf("%s workflow: %d step(s)", result.Stage, len(result.Steps))
	if result.Aborted {
		return summary, 1, appErrors.Clone(appErrors.ErrExternalService, "workflow aborted at identity step")
	}
	if !result.Succeeded() {
		summary += ", with step failures"
	}
	return summary, 1, nil
}

func (r *TaskRunner) runBulkIngest(ctx context.Context, task *models.Task) (string, int, error) {
	if task.Payload.BulkIngest == nil {
		return "", 0, appErrors.Clone(appErrors.ErrValidation, "bulk ingest tasks require a category")
	}
	result, err := r.ingest.Run(ctx, task.Payload.BulkIngest.Category, time.Now().UTC())
	if err != nil {
		return "", 0, err
	}
	summary := fmt.Sprintf("%d created, %d updated, %d error(s)", result.Created, result.Updated, len(result.Errors))
	if result.Skipped {
		summary = "skipped: category outside its ingestion window"
	}

	category := task.Payload.BulkIngest.Category
	snap := r.runtime.Current()
	if snap.AutoWorkflow && r.ingest.NotifyEnabled(category) && len(result.NewRecordIDs) > 0 && r.enqueuer != nil {
		enqueued, err := r.enqueuer.EnqueueWorkflowForRecords(ctx, result.NewRecordIDs, models.OriginAutomatic)
		if err != nil {
			r.logger.Error("failed to enqueue follow-up workflows",
				zap.String("category", string(category)),
				zap.Error(err))
		} else if enqueued > 0 {
			summary += fmt.Sprintf(", %d workflow(s) queued", enqueued)
		}
	}
	return summary, result.Created + result.Updated, nil
}
