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

type batchTaskStore interface {
	ListPending(ctx context.Context, limit int) ([]models.Task, error)
	Claim(ctx context.Context, id string, at time.Time) (bool, error)
	Complete(ctx context.Context, id string, at time.Time, summary string, affectedCount int) error
	Fail(ctx context.Context, id string, at time.Time, message string) error
}

type batchStore interface {
	Create(ctx context.Context, batch *models.ProvisionBatch) error
	Finish(ctx context.Context, batch *models.ProvisionBatch) error
}

type taskExecutor interface {
	Execute(ctx context.Context, task *models.Task) (string, int, error)
}

// groupOrder fixes the order service groups are drained in, so ticks are
// deterministic regardless of map iteration.
var groupOrder = []models.ServiceCategory{
	models.ServiceIdentity,
	models.ServiceLearning,
	models.ServiceRoster,
	models.ServiceNotifier,
}

// BatchService drains the pending task queue in rate-limited batches. One
// invocation processes at most the configured batch size, grouping tasks by
// the external service they touch and pacing calls per service.
type BatchService struct {
	tasks   batchTaskStore
	batches batchStore
	runner  taskExecutor
	runtime *config.Runtime
	metrics *MetricsService
	logger  *zap.Logger

	// sleep is replaceable in tests.
	sleep func(time.Duration)
}

// NewBatchService constructs the batch scheduler.
func NewBatchService(tasks batchTaskStore, batches batchStore, runner taskExecutor, runtime *config.Runtime, metrics *MetricsService, logger *zap.Logger) *BatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchService{
		tasks:   tasks,
		batches: batches,
		runner:  runner,
		runtime: runtime,
		metrics: metrics,
		logger:  logger,
		sleep:   time.Sleep,
	}
}

// delayFor returns the pacing delay between calls for a task type: sixty
// seconds divided by the lowest requests-per-minute across every service the
// type touches. A zero or negative limit means unthrottled.
func delayFor(snap config.Snapshot, taskType models.TaskType) time.Duration {
	minRPM := 0
	for _, cat := range taskType.ServiceCategories() {
		rpm := snap.RPMFor(string(cat))
		if rpm <= 0 {
			continue
		}
		if minRPM == 0 || rpm < minRPM {
			minRPM = rpm
		}
	}
	if minRPM == 0 {
		return 0
	}
	return time.Minute / time.Duration(minRPM)
}

// ProcessPendingBatch runs one scheduler tick: over-fetch pending tasks,
// group them by service, then claim and execute up to the batch size with
// per-service pacing. Returns nil when the queue was empty.
func (s *BatchService) ProcessPendingBatch(ctx context.Context, now time.Time) (*models.ProvisionBatch, error) {
	snap := s.runtime.Current()
	fetchLimit := snap.BatchSize * snap.OverFetchFactor
	if fetchLimit <= 0 {
		fetchLimit = snap.BatchSize
	}

	pending, err := s.tasks.ListPending(ctx, fetchLimit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to list pending tasks")
	}
	if len(pending) == 0 {
		return nil, nil
	}

	// ListPending is ordered by scheduled_at; grouping by service preserves
	// that order within each group.
	groups := make(map[models.ServiceCategory][]models.Task)
	for _, task := range pending {
		cat := task.Type.GroupCategory()
		groups[cat] = append(groups[cat], task)
	}

	batch := &models.ProvisionBatch{
		StartedAt: now.UTC(),
		ByType:    models.BatchBreakdown{},
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to open batch")
	}

	started := time.Now()
	for _, cat := range groupOrder {
		tasks := groups[cat]
		paced := false
		for i := range tasks {
			if batch.Processed >= snap.BatchSize {
				break
			}
			task := tasks[i]

			delay := delayFor(snap, task.Type)
			if paced && delay > 0 {
				s.metrics.ObserveRateDelay(cat, delay)
				s.sleep(delay)
			}

			claimed, err := s.tasks.Claim(ctx, task.ID, time.Now().UTC())
			if err != nil {
				s.logger.Error("task claim failed",
					zap.String("task_id", task.ID),
					zap.Error(err))
				continue
			}
			if !claimed {
				// Another scheduler took it.
				continue
			}
			paced = true

			s.execute(ctx, &task, batch)
		}
	}

	finished := time.Now()
	fin := finished.UTC()
	batch.FinishedAt = &fin
	if err := s.batches.Finish(ctx, batch); err != nil {
		return batch, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to close batch")
	}

	s.metrics.ObserveBatch(batch.Processed, finished.Sub(started))
	s.logger.Info("batch finished",
		zap.String("batch_id", batch.ID),
		zap.Int("processed", batch.Processed),
		zap.Int("succeeded", batch.Succeeded),
		zap.Int("failed", batch.Failed))
	return batch, nil
}

// execute runs one claimed task, recovering from executor panics so a bad
// task cannot take down the scheduler.
func (s *BatchService) execute(ctx context.Context, task *models.Task, batch *models.ProvisionBatch) {
	started := time.Now()
	summary, affected, err := func() (summary string, affected int, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("task executor panicked: %v", rec)
			}
		}()
		return s.runner.Execute(ctx, task)
	}()
	duration := time.Since(started)
	endedAt := time.Now().UTC()

	batch.Processed++
	batch.ByType[task.Type]++

	if err != nil {
		batch.Failed++
		s.metrics.ObserveTask(task.Type, models.TaskFailed, duration)
		s.logger.Error("task failed",
			zap.String("task_id", task.ID),
			zap.String("type", string(task.Type)),
			zap.Error(err))
		if ferr := s.tasks.Fail(ctx, task.ID, endedAt, err.Error()); ferr != nil {
			s.logger.Error("could not persist task failure",
				zap.String("task_id", task.ID),
				zap.Error(ferr))
		}
		return
	}

	batch.Succeeded++
	s.metrics.ObserveTask(task.Type, models.TaskCompleted, duration)
	if cerr := s.tasks.Complete(ctx, task.ID, endedAt, summary, affected); cerr != nil {
		s.logger.Error("could not persist task completion",
			zap.String("task_id", task.ID),
			zap.Error(cerr))
	}
}
