package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-onboarding-api/internal/models"
	"github.com/noah-isme/uni-onboarding-api/pkg/config"
)

type mockBatchTasks struct {
	pending   []models.Task
	lastLimit int
	unclaimed map[string]bool
	claimed   []string
	completed map[string]string
	failed    map[string]string
}

func (m *mockBatchTasks) ListPending(ctx context.Context, limit int) ([]models.Task, error) {
	m.lastLimit = limit
	if limit < len(m.pending) {
		return m.pending[:limit], nil
	}
	return m.pending, nil
}

func (m *mockBatchTasks) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	if m.unclaimed[id] {
		return false, nil
	}
	m.claimed = append(m.claimed, id)
	return true, nil
}

func (m *mockBatchTasks) Complete(ctx context.Context, id string, at time.Time, summary string, affectedCount int) error {
	if m.completed == nil {
		m.completed = make(map[string]string)
	}
	m.completed[id] = summary
	return nil
}

func (m *mockBatchTasks) Fail(ctx context.Context, id string, at time.Time, message string) error {
	if m.failed == nil {
		m.failed = make(map[string]string)
	}
	m.failed[id] = message
	return nil
}

type mockBatches struct {
	created  *models.ProvisionBatch
	finished *models.ProvisionBatch
}

func (m *mockBatches) Create(ctx context.Context, batch *models.ProvisionBatch) error {
	if batch.ID == "" {
		batch.ID = "batch-1"
	}
	m.created = batch
	return nil
}

func (m *mockBatches) Finish(ctx context.Context, batch *models.ProvisionBatch) error {
	m.finished = batch
	return nil
}

type mockExecutor struct {
	executed []string
	errFor   map[string]error
	panicFor map[string]bool
}

func (m *mockExecutor) Execute(ctx context.Context, task *models.Task) (string, int, error) {
	if m.panicFor[task.ID] {
		panic("executor blew up")
	}
	m.executed = append(m.executed, task.ID)
	if err, ok := m.errFor[task.ID]; ok {
		return "", 0, err
	}
	return "done", 1, nil
}

func pendingTask(id string, taskType models.TaskType) models.Task {
	return models.Task{ID: id, Type: taskType, State: models.TaskPending}
}

func batchRuntime(mutate func(*config.Snapshot)) *config.Runtime {
	rt := testRuntime()
	snap := rt.Current()
	if mutate != nil {
		mutate(&snap)
	}
	rt.Publish(snap)
	return rt
}

func newBatchFixture(tasks *mockBatchTasks, exec *mockExecutor, rt *config.Runtime) (*BatchService, *mockBatches, *[]time.Duration) {
	batches := &mockBatches{}
	svc := NewBatchService(tasks, batches, exec, rt, nil, nil)
	var sleeps []time.Duration
	svc.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return svc, batches, &sleeps
}

func TestProcessPendingBatchEmptyQueue(t *testing.T) {
	tasks := &mockBatchTasks{}
	svc, batches, _ := newBatchFixture(tasks, &mockExecutor{}, batchRuntime(nil))

	batch, err := svc.ProcessPendingBatch(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Nil(t, batch)
	assert.Nil(t, batches.created)
}

func TestProcessPendingBatchOverFetches(t *testing.T) {
	tasks := &mockBatchTasks{pending: []models.Task{pendingTask("t1", models.TaskEnroll)}}
	rt := batchRuntime(func(s *config.Snapshot) {
		s.BatchSize = 10
		s.OverFetchFactor = 3
	})
	svc, _, _ := newBatchFixture(tasks, &mockExecutor{}, rt)

	_, err := svc.ProcessPendingBatch(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 30, tasks.lastLimit)
}

func TestProcessPendingBatchCapsAtBatchSize(t *testing.T) {
	var pending []models.Task
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		pending = append(pending, pendingTask(id, models.TaskSendNotification))
	}
	tasks := &mockBatchTasks{pending: pending}
	exec := &mockExecutor{}
	rt := batchRuntime(func(s *config.Snapshot) { s.BatchSize = 3 })
	svc, batches, _ := newBatchFixture(tasks, exec, rt)

	batch, err := svc.ProcessPendingBatch(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 3, batch.Processed)
	assert.Len(t, exec.executed, 3)
	assert.Equal(t, 3, batches.finished.Succeeded)
}

func TestProcessPendingBatchGroupsByServiceInFixedOrder(t *testing.T) {
	tasks := &mockBatchTasks{pending: []models.Task{
		pendingTask("notify-1", models.TaskSendNotification),
		pendingTask("enroll-1", models.TaskEnroll),
		pendingTask("identity-1", models.TaskCreateIdentity),
	}}
	exec := &mockExecutor{}
	svc, _, _ := newBatchFixture(tasks, exec, batchRuntime(nil))

	_, err := svc.ProcessPendingBatch(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"identity-1", "enroll-1", "notify-1"}, exec.executed)
}

func TestProcessPendingBatchPacesPerServiceLimit(t *testing.T) {
	tasks := &mockBatchTasks{pending: []models.Task{
		pendingTask("id-1", models.TaskCreateIdentity),
		pendingTask("id-2", models.TaskCreateIdentity),
		pendingTask("id-3", models.TaskCreateIdentity),
	}}
	rt := batchRuntime(func(s *config.Snapshot) { s.IdentityRPM = 30 })
	svc, _, sleeps := newBatchFixture(tasks, &mockExecutor{}, rt)

	_, err := svc.ProcessPendingBatch(context.Background(), time.Now())
	require.NoError(t, err)

	// No delay before the first task, two seconds before each later one.
	require.Len(t, *sleeps, 2)
	for _, d := range *sleeps {
		assert.Equal(t, 2*time.Second, d)
	}
}

func TestProcessPendingBatchCompositeTypeUsesMinimumLimit(t *testing.T) {
	tasks := &mockBatchTasks{pending: []models.Task{
		pendingTask("wf-1", models.TaskRunWorkflow),
		pendingTask("wf-2", models.TaskRunWorkflow),
	}}
	rt := batchRuntime(func(s *config.Snapshot) {
		s.IdentityRPM = 20 // strictest of the services a workflow touches
		s.LearningRPM = 60
		s.NotifierRPM = 0
	})
	svc, _, sleeps := newBatchFixture(tasks, &mockExecutor{}, rt)

	_, err := svc.ProcessPendingBatch(context.Background(), time.Now())
	require.NoError(t, err)

	require.Len(t, *sleeps, 1)
	assert.Equal(t, 3*time.Second, (*sleeps)[0])
}

func TestProcessPendingBatchUnlimitedServiceNeverSleeps(t *testing.T) {
	tasks := &mockBatchTasks{pending: []models.Task{
		pendingTask("n-1", models.TaskSendNotification),
		pendingTask("n-2", models.TaskSendNotification),
	}}
	rt := batchRuntime(func(s *config.Snapshot) { s.NotifierRPM = 0 })
	svc, _, sleeps := newBatchFixture(tasks, &mockExecutor{}, rt)

	_, err := svc.ProcessPendingBatch(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, *sleeps)
}

func TestProcessPendingBatchSkipsUnclaimedTasks(t *testing.T) {
	tasks := &mockBatchTasks{
		pending:   []models.Task{pendingTask("t1", models.TaskEnroll), pendingTask("t2", models.TaskEnroll)},
		unclaimed: map[string]bool{"t1": true},
	}
	exec := &mockExecutor{}
	svc, batches, _ := newBatchFixture(tasks, exec, batchRuntime(nil))

	batch, err := svc.ProcessPendingBatch(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, []string{"t2"}, exec.executed)
	assert.Equal(t, 1, batch.Processed)
	assert.NotNil(t, batches.finished)
}

func TestProcessPendingBatchRecordsFailures(t *testing.T) {
	tasks := &mockBatchTasks{pending: []models.Task{
		pendingTask("ok", models.TaskEnroll),
		pendingTask("bad", models.TaskEnroll),
	}}
	exec := &mockExecutor{errFor: map[string]error{"bad": errors.New("provider exploded")}}
	svc, _, _ := newBatchFixture(tasks, exec, batchRuntime(nil))

	batch, err := svc.ProcessPendingBatch(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 2, batch.Processed)
	assert.Equal(t, 1, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
	assert.Equal(t, "done", tasks.completed["ok"])
	assert.Contains(t, tasks.failed["bad"], "provider exploded")
	assert.Equal(t, 2, batch.ByType[models.TaskEnroll])
}

func TestProcessPendingBatchSurvivesExecutorPanic(t *testing.T) {
	tasks := &mockBatchTasks{pending: []models.Task{
		pendingTask("boom", models.TaskEnroll),
		pendingTask("after", models.TaskEnroll),
	}}
	exec := &mockExecutor{panicFor: map[string]bool{"boom": true}}
	svc, _, _ := newBatchFixture(tasks, exec, batchRuntime(nil))

	batch, err := svc.ProcessPendingBatch(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 2, batch.Processed)
	assert.Equal(t, 1, batch.Failed)
	assert.Contains(t, tasks.failed["boom"], "panicked")
	assert.Equal(t, []string{"after"}, exec.executed)
}
