package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-onboarding-api/internal/models"
)

func taskRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "type", "state", "record_id", "payload", "origin", "scheduled_at", "started_at", "ended_at",
		"result_summary", "error_message", "affected_count", "created_at",
	})
}

func TestTaskRepositoryCreateDefaults(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTaskRepository(db)

	mock.ExpectExec("INSERT INTO tasks").
		WillReturnResult(sqlmock.NewResult(1, 1))

	task := &models.Task{Type: models.TaskCreateIdentity, Origin: models.OriginManual}
	err := repo.Create(context.Background(), task)
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, models.TaskPending, task.State)
	assert.False(t, task.ScheduledAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryListPendingOrdersBySchedule(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTaskRepository(db)

	now := time.Now()
	rows := taskRows().
		AddRow("t1", models.TaskCreateIdentity, models.TaskPending, nil, []byte(`{}`), models.OriginManual, now, nil, nil, nil, nil, 0, now).
		AddRow("t2", models.TaskEnroll, models.TaskPending, nil, []byte(`{}`), models.OriginAutomatic, now.Add(time.Minute), nil, nil, nil, nil, 0, now)
	mock.ExpectQuery("SELECT (.+) FROM tasks WHERE state = \\$1 ORDER BY scheduled_at ASC LIMIT 10").
		WithArgs(models.TaskPending).
		WillReturnRows(rows)

	tasks, err := repo.ListPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t1", tasks[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryClaim(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTaskRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks SET state = $2, started_at = $3 WHERE id = $1 AND state = $4")).
		WithArgs("t1", models.TaskRunning, sqlmock.AnyArg(), models.TaskPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := repo.Claim(context.Background(), "t1", time.Now())
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryClaimAlreadyTaken(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTaskRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks SET state = $2, started_at = $3 WHERE id = $1 AND state = $4")).
		WithArgs("t1", models.TaskRunning, sqlmock.AnyArg(), models.TaskPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := repo.Claim(context.Background(), "t1", time.Now())
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryCompleteGuardsState(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTaskRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks SET state = $2, ended_at = $3, result_summary = $4, affected_count = $5")).
		WithArgs("t1", models.TaskCompleted, sqlmock.AnyArg(), "done", 1, models.TaskRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Complete(context.Background(), "t1", time.Now(), "done", 1)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
