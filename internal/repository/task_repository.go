package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-onboarding-api/internal/models"
)

const taskColumns = `id, type, state, record_id, payload, origin, scheduled_at, started_at, ended_at,
        result_summary, error_message, affected_count, created_at`

// TaskRepository manages persistence for queued provisioning tasks.
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository constructs a TaskRepository.
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts a new task in PENDING state.
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = now
	}
	if task.State == "" {
		task.State = models.TaskPending
	}
	const query = `INSERT INTO tasks (id, type, state, record_id, payload, origin, scheduled_at, started_at, ended_at,
        result_summary, error_message, affected_count, created_at)
        VALUES (:id, :type, :state, :record_id, :payload, :origin, :scheduled_at, :started_at, :ended_at,
        :result_summary, :error_message, :affected_count, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetByID fetches a task.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	query := fmt.Sprintf("SELECT %s FROM tasks WHERE id = $1", taskColumns)
	var task models.Task
	if err := r.db.GetContext(ctx, &task, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &task, nil
}

// List returns tasks matching the filter, newest first by default.
func (r *TaskRepository) List(ctx context.Context, filter models.TaskFilter) ([]models.Task, int, error) {
	base := "FROM tasks"
	args := []interface{}{}
	conditions := []string{"1=1"}

	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)+1))
		args = append(args, filter.Type)
	}
	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("state = $%d", len(args)+1))
		args = append(args, filter.State)
	}
	if filter.RecordID != "" {
		conditions = append(conditions, fmt.Sprintf("record_id = $%d", len(args)+1))
		args = append(args, filter.RecordID)
	}
	if filter.Origin != "" {
		conditions = append(conditions, fmt.Sprintf("origin = $%d", len(args)+1))
		args = append(args, filter.Origin)
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"scheduled_at": "scheduled_at",
		"created_at":   "created_at",
		"ended_at":     "ended_at",
	}
	if sortBy == "" {
		sortBy = "created_at"
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", taskColumns, base, column, order, size, offset)

	var tasks []models.Task
	if err := r.db.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}
	return tasks, total, nil
}

// ListPending returns PENDING tasks in scheduled order, capped at limit.
func (r *TaskRepository) ListPending(ctx context.Context, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf("SELECT %s FROM tasks WHERE state = $1 ORDER BY scheduled_at ASC LIMIT %d", taskColumns, limit)
	var tasks []models.Task
	if err := r.db.SelectContext(ctx, &tasks, query, models.TaskPending); err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	return tasks, nil
}

// Claim transitions a task PENDING -> RUNNING with a conditional update so
// two ticks can never both take it. Returns false when the task was no
// longer pending.
func (r *TaskRepository) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `UPDATE tasks SET state = $2, started_at = $3 WHERE id = $1 AND state = $4`
	res, err := r.db.ExecContext(ctx, query, id, models.TaskRunning, at.UTC(), models.TaskPending)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim task rows: %w", err)
	}
	return affected == 1, nil
}

// Complete transitions a RUNNING task to COMPLETED. The state guard keeps
// terminal states terminal.
func (r *TaskRepository) Complete(ctx context.Context, id string, at time.Time, summary string, affectedCount int) error {
	const query = `UPDATE tasks SET state = $2, ended_at = $3, result_summary = $4, affected_count = $5
        WHERE id = $1 AND state = $6`
	if _, err := r.db.ExecContext(ctx, query, id, models.TaskCompleted, at.UTC(), summary, affectedCount, models.TaskRunning); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// Fail transitions a RUNNING task to FAILED with the captured message.
func (r *TaskRepository) Fail(ctx context.Context, id string, at time.Time, message string) error {
	const query = `UPDATE tasks SET state = $2, ended_at = $3, error_message = $4 WHERE id = $1 AND state = $5`
	if _, err := r.db.ExecContext(ctx, query, id, models.TaskFailed, at.UTC(), message, models.TaskRunning); err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return nil
}
