package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-onboarding-api/internal/models"
)

// BatchRepository persists scheduler tick summaries.
type BatchRepository struct {
	db *sqlx.DB
}

// NewBatchRepository constructs a BatchRepository.
func NewBatchRepository(db *sqlx.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create inserts a batch row at tick start.
func (r *BatchRepository) Create(ctx context.Context, batch *models.ProvisionBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.StartedAt.IsZero() {
		batch.StartedAt = time.Now().UTC()
	}
	const query = `INSERT INTO provision_batches (id, started_at, finished_at, processed, succeeded, failed, by_type)
        VALUES (:id, :started_at, :finished_at, :processed, :succeeded, :failed, :by_type)`
	if _, err := r.db.NamedExecContext(ctx, query, batch); err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

// Finish records the tick outcome.
func (r *BatchRepository) Finish(ctx context.Context, batch *models.ProvisionBatch) error {
	now := time.Now().UTC()
	if batch.FinishedAt == nil {
		batch.FinishedAt = &now
	}
	const query = `UPDATE provision_batches SET finished_at = :finished_at, processed = :processed,
        succeeded = :succeeded, failed = :failed, by_type = :by_type WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, batch); err != nil {
		return fmt.Errorf("finish batch: %w", err)
	}
	return nil
}

// GetByID fetches one batch summary.
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*models.ProvisionBatch, error) {
	const query = `SELECT id, started_at, finished_at, processed, succeeded, failed, by_type FROM provision_batches WHERE id = $1`
	var batch models.ProvisionBatch
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		return nil, err
	}
	return &batch, nil
}

// ListRecent returns the most recent batches, newest first.
func (r *BatchRepository) ListRecent(ctx context.Context, limit int) ([]models.ProvisionBatch, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT id, started_at, finished_at, processed, succeeded, failed, by_type
        FROM provision_batches ORDER BY started_at DESC LIMIT %d`, limit)
	var batches []models.ProvisionBatch
	if err := r.db.SelectContext(ctx, &batches, query); err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return batches, nil
}
