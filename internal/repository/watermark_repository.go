package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-onboarding-api/internal/models"
)

// WatermarkRepository persists per-category ingestion watermarks.
type WatermarkRepository struct {
	db *sqlx.DB
}

// NewWatermarkRepository constructs a WatermarkRepository.
func NewWatermarkRepository(db *sqlx.DB) *WatermarkRepository {
	return &WatermarkRepository{db: db}
}

// Get returns the watermark for a category, or (nil, nil) when the category
// has never been ingested.
func (r *WatermarkRepository) Get(ctx context.Context, category models.RecordCategory) (*models.IngestWatermark, error) {
	const query = `SELECT category, last_success_at, force_full_reload, updated_at FROM ingest_watermarks WHERE category = $1`
	var wm models.IngestWatermark
	if err := r.db.GetContext(ctx, &wm, query, category); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get watermark: %w", err)
	}
	return &wm, nil
}

// List returns all watermarks.
func (r *WatermarkRepository) List(ctx context.Context) ([]models.IngestWatermark, error) {
	const query = `SELECT category, last_success_at, force_full_reload, updated_at FROM ingest_watermarks ORDER BY category ASC`
	var wms []models.IngestWatermark
	if err := r.db.SelectContext(ctx, &wms, query); err != nil {
		return nil, fmt.Errorf("list watermarks: %w", err)
	}
	return wms, nil
}

// Advance records a successful ingestion up to ts and clears the
// force-full-reload flag in the same write.
func (r *WatermarkRepository) Advance(ctx context.Context, category models.RecordCategory, ts time.Time) error {
	const query = `INSERT INTO ingest_watermarks (category, last_success_at, force_full_reload, updated_at)
        VALUES ($1, $2, false, $3)
        ON CONFLICT (category)
        DO UPDATE SET last_success_at = EXCLUDED.last_success_at, force_full_reload = false, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, category, ts.UTC(), time.Now().UTC()); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	return nil
}

// SetForceFullReload flags the category so its next run ignores the
// watermark and pulls from the configured window start.
func (r *WatermarkRepository) SetForceFullReload(ctx context.Context, category models.RecordCategory, force bool) error {
	const query = `INSERT INTO ingest_watermarks (category, last_success_at, force_full_reload, updated_at)
        VALUES ($1, NULL, $2, $3)
        ON CONFLICT (category)
        DO UPDATE SET force_full_reload = EXCLUDED.force_full_reload, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, category, force, time.Now().UTC()); err != nil {
		return fmt.Errorf("set force full reload: %w", err)
	}
	return nil
}
