package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-onboarding-api/internal/clients"
	"github.com/noah-isme/uni-onboarding-api/internal/models"
	"github.com/noah-isme/uni-onboarding-api/pkg/config"
	appErrors "github.com/noah-isme/uni-onboarding-api/pkg/errors"
)

type rosterSource interface {
	ListCandidates(ctx context.Context, category models.RecordCategory, from, to *time.Time) ([]clients.RosterCandidate, error)
	GetDetail(ctx context.Context, externalID string) (*clients.RosterDetail, error)
}

type ingestRecordStore interface {
	FindByDocument(ctx context.Context, documentType, documentNumber string) (*models.StudentRecord, error)
	Create(ctx context.Context, record *models.StudentRecord) error
	Update(ctx context.Context, record *models.StudentRecord) error
}

type watermarkStore interface {
	Get(ctx context.Context, category models.RecordCategory) (*models.IngestWatermark, error)
	List(ctx context.Context) ([]models.IngestWatermark, error)
	Advance(ctx context.Context, category models.RecordCategory, ts time.Time) error
	SetForceFullReload(ctx context.Context, category models.RecordCategory, force bool) error
}

// IngestError is one categorized per-record failure inside an ingestion run.
type IngestError struct {
	Code       string `json:"code"`
	ExternalID string `json:"external_id,omitempty"`
	Message    string `json:"message"`
}

// IngestResult summarizes one ingestion run.
type IngestResult struct {
	Category     models.RecordCategory `json:"category"`
	Created      int                   `json:"created"`
	Updated      int                   `json:"updated"`
	NewRecordIDs []string              `json:"new_record_ids,omitempty"`
	Errors       []IngestError         `json:"errors,omitempty"`
	Skipped      bool                  `json:"skipped"`
}

// IngestService pulls roster windows incrementally and upserts student
// records with monotonic stage evolution.
type IngestService struct {
	roster     rosterSource
	records    ingestRecordStore
	watermarks watermarkStore
	windows    config.IngestionConfig
	runtime    *config.Runtime
	metrics    *MetricsService
	logger     *zap.Logger
}

// NewIngestService constructs the ingestion engine.
func NewIngestService(roster rosterSource, records ingestRecordStore, watermarks watermarkStore, windows config.IngestionConfig, runtime *config.Runtime, metrics *MetricsService, logger *zap.Logger) *IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{
		roster:     roster,
		records:    records,
		watermarks: watermarks,
		windows:    windows,
		runtime:    runtime,
		metrics:    metrics,
		logger:     logger,
	}
}

// Run ingests one category up to now. Per-record failures are collected and
// never abort the run; a roster-fetch failure yields a single source-fetch
// error and leaves the watermark untouched so the next run retries the same
// window. The watermark advances to now only after the batch is processed.
func (s *IngestService) Run(ctx context.Context, category models.RecordCategory, now time.Time) (*IngestResult, error) {
	result := &IngestResult{Category: category}
	if !category.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown record category")
	}

	window := s.windows.Window(string(category))
	if !window.Enabled || now.Before(window.Start) || (!window.End.IsZero() && now.After(window.End)) {
		result.Skipped = true
		return result, nil
	}

	wm, err := s.watermarks.Get(ctx, category)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to read watermark")
	}

	var from *time.Time
	switch {
	case wm != nil && wm.ForceFullReload:
		if !window.Start.IsZero() {
			start := window.Start
			from = &start
		}
	case wm != nil && wm.LastSuccessAt != nil:
		next := wm.LastSuccessAt.Add(time.Second)
		from = &next
	}
	to := now

	candidates, err := s.roster.ListCandidates(ctx, category, from, &to)
	if err != nil {
		s.logger.Warn("roster fetch failed",
			zap.String("category", string(category)),
			zap.Error(err))
		result.Errors = append(result.Errors, IngestError{
			Code:    appErrors.ErrSourceFetch.Code,
			Message: err.Error(),
		})
		s.recordMetrics(result)
		return result, nil
	}

	detailCache := make(map[string]*clients.RosterDetail, len(candidates))
	snap := s.runtime.Current()

	for _, candidate := range candidates {
		if candidate.ExternalID == "" {
			result.Errors = append(result.Errors, IngestError{
				Code:    appErrors.ErrInvalidRecord.Code,
				Message: "candidate missing external id",
			})
			continue
		}

		detail, ok := detailCache[candidate.ExternalID]
		if !ok {
			detail, err = s.roster.GetDetail(ctx, candidate.ExternalID)
			if err != nil {
				code := appErrors.ErrSourceFetch.Code
				if err == clients.ErrNotFound {
					code = appErrors.ErrInvalidRecord.Code
				}
				result.Errors = append(result.Errors, IngestError{
					Code:       code,
					ExternalID: candidate.ExternalID,
					Message:    err.Error(),
				})
				continue
			}
			detailCache[candidate.ExternalID] = detail
		}

		if detail.DocumentNumber == "" || detail.DocumentType == "" {
			result.Errors = append(result.Errors, IngestError{
				Code:       appErrors.ErrInvalidRecord.Code,
				ExternalID: candidate.ExternalID,
				Message:    "detail record missing document identity",
			})
			continue
		}

		if err := s.upsert(ctx, snap, category, detail, result); err != nil {
			result.Errors = append(result.Errors, IngestError{
				Code:       appErrors.ErrPersistence.Code,
				ExternalID: candidate.ExternalID,
				Message:    err.Error(),
			})
		}
	}

	if err := s.watermarks.Advance(ctx, category, now); err != nil {
		result.Errors = append(result.Errors, IngestError{
			Code:    appErrors.ErrPersistence.Code,
			Message: "failed to advance watermark: " + err.Error(),
		})
	}

	s.logger.Info("ingestion run finished",
		zap.String("category", string(category)),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("errors", len(result.Errors)))
	s.recordMetrics(result)
	return result, nil
}

// upsert applies the monotonic-stage rule: an existing record only moves to
// a strictly higher-ranked stage, and its credential and processing flags
// are never touched by re-ingestion.
func (s *IngestService) upsert(ctx context.Context, snap config.Snapshot, category models.RecordCategory, detail *clients.RosterDetail, result *IngestResult) error {
	target := category.TargetStage()

	existing, err := s.records.FindByDocument(ctx, detail.DocumentType, detail.DocumentNumber)
	if err != nil {
		return err
	}

	if existing == nil {
		credential, err := GenerateCredential()
		if err != nil {
			return err
		}
		record := &models.StudentRecord{
			ExternalID:         detail.ExternalID,
			DocumentType:       detail.DocumentType,
			DocumentNumber:     detail.DocumentNumber,
			FullName:           detail.FullName,
			PersonalEmail:      detail.Email,
			Phone:              detail.Phone,
			Program:            detail.Program,
			Modality:           detail.Modality,
			Section:            detail.Section,
			CourseCodes:        detail.CourseCodes,
			Stage:              target,
			PrincipalName:      DerivePrincipal(snap, detail.DocumentNumber),
			InstitutionalEmail: DeriveInstitutionalEmail(snap, detail.DocumentNumber),
			Credential:         credential,
		}
		if err := s.records.Create(ctx, record); err != nil {
			return err
		}
		result.Created++
		result.NewRecordIDs = append(result.NewRecordIDs, record.ID)
		return nil
	}

	existing.ExternalID = detail.ExternalID
	existing.FullName = detail.FullName
	existing.PersonalEmail = detail.Email
	existing.Phone = detail.Phone
	existing.Program = detail.Program
	existing.Modality = detail.Modality
	existing.Section = detail.Section
	existing.CourseCodes = detail.CourseCodes
	if target.Rank() > existing.Stage.Rank() {
		existing.Stage = target
	}
	if err := s.records.Update(ctx, existing); err != nil {
		return err
	}
	result.Updated++
	return nil
}

// Watermarks exposes the cursor state for operator display.
func (s *IngestService) Watermarks(ctx context.Context) ([]models.IngestWatermark, error) {
	wms, err := s.watermarks.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to list watermarks")
	}
	return wms, nil
}

// ForceFullReload flags a category so its next run replays the configured
// window from the start. The flag clears when that run succeeds.
func (s *IngestService) ForceFullReload(ctx context.Context, category models.RecordCategory) error {
	if !category.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown record category")
	}
	if err := s.watermarks.SetForceFullReload(ctx, category, true); err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to set force full reload")
	}
	return nil
}

// EnabledCategories returns categories whose ingestion window allows a run
// at the given instant, for the periodic scheduler.
func (s *IngestService) EnabledCategories(now time.Time) []models.RecordCategory {
	var out []models.RecordCategory
	for _, category := range []models.RecordCategory{models.CategoryCandidate, models.CategoryApplicant, models.CategoryAdmitted} {
		window := s.windows.Window(string(category))
		if window.Enabled && !now.Before(window.Start) && (window.End.IsZero() || !now.After(window.End)) {
			out = append(out, category)
		}
	}
	return out
}

// NotifyEnabled reports whether a category's window has the follow-up
// notification toggle set. Consulted before enqueuing automatic workflows
// for freshly ingested records.
func (s *IngestService) NotifyEnabled(category models.RecordCategory) bool {
	return s.windows.Window(string(category)).Notify
}

func (s *IngestService) recordMetrics(result *IngestResult) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveIngestRun(result.Category, result.Created, result.Updated, result.Errors)
}
