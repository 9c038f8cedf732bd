package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-onboarding-api/internal/clients"
	"github.com/noah-isme/uni-onboarding-api/internal/models"
	"github.com/noah-isme/uni-onboarding-api/pkg/config"
	appErrors "github.com/noah-isme/uni-onboarding-api/pkg/errors"
)

type mockRoster struct {
	candidates []clients.RosterCandidate
	details    map[string]*clients.RosterDetail
	listErr    error
	detailErr  error

	lastFrom *time.Time
	lastTo   *time.Time
	listed   int
}

func (m *mockRoster) ListCandidates(ctx context.Context, category models.RecordCategory, from, to *time.Time) ([]clients.RosterCandidate, error) {
	m.listed++
	m.lastFrom = from
	m.lastTo = to
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.candidates, nil
}

func (m *mockRoster) GetDetail(ctx context.Context, externalID string) (*clients.RosterDetail, error) {
	if m.detailErr != nil {
		return nil, m.detailErr
	}
	if d, ok := m.details[externalID]; ok {
		return d, nil
	}
	return nil, clients.ErrNotFound
}

type mockIngestRecords struct {
	byDocument map[string]*models.StudentRecord
	created    []*models.StudentRecord
	updated    []*models.StudentRecord
	createErr  error
}

func docKey(docType, docNumber string) string { return docType + "/" + docNumber }

func (m *mockIngestRecords) FindByDocument(ctx context.Context, documentType, documentNumber string) (*models.StudentRecord, error) {
	if r, ok := m.byDocument[docKey(documentType, documentNumber)]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, nil
}

func (m *mockIngestRecords) Create(ctx context.Context, record *models.StudentRecord) error {
	if m.createErr != nil {
		return m.createErr
	}
	if record.ID == "" {
		record.ID = "generated"
	}
	m.created = append(m.created, record)
	return nil
}

func (m *mockIngestRecords) Update(ctx context.Context, record *models.StudentRecord) error {
	m.updated = append(m.updated, record)
	return nil
}

type mockWatermarks struct {
	byCategory map[models.RecordCategory]*models.IngestWatermark
	advanced   map[models.RecordCategory]time.Time
	forced     map[models.RecordCategory]bool
}

func (m *mockWatermarks) Get(ctx context.Context, category models.RecordCategory) (*models.IngestWatermark, error) {
	return m.byCategory[category], nil
}

func (m *mockWatermarks) List(ctx context.Context) ([]models.IngestWatermark, error) {
	var out []models.IngestWatermark
	for _, wm := range m.byCategory {
		out = append(out, *wm)
	}
	return out, nil
}

func (m *mockWatermarks) Advance(ctx context.Context, category models.RecordCategory, ts time.Time) error {
	if m.advanced == nil {
		m.advanced = make(map[models.RecordCategory]time.Time)
	}
	m.advanced[category] = ts
	return nil
}

func (m *mockWatermarks) SetForceFullReload(ctx context.Context, category models.RecordCategory, force bool) error {
	if m.forced == nil {
		m.forced = make(map[models.RecordCategory]bool)
	}
	m.forced[category] = force
	return nil
}

func testRuntime() *config.Runtime {
	cfg := &config.Config{}
	cfg.Provisioning.BatchSize = 50
	cfg.Provisioning.OverFetchFactor = 2
	cfg.Provisioning.IdentityRPM = 30
	cfg.Provisioning.LearningRPM = 60
	cfg.Provisioning.AccountPrefix = "u"
	cfg.Provisioning.AccountDomain = "example.edu"
	cfg.Provisioning.SandboxMarker = "sbx"
	return config.NewRuntime(cfg)
}

func openWindows(start time.Time) config.IngestionConfig {
	w := config.CategoryWindowConfig{Enabled: true, Start: start}
	return config.IngestionConfig{Candidate: w, Applicant: w, Admitted: w}
}

func newIngestService(roster *mockRoster, records *mockIngestRecords, wms *mockWatermarks, windows config.IngestionConfig) *IngestService {
	return NewIngestService(roster, records, wms, windows, testRuntime(), nil, nil)
}

func TestIngestRunUsesWatermarkPlusOneSecond(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	last := now.Add(-time.Hour)
	roster := &mockRoster{}
	wms := &mockWatermarks{byCategory: map[models.RecordCategory]*models.IngestWatermark{
		models.CategoryCandidate: {Category: models.CategoryCandidate, LastSuccessAt: &last},
	}}
	svc := newIngestService(roster, &mockIngestRecords{}, wms, openWindows(now.Add(-24*time.Hour)))

	result, err := svc.Run(context.Background(), models.CategoryCandidate, now)
	require.NoError(t, err)
	assert.False(t, result.Skipped)

	require.NotNil(t, roster.lastFrom)
	assert.Equal(t, last.Add(time.Second), *roster.lastFrom)
	require.NotNil(t, roster.lastTo)
	assert.Equal(t, now, *roster.lastTo)
	assert.Equal(t, now, wms.advanced[models.CategoryCandidate])
}

func TestIngestRunFirstRunFetchesFromWindowStart(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	roster := &mockRoster{}
	svc := newIngestService(roster, &mockIngestRecords{}, &mockWatermarks{}, openWindows(now.Add(-24*time.Hour)))

	_, err := svc.Run(context.Background(), models.CategoryCandidate, now)
	require.NoError(t, err)
	assert.Nil(t, roster.lastFrom)
}

func TestIngestRunForceFullReloadReplaysWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	start := now.Add(-48 * time.Hour)
	last := now.Add(-time.Hour)
	roster := &mockRoster{}
	wms := &mockWatermarks{byCategory: map[models.RecordCategory]*models.IngestWatermark{
		models.CategoryApplicant: {Category: models.CategoryApplicant, LastSuccessAt: &last, ForceFullReload: true},
	}}
	svc := newIngestService(roster, &mockIngestRecords{}, wms, openWindows(start))

	_, err := svc.Run(context.Background(), models.CategoryApplicant, now)
	require.NoError(t, err)

	require.NotNil(t, roster.lastFrom)
	assert.Equal(t, start, *roster.lastFrom)
	assert.Equal(t, now, wms.advanced[models.CategoryApplicant])
}

func TestIngestRunSkipsOutsideWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	windows := config.IngestionConfig{
		Candidate: config.CategoryWindowConfig{Enabled: true, Start: now.Add(24 * time.Hour)},
	}
	roster := &mockRoster{}
	svc := newIngestService(roster, &mockIngestRecords{}, &mockWatermarks{}, windows)

	result, err := svc.Run(context.Background(), models.CategoryCandidate, now)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Zero(t, roster.listed)
}

func TestIngestRunSourceFailureLeavesWatermark(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	roster := &mockRoster{listErr: errors.New("roster timeout")}
	wms := &mockWatermarks{}
	svc := newIngestService(roster, &mockIngestRecords{}, wms, openWindows(now.Add(-time.Hour)))

	result, err := svc.Run(context.Background(), models.CategoryCandidate, now)
	require.NoError(t, err)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, appErrors.ErrSourceFetch.Code, result.Errors[0].Code)
	assert.Empty(t, wms.advanced)
}

func TestIngestRunCreatesRecordWithDerivedIdentity(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	roster := &mockRoster{
		candidates: []clients.RosterCandidate{{ExternalID: "ext-1"}},
		details: map[string]*clients.RosterDetail{
			"ext-1": {
				ExternalID:     "ext-1",
				DocumentType:   "DNI",
				DocumentNumber: "12345678",
				FullName:       "Ana Torres",
				Email:          "ana@personal.test",
				CourseCodes:    []string{"MATH-101"},
			},
		},
	}
	records := &mockIngestRecords{}
	svc := newIngestService(roster, records, &mockWatermarks{}, openWindows(now.Add(-time.Hour)))

	result, err := svc.Run(context.Background(), models.CategoryApplicant, now)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Created)
	assert.Zero(t, result.Updated)
	require.Len(t, records.created, 1)
	created := records.created[0]
	assert.Equal(t, models.StageApplicant, created.Stage)
	assert.Equal(t, "u12345678", created.PrincipalName)
	assert.Equal(t, "u12345678@example.edu", created.InstitutionalEmail)
	assert.NotEmpty(t, created.Credential)
	assert.Equal(t, result.NewRecordIDs, []string{created.ID})
}

func TestIngestRunNeverDowngradesStage(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	existing := &models.StudentRecord{
		ID:             "rec-1",
		DocumentType:   "DNI",
		DocumentNumber: "12345678",
		Stage:          models.StageAdmitted,
		Credential:     "keep-me",
	}
	roster := &mockRoster{
		candidates: []clients.RosterCandidate{{ExternalID: "ext-1"}},
		details: map[string]*clients.RosterDetail{
			"ext-1": {ExternalID: "ext-1", DocumentType: "DNI", DocumentNumber: "12345678", FullName: "Ana Torres"},
		},
	}
	records := &mockIngestRecords{byDocument: map[string]*models.StudentRecord{
		docKey("DNI", "12345678"): existing,
	}}
	svc := newIngestService(roster, records, &mockWatermarks{}, openWindows(now.Add(-time.Hour)))

	result, err := svc.Run(context.Background(), models.CategoryCandidate, now)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Updated)
	require.Len(t, records.updated, 1)
	assert.Equal(t, models.StageAdmitted, records.updated[0].Stage)
	assert.Equal(t, "keep-me", records.updated[0].Credential)
}

func TestIngestRunUpgradesStage(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	existing := &models.StudentRecord{
		ID:             "rec-1",
		DocumentType:   "DNI",
		DocumentNumber: "12345678",
		Stage:          models.StageCandidate,
	}
	roster := &mockRoster{
		candidates: []clients.RosterCandidate{{ExternalID: "ext-1"}},
		details: map[string]*clients.RosterDetail{
			"ext-1": {ExternalID: "ext-1", DocumentType: "DNI", DocumentNumber: "12345678"},
		},
	}
	records := &mockIngestRecords{byDocument: map[string]*models.StudentRecord{
		docKey("DNI", "12345678"): existing,
	}}
	svc := newIngestService(roster, records, &mockWatermarks{}, openWindows(now.Add(-time.Hour)))

	_, err := svc.Run(context.Background(), models.CategoryAdmitted, now)
	require.NoError(t, err)
	require.Len(t, records.updated, 1)
	assert.Equal(t, models.StageAdmitted, records.updated[0].Stage)
}

func TestIngestRunCollectsPerRecordErrors(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	roster := &mockRoster{
		candidates: []clients.RosterCandidate{
			{ExternalID: ""},      // missing identifier
			{ExternalID: "ext-2"}, // detail missing entirely
			{ExternalID: "ext-3"},
		},
		details: map[string]*clients.RosterDetail{
			"ext-3": {ExternalID: "ext-3", DocumentType: "DNI", DocumentNumber: "99"},
		},
	}
	records := &mockIngestRecords{}
	wms := &mockWatermarks{}
	svc := newIngestService(roster, records, wms, openWindows(now.Add(-time.Hour)))

	result, err := svc.Run(context.Background(), models.CategoryCandidate, now)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Created)
	require.Len(t, result.Errors, 2)
	for _, e := range result.Errors {
		assert.Equal(t, appErrors.ErrInvalidRecord.Code, e.Code)
	}
	// A partially failed batch still advances past the processed window.
	assert.Equal(t, now, wms.advanced[models.CategoryCandidate])
}

func TestForceFullReloadRejectsUnknownCategory(t *testing.T) {
	svc := newIngestService(&mockRoster{}, &mockIngestRecords{}, &mockWatermarks{}, config.IngestionConfig{})
	err := svc.ForceFullReload(context.Background(), models.RecordCategory("BOGUS"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestEnabledCategoriesHonorsWindows(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	windows := config.IngestionConfig{
		Candidate: config.CategoryWindowConfig{Enabled: true, Start: now.Add(-time.Hour)},
		Applicant: config.CategoryWindowConfig{Enabled: true, Start: now.Add(-time.Hour), End: now.Add(-time.Minute)},
		Admitted:  config.CategoryWindowConfig{Enabled: false},
	}
	svc := newIngestService(&mockRoster{}, &mockIngestRecords{}, &mockWatermarks{}, windows)

	assert.Equal(t, []models.RecordCategory{models.CategoryCandidate}, svc.EnabledCategories(now))
}

func TestNotifyEnabledFollowsCategoryWindow(t *testing.T) {
	windows := openWindows(time.Now().Add(-24 * time.Hour))
	windows.Applicant.Notify = true

	svc := newIngestService(&mockRoster{}, &mockIngestRecords{}, &mockWatermarks{}, windows)

	assert.True(t, svc.NotifyEnabled(models.CategoryApplicant))
	assert.False(t, svc.NotifyEnabled(models.CategoryCandidate))
	assert.False(t, svc.NotifyEnabled(models.CategoryAdmitted))
}
