package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-onboarding-api/internal/models"
)

// ProcessFlag names one per-service processing flag on a student record.
type ProcessFlag string

const (
	FlagIdentity     ProcessFlag = "identity_processed"
	FlagEnrollment   ProcessFlag = "enrollment_processed"
	FlagNotification ProcessFlag = "notification_processed"
)

var allowedFlags = map[ProcessFlag]struct{}{
	FlagIdentity:     {},
	FlagEnrollment:   {},
	FlagNotification: {},
}

const recordColumns = `id, external_id, document_type, document_number, full_name, personal_email, phone,
        program, modality, section, course_codes, stage, principal_name, institutional_email, credential,
        identity_processed, enrollment_processed, notification_processed, created_at, updated_at`

// RecordRepository manages persistence for student records.
type RecordRepository struct {
	db *sqlx.DB
}

// NewRecordRepository constructs a RecordRepository.
func NewRecordRepository(db *sqlx.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// List returns student records matching the provided filters.
func (r *RecordRepository) List(ctx context.Context, filter models.RecordFilter) ([]models.StudentRecord, int, error) {
	base := "FROM student_records"
	args := []interface{}{}
	conditions := []string{"1=1"}

	if filter.Stage != "" {
		conditions = append(conditions, fmt.Sprintf("stage = $%d", len(args)+1))
		args = append(args, filter.Stage)
	}
	if filter.Program != "" {
		conditions = append(conditions, fmt.Sprintf("program = $%d", len(args)+1))
		args = append(args, filter.Program)
	}
	if filter.Pending != nil && *filter.Pending {
		conditions = append(conditions, "(NOT identity_processed OR NOT enrollment_processed)")
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(full_name) LIKE $%d OR document_number LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"full_name":       "full_name",
		"document_number": "document_number",
		"stage":           "stage",
		"created_at":      "created_at",
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", recordColumns, base, column, order, size, offset)

	var records []models.StudentRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list records: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}
	return records, total, nil
}

// FindByID fetches a record by internal id.
func (r *RecordRepository) FindByID(ctx context.Context, id string) (*models.StudentRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM student_records WHERE id = $1", recordColumns)
	var record models.StudentRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByDocument fetches a record by its immutable document identity.
// Returns (nil, nil) when no record matches.
func (r *RecordRepository) FindByDocument(ctx context.Context, documentType, documentNumber string) (*models.StudentRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM student_records WHERE document_type = $1 AND document_number = $2", recordColumns)
	var record models.StudentRecord
	if err := r.db.GetContext(ctx, &record, query, documentType, documentNumber); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find record by document: %w", err)
	}
	return &record, nil
}

// Create inserts a new student record.
func (r *RecordRepository) Create(ctx context.Context, record *models.StudentRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	const query = `INSERT INTO student_records (id, external_id, document_type, document_number, full_name, personal_email, phone,
        program, modality, section, course_codes, stage, principal_name, institutional_email, credential,
        identity_processed, enrollment_processed, notification_processed, created_at, updated_at)
        VALUES (:id, :external_id, :document_type, :document_number, :full_name, :personal_email, :phone,
        :program, :modality, :section, :course_codes, :stage, :principal_name, :institutional_email, :credential,
        :identity_processed, :enrollment_processed, :notification_processed, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

// Update modifies the mutable profile fields and the lifecycle stage. The
// document identity, credential, and processing flags are never touched
// here; the caller enforces the monotonic stage rule before calling.
func (r *RecordRepository) Update(ctx context.Context, record *models.StudentRecord) error {
	record.UpdatedAt = time.Now().UTC()
	const query = `UPDATE student_records SET external_id = :external_id, full_name = :full_name,
        personal_email = :personal_email, phone = :phone, program = :program, modality = :modality,
        section = :section, course_codes = :course_codes, stage = :stage, updated_at = :updated_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return nil
}

// SetCredential stores the generated credential.
func (r *RecordRepository) SetCredential(ctx context.Context, id, credential string) error {
	const query = `UPDATE student_records SET credential = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, credential, time.Now().UTC()); err != nil {
		return fmt.Errorf("set credential: %w", err)
	}
	return nil
}

// SetDerivedIdentifiers stores the computed principal name and
// institutional address.
func (r *RecordRepository) SetDerivedIdentifiers(ctx context.Context, id, principal, email string) error {
	const query = `UPDATE student_records SET principal_name = $2, institutional_email = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, principal, email, time.Now().UTC()); err != nil {
		return fmt.Errorf("set derived identifiers: %w", err)
	}
	return nil
}

// MarkProcessed sets one per-service processing flag to true.
func (r *RecordRepository) MarkProcessed(ctx context.Context, id string, flag ProcessFlag) error {
	if _, ok := allowedFlags[flag]; !ok {
		return fmt.Errorf("unknown processing flag %q", flag)
	}
	query := fmt.Sprintf(`UPDATE student_records SET %s = true, updated_at = $2 WHERE id = $1`, flag)
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark %s: %w", flag, err)
	}
	return nil
}
