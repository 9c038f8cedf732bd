package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-onboarding-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func recordRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "external_id", "document_type", "document_number", "full_name", "personal_email", "phone",
		"program", "modality", "section", "course_codes", "stage", "principal_name", "institutional_email", "credential",
		"identity_processed", "enrollment_processed", "notification_processed", "created_at", "updated_at",
	})
}

func TestRecordRepositoryFindByDocument(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	rows := recordRows().AddRow(
		"rec-1", "ext-1", "DNI", "100200", "Jane Doe", "jane@mail.test", "555",
		"CS", "ONSITE", "A", "{CS-ONSITE-A1}", models.StageApplicant, "u100200", "u100200@example.edu", "secret",
		false, false, false, time.Now(), time.Now(),
	)
	mock.ExpectQuery("SELECT (.+) FROM student_records WHERE document_type = \\$1 AND document_number = \\$2").
		WithArgs("DNI", "100200").
		WillReturnRows(rows)

	record, err := repo.FindByDocument(context.Background(), "DNI", "100200")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "rec-1", record.ID)
	assert.Equal(t, models.StageApplicant, record.Stage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryFindByDocumentMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM student_records WHERE document_type = \\$1 AND document_number = \\$2").
		WithArgs("DNI", "nope").
		WillReturnRows(recordRows())

	record, err := repo.FindByDocument(context.Background(), "DNI", "nope")
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	mock.ExpectExec("INSERT INTO student_records").
		WillReturnResult(sqlmock.NewResult(1, 1))

	record := &models.StudentRecord{
		DocumentType:   "DNI",
		DocumentNumber: "100200",
		FullName:       "Jane Doe",
		Stage:          models.StageCandidate,
	}
	err := repo.Create(context.Background(), record)
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryMarkProcessed(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE student_records SET identity_processed = true, updated_at = $2 WHERE id = $1")).
		WithArgs("rec-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkProcessed(context.Background(), "rec-1", FlagIdentity)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryMarkProcessedRejectsUnknownFlag(t *testing.T) {
	db, _, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	err := repo.MarkProcessed(context.Background(), "rec-1", ProcessFlag("credential"))
	require.Error(t, err)
}

func TestRecordRepositoryList(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	rows := recordRows().AddRow(
		"rec-1", "ext-1", "DNI", "100200", "Jane Doe", "jane@mail.test", "555",
		"CS", "ONSITE", "A", "{}", models.StageAdmitted, "u100200", "u100200@example.edu", "secret",
		true, false, false, time.Now(), time.Now(),
	)
	mock.ExpectQuery("SELECT (.+) FROM student_records WHERE 1=1 AND stage = \\$1 ORDER BY created_at DESC LIMIT 20 OFFSET 0").
		WithArgs(models.StageAdmitted).
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM student_records WHERE 1=1 AND stage = \\$1").
		WithArgs(models.StageAdmitted).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	records, total, err := repo.List(context.Background(), models.RecordFilter{Stage: models.StageAdmitted})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
