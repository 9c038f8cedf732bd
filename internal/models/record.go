package models

import (
	"time"

	"github.com/lib/pq"
)

// LifecycleStage represents an admission state in the onboarding funnel.
type LifecycleStage string

// Ordered lifecycle stages. A record only ever moves forward.
const (
	StageCandidate LifecycleStage = "CANDIDATE"
	StageApplicant LifecycleStage = "APPLICANT"
	StageAdmitted  LifecycleStage = "ADMITTED"
	StageEnrolled  LifecycleStage = "ENROLLED"
)

var stageRanks = map[LifecycleStage]int{
	StageCandidate: 1,
	StageApplicant: 2,
	StageAdmitted:  3,
	StageEnrolled:  4,
}

// Rank returns the ordinal position of the stage, 0 for unknown values.
func (s LifecycleStage) Rank() int {
	return stageRanks[s]
}

// Valid reports whether the stage is a known value.
func (s LifecycleStage) Valid() bool {
	_, ok := stageRanks[s]
	return ok
}

// RecordCategory identifies a roster category ingested incrementally.
type RecordCategory string

// Supported ingestion categories.
const (
	CategoryCandidate RecordCategory = "candidate"
	CategoryApplicant RecordCategory = "applicant"
	CategoryAdmitted  RecordCategory = "admitted"
)

// TargetStage maps an ingestion category to the lifecycle stage it implies.
func (c RecordCategory) TargetStage() LifecycleStage {
	switch c {
	case CategoryApplicant:
		return StageApplicant
	case CategoryAdmitted:
		return StageAdmitted
	default:
		return StageCandidate
	}
}

// Valid reports whether the category is supported.
func (c RecordCategory) Valid() bool {
	switch c {
	case CategoryCandidate, CategoryApplicant, CategoryAdmitted:
		return true
	}
	return false
}

// StudentRecord is the durable onboarding entity enriched by ingestion and
// provisioning steps. Identified by (document_type, document_number).
type StudentRecord struct {
	ID             string         `db:"id" json:"id"`
	ExternalID     string         `db:"external_id" json:"external_id"`
	DocumentType   string         `db:"document_type" json:"document_type"`
	DocumentNumber string         `db:"document_number" json:"document_number"`
	FullName       string         `db:"full_name" json:"full_name"`
	PersonalEmail  string         `db:"personal_email" json:"personal_email"`
	Phone          string         `db:"phone" json:"phone"`
	Program        string         `db:"program" json:"program"`
	Modality       string         `db:"modality" json:"modality"`
	Section        string         `db:"section" json:"section"`
	CourseCodes    pq.StringArray `db:"course_codes" json:"course_codes"`
	Stage          LifecycleStage `db:"stage" json:"stage"`

	// Derived identifiers, computed from the document number and the
	// configured account prefix.
	PrincipalName      string `db:"principal_name" json:"principal_name"`
	InstitutionalEmail string `db:"institutional_email" json:"institutional_email"`

	// Opaque generated secret, created once and preserved across
	// re-ingestion. Never serialized to clients.
	Credential string `db:"credential" json:"-"`

	IdentityProcessed     bool `db:"identity_processed" json:"identity_processed"`
	EnrollmentProcessed   bool `db:"enrollment_processed" json:"enrollment_processed"`
	NotificationProcessed bool `db:"notification_processed" json:"notification_processed"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// RecordFilter encapsulates allowed search parameters for listing records.
type RecordFilter struct {
	Search    string
	Stage     LifecycleStage
	Program   string
	Pending   *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
