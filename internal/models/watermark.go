package models

import "time"

// IngestWatermark records, per roster category, the timestamp boundary up to
// which records have been successfully ingested. A nil LastSuccessAt means
// the category has never been pulled and the next run does a full pull.
type IngestWatermark struct {
	Category        RecordCategory `db:"category" json:"category"`
	LastSuccessAt   *time.Time     `db:"last_success_at" json:"last_success_at,omitempty"`
	ForceFullReload bool           `db:"force_full_reload" json:"force_full_reload"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}
