package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// BatchBreakdown maps task type to processed count within one batch.
type BatchBreakdown map[TaskType]int

// Value marshals the breakdown to JSON for persistence.
func (b BatchBreakdown) Value() (driver.Value, error) {
	if b == nil {
		b = BatchBreakdown{}
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal batch breakdown: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON into the breakdown map.
func (b *BatchBreakdown) Scan(value interface{}) error {
	if value == nil {
		*b = BatchBreakdown{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for BatchBreakdown", value)
	}
	if len(data) == 0 {
		*b = BatchBreakdown{}
		return nil
	}
	if err := json.Unmarshal(data, b); err != nil {
		return fmt.Errorf("unmarshal batch breakdown: %w", err)
	}
	return nil
}

// ProvisionBatch summarizes one scheduler tick for auditing and export.
type ProvisionBatch struct {
	ID         string         `db:"id" json:"id"`
	StartedAt  time.Time      `db:"started_at" json:"started_at"`
	FinishedAt *time.Time     `db:"finished_at" json:"finished_at,omitempty"`
	Processed  int            `db:"processed" json:"processed"`
	Succeeded  int            `db:"succeeded" json:"succeeded"`
	Failed     int            `db:"failed" json:"failed"`
	ByType     BatchBreakdown `db:"by_type" json:"by_type"`
}
