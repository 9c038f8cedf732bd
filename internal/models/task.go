package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TaskType enumerates queued provisioning actions.
type TaskType string

const (
	TaskCreateIdentity   TaskType = "CREATE_IDENTITY"
	TaskResetCredential  TaskType = "RESET_CREDENTIAL"
	TaskEnroll           TaskType = "ENROLL"
	TaskSendNotification TaskType = "SEND_NOTIFICATION"
	TaskDeprovision      TaskType = "DEPROVISION"
	TaskRunWorkflow      TaskType = "RUN_WORKFLOW"
	TaskBulkIngest       TaskType = "BULK_INGEST"
)

// Valid reports whether the task type is known.
func (t TaskType) Valid() bool {
	switch t {
	case TaskCreateIdentity, TaskResetCredential, TaskEnroll, TaskSendNotification,
		TaskDeprovision, TaskRunWorkflow, TaskBulkIngest:
		return true
	}
	return false
}

// ServiceCategory identifies the external service a task is throttled against.
type ServiceCategory string

const (
	ServiceIdentity ServiceCategory = "identity"
	ServiceLearning ServiceCategory = "learning"
	ServiceRoster   ServiceCategory = "roster"
	ServiceNotifier ServiceCategory = "notifier"
)

// ServiceCategories returns the external services a task type touches, used
// for rate-limit grouping. Composite types list every service so the
// scheduler can apply the most conservative limit.
func (t TaskType) ServiceCategories() []ServiceCategory {
	switch t {
	case TaskCreateIdentity, TaskResetCredential, TaskDeprovision:
		return []ServiceCategory{ServiceIdentity}
	case TaskEnroll:
		return []ServiceCategory{ServiceLearning}
	case TaskSendNotification:
		return []ServiceCategory{ServiceNotifier}
	case TaskRunWorkflow:
		return []ServiceCategory{ServiceIdentity, ServiceLearning, ServiceNotifier}
	case TaskBulkIngest:
		return []ServiceCategory{ServiceRoster}
	}
	return nil
}

// GroupCategory returns the single category a task is grouped under in a
// scheduler tick. Composite types group under their first service; the
// limit applied is still the minimum across every touched service.
func (t TaskType) GroupCategory() ServiceCategory {
	cats := t.ServiceCategories()
	if len(cats) == 0 {
		return ServiceIdentity
	}
	return cats[0]
}

// TaskState captures the task lifecycle. Transitions are single-directional:
// PENDING -> RUNNING -> COMPLETED | FAILED.
type TaskState string

const (
	TaskPending   TaskState = "PENDING"
	TaskRunning   TaskState = "RUNNING"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
)

// Terminal reports whether the state admits no further transition.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskOrigin records who created a task.
type TaskOrigin string

const (
	OriginManual    TaskOrigin = "MANUAL"
	OriginAutomatic TaskOrigin = "AUTOMATIC"
)

// Task is one queued unit of provisioning work. Tasks are retained as an
// audit trail and never deleted automatically.
type Task struct {
	ID            string      `db:"id" json:"id"`
	Type          TaskType    `db:"type" json:"type"`
	State         TaskState   `db:"state" json:"state"`
	RecordID      *string     `db:"record_id" json:"record_id,omitempty"`
	Payload       TaskPayload `db:"payload" json:"payload"`
	Origin        TaskOrigin  `db:"origin" json:"origin"`
	ScheduledAt   time.Time   `db:"scheduled_at" json:"scheduled_at"`
	StartedAt     *time.Time  `db:"started_at" json:"started_at,omitempty"`
	EndedAt       *time.Time  `db:"ended_at" json:"ended_at,omitempty"`
	ResultSummary *string     `db:"result_summary" json:"result_summary,omitempty"`
	ErrorMessage  *string     `db:"error_message" json:"error_message,omitempty"`
	AffectedCount int         `db:"affected_count" json:"affected_count"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
}

// TaskPayload is a tagged union of per-type parameters persisted as JSONB.
// Exactly the variant matching the task type is expected to be set.
type TaskPayload struct {
	CreateIdentity  *CreateIdentityPayload  `json:"create_identity,omitempty"`
	ResetCredential *ResetCredentialPayload `json:"reset_credential,omitempty"`
	Enroll          *EnrollPayload          `json:"enroll,omitempty"`
	Notify          *NotifyPayload          `json:"notify,omitempty"`
	Deprovision     *DeprovisionPayload     `json:"deprovision,omitempty"`
	Workflow        *WorkflowPayload        `json:"workflow,omitempty"`
	BulkIngest      *BulkIngestPayload      `json:"bulk_ingest,omitempty"`
}

// CreateIdentityPayload parameterizes identity creation.
type CreateIdentityPayload struct {
	Notify bool `json:"notify"`
}

// ResetCredentialPayload parameterizes credential reset.
type ResetCredentialPayload struct {
	Notify bool `json:"notify"`
}

// EnrollPayload optionally overrides the resolved course list.
type EnrollPayload struct {
	CourseCodes []string `json:"course_codes,omitempty"`
}

// NotifyPayload selects a message template and extra variables.
type NotifyPayload struct {
	Template  string            `json:"template"`
	Variables map[string]string `json:"variables,omitempty"`
}

// DeprovisionPayload is empty; deprovisioning is driven by the record.
type DeprovisionPayload struct{}

// WorkflowPayload optionally overrides the stage the workflow runs for.
type WorkflowPayload struct {
	Stage LifecycleStage `json:"stage,omitempty"`
}

// BulkIngestPayload names the roster category to pull.
type BulkIngestPayload struct {
	Category RecordCategory `json:"category"`
}

// Value marshals the payload to JSON for persistence.
func (p TaskPayload) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal task payload: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the union struct.
func (p *TaskPayload) Scan(value interface{}) error {
	if value == nil {
		*p = TaskPayload{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for TaskPayload", value)
	}
	if len(data) == 0 {
		*p = TaskPayload{}
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("unmarshal task payload: %w", err)
	}
	return nil
}

// TaskFilter provides filters for listing tasks.
type TaskFilter struct {
	Type      TaskType
	State     TaskState
	RecordID  string
	Origin    TaskOrigin
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
