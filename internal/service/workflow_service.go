package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-onboarding-api/internal/models"
	appErrors "github.com/noah-isme/uni-onboarding-api/pkg/errors"
)

// WorkflowStep names one unit of a stage workflow in results and logs.
type WorkflowStep string

const (
	StepIdentity         WorkflowStep = "identity"
	StepCredentialNotice WorkflowStep = "credential_notice"
	StepEnrollment       WorkflowStep = "enrollment"
	StepEnrollmentNotice WorkflowStep = "enrollment_notice"
	StepWelcomeNotice    WorkflowStep = "welcome_notice"
)

// StepResult records the outcome of one workflow step.
type StepResult struct {
	Step    WorkflowStep `json:"step"`
	Ran     bool         `json:"ran"`
	Skipped bool         `json:"skipped"`
	Error   string       `json:"error,omitempty"`
}

// WorkflowResult summarizes a full stage workflow run for one record.
type WorkflowResult struct {
	RecordID string                `json:"record_id"`
	Stage    models.LifecycleStage `json:"stage"`
	Steps    []StepResult          `json:"steps"`
	Aborted  bool                  `json:"aborted"`
}

// Succeeded reports whether every step that ran completed without error.
func (r *WorkflowResult) Succeeded() bool {
	if r.Aborted {
		return false
	}
	for _, s := range r.Steps {
		if s.Error != "" {
			return false
		}
	}
	return true
}

func (r *WorkflowResult) record(step WorkflowStep, skipped bool, err error) {
	res := StepResult{Step: step, Ran: !skipped, Skipped: skipped}
	if err != nil {
		res.Error = err.Error()
	}
	r.Steps = append(r.Steps, res)
}

type workflowRecordStore interface {
	FindByID(ctx context.Context, id string) (*models.StudentRecord, error)
}

// WorkflowService orchestrates the multi-step provisioning workflow per
// lifecycle stage. Steps run in a fixed order. Only an identity failure in the
// applicant path aborts the run; every other failure is recorded and the
// workflow continues so a re-run resumes from accurate flags.
type WorkflowService struct {
	records   workflowRecordStore
	provision *ProvisionService
	logger    *zap.Logger
}

// NewWorkflowService constructs the stage workflow orchestrator.
func NewWorkflowService(records workflowRecordStore, provision *ProvisionService, logger *zap.Logger) *WorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowService{records: records, provision: provision, logger: logger}
}

// Run executes the workflow for a record. An empty stageOverride runs the
// workflow of the record's current stage.
func (s *WorkflowService) Run(ctx context.Context, recordID string, stageOverride models.LifecycleStage) (*WorkflowResult, error) {
	record, err := s.records.FindByID(ctx, recordID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load record")
	}
	if record == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("record %s not found", recordID))
	}

	stage := record.Stage
	if stageOverride != "" {
		if !stageOverride.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown stage %q", stageOverride))
		}
		stage = stageOverride
	}

	result := &WorkflowResult{RecordID: record.ID, Stage: stage}

	switch stage {
	case models.StageCandidate:
		s.runWelcome(ctx, record, result)
	case models.StageApplicant:
		s.runFullProvisioning(ctx, record, result, true, true)
	case models.StageAdmitted, models.StageEnrolled:
		s.runFullProvisioning(ctx, record, result, false, false)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("no workflow defined for stage %q", stage))
	}

	s.logger.Info("workflow finished",
		zap.String("record_id", record.ID),
		zap.String("stage", string(stage)),
		zap.Bool("succeeded", result.Succeeded()),
		zap.Bool("aborted", result.Aborted))
	return result, nil
}

// runWelcome sends the pre-provisioning welcome message. No accounts are
// created for candidates.
func (s *WorkflowService) runWelcome(ctx context.Context, record *models.StudentRecord, result *WorkflowResult) {
	if record.NotificationProcessed {
		result.record(StepWelcomeNotice, true, nil)
		return
	}
	err := s.provision.SendNotification(ctx, record, TemplateWelcome, nil)
	result.record(StepWelcomeNotice, false, err)
}

// runFullProvisioning performs the account workflow. critical and
// notifyCredential are set for the first provisioning stage only: there an
// identity failure aborts the run, and the freshly generated credential is
// delivered to the personal address. Later stages treat an identity failure
// as one more recorded step error and still attempt enrollment.
func (s *WorkflowService) runFullProvisioning(ctx context.Context, record *models.StudentRecord, result *WorkflowResult, critical, notifyCredential bool) {
	if record.IdentityProcessed {
		result.record(StepIdentity, true, nil)
	} else {
		created, err := s.provision.EnsureIdentity(ctx, record)
		result.record(StepIdentity, false, err)
		switch {
		case err != nil && critical:
			result.Aborted = true
			s.logger.Error("identity step failed, aborting workflow",
				zap.String("record_id", record.ID),
				zap.Error(err))
			return
		case err != nil:
			s.logger.Warn("identity step failed, continuing workflow",
				zap.String("record_id", record.ID),
				zap.Error(err))
		case created && notifyCredential:
			err := s.provision.SendNotification(ctx, record, TemplateCredentials, nil)
			result.record(StepCredentialNotice, false, err)
		}
	}

	if record.EnrollmentProcessed {
		result.record(StepEnrollment, true, nil)
	} else {
		outcome, err := s.provision.EnrollCourses(ctx, record, nil)
		result.record(StepEnrollment, false, err)
		if err == nil && outcome != nil && len(outcome.Enrolled) > 0 {
			err := s.provision.SendNotification(ctx, record, TemplateEnrollment, map[string]string{
				"enrolled_courses": fmt.Sprintf("%d", len(outcome.Enrolled)),
			})
			result.record(StepEnrollmentNotice, false, err)
		}
	}
}
