package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-onboarding-api/internal/clients"
	"github.com/noah-isme/uni-onboarding-api/internal/models"
	"github.com/noah-isme/uni-onboarding-api/internal/repository"
	"github.com/noah-isme/uni-onboarding-api/pkg/config"
	appErrors "github.com/noah-isme/uni-onboarding-api/pkg/errors"
)

// Notification template names understood by the external notifier.
const (
	TemplateWelcome     = "welcome"
	TemplateCredentials = "credentials"
	TemplateEnrollment  = "enrollment"
)

// LearningRoleStudent is the enrollment role used for every provisioned user.
const LearningRoleStudent = "student"

// EntitlementStudent is granted on every freshly created identity account.
const EntitlementStudent = "student"

type identityProvider interface {
	FindOrCreate(ctx context.Context, principal string, profile clients.IdentityProfile) (*clients.IdentityAccount, bool, error)
	Get(ctx context.Context, principal string) (*clients.IdentityAccount, error)
	ResetCredential(ctx context.Context, principal, credential string) error
	Delete(ctx context.Context, principal string) error
	AssignEntitlement(ctx context.Context, accountID, entitlement string) error
}

type learningPlatform interface {
	FindOrCreateUser(ctx context.Context, username string, profile clients.LearningProfile) (string, error)
	FindCourse(ctx context.Context, shortcode string) (string, error)
	Enroll(ctx context.Context, userID, courseID, role string) error
	DeleteUser(ctx context.Context, username string) error
}

type messageSender interface {
	Send(ctx context.Context, address, template string, variables map[string]string) error
}

type provisionRecordStore interface {
	FindByID(ctx context.Context, id string) (*models.StudentRecord, error)
	SetCredential(ctx context.Context, id, credential string) error
	SetDerivedIdentifiers(ctx context.Context, id, principal, email string) error
	MarkProcessed(ctx context.Context, id string, flag repository.ProcessFlag) error
}

// EnrollOutcome reports per-course results of an enrollment step. Partial
// enrollment is a success as long as at least one course enrolled.
type EnrollOutcome struct {
	Enrolled      []string `json:"enrolled"`
	FailedCourses []string `json:"failed_courses,omitempty"`
}

// ProvisionService implements the idempotent per-service provisioning steps
// shared by task executors and the stage workflow. Every step persists its
// own record flag immediately on success so a partially completed workflow
// leaves accurate, resumable state.
type ProvisionService struct {
	records  provisionRecordStore
	identity identityProvider
	learning learningPlatform
	notifier messageSender
	runtime  *config.Runtime
	logger   *zap.Logger
}

// NewProvisionService constructs the step executor service.
func NewProvisionService(records provisionRecordStore, identity identityProvider, learning learningPlatform, notifier messageSender, runtime *config.Runtime, logger *zap.Logger) *ProvisionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProvisionService{
		records:  records,
		identity: identity,
		learning: learning,
		notifier: notifier,
		runtime:  runtime,
		logger:   logger,
	}
}

// EnsureIdentity finds or creates the identity account for a record. Safe to
// re-invoke: an already-existing account is success. The stored credential
// is reused; one is generated only when the record has none yet.
func (s *ProvisionService) EnsureIdentity(ctx context.Context, record *models.StudentRecord) (bool, error) {
	snap := s.runtime.Current()

	if record.PrincipalName == "" || record.InstitutionalEmail == "" {
		record.PrincipalName = DerivePrincipal(snap, record.DocumentNumber)
		record.InstitutionalEmail = DeriveInstitutionalEmail(snap, record.DocumentNumber)
		if err := s.records.SetDerivedIdentifiers(ctx, record.ID, record.PrincipalName, record.InstitutionalEmail); err != nil {
			return false, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to persist derived identifiers")
		}
	}

	if record.Credential == "" {
		credential, err := GenerateCredential()
		if err != nil {
			return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate credential")
		}
		if err := s.records.SetCredential(ctx, record.ID, credential); err != nil {
			return false, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to persist credential")
		}
		record.Credential = credential
	}

	account, created, err := s.identity.FindOrCreate(ctx, record.PrincipalName, clients.IdentityProfile{
		FullName:   record.FullName,
		Email:      record.InstitutionalEmail,
		Credential: record.Credential,
	})
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrExternalService.Code, appErrors.ErrExternalService.Status, "identity provider call failed")
	}

	if created {
		if err := s.identity.AssignEntitlement(ctx, account.ID, EntitlementStudent); err != nil {
			s.logger.Warn("entitlement assignment failed",
				zap.String("record_id", record.ID),
				zap.String("account_id", account.ID),
				zap.Error(err))
		}
	}

	if err := s.records.MarkProcessed(ctx, record.ID, repository.FlagIdentity); err != nil {
		return created, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to mark identity processed")
	}
	record.IdentityProcessed = true
	return created, nil
}

// ResetCredential generates and stores a fresh credential for an existing
// account, optionally notifying the student. Fails when no identity account
// exists.
func (s *ProvisionService) ResetCredential(ctx context.Context, record *models.StudentRecord, notify bool) error {
	if record.PrincipalName == "" {
		return appErrors.Clone(appErrors.ErrNotFound, "record has no principal name")
	}

	if _, err := s.identity.Get(ctx, record.PrincipalName); err != nil {
		if errors.Is(err, clients.ErrNotFound) {
			return appErrors.Clone(appErrors.ErrNotFound, "identity account does not exist")
		}
		return appErrors.Wrap(err, appErrors.ErrExternalService.Code, appErrors.ErrExternalService.Status, "identity lookup failed")
	}

	credential, err := GenerateCredential()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate credential")
	}

	if err := s.identity.ResetCredential(ctx, record.PrincipalName, credential); err != nil {
		return appErrors.Wrap(err, appErrors.ErrExternalService.Code, appErrors.ErrExternalService.Status, "credential reset failed")
	}
	if err := s.records.SetCredential(ctx, record.ID, credential); err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to persist credential")
	}
	record.Credential = credential

	if notify {
		if err := s.SendNotification(ctx, record, TemplateCredentials, nil); err != nil {
			s.logger.Warn("credential notification failed",
				zap.String("record_id", record.ID),
				zap.Error(err))
		}
	}
	return nil
}

// EnrollCourses finds or creates the learning-platform user and enrolls it
// into each resolved course. Course resolution and enrollment failures are
// per-course and non-fatal; the enrollment flag is set only when at least
// one course enrolled.
func (s *ProvisionService) EnrollCourses(ctx context.Context, record *models.StudentRecord, override []string) (*EnrollOutcome, error) {
	if record.InstitutionalEmail == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "record has no institutional address")
	}

	userID, err := s.learning.FindOrCreateUser(ctx, record.PrincipalName, clients.LearningProfile{
		FullName: record.FullName,
		Email:    record.InstitutionalEmail,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrExternalService.Code, appErrors.ErrExternalService.Status, "learning platform user creation failed")
	}

	courseCodes := override
	if len(courseCodes) == 0 {
		courseCodes = record.CourseCodes
	}
	if len(courseCodes) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no courses resolved for record")
	}

	outcome := &EnrollOutcome{}
	for _, code := range courseCodes {
		courseID, err := s.learning.FindCourse(ctx, code)
		if err != nil {
			s.logger.Warn("course resolution failed",
				zap.String("record_id", record.ID),
				zap.String("course", code),
				zap.Error(err))
			outcome.FailedCourses = append(outcome.FailedCourses, code)
			continue
		}
		if err := s.learning.Enroll(ctx, userID, courseID, LearningRoleStudent); err != nil {
			s.logger.Warn("enrollment failed",
				zap.String("record_id", record.ID),
				zap.String("course", code),
				zap.Error(err))
			outcome.FailedCourses = append(outcome.FailedCourses, code)
			continue
		}
		outcome.Enrolled = append(outcome.Enrolled, code)
	}

	if len(outcome.Enrolled) == 0 {
		return outcome, appErrors.Clone(appErrors.ErrExternalService, "no course enrollment succeeded")
	}

	if err := s.records.MarkProcessed(ctx, record.ID, repository.FlagEnrollment); err != nil {
		return outcome, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to mark enrollment processed")
	}
	record.EnrollmentProcessed = true
	return outcome, nil
}

// SendNotification renders a template with the record's attributes and
// dispatches it. The only record mutation is the notified marker.
func (s *ProvisionService) SendNotification(ctx context.Context, record *models.StudentRecord, template string, extra map[string]string) error {
	address := record.PersonalEmail
	if template == TemplateEnrollment && record.InstitutionalEmail != "" {
		address = record.InstitutionalEmail
	}
	if address == "" {
		return appErrors.Clone(appErrors.ErrValidation, "record has no deliverable address")
	}

	variables := map[string]string{
		"full_name":           record.FullName,
		"document_number":     record.DocumentNumber,
		"principal_name":      record.PrincipalName,
		"institutional_email": record.InstitutionalEmail,
	}
	if template == TemplateCredentials {
		variables["credential"] = record.Credential
	}
	if len(record.CourseCodes) > 0 {
		variables["courses"] = strings.Join(record.CourseCodes, ", ")
	}
	for k, v := range extra {
		variables[k] = v
	}

	if err := s.notifier.Send(ctx, address, template, variables); err != nil {
		return appErrors.Wrap(err, appErrors.ErrExternalService.Code, appErrors.ErrExternalService.Status, "notification dispatch failed")
	}

	if err := s.records.MarkProcessed(ctx, record.ID, repository.FlagNotification); err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to mark notification processed")
	}
	record.NotificationProcessed = true
	return nil
}

// Deprovision removes external accounts for a record. Security-gated: only
// principals carrying the configured sandbox marker are eligible; anything
// else fails closed without contacting the providers.
func (s *ProvisionService) Deprovision(ctx context.Context, record *models.StudentRecord) error {
	snap := s.runtime.Current()
	marker := snap.SandboxMarker
	if marker == "" || !strings.Contains(record.PrincipalName, marker) {
		s.logger.Warn("deprovision rejected for non-sandbox principal",
			zap.String("record_id", record.ID),
			zap.String("principal", record.PrincipalName))
		return appErrors.Clone(appErrors.ErrSecurityPolicy, fmt.Sprintf("principal %q does not carry the sandbox marker", record.PrincipalName))
	}

	if err := s.identity.Delete(ctx, record.PrincipalName); err != nil && !errors.Is(err, clients.ErrNotFound) {
		return appErrors.Wrap(err, appErrors.ErrExternalService.Code, appErrors.ErrExternalService.Status, "identity deletion failed")
	}
	if err := s.learning.DeleteUser(ctx, record.PrincipalName); err != nil && !errors.Is(err, clients.ErrNotFound) {
		return appErrors.Wrap(err, appErrors.ErrExternalService.Code, appErrors.ErrExternalService.Status, "learning platform deletion failed")
	}
	return nil
}
