package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-onboarding-api/internal/clients"
	"github.com/noah-isme/uni-onboarding-api/internal/models"
	"github.com/noah-isme/uni-onboarding-api/internal/repository"
	appErrors "github.com/noah-isme/uni-onboarding-api/pkg/errors"
)

type mockIdentity struct {
	accounts     map[string]*clients.IdentityAccount
	findErr      error
	resets       map[string]string
	deleted      []string
	created      []string
	entitlements map[string]string
}

func (m *mockIdentity) FindOrCreate(ctx context.Context, principal string, profile clients.IdentityProfile) (*clients.IdentityAccount, bool, error) {
	if m.findErr != nil {
		return nil, false, m.findErr
	}
	if acc, ok := m.accounts[principal]; ok {
		return acc, false, nil
	}
	acc := &clients.IdentityAccount{ID: "acc-" + principal, Principal: principal, Active: true}
	if m.accounts == nil {
		m.accounts = make(map[string]*clients.IdentityAccount)
	}
	m.accounts[principal] = acc
	m.created = append(m.created, principal)
	return acc, true, nil
}

func (m *mockIdentity) Get(ctx context.Context, principal string) (*clients.IdentityAccount, error) {
	if acc, ok := m.accounts[principal]; ok {
		return acc, nil
	}
	return nil, clients.ErrNotFound
}

func (m *mockIdentity) ResetCredential(ctx context.Context, principal, credential string) error {
	if m.resets == nil {
		m.resets = make(map[string]string)
	}
	m.resets[principal] = credential
	return nil
}

func (m *mockIdentity) Delete(ctx context.Context, principal string) error {
	m.deleted = append(m.deleted, principal)
	return nil
}

func (m *mockIdentity) AssignEntitlement(ctx context.Context, accountID, entitlement string) error {
	if m.entitlements == nil {
		m.entitlements = make(map[string]string)
	}
	m.entitlements[accountID] = entitlement
	return nil
}

type mockLearning struct {
	courses     map[string]string
	enrollments [][2]string
	enrollErr   map[string]error
	deleted     []string
}

func (m *mockLearning) FindOrCreateUser(ctx context.Context, username string, profile clients.LearningProfile) (string, error) {
	return "lms-" + username, nil
}

func (m *mockLearning) FindCourse(ctx context.Context, shortcode string) (string, error) {
	if id, ok := m.courses[shortcode]; ok {
		return id, nil
	}
	return "", clients.ErrNotFound
}

func (m *mockLearning) Enroll(ctx context.Context, userID, courseID, role string) error {
	if err, ok := m.enrollErr[courseID]; ok {
		return err
	}
	m.enrollments = append(m.enrollments, [2]string{userID, courseID})
	return nil
}

func (m *mockLearning) DeleteUser(ctx context.Context, username string) error {
	m.deleted = append(m.deleted, username)
	return nil
}

type sentMessage struct {
	Address   string
	Template  string
	Variables map[string]string
}

type mockNotifier struct {
	sent    []sentMessage
	sendErr error
}

func (m *mockNotifier) Send(ctx context.Context, address, template string, variables map[string]string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentMessage{Address: address, Template: template, Variables: variables})
	return nil
}

type mockProvisionRecords struct {
	records     map[string]*models.StudentRecord
	credentials map[string]string
	identifiers map[string][2]string
	flags       map[string][]repository.ProcessFlag
}

func (m *mockProvisionRecords) FindByID(ctx context.Context, id string) (*models.StudentRecord, error) {
	if r, ok := m.records[id]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, nil
}

func (m *mockProvisionRecords) SetCredential(ctx context.Context, id, credential string) error {
	if m.credentials == nil {
		m.credentials = make(map[string]string)
	}
	m.credentials[id] = credential
	return nil
}

func (m *mockProvisionRecords) SetDerivedIdentifiers(ctx context.Context, id, principal, email string) error {
	if m.identifiers == nil {
		m.identifiers = make(map[string][2]string)
	}
	m.identifiers[id] = [2]string{principal, email}
	return nil
}

func (m *mockProvisionRecords) MarkProcessed(ctx context.Context, id string, flag repository.ProcessFlag) error {
	if m.flags == nil {
		m.flags = make(map[string][]repository.ProcessFlag)
	}
	m.flags[id] = append(m.flags[id], flag)
	return nil
}

func sandboxRecord() *models.StudentRecord {
	return &models.StudentRecord{
		ID:             "rec-1",
		DocumentType:   "DNI",
		DocumentNumber: "sbx001",
		FullName:       "Ana Torres",
		PersonalEmail:  "ana@personal.test",
		CourseCodes:    []string{"MATH-101", "PHYS-201"},
		Stage:          models.StageApplicant,
	}
}

func newProvisionFixture() (*ProvisionService, *mockProvisionRecords, *mockIdentity, *mockLearning, *mockNotifier) {
	records := &mockProvisionRecords{}
	identity := &mockIdentity{}
	learning := &mockLearning{courses: map[string]string{"MATH-101": "c-1", "PHYS-201": "c-2"}}
	notifier := &mockNotifier{}
	svc := NewProvisionService(records, identity, learning, notifier, testRuntime(), nil)
	return svc, records, identity, learning, notifier
}

func TestEnsureIdentityDerivesAndCreates(t *testing.T) {
	svc, records, identity, _, _ := newProvisionFixture()
	record := sandboxRecord()

	created, err := svc.EnsureIdentity(context.Background(), record)
	require.NoError(t, err)
	assert.True(t, created)

	assert.Equal(t, "usbx001", record.PrincipalName)
	assert.Equal(t, "usbx001@example.edu", record.InstitutionalEmail)
	assert.NotEmpty(t, record.Credential)
	assert.Equal(t, record.Credential, records.credentials["rec-1"])
	assert.Contains(t, records.flags["rec-1"], repository.FlagIdentity)
	assert.Equal(t, []string{"usbx001"}, identity.created)
	assert.Equal(t, EntitlementStudent, identity.entitlements["acc-usbx001"])
}

func TestEnsureIdentityReusesExistingAccountAndCredential(t *testing.T) {
	svc, records, identity, _, _ := newProvisionFixture()
	identity.accounts = map[string]*clients.IdentityAccount{
		"usbx001": {ID: "acc-1", Principal: "usbx001"},
	}
	record := sandboxRecord()
	record.PrincipalName = "usbx001"
	record.InstitutionalEmail = "usbx001@example.edu"
	record.Credential = "already-set"

	created, err := svc.EnsureIdentity(context.Background(), record)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "already-set", record.Credential)
	assert.Empty(t, records.credentials)
	assert.Empty(t, identity.created)
	assert.Empty(t, identity.entitlements)
}

func TestResetCredentialRequiresExistingAccount(t *testing.T) {
	svc, _, _, _, _ := newProvisionFixture()
	record := sandboxRecord()
	record.PrincipalName = "usbx001"

	err := svc.ResetCredential(context.Background(), record, false)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestResetCredentialRotatesAndNotifies(t *testing.T) {
	svc, records, identity, _, notifier := newProvisionFixture()
	identity.accounts = map[string]*clients.IdentityAccount{
		"usbx001": {ID: "acc-1", Principal: "usbx001"},
	}
	record := sandboxRecord()
	record.PrincipalName = "usbx001"
	record.Credential = "old"

	require.NoError(t, svc.ResetCredential(context.Background(), record, true))

	assert.NotEqual(t, "old", record.Credential)
	assert.Equal(t, record.Credential, identity.resets["usbx001"])
	assert.Equal(t, record.Credential, records.credentials["rec-1"])
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, TemplateCredentials, notifier.sent[0].Template)
	assert.Equal(t, record.Credential, notifier.sent[0].Variables["credential"])
}

func TestEnrollCoursesPartialFailureStillSucceeds(t *testing.T) {
	svc, records, _, learning, _ := newProvisionFixture()
	learning.enrollErr = map[string]error{"c-2": errors.New("course closed")}
	record := sandboxRecord()
	record.PrincipalName = "usbx001"
	record.InstitutionalEmail = "usbx001@example.edu"

	outcome, err := svc.EnrollCourses(context.Background(), record, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"MATH-101"}, outcome.Enrolled)
	assert.Equal(t, []string{"PHYS-201"}, outcome.FailedCourses)
	assert.Contains(t, records.flags["rec-1"], repository.FlagEnrollment)
}

func TestEnrollCoursesAllFailuresIsAnError(t *testing.T) {
	svc, records, _, learning, _ := newProvisionFixture()
	learning.courses = nil // every course resolution fails
	record := sandboxRecord()
	record.PrincipalName = "usbx001"
	record.InstitutionalEmail = "usbx001@example.edu"

	outcome, err := svc.EnrollCourses(context.Background(), record, nil)
	require.Error(t, err)
	assert.Empty(t, outcome.Enrolled)
	assert.Empty(t, records.flags["rec-1"])
}

func TestEnrollCoursesOverrideWins(t *testing.T) {
	svc, _, _, learning, _ := newProvisionFixture()
	record := sandboxRecord()
	record.PrincipalName = "usbx001"
	record.InstitutionalEmail = "usbx001@example.edu"

	outcome, err := svc.EnrollCourses(context.Background(), record, []string{"PHYS-201"})
	require.NoError(t, err)
	assert.Equal(t, []string{"PHYS-201"}, outcome.Enrolled)
	require.Len(t, learning.enrollments, 1)
	assert.Equal(t, "c-2", learning.enrollments[0][1])
}

func TestSendNotificationTargetsPersonalAddress(t *testing.T) {
	svc, records, _, _, notifier := newProvisionFixture()
	record := sandboxRecord()

	require.NoError(t, svc.SendNotification(context.Background(), record, TemplateWelcome, nil))

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "ana@personal.test", notifier.sent[0].Address)
	assert.Contains(t, records.flags["rec-1"], repository.FlagNotification)
}

func TestDeprovisionRejectsNonSandboxPrincipal(t *testing.T) {
	svc, _, identity, learning, _ := newProvisionFixture()
	record := sandboxRecord()
	record.PrincipalName = "uprod001"

	err := svc.Deprovision(context.Background(), record)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrSecurityPolicy))
	assert.Empty(t, identity.deleted)
	assert.Empty(t, learning.deleted)
}

func TestDeprovisionRemovesSandboxAccounts(t *testing.T) {
	svc, _, identity, learning, _ := newProvisionFixture()
	identity.accounts = map[string]*clients.IdentityAccount{
		"usbx001": {ID: "acc-1", Principal: "usbx001"},
	}
	record := sandboxRecord()
	record.PrincipalName = "usbx001"

	require.NoError(t, svc.Deprovision(context.Background(), record))
	assert.Equal(t, []string{"usbx001"}, identity.deleted)
	assert.Equal(t, []string{"usbx001"}, learning.deleted)
}
