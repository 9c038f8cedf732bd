package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-onboarding-api/internal/models"
	"github.com/noah-isme/uni-onboarding-api/pkg/config"
	appErrors "github.com/noah-isme/uni-onboarding-api/pkg/errors"
)

// Runtime-tunable configuration keys. Anything outside this set is rejected
// on write and ignored on resolve.
const (
	KeyBatchSize       = "provisioning.batch_size"
	KeyOverFetchFactor = "provisioning.overfetch_factor"
	KeyIdentityRPM     = "provisioning.identity_rpm"
	KeyLearningRPM     = "provisioning.learning_rpm"
	KeyRosterRPM       = "provisioning.roster_rpm"
	KeyNotifierRPM     = "provisioning.notifier_rpm"
	KeyAccountPrefix   = "provisioning.account_prefix"
	KeyAccountDomain   = "provisioning.account_domain"
	KeySandboxMarker   = "provisioning.sandbox_marker"
	KeyAutoWorkflow    = "provisioning.auto_workflow"
)

var tunableKeys = map[string]models.ConfigurationType{
	KeyBatchSize:       models.ConfigurationTypeInteger,
	KeyOverFetchFactor: models.ConfigurationTypeInteger,
	KeyIdentityRPM:     models.ConfigurationTypeInteger,
	KeyLearningRPM:     models.ConfigurationTypeInteger,
	KeyRosterRPM:       models.ConfigurationTypeInteger,
	KeyNotifierRPM:     models.ConfigurationTypeInteger,
	KeyAccountPrefix:   models.ConfigurationTypeString,
	KeyAccountDomain:   models.ConfigurationTypeString,
	KeySandboxMarker:   models.ConfigurationTypeString,
	KeyAutoWorkflow:    models.ConfigurationTypeBoolean,
}

type configurationStore interface {
	ListByKeys(ctx context.Context, keys []string) ([]models.Configuration, error)
	Upsert(ctx context.Context, cfg *models.Configuration) error
}

// ConfigService resolves the runtime snapshot from persisted overrides over
// environment defaults and publishes it atomically. Reads always come from
// the runtime, never directly from the store.
type ConfigService struct {
	store   configurationStore
	base    config.Snapshot
	runtime *config.Runtime
	logger  *zap.Logger
}

// NewConfigService constructs the configuration service. base is the
// environment-derived snapshot used for every key without a stored override.
func NewConfigService(store configurationStore, base config.Snapshot, runtime *config.Runtime, logger *zap.Logger) *ConfigService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigService{store: store, base: base, runtime: runtime, logger: logger}
}

// Reload resolves stored overrides over the environment base and publishes
// the result. Invalid stored values are skipped with a warning so one bad
// row cannot poison the whole snapshot.
func (s *ConfigService) Reload(ctx context.Context) (config.Snapshot, error) {
	keys := make([]string, 0, len(tunableKeys))
	for k := range tunableKeys {
		keys = append(keys, k)
	}
	stored, err := s.store.ListByKeys(ctx, keys)
	if err != nil {
		return config.Snapshot{}, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load configuration overrides")
	}

	snap := s.base
	for _, row := range stored {
		if err := applyOverride(&snap, row.Key, row.Value); err != nil {
			s.logger.Warn("skipping invalid configuration override",
				zap.String("key", row.Key),
				zap.String("value", row.Value),
				zap.Error(err))
		}
	}

	s.runtime.Publish(snap)
	return snap, nil
}

// Set validates and persists one override, then republishes the snapshot.
func (s *ConfigService) Set(ctx context.Context, key, value, updatedBy string) (config.Snapshot, error) {
	valueType, ok := tunableKeys[key]
	if !ok {
		return config.Snapshot{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%q is not a tunable key", key))
	}
	if err := validateValue(valueType, value); err != nil {
		return config.Snapshot{}, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	row := &models.Configuration{
		Key:       key,
		Value:     value,
		Type:      valueType,
		UpdatedAt: time.Now().UTC(),
	}
	if updatedBy != "" {
		row.UpdatedBy = &updatedBy
	}
	if err := s.store.Upsert(ctx, row); err != nil {
		return config.Snapshot{}, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to persist configuration")
	}

	s.logger.Info("configuration updated",
		zap.String("key", key),
		zap.String("updated_by", updatedBy))
	return s.Reload(ctx)
}

// Current returns the published snapshot.
func (s *ConfigService) Current() config.Snapshot {
	return s.runtime.Current()
}

// TunableKeys returns the editable keys and their value types.
func (s *ConfigService) TunableKeys() map[string]models.ConfigurationType {
	out := make(map[string]models.ConfigurationType, len(tunableKeys))
	for k, v := range tunableKeys {
		out[k] = v
	}
	return out
}

func validateValue(t models.ConfigurationType, value string) error {
	switch t {
	case models.ConfigurationTypeInteger:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("value %q is not an integer", value)
		}
		if n < 0 {
			return fmt.Errorf("value must not be negative")
		}
	case models.ConfigurationTypeBoolean:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("value %q is not a boolean", value)
		}
	}
	return nil
}

func applyOverride(snap *config.Snapshot, key, value string) error {
	switch key {
	case KeyBatchSize, KeyOverFetchFactor, KeyIdentityRPM, KeyLearningRPM, KeyRosterRPM, KeyNotifierRPM:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid integer %q", value)
		}
		switch key {
		case KeyBatchSize:
			if n == 0 {
				return fmt.Errorf("batch size must be positive")
			}
			snap.BatchSize = n
		case KeyOverFetchFactor:
			if n == 0 {
				return fmt.Errorf("overfetch factor must be positive")
			}
			snap.OverFetchFactor = n
		case KeyIdentityRPM:
			snap.IdentityRPM = n
		case KeyLearningRPM:
			snap.LearningRPM = n
		case KeyRosterRPM:
			snap.RosterRPM = n
		case KeyNotifierRPM:
			snap.NotifierRPM = n
		}
	case KeyAccountPrefix:
		snap.AccountPrefix = value
	case KeyAccountDomain:
		if value == "" {
			return fmt.Errorf("account domain must not be empty")
		}
		snap.AccountDomain = value
	case KeySandboxMarker:
		snap.SandboxMarker = value
	case KeyAutoWorkflow:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", value)
		}
		snap.AutoWorkflow = b
	default:
		return fmt.Errorf("unknown key")
	}
	return nil
}
