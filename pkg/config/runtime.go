package config

import "sync/atomic"

// Snapshot is the runtime-tunable subset of the provisioning configuration.
// It is resolved store -> environment -> built-in default and published
// atomically so a scheduler tick never observes a half-applied reload.
type Snapshot struct {
	BatchSize       int
	OverFetchFactor int
	IdentityRPM     int
	LearningRPM     int
	RosterRPM       int
	NotifierRPM     int
	AccountPrefix   string
	AccountDomain   string
	SandboxMarker   string
	AutoWorkflow    bool
}

// RPMFor returns the configured requests-per-minute for a service category
// key (identity, learning, roster, notifier). Zero or negative means
// unlimited.
func (s Snapshot) RPMFor(category string) int {
	switch category {
	case "identity":
		return s.IdentityRPM
	case "learning":
		return s.LearningRPM
	case "roster":
		return s.RosterRPM
	case "notifier":
		return s.NotifierRPM
	}
	return 0
}

// Runtime holds the current Snapshot behind an atomic pointer. Readers call
// Current on every use; writers build a full replacement and Publish it.
type Runtime struct {
	current atomic.Pointer[Snapshot]
}

// NewRuntime seeds the runtime view from the loaded environment config.
func NewRuntime(cfg *Config) *Runtime {
	r := &Runtime{}
	snap := SnapshotFrom(cfg)
	r.current.Store(&snap)
	return r
}

// SnapshotFrom derives the tunable subset from a loaded Config.
func SnapshotFrom(cfg *Config) Snapshot {
	return Snapshot{
		BatchSize:       cfg.Provisioning.BatchSize,
		OverFetchFactor: cfg.Provisioning.OverFetchFactor,
		IdentityRPM:     cfg.Provisioning.IdentityRPM,
		LearningRPM:     cfg.Provisioning.LearningRPM,
		RosterRPM:       cfg.Provisioning.RosterRPM,
		NotifierRPM:     cfg.Provisioning.NotifierRPM,
		AccountPrefix:   cfg.Provisioning.AccountPrefix,
		AccountDomain:   cfg.Provisioning.AccountDomain,
		SandboxMarker:   cfg.Provisioning.SandboxMarker,
		AutoWorkflow:    cfg.Provisioning.AutoWorkflow,
	}
}

// Current returns the active snapshot.
func (r *Runtime) Current() Snapshot {
	return *r.current.Load()
}

// Publish atomically replaces the active snapshot.
func (r *Runtime) Publish(snap Snapshot) {
	r.current.Store(&snap)
}
