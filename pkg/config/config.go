package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Provisioning ProvisioningConfig
	Ingestion    IngestionConfig
	Roster       ClientConfig
	Identity     ClientConfig
	Learning     ClientConfig
	Notifier     ClientConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ProvisioningConfig tunes the task scheduler and derived account naming.
// The runtime-tunable subset is mirrored in Snapshot and may be overridden
// from the configuration store.
type ProvisioningConfig struct {
	BatchSize       int
	OverFetchFactor int
	TickInterval    time.Duration
	LockTTL         time.Duration
	IdentityRPM     int
	LearningRPM     int
	RosterRPM       int
	NotifierRPM     int
	AccountPrefix   string
	AccountDomain   string
	SandboxMarker   string
	AutoWorkflow    bool
}

// CategoryWindowConfig bounds the ingestion window for one roster category.
// A zero End means open-ended.
type CategoryWindowConfig struct {
	Enabled bool
	Start   time.Time
	End     time.Time
	Notify  bool
}

// IngestionConfig holds per-category ingestion windows.
type IngestionConfig struct {
	Candidate CategoryWindowConfig
	Applicant CategoryWindowConfig
	Admitted  CategoryWindowConfig
}

// ClientConfig describes one external service endpoint.
type ClientConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Provisioning = ProvisioningConfig{
		BatchSize:       v.GetInt("PROVISION_BATCH_SIZE"),
		OverFetchFactor: v.GetInt("PROVISION_OVERFETCH_FACTOR"),
		TickInterval:    parseDuration(v.GetString("PROVISION_TICK_INTERVAL"), 5*time.Minute),
		LockTTL:         parseDuration(v.GetString("PROVISION_LOCK_TTL"), 4*time.Minute),
		IdentityRPM:     v.GetInt("IDENTITY_REQUESTS_PER_MINUTE"),
		LearningRPM:     v.GetInt("LEARNING_REQUESTS_PER_MINUTE"),
		RosterRPM:       v.GetInt("ROSTER_REQUESTS_PER_MINUTE"),
		NotifierRPM:     v.GetInt("NOTIFIER_REQUESTS_PER_MINUTE"),
		AccountPrefix:   v.GetString("ACCOUNT_PREFIX"),
		AccountDomain:   v.GetString("ACCOUNT_DOMAIN"),
		SandboxMarker:   v.GetString("SANDBOX_MARKER"),
		AutoWorkflow:    v.GetBool("AUTO_WORKFLOW_ON_INGEST"),
	}

	cfg.Ingestion = IngestionConfig{
		Candidate: loadWindow(v, "CANDIDATE"),
		Applicant: loadWindow(v, "APPLICANT"),
		Admitted:  loadWindow(v, "ADMITTED"),
	}

	cfg.Roster = loadClient(v, "ROSTER")
	cfg.Identity = loadClient(v, "IDENTITY")
	cfg.Learning = loadClient(v, "LEARNING")
	cfg.Notifier = loadClient(v, "NOTIFIER")

	return cfg, nil
}

// Window returns the ingestion window configured for a category key
// (candidate, applicant, admitted).
func (c IngestionConfig) Window(category string) CategoryWindowConfig {
	switch strings.ToLower(category) {
	case "applicant":
		return c.Applicant
	case "admitted":
		return c.Admitted
	default:
		return c.Candidate
	}
}

func loadWindow(v *viper.Viper, prefix string) CategoryWindowConfig {
	return CategoryWindowConfig{
		Enabled: v.GetBool("INGEST_" + prefix + "_ENABLED"),
		Start:   parseTime(v.GetString("INGEST_" + prefix + "_START")),
		End:     parseTime(v.GetString("INGEST_" + prefix + "_END")),
		Notify:  v.GetBool("INGEST_" + prefix + "_NOTIFY"),
	}
}

func loadClient(v *viper.Viper, prefix string) ClientConfig {
	return ClientConfig{
		BaseURL:      v.GetString(prefix + "_BASE_URL"),
		TokenURL:     v.GetString(prefix + "_TOKEN_URL"),
		ClientID:     v.GetString(prefix + "_CLIENT_ID"),
		ClientSecret: v.GetString(prefix + "_CLIENT_SECRET"),
		Timeout:      parseDuration(v.GetString(prefix+"_TIMEOUT"), 15*time.Second),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "uni_onboarding")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("PROVISION_BATCH_SIZE", 50)
	v.SetDefault("PROVISION_OVERFETCH_FACTOR", 2)
	v.SetDefault("PROVISION_TICK_INTERVAL", "5m")
	v.SetDefault("PROVISION_LOCK_TTL", "4m")
	v.SetDefault("IDENTITY_REQUESTS_PER_MINUTE", 30)
	v.SetDefault("LEARNING_REQUESTS_PER_MINUTE", 60)
	v.SetDefault("ROSTER_REQUESTS_PER_MINUTE", 20)
	v.SetDefault("NOTIFIER_REQUESTS_PER_MINUTE", 0)
	v.SetDefault("ACCOUNT_PREFIX", "u")
	v.SetDefault("ACCOUNT_DOMAIN", "example.edu")
	v.SetDefault("SANDBOX_MARKER", "sbx")
	v.SetDefault("AUTO_WORKFLOW_ON_INGEST", false)

	for _, prefix := range []string{"CANDIDATE", "APPLICANT", "ADMITTED"} {
		v.SetDefault("INGEST_"+prefix+"_ENABLED", false)
		v.SetDefault("INGEST_"+prefix+"_START", "")
		v.SetDefault("INGEST_"+prefix+"_END", "")
		v.SetDefault("INGEST_"+prefix+"_NOTIFY", false)
	}

	for _, prefix := range []string{"ROSTER", "IDENTITY", "LEARNING", "NOTIFIER"} {
		v.SetDefault(prefix+"_BASE_URL", "")
		v.SetDefault(prefix+"_TOKEN_URL", "")
		v.SetDefault(prefix+"_CLIENT_ID", "")
		v.SetDefault(prefix+"_CLIENT_SECRET", "")
		v.SetDefault(prefix+"_TIMEOUT", "15s")
	}
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
