package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the gateway process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Provider ProviderConfig
	Model    ModelConfig
	Retain   RetentionConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicURL is the externally reachable base URL; it seeds the
	// websocket stream URL handed to the voice provider.
	PublicURL string

	// EmailDomain is the domain appended to generated agent mailboxes.
	EmailDomain string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	// OperatorToken is the single global operator credential.
	// Tenant-admin and agent credentials live in the credentials table.
	OperatorToken string

	// Disabled turns off bearer auth for local development only.
	Disabled bool

	LockoutThreshold int
	LockoutWindow    time.Duration
}

type ProviderConfig struct {
	// WebhookSecret signs inbound webhook payloads (HMAC-SHA256).
	WebhookSecret string

	// ReplayWindow bounds how stale a signed webhook timestamp may be.
	ReplayWindow time.Duration

	// CallTimeout bounds every outbound provider call.
	CallTimeout time.Duration
}

type ModelConfig struct {
	// BaseURL and APIKey configure the completion endpoint.
	// An empty APIKey means no model is configured; the voice relay then
	// falls back to a fixed unavailable utterance.
	BaseURL string
	APIKey  string
	Model   string
}

type RetentionConfig struct {
	// DeadLetterDays bounds how long dead letters are kept before the
	// purge job removes them.
	DeadLetterDays int

	// PurgeSpec is a cron expression for the purge schedule.
	PurgeSpec string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicURL = strings.TrimSpace(os.Getenv("PUBLIC_URL"))
	c.App.EmailDomain = strings.TrimSpace(os.Getenv("AGENT_EMAIL_DOMAIN"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.OperatorToken = os.Getenv("OPERATOR_TOKEN")
	c.Auth.Disabled = boolEnv("AUTH_DISABLED")
	c.Auth.LockoutThreshold = optInt("AUTH_LOCKOUT_THRESHOLD")
	c.Auth.LockoutWindow = optDuration("AUTH_LOCKOUT_WINDOW")

	c.Provider.WebhookSecret = os.Getenv("PROVIDER_WEBHOOK_SECRET")
	c.Provider.ReplayWindow = optDuration("PROVIDER_REPLAY_WINDOW")
	c.Provider.CallTimeout = optDuration("PROVIDER_CALL_TIMEOUT")

	c.Model.BaseURL = strings.TrimSpace(os.Getenv("MODEL_BASE_URL"))
	c.Model.APIKey = os.Getenv("MODEL_API_KEY")
	c.Model.Model = strings.TrimSpace(os.Getenv("MODEL_NAME"))

	c.Retain.DeadLetterDays = optInt("DEADLETTER_RETENTION_DAYS")
	c.Retain.PurgeSpec = strings.TrimSpace(os.Getenv("DEADLETTER_PURGE_SPEC"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicURL == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("PUBLIC_URL is required in production"))
		} else {
			c.App.PublicURL = fmt.Sprintf("http://localhost:%d", c.App.Port)
		}
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.Disabled && c.IsProduction() {
		errs = append(errs, errors.New("AUTH_DISABLED is not allowed in production"))
	}
	if !c.Auth.Disabled && c.Auth.OperatorToken == "" {
		errs = append(errs, errors.New("OPERATOR_TOKEN is required unless AUTH_DISABLED"))
	}
	if c.Auth.LockoutThreshold <= 0 {
		c.Auth.LockoutThreshold = 10
	}
	if c.Auth.LockoutWindow <= 0 {
		c.Auth.LockoutWindow = 15 * time.Minute
	}

	if c.Provider.WebhookSecret == "" && c.IsProduction() {
		errs = append(errs, errors.New("PROVIDER_WEBHOOK_SECRET is required in production"))
	}
	if c.Provider.ReplayWindow <= 0 {
		c.Provider.ReplayWindow = 5 * time.Minute
	}
	if c.Provider.CallTimeout <= 0 {
		c.Provider.CallTimeout = 30 * time.Second
	}

	if c.Model.APIKey != "" && c.Model.Model == "" {
		errs = append(errs, errors.New("MODEL_NAME is required when MODEL_API_KEY is set"))
	}

	if c.Retain.DeadLetterDays <= 0 {
		c.Retain.DeadLetterDays = 30
	}
	if c.Retain.PurgeSpec == "" {
		// Nightly, off-peak.
		c.Retain.PurgeSpec = "0 3 * * *"
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func boolEnv(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	return v == "1" || strings.EqualFold(v, "true")
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
