package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Provider  ProviderConfig
	Channel   ChannelConfig
	Scheduler SchedulerConfig
}

type AppConfig struct {
	Env  string
	Port int
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
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// ProviderConfig selects and configures the text-generation backend.
// Tag selects the adapter; keys for unselected backends may stay empty.
type ProviderConfig struct {
	Tag string // gemini | openai

	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	RequestTimeout time.Duration
}

// ChannelConfig configures the outbound message relay.
type ChannelConfig struct {
	RelayBaseURL string
	RelayToken   string
	SendTimeout  time.Duration
}

// SchedulerConfig holds the background cadences. These are deployment
// tuning knobs, not business rules.
type SchedulerConfig struct {
	DeliveryTick  time.Duration // due-instance processing
	LifecycleTick time.Duration // opportunity sweep / stage updates
	WorkerCap     int           // max concurrent external calls per sweep

	// Workspaces lists "workspace_id:owner_id" pairs the scheduler sweeps.
	// Empty disables background sweeps; API-triggered runs still work.
	Workspaces []string
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

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Provider.Tag = strings.TrimSpace(os.Getenv("PROVIDER_TAG"))
	c.Provider.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	c.Provider.GeminiBaseURL = strings.TrimSpace(os.Getenv("GEMINI_BASE_URL"))
	c.Provider.GeminiModel = strings.TrimSpace(os.Getenv("GEMINI_MODEL"))
	c.Provider.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	c.Provider.OpenAIBaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	c.Provider.OpenAIModel = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	c.Provider.RequestTimeout = mustDuration("PROVIDER_TIMEOUT")

	c.Channel.RelayBaseURL = strings.TrimSpace(os.Getenv("CHANNEL_RELAY_URL"))
	c.Channel.RelayToken = os.Getenv("CHANNEL_RELAY_TOKEN")
	c.Channel.SendTimeout = mustDuration("CHANNEL_SEND_TIMEOUT")

	if v := strings.TrimSpace(os.Getenv("SCHEDULER_WORKSPACES")); v != "" {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				c.Scheduler.Workspaces = append(c.Scheduler.Workspaces, part)
			}
		}
	}
	c.Scheduler.DeliveryTick = mustDuration("SCHEDULER_DELIVERY_TICK")
	c.Scheduler.LifecycleTick = mustDuration("SCHEDULER_LIFECYCLE_TICK")
	{
		v := strings.TrimSpace(os.Getenv("SCHEDULER_WORKER_CAP"))
		if v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				parseErrs = append(parseErrs, fmt.Errorf("SCHEDULER_WORKER_CAP must be an integer, got %q", v))
			}
			c.Scheduler.WorkerCap = n
		}
	}

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

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		// Default: longer-lived refresh tokens.
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	switch c.Provider.Tag {
	case "":
		errs = append(errs, errors.New("PROVIDER_TAG is required"))
	case "gemini":
		if c.Provider.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required when PROVIDER_TAG=gemini"))
		}
	case "openai":
		if c.Provider.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required when PROVIDER_TAG=openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("PROVIDER_TAG must be one of gemini, openai, got %q", c.Provider.Tag))
	}
	if c.Provider.RequestTimeout <= 0 {
		c.Provider.RequestTimeout = 30 * time.Second
	}

	if c.Channel.RelayBaseURL == "" {
		errs = append(errs, errors.New("CHANNEL_RELAY_URL is required"))
	}
	if c.IsProduction() && c.Channel.RelayToken == "" {
		errs = append(errs, errors.New("CHANNEL_RELAY_TOKEN is required in production"))
	}
	if c.Channel.SendTimeout <= 0 {
		c.Channel.SendTimeout = 10 * time.Second
	}

	// Cadences: delivery processing every 5 minutes, lifecycle sweep daily.
	if c.Scheduler.DeliveryTick <= 0 {
		c.Scheduler.DeliveryTick = 5 * time.Minute
	}
	if c.Scheduler.LifecycleTick <= 0 {
		c.Scheduler.LifecycleTick = 24 * time.Hour
	}
	if c.Scheduler.WorkerCap <= 0 {
		c.Scheduler.WorkerCap = 8
	}
	for _, w := range c.Scheduler.Workspaces {
		if !strings.Contains(w, ":") {
			errs = append(errs, fmt.Errorf("SCHEDULER_WORKSPACES entries must be workspace_id:owner_id, got %q", w))
		}
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

func mustDuration(key string) time.Duration {
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
