package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the whole service configuration. Keys are the mapstructure
// tags joined with dots, e.g. plans.monthly.quota.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
	Plans     PlansConfig     `mapstructure:"plans"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Identity  IdentityConfig  `mapstructure:"identity"`

	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout, stderr or a file path
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Port string `mapstructure:"port"`
	// BaseURL is the public dashboard URL, used as the billing portal return target
	BaseURL string `mapstructure:"base_url"`
}

// DatabaseConfig holds the postgres connection and pool settings
type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	// lifetimes are in minutes
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime int `mapstructure:"conn_max_idle_time"`
}

// RedisConfig holds Redis connection settings.
// An empty Host disables Redis and the in-memory stores are used instead.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig holds session token settings
type JWTConfig struct {
	Secret          string        `mapstructure:"secret"`
	SessionDuration time.Duration `mapstructure:"session_duration"`
	Issuer          string        `mapstructure:"issuer"`
}

type HTTPConfig struct {
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes"`
	MaxBodySize       int64         `mapstructure:"max_body_size"`
	RateLimitEnabled  bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`

	// the auth limit applies per client address to signup and login
	AuthRateLimitEnabled  bool          `mapstructure:"auth_rate_limit_enabled"`
	AuthRateLimitRequests int           `mapstructure:"auth_rate_limit_requests"`
	AuthRateLimitWindow   time.Duration `mapstructure:"auth_rate_limit_window"`

	// An empty origin list allows no cross-origin requests.
	CORSAllowOrigins []string `mapstructure:"cors_allow_origins"`
	CORSAllowMethods []string `mapstructure:"cors_allow_methods"`
	CORSAllowHeaders []string `mapstructure:"cors_allow_headers"`
	TrustedProxies   []string `mapstructure:"trusted_proxies"`
}

type TelemetryConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"` // OTLP gRPC, host:port
	SamplingRatio     float64 `mapstructure:"sampling_ratio"`
	ServiceName       string  `mapstructure:"service_name"`
	// Insecure dials the collector without TLS
	Insecure          bool          `mapstructure:"insecure"`
	DBTraceEnabled    bool          `mapstructure:"db_trace_enabled"`
	DBLogFullSQL      bool          `mapstructure:"db_log_full_sql"`
	DBSlowQueryThresh time.Duration `mapstructure:"db_slow_query_threshold"`
}

// StripeConfig holds payment processor credentials.
// An empty SecretKey leaves the gateway unconfigured; every call then fails with
// GATEWAY_UNCONFIGURED instead of the process refusing to start.
type StripeConfig struct {
	SecretKey      string `mapstructure:"secret_key"`
	PublishableKey string `mapstructure:"publishable_key"`
	IsTestMode     bool   `mapstructure:"is_test_mode"`
	Currency       string `mapstructure:"currency"`
	// APIURL overrides the processor endpoint, for local mocks
	APIURL string `mapstructure:"api_url"`
	// MaxNetworkRetries stays at zero unless callers send idempotency keys
	MaxNetworkRetries int64 `mapstructure:"max_network_retries"`
}

// PlanConfig is one purchasable plan
type PlanConfig struct {
	PriceRef   string `mapstructure:"price_ref"`
	PriceMinor int64  `mapstructure:"price_minor"`
	Quota      int64  `mapstructure:"quota"`
}

type PlansConfig struct {
	Monthly PlanConfig `mapstructure:"monthly"`
	Annual  PlanConfig `mapstructure:"annual"`
}

// TimeoutsConfig bounds each remote call made during a request
type TimeoutsConfig struct {
	Identity  time.Duration `mapstructure:"identity"`
	Billing   time.Duration `mapstructure:"billing"`
	Datastore time.Duration `mapstructure:"datastore"`
}

// WebhookConfig holds processor notification settings
type WebhookConfig struct {
	Secret string `mapstructure:"secret"`
	// DedupeTTL is how long a processed event id stays in the idempotency store
	DedupeTTL   time.Duration `mapstructure:"dedupe_ttl"`
	MaxBodySize int64         `mapstructure:"max_body_size"`
}

// IdentityConfig holds credential store settings
type IdentityConfig struct {
	BcryptCost       int           `mapstructure:"bcrypt_cost"`
	MaxLoginAttempts int           `mapstructure:"max_login_attempts"`
	LockDuration     time.Duration `mapstructure:"lock_duration"`
}

// ReconciliationConfig controls the background repair of incomplete signups.
// The job is opt-in; operators can always run billingctl by hand.
type ReconciliationConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// defaults registers every key. Viper only consults the environment for
// keys it knows about, so keys without a meaningful default are listed
// with their zero value.
var defaults = map[string]any{
	"app.name":     "meterly-backend",
	"app.env":      "development",
	"app.port":     "8080",
	"app.base_url": "http://localhost:3000",

	"database.host":               "localhost",
	"database.port":               5432,
	"database.user":               "postgres",
	"database.password":           "",
	"database.dbname":             "meterly",
	"database.sslmode":            "disable",
	"database.max_open_conns":     25,
	"database.max_idle_conns":     5,
	"database.conn_max_lifetime":  60,
	"database.conn_max_idle_time": 30,

	"redis.host":     "",
	"redis.port":     6379,
	"redis.password": "",
	"redis.db":       0,

	"jwt.secret":           "",
	"jwt.session_duration": 24 * time.Hour,
	"jwt.issuer":           "meterly-backend",

	"log.level":  "info",
	"log.format": "console",
	"log.output": "stdout",

	"http.read_timeout":             15 * time.Second,
	"http.write_timeout":            30 * time.Second,
	"http.idle_timeout":             60 * time.Second,
	"http.shutdown_timeout":         15 * time.Second,
	"http.max_header_bytes":         1 << 20,
	"http.max_body_size":            1 << 20,
	"http.rate_limit_enabled":       false,
	"http.rate_limit_requests":      100,
	"http.rate_limit_window":        time.Minute,
	"http.auth_rate_limit_enabled":  false,
	"http.auth_rate_limit_requests": 5,
	"http.auth_rate_limit_window":   time.Minute,
	"http.cors_allow_origins":       []string{},
	"http.cors_allow_methods":       []string{"GET", "POST", "PUT", "OPTIONS"},
	"http.cors_allow_headers":       []string{"Content-Type", "Authorization", "X-Request-ID"},
	"http.trusted_proxies":          []string{},

	"telemetry.enabled":                 false,
	"telemetry.collector_endpoint":      "localhost:4317",
	"telemetry.sampling_ratio":          1.0,
	"telemetry.service_name":            "meterly-backend",
	"telemetry.insecure":                false,
	"telemetry.db_trace_enabled":        false,
	"telemetry.db_log_full_sql":         false,
	"telemetry.db_slow_query_threshold": 200 * time.Millisecond,

	"stripe.secret_key":          "",
	"stripe.publishable_key":     "",
	"stripe.is_test_mode":        false,
	"stripe.currency":            "usd",
	"stripe.api_url":             "",
	"stripe.max_network_retries": 0,

	"plans.monthly.price_ref":   "price_monthly",
	"plans.monthly.price_minor": 2900,
	"plans.monthly.quota":       50,
	"plans.annual.price_ref":    "price_annual",
	"plans.annual.price_minor":  29000,
	"plans.annual.quota":        50,

	"timeouts.identity":  5 * time.Second,
	"timeouts.billing":   10 * time.Second,
	"timeouts.datastore": 5 * time.Second,

	"webhook.secret":        "",
	"webhook.dedupe_ttl":    72 * time.Hour,
	"webhook.max_body_size": 64 << 10,

	"identity.bcrypt_cost":        12,
	"identity.max_login_attempts": 5,
	"identity.lock_duration":      15 * time.Minute,

	"reconciliation.enabled":    false,
	"reconciliation.interval":   15 * time.Minute,
	"reconciliation.batch_size": 50,
	"reconciliation.timeout":    2 * time.Minute,
}

// Load reads configuration. Later sources win:
//  1. built-in defaults
//  2. config.toml in the working directory or /app
//  3. METERLY_ environment variables, e.g. METERLY_STRIPE_SECRET_KEY
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	if err := v.ReadInConfig(); err != nil {
		var missing viper.ConfigFileNotFoundError
		if !errors.As(err, &missing) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("METERLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Without a key the gateway is unconfigured, so test mode is the safe reading.
	if cfg.Stripe.SecretKey == "" || strings.HasPrefix(cfg.Stripe.SecretKey, "sk_test") {
		cfg.Stripe.IsTestMode = true
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return errors.New("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return errors.New("database.max_idle_conns must not be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns %d cannot exceed max_open_conns %d",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	for name, p := range map[string]PlanConfig{"monthly": c.Plans.Monthly, "annual": c.Plans.Annual} {
		if p.PriceMinor <= 0 {
			return fmt.Errorf("plans.%s.price_minor must be positive", name)
		}
		if p.Quota <= 0 {
			return fmt.Errorf("plans.%s.quota must be positive", name)
		}
	}

	if c.Stripe.SecretKey != "" {
		if c.Stripe.IsTestMode && !strings.HasPrefix(c.Stripe.SecretKey, "sk_test") {
			return errors.New("stripe.secret_key is not a test key but stripe.is_test_mode is set")
		}
		if !c.Stripe.IsTestMode && !strings.HasPrefix(c.Stripe.SecretKey, "sk_live") {
			return errors.New("stripe.secret_key is not a live key but stripe.is_test_mode is off")
		}
	}

	if c.Stripe.MaxNetworkRetries < 0 {
		return errors.New("stripe.max_network_retries must not be negative")
	}

	if c.Identity.BcryptCost < 4 || c.Identity.BcryptCost > 31 {
		return fmt.Errorf("identity.bcrypt_cost must be between 4 and 31")
	}

	if c.App.Env == "production" {
		if err := c.validateProduction(); err != nil {
			return fmt.Errorf("production: %w", err)
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio %g is outside [0, 1]", c.Telemetry.SamplingRatio)
	}

	return nil
}

func (c *Config) validateProduction() error {
	switch {
	case len(c.JWT.Secret) < 32:
		return errors.New("jwt.secret must be at least 32 characters")
	case c.Database.Password == "":
		return errors.New("database.password is required")
	case c.Database.SSLMode == "disable":
		return errors.New("database.sslmode must not be disable")
	case c.Webhook.Secret == "":
		return errors.New("webhook.secret is required")
	case slices.Contains(c.HTTP.CORSAllowOrigins, "*"):
		return errors.New("http.cors_allow_origins must list origins, not *")
	case c.Telemetry.DBLogFullSQL:
		return errors.New("telemetry.db_log_full_sql exposes bound values in traces")
	}
	return nil
}

// DSN returns a postgres:// URL with credentials escaped
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Enabled reports whether a Redis server is configured
func (r *RedisConfig) Enabled() bool {
	return r.Host != ""
}

// Addr returns host:port for the Redis client
func (r *RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}
