package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rezonia/cpe-emitter/internal/observability"
	"github.com/rezonia/cpe-emitter/internal/transport"
)

// EnvPrefix prefixes every environment variable, e.g. CPE_DATABASE_DSN
const EnvPrefix = "CPE"

// Config holds the emitter configuration.
type Config struct {
	Env       string          `mapstructure:"env"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	SUNAT     SUNATConfig     `mapstructure:"sunat"`
	Signing   SigningConfig   `mapstructure:"signing"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	CDR       CDRConfig       `mapstructure:"cdr"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Debug        bool          `mapstructure:"debug"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// SUNATConfig configures the authority's SOAP services
type SUNATConfig struct {
	BillsEndpoint    string        `mapstructure:"bills_endpoint"`
	DespatchEndpoint string        `mapstructure:"despatch_endpoint"`
	SummaryEndpoint  string        `mapstructure:"summary_endpoint"`
	Timeout          time.Duration `mapstructure:"timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
}

type SigningConfig struct {
	CertCacheTTL time.Duration `mapstructure:"cert_cache_ttl"`
}

type LifecycleConfig struct {
	// AcceptUnparseableResponse treats an unreadable synchronous response as accepted
	AcceptUnparseableResponse bool `mapstructure:"accept_unparseable_response"`
}

// CDRConfig controls verification of the authority's response signatures
type CDRConfig struct {
	VerifySignature bool   `mapstructure:"verify_signature"`
	TrustRoots      string `mapstructure:"trust_roots"`
	SoftFail        bool   `mapstructure:"soft_fail"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Option configures Load
type Option func(*loader)

type loader struct {
	file    string
	envFile string
}

// WithFile reads the given configuration file instead of searching for cpe.yaml
func WithFile(path string) Option {
	return func(l *loader) {
		l.file = path
	}
}

// WithEnvFile loads environment variables from path instead of ./.env
func WithEnvFile(path string) Option {
	return func(l *loader) {
		l.envFile = path
	}
}

// New returns a viper instance with the defaults, search paths and env binding set.
// Commands bind their flags on it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigName("cpe")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/cpe-emitter")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every key so that environment variables reach Unmarshal
func SetDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.debug", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")

	v.SetDefault("storage.path", "./storage")

	v.SetDefault("sunat.bills_endpoint", transport.BetaBillsEndpoint)
	v.SetDefault("sunat.despatch_endpoint", transport.BetaDespatchEndpoint)
	v.SetDefault("sunat.summary_endpoint", "")
	v.SetDefault("sunat.timeout", 60*time.Second)
	v.SetDefault("sunat.user_agent", "cpe-emitter/1.0")

	v.SetDefault("signing.cert_cache_ttl", time.Hour)

	v.SetDefault("lifecycle.accept_unparseable_response", false)

	v.SetDefault("cdr.verify_signature", false)
	v.SetDefault("cdr.trust_roots", "")
	v.SetDefault("cdr.soft_fail", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads .env, the optional config file and the environment into a validated Config
func Load(v *viper.Viper, opts ...Option) (*Config, error) {
	l := &loader{envFile: ".env"}
	for _, opt := range opts {
		opt(l)
	}
	if v == nil {
		v = New()
	}

	if err := loadEnvFile(l.envFile); err != nil {
		return nil, err
	}

	if l.file != "" {
		v.SetConfigFile(l.file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.SUNAT.SummaryEndpoint == "" {
		c.SUNAT.SummaryEndpoint = c.SUNAT.BillsEndpoint
	}
}

// Validate checks the keys every command depends on
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn: required"))
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path: required"))
	}
	for key, endpoint := range map[string]string{
		"sunat.bills_endpoint":    c.SUNAT.BillsEndpoint,
		"sunat.despatch_endpoint": c.SUNAT.DespatchEndpoint,
		"sunat.summary_endpoint":  c.SUNAT.SummaryEndpoint,
	} {
		if err := validateEndpoint(endpoint); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	if c.SUNAT.Timeout <= 0 {
		errs = append(errs, errors.New("sunat.timeout: must be positive"))
	}
	if c.Signing.CertCacheTTL < 0 {
		errs = append(errs, errors.New("signing.cert_cache_ttl: must not be negative"))
	}
	if c.CDR.VerifySignature && strings.TrimSpace(c.CDR.TrustRoots) == "" {
		errs = append(errs, errors.New("cdr.trust_roots: required when cdr.verify_signature is set"))
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: unsupported format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func validateEndpoint(raw string) error {
	if raw == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%q is not an http(s) url", raw)
	}
	return nil
}

// Transport returns the SOAP client settings
func (c *Config) Transport() *transport.Config {
	return &transport.Config{
		BillsEndpoint:    c.SUNAT.BillsEndpoint,
		DespatchEndpoint: c.SUNAT.DespatchEndpoint,
		SummaryEndpoint:  c.SUNAT.SummaryEndpoint,
		Timeout:          c.SUNAT.Timeout,
		UserAgent:        c.SUNAT.UserAgent,
	}
}

// Logger returns the zap logger settings for version
func (c *Config) Logger(version string) observability.LogConfig {
	return observability.LogConfig{
		Environment: c.Env,
		Version:     version,
		Level:       c.Log.Level,
		Format:      c.Log.Format,
	}
}

// Metrics returns the prometheus const label settings
func (c *Config) Metrics() observability.MetricsConfig {
	return observability.MetricsConfig{Environment: c.Env}
}
