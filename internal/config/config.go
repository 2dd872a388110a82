// Package config loads and validates scraper settings via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// DSNScheme is the scheme used when the connection string is derived.
const DSNScheme = "postgresql"

// Database driver names accepted by database.driver. lib/pq defaults to
// sslmode=require, so a derived DSN against a server without SSL needs
// DATABASE_DSN with sslmode=disable when DriverPQ is selected.
const (
	DriverPGX = "pgx"
	DriverPQ  = "postgres"
)

// Archive backends accepted by archive.backend.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// coreEnv maps the settings read from unprefixed environment variables.
// Each key is bound under both the upper- and lowercase variable name.
var coreEnv = map[string]string{
	"url":               "URL",
	"database.host":     "DATABASE_HOST",
	"database.user":     "DATABASE_USER",
	"database.password": "DATABASE_PASSWORD",
	"database.name":     "DATABASE_NAME",
	"database.port":     "DATABASE_PORT",
	"database.dsn":      "DATABASE_DSN",
}

// Settings captures every knob of a scraper invocation. It is built once per
// process and treated as read-only afterwards.
type Settings struct {
	URL       string          `mapstructure:"url"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Job       JobConfig       `mapstructure:"job"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// DatabaseConfig describes the database the liveness check targets.
type DatabaseConfig struct {
	Host         string        `mapstructure:"host"`
	User         string        `mapstructure:"user"`
	Password     Secret        `mapstructure:"password"`
	Name         string        `mapstructure:"name"`
	Port         int           `mapstructure:"port"`
	DSN          Secret        `mapstructure:"dsn"`
	Driver       string        `mapstructure:"driver"`
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
}

// FetchConfig configures the headless browser.
type FetchConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	ViewportWidth  int           `mapstructure:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height"`
	NoSandbox      bool          `mapstructure:"no_sandbox"`
	DisableDevShm  bool          `mapstructure:"disable_dev_shm"`
	ExecPath       string        `mapstructure:"exec_path"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// JobConfig tunes the job entry point.
type JobConfig struct {
	ExcerptLength       int  `mapstructure:"excerpt_length"`
	FailOnDatabaseError bool `mapstructure:"fail_on_database_error"`
}

// ArchiveConfig selects where rendered snapshots are kept.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
	BaseDir string `mapstructure:"base_dir"`
}

// NotifyConfig holds the Pub/Sub topic run reports are published to.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig controls metric export for one-shot runs.
type MetricsConfig struct {
	PushGatewayURL string `mapstructure:"push_gateway_url"`
}

// ServerConfig controls the long-running serve mode.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig names the service in traces.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// Load builds Settings from defaults, optional env files, the environment and
// an optional YAML file at path. Missing env files are ignored.
func Load(path string, envFiles ...string) (Settings, error) {
	for _, file := range envFiles {
		if file == "" {
			continue
		}
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, newConfigurationError("env_file", fmt.Errorf("load %s: %w", file, err))
		}
	}

	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range coreEnv {
		if err := v.BindEnv(key, name, strings.ToLower(name)); err != nil {
			return Settings{}, newConfigurationError(key, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, newConfigurationError("config_file", fmt.Errorf("read config: %w", err))
		}
	}

	port, err := parsePort(v.GetString("database.port"))
	if err != nil {
		return Settings{}, newConfigurationError("database.port", err)
	}
	v.Set("database.port", port)

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, newConfigurationError("settings", fmt.Errorf("unmarshal config: %w", err))
	}
	if s.Database.DSN == "" {
		s.Database.DSN = Secret(BuildDSN(
			s.Database.User,
			s.Database.Password.Reveal(),
			s.Database.Host,
			s.Database.Port,
			s.Database.Name,
		))
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("url", "https://www.google.com/")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "S3cret")
	v.SetDefault("database.name", "postgres")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.driver", DriverPGX)
	v.SetDefault("database.check_timeout", 10*time.Second)
	v.SetDefault("fetch.timeout", 600*time.Second)
	v.SetDefault("fetch.viewport_width", 1920)
	v.SetDefault("fetch.viewport_height", 1080)
	v.SetDefault("fetch.no_sandbox", true)
	v.SetDefault("fetch.disable_dev_shm", true)
	v.SetDefault("fetch.exec_path", "")
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("job.excerpt_length", 60)
	v.SetDefault("job.fail_on_database_error", false)
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("metrics.push_gateway_url", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.service_name", "scheduled-scraper")
}

// BuildDSN renders the connection string from its discrete parts. The grammar is
// fixed and nothing is escaped, so identical inputs always yield identical bytes.
func BuildDSN(user, password, host string, port int, name string) string {
	return fmt.Sprintf("%s://%s:%s@%s:%d/%s", DSNScheme, user, password, host, port, name)
}

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("port %q is not numeric", raw)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

// Validate enforces structural constraints on supplied values.
func (s Settings) Validate() error {
	if err := validateURL(s.URL); err != nil {
		return newConfigurationError("url", err)
	}
	switch s.Database.Driver {
	case DriverPGX, DriverPQ:
	default:
		return newConfigurationError("database.driver", fmt.Errorf("unknown driver %q", s.Database.Driver))
	}
	if s.Database.CheckTimeout <= 0 {
		return newConfigurationError("database.check_timeout", errors.New("must be > 0"))
	}
	if s.Fetch.Timeout <= 0 {
		return newConfigurationError("fetch.timeout", errors.New("must be > 0"))
	}
	if s.Fetch.ViewportWidth <= 0 || s.Fetch.ViewportHeight <= 0 {
		return newConfigurationError("fetch.viewport", errors.New("width and height must be > 0"))
	}
	if s.Job.ExcerptLength < 0 {
		return newConfigurationError("job.excerpt_length", errors.New("must be >= 0"))
	}
	switch s.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if strings.TrimSpace(s.Archive.BaseDir) == "" {
			return newConfigurationError("archive.base_dir", errors.New("required for local backend"))
		}
	case ArchiveGCS:
		if strings.TrimSpace(s.Archive.Bucket) == "" {
			return newConfigurationError("archive.bucket", errors.New("required for gcs backend"))
		}
	default:
		return newConfigurationError("archive.backend", fmt.Errorf("unknown backend %q", s.Archive.Backend))
	}
	if (s.Notify.ProjectID == "") != (s.Notify.Topic == "") {
		return newConfigurationError("notify", errors.New("project_id and topic must be set together"))
	}
	if lvl := strings.TrimSpace(s.Logging.Level); lvl != "" {
		if _, err := zapcore.ParseLevel(strings.ToLower(lvl)); err != nil {
			return newConfigurationError("logging.level", err)
		}
	}
	if s.Server.Port <= 0 || s.Server.Port > 65535 {
		return newConfigurationError("server.port", fmt.Errorf("port %d out of range", s.Server.Port))
	}
	return nil
}

func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("url %q has no scheme", raw)
	}
	return nil
}
