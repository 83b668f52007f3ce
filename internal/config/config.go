// Package config loads, validates and saves the stridescan configuration.
package config

import (
	stderrors "errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/stridescan/internal/db"
	"github.com/anstrom/stridescan/internal/errors"
	"github.com/anstrom/stridescan/internal/logging"
	"github.com/anstrom/stridescan/internal/scanning"
)

const (
	defaultAPIPort        = 8080
	defaultMaxConcurrency = 2
	defaultQueueSize      = 32
	defaultRecentScans    = 100
)

// Config represents the complete application configuration
type Config struct {
	// Scanning configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// Database configuration; the store is disabled while database is empty
	Database db.Config `yaml:"database" json:"database"`

	// Recurring scans
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`

	// Prometheus metrics
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// ScanningConfig holds scanning-related settings
type ScanningConfig struct {
	// Number of probe workers per scan
	Workers int `yaml:"workers" json:"workers" validate:"min=1,max=65535"`

	// Dial network: tcp, tcp4 or tcp6
	Network string `yaml:"network" json:"network" validate:"oneof=tcp tcp4 tcp6"`

	// Scans that may run at the same time in serve mode
	MaxConcurrentScans int `yaml:"max_concurrent_scans" json:"max_concurrent_scans" validate:"min=1"`

	// Pending scans buffered before submissions are rejected
	QueueSize int `yaml:"queue_size" json:"queue_size" validate:"min=1"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`
}

// APIConfig holds API server settings
type APIConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Host            string        `yaml:"host" json:"host" validate:"required_if=Enabled true"`
	Port            int           `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"min=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"min=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout" validate:"min=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"min=0"`

	// Finished scans kept in memory for GET /api/v1/scans
	RecentScans int `yaml:"recent_scans" json:"recent_scans" validate:"min=1"`

	CORS CORSConfig `yaml:"cors" json:"cors"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
}

// ScheduleConfig holds recurring scan jobs
type ScheduleConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Jobs    []ScheduleJob `yaml:"jobs" json:"jobs" validate:"dive"`
}

// ScheduleJob is one recurring scan.
type ScheduleJob struct {
	Name    string `yaml:"name" json:"name" validate:"required"`
	Cron    string `yaml:"cron" json:"cron" validate:"required"`
	Target  string `yaml:"target" json:"target" validate:"required,ip"`
	Workers int    `yaml:"workers" json:"workers" validate:"omitempty,min=1,max=65535"`
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	UpdateInterval time.Duration `yaml:"update_interval" json:"update_interval" validate:"min=0"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Scanning: ScanningConfig{
			Workers:            scanning.DefaultWorkers,
			Network:            "tcp",
			MaxConcurrentScans: defaultMaxConcurrency,
			QueueSize:          defaultQueueSize,
		},
		Logging: LoggingConfig{
			Level:  string(logging.LevelWarn),
			Format: string(logging.FormatText),
			Output: "stderr",
		},
		API: APIConfig{
			Enabled:         true,
			Host:            "127.0.0.1",
			Port:            defaultAPIPort,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RecentScans:     defaultRecentScans,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
			},
		},
		Database: db.DefaultConfig(),
		Schedule: ScheduleConfig{
			Enabled: false,
			Jobs:    []ScheduleJob{},
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			UpdateInterval: 15 * time.Second,
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// JSON is a subset of YAML, so one decoder covers .yaml, .yml and .json.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.WrapConfigError(errors.CodeFilePermission, "failed to create config directory", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.WrapConfigError(errors.CodeConfiguration, "failed to marshal config", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.WrapConfigError(errors.CodeFilePermission, "failed to write config file", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints, cron expressions and job names.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("failed on the '%s' rule", fe.Tag()), fe.Namespace(), fe.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
	}

	seen := make(map[string]bool, len(c.Schedule.Jobs))
	for i, job := range c.Schedule.Jobs {
		field := fmt.Sprintf("Config.Schedule.Jobs[%d]", i)
		if seen[job.Name] {
			return errors.NewConfigFieldError(errors.CodeValidation, "duplicate job name", field+".Name", job.Name)
		}
		seen[job.Name] = true

		if _, err := cron.ParseStandard(job.Cron); err != nil {
			cfgErr := errors.NewConfigFieldError(errors.CodeValidation, "invalid cron expression", field+".Cron", job.Cron)
			cfgErr.Cause = err
			return cfgErr
		}
		if _, err := netip.ParseAddr(job.Target); err != nil {
			return errors.NewConfigFieldError(errors.CodeValidation, "target must be an IP address", field+".Target", job.Target)
		}
	}

	return nil
}

// LogConfig converts the logging section for logging.New.
func (c *Config) LogConfig() logging.Config {
	return logging.Config{
		Level:  logging.LogLevel(c.Logging.Level),
		Format: logging.LogFormat(c.Logging.Format),
		Output: c.Logging.Output,
	}
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return net.JoinHostPort(c.API.Host, strconv.Itoa(c.API.Port))
}

// JobWorkers returns the job's worker count, falling back to the scanning default.
func (c *Config) JobWorkers(job ScheduleJob) int {
	if job.Workers > 0 {
		return job.Workers
	}
	return c.Scanning.Workers
}
