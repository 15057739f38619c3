/**
 * Configuration for the ALPR import worker
 *
 * Loads the INI file shared with the camera vendor integration. Keys that
 * appear before any section header form the default section; every other
 * section describes one camera. A few environment variables override the
 * file so secrets can live in .env.
 */

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/adverant/nexus/alpr-importer/internal/errors"
)

const (
	// DefaultConfigPath is used when ALPR_CONFIG is not set.
	DefaultConfigPath = "config/import_config.ini"

	// MaxWorkerThreads bounds the number of recognizer instances.
	MaxWorkerThreads = 32
)

// Camera holds the static metadata for one camera section
type Camera struct {
	ID        string
	Latitude  string
	Longitude string
}

// Cameras maps camera name to its metadata. It is built once and never mutated.
type Cameras map[string]Camera

// Lookup returns the camera with the given name.
func (c Cameras) Lookup(name string) (Camera, bool) {
	cam, ok := c[name]
	return cam, ok
}

// Config holds worker configuration
type Config struct {
	// Source database configuration
	DatabaseDriver   string
	DatabaseServer   string
	DatabaseUser     string
	DatabasePassword string
	DatabasePort     int
	DatabaseName     string
	BatchSize        int

	// Image storage
	BaseImagePath string

	// Upload configuration
	CompanyID          string
	AgentUID           string
	UploadURL          string
	UploadTimeout      time.Duration
	GroupTemplatePath  string
	InsecureSkipVerify bool

	// Worker configuration
	WorkerThreads     int
	Country           string
	TesseractLanguage string

	// Intervals
	IdlePollInterval    time.Duration
	ReconnectInterval   time.Duration
	UploadRetryInterval time.Duration
	WorkerIdleInterval  time.Duration
	EnqueuePollInterval time.Duration

	// Local files
	BaseDir   string
	LogFile   string
	LogLevel  string
	StateFile string

	Cameras Cameras
}

// ConfigPath returns the configuration file path from ALPR_CONFIG or the default.
func ConfigPath() string {
	return getEnvOrDefault("ALPR_CONFIG", DefaultConfigPath)
}

// LoadConfig loads configuration from the INI file at path and applies
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment: true,
		IgnoreContinuation:  true,
	}, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %s: %w", path, err)
	}
	// config files live in <base>/config/
	baseDir := filepath.Dir(filepath.Dir(absPath))

	def := file.Section(ini.DefaultSection)
	r := &reader{section: def}

	cfg := &Config{
		DatabaseDriver:   r.optional("database_driver", "sqlserver"),
		DatabaseServer:   r.required("database_server"),
		DatabaseUser:     r.required("database_user"),
		DatabasePassword: r.required("database_password"),
		DatabasePort:     r.requiredInt("database_port"),
		DatabaseName:     r.required("database_name"),
		BatchSize:        r.optionalInt("batch_size", 1000),

		BaseImagePath: r.required("base_image_path"),

		CompanyID:          r.required("openalpr_company_id"),
		AgentUID:           r.required("openalpr_agent_uid"),
		UploadURL:          r.required("openalpr_url"),
		UploadTimeout:      r.requiredSeconds("upload_timeout"),
		GroupTemplatePath:  r.optional("group_template", ""),
		InsecureSkipVerify: r.optionalBool("insecure_skip_verify", true),

		WorkerThreads:     r.optionalInt("worker_threads", runtime.NumCPU()),
		Country:           r.optional("country", "us"),
		TesseractLanguage: r.optional("tesseract_language", "eng"),

		IdlePollInterval:    r.optionalSeconds("idle_poll_interval", 5*time.Second),
		ReconnectInterval:   r.optionalSeconds("reconnect_interval", 15*time.Second),
		UploadRetryInterval: r.optionalSeconds("upload_retry_interval", time.Second),
		WorkerIdleInterval:  r.optionalSeconds("worker_idle_interval", 250*time.Millisecond),
		EnqueuePollInterval: r.optionalSeconds("enqueue_poll_interval", 100*time.Millisecond),

		BaseDir:   baseDir,
		LogFile:   r.optional("log_file", ""),
		LogLevel:  r.optional("log_level", ""),
		StateFile: r.optional("state_file", ""),
	}
	if r.err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", r.err)
	}

	cfg.applyEnv()
	cfg.resolvePaths()

	cameras, err := loadCameras(file)
	if err != nil {
		return nil, err
	}
	cfg.Cameras = cameras

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlserver", "postgres", "sqlite3":
	default:
		return errors.NewConfigInvalidError("database_driver",
			fmt.Errorf("unsupported driver %q", c.DatabaseDriver))
	}

	if c.WorkerThreads < 1 {
		return errors.NewConfigInvalidError("worker_threads",
			fmt.Errorf("must be at least 1, got %d", c.WorkerThreads))
	}
	if c.WorkerThreads > MaxWorkerThreads {
		c.WorkerThreads = MaxWorkerThreads
	}

	if c.BatchSize < 1 {
		return errors.NewConfigInvalidError("batch_size",
			fmt.Errorf("must be at least 1, got %d", c.BatchSize))
	}

	if c.UploadTimeout <= 0 {
		return errors.NewConfigInvalidError("upload_timeout",
			fmt.Errorf("must be positive, got %v", c.UploadTimeout))
	}

	return nil
}

// EnsureDirs creates the log and config directories under the base directory.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{"log", "config"} {
		full := filepath.Join(c.BaseDir, dir)
		if err := os.MkdirAll(full, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", full, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DatabasePassword = getEnvOrDefault("ALPR_DATABASE_PASSWORD", c.DatabasePassword)
	c.UploadURL = getEnvOrDefault("ALPR_OPENALPR_URL", c.UploadURL)
	c.LogLevel = getEnvOrDefault("ALPR_LOG_LEVEL", c.LogLevel)
}

func (c *Config) resolvePaths() {
	if c.LogFile != "" && !filepath.IsAbs(c.LogFile) {
		c.LogFile = filepath.Join(c.BaseDir, "log", c.LogFile)
	}
	if c.StateFile == "" {
		c.StateFile = filepath.Join(c.BaseDir, "config", "state.json")
	} else if !filepath.IsAbs(c.StateFile) {
		c.StateFile = filepath.Join(c.BaseDir, "config", c.StateFile)
	}
	if c.GroupTemplatePath != "" && !filepath.IsAbs(c.GroupTemplatePath) {
		c.GroupTemplatePath = filepath.Join(c.BaseDir, "config", c.GroupTemplatePath)
	}
}

func loadCameras(file *ini.File) (Cameras, error) {
	cameras := make(Cameras)
	for _, section := range file.Sections() {
		name := section.Name()
		if name == ini.DefaultSection {
			continue
		}
		r := &reader{section: section}
		cam := Camera{
			ID:        r.required("camera_id"),
			Latitude:  r.required("gps_latitude"),
			Longitude: r.required("gps_longitude"),
		}
		if r.err != nil {
			return nil, fmt.Errorf("camera %q: %w", name, r.err)
		}
		cameras[name] = cam
	}
	return cameras, nil
}

// reader collects the first error encountered while reading keys from a section.
type reader struct {
	section *ini.Section
	err     error
}

func (r *reader) fail(key string, cause error) {
	if r.err == nil {
		r.err = errors.NewConfigInvalidError(key, cause)
	}
}

func (r *reader) required(key string) string {
	if !r.section.HasKey(key) {
		r.fail(key, fmt.Errorf("%s is required", key))
		return ""
	}
	return strings.TrimSpace(r.section.Key(key).String())
}

func (r *reader) optional(key, defaultValue string) string {
	if !r.section.HasKey(key) {
		return defaultValue
	}
	if value := strings.TrimSpace(r.section.Key(key).String()); value != "" {
		return value
	}
	return defaultValue
}

func (r *reader) requiredInt(key string) int {
	raw := r.required(key)
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(key, err)
	}
	return value
}

func (r *reader) optionalInt(key string, defaultValue int) int {
	raw := r.optional(key, "")
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(key, err)
		return defaultValue
	}
	return value
}

func (r *reader) optionalBool(key string, defaultValue bool) bool {
	raw := r.optional(key, "")
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		r.fail(key, err)
		return defaultValue
	}
	return value
}

// Durations are written as (fractional) seconds, like upload_timeout.
func (r *reader) requiredSeconds(key string) time.Duration {
	raw := r.required(key)
	if raw == "" {
		return 0
	}
	return r.parseSeconds(key, raw, 0)
}

func (r *reader) optionalSeconds(key string, defaultValue time.Duration) time.Duration {
	raw := r.optional(key, "")
	if raw == "" {
		return defaultValue
	}
	return r.parseSeconds(key, raw, defaultValue)
}

func (r *reader) parseSeconds(key, raw string, defaultValue time.Duration) time.Duration {
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds < 0 {
		if err == nil {
			err = fmt.Errorf("negative duration %v", seconds)
		}
		r.fail(key, err)
		return defaultValue
	}
	return time.Duration(seconds * float64(time.Second))
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
