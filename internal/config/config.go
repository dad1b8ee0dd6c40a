// Package config loads docgate configuration from a YAML file and
// DOCGATE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gobeyondidentity/docgate/pkg/store"
)

// Location modes.
const (
	LocationStatic = "static"
	LocationFile   = "file"
)

// Config holds docgate configuration.
type Config struct {
	// StateDir holds the session file and device settings by default.
	StateDir    string `yaml:"state_dir"`
	SessionPath string `yaml:"session_path"`
	DBPath      string `yaml:"db_path"`

	Device      DeviceConfig      `yaml:"device"`
	Location    LocationConfig    `yaml:"location"`
	Timeouts    TimeoutConfig     `yaml:"timeouts"`
	Attestation AttestationConfig `yaml:"attestation"`
	Audit       AuditConfig       `yaml:"audit"`
	Log         LogConfig         `yaml:"log"`
}

// DeviceConfig locates the device posture inputs.
type DeviceConfig struct {
	SettingsPath    string `yaml:"settings_path"`
	SigningCertPath string `yaml:"signing_cert_path"`
}

// LocationConfig selects the position provider.
type LocationConfig struct {
	// Mode is "static" (fixed coordinates below) or "file" (FixFile is read
	// on every request).
	Mode      string        `yaml:"mode"`
	Latitude  float64       `yaml:"latitude"`
	Longitude float64       `yaml:"longitude"`
	Altitude  float64       `yaml:"altitude"`
	FixFile   string        `yaml:"fix_file"`
	Timeout   time.Duration `yaml:"timeout"`
}

// TimeoutConfig bounds calls to the remote authority.
type TimeoutConfig struct {
	Default       time.Duration `yaml:"default"`
	LocationCheck time.Duration `yaml:"location_check"`
	Report        time.Duration `yaml:"report"`
}

// AttestationConfig controls document access.
type AttestationConfig struct {
	// Freshness is the maximum age of the run backing document access.
	// Zero disables the age check.
	Freshness time.Duration `yaml:"freshness"`
}

// AuditConfig controls audit event sinks.
type AuditConfig struct {
	Syslog       bool   `yaml:"syslog"`
	SyslogSocket string `yaml:"syslog_socket"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultStateDir returns $XDG_DATA_HOME/docgate, falling back to
// ~/.local/share/docgate.
func DefaultStateDir() string {
	return filepath.Dir(store.DefaultPath())
}

// DefaultPath returns the default config file path under the XDG config home.
func DefaultPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, store.AppName, "config.yaml")
}

// DefaultConfig returns configuration with defaults.
func DefaultConfig() *Config {
	return &Config{
		StateDir: DefaultStateDir(),
		Location: LocationConfig{
			Mode:    LocationStatic,
			Timeout: 30 * time.Second,
		},
		Timeouts: TimeoutConfig{
			Default:       10 * time.Second,
			LocationCheck: 5 * time.Second,
			Report:        10 * time.Second,
		},
		Attestation: AttestationConfig{
			Freshness: 24 * time.Hour,
		},
		Audit: AuditConfig{
			SyslogSocket: "/dev/log",
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies DOCGATE_* environment overrides.
func (c *Config) LoadFromEnv() error {
	str := map[string]*string{
		"DOCGATE_STATE_DIR":       &c.StateDir,
		"DOCGATE_SESSION_PATH":    &c.SessionPath,
		"DOCGATE_DB_PATH":         &c.DBPath,
		"DOCGATE_DEVICE_SETTINGS": &c.Device.SettingsPath,
		"DOCGATE_SIGNING_CERT":    &c.Device.SigningCertPath,
		"DOCGATE_LOCATION_MODE":   &c.Location.Mode,
		"DOCGATE_LOCATION_FIX":    &c.Location.FixFile,
		"DOCGATE_SYSLOG_SOCKET":   &c.Audit.SyslogSocket,
		"DOCGATE_LOG_LEVEL":       &c.Log.Level,
		"DOCGATE_LOG_FORMAT":      &c.Log.Format,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	floats := map[string]*float64{
		"DOCGATE_LATITUDE":  &c.Location.Latitude,
		"DOCGATE_LONGITUDE": &c.Location.Longitude,
		"DOCGATE_ALTITUDE":  &c.Location.Altitude,
	}
	for key, dst := range floats {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = f
		}
	}

	durations := map[string]*time.Duration{
		"DOCGATE_LOCATION_TIMEOUT":       &c.Location.Timeout,
		"DOCGATE_TIMEOUT":                &c.Timeouts.Default,
		"DOCGATE_LOCATION_CHECK_TIMEOUT": &c.Timeouts.LocationCheck,
		"DOCGATE_REPORT_TIMEOUT":         &c.Timeouts.Report,
		"DOCGATE_FRESHNESS":              &c.Attestation.Freshness,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv("DOCGATE_SYSLOG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DOCGATE_SYSLOG: %w", err)
		}
		c.Audit.Syslog = b
	}
	return nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	switch c.Location.Mode {
	case LocationStatic:
		if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
			return fmt.Errorf("location.latitude %v out of range", c.Location.Latitude)
		}
		if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
			return fmt.Errorf("location.longitude %v out of range", c.Location.Longitude)
		}
	case LocationFile:
		if c.Location.FixFile == "" {
			return fmt.Errorf("location.fix_file is required when location.mode is %q", LocationFile)
		}
	default:
		return fmt.Errorf("location.mode must be %q or %q, got %q", LocationStatic, LocationFile, c.Location.Mode)
	}
	if c.Location.Timeout <= 0 {
		return fmt.Errorf("location.timeout must be positive")
	}
	if c.Timeouts.Default <= 0 || c.Timeouts.LocationCheck <= 0 || c.Timeouts.Report <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Attestation.Freshness < 0 {
		return fmt.Errorf("attestation.freshness must not be negative")
	}
	if c.Audit.Syslog && c.Audit.SyslogSocket == "" {
		return fmt.Errorf("audit.syslog_socket is required when audit.syslog is enabled")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// ResolvedSessionPath returns SessionPath or its default under StateDir.
func (c *Config) ResolvedSessionPath() string {
	if c.SessionPath != "" {
		return c.SessionPath
	}
	return filepath.Join(c.StateDir, "session.yaml")
}

// ResolvedDBPath returns DBPath or its default under StateDir.
func (c *Config) ResolvedDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.StateDir, store.AppName+".db")
}

// ResolvedSettingsPath returns the device settings path or its default.
func (c *Config) ResolvedSettingsPath() string {
	if c.Device.SettingsPath != "" {
		return c.Device.SettingsPath
	}
	return filepath.Join(c.StateDir, "device.yaml")
}

// ResolvedSigningCertPath returns the signing certificate path or its default.
func (c *Config) ResolvedSigningCertPath() string {
	if c.Device.SigningCertPath != "" {
		return c.Device.SigningCertPath
	}
	return filepath.Join(c.StateDir, "signing.pem")
}
