package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dougneal/stonith-rackspace/internal/fencing"
	"github.com/dougneal/stonith-rackspace/internal/provider"
	apperrors "github.com/dougneal/stonith-rackspace/internal/shared/errors"
	"github.com/dougneal/stonith-rackspace/internal/shared/logger"
	"github.com/spf13/viper"
)

// Loader handles configuration loading from the environment and an optional file.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// Load loads configuration from the environment and, when present, a config file.
// Missing credentials are not an error here.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()
	l.setupConfigPaths()
	l.setupEnvVars()

	// the config file is optional; the cluster manager passes everything via env
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, apperrors.NewConfigError("error reading config file", err)
		}
	}

	return l.unmarshal()
}

// LoadWithPath loads configuration from a specific file path, with the
// environment still taking precedence.
func LoadWithPath(path string) (*Config, error) {
	loader := NewLoader()
	loader.setDefaults()
	loader.setupEnvVars()

	loader.v.SetConfigFile(path)

	if err := loader.v.ReadInConfig(); err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("error reading config file %s", path), err).
			WithMetadata("path", path)
	}

	return loader.unmarshal()
}

// LoadFromEnv loads configuration only from environment variables, ignoring
// any config file.
func LoadFromEnv() (*Config, error) {
	loader := NewLoader()
	loader.setDefaults()
	loader.setupEnvVars()
	return loader.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to unmarshal config", err)
	}

	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.Duplicates = strings.ToLower(strings.TrimSpace(cfg.Duplicates))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := l.validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values. Every key needs one so
// AutomaticEnv picks it up on Unmarshal.
func (l *Loader) setDefaults() {
	d := Default()
	l.v.SetDefault("username", d.Username)
	l.v.SetDefault("apikey", d.APIKey)
	l.v.SetDefault("region", d.Region)
	l.v.SetDefault("authurl", d.AuthURL)
	l.v.SetDefault("servername", d.ServerName)
	l.v.SetDefault("provider", d.Provider)
	l.v.SetDefault("timeout", d.Timeout)
	l.v.SetDefault("duplicates", d.Duplicates)
	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("log_format", d.LogFormat)
	l.v.SetDefault("log_sink", d.LogSink)
	l.v.SetDefault("ha_log_command", d.HALogCommand)
	l.v.SetDefault("metrics_file", d.MetricsFile)
}

// setupConfigPaths configures where to search for config files.
func (l *Loader) setupConfigPaths() {
	l.v.SetConfigName("stonith-rackspace")
	l.v.SetConfigType("yaml")

	l.v.AddConfigPath("/etc/stonith-rackspace")
}

// setupEnvVars configures environment variable handling.
func (l *Loader) setupEnvVars() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
}

// validate checks the settings that have a fixed set of values. Unknown log
// levels are left alone; the logger maps them to notice.
func (l *Loader) validate(cfg *Config) error {
	switch provider.ProviderType(cfg.Provider) {
	case provider.ProviderTypeRackspace, provider.ProviderTypeHetzner:
	default:
		return invalid("provider", cfg.Provider, "rackspace or hetzner")
	}

	switch fencing.DuplicatePolicy(cfg.Duplicates) {
	case fencing.DuplicateFirst, fencing.DuplicateFail:
	default:
		return invalid("duplicates", cfg.Duplicates, "first or fail")
	}

	if cfg.Timeout <= 0 {
		return apperrors.NewConfigError(fmt.Sprintf("timeout must be positive, got %s", cfg.Timeout), nil).
			WithMetadata("variable", EnvPrefix+"_TIMEOUT")
	}

	if cfg.LogFormat != string(logger.FormatText) && cfg.LogFormat != string(logger.FormatJSON) {
		return invalid("log_format", cfg.LogFormat, "text or json")
	}

	if cfg.LogSink != string(logger.SinkStderr) && cfg.LogSink != string(logger.SinkHALog) {
		return invalid("log_sink", cfg.LogSink, "stderr or ha_log")
	}

	return nil
}

func invalid(key, value, allowed string) error {
	variable := EnvPrefix + "_" + strings.ToUpper(key)
	return apperrors.NewConfigError(fmt.Sprintf("invalid %s: %q (must be %s)", variable, value, allowed), nil).
		WithMetadata("variable", variable)
}
