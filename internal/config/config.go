package config

import (
	"time"

	"github.com/dougneal/stonith-rackspace/internal/fencing"
	"github.com/dougneal/stonith-rackspace/internal/provider"
	"github.com/dougneal/stonith-rackspace/internal/shared/logger"
)

// EnvPrefix is prepended to every setting when read from the environment
const EnvPrefix = "RSC"

// Config holds the agent configuration. Credentials may be empty here; they
// are validated by the operations that need them.
type Config struct {
	Username   string `mapstructure:"username"`
	APIKey     string `mapstructure:"apikey"`
	Region     string `mapstructure:"region"`
	AuthURL    string `mapstructure:"authurl"`
	ServerName string `mapstructure:"servername"`

	Provider   string        `mapstructure:"provider"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Duplicates string        `mapstructure:"duplicates"`

	LogLevel     string `mapstructure:"log_level"`
	LogFormat    string `mapstructure:"log_format"`
	LogSink      string `mapstructure:"log_sink"`
	HALogCommand string `mapstructure:"ha_log_command"`

	MetricsFile string `mapstructure:"metrics_file"`
}

// Default returns the settings used when nothing is configured
func Default() *Config {
	return &Config{
		Provider:     string(provider.ProviderTypeRackspace),
		Timeout:      30 * time.Second,
		Duplicates:   string(fencing.DuplicateFirst),
		LogLevel:     string(logger.LevelInfo),
		LogFormat:    string(logger.FormatText),
		LogSink:      string(logger.SinkStderr),
		HALogCommand: logger.DefaultHALogCommand,
	}
}

// Credentials returns the provider credentials
func (c *Config) Credentials() fencing.Credentials {
	return fencing.Credentials{
		Username: c.Username,
		APIKey:   c.APIKey,
		Region:   c.Region,
		AuthURL:  c.AuthURL,
	}
}

// LoggerConfig builds the logger configuration for the agent
func (c *Config) LoggerConfig(version string) logger.LoggerConfig {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.LogLevel(c.LogLevel)
	cfg.Format = logger.OutputFormat(c.LogFormat)
	cfg.Sink = logger.Sink(c.LogSink)
	cfg.HALogCommand = c.HALogCommand
	cfg.Component = "stonith-rackspace"
	cfg.Version = version
	return cfg
}

// ProviderConfig builds the compute provider configuration
func (c *Config) ProviderConfig(version string) *provider.Config {
	return &provider.Config{
		Provider: provider.ProviderType(c.Provider),
		Timeout:  c.Timeout,
		Version:  version,
	}
}

// DuplicatePolicy returns the policy for servers sharing a name
func (c *Config) DuplicatePolicy() fencing.DuplicatePolicy {
	return fencing.DuplicatePolicy(c.Duplicates)
}
