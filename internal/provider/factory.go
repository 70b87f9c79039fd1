package provider

import (
	"fmt"
	"time"

	"github.com/dougneal/stonith-rackspace/internal/fencing"
	apperrors "github.com/dougneal/stonith-rackspace/internal/shared/errors"
	"github.com/dougneal/stonith-rackspace/internal/shared/logger"
)

// ProviderType represents the type of cloud provider
type ProviderType string

const (
	ProviderTypeRackspace ProviderType = "rackspace"
	ProviderTypeHetzner   ProviderType = "hetzner"
)

// Config represents the configuration for creating a compute provider
type Config struct {
	Provider ProviderType  `json:"provider"`
	Timeout  time.Duration `json:"timeout"`
	Version  string        `json:"version"`

	Rackspace *RackspaceConfig `json:"rackspace,omitempty"`
	Hetzner   *HetznerConfig   `json:"hetzner,omitempty"`
}

// New creates a compute provider based on the configuration
func New(config *Config, log *logger.Logger) (fencing.ComputeProvider, error) {
	if config == nil {
		return nil, apperrors.NewConfigError("provider config is required", nil)
	}

	scopedLogger := log.WithComponent("provider.factory")

	switch config.Provider {
	case ProviderTypeRackspace, "":
		rc := config.Rackspace
		if rc == nil {
			rc = DefaultRackspaceConfig()
		}
		if rc.Timeout == 0 {
			rc.Timeout = config.Timeout
		}
		if rc.UserAgent == "" && config.Version != "" {
			rc.UserAgent = "stonith-rackspace/" + config.Version
		}
		return NewRackspaceProvider(rc, scopedLogger)

	case ProviderTypeHetzner:
		hc := config.Hetzner
		if hc == nil {
			hc = DefaultHetznerConfig()
		}
		if hc.Timeout == 0 {
			hc.Timeout = config.Timeout
		}
		if hc.Version == "" {
			hc.Version = config.Version
		}
		return NewHetznerProvider(hc, scopedLogger)

	default:
		return nil, apperrors.NewConfigError(fmt.Sprintf("unsupported provider type: %s", config.Provider), nil).
			WithMetadata("provider", string(config.Provider))
	}
}

// DefaultRackspaceConfig returns a default Rackspace configuration
func DefaultRackspaceConfig() *RackspaceConfig {
	return &RackspaceConfig{
		AuthURL:     DefaultRackspaceAuthURL,
		ServiceName: rackspaceComputeService,
		Timeout:     30 * time.Second,
	}
}

// DefaultHetznerConfig returns a default Hetzner configuration
func DefaultHetznerConfig() *HetznerConfig {
	return &HetznerConfig{
		Timeout:     30 * time.Second,
		Application: "stonith-rackspace",
	}
}
