package fencing

import (
	"log/slog"

	apperrors "github.com/dougneal/stonith-rackspace/internal/shared/errors"
)

// Environment variables the credentials are read from.
const (
	EnvRegion     = "RSC_REGION"
	EnvUsername   = "RSC_USERNAME"
	EnvAPIKey     = "RSC_APIKEY"
	EnvAuthURL    = "RSC_AUTHURL"
	EnvServerName = "RSC_SERVERNAME"
)

// PowerState collapses whatever the provider reports into the one distinction
// fencing cares about.
type PowerState string

const (
	PowerStateActive PowerState = "ACTIVE"
	PowerStateOther  PowerState = "OTHER"

	// PowerStateUnknown marks a node whose cached state was invalidated by a reboot.
	PowerStateUnknown PowerState = "UNKNOWN"
)

// Node is one fenceable compute instance, built fresh from a provider query.
type Node struct {
	Name       string
	ID         string
	Status     string // raw provider status, for logs
	PowerState PowerState

	// Handle is the provider's own record; only the provider that produced it may use it.
	Handle any
}

// IsActive reports whether a reboot is required to fence the node
func (n Node) IsActive() bool {
	return n.PowerState == PowerStateActive
}

// Credentials for one authentication call. Never logged in full.
type Credentials struct {
	Username string
	APIKey   string
	Region   string
	AuthURL  string
}

// Validate checks the required settings are present, in the order the
// agent has always reported them.
func (c Credentials) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{EnvUsername, c.Username},
		{EnvRegion, c.Region},
		{EnvAPIKey, c.APIKey},
	}

	for _, r := range required {
		if r.value == "" {
			return apperrors.NewConfigError(r.name+" required in environment, but not set", nil).
				WithMetadata("variable", r.name)
		}
	}
	return nil
}

// LogValue implements slog.LogValuer so the API key never reaches a log sink
func (c Credentials) LogValue() slog.Value {
	apiKey := ""
	if c.APIKey != "" {
		apiKey = "[redacted]"
	}
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("region", c.Region),
		slog.String("auth_url", c.AuthURL),
		slog.String("api_key", apiKey),
	)
}

// Session is an authenticated provider session, valid for one invocation.
type Session struct {
	Account string
	Region  string

	// Handle is the provider's authenticated client state.
	Handle any
}

// Outcome of a successful fence call
type Outcome string

const (
	OutcomeFenced         Outcome = "fenced"
	OutcomeNoActionNeeded Outcome = "no_action_needed"
)

// FenceResult describes what a successful fence did
type FenceResult struct {
	Outcome        Outcome
	Node           Node
	ProviderResult string
}
