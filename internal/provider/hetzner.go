package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dougneal/stonith-rackspace/internal/fencing"
	apperrors "github.com/dougneal/stonith-rackspace/internal/shared/errors"
	"github.com/dougneal/stonith-rackspace/internal/shared/logger"
	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// HetznerProvider implements fencing.ComputeProvider for Hetzner Cloud.
// The API key is used as the project token and the region selects servers by
// location name or network zone.
type HetznerProvider struct {
	config *HetznerConfig
	logger *logger.Logger
}

// HetznerConfig contains configuration for the Hetzner binding
type HetznerConfig struct {
	Endpoint    string        `json:"endpoint"`
	Timeout     time.Duration `json:"timeout"`
	Application string        `json:"application"`
	Version     string        `json:"version"`
}

// NewHetznerProvider creates a new Hetzner compute provider
func NewHetznerProvider(config *HetznerConfig, log *logger.Logger) (*HetznerProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &HetznerProvider{
		config: config,
		logger: log.WithComponent("provider.hetzner"),
	}, nil
}

// Connect builds a client for the token and checks it against the locations endpoint
func (h *HetznerProvider) Connect(ctx context.Context, creds fencing.Credentials) (fencing.Session, error) {
	client := hcloud.NewClient(h.clientOptions(creds)...)

	h.logger.DebugContext(ctx, "verifying API token", slog.String("region", creds.Region))

	if _, err := client.Location.All(ctx); err != nil {
		if hcloud.IsError(err, hcloud.ErrorCodeUnauthorized) || hcloud.IsError(err, hcloud.ErrorCodeForbidden) {
			return fencing.Session{}, apperrors.NewProviderError(apperrors.ErrCodeAuthFailed,
				"hetzner API rejected token", false, err)
		}
		return fencing.Session{}, apperrors.NewProviderError(apperrors.ErrCodeNetworkError,
			"hetzner API unreachable", h.isTransientError(err), err)
	}

	return fencing.Session{
		Account: creds.Username,
		Region:  creds.Region,
		Handle:  client,
	}, nil
}

// ListNodes returns the servers located in the session's region
func (h *HetznerProvider) ListNodes(ctx context.Context, session fencing.Session) ([]fencing.Node, error) {
	client, err := hetznerHandle(session)
	if err != nil {
		return nil, err
	}

	servers, err := client.Server.All(ctx)
	if err != nil {
		return nil, apperrors.NewProviderError(apperrors.ErrCodeNetworkError,
			"failed to list hetzner servers", h.isTransientError(err), err)
	}

	nodes := make([]fencing.Node, 0, len(servers))
	for _, server := range servers {
		if !inRegion(server, session.Region) {
			continue
		}
		nodes = append(nodes, hetznerNode(server))
	}

	h.logger.DebugContext(ctx, "listed servers",
		slog.Int("total", len(servers)),
		slog.Int("in_region", len(nodes)))
	return nodes, nil
}

// HardReboot resets the server, the Hetzner equivalent of pulling the power
func (h *HetznerProvider) HardReboot(ctx context.Context, session fencing.Session, node fencing.Node) (string, error) {
	client, err := hetznerHandle(session)
	if err != nil {
		return "", err
	}

	hetznerID, err := strconv.ParseInt(node.ID, 10, 64)
	if err != nil {
		return "", apperrors.NewProviderError(apperrors.ErrCodeInvalidTarget,
			"invalid server ID format", false, err).WithMetadata("node_id", node.ID)
	}

	action, _, err := client.Server.Reset(ctx, &hcloud.Server{ID: hetznerID})
	if err != nil {
		switch {
		case hcloud.IsError(err, hcloud.ErrorCodeNotFound):
			return "", apperrors.NewProviderError(apperrors.ErrCodeNodeNotFound,
				"server disappeared before reset", false, err).WithMetadata("node_id", node.ID)
		case hcloud.IsError(err, hcloud.ErrorCodeRateLimitExceeded):
			return "", apperrors.NewProviderError(apperrors.ErrCodeRateLimit,
				"reset rate limited", true, err).WithMetadata("node_id", node.ID)
		}
		return "", apperrors.NewProviderError(apperrors.ErrCodeProviderError,
			"failed to reset hetzner server", h.isTransientError(err), err).WithMetadata("node_id", node.ID)
	}

	return fmt.Sprintf("action %d %s (%s)", action.ID, action.Command, action.Status), nil
}

func (h *HetznerProvider) clientOptions(creds fencing.Credentials) []hcloud.ClientOption {
	opts := []hcloud.ClientOption{
		hcloud.WithToken(creds.APIKey),
		hcloud.WithHTTPClient(&http.Client{Timeout: h.config.Timeout}),
	}

	endpoint := h.config.Endpoint
	if creds.AuthURL != "" {
		endpoint = creds.AuthURL
	}
	if endpoint != "" {
		opts = append(opts, hcloud.WithEndpoint(endpoint))
	}
	if h.config.Application != "" {
		opts = append(opts, hcloud.WithApplication(h.config.Application, h.config.Version))
	}
	return opts
}

func (h *HetznerProvider) isTransientError(err error) bool {
	if hcloud.IsError(err, hcloud.ErrorCodeRateLimitExceeded) {
		return true
	}
	if hcloud.IsError(err, hcloud.ErrorCodeResourceUnavailable) {
		return true
	}
	if hcloud.IsError(err, hcloud.ErrorCodeServiceError) {
		return true
	}
	return false
}

func inRegion(server *hcloud.Server, region string) bool {
	if server == nil || server.Datacenter == nil || server.Datacenter.Location == nil {
		return false
	}
	loc := server.Datacenter.Location
	return strings.EqualFold(loc.Name, region) || strings.EqualFold(string(loc.NetworkZone), region)
}

func hetznerNode(server *hcloud.Server) fencing.Node {
	state := fencing.PowerStateOther
	if server.Status == hcloud.ServerStatusRunning {
		state = fencing.PowerStateActive
	}
	return fencing.Node{
		Name:       server.Name,
		ID:         strconv.FormatInt(server.ID, 10),
		Status:     string(server.Status),
		PowerState: state,
		Handle:     server,
	}
}

func hetznerHandle(session fencing.Session) (*hcloud.Client, error) {
	client, ok := session.Handle.(*hcloud.Client)
	if !ok || client == nil {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeInternal,
			fmt.Sprintf("session handle %T does not belong to the hetzner provider", session.Handle), false, nil)
	}
	return client, nil
}

var _ fencing.ComputeProvider = (*HetznerProvider)(nil)
