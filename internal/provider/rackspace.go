package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dougneal/stonith-rackspace/internal/fencing"
	apperrors "github.com/dougneal/stonith-rackspace/internal/shared/errors"
	"github.com/dougneal/stonith-rackspace/internal/shared/logger"
	"github.com/gookit/goutil"
)

const (
	// DefaultRackspaceAuthURL is the global identity endpoint
	DefaultRackspaceAuthURL = "https://identity.api.rackspacecloud.com/v2.0"

	rackspaceComputeService = "cloudServersOpenStack"
	rackspaceActiveStatus   = "ACTIVE"
)

// RackspaceConfig contains configuration for the Rackspace Cloud Servers binding
type RackspaceConfig struct {
	AuthURL     string        `json:"auth_url"`
	ServiceName string        `json:"service_name"`
	Timeout     time.Duration `json:"timeout"`
	UserAgent   string        `json:"user_agent"`
}

// RackspaceProvider implements fencing.ComputeProvider for Rackspace Cloud Servers (NextGen)
type RackspaceProvider struct {
	httpClient *http.Client
	config     *RackspaceConfig
	logger     *logger.Logger
}

type rackspaceSession struct {
	token      string
	computeURL string
}

// Identity v2.0 payloads.

type rackspaceAuthRequest struct {
	Auth struct {
		APIKeyCredentials struct {
			Username string `json:"username"`
			APIKey   string `json:"apiKey"`
		} `json:"RAX-KSKEY:apiKeyCredentials"`
	} `json:"auth"`
}

type rackspaceAuthResponse struct {
	Access struct {
		Token struct {
			ID      string `json:"id"`
			Expires string `json:"expires"`
			Tenant  struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"tenant"`
		} `json:"token"`
		ServiceCatalog []struct {
			Name      string `json:"name"`
			Type      string `json:"type"`
			Endpoints []struct {
				Region    string `json:"region"`
				TenantID  string `json:"tenantId"`
				PublicURL string `json:"publicURL"`
			} `json:"endpoints"`
		} `json:"serviceCatalog"`
	} `json:"access"`
}

// Compute v2 payloads.

type rackspaceServer struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type rackspaceLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type rackspaceServerList struct {
	Servers []rackspaceServer `json:"servers"`
	Links   []rackspaceLink   `json:"servers_links"`
}

// NewRackspaceProvider creates a new Rackspace compute provider
func NewRackspaceProvider(config *RackspaceConfig, log *logger.Logger) (*RackspaceProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.ServiceName == "" {
		config.ServiceName = rackspaceComputeService
	}
	if config.AuthURL == "" {
		config.AuthURL = DefaultRackspaceAuthURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &RackspaceProvider{
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
		logger:     log.WithComponent("provider.rackspace"),
	}, nil
}

// Connect authenticates with an API key and resolves the compute endpoint for the region
func (r *RackspaceProvider) Connect(ctx context.Context, creds fencing.Credentials) (fencing.Session, error) {
	authURL := strings.TrimRight(r.authURL(creds), "/")

	var req rackspaceAuthRequest
	req.Auth.APIKeyCredentials.Username = creds.Username
	req.Auth.APIKeyCredentials.APIKey = creds.APIKey

	r.logger.DebugContext(ctx, "requesting identity token", slog.String("auth_url", authURL))

	status, body, _, err := r.do(ctx, http.MethodPost, authURL+"/tokens", "", req)
	if err != nil {
		return fencing.Session{}, apperrors.NewProviderError(apperrors.ErrCodeNetworkError,
			"identity service unreachable", true, err).WithMetadata("auth_url", authURL)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fencing.Session{}, apperrors.NewProviderError(apperrors.ErrCodeAuthFailed,
			fmt.Sprintf("identity service rejected credentials (HTTP %d)", status), false, nil).
			WithMetadata("auth_url", authURL)
	case status != http.StatusOK && status != http.StatusCreated:
		return fencing.Session{}, apperrors.NewProviderError(apperrors.ErrCodeNetworkError,
			fmt.Sprintf("identity service returned HTTP %d: %s", status, truncate(body)), status >= 500, nil).
			WithMetadata("auth_url", authURL)
	}

	var auth rackspaceAuthResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return fencing.Session{}, apperrors.NewProviderError(apperrors.ErrCodeDecode, "failed to decode identity response", false, err)
	}

	computeURL, err := r.computeEndpoint(auth, creds.Region)
	if err != nil {
		return fencing.Session{}, err
	}

	r.logger.DebugContext(ctx, "authenticated",
		slog.String("tenant", auth.Access.Token.Tenant.ID),
		slog.String("compute_url", computeURL),
		slog.String("expires", auth.Access.Token.Expires))

	return fencing.Session{
		Account: creds.Username,
		Region:  creds.Region,
		Handle: &rackspaceSession{
			token:      auth.Access.Token.ID,
			computeURL: strings.TrimRight(computeURL, "/"),
		},
	}, nil
}

// ListNodes returns every server on the account in the order the API lists them
func (r *RackspaceProvider) ListNodes(ctx context.Context, session fencing.Session) ([]fencing.Node, error) {
	sess, err := rackspaceHandle(session)
	if err != nil {
		return nil, err
	}

	var nodes []fencing.Node
	next := sess.computeURL + "/servers/detail"

	for next != "" {
		status, body, _, err := r.do(ctx, http.MethodGet, next, sess.token, nil)
		if err != nil {
			return nil, apperrors.NewProviderError(apperrors.ErrCodeNetworkError, "compute service unreachable", true, err)
		}
		if status != http.StatusOK {
			return nil, r.statusError(status, body, "list servers")
		}

		var page rackspaceServerList
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, apperrors.NewProviderError(apperrors.ErrCodeDecode, "failed to decode server list", false, err)
		}

		for _, s := range page.Servers {
			nodes = append(nodes, rackspaceNode(s))
		}

		next = ""
		for _, link := range page.Links {
			if link.Rel == "next" && len(page.Servers) > 0 {
				next = link.Href
			}
		}
	}

	r.logger.DebugContext(ctx, "listed servers", slog.Int("count", len(nodes)))
	return nodes, nil
}

// HardReboot issues a HARD reboot action. Acceptance is reported immediately;
// the server is not polled.
func (r *RackspaceProvider) HardReboot(ctx context.Context, session fencing.Session, node fencing.Node) (string, error) {
	sess, err := rackspaceHandle(session)
	if err != nil {
		return "", err
	}

	action := map[string]any{"reboot": map[string]string{"type": "HARD"}}
	url := fmt.Sprintf("%s/servers/%s/action", sess.computeURL, node.ID)

	r.logger.DebugContext(ctx, "sending hard reboot", slog.String("node_id", node.ID), slog.String("url", url))

	status, body, header, err := r.do(ctx, http.MethodPost, url, sess.token, action)
	if err != nil {
		return "", apperrors.NewProviderError(apperrors.ErrCodeNetworkError, "compute service unreachable", true, err).
			WithMetadata("node_id", node.ID)
	}

	switch status {
	case http.StatusAccepted, http.StatusOK, http.StatusNoContent:
		return fmt.Sprintf("HTTP %d %s", status, http.StatusText(status)), nil
	case http.StatusRequestEntityTooLarge, http.StatusTooManyRequests:
		rateErr := apperrors.NewProviderError(apperrors.ErrCodeRateLimit,
			fmt.Sprintf("reboot rate limited (HTTP %d)", status), true, nil).
			WithMetadata("node_id", node.ID)
		if retryAfter, convErr := goutil.ToInt(header.Get("Retry-After")); convErr == nil {
			rateErr = rateErr.WithMetadata("retry_after", retryAfter)
		}
		return "", rateErr
	default:
		return "", r.statusError(status, body, "reboot").WithMetadata("node_id", node.ID)
	}
}

func (r *RackspaceProvider) authURL(creds fencing.Credentials) string {
	if creds.AuthURL != "" {
		return creds.AuthURL
	}
	return r.config.AuthURL
}

func (r *RackspaceProvider) computeEndpoint(auth rackspaceAuthResponse, region string) (string, error) {
	for _, svc := range auth.Access.ServiceCatalog {
		if svc.Name != r.config.ServiceName {
			continue
		}
		for _, ep := range svc.Endpoints {
			if strings.EqualFold(ep.Region, region) {
				return ep.PublicURL, nil
			}
		}
	}
	return "", apperrors.NewProviderError(apperrors.ErrCodeRegionNotFound,
		fmt.Sprintf("no %s endpoint for region %s in service catalog", r.config.ServiceName, region), false, nil).
		WithMetadata("region", region)
}

func (r *RackspaceProvider) statusError(status int, body []byte, action string) apperrors.DomainError {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return apperrors.NewProviderError(apperrors.ErrCodeAuthFailed,
			fmt.Sprintf("%s: token rejected (HTTP %d)", action, status), false, nil)
	}
	if status == http.StatusNotFound {
		return apperrors.NewProviderError(apperrors.ErrCodeNodeNotFound,
			fmt.Sprintf("%s: not found (HTTP %d)", action, status), false, nil)
	}
	if status >= 500 {
		return apperrors.NewProviderError(apperrors.ErrCodeNetworkError,
			fmt.Sprintf("%s: compute service returned HTTP %d: %s", action, status, truncate(body)), true, nil)
	}
	return apperrors.NewProviderError(apperrors.ErrCodeProviderError,
		fmt.Sprintf("%s: compute service returned HTTP %d: %s", action, status, truncate(body)), false, nil)
}

func (r *RackspaceProvider) do(ctx context.Context, method, url, token string, payload any) (int, []byte, http.Header, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}
	if r.config.UserAgent != "" {
		req.Header.Set("User-Agent", r.config.UserAgent)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp.StatusCode, body, resp.Header, nil
}

func rackspaceHandle(session fencing.Session) (*rackspaceSession, error) {
	sess, ok := session.Handle.(*rackspaceSession)
	if !ok || sess == nil {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeInternal,
			fmt.Sprintf("session handle %T does not belong to the rackspace provider", session.Handle), false, nil)
	}
	return sess, nil
}

func rackspaceNode(s rackspaceServer) fencing.Node {
	state := fencing.PowerStateOther
	if s.Status == rackspaceActiveStatus {
		state = fencing.PowerStateActive
	}
	return fencing.Node{
		Name:       s.Name,
		ID:         s.ID,
		Status:     s.Status,
		PowerState: state,
		Handle:     s,
	}
}

func truncate(body []byte) string {
	const limit = 256
	text := strings.TrimSpace(string(body))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}

var _ fencing.ComputeProvider = (*RackspaceProvider)(nil)
