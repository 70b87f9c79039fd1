package fencing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/dougneal/stonith-rackspace/internal/shared/errors"
	"github.com/dougneal/stonith-rackspace/internal/shared/logger"
)

// DuplicatePolicy decides what Locate does when several nodes share a name
type DuplicatePolicy string

const (
	// DuplicateFirst fences the first match in provider enumeration order.
	DuplicateFirst DuplicatePolicy = "first"
	// DuplicateFail refuses to pick one.
	DuplicateFail DuplicatePolicy = "fail"
)

// Engine implements node resolution, fencing and probing against a ComputeProvider.
// It never exits the process; every failure is returned as a DomainError.
type Engine struct {
	provider   ComputeProvider
	logger     *logger.Logger
	events     *TransitionBus
	duplicates DuplicatePolicy
}

// Option configures an Engine
type Option func(*Engine)

// WithDuplicatePolicy sets the duplicate-name policy
func WithDuplicatePolicy(policy DuplicatePolicy) Option {
	return func(e *Engine) {
		if policy != "" {
			e.duplicates = policy
		}
	}
}

// WithTransitionBus publishes fence state transitions on bus
func WithTransitionBus(bus *TransitionBus) Option {
	return func(e *Engine) {
		if bus != nil {
			e.events = bus
		}
	}
}

// NewEngine creates a fencing engine bound to provider
func NewEngine(provider ComputeProvider, log *logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		provider:   provider,
		logger:     log.WithComponent("fencing"),
		duplicates: DuplicateFirst,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.events == nil {
		e.events = NewTransitionBus(e.logger)
	}
	return e
}

// Authenticate validates creds and opens a provider session. Missing settings
// fail before any network call.
func (e *Engine) Authenticate(ctx context.Context, creds Credentials) (Session, error) {
	if err := creds.Validate(); err != nil {
		return Session{}, err
	}

	e.logger.DebugContext(ctx, fmt.Sprintf("Attempting to authenticate to provider API with account %s in region %s", creds.Username, creds.Region),
		slog.Any("credentials", creds))

	session, err := e.provider.Connect(ctx, creds)
	if err != nil {
		if apperrors.IsErrorCode(err, apperrors.ErrCodeAuthFailed) {
			return Session{}, apperrors.NewFencingError(apperrors.ErrCodeAuthFailed,
				fmt.Sprintf("Authentication failure for account %s in region %s", creds.Username, creds.Region), false, err).
				WithMetadata("account", creds.Username).
				WithMetadata("region", creds.Region)
		}
		if apperrors.IsErrorCode(err, apperrors.ErrCodeRegionNotFound) {
			return Session{}, apperrors.NewFencingError(apperrors.ErrCodeRegionNotFound,
				fmt.Sprintf("No compute endpoint for region %s", creds.Region), false, err).
				WithMetadata("account", creds.Username).
				WithMetadata("region", creds.Region)
		}
		return Session{}, apperrors.NewFencingError(apperrors.ErrCodeNetworkError,
			"Couldn't establish a connection to the identity service", true, err).
			WithMetadata("account", creds.Username).
			WithMetadata("region", creds.Region)
	}

	return session, nil
}

// Locate returns the first node named exactly name, in provider enumeration order.
func (e *Engine) Locate(ctx context.Context, session Session, name string) (Node, error) {
	if name == "" {
		return Node{}, apperrors.NewFencingError(apperrors.ErrCodeInvalidTarget, "No server specified", false, nil)
	}

	e.logger.DebugContext(ctx, "Enumerating servers")
	nodes, err := e.provider.ListNodes(ctx, session)
	if err != nil {
		return Node{}, apperrors.NewFencingError(apperrors.ErrCodeNetworkError, "Server enumeration failed", true, err).
			WithMetadata("account", session.Account).
			WithMetadata("region", session.Region).
			WithMetadata("target", name)
	}

	if len(nodes) == 0 {
		e.logger.DebugContext(ctx, "Server enumeration found no servers")
		return Node{}, notFound(session, name)
	}

	e.logger.DebugContext(ctx, fmt.Sprintf("Looking for '%s'", name), slog.Int("servers", len(nodes)))

	var matches []Node
	for _, n := range nodes {
		if n.Name == name {
			matches = append(matches, n)
		}
	}

	switch {
	case len(matches) == 0:
		return Node{}, notFound(session, name)
	case len(matches) > 1 && e.duplicates == DuplicateFail:
		return Node{}, apperrors.NewFencingError(apperrors.ErrCodeDuplicateTarget,
			fmt.Sprintf("Server name '%s' matches %d servers, refusing to choose", name, len(matches)), false, nil).
			WithMetadata("target", name).
			WithMetadata("matches", len(matches))
	case len(matches) > 1:
		e.logger.WarnContext(ctx, fmt.Sprintf("Server name '%s' matches %d servers, using the first", name, len(matches)),
			slog.String("node_id", matches[0].ID))
	}

	return matches[0], nil
}

// Fence power-cycles the named node if it is active. A node in any other
// state is already safe and is left alone.
func (e *Engine) Fence(ctx context.Context, creds Credentials, name string) (FenceResult, error) {
	result := FenceResult{Node: Node{Name: name}}

	if name == "" {
		return result, apperrors.NewFencingError(apperrors.ErrCodeInvalidTarget, "No server specified", false, nil)
	}

	state := StateStart
	move := func(to State) {
		e.events.Publish(ctx, Transition{From: state, To: to, Target: name, At: time.Now()})
		state = to
	}

	move(StateAuthenticating)
	session, err := e.Authenticate(ctx, creds)
	if err != nil {
		move(StateAuthFailed)
		return result, err
	}
	move(StateAuthenticated)

	move(StateLocating)
	node, err := e.Locate(ctx, session, name)
	if err != nil {
		if apperrors.HasErrorCode(err, apperrors.ErrCodeNodeNotFound) {
			move(StateNotFound)
		} else {
			move(StateLocateFailed)
		}
		return result, err
	}
	move(StateLocated)
	result.Node = node

	if !node.IsActive() {
		move(StateNotActive)
		e.logger.NoticeContext(ctx, fmt.Sprintf("Server %s state is %s - no action required", node.Name, node.Status),
			slog.String("node_id", node.ID))
		move(StateDone)
		result.Outcome = OutcomeNoActionNeeded
		return result, nil
	}

	move(StateActive)
	e.logger.NoticeContext(ctx, fmt.Sprintf("Fencing server '%s'", node.Name), slog.String("node_id", node.ID))

	move(StateRebooting)
	raw, err := e.provider.HardReboot(ctx, session, node)
	if err != nil {
		move(StateRebootFailed)
		return result, apperrors.NewFencingError(apperrors.ErrCodeProviderError,
			fmt.Sprintf("Reboot of server '%s' failed", node.Name), apperrors.IsRetryable(err), err).
			WithMetadata("target", node.Name).
			WithMetadata("node_id", node.ID).
			WithMetadata("account", session.Account).
			WithMetadata("region", session.Region)
	}

	// the cached state no longer describes the node
	node.PowerState = PowerStateUnknown
	result.Node = node

	e.logger.DebugContext(ctx, "Reboot command accepted", slog.String("result", raw), slog.String("node_id", node.ID))
	move(StateRebootAccepted)

	result.Outcome = OutcomeFenced
	result.ProviderResult = raw
	return result, nil
}

// Probe checks that the provider is reachable and accepts the credentials.
// It says nothing about any node.
func (e *Engine) Probe(ctx context.Context, creds Credentials) error {
	_, err := e.Authenticate(ctx, creds)
	return err
}

func notFound(session Session, name string) error {
	return apperrors.NewFencingError(apperrors.ErrCodeNodeNotFound, fmt.Sprintf("Server '%s' not found", name), false, nil).
		WithMetadata("target", name).
		WithMetadata("account", session.Account).
		WithMetadata("region", session.Region)
}
