package fencing

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/dougneal/stonith-rackspace/internal/shared/errors"
	"github.com/dougneal/stonith-rackspace/internal/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Connect(ctx context.Context, creds Credentials) (Session, error) {
	args := m.Called(ctx, creds)
	return args.Get(0).(Session), args.Error(1)
}

func (m *mockProvider) ListNodes(ctx context.Context, session Session) ([]Node, error) {
	args := m.Called(ctx, session)
	nodes, _ := args.Get(0).([]Node)
	return nodes, args.Error(1)
}

func (m *mockProvider) HardReboot(ctx context.Context, session Session, node Node) (string, error) {
	args := m.Called(ctx, session, node)
	return args.String(0), args.Error(1)
}

var (
	validCreds = Credentials{Username: "alice", APIKey: "secret", Region: "LON"}
	session    = Session{Account: "alice", Region: "LON", Handle: "token-1"}
)

func activeNode(name, id string) Node {
	return Node{Name: name, ID: id, Status: "ACTIVE", PowerState: PowerStateActive}
}

func stoppedNode(name, id string) Node {
	return Node{Name: name, ID: id, Status: "SHUTOFF", PowerState: PowerStateOther}
}

func newTestEngine(p ComputeProvider, opts ...Option) *Engine {
	return NewEngine(p, logger.NewDiscard(), opts...)
}

func recordTransitions(bus *TransitionBus) *[]State {
	var states []State
	bus.Subscribe(func(t Transition) {
		states = append(states, t.To)
	})
	return &states
}

func TestAuthenticate_MissingCredentials(t *testing.T) {
	tests := []struct {
		name     string
		creds    Credentials
		variable string
	}{
		{"missing username", Credentials{APIKey: "k", Region: "LON"}, EnvUsername},
		{"missing region", Credentials{Username: "u", APIKey: "k"}, EnvRegion},
		{"missing api key", Credentials{Username: "u", Region: "LON"}, EnvAPIKey},
		{"nothing set", Credentials{}, EnvUsername},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := new(mockProvider)
			e := newTestEngine(p)

			_, err := e.Authenticate(context.Background(), tt.creds)

			require.Error(t, err)
			assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeConfiguration))
			assert.Contains(t, err.Error(), tt.variable+" required in environment, but not set")
			p.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything)
		})
	}
}

func TestAuthenticate_ProviderFailures(t *testing.T) {
	t.Run("credentials rejected", func(t *testing.T) {
		p := new(mockProvider)
		rejected := apperrors.NewProviderError(apperrors.ErrCodeAuthFailed, "identity returned 401", false, nil)
		p.On("Connect", mock.Anything, validCreds).Return(Session{}, rejected)

		_, err := newTestEngine(p).Authenticate(context.Background(), validCreds)

		require.Error(t, err)
		domainErr, ok := err.(apperrors.DomainError)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeAuthFailed, domainErr.Code())
		assert.Equal(t, "alice", domainErr.Metadata()["account"])
		assert.Equal(t, "LON", domainErr.Metadata()["region"])
		assert.Contains(t, err.Error(), "Authentication failure for account alice in region LON")
	})

	t.Run("transport failure", func(t *testing.T) {
		p := new(mockProvider)
		p.On("Connect", mock.Anything, validCreds).Return(Session{}, errors.New("dial tcp: connection refused"))

		_, err := newTestEngine(p).Authenticate(context.Background(), validCreds)

		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeNetworkError, apperrors.GetErrorCode(err))
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("success", func(t *testing.T) {
		p := new(mockProvider)
		p.On("Connect", mock.Anything, validCreds).Return(session, nil)

		got, err := newTestEngine(p).Authenticate(context.Background(), validCreds)

		require.NoError(t, err)
		assert.Equal(t, session, got)
	})
}

func TestLocate(t *testing.T) {
	ctx := context.Background()

	t.Run("empty name is an invalid target", func(t *testing.T) {
		p := new(mockProvider)

		_, err := newTestEngine(p).Locate(ctx, session, "")

		assert.Equal(t, apperrors.ErrCodeInvalidTarget, apperrors.GetErrorCode(err))
		p.AssertNotCalled(t, "ListNodes", mock.Anything, mock.Anything)
	})

	t.Run("empty enumeration", func(t *testing.T) {
		p := new(mockProvider)
		p.On("ListNodes", mock.Anything, session).Return([]Node{}, nil)

		_, err := newTestEngine(p).Locate(ctx, session, "web1")

		assert.Equal(t, apperrors.ErrCodeNodeNotFound, apperrors.GetErrorCode(err))
	})

	t.Run("exact match only", func(t *testing.T) {
		p := new(mockProvider)
		p.On("ListNodes", mock.Anything, session).Return([]Node{
			activeNode("Web1", "1"),
			activeNode("web10", "2"),
			activeNode("web", "3"),
		}, nil)

		_, err := newTestEngine(p).Locate(ctx, session, "web1")

		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeNodeNotFound, apperrors.GetErrorCode(err))
		assert.Contains(t, err.Error(), "Server 'web1' not found")
	})

	t.Run("first match wins on duplicates", func(t *testing.T) {
		p := new(mockProvider)
		p.On("ListNodes", mock.Anything, session).Return([]Node{
			activeNode("db", "0"),
			activeNode("web1", "1"),
			stoppedNode("web1", "2"),
		}, nil)

		node, err := newTestEngine(p).Locate(ctx, session, "web1")

		require.NoError(t, err)
		assert.Equal(t, "1", node.ID)
	})

	t.Run("duplicates rejected with fail policy", func(t *testing.T) {
		p := new(mockProvider)
		p.On("ListNodes", mock.Anything, session).Return([]Node{
			activeNode("web1", "1"),
			activeNode("web1", "2"),
		}, nil)

		_, err := newTestEngine(p, WithDuplicatePolicy(DuplicateFail)).Locate(ctx, session, "web1")

		assert.Equal(t, apperrors.ErrCodeDuplicateTarget, apperrors.GetErrorCode(err))
	})

	t.Run("enumeration failure", func(t *testing.T) {
		p := new(mockProvider)
		p.On("ListNodes", mock.Anything, session).Return(nil, errors.New("502 bad gateway"))

		_, err := newTestEngine(p).Locate(ctx, session, "web1")

		assert.Equal(t, apperrors.ErrCodeNetworkError, apperrors.GetErrorCode(err))
	})
}

func TestFence_ActiveNodeIsRebootedOnce(t *testing.T) {
	p := new(mockProvider)
	target := activeNode("web1", "42")
	p.On("Connect", mock.Anything, validCreds).Return(session, nil)
	p.On("ListNodes", mock.Anything, session).Return([]Node{stoppedNode("db1", "7"), target}, nil)
	p.On("HardReboot", mock.Anything, session, target).Return("HTTP 202 Accepted", nil).Once()

	bus := NewTransitionBus(logger.NewDiscard())
	states := recordTransitions(bus)

	result, err := newTestEngine(p, WithTransitionBus(bus)).Fence(context.Background(), validCreds, "web1")

	require.NoError(t, err)
	assert.Equal(t, OutcomeFenced, result.Outcome)
	assert.Equal(t, "HTTP 202 Accepted", result.ProviderResult)
	assert.Equal(t, PowerStateUnknown, result.Node.PowerState)
	p.AssertNumberOfCalls(t, "HardReboot", 1)
	p.AssertExpectations(t)

	assert.Equal(t, []State{
		StateAuthenticating, StateAuthenticated, StateLocating, StateLocated,
		StateActive, StateRebooting, StateRebootAccepted,
	}, *states)
}

func TestFence_InactiveNodeNeedsNoAction(t *testing.T) {
	for _, status := range []string{"SHUTOFF", "ERROR", "BUILD", "SUSPENDED"} {
		t.Run(status, func(t *testing.T) {
			p := new(mockProvider)
			p.On("Connect", mock.Anything, validCreds).Return(session, nil)
			p.On("ListNodes", mock.Anything, session).Return([]Node{
				{Name: "web1", ID: "1", Status: status, PowerState: PowerStateOther},
			}, nil)

			bus := NewTransitionBus(logger.NewDiscard())
			states := recordTransitions(bus)

			result, err := newTestEngine(p, WithTransitionBus(bus)).Fence(context.Background(), validCreds, "web1")

			require.NoError(t, err)
			assert.Equal(t, OutcomeNoActionNeeded, result.Outcome)
			p.AssertNotCalled(t, "HardReboot", mock.Anything, mock.Anything, mock.Anything)
			assert.Equal(t, StateDone, (*states)[len(*states)-1])
		})
	}
}

func TestFence_NotFoundNeverReboots(t *testing.T) {
	p := new(mockProvider)
	p.On("Connect", mock.Anything, validCreds).Return(session, nil)
	p.On("ListNodes", mock.Anything, session).Return([]Node{activeNode("web1", "1")}, nil)

	bus := NewTransitionBus(logger.NewDiscard())
	states := recordTransitions(bus)

	_, err := newTestEngine(p, WithTransitionBus(bus)).Fence(context.Background(), validCreds, "web2")

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNodeNotFound, apperrors.GetErrorCode(err))
	p.AssertNotCalled(t, "HardReboot", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, StateNotFound, (*states)[len(*states)-1])
	assert.True(t, StateNotFound.Terminal())
}

func TestFence_LocateFailuresAreNotNotFound(t *testing.T) {
	tests := []struct {
		name  string
		nodes []Node
		err   error
		opts  []Option
		code  string
	}{
		{
			name: "enumeration failure",
			err:  errors.New("dial tcp: i/o timeout"),
			code: apperrors.ErrCodeNetworkError,
		},
		{
			name:  "duplicate refused",
			nodes: []Node{activeNode("web1", "1"), activeNode("web1", "2")},
			opts:  []Option{WithDuplicatePolicy(DuplicateFail)},
			code:  apperrors.ErrCodeDuplicateTarget,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := new(mockProvider)
			p.On("Connect", mock.Anything, validCreds).Return(session, nil)
			p.On("ListNodes", mock.Anything, session).Return(tt.nodes, tt.err)

			bus := NewTransitionBus(logger.NewDiscard())
			states := recordTransitions(bus)

			_, err := newTestEngine(p, append(tt.opts, WithTransitionBus(bus))...).Fence(context.Background(), validCreds, "web1")

			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.GetErrorCode(err))
			assert.Equal(t, StateLocateFailed, (*states)[len(*states)-1])
			assert.NotContains(t, *states, StateNotFound)
			p.AssertNotCalled(t, "HardReboot", mock.Anything, mock.Anything, mock.Anything)
		})
	}
	assert.True(t, StateLocateFailed.Terminal())
}

func TestAuthenticate_UnknownRegion(t *testing.T) {
	p := new(mockProvider)
	p.On("Connect", mock.Anything, validCreds).
		Return(Session{}, apperrors.NewProviderError(apperrors.ErrCodeRegionNotFound, "no cloudServersOpenStack endpoint", false, nil))

	_, err := newTestEngine(p).Authenticate(context.Background(), validCreds)

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeRegionNotFound, apperrors.GetErrorCode(err))
	domainErr, ok := apperrors.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, "No compute endpoint for region LON", domainErr.Message())
	assert.False(t, apperrors.IsRetryable(err))
}

func TestFence_RebootFailureIsFatal(t *testing.T) {
	p := new(mockProvider)
	target := activeNode("web1", "1")
	p.On("Connect", mock.Anything, validCreds).Return(session, nil)
	p.On("ListNodes", mock.Anything, session).Return([]Node{target}, nil)
	p.On("HardReboot", mock.Anything, session, target).Return("", errors.New("409 conflict: server locked"))

	result, err := newTestEngine(p).Fence(context.Background(), validCreds, "web1")

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeProviderError, apperrors.GetErrorCode(err))
	assert.Contains(t, err.Error(), "server locked")
	assert.Empty(t, result.Outcome)
}

func TestFence_AuthFailureStopsBeforeEnumeration(t *testing.T) {
	p := new(mockProvider)
	p.On("Connect", mock.Anything, validCreds).
		Return(Session{}, apperrors.NewProviderError(apperrors.ErrCodeAuthFailed, "rejected", false, nil))

	bus := NewTransitionBus(logger.NewDiscard())
	states := recordTransitions(bus)

	_, err := newTestEngine(p, WithTransitionBus(bus)).Fence(context.Background(), validCreds, "web1")

	assert.Equal(t, apperrors.ErrCodeAuthFailed, apperrors.GetErrorCode(err))
	p.AssertNotCalled(t, "ListNodes", mock.Anything, mock.Anything)
	assert.Equal(t, []State{StateAuthenticating, StateAuthFailed}, *states)
}

func TestFence_EmptyTargetMakesNoProviderCalls(t *testing.T) {
	p := new(mockProvider)

	_, err := newTestEngine(p).Fence(context.Background(), validCreds, "")

	assert.Equal(t, apperrors.ErrCodeInvalidTarget, apperrors.GetErrorCode(err))
	assert.Empty(t, p.Calls)
}

func TestProbe(t *testing.T) {
	t.Run("succeeds with zero nodes and never enumerates", func(t *testing.T) {
		p := new(mockProvider)
		p.On("Connect", mock.Anything, validCreds).Return(session, nil)

		err := newTestEngine(p).Probe(context.Background(), validCreds)

		require.NoError(t, err)
		p.AssertNotCalled(t, "ListNodes", mock.Anything, mock.Anything)
		p.AssertNotCalled(t, "HardReboot", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("fails without credentials", func(t *testing.T) {
		p := new(mockProvider)

		err := newTestEngine(p).Probe(context.Background(), Credentials{Username: "alice", Region: "LON"})

		assert.Equal(t, apperrors.ErrCodeConfiguration, apperrors.GetErrorCode(err))
		assert.Empty(t, p.Calls)
	})
}

func TestCredentials_LogValueRedactsKey(t *testing.T) {
	v := validCreds.LogValue()

	for _, a := range v.Group() {
		if a.Key == "api_key" {
			assert.Equal(t, "[redacted]", a.Value.String())
			return
		}
	}
	t.Fatal("api_key attribute missing")
}
