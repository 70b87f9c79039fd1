package fencing

import (
	"context"
	"log/slog"
	"time"

	"github.com/dougneal/stonith-rackspace/internal/shared/logger"
	"github.com/gookit/event"
)

// EventStateChanged is fired on every fence state transition
const EventStateChanged = "fencing.state.changed"

// State of one fence call
type State string

const (
	StateStart          State = "START"
	StateAuthenticating State = "AUTHENTICATING"
	StateAuthFailed     State = "AUTH_FAILED"
	StateAuthenticated  State = "AUTHENTICATED"
	StateLocating       State = "LOCATING"
	StateNotFound       State = "NOT_FOUND"
	StateLocateFailed   State = "LOCATE_FAILED"
	StateLocated        State = "LOCATED"
	StateNotActive      State = "NOT_ACTIVE"
	StateDone           State = "DONE"
	StateActive         State = "ACTIVE"
	StateRebooting      State = "REBOOTING"
	StateRebootFailed   State = "REBOOT_FAILED"
	StateRebootAccepted State = "REBOOT_ACCEPTED"
)

// Terminal reports whether no transition leaves s
func (s State) Terminal() bool {
	switch s {
	case StateAuthFailed, StateNotFound, StateLocateFailed, StateDone, StateRebootFailed, StateRebootAccepted:
		return true
	}
	return false
}

// Transition is the payload of EventStateChanged
type Transition struct {
	From   State
	To     State
	Target string
	At     time.Time
}

// TransitionBus wraps the gookit event manager for fence state transitions
type TransitionBus struct {
	manager *event.Manager
	logger  *logger.Logger
}

// NewTransitionBus creates an empty bus
func NewTransitionBus(log *logger.Logger) *TransitionBus {
	return &TransitionBus{
		manager: event.NewManager("fencing"),
		logger:  log,
	}
}

// Publish fires a transition. Listener failures are logged and otherwise ignored.
func (b *TransitionBus) Publish(ctx context.Context, t Transition) {
	if err, _ := b.manager.Fire(EventStateChanged, event.M{"payload": t}); err != nil {
		b.logger.WarnContext(ctx, "state transition listener failed",
			slog.String("from", string(t.From)),
			slog.String("to", string(t.To)),
			slog.String("error", err.Error()))
	}
}

// Subscribe registers fn for every transition
func (b *TransitionBus) Subscribe(fn func(Transition)) {
	b.manager.On(EventStateChanged, event.ListenerFunc(func(e event.Event) error {
		if t, ok := e.Get("payload").(Transition); ok {
			fn(t)
		}
		return nil
	}), event.Normal)
}

// Close drops all listeners
func (b *TransitionBus) Close() {
	b.manager.Clear()
}
