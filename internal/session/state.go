package session

import (
	"context"

	"github.com/looplab/fsm"
)

// State is the controller connection state.
type State string

const (
	StateDisconnected       State = "disconnected"
	StateConnecting         State = "connecting"
	StateConnected          State = "connected"
	StateSubscriptionActive State = "subscription_active"
	StateFailed             State = "failed"
)

// AllStates lists every state, used for metrics labels.
var AllStates = []string{
	string(StateDisconnected), string(StateConnecting), string(StateConnected),
	string(StateSubscriptionActive), string(StateFailed),
}

const (
	eventConnect    = "connect"
	eventOpened     = "opened"
	eventSubscribed = "subscribed"
	eventFail       = "fail"
	eventDisconnect = "disconnect"
)

// newStateMachine builds the connection lifecycle. There is deliberately no
// edge from subscription_active back to connected.
func newStateMachine(onChange func(from, to State)) *fsm.FSM {
	return fsm.NewFSM(
		string(StateDisconnected),
		fsm.Events{
			{Name: eventConnect, Src: []string{string(StateDisconnected), string(StateFailed)}, Dst: string(StateConnecting)},
			{Name: eventOpened, Src: []string{string(StateConnecting)}, Dst: string(StateConnected)},
			{Name: eventSubscribed, Src: []string{string(StateConnected)}, Dst: string(StateSubscriptionActive)},
			{Name: eventFail, Src: []string{string(StateConnecting), string(StateConnected), string(StateSubscriptionActive)}, Dst: string(StateFailed)},
			{Name: eventDisconnect, Src: []string{string(StateConnecting), string(StateConnected), string(StateSubscriptionActive), string(StateFailed)}, Dst: string(StateDisconnected)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if onChange != nil {
					onChange(State(e.Src), State(e.Dst))
				}
			},
		},
	)
}
