package connection

import "errors"

// State is the lifecycle state of a tenant's messaging connection.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StatePairing      State = "PAIRING"
	StateConnected    State = "CONNECTED"
	StateLoggedOut    State = "LOGGED_OUT"
)

// EventType identifies a connection event.
type EventType string

const (
	EventStart              EventType = "START"
	EventChallenge          EventType = "CHALLENGE"
	EventHandshakeComplete  EventType = "HANDSHAKE_COMPLETE"
	EventCredentialsUpdated EventType = "CREDENTIALS_UPDATED"
	EventDropped            EventType = "DROPPED"
	EventReconnectDue       EventType = "RECONNECT_DUE"
	EventExplicitLogout     EventType = "EXPLICIT_LOGOUT"
)

// Event drives the state machine.
type Event struct {
	Type           EventType
	HasCredentials bool
	Challenge      string
	Address        string
	Terminal       bool
}

// EffectType names a side effect the supervisor must carry out.
type EffectType string

const (
	EffectOpenSession        EffectType = "OPEN_SESSION"
	EffectSurfaceChallenge   EffectType = "SURFACE_CHALLENGE"
	EffectMarkConnected      EffectType = "MARK_CONNECTED"
	EffectMarkDisconnected   EffectType = "MARK_DISCONNECTED"
	EffectPersistCredentials EffectType = "PERSIST_CREDENTIALS"
	EffectScheduleReconnect  EffectType = "SCHEDULE_RECONNECT"
	EffectTearDown           EffectType = "TEAR_DOWN"
	EffectWipeCredentials    EffectType = "WIPE_CREDENTIALS"
	EffectEraseConfig        EffectType = "ERASE_CONFIG"
	EffectRemoveTenant       EffectType = "REMOVE_TENANT"
)

// Effect is one side effect produced by a transition.
type Effect struct {
	Type            EffectType
	WithCredentials bool
	Challenge       string
	Address         string
}

var (
	ErrInvalidTransition = errors.New("invalid connection transition")
	ErrLoggedOut         = errors.New("connection logged out")
)

var accepted = map[State][]EventType{
	StateDisconnected: {EventStart, EventChallenge, EventHandshakeComplete, EventCredentialsUpdated, EventDropped, EventReconnectDue, EventExplicitLogout},
	StatePairing:      {EventStart, EventChallenge, EventHandshakeComplete, EventCredentialsUpdated, EventDropped, EventExplicitLogout},
	StateConnected:    {EventStart, EventHandshakeComplete, EventCredentialsUpdated, EventDropped, EventExplicitLogout},
	StateLoggedOut:    {},
}

// CanHandle reports whether state s accepts event e.
func CanHandle(s State, e EventType) bool {
	for _, allowed := range accepted[s] {
		if allowed == e {
			return true
		}
	}
	return false
}

// Transition computes the next state and the effects to run. It never
// performs I/O.
func Transition(s State, e Event) (State, []Effect, error) {
	if s == StateLoggedOut {
		return s, nil, ErrLoggedOut
	}
	if !CanHandle(s, e.Type) {
		return s, nil, ErrInvalidTransition
	}

	switch e.Type {
	case EventStart, EventReconnectDue:
		var effects []Effect
		if s != StateDisconnected {
			effects = append(effects, Effect{Type: EffectTearDown}, Effect{Type: EffectMarkDisconnected})
		}
		effects = append(effects, Effect{Type: EffectOpenSession, WithCredentials: e.HasCredentials})
		if e.HasCredentials {
			return StateDisconnected, effects, nil
		}
		return StatePairing, effects, nil

	case EventChallenge:
		return StatePairing, []Effect{{Type: EffectSurfaceChallenge, Challenge: e.Challenge}}, nil

	case EventHandshakeComplete:
		return StateConnected, []Effect{{Type: EffectMarkConnected, Address: e.Address}}, nil

	case EventCredentialsUpdated:
		return s, []Effect{{Type: EffectPersistCredentials}}, nil

	case EventDropped:
		if e.Terminal {
			return StateLoggedOut, teardownEffects(), nil
		}
		return StateDisconnected, []Effect{
			{Type: EffectMarkDisconnected},
			{Type: EffectScheduleReconnect},
		}, nil

	case EventExplicitLogout:
		return StateLoggedOut, teardownEffects(), nil
	}
	return s, nil, ErrInvalidTransition
}

func teardownEffects() []Effect {
	return []Effect{
		{Type: EffectTearDown},
		{Type: EffectWipeCredentials},
		{Type: EffectEraseConfig},
		{Type: EffectRemoveTenant},
	}
}
