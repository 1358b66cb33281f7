package messaging

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_transport.go -package=mocks . Transport,Session

import (
	"context"
	"errors"
)

var (
	ErrTransportDropped = errors.New("messaging transport dropped")
	ErrSessionClosed    = errors.New("messaging session closed")
)

// EventType identifies what a session reports.
type EventType string

const (
	// EventChallenge carries a pairing challenge (QR payload) to show the user.
	EventChallenge EventType = "CHALLENGE"
	// EventCredentials carries an updated credential blob to persist.
	EventCredentials EventType = "CREDENTIALS"
	// EventConnected reports a completed handshake and the account address.
	EventConnected EventType = "CONNECTED"
	// EventClosed reports the end of the session. LoggedOut marks a terminal
	// close initiated by the account owner.
	EventClosed EventType = "CLOSED"
)

// Event is one session lifecycle report.
type Event struct {
	Type        EventType
	Challenge   string
	Credentials []byte
	Address     string
	LoggedOut   bool
	Err         error
}

// Transport opens messaging sessions. A nil credential blob asks for pairing.
type Transport interface {
	Open(ctx context.Context, tenantID string, credentials []byte) (Session, error)
}

// Session is one live connection attempt. Events is closed after the
// EventClosed report or after Close.
type Session interface {
	Events() <-chan Event
	Send(ctx context.Context, address, text string) error
	// Logout unlinks the account; the credentials become useless.
	Logout(ctx context.Context) error
	// Close drops the connection and keeps the account linked.
	Close() error
}
