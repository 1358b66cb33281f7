package tenant

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/duerelay/duerelay/internal/domain/connection"
	"github.com/duerelay/duerelay/internal/domain/notification"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrTenantExists   = errors.New("tenant already exists")
	ErrNotConnected   = errors.New("tenant not connected")
	ErrConfigInvalid  = errors.New("invalid tenant config")
	ErrInvalidToken   = errors.New("invalid tenant token")
)

// Config is the notification setup a connected tenant submits.
type Config struct {
	LedgerLocator       string                 `json:"sheetUrl"`
	PaymentInstructions string                 `json:"chavePix"`
	Rules               notification.Rules     `json:"rules"`
	Templates           notification.Templates `json:"templates"`
}

// DefaultRules mirrors the behaviour of a tenant that never customised its
// rules: every kind on, reminders three days ahead.
func DefaultRules() notification.Rules {
	return notification.Rules{
		LateEnabled:     true,
		DueTodayEnabled: true,
		ReminderEnabled: true,
		ReminderOffsets: []int{3},
	}
}

// Validate checks the config before it is accepted. Errors wrap
// ErrConfigInvalid.
func (c Config) Validate() error {
	if strings.TrimSpace(c.LedgerLocator) == "" {
		return fmt.Errorf("%w: sheet url is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(c.PaymentInstructions) == "" {
		return fmt.Errorf("%w: payment instructions are required", ErrConfigInvalid)
	}
	if !c.Rules.AnyEnabled() {
		return fmt.Errorf("%w: at least one notification rule must be enabled", ErrConfigInvalid)
	}
	if c.Rules.ReminderEnabled {
		if len(c.Rules.ReminderOffsets) == 0 {
			return fmt.Errorf("%w: reminder offsets are required when reminders are enabled", ErrConfigInvalid)
		}
		for _, o := range c.Rules.ReminderOffsets {
			if o <= 0 {
				return fmt.Errorf("%w: reminder offset %d must be positive", ErrConfigInvalid, o)
			}
		}
	}
	if _, err := notification.CompileFilter(c.Rules.Filter); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	return nil
}

// Policy is the classifier view of the config.
func (c Config) Policy() notification.Policy {
	return notification.Policy{
		Rules:        c.Rules,
		Templates:    c.Templates,
		Instructions: c.PaymentInstructions,
	}
}

// CycleSummary is the outcome of the latest dispatch cycle.
type CycleSummary struct {
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Error      string    `json:"error,omitempty"`
}

// Tenant is a point-in-time copy of one tenant's state.
type Tenant struct {
	ID         string           `json:"clientId"`
	Connection connection.State `json:"connection"`
	Challenge  string           `json:"-"`
	Address    string           `json:"connectedNumber,omitempty"`
	Config     *Config          `json:"config,omitempty"`
	TokenHash  string           `json:"-"`
	Running    bool             `json:"running"`
	LastCycle  *CycleSummary    `json:"lastCycle,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}

func (t *Tenant) IsConnected() bool {
	return t.Connection == connection.StateConnected
}

func (t *Tenant) HasConfig() bool {
	return t.Config != nil
}

// Record is the persisted form of a tenant. Credentials are stored apart.
type Record struct {
	ID        string    `json:"id"`
	TokenHash string    `json:"tokenHash"`
	Address   string    `json:"address,omitempty"`
	Config    *Config   `json:"config,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// IssueToken returns a fresh access token and its bcrypt hash.
func IssueToken() (token string, hash string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return token, string(h), nil
}

func VerifyToken(hash string, token string) bool {
	if hash == "" || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// StatusView is the status snapshot served to the tenant.
type StatusView struct {
	ClientID        string           `json:"clientId"`
	State           connection.State `json:"state"`
	Connected       bool             `json:"connected"`
	QRCode          *string          `json:"qrCode"`
	ConnectedNumber *string          `json:"connectedNumber"`
	HasConfig       bool             `json:"hasConfig"`
	Config          *Config          `json:"config,omitempty"`
	Running         bool             `json:"running"`
	LastCycle       *CycleSummary    `json:"lastCycle,omitempty"`
}

func (t *Tenant) Status() StatusView {
	v := StatusView{
		ClientID:  t.ID,
		State:     t.Connection,
		Connected: t.IsConnected(),
		HasConfig: t.HasConfig(),
		Config:    t.Config,
		Running:   t.Running,
		LastCycle: t.LastCycle,
	}
	if t.Challenge != "" {
		qr := t.Challenge
		v.QRCode = &qr
	}
	if t.Address != "" {
		addr := t.Address
		v.ConnectedNumber = &addr
	}
	return v
}
