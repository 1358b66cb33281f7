package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/duerelay/duerelay/internal/domain/messaging"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultTimeout      = 20 * time.Second

	// maxPollFailures consecutive status errors are treated as a dropped link.
	maxPollFailures = 3

	apiKeyHeader = "X-Api-Key"
	userSuffix   = "@c.us"
)

// Remote session states reported by the gateway.
const (
	statePairing   = "pairing"
	stateConnected = "connected"
	stateClosed    = "closed"
)

var (
	_ messaging.Transport = (*Transport)(nil)
	_ messaging.Session   = (*Session)(nil)
)

type Config struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	Timeout      time.Duration
}

type openRequest struct {
	TenantID    string `json:"tenantId"`
	Credentials string `json:"credentials,omitempty"`
}

type openResponse struct {
	ID string `json:"id"`
}

type sessionStatus struct {
	State       string `json:"state"`
	QR          string `json:"qr"`
	Credentials string `json:"credentials"`
	Number      string `json:"number"`
	LoggedOut   bool   `json:"loggedOut"`
	Error       string `json:"error"`
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Transport talks to an HTTP messaging gateway that hosts the actual
// WhatsApp Web sessions. Session status is polled and turned into events.
type Transport struct {
	client *resty.Client
	poll   time.Duration
	logger zerolog.Logger
}

func NewTransport(cfg Config, logger zerolog.Logger) *Transport {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader(apiKeyHeader, cfg.APIKey)
	}
	return &Transport{
		client: client,
		poll:   cfg.PollInterval,
		logger: logger.With().Str("service", "gateway").Logger(),
	}
}

// Open creates a remote session. Without credentials the gateway starts
// pairing and reports a QR challenge.
func (t *Transport) Open(ctx context.Context, tenantID string, credentials []byte) (messaging.Session, error) {
	req := openRequest{TenantID: tenantID}
	if len(credentials) > 0 {
		req.Credentials = base64.StdEncoding.EncodeToString(credentials)
	}

	var out openResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&errorResponse{}).
		Post("/sessions")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", messaging.ErrTransportDropped, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: open session: %s", messaging.ErrTransportDropped, describe(resp))
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: gateway returned no session id", messaging.ErrTransportDropped)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       out.ID,
		tenantID: tenantID,
		client:   t.client,
		poll:     t.poll,
		events:   make(chan messaging.Event, 8),
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   t.logger.With().Str("tenant_id", tenantID).Str("session_id", out.ID).Logger(),
	}
	go s.run(pollCtx)

	s.logger.Debug().Bool("with_credentials", len(credentials) > 0).Msg("session opened")
	return s, nil
}

// Session is one remote gateway session.
type Session struct {
	id       string
	tenantID string
	client   *resty.Client
	poll     time.Duration
	events   chan messaging.Event
	cancel   context.CancelFunc
	done     chan struct{}
	logger   zerolog.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func (s *Session) Events() <-chan messaging.Event {
	return s.events
}

// Send delivers a text message. Plain digit addresses get the user suffix.
func (s *Session) Send(ctx context.Context, address, text string) error {
	if s.isClosed() {
		return messaging.ErrSessionClosed
	}
	to := address
	if !strings.Contains(to, "@") {
		to += userSuffix
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(sendRequest{To: to, Text: text}).
		SetError(&errorResponse{}).
		Post("/sessions/" + s.id + "/messages")
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	if gone(resp) {
		return messaging.ErrSessionClosed
	}
	if resp.IsError() {
		return fmt.Errorf("failed to send message: %s", describe(resp))
	}
	return nil
}

// Logout unlinks the account on the gateway.
func (s *Session) Logout(ctx context.Context) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetError(&errorResponse{}).
		Post("/sessions/" + s.id + "/logout")
	if err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	if resp.IsError() && !gone(resp) {
		return fmt.Errorf("failed to log out: %s", describe(resp))
	}
	return nil
}

// Close stops polling and releases the remote session. The account stays
// linked.
func (s *Session) Close() error {
	err := messaging.ErrSessionClosed
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		<-s.done

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, derr := s.client.R().SetContext(ctx).Delete("/sessions/" + s.id)
		switch {
		case derr != nil:
			err = fmt.Errorf("failed to release session: %w", derr)
		case resp.IsError() && !gone(resp):
			err = fmt.Errorf("failed to release session: %s", describe(resp))
		default:
			err = nil
		}
	})
	return err
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// run polls the remote status until the session closes or Close is called.
// It owns the events channel.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	var (
		lastQR    string
		lastCreds string
		connected bool
		failures  int
	)

	for {
		st, err := s.status(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, messaging.ErrSessionClosed):
			s.emit(ctx, messaging.Event{Type: messaging.EventClosed, Err: messaging.ErrTransportDropped})
			return
		case err != nil:
			failures++
			s.logger.Warn().Err(err).Int("failures", failures).Msg("status poll failed")
			if failures >= maxPollFailures {
				s.emit(ctx, messaging.Event{Type: messaging.EventClosed, Err: fmt.Errorf("%w: %v", messaging.ErrTransportDropped, err)})
				return
			}
		default:
			failures = 0
			if st.Credentials != "" && st.Credentials != lastCreds {
				blob, derr := base64.StdEncoding.DecodeString(st.Credentials)
				if derr != nil {
					s.logger.Warn().Err(derr).Msg("ignoring undecodable credentials")
				} else if !s.emit(ctx, messaging.Event{Type: messaging.EventCredentials, Credentials: blob}) {
					return
				}
				lastCreds = st.Credentials
			}

			switch st.State {
			case statePairing:
				connected = false
				if st.QR != "" && st.QR != lastQR {
					if !s.emit(ctx, messaging.Event{Type: messaging.EventChallenge, Challenge: st.QR}) {
						return
					}
					lastQR = st.QR
				}
			case stateConnected:
				if !connected {
					if !s.emit(ctx, messaging.Event{Type: messaging.EventConnected, Address: strings.TrimSuffix(st.Number, userSuffix)}) {
						return
					}
					connected = true
					lastQR = ""
				}
			case stateClosed:
				ev := messaging.Event{Type: messaging.EventClosed, LoggedOut: st.LoggedOut}
				if !st.LoggedOut {
					ev.Err = messaging.ErrTransportDropped
					if st.Error != "" {
						ev.Err = fmt.Errorf("%w: %s", messaging.ErrTransportDropped, st.Error)
					}
				}
				s.emit(ctx, ev)
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) status(ctx context.Context) (*sessionStatus, error) {
	var st sessionStatus
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&st).
		SetError(&errorResponse{}).
		Get("/sessions/" + s.id)
	if err != nil {
		return nil, err
	}
	if gone(resp) {
		return nil, messaging.ErrSessionClosed
	}
	if resp.IsError() {
		return nil, errors.New(describe(resp))
	}
	return &st, nil
}

func (s *Session) emit(ctx context.Context, ev messaging.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func gone(resp *resty.Response) bool {
	return resp.StatusCode() == http.StatusNotFound || resp.StatusCode() == http.StatusGone
}

func describe(resp *resty.Response) string {
	if e, ok := resp.Error().(*errorResponse); ok && e.Error != "" {
		return fmt.Sprintf("status %d: %s", resp.StatusCode(), e.Error)
	}
	return fmt.Sprintf("status %d", resp.StatusCode())
}
