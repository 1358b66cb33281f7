package setup

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/duerelay/duerelay/internal/application/dispatch"
	"github.com/duerelay/duerelay/internal/application/registry"
	"github.com/duerelay/duerelay/internal/domain/tenant"
)

var (
	ErrInvalidClientID = errors.New("invalid client id")
	ErrNoConfig        = errors.New("tenant has no config")
	ErrCycleInProgress = errors.New("dispatch cycle already running")
	ErrNoChallenge     = errors.New("no pairing challenge available")
)

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// Connections starts and tears down tenant sessions.
type Connections interface {
	Start(ctx context.Context, tenantID string) error
	Disconnect(ctx context.Context, tenantID string) error
}

// Dispatcher runs a dispatch cycle on demand.
type Dispatcher interface {
	Run(ctx context.Context, tenantID string) (dispatch.Outcome, error)
}

// DayTracker forgets per-tenant scheduling state.
type DayTracker interface {
	Forget(tenantID string)
}

// Created is returned once per tenant; the token is never shown again.
type Created struct {
	ClientID string            `json:"clientId"`
	Token    string            `json:"token,omitempty"`
	Status   tenant.StatusView `json:"status"`
}

// Service implements the tenant facing setup operations.
type Service struct {
	tenants     *registry.Registry
	store       tenant.Store
	connections Connections
	dispatcher  Dispatcher
	days        DayTracker
	logger      zerolog.Logger
}

// NewService creates a new setup service. days may be nil.
func NewService(
	tenants *registry.Registry,
	store tenant.Store,
	connections Connections,
	dispatcher Dispatcher,
	days DayTracker,
	logger zerolog.Logger,
) *Service {
	return &Service{
		tenants:     tenants,
		store:       store,
		connections: connections,
		dispatcher:  dispatcher,
		days:        days,
		logger:      logger.With().Str("service", "setup").Logger(),
	}
}

// CreateTenant registers a tenant and starts pairing. An existing tenant is
// restarted when the caller proves ownership with its token.
func (s *Service) CreateTenant(ctx context.Context, clientID, token string) (*Created, error) {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	if !clientIDPattern.MatchString(clientID) {
		return nil, ErrInvalidClientID
	}

	if existing, err := s.tenants.Get(clientID); err == nil {
		if !tenant.VerifyToken(existing.TokenHash, token) {
			return nil, tenant.ErrTenantExists
		}
		if !existing.IsConnected() {
			if err := s.connections.Start(ctx, clientID); err != nil {
				return nil, fmt.Errorf("failed to restart connection: %w", err)
			}
		}
		return s.created(clientID, "")
	}

	plain, hash, err := tenant.IssueToken()
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	if _, err := s.tenants.Create(clientID, hash, time.Now()); err != nil {
		return nil, err
	}

	rec, err := s.tenants.Record(clientID)
	if err == nil {
		err = s.store.SaveTenant(ctx, rec)
	}
	if err != nil {
		_ = s.tenants.Remove(clientID)
		return nil, fmt.Errorf("failed to persist tenant: %w", err)
	}

	if err := s.connections.Start(ctx, clientID); err != nil {
		_ = s.tenants.Remove(clientID)
		if delErr := s.store.DeleteTenant(ctx, clientID); delErr != nil {
			s.logger.Error().Err(delErr).Str("tenant_id", clientID).Msg("failed to roll back tenant record")
		}
		return nil, fmt.Errorf("failed to start connection: %w", err)
	}

	s.logger.Info().Str("tenant_id", clientID).Msg("tenant created")
	return s.created(clientID, plain)
}

// Authenticate checks the tenant access token.
func (s *Service) Authenticate(clientID, token string) error {
	hash, err := s.tenants.TokenHash(clientID)
	if err != nil {
		return err
	}
	if !tenant.VerifyToken(hash, token) {
		return tenant.ErrInvalidToken
	}
	return nil
}

func (s *Service) Status(clientID string) (tenant.StatusView, error) {
	t, err := s.tenants.Get(clientID)
	if err != nil {
		return tenant.StatusView{}, err
	}
	return t.Status(), nil
}

// Challenge returns the pending pairing challenge.
func (s *Service) Challenge(clientID string) (string, error) {
	t, err := s.tenants.Get(clientID)
	if err != nil {
		return "", err
	}
	if t.Challenge == "" {
		return "", ErrNoChallenge
	}
	return t.Challenge, nil
}

// SetConfig validates and stores the tenant config. Nothing changes when
// validation or persistence fails. It runs under the tenant lock, so a
// disconnect either sees the new config or finds the tenant already gone.
func (s *Service) SetConfig(ctx context.Context, clientID string, cfg tenant.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	unlock := s.tenants.Lock(clientID)
	defer unlock()

	prev, err := s.tenants.Get(clientID)
	if err != nil {
		return err
	}
	if err := s.tenants.SetConfig(clientID, cfg); err != nil {
		return err
	}
	rec, err := s.tenants.Record(clientID)
	if err == nil {
		err = s.store.SaveTenant(ctx, rec)
	}
	if err != nil {
		if resetErr := s.tenants.ResetConfig(clientID, prev.Config); resetErr != nil {
			s.logger.Warn().Err(resetErr).Str("tenant_id", clientID).Msg("failed to roll back config")
		}
		return fmt.Errorf("failed to persist config: %w", err)
	}
	s.logger.Info().Str("tenant_id", clientID).Str("sheet", cfg.LedgerLocator).Msg("config updated")
	return nil
}

// Trigger runs a dispatch cycle now and waits for its outcome.
func (s *Service) Trigger(ctx context.Context, clientID string) (dispatch.Outcome, error) {
	t, err := s.tenants.Get(clientID)
	if err != nil {
		return dispatch.Outcome{}, err
	}
	if !t.IsConnected() {
		return dispatch.Outcome{}, tenant.ErrNotConnected
	}
	if !t.HasConfig() {
		return dispatch.Outcome{}, ErrNoConfig
	}

	out, err := s.dispatcher.Run(ctx, clientID)
	if err != nil {
		return out, err
	}
	if !out.Ran {
		return out, ErrCycleInProgress
	}
	return out, nil
}

// Disconnect logs the tenant out and erases it.
func (s *Service) Disconnect(ctx context.Context, clientID string) error {
	err := s.connections.Disconnect(ctx, clientID)
	if errors.Is(err, tenant.ErrTenantNotFound) {
		return err
	}
	if s.days != nil {
		s.days.Forget(clientID)
	}
	return err
}

// Restore re-registers every persisted tenant and reconnects it. One broken
// tenant does not stop the others.
func (s *Service) Restore(ctx context.Context) (int, error) {
	records, err := s.store.LoadTenants(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load tenants: %w", err)
	}

	restored := 0
	for _, rec := range records {
		log := s.logger.With().Str("tenant_id", rec.ID).Logger()
		if err := s.tenants.Restore(rec); err != nil {
			log.Warn().Err(err).Msg("failed to restore tenant")
			continue
		}
		if err := s.connections.Start(ctx, rec.ID); err != nil {
			log.Error().Err(err).Msg("failed to reconnect restored tenant")
			continue
		}
		restored++
	}
	s.logger.Info().
		Int("restored", restored).
		Int("persisted", len(records)).
		Int("registered", s.tenants.Len()).
		Msg("tenants restored")
	return restored, nil
}

func (s *Service) created(clientID, token string) (*Created, error) {
	status, err := s.Status(clientID)
	if err != nil {
		return nil, err
	}
	return &Created{ClientID: clientID, Token: token, Status: status}, nil
}
