package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	domain "github.com/duerelay/duerelay/internal/domain/connection"
	"github.com/duerelay/duerelay/internal/domain/messaging"
	"github.com/duerelay/duerelay/internal/domain/tenant"
)

// DefaultReconnectBackoff is the fixed delay before a reconnect attempt.
const DefaultReconnectBackoff = 5 * time.Second

var ErrShutdown = errors.New("supervisor shut down")

// Tenants is the registry view the supervisor needs.
type Tenants interface {
	Get(id string) (*tenant.Tenant, error)
	Record(id string) (*tenant.Record, error)
	UpdateConnection(id string, state domain.State, challenge, address string) error
	Remove(id string) error
	Lock(id string) (unlock func())
}

// StatusPublisher receives every connection status change.
type StatusPublisher interface {
	PublishStatus(t *tenant.Tenant)
	PublishRemoved(tenantID string)
}

type Config struct {
	ReconnectBackoff time.Duration
	// MaxAttempts caps consecutive reconnects; 0 means unlimited.
	MaxAttempts int
}

// attempt is the live connection bookkeeping of one tenant. gen identifies
// the current session; events carrying another generation are stale.
type attempt struct {
	gen      uint64
	state    domain.State
	session  messaging.Session
	timer    *time.Timer
	failures int
}

// Supervisor owns the messaging session of every tenant and drives the
// connection state machine from session events.
type Supervisor struct {
	transport messaging.Transport
	store     tenant.Store
	tenants   Tenants
	publisher StatusPublisher
	cfg       Config
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	attempts map[string]*attempt
	gen      uint64
	closed   bool

	writes *writeQueue
}

// NewSupervisor creates a connection supervisor. publisher may be nil.
func NewSupervisor(
	transport messaging.Transport,
	store tenant.Store,
	tenants Tenants,
	publisher StatusPublisher,
	cfg Config,
	logger zerolog.Logger,
) *Supervisor {
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = DefaultReconnectBackoff
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		transport: transport,
		store:     store,
		tenants:   tenants,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With().Str("service", "connection").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		attempts:  make(map[string]*attempt),
		writes:    newWriteQueue(),
	}
}

// Start opens a session for the tenant, retiring any attempt already in
// progress. Persisted credentials are reused when present.
func (s *Supervisor) Start(ctx context.Context, tenantID string) error {
	if _, err := s.tenants.Get(tenantID); err != nil {
		return err
	}
	creds, err := s.store.LoadCredentials(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	defer s.flush(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}

	a := s.attempts[tenantID]
	if a == nil {
		a = &attempt{state: domain.StateDisconnected}
		s.attempts[tenantID] = a
	}
	a.failures = 0
	a.stopTimer()
	if a.state == domain.StateDisconnected {
		s.retire(tenantID, a)
	}
	return s.fire(tenantID, a, domain.Event{Type: domain.EventStart, HasCredentials: len(creds) > 0}, creds)
}

// Send delivers text through the tenant's connected session.
func (s *Supervisor) Send(ctx context.Context, tenantID, address, text string) error {
	s.mu.Lock()
	a := s.attempts[tenantID]
	if a == nil || a.state != domain.StateConnected || a.session == nil {
		s.mu.Unlock()
		return tenant.ErrNotConnected
	}
	sess := a.session
	s.mu.Unlock()

	return sess.Send(ctx, address, text)
}

// Disconnect logs the tenant out and erases everything kept for it. Every
// step runs even when an earlier one fails; the failures are joined.
func (s *Supervisor) Disconnect(ctx context.Context, tenantID string) error {
	// Held to the end so a concurrent config write cannot bring the record
	// back after it is erased.
	unlock := s.tenants.Lock(tenantID)
	defer unlock()

	if _, err := s.tenants.Get(tenantID); err != nil {
		return err
	}

	s.mu.Lock()
	a := s.attempts[tenantID]
	state := domain.StateDisconnected
	var sess messaging.Session
	if a != nil {
		state = a.state
		sess = a.session
		a.stopTimer()
		delete(s.attempts, tenantID)
	}
	s.mu.Unlock()

	_, effects, err := domain.Transition(state, domain.Event{Type: domain.EventExplicitLogout})
	if err != nil {
		return err
	}

	log := s.logger.With().Str("tenant_id", tenantID).Logger()
	var errs []error
	for _, eff := range effects {
		var stepErr error
		switch eff.Type {
		case domain.EffectTearDown:
			if sess != nil {
				if err := sess.Logout(ctx); err != nil {
					stepErr = fmt.Errorf("failed to logout session: %w", err)
				}
				if err := sess.Close(); err != nil {
					stepErr = errors.Join(stepErr, fmt.Errorf("failed to close session: %w", err))
				}
			}
		case domain.EffectWipeCredentials:
			if err := s.store.DeleteCredentials(ctx, tenantID); err != nil {
				stepErr = fmt.Errorf("failed to delete credentials: %w", err)
			}
		case domain.EffectEraseConfig:
			if err := s.store.DeleteTenant(ctx, tenantID); err != nil {
				stepErr = fmt.Errorf("failed to delete tenant record: %w", err)
			}
		case domain.EffectRemoveTenant:
			if err := s.tenants.Remove(tenantID); err != nil && !errors.Is(err, tenant.ErrTenantNotFound) {
				stepErr = fmt.Errorf("failed to remove tenant: %w", err)
			}
			if s.publisher != nil {
				s.publisher.PublishRemoved(tenantID)
			}
		}
		if stepErr != nil {
			log.Error().Err(stepErr).Str("step", string(eff.Type)).Msg("disconnect step failed")
			errs = append(errs, stepErr)
		}
	}
	log.Info().Msg("tenant disconnected")
	return errors.Join(errs...)
}

// Shutdown closes every session and stops reconnect timers. Sessions stay
// linked so the next boot reconnects with the persisted credentials.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	var sessions []messaging.Session
	for id, a := range s.attempts {
		a.stopTimer()
		if a.session != nil {
			sessions = append(sessions, a.session)
		}
		delete(s.attempts, id)
	}
	s.mu.Unlock()
	s.cancel()

	var errs []error
	for _, sess := range sessions {
		if err := sess.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}

// State reports the machine state of the tenant's connection.
func (s *Supervisor) State(tenantID string) domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a := s.attempts[tenantID]; a != nil {
		return a.state
	}
	return domain.StateDisconnected
}

// fire runs one transition and applies its in-memory effects. Store writes
// are queued and run by flush once the caller has released s.mu. Caller
// holds s.mu.
func (s *Supervisor) fire(tenantID string, a *attempt, ev domain.Event, creds []byte) error {
	next, effects, err := domain.Transition(a.state, ev)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("tenant_id", tenantID).
			Str("state", string(a.state)).
			Str("event", string(ev.Type)).
			Msg("connection event rejected")
		return err
	}
	prev := a.state
	a.state = next

	log := s.logger.With().Str("tenant_id", tenantID).Logger()
	for _, eff := range effects {
		switch eff.Type {
		case domain.EffectTearDown:
			a.stopTimer()
			s.retire(tenantID, a)

		case domain.EffectOpenSession:
			s.gen++
			a.gen = s.gen
			s.wg.Add(1)
			go s.open(tenantID, a.gen, creds)

		case domain.EffectSurfaceChallenge:
			s.updateRegistry(tenantID, domain.StatePairing, eff.Challenge, "")

		case domain.EffectMarkConnected:
			a.failures = 0
			s.updateRegistry(tenantID, domain.StateConnected, "", eff.Address)
			s.writes.push(tenantID, s.saveRecord(tenantID))
			log.Info().Str("address", eff.Address).Msg("connected")

		case domain.EffectMarkDisconnected:
			s.updateRegistry(tenantID, domain.StateDisconnected, "", "")

		case domain.EffectPersistCredentials:
			s.writes.push(tenantID, s.saveCredentials(tenantID, creds))

		case domain.EffectScheduleReconnect:
			if s.cfg.MaxAttempts > 0 && a.failures >= s.cfg.MaxAttempts {
				log.Warn().Int("attempts", a.failures).Msg("reconnect limit reached, giving up")
				continue
			}
			a.failures++
			gen := a.gen
			a.timer = time.AfterFunc(s.cfg.ReconnectBackoff, func() { s.reconnect(tenantID, gen) })
			log.Info().Int("attempt", a.failures).Dur("backoff", s.cfg.ReconnectBackoff).Msg("reconnect scheduled")

		case domain.EffectWipeCredentials:
			s.writes.push(tenantID, s.erase(tenantID, "delete credentials", s.store.DeleteCredentials))

		case domain.EffectEraseConfig:
			s.writes.push(tenantID, s.erase(tenantID, "delete tenant record", s.store.DeleteTenant))

		case domain.EffectRemoveTenant:
			delete(s.attempts, tenantID)
			if err := s.tenants.Remove(tenantID); err != nil && !errors.Is(err, tenant.ErrTenantNotFound) {
				log.Error().Err(err).Msg("failed to remove tenant")
			}
			if s.publisher != nil {
				s.publisher.PublishRemoved(tenantID)
			}
		}
	}
	if prev != next {
		log.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("connection state changed")
	}
	return nil
}

// open runs outside the lock; the session is dropped if the attempt was
// retired in the meantime.
func (s *Supervisor) open(tenantID string, gen uint64, creds []byte) {
	defer s.wg.Done()

	sess, err := s.transport.Open(s.ctx, tenantID, creds)

	defer s.flush(tenantID)
	s.mu.Lock()
	a := s.attempts[tenantID]
	current := !s.closed && a != nil && a.gen == gen
	if err != nil {
		if current {
			s.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("failed to open session")
			a.gen = s.nextGen()
			_ = s.fire(tenantID, a, domain.Event{Type: domain.EventDropped}, nil)
		}
		s.mu.Unlock()
		return
	}
	if !current {
		s.mu.Unlock()
		closeQuietly(sess, s.logger)
		return
	}
	a.session = sess
	s.wg.Add(1)
	s.mu.Unlock()

	go s.watch(tenantID, gen, sess)
}

func (s *Supervisor) watch(tenantID string, gen uint64, sess messaging.Session) {
	defer s.wg.Done()
	for ev := range sess.Events() {
		s.handle(tenantID, gen, ev)
		if ev.Type == messaging.EventClosed {
			return
		}
	}
	s.handle(tenantID, gen, messaging.Event{Type: messaging.EventClosed, Err: messaging.ErrTransportDropped})
}

func (s *Supervisor) handle(tenantID string, gen uint64, ev messaging.Event) {
	defer s.flush(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.attempts[tenantID]
	if s.closed || a == nil || a.gen != gen {
		return
	}

	var dev domain.Event
	switch ev.Type {
	case messaging.EventChallenge:
		dev = domain.Event{Type: domain.EventChallenge, Challenge: ev.Challenge}
	case messaging.EventCredentials:
		dev = domain.Event{Type: domain.EventCredentialsUpdated}
	case messaging.EventConnected:
		dev = domain.Event{Type: domain.EventHandshakeComplete, Address: ev.Address}
	case messaging.EventClosed:
		s.logger.Warn().Err(ev.Err).
			Str("tenant_id", tenantID).
			Bool("logged_out", ev.LoggedOut).
			Msg("session closed")
		// The session is gone; anything it still reports is stale.
		s.retire(tenantID, a)
		a.gen = s.nextGen()
		dev = domain.Event{Type: domain.EventDropped, Terminal: ev.LoggedOut}
	default:
		return
	}
	_ = s.fire(tenantID, a, dev, ev.Credentials)
}

func (s *Supervisor) reconnect(tenantID string, gen uint64) {
	s.mu.Lock()
	a := s.attempts[tenantID]
	if s.closed || a == nil || a.gen != gen {
		s.mu.Unlock()
		return
	}
	a.timer = nil
	s.mu.Unlock()

	creds, err := s.store.LoadCredentials(s.ctx, tenantID)
	if err != nil {
		s.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("failed to load credentials for reconnect")
	}

	defer s.flush(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()
	a = s.attempts[tenantID]
	if s.closed || a == nil || a.gen != gen {
		return
	}
	_ = s.fire(tenantID, a, domain.Event{Type: domain.EventReconnectDue, HasCredentials: len(creds) > 0}, creds)
}

// retire detaches the attempt's session and closes it in the background.
func (s *Supervisor) retire(tenantID string, a *attempt) {
	sess := a.session
	a.session = nil
	if sess == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		closeQuietly(sess, s.logger.With().Str("tenant_id", tenantID).Logger())
	}()
}

func (s *Supervisor) updateRegistry(tenantID string, state domain.State, challenge, address string) {
	if err := s.tenants.UpdateConnection(tenantID, state, challenge, address); err != nil {
		s.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("failed to update tenant connection")
		return
	}
	if s.publisher == nil {
		return
	}
	if t, err := s.tenants.Get(tenantID); err == nil {
		s.publisher.PublishStatus(t)
	}
}

// flush runs the tenant's queued store writes under the tenant lock. It
// must not be called with s.mu held: a slow store only delays this tenant.
func (s *Supervisor) flush(tenantID string) {
	s.writes.drain(tenantID, func(w storeWrite) {
		unlock := s.tenants.Lock(tenantID)
		defer unlock()
		if err := w.run(s.ctx); err != nil {
			s.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("failed to " + w.name)
		}
	})
}

// saveRecord persists the tenant as it is when the write runs. A tenant
// removed in the meantime is not written back.
func (s *Supervisor) saveRecord(tenantID string) storeWrite {
	return storeWrite{name: "persist tenant record", run: func(ctx context.Context) error {
		rec, err := s.tenants.Record(tenantID)
		if err != nil {
			return nil
		}
		return s.store.SaveTenant(ctx, rec)
	}}
}

func (s *Supervisor) saveCredentials(tenantID string, creds []byte) storeWrite {
	return storeWrite{name: "persist credentials", run: func(ctx context.Context) error {
		if _, err := s.tenants.Get(tenantID); err != nil {
			return nil
		}
		return s.store.SaveCredentials(ctx, tenantID, creds)
	}}
}

// erase runs a teardown delete unless a tenant with the same id was
// registered again before the write ran.
func (s *Supervisor) erase(tenantID, name string, del func(context.Context, string) error) storeWrite {
	return storeWrite{name: name, run: func(ctx context.Context) error {
		if _, err := s.tenants.Get(tenantID); err == nil {
			return nil
		}
		return del(ctx, tenantID)
	}}
}

func (s *Supervisor) nextGen() uint64 {
	s.gen++
	return s.gen
}

func (a *attempt) stopTimer() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func closeQuietly(sess messaging.Session, logger zerolog.Logger) {
	if err := sess.Close(); err != nil && !errors.Is(err, messaging.ErrSessionClosed) {
		logger.Debug().Err(err).Msg("failed to close session")
	}
}
