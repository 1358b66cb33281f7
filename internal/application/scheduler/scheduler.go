package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/duerelay/duerelay/internal/application/dispatch"
)

const (
	DefaultPeriod       = 60 * time.Second
	DefaultStartupDelay = 30 * time.Second
	DefaultSendHour     = 9
)

// Dispatcher runs one cycle for a tenant.
type Dispatcher interface {
	Run(ctx context.Context, tenantID string) (dispatch.Outcome, error)
}

// Tenants lists the tenants a tick may dispatch.
type Tenants interface {
	Eligible() []string
}

type Config struct {
	Period       time.Duration
	StartupDelay time.Duration
	// SendHour is the local hour from which a tenant is dispatched once a
	// day. A negative hour dispatches on every tick.
	SendHour int
	Location *time.Location
}

// Status is the scheduler view served by the admin API.
type Status struct {
	Paused   bool      `json:"paused"`
	Period   string    `json:"period"`
	SendHour int       `json:"sendHour"`
	Timezone string    `json:"timezone"`
	LastTick time.Time `json:"lastTick,omitempty"`
	Ticks    int64     `json:"ticks"`
}

// Scheduler fires dispatch cycles for every eligible tenant on a fixed
// period. Tenants never wait on each other.
type Scheduler struct {
	tenants    Tenants
	dispatcher Dispatcher
	cfg        Config
	now        func() time.Time
	logger     zerolog.Logger

	paused atomic.Bool
	ticks  atomic.Int64
	wg     sync.WaitGroup

	mu       sync.Mutex
	lastRun  map[string]string
	lastTick time.Time
}

func New(tenants Tenants, dispatcher Dispatcher, cfg Config, logger zerolog.Logger) *Scheduler {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.StartupDelay < 0 {
		cfg.StartupDelay = 0
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{
		tenants:    tenants,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.With().Str("service", "scheduler").Logger(),
		lastRun:    make(map[string]string),
	}
}

// Run blocks until ctx is done, ticking after the startup delay.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info().
		Dur("startup_delay", s.cfg.StartupDelay).
		Dur("period", s.cfg.Period).
		Int("send_hour", s.cfg.SendHour).
		Str("timezone", s.cfg.Location.String()).
		Msg("scheduler starting")

	if s.cfg.StartupDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.StartupDelay):
		}
	}

	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick starts a cycle for every eligible tenant that is due and returns how
// many were started. A paused scheduler starts none.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()
	local := now.In(s.cfg.Location)
	s.ticks.Add(1)

	s.mu.Lock()
	s.lastTick = now
	s.mu.Unlock()

	if s.paused.Load() {
		s.logger.Info().Str("local_time", local.Format("2006-01-02 15:04:05")).Msg("scheduler paused, skipping tick")
		return 0
	}

	started := 0
	for _, id := range s.tenants.Eligible() {
		if !s.due(id, local) {
			continue
		}
		started++
		s.wg.Add(1)
		go s.runTenant(ctx, id, local)
	}
	s.logger.Debug().
		Str("local_time", local.Format("2006-01-02 15:04:05")).
		Int("started", started).
		Msg("scheduler tick")
	return started
}

func (s *Scheduler) runTenant(ctx context.Context, tenantID string, local time.Time) {
	defer s.wg.Done()

	out, err := s.dispatcher.Run(ctx, tenantID)
	if err != nil {
		s.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("scheduled cycle failed")
		return
	}
	if out.Ran {
		s.mu.Lock()
		s.lastRun[tenantID] = dayKey(local)
		s.mu.Unlock()
	}
}

func (s *Scheduler) due(tenantID string, local time.Time) bool {
	if s.cfg.SendHour < 0 {
		return true
	}
	if local.Hour() < s.cfg.SendHour {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun[tenantID] != dayKey(local)
}

// Forget drops the daily bookkeeping of a removed tenant.
func (s *Scheduler) Forget(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastRun, tenantID)
}

func (s *Scheduler) Pause() {
	if !s.paused.Swap(true) {
		s.logger.Info().Msg("scheduler paused")
	}
}

func (s *Scheduler) Resume() {
	if s.paused.Swap(false) {
		s.logger.Info().Msg("scheduler resumed")
	}
}

func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	lastTick := s.lastTick
	s.mu.Unlock()
	return Status{
		Paused:   s.paused.Load(),
		Period:   s.cfg.Period.String(),
		SendHour: s.cfg.SendHour,
		Timezone: s.cfg.Location.String(),
		LastTick: lastTick,
		Ticks:    s.ticks.Load(),
	}
}

// Wait blocks until every started cycle has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
