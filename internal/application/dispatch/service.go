package dispatch

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_sender.go -package=mocks . Sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/duerelay/duerelay/internal/domain/ledger"
	"github.com/duerelay/duerelay/internal/domain/notification"
	"github.com/duerelay/duerelay/internal/domain/phone"
	"github.com/duerelay/duerelay/internal/domain/tenant"
)

// DefaultSendDelay is the pause between two sends of one cycle.
const DefaultSendDelay = 2 * time.Second

var ErrSendFailure = errors.New("send failure")

// Tenants is the registry view the dispatcher needs.
type Tenants interface {
	Get(id string) (*tenant.Tenant, error)
	TryAcquireRun(id string) (release func(), ok bool)
	SetLastCycle(id string, summary tenant.CycleSummary)
}

// Sender delivers a text through the tenant's live session.
type Sender interface {
	Send(ctx context.Context, tenantID, address, text string) error
}

// Outcome counts what one cycle did. Ran is false when the cycle was a no-op.
type Outcome struct {
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Ran        bool      `json:"ran"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

type Config struct {
	SendDelay time.Duration
	// Location decides what "today" is for due date comparisons.
	Location *time.Location
}

// Service runs dispatch cycles.
type Service struct {
	tenants Tenants
	source  ledger.RowSource
	sender  Sender
	cfg     Config
	now     func() time.Time
	logger  zerolog.Logger
}

// NewService creates a new dispatch service
func NewService(tenants Tenants, source ledger.RowSource, sender Sender, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SendDelay < 0 {
		cfg.SendDelay = 0
	}
	return &Service{
		tenants: tenants,
		source:  source,
		sender:  sender,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With().Str("service", "dispatch").Logger(),
	}
}

// Run executes one cycle for the tenant. Missing, disconnected, unconfigured
// or already running tenants yield a zero Outcome and no error. A ledger
// failure aborts the cycle and is returned with the counts so far.
//
// The cycle does not end with ctx: a caller that goes away (a closed request,
// a stopping scheduler) leaves it running to the last row. Shutdown waits for
// cycles instead of cutting them.
func (s *Service) Run(ctx context.Context, tenantID string) (Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	t, err := s.tenants.Get(tenantID)
	if err != nil || !t.IsConnected() || !t.HasConfig() {
		return Outcome{}, nil
	}

	release, ok := s.tenants.TryAcquireRun(tenantID)
	if !ok {
		s.logger.Debug().Str("tenant_id", tenantID).Msg("cycle already running, skipping")
		return Outcome{}, nil
	}
	defer release()

	out := Outcome{Ran: true, StartedAt: s.now().UTC()}
	runErr := s.process(ctx, t, &out)
	out.FinishedAt = s.now().UTC()

	summary := tenant.CycleSummary{
		Sent:       out.Sent,
		Failed:     out.Failed,
		Skipped:    out.Skipped,
		StartedAt:  out.StartedAt,
		FinishedAt: out.FinishedAt,
	}
	if runErr != nil {
		summary.Error = runErr.Error()
		s.logger.Error().Err(runErr).
			Str("tenant_id", tenantID).
			Int("sent", out.Sent).
			Int("failed", out.Failed).
			Int("skipped", out.Skipped).
			Msg("dispatch cycle aborted")
	} else {
		s.logger.Info().
			Str("tenant_id", tenantID).
			Int("sent", out.Sent).
			Int("failed", out.Failed).
			Int("skipped", out.Skipped).
			Dur("took", out.FinishedAt.Sub(out.StartedAt)).
			Msg("dispatch cycle finished")
	}
	s.tenants.SetLastCycle(tenantID, summary)
	return out, runErr
}

func (s *Service) process(ctx context.Context, t *tenant.Tenant, out *Outcome) error {
	classifier, err := notification.NewClassifier(t.Config.Policy())
	if err != nil {
		return fmt.Errorf("failed to compile policy: %w", err)
	}

	rows, err := s.source.Open(ctx, t.Config.LedgerLocator)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer rows.Close()

	limiter := s.newLimiter()
	today := s.now().In(s.cfg.Location)
	log := s.logger.With().Str("tenant_id", t.ID).Logger()

	for line := 1; ; line++ {
		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read ledger row %d: %w", line, err)
		}

		rec := ledger.RecordFromRow(row)
		decision, ok := classifier.Classify(rec, today)
		if !ok {
			out.Skipped++
			continue
		}

		address, err := phone.Normalize(rec.Phone)
		if err != nil {
			out.Failed++
			log.Warn().Err(err).Int("row", line).Str("name", rec.Name).Msg("invalid phone number")
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		if err := s.sender.Send(ctx, t.ID, address, decision.Render()); err != nil {
			out.Failed++
			log.Warn().Err(fmt.Errorf("%w: %v", ErrSendFailure, err)).
				Int("row", line).
				Str("kind", string(decision.Kind)).
				Msg("failed to send notification")
			continue
		}
		out.Sent++
		log.Debug().Int("row", line).Str("kind", string(decision.Kind)).Msg("notification sent")
	}
}

func (s *Service) newLimiter() *rate.Limiter {
	if s.cfg.SendDelay == 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(s.cfg.SendDelay), 1)
}
