package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duerelay/duerelay/internal/application/dispatch"
)

type staticTenants []string

func (s staticTenants) Eligible() []string { return s }

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   map[string]int
	err     map[string]error
	block   chan struct{}
	started chan string
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{calls: map[string]int{}, err: map[string]error{}}
}

func (f *fakeDispatcher) Run(ctx context.Context, tenantID string) (dispatch.Outcome, error) {
	f.mu.Lock()
	f.calls[tenantID]++
	err := f.err[tenantID]
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		started <- tenantID
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return dispatch.Outcome{Ran: true}, err
	}
	return dispatch.Outcome{Ran: true, Sent: 1}, nil
}

func (f *fakeDispatcher) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func saoPaulo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	return loc
}

func TestScheduler_TickEveryPeriodWithoutWindow(t *testing.T) {
	d := newFakeDispatcher()
	s := New(staticTenants{"a", "b"}, d, Config{SendHour: -1}, zerolog.Nop())

	assert.Equal(t, 2, s.Tick(context.Background()))
	assert.Equal(t, 2, s.Tick(context.Background()))
	s.Wait()

	assert.Equal(t, 2, d.count("a"))
	assert.Equal(t, 2, d.count("b"))
	assert.Equal(t, int64(2), s.Status().Ticks)
}

func TestScheduler_DailyWindow(t *testing.T) {
	loc := saoPaulo(t)
	d := newFakeDispatcher()
	s := New(staticTenants{"a"}, d, Config{SendHour: 9, Location: loc}, zerolog.Nop())

	now := time.Date(2025, 3, 7, 8, 59, 0, 0, loc)
	s.now = func() time.Time { return now }
	assert.Equal(t, 0, s.Tick(context.Background()), "before the send hour")

	now = time.Date(2025, 3, 7, 9, 0, 0, 0, loc)
	assert.Equal(t, 1, s.Tick(context.Background()))
	s.Wait()

	now = time.Date(2025, 3, 7, 15, 30, 0, 0, loc)
	assert.Equal(t, 0, s.Tick(context.Background()), "already dispatched today")

	now = time.Date(2025, 3, 8, 9, 1, 0, 0, loc)
	assert.Equal(t, 1, s.Tick(context.Background()))
	s.Wait()
	assert.Equal(t, 2, d.count("a"))
}

func TestScheduler_WindowUsesConfiguredZone(t *testing.T) {
	loc := saoPaulo(t)
	d := newFakeDispatcher()
	s := New(staticTenants{"a"}, d, Config{SendHour: 9, Location: loc}, zerolog.Nop())

	// 11:00 UTC is 08:00 in Sao Paulo.
	s.now = func() time.Time { return time.Date(2025, 3, 7, 11, 0, 0, 0, time.UTC) }
	assert.Equal(t, 0, s.Tick(context.Background()))

	s.now = func() time.Time { return time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC) }
	assert.Equal(t, 1, s.Tick(context.Background()))
	s.Wait()
}

func TestScheduler_FailedCycleIsRetried(t *testing.T) {
	d := newFakeDispatcher()
	d.err["a"] = errors.New("sheet unavailable")
	s := New(staticTenants{"a"}, d, Config{SendHour: 0}, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2025, 3, 7, 10, 0, 0, 0, time.UTC) }

	assert.Equal(t, 1, s.Tick(context.Background()))
	s.Wait()
	assert.Equal(t, 1, s.Tick(context.Background()), "aborted cycle does not count for the day")
	s.Wait()

	d.mu.Lock()
	delete(d.err, "a")
	d.mu.Unlock()
	assert.Equal(t, 1, s.Tick(context.Background()))
	s.Wait()
	assert.Equal(t, 0, s.Tick(context.Background()))
	assert.Equal(t, 3, d.count("a"))
}

func TestScheduler_PauseSkipsTicks(t *testing.T) {
	d := newFakeDispatcher()
	s := New(staticTenants{"a"}, d, Config{SendHour: -1}, zerolog.Nop())

	s.Pause()
	s.Pause()
	assert.True(t, s.Paused())
	assert.True(t, s.Status().Paused)
	assert.Equal(t, 0, s.Tick(context.Background()))

	s.Resume()
	assert.False(t, s.Paused())
	assert.Equal(t, 1, s.Tick(context.Background()))
	s.Wait()
	assert.Equal(t, 1, d.count("a"))
}

func TestScheduler_TenantsDoNotWaitForEachOther(t *testing.T) {
	d := newFakeDispatcher()
	d.block = make(chan struct{})
	d.started = make(chan string, 3)
	s := New(staticTenants{"slow", "b", "c"}, d, Config{SendHour: -1}, zerolog.Nop())

	require.Equal(t, 3, s.Tick(context.Background()))

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case id := <-d.started:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("tenant cycles were serialized")
		}
	}
	assert.Len(t, seen, 3)

	close(d.block)
	s.Wait()
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	d := newFakeDispatcher()
	s := New(staticTenants{"a"}, d, Config{Period: 10 * time.Millisecond, SendHour: -1}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return d.count("a") >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	s.Wait()
}

func TestScheduler_StartupDelay(t *testing.T) {
	d := newFakeDispatcher()
	s := New(staticTenants{"a"}, d, Config{Period: time.Hour, StartupDelay: time.Hour, SendHour: -1}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, 0, d.count("a"))
}

func TestScheduler_Forget(t *testing.T) {
	d := newFakeDispatcher()
	s := New(staticTenants{"a"}, d, Config{SendHour: 0}, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2025, 3, 7, 10, 0, 0, 0, time.UTC) }

	s.Tick(context.Background())
	s.Wait()
	assert.Equal(t, 0, s.Tick(context.Background()))

	s.Forget("a")
	assert.Equal(t, 1, s.Tick(context.Background()))
	s.Wait()
}
