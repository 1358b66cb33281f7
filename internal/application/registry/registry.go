package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/duerelay/duerelay/internal/domain/connection"
	"github.com/duerelay/duerelay/internal/domain/tenant"
)

type entry struct {
	state     tenant.Tenant
	tokenHash string
	running   bool
}

// tenantLock is held while one tenant's persisted state is written.
type tenantLock struct {
	mu   sync.Mutex
	refs int
}

// Registry is the in-memory map of live tenants. All state is reached through
// its methods; callers only ever see copies.
type Registry struct {
	mu      sync.Mutex
	tenants map[string]*entry

	locksMu sync.Mutex
	locks   map[string]*tenantLock
}

func New() *Registry {
	return &Registry{
		tenants: make(map[string]*entry),
		locks:   make(map[string]*tenantLock),
	}
}

// Lock serializes the store writes of one tenant: config updates,
// connection bookkeeping and teardown. It outlives the tenant entry so a
// writer racing a removal still waits its turn. Other tenants are not
// affected.
func (r *Registry) Lock(id string) (unlock func()) {
	r.locksMu.Lock()
	l := r.locks[id]
	if l == nil {
		l = &tenantLock{}
		r.locks[id] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.locksMu.Lock()
		defer r.locksMu.Unlock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, id)
		}
	}
}

// Create registers a new tenant in the Disconnected state.
func (r *Registry) Create(id, tokenHash string, createdAt time.Time) (*tenant.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tenants[id]; ok {
		return nil, tenant.ErrTenantExists
	}
	e := &entry{
		state: tenant.Tenant{
			ID:         id,
			Connection: connection.StateDisconnected,
			CreatedAt:  createdAt.UTC(),
		},
		tokenHash: tokenHash,
	}
	r.tenants[id] = e
	return e.snapshot(), nil
}

// Restore re-registers a persisted tenant. The connection starts
// Disconnected whatever it was before the restart.
func (r *Registry) Restore(rec *tenant.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tenants[rec.ID]; ok {
		return tenant.ErrTenantExists
	}
	r.tenants[rec.ID] = &entry{
		state: tenant.Tenant{
			ID:         rec.ID,
			Connection: connection.StateDisconnected,
			Config:     copyConfig(rec.Config),
			CreatedAt:  rec.CreatedAt,
		},
		tokenHash: rec.TokenHash,
	}
	return nil
}

// Get returns a copy of the tenant's state.
func (r *Registry) Get(id string) (*tenant.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tenants[id]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	return e.snapshot(), nil
}

// Record returns the persistable form of the tenant.
func (r *Registry) Record(id string) (*tenant.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tenants[id]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	return &tenant.Record{
		ID:        e.state.ID,
		TokenHash: e.tokenHash,
		Address:   e.state.Address,
		Config:    copyConfig(e.state.Config),
		CreatedAt: e.state.CreatedAt,
	}, nil
}

// Eligible lists the tenants a scheduler tick should dispatch: connected and
// configured.
func (r *Registry) Eligible() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, e := range r.tenants {
		if e.state.IsConnected() && e.state.HasConfig() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SetConfig replaces the tenant config. Only connected tenants accept one.
func (r *Registry) SetConfig(id string, cfg tenant.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tenants[id]
	if !ok {
		return tenant.ErrTenantNotFound
	}
	if !e.state.IsConnected() {
		return tenant.ErrNotConnected
	}
	e.state.Config = copyConfig(&cfg)
	return nil
}

// ResetConfig puts back a config previously read from the tenant, nil
// included. It is the undo of SetConfig and skips the connection check.
func (r *Registry) ResetConfig(id string, cfg *tenant.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tenants[id]
	if !ok {
		return tenant.ErrTenantNotFound
	}
	e.state.Config = copyConfig(cfg)
	return nil
}

// UpdateConnection records a connection state change. The challenge is only
// kept while pairing and the address only while connected.
func (r *Registry) UpdateConnection(id string, state connection.State, challenge, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tenants[id]
	if !ok {
		return tenant.ErrTenantNotFound
	}
	e.state.Connection = state
	e.state.Challenge = ""
	e.state.Address = ""
	switch state {
	case connection.StatePairing:
		e.state.Challenge = challenge
	case connection.StateConnected:
		e.state.Address = address
	}
	return nil
}

// TryAcquireRun takes the tenant's run lock. The returned release must be
// called exactly once; extra calls are no-ops.
func (r *Registry) TryAcquireRun(id string) (release func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, found := r.tenants[id]
	if !found || e.running {
		return func() {}, false
	}
	e.running = true

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			// The tenant may have been removed and recreated meanwhile.
			if cur, ok := r.tenants[id]; ok && cur == e {
				cur.running = false
			}
		})
	}, true
}

// SetLastCycle stores the outcome of the latest dispatch cycle.
func (r *Registry) SetLastCycle(id string, summary tenant.CycleSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.tenants[id]; ok {
		s := summary
		e.state.LastCycle = &s
	}
}

// TokenHash returns the bcrypt hash of the tenant's access token.
func (r *Registry) TokenHash(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tenants[id]
	if !ok {
		return "", tenant.ErrTenantNotFound
	}
	return e.tokenHash, nil
}

// Remove deletes the tenant. Removing an unknown tenant is an error.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tenants[id]; !ok {
		return tenant.ErrTenantNotFound
	}
	delete(r.tenants, id)
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tenants)
}

func (e *entry) snapshot() *tenant.Tenant {
	t := e.state
	t.TokenHash = e.tokenHash
	t.Running = e.running
	t.Config = copyConfig(e.state.Config)
	if e.state.LastCycle != nil {
		lc := *e.state.LastCycle
		t.LastCycle = &lc
	}
	return &t
}

func copyConfig(c *tenant.Config) *tenant.Config {
	if c == nil {
		return nil
	}
	out := *c
	if c.Rules.ReminderOffsets != nil {
		out.Rules.ReminderOffsets = append([]int(nil), c.Rules.ReminderOffsets...)
	}
	return &out
}
