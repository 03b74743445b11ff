package credentials

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vico_home/actorcast/internal/domain"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs due timers synchronously.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) pending() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

type mockService struct {
	mu    sync.Mutex
	calls int
	err   error
	creds *domain.RelayCredentials
}

func (m *mockService) RequestRelayCredentials(ctx context.Context, localID string) (*domain.RelayCredentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.creds, nil
}

func (m *mockService) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func turnCreds(ttl int) *domain.RelayCredentials {
	return &domain.RelayCredentials{
		Servers: []domain.ICEServer{
			{URLs: []string{"stun:stun.example.com:3478"}},
			{URLs: []string{"turn:turn.example.com:3478?transport=udp"}, Username: "u", Credential: "p"},
		},
		TTLSeconds: ttl,
	}
}

func TestRefreshDelay(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		expiry time.Time
		want   time.Duration
	}{
		{"far expiry", now.Add(time.Hour), 55 * time.Minute},
		{"inside margin", now.Add(3 * time.Minute), time.Minute},
		{"already expired", now.Add(-time.Hour), time.Minute},
		{"just above floor", now.Add(7 * time.Minute), 2 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RefreshDelay(tt.expiry, now, 5*time.Minute, time.Minute)
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestFetch_RelayProvenance(t *testing.T) {
	clock := newFakeClock()
	svc := &mockService{creds: turnCreds(3600)}
	m := NewManager(Config{Service: svc, LocalID: "actor", Clock: clock})

	set := m.Fetch(context.Background())

	if set.Provenance != domain.ProvenanceRelay {
		t.Errorf("expected relay-available, got %s", set.Provenance)
	}
	if want := clock.Now().Add(time.Hour); !set.ExpiresAt.Equal(want) {
		t.Errorf("expected expiry %s, got %s", want, set.ExpiresAt)
	}
	if m.Current() != set {
		t.Error("expected Current to return the fetched set")
	}
}

func TestFetch_STUNOnlyProvenance(t *testing.T) {
	svc := &mockService{creds: &domain.RelayCredentials{
		Servers:    []domain.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}},
		TTLSeconds: 600,
	}}
	m := NewManager(Config{Service: svc, Clock: newFakeClock()})

	if got := m.Fetch(context.Background()).Provenance; got != domain.ProvenanceSTUNOnly {
		t.Errorf("expected stun-only, got %s", got)
	}
}

func TestFetch_ErrorFallsBack(t *testing.T) {
	svc := &mockService{err: errors.New("boom")}
	m := NewManager(Config{Service: svc, Clock: newFakeClock()})

	set := m.Fetch(context.Background())

	if set.Provenance != domain.ProvenanceFallback {
		t.Errorf("expected error-fallback, got %s", set.Provenance)
	}
	if len(set.Servers) != 1 || set.Servers[0].URLs[0] != DefaultSTUNServer {
		t.Errorf("expected default STUN fallback, got %+v", set.Servers)
	}
	if set.Expires() {
		t.Error("fallback set must not expire")
	}
}

func TestFetch_NoServiceIsSTUNOnly(t *testing.T) {
	m := NewManager(Config{Clock: newFakeClock()})
	if got := m.Fetch(context.Background()).Provenance; got != domain.ProvenanceSTUNOnly {
		t.Errorf("expected stun-only, got %s", got)
	}
}

func TestScheduleRefresh_FiresAndRearms(t *testing.T) {
	clock := newFakeClock()
	svc := &mockService{creds: turnCreds(3600)}

	var refreshed []*domain.CredentialSet
	m := NewManager(Config{
		Service:   svc,
		Clock:     clock,
		OnRefresh: func(set *domain.CredentialSet) { refreshed = append(refreshed, set) },
	})

	m.ScheduleRefresh(m.Fetch(context.Background()))
	if !m.Pending() {
		t.Fatal("expected a pending refresh")
	}

	clock.Advance(54 * time.Minute)
	if len(refreshed) != 0 {
		t.Fatalf("refresh fired early")
	}

	clock.Advance(time.Minute)
	if len(refreshed) != 1 {
		t.Fatalf("expected 1 refresh, got %d", len(refreshed))
	}
	if svc.count() != 2 {
		t.Errorf("expected 2 service calls, got %d", svc.count())
	}
	if len(clock.pending()) != 1 {
		t.Errorf("expected refresh to re-arm, got %d pending timers", len(clock.pending()))
	}
}

func TestScheduleRefresh_ReplacesPendingTimer(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(Config{Service: &mockService{creds: turnCreds(3600)}, Clock: clock})

	set := m.Fetch(context.Background())
	m.ScheduleRefresh(set)
	m.ScheduleRefresh(set)

	if n := len(clock.pending()); n != 1 {
		t.Errorf("expected 1 pending timer, got %d", n)
	}
}

func TestStop_CancelsRefresh(t *testing.T) {
	clock := newFakeClock()
	svc := &mockService{creds: turnCreds(600)}
	fired := false
	m := NewManager(Config{
		Service:   svc,
		Clock:     clock,
		OnRefresh: func(*domain.CredentialSet) { fired = true },
	})

	m.ScheduleRefresh(m.Fetch(context.Background()))
	m.Stop()
	m.Stop()

	clock.Advance(time.Hour)
	if fired {
		t.Error("refresh fired after Stop")
	}
	if m.Pending() {
		t.Error("expected no pending refresh after Stop")
	}

	m.ScheduleRefresh(m.Current())
	if m.Pending() {
		t.Error("ScheduleRefresh must be a no-op after Stop")
	}
}

func (m *mockService) fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func TestRefresh_FailureKeepsValidSetAndRetries(t *testing.T) {
	clock := newFakeClock()
	svc := &mockService{creds: turnCreds(3600)}
	var refreshed []*domain.CredentialSet
	m := NewManager(Config{
		Service:   svc,
		Clock:     clock,
		OnRefresh: func(set *domain.CredentialSet) { refreshed = append(refreshed, set) },
	})

	initial := m.Fetch(context.Background())
	m.ScheduleRefresh(initial)

	svc.fail(errors.New("issuer down"))
	clock.Advance(55 * time.Minute)

	if m.Current() != initial {
		t.Errorf("a failed refresh replaced a valid set with %s", m.Current().Provenance)
	}
	if len(refreshed) != 0 {
		t.Errorf("a failed refresh must not notify, got %d callbacks", len(refreshed))
	}
	if !m.Pending() {
		t.Fatal("expected a retry after the failed refresh")
	}

	svc.fail(nil)
	clock.Advance(time.Minute)

	if svc.count() != 3 {
		t.Errorf("expected 3 service calls, got %d", svc.count())
	}
	if len(refreshed) != 1 || refreshed[0].Provenance != domain.ProvenanceRelay {
		t.Fatalf("expected one relay refresh, got %+v", refreshed)
	}
	if m.Current().Provenance != domain.ProvenanceRelay || !m.Pending() {
		t.Error("refresh chain did not recover")
	}
}

func TestRefresh_FailureAfterExpiryFallsBack(t *testing.T) {
	clock := newFakeClock()
	svc := &mockService{creds: turnCreds(120)}
	var refreshed []*domain.CredentialSet
	m := NewManager(Config{
		Service:   svc,
		Clock:     clock,
		OnRefresh: func(set *domain.CredentialSet) { refreshed = append(refreshed, set) },
	})

	m.ScheduleRefresh(m.Fetch(context.Background()))
	svc.fail(errors.New("issuer down"))
	// The floor puts the refresh at 1m; the set is still valid then.
	clock.Advance(time.Minute)
	if len(refreshed) != 0 {
		t.Fatal("fell back while the set was still valid")
	}

	clock.Advance(time.Minute)
	if len(refreshed) != 1 || refreshed[0].Provenance != domain.ProvenanceFallback {
		t.Fatalf("expected the fallback once the set expired, got %+v", refreshed)
	}
	if m.Current().Provenance != domain.ProvenanceFallback || !m.Pending() {
		t.Error("expected the fallback to be current and a retry pending")
	}
}

func TestScheduleRefresh_RetriesInitialFailure(t *testing.T) {
	clock := newFakeClock()
	svc := &mockService{err: errors.New("issuer down")}
	m := NewManager(Config{Service: svc, Clock: clock})

	m.ScheduleRefresh(m.Fetch(context.Background()))
	if !m.Pending() {
		t.Fatal("expected a retry after the initial failure")
	}

	svc.mu.Lock()
	svc.err, svc.creds = nil, turnCreds(3600)
	svc.mu.Unlock()
	clock.Advance(time.Minute)

	if got := m.Current().Provenance; got != domain.ProvenanceRelay {
		t.Errorf("expected relay after retry, got %s", got)
	}
}

func TestScheduleRefresh_NoServiceNoRetry(t *testing.T) {
	m := NewManager(Config{Clock: newFakeClock()})
	m.ScheduleRefresh(m.Fallback())
	if m.Pending() {
		t.Error("STUN-only configuration has nothing to retry")
	}
}
