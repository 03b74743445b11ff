// Package credentials fetches relay server configuration and keeps it fresh.
package credentials

import (
	"context"
	"sync"
	"time"

	"github.com/pion/logging"

	"vico_home/actorcast/internal/domain"
)

const (
	DefaultMargin     = 5 * time.Minute
	DefaultMinDelay   = 60 * time.Second
	DefaultSTUNServer = "stun:stun.l.google.com:19302"

	fetchTimeout = 10 * time.Second
)

// Clock abstracts time for the refresh scheduler.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Config configures a Manager.
type Config struct {
	// Service issues relay credentials. Nil means STUN only.
	Service domain.CredentialService
	LocalID string

	// Fallback is used when the service fails. Defaults to DefaultSTUNServer.
	Fallback []domain.ICEServer

	Margin   time.Duration
	MinDelay time.Duration

	// OnRefresh receives every set fetched by the refresh timer.
	OnRefresh func(set *domain.CredentialSet)

	Clock         Clock
	LoggerFactory logging.LoggerFactory
}

// Manager owns one credential set and its refresh timer.
type Manager struct {
	service   domain.CredentialService
	localID   string
	fallback  []domain.ICEServer
	margin    time.Duration
	minDelay  time.Duration
	onRefresh func(set *domain.CredentialSet)
	clock     Clock
	log       logging.LeveledLogger

	mu      sync.Mutex
	current *domain.CredentialSet
	timer   Timer
	gen     uint64
	stopped bool
}

// NewManager creates a Manager. Zero durations take the package defaults.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		service:   cfg.Service,
		localID:   cfg.LocalID,
		fallback:  cfg.Fallback,
		margin:    cfg.Margin,
		minDelay:  cfg.MinDelay,
		onRefresh: cfg.OnRefresh,
		clock:     cfg.Clock,
	}
	if len(m.fallback) == 0 {
		m.fallback = []domain.ICEServer{{URLs: []string{DefaultSTUNServer}}}
	}
	if m.margin <= 0 {
		m.margin = DefaultMargin
	}
	if m.minDelay <= 0 {
		m.minDelay = DefaultMinDelay
	}
	if m.clock == nil {
		m.clock = realClock{}
	}
	lf := cfg.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	m.log = lf.NewLogger("credentials")
	return m
}

// SetOnRefresh replaces the refresh callback.
func (m *Manager) SetOnRefresh(f func(set *domain.CredentialSet)) {
	m.mu.Lock()
	m.onRefresh = f
	m.mu.Unlock()
}

// Fallback returns the static STUN-only set.
func (m *Manager) Fallback() *domain.CredentialSet {
	return &domain.CredentialSet{
		Servers:    append([]domain.ICEServer(nil), m.fallback...),
		Provenance: domain.ProvenanceFallback,
	}
}

// Current returns the last fetched set, or the fallback before any fetch.
func (m *Manager) Current() *domain.CredentialSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return m.Fallback()
	}
	return m.current
}

// Fetch asks the service for credentials. It never fails: errors yield the
// fallback set tagged error-fallback.
func (m *Manager) Fetch(ctx context.Context) *domain.CredentialSet {
	set := m.fetch(ctx)
	m.mu.Lock()
	m.current = set
	m.mu.Unlock()
	return set
}

func (m *Manager) fetch(ctx context.Context) *domain.CredentialSet {
	if m.service == nil {
		return &domain.CredentialSet{
			Servers:    append([]domain.ICEServer(nil), m.fallback...),
			Provenance: domain.ProvenanceSTUNOnly,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	creds, err := m.service.RequestRelayCredentials(ctx, m.localID)
	if err != nil {
		m.log.Warnf("relay credentials unavailable, using STUN only: %v", err)
		return m.Fallback()
	}
	if creds == nil || len(creds.Servers) == 0 {
		m.log.Warnf("relay credentials empty, using STUN only")
		return m.Fallback()
	}

	set := &domain.CredentialSet{
		Servers:    append([]domain.ICEServer(nil), creds.Servers...),
		ExpiresAt:  creds.ExpiresAt,
		Provenance: creds.Provenance,
	}
	if set.ExpiresAt.IsZero() && creds.TTLSeconds > 0 {
		set.ExpiresAt = m.clock.Now().Add(time.Duration(creds.TTLSeconds) * time.Second)
	}
	if set.Provenance == "" {
		set.Provenance = domain.ProvenanceSTUNOnly
		for _, s := range set.Servers {
			if s.IsRelay() {
				set.Provenance = domain.ProvenanceRelay
				break
			}
		}
	}
	m.log.Infof("fetched %d ice servers (%s), expires %s", len(set.Servers), set.Provenance, set.ExpiresAt.Format(time.RFC3339))
	return set
}

// RefreshDelay is expiry - now - margin, floored at min.
func RefreshDelay(expiry, now time.Time, margin, min time.Duration) time.Duration {
	d := expiry.Sub(now) - margin
	if d < min {
		return min
	}
	return d
}

// ScheduleRefresh arms the refresh timer for set, replacing any pending one.
// A fallback set from a failed fetch is retried after the minimum delay;
// other sets without an expiry are not refreshed.
func (m *Manager) ScheduleRefresh(set *domain.CredentialSet) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	switch {
	case set.Provenance == domain.ProvenanceFallback && m.service != nil:
		m.armLocked(m.minDelay)
	case set.Expires():
		m.armLocked(RefreshDelay(set.ExpiresAt, m.clock.Now(), m.margin, m.minDelay))
	}
}

func (m *Manager) armLocked(delay time.Duration) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	gen := m.gen
	m.log.Debugf("credential refresh in %s", delay)
	m.timer = m.clock.AfterFunc(delay, func() { m.refresh(gen) })
}

// refresh re-fetches. A failed fetch keeps a still valid previous set and
// does not notify; only once that set has expired does the fallback replace
// it.
func (m *Manager) refresh(gen uint64) {
	if !m.live(gen) {
		return
	}

	set := m.fetch(context.Background())

	m.mu.Lock()
	if m.stopped || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	var cb func(*domain.CredentialSet)
	if set.Provenance == domain.ProvenanceFallback && m.usableLocked(m.current) {
		m.log.Warnf("credential refresh failed, keeping the current set until %s", m.current.ExpiresAt.Format(time.RFC3339))
	} else {
		m.current = set
		cb = m.onRefresh
	}
	m.mu.Unlock()

	if cb != nil {
		cb(set)
	}
	m.ScheduleRefresh(set)
}

// usableLocked reports whether set came from the service and has not expired.
func (m *Manager) usableLocked(set *domain.CredentialSet) bool {
	return set != nil && set.Provenance != domain.ProvenanceFallback &&
		set.Expires() && m.clock.Now().Before(set.ExpiresAt)
}

func (m *Manager) live(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.stopped && gen == m.gen
}

// Pending reports whether a refresh timer is armed.
func (m *Manager) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

// Stop cancels any pending refresh. Later firings are ignored.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
