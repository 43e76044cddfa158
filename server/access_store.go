package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khoa-s-development/SentinelProxy-sub002/cache"
	"github.com/khoa-s-development/SentinelProxy-sub002/config"
	"github.com/khoa-s-development/SentinelProxy-sub002/consts"
	"github.com/khoa-s-development/SentinelProxy-sub002/helpers"
	"github.com/khoa-s-development/SentinelProxy-sub002/logger"
	"github.com/khoa-s-development/SentinelProxy-sub002/pkg/metrics"
)

const profileLoginHistoryCap = 10

// Session records one authenticated identity bound to a source address.
type Session struct {
	ID       string
	Identity string
	Address  string
	Started  time.Time
}

// Profile accumulates per-identity behavioral state across sessions.
type Profile struct {
	mu sync.Mutex

	identity   string
	violations int
	verified   bool

	// loginHistory keeps the most recent login timestamps, oldest first,
	// capped at profileLoginHistoryCap.
	loginHistory []time.Time
}

// Violations returns the accumulated violation count.
func (p *Profile) Violations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.violations
}

// Verified reports whether the identity has been marked trusted.
func (p *Profile) Verified() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verified
}

// LoginHistory returns a copy of the recent login timestamps, oldest first.
func (p *Profile) LoginHistory() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]time.Time, len(p.loginHistory))
	copy(out, p.loginHistory)
	return out
}

func (p *Profile) recordLogin(at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loginHistory = append(p.loginHistory, at)
	if len(p.loginHistory) > profileLoginHistoryCap {
		p.loginHistory = append(p.loginHistory[:0], p.loginHistory[len(p.loginHistory)-profileLoginHistoryCap:]...)
	}
}

// AccessStore holds the blacklist, whitelist, login-attempt throttling,
// session registry and per-identity profiles.
type AccessStore struct {
	maxLoginAttempts  int
	blacklistDuration time.Duration
	maxViolations     int

	// blacklist entries carry per-entry TTLs: automatic entries use
	// blacklistDuration, operator entries an explicit duration (zero means
	// permanent). The value is the reason string.
	blacklist *cache.Expiring[string, string]

	// whitelist entries never expire on their own; only explicit removal
	// clears them. The value is the reason string.
	whitelist *cache.Expiring[string, string]

	// loginAttempts counts failed or pending attempts per address with an
	// expire-after-write window. Every attempt rewrites the entry, so the
	// window runs from the most recent attempt and the counter only lapses
	// after a quiet period.
	loginAttempts *cache.Expiring[string, *attemptCounter]

	// sessions by session ID, plus a reverse index from address to the set
	// of session IDs originating there.
	sessions       *cache.Expiring[string, *Session]
	mu             sync.Mutex // guards sessionsByAddr
	sessionsByAddr map[string]map[string]struct{}

	profiles *cache.Expiring[string, *Profile]

	// events counts named security events per address over a rolling
	// write-expiry window.
	events *cache.Expiring[string, *attemptCounter]

	now func() time.Time
}

// attemptCounter is a mutex-guarded counter stored under a TTL entry.
type attemptCounter struct {
	mu    sync.Mutex
	count int
}

func (a *attemptCounter) increment() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count++
	return a.count
}

func (a *attemptCounter) value() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// NewAccessStore builds the store from configuration.
func NewAccessStore(cfg config.AccessControlConfig) (*AccessStore, error) {
	attemptWindow, err := cfg.GetLoginAttemptWindow()
	if err != nil {
		return nil, err
	}
	blacklistDur, err := cfg.GetBlacklistDuration()
	if err != nil {
		return nil, err
	}
	sessionIdle, err := cfg.GetSessionIdleExpiry()
	if err != nil {
		return nil, err
	}
	profileIdle, err := cfg.GetProfileIdleExpiry()
	if err != nil {
		return nil, err
	}
	eventWindow, err := cfg.GetEventWindow()
	if err != nil {
		return nil, err
	}

	return &AccessStore{
		maxLoginAttempts:  cfg.MaxLoginAttemptsPerAddress,
		blacklistDuration: blacklistDur,
		maxViolations:     cfg.MaxViolations,
		blacklist:         cache.New[string, string](cache.ExpireAfterWrite, blacklistDur),
		whitelist:         cache.New[string, string](cache.ExpireAfterWrite, 0),
		loginAttempts:     cache.New[string, *attemptCounter](cache.ExpireAfterWrite, attemptWindow),
		sessions:          cache.New[string, *Session](cache.ExpireAfterAccess, sessionIdle),
		sessionsByAddr:    make(map[string]map[string]struct{}),
		profiles:          cache.New[string, *Profile](cache.ExpireAfterAccess, profileIdle),
		events:            cache.New[string, *attemptCounter](cache.ExpireAfterWrite, eventWindow),
		now:               time.Now,
	}, nil
}

// Blacklist adds addr to the blacklist for the given duration. A zero or
// negative duration makes the entry permanent.
func (s *AccessStore) Blacklist(addr, reason string, duration time.Duration) error {
	if addr == "" {
		return consts.ErrInvalidAddress
	}
	s.blacklist.SetWithTTL(addr, reason, duration)
	metrics.BlacklistSizeCurrent.Set(float64(s.blacklist.Len()))
	logger.Info("address blacklisted",
		"address", helpers.MaskAddress(addr),
		"reason", reason,
		"duration", duration)
	return nil
}

// RemoveBlacklist clears addr from the blacklist. It does not touch the
// whitelist.
func (s *AccessStore) RemoveBlacklist(addr string) error {
	if addr == "" {
		return consts.ErrInvalidAddress
	}
	s.blacklist.Invalidate(addr)
	metrics.BlacklistSizeCurrent.Set(float64(s.blacklist.Len()))
	return nil
}

// IsBlacklisted reports whether addr currently has a live blacklist entry.
func (s *AccessStore) IsBlacklisted(addr string) bool {
	_, ok := s.blacklist.Get(addr)
	return ok
}

// Whitelist adds addr to the whitelist and removes any blacklist entry for
// it. The reverse does not hold: blacklisting leaves the whitelist alone,
// and a whitelisted address bypasses blacklist checks at admission.
func (s *AccessStore) Whitelist(addr, reason string) error {
	if addr == "" {
		return consts.ErrInvalidAddress
	}
	s.whitelist.Set(addr, reason)
	s.blacklist.Invalidate(addr)
	metrics.BlacklistSizeCurrent.Set(float64(s.blacklist.Len()))
	logger.Info("address whitelisted",
		"address", helpers.MaskAddress(addr),
		"reason", reason)
	return nil
}

// RemoveWhitelist clears addr from the whitelist.
func (s *AccessStore) RemoveWhitelist(addr string) error {
	if addr == "" {
		return consts.ErrInvalidAddress
	}
	s.whitelist.Invalidate(addr)
	return nil
}

// IsWhitelisted reports whether addr is whitelisted.
func (s *AccessStore) IsWhitelisted(addr string) bool {
	_, ok := s.whitelist.Get(addr)
	return ok
}

// RecordLoginAttempt counts one login attempt from addr. When the count
// reaches the configured maximum within the attempt window, the address is
// automatically blacklisted for the configured duration and
// ErrTooManyAttempts is returned. Each attempt rewrites the counter entry,
// renewing its write window, so pacing attempts just inside the window does
// not evade escalation.
func (s *AccessStore) RecordLoginAttempt(addr string) error {
	if addr == "" {
		return consts.ErrInvalidAddress
	}
	counter, _ := s.loginAttempts.GetOrStore(addr, func() *attemptCounter {
		return &attemptCounter{}
	})
	count := counter.increment()
	s.loginAttempts.Set(addr, counter)
	if count >= s.maxLoginAttempts {
		metrics.LoginAttemptsTotal.WithLabelValues("throttled").Inc()
		metrics.AutoBlacklistsTotal.Inc()
		if err := s.Blacklist(addr, "too many login attempts", s.blacklistDuration); err != nil {
			return err
		}
		logger.Warn("login attempts exceeded, address auto-blacklisted",
			"address", helpers.MaskAddress(addr),
			"attempts", count)
		return consts.ErrTooManyAttempts
	}
	metrics.LoginAttemptsTotal.WithLabelValues("counted").Inc()
	return nil
}

// CanLogin reports whether addr may attempt a login: it must not be
// blacklisted and must be below the attempt ceiling.
func (s *AccessStore) CanLogin(addr string) bool {
	if s.IsBlacklisted(addr) {
		return false
	}
	counter, ok := s.loginAttempts.Get(addr)
	if !ok {
		return true
	}
	return counter.value() < s.maxLoginAttempts
}

// ClearLoginAttempts resets the attempt counter for addr, typically after a
// successful login.
func (s *AccessStore) ClearLoginAttempts(addr string) {
	s.loginAttempts.Invalidate(addr)
}

// StartSession registers a new session for identity at addr and returns its
// generated ID.
func (s *AccessStore) StartSession(identity, addr string) (string, error) {
	if identity == "" {
		return "", consts.ErrInvalidIdentity
	}
	if addr == "" {
		return "", consts.ErrInvalidAddress
	}

	sess := &Session{
		ID:       uuid.NewString(),
		Identity: identity,
		Address:  addr,
		Started:  s.now(),
	}
	s.sessions.Set(sess.ID, sess)

	s.mu.Lock()
	ids, ok := s.sessionsByAddr[addr]
	if !ok {
		ids = make(map[string]struct{})
		s.sessionsByAddr[addr] = ids
	}
	ids[sess.ID] = struct{}{}
	s.mu.Unlock()

	profile, _ := s.profiles.GetOrStore(identity, func() *Profile {
		return &Profile{identity: identity}
	})
	profile.recordLogin(sess.Started)

	metrics.ActiveSessionsCurrent.Set(float64(s.sessions.Len()))
	return sess.ID, nil
}

// EndSession removes the session with the given ID. The address reverse
// index entry is dropped once its last session ends.
func (s *AccessStore) EndSession(sessionID string) error {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return consts.ErrSessionNotFound
	}
	s.sessions.Invalidate(sessionID)

	s.mu.Lock()
	if ids, ok := s.sessionsByAddr[sess.Address]; ok {
		delete(ids, sessionID)
		if len(ids) == 0 {
			delete(s.sessionsByAddr, sess.Address)
		}
	}
	s.mu.Unlock()

	metrics.ActiveSessionsCurrent.Set(float64(s.sessions.Len()))
	return nil
}

// Session returns the live session with the given ID.
func (s *AccessStore) Session(sessionID string) (*Session, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, consts.ErrSessionNotFound
	}
	return sess, nil
}

// IdentitiesForAddress returns the identities with live sessions from addr.
func (s *AccessStore) IdentitiesForAddress(addr string) []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessionsByAddr[addr]))
	for id := range s.sessionsByAddr[addr] {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	seen := make(map[string]struct{})
	var identities []string
	for _, id := range ids {
		sess, ok := s.sessions.Get(id)
		if !ok {
			continue
		}
		if _, dup := seen[sess.Identity]; dup {
			continue
		}
		seen[sess.Identity] = struct{}{}
		identities = append(identities, sess.Identity)
	}
	return identities
}

// Profile returns the behavioral profile for identity, if one exists.
func (s *AccessStore) Profile(identity string) (*Profile, error) {
	p, ok := s.profiles.Get(identity)
	if !ok {
		return nil, consts.ErrProfileNotFound
	}
	return p, nil
}

// RecordViolation increments the violation count on identity's profile,
// creating the profile if needed, and returns the new count.
func (s *AccessStore) RecordViolation(identity string) (int, error) {
	if identity == "" {
		return 0, consts.ErrInvalidIdentity
	}
	p, _ := s.profiles.GetOrStore(identity, func() *Profile {
		return &Profile{identity: identity}
	})
	p.mu.Lock()
	p.violations++
	count := p.violations
	p.mu.Unlock()
	return count, nil
}

// SetVerified marks identity's profile as trusted or not, creating the
// profile if needed.
func (s *AccessStore) SetVerified(identity string, verified bool) error {
	if identity == "" {
		return consts.ErrInvalidIdentity
	}
	p, _ := s.profiles.GetOrStore(identity, func() *Profile {
		return &Profile{identity: identity}
	})
	p.mu.Lock()
	p.verified = verified
	p.mu.Unlock()
	return nil
}

// IsIdentityAllowed reports whether identity may proceed: a missing profile
// is allowed, a verified one always is, and otherwise the violation count
// must be below the configured ceiling.
func (s *AccessStore) IsIdentityAllowed(identity string) bool {
	p, ok := s.profiles.Get(identity)
	if !ok {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verified {
		return true
	}
	return p.violations < s.maxViolations
}

// RecordEvent increments the named security-event counter for addr and
// returns the new count. The counter expires a fixed window after its first
// increment.
func (s *AccessStore) RecordEvent(addr, event string) int {
	counter, _ := s.events.GetOrStore(addr+"\x00"+event, func() *attemptCounter {
		return &attemptCounter{}
	})
	return counter.increment()
}

// EventCount returns the live count of the named event for addr.
func (s *AccessStore) EventCount(addr, event string) int {
	counter, ok := s.events.Get(addr + "\x00" + event)
	if !ok {
		return 0
	}
	return counter.value()
}

// BlacklistSize returns the number of live blacklist entries.
func (s *AccessStore) BlacklistSize() int {
	return s.blacklist.Len()
}

// WhitelistSize returns the number of whitelist entries.
func (s *AccessStore) WhitelistSize() int {
	return s.whitelist.Len()
}

// ActiveSessions returns the number of live sessions.
func (s *AccessStore) ActiveSessions() int {
	return s.sessions.Len()
}

// Sweep physically removes expired entries from every store and prunes
// reverse-index entries whose sessions expired. It returns the total number
// of entries removed.
func (s *AccessStore) Sweep() int {
	removed := 0
	removed += sweepStore(s.blacklist, "blacklist")
	removed += sweepStore(s.whitelist, "whitelist")
	removed += sweepStore(s.loginAttempts, "login_attempts")
	removed += sweepStore(s.sessions, "sessions")
	removed += sweepStore(s.profiles, "profiles")
	removed += sweepStore(s.events, "events")

	// Rebuild reverse-index buckets whose sessions were evicted by TTL.
	live := make(map[string]struct{})
	s.sessions.Range(func(id string, _ *Session) bool {
		live[id] = struct{}{}
		return true
	})
	s.mu.Lock()
	for addr, ids := range s.sessionsByAddr {
		for id := range ids {
			if _, ok := live[id]; !ok {
				delete(ids, id)
			}
		}
		if len(ids) == 0 {
			delete(s.sessionsByAddr, addr)
		}
	}
	s.mu.Unlock()

	metrics.BlacklistSizeCurrent.Set(float64(s.blacklist.Len()))
	metrics.ActiveSessionsCurrent.Set(float64(s.sessions.Len()))
	return removed
}

func sweepStore[K comparable, V any](store *cache.Expiring[K, V], name string) int {
	removed := store.Sweep()
	if removed > 0 {
		metrics.MaintenanceSweptTotal.WithLabelValues(name).Add(float64(removed))
	}
	metrics.StoreEntriesCurrent.WithLabelValues(name).Set(float64(store.Len()))
	return removed
}
