package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khoa-s-development/SentinelProxy-sub002/config"
	"github.com/khoa-s-development/SentinelProxy-sub002/consts"
)

func testAccessConfig() config.AccessControlConfig {
	return config.AccessControlConfig{
		MaxLoginAttemptsPerAddress: 5,
		LoginAttemptWindow:         "10m",
		BlacklistDuration:          "24h",
		SessionIdleExpiry:          "30m",
		ProfileIdleExpiry:          "1h",
		EventWindow:                "1h",
		MaxViolations:              10,
	}
}

func newTestAccessStore(t *testing.T) *AccessStore {
	t.Helper()
	s, err := NewAccessStore(testAccessConfig())
	require.NoError(t, err)
	return s
}

func TestAccessStoreBlacklist(t *testing.T) {
	s := newTestAccessStore(t)

	require.NoError(t, s.Blacklist("10.0.0.1", "abuse", time.Hour))
	assert.True(t, s.IsBlacklisted("10.0.0.1"))
	assert.False(t, s.IsBlacklisted("10.0.0.2"))
	assert.Equal(t, 1, s.BlacklistSize())

	require.NoError(t, s.RemoveBlacklist("10.0.0.1"))
	assert.False(t, s.IsBlacklisted("10.0.0.1"))

	assert.ErrorIs(t, s.Blacklist("", "x", time.Hour), consts.ErrInvalidAddress)
}

func TestAccessStoreWhitelistClearsBlacklist(t *testing.T) {
	s := newTestAccessStore(t)

	require.NoError(t, s.Blacklist("10.0.0.1", "abuse", time.Hour))
	require.NoError(t, s.Whitelist("10.0.0.1", "operator"))

	// Whitelisting removes the blacklist entry.
	assert.True(t, s.IsWhitelisted("10.0.0.1"))
	assert.False(t, s.IsBlacklisted("10.0.0.1"))

	// The reverse does not hold: blacklisting leaves the whitelist alone.
	require.NoError(t, s.Blacklist("10.0.0.1", "abuse again", time.Hour))
	assert.True(t, s.IsWhitelisted("10.0.0.1"))
	assert.True(t, s.IsBlacklisted("10.0.0.1"))

	require.NoError(t, s.RemoveWhitelist("10.0.0.1"))
	assert.False(t, s.IsWhitelisted("10.0.0.1"))
}

func TestAccessStoreLoginThrottling(t *testing.T) {
	s := newTestAccessStore(t)

	// Four attempts are tolerated; the fifth trips the auto-blacklist.
	for i := 0; i < 4; i++ {
		require.NoError(t, s.RecordLoginAttempt("10.0.0.1"))
		assert.True(t, s.CanLogin("10.0.0.1"))
	}
	err := s.RecordLoginAttempt("10.0.0.1")
	assert.ErrorIs(t, err, consts.ErrTooManyAttempts)
	assert.False(t, s.CanLogin("10.0.0.1"))
	assert.True(t, s.IsBlacklisted("10.0.0.1"))

	// Other addresses are unaffected.
	assert.True(t, s.CanLogin("10.0.0.2"))
}

func TestAccessStoreLoginWindowRenewsOnAttempt(t *testing.T) {
	cfg := testAccessConfig()
	cfg.LoginAttemptWindow = "500ms"
	s, err := NewAccessStore(cfg)
	require.NoError(t, err)

	// Attempts paced inside the window of the previous one keep the
	// counter alive past the window measured from the first attempt, so
	// the fifth attempt still escalates.
	for i := 0; i < 4; i++ {
		require.NoError(t, s.RecordLoginAttempt("10.0.0.1"))
		time.Sleep(200 * time.Millisecond)
	}
	assert.ErrorIs(t, s.RecordLoginAttempt("10.0.0.1"), consts.ErrTooManyAttempts)
	assert.True(t, s.IsBlacklisted("10.0.0.1"))
}

func TestAccessStoreLoginWindowLapsesWhenQuiet(t *testing.T) {
	cfg := testAccessConfig()
	cfg.LoginAttemptWindow = "100ms"
	s, err := NewAccessStore(cfg)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.RecordLoginAttempt("10.0.0.1"))
	}
	// A quiet period longer than the window forgives the burst.
	time.Sleep(150 * time.Millisecond)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.RecordLoginAttempt("10.0.0.1"))
	}
	assert.False(t, s.IsBlacklisted("10.0.0.1"))
}

func TestAccessStoreClearLoginAttempts(t *testing.T) {
	s := newTestAccessStore(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.RecordLoginAttempt("10.0.0.1"))
	}
	s.ClearLoginAttempts("10.0.0.1")

	// The counter restarts from zero.
	for i := 0; i < 4; i++ {
		require.NoError(t, s.RecordLoginAttempt("10.0.0.1"))
	}
	assert.True(t, s.CanLogin("10.0.0.1"))
}

func TestAccessStoreSessions(t *testing.T) {
	s := newTestAccessStore(t)

	id1, err := s.StartSession("steve", "10.0.0.1")
	require.NoError(t, err)
	id2, err := s.StartSession("alex", "10.0.0.1")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, s.ActiveSessions())

	sess, err := s.Session(id1)
	require.NoError(t, err)
	assert.Equal(t, "steve", sess.Identity)
	assert.Equal(t, "10.0.0.1", sess.Address)

	assert.ElementsMatch(t, []string{"steve", "alex"}, s.IdentitiesForAddress("10.0.0.1"))
	assert.Empty(t, s.IdentitiesForAddress("10.0.0.2"))

	require.NoError(t, s.EndSession(id1))
	assert.Equal(t, []string{"alex"}, s.IdentitiesForAddress("10.0.0.1"))
	_, err = s.Session(id1)
	assert.ErrorIs(t, err, consts.ErrSessionNotFound)
	assert.ErrorIs(t, s.EndSession(id1), consts.ErrSessionNotFound)

	// The reverse index drops the address once its last session ends.
	require.NoError(t, s.EndSession(id2))
	assert.Empty(t, s.IdentitiesForAddress("10.0.0.1"))
	assert.Equal(t, 0, s.ActiveSessions())
}

func TestAccessStoreSessionValidation(t *testing.T) {
	s := newTestAccessStore(t)

	_, err := s.StartSession("", "10.0.0.1")
	assert.ErrorIs(t, err, consts.ErrInvalidIdentity)
	_, err = s.StartSession("steve", "")
	assert.ErrorIs(t, err, consts.ErrInvalidAddress)
}

func TestAccessStoreProfiles(t *testing.T) {
	s := newTestAccessStore(t)

	_, err := s.Profile("steve")
	assert.ErrorIs(t, err, consts.ErrProfileNotFound)
	assert.True(t, s.IsIdentityAllowed("steve"))

	// A session creates the profile and records the login.
	_, err = s.StartSession("steve", "10.0.0.1")
	require.NoError(t, err)
	p, err := s.Profile("steve")
	require.NoError(t, err)
	assert.Len(t, p.LoginHistory(), 1)
	assert.False(t, p.Verified())

	count, err := s.RecordViolation("steve")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, p.Violations())
	assert.True(t, s.IsIdentityAllowed("steve"))

	// At the violation ceiling the identity is denied.
	for i := 0; i < 9; i++ {
		_, err = s.RecordViolation("steve")
		require.NoError(t, err)
	}
	assert.False(t, s.IsIdentityAllowed("steve"))

	// Verified identities bypass the ceiling.
	require.NoError(t, s.SetVerified("steve", true))
	assert.True(t, s.IsIdentityAllowed("steve"))
}

func TestAccessStoreLoginHistoryCapped(t *testing.T) {
	s := newTestAccessStore(t)

	for i := 0; i < 15; i++ {
		id, err := s.StartSession("steve", "10.0.0.1")
		require.NoError(t, err)
		require.NoError(t, s.EndSession(id))
	}
	p, err := s.Profile("steve")
	require.NoError(t, err)
	assert.Len(t, p.LoginHistory(), profileLoginHistoryCap)
}

func TestAccessStoreEventCounters(t *testing.T) {
	s := newTestAccessStore(t)

	assert.Equal(t, 0, s.EventCount("10.0.0.1", "port_scan"))
	assert.Equal(t, 1, s.RecordEvent("10.0.0.1", "port_scan"))
	assert.Equal(t, 2, s.RecordEvent("10.0.0.1", "port_scan"))

	// Counters are independent per event name and per address.
	assert.Equal(t, 1, s.RecordEvent("10.0.0.1", "syn_flood"))
	assert.Equal(t, 1, s.RecordEvent("10.0.0.2", "port_scan"))
	assert.Equal(t, 2, s.EventCount("10.0.0.1", "port_scan"))
}

func TestAccessStoreSweep(t *testing.T) {
	s := newTestAccessStore(t)

	require.NoError(t, s.Blacklist("10.0.0.1", "short", time.Nanosecond))
	time.Sleep(time.Millisecond)

	removed := s.Sweep()
	assert.GreaterOrEqual(t, removed, 1)
	assert.Equal(t, 0, s.BlacklistSize())
}
