package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUserRecordIPFirstTimeNoLimit(t *testing.T) {
	u := newUser("alice", "Basic")
	require.False(t, u.RecordIP("1.1.1.1", 0))
}

func TestUserRecordIPExceedsMax(t *testing.T) {
	u := newUser("alice", "Basic")
	require.False(t, u.RecordIP("1.1.1.1", 1))
	require.True(t, u.RecordIP("2.2.2.2", 1), "a second distinct IP should exceed max=1")
}

func TestUserRecordIPSameIPNeverExceeds(t *testing.T) {
	u := newUser("alice", "Basic")
	require.False(t, u.RecordIP("1.1.1.1", 1))
	require.False(t, u.RecordIP("1.1.1.1", 1))
}

func TestUserFlushIPSeenResetsCount(t *testing.T) {
	u := newUser("alice", "Basic")
	u.RecordIP("1.1.1.1", 1)
	require.True(t, u.RecordIP("2.2.2.2", 1))
	u.FlushIPSeen()
	require.False(t, u.RecordIP("3.3.3.3", 1))
}

func TestUserMatchCacheGetSet(t *testing.T) {
	u := newUser("alice", "Basic")
	_, ok := u.Get("proxy_auth")
	require.False(t, ok)
	u.Set("proxy_auth", true)
	v, ok := u.Get("proxy_auth")
	require.True(t, ok)
	require.True(t, v)
	u.FlushMatchCache()
	_, ok = u.Get("proxy_auth")
	require.False(t, ok)
}

func TestUserRetainReleaseRefCount(t *testing.T) {
	u := newUser("alice", "Basic") // starts at 1 (cache's own reference)
	u.Retain()
	require.EqualValues(t, 1, u.Release())
	require.EqualValues(t, 0, u.Release())
}

func TestUserCacheGetOrCreateReusesSameUser(t *testing.T) {
	c := NewUserCache(time.Hour)
	u1 := c.GetOrCreate("Basic", "alice")
	u2 := c.GetOrCreate("Basic", "alice")
	require.Same(t, u1, u2)
}

func TestUserCacheGCRemovesIdleSingleRefUsers(t *testing.T) {
	c := NewUserCache(-time.Hour) // already expired for any touch
	c.GetOrCreate("Basic", "alice")
	removed := c.GC()
	require.Equal(t, 1, removed)
}

func TestUserCacheGCKeepsRetainedUsers(t *testing.T) {
	c := NewUserCache(-time.Hour)
	u := c.GetOrCreate("Basic", "alice")
	u.Retain()
	removed := c.GC()
	require.Equal(t, 0, removed)
}

type stubScheme struct {
	name     string
	connOriented bool
	authenticateDir Direction
	decodeUser string
}

func (s *stubScheme) Name() string { return s.name }
func (s *stubScheme) Decode(credentials string) (*UserRequest, error) {
	if credentials == "" {
		return nil, errNoSchemeMatched
	}
	return &UserRequest{User: &User{Name: s.decodeUser, Scheme: s.name}}, nil
}
func (s *stubScheme) Authenticate(ur *UserRequest, cb func(Direction)) { cb(s.authenticateDir) }
func (s *stubScheme) FixHeader(kind HeaderKind) string                { return s.name }
func (s *stubScheme) ConnectionOriented() bool                        { return s.connOriented }

func TestHeaderKindForRejectsIntercepted(t *testing.T) {
	_, ok := HeaderKindFor(false, true)
	require.False(t, ok)
}

func TestHeaderKindForAcceleratedUsesWWWAuth(t *testing.T) {
	kind, ok := HeaderKindFor(true, false)
	require.True(t, ok)
	require.Equal(t, KindWWWAuth, kind)
}

func TestDriverRunNoHeaderChallenges(t *testing.T) {
	reg := NewRegistry(&stubScheme{name: "Stub"})
	d := NewDriver(reg, NewUserCache(time.Hour), 0, false)
	var gotOutcome Outcome
	d.Run(false, false, nil, "", "1.1.1.1", func(ur *UserRequest, o Outcome) { gotOutcome = o })
	require.Equal(t, OutcomeChallenge, gotOutcome)
}

func TestDriverRunUnmatchedSchemeChallenges(t *testing.T) {
	reg := NewRegistry(&stubScheme{name: "Stub"})
	d := NewDriver(reg, NewUserCache(time.Hour), 0, false)
	var gotOutcome Outcome
	d.Run(false, false, nil, "Other xyz", "1.1.1.1", func(ur *UserRequest, o Outcome) { gotOutcome = o })
	require.Equal(t, OutcomeChallenge, gotOutcome)
}

func TestDriverRunAuthenticatedLinksUser(t *testing.T) {
	reg := NewRegistry(&stubScheme{name: "Stub", authenticateDir: DirDone, decodeUser: "alice"})
	d := NewDriver(reg, NewUserCache(time.Hour), 0, false)
	var gotUR *UserRequest
	var gotOutcome Outcome
	d.Run(false, false, nil, "Stub creds", "1.1.1.1", func(ur *UserRequest, o Outcome) {
		gotUR, gotOutcome = ur, o
	})
	require.Equal(t, OutcomeAuthenticated, gotOutcome)
	require.Equal(t, "alice", gotUR.UserName())
}

func TestDriverRunConnectionOrientedBindsConnState(t *testing.T) {
	reg := NewRegistry(&stubScheme{name: "NTLM-ish", connOriented: true, authenticateDir: DirDone, decodeUser: "bob"})
	d := NewDriver(reg, NewUserCache(time.Hour), 0, false)
	conn := &ConnState{}
	d.Run(false, false, conn, "NTLM-ish creds", "1.1.1.1", func(ur *UserRequest, o Outcome) {})
	require.NotNil(t, conn.BoundUser)
	require.Equal(t, "bob", conn.BoundUser.UserName())
}

// TestDriverRunNonConnectionOrientedSchemeStillBindsConnState covers
// spec.md §8 Scenario 3 (a Basic-auth scenario): binding on success
// isn't limited to schemes reporting ConnectionOriented() == true.
func TestDriverRunNonConnectionOrientedSchemeStillBindsConnState(t *testing.T) {
	reg := NewRegistry(&stubScheme{name: "Basic-ish", connOriented: false, authenticateDir: DirDone, decodeUser: "alice"})
	d := NewDriver(reg, NewUserCache(time.Hour), 0, false)
	conn := &ConnState{}
	d.Run(false, false, conn, "Basic-ish creds", "1.1.1.1", func(ur *UserRequest, o Outcome) {})
	require.NotNil(t, conn.BoundUser)
	require.Equal(t, "alice", conn.BoundUser.UserName())
}

// TestDriverRunReusesConnectionBoundUserWithNoHeader is the literal
// second half of spec.md §8 Scenario 3: "second request on the same
// connection with no header -> reuses cached user, still ALLOWED".
func TestDriverRunReusesConnectionBoundUserWithNoHeader(t *testing.T) {
	reg := NewRegistry(&stubScheme{name: "Stub"})
	d := NewDriver(reg, NewUserCache(time.Hour), 0, false)
	bound := &UserRequest{User: newUser("alice", "Stub")}
	conn := &ConnState{BoundUser: bound, BoundCreds: "Stub creds"}

	var gotOutcome Outcome
	var gotUR *UserRequest
	d.Run(false, false, conn, "", "1.1.1.1", func(ur *UserRequest, o Outcome) {
		gotUR, gotOutcome = ur, o
	})
	require.Equal(t, OutcomeAuthenticated, gotOutcome)
	require.Same(t, bound, gotUR)
}

func TestDriverRunReusesConnectionBoundUserOnMatchingCreds(t *testing.T) {
	reg := NewRegistry(&stubScheme{name: "Stub"})
	d := NewDriver(reg, NewUserCache(time.Hour), 0, false)
	bound := &UserRequest{User: newUser("carol", "Stub")}
	conn := &ConnState{BoundUser: bound, BoundCreds: "Stub creds"}

	var gotOutcome Outcome
	var gotUR *UserRequest
	d.Run(false, false, conn, "Stub creds", "1.1.1.1", func(ur *UserRequest, o Outcome) {
		gotUR, gotOutcome = ur, o
	})
	require.Equal(t, OutcomeAuthenticated, gotOutcome)
	require.Same(t, bound, gotUR)
}

func TestDriverRunMaxUserIPStrictDeniesNewIP(t *testing.T) {
	reg := NewRegistry(&stubScheme{name: "Stub", authenticateDir: DirDone, decodeUser: "dave"})
	d := NewDriver(reg, NewUserCache(time.Hour), 1, true)

	var last Outcome
	d.Run(false, false, nil, "Stub creds", "1.1.1.1", func(ur *UserRequest, o Outcome) { last = o })
	require.Equal(t, OutcomeAuthenticated, last)

	d.Run(false, false, nil, "Stub creds", "2.2.2.2", func(ur *UserRequest, o Outcome) { last = o })
	require.Equal(t, OutcomeCannotAuthenticate, last)
}
