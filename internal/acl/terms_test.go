package acl

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIPTermMatchesCIDR(t *testing.T) {
	term, err := NewIPTerm("dst", false, []string{"10.0.0.0/8", "192.168.1.1"})
	require.NoError(t, err)

	c := &Checklist{DstAddr: net.ParseIP("10.1.2.3")}
	require.Equal(t, Match, term.Match(c))

	c2 := &Checklist{DstAddr: net.ParseIP("192.168.1.1")}
	require.Equal(t, Match, term.Match(c2))

	c3 := &Checklist{DstAddr: net.ParseIP("8.8.8.8")}
	require.Equal(t, NoMatch, term.Match(c3))
}

func TestIPTermSource(t *testing.T) {
	term, err := NewIPTerm("src", true, []string{"172.16.0.0/12"})
	require.NoError(t, err)
	c := &Checklist{SrcAddr: net.ParseIP("172.16.5.5")}
	require.Equal(t, Match, term.Match(c))
}

func TestMethodTermCaseInsensitive(t *testing.T) {
	term := NewMethodTerm("m", []string{"GET", "HEAD"})
	c := &Checklist{Request: &RequestView{Method: "get"}}
	require.Equal(t, Match, term.Match(c))
	c2 := &Checklist{Request: &RequestView{Method: "POST"}}
	require.Equal(t, NoMatch, term.Match(c2))
}

func TestPortTermLocalVariant(t *testing.T) {
	term := NewPortTerm("myport", true, []int{3128})
	c := &Checklist{LocalPort: 3128}
	require.Equal(t, Match, term.Match(c))
}

func TestProtocolTerm(t *testing.T) {
	term := NewProtocolTerm("proto", []string{"https"})
	c := &Checklist{Request: &RequestView{Scheme: "HTTPS"}}
	require.Equal(t, Match, term.Match(c))
}

func TestHTTPHeaderTermRegex(t *testing.T) {
	term, err := NewHTTPHeaderTerm("ua", "User-Agent", []string{"(?i)curl"})
	require.NoError(t, err)
	c := &Checklist{Request: &RequestView{HeaderLines: map[string][]string{"User-Agent": {"curl/8.0"}}}}
	require.Equal(t, Match, term.Match(c))
}

func TestTimeOfDayTermOutsideWindow(t *testing.T) {
	term := NewTimeOfDayTerm("biz-hours", 1<<uint(time.Monday), 9*60, 17*60)
	term.now = func() time.Time {
		return time.Date(2026, 7, 27 /* a Monday */, 20, 0, 0, 0, time.UTC)
	}
	require.Equal(t, NoMatch, term.Match(&Checklist{}))

	term.now = func() time.Time {
		return time.Date(2026, 7, 27, 10, 0, 0, 0, time.UTC)
	}
	require.Equal(t, Match, term.Match(&Checklist{}))
}

func TestMaxConnectionsTerm(t *testing.T) {
	term := NewMaxConnectionsTerm("maxconn", 5)
	c := &Checklist{Conn: &ConnView{ConnectionCount: 6}}
	require.Equal(t, Match, term.Match(c))
	c2 := &Checklist{Conn: &ConnView{ConnectionCount: 3}}
	require.Equal(t, NoMatch, term.Match(c2))
}

func TestMaxUserIPTermDeniesExtraIP(t *testing.T) {
	term := NewMaxUserIPTerm("maxuserip", 1, true)
	user := &fakeAuthUserRequest{name: "alice"}

	c1 := &Checklist{AuthUser: user, Conn: &ConnView{ClientIP: "1.1.1.1"}}
	require.Equal(t, NoMatch, term.Match(c1))

	c2 := &Checklist{AuthUser: user, Conn: &ConnView{ClientIP: "2.2.2.2"}}
	require.Equal(t, Match, term.Match(c2))
}

func TestProxyAuthTermLiteralAndRegex(t *testing.T) {
	term, err := NewProxyAuthTerm("auth", []string{"alice"}, []string{"^bob.*"})
	require.NoError(t, err)

	c := &Checklist{AuthUser: &fakeAuthUserRequest{name: "alice"}}
	require.Equal(t, Match, term.Match(c))

	c2 := &Checklist{AuthUser: &fakeAuthUserRequest{name: "bobby"}}
	require.Equal(t, Match, term.Match(c2))

	c3 := &Checklist{AuthUser: &fakeAuthUserRequest{name: "carol"}}
	require.Equal(t, NoMatch, term.Match(c3))
}

func TestIdentTermMatchesChecklistIdent(t *testing.T) {
	term, err := NewIdentTerm("ident", []string{"stjohns"}, nil)
	require.NoError(t, err)
	c := &Checklist{Ident: "stjohns"}
	require.Equal(t, Match, term.Match(c))
}

func TestDomainMatchesSuffixAndExact(t *testing.T) {
	require.True(t, domainMatches("www.example.com", ".example.com"))
	require.True(t, domainMatches("example.com", "example.com"))
	require.False(t, domainMatches("notexample.com", ".example.com"))
}

func TestFoldDomainLowercases(t *testing.T) {
	require.Equal(t, "example.com", foldDomain("ExAmple.COM"))
}

func TestDomainAsyncKickoffWithNilAddrResolvesEmpty(t *testing.T) {
	list := &RuleList{}
	state := &domainAsyncState{source: false, list: list}
	c := NewChecklist(func(Verdict) {})
	state.Kickoff(c)
	require.True(t, c.DestinationDomainChecked)
	name, checked := c.DestinationDomain()
	require.True(t, checked)
	require.Equal(t, "", name)
}

func TestValueSetTermCertAttribute(t *testing.T) {
	term := NewValueSetTerm("cn", KindCertAttribute, "CN", []string{"example.com"})
	c := &Checklist{CertAttributes: map[string]string{"CN": "example.com"}}
	require.Equal(t, Match, term.Match(c))
}

func TestSSLClientCertErrorTerm(t *testing.T) {
	term := NewSSLClientCertErrorTerm("sslerr", []string{"sslCertMismatch"})
	c := &Checklist{SSLError: "sslCertMismatch"}
	require.Equal(t, Match, term.Match(c))
}

func TestCheckInterceptedMismatchExactMatchNeverConsultsRules(t *testing.T) {
	require.True(t, CheckInterceptedMismatch(&RuleList{Invalid: true}, "example.com", "example.com"))
}

func TestCheckInterceptedMismatchConsultsRuleList(t *testing.T) {
	term := NewSSLClientCertErrorTerm("sslerr", []string{"sslCertMismatch"})
	list := &RuleList{Rules: []Rule{{Terms: []TermRef{{Term: term}}, Verdict: Allowed}}}
	require.True(t, CheckInterceptedMismatch(list, "a.example.com", "b.example.com"))

	require.False(t, CheckInterceptedMismatch(&RuleList{}, "a.example.com", "b.example.com"))
}
