package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/squidgo/proxycore/internal/config"
)

func TestResolveDenyInfoSkipsRedirectWhenNotAllowed(t *testing.T) {
	entries := []config.DenyInfoEntry{
		{ACLName: "blocked", Target: "http://example.com/denied"},
	}
	_, ok := ResolveDenyInfo(entries, []string{"blocked"}, false)
	require.False(t, ok)
}

func TestResolveDenyInfoHonorsRedirectWhenAllowed(t *testing.T) {
	entries := []config.DenyInfoEntry{
		{ACLName: "blocked", Target: "http://example.com/denied"},
	}
	entry, ok := ResolveDenyInfo(entries, []string{"blocked"}, true)
	require.True(t, ok)
	require.Equal(t, "http://example.com/denied", entry.Target)
}

func TestResolveDenyInfoAllowsLocalTemplateRegardless(t *testing.T) {
	entries := []config.DenyInfoEntry{
		{ACLName: "blocked", Target: "ERR_ACCESS_DENIED"},
	}
	entry, ok := ResolveDenyInfo(entries, []string{"blocked"}, false)
	require.True(t, ok)
	require.Equal(t, "ERR_ACCESS_DENIED", entry.Target)
}

func TestResolveDenyInfoNoMatchingACL(t *testing.T) {
	entries := []config.DenyInfoEntry{
		{ACLName: "other", Target: "ERR_OTHER"},
	}
	_, ok := ResolveDenyInfo(entries, []string{"blocked"}, true)
	require.False(t, ok)
}

func TestResolveDenyInfoFirstMatchWins(t *testing.T) {
	entries := []config.DenyInfoEntry{
		{ACLName: "blocked", Target: "ERR_FIRST"},
		{ACLName: "blocked", Target: "ERR_SECOND"},
	}
	entry, ok := ResolveDenyInfo(entries, []string{"blocked"}, true)
	require.True(t, ok)
	require.Equal(t, "ERR_FIRST", entry.Target)
}
