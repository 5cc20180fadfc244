package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/squidgo/proxycore/internal/obslog"
)

func TestClampTTLWithinBounds(t *testing.T) {
	f := New(Config{MinTTL: time.Minute, MaxTTL: time.Hour}, obslog.Nop())
	require.Equal(t, 30*time.Minute, f.clampTTL(30*time.Minute))
}

func TestClampTTLBelowMin(t *testing.T) {
	f := New(Config{MinTTL: time.Minute, MaxTTL: time.Hour}, obslog.Nop())
	require.Equal(t, time.Minute, f.clampTTL(time.Second))
}

func TestClampTTLAboveMax(t *testing.T) {
	f := New(Config{MinTTL: time.Minute, MaxTTL: time.Hour}, obslog.Nop())
	require.Equal(t, time.Hour, f.clampTTL(24*time.Hour))
}

func TestLookupCachesResult(t *testing.T) {
	f := New(Config{}, obslog.Nop())
	calls := 0
	load := func() ([]string, error) {
		calls++
		return []string{"203.0.113.1"}, nil
	}

	v1, err := f.lookup("fwd:example.invalid", load)
	require.NoError(t, err)
	v2, err := f.lookup("fwd:example.invalid", load)
	require.NoError(t, err)

	require.Equal(t, v1, v2)
	require.Equal(t, 1, calls)
}

func TestInvalidateDropsCacheEntries(t *testing.T) {
	f := New(Config{}, obslog.Nop())
	calls := 0
	load := func() ([]string, error) {
		calls++
		return []string{"203.0.113.1"}, nil
	}

	_, err := f.lookup("fwd:example.invalid", load)
	require.NoError(t, err)
	f.Invalidate("example.invalid")
	_, err = f.lookup("fwd:example.invalid", load)
	require.NoError(t, err)

	require.Equal(t, 2, calls)
}

func TestTrimTrailingDot(t *testing.T) {
	require.Equal(t, "example.com", trimTrailingDot("example.com."))
	require.Equal(t, "example.com", trimTrailingDot("example.com"))
}
