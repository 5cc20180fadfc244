package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/squidgo/proxycore/internal/obslog"
)

func TestDefaultSnapshotHasSaneDefaults(t *testing.T) {
	snap := Default()
	require.Equal(t, uint64(1), snap.Generation)
	require.Equal(t, ":3128", snap.ListenAddr)
	require.True(t, snap.HalfClosedClientTolerance)
	require.NotNil(t, snap.RuleLists)
}

func TestStoreLoadReturnsSeeded(t *testing.T) {
	s := NewStore(Default())
	require.Equal(t, uint64(1), s.Load().Generation)
}

func TestStoreSwapBumpsGeneration(t *testing.T) {
	s := NewStore(Default())
	s.Swap(&Snapshot{ListenAddr: ":8080"})
	require.Equal(t, uint64(2), s.Load().Generation)
	require.Equal(t, ":8080", s.Load().ListenAddr)
}

func TestStoreOnSwapFiresWithOldAndNew(t *testing.T) {
	s := NewStore(Default())
	var gotOld, gotNew *Snapshot
	s.OnSwap(func(old, new *Snapshot) {
		gotOld, gotNew = old, new
	})

	next := &Snapshot{ListenAddr: ":9090"}
	s.Swap(next)

	require.Same(t, s.Load(), gotNew)
	require.Equal(t, uint64(1), gotOld.Generation)
	require.Equal(t, ":9090", gotNew.ListenAddr)
}

func TestStoreOnSwapFiresForEveryRegisteredCallback(t *testing.T) {
	s := NewStore(Default())
	calls := 0
	s.OnSwap(func(old, new *Snapshot) { calls++ })
	s.OnSwap(func(old, new *Snapshot) { calls++ })

	s.Swap(&Snapshot{})
	require.Equal(t, 2, calls)
}

func TestWatcherReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxycore.conf")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))

	store := NewStore(Default())
	reloaded := make(chan struct{}, 1)
	loader := func(p string) (*Snapshot, error) {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		return &Snapshot{ListenAddr: string(data)}, nil
	}

	w, err := NewWatcher(store, func(p string) (*Snapshot, error) {
		snap, err := loader(p)
		if err == nil {
			reloaded <- struct{}{}
		}
		return snap, err
	}, path, 10*time.Millisecond, obslog.Nop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0644))

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never reloaded after file change")
	}

	// Swap happens asynchronously right after the loader signals; give it
	// a moment to land before asserting on the store.
	require.Eventually(t, func() bool {
		return store.Load().ListenAddr == "v2"
	}, time.Second, 10*time.Millisecond)
}

func TestWatcherKeepsPreviousSnapshotOnLoadError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxycore.conf")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))

	store := NewStore(Default())
	w, err := NewWatcher(store, func(p string) (*Snapshot, error) {
		return nil, os.ErrInvalid
	}, path, 10*time.Millisecond, obslog.Nop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0644))
	time.Sleep(100 * time.Millisecond)

	require.Equal(t, uint64(1), store.Load().Generation)
}
