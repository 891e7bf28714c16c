//go:build testing
// +build testing

package monitor

import (
	"testing"
	"time"

	"dockmon/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile(t *testing.T) {
	t.Run("tracked set converges to live set", func(t *testing.T) {
		cfg := testDaemonConfig("local")
		reg := NewRegistry(cfg)

		// seed tracked set {A, C}
		reg.Reconcile([]liveContainer{
			{id: "idA", name: "A", state: "running"},
			{id: "idC", name: "C", state: "running"},
		})
		require.Equal(t, 2, reg.Len())

		// live set is now {A, B}
		var removed int
		for cycle := 0; cycle <= cfg.GraceCycles; cycle++ {
			result := reg.Reconcile([]liveContainer{
				{id: "idA", name: "A", state: "running"},
				{id: "idB", name: "B", state: "running"},
			})
			if cycle == 0 {
				require.Len(t, result.added, 1)
				assert.Equal(t, "B", result.added[0].name)
			} else {
				assert.Empty(t, result.added)
			}
			removed += len(result.removed)
		}

		assert.Equal(t, 1, removed, "exactly one removal for C after the grace window")
		assert.Equal(t, 2, reg.Len())
		_, ok := reg.Lookup("C")
		assert.False(t, ok)
	})

	t.Run("missing container survives grace window", func(t *testing.T) {
		cfg := testDaemonConfig("local")
		reg := NewRegistry(cfg)
		reg.Reconcile([]liveContainer{{id: "idA", name: "A", state: "running"}})

		result := reg.Reconcile(nil)
		assert.Empty(t, result.removed)
		cs, ok := reg.Lookup("A")
		require.True(t, ok)
		assert.True(t, cs.stale)

		// reappearance clears the stale flag and the counter
		result = reg.Reconcile([]liveContainer{{id: "idA", name: "A", state: "running"}})
		assert.Empty(t, result.added, "same id is not a new container")
		assert.False(t, cs.stale)
		assert.Zero(t, cs.missing)
	})

	t.Run("recreate is removal plus addition", func(t *testing.T) {
		cfg := testDaemonConfig("local")
		cfg.Rename = map[string]string{"A": "Primary"}
		reg := NewRegistry(cfg)
		reg.Reconcile([]liveContainer{{id: "old", name: "A", state: "running"}})

		// seed the old container with samples so it has derived metrics
		base := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
		cs, ok := reg.Lookup("A")
		require.True(t, ok)
		cs.updateStats(sampleAt(base, 1_000_000, 10_000_000, 64<<20, 0, 0), config.DefaultMemoryChange, allConditions())
		cs.updateStats(sampleAt(base.Add(2*time.Second), 2_000_000, 20_000_000, 64<<20, 0, 0), config.DefaultMemoryChange, allConditions())
		require.NotZero(t, cs.cache.cpuPercent)

		result := reg.Reconcile([]liveContainer{{id: "new", name: "A", state: "running"}})
		require.Len(t, result.removed, 1)
		require.Len(t, result.added, 1)
		assert.Equal(t, "old", result.removed[0].ID)
		assert.Equal(t, "new", result.added[0].id)
		assert.Equal(t, "Primary", result.added[0].displayName, "rename rule re-applied")
		assert.False(t, result.added[0].hasPrev, "history not carried over")
		assert.Zero(t, result.added[0].cache.cpuPercent, "derived cache starts fresh")
	})

	t.Run("include and exclude rules applied", func(t *testing.T) {
		cfg := testDaemonConfig("local")
		cfg.ContainersExclude = []string{"noisy"}
		reg := NewRegistry(cfg)

		result := reg.Reconcile([]liveContainer{
			{id: "id1", name: "web", state: "running"},
			{id: "id2", name: "noisy", state: "running"},
		})
		assert.Len(t, result.added, 1)
		assert.Equal(t, 1, reg.Len())
		_, ok := reg.Lookup("noisy")
		assert.False(t, ok)
	})

	t.Run("identity follows configured name not display name", func(t *testing.T) {
		cfg := testDaemonConfig("local")
		cfg.Rename = map[string]string{"web": "Frontend"}
		reg := NewRegistry(cfg)
		reg.Reconcile([]liveContainer{{id: "id1", name: "web", state: "running"}})

		cs, ok := reg.Lookup("web")
		require.True(t, ok)
		assert.Equal(t, "Frontend", cs.displayName)
		_, ok = reg.Lookup("Frontend")
		assert.False(t, ok, "display name is presentation only")
	})
}

func TestMarkAllStale(t *testing.T) {
	cfg := testDaemonConfig("local")
	reg := NewRegistry(cfg)
	reg.Reconcile([]liveContainer{
		{id: "id1", name: "web", state: "running"},
		{id: "id2", name: "db", state: "running"},
	})

	changed := reg.MarkAllStale()
	assert.Len(t, changed, 2)
	// idempotent: already-stale records do not report again
	assert.Empty(t, reg.MarkAllStale())

	for _, rec := range reg.Snapshots() {
		assert.True(t, rec.Stale)
	}
}

func TestSnapshots(t *testing.T) {
	cfg := testDaemonConfig("local")
	cfg.Precision = config.Precision{CPU: 2, MemoryMB: 1, MemoryPercent: 1, NetworkKB: 1, NetworkMB: 1}
	reg := NewRegistry(cfg)
	reg.Reconcile([]liveContainer{{id: "id1", name: "web", state: "running"}})

	snaps := reg.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, "id1", snaps[0].ID)
	assert.Equal(t, "running", snaps[0].State)
}
