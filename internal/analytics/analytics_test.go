package analytics

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratacache/stratacache/pkg/types"
)

func TestHitRateReactsToTraffic(t *testing.T) {
	a := New(Config{})

	a.RecordRequest("k", types.TierHot, true, time.Millisecond)
	a.RecordRequest("k", types.TierHot, false, time.Millisecond)
	assert.InDelta(t, 0.5, a.Snapshot().HitRate, 0.001)

	a.RecordRequest("k", types.TierWarm, true, time.Millisecond)
	a.RecordRequest("k", types.TierCold, true, time.Millisecond)
	assert.InDelta(t, 0.75, a.Snapshot().HitRate, 0.001)
}

func TestPerKeyTierBreakdown(t *testing.T) {
	a := New(Config{})
	a.RecordRequest("k", types.TierHot, true, 0)
	a.RecordRequest("k", types.TierHot, true, 0)
	a.RecordRequest("k", types.TierWarm, true, 0)
	a.RecordRequest("k", types.TierCold, false, 0)
	a.RecordWrite("k")

	ks := a.KeyStats("k")
	require.NotNil(t, ks)
	assert.Equal(t, uint64(4), ks.Requests)
	assert.Equal(t, uint64(2), ks.HitsByTier[types.TierHot])
	assert.Equal(t, uint64(1), ks.HitsByTier[types.TierWarm])
	assert.Equal(t, uint64(1), ks.Misses)
	assert.Equal(t, uint64(1), ks.Writes)

	assert.Nil(t, a.KeyStats("unseen"))
}

func TestAvgResponseTime(t *testing.T) {
	a := New(Config{})
	a.RecordRequest("a", types.TierHot, true, 10*time.Millisecond)
	a.RecordRequest("b", types.TierHot, true, 30*time.Millisecond)

	assert.Equal(t, 20*time.Millisecond, a.Snapshot().AvgResponseTime)
}

func TestErrorRateAndBoundedLog(t *testing.T) {
	a := New(Config{MaxErrors: 3})

	for i := 0; i < 10; i++ {
		a.RecordRequest("k", types.TierHot, false, 0)
	}
	for i := 0; i < 5; i++ {
		a.RecordError("k", fmt.Errorf("boom %d", i))
	}
	a.RecordError("k", nil) // ignored

	report := a.Snapshot()
	assert.InDelta(t, 0.5, report.ErrorRate, 0.001)
	require.Len(t, report.RecentErrors, 3)
	assert.Equal(t, "boom 2", report.RecentErrors[0].Message)
	assert.Equal(t, "boom 4", report.RecentErrors[2].Message)
}

func TestTopKeysRanking(t *testing.T) {
	a := New(Config{TopKeys: 2})

	for i := 0; i < 5; i++ {
		a.RecordRequest("hot-key", types.TierHot, true, 0)
	}
	for i := 0; i < 3; i++ {
		a.RecordRequest("medium-key", types.TierHot, true, 0)
	}
	a.RecordRequest("cold-key", types.TierHot, true, 0)

	top := a.Snapshot().TopKeys
	require.Len(t, top, 2)
	assert.Equal(t, "hot-key", top[0].Key)
	assert.Equal(t, "medium-key", top[1].Key)
}

func TestTrackedKeysAreBounded(t *testing.T) {
	a := New(Config{MaxTrackedKeys: 3})

	for i := 0; i < 3; i++ {
		a.RecordRequest(fmt.Sprintf("key-%d", i), types.TierHot, true, 0)
	}
	// Refresh key-1 and key-2 so key-0 is the stalest.
	a.RecordRequest("key-1", types.TierHot, true, 0)
	a.RecordRequest("key-2", types.TierHot, true, 0)

	a.RecordRequest("key-3", types.TierHot, true, 0)

	assert.Nil(t, a.KeyStats("key-0"), "the stalest key makes room")
	assert.NotNil(t, a.KeyStats("key-3"))
	assert.LessOrEqual(t, len(a.Snapshot().TopKeys), 3)
}

func TestSnapshotIsACopy(t *testing.T) {
	a := New(Config{})
	a.RecordRequest("k", types.TierHot, true, 0)

	report := a.Snapshot()
	report.TopKeys[0].HitsByTier[types.TierHot] = 999

	assert.Equal(t, uint64(1), a.KeyStats("k").HitsByTier[types.TierHot])
}

func TestExporterServesMetrics(t *testing.T) {
	e, err := NewExporter(ExporterConfig{Namespace: "testcache"})
	require.NoError(t, err)

	e.ObserveRequest(types.TierHot, true, time.Millisecond)
	e.ObserveRequest(types.TierHot, false, time.Millisecond)
	e.ObserveWrite()
	e.ObservePromotion(types.TierWarm, types.TierHot)
	e.UpdateTier(types.TierHot, types.LayerMetrics{Size: 7, HitRate: 0.5})

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "testcache_requests_total")
	assert.Contains(t, body, "testcache_writes_total")
	assert.Contains(t, body, "testcache_tier_entries")
	assert.Contains(t, body, "testcache_promotions_total")
}
