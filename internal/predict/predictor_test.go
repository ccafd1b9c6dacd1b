package predict

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stratacache/stratacache/pkg/types"
)

func TestShouldPromoteNeedsFrequency(t *testing.T) {
	p := New(DefaultConfig())

	p.RecordAccess("k", types.TierWarm, true)
	assert.False(t, p.ShouldPromote("k", types.TierHot))

	p.RecordAccess("k", types.TierWarm, true)
	p.RecordAccess("k", types.TierWarm, true)
	assert.True(t, p.ShouldPromote("k", types.TierHot))
}

func TestShouldPromoteWarmThresholdLower(t *testing.T) {
	p := New(DefaultConfig())

	p.RecordAccess("k", types.TierCold, true)
	assert.False(t, p.ShouldPromote("k", types.TierWarm))

	p.RecordAccess("k", types.TierCold, true)
	assert.True(t, p.ShouldPromote("k", types.TierWarm))
	assert.False(t, p.ShouldPromote("k", types.TierHot))
}

func TestShouldPromoteUnknownKeyOrTier(t *testing.T) {
	p := New(DefaultConfig())
	assert.False(t, p.ShouldPromote("unseen", types.TierHot))
	assert.False(t, p.ShouldPromote("unseen", types.TierCold))
}

func TestFrequencyWindowExpires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 40 * time.Millisecond
	p := New(cfg)

	for i := 0; i < 5; i++ {
		p.RecordAccess("k", types.TierWarm, true)
	}
	assert.True(t, p.ShouldPromote("k", types.TierHot))

	time.Sleep(60 * time.Millisecond)
	assert.False(t, p.ShouldPromote("k", types.TierHot))
}

func TestPredictedKeysOrderedByFollowCount(t *testing.T) {
	p := New(DefaultConfig())

	// b follows a twice, c follows a once.
	p.RecordAccess("a", types.TierHot, true)
	p.RecordAccess("b", types.TierHot, true)
	p.RecordAccess("a", types.TierHot, true)
	p.RecordAccess("b", types.TierHot, true)
	p.RecordAccess("a", types.TierHot, true)
	p.RecordAccess("c", types.TierHot, true)

	keys := p.PredictedKeys("a", 5)
	assert.Equal(t, []string{"b", "c"}, keys)

	keys = p.PredictedKeys("a", 1)
	assert.Equal(t, []string{"b"}, keys)

	assert.Nil(t, p.PredictedKeys("unseen", 5))
	assert.Nil(t, p.PredictedKeys("a", 0))
}

func TestCoAccessWindowGate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CoAccessWindow = 10 * time.Millisecond
	p := New(cfg)

	p.RecordAccess("a", types.TierHot, true)
	time.Sleep(30 * time.Millisecond)
	p.RecordAccess("b", types.TierHot, true)

	assert.Nil(t, p.PredictedKeys("a", 5))
}

func TestConfidence(t *testing.T) {
	p := New(DefaultConfig())
	assert.Zero(t, p.Confidence("unseen"))

	for i := 0; i < 4; i++ {
		p.RecordAccess("k", types.TierHot, true)
	}
	c := p.Confidence("k")
	assert.Greater(t, c, 0.5)
	assert.LessOrEqual(t, c, 1.0)
}

func TestForget(t *testing.T) {
	p := New(DefaultConfig())
	p.RecordAccess("a", types.TierHot, true)
	p.RecordAccess("b", types.TierHot, true)
	p.RecordAccess("a", types.TierHot, true)
	p.RecordAccess("a", types.TierHot, true)

	p.Forget("a")
	assert.False(t, p.ShouldPromote("a", types.TierWarm))
	assert.Nil(t, p.PredictedKeys("a", 5))
	// b's follow table must no longer reference a.
	assert.Nil(t, p.PredictedKeys("b", 5))
}

func TestTrackedKeyBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTrackedKeys = 10
	p := New(cfg)

	for i := 0; i < 50; i++ {
		p.RecordAccess(fmt.Sprintf("k%d", i), types.TierHot, true)
	}

	p.mu.Lock()
	tracked := len(p.patterns)
	p.mu.Unlock()
	assert.LessOrEqual(t, tracked, 10)
}
