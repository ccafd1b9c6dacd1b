package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratacache/stratacache/internal/config"
	cacheerrors "github.com/stratacache/stratacache/pkg/errors"
	"github.com/stratacache/stratacache/pkg/health"
	"github.com/stratacache/stratacache/pkg/types"
)

func hotOnlyConfig() *config.Configuration {
	cfg := config.DefaultConfiguration()
	cfg.Warm.Enabled = false
	cfg.Cold.Enabled = false
	cfg.Analytics.Enabled = false
	return cfg
}

func TestNewHotOnlyEngine(t *testing.T) {
	eng, err := New(context.Background(), hotOnlyConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, eng.Orchestrator)
	require.NotNil(t, eng.AI)

	ctx := context.Background()
	require.NoError(t, eng.Orchestrator.Set(ctx, "k", []byte("v"), time.Minute, types.EntryMetadata{}))
	entry, err := eng.Orchestrator.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, []byte("v"), entry.Value)
}

func TestEngineLifecycle(t *testing.T) {
	eng, err := New(context.Background(), hotOnlyConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, eng.Start())
	require.NoError(t, eng.Stop())
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	cfg := hotOnlyConfig()
	cfg.Hot.EvictionPolicy = "bogus"

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, cacheerrors.IsCode(err, cacheerrors.ErrCodeInvalidConfig))
}

func TestEngineHealthChecks(t *testing.T) {
	eng, err := New(context.Background(), hotOnlyConfig(), nil)
	require.NoError(t, err)

	eng.Health.RunChecks(context.Background())
	assert.Equal(t, health.StateHealthy, eng.Health.Overall())

	components := eng.Health.Components()
	require.Len(t, components, 1)
	assert.Equal(t, "hot", components[0].Name)
}

func TestEngineEmitsEventsToSinks(t *testing.T) {
	var events []types.Event
	eng, err := New(context.Background(), hotOnlyConfig(), nil, func(e types.Event) {
		events = append(events, e)
	})
	require.NoError(t, err)

	require.NoError(t, eng.Orchestrator.Set(context.Background(), "k", []byte("v"), time.Minute, types.EntryMetadata{}))
	require.NotEmpty(t, events)
	assert.Equal(t, types.EventCacheWrite, events[0].Type)
}
