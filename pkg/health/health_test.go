package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailureStreakWalksStates(t *testing.T) {
	tracker := NewTracker()
	tracker.Register("warm", false, nil)

	assert.Equal(t, StateHealthy, tracker.Overall())

	for i := 0; i < 3; i++ {
		tracker.RecordFailure("warm", assert.AnError)
	}
	assert.Equal(t, StateDegraded, tracker.Overall())

	for i := 0; i < 7; i++ {
		tracker.RecordFailure("warm", assert.AnError)
	}
	// A non-critical component going down only degrades the service.
	assert.Equal(t, StateDegraded, tracker.Overall())

	tracker.RecordSuccess("warm")
	assert.Equal(t, StateHealthy, tracker.Overall())
}

func TestCriticalComponentTakesServiceDown(t *testing.T) {
	tracker := NewTracker()
	tracker.Register("hot", true, nil)

	for i := 0; i < 10; i++ {
		tracker.RecordFailure("hot", assert.AnError)
	}
	assert.Equal(t, StateUnavailable, tracker.Overall())
}

func TestRunChecksFoldsResults(t *testing.T) {
	tracker := NewTracker()
	tracker.degradedAfter = 1
	tracker.Register("ok", false, func(context.Context) error { return nil })
	tracker.Register("broken", false, func(context.Context) error { return assert.AnError })

	tracker.RunChecks(context.Background())

	assert.Equal(t, StateDegraded, tracker.Overall())
	components := tracker.Components()
	assert.Len(t, components, 2)
	for _, c := range components {
		if c.Name == "broken" {
			assert.Equal(t, StateDegraded, c.State)
			assert.NotEmpty(t, c.LastErrorMessage)
		}
	}
}

func TestUnknownComponentIsIgnored(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordFailure("ghost", assert.AnError)
	assert.Equal(t, StateHealthy, tracker.Overall())
}
