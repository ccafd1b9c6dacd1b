// Package health tracks the health of the cache hierarchy's components and
// derives an overall service state for readiness probes.
package health

import (
	"context"
	"sync"
	"time"
)

// State is the health of a component or of the whole service.
type State int

const (
	// StateHealthy means fully operational.
	StateHealthy State = iota

	// StateDegraded means operational with reduced capability, typically a
	// remote tier misbehaving while the hot tier keeps serving.
	StateDegraded

	// StateUnavailable means the component cannot serve at all.
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// CheckFunc probes one component. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// ComponentHealth is the tracked state of one component.
type ComponentHealth struct {
	Name              string    `json:"name"`
	State             State     `json:"state"`
	Critical          bool      `json:"critical"`
	LastStateChange   time.Time `json:"last_state_change"`
	LastCheck         time.Time `json:"last_check"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastErrorMessage  string    `json:"last_error_message,omitempty"`
}

type component struct {
	health ComponentHealth
	check  CheckFunc
}

// Tracker aggregates component health into a service state. A critical
// component going unavailable takes the service down; non-critical failures
// only degrade it.
type Tracker struct {
	mu         sync.Mutex
	components map[string]*component

	// error streaks before a component is marked degraded / unavailable
	degradedAfter    int
	unavailableAfter int
}

// NewTracker creates a tracker with the default failure thresholds.
func NewTracker() *Tracker {
	return &Tracker{
		components:       make(map[string]*component),
		degradedAfter:    3,
		unavailableAfter: 10,
	}
}

// Register adds a component. check may be nil for components updated only
// through RecordSuccess/RecordFailure.
func (t *Tracker) Register(name string, critical bool, check CheckFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.components[name] = &component{
		health: ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			Critical:        critical,
			LastStateChange: time.Now(),
		},
		check: check,
	}
}

// RecordSuccess marks one successful interaction with the component.
func (t *Tracker) RecordSuccess(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.components[name]
	if !ok {
		return
	}
	c.health.ConsecutiveErrors = 0
	c.health.LastErrorMessage = ""
	c.health.LastCheck = time.Now()
	t.transition(c, StateHealthy)
}

// RecordFailure marks one failed interaction; repeated failures walk the
// component through degraded into unavailable.
func (t *Tracker) RecordFailure(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.components[name]
	if !ok {
		return
	}
	c.health.ConsecutiveErrors++
	if err != nil {
		c.health.LastErrorMessage = err.Error()
	}
	c.health.LastCheck = time.Now()

	switch {
	case c.health.ConsecutiveErrors >= t.unavailableAfter:
		t.transition(c, StateUnavailable)
	case c.health.ConsecutiveErrors >= t.degradedAfter:
		t.transition(c, StateDegraded)
	}
}

func (t *Tracker) transition(c *component, state State) {
	if c.health.State == state {
		return
	}
	c.health.State = state
	c.health.LastStateChange = time.Now()
}

// RunChecks executes every registered check once and folds the results into
// the component states.
func (t *Tracker) RunChecks(ctx context.Context) {
	t.mu.Lock()
	checks := make(map[string]CheckFunc, len(t.components))
	for name, c := range t.components {
		if c.check != nil {
			checks[name] = c.check
		}
	}
	t.mu.Unlock()

	for name, check := range checks {
		if err := check(ctx); err != nil {
			t.RecordFailure(name, err)
		} else {
			t.RecordSuccess(name)
		}
	}
}

// Overall folds component states into one service state.
func (t *Tracker) Overall() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	overall := StateHealthy
	for _, c := range t.components {
		switch c.health.State {
		case StateUnavailable:
			if c.health.Critical {
				return StateUnavailable
			}
			overall = StateDegraded
		case StateDegraded:
			if overall == StateHealthy {
				overall = StateDegraded
			}
		}
	}
	return overall
}

// Components returns a snapshot of every tracked component.
func (t *Tracker) Components() []ComponentHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ComponentHealth, 0, len(t.components))
	for _, c := range t.components {
		out = append(out, c.health)
	}
	return out
}
