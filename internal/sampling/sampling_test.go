package sampling_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trevorr/gmond/internal/config"
	"github.com/trevorr/gmond/internal/sampling"
	"github.com/trevorr/gmond/internal/wire"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTickFiresGroupImmediatelyOnFirstCall(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	var published [][]byte
	publish := func(b []byte) { published = append(published, b) }

	registry := map[string]sampling.Callback{
		"cpu_user": func() (wire.Value, error) { return wire.FloatValue(1.5), nil },
	}

	groups := []config.CollectionGroup{
		{Name: "basic", IntervalSeconds: 20, Metric: []string{"cpu_user"}},
	}

	sched := sampling.NewScheduler(groups, registry, clock, publish, nil, nil)
	next := sched.Tick()

	require.Len(t, published, 1)
	msg, err := wire.Decode(published[0])
	require.NoError(t, err)
	assert.Equal(t, wire.TypeFloat, msg.Value.Type)
	assert.Equal(t, float32(1.5), msg.Value.Float)
	assert.GreaterOrEqual(t, next, 1)
	assert.LessOrEqual(t, next, 20)
}

func TestTickDoesNotRefireBeforeCadenceElapses(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	calls := 0
	registry := map[string]sampling.Callback{
		"cpu_user": func() (wire.Value, error) { calls++; return wire.FloatValue(1), nil },
	}
	groups := []config.CollectionGroup{
		{Name: "basic", IntervalSeconds: 20, Metric: []string{"cpu_user"}},
	}

	sched := sampling.NewScheduler(groups, registry, clock, func([]byte) {}, nil, nil)
	sched.Tick()
	assert.Equal(t, 1, calls)

	clock.Advance(5 * time.Second)
	sched.Tick()
	assert.Equal(t, 1, calls, "group should not refire before its 20s cadence elapses")

	clock.Advance(16 * time.Second)
	sched.Tick()
	assert.Equal(t, 2, calls, "group should refire once its cadence has elapsed")
}

func TestTickSkipsUnknownMetricNameWithoutFailing(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	registry := map[string]sampling.Callback{
		"cpu_user": func() (wire.Value, error) { return wire.FloatValue(1), nil },
	}
	groups := []config.CollectionGroup{
		{Name: "basic", IntervalSeconds: 10, Metric: []string{"totally_made_up_metric", "cpu_user"}},
	}

	var published [][]byte
	sched := sampling.NewScheduler(groups, registry, clock, func(b []byte) { published = append(published, b) }, nil, nil)
	assert.NotPanics(t, func() { sched.Tick() })
	assert.Len(t, published, 1)
}

func TestTickCallbackFailureIsSkippedNotFatal(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	registry := map[string]sampling.Callback{
		"cpu_user": func() (wire.Value, error) { return wire.Value{}, assert.AnError },
	}
	groups := []config.CollectionGroup{
		{Name: "basic", IntervalSeconds: 10, Metric: []string{"cpu_user"}},
	}

	var published [][]byte
	sched := sampling.NewScheduler(groups, registry, clock, func(b []byte) { published = append(published, b) }, nil, nil)
	assert.NotPanics(t, func() { sched.Tick() })
	assert.Empty(t, published)
}

func TestTickWithNoGroupsReturnsLongInterval(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	sched := sampling.NewScheduler(nil, sampling.BuiltinRegistry(), clock, func([]byte) {}, nil, nil)
	assert.GreaterOrEqual(t, sched.Tick(), 60)
}
