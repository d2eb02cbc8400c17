package redflag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightcampus/schoolcore/internal/metrics"
	"github.com/brightcampus/schoolcore/pkg/logger"
)

func newTestRegistry() *Registry {
	return NewRegistry(logger.New("redflag-test", "test"))
}

func TestRaiseDeduplicatesWithinTTL(t *testing.T) {
	r := newTestRegistry()

	assert.True(t, r.Raise(TypeLoginFailureSpike, P0, "spike", "", 25, 20))
	for i := 0; i < 10; i++ {
		assert.False(t, r.Raise(TypeLoginFailureSpike, P0, "spike", "", 30, 20))
	}

	active := r.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "LOGIN_FAILURE_SPIKE:global", active[0].ID)
	assert.Equal(t, 25.0, active[0].Value)
}

func TestFlagExpiresAfterTTL(t *testing.T) {
	r := newTestRegistry()
	base := time.Now()
	r.now = func() time.Time { return base }

	r.Raise(TypeDBLatencyHigh, P0, "slow", "", 1500, 1000)
	require.Len(t, r.Active(), 1)

	r.now = func() time.Time { return base.Add(6 * time.Minute) }
	assert.Empty(t, r.Active())

	// After expiry the same type can be raised again.
	assert.True(t, r.Raise(TypeDBLatencyHigh, P0, "slow", "", 1200, 1000))
}

func TestPerTenantFlagsAreIndependent(t *testing.T) {
	r := newTestRegistry()

	r.RaiseIsolationMismatch("tenant-a")
	r.RaiseIsolationMismatch("tenant-b")

	active := r.Active()
	require.Len(t, active, 2)
	assert.True(t, r.HasP0())
}

func TestActiveOrdersBySeverity(t *testing.T) {
	r := newTestRegistry()

	r.Raise(TypeDLQBacklog, P1, "backlog", "", 15, 10)
	r.Raise(TypeLoginFailureSpike, P0, "spike", "", 25, 20)

	active := r.Active()
	require.Len(t, active, 2)
	assert.Equal(t, P0, active[0].Severity)
	assert.Equal(t, P1, active[1].Severity)
}

func TestEvaluatorRaisesOnThresholdCross(t *testing.T) {
	flags := newTestRegistry()
	m := metrics.NewRegistry(nil)
	ev := NewEvaluator(flags, m, DefaultThresholds(), func() int64 { return 11 })

	// Below every threshold: nothing raised except the DLQ backlog stub.
	m.Add("auth.login_failures", 5)
	ev.Evaluate()
	active := flags.Active()
	require.Len(t, active, 1)
	assert.Equal(t, TypeDLQBacklog, active[0].Type)

	// 25 failures in the same minute crosses the P0 trigger.
	m.Add("auth.login_failures", 20)
	ev.Evaluate()
	assert.True(t, flags.HasP0())

	var found *Flag
	for _, f := range flags.Active() {
		if f.Type == TypeLoginFailureSpike {
			f := f
			found = &f
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, 25.0, found.Value)
}

func TestEvaluatorDBLatency(t *testing.T) {
	flags := newTestRegistry()
	m := metrics.NewRegistry(nil)
	ev := NewEvaluator(flags, m, DefaultThresholds(), nil)

	for i := 0; i < 100; i++ {
		m.Observe("db.query_latency", 1500)
	}
	ev.Evaluate()

	active := flags.Active()
	require.Len(t, active, 1)
	assert.Equal(t, TypeDBLatencyHigh, active[0].Type)
	assert.Equal(t, P0, active[0].Severity)
}
