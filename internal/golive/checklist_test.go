package golive

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightcampus/schoolcore/internal/metrics"
	"github.com/brightcampus/schoolcore/internal/redflag"
	"github.com/brightcampus/schoolcore/pkg/config"
	"github.com/brightcampus/schoolcore/pkg/logger"
	"github.com/brightcampus/schoolcore/pkg/testutil"
)

func newTestGate(t *testing.T, pilot config.PilotConfig) (*Gate, *testutil.MockDB, *redflag.Registry, *metrics.Registry) {
	mock := testutil.NewMockDB(t)
	t.Cleanup(func() { mock.Close() })

	log := logger.New("golive-test", "test")
	flags := redflag.NewRegistry(log)
	m := metrics.NewRegistry(nil)
	g := New(mock.Wrap(), nil, nil, flags, m, nil, pilot, "test", log)
	return g, mock, flags, m
}

func TestRunConditionalWithoutRedisAndQueues(t *testing.T) {
	g, _, _, _ := newTestGate(t, config.PilotConfig{})

	rep := g.Run(context.Background())

	// Redis and queues are absent, which degrades to warnings rather than
	// blocking, so the verdict is CONDITIONAL/YELLOW, never RED.
	assert.Equal(t, VerdictConditional, rep.Verdict)
	assert.Equal(t, ColorYellow, rep.Color)
	for _, c := range rep.Checks {
		assert.NotEqual(t, CheckFail, c.Status, "check %s must not fail", c.Name)
	}
}

func TestRunBlockedOnP0Alert(t *testing.T) {
	g, _, flags, _ := newTestGate(t, config.PilotConfig{})

	flags.RaiseIsolationMismatch("tenant_a")
	rep := g.Run(context.Background())

	assert.Equal(t, VerdictBlocked, rep.Verdict)
	assert.Equal(t, ColorRed, rep.Color)
}

func TestPilotSanityRejectsBadCaps(t *testing.T) {
	g, _, _, _ := newTestGate(t, config.PilotConfig{Enabled: true, MaxSchools: 0, MaxImportRows: 100})
	c := g.pilotSanity()
	assert.Equal(t, CheckFail, c.Status)

	g2, _, _, _ := newTestGate(t, config.PilotConfig{Enabled: true, MaxSchools: 10, MaxImportRows: 0})
	c2 := g2.pilotSanity()
	assert.Equal(t, CheckFail, c2.Status)

	g3, _, _, _ := newTestGate(t, config.PilotConfig{Enabled: true, MaxSchools: 10, MaxImportRows: 100})
	c3 := g3.pilotSanity()
	assert.Equal(t, CheckPass, c3.Status)
}

func TestLatencyBurst(t *testing.T) {
	g, _, _, m := newTestGate(t, config.PilotConfig{})

	// No traffic yet: passes.
	assert.Equal(t, CheckPass, g.latencyBurst().Status)

	for i := 0; i < 100; i++ {
		m.Observe("http.request_latency", 100)
	}
	assert.Equal(t, CheckPass, g.latencyBurst().Status)

	for i := 0; i < 1000; i++ {
		m.Observe("http.request_latency", 900)
	}
	c := g.latencyBurst()
	assert.Equal(t, CheckWarn, c.Status)
}

func TestAllowOnboardingUnderPilotCap(t *testing.T) {
	g, mock, _, _ := newTestGate(t, config.PilotConfig{Enabled: true, MaxSchools: 2, MaxImportRows: 100})

	mock.ExpectQuery("SELECT COUNT(*) FROM public.institutions WHERE status = 'active'").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	ok, err := g.AllowOnboarding(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectQuery("SELECT COUNT(*) FROM public.institutions WHERE status = 'active'").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	ok, err = g.AllowOnboarding(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllowOnboardingWithoutPilot(t *testing.T) {
	g, _, _, _ := newTestGate(t, config.PilotConfig{})
	ok, err := g.AllowOnboarding(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllowImport(t *testing.T) {
	g, _, _, _ := newTestGate(t, config.PilotConfig{Enabled: true, MaxSchools: 10, MaxImportRows: 500})
	assert.True(t, g.AllowImport(500))
	assert.False(t, g.AllowImport(501))

	off, _, _, _ := newTestGate(t, config.PilotConfig{})
	assert.True(t, off.AllowImport(1_000_000))
}

func TestPilotForcesStrictLog(t *testing.T) {
	g, _, _, _ := newTestGate(t, config.PilotConfig{Enabled: true, MaxSchools: 1, MaxImportRows: 1})
	assert.True(t, g.RBACStrictLog())

	g2, _, _, _ := newTestGate(t, config.PilotConfig{RBACStrictLog: true})
	assert.True(t, g2.RBACStrictLog())

	g3, _, _, _ := newTestGate(t, config.PilotConfig{})
	assert.False(t, g3.RBACStrictLog())
}

func TestTenantPreflightRejectsInvalidSchema(t *testing.T) {
	g, _, _, _ := newTestGate(t, config.PilotConfig{})
	_, err := g.TenantPreflight(context.Background(), "Bad;Schema")
	assert.Error(t, err)
}
