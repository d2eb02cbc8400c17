// Package golive decides whether a tenant may be onboarded: it aggregates
// dependency health, active alerts, pilot-mode sanity, and per-tenant
// preflight into one checklist verdict, and enforces the pilot guardrails
// while they are in force.
package golive

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightcampus/schoolcore/internal/metrics"
	"github.com/brightcampus/schoolcore/internal/provision"
	"github.com/brightcampus/schoolcore/internal/queue"
	"github.com/brightcampus/schoolcore/internal/redflag"
	"github.com/brightcampus/schoolcore/pkg/config"
	"github.com/brightcampus/schoolcore/pkg/database"
	"github.com/brightcampus/schoolcore/pkg/logger"
)

// Verdict is the checklist's final decision.
type Verdict string

const (
	VerdictApproved    Verdict = "APPROVED"
	VerdictConditional Verdict = "CONDITIONAL"
	VerdictBlocked     Verdict = "BLOCKED"
)

// Color is the dashboard traffic light derived from check results.
type Color string

const (
	ColorGreen  Color = "GREEN"
	ColorYellow Color = "YELLOW"
	ColorRed    Color = "RED"
)

// CheckStatus classifies one checklist item's outcome.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// Check is one checklist line item.
type Check struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Detail  string      `json:"detail,omitempty"`
	Warning bool        `json:"warning,omitempty"`
}

// Report is the full checklist outcome.
type Report struct {
	Verdict   Verdict   `json:"verdict"`
	Color     Color     `json:"color"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

// PilotStatus is the response shape for the pilot dashboard endpoint.
type PilotStatus struct {
	Enabled       bool `json:"enabled"`
	MaxSchools    int  `json:"max_schools"`
	ActiveSchools int  `json:"active_schools"`
	MaxImportRows int  `json:"max_import_rows"`
	RBACStrictLog bool `json:"rbac_strict_log"`
}

// Gate runs the go-live checklist and enforces pilot guardrails.
type Gate struct {
	db      *database.DB
	rdb     *redis.Client
	queues  *queue.Queue
	flags   *redflag.Registry
	metrics *metrics.Registry
	prov    *provision.Provisioner
	pilot   config.PilotConfig
	env     string
	log     *logger.Logger
}

// New constructs a Gate. rdb and queues may be nil when the backend is
// down; the corresponding checks then report warn rather than fail.
func New(db *database.DB, rdb *redis.Client, q *queue.Queue, flags *redflag.Registry,
	m *metrics.Registry, prov *provision.Provisioner, pilot config.PilotConfig, env string, log *logger.Logger) *Gate {
	return &Gate{db: db, rdb: rdb, queues: q, flags: flags, metrics: m, prov: prov, pilot: pilot, env: env, log: log}
}

// Run executes every global checklist item. Per-tenant preflight is a
// separate call (TenantPreflight) because the dashboard shows it per schema.
func (g *Gate) Run(ctx context.Context) Report {
	var checks []Check

	// Database connectivity is a hard requirement.
	if err := g.db.Ping(ctx); err != nil {
		checks = append(checks, Check{Name: "database", Status: CheckFail, Detail: "unreachable"})
	} else {
		checks = append(checks, Check{Name: "database", Status: CheckPass})
	}

	// Redis and the queue backend degrade to warnings: the server keeps
	// serving without them, so they gate conditionally rather than block.
	if g.rdb == nil {
		checks = append(checks, Check{Name: "redis", Status: CheckWarn, Detail: "not configured", Warning: true})
	} else if err := g.rdb.Ping(ctx).Err(); err != nil {
		checks = append(checks, Check{Name: "redis", Status: CheckWarn, Detail: "unreachable", Warning: true})
	} else {
		checks = append(checks, Check{Name: "redis", Status: CheckPass})
	}

	if g.queues == nil {
		checks = append(checks, Check{Name: "queues", Status: CheckWarn, Detail: "not configured", Warning: true})
	} else if h := g.queues.Health(ctx); h.Status != "ok" {
		checks = append(checks, Check{Name: "queues", Status: CheckWarn, Detail: h.Status, Warning: true})
	} else {
		checks = append(checks, Check{Name: "queues", Status: CheckPass})
	}

	if g.flags.HasP0() {
		checks = append(checks, Check{Name: "alerts", Status: CheckFail, Detail: "active P0 red flags"})
	} else {
		checks = append(checks, Check{Name: "alerts", Status: CheckPass})
	}

	checks = append(checks, g.pilotSanity())
	checks = append(checks, g.latencyBurst())
	checks = append(checks, heapCheck())

	return g.report(checks)
}

// pilotSanity verifies the pilot-mode environment is internally consistent.
func (g *Gate) pilotSanity() Check {
	if !g.pilot.Enabled {
		return Check{Name: "pilot_mode", Status: CheckPass, Detail: "disabled"}
	}
	if g.pilot.MaxSchools <= 0 {
		return Check{Name: "pilot_mode", Status: CheckFail, Detail: "MAX_SCHOOLS must be positive while pilot mode is on"}
	}
	if g.pilot.MaxImportRows <= 0 {
		return Check{Name: "pilot_mode", Status: CheckFail, Detail: "PILOT_MAX_IMPORT_ROWS must be positive while pilot mode is on"}
	}
	return Check{Name: "pilot_mode", Status: CheckPass}
}

// latencyBurst samples recent request latency: 10 in-process observations of
// the rolling window, p95 under 500ms passes. A window with no traffic yet
// passes (there is nothing to measure before the first tenant).
func (g *Gate) latencyBurst() Check {
	var p95s []float64
	for i := 0; i < 10; i++ {
		p95s = append(p95s, g.metrics.Histogram("http.request_latency").P95)
	}
	sort.Float64s(p95s)
	worst := p95s[len(p95s)-1]
	if worst == 0 {
		return Check{Name: "latency_burst", Status: CheckPass, Detail: "no traffic yet"}
	}
	if worst < 500 {
		return Check{Name: "latency_burst", Status: CheckPass, Detail: fmt.Sprintf("p95 %.1fms", worst)}
	}
	return Check{Name: "latency_burst", Status: CheckWarn, Detail: fmt.Sprintf("p95 %.1fms over 500ms budget", worst), Warning: true}
}

// heapCheck warns when the Go heap is running hot relative to the runtime's
// own next-GC target.
func heapCheck() Check {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.NextGC == 0 {
		return Check{Name: "heap", Status: CheckPass}
	}
	pct := float64(ms.HeapAlloc) / float64(ms.NextGC) * 100
	if pct > 90 {
		return Check{Name: "heap", Status: CheckWarn, Detail: fmt.Sprintf("heap at %.0f%% of GC target", pct), Warning: true}
	}
	return Check{Name: "heap", Status: CheckPass}
}

func (g *Gate) report(checks []Check) Report {
	rep := Report{Checks: checks, CheckedAt: time.Now()}
	failed, warned := 0, 0
	for _, c := range checks {
		switch c.Status {
		case CheckFail:
			failed++
		case CheckWarn:
			warned++
		}
	}
	switch {
	case failed > 0:
		rep.Verdict = VerdictBlocked
		rep.Color = ColorRed
	case warned > 0:
		rep.Verdict = VerdictConditional
		rep.Color = ColorYellow
	default:
		rep.Verdict = VerdictApproved
		rep.Color = ColorGreen
	}
	return rep
}

// TenantPreflight checks one tenant's readiness: schema provisioned with the
// critical table set, and at least one active admin.
func (g *Gate) TenantPreflight(ctx context.Context, schema string) (provision.Verification, error) {
	if !database.ValidSchemaName(schema) {
		return provision.Verification{}, fmt.Errorf("golive: invalid schema name %q", schema)
	}
	return g.prov.Verify(ctx, schema), nil
}

// Pilot reports the current pilot-mode status, counting active schools from
// the global catalog when pilot mode is on.
func (g *Gate) Pilot(ctx context.Context) PilotStatus {
	st := PilotStatus{
		Enabled:       g.pilot.Enabled,
		MaxSchools:    g.pilot.MaxSchools,
		MaxImportRows: g.pilot.MaxImportRows,
		RBACStrictLog: g.pilot.RBACStrictLog,
	}
	if g.pilot.Enabled {
		st.ActiveSchools, _ = g.activeSchools(ctx)
	}
	return st
}

func (g *Gate) activeSchools(ctx context.Context) (int, error) {
	var n int
	err := g.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM public.institutions WHERE status = 'active'`)
	return n, err
}

// AllowOnboarding reports whether a new school may be onboarded under the
// pilot cap. Always true when pilot mode is off.
func (g *Gate) AllowOnboarding(ctx context.Context) (bool, error) {
	if !g.pilot.Enabled {
		return true, nil
	}
	n, err := g.activeSchools(ctx)
	if err != nil {
		return false, err
	}
	return n < g.pilot.MaxSchools, nil
}

// AllowImport reports whether a bulk import of rowCount rows is permitted
// under the pilot cap. Always true when pilot mode is off.
func (g *Gate) AllowImport(rowCount int) bool {
	if !g.pilot.Enabled {
		return true
	}
	return rowCount <= g.pilot.MaxImportRows
}

// RBACStrictLog reports whether RBAC denials should be logged without being
// enforced. Pilot mode forces this on regardless of the standalone flag.
func (g *Gate) RBACStrictLog() bool {
	return g.pilot.RBACStrictLog || g.pilot.Enabled
}
