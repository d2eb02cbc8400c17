package httpapi

import (
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/brightcampus/schoolcore/internal/golive"
	"github.com/brightcampus/schoolcore/internal/metrics"
	"github.com/brightcampus/schoolcore/internal/queue"
	"github.com/brightcampus/schoolcore/internal/redflag"
	"github.com/brightcampus/schoolcore/pkg/database"
	"github.com/brightcampus/schoolcore/pkg/errors"
	"github.com/brightcampus/schoolcore/pkg/httputil"
	"github.com/brightcampus/schoolcore/pkg/messaging"
)

// HealthHandler serves the liveness, readiness, metrics, queue, and go-live
// dashboard endpoints.
type HealthHandler struct {
	db      *database.DB
	rdb     *redis.Client
	queues  *queue.Queue
	broker  *messaging.RabbitMQ
	metrics *metrics.Registry
	flags   *redflag.Registry
	gate    *golive.Gate
	prom    *prometheus.Registry
	started time.Time
}

// NewHealthHandler constructs a HealthHandler. rdb, queues, and broker may
// be nil when the corresponding backend is down.
func NewHealthHandler(db *database.DB, rdb *redis.Client, q *queue.Queue, broker *messaging.RabbitMQ,
	m *metrics.Registry, flags *redflag.Registry, gate *golive.Gate, prom *prometheus.Registry) *HealthHandler {
	return &HealthHandler{
		db: db, rdb: rdb, queues: q, broker: broker, metrics: m, flags: flags, gate: gate,
		prom: prom, started: time.Now(),
	}
}

// Liveness reports only that the process is alive; no dependency checks.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": time.Since(h.started).String(),
	})
}

// Readiness checks each dependency. Degraded dependencies (Redis, queues)
// keep the status at 200; only a down database flips it to 503.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "ok"
	checks := map[string]any{}

	dbHealth := h.db.Health(ctx)
	checks["database"] = dbHealth
	if dbHealth["status"] != "up" {
		status = "down"
	}

	if h.rdb == nil {
		checks["redis"] = map[string]string{"status": "unavailable"}
		degrade(&status)
	} else {
		start := time.Now()
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			checks["redis"] = map[string]string{"status": "unavailable"}
			h.metrics.Inc("redis.disconnects")
			degrade(&status)
		} else {
			h.metrics.ObserveSince("redis.latency", start)
			checks["redis"] = map[string]string{"status": "up"}
		}
	}

	if h.queues == nil {
		checks["queues"] = map[string]string{"status": "unavailable"}
		degrade(&status)
	} else {
		checks["queues"] = map[string]string{"status": h.queues.Health(ctx).Status}
		if h.queues.Health(ctx).Status != "ok" {
			degrade(&status)
		}
	}

	if h.broker == nil || !h.broker.Up() {
		checks["broker"] = map[string]string{"status": "unavailable"}
		degrade(&status)
	} else {
		checks["broker"] = map[string]string{"status": "up"}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	heapPct := 0.0
	if ms.NextGC > 0 {
		heapPct = float64(ms.HeapAlloc) / float64(ms.NextGC) * 100
	}
	checks["heap_pct"] = heapPct

	code := http.StatusOK
	if status == "down" {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, map[string]any{"status": status, "checks": checks})
}

// degrade lowers ok to degraded without ever resurrecting a down status.
func degrade(status *string) {
	if *status == "ok" {
		*status = "degraded"
	}
}

// Metrics serves the registry snapshot as JSON, or Prometheus exposition
// format when the client asks for it via ?format=prometheus.
func (h *HealthHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "prometheus" && h.prom != nil {
		promhttp.HandlerFor(h.prom, promhttp.HandlerOpts{}).ServeHTTP(w, r)
		return
	}
	httputil.JSON(w, http.StatusOK, h.metrics.Snapshot())
}

// Queues reports queue backend health and per-queue DLQ depth.
func (h *HealthHandler) Queues(w http.ResponseWriter, r *http.Request) {
	if h.queues == nil {
		httputil.JSON(w, http.StatusOK, queue.Health{Status: "unavailable"})
		return
	}
	health := h.queues.Health(r.Context())
	var dlqTotal int64
	for _, n := range health.DLQCount {
		dlqTotal += n
	}
	httputil.JSON(w, http.StatusOK, map[string]any{
		"status":   health.Status,
		"dlqCount": dlqTotal,
		"dlq":      health.DLQCount,
	})
}

// GoLive runs the checklist and maps its color to the response status:
// GREEN/YELLOW serve 200, RED serves 503.
func (h *HealthHandler) GoLive(w http.ResponseWriter, r *http.Request) {
	rep := h.gate.Run(r.Context())
	code := http.StatusOK
	if rep.Color == golive.ColorRed {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, rep)
}

// Alerts lists active red flags, most severe first.
func (h *HealthHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]any{"alerts": h.flags.Active()})
}

// Pilot reports pilot-mode status and caps.
func (h *HealthHandler) Pilot(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, h.gate.Pilot(r.Context()))
}

// TenantReadiness reports one tenant's provisioning and admin preflight.
func (h *HealthHandler) TenantReadiness(w http.ResponseWriter, r *http.Request) {
	schema := chi.URLParam(r, "schema")
	v, err := h.gate.TenantPreflight(r.Context(), schema)
	if err != nil {
		httputil.Error(w, errors.BadRequest("invalid schema name"))
		return
	}
	httputil.JSON(w, http.StatusOK, v)
}
