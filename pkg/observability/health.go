package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	readinessTimeout = 5 * time.Second
)

// errCatalogEmpty means migrations ran but the permission catalog was never reconciled
var errCatalogEmpty = errors.New("permission catalog is empty")

// Probe is one readiness check. A failing critical probe makes the service unhealthy; any
// other failure only degrades it.
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// HealthStatus is the readiness report
type HealthStatus struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	CheckedAt time.Time              `json:"checked_at"`
	Probes    map[string]ProbeResult `json:"probes,omitempty"`
}

// ProbeResult is the outcome of a single probe
type ProbeResult struct {
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

// HealthChecker serves liveness and readiness probes
type HealthChecker struct {
	version string
	probes  []Probe
}

// NewHealthChecker builds the standard probes: the database and a seeded permission catalog are
// critical, redis (may be nil) is not because change notifications are best effort.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, version string, extra ...Probe) *HealthChecker {
	h := &HealthChecker{version: version}
	if db != nil {
		h.probes = append(h.probes,
			Probe{Name: "database", Critical: true, Check: db.PingContext},
			Probe{Name: "catalog", Critical: true, Check: func(ctx context.Context) error {
				var n int
				if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM permissions").Scan(&n); err != nil {
					return err
				}
				if n == 0 {
					return errCatalogEmpty
				}
				return nil
			}},
		)
	}
	if redisClient != nil {
		h.probes = append(h.probes, Probe{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	h.probes = append(h.probes, extra...)
	return h
}

// Check runs every probe in order. Once a critical probe fails the remaining critical probes
// are skipped, since they usually depend on it.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    StatusHealthy,
		Version:   h.version,
		CheckedAt: time.Now().UTC(),
		Probes:    make(map[string]ProbeResult, len(h.probes)),
	}

	criticalDown := false
	for _, p := range h.probes {
		if p.Critical && criticalDown {
			status.Probes[p.Name] = ProbeResult{Status: StatusUnhealthy, Error: "skipped"}
			continue
		}

		start := time.Now()
		err := p.Check(ctx)
		result := ProbeResult{Status: StatusHealthy, LatencyMS: float64(time.Since(start).Microseconds()) / 1000}
		if err != nil {
			result.Status = StatusUnhealthy
			result.Error = err.Error()
			switch {
			case p.Critical:
				criticalDown = true
				status.Status = StatusUnhealthy
			case status.Status == StatusHealthy:
				status.Status = StatusDegraded
			}
		}
		status.Probes[p.Name] = result
	}
	return status
}

// Liveness answers 200 while the process can serve HTTP
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, HealthStatus{Status: StatusHealthy, Version: h.version, CheckedAt: time.Now().UTC()})
}

// Readiness answers 503 when a critical probe fails
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// RegisterHealthRoutes registers GET /healthz and GET /readyz
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/healthz", checker.Liveness).Methods("GET")
	router.HandleFunc("/readyz", checker.Readiness).Methods("GET")
}
