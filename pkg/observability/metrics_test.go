package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_Registers(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordResolution("admin", 10*time.Millisecond)
	m.RecordResolution("granted", 10*time.Millisecond)
	m.RecordResolution("granted", 10*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ResolutionsTotal.WithLabelValues("admin")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ResolutionsTotal.WithLabelValues("granted")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordResolution("empty", time.Millisecond)
		m.RecordPermissionCheck(true)
		m.RecordGuardDenial("permission")
		m.RecordModuleGate("entitlements")
		m.RecordMenuBuild(nil, 3, 1, time.Millisecond)
		m.SetIntegrityIssues(map[string]int{"cycle": 1})
		m.RecordReconcile("menu_item", true)
		m.RecordNotification(nil)
		m.RecordDBStats(nil)
	})
}

func TestMetrics_MenuBuild(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordMenuBuild(nil, 5, 2, time.Millisecond)
	m.RecordMenuBuild(errors.New("boom"), 0, 0, time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.MenuBuildsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MenuBuildsTotal.WithLabelValues("error")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.MenuDanglingNodesTotal))
}

func TestMetrics_IntegrityIssuesReset(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetIntegrityIssues(map[string]int{"cycle": 2, "dangling_parent": 1})
	m.SetIntegrityIssues(map[string]int{"dangling_parent": 3})

	assert.Equal(t, 1, testutil.CollectAndCount(m.MenuIntegrityIssues))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.MenuIntegrityIssues.WithLabelValues("dangling_parent")))
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/api/v1/admin/menu-items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods("GET")

	for _, id := range []string{"1", "2", "3"} {
		req := httptest.NewRequest("GET", "/api/v1/admin/menu-items/"+id, nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, float64(3), testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/admin/menu-items/{id}", "404")))
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordPermissionCheck(false)

	router := mux.NewRouter()
	RegisterMetricsEndpoint(router, registry)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `accessgate_permission_checks_total{result="denied"} 1`)
}
