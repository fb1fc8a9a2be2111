package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChecker(t *testing.T) (*HealthChecker, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	return NewHealthChecker(db, client, "test"), mock, mr
}

func expectCatalog(mock sqlmock.Sqlmock, n int) {
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM permissions").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
}

func readiness(t *testing.T, checker *HealthChecker) (int, HealthStatus) {
	t.Helper()
	rec := httptest.NewRecorder()
	checker.Readiness(rec, httptest.NewRequest("GET", "/readyz", nil))

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	return rec.Code, status
}

func TestHealthChecker_Healthy(t *testing.T) {
	checker, mock, _ := newChecker(t)
	mock.ExpectPing()
	expectCatalog(mock, 12)

	status := checker.Check(context.Background())

	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, "test", status.Version)
	for _, name := range []string{"database", "catalog", "redis"} {
		assert.Equal(t, StatusHealthy, status.Probes[name].Status, name)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_DatabaseDownSkipsCatalog(t *testing.T) {
	checker, mock, _ := newChecker(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	code, status := readiness(t, checker)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, "connection refused", status.Probes["database"].Error)
	assert.Equal(t, "skipped", status.Probes["catalog"].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_EmptyCatalogIsUnhealthy(t *testing.T) {
	checker, mock, _ := newChecker(t)
	mock.ExpectPing()
	expectCatalog(mock, 0)

	code, status := readiness(t, checker)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, errCatalogEmpty.Error(), status.Probes["catalog"].Error)
}

func TestHealthChecker_RedisDownDegrades(t *testing.T) {
	checker, mock, mr := newChecker(t)
	mr.Close()
	mock.ExpectPing()
	expectCatalog(mock, 12)

	code, status := readiness(t, checker)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, status.Status)
	assert.Equal(t, StatusUnhealthy, status.Probes["redis"].Status)
}

func TestHealthChecker_ExtraProbe(t *testing.T) {
	checker := NewHealthChecker(nil, nil, "test", Probe{
		Name:  "manifest",
		Check: func(ctx context.Context) error { return errors.New("manifest missing") },
	})

	status := checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, status.Status)
	assert.Equal(t, "manifest missing", status.Probes["manifest"].Error)
}

func TestRegisterHealthRoutes(t *testing.T) {
	router := mux.NewRouter()
	RegisterHealthRoutes(router, NewHealthChecker(nil, nil, "test"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
