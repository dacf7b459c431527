package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pscheid92/subathon/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsMiddleware_RecordsRouteTemplate(t *testing.T) {
	srv := newTestServer(t, &mockTimerService{}, nil)
	counter := metrics.HTTPRequestsTotal.WithLabelValues("/api/tenants/:id/state", http.MethodGet, "200")
	before := testutil.ToFloat64(counter)

	adminRequest(t, srv, http.MethodGet, "/api/tenants/b1/state", "")
	adminRequest(t, srv, http.MethodGet, "/api/tenants/b2/state", "")

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestMetricsMiddleware_CountsRejectedKey(t *testing.T) {
	srv := newTestServer(t, &mockTimerService{}, nil)
	counter := metrics.HTTPRequestsTotal.WithLabelValues("/api/tenants/:id/pause", http.MethodPost, "401")
	before := testutil.ToFloat64(counter)

	req := httptest.NewRequest(http.MethodPost, "/api/tenants/b1/pause", nil)
	req.Header.Set("X-API-Key", "not-the-admin-key")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &mockTimerService{}, nil)
	adminRequest(t, srv, http.MethodGet, "/api/tenants/b1/state", "")

	rec := get(t, srv, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
