package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	BusEventsTotal.Inc()
	IngressRequestsTotal.WithLabelValues("http", "accepted").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "fleetwatch_bus_events_total"))
	assert.True(t, strings.Contains(body, `fleetwatch_ingress_requests_total{outcome="accepted",source="http"}`))
}

func TestCounterVecLabels(t *testing.T) {
	before := testutil.ToFloat64(BusDeliveriesTotal.WithLabelValues("dropped"))
	BusDeliveriesTotal.WithLabelValues("dropped").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(BusDeliveriesTotal.WithLabelValues("dropped")))
}
