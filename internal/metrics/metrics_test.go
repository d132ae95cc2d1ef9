package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Upsert(t *testing.T) {
	c := NewCollector()

	c.Upsert(ObjectReading, OutcomeCreated)
	c.Upsert(ObjectReading, OutcomeCreated)
	c.Upsert(ObjectReading, OutcomeUpdated)
	c.BatchItem()

	assert.Equal(t, 2.0, c.Upserts(ObjectReading, OutcomeCreated))
	assert.Equal(t, 1.0, c.Upserts(ObjectReading, OutcomeUpdated))
	assert.Equal(t, 0.0, c.Upserts(ObjectMetadata, OutcomeRetried))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.batchItems))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.Upsert(ObjectMetadata, OutcomeCreated)
		c.BatchItem()
		c.ObserveRequest(http.MethodGet, "/levels", http.StatusOK, time.Millisecond)
	})
	assert.Zero(t, c.Upserts(ObjectReading, OutcomeCreated))
}

func TestHandler_ExposesCollector(t *testing.T) {
	c := NewCollector()
	reg := NewRegistry(c)

	c.Upsert(ObjectMetadata, OutcomeCreated)
	c.ObserveRequest(http.MethodGet, "/levels", http.StatusOK, 20*time.Millisecond)

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, `glucose_api_upserts_total{object="metadata",outcome="created"} 1`), body)
	assert.Contains(t, body, `glucose_api_http_request_duration_seconds_count{method="GET",route="/levels",status="200"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
