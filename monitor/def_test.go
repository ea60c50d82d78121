package monitor

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCounts(t *testing.T) {
	beforeReq := testutil.ToFloat64(RequestsTotal.WithLabelValues(TransportHTTP))
	beforePerson := testutil.ToFloat64(DetectionsTotal.WithLabelValues("person"))

	ObserveCounts(TransportHTTP, map[string]int{"person": 2, "car": 1}, 40*time.Millisecond)

	assert.Equal(t, beforeReq+1, testutil.ToFloat64(RequestsTotal.WithLabelValues(TransportHTTP)))
	assert.Equal(t, beforePerson+2, testutil.ToFloat64(DetectionsTotal.WithLabelValues("person")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	GotPID()
	CheckProcessInfo()
	ObserveCounts(TransportGRPC, map[string]int{"dog": 1}, time.Millisecond)

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `detections_total{label="dog"}`)
	assert.Contains(t, string(body), `requests_total{transport="grpc"}`)
	assert.Contains(t, string(body), "inference_seconds_bucket")
	assert.Contains(t, string(body), "memory_usage_Megabytes")
}
