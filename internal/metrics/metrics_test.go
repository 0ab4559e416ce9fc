package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveGenerate(t *testing.T) {
	before := testutil.ToFloat64(generateTotal.WithLabelValues("finished", "m-test", OutcomeSuccess))
	ObserveGenerate("finished", "m-test", OutcomeSuccess, 150*time.Millisecond)
	after := testutil.ToFloat64(generateTotal.WithLabelValues("finished", "m-test", OutcomeSuccess))
	assert.Equal(t, before+1, after)
}

func TestPullStateChanged(t *testing.T) {
	PullStateChanged("", "running")
	PullStateChanged("running", "succeeded")

	assert.Equal(t, float64(0), testutil.ToFloat64(pullTasks.WithLabelValues("running")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pullTasks.WithLabelValues("succeeded")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	HTTPRequest(http.MethodGet, 200)
	BackendError("list", "Timeout")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "santa_gateway_http_requests_total")
	assert.Contains(t, rec.Body.String(), `santa_gateway_backend_errors_total{kind="Timeout",op="list"}`)
}
