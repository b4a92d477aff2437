package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersIndependently(t *testing.T) {
	a := New()
	b := New()

	a.QuestsBroadcast.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.QuestsBroadcast))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.QuestsBroadcast))
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.SessionsClaimed.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nicmeup_session_claimed_total 1")
}
