package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestInstrumentRecordsRouteAndStatus(t *testing.T) {
	m := New()
	h := m.Instrument("/keys", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusSeeOther)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/keys?x=1", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/keys", nil))

	body := scrape(t, m)
	assert.Contains(t, body, `keyconsole_http_requests_total{method="POST",route="/keys",status="303"} 2`)
	assert.Contains(t, body, "keyconsole_http_inflight_requests 0")
}

func TestRecorders(t *testing.T) {
	m := New()
	m.ReauthOutcome("password", "revoke", "ok")
	m.OrderAttempt("error")
	m.OrderAttempt("ok")
	m.ProvisioningOutcome("verify_uncertain")

	body := scrape(t, m)
	assert.Contains(t, body, `keyconsole_reauth_outcomes_total{kind="revoke",path="password",result="ok"} 1`)
	assert.Contains(t, body, `keyconsole_payment_order_attempts_total{result="ok"} 1`)
	assert.Contains(t, body, `keyconsole_payment_order_attempts_total{result="error"} 1`)
	assert.Contains(t, body, `keyconsole_provisioning_outcomes_total{result="verify_uncertain"} 1`)
}
