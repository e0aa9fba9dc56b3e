package backend

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/marcogenualdo/keyconsole/internal/config"
	"github.com/marcogenualdo/keyconsole/internal/identity"
	"github.com/marcogenualdo/keyconsole/internal/identity/identitytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method, path, token, contentType string
	body                             []byte
}

type fakeBackend struct {
	mu       sync.Mutex
	requests []recorded
	status   int
	response string
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, recorded{
		method:      r.Method,
		path:        r.URL.Path,
		token:       r.Header.Get("X-Firebase-Token"),
		contentType: r.Header.Get("Content-Type"),
		body:        body,
	})
	status, response := f.status, f.response
	f.mu.Unlock()

	if r.Header.Get("Authorization") != "" {
		status = http.StatusTeapot
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	io.WriteString(w, response)
}

func (f *fakeBackend) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, fb *fakeBackend) *Client {
	t.Helper()

	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	return NewClient(config.BackendConfig{
		URL:         srv.URL + "/v1/",
		Timeout:     5 * time.Second,
		TokenHeader: "X-Firebase-Token",
	}, srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newProof(t *testing.T) identity.Proof {
	t.Helper()

	h := identitytest.NewHarness(identitytest.NewFake(clockwork.NewFakeClock(), identitytest.User{
		UserID: "uid-1", Email: "a@example.com", Password: "pw", Verified: true,
	}))
	t.Cleanup(h.Close)

	proof, _, err := h.Proof(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)
	return proof
}

func TestFetchCurrentReturnsFirstKey(t *testing.T) {
	fb := &fakeBackend{response: `{"keys":[{"key":"orb_live_abcdefghijkl1234","expires_at":"2027-01-01T00:00:00Z"},{"key":"other"}]}`}
	client := newTestClient(t, fb)

	cred, err := client.FetchCurrent(context.Background(), "tok")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "orb_live_abcdefghijkl1234", cred.Key)
	require.NotNil(t, cred.ExpiresAt)
	assert.Equal(t, 2027, cred.ExpiresAt.Year())

	req := fb.last()
	assert.Equal(t, http.MethodGet, req.method)
	assert.Equal(t, "/v1/api-keys/me", req.path)
	assert.Equal(t, "tok", req.token)
}

func TestFetchCurrentNoKeys(t *testing.T) {
	client := newTestClient(t, &fakeBackend{response: `{"keys":[]}`})

	cred, err := client.FetchCurrent(context.Background(), "tok")
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestNonSuccessIsRequestFailed(t *testing.T) {
	client := newTestClient(t, &fakeBackend{status: http.StatusForbidden, response: `{"detail":"nope"}`})

	_, err := client.CreateOrder(context.Background(), "tok", "monthly")

	var failed *RequestFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, http.StatusForbidden, failed.Status)
	assert.Equal(t, "create order", failed.Op)
}

func TestCreateOrderSendsPlan(t *testing.T) {
	fb := &fakeBackend{response: `{"order_id":"order_1","amount":49900,"razorpay_key":"rzp_test"}`}
	client := newTestClient(t, fb)

	order, err := client.CreateOrder(context.Background(), "tok", "monthly")
	require.NoError(t, err)
	assert.Equal(t, &PaymentOrder{OrderID: "order_1", Amount: 49900, RazorpayKey: "rzp_test"}, order)

	req := fb.last()
	assert.Equal(t, "/v1/payments/create-order", req.path)
	assert.JSONEq(t, `{"plan":"monthly"}`, string(req.body))
	assert.Equal(t, "application/json", req.contentType)
}

func TestVerifyPaymentForwardsPayloadUnmodified(t *testing.T) {
	fb := &fakeBackend{response: `{"api_key":"orb_new_key"}`}
	client := newTestClient(t, fb)

	payload := json.RawMessage(`{"razorpay_payment_id":"pay_1","razorpay_order_id":"order_1","razorpay_signature":"sig" }`)
	key, err := client.VerifyPayment(context.Background(), "tok", payload)
	require.NoError(t, err)
	assert.Equal(t, "orb_new_key", key)
	assert.Equal(t, []byte(payload), fb.last().body)
}

func TestDestructiveCallsRequireProof(t *testing.T) {
	fb := &fakeBackend{response: `{"api_key":"k"}`}
	client := newTestClient(t, fb)

	_, err := client.Regenerate(context.Background(), identity.Proof{}, "basic")
	assert.ErrorIs(t, err, ErrNoProof)
	assert.ErrorIs(t, client.Revoke(context.Background(), identity.Proof{}), ErrNoProof)
	assert.Empty(t, fb.requests)
}

func TestRegenerateAndRevokeUseProofToken(t *testing.T) {
	fb := &fakeBackend{response: `{"api_key":"orb_regenerated"}`}
	client := newTestClient(t, fb)
	proof := newProof(t)

	key, err := client.Regenerate(context.Background(), proof, "basic")
	require.NoError(t, err)
	assert.Equal(t, "orb_regenerated", key)
	assert.Equal(t, proof.Token(), fb.last().token)
	assert.JSONEq(t, `{"plan":"basic"}`, string(fb.last().body))

	require.NoError(t, client.Revoke(context.Background(), proof))
	assert.Equal(t, "/v1/api-keys/revoke", fb.last().path)
	assert.Equal(t, proof.Token(), fb.last().token)
}

func TestEmptyIssuedKeyIsError(t *testing.T) {
	client := newTestClient(t, &fakeBackend{response: `{}`})

	_, err := client.VerifyPayment(context.Background(), "tok", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestMissingTokenIsNotAuthenticated(t *testing.T) {
	client := newTestClient(t, &fakeBackend{})

	_, err := client.FetchCurrent(context.Background(), "")
	assert.ErrorIs(t, err, identity.ErrNotAuthenticated)
}
