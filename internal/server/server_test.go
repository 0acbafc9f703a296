package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayguard/sentinel-backbone/internal/alert"
	"github.com/rayguard/sentinel-backbone/internal/chain"
	"github.com/rayguard/sentinel-backbone/internal/config"
	"github.com/rayguard/sentinel-backbone/internal/guard"
	"github.com/rayguard/sentinel-backbone/internal/hub"
	"github.com/rayguard/sentinel-backbone/internal/metrics"
	"github.com/rayguard/sentinel-backbone/internal/models"
	"github.com/rayguard/sentinel-backbone/internal/recorder"
	"github.com/rayguard/sentinel-backbone/internal/registry"
	"github.com/rayguard/sentinel-backbone/internal/verifier"
)

// collectors register once per process, so every test env shares one manager
var testMetrics = metrics.NewManager()

type testEnv struct {
	server *HTTPServer
	store  *chain.MemoryStore
	hub    *hub.Hub
	guard  *guard.Guard
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := chain.NewMemoryStore()
	reg := registry.New(store)
	h := hub.New(16)
	g := guard.New(0)
	rec := recorder.New(&recorder.Config{
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	}, reg, store, h, g, &alert.RecordingSink{}, nil, nil)
	ver := verifier.New(&verifier.Config{}, store, nil, nil)

	srv := NewHTTPServer(&config.ServerConfig{
		Host:          "127.0.0.1",
		Port:          0,
		EnableMetrics: false,
		EnableCORS:    true,
	}, rec, ver, reg, h, g, store, nil, testMetrics)

	return &testEnv{server: srv, store: store, hub: h, guard: g}
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestRecordEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := postJSON(t, env.server.Router(), "/api/v1/record", recordRequest{
		Origin: "10.0.0.5", ThreatType: "DOS", ActionTaken: "BLOCKED",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["recorded"])
	assert.Equal(t, float64(0), resp["sequence"])
	assert.NotEmpty(t, resp["ledger"])
	assert.Equal(t, "confirmed", resp["chainStatus"])
}

func TestRecordEndpointValidation(t *testing.T) {
	env := newTestEnv(t)
	router := env.server.Router()

	w := postJSON(t, router, "/api/v1/record", recordRequest{ThreatType: "DOS"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, router, "/api/v1/record", recordRequest{
		Origin: "10.0.0.5", ThreatType: "SPAM",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/record", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordEndpointBenign(t *testing.T) {
	env := newTestEnv(t)

	w := postJSON(t, env.server.Router(), "/api/v1/record", recordRequest{
		Origin: "10.0.0.5", ThreatType: "BENIGN", ActionTaken: "ALLOWED",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["recorded"])
	assert.Equal(t, 0, env.store.LedgerCount())
}

func TestRecordEndpointBannedOrigin(t *testing.T) {
	env := newTestEnv(t)
	router := env.server.Router()

	// a blocked DOS verdict bans the origin
	w := postJSON(t, router, "/api/v1/record", recordRequest{
		Origin: "10.0.0.5", ThreatType: "DOS", ActionTaken: "BLOCKED",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	require.True(t, env.guard.IsBanned("10.0.0.5"))

	w = postJSON(t, router, "/api/v1/record", recordRequest{
		Origin: "10.0.0.5", ThreatType: "PROBE", ActionTaken: "ALERTED",
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestVerifyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := env.server.Router()

	w := postJSON(t, router, "/api/v1/record", recordRequest{
		Origin: "10.0.0.8", ThreatType: "R2L", ActionTaken: "LOGGED",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var recorded map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recorded))
	ledger := recorded["ledger"].(string)

	w = postJSON(t, router, "/api/v1/verify", verifyRequest{
		Ledger: ledger, IPAddress: "10.0.0.8", ThreatType: "R2L", ActionTaken: "LOGGED",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["verified"])
	assert.NotEmpty(t, resp["proof"])

	// mismatching claim
	w = postJSON(t, router, "/api/v1/verify", verifyRequest{
		Ledger: ledger, IPAddress: "10.0.0.8", ThreatType: "R2L", ActionTaken: "BLOCKED",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["verified"])
}

func TestCreateLedgerEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := env.server.Router()

	w := postJSON(t, router, "/api/v1/ledgers", createLedgerRequest{Origin: "10.1.2.3"})
	require.Equal(t, http.StatusCreated, w.Code)

	var ledger models.Ledger
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ledger))
	assert.Equal(t, "10.1.2.3", ledger.Origin)
	assert.NotEmpty(t, ledger.Address)

	// repeated call returns the same ledger
	w = postJSON(t, router, "/api/v1/ledgers", createLedgerRequest{Origin: "10.1.2.3"})
	require.Equal(t, http.StatusCreated, w.Code)
	var again models.Ledger
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
	assert.Equal(t, ledger.Address, again.Address)

	w = postJSON(t, router, "/api/v1/ledgers", createLedgerRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateLedgerEndpointBySeed(t *testing.T) {
	env := newTestEnv(t)
	router := env.server.Router()

	w := postJSON(t, router, "/api/v1/ledgers", createLedgerRequest{Seed: "42"})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	expected, err := chain.DeriveLedgerAddress(42)
	require.NoError(t, err)
	assert.Equal(t, expected, resp["address"])
	assert.NotEmpty(t, resp["txRef"])

	// same seed again collides at the derived address
	w = postJSON(t, router, "/api/v1/ledgers", createLedgerRequest{Seed: "42"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = postJSON(t, router, "/api/v1/ledgers", createLedgerRequest{Seed: "70000"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndStats(t *testing.T) {
	env := newTestEnv(t)
	router := env.server.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])

	req = httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestDeriveEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := env.server.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/derive?seed=42", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	expected, err := chain.DeriveLedgerAddress(42)
	require.NoError(t, err)
	assert.Equal(t, expected, resp["address"])

	req = httptest.NewRequest(http.MethodGet, "/api/v1/derive?seed=999999", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamEndpointDeliversEvents(t *testing.T) {
	env := newTestEnv(t)

	srv := httptest.NewServer(env.server.Router())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// wait for the subscriber registration before publishing
	require.Eventually(t, func() bool {
		return env.hub.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)
	gauge := testMetrics.GetPrometheusMetrics().HubSubscribers
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(gauge) == 1
	}, time.Second, 5*time.Millisecond)

	env.hub.Publish(models.StreamMessage{
		Ledger: "ledger-X", IPAddress: "10.0.0.5", ThreatType: "DOS", ActionTaken: "BLOCKED",
	})

	reader := bufio.NewReader(resp.Body)
	lineCh := make(chan string, 1)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(line, "data: ") {
				lineCh <- line
				return
			}
		}
	}()

	select {
	case line := <-lineCh:
		var msg models.StreamMessage
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &msg))
		assert.Equal(t, "ledger-X", msg.Ledger)
		assert.Equal(t, "10.0.0.5", msg.IPAddress)
		assert.Equal(t, "DOS", msg.ThreatType)
		assert.Equal(t, "BLOCKED", msg.ActionTaken)
	case <-time.After(2 * time.Second):
		t.Fatal("no stream message received")
	}

	// disconnecting removes the subscriber and settles the gauge
	cancel()
	require.Eventually(t, func() bool {
		return env.hub.SubscriberCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(gauge) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
