package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/chain"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/chain/chaintest"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/config"
)

const (
	operatorKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	payerKey    = "8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"
	payeeKey    = "45a915e4d060149eb4365960e6a7a45f334393093061116b197e3240065ff2d8"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:     "0",
		Env:      "test",
		LogLevel: "error",
		RPCURL:   "http://ledger.invalid",
		ChainID:  84532,

		OperatorKey: operatorKey,
		CustodyKeys: map[string]string{
			"payer-agent": payerKey,
			"payee-agent": payeeKey,
		},

		TrustWeightCustom:   0.3,
		TrustWeightOfficial: 0.4,
		TrustWeightTx:       0.2,
		TrustWeightPayment:  0.1,
		TrustGateThreshold:  40,

		RateLimitRPM: 100000,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *chaintest.FakeGateway) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gw := chaintest.New()
	srv, err := New(cfg, WithGateway(gw), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return srv, gw
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoints(t *testing.T) {
	srv, gw := newTestServer(t, testConfig())

	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)

	w = doJSON(t, srv, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Ready only flips after Run starts.
	w = doJSON(t, srv, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Ledger outage degrades /health.
	gw.ReadErr = chain.ErrUpstream
	w = doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"degraded"`)
}

func TestRegisterAndResolve(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	w := doJSON(t, srv, http.MethodPost, "/v1/agents", map[string]interface{}{
		"serviceId":    "translator-agent",
		"name":         "Translator",
		"capabilities": []string{"translate"},
		"paymentMode":  "permissioned",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	registered := decode(t, w)["agent"].(map[string]interface{})

	w = doJSON(t, srv, http.MethodGet, "/v1/agents/translator-agent", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resolved := decode(t, w)["agent"].(map[string]interface{})
	assert.Equal(t, registered["chainAddress"], resolved["chainAddress"])

	// Same serviceId again is a conflict.
	w = doJSON(t, srv, http.MethodPost, "/v1/agents", map[string]interface{}{
		"serviceId":   "translator-agent",
		"name":        "Impostor",
		"paymentMode": "permissioned",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "service_id_taken")
}

func TestResolveUnknownAgent(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	w := doJSON(t, srv, http.MethodGet, "/v1/agents/nobody-here", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTrustEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	// Custody-seeded agent with no history scores only its heuristic base.
	w := doJSON(t, srv, http.MethodGet, "/v1/agents/payee-agent/trust", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, float64(40), body["threshold"])

	snapshot := body["trust"].(map[string]interface{})
	assert.Equal(t, float64(30), snapshot["final"])

	custom := snapshot["custom"].(map[string]interface{})
	assert.Equal(t, true, custom["available"])
	assert.Equal(t, float64(1), custom["weight"])
}

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	srv, gw := newTestServer(t, testConfig())

	w := doJSON(t, srv, http.MethodPost, "/v1/escrows", map[string]interface{}{
		"payer":       "payer-agent",
		"payee":       "payee-agent",
		"amount":      "250000",
		"description": "translation batch",
		"signing":     map[string]interface{}{"useOperator": true},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	created := decode(t, w)["escrow"].(map[string]interface{})
	id := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "active", created["status"])

	w = doJSON(t, srv, http.MethodPost, "/v1/escrows/"+id+"/release", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	released := decode(t, w)["escrow"].(map[string]interface{})
	assert.Equal(t, "completed", released["status"])
	assert.NotEmpty(t, released["settlementTx"])
	assert.Equal(t, 1, gw.CallCount("ReleaseEscrow"))

	// Replaying the release is a conflict, not a second settlement.
	w = doJSON(t, srv, http.MethodPost, "/v1/escrows/"+id+"/release", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_state")
	assert.Equal(t, 1, gw.CallCount("ReleaseEscrow"))

	// Settlement raised the payee's trust: +2 boost plus a perfect
	// completion rate blended in.
	w = doJSON(t, srv, http.MethodGet, "/v1/agents/payee-agent/trust", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snapshot := decode(t, w)["trust"].(map[string]interface{})
	assert.Equal(t, float64(49), snapshot["final"])

	w = doJSON(t, srv, http.MethodGet, "/v1/agents/payee-agent/escrows", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])
}

func TestInteractionGateOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	// Fresh custody agent scores 30, below the gate.
	w := doJSON(t, srv, http.MethodPost, "/v1/interactions", map[string]interface{}{
		"from":       "payer-agent",
		"to":         "payee-agent",
		"capability": "translate",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "trust_gate_rejected")

	// A settled escrow lifts the payee above the gate.
	w = doJSON(t, srv, http.MethodPost, "/v1/escrows", map[string]interface{}{
		"payer":   "payer-agent",
		"payee":   "payee-agent",
		"amount":  "100",
		"signing": map[string]interface{}{"useOperator": true},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["escrow"].(map[string]interface{})["id"].(string)
	w = doJSON(t, srv, http.MethodPost, "/v1/escrows/"+id+"/release", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/v1/interactions", map[string]interface{}{
		"from":       "payer-agent",
		"to":         "payee-agent",
		"capability": "translate",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	interactionID := decode(t, w)["interaction"].(map[string]interface{})["id"].(string)

	w = doJSON(t, srv, http.MethodPost, "/v1/interactions/"+interactionID+"/complete", nil)
	require.Equal(t, http.StatusOK, w.Code)
	completed := decode(t, w)["interaction"].(map[string]interface{})
	assert.Equal(t, true, completed["completed"])

	// Idempotent re-completion.
	w = doJSON(t, srv, http.MethodPost, "/v1/interactions/"+interactionID+"/complete", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFeedbackOverHTTP(t *testing.T) {
	srv, gw := newTestServer(t, testConfig())

	w := doJSON(t, srv, http.MethodPost, "/v1/feedback", map[string]interface{}{
		"from":   "payer-agent",
		"to":     "payee-agent",
		"rating": 4,
		"tag1":   "quality",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, decode(t, w)["tx"])
	assert.Equal(t, 1, gw.CallCount("SubmitFeedback"))

	// Self-feedback is rejected even across reference schemes.
	w = doJSON(t, srv, http.MethodPost, "/v1/feedback", map[string]interface{}{
		"from":   "payer-agent",
		"to":     "payer-agent",
		"rating": 5,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "self_feedback_forbidden")
}

func TestRateLimitOverHTTP(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPM = 2
	srv, _ := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/health/live", nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/health/live", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, doJSON(t, srv, http.MethodGet, "/health/live", nil).Code)
}

func TestRequestSizeLimit(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	big := bytes.Repeat([]byte("a"), 2<<20)
	req := httptest.NewRequest(http.MethodPost, "/v1/feedback", bytes.NewReader(big))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestNetworkStats(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	w := doJSON(t, srv, http.MethodPost, "/v1/escrows", map[string]interface{}{
		"payer":   "payer-agent",
		"payee":   "payee-agent",
		"amount":  "100",
		"signing": map[string]interface{}{"useOperator": true},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, srv, http.MethodGet, "/v1/network/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	stats := decode(t, w)
	assert.Equal(t, float64(1), stats["escrows"])
	assert.Equal(t, float64(0), stats["interactions"])
	assert.Equal(t, float64(2), stats["custodiedAgents"])
	assert.Equal(t, float64(40), stats["trustGate"])
}

func TestRequestIDPropagation(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req_fixed")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, "req_fixed", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
