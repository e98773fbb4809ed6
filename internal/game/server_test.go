package game

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/arbiter/internal/ledger"
)

func denyAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "operator only")
	})
}

func TestServer_Routes(t *testing.T) {
	sim := ledger.NewSimulator()
	cfg := fastConfig()
	cfg.AutoStartDelay = time.Hour
	h := startHarness(t, cfg, sim, nil)

	open := http.NewServeMux()
	NewServer(h.orch, nil, discardLogger()).RegisterRoutes(open, nil)
	guarded := http.NewServeMux()
	NewServer(h.orch, nil, discardLogger()).RegisterRoutes(guarded, denyAll)

	do := func(mux *http.ServeMux, method, path string, body any) (int, map[string]any) {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
		var out map[string]any
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
		return rec.Code, out
	}

	code, body := do(open, http.MethodGet, "/api/game/state", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "IDLE", body["phase"])

	code, body = do(open, http.MethodGet, "/api/game/state?wallet=garbage", nil)
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "bad_request", body["code"])

	code, _ = do(open, http.MethodPost, "/api/game/state", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, code)

	code, body = do(open, http.MethodPost, "/api/game/register", map[string]string{
		"agentId":       "agent-a",
		"walletAddress": walletA,
		"callbackUrl":   "http://192.168.0.10/hook",
	})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_webhook_target", body["code"])

	code, body = do(open, http.MethodPost, "/api/game/register", map[string]string{
		"agentId":       "agent-a",
		"walletAddress": walletA,
		"callbackUrl":   "https://agent-a.example.com/hook",
		"hookToken":     "secret",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	participant := body["participant"].(map[string]any)
	assert.Equal(t, "agent-a", participant["agentId"])
	assert.NotContains(t, participant, "hookToken")

	code, body = do(open, http.MethodPost, "/api/game/start", nil)
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "insufficient_players", body["code"])

	code, _ = do(guarded, http.MethodPost, "/api/game/start", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = do(open, http.MethodPost, "/api/game/reset", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", body["status"])
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("wrapped: %w", ErrAlreadyRunning), http.StatusConflict},
		{ErrInsufficientPlayers, http.StatusBadRequest},
		{ErrUnverifiedProfile, http.StatusBadRequest},
		{ErrInvalidWebhookTarget, http.StatusBadRequest},
		{ErrInvalidRegistration, http.StatusBadRequest},
		{ErrVerificationUnavailable, http.StatusServiceUnavailable},
		{ledgerErr("startGame", errors.New("reverted")), http.StatusBadGateway},
		{ErrStopped, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		code, _ := statusFor(tc.err)
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}
