package controllers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleIssuesListAndResolve(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.webhook(t, "cryptobot", `{"ext":"cb-404","status":"paid","amount":500,"currency":"USDT"}`, true)
	require.Equal(t, http.StatusOK, status)

	status, reply := env.do(t, http.MethodGet, "/admin/issues?resolved=false&provider=CryptoBot", "", nil)
	require.Equal(t, http.StatusOK, status)
	listed := decode(t, reply)
	require.EqualValues(t, 1, listed["count"])
	issue := listed["issues"].([]any)[0].(map[string]any)
	id := uint(issue["id"].(float64))

	status, _ = env.do(t, http.MethodPost, fmt.Sprintf("/admin/issues/%d/resolve", id), `{"note":"refunded manually"}`, nil)
	require.Equal(t, http.StatusOK, status)

	status, reply = env.do(t, http.MethodGet, "/admin/issues?resolved=false", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, decode(t, reply)["count"])

	status, reply = env.do(t, http.MethodPost, "/admin/issues/999/resolve", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "issue_not_found", decode(t, reply)["error"])

	status, _ = env.do(t, http.MethodGet, "/admin/issues?resolved=maybe", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHandleSetProvider(t *testing.T) {
	env := newTestEnv(t)

	status, reply := env.do(t, http.MethodPut, "/admin/providers/cryptobot", `{"enabled":false}`, nil)
	require.Equal(t, http.StatusOK, status, reply)
	for _, raw := range decode(t, reply)["providers"].([]any) {
		st := raw.(map[string]any)
		switch st["provider"] {
		case "cryptobot":
			assert.Equal(t, true, st["configured"])
			assert.Equal(t, false, st["enabled"])
		case "yookassa":
			assert.Equal(t, true, st["enabled"])
		case "wata":
			assert.Equal(t, false, st["configured"])
		}
	}

	status, _ = env.webhook(t, "cryptobot", `{"ext":"cb-1","status":"paid","amount":500,"currency":"USDT"}`, true)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, _ = env.do(t, http.MethodPut, "/admin/providers/cryptobot", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPut, "/admin/providers/paypal", `{"enabled":true}`, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)

	status, reply := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	health := decode(t, reply)
	assert.Equal(t, "ok", health["database"])
	assert.Equal(t, "disabled", health["redis"])
	assert.ElementsMatch(t, []any{"cryptobot", "yookassa"}, health["enabled_providers"])
}
