package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/twotruths/internal/config"
	"example.com/twotruths/internal/game"
	"example.com/twotruths/internal/httpapi"
	"example.com/twotruths/internal/narrative"
)

func devConfig(t *testing.T) config.Config {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "REDIS_ADDR", "LEDGER_NETWORK", "NARRATIVE_BACKEND", "LEDGER_FEE_PAYER_KEY", "LEDGER_OWNER_KEY"} {
		t.Setenv(k, "")
	}
	t.Setenv("APP_ENV", "dev")

	cfg, err := config.LoadFromEnv()
	require.NoError(t, err)
	cfg.Ledger.PollInterval = 5 * time.Millisecond
	cfg.Ledger.RetryBase = time.Millisecond
	cfg.Ledger.InclusionDelay = 0
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		_ = a.Close(context.Background())
		ts.Close()
	})
	return ts
}

func TestApp_Healthz(t *testing.T) {
	ts := newTestApp(t, devConfig(t))

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestApp_NewRejectsBadKey(t *testing.T) {
	cfg := devConfig(t)
	cfg.Ledger.OwnerKey = "zz"
	_, err := New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "owner key")
}

func TestApp_GuestPlaysARound(t *testing.T) {
	ts := newTestApp(t, devConfig(t))

	resp, err := http.Post(ts.URL+"/api/auth/guest", "application/json", strings.NewReader(`{"displayName":"Visitor"}`))
	require.NoError(t, err)
	var login httpapi.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	resp.Body.Close()
	require.NotEmpty(t, login.AccessToken)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + login.AccessToken
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	read := func() game.Envelope {
		t.Helper()
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
		var env game.Envelope
		require.NoError(t, ws.ReadJSON(&env))
		return env
	}

	require.NoError(t, ws.WriteJSON(game.Envelope{MessageType: game.TypeInitialization, GameType: game.GameTwoTruthsALie, Sender: "system"}))
	first := read()
	require.Equal(t, game.TypeInitialization, first.MessageType)
	assert.Contains(t, first.Message, narrative.DefaultStatements.Lie)
	require.NotEmpty(t, first.Commitment)

	require.NoError(t, ws.WriteJSON(game.Envelope{MessageType: game.TypeAnswer, Message: narrative.DefaultStatements.Lie, Sender: "user1"}))
	res := read()
	require.Equal(t, game.TypeResult, res.MessageType)
	assert.Equal(t, game.ResultSuccess, res.Result)

	resp, err = http.Get(ts.URL + "/api/sessions/" + first.SessionID)
	require.NoError(t, err)
	defer resp.Body.Close()
	var snap game.SessionSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, game.StateResolved, snap.State)
	assert.Equal(t, narrative.DefaultStatements.Lie, snap.Lie)
	assert.Equal(t, "Visitor", snap.PlayerName)
}
