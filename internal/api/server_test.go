package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/playrelay/internal/audit"
	"github.com/nerrad567/playrelay/internal/credential"
	"github.com/nerrad567/playrelay/internal/infrastructure/config"
	"github.com/nerrad567/playrelay/internal/infrastructure/database"
	"github.com/nerrad567/playrelay/internal/infrastructure/logging"
	"github.com/nerrad567/playrelay/internal/playback"
	"github.com/nerrad567/playrelay/internal/relay"
	"github.com/nerrad567/playrelay/internal/session"
	"github.com/nerrad567/playrelay/migrations"
)

const (
	testKeyEnv = "PLAYRELAY_API_TEST_KEYS"
	testKey    = "test-key-0123456789abcdef"
)

type testEnv struct {
	srv         *Server
	ts          *httptest.Server
	store       *credential.Store
	broadcaster *relay.Broadcaster
	state       *playback.State
	registry    *session.Registry
}

type envOptions struct {
	envKeys    string
	relay      relay.Options
	mutateDeps func(*Deps)
}

// newTestEnv wires a full server on an httptest listener with an in-memory
// audit database and an env-sourced test key.
func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	t.Setenv(testKeyEnv, opts.envKeys)

	ctx, cancel := context.WithCancel(context.Background())

	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	registry := session.NewRegistry(session.DefaultControllerPrefix)
	state := playback.NewState()
	b := relay.New(registry, state, opts.relay)
	store := credential.NewStore(filepath.Join(t.TempDir(), "api-keys.json"), testKeyEnv)

	deps := Deps{
		Config: config.APIConfig{
			Host:            "127.0.0.1",
			AllowLocalSetup: true,
			Timeouts:        config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			RateLimit: config.RateLimitConfig{Enabled: true, MaxFailures: 5, BlockSeconds: 60},
		},
		Logger:      logging.Discard(),
		Broadcaster: b,
		Credentials: store,
		Audit:       audit.NewSQLiteRepository(db.DB),
		DB:          db.DB,
		Version:     "test",
	}
	if opts.mutateDeps != nil {
		opts.mutateDeps(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	go srv.hub.Run(ctx)
	go srv.drainAuditLog(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-srv.auditDone
		db.Close()
	})

	return &testEnv{srv: srv, ts: ts, store: store, broadcaster: b, state: state, registry: registry}
}

func newKeyedEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnv(t, envOptions{envKeys: testKey})
}

func (e *testEnv) do(t *testing.T, method, path, key, body string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, e.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if key != "" {
		req.Header.Set(headerAPIKey, key)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	before := e.registry.Count()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { conn.Close() })

	waitFor(t, "session registration", func() bool { return e.registry.Count() > before })
	return conn
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// readEvent reads until an event named event whose data satisfies match.
func readEvent(t *testing.T, conn *websocket.Conn, event string, match func(map[string]any) bool) map[string]any {
	t.Helper()

	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var env struct {
			Event string         `json:"event"`
			Data  map[string]any `json:"data"`
		}
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if env.Event == event && (match == nil || match(env.Data)) {
			return env.Data
		}
	}
}

// ─── Health and middleware ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	e := newKeyedEnv(t)

	resp, body := e.do(t, http.MethodGet, "/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("health body = %v", body)
	}
	if body["clients"] != float64(0) || body["sessions"] != float64(0) {
		t.Errorf("session counts = %v/%v, want 0/0", body["clients"], body["sessions"])
	}
	if _, ok := body["mqtt_connected"]; ok {
		t.Error("mqtt_connected should be omitted without MQTT")
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

type fakeConnection bool

func (f fakeConnection) IsConnected() bool { return bool(f) }

func TestHealth_ReportsMQTT(t *testing.T) {
	e := newTestEnv(t, envOptions{mutateDeps: func(d *Deps) { d.MQTT = fakeConnection(true) }})

	_, body := e.do(t, http.MethodGet, "/health", "", "")
	if body["mqtt_connected"] != true {
		t.Errorf("mqtt_connected = %v, want true", body["mqtt_connected"])
	}
}

func TestRequestID(t *testing.T) {
	e := newKeyedEnv(t)

	resp, _ := e.do(t, http.MethodGet, "/health", "", "")
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID should be generated")
	}

	req, _ := http.NewRequest(http.MethodGet, e.ts.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "client-id-1")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if got := resp2.Header.Get("X-Request-ID"); got != "client-id-1" {
		t.Errorf("X-Request-ID = %q, want client-id-1", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	e := newKeyedEnv(t)

	req, _ := http.NewRequest(http.MethodOptions, e.ts.URL+"/play", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://dashboard.local" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Headers"), "X-API-Key") {
		t.Error("Allow-Headers should include X-API-Key")
	}
}

func TestNotFound(t *testing.T) {
	e := newKeyedEnv(t)

	resp, body := e.do(t, http.MethodGet, "/nope", "", "")
	if resp.StatusCode != http.StatusNotFound || body["code"] != ErrCodeNotFound || body["success"] != false {
		t.Errorf("status = %d body = %v", resp.StatusCode, body)
	}
}

// ─── Authentication ────────────────────────────────────────────────

func TestAuth(t *testing.T) {
	e := newKeyedEnv(t)

	tests := []struct {
		name     string
		header   string
		value    string
		wantCode int
		wantErr  string
	}{
		{"missing key", "", "", http.StatusUnauthorized, ErrCodeUnauthenticated},
		{"wrong key", headerAPIKey, "not-a-key", http.StatusUnauthorized, ErrCodeInvalidCredential},
		{"x-api-key", headerAPIKey, testKey, http.StatusOK, ""},
		{"bearer", headerAuthorization, "Bearer " + testKey, http.StatusOK, ""},
		{"bearer lowercase", headerAuthorization, "bearer " + testKey, http.StatusOK, ""},
		{"basic is not accepted", headerAuthorization, "Basic " + testKey, http.StatusUnauthorized, ErrCodeUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, e.ts.URL+"/state", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			var body map[string]any
			_ = json.NewDecoder(resp.Body).Decode(&body)

			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if tt.wantErr != "" {
				if body["code"] != tt.wantErr {
					t.Errorf("code = %v, want %s", body["code"], tt.wantErr)
				}
				if msg, _ := body["message"].(string); strings.Contains(msg, tt.value) && tt.value != "" {
					t.Errorf("error message leaks the presented key: %q", msg)
				}
			}
		})
	}
}

func TestAuth_KeysReloadedPerRequest(t *testing.T) {
	e := newTestEnv(t, envOptions{})

	resp, _ := e.do(t, http.MethodGet, "/state", "late-key-abcdefgh", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status before key exists = %d, want 401", resp.StatusCode)
	}

	t.Setenv(testKeyEnv, "late-key-abcdefgh")

	resp, _ = e.do(t, http.MethodGet, "/state", "late-key-abcdefgh", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status after adding key = %d, want 200", resp.StatusCode)
	}
}

func TestAuth_BroadcastsAttempts(t *testing.T) {
	e := newKeyedEnv(t)
	conn := e.dial(t)

	e.do(t, http.MethodGet, "/state", "wrong-key-123456", "")
	failed := readEvent(t, conn, relay.EventAuthAttempt, nil)
	if failed["success"] != false || failed["reason"] != errInvalidKey.Error() || failed["who"] != "127.0.0.1" {
		t.Errorf("failed attempt = %v", failed)
	}

	e.do(t, http.MethodGet, "/state", testKey, "")
	ok := readEvent(t, conn, relay.EventAuthAttempt, nil)
	if ok["success"] != true || ok["who"] != "Environment key 1" {
		t.Errorf("successful attempt = %v", ok)
	}
	if _, present := ok["reason"]; present {
		t.Error("reason should be omitted on success")
	}
}

func TestAuth_RateLimited(t *testing.T) {
	e := newTestEnv(t, envOptions{
		envKeys: testKey,
		mutateDeps: func(d *Deps) {
			d.Security.RateLimit = config.RateLimitConfig{Enabled: true, MaxFailures: 3, BlockSeconds: 60}
		},
	})

	for i := 0; i < 3; i++ {
		resp, _ := e.do(t, http.MethodGet, "/state", "bad-key-xxxxxxxx", "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, resp.StatusCode)
		}
	}

	resp, body := e.do(t, http.MethodGet, "/state", testKey, "")
	if resp.StatusCode != http.StatusTooManyRequests || body["code"] != ErrCodeRateLimited {
		t.Errorf("blocked status = %d body = %v, want 429 rate_limited", resp.StatusCode, body)
	}
}

func TestAuth_RateLimitDisabled(t *testing.T) {
	e := newTestEnv(t, envOptions{
		envKeys: testKey,
		mutateDeps: func(d *Deps) {
			d.Security.RateLimit.Enabled = false
		},
	})

	for i := 0; i < 10; i++ {
		e.do(t, http.MethodGet, "/state", "bad-key-xxxxxxxx", "")
	}
	if resp, _ := e.do(t, http.MethodGet, "/state", testKey, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 with rate limiting disabled", resp.StatusCode)
	}
}

// ─── Commands ──────────────────────────────────────────────────────

func TestCommands_AllRoutes(t *testing.T) {
	e := newKeyedEnv(t)
	e.dial(t)

	for _, route := range relay.Routes() {
		t.Run(route.Path, func(t *testing.T) {
			body := ""
			switch route.Command {
			case relay.CmdPlay, relay.CmdPlayNow:
				body = `{"url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`
			case relay.CmdVolume:
				body = `{"level": 55}`
			}

			resp, got := e.do(t, http.MethodPost, route.Path, testKey, body)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d body = %v", resp.StatusCode, got)
			}

			wantEvent, _ := relay.EventFor(route.Command)
			if got["success"] != true || got["event"] != wantEvent {
				t.Errorf("body = %v, want event %s", got, wantEvent)
			}
			if got["recipients"] != float64(1) {
				t.Errorf("recipients = %v, want 1", got["recipients"])
			}
		})
	}
}

func TestCommand_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		opts     relay.Options
		wantCode int
		wantErr  string
	}{
		{"invalid json", "/volume", `{"level":`, relay.Options{}, http.StatusBadRequest, ErrCodeInvalidInput},
		{"volume out of range", "/volume", `{"level": 150}`, relay.Options{}, http.StatusBadRequest, ErrCodeInvalidInput},
		{"volume as string", "/volume", `{"level": "40"}`, relay.Options{}, http.StatusBadRequest, ErrCodeInvalidInput},
		{"volume missing", "/volume", "", relay.Options{}, http.StatusBadRequest, ErrCodeInvalidInput},
		{"bad video", "/play", `{"url": "https://vimeo.com/123"}`, relay.Options{}, http.StatusBadRequest, ErrCodeInvalidInput},
		{"no recipients", "/stop", "", relay.Options{RequireRecipients: true}, http.StatusServiceUnavailable, ErrCodeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t, envOptions{envKeys: testKey, relay: tt.opts})

			resp, body := e.do(t, http.MethodPost, tt.path, testKey, tt.body)
			if resp.StatusCode != tt.wantCode || body["code"] != tt.wantErr {
				t.Errorf("status = %d code = %v, want %d %s", resp.StatusCode, body["code"], tt.wantCode, tt.wantErr)
			}
			if body["success"] != false {
				t.Error("success should be false")
			}
			if e.state.Snapshot().Volume != playback.DefaultVolume {
				t.Error("rejected command must not change state")
			}
		})
	}
}

func TestCommand_UpdatesState(t *testing.T) {
	e := newKeyedEnv(t)

	resp, _ := e.do(t, http.MethodPost, "/volume", testKey, `{"level": 33.4}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	_, state := e.do(t, http.MethodGet, "/state", testKey, "")
	if state["success"] != true || state["volume"] != float64(33) || state["controllerActive"] != true {
		t.Errorf("state = %v, want volume 33 and active controller", state)
	}
}

func TestCommandCatalog(t *testing.T) {
	e := newKeyedEnv(t)

	_, body := e.do(t, http.MethodGet, "/commands", testKey, "")
	commands, _ := body["commands"].([]any)
	if len(commands) != len(relay.Catalog()) {
		t.Errorf("commands = %d, want %d", len(commands), len(relay.Catalog()))
	}
}

// ─── Two-session scenario ──────────────────────────────────────────

func TestScenario_DashboardAndExternal(t *testing.T) {
	e := newKeyedEnv(t)

	a := e.dial(t)
	b := e.dial(t)
	readEvent(t, b, relay.EventConnectedClients, func(d map[string]any) bool { return d["count"] == float64(2) })

	if err := a.WriteJSON(map[string]any{"type": "identify", "name": "Dashboard-1"}); err != nil {
		t.Fatal(err)
	}
	readEvent(t, b, relay.EventConnectedClients, func(d map[string]any) bool { return d["count"] == float64(1) })

	external := e.registry.ListExternal()
	if len(external) != 1 || external[0].DisplayName != session.DefaultDisplayName {
		t.Fatalf("ListExternal() = %+v, want only the unidentified session", external)
	}

	resp, body := e.do(t, http.MethodPost, "/volume", testKey, `{"level": 150}`)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != ErrCodeInvalidInput {
		t.Fatalf("volume 150: status = %d body = %v", resp.StatusCode, body)
	}
	if v := e.state.Snapshot().Volume; v != playback.DefaultVolume {
		t.Fatalf("volume after rejected command = %d, want %d", v, playback.DefaultVolume)
	}

	resp, body = e.do(t, http.MethodPost, "/volume", testKey, `{"level": 40}`)
	if resp.StatusCode != http.StatusOK || body["recipients"] != float64(2) {
		t.Fatalf("volume 40: status = %d body = %v", resp.StatusCode, body)
	}
	if v := e.state.Snapshot().Volume; v != 40 {
		t.Errorf("volume = %d, want 40", v)
	}

	for name, conn := range map[string]*websocket.Conn{"A": a, "B": b} {
		data := readEvent(t, conn, "volume-changed", nil)
		if data["level"] != float64(40) {
			t.Errorf("session %s level = %v, want 40", name, data["level"])
		}
	}
}

// ─── WebSocket sessions ────────────────────────────────────────────

func TestWebSocket_StateSyncOnConnect(t *testing.T) {
	e := newKeyedEnv(t)
	if _, err := e.state.SetTitle("Now showing"); err != nil {
		t.Fatal(err)
	}

	conn := e.dial(t)
	data := readEvent(t, conn, relay.EventStateSync, nil)
	state, _ := data["state"].(map[string]any)
	if state["title"] != "Now showing" {
		t.Errorf("state-sync title = %v", state["title"])
	}
}

func TestWebSocket_ChurnDuringBroadcast(t *testing.T) {
	e := newKeyedEnv(t)
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"

	stop := make(chan struct{})
	var broadcasting sync.WaitGroup
	broadcasting.Add(1)
	go func() {
		defer broadcasting.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			e.broadcaster.Broadcast("churn", map[string]int{"n": 1})
		}
	}()

	var clients sync.WaitGroup
	for i := 0; i < 8; i++ {
		clients.Add(1)
		go func() {
			defer clients.Done()
			for j := 0; j < 20; j++ {
				conn, _, err := websocket.DefaultDialer.Dial(url, nil)
				if err != nil {
					t.Errorf("dial: %v", err)
					return
				}
				conn.Close()
			}
		}()
	}
	clients.Wait()
	close(stop)
	broadcasting.Wait()

	waitFor(t, "every session to leave", func() bool {
		return e.registry.Count() == 0 && e.srv.hub.ClientCount() == 0
	})
}

func TestWebSocket_GetControls(t *testing.T) {
	e := newKeyedEnv(t)
	conn := e.dial(t)

	if err := conn.WriteJSON(map[string]any{"type": "get_controls"}); err != nil {
		t.Fatal(err)
	}
	data := readEvent(t, conn, relay.EventControls, nil)
	commands, _ := data["commands"].([]any)
	if len(commands) == 0 {
		t.Error("controls should list commands")
	}
}

func TestWebSocket_Errors(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"invalid json", "{not json", "invalid JSON message"},
		{"unknown type", `{"type":"dance"}`, "unknown message type: dance"},
		{"unknown command", `{"type":"command","command":"rewind"}`, "unknown command: rewind"},
		{"bad command value", `{"type":"command","command":"volume","value":500}`, playback.ErrInvalidVolume.Error()},
		{"report from external", `{"type":"status_update","status":"playing"}`, relay.ErrNotController.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newKeyedEnv(t)
			conn := e.dial(t)

			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.message)); err != nil {
				t.Fatal(err)
			}
			data := readEvent(t, conn, relay.EventError, nil)
			if data["message"] != tt.want {
				t.Errorf("error message = %v, want %q", data["message"], tt.want)
			}
		})
	}
}

func TestWebSocket_CommandBroadcasts(t *testing.T) {
	e := newKeyedEnv(t)
	sender := e.dial(t)
	receiver := e.dial(t)

	if err := sender.WriteJSON(map[string]any{"type": "command", "command": "volume", "value": 25}); err != nil {
		t.Fatal(err)
	}

	data := readEvent(t, receiver, "volume-changed", nil)
	if data["level"] != float64(25) {
		t.Errorf("level = %v, want 25", data["level"])
	}
	if e.state.Snapshot().Volume != 25 {
		t.Errorf("state volume = %d, want 25", e.state.Snapshot().Volume)
	}
}

func TestWebSocket_ControllerReports(t *testing.T) {
	e := newKeyedEnv(t)
	dashboard := e.dial(t)
	viewer := e.dial(t)

	if err := dashboard.WriteJSON(map[string]any{"type": "identify", "name": "Dashboard Kitchen"}); err != nil {
		t.Fatal(err)
	}
	readEvent(t, viewer, relay.EventConnectedClients, func(d map[string]any) bool { return d["count"] == float64(1) })

	if err := dashboard.WriteJSON(map[string]any{"type": "title_update", "title": "  Big Buck Bunny  "}); err != nil {
		t.Fatal(err)
	}
	data := readEvent(t, viewer, relay.EventStateChanged, nil)
	state, _ := data["state"].(map[string]any)
	if data["field"] != "title" || state["title"] != "Big Buck Bunny" || data["source"] != "Dashboard Kitchen" {
		t.Errorf("state-changed = %v", data)
	}
}

func TestWebSocket_DisconnectAnnounced(t *testing.T) {
	e := newKeyedEnv(t)
	leaving := e.dial(t)
	staying := e.dial(t)
	readEvent(t, staying, relay.EventConnectedClients, func(d map[string]any) bool { return d["count"] == float64(2) })

	leaving.Close()

	readEvent(t, staying, relay.EventClientDisconnected, nil)
	waitFor(t, "unregister", func() bool { return e.registry.Count() == 1 })
	if e.srv.hub.ClientCount() != 1 {
		t.Errorf("hub ClientCount() = %d, want 1", e.srv.hub.ClientCount())
	}
}

// ─── Key administration ────────────────────────────────────────────

func TestKeys_Lifecycle(t *testing.T) {
	e := newKeyedEnv(t)

	resp, body := e.do(t, http.MethodPost, "/admin/keys", testKey, `{"name": "Stream Deck"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d body = %v", resp.StatusCode, body)
	}
	created, _ := body["key"].(map[string]any)
	id, _ := created["id"].(string)
	secret, _ := created["key"].(string)
	if id == "" || secret == "" || created["name"] != "Stream Deck" {
		t.Fatalf("created key = %v", created)
	}

	if resp, _ := e.do(t, http.MethodGet, "/state", secret, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("new key rejected: status = %d", resp.StatusCode)
	}

	_, body = e.do(t, http.MethodGet, "/admin/keys", testKey, "")
	keys, _ := body["keys"].([]any)
	if len(keys) != 2 {
		t.Fatalf("listed keys = %d, want 2 (env + file)", len(keys))
	}
	for _, k := range keys {
		view, _ := k.(map[string]any)
		if _, leaked := view["key"]; leaked {
			t.Error("list must not expose full keys")
		}
		if prefix, _ := view["keyPrefix"].(string); !strings.HasSuffix(prefix, "...") {
			t.Errorf("keyPrefix = %q, want masked", prefix)
		}
	}

	resp, body = e.do(t, http.MethodPatch, "/admin/keys/"+id, testKey, `{"name": "Deck 2"}`)
	renamed, _ := body["key"].(map[string]any)
	if resp.StatusCode != http.StatusOK || renamed["name"] != "Deck 2" {
		t.Errorf("rename status = %d body = %v", resp.StatusCode, body)
	}

	if resp, _ := e.do(t, http.MethodDelete, "/admin/keys/"+id, testKey, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodGet, "/state", secret, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("deleted key still accepted: status = %d", resp.StatusCode)
	}
}

func TestKeys_Errors(t *testing.T) {
	e := newKeyedEnv(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"delete env key", http.MethodDelete, "/admin/keys/env-1", "", http.StatusForbidden, ErrCodeForbidden},
		{"rename env key", http.MethodPatch, "/admin/keys/env-1", `{"name":"x"}`, http.StatusForbidden, ErrCodeForbidden},
		{"delete missing", http.MethodDelete, "/admin/keys/missing", "", http.StatusNotFound, ErrCodeNotFound},
		{"rename missing", http.MethodPatch, "/admin/keys/missing", `{"name":"x"}`, http.StatusNotFound, ErrCodeNotFound},
		{"rename empty", http.MethodPatch, "/admin/keys/missing", `{"name":"  "}`, http.StatusBadRequest, ErrCodeInvalidInput},
		{"create too long", http.MethodPost, "/admin/keys", fmt.Sprintf(`{"name":%q}`, strings.Repeat("k", credential.MaxNameLength+1)), http.StatusBadRequest, ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := e.do(t, tt.method, tt.path, testKey, tt.body)
			if resp.StatusCode != tt.wantCode || body["code"] != tt.wantErr {
				t.Errorf("status = %d code = %v, want %d %s", resp.StatusCode, body["code"], tt.wantCode, tt.wantErr)
			}
		})
	}
}

func TestKeys_DefaultName(t *testing.T) {
	e := newKeyedEnv(t)

	_, body := e.do(t, http.MethodPost, "/admin/keys", testKey, "")
	created, _ := body["key"].(map[string]any)
	if created["name"] != credential.DefaultName {
		t.Errorf("name = %v, want %q", created["name"], credential.DefaultName)
	}
}

func TestSetupMode(t *testing.T) {
	t.Run("first key from loopback", func(t *testing.T) {
		e := newTestEnv(t, envOptions{})

		resp, body := e.do(t, http.MethodPost, "/admin/keys", "", `{"name":"first"}`)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("setup create status = %d body = %v", resp.StatusCode, body)
		}

		resp, _ = e.do(t, http.MethodPost, "/admin/keys", "", `{"name":"second"}`)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("second keyless create status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("concurrent first keys", func(t *testing.T) {
		e := newTestEnv(t, envOptions{})

		const n = 8
		statuses := make(chan int, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp, err := http.Post(e.ts.URL+"/admin/keys", "application/json", strings.NewReader(`{"name":"racer"}`))
				if err != nil {
					t.Errorf("POST /admin/keys: %v", err)
					return
				}
				resp.Body.Close()
				statuses <- resp.StatusCode
			}()
		}
		wg.Wait()
		close(statuses)

		created := 0
		for status := range statuses {
			switch status {
			case http.StatusCreated:
				created++
			case http.StatusUnauthorized, http.StatusTooManyRequests:
			default:
				t.Errorf("unexpected status %d", status)
			}
		}
		if created != 1 {
			t.Errorf("%d keys created without a key, want 1", created)
		}
		if got := len(e.store.ListAll()); got != 1 {
			t.Errorf("store holds %d keys, want 1", got)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		e := newTestEnv(t, envOptions{mutateDeps: func(d *Deps) { d.Config.AllowLocalSetup = false }})

		resp, _ := e.do(t, http.MethodPost, "/admin/keys", "", `{"name":"first"}`)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401 with setup disabled", resp.StatusCode)
		}
	})

	t.Run("only key creation", func(t *testing.T) {
		e := newTestEnv(t, envOptions{})

		resp, _ := e.do(t, http.MethodGet, "/admin/keys", "", "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("list status = %d, want 401", resp.StatusCode)
		}
	})
}

// ─── Admin views ───────────────────────────────────────────────────

func TestAdminSessions(t *testing.T) {
	e := newKeyedEnv(t)
	dashboard := e.dial(t)
	e.dial(t)

	if err := dashboard.WriteJSON(map[string]any{"type": "identify", "name": "Dashboard"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "identify", func() bool { return e.registry.ExternalCount() == 1 })

	_, body := e.do(t, http.MethodGet, "/admin/sessions", testKey, "")
	if body["count"] != float64(2) || body["controllers"] != float64(1) {
		t.Errorf("sessions body = %v", body)
	}
}

func TestAdminAudit(t *testing.T) {
	e := newKeyedEnv(t)

	e.do(t, http.MethodGet, "/state", "wrong-key-123456", "")
	e.do(t, http.MethodPost, "/next", testKey, "")
	e.do(t, http.MethodPost, "/volume", testKey, `{"level": -1}`)

	var logs []any
	waitFor(t, "audit entries", func() bool {
		_, body := e.do(t, http.MethodGet, "/admin/audit?action=command", testKey, "")
		logs, _ = body["logs"].([]any)
		return len(logs) == 2
	})

	newest, _ := logs[0].(map[string]any)
	if newest["entity_id"] != relay.CmdVolume || newest["success"] != false || newest["actor"] != "Environment key 1" {
		t.Errorf("newest command entry = %v", newest)
	}

	_, body := e.do(t, http.MethodGet, "/admin/audit?action=auth&success=false", testKey, "")
	if body["total"] != float64(1) {
		t.Errorf("failed auth entries = %v, want 1", body["total"])
	}

	resp, _ := e.do(t, http.MethodGet, "/admin/audit?success=maybe", testKey, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad success filter status = %d, want 400", resp.StatusCode)
	}
}

func TestMetrics(t *testing.T) {
	e := newKeyedEnv(t)
	e.dial(t)

	resp, body := e.do(t, http.MethodGet, "/metrics", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	ws, _ := body["websocket"].(map[string]any)
	if ws["connected_clients"] != float64(1) || ws["external_sessions"] != float64(1) {
		t.Errorf("websocket metrics = %v", ws)
	}
	if _, ok := body["database"]; !ok {
		t.Error("database metrics missing")
	}
	auth, _ := body["auth"].(map[string]any)
	if auth["rate_limit_enabled"] != true {
		t.Errorf("auth metrics = %v", auth)
	}
}

// ─── Lifecycle and helpers ─────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	t.Setenv(testKeyEnv, "")
	registry := session.NewRegistry("")
	srv, err := New(Deps{
		Config:      config.APIConfig{Host: "127.0.0.1", Port: 0, Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}},
		WS:          config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:      logging.Discard(),
		Broadcaster: relay.New(registry, playback.NewState(), relay.Options{}),
		Credentials: credential.NewStore(filepath.Join(t.TempDir(), "keys.json"), testKeyEnv),
		Version:     "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	addr := srv.Addr()
	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}

	if _, err := http.Get("http://" + addr + "/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	occupied := httptest.NewServer(http.NotFoundHandler())
	defer occupied.Close()

	var port int
	fmt.Sscanf(occupied.Listener.Addr().String(), "127.0.0.1:%d", &port) //nolint:errcheck // test helper

	srv, err := New(Deps{
		Config:      config.APIConfig{Host: "127.0.0.1", Port: port},
		Logger:      logging.Discard(),
		Broadcaster: relay.New(session.NewRegistry(""), playback.NewState(), relay.Options{}),
		Credentials: credential.NewStore(filepath.Join(t.TempDir(), "keys.json"), testKeyEnv),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(context.Background()); err == nil {
		srv.Close()
		t.Fatal("Start() on an occupied port should fail")
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	b := relay.New(session.NewRegistry(""), playback.NewState(), relay.Options{})
	store := credential.NewStore("keys.json", testKeyEnv)

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Broadcaster: b, Credentials: store}},
		{"no broadcaster", Deps{Logger: logging.Discard(), Credentials: store}},
		{"no credentials", Deps{Logger: logging.Discard(), Broadcaster: b}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"validation", playback.ErrInvalidVolume, http.StatusBadRequest, ErrCodeInvalidInput},
		{"unknown report", relay.ErrUnknownReport, http.StatusBadRequest, ErrCodeInvalidInput},
		{"key name", credential.ErrInvalidName, http.StatusBadRequest, ErrCodeInvalidInput},
		{"key missing", credential.ErrKeyNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"session missing", session.ErrSessionNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"env key", credential.ErrEnvironmentKey, http.StatusForbidden, ErrCodeForbidden},
		{"setup closed", credential.ErrSetupClosed, http.StatusUnauthorized, ErrCodeUnauthenticated},
		{"no recipients", relay.ErrNoRecipients, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"storage", fmt.Errorf("writing: %w", credential.ErrStorage), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeDomainError(w, tt.err, "fallback")

			var body Error
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if w.Code != tt.wantCode || body.Code != tt.wantErr || body.Status != tt.wantCode || body.Success {
				t.Errorf("got %d %+v, want %d %s", w.Code, body, tt.wantCode, tt.wantErr)
			}
			if tt.wantCode == http.StatusInternalServerError && body.Message != "fallback" {
				t.Errorf("internal errors must not leak details: %q", body.Message)
			}
		})
	}
}

func TestPresentedKey(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		want   string
	}{
		{"none", "", "", ""},
		{"x-api-key trimmed", headerAPIKey, "  abc  ", "abc"},
		{"bearer", headerAuthorization, "Bearer abc", "abc"},
		{"bearer only", headerAuthorization, "Bearer ", ""},
		{"other scheme", headerAuthorization, "Token abc", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}
			if got := presentedKey(r); got != tt.want {
				t.Errorf("presentedKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:5000", true},
		{"[::1]:5000", true},
		{"192.168.1.20:5000", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		if got := isLoopback(tt.addr); got != tt.want {
			t.Errorf("isLoopback(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
