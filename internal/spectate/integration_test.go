package spectate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mobarena-server/internal/agent"
	"mobarena-server/internal/config"
	"mobarena-server/internal/game"
	"mobarena-server/internal/journal"
	"mobarena-server/internal/protocol"
)

const testPassword = "letmein"

type testServer struct {
	srv   *httptest.Server
	wsURL string
	hub   *Hub
	sm    *game.SessionManager
}

// startTestServer spins up an httptest.Server with a Hub over a live session
// manager.
func startTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	// Create a temp client dir with a minimal index.html
	tmpDir := t.TempDir()
	jsDir := filepath.Join(tmpDir, "js")
	os.MkdirAll(jsDir, 0o755)
	os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte("<html>test</html>"), 0o644)
	os.WriteFile(filepath.Join(jsDir, "main.js"), []byte("// test"), 0o644)

	cfg := config.Defaults()
	cfg.Server.TickRate = 5 * time.Millisecond
	cfg.Arena.Walls = nil
	cfg.Arena.Mobs = []config.MobSpawn{{Variant: "default", X: 10, Y: 0}}
	cfg.Spectate.OperatorHash = operatorHash(t, testPassword)
	cfg.Spectate.PublicURL = "https://arena.example"
	if mutate != nil {
		mutate(cfg)
	}

	variants, err := agent.LoadVariants("")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := journal.New(nil, cfg.Journal, nil)
	sm := game.NewSessionManager(ctx, cfg, variants, j, nil)
	auth, err := NewAuth(nil, cfg.Spectate.OperatorHash, cfg.Spectate.TokenTTL, nil)
	if err != nil {
		t.Fatal(err)
	}
	hub := NewHub(cfg.Spectate, sm, auth, j, nil)
	go hub.Run(ctx)

	srv := httptest.NewServer(SetupRoutes(hub, tmpDir))
	t.Cleanup(func() {
		srv.Close()
		sm.Close()
		j.Stop()
		cancel()
	})
	return &testServer{
		srv:   srv,
		wsURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		hub:   hub,
		sm:    sm,
	}
}

// dialWS opens a WebSocket connection to the test server.
func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial WS: %v", err)
	}
	return conn
}

// readEnvelope reads the next JSON message, skipping snapshots.
func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read WS: %v", err)
		}
		if msgType == websocket.BinaryMessage {
			continue
		}
		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return env
	}
}

// readSnapshot reads until the next msgpack snapshot.
func readSnapshot(t *testing.T, conn *websocket.Conn) *game.Snapshot {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read WS: %v", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		snap, err := game.DecodeSnapshot(raw)
		if err != nil {
			t.Fatalf("msgpack unmarshal: %v", err)
		}
		return snap
	}
}

// sendMsg sends a typed message over the WebSocket.
func sendMsg(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	raw, _ := json.Marshal(protocol.Envelope{T: msgType, Data: data})
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write WS: %v", err)
	}
}

// dataMap extracts the Data field as map[string]interface{}.
func dataMap(t *testing.T, env protocol.Envelope) map[string]interface{} {
	t.Helper()
	raw, _ := json.Marshal(env.Data)
	var m map[string]interface{}
	json.Unmarshal(raw, &m)
	return m
}

// loginOperator upgrades conn to the operator role.
func loginOperator(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendMsg(t, conn, protocol.MsgLogin, protocol.LoginMsg{Password: testPassword})
	env := readEnvelope(t, conn)
	if env.T != protocol.MsgAuthOK || dataMap(t, env)["role"] != "operator" {
		t.Fatalf("expected operator auth_ok, got %+v", env)
	}
}

// createSession creates a session as operator and returns its id.
func createSession(t *testing.T, conn *websocket.Conn, name string) string {
	t.Helper()
	sendMsg(t, conn, protocol.MsgCreate, protocol.CreateMsg{Name: name})
	created := readEnvelope(t, conn)
	if created.T != protocol.MsgCreated {
		t.Fatalf("expected created, got %s", created.T)
	}
	return dataMap(t, created)["sid"].(string)
}

// join joins sid and waits for both the joined ack and the arena welcome,
// which arrive from different goroutines.
func join(t *testing.T, conn *websocket.Conn, sid string) map[string]interface{} {
	t.Helper()
	sendMsg(t, conn, protocol.MsgJoin, protocol.JoinMsg{SessionID: sid})
	var welcome map[string]interface{}
	joined := false
	for !joined || welcome == nil {
		env := readEnvelope(t, conn)
		switch env.T {
		case protocol.MsgJoined:
			joined = true
		case protocol.MsgWelcome:
			welcome = dataMap(t, env)
		default:
			t.Fatalf("unexpected %s while joining", env.T)
		}
	}
	return welcome
}

// ---------- SPA routing ----------

func TestSPARouting(t *testing.T) {
	ts := startTestServer(t, nil)

	cases := []struct {
		path string
		want int
	}{
		{"/", 200},
		{"/" + uuid.NewString(), 200},
		{"/js/main.js", 200},
		{"/not-a-session", 404},
	}
	for _, tc := range cases {
		resp, err := http.Get(ts.srv.URL + tc.path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("GET %s status = %d, want %d", tc.path, resp.StatusCode, tc.want)
		}
	}
}

// ---------- Session lifecycle over WS ----------

func TestCreateRequiresOperator(t *testing.T) {
	ts := startTestServer(t, nil)
	c := dialWS(t, ts.wsURL)
	defer c.Close()

	sendMsg(t, c, protocol.MsgCreate, protocol.CreateMsg{Name: "nope"})
	env := readEnvelope(t, c)
	if env.T != protocol.MsgError || dataMap(t, env)["msg"] != ErrNotOperator.Error() {
		t.Fatalf("expected operator error, got %+v", env)
	}
	if ts.sm.Len() != 0 {
		t.Error("no session should have been created")
	}
}

func TestListAndCheckSessions(t *testing.T) {
	ts := startTestServer(t, nil)
	op := dialWS(t, ts.wsURL)
	defer op.Close()
	loginOperator(t, op)
	sid := createSession(t, op, "Arena1")

	c := dialWS(t, ts.wsURL)
	defer c.Close()

	sendMsg(t, c, protocol.MsgList, nil)
	listMsg := readEnvelope(t, c)
	if listMsg.T != protocol.MsgSessions {
		t.Fatalf("expected sessions, got %s", listMsg.T)
	}
	raw, _ := json.Marshal(listMsg.Data)
	var sessions []protocol.SessionInfo
	json.Unmarshal(raw, &sessions)
	if len(sessions) != 1 || sessions[0].ID != sid || sessions[0].Name != "Arena1" {
		t.Fatalf("unexpected session list %+v", sessions)
	}

	sendMsg(t, c, protocol.MsgCheck, protocol.CheckMsg{SID: sid})
	checked := dataMap(t, readEnvelope(t, c))
	if checked["exists"] != true || checked["name"] != "Arena1" {
		t.Errorf("expected session to exist, got %v", checked)
	}

	sendMsg(t, c, protocol.MsgCheck, protocol.CheckMsg{SID: uuid.NewString()})
	missing := dataMap(t, readEnvelope(t, c))
	if missing["exists"] != false {
		t.Errorf("expected exists=false, got %v", missing)
	}
}

func TestJoinStreamsSnapshots(t *testing.T) {
	ts := startTestServer(t, nil)
	op := dialWS(t, ts.wsURL)
	defer op.Close()
	loginOperator(t, op)
	sid := createSession(t, op, "Watched")

	c := dialWS(t, ts.wsURL)
	defer c.Close()
	welcome := join(t, c, sid)
	if agents, _ := welcome["agents"].([]interface{}); len(agents) != 1 {
		t.Errorf("welcome should list one agent, got %v", welcome["agents"])
	}

	snap := readSnapshot(t, c)
	if snap.Session != sid {
		t.Errorf("snapshot for wrong session %q", snap.Session)
	}
	if snap.Player.MaxHealth == 0 {
		t.Error("snapshot should carry the player")
	}
	next := readSnapshot(t, c)
	if next.Tick <= snap.Tick {
		t.Errorf("ticks should advance: %d then %d", snap.Tick, next.Tick)
	}
}

func TestJoinNonExistentSession(t *testing.T) {
	ts := startTestServer(t, nil)
	c := dialWS(t, ts.wsURL)
	defer c.Close()

	sendMsg(t, c, protocol.MsgJoin, protocol.JoinMsg{SessionID: uuid.NewString()})
	if env := readEnvelope(t, c); env.T != protocol.MsgError {
		t.Fatalf("expected error, got %s", env.T)
	}
}

func TestSpectatorCannotSteer(t *testing.T) {
	ts := startTestServer(t, nil)
	op := dialWS(t, ts.wsURL)
	defer op.Close()
	loginOperator(t, op)
	sid := createSession(t, op, "Steer")

	c := dialWS(t, ts.wsURL)
	defer c.Close()
	join(t, c, sid)

	sendMsg(t, c, protocol.MsgInput, protocol.InputMsg{X: 1})
	env := readEnvelope(t, c)
	if env.T != protocol.MsgError || dataMap(t, env)["msg"] != ErrNotPilot.Error() {
		t.Fatalf("expected pilot error, got %+v", env)
	}
}

func TestPilotTokenSteersPlayer(t *testing.T) {
	ts := startTestServer(t, nil)
	op := dialWS(t, ts.wsURL)
	defer op.Close()
	loginOperator(t, op)
	sid := createSession(t, op, "Flight")

	tok, _ := ts.hub.auth.Issue(RolePilot)
	c := dialWS(t, ts.wsURL+"?token="+tok)
	defer c.Close()
	join(t, c, sid)

	start := readSnapshot(t, c).Player.X
	sendMsg(t, c, protocol.MsgInput, protocol.InputMsg{X: 1})
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := readSnapshot(t, c)
		if snap.Player.X > start+0.5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("player did not move right from %f", start)
		}
	}
}

func TestOperatorStopsSession(t *testing.T) {
	ts := startTestServer(t, nil)
	op := dialWS(t, ts.wsURL)
	defer op.Close()
	loginOperator(t, op)
	sid := createSession(t, op, "Short")

	c := dialWS(t, ts.wsURL)
	defer c.Close()
	join(t, c, sid)

	sendMsg(t, op, protocol.MsgStop, protocol.JoinMsg{SessionID: sid})
	if env := readEnvelope(t, op); env.T != protocol.MsgStopped {
		t.Fatalf("expected stopped, got %s", env.T)
	}
	ended := readEnvelope(t, c)
	if ended.T != protocol.MsgEnded || dataMap(t, ended)["reason"] != "stopped" {
		t.Fatalf("expected ended, got %+v", ended)
	}
	if ts.sm.Get(sid) != nil {
		t.Error("session should be gone")
	}
}

func TestOperatorSpawnsAgent(t *testing.T) {
	ts := startTestServer(t, nil)
	op := dialWS(t, ts.wsURL)
	defer op.Close()
	loginOperator(t, op)
	sid := createSession(t, op, "Spawn")
	join(t, op, sid)

	sendMsg(t, op, protocol.MsgSpawn, protocol.SpawnMsg{Variant: "large", X: -5, Y: 5, Idle: true})
	deadline := time.Now().Add(2 * time.Second)
	for {
		if len(readSnapshot(t, op).Agents) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("spawned agent never showed up")
		}
	}

	sendMsg(t, op, protocol.MsgSpawn, protocol.SpawnMsg{Variant: "giant"})
	if env := readEnvelope(t, op); env.T != protocol.MsgError {
		t.Fatalf("expected error for unknown variant, got %s", env.T)
	}
}

// ---------- Tokens and HTTP API ----------

func TestRequireToken(t *testing.T) {
	ts := startTestServer(t, func(cfg *config.Config) { cfg.Spectate.RequireToken = true })

	if _, resp, err := websocket.DefaultDialer.Dial(ts.wsURL, nil); err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %v", err)
	}

	resp, err := http.Get(ts.srv.URL + "/api/token")
	if err != nil {
		t.Fatal(err)
	}
	var ok protocol.AuthOKMsg
	json.NewDecoder(resp.Body).Decode(&ok)
	resp.Body.Close()
	if ok.Role != "spectator" || ok.Token == "" {
		t.Fatalf("unexpected token response %+v", ok)
	}

	c := dialWS(t, ts.wsURL+"?token="+ok.Token)
	defer c.Close()
	sendMsg(t, c, protocol.MsgList, nil)
	if env := readEnvelope(t, c); env.T != protocol.MsgSessions {
		t.Fatalf("expected sessions, got %s", env.T)
	}
}

func TestTokenEndpointRoles(t *testing.T) {
	ts := startTestServer(t, nil)

	resp, err := http.Get(ts.srv.URL + "/api/token?role=pilot")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("pilot token without operator: status %d", resp.StatusCode)
	}

	body, _ := json.Marshal(protocol.LoginMsg{Password: testPassword})
	resp, err = http.Post(ts.srv.URL+"/api/token", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	var op protocol.AuthOKMsg
	json.NewDecoder(resp.Body).Decode(&op)
	resp.Body.Close()
	if op.Role != "operator" {
		t.Fatalf("expected operator login, got %+v", op)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/api/token?role=pilot", nil)
	req.Header.Set("Authorization", "Bearer "+op.Token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var pilot protocol.AuthOKMsg
	json.NewDecoder(resp.Body).Decode(&pilot)
	resp.Body.Close()
	if role, err := ts.hub.auth.Validate(pilot.Token); err != nil || role != RolePilot {
		t.Errorf("expected a pilot token, got %s %v", role, err)
	}
}

func TestStatusAndSessionsAPI(t *testing.T) {
	ts := startTestServer(t, nil)
	sess, err := ts.sm.Create("Api")
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.srv.URL + "/api/sessions")
	if err != nil {
		t.Fatal(err)
	}
	var list []protocol.SessionInfo
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list) != 1 || list[0].ID != sess.ID {
		t.Errorf("unexpected sessions %+v", list)
	}

	c := dialWS(t, ts.wsURL)
	defer c.Close()
	deadline := time.Now().Add(2 * time.Second)
	for ts.hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err = http.Get(ts.srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	var st Status
	json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if st.Sessions != 1 || st.Clients != 1 || st.Journal.Sessions != 1 || st.Journal.Spectators != 1 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestQRCode(t *testing.T) {
	ts := startTestServer(t, nil)
	sess, _ := ts.sm.Create("QR")

	resp, err := http.Get(ts.srv.URL + "/qr?sid=" + sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	png, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.Header.Get("Content-Type") != "image/png" || !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Errorf("expected a PNG, got %q", resp.Header.Get("Content-Type"))
	}

	resp, err = http.Get(ts.srv.URL + "/qr?sid=" + uuid.NewString())
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session: status %d", resp.StatusCode)
	}
}

func TestConnectionLimitPerIP(t *testing.T) {
	ts := startTestServer(t, func(cfg *config.Config) { cfg.Spectate.MaxConnsPerIP = 1 })

	c := dialWS(t, ts.wsURL)
	defer c.Close()
	if _, resp, err := websocket.DefaultDialer.Dial(ts.wsURL, nil); err == nil || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for a second connection, got %v", err)
	}
}
