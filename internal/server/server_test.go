package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/resmeter/internal/config"
	"firestige.xyz/resmeter/internal/stats"
)

type fakeEngine struct {
	mu      sync.Mutex
	snap    stats.Snapshot
	skills  map[uint64][]stats.SkillSummary
	paused  bool
	cleared int
	panicky bool
}

func (f *fakeEngine) Snapshot() stats.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicky {
		panic("boom")
	}
	out := make(stats.Snapshot, len(f.snap))
	for k, v := range f.snap {
		out[k] = v
	}
	return out
}

func (f *fakeEngine) Skills(uid uint64) ([]stats.SkillSummary, bool) {
	s, ok := f.skills[uid]
	return s, ok
}

func (f *fakeEngine) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	f.snap = stats.Snapshot{}
}

func (f *fakeEngine) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *fakeEngine) SetPaused(p bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = p
	return p
}

func newFake() *fakeEngine {
	return &fakeEngine{
		snap: stats.Snapshot{
			7: {Name: "Ayla", Profession: "Stormblade", TotalDamage: stats.Breakdown{Normal: 120, Total: 120}},
		},
		skills: map[uint64][]stats.SkillSummary{
			7: {{SkillID: 1241, Total: stats.Breakdown{Total: 120}}},
		},
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestData(t *testing.T) {
	h := New(config.ServerConfig{}, newFake()).Handler()
	rec := do(h, http.MethodGet, "/api/data", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	out := decode(t, rec)
	assert.EqualValues(t, 0, out["code"])
	user := out["user"].(map[string]any)
	p := user["7"].(map[string]any)
	assert.Equal(t, "Ayla", p["name"])
	assert.EqualValues(t, 120, p["total_damage"].(map[string]any)["total"])
}

func TestDataEmptyUser(t *testing.T) {
	f := &fakeEngine{snap: stats.Snapshot{}}
	rec := do(New(config.ServerConfig{}, f).Handler(), http.MethodGet, "/api/data", "")
	assert.JSONEq(t, `{"code":0,"user":{}}`, rec.Body.String())
}

func TestClear(t *testing.T) {
	f := newFake()
	h := New(config.ServerConfig{}, f).Handler()
	rec := do(h, http.MethodGet, "/api/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.cleared)
	assert.JSONEq(t, `{"code":0,"msg":"Statistics have been cleared!"}`, rec.Body.String())
}

func TestPause(t *testing.T) {
	f := newFake()
	h := New(config.ServerConfig{}, f).Handler()

	rec := do(h, http.MethodGet, "/api/pause", "")
	assert.JSONEq(t, `{"code":0,"paused":false}`, rec.Body.String())

	rec = do(h, http.MethodPost, "/api/pause", `{"paused":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"code":0,"msg":"Statistics paused!","paused":true}`, rec.Body.String())
	assert.True(t, f.Paused())

	rec = do(h, http.MethodPost, "/api/pause", `{"paused":false}`)
	assert.JSONEq(t, `{"code":0,"msg":"Statistics resumed!","paused":false}`, rec.Body.String())
	assert.False(t, f.Paused())
}

func TestPauseBadBody(t *testing.T) {
	h := New(config.ServerConfig{}, newFake()).Handler()
	for _, body := range []string{"", "{", `{"other":1}`, `{"paused":"yes"}`} {
		rec := do(h, http.MethodPost, "/api/pause", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.EqualValues(t, 1, decode(t, rec)["code"], body)
	}
}

func TestSkills(t *testing.T) {
	h := New(config.ServerConfig{}, newFake()).Handler()

	rec := do(h, http.MethodGet, "/api/skill/7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.EqualValues(t, 7, out["uid"])
	skills := out["skills"].([]any)
	require.Len(t, skills, 1)
	assert.EqualValues(t, 1241, skills[0].(map[string]any)["skill_id"])

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/skill/8", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/skill/abc", "").Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h := New(config.ServerConfig{}, newFake()).Handler()
	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodDelete, "/api/data", "").Code)
}

func TestRecovery(t *testing.T) {
	f := newFake()
	f.panicky = true
	rec := do(New(config.ServerConfig{}, f).Handler(), http.MethodGet, "/api/data", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"code":1,"msg":"internal error"}`, rec.Body.String())
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketBroadcast(t *testing.T) {
	f := newFake()
	s := New(config.ServerConfig{BroadcastInterval: 10 * time.Millisecond}, f)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	require.Eventually(t, func() bool { return s.Hub().Len() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.broadcastLoop(ctx)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var out struct {
		Code int                      `json:"code"`
		User map[string]stats.Summary `json:"user"`
	}
	require.NoError(t, json.Unmarshal(msg, &out))
	assert.Equal(t, 0, out.Code)
	assert.Equal(t, "Ayla", out.User["7"].Name)
}

func TestBroadcastSkippedWhilePaused(t *testing.T) {
	f := newFake()
	f.paused = true
	s := New(config.ServerConfig{}, f)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	require.Eventually(t, func() bool { return s.Hub().Len() == 1 }, time.Second, 5*time.Millisecond)

	s.broadcast()
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestClientDisconnectDetaches(t *testing.T) {
	s := New(config.ServerConfig{}, newFake())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	require.Eventually(t, func() bool { return s.Hub().Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return s.Hub().Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubCloseAll(t *testing.T) {
	s := New(config.ServerConfig{}, newFake())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	dialWS(t, ts)
	dialWS(t, ts)
	require.Eventually(t, func() bool { return s.Hub().Len() == 2 }, time.Second, 5*time.Millisecond)

	s.Hub().CloseAll()
	assert.Equal(t, 0, s.Hub().Len())
	s.Hub().Broadcast([]byte(`{}`))
}

func TestStopWithoutStart(t *testing.T) {
	assert.NoError(t, New(config.ServerConfig{}, newFake()).Stop(context.Background()))
}
