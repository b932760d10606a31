package main

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
	"go.uber.org/zap"

	"github.com/bodul/wordgrid/internal/generation"
	"github.com/bodul/wordgrid/internal/grid"
	"github.com/bodul/wordgrid/internal/protocol"
)

type stubGenerator struct {
	mu   sync.Mutex
	reqs []generation.Request
}

func (g *stubGenerator) Generate(_ context.Context, req generation.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	return "/images/stub.png", nil
}

func newTestServer(t *testing.T, layout grid.Layout, gen generation.ImageGenerator) (*Server, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Generation.ImagesDir = t.TempDir()

	srv := newServer(cfg, grid.NewMemoryStore(), layout, gen, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown()
	})
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Every connection starts with the snapshot.
	readUntil(t, conn, protocol.TypeInitialState)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// readUntil skips events until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) []byte {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", want)
		env, err := protocol.Decode(data)
		require.NoError(t, err)
		if env.Type == want {
			return data
		}
	}
}

func register(t *testing.T, conn *websocket.Conn, userID string) {
	t.Helper()
	send(t, conn, protocol.Register{Type: protocol.TypeRegister, UserID: userID})
	readUntil(t, conn, protocol.TypeUserRegistered)
}

func TestHealthAndHeaders(t *testing.T) {
	_, ts := newTestServer(t, grid.DefaultLayout, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestStateEmpty(t *testing.T) {
	srv, _ := newTestServer(t, grid.DefaultLayout, nil)

	req := httptest.NewRequest("GET", "/api/state", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var st struct {
		NextPosition int    `json:"nextPosition"`
		Capacity     int    `json:"capacity"`
		Remaining    int    `json:"remaining"`
		CurrentImage string `json:"currentImage"`
		WordCount    int    `json:"wordCount"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.Equal(t, 0, st.NextPosition)
	assert.Equal(t, grid.Capacity, st.Capacity)
	assert.Equal(t, grid.Capacity, st.Remaining)
	assert.Empty(t, st.CurrentImage)
	assert.Zero(t, st.WordCount)
}

func TestCellsEmptyIsArray(t *testing.T) {
	srv, _ := newTestServer(t, grid.DefaultLayout, nil)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest("GET", "/api/cells", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestGenerateGuards(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		srv, _ := newTestServer(t, grid.DefaultLayout, nil)
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest("POST", "/api/generate", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("no words", func(t *testing.T) {
		srv, _ := newTestServer(t, grid.DefaultLayout, &stubGenerator{})
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest("POST", "/api/generate", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "No words")
	})

	t.Run("wrong method", func(t *testing.T) {
		srv, _ := newTestServer(t, grid.DefaultLayout, nil)
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest("GET", "/api/generate", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestInitialStateCarriesLayout(t *testing.T) {
	_, ts := newTestServer(t, grid.DefaultLayout, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var st protocol.InitialState
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeInitialState), &st))
	assert.Equal(t, grid.Width, st.Width)
	assert.Equal(t, grid.Capacity, st.Capacity)
	assert.Equal(t, 0, st.NextPosition)
	assert.NotNil(t, st.Cells)
	assert.Equal(t, 1, st.OnlineCount)
}

func TestSubmitWordReachesEveryClient(t *testing.T) {
	_, ts := newTestServer(t, grid.DefaultLayout, nil)
	alice := dial(t, ts)
	bob := dial(t, ts)
	register(t, alice, "alice")

	send(t, alice, protocol.SubmitWord{Type: protocol.TypeSubmitWord, UserID: "alice", Word: "  cat ", GroupID: "g1"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		var wp protocol.WordPlaced
		require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeWordPlaced), &wp))
		assert.Equal(t, 0, wp.Position)
		assert.Equal(t, "cat", wp.Word)
		assert.Equal(t, "alice", wp.UserID)
		assert.Equal(t, grid.ColorForUser("alice"), wp.UserColor)
	}
}

func TestRegisterEchoesCanonicalID(t *testing.T) {
	_, ts := newTestServer(t, grid.DefaultLayout, nil)
	conn := dial(t, ts)

	send(t, conn, protocol.Register{Type: protocol.TypeRegister, UserID: "  bob "})
	var reg protocol.UserRegistered
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeUserRegistered), &reg))
	assert.Equal(t, "bob", reg.UserID)
	assert.Equal(t, grid.ColorForUser("bob"), reg.Color)

	long := strings.Repeat("x", 80)
	send(t, conn, protocol.Register{Type: protocol.TypeRegister, UserID: long})
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeUserRegistered), &reg))
	assert.Equal(t, long[:64], reg.UserID)

	// Echoes carry the same id the register reply did.
	send(t, conn, protocol.SubmitWord{Type: protocol.TypeSubmitWord, UserID: long, Word: "hi"})
	var wp protocol.WordPlaced
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeWordPlaced), &wp))
	assert.Equal(t, reg.UserID, wp.UserID)
}

func TestSubmitWordsBatchIsContiguous(t *testing.T) {
	_, ts := newTestServer(t, grid.DefaultLayout, nil)
	conn := dial(t, ts)
	register(t, conn, "u1")

	send(t, conn, protocol.SubmitWord{Type: protocol.TypeSubmitWord, Word: "first"})
	readUntil(t, conn, protocol.TypeWordPlaced)

	send(t, conn, protocol.SubmitWords{Type: protocol.TypeSubmitWords, Words: []string{"a", "b", "c"}, GroupID: "paste"})

	var groupID string
	for i := 1; i <= 3; i++ {
		var wp protocol.WordPlaced
		require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeWordPlaced), &wp))
		assert.Equal(t, i, wp.Position)
		assert.Equal(t, "u1", wp.UserID, "falls back to the registered user")
		if groupID == "" {
			groupID = wp.GroupID
		}
		assert.Equal(t, groupID, wp.GroupID)
	}
}

func TestErrorGoesToSenderOnly(t *testing.T) {
	_, ts := newTestServer(t, grid.DefaultLayout, nil)
	alice := dial(t, ts)
	bob := dial(t, ts)
	register(t, alice, "alice")

	send(t, alice, protocol.SubmitWord{Type: protocol.TypeSubmitWord, Word: "two words"})

	var e protocol.Error
	require.NoError(t, json.Unmarshal(readUntil(t, alice, protocol.TypeError), &e))
	assert.Contains(t, e.Message, "spaces")

	// A valid word afterwards is the first thing bob sees besides presence.
	send(t, alice, protocol.SubmitWord{Type: protocol.TypeSubmitWord, Word: "ok"})
	for {
		require.NoError(t, bob.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := bob.ReadMessage()
		require.NoError(t, err)
		env, err := protocol.Decode(data)
		require.NoError(t, err)
		require.NotEqual(t, protocol.TypeError, env.Type)
		if env.Type == protocol.TypeWordPlaced {
			var wp protocol.WordPlaced
			require.NoError(t, env.Into(&wp))
			assert.Equal(t, 0, wp.Position, "rejected word must not consume a cell")
			return
		}
	}
}

func TestSubmitRequiresUser(t *testing.T) {
	_, ts := newTestServer(t, grid.DefaultLayout, nil)
	conn := dial(t, ts)

	send(t, conn, protocol.SubmitWord{Type: protocol.TypeSubmitWord, Word: "orphan"})

	var e protocol.Error
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeError), &e))
	assert.Equal(t, errUnknownUser.Error(), e.Message)
}

func TestUnknownAndMalformedMessages(t *testing.T) {
	_, ts := newTestServer(t, grid.DefaultLayout, nil)
	conn := dial(t, ts)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	var e protocol.Error
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeError), &e))
	assert.Equal(t, "Malformed message", e.Message)

	send(t, conn, map[string]string{"type": "dance"})
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeError), &e))
	assert.Equal(t, "Unknown message type: dance", e.Message)
}

func TestGridFull(t *testing.T) {
	_, ts := newTestServer(t, grid.Layout{Width: 2, Capacity: 2}, nil)
	conn := dial(t, ts)
	register(t, conn, "u1")

	send(t, conn, protocol.SubmitWords{Type: protocol.TypeSubmitWords, Words: []string{"a", "b", "c"}})
	readUntil(t, conn, protocol.TypeWordPlaced)
	readUntil(t, conn, protocol.TypeWordPlaced)

	send(t, conn, protocol.SubmitWord{Type: protocol.TypeSubmitWord, Word: "late"})
	var e protocol.Error
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeError), &e))
	assert.Equal(t, "The grid is full", e.Message)
}

func TestCursorRelayedToOthers(t *testing.T) {
	_, ts := newTestServer(t, grid.DefaultLayout, nil)
	alice := dial(t, ts)
	bob := dial(t, ts)
	register(t, alice, "alice")

	send(t, alice, protocol.CursorMove{Type: protocol.TypeCursorMove, X: 3, Y: 2})

	var cu protocol.CursorUpdate
	require.NoError(t, json.Unmarshal(readUntil(t, bob, protocol.TypeCursorUpdate), &cu))
	assert.Equal(t, 3, cu.X)
	assert.Equal(t, 2, cu.Y)
	assert.Equal(t, 2*grid.Width+3, cu.Position)
	assert.Equal(t, grid.ColorForUser("alice"), cu.Color)
	assert.NotEmpty(t, cu.ID)

	alice.Close()
	var cl protocol.CursorLeave
	require.NoError(t, json.Unmarshal(readUntil(t, bob, protocol.TypeCursorLeave), &cl))
	assert.Equal(t, cu.ID, cl.ID)
}

func TestGenerationOverWebsocket(t *testing.T) {
	gen := &stubGenerator{}
	srv, ts := newTestServer(t, grid.DefaultLayout, gen)
	conn := dial(t, ts)
	register(t, conn, "u1")

	send(t, conn, protocol.SubmitWord{Type: protocol.TypeSubmitWord, Word: "sunset"})
	readUntil(t, conn, protocol.TypeWordPlaced)

	send(t, conn, protocol.RequestGenerate{Type: protocol.TypeRequestGenerate})
	readUntil(t, conn, protocol.TypeGenerationStarted)

	var done protocol.GenerationComplete
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeGenerationComplete), &done))
	assert.Equal(t, "/images/stub.png", done.ImagePath)

	srv.Shutdown()
	gen.mu.Lock()
	require.Len(t, gen.reqs, 1)
	assert.Equal(t, "sunset", gen.reqs[0].Prompt)
	assert.Empty(t, gen.reqs[0].BaseImagePath)
	gen.mu.Unlock()

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest("GET", "/api/generations", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var recs []grid.GenerationRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&recs))
	require.Len(t, recs, 1)
	assert.Equal(t, grid.StatusComplete, recs[0].Status)
}

func TestPromptEndpoint(t *testing.T) {
	_, ts := newTestServer(t, grid.DefaultLayout, nil)
	conn := dial(t, ts)
	register(t, conn, "u1")

	send(t, conn, protocol.SubmitWords{Type: protocol.TypeSubmitWords, Words: []string{"red", "fox"}})
	readUntil(t, conn, protocol.TypeWordPlaced)
	readUntil(t, conn, protocol.TypeWordPlaced)

	resp, err := http.Get(ts.URL + "/api/prompt")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "red fox", body["prompt"])
}

func TestRateLimiterPerIP(t *testing.T) {
	rl := newRateLimiter(0, 2)
	assert.True(t, rl.allow("10.0.0.1:1234"))
	assert.True(t, rl.allow("10.0.0.1:5678"))
	assert.False(t, rl.allow("10.0.0.1:9999"), "same IP shares a bucket")
	assert.True(t, rl.allow("10.0.0.2:1234"))
}
