package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"threadboard/internal/config"
	"threadboard/internal/models"
	"threadboard/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testServer struct {
	*Server
	db    *gorm.DB
	store *testutil.MemoryStore
}

func testConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		Env:                "test",
		JWTSecret:          "test-secret",
		JWTIssuer:          "threadboard",
		JWTAudience:        "threadboard-api",
		CacheTTLSeconds:    60,
		BroadcastWorkers:   2,
		BroadcastQueueSize: 64,
		MediaURLPrefix:     "/media",
	}
}

func newTestServer(t *testing.T, redisClient *redis.Client) *testServer {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	store := testutil.NewMemoryStore()

	s, err := NewServerWithDeps(testConfig(), db, redisClient, store)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.queue.Shutdown(ctx)
		s.shutdownFn()
		_ = s.hub.Shutdown(ctx)
	})
	return &testServer{Server: s, db: db, store: store}
}

func (ts *testServer) token(t *testing.T, user *models.User) string {
	t.Helper()
	token, err := ts.verifier.Issue(user.ID, time.Hour)
	require.NoError(t, err)
	return token
}

// do sends a request through the app. body may be nil, a []byte or any
// value encoded as JSON.
func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := ts.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestNewServerWithDeps_RequiresDatabase(t *testing.T) {
	_, err := NewServerWithDeps(testConfig(), nil, nil, testutil.NewMemoryStore())
	assert.Error(t, err)
}

func TestHealthChecks(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string                 `json:"status"`
		Checks map[string]interface{} `json:"checks"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "unavailable", body.Checks["redis"])
}

func TestReadiness_DatabaseDown(t *testing.T) {
	ts := newTestServer(t, nil)
	sqlDB, err := ts.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	resp := ts.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebSocket_RequiresUpgrade(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodGet, "/ws/comments", "", nil)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestWebSocket_ReceivesCommentEvents(t *testing.T) {
	ts := newTestServer(t, nil)
	app := ts.App()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	base := ln.Addr().String()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+base+"/ws/comments", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return ts.hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	raw, err := json.Marshal(map[string]string{
		"user_name": "guest",
		"email":     "guest@example.com",
		"text":      "live",
	})
	require.NoError(t, err)
	resp, err := http.Post("http://"+base+"/api/comments", fiber.MIMEApplicationJSON, bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.CommentResponse
	decode(t, resp, &created)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var event struct {
		Type    string                  `json:"type"`
		Comment *models.CommentResponse `json:"comment"`
	}
	require.NoError(t, json.Unmarshal(msg, &event))
	assert.Equal(t, "comment_update", event.Type)
	require.NotNil(t, event.Comment)
	assert.Equal(t, created.ID, event.Comment.ID)
	assert.Equal(t, "live", event.Comment.Text)
	assert.Equal(t, 0, event.Comment.UserVote)
	assert.False(t, event.Comment.IsBookmarked)

	// delete events carry only the id
	user := testutil.CreateUser(t, ts.db, "owner")
	owned := testutil.CreateComment(t, ts.db, user.ID, 0, "bye")
	req, err := http.NewRequest(http.MethodDelete, "http://"+base+"/api/comments/"+itoa(owned.ID), nil)
	require.NoError(t, err)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+ts.token(t, user))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"comment_delete","comment_id":`+itoa(owned.ID)+`}`, string(msg))
}

func TestShutdown_ClosesSubscribers(t *testing.T) {
	ts := newTestServer(t, nil)
	app := ts.App()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/comments", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return ts.hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, ts.hub.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
	assert.Equal(t, 0, ts.hub.Count())

	_ = app.Shutdown()
}
