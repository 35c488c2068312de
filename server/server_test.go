package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabrelay/bus"
	"collabrelay/event"
	"collabrelay/room"
)

type fakeAppender struct {
	mu     sync.Mutex
	events []event.EditEvent
	err    error
}

func (a *fakeAppender) Append(_ context.Context, ev event.EditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.events = append(a.events, ev)
	return nil
}

func (a *fakeAppender) all() []event.EditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]event.EditEvent(nil), a.events...)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, appender *fakeAppender, pinger Pinger) (*httptest.Server, *bus.Bus, *room.MemberList) {
	t.Helper()
	registry := room.NewMemberList()
	b := bus.New(10)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(New(ctx, appender, registry, b, pinger).Router())
	t.Cleanup(srv.Close)
	return srv, b, registry
}

func TestSendAppendsToLog(t *testing.T) {
	appender := &fakeAppender{}
	srv, _, _ := newTestServer(t, appender, nil)

	body := `{"doc_id":"d1","user_id":"u1","operation":"insert","position":0,"character":"a","timestamp":1}`
	resp, err := http.Post(srv.URL+"/send", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	got, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "Message sent", string(got))

	events := appender.all()
	require.Len(t, events, 1)
	assert.Equal(t, "d1", events[0].DocID)
	require.NotNil(t, events[0].Character)
	assert.Equal(t, "a", *events[0].Character)
}

func TestSendRejectsMalformedBody(t *testing.T) {
	appender := &fakeAppender{}
	srv, _, _ := newTestServer(t, appender, nil)

	for _, body := range []string{
		`{"user_id":"u1","operation":"insert","position":0,"timestamp":1}`, // no doc_id
		`{"doc_id":`,
	} {
		resp, err := http.Post(srv.URL+"/send", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	assert.Empty(t, appender.all())
}

func TestSendSurfacesLogFailureAsRetryable(t *testing.T) {
	appender := &fakeAppender{err: errors.New("log down")}
	srv, _, _ := newTestServer(t, appender, nil)

	body := `{"doc_id":"d1","user_id":"u1","operation":"insert","position":0,"timestamp":1}`
	resp, err := http.Post(srv.URL+"/send", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeAppender{}, fakePinger{})
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down, _, _ := newTestServer(t, &fakeAppender{}, fakePinger{err: errors.New("no log")})
	resp, err = http.Get(down.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	return msg
}

func TestWebsocketSessionEndToEnd(t *testing.T) {
	appender := &fakeAppender{}
	srv, b, registry := newTestServer(t, appender, nil)

	conn := dialWS(t, srv)

	// Join lands in the registry.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"Join","doc_id":"d1","user_id":"u1"}`)))
	assert.Eventually(t, func() bool {
		snap := registry.Snapshot()
		return len(snap["d1"]) == 1 && snap["d1"][0] == "u1"
	}, time.Second, 5*time.Millisecond)

	// Typing echoes straight back on the same connection.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"Typing","doc_id":"d1","user_id":"u1","is_typing":true}`)))
	assert.JSONEq(t, `{"type":"typing","user_id":"u1","is_typing":true}`, string(readFrame(t, conn)))

	// An edit sent on the channel reaches the log appender.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"Edit","doc_id":"d1","user_id":"u1","operation":"insert","position":0,"character":"a","timestamp":1}`)))
	assert.Eventually(t, func() bool { return len(appender.all()) == 1 }, time.Second, 5*time.Millisecond)

	// A committed edit published on the bus arrives as the raw event.
	ev := event.EditEvent{DocID: "d1", UserID: "u2", Operation: "delete", Position: 3, Timestamp: 9}
	b.Publish(ev)
	got, err := event.DecodeEditEvent(readFrame(t, conn))
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	// Disconnect cleans the room up.
	conn.Close()
	assert.Eventually(t, func() bool { return len(registry.Snapshot()) == 0 }, time.Second, 5*time.Millisecond)
}
