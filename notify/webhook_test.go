package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabrelay/event"
)

func TestWebhookPostsSerializedEvent(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
	}))
	defer srv.Close()

	ch := "a"
	ev := event.EditEvent{DocID: "d1", UserID: "u1", Operation: "insert", Position: 0, Character: &ch, Timestamp: 1}
	err := NewWebhook(srv.URL).Notify(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"doc_id":"d1","user_id":"u1","operation":"insert","position":0,"character":"a","timestamp":1}`, string(gotBody))
}

func TestWebhookReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).Notify(context.Background(), event.EditEvent{DocID: "d1", UserID: "u1", Operation: "insert"})
	assert.ErrorContains(t, err, "502")
}

func TestWebhookDisabledWhenUnconfigured(t *testing.T) {
	err := NewWebhook("").Notify(context.Background(), event.EditEvent{DocID: "d1", UserID: "u1", Operation: "insert"})
	assert.NoError(t, err)
}
