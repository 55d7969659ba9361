package live

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echo struct {
	Type string `json:"type"`
	Body string `json:"body,omitempty"`
}

type echoHandler struct {
	gone chan string
}

func (echoHandler) Connected(_ context.Context, c *Client) {
	c.Send(echo{Type: "hello", Body: c.SessionID})
}

func (echoHandler) Handle(_ context.Context, c *Client, raw []byte) {
	c.Send(echo{Type: "echo", Body: string(raw)})
}

func (h echoHandler) Disconnected(_ context.Context, c *Client) {
	select {
	case h.gone <- c.SessionID:
	default:
	}
}

func newTestHub(t *testing.T) (*Hub, string) {
	hub, url, _ := newTestHubWithHandler(t)
	return hub, url
}

func newTestHubWithHandler(t *testing.T) (*Hub, string, echoHandler) {
	t.Helper()
	h := echoHandler{gone: make(chan string, 8)}
	hub := NewHub(h)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, r.URL.Query().Get("session_id"), "exam-1")
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http"), h
}

func dial(t *testing.T, url, sessionID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?session_id="+sessionID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) echo {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg echo
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubDispatchesInOrder(t *testing.T) {
	_, url := newTestHub(t)
	conn := dial(t, url, "s1")

	assert.Equal(t, echo{Type: "hello", Body: "s1"}, read(t, conn))

	for _, body := range []string{"one", "two", "three"} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(body)))
	}
	for _, body := range []string{"one", "two", "three"} {
		assert.Equal(t, body, read(t, conn).Body)
	}
}

func TestHubPushToSession(t *testing.T) {
	hub, url := newTestHub(t)

	err := hub.PushToSession("s1", echo{Type: "push"})
	assert.True(t, errors.Is(err, ErrNoSubscribers))

	a := dial(t, url, "s1")
	b := dial(t, url, "s1")
	other := dial(t, url, "s2")
	read(t, a)
	read(t, b)
	read(t, other)
	require.Eventually(t, func() bool { return hub.Connections() == 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.PushToSession("s1", echo{Type: "push", Body: "viva"}))
	assert.Equal(t, "viva", read(t, a).Body)
	assert.Equal(t, "viva", read(t, b).Body)

	// Nothing reaches the other session.
	require.NoError(t, other.WriteMessage(websocket.TextMessage, []byte("ping")))
	assert.Equal(t, "ping", read(t, other).Body)
}

func TestHubForgetsClosedConnections(t *testing.T) {
	hub, url, h := newTestHubWithHandler(t)
	conn := dial(t, url, "s1")
	read(t, conn)
	require.Eventually(t, func() bool { return hub.Connections() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool { return hub.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, hub.PushToSession("s1", echo{Type: "push"}), ErrNoSubscribers)

	select {
	case id := <-h.gone:
		assert.Equal(t, "s1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnected not called")
	}
}

func TestClientSendAfterClose(t *testing.T) {
	c := &Client{send: make(chan any, 1), done: make(chan struct{})}
	assert.True(t, c.Send("a"))
	assert.False(t, c.Send("b"), "buffer full")
	c.Close()
	c.Close()
	<-c.send
	assert.False(t, c.Send("c"), "closed")
}

func TestHubChecksOrigin(t *testing.T) {
	hub := NewHub(echoHandler{gone: make(chan string, 8)}, WithAllowedOrigins("https://exams.example.edu/"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, "s1", "exam-1")
	}))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"no origin", "", true},
		{"same host", srv.URL, true},
		{"allowed origin", "https://exams.example.edu", true},
		{"foreign origin", "https://evil.example.com", false},
		{"allowed host wrong scheme", "http://exams.example.edu", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
			if !tt.ok {
				require.Error(t, err)
				require.NotNil(t, resp)
				assert.Equal(t, http.StatusForbidden, resp.StatusCode)
				return
			}
			require.NoError(t, err)
			conn.Close()
		})
	}
}
