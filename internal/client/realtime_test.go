package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/taskflow/internal/client"
	"github.com/mtlprog/taskflow/internal/realtime"
)

// wsTestServer accepts realtime connections, records every auth handshake and
// lets tests push messages or kill the active connection.
type wsTestServer struct {
	upgrader websocket.Upgrader

	mu     sync.Mutex
	auths  []realtime.Inbound
	active *websocket.Conn
}

func newWSTestServer() (*wsTestServer, *httptest.Server) {
	ts := &wsTestServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := ts.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		var auth realtime.Inbound
		if err := ws.ReadJSON(&auth); err != nil {
			ws.Close()
			return
		}

		ts.mu.Lock()
		ts.auths = append(ts.auths, auth)
		ts.active = ws
		ts.mu.Unlock()

		// Keep reading so close frames are processed.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return ts, srv
}

func (ts *wsTestServer) authCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.auths)
}

func (ts *wsTestServer) send(t *testing.T, msg realtime.Message) {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	require.NotNil(t, ts.active)
	require.NoError(t, ts.active.WriteJSON(msg))
}

func (ts *wsTestServer) dropConnection() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.active != nil {
		ts.active.Close()
		ts.active = nil
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestListenerAuthenticatesAndDeliversMessages(t *testing.T) {
	ts, srv := newWSTestServer()
	defer srv.Close()

	listener := client.NewListener(wsURL(srv), client.Identity{
		UserID: "dev-1", UserName: "Dev", Token: "dev-token",
	})

	var mu sync.Mutex
	var got []realtime.Message
	listener.OnMessage(func(msg realtime.Message) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Run(ctx)

	waitFor(t, func() bool { return ts.authCount() == 1 }, "auth handshake")

	ts.mu.Lock()
	auth := ts.auths[0]
	ts.mu.Unlock()
	assert.Equal(t, "auth", auth.Type)
	assert.Equal(t, "dev-1", auth.UserID)
	assert.Equal(t, "dev-token", auth.Token)

	waitFor(t, listener.Connected, "connected state")

	ts.send(t, realtime.Message{Type: realtime.MessageTypeNotification, Message: "hello"})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "message delivery")

	mu.Lock()
	assert.Equal(t, "hello", got[0].Message)
	mu.Unlock()
}

func TestListenerReconnectsAndReauthenticates(t *testing.T) {
	ts, srv := newWSTestServer()
	defer srv.Close()

	listener := client.NewListener(wsURL(srv), client.Identity{
		UserID: "dev-1", Token: "dev-token",
	})

	var opens int32
	var mu sync.Mutex
	listener.OnOpen(func() {
		mu.Lock()
		opens++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Run(ctx)

	waitFor(t, func() bool { return ts.authCount() == 1 }, "first handshake")

	ts.dropConnection()
	waitFor(t, func() bool { return ts.authCount() == 2 }, "re-auth after reconnect")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return opens >= 2
	}, "OnOpen fired per connection")
	assert.True(t, listener.Connected())
}

func TestListenerBackoffResetsAfterHealthySession(t *testing.T) {
	ts, srv := newWSTestServer()
	defer srv.Close()

	listener := client.NewListener(wsURL(srv), client.Identity{
		UserID: "dev-1", Token: "dev-token",
	})

	var mu sync.Mutex
	ladders := 0
	listener.SetBackoff(300*time.Millisecond, func() retry.Backoff {
		mu.Lock()
		ladders++
		mu.Unlock()
		return retry.NewConstant(10 * time.Millisecond)
	})
	countLadders := func() int {
		mu.Lock()
		defer mu.Unlock()
		return ladders
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Run(ctx)

	waitFor(t, func() bool { return ts.authCount() == 1 }, "first handshake")
	assert.Equal(t, 1, countLadders())

	// A session that outlives the reset window restarts the ladder on drop.
	time.Sleep(400 * time.Millisecond)
	ts.dropConnection()
	waitFor(t, func() bool { return ts.authCount() == 2 }, "reconnect after long session")
	waitFor(t, func() bool { return countLadders() == 2 }, "backoff reset after long session")

	// A short-lived session keeps climbing the current ladder.
	ts.dropConnection()
	waitFor(t, func() bool { return ts.authCount() == 3 }, "reconnect after short session")
	assert.Equal(t, 2, countLadders(), "short session must not reset the backoff")
}

func TestListenerStopsOnCancel(t *testing.T) {
	ts, srv := newWSTestServer()
	defer srv.Close()

	listener := client.NewListener(wsURL(srv), client.Identity{UserID: "dev-1", Token: "t"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	waitFor(t, func() bool { return ts.authCount() == 1 }, "handshake")
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("listener did not stop on cancel")
	}
	assert.False(t, listener.Connected())
}
