package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/mtlprog/taskflow/internal/realtime"
)

// Identity is what the listener presents during the realtime handshake.
type Identity struct {
	UserID   string
	UserName string
	Token    string
}

// backoffResetAfter is how long a session must hold before the next drop
// restarts the backoff ladder from the bottom instead of resuming at the cap.
const backoffResetAfter = 30 * time.Second

// Listener maintains a realtime connection to the server, re-dialing with
// capped exponential backoff and jitter when the link drops. Every new
// connection re-runs the auth handshake before events flow.
type Listener struct {
	url      string
	identity Identity

	connected atomic.Bool

	newBackoff   func() retry.Backoff
	backoffReset time.Duration

	mu      sync.Mutex
	handler func(realtime.Message)
	onOpen  func()
}

// NewListener creates a Listener for the given websocket URL.
func NewListener(url string, identity Identity) *Listener {
	return &Listener{
		url:      url,
		identity: identity,
		newBackoff: func() retry.Backoff {
			return retry.WithCappedDuration(30*time.Second,
				retry.WithJitterPercent(20, retry.NewExponential(500*time.Millisecond)))
		},
		backoffReset: backoffResetAfter,
	}
}

// OnMessage sets the callback invoked for every server message. Must be set
// before Run.
func (l *Listener) OnMessage(fn func(realtime.Message)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = fn
}

// OnOpen sets a callback invoked after each successful handshake, including
// reconnects. Stores use it to refetch state that events may have skipped
// while the link was down.
func (l *Listener) OnOpen(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onOpen = fn
}

// Connected reports whether the link is currently up.
func (l *Listener) Connected() bool {
	return l.connected.Load()
}

// Run dials and serves the connection until the context is cancelled.
// Delivery is best effort: events published while the link is down are
// gone, which is why OnOpen triggers a refetch.
func (l *Listener) Run(ctx context.Context) error {
	backoff := l.newBackoff()
	for {
		started := time.Now()
		err := l.serveOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Debug("realtime connection lost, retrying", "error", err)

		// A session that held for a while means whatever drove the
		// ladder up has passed; hours of uptime must not make the next
		// reconnect wait at the cap.
		if time.Since(started) >= l.backoffReset {
			backoff = l.newBackoff()
		}

		delay, stop := backoff.Next()
		if stop {
			backoff = l.newBackoff()
			delay, _ = backoff.Next()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (l *Listener) serveOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	auth := realtime.Inbound{
		Type:     "auth",
		UserID:   l.identity.UserID,
		UserName: l.identity.UserName,
		Token:    l.identity.Token,
	}
	if err := conn.WriteJSON(auth); err != nil {
		return err
	}

	l.connected.Store(true)
	defer l.connected.Store(false)

	l.mu.Lock()
	handler, onOpen := l.handler, l.onOpen
	l.mu.Unlock()

	if onOpen != nil {
		onOpen()
	}

	// Unblock ReadMessage on cancellation.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		var msg realtime.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("realtime: malformed message", "error", err)
			continue
		}
		if handler != nil {
			handler(msg)
		}
	}
}
