// Package transport owns the WebSocket connection to the game server.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mudscribe/mudscribe/pkg/logger"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Observer is told about connection lifecycle changes. Callbacks run on the
// transport's goroutines and must not block for long.
type Observer struct {
	OnOpen  func()
	OnClose func(err error)
	OnError func(err error)
}

// MessageHandler receives decoded game text in arrival order.
type MessageHandler func(text string)

const writeTimeout = 10 * time.Second

type Transport struct {
	dialer   *websocket.Dialer
	handler  MessageHandler
	observer Observer

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	closing bool
	done    chan struct{}

	writeMu sync.Mutex
}

func New(handler MessageHandler, observer Observer) *Transport {
	return &Transport{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		},
		handler:  handler,
		observer: observer,
		state:    Disconnected,
	}
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) IsConnected() bool {
	return t.State() == Connected
}

// Connect dials address and starts the read loop. Only one attempt may be in
// flight; a second call while connecting or connected fails immediately.
func (t *Transport) Connect(ctx context.Context, address string) error {
	t.mu.Lock()
	if t.state == Connecting || t.state == Connected {
		t.mu.Unlock()
		return &TransportError{Op: "connect", Address: address, Err: ErrAlreadyConnecting}
	}
	t.state = Connecting
	t.mu.Unlock()

	logger.InfoCF("transport", "Connecting to game server", map[string]any{"address": address})

	conn, resp, err := t.dialer.DialContext(ctx, address, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.mu.Lock()
		t.state = Failed
		t.mu.Unlock()

		terr := &TransportError{Op: "connect", Address: address, Err: fmt.Errorf("%w: %v", ErrConnection, err)}
		logger.ErrorCF("transport", "WebSocket connection failed", map[string]any{"error": err.Error()})
		t.notifyError(terr)

		t.mu.Lock()
		t.state = Disconnected
		t.mu.Unlock()
		return terr
	}

	done := make(chan struct{})
	t.mu.Lock()
	t.conn = conn
	t.state = Connected
	t.closing = false
	t.done = done
	t.mu.Unlock()

	logger.InfoC("transport", "WebSocket connected")
	if t.observer.OnOpen != nil {
		t.observer.OnOpen()
	}

	go t.readLoop(conn, done)
	return nil
}

func (t *Transport) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	var readErr error
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		text, ok := Decode(frame)
		if !ok {
			logger.DebugCF("transport", "Dropped negotiation frame", map[string]any{"bytes": len(frame)})
			continue
		}
		if t.handler != nil {
			t.handler(text)
		}
	}

	t.mu.Lock()
	requested := t.closing
	if t.conn == conn {
		t.conn = nil
		t.state = Disconnected
	}
	t.mu.Unlock()
	conn.Close()

	if requested || websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		readErr = nil
	} else {
		logger.WarnCF("transport", "WebSocket read failed", map[string]any{"error": readErr.Error()})
		t.notifyError(&TransportError{Op: "read", Err: readErr})
	}

	logger.InfoC("transport", "WebSocket disconnected")
	if t.observer.OnClose != nil {
		t.observer.OnClose(readErr)
	}
}

func (t *Transport) notifyError(err error) {
	if t.observer.OnError != nil {
		t.observer.OnError(err)
	}
}

// Send writes text followed by a newline as one text frame.
func (t *Transport) Send(text string) error {
	t.mu.Lock()
	conn, state := t.conn, t.state
	t.mu.Unlock()

	if state != Connected || conn == nil {
		return &TransportError{Op: "send", Err: ErrNotConnected}
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text+"\n")); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	logger.DebugCF("transport", "Sent to game", map[string]any{"length": len(text)})
	return nil
}

// Close shuts the connection and waits for the read loop to finish. Calling
// it when not connected is a no-op.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn, done := t.conn, t.done
	if conn == nil {
		t.state = Disconnected
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	t.conn = nil
	t.state = Disconnected
	t.mu.Unlock()

	t.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	werr := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	t.writeMu.Unlock()

	// the read loop may already have closed conn; that error is not interesting
	_ = conn.Close()
	if done != nil {
		<-done
	}

	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		logger.DebugCF("transport", "Close frame not delivered", map[string]any{"error": werr.Error()})
	}
	return nil
}
