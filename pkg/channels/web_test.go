package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mudscribe/mudscribe/pkg/bus"
	"github.com/mudscribe/mudscribe/pkg/config"
)

func dialWeb(t *testing.T, srv *httptest.Server, origin string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) WebFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f WebFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func waitForClients(t *testing.T, c *WebChannel, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.RLock()
		got := len(c.clients)
		c.mu.RUnlock()
		if got == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d clients", n)
}

func TestWebChannelStreamsFrames(t *testing.T) {
	mb := bus.NewMessageBus()
	c := NewWebChannel(config.WebConfig{}, mb)
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	conn := dialWeb(t, srv, "")
	waitForClients(t, c, 1)

	ctx := context.Background()
	_ = c.Send(ctx, bus.OutboundMessage{Kind: bus.KindNarration, Text: "A dragon!"})
	_ = c.Send(ctx, bus.OutboundMessage{Kind: bus.KindImage, Image: []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}})
	_ = c.Send(ctx, bus.OutboundMessage{Kind: bus.KindStatus, Text: "Connected", Connected: true})

	if f := readFrame(t, conn); f.Type != "narration" || f.Text != "A dragon!" {
		t.Fatalf("narration frame = %+v", f)
	}
	if f := readFrame(t, conn); f.Type != "image" || !strings.HasPrefix(f.Image, "data:image/png;base64,") {
		t.Fatalf("image frame = %+v", f)
	}
	if f := readFrame(t, conn); f.Type != "status" || f.Status != "Connected" || !f.Connected {
		t.Fatalf("status frame = %+v", f)
	}
}

func TestWebChannelReplaysLatestSlots(t *testing.T) {
	c := NewWebChannel(config.WebConfig{}, bus.NewMessageBus())
	ctx := context.Background()
	_ = c.Send(ctx, bus.OutboundMessage{Kind: bus.KindQuickActions, Actions: map[string]string{"n": "Old"}})
	_ = c.Send(ctx, bus.OutboundMessage{Kind: bus.KindQuickActions, Actions: map[string]string{"s": "South"}})
	_ = c.Send(ctx, bus.OutboundMessage{Kind: bus.KindStatus, Text: "Connected", Connected: true})
	_ = c.Send(ctx, bus.OutboundMessage{Kind: bus.KindNarration, Text: "not replayed"})

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	conn := dialWeb(t, srv, "")

	if f := readFrame(t, conn); f.Type != "status" {
		t.Fatalf("first replay = %+v", f)
	}
	f := readFrame(t, conn)
	if f.Type != "actions" || len(f.Actions) != 1 || f.Actions["s"] != "South" {
		t.Fatalf("actions replay = %+v", f)
	}
}

func TestWebChannelForwardsInput(t *testing.T) {
	mb := bus.NewMessageBus()
	c := NewWebChannel(config.WebConfig{}, mb)
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	conn := dialWeb(t, srv, "")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, conn); f.Type != "error" {
		t.Fatalf("expected error frame, got %+v", f)
	}

	if err := conn.WriteJSON(WebFrame{Type: "input", Text: "open door"}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	if !ok || msg.Content != "open door" || msg.Channel != "web" {
		t.Fatalf("inbound = %+v, %v", msg, ok)
	}
}

func TestWebChannelOriginAllowlist(t *testing.T) {
	c := NewWebChannel(config.WebConfig{AllowedOrigins: config.FlexibleStringSlice{"http://ok.example"}}, bus.NewMessageBus())
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	dialWeb(t, srv, "http://ok.example")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	if err == nil {
		t.Fatal("foreign origin should be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
}

func TestWebChannelPageAndHealth(t *testing.T) {
	c := NewWebChannel(config.WebConfig{}, bus.NewMessageBus())
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("index: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Fatalf("health = %v", body)
	}

	resp, err = http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path status = %d", resp.StatusCode)
	}
}
