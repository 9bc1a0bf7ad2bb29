package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mudscribe/mudscribe/pkg/bus"
	"github.com/mudscribe/mudscribe/pkg/config"
)

type event struct {
	kind      string
	text      string
	connected bool
}

type recorder struct {
	mu     sync.Mutex
	events []event
	ch     chan event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan event, 512)}
}

func (r *recorder) add(e event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.ch <- e
}

func (r *recorder) PublishNarration(text string)          { r.add(event{kind: "narration", text: text}) }
func (r *recorder) PublishQuickActions(map[string]string) { r.add(event{kind: "actions"}) }
func (r *recorder) PublishBackgroundImage([]byte)         { r.add(event{kind: "image"}) }
func (r *recorder) ReportError(text string)               { r.add(event{kind: "error", text: text}) }
func (r *recorder) PublishRaw(text string)                { r.add(event{kind: "raw", text: text}) }
func (r *recorder) PublishUserEcho(text string)           { r.add(event{kind: "user", text: text}) }
func (r *recorder) PublishStatus(status string, connected bool) {
	r.add(event{kind: "status", text: status, connected: connected})
}

func (r *recorder) waitFor(t *testing.T, kind, contains string) event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e := <-r.ch:
			if e.kind == kind && strings.Contains(e.text, contains) {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s containing %q", kind, contains)
		}
	}
}

func (r *recorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

type fakeMUD struct {
	*httptest.Server
	lines  chan string
	frames chan []byte
}

func newFakeMUD(t *testing.T) *fakeMUD {
	t.Helper()
	m := &fakeMUD{lines: make(chan string, 32), frames: make(chan []byte, 32)}
	upgrader := websocket.Upgrader{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				m.lines <- string(data)
			}
		}()

		for {
			select {
			case <-done:
				return
			case f := <-m.frames:
				if err := conn.WriteMessage(websocket.BinaryMessage, f); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *fakeMUD) url() string {
	return "ws" + strings.TrimPrefix(m.URL, "http")
}

func (m *fakeMUD) nextLine(t *testing.T) string {
	t.Helper()
	select {
	case l := <-m.lines:
		return l
	case <-time.After(3 * time.Second):
		t.Fatal("game server received nothing")
		return ""
	}
}

// newFakeGateway answers chat calls with "Narrated: <user prompt>", or with
// a fixed command for translation requests.
func newFakeGateway(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.Unmarshal(raw, &body)

		var system, user string
		for _, m := range body.Messages {
			if m.Role == "system" {
				system += m.Content
			} else {
				user = m.Content
			}
		}

		content := "Narrated: " + user
		if strings.Contains(system, "Translate the player's request") {
			content = "kill troll"
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "c1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "m",
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(gatewayURL, mudURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Gateway.BaseURL = gatewayURL
	cfg.Gateway.Token = "tok"
	cfg.Game.MudURL = mudURL
	cfg.Game.Username = "alice"
	cfg.Game.Password = "secret"
	cfg.Game.LoginDelayMS = 20
	cfg.Persona.GenerateImages = false
	cfg.Persona.SuggestActions = false
	return cfg
}

func newTestRelay(t *testing.T, cfg *config.Config) (*Relay, *recorder) {
	t.Helper()
	rec := newRecorder()
	r, err := New(cfg, bus.NewMessageBus(), rec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Start(context.Background())
	t.Cleanup(r.Close)
	return r, rec
}

func TestLoginValidation(t *testing.T) {
	tests := []struct {
		name    string
		login   Login
		offline bool
		want    error
	}{
		{"token", Login{MudURL: "ws://x", Username: "a", Password: "b"}, false, ErrTokenRequired},
		{"url", Login{Token: "t", Username: "a", Password: "b"}, false, ErrMudURLRequired},
		{"username", Login{Token: "t", MudURL: "ws://x", Password: "b"}, false, ErrCredentialsRequired},
		{"password", Login{Token: "t", MudURL: "ws://x", Username: "a"}, false, ErrCredentialsRequired},
		{"complete", Login{Token: "t", MudURL: "ws://x", Username: "a", Password: "b"}, false, nil},
		{"offline needs only token", Login{Token: "t"}, true, nil},
		{"offline still needs token", Login{}, true, ErrTokenRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.login.Validate(tt.offline); !errors.Is(err, tt.want) {
				t.Fatalf("Validate = %v, want %v", err, tt.want)
			}
		})
	}
	if ErrTokenRequired.Error() != "API token is required" ||
		ErrMudURLRequired.Error() != "MUD URL is required" ||
		ErrCredentialsRequired.Error() != "Username and password are required" {
		t.Fatal("validation messages changed")
	}
}

func TestConnectReportsValidationError(t *testing.T) {
	cfg := testConfig("http://unused.invalid", "")
	r, rec := newTestRelay(t, cfg)

	err := r.Connect(context.Background(), LoginFromConfig(cfg))
	if !errors.Is(err, ErrMudURLRequired) {
		t.Fatalf("Connect = %v", err)
	}
	rec.waitFor(t, "error", "MUD URL is required")
	if rec.count("status") != 0 {
		t.Fatal("no status change expected for invalid login")
	}
}

func TestConnectSendsLoginThenNarratesGameText(t *testing.T) {
	gw := newFakeGateway(t)
	mud := newFakeMUD(t)
	cfg := testConfig(gw.URL, mud.url())
	r, rec := newTestRelay(t, cfg)

	if err := r.Connect(context.Background(), LoginFromConfig(cfg)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitFor(t, "status", StatusConnecting)
	if e := rec.waitFor(t, "status", StatusConnected); !e.connected {
		t.Fatal("Connected status should carry connected=true")
	}

	if got := mud.nextLine(t); got != "alice\n" {
		t.Fatalf("first line = %q", got)
	}
	if got := mud.nextLine(t); got != "secret\n" {
		t.Fatalf("second line = %q", got)
	}

	mud.frames <- []byte{255, 251, 1}
	mud.frames <- []byte("   ")
	mud.frames <- []byte("\x1b[1mA troll\x1b[0m blocks the bridge.")

	rec.waitFor(t, "raw", "A troll blocks the bridge.")
	n := rec.waitFor(t, "narration", "Narrated: ")
	if !strings.Contains(n.text, "A troll blocks the bridge.") {
		t.Fatalf("narration = %q", n.text)
	}
	if rec.count("raw") != 2 {
		t.Fatalf("blank text is logged raw but not narrated; raw count = %d", rec.count("raw"))
	}
	if rec.count("narration") != 1 {
		t.Fatalf("narration count = %d", rec.count("narration"))
	}

	r.Disconnect()
	rec.waitFor(t, "status", StatusDisconnected)
	if r.IsConnected() {
		t.Fatal("still connected after Disconnect")
	}
}

func TestConnectFailure(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	defer dead.Close()

	cfg := testConfig("http://unused.invalid", "ws"+strings.TrimPrefix(dead.URL, "http"))
	r, rec := newTestRelay(t, cfg)

	if err := r.Connect(context.Background(), LoginFromConfig(cfg)); err == nil {
		t.Fatal("expected connect error")
	}
	rec.waitFor(t, "status", StatusConnectionError)
	rec.waitFor(t, "status", StatusConnectFailed)
	if r.IsConnected() {
		t.Fatal("must not be connected")
	}
}

func TestInputWhileDisconnected(t *testing.T) {
	r, rec := newTestRelay(t, testConfig("http://unused.invalid", ""))

	if err := r.HandleInput(context.Background(), bus.InboundMessage{Content: "look"}); err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	rec.waitFor(t, "error", "Not connected to MUD")
	if rec.count("user") != 0 {
		t.Fatal("nothing should be echoed while disconnected")
	}
}

func connectedRelay(t *testing.T, translate bool) (*Relay, *recorder, *fakeMUD) {
	t.Helper()
	gw := newFakeGateway(t)
	mud := newFakeMUD(t)
	cfg := testConfig(gw.URL, mud.url())
	cfg.Game.TranslateInput = translate
	r, rec := newTestRelay(t, cfg)

	if err := r.Connect(context.Background(), LoginFromConfig(cfg)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	mud.nextLine(t) // username
	mud.nextLine(t) // password
	return r, rec, mud
}

func TestPlainInputIsEchoedAndSent(t *testing.T) {
	r, rec, mud := connectedRelay(t, false)

	if err := r.HandleInput(context.Background(), bus.InboundMessage{Content: "  look  "}); err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	rec.waitFor(t, "user", "look")
	if got := mud.nextLine(t); got != "look\n" {
		t.Fatalf("sent %q", got)
	}
}

func TestTranslatedInput(t *testing.T) {
	r, rec, mud := connectedRelay(t, true)
	ctx := context.Background()

	if err := r.HandleInput(ctx, bus.InboundMessage{Content: "attack the troll"}); err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	rec.waitFor(t, "user", "attack the troll -> kill troll")
	if got := mud.nextLine(t); got != "kill troll\n" {
		t.Fatalf("sent %q", got)
	}

	// quick actions and /raw bypass translation
	if err := r.HandleInput(ctx, bus.InboundMessage{Content: "open gate", Metadata: map[string]string{"source": "quick_action"}}); err != nil {
		t.Fatal(err)
	}
	if got := mud.nextLine(t); got != "open gate\n" {
		t.Fatalf("quick action sent %q", got)
	}

	if err := r.HandleInput(ctx, bus.InboundMessage{Content: "/raw say hello there"}); err != nil {
		t.Fatal(err)
	}
	if got := mud.nextLine(t); got != "say hello there\n" {
		t.Fatalf("raw sent %q", got)
	}
}

func TestQuickActionKeyFromLatestPublish(t *testing.T) {
	r, _, mud := connectedRelay(t, true)
	sink := &trackingSink{Presenter: newRecorder(), r: r}
	sink.PublishQuickActions(map[string]string{"enter portal": "Step through"})

	if err := r.HandleInput(context.Background(), bus.InboundMessage{Content: "enter portal"}); err != nil {
		t.Fatal(err)
	}
	if got := mud.nextLine(t); got != "enter portal\n" {
		t.Fatalf("sent %q", got)
	}
}

func TestOfflineModeNarratesCannedScene(t *testing.T) {
	gw := newFakeGateway(t)
	cfg := testConfig(gw.URL, "")
	cfg.Game.Offline = true
	r, rec := newTestRelay(t, cfg)

	if err := r.Connect(context.Background(), Login{Token: "tok"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitFor(t, "status", StatusConnected)
	rec.waitFor(t, "narration", "Discworld")

	if err := r.HandleInput(context.Background(), bus.InboundMessage{Content: "look"}); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, "error", "Cannot send message: not connected")

	r.Disconnect()
	rec.waitFor(t, "status", StatusDisconnected)
}

func TestUsageCommand(t *testing.T) {
	gw := newFakeGateway(t)
	cfg := testConfig(gw.URL, "")
	cfg.Game.Offline = true
	r, rec := newTestRelay(t, cfg)

	if err := r.Connect(context.Background(), Login{Token: "tok"}); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, "narration", "Discworld")

	if err := r.HandleInput(context.Background(), bus.InboundMessage{Content: "/usage"}); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, "narration", "Session: 1 calls, 5 tokens")
}

func TestRunStopsOnQuit(t *testing.T) {
	mb := bus.NewMessageBus()
	cfg := testConfig("http://unused.invalid", "")
	r, err := New(cfg, mb, newRecorder())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	mb.PublishInbound(bus.InboundMessage{Content: "/quit"})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after /quit")
	}
}

func TestKeepaliveSchedule(t *testing.T) {
	ref := time.Date(2026, 3, 1, 12, 3, 0, 0, time.UTC)
	next, err := nextKeepalive("*/10 * * * *", ref)
	if err != nil {
		t.Fatalf("nextKeepalive: %v", err)
	}
	if !next.Equal(time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)) {
		t.Fatalf("next = %v", next)
	}

	if err := validateSchedule("every now and then"); err == nil {
		t.Fatal("expected invalid schedule")
	}

	cfg := testConfig("http://unused.invalid", "")
	cfg.Keepalive.Enabled = true
	cfg.Keepalive.Schedule = "not cron"
	if _, err := New(cfg, bus.NewMessageBus(), newRecorder()); err == nil {
		t.Fatal("New should reject a bad keepalive schedule")
	}
}

func TestRunStopsOnQuitWithKeepalive(t *testing.T) {
	mb := bus.NewMessageBus()
	cfg := testConfig("http://unused.invalid", "")
	cfg.Keepalive.Enabled = true
	cfg.Keepalive.Schedule = "0 0 1 1 *"
	r, err := New(cfg, mb, newRecorder())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	mb.PublishInbound(bus.InboundMessage{Content: "/quit"})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after /quit with keepalive enabled")
	}
}

// keepaliveRelay builds a relay whose keepalive fires every few milliseconds
// and counts how often the schedule was consulted.
func keepaliveRelay(t *testing.T, cfg *config.Config) (*Relay, *recorder, *atomic.Int32) {
	t.Helper()
	cfg.Keepalive.Enabled = true
	cfg.Keepalive.Command = "idle"

	rec := newRecorder()
	r, err := New(cfg, bus.NewMessageBus(), rec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ticks := &atomic.Int32{}
	r.keepaliveNext = func(ref time.Time) (time.Time, error) {
		ticks.Add(1)
		return ref.Add(5 * time.Millisecond), nil
	}
	r.Start(context.Background())
	t.Cleanup(r.Close)
	return r, rec, ticks
}

func TestKeepaliveSendsCommandWhileConnected(t *testing.T) {
	gw := newFakeGateway(t)
	mud := newFakeMUD(t)
	cfg := testConfig(gw.URL, mud.url())
	r, _, _ := keepaliveRelay(t, cfg)

	if err := r.Connect(context.Background(), LoginFromConfig(cfg)); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// login lines and keepalives may interleave; wait for one keepalive
	deadline := time.After(3 * time.Second)
	for {
		select {
		case l := <-mud.lines:
			if l == "idle\n" {
				return
			}
		case <-deadline:
			t.Fatal("no keepalive reached the game server")
		}
	}
}

func TestKeepaliveSkipsWhileDisconnected(t *testing.T) {
	_, rec, ticks := keepaliveRelay(t, testConfig("http://unused.invalid", ""))

	deadline := time.Now().Add(3 * time.Second)
	for ticks.Load() < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("keepalive loop ran %d times", ticks.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := rec.count("error"); n != 0 {
		t.Fatalf("keepalive while disconnected reported %d errors", n)
	}
}

func TestReconnectPrunesIdleDispatchers(t *testing.T) {
	gw := newFakeGateway(t)
	cfg := testConfig(gw.URL, "")
	cfg.Game.Offline = true
	r, rec := newTestRelay(t, cfg)

	for i := 0; i < 3; i++ {
		if err := r.HandleInput(context.Background(), bus.InboundMessage{Content: "/connect"}); err != nil {
			t.Fatalf("connect %d: %v", i, err)
		}
		rec.waitFor(t, "narration", "Discworld")
	}

	r.mu.Lock()
	n := len(r.dispatched)
	r.mu.Unlock()
	if n != 1 {
		t.Fatalf("dispatched = %d, want only the current dispatcher", n)
	}
}
