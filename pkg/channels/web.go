package channels

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mudscribe/mudscribe/pkg/bus"
	"github.com/mudscribe/mudscribe/pkg/config"
	"github.com/mudscribe/mudscribe/pkg/logger"
)

// WebFrame is the JSON shape exchanged with the browser page.
type WebFrame struct {
	Type      string            `json:"type"`
	Text      string            `json:"text,omitempty"`
	Actions   map[string]string `json:"actions,omitempty"`
	Image     string            `json:"image,omitempty"`
	Status    string            `json:"status,omitempty"`
	Connected bool              `json:"connected,omitempty"`
}

type webClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (wc *webClient) write(frame WebFrame) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	_ = wc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return wc.conn.WriteJSON(frame)
}

// WebChannel serves a small page at "/" and streams frames over "/ws". New
// browser tabs receive the latest status, quick actions and scene.
type WebChannel struct {
	*BaseChannel
	config         config.WebConfig
	allowedOrigins map[string]bool
	upgrader       websocket.Upgrader
	server         *http.Server

	mu      sync.RWMutex
	clients map[string]*webClient
	slots   map[string]WebFrame
}

func NewWebChannel(cfg config.WebConfig, messageBus *bus.MessageBus) *WebChannel {
	origins := make(map[string]bool)
	for _, o := range cfg.AllowedOrigins {
		origins[o] = true
	}
	c := &WebChannel{
		BaseChannel:    NewBaseChannel("web", messageBus, nil),
		config:         cfg,
		allowedOrigins: origins,
		clients:        make(map[string]*webClient),
		slots:          make(map[string]WebFrame),
	}
	c.upgrader = websocket.Upgrader{CheckOrigin: c.checkOrigin}
	return c
}

func (c *WebChannel) checkOrigin(r *http.Request) bool {
	if len(c.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}
	return c.allowedOrigins[origin]
}

// Handler exposes the routes without binding a listener.
func (c *WebChannel) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", c.handleIndex)
	mux.HandleFunc("/ws", c.handleWS)
	mux.HandleFunc("/health", c.handleHealth)
	return mux
}

func (c *WebChannel) Start(ctx context.Context) error {
	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("web listen %s: %w", addr, err)
	}

	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	c.setRunning(true)

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("web", "Web server stopped", map[string]any{"error": err.Error()})
		}
	}()

	logger.InfoCF("web", "Web channel listening", map[string]any{"address": "http://" + ln.Addr().String()})
	return nil
}

func (c *WebChannel) Stop(ctx context.Context) error {
	if !c.IsRunning() {
		return nil
	}
	c.setRunning(false)

	c.mu.Lock()
	for id, wc := range c.clients {
		_ = wc.conn.Close()
		delete(c.clients, id)
	}
	c.mu.Unlock()

	if c.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.server.Shutdown(shutdownCtx)
}

func (c *WebChannel) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(webPage))
}

func (c *WebChannel) handleHealth(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	n := len(c.clients)
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": n})
}

func (c *WebChannel) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("web", "WebSocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	wc := &webClient{id: uuid.NewString(), conn: conn}

	c.mu.Lock()
	c.clients[wc.id] = wc
	snapshot := make([]WebFrame, 0, len(c.slots))
	for _, key := range []string{"status", "actions", "image"} {
		if f, ok := c.slots[key]; ok {
			snapshot = append(snapshot, f)
		}
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.clients, wc.id)
		c.mu.Unlock()
		conn.Close()
	}()

	for _, f := range snapshot {
		if err := wc.write(f); err != nil {
			return
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.DebugCF("web", "Browser closed unexpectedly", map[string]any{"error": err.Error()})
			}
			return
		}

		var in WebFrame
		if err := json.Unmarshal(data, &in); err != nil || in.Type != "input" {
			_ = wc.write(WebFrame{Type: "error", Text: `Send JSON like {"type":"input","text":"look"}.`})
			continue
		}
		if in.Text == "" {
			continue
		}
		c.HandleMessage(wc.id, in.Text, nil)
	}
}

func (c *WebChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	frame := toWebFrame(msg)

	c.mu.Lock()
	switch msg.Kind {
	case bus.KindStatus:
		c.slots["status"] = frame
	case bus.KindQuickActions:
		c.slots["actions"] = frame
	case bus.KindImage:
		c.slots["image"] = frame
	}
	clients := make([]*webClient, 0, len(c.clients))
	for _, wc := range c.clients {
		clients = append(clients, wc)
	}
	c.mu.Unlock()

	for _, wc := range clients {
		if err := wc.write(frame); err != nil {
			logger.DebugCF("web", "Dropping browser client", map[string]any{"client": wc.id, "error": err.Error()})
			_ = wc.conn.Close()
		}
	}
	return nil
}

func toWebFrame(msg bus.OutboundMessage) WebFrame {
	f := WebFrame{Type: string(msg.Kind)}
	switch msg.Kind {
	case bus.KindStatus:
		f.Status = msg.Text
		f.Connected = msg.Connected
	case bus.KindQuickActions:
		f.Actions = msg.Actions
	case bus.KindImage:
		f.Image = "data:" + http.DetectContentType(msg.Image) + ";base64," + base64.StdEncoding.EncodeToString(msg.Image)
	default:
		f.Text = msg.Text
	}
	return f
}
