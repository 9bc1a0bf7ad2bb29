// Package relay is the application loop: it connects to the game, feeds its
// output through enrichment to the presentation channels and sends player
// input back to the game.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mudscribe/mudscribe/pkg/bus"
	"github.com/mudscribe/mudscribe/pkg/config"
	"github.com/mudscribe/mudscribe/pkg/enrich"
	"github.com/mudscribe/mudscribe/pkg/gateway"
	"github.com/mudscribe/mudscribe/pkg/logger"
	"github.com/mudscribe/mudscribe/pkg/scenes"
	"github.com/mudscribe/mudscribe/pkg/session"
	"github.com/mudscribe/mudscribe/pkg/transport"
	"github.com/mudscribe/mudscribe/pkg/usage"
)

// Status texts shown to the player.
const (
	StatusConnecting      = "Connecting..."
	StatusConnected       = "Connected"
	StatusDisconnected    = "Disconnected"
	StatusConnectionError = "Connection Error"
	StatusConnectFailed   = "Connection Failed"
)

const eventBuffer = 256

// Presenter is everything the relay shows to the player.
type Presenter interface {
	enrich.Sink
	PublishRaw(text string)
	PublishStatus(status string, connected bool)
	PublishUserEcho(text string)
}

type gameEvent struct {
	raw  string
	disp *enrich.Dispatcher
}

type Relay struct {
	cfg       *config.Config
	bus       *bus.MessageBus
	presenter Presenter
	persona   enrich.Persona
	usage     *usage.Store
	archive   *scenes.Store

	mu         sync.Mutex
	sess       *session.Session
	client     *gateway.Client
	disp       *enrich.Dispatcher
	conn       *transport.Transport
	loginTimer *time.Timer
	actions    map[string]string
	dispatched []*enrich.Dispatcher

	connected atomic.Bool

	// keepaliveNext returns the next keepalive time after ref.
	keepaliveNext func(ref time.Time) (time.Time, error)

	events chan gameEvent
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func New(cfg *config.Config, messageBus *bus.MessageBus, presenter Presenter) (*Relay, error) {
	persona, err := enrich.PersonaFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Keepalive.Enabled {
		if err := validateSchedule(cfg.Keepalive.Schedule); err != nil {
			return nil, err
		}
	}

	r := &Relay{
		cfg:       cfg,
		bus:       messageBus,
		presenter: presenter,
		persona:   persona,
		usage:     usage.NewStore(config.ExpandHome(cfg.Usage.File), ""),
		events:    make(chan gameEvent, eventBuffer),
		stop:      make(chan struct{}),
	}
	r.keepaliveNext = func(ref time.Time) (time.Time, error) {
		return nextKeepalive(cfg.Keepalive.Schedule, ref)
	}

	if dir := strings.TrimSpace(cfg.Images.ArchiveDir); dir != "" {
		archive, err := scenes.NewStore(config.ExpandHome(dir))
		if err != nil {
			return nil, err
		}
		r.archive = archive
	}
	return r, nil
}

func (r *Relay) IsConnected() bool {
	return r.connected.Load()
}

// Start runs the event worker and, when configured, the keepalive schedule.
func (r *Relay) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.processEvents(ctx)
	}()

	if r.cfg.Keepalive.Enabled {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.runKeepalive(ctx)
		}()
	}
}

// Run starts the relay, connects when the configuration already carries a
// complete login, and handles player input until ctx ends or the player quits.
func (r *Relay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.Start(ctx)
	defer r.Close()

	login := LoginFromConfig(r.cfg)
	if login.Validate(r.cfg.Game.Offline) == nil {
		if err := r.Connect(ctx, login); err != nil {
			logger.WarnCF("relay", "Initial connect failed", map[string]any{"error": err.Error()})
		}
	} else {
		r.presenter.PublishStatus(StatusDisconnected, false)
	}

	for {
		msg, ok := r.bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}
		if err := r.HandleInput(ctx, msg); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			logger.WarnCF("relay", "Input failed", map[string]any{"error": err.Error()})
		}
	}
}

// Close disconnects and waits for background work to drain.
func (r *Relay) Close() {
	r.once.Do(func() {
		r.Disconnect()
		close(r.stop)
		r.wg.Wait()

		r.mu.Lock()
		dispatched := r.dispatched
		r.dispatched = nil
		r.mu.Unlock()
		for _, d := range dispatched {
			d.Wait()
		}
	})
}

// Connect validates login, opens a fresh gateway session and connects to
// the game. The username goes out on open and the password after the
// configured login delay.
func (r *Relay) Connect(ctx context.Context, login Login) error {
	offline := r.cfg.Game.Offline
	if err := login.Validate(offline); err != nil {
		r.presenter.ReportError(err.Error())
		return err
	}
	if r.IsConnected() {
		return ErrAlreadyConnected
	}

	r.presenter.PublishStatus(StatusConnecting, false)

	sess := session.New(r.cfg.Gateway.BaseURL)
	sess.SetToken(login.Token)

	r.usage.SetSession(sess.ID)
	client := gateway.NewClient(sess, gateway.Options{
		Timeout: r.cfg.HTTPTimeout(),
		Usage:   r.usage,
	})

	var sink enrich.Sink = &trackingSink{Presenter: r.presenter, r: r}
	if r.archive != nil {
		sink = scenes.Wrap(sink, r.archive, sess.ID)
	}
	disp := enrich.NewDispatcher(r.persona, client, sess, sink)

	r.mu.Lock()
	r.sess = sess
	r.client = client
	r.disp = disp
	r.actions = nil
	r.dispatched = append(pruneIdle(r.dispatched), disp)
	r.mu.Unlock()

	logger.InfoCF("relay", "Session opened", map[string]any{"session_id": sess.ID, "offline": offline})

	if offline {
		r.connected.Store(true)
		r.presenter.PublishStatus(StatusConnected, true)
		r.enqueue(OfflineScene)
		return nil
	}

	conn := transport.New(r.enqueue, transport.Observer{
		OnOpen: func() {
			r.connected.Store(true)
			r.presenter.PublishStatus(StatusConnected, true)
			r.sendLogin(login)
		},
		OnClose: func(err error) {
			r.connected.Store(false)
			r.stopLoginTimer()
			r.presenter.PublishStatus(StatusDisconnected, false)
		},
		OnError: func(err error) {
			r.presenter.ReportError("WebSocket connection error")
			r.presenter.PublishStatus(StatusConnectionError, false)
		},
	})

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	if err := conn.Connect(ctx, login.MudURL); err != nil {
		r.presenter.PublishStatus(StatusConnectFailed, false)
		r.presenter.ReportError(fmt.Sprintf("Connection failed: %v", err))
		return err
	}
	return nil
}

func (r *Relay) sendLogin(login Login) {
	if err := r.sendToGame(login.Username); err != nil {
		logger.WarnCF("relay", "Username not sent", map[string]any{"error": err.Error()})
		return
	}

	timer := time.AfterFunc(r.cfg.LoginDelay(), func() {
		if err := r.sendToGame(login.Password); err != nil {
			logger.WarnCF("relay", "Password not sent", map[string]any{"error": err.Error()})
		}
	})

	r.mu.Lock()
	r.loginTimer = timer
	r.mu.Unlock()
}

func (r *Relay) stopLoginTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loginTimer != nil {
		r.loginTimer.Stop()
		r.loginTimer = nil
	}
}

// Disconnect closes the game connection and ends the gateway session.
func (r *Relay) Disconnect() {
	r.stopLoginTimer()

	r.mu.Lock()
	conn, sess := r.conn, r.sess
	r.conn = nil
	r.sess = nil
	r.mu.Unlock()

	wasConnected := r.connected.Swap(false)
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.WarnCF("relay", "Close failed", map[string]any{"error": err.Error()})
		}
	}
	if sess != nil {
		sess.Close()
		logger.InfoCF("relay", "Session closed", map[string]any{"session_id": sess.ID})
	}
	if wasConnected && conn == nil {
		// offline play has no transport to report the close
		r.presenter.PublishStatus(StatusDisconnected, false)
	}
}

// enqueue hands game text to the event worker in arrival order. It runs on
// the transport read goroutine.
func (r *Relay) enqueue(raw string) {
	r.mu.Lock()
	disp := r.disp
	r.mu.Unlock()

	select {
	case r.events <- gameEvent{raw: raw, disp: disp}:
	case <-r.stop:
	}
}

func (r *Relay) processEvents(ctx context.Context) {
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case ev := <-r.events:
			r.handleGameText(ctx, ev)
		}
	}
}

func (r *Relay) handleGameText(ctx context.Context, ev gameEvent) {
	r.presenter.PublishRaw(ev.raw)
	if strings.TrimSpace(ev.raw) == "" {
		return
	}

	text, err := ev.disp.HandleOutputEvent(ctx, ev.raw)
	if err != nil {
		logger.ErrorCF("relay", "Error processing message with LLM", map[string]any{"error": err.Error()})
		r.presenter.PublishNarration("Error: " + err.Error())
		return
	}
	r.presenter.PublishNarration(text)
}

func (r *Relay) sendToGame(text string) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()

	if conn == nil {
		r.presenter.ReportError("Cannot send message: not connected")
		return &transport.TransportError{Op: "send", Err: transport.ErrNotConnected}
	}
	if err := conn.Send(text); err != nil {
		r.presenter.ReportError("Cannot send message: not connected")
		return err
	}
	return nil
}

// pruneIdle keeps the dispatchers that still have background work for Close
// to wait on.
func pruneIdle(ds []*enrich.Dispatcher) []*enrich.Dispatcher {
	kept := ds[:0]
	for _, d := range ds {
		if d.Busy() {
			kept = append(kept, d)
		}
	}
	clear(ds[len(kept):])
	return kept
}

func (r *Relay) currentDispatcher() *enrich.Dispatcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disp
}

// trackingSink remembers the latest quick actions so a chosen action can be
// sent verbatim instead of being translated.
type trackingSink struct {
	Presenter
	r *Relay
}

func (s *trackingSink) PublishQuickActions(actions map[string]string) {
	s.r.mu.Lock()
	s.r.actions = actions
	s.r.mu.Unlock()
	s.Presenter.PublishQuickActions(actions)
}
