package channels

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mudscribe/mudscribe/pkg/bus"
	"github.com/mudscribe/mudscribe/pkg/config"
	"github.com/mudscribe/mudscribe/pkg/logger"
)

// Manager owns the enabled channels. Publishes go onto the bus and a single
// dispatcher goroutine hands each one to every running channel in order.
type Manager struct {
	bus *bus.MessageBus

	mu       sync.RWMutex
	channels map[string]Channel

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg *config.Config, messageBus *bus.MessageBus) (*Manager, error) {
	m := &Manager{
		bus:      messageBus,
		channels: make(map[string]Channel),
	}

	if cfg.Channels.Terminal.Enabled {
		m.Register(NewTerminalChannel(cfg.Channels.Terminal, messageBus))
	}
	if cfg.Channels.Web.Enabled {
		m.Register(NewWebChannel(cfg.Channels.Web, messageBus))
	}
	if cfg.Channels.Telegram.Enabled {
		if cfg.Channels.Telegram.Token == "" {
			return nil, fmt.Errorf("telegram channel enabled without a token")
		}
		tg, err := NewTelegramChannel(cfg.Channels.Telegram, messageBus)
		if err != nil {
			return nil, err
		}
		m.Register(tg)
	}

	return m, nil
}

func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartAll starts every channel and the outbound dispatcher. A channel that
// fails to start is logged and skipped; it is an error only when none start.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		return fmt.Errorf("no channels enabled")
	}

	started := 0
	for name, ch := range m.channels {
		logger.InfoCF("channels", "Starting channel", map[string]any{"channel": name})
		if err := ch.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to start channel", map[string]any{
				"channel": name,
				"error":   err.Error(),
			})
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("no channel could be started")
	}

	dctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.dispatchOutbound(dctx, m.bus.SubscribeOutbound(dctx))

	logger.InfoCF("channels", "Channels started", map[string]any{"count": started})
	return nil
}

func (m *Manager) StopAll(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Error stopping channel", map[string]any{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
	return nil
}

func (m *Manager) dispatchOutbound(ctx context.Context, sub <-chan bus.OutboundMessage) {
	defer close(m.done)
	for msg := range sub {
		m.mu.RLock()
		for name, ch := range m.channels {
			if !ch.IsRunning() {
				continue
			}
			if err := ch.Send(ctx, msg); err != nil {
				logger.WarnCF("channels", "Send failed", map[string]any{
					"channel": name,
					"kind":    string(msg.Kind),
					"error":   err.Error(),
				})
			}
		}
		m.mu.RUnlock()
	}
}

func (m *Manager) PublishNarration(text string) {
	m.bus.PublishOutbound(bus.OutboundMessage{Kind: bus.KindNarration, Text: text})
}

func (m *Manager) PublishUserEcho(text string) {
	m.bus.PublishOutbound(bus.OutboundMessage{Kind: bus.KindUserEcho, Text: text})
}

func (m *Manager) PublishRaw(text string) {
	m.bus.PublishOutbound(bus.OutboundMessage{Kind: bus.KindRaw, Text: text})
}

func (m *Manager) PublishQuickActions(actions map[string]string) {
	m.bus.PublishOutbound(bus.OutboundMessage{Kind: bus.KindQuickActions, Actions: actions})
}

func (m *Manager) PublishBackgroundImage(img []byte) {
	m.bus.PublishOutbound(bus.OutboundMessage{Kind: bus.KindImage, Image: img})
}

func (m *Manager) ReportError(text string) {
	m.bus.PublishOutbound(bus.OutboundMessage{Kind: bus.KindError, Text: text})
}

func (m *Manager) PublishStatus(status string, connected bool) {
	m.bus.PublishOutbound(bus.OutboundMessage{Kind: bus.KindStatus, Text: status, Connected: connected})
}
