// Package channels presents relay output to the player and collects their
// input: a terminal prompt, a browser page, a Telegram bot.
package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/mudscribe/mudscribe/pkg/bus"
	"github.com/mudscribe/mudscribe/pkg/logger"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
}

// BaseChannel carries what every channel shares: its name, the bus it feeds
// and the sender allowlist.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowList []string
	running   atomic.Bool
}

func NewBaseChannel(name string, messageBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       messageBus,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) setRunning(v bool) {
	c.running.Store(v)
}

// IsAllowed reports whether senderID may talk to the relay. An empty list
// allows everyone. Entries match the whole id or either side of "id|name".
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	id, name, _ := strings.Cut(senderID, "|")
	for _, allowed := range c.allowList {
		allowed = strings.TrimPrefix(strings.TrimSpace(allowed), "@")
		if allowed == "" {
			continue
		}
		if allowed == senderID || allowed == id || (name != "" && allowed == name) {
			return true
		}
	}
	return false
}

// HandleMessage forwards one line of user input to the relay.
func (c *BaseChannel) HandleMessage(senderID, content string, metadata map[string]string) {
	if !c.IsAllowed(senderID) {
		logger.DebugCF(c.name, "Input rejected by allowlist", map[string]any{"sender_id": senderID})
		return
	}
	c.bus.PublishInbound(bus.InboundMessage{
		Channel:  c.name,
		SenderID: senderID,
		Content:  content,
		Metadata: metadata,
	})
}
