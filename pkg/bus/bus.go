package bus

import (
	"context"
	"sync"

	"github.com/mudscribe/mudscribe/pkg/logger"
)

const defaultBuffer = 64

// MessageBus carries user input from the channels to the relay and publishes
// from the relay to every channel subscriber.
type MessageBus struct {
	inbound chan InboundMessage
	done    chan struct{}

	mu     sync.RWMutex
	subs   map[int]chan OutboundMessage
	nextID int
	closed bool
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound: make(chan InboundMessage, defaultBuffer),
		done:    make(chan struct{}),
		subs:    make(map[int]chan OutboundMessage),
	}
}

// PublishInbound queues msg for the relay. It blocks while the queue is full
// and gives up once the bus is closed.
func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case <-mb.done:
		return
	default:
	}
	select {
	case mb.inbound <- msg:
	case <-mb.done:
	}
}

// ConsumeInbound blocks until a message arrives, ctx is done or the bus is
// closed.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-mb.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	case <-mb.done:
		return InboundMessage{}, false
	}
}

// SubscribeOutbound registers a subscriber. The returned channel is closed
// when ctx is done or the bus is closed.
func (mb *MessageBus) SubscribeOutbound(ctx context.Context) <-chan OutboundMessage {
	ch := make(chan OutboundMessage, defaultBuffer)

	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		close(ch)
		return ch
	}
	id := mb.nextID
	mb.nextID++
	mb.subs[id] = ch
	mb.mu.Unlock()

	go func() {
		<-ctx.Done()
		mb.mu.Lock()
		defer mb.mu.Unlock()
		if sub, ok := mb.subs[id]; ok {
			delete(mb.subs, id)
			close(sub)
		}
	}()

	return ch
}

// PublishOutbound delivers msg to every subscriber. A subscriber whose buffer
// is full misses the message; publishes are overwrites, so the next one
// catches it up.
func (mb *MessageBus) PublishOutbound(msg OutboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	for _, ch := range mb.subs {
		select {
		case ch <- msg:
		default:
			logger.WarnCF("bus", "Subscriber full, message dropped", map[string]any{"kind": string(msg.Kind)})
		}
	}
}

func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.done)
	for id, ch := range mb.subs {
		delete(mb.subs, id)
		close(ch)
	}
}
