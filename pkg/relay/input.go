package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mudscribe/mudscribe/pkg/bus"
	"github.com/mudscribe/mudscribe/pkg/logger"
)

var errQuit = errors.New("quit requested")

const helpText = `Commands:
  /connect      connect with the configured login
  /disconnect   close the game connection
  /raw <text>   send text to the game without translation
  /usage        show gateway token usage
  /status       show connection state
  /quit         leave
Anything else is sent to the game.`

// HandleInput processes one line from a channel. Slash commands are handled
// here; everything else goes to the game.
func (r *Relay) HandleInput(ctx context.Context, msg bus.InboundMessage) error {
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return nil
	}

	cmd, arg, _ := strings.Cut(text, " ")
	switch cmd {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		r.presenter.PublishNarration(helpText)
		return nil
	case "/usage":
		r.presenter.PublishNarration(r.usage.Report())
		return nil
	case "/status":
		r.presenter.PublishNarration(r.statusLine())
		return nil
	case "/connect":
		if r.IsConnected() {
			r.Disconnect()
		}
		return r.Connect(ctx, LoginFromConfig(r.cfg))
	case "/disconnect":
		r.Disconnect()
		return nil
	case "/raw":
		return r.sendPlayerCommand(strings.TrimSpace(arg), "")
	}

	if r.isQuickAction(msg, text) {
		return r.sendPlayerCommand(text, "")
	}
	if r.cfg.Game.TranslateInput {
		return r.sendTranslated(ctx, text)
	}
	return r.sendPlayerCommand(text, "")
}

func (r *Relay) isQuickAction(msg bus.InboundMessage, text string) bool {
	if msg.Metadata["source"] == "quick_action" {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.actions[text]
	return ok
}

func (r *Relay) sendTranslated(ctx context.Context, text string) error {
	if !r.IsConnected() {
		r.presenter.ReportError("Not connected to MUD")
		return nil
	}

	disp := r.currentDispatcher()
	command, err := disp.TransformUserCommand(ctx, text)
	if err != nil {
		r.presenter.ReportError(fmt.Sprintf("Could not translate %q: %v", text, err))
		return err
	}
	return r.sendPlayerCommand(command, text)
}

// sendPlayerCommand echoes and sends command. original is the player's own
// wording when command came from translation.
func (r *Relay) sendPlayerCommand(command, original string) error {
	if command == "" {
		return nil
	}
	if !r.IsConnected() {
		r.presenter.ReportError("Not connected to MUD")
		return nil
	}

	echo := command
	if original != "" && original != command {
		echo = original + " -> " + command
	}
	r.presenter.PublishUserEcho(echo)

	if r.cfg.Game.Offline {
		logger.DebugCF("relay", "Offline, command not sent", map[string]any{"command": command})
		r.presenter.ReportError("Cannot send message: not connected")
		return nil
	}
	return r.sendToGame(command)
}

func (r *Relay) statusLine() string {
	r.mu.Lock()
	sess, client := r.sess, r.client
	r.mu.Unlock()

	state := StatusDisconnected
	if r.IsConnected() {
		state = StatusConnected
	}
	if sess == nil {
		return state
	}
	return fmt.Sprintf("%s (session %s, %d gateway calls)", state, sess.ID, client.Calls())
}
