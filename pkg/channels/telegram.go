package channels

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/mudscribe/mudscribe/pkg/bus"
	"github.com/mudscribe/mudscribe/pkg/config"
	"github.com/mudscribe/mudscribe/pkg/logger"
)

const (
	telegramMaxLen = 4096
	// Telegram rejects callback data longer than this.
	telegramMaxCallback = 64
)

// TelegramChannel plays through a bot chat. Narration arrives as messages,
// quick actions as an inline keyboard, scenes as photos.
type TelegramChannel struct {
	*BaseChannel
	bot    *telego.Bot
	config config.TelegramConfig
	chatID atomic.Int64
}

func NewTelegramChannel(cfg config.TelegramConfig, messageBus *bus.MessageBus) (*TelegramChannel, error) {
	var opts []telego.BotOption

	if cfg.Proxy != "" {
		proxyURL, parseErr := url.Parse(cfg.Proxy)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, parseErr)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	c := &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", messageBus, cfg.AllowFrom),
		bot:         bot,
		config:      cfg,
	}
	c.chatID.Store(cfg.ChatID)
	return c, nil
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	logger.InfoC("telegram", "Starting Telegram bot (polling mode)...")

	updates, err := c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: 30,
	})
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	c.setRunning(true)
	logger.InfoCF("telegram", "Telegram bot connected", map[string]any{
		"username": c.bot.Username(),
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					logger.InfoC("telegram", "Updates channel closed")
					c.setRunning(false)
					return
				}
				switch {
				case update.Message != nil:
					c.handleMessage(update.Message)
				case update.CallbackQuery != nil:
					c.handleCallback(ctx, update.CallbackQuery)
				}
			}
		}
	}()

	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	logger.InfoC("telegram", "Stopping Telegram bot...")
	c.setRunning(false)
	return nil
}

func senderOf(user telego.User) string {
	id := fmt.Sprintf("%d", user.ID)
	if user.Username != "" {
		return id + "|" + user.Username
	}
	return id
}

func (c *TelegramChannel) handleMessage(message *telego.Message) {
	if message.From == nil || strings.TrimSpace(message.Text) == "" {
		return
	}
	senderID := senderOf(*message.From)
	if !c.IsAllowed(senderID) {
		logger.DebugCF("telegram", "Message rejected by allowlist", map[string]any{"sender_id": senderID})
		return
	}

	// the first allowed chat becomes the output target unless one is configured
	c.chatID.CompareAndSwap(0, message.Chat.ID)

	text := strings.TrimSpace(message.Text)
	if text == "/start" {
		return
	}
	c.HandleMessage(senderID, text, map[string]string{"chat_id": fmt.Sprintf("%d", message.Chat.ID)})
}

func (c *TelegramChannel) handleCallback(ctx context.Context, q *telego.CallbackQuery) {
	if err := c.bot.AnswerCallbackQuery(ctx, tu.CallbackQuery(q.ID)); err != nil {
		logger.DebugCF("telegram", "Failed to answer callback", map[string]any{"error": err.Error()})
	}

	senderID := senderOf(q.From)
	if q.Data == "" || !c.IsAllowed(senderID) {
		return
	}
	c.HandleMessage(senderID, q.Data, map[string]string{"source": "quick_action"})
}

func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram bot not running")
	}
	chatID := c.chatID.Load()
	if chatID == 0 {
		// nobody has talked to the bot yet
		return nil
	}

	switch msg.Kind {
	case bus.KindNarration:
		return c.sendText(ctx, chatID, msg.Text)
	case bus.KindError:
		return c.sendText(ctx, chatID, "Error: "+msg.Text)
	case bus.KindStatus:
		return c.sendText(ctx, chatID, "Status: "+msg.Text)
	case bus.KindQuickActions:
		return c.sendActions(ctx, chatID, msg.Actions)
	case bus.KindImage:
		params := tu.Photo(tu.ID(chatID), tu.File(tu.NameReader(bytes.NewReader(msg.Image), "scene.png")))
		_, err := c.bot.SendPhoto(ctx, params)
		return err
	default:
		// raw game text and echoes of the player's own input stay out of the chat
		return nil
	}
}

func (c *TelegramChannel) sendText(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitLargeMessage(text, telegramMaxLen) {
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return err
		}
	}
	return nil
}

func (c *TelegramChannel) sendActions(ctx context.Context, chatID int64, actions map[string]string) error {
	rows := make([][]telego.InlineKeyboardButton, 0, len(actions))
	for _, cmd := range sortedKeys(actions) {
		if len(cmd) > telegramMaxCallback {
			logger.DebugCF("telegram", "Quick action too long for a button", map[string]any{"command": cmd})
			continue
		}
		label := actions[cmd]
		if strings.TrimSpace(label) == "" {
			label = cmd
		}
		rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton(label).WithCallbackData(cmd)))
	}
	if len(rows) == 0 {
		return nil
	}

	msg := tu.Message(tu.ID(chatID), "Quick actions").WithReplyMarkup(tu.InlineKeyboard(rows...))
	_, err := c.bot.SendMessage(ctx, msg)
	return err
}

// splitLargeMessage splits a message into chunks if it exceeds Telegram's limit
func splitLargeMessage(content string, maxLen int) []string {
	if len(content) <= maxLen {
		return []string{content}
	}

	var chunks []string
	remaining := content

	for len(remaining) > 0 {
		chunkSize := maxLen
		if len(remaining) < chunkSize {
			chunkSize = len(remaining)
		}

		// Try to break at a newline near the limit
		if chunkSize == maxLen {
			lastNewline := strings.LastIndex(remaining[:chunkSize], "\n")
			if lastNewline > maxLen*2/3 { // Only if newline is in the last third
				chunkSize = lastNewline + 1
			}
		}

		chunks = append(chunks, remaining[:chunkSize])
		remaining = remaining[chunkSize:]
	}

	return chunks
}
