package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/mudscribe/mudscribe/pkg/bus"
	"github.com/mudscribe/mudscribe/pkg/config"
	"github.com/mudscribe/mudscribe/pkg/logger"
)

const terminalSender = "local"

// TerminalChannel is an interactive prompt. Quick actions are numbered and
// "/N" sends the N-th one.
type TerminalChannel struct {
	*BaseChannel
	config config.TerminalConfig

	rl   *readline.Instance
	out  io.Writer
	done chan struct{}

	mu      sync.Mutex
	actions []string
}

func NewTerminalChannel(cfg config.TerminalConfig, messageBus *bus.MessageBus) *TerminalChannel {
	return &TerminalChannel{
		BaseChannel: NewBaseChannel("terminal", messageBus, nil),
		config:      cfg,
		out:         os.Stdout,
	}
}

func (c *TerminalChannel) Start(ctx context.Context) error {
	history := config.ExpandHome(c.config.HistoryFile)
	if history != "" {
		_ = os.MkdirAll(filepath.Dir(history), 0755)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     history,
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return fmt.Errorf("init terminal: %w", err)
	}
	c.rl = rl
	c.out = rl.Stdout()
	// keep log lines from trampling the prompt
	logger.SetOutput(rl.Stderr())

	c.done = make(chan struct{})
	c.setRunning(true)
	go c.readLoop()
	return nil
}

func (c *TerminalChannel) readLoop() {
	defer close(c.done)
	for {
		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) && line != "" {
				continue
			}
			if c.IsRunning() {
				c.HandleMessage(terminalSender, "/quit", nil)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if cmd, ok := c.resolveQuickAction(line); ok {
			c.HandleMessage(terminalSender, cmd, map[string]string{"source": "quick_action"})
			continue
		}
		c.HandleMessage(terminalSender, line, nil)
	}
}

func (c *TerminalChannel) Stop(ctx context.Context) error {
	if !c.IsRunning() {
		return nil
	}
	c.setRunning(false)
	logger.SetOutput(os.Stderr)
	err := c.rl.Close()
	<-c.done
	return err
}

// resolveQuickAction maps "/N" to the N-th listed command.
func (c *TerminalChannel) resolveQuickAction(line string) (string, bool) {
	if len(line) < 2 || line[0] != '/' {
		return "", false
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 1 || n > len(c.actions) {
		return "", false
	}
	return c.actions[n-1], true
}

func (c *TerminalChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	var text string
	switch msg.Kind {
	case bus.KindImage:
		path, err := c.writeImage(msg.Image)
		if err != nil {
			return err
		}
		text = "[scene] " + path
	case bus.KindQuickActions:
		text = c.setActions(msg.Actions)
	case bus.KindRaw:
		if !c.config.ShowRaw {
			return nil
		}
		text = formatTerminal(msg)
	default:
		text = formatTerminal(msg)
	}
	if text == "" {
		return nil
	}
	_, err := fmt.Fprintln(c.out, text)
	return err
}

func (c *TerminalChannel) setActions(actions map[string]string) string {
	keys := sortedKeys(actions)

	c.mu.Lock()
	c.actions = keys
	c.mu.Unlock()

	var b strings.Builder
	b.WriteString("Quick actions:")
	for i, k := range keys {
		fmt.Fprintf(&b, "\n  /%d  %s (%s)", i+1, actions[k], k)
	}
	return b.String()
}

func (c *TerminalChannel) writeImage(img []byte) (string, error) {
	path := config.ExpandHome(c.config.ImagePath)
	if path == "" {
		return "", fmt.Errorf("no image path configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, img, 0644); err != nil {
		return "", fmt.Errorf("write scene image: %w", err)
	}
	return path, nil
}

func formatTerminal(msg bus.OutboundMessage) string {
	switch msg.Kind {
	case bus.KindNarration:
		return "\n" + msg.Text
	case bus.KindUserEcho:
		return "you: " + msg.Text
	case bus.KindRaw:
		return prefixLines(msg.Text, "| ")
	case bus.KindError:
		return "! " + msg.Text
	case bus.KindStatus:
		return "[" + msg.Text + "]"
	default:
		return msg.Text
	}
}

func prefixLines(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\r\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + strings.TrimRight(l, "\r")
	}
	return strings.Join(lines, "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
