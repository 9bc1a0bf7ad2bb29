// Package enrich turns raw game output into narration, quick actions and
// background scenes, and turns free text into game commands.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mudscribe/mudscribe/pkg/gateway"
	"github.com/mudscribe/mudscribe/pkg/logger"
	"github.com/mudscribe/mudscribe/pkg/session"
)

// ErrNoCommand is returned when translation produced nothing to send.
var ErrNoCommand = errors.New("translation produced no command")

// Sink receives everything the dispatcher produces. Publishes overwrite what
// was shown before.
type Sink interface {
	PublishNarration(text string)
	PublishQuickActions(actions map[string]string)
	PublishBackgroundImage(img []byte)
	ReportError(text string)
}

// Gateway is the subset of *gateway.Client the dispatcher calls.
type Gateway interface {
	ChatComplete(ctx context.Context, req gateway.ChatRequest) (gateway.Completion, error)
	GenerateImage(ctx context.Context, req gateway.ImageRequest) ([]byte, error)
}

type Dispatcher struct {
	persona Persona
	gw      Gateway
	sess    *session.Session
	sink    Sink

	wg      sync.WaitGroup
	pending atomic.Int32
}

func NewDispatcher(persona Persona, gw Gateway, sess *session.Session, sink Sink) *Dispatcher {
	return &Dispatcher{
		persona: persona,
		gw:      gw,
		sess:    sess,
		sink:    sink,
	}
}

func (d *Dispatcher) requireToken() error {
	if !d.sess.HasToken() {
		return gateway.ErrMissingToken
	}
	return nil
}

// HandleOutputEvent starts image and quick-action work in the background and
// returns the narration. The background work outlives ctx cancellation.
func (d *Dispatcher) HandleOutputEvent(ctx context.Context, raw string) (string, error) {
	if err := d.requireToken(); err != nil {
		return "", err
	}

	bg := context.WithoutCancel(ctx)
	if d.persona.GenerateImages {
		d.spawn(func() { _ = d.MaybeGenerateImage(bg, raw) })
	}
	if d.persona.SuggestActions {
		d.spawn(func() { _ = d.SuggestActions(bg, raw) })
	}

	return d.Narrate(ctx, raw)
}

func (d *Dispatcher) spawn(fn func()) {
	d.wg.Add(1)
	d.pending.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.pending.Add(-1)
		fn()
	}()
}

// Busy reports whether background tasks are still running.
func (d *Dispatcher) Busy() bool {
	return d.pending.Load() > 0
}

// stale reports whether the session ended while a task was running. Results
// for a closed session are not shown.
func (d *Dispatcher) stale(what string) bool {
	if !d.sess.Closed() {
		return false
	}
	logger.DebugCF("enrich", "Session closed, result dropped", map[string]any{"result": what})
	return true
}

// Wait blocks until every background task started so far has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// MaybeGenerateImage publishes a background scene for raw when the gate says
// it describes one. While another call holds the image guard it returns at
// once without touching the gateway. Failures are logged, not returned.
func (d *Dispatcher) MaybeGenerateImage(ctx context.Context, raw string) error {
	if err := d.requireToken(); err != nil {
		return err
	}
	if !d.sess.TryAcquireImage() {
		logger.DebugC("enrich", "Image generation already in flight, dropping trigger")
		return nil
	}
	defer d.sess.ReleaseImage()

	if d.persona.ImageGate {
		res, err := d.gw.ChatComplete(ctx, gateway.ChatRequest{
			Kind:          "image_gate",
			SystemPrompts: []string{d.persona.SceneGateSystem},
			UserPrompt:    render(d.persona.SceneGateTemplate, raw),
			Model:         d.persona.ChatModel,
		})
		if err != nil {
			logger.WarnCF("enrich", "Scene gate failed", map[string]any{"error": err.Error()})
			return nil
		}
		if !IsAffirmative(res.Content) {
			logger.DebugCF("enrich", "Scene gate declined", map[string]any{"reply": res.Content})
			return nil
		}
	}

	img, err := d.gw.GenerateImage(ctx, gateway.ImageRequest{
		Prompt:  raw,
		Size:    d.persona.ImageSize,
		Quality: d.persona.ImageQuality,
		Model:   d.persona.ImageModel,
	})
	if err != nil {
		logger.WarnCF("enrich", "No background image", map[string]any{"error": err.Error()})
		return nil
	}

	if d.stale("image") {
		return nil
	}
	d.sink.PublishBackgroundImage(img)
	logger.InfoCF("enrich", "Background image published", map[string]any{"bytes": len(img)})
	return nil
}

// IsAffirmative reports whether a gate reply contains "yes" anywhere,
// ignoring case.
func IsAffirmative(reply string) bool {
	return strings.Contains(strings.ToLower(reply), "yes")
}

// SuggestActions asks for a command->label map and publishes it. A reply
// that does not parse is logged and dropped.
func (d *Dispatcher) SuggestActions(ctx context.Context, raw string) error {
	if err := d.requireToken(); err != nil {
		return err
	}

	res, err := d.gw.ChatComplete(ctx, gateway.ChatRequest{
		Kind:          "actions",
		SystemPrompts: []string{d.persona.ActionsSystem},
		UserPrompt:    render(d.persona.ActionsTemplate, raw),
		Model:         d.persona.ChatModel,
	})
	if err != nil {
		logger.WarnCF("enrich", "Quick actions failed", map[string]any{"error": err.Error()})
		return nil
	}
	if !res.Found {
		logger.DebugC("enrich", "Quick actions reply was empty")
		return nil
	}

	actions, err := ParseActions(res.Content)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			logger.WarnCF("enrich", "Quick actions reply not usable", map[string]any{
				"error":   pe.Err.Error(),
				"content": truncate(pe.Content, 200),
			})
		}
		return nil
	}
	if len(actions) == 0 {
		return nil
	}

	if d.stale("actions") {
		return nil
	}
	d.sink.PublishQuickActions(actions)
	return nil
}

// Narrate returns display text for raw. Gateway failures come back as an
// "Error processing message" string so every event shows something; only
// the missing-token precondition is returned as an error.
func (d *Dispatcher) Narrate(ctx context.Context, raw string) (string, error) {
	if err := d.requireToken(); err != nil {
		return "", err
	}

	res, err := d.gw.ChatComplete(ctx, gateway.ChatRequest{
		Kind:          "narration",
		SystemPrompts: []string{d.persona.NarrationSystem},
		UserPrompt:    render(d.persona.NarrationTemplate, raw),
		Model:         d.persona.ChatModel,
	})
	if err != nil {
		return fmt.Sprintf("Error processing message: %v", err), nil
	}
	return res.Text(), nil
}

// TransformUserCommand translates free text into a game command. The reply
// is trusted as-is apart from trimming.
func (d *Dispatcher) TransformUserCommand(ctx context.Context, freeText string) (string, error) {
	if err := d.requireToken(); err != nil {
		return "", err
	}

	prompts := make([]string, 0, 2)
	if d.persona.HelpDocument != "" {
		prompts = append(prompts, d.persona.HelpDocument)
	}
	prompts = append(prompts, d.persona.TranslateSystem)

	res, err := d.gw.ChatComplete(ctx, gateway.ChatRequest{
		Kind:          "translate",
		SystemPrompts: prompts,
		UserPrompt:    freeText,
		Model:         d.persona.ChatModel,
	})
	if err != nil {
		return "", fmt.Errorf("translate command: %w", err)
	}

	cmd := strings.TrimSpace(res.Content)
	if !res.Found || cmd == "" {
		return "", ErrNoCommand
	}
	logger.DebugCF("enrich", "Translated input", map[string]any{"input": freeText, "command": cmd})
	return cmd, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
