package enrich

import (
	"fmt"
	"os"
	"strings"

	"github.com/mudscribe/mudscribe/pkg/config"
)

// MessagePlaceholder marks where the raw game text goes in a user template.
// A template without it gets the text appended after a space.
const MessagePlaceholder = "{{message}}"

const (
	DefaultNarrationSystem = "You are a helpful assistant that processes MUD (Multi-User Dungeon) game output messages. " +
		"Your job is to translate, summarize, and wrap the raw MUD output into more readable and engaging format for the player. " +
		"Keep responses concise and focus on the most important information."
	DefaultNarrationTemplate = "Please process this MUD message and provide a clear, engaging summary: " + MessagePlaceholder

	DefaultActionsSystem = "You suggest quick actions for a MUD player. Reply with a single JSON object and nothing else. " +
		"Each key is an exact game command the player could type next and each value is a short label for it. " +
		"Suggest at most six actions."
	DefaultActionsTemplate = "Suggest the next commands for this MUD output: " + MessagePlaceholder

	DefaultSceneGateSystem   = "You decide whether MUD output describes a new location worth illustrating. Answer only yes or no."
	DefaultSceneGateTemplate = "Does this text describe a new scene? " + MessagePlaceholder

	DefaultTranslateSystem = "Translate the player's request into exactly one command for this MUD using the command reference above. " +
		"Reply with the command only, without quotes or explanation."
)

// Persona is the prompt configuration handed to a Dispatcher. It is a value
// and is not changed after construction.
type Persona struct {
	NarrationSystem   string
	NarrationTemplate string
	ActionsSystem     string
	ActionsTemplate   string
	SceneGateSystem   string
	SceneGateTemplate string
	TranslateSystem   string
	HelpDocument      string

	ImageGate      bool
	SuggestActions bool
	GenerateImages bool

	ChatModel    string
	ImageModel   string
	ImageSize    string
	ImageQuality string
}

func DefaultPersona() Persona {
	gw := config.DefaultConfig().Gateway
	return Persona{
		NarrationSystem:   DefaultNarrationSystem,
		NarrationTemplate: DefaultNarrationTemplate,
		ActionsSystem:     DefaultActionsSystem,
		ActionsTemplate:   DefaultActionsTemplate,
		SceneGateSystem:   DefaultSceneGateSystem,
		SceneGateTemplate: DefaultSceneGateTemplate,
		TranslateSystem:   DefaultTranslateSystem,
		ImageGate:         true,
		SuggestActions:    true,
		GenerateImages:    true,
		ChatModel:         gw.ChatModel,
		ImageModel:        gw.ImageModel,
		ImageSize:         gw.ImageSize,
		ImageQuality:      gw.ImageQuality,
	}
}

// PersonaFromConfig overlays the configured prompts on the defaults and loads
// the help document when a path is set.
func PersonaFromConfig(cfg *config.Config) (Persona, error) {
	p := DefaultPersona()
	pc := cfg.Persona

	override(&p.NarrationSystem, pc.NarrationSystem)
	override(&p.NarrationTemplate, pc.NarrationTemplate)
	override(&p.ActionsSystem, pc.ActionsSystem)
	override(&p.ActionsTemplate, pc.ActionsTemplate)
	override(&p.SceneGateSystem, pc.SceneGateSystem)
	override(&p.SceneGateTemplate, pc.SceneGateTemplate)
	override(&p.TranslateSystem, pc.TranslateSystem)
	p.ImageGate = pc.ImageGate
	p.SuggestActions = pc.SuggestActions
	p.GenerateImages = pc.GenerateImages

	override(&p.ChatModel, cfg.Gateway.ChatModel)
	override(&p.ImageModel, cfg.Gateway.ImageModel)
	override(&p.ImageSize, cfg.Gateway.ImageSize)
	override(&p.ImageQuality, cfg.Gateway.ImageQuality)

	if path := strings.TrimSpace(pc.HelpDocumentPath); path != "" {
		data, err := os.ReadFile(config.ExpandHome(path))
		if err != nil {
			return Persona{}, fmt.Errorf("load help document: %w", err)
		}
		p.HelpDocument = string(data)
	}
	return p, nil
}

func override(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func render(tmpl, raw string) string {
	if strings.Contains(tmpl, MessagePlaceholder) {
		return strings.ReplaceAll(tmpl, MessagePlaceholder, raw)
	}
	return tmpl + " " + raw
}
