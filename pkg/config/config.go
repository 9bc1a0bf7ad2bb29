package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Game      GameConfig      `json:"game"`
	Persona   PersonaConfig   `json:"persona"`
	Channels  ChannelsConfig  `json:"channels"`
	Keepalive KeepaliveConfig `json:"keepalive"`
	Usage     UsageConfig     `json:"usage"`
	Images    ImagesConfig    `json:"images"`
	Logging   LoggingConfig   `json:"logging"`
	mu        sync.RWMutex
}

type GatewayConfig struct {
	BaseURL       string `json:"base_url" env:"MUDSCRIBE_GATEWAY_BASE_URL"`
	Token         string `json:"token" env:"MUDSCRIBE_GATEWAY_TOKEN"`
	ChatModel     string `json:"chat_model" env:"MUDSCRIBE_GATEWAY_CHAT_MODEL"`
	ImageModel    string `json:"image_model" env:"MUDSCRIBE_GATEWAY_IMAGE_MODEL"`
	ImageSize     string `json:"image_size" env:"MUDSCRIBE_GATEWAY_IMAGE_SIZE"`
	ImageQuality  string `json:"image_quality" env:"MUDSCRIBE_GATEWAY_IMAGE_QUALITY"`
	HTTPTimeoutMS int    `json:"http_timeout_ms" env:"MUDSCRIBE_GATEWAY_HTTP_TIMEOUT_MS"`
}

type GameConfig struct {
	MudURL         string `json:"mud_url" env:"MUDSCRIBE_GAME_MUD_URL"`
	Username       string `json:"username" env:"MUDSCRIBE_GAME_USERNAME"`
	Password       string `json:"password" env:"MUDSCRIBE_GAME_PASSWORD"`
	LoginDelayMS   int    `json:"login_delay_ms" env:"MUDSCRIBE_GAME_LOGIN_DELAY_MS"`
	Offline        bool   `json:"offline" env:"MUDSCRIBE_GAME_OFFLINE"`
	TranslateInput bool   `json:"translate_input" env:"MUDSCRIBE_GAME_TRANSLATE_INPUT"`
}

type PersonaConfig struct {
	NarrationSystem   string `json:"narration_system"`
	NarrationTemplate string `json:"narration_template"`
	ActionsSystem     string `json:"actions_system"`
	ActionsTemplate   string `json:"actions_template"`
	SceneGateSystem   string `json:"scene_gate_system"`
	SceneGateTemplate string `json:"scene_gate_template"`
	ImageGate         bool   `json:"image_gate" env:"MUDSCRIBE_PERSONA_IMAGE_GATE"`
	SuggestActions    bool   `json:"suggest_actions" env:"MUDSCRIBE_PERSONA_SUGGEST_ACTIONS"`
	GenerateImages    bool   `json:"generate_images" env:"MUDSCRIBE_PERSONA_GENERATE_IMAGES"`
	TranslateSystem   string `json:"translate_system"`
	HelpDocumentPath  string `json:"help_document_path" env:"MUDSCRIBE_PERSONA_HELP_DOCUMENT_PATH"`
}

type ChannelsConfig struct {
	Terminal TerminalConfig `json:"terminal"`
	Web      WebConfig      `json:"web"`
	Telegram TelegramConfig `json:"telegram"`
}

type TerminalConfig struct {
	Enabled     bool   `json:"enabled" env:"MUDSCRIBE_CHANNELS_TERMINAL_ENABLED"`
	ShowRaw     bool   `json:"show_raw" env:"MUDSCRIBE_CHANNELS_TERMINAL_SHOW_RAW"`
	ImagePath   string `json:"image_path" env:"MUDSCRIBE_CHANNELS_TERMINAL_IMAGE_PATH"`
	HistoryFile string `json:"history_file" env:"MUDSCRIBE_CHANNELS_TERMINAL_HISTORY_FILE"`
}

type WebConfig struct {
	Enabled        bool                `json:"enabled" env:"MUDSCRIBE_CHANNELS_WEB_ENABLED"`
	Host           string              `json:"host" env:"MUDSCRIBE_CHANNELS_WEB_HOST"`
	Port           int                 `json:"port" env:"MUDSCRIBE_CHANNELS_WEB_PORT"`
	AllowedOrigins FlexibleStringSlice `json:"allowed_origins" env:"MUDSCRIBE_CHANNELS_WEB_ALLOWED_ORIGINS"`
}

type TelegramConfig struct {
	Enabled   bool                `json:"enabled" env:"MUDSCRIBE_CHANNELS_TELEGRAM_ENABLED"`
	Token     string              `json:"token" env:"MUDSCRIBE_CHANNELS_TELEGRAM_TOKEN"`
	Proxy     string              `json:"proxy" env:"MUDSCRIBE_CHANNELS_TELEGRAM_PROXY"`
	ChatID    int64               `json:"chat_id" env:"MUDSCRIBE_CHANNELS_TELEGRAM_CHAT_ID"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"MUDSCRIBE_CHANNELS_TELEGRAM_ALLOW_FROM"`
}

type KeepaliveConfig struct {
	Enabled  bool   `json:"enabled" env:"MUDSCRIBE_KEEPALIVE_ENABLED"`
	Schedule string `json:"schedule" env:"MUDSCRIBE_KEEPALIVE_SCHEDULE"` // cron expression
	Command  string `json:"command" env:"MUDSCRIBE_KEEPALIVE_COMMAND"`
}

type UsageConfig struct {
	File string `json:"file" env:"MUDSCRIBE_USAGE_FILE"`
}

type ImagesConfig struct {
	ArchiveDir string `json:"archive_dir" env:"MUDSCRIBE_IMAGES_ARCHIVE_DIR"`
}

type LoggingConfig struct {
	Level           string `json:"level" env:"MUDSCRIBE_LOGGING_LEVEL"`
	FileEnabled     bool   `json:"file_enabled" env:"MUDSCRIBE_LOGGING_FILE_ENABLED"`
	FilePath        string `json:"file_path" env:"MUDSCRIBE_LOGGING_FILE_PATH"`
	RotationEnabled bool   `json:"rotation_enabled" env:"MUDSCRIBE_LOGGING_ROTATION_ENABLED"`
	MaxAgeDays      int    `json:"max_age_days" env:"MUDSCRIBE_LOGGING_MAX_AGE_DAYS"`
	MaxSizeMB       int    `json:"max_size_mb" env:"MUDSCRIBE_LOGGING_MAX_SIZE_MB"`
}

func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			BaseURL:       "https://gateway.ai.devboost.com",
			Token:         "",
			ChatModel:     "DevBoost/OpenAI/gpt-4.1-mini",
			ImageModel:    "DevBoost/OpenAI/gpt-image-1",
			ImageSize:     "1536x1024",
			ImageQuality:  "medium",
			HTTPTimeoutMS: 0,
		},
		Game: GameConfig{
			MudURL:         "",
			LoginDelayMS:   1000,
			Offline:        false,
			TranslateInput: false,
		},
		Persona: PersonaConfig{
			ImageGate:      true,
			SuggestActions: true,
			GenerateImages: true,
		},
		Channels: ChannelsConfig{
			Terminal: TerminalConfig{
				Enabled:     true,
				ShowRaw:     false,
				ImagePath:   "~/.mudscribe/scene.png",
				HistoryFile: "~/.mudscribe/history",
			},
			Web: WebConfig{
				Enabled:        false,
				Host:           "127.0.0.1",
				Port:           18800,
				AllowedOrigins: FlexibleStringSlice{},
			},
			Telegram: TelegramConfig{
				Enabled:   false,
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Keepalive: KeepaliveConfig{
			Enabled:  false,
			Schedule: "*/10 * * * *",
			Command:  "look",
		},
		Logging: LoggingConfig{
			Level:           "info",
			FileEnabled:     false,
			FilePath:        "~/.mudscribe/mudscribe.log",
			RotationEnabled: true,
			MaxAgeDays:      7,
			MaxSizeMB:       20,
		},
	}
}

// DefaultPath is where the CLI looks for a config file.
func DefaultPath() string {
	return expandHome("~/.mudscribe/config.json")
}

// LoadConfig layers the JSON file over the defaults, then environment
// variables over both. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	resolveSecretRefs(cfg)

	return cfg, nil
}

func resolveSecretRefs(cfg *Config) {
	cfg.Gateway.Token = resolveEnvRef(cfg.Gateway.Token)
	cfg.Gateway.BaseURL = resolveEnvRef(cfg.Gateway.BaseURL)
	cfg.Game.Password = resolveEnvRef(cfg.Game.Password)
	cfg.Channels.Telegram.Token = resolveEnvRef(cfg.Channels.Telegram.Token)
}

// resolveEnvRef expands "${NAME}" and "$NAME" values from the environment.
// Unset variables leave the value untouched.
func resolveEnvRef(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return v
	}

	var key string
	switch {
	case strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}"):
		key = strings.TrimSpace(s[2 : len(s)-1])
	case strings.HasPrefix(s, "$") && len(s) > 1:
		key = strings.TrimSpace(s[1:])
	default:
		return v
	}
	if key == "" {
		return v
	}
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return v
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	// the file carries the gateway token
	return os.WriteFile(path, data, 0600)
}

func (c *Config) LoginDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Game.LoginDelayMS) * time.Millisecond
}

func (c *Config) HTTPTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Gateway.HTTPTimeoutMS) * time.Millisecond
}

// Redacted returns a copy safe to print: secrets are masked.
func (c *Config) Redacted() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := &Config{
		Gateway:   c.Gateway,
		Game:      c.Game,
		Persona:   c.Persona,
		Channels:  c.Channels,
		Keepalive: c.Keepalive,
		Usage:     c.Usage,
		Images:    c.Images,
		Logging:   c.Logging,
	}
	out.Gateway.Token = mask(out.Gateway.Token)
	out.Game.Password = mask(out.Game.Password)
	out.Channels.Telegram.Token = mask(out.Channels.Telegram.Token)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

// ExpandHome resolves a leading "~" to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
