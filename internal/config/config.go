package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full server configuration.
type Config struct {
	Listen         string        `mapstructure:"listen"`
	LogLevel       string        `mapstructure:"log_level"`
	Debug          bool          `mapstructure:"debug"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	Provider       Provider      `mapstructure:"provider"`
	Model          Model         `mapstructure:"model"`
	Timeouts       Timeouts      `mapstructure:"timeouts"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Retention      int           `mapstructure:"retention"`
}

// Provider configures the upstream media generation API.
type Provider struct {
	BaseURL     string `mapstructure:"base_url"`
	APIKey      string `mapstructure:"api_key"`
	ImageModel  string `mapstructure:"image_model"`
	SpeechModel string `mapstructure:"speech_model"`
	VideoModel  string `mapstructure:"video_model"`
}

// Model configures the upstream chat model used by the tool-call loop.
type Model struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Name    string `mapstructure:"name"`
}

// Timeouts bounds every upstream call the orchestrator makes.
type Timeouts struct {
	Generate time.Duration `mapstructure:"generate"` // sync image/audio adapter calls
	Submit   time.Duration `mapstructure:"submit"`   // video task submission
	Poll     time.Duration `mapstructure:"poll"`     // a single video status poll
	Video    time.Duration `mapstructure:"video"`    // overall video task deadline
	Tool     time.Duration `mapstructure:"tool"`     // a single tool executor call
	Chat     time.Duration `mapstructure:"chat"`     // a single model completion
}

// SetDefaults registers every configuration default on the provided viper
// instance. Callers bind flags and env vars on top of these.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("debug", false)
	v.SetDefault("allowed_origins", []string{"*"})

	v.SetDefault("provider.base_url", "https://api.minimax.io")
	v.SetDefault("provider.image_model", "image-01")
	v.SetDefault("provider.speech_model", "speech-02-hd")
	v.SetDefault("provider.video_model", "video-01")

	v.SetDefault("model.base_url", "https://api.openai.com/v1")
	v.SetDefault("model.name", "gpt-4o")

	v.SetDefault("timeouts.generate", 60*time.Second)
	v.SetDefault("timeouts.submit", 30*time.Second)
	v.SetDefault("timeouts.poll", 15*time.Second)
	v.SetDefault("timeouts.video", 10*time.Minute)
	v.SetDefault("timeouts.tool", 60*time.Second)
	v.SetDefault("timeouts.chat", 120*time.Second)

	v.SetDefault("poll_interval", 5*time.Second)
	v.SetDefault("retention", 512)
}

// Load reads configuration from the viper instance, applying env bindings
// with the MUSE_ prefix (e.g. MUSE_PROVIDER_API_KEY).
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("MUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Retention <= 0 {
		return fmt.Errorf("retention must be positive, got %d", c.Retention)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	for name, d := range map[string]time.Duration{
		"timeouts.generate": c.Timeouts.Generate,
		"timeouts.submit":   c.Timeouts.Submit,
		"timeouts.poll":     c.Timeouts.Poll,
		"timeouts.video":    c.Timeouts.Video,
		"timeouts.tool":     c.Timeouts.Tool,
		"timeouts.chat":     c.Timeouts.Chat,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}
