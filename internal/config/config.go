package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied to settings left empty in the file.
const (
	DefaultAPIKeyEnv     = "OPENAI_API_KEY"
	DefaultURL           = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"
	DefaultBetaHeader    = "realtime=v1"
	DefaultVoice         = "alloy"
	DefaultVADThreshold  = 0.5
	DefaultPrefixPadding = 300
	DefaultSilence       = 500
	DefaultLogLevel      = "info"
	DefaultQueueSize     = 100
	DefaultCapturePolicy = "abort"
)

// OpenAIConfig stores the Realtime endpoint and credential settings.
type OpenAIConfig struct {
	APIKey     string `yaml:"api_key"`
	APIKeyEnv  string `yaml:"api_key_env"`
	UseEnvKey  bool   `yaml:"use_env_key"`
	URL        string `yaml:"url"`
	BetaHeader string `yaml:"beta_header"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// PricingFile replaces the built-in price table when set.
	PricingFile string `yaml:"pricing_file"`
}

// VoiceConfig stores the conversation settings sent in session.update.
type VoiceConfig struct {
	Instructions      string        `yaml:"instructions"`
	InitialPrompt     string        `yaml:"initial_prompt"`
	Voice             string        `yaml:"voice"`
	VADThreshold      *float64      `yaml:"vad_threshold"`
	PrefixPaddingMs   *int          `yaml:"prefix_padding_ms"`
	SilenceDurationMs *int          `yaml:"silence_duration_ms"`
	CloseAfter        time.Duration `yaml:"close_after"`
}

// CaptureConfig stores microphone settings.
type CaptureConfig struct {
	Disabled          bool          `yaml:"disabled"`
	SampleRate        float64       `yaml:"sample_rate"`
	FramesPerBuffer   int           `yaml:"frames_per_buffer"`
	MaxBufferDuration time.Duration `yaml:"max_buffer_duration"`
	MaxBufferSamples  int           `yaml:"max_buffer_samples"`
	// OnUnavailable is "abort" or "receive_only".
	OnUnavailable string `yaml:"on_unavailable"`
}

// PlaybackConfig stores speaker settings.
type PlaybackConfig struct {
	Disabled  bool `yaml:"disabled"`
	QueueSize int  `yaml:"queue_size"`
}

// MetricsConfig stores the Prometheus exporter settings. An empty address
// disables the exporter.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// Config stores the application configuration.
type Config struct {
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Voice    VoiceConfig    `yaml:"voice"`
	Capture  CaptureConfig  `yaml:"capture"`
	Playback PlaybackConfig `yaml:"playback"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	LogLevel string         `yaml:"log_level"`
}

// LoadConfig loads the configuration from the given file path. A .env file in
// the working directory is loaded first when present. A missing API key is
// not an error here; the session reports it when it starts.
func LoadConfig(filePath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filePath, err)
	}

	cfg.applyDefaults()
	cfg.OpenAI.APIKey = cfg.OpenAI.ResolveAPIKey()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ResolveAPIKey returns the key to authenticate with. The environment wins
// when UseEnvKey is set or no key is configured.
func (c OpenAIConfig) ResolveAPIKey() string {
	if c.UseEnvKey || c.APIKey == "" {
		return os.Getenv(c.APIKeyEnv)
	}
	return c.APIKey
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Capture.OnUnavailable {
	case "abort", "receive_only":
	default:
		return fmt.Errorf("capture.on_unavailable must be abort or receive_only, got %q", c.Capture.OnUnavailable)
	}
	if p := c.Voice.PrefixPaddingMs; p != nil && *p < 0 {
		return fmt.Errorf("voice.prefix_padding_ms must not be negative")
	}
	if s := c.Voice.SilenceDurationMs; s != nil && *s < 0 {
		return fmt.Errorf("voice.silence_duration_ms must not be negative")
	}
	if c.Capture.SampleRate < 0 {
		return fmt.Errorf("capture.sample_rate must not be negative")
	}
	if c.Playback.QueueSize < 0 {
		return fmt.Errorf("playback.queue_size must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.OpenAI.APIKeyEnv == "" {
		c.OpenAI.APIKeyEnv = DefaultAPIKeyEnv
	}
	if c.OpenAI.URL == "" {
		c.OpenAI.URL = DefaultURL
	}
	if c.OpenAI.BetaHeader == "" {
		c.OpenAI.BetaHeader = DefaultBetaHeader
	}

	if c.Voice.Voice == "" {
		c.Voice.Voice = DefaultVoice
	}
	if c.Voice.VADThreshold == nil {
		threshold := DefaultVADThreshold
		c.Voice.VADThreshold = &threshold
	}
	if c.Voice.PrefixPaddingMs == nil {
		padding := DefaultPrefixPadding
		c.Voice.PrefixPaddingMs = &padding
	}
	if c.Voice.SilenceDurationMs == nil {
		silence := DefaultSilence
		c.Voice.SilenceDurationMs = &silence
	}

	if c.Capture.OnUnavailable == "" {
		c.Capture.OnUnavailable = DefaultCapturePolicy
	}
	if c.Playback.QueueSize == 0 {
		c.Playback.QueueSize = DefaultQueueSize
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}
