// Package config はサーバーの設定を YAML ファイルと環境変数から読み込みます。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shouni/gemini-sprite-kit/pkg/domain"
	"gopkg.in/yaml.v3"
)

// ErrMissingAPIKey は Gemini の API キーが設定されていないことを示します。
var ErrMissingAPIKey = errors.New("gemini api key is required (set GEMINI_API_KEY)")

// Config はサーバー全体の設定です。
type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`
	// DSN が空の場合は履歴と利用枠の記録を行いません。
	DSN             string        `yaml:"dsn"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Gemini     GeminiConfig     `yaml:"gemini"`
	Generation GenerationConfig `yaml:"generation"`
	Chroma     ChromaConfig     `yaml:"chroma"`
	Quota      QuotaConfig      `yaml:"quota"`
}

// GeminiConfig は上流サービスの設定です。
type GeminiConfig struct {
	APIKey            string        `yaml:"api_key"`
	TextModel         string        `yaml:"text_model"`
	ImageModel        string        `yaml:"image_model"`
	Timeout           time.Duration `yaml:"timeout"`
	CompressReference bool          `yaml:"compress_reference"`
	// Temperature が nil ならクライアントの既定値を使います。
	Temperature       *float32      `yaml:"temperature"`
	MaxRetries        uint64        `yaml:"max_retries"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
}

// GenerationConfig はジョブ単位の設定です。
type GenerationConfig struct {
	MaxFrames      int           `yaml:"max_frames"`
	FrameDelay     time.Duration `yaml:"frame_delay"`
	FPS            int           `yaml:"fps"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	MaxRequestSize int64         `yaml:"max_request_bytes"`
}

// ChromaConfig は背景除去の設定です。Feather が 0 なら Tolerance と同じ値を使います。
type ChromaConfig struct {
	Tolerance float64 `yaml:"tolerance"`
	Feather   float64 `yaml:"feather"`
	Estimator string  `yaml:"estimator"` // corners | dominant
}

// QuotaConfig は利用枠の設定です。0 は無制限です。
type QuotaConfig struct {
	DailyFrameLimit int `yaml:"daily_frame_limit"`
	MaxCanvasSize   int `yaml:"max_canvas_size"`
}

// DefaultConfig は既定値を返します。
func DefaultConfig() *Config {
	return &Config{
		Listen:          ":8080",
		LogLevel:        "info",
		ShutdownTimeout: 30 * time.Second,
		Gemini: GeminiConfig{
			TextModel:         "gemini-2.5-flash",
			ImageModel:        "gemini-2.5-flash-image",
			Timeout:           2 * time.Minute,
			MaxRetries:        2,
			RetryInitialDelay: 5 * time.Second,
			RetryMaxDelay:     30 * time.Second,
		},
		Generation: GenerationConfig{
			MaxFrames:      domain.DefaultMaxFrames,
			FrameDelay:     500 * time.Millisecond,
			FPS:            10,
			FetchTimeout:   15 * time.Second,
			MaxRequestSize: 64 << 10,
		},
		Chroma: ChromaConfig{
			Tolerance: 40,
			Estimator: "corners",
		},
		Quota: QuotaConfig{
			MaxCanvasSize: domain.MaxCanvasSize,
		},
	}
}

// Load は DefaultConfig に YAML ファイルと環境変数を重ねて検証します。path が空ならファイルは読みません。
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("GEMINI_API_KEY"); ok && v != "" {
		c.Gemini.APIKey = v
	}
	if v, ok := lookup("SPRITEGEN_LISTEN"); ok && v != "" {
		c.Listen = v
	}
	if v, ok := lookup("SPRITEGEN_DSN"); ok {
		c.DSN = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup("SPRITEGEN_DAILY_FRAME_LIMIT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SPRITEGEN_DAILY_FRAME_LIMIT: %w", err)
		}
		c.Quota.DailyFrameLimit = n
	}
	return nil
}

// Validate は必須項目と値の範囲を確認します。
func (c *Config) Validate() error {
	if c.Gemini.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.Gemini.TextModel == "" || c.Gemini.ImageModel == "" {
		return fmt.Errorf("gemini.text_model and gemini.image_model are required")
	}
	if t := c.Gemini.Temperature; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("gemini.temperature must be between 0 and 1")
	}
	if c.Generation.MaxFrames < 1 {
		return fmt.Errorf("generation.max_frames must be > 0")
	}
	if c.Generation.FrameDelay < 0 {
		return fmt.Errorf("generation.frame_delay must not be negative")
	}
	if c.Generation.FPS < 1 {
		return fmt.Errorf("generation.fps must be > 0")
	}
	if c.Chroma.Tolerance <= 0 {
		return fmt.Errorf("chroma.tolerance must be > 0")
	}
	switch c.Chroma.Estimator {
	case "corners", "dominant", "":
	default:
		return fmt.Errorf("unsupported chroma.estimator %q (use corners or dominant)", c.Chroma.Estimator)
	}
	if c.Quota.DailyFrameLimit < 0 {
		return fmt.Errorf("quota.daily_frame_limit must not be negative")
	}
	return nil
}
