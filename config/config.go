// Package config handles application configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.aimuz.me/slidemark/internal/types"
)

const (
	appName        = "slidemark"
	configFileName = "config.toml"
)

// Config represents the application configuration.
type Config struct {
	LogLevel string `toml:"log_level"`
	// Modality selected at startup: "pointer", "gesture" or "voice".
	Modality string `toml:"modality"`

	Display DisplayConfig `toml:"display"`
	Render  RenderConfig  `toml:"render"`
	Gesture GestureConfig `toml:"gesture"`
	Voice   VoiceConfig   `toml:"voice"`
	Pointer PointerConfig `toml:"pointer"`
	Cache   CacheConfig   `toml:"cache"`
}

// DisplayConfig describes the container the document is fitted into.
type DisplayConfig struct {
	Width  int `toml:"width"`
	Height int `toml:"height"`
	// Screen position of the overlay's top-left corner, for global pointer input.
	OriginX int `toml:"origin_x"`
	OriginY int `toml:"origin_y"`
	// Delay between leaving a modality and starting the next one.
	ModalityStartDelay Duration `toml:"modality_start_delay"`
}

// RenderConfig holds page render scheduler timings.
type RenderConfig struct {
	Debounce       Duration `toml:"debounce"`
	ResizeDebounce Duration `toml:"resize_debounce"`
}

// GestureConfig holds hand tracking and gesture arbitration settings.
type GestureConfig struct {
	Stability    Duration `toml:"stability"`
	NavCooldown  Duration `toml:"nav_cooldown"`
	DrawInterval Duration `toml:"draw_interval"`

	SwipeOffset   float64 `toml:"swipe_offset"`
	PinchDistance float64 `toml:"pinch_distance"`

	MinDetectionConfidence float64 `toml:"min_detection_confidence"`
	MinTrackingConfidence  float64 `toml:"min_tracking_confidence"`
	MaxHands               int     `toml:"max_hands"`

	// Python interpreter and worker script running the landmark model.
	Python       string   `toml:"python"`
	WorkerScript string   `toml:"worker_script"`
	Camera       int      `toml:"camera"` // -1 disables self-capture in the worker
	ReadyTimeout Duration `toml:"ready_timeout"`
}

// VoiceConfig holds speech recognition and command settings.
type VoiceConfig struct {
	DedupWindow    Duration `toml:"dedup_window"`
	InterimEvery   Duration `toml:"interim_every"`
	RestartDelay   Duration `toml:"restart_delay"`
	Language       string   `toml:"language"`
	CaptureCommand []string `toml:"capture_command"`
	SampleRate     int      `toml:"sample_rate"`

	STT STTConfig `toml:"stt"`
	VAD VADConfig `toml:"vad"`
}

// STTConfig selects the speech-to-text backend.
type STTConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url,omitempty"`
	Model   string `toml:"model"`
}

// VADConfig tunes voice activity detection.
type VADConfig struct {
	Threshold       float32  `toml:"threshold"`
	MinSpeech       Duration `toml:"min_speech"`
	MaxSpeech       Duration `toml:"max_speech"`
	Silence         Duration `toml:"silence"`
	TranscribeDelay Duration `toml:"transcribe_delay"`
}

// PointerConfig holds pointer modality settings.
type PointerConfig struct {
	Tool           string   `toml:"tool"`
	DoubleTap      Duration `toml:"double_tap"`
	CaptureEnabled bool     `toml:"capture_enabled"`
}

// CacheConfig controls the rendered page cache.
type CacheConfig struct {
	Enabled bool     `toml:"enabled"`
	Path    string   `toml:"path"`
	TTL     Duration `toml:"ttl"`
}

// Load loads configuration from the default config path.
// Returns default config if the file doesn't exist.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, fmt.Errorf("get config path: %w", err)
	}
	return LoadFromFile(path)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := DefaultConfig()
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader decodes TOML on top of the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save persists the configuration to the default path.
func (c *Config) Save() error {
	path, err := Path()
	if err != nil {
		return fmt.Errorf("get config path: %w", err)
	}
	return c.SaveTo(path)
}

// SaveTo writes the configuration to path, creating parent directories.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks values that would make the pipeline misbehave.
func (c *Config) Validate() error {
	if _, ok := types.ParseModality(c.Modality); !ok {
		return fmt.Errorf("invalid modality: %q", c.Modality)
	}
	if _, ok := types.ParseDrawMode(c.Pointer.Tool); !ok {
		return fmt.Errorf("invalid pointer tool: %q", c.Pointer.Tool)
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return fmt.Errorf("display size must be positive, got %dx%d", c.Display.Width, c.Display.Height)
	}
	for name, v := range map[string]float64{
		"min_detection_confidence": c.Gesture.MinDetectionConfidence,
		"min_tracking_confidence":  c.Gesture.MinTrackingConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0, 1], got %v", name, v)
		}
	}
	if c.Gesture.MaxHands < 1 {
		return fmt.Errorf("max_hands must be at least 1, got %d", c.Gesture.MaxHands)
	}
	if c.Voice.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.Voice.SampleRate)
	}
	return nil
}

// Path returns the default config file location.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName, configFileName), nil
}

// DefaultCachePath returns the default page cache directory.
func DefaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, appName, "pages")
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Modality: "pointer",
		Display: DisplayConfig{
			Width:              1280,
			Height:             720,
			ModalityStartDelay: Duration{100 * time.Millisecond},
		},
		Render: RenderConfig{
			Debounce:       Duration{80 * time.Millisecond},
			ResizeDebounce: Duration{100 * time.Millisecond},
		},
		Gesture: GestureConfig{
			Stability:              Duration{300 * time.Millisecond},
			NavCooldown:            Duration{800 * time.Millisecond},
			DrawInterval:           Duration{16 * time.Millisecond},
			SwipeOffset:            0.18,
			PinchDistance:          0.07,
			MinDetectionConfidence: 0.6,
			MinTrackingConfidence:  0.6,
			MaxHands:               1,
			Python:                 "python3",
			WorkerScript:           "scripts/hand_worker.py",
			Camera:                 0,
			ReadyTimeout:           Duration{10 * time.Second},
		},
		Voice: VoiceConfig{
			DedupWindow:    Duration{400 * time.Millisecond},
			InterimEvery:   Duration{200 * time.Millisecond},
			RestartDelay:   Duration{50 * time.Millisecond},
			Language:       "en",
			CaptureCommand: []string{"arecord", "-q", "-f", "FLOAT_LE", "-r", "16000", "-c", "1", "-t", "raw"},
			SampleRate:     16000,
			STT: STTConfig{
				Model: "whisper-1",
			},
			VAD: VADConfig{
				Threshold:       0.015,
				MinSpeech:       Duration{300 * time.Millisecond},
				MaxSpeech:       Duration{2 * time.Second},
				Silence:         Duration{400 * time.Millisecond},
				TranscribeDelay: Duration{300 * time.Millisecond},
			},
		},
		Pointer: PointerConfig{
			Tool:           "draw",
			DoubleTap:      Duration{300 * time.Millisecond},
			CaptureEnabled: true,
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    DefaultCachePath(),
			TTL:     Duration{24 * time.Hour},
		},
	}
}

// applyEnvOverrides lets secrets and log level come from the environment.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SLIDEMARK_OPENAI_API_KEY"); v != "" {
		cfg.Voice.STT.APIKey = v
	} else if cfg.Voice.STT.APIKey == "" {
		cfg.Voice.STT.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if v := os.Getenv("SLIDEMARK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
}
