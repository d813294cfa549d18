package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ModeSplit  = "split"
	ModeLegacy = "legacy"
)

type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Story     StoryConfig     `mapstructure:"story"`
	Poll      PollConfig      `mapstructure:"poll"`
	Narration NarrationConfig `mapstructure:"narration"`
	TTS       TTSConfig       `mapstructure:"tts"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Mode    string        `mapstructure:"mode"`
}

type StoryConfig struct {
	MaxPages int `mapstructure:"max_pages"`
}

type PollConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	EnableOnFailure bool          `mapstructure:"enable_on_failure"`
}

type NarrationConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Language       string        `mapstructure:"language"`
	VoiceLanguage  string        `mapstructure:"voice_language"`
	Rate           float64       `mapstructure:"rate"`
	Pitch          float64       `mapstructure:"pitch"`
	ToggleCooldown time.Duration `mapstructure:"toggle_cooldown"`
}

type TTSConfig struct {
	Type      string  `mapstructure:"type"`
	Voice     string  `mapstructure:"voice"`
	Volume    float64 `mapstructure:"volume"`
	CachePath string  `mapstructure:"cache_path"`
}

type AudioConfig struct {
	CacheDir string `mapstructure:"cache_dir"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Init points viper at the config file and environment.
func Init() {
	viper.SetConfigName("picturebook")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.picturebook")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("PICTUREBOOK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	SetDefaults()
}

func SetDefaults() {
	cacheRoot := filepath.Join(userCacheDir(), "picturebook")

	viper.SetDefault("api.base_url", "http://localhost:8080")
	viper.SetDefault("api.timeout", 60*time.Second)
	viper.SetDefault("api.mode", ModeSplit)

	viper.SetDefault("story.max_pages", 3)

	viper.SetDefault("poll.interval", 3*time.Second)
	viper.SetDefault("poll.enable_on_failure", false)

	viper.SetDefault("narration.enabled", true)
	viper.SetDefault("narration.language", "ja")
	viper.SetDefault("narration.voice_language", "ja-JP")
	viper.SetDefault("narration.rate", 0.8)
	viper.SetDefault("narration.pitch", 1.2)
	viper.SetDefault("narration.toggle_cooldown", time.Second)

	viper.SetDefault("tts.type", "auto") // Auto-select best engine
	viper.SetDefault("tts.voice", "default")
	viper.SetDefault("tts.volume", 0.8)
	viper.SetDefault("tts.cache_path", filepath.Join(cacheRoot, "tts"))

	viper.SetDefault("audio.cache_dir", filepath.Join(cacheRoot, "audio"))

	viper.SetDefault("log.level", "info")
	viper.SetDefault("metrics.addr", "")
}

// Load reads the config file, if any, and returns the merged settings.
func Load() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return Decode(viper.GetViper())
}

// Decode unmarshals v into a Config and validates it.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.API.Mode {
	case ModeSplit, ModeLegacy:
	default:
		return fmt.Errorf("api.mode must be %q or %q, got %q", ModeSplit, ModeLegacy, c.API.Mode)
	}
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.Story.MaxPages < 1 {
		return fmt.Errorf("story.max_pages must be positive, got %d", c.Story.MaxPages)
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive, got %s", c.Poll.Interval)
	}
	return nil
}

func userCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	return os.TempDir()
}
