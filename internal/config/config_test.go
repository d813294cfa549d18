package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	cfg, err := Decode(viper.GetViper())
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
	require.Equal(t, 60*time.Second, cfg.API.Timeout)
	require.Equal(t, ModeSplit, cfg.API.Mode)
	require.Equal(t, 3, cfg.Story.MaxPages)
	require.Equal(t, 3*time.Second, cfg.Poll.Interval)
	require.False(t, cfg.Poll.EnableOnFailure)
	require.True(t, cfg.Narration.Enabled)
	require.Equal(t, "ja", cfg.Narration.Language)
	require.Equal(t, "ja-JP", cfg.Narration.VoiceLanguage)
	require.InDelta(t, 0.8, cfg.Narration.Rate, 1e-9)
	require.InDelta(t, 1.2, cfg.Narration.Pitch, 1e-9)
	require.Equal(t, time.Second, cfg.Narration.ToggleCooldown)
	require.Equal(t, "auto", cfg.TTS.Type)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "audio", filepath.Base(cfg.Audio.CacheDir))
}

func TestConfigFileOverridesDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	content := "api:\n  mode: legacy\n  timeout: 5s\npoll:\n  interval: 500ms\n  enable_on_failure: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "picturebook.yaml"), []byte(content), 0o644))

	viper.SetConfigName("picturebook")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(dir)
	SetDefaults()

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ModeLegacy, cfg.API.Mode)
	require.Equal(t, 5*time.Second, cfg.API.Timeout)
	require.Equal(t, 500*time.Millisecond, cfg.Poll.Interval)
	require.True(t, cfg.Poll.EnableOnFailure)
	require.Equal(t, 3, cfg.Story.MaxPages)
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("PICTUREBOOK_API_BASE_URL", "http://story.local:9000")
	t.Setenv("PICTUREBOOK_NARRATION_ENABLED", "false")

	viper.AddConfigPath(t.TempDir())
	Init()

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "http://story.local:9000", cfg.API.BaseURL)
	require.False(t, cfg.Narration.Enabled)
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("api.mode", "graphql")

	_, err := Decode(viper.GetViper())
	require.Error(t, err)
	require.Contains(t, err.Error(), "api.mode")
}
