package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"picturebook/internal/config"
	"picturebook/internal/story/nest"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		API:   config.APIConfig{BaseURL: baseURL, Timeout: time.Second, Mode: config.ModeSplit},
		Story: config.StoryConfig{MaxPages: 3},
		Poll:  config.PollConfig{Interval: time.Hour},
		Narration: config.NarrationConfig{
			Enabled:        false,
			Language:       "ja",
			VoiceLanguage:  "ja-JP",
			Rate:           0.8,
			Pitch:          1.2,
			ToggleCooldown: time.Millisecond,
		},
		TTS:   config.TTSConfig{Type: "mock", Voice: "default", Volume: 0.8},
		Audio: config.AudioConfig{CacheDir: "unused"},
		Log:   config.LogConfig{Level: "info"},
	}
}

func TestRunStartsStoryFromTopic(t *testing.T) {
	color.NoColor = true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/agent/storytelling/start", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session_id":  "s1",
			"text_result": "Once upon a time there was a bunny.",
			"image_url":   nil,
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	app := NewApp(testConfig(srv.URL), strings.NewReader("c\nq\n"), &out)
	defer app.Close()

	require.NoError(t, app.Run(context.Background(), "forest"))
	require.Equal(t, nest.StateDisplaying, app.story.State())
	require.Equal(t, "s1", app.story.Session())
	require.Contains(t, out.String(), "bunny")
	require.Contains(t, out.String(), "もう少し待ってね")
}

func TestRunFallsBackToDemoStory(t *testing.T) {
	color.NoColor = true
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	var out bytes.Buffer
	app := NewApp(testConfig(srv.URL), strings.NewReader("forest\nc\nc\nc\nq\n"), &out)
	defer app.Close()

	require.NoError(t, app.Run(context.Background(), ""))
	require.Equal(t, nest.StateTerminal, app.story.State())
	page, ok := app.story.Page()
	require.True(t, ok)
	require.Equal(t, 3, page.PageIndex)
	require.True(t, page.Fallback)
	require.Contains(t, out.String(), "お話はおしまいです")
}

func TestHandleUnknownInputShowsHelp(t *testing.T) {
	color.NoColor = true
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	var out bytes.Buffer
	app := NewApp(testConfig(srv.URL), strings.NewReader(""), &out)
	defer app.Close()

	app.start(context.Background(), "forest")
	require.False(t, app.handle(context.Background(), "9"))
	require.Contains(t, out.String(), "[番号] 選択")
	require.True(t, app.handle(context.Background(), "q"))
}
