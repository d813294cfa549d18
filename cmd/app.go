package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"picturebook/internal/cli/scheme/colours"
	"picturebook/internal/cli/view"
	"picturebook/internal/config"
	"picturebook/internal/metrics"
	"picturebook/internal/story/agent"
	"picturebook/internal/story/audio"
	"picturebook/internal/story/narration"
	"picturebook/internal/story/nest"
	"picturebook/internal/story/poller"
	"picturebook/internal/story/tts"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// App wires the story controller to the terminal.
type App struct {
	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	client   *agent.Client
	player   *audio.Player
	engine   tts.Engine
	narrator *narration.Controller
	poller   *poller.Poller
	view     *view.Terminal
	story    *nest.Controller

	in  io.Reader
	out io.Writer

	metricsServer *http.Server
}

func NewApp(cfg *config.Config, in io.Reader, out io.Writer) *App {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	engine, err := tts.NewEngine(tts.Config{
		Type:      cfg.TTS.Type,
		Voice:     cfg.TTS.Voice,
		Volume:    cfg.TTS.Volume,
		CachePath: cfg.TTS.CachePath,
	})
	if err != nil {
		logrus.WithError(err).Warn("failed to create tts engine, narration falls back to text output")
		engine = tts.NewMockTTSEngine(tts.Config{Voice: cfg.TTS.Voice})
	}

	client := agent.NewClient(cfg.API.BaseURL, cfg.API.Timeout, agent.WithMetrics(m))
	player := audio.NewPlayer(cfg.Audio.CacheDir, cfg.API.Timeout)
	terminal := view.NewTerminal(out, view.WithMarkdown(view.NewMarkdown()))

	narrator := narration.New(client, player, engine, narration.Options{
		Enabled:       cfg.Narration.Enabled,
		Language:      cfg.Narration.Language,
		VoiceLanguage: cfg.Narration.VoiceLanguage,
		Rate:          cfg.Narration.Rate,
		Pitch:         cfg.Narration.Pitch,
		Cooldown:      cfg.Narration.ToggleCooldown,
	}, narration.WithMetrics(m), narration.WithStateListener(terminal.ShowNarration))

	imagePoller := poller.New(client, cfg.Story.MaxPages,
		poller.WithInterval(cfg.Poll.Interval),
		poller.WithMetrics(m),
	)

	controller := nest.NewController(client, narrator, imagePoller, terminal,
		nest.WithMode(nest.Mode(cfg.API.Mode)),
		nest.WithMaxPages(cfg.Story.MaxPages),
		nest.WithEnableOnPollFailure(cfg.Poll.EnableOnFailure),
		nest.WithMetrics(m),
	)

	return &App{
		cfg:      cfg,
		registry: registry,
		metrics:  m,
		client:   client,
		player:   player,
		engine:   engine,
		narrator: narrator,
		poller:   imagePoller,
		view:     terminal,
		story:    controller,
		in:       in,
		out:      out,
	}
}

// ServeMetrics exposes prometheus metrics when metrics.addr is configured.
func (a *App) ServeMetrics() {
	if a.cfg.Metrics.Addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.registry))
	a.metricsServer = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logrus.WithField("addr", a.cfg.Metrics.Addr).Info("Serving metrics")
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("metrics server stopped")
		}
	}()
}

// Close stops narration, polling and background servers.
func (a *App) Close() {
	a.poller.Stop()
	a.narrator.Close()
	a.view.Close()
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.metricsServer.Shutdown(ctx)
	}
}

// Run drives an interactive session. A non-empty topic starts a story right
// away; otherwise the user is asked for one.
func (a *App) Run(ctx context.Context, topic string) error {
	reader := bufio.NewReader(a.in)

	if topic != "" {
		a.start(ctx, topic)
	} else {
		a.view.ShowIdle()
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input != "" {
			if quit := a.handle(ctx, input); quit {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
	}
}

func (a *App) start(ctx context.Context, topic string) {
	if err := a.story.StartStory(ctx, topic); err != nil {
		logrus.WithError(err).Debug("story did not start")
	}
}

// handle executes one line of input and reports whether to quit.
func (a *App) handle(ctx context.Context, input string) bool {
	if input == "q" || input == "quit" {
		colours.Warning.Fprintln(a.out, "👋 またね！おやすみなさい 🌙")
		return true
	}

	if a.story.State() == nest.StateIdle {
		a.start(ctx, input)
		return false
	}

	switch strings.ToLower(input) {
	case "c", "continue":
		a.report(a.story.ContinueStory(ctx))
	case "r", "read":
		if !a.narrator.Toggle() {
			colours.Info.Fprintln(a.out, "ちょっと待ってね...")
		}
	case "n", "new":
		a.story.NewStory()
	default:
		a.choose(ctx, input)
	}
	return false
}

func (a *App) choose(ctx context.Context, input string) {
	n, err := strconv.Atoi(input)
	page, ok := a.story.Page()
	if err != nil || !ok || n < 1 || n > len(page.Choices) {
		colours.Info.Fprintln(a.out, "ℹ️  [c] つづき  [r] 読み上げ  [n] 新しいお話  [番号] 選択  [q] 終了")
		return
	}
	a.report(a.story.SelectChoice(ctx, page.Choices[n-1], n-1))
}

func (a *App) report(err error) {
	switch {
	case err == nil:
	case errors.Is(err, nest.ErrContinuePending):
		colours.Warning.Fprintln(a.out, "🎨 次のページの絵を描いています...もう少し待ってね")
	case errors.Is(err, nest.ErrStoryComplete):
		colours.Info.Fprintln(a.out, "📕 お話はおしまいです。[n] で新しいお話を始めよう")
	case errors.Is(err, nest.ErrBusy):
		colours.Info.Fprintln(a.out, "⏳ 読み込み中です")
	case errors.Is(err, nest.ErrNoStory):
		colours.Info.Fprintln(a.out, "お話のテーマを入力してください")
	default:
		logrus.WithError(err).Debug("story action failed")
	}
}
