package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"picturebook/internal/cli/scheme/colours"
	"picturebook/internal/config"
	"picturebook/internal/story/tts"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:   "picturebook",
		Short: "🐰 An interactive, narrated picture book",
		Long: `
┌─────────────────────────────────────┐
│  🐰 みまもりうさぎの読み聞かせ 📖   │
│  Interactive picture-book stories   │
│  Read aloud for kids 👶✨          │
└─────────────────────────────────────┘

Picturebook asks a storytelling service for a short illustrated story,
shows it page by page and reads every page aloud. 🌙
		`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			configureLogging(cfg, viper.GetBool("verbose"))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cfg, "")
		},
	}

	readCmd := &cobra.Command{
		Use:   "read [topic]",
		Short: "📖 Start a story",
		Long:  "Start an interactive story about a topic, or pick one when asked",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cfg, strings.Join(args, " "))
		},
	}

	voicesCmd := &cobra.Command{
		Use:   "voices",
		Short: "🎤 List voices of the speech engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listVoices(cfg)
		},
	}

	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "⚙️ Show current settings",
		Run: func(cmd *cobra.Command, args []string) {
			showSettings(cfg)
		},
	}

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "🗂️ Manage cached narration audio",
	}
	cacheCmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show cache statistics",
			RunE: func(cmd *cobra.Command, args []string) error {
				return cacheStatus(cfg)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove cached audio",
			RunE: func(cmd *cobra.Command, args []string) error {
				return cacheClear(cfg)
			},
		},
	)

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("api", "", "Story service base URL")
	rootCmd.PersistentFlags().Bool("legacy", false, "Use the combined storytelling endpoint")
	rootCmd.PersistentFlags().Bool("no-narration", false, "Do not read pages aloud automatically")
	rootCmd.PersistentFlags().String("engine", "", "Speech engine: auto, espeak, googleclassic, mock")

	bindFlags(rootCmd)

	rootCmd.AddCommand(readCmd, voicesCmd, settingsCmd, cacheCmd)

	if err := rootCmd.Execute(); err != nil {
		colours.Error.Printf("❌ Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	config.Init()
}

func bindFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	_ = viper.BindPFlag("verbose", flags.Lookup("verbose"))
	_ = viper.BindPFlag("api.base_url", flags.Lookup("api"))
	_ = viper.BindPFlag("tts.type", flags.Lookup("engine"))

	cobra.OnInitialize(func() {
		if legacy, _ := flags.GetBool("legacy"); legacy {
			viper.Set("api.mode", config.ModeLegacy)
		}
		if off, _ := flags.GetBool("no-narration"); off {
			viper.Set("narration.enabled", false)
		}
	})
}

func configureLogging(cfg *config.Config, verbose bool) {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if verbose {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)
}

func runRead(cfg *config.Config, topic string) error {
	app := NewApp(cfg, os.Stdin, os.Stdout)
	app.ServeMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
		app.Close()
		fmt.Println("\n" + colours.Warning.Sprint("👋 またね！おやすみなさい 🌙"))
		os.Exit(0)
	}()

	defer app.Close()
	return app.Run(ctx, topic)
}

func listVoices(cfg *config.Config) error {
	engine, err := tts.NewEngine(tts.Config{
		Type:      cfg.TTS.Type,
		Voice:     cfg.TTS.Voice,
		Volume:    cfg.TTS.Volume,
		CachePath: cfg.TTS.CachePath,
	})
	if err != nil {
		return fmt.Errorf("failed to create tts engine: %w", err)
	}

	voices, err := engine.GetAvailableVoices()
	if err != nil {
		return fmt.Errorf("failed to list voices: %w", err)
	}

	fmt.Println()
	colours.Title.Println("🎤 Available Voices 🎤")
	fmt.Println()
	for _, v := range voices {
		fmt.Printf("  • %s\n", v)
	}
	fmt.Println()
	colours.Info.Printf("Engines on this machine: %v\n", tts.GetAvailableEngines())
	return nil
}

func showSettings(cfg *config.Config) {
	fmt.Println()
	colours.Title.Println("⚙️ Settings ⚙️")
	fmt.Println()

	colours.Prompt.Println("📡 Story service:")
	fmt.Printf("  • URL: %s (%s mode)\n", cfg.API.BaseURL, cfg.API.Mode)
	fmt.Printf("  • Timeout: %s\n", cfg.API.Timeout)
	fmt.Printf("  • Pages per story: %d\n", cfg.Story.MaxPages)
	fmt.Printf("  • Image check interval: %s\n", cfg.Poll.Interval)
	fmt.Println()

	colours.Prompt.Println("🎤 Narration:")
	fmt.Printf("  • Read aloud: %t\n", cfg.Narration.Enabled)
	fmt.Printf("  • Language: %s (voice %s)\n", cfg.Narration.Language, cfg.Narration.VoiceLanguage)
	fmt.Printf("  • Rate: %.1fx  Pitch: %.1f\n", cfg.Narration.Rate, cfg.Narration.Pitch)
	fmt.Printf("  • Engine: %s  Voice: %s  Volume: %.0f%%\n", cfg.TTS.Type, cfg.TTS.Voice, cfg.TTS.Volume*100)
	fmt.Println()

	if file := viper.ConfigFileUsed(); file != "" {
		colours.Info.Printf("💡 Loaded from %s\n", file)
	} else {
		colours.Info.Println("💡 Put overrides in $HOME/.picturebook/picturebook.yaml or PICTUREBOOK_* variables")
	}
}

func cacheStatus(cfg *config.Config) error {
	app := NewApp(cfg, os.Stdin, os.Stdout)
	defer app.Close()

	fmt.Println()
	colours.Title.Println("🗂️ Audio Cache 🗂️")
	stats, err := app.player.GetCacheStats()
	if err != nil {
		return fmt.Errorf("failed to read audio cache: %w", err)
	}
	printStats("Narration audio", stats)

	if cacheable, ok := app.engine.(tts.CacheableEngine); ok {
		stats, err := cacheable.GetCacheStats()
		if err != nil {
			return fmt.Errorf("failed to read speech cache: %w", err)
		}
		printStats("Synthesized speech", stats)
	}
	return nil
}

func cacheClear(cfg *config.Config) error {
	app := NewApp(cfg, os.Stdin, os.Stdout)
	defer app.Close()

	if err := app.player.ClearCache(); err != nil {
		return err
	}
	if cacheable, ok := app.engine.(tts.CacheableEngine); ok {
		if err := cacheable.ClearCache(); err != nil {
			return err
		}
	}
	colours.Success.Println("✅ Cache cleared")
	return nil
}

func printStats(title string, stats map[string]interface{}) {
	colours.Prompt.Printf("%s:\n", title)
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  • %s: %v\n", k, stats[k])
	}
}
