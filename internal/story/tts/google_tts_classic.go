package tts

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"picturebook/internal/story/audio"
	"picturebook/internal/story/media"

	"cloud.google.com/go/texttospeech/apiv1"
	"github.com/sirupsen/logrus"
	texttospeechpb "google.golang.org/genproto/googleapis/cloud/texttospeech/v1"
)

// GoogleClassicTTSEngine synthesizes speech with Google Cloud Text-to-Speech,
// caches the mp3 on disk and plays it through the speaker.
type GoogleClassicTTSEngine struct {
	client       *texttospeech.Client
	ctx          context.Context
	voice        string
	volume       float64
	cacheRootDir string

	mu      sync.Mutex
	current *googleRun
}

func newGoogleClassicTTSEngine(config Config) (*GoogleClassicTTSEngine, error) {
	ctx := context.Background()
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create TTS client: %w", err)
	}

	if err := os.MkdirAll(config.CachePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	return &GoogleClassicTTSEngine{
		client:       client,
		ctx:          ctx,
		voice:        config.Voice,
		volume:       config.Volume,
		cacheRootDir: config.CachePath,
	}, nil
}

func (g *GoogleClassicTTSEngine) Speak(u media.Utterance, ev media.Events) (media.Handle, error) {
	if err := g.Cancel(); err != nil {
		logrus.WithError(err).Debug("Failed to cancel previous utterance")
	}

	path, err := g.synthesize(u)
	if err != nil {
		return nil, err
	}

	run := &googleRun{}
	g.mu.Lock()
	g.current = run
	g.mu.Unlock()

	h, err := audio.PlayFile(path, media.Events{
		OnStart: ev.OnStart,
		OnEnd: func() {
			g.finish(run)
			ev.End()
		},
		OnError: func(err error) {
			g.finish(run)
			ev.Error(err)
		},
	})
	if err != nil {
		g.finish(run)
		return nil, err
	}

	g.mu.Lock()
	run.playback = h
	cancelled := run.cancelled
	g.mu.Unlock()
	if cancelled {
		h.Stop()
	}

	return media.HandleFunc(func() error {
		return g.stop(run)
	}), nil
}

type googleRun struct {
	playback  media.Handle
	cancelled bool
}

func (g *GoogleClassicTTSEngine) finish(run *googleRun) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == run {
		g.current = nil
	}
}

func (g *GoogleClassicTTSEngine) stop(run *googleRun) error {
	g.mu.Lock()
	if g.current == run {
		g.current = nil
	}
	run.cancelled = true
	h := run.playback
	g.mu.Unlock()

	if h == nil {
		return nil
	}
	return h.Stop()
}

// synthesize returns the cached mp3 for u, calling the API on a cache miss.
func (g *GoogleClassicTTSEngine) synthesize(u media.Utterance) (string, error) {
	voice := g.voiceName()
	key := fmt.Sprintf("%s|%s|%s|%.2f|%.2f", u.Text, voice, u.Language, u.Rate, u.Pitch)
	path := filepath.Join(g.cacheRootDir, "speech_"+md5Sum(key)[:16]+".mp3")

	if _, err := os.Stat(path); err == nil {
		logrus.WithField("file", path).Debug("Using cached synthesized speech")
		return path, nil
	}

	audioCfg := &texttospeechpb.AudioConfig{
		AudioEncoding: texttospeechpb.AudioEncoding_MP3,
	}
	// Chirp voices don't support speakingRate/pitch
	if !strings.Contains(strings.ToLower(voice), "chirp") {
		if u.Rate > 0 {
			audioCfg.SpeakingRate = u.Rate
		}
		if u.Pitch > 0 {
			// pitch is a multiplier; the API takes semitones in [-20, 20]
			audioCfg.Pitch = (u.Pitch - 1) * 10
		}
		audioCfg.VolumeGainDb = volumeGainDb(g.volume)
	}

	selection := &texttospeechpb.VoiceSelectionParams{LanguageCode: u.Language}
	if voice != "" {
		selection.Name = voice
	}

	var out []byte
	for i, chunk := range splitIntoChunks(u.Text, 4800) {
		resp, err := g.client.SynthesizeSpeech(g.ctx, &texttospeechpb.SynthesizeSpeechRequest{
			Input: &texttospeechpb.SynthesisInput{
				InputSource: &texttospeechpb.SynthesisInput_Text{Text: chunk},
			},
			Voice:       selection,
			AudioConfig: audioCfg,
		})
		if err != nil {
			return "", fmt.Errorf("failed to synthesize chunk %d: %w", i, err)
		}
		out = append(out, resp.AudioContent...)
	}

	if err := os.WriteFile(path, out, 0644); err != nil {
		return "", fmt.Errorf("failed to write speech cache %s: %w", path, err)
	}
	logrus.WithField("file", path).Debug("Cached synthesized speech")
	return path, nil
}

func (g *GoogleClassicTTSEngine) voiceName() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.voice == "default" {
		return ""
	}
	return g.voice
}

func (g *GoogleClassicTTSEngine) Cancel() error {
	g.mu.Lock()
	run := g.current
	g.mu.Unlock()

	if run == nil {
		return nil
	}
	return g.stop(run)
}

func (g *GoogleClassicTTSEngine) IsPlaying() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current != nil
}

func (g *GoogleClassicTTSEngine) SetVoice(voice string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.voice = voice
	return nil
}

func (g *GoogleClassicTTSEngine) GetAvailableVoices() ([]string, error) {
	resp, err := g.client.ListVoices(g.ctx, &texttospeechpb.ListVoicesRequest{LanguageCode: "ja-JP"})
	if err != nil {
		return nil, err
	}
	voices := []string{}
	for _, v := range resp.Voices {
		voices = append(voices, v.Name)
	}
	return voices, nil
}

// GetCacheStats returns cache statistics for the current engine
func (g *GoogleClassicTTSEngine) GetCacheStats() (map[string]interface{}, error) {
	return audio.CacheStats(g.cacheRootDir)
}

// ClearCache removes all cached files
func (g *GoogleClassicTTSEngine) ClearCache() error {
	return os.RemoveAll(g.cacheRootDir)
}

// volumeGainDb maps a 0..2 volume multiplier onto the API's dB gain range.
func volumeGainDb(volume float64) float64 {
	switch {
	case volume <= 0:
		return 0
	case volume < 1:
		return -(1 - volume) * 16
	default:
		gain := (volume - 1) * 16
		if gain > 16 {
			gain = 16
		}
		return gain
	}
}

func md5Sum(s string) string {
	h := md5.New()
	io.WriteString(h, s)
	return fmt.Sprintf("%x", h.Sum(nil))
}

func splitIntoChunks(text string, limit int) []string {
	var chunks []string
	runes := []rune(text) // safe for UTF-8
	for i := 0; i < len(runes); i += limit {
		end := i + limit
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
