// Package audio plays narration audio files through the system speaker.
package audio

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"picturebook/internal/story/media"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/sirupsen/logrus"
)

var (
	speakerMu   sync.Mutex
	speakerRate beep.SampleRate
)

// initSpeaker (re)initializes the speaker only when the sample rate changes.
func initSpeaker(rate beep.SampleRate) error {
	speakerMu.Lock()
	defer speakerMu.Unlock()

	if speakerRate == rate {
		return nil
	}
	if err := speaker.Init(rate, rate.N(time.Second/10)); err != nil {
		return fmt.Errorf("failed to init speaker: %w", err)
	}
	speakerRate = rate
	return nil
}

// Player downloads mp3 narration into a local cache and plays it.
type Player struct {
	cacheDir   string
	httpClient *http.Client
	log        *logrus.Entry
}

// NewPlayer creates a player caching downloads under cacheDir.
func NewPlayer(cacheDir string, timeout time.Duration) *Player {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		logrus.WithError(err).Warn("Failed to create audio cache directory")
	}
	return &Player{
		cacheDir:   cacheDir,
		httpClient: &http.Client{Timeout: timeout},
		log:        logrus.WithField("component", "audio"),
	}
}

// Play fetches the audio at url and starts playing it. Download and decode
// failures are returned before any event fires.
func (p *Player) Play(ctx context.Context, url string, ev media.Events) (media.Handle, error) {
	path, err := p.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return PlayFile(path, ev)
}

// cachePath maps an audio URL to its cache file.
func (p *Player) cachePath(url string) string {
	sum := fmt.Sprintf("%x", md5.Sum([]byte(url)))
	return filepath.Join(p.cacheDir, sum[:16]+".mp3")
}

func (p *Player) fetch(ctx context.Context, url string) (string, error) {
	path := p.cachePath(url)
	if _, err := os.Stat(path); err == nil {
		p.log.WithField("file", path).Debug("Using cached narration audio")
		return path, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create audio request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("audio download returned status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(p.cacheDir, "download-*.mp3")
	if err != nil {
		return "", fmt.Errorf("failed to create audio cache file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write audio cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write audio cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to store audio cache file: %w", err)
	}

	p.log.WithFields(logrus.Fields{"url": url, "file": path}).Debug("Cached narration audio")
	return path, nil
}

// PlayFile decodes the mp3 at path and plays it on the speaker.
func PlayFile(path string, ev media.Events) (media.Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio %s: %w", path, err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode mp3 %s: %w", path, err)
	}

	if err := initSpeaker(format.SampleRate); err != nil {
		streamer.Close()
		return nil, err
	}

	pb := &playback{
		streamer: streamer,
		ctrl:     &beep.Ctrl{Streamer: streamer},
	}
	speaker.Play(beep.Seq(pb.ctrl, beep.Callback(func() {
		if pb.finish() {
			ev.End()
		}
	})))
	ev.Start()

	return pb, nil
}

type playback struct {
	mu       sync.Mutex
	done     bool
	streamer beep.StreamSeekCloser
	ctrl     *beep.Ctrl
}

// finish marks the playback as over and reports whether it ended naturally.
func (pb *playback) finish() bool {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.done {
		return false
	}
	pb.done = true
	pb.streamer.Close()
	return true
}

func (pb *playback) Stop() error {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.done {
		return nil
	}
	pb.done = true

	speaker.Lock()
	pb.ctrl.Streamer = nil
	speaker.Unlock()

	return pb.streamer.Close()
}

// GetCacheStats reports the downloaded narration audio cache.
func (p *Player) GetCacheStats() (map[string]interface{}, error) {
	return CacheStats(p.cacheDir)
}

// ClearCache removes all downloaded narration audio.
func (p *Player) ClearCache() error {
	if err := os.RemoveAll(p.cacheDir); err != nil {
		return fmt.Errorf("failed to clear audio cache: %w", err)
	}
	return os.MkdirAll(p.cacheDir, 0755)
}

// CacheStats walks dir counting cached mp3 files.
func CacheStats(dir string) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var totalFiles int64
	var totalSize int64

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Continue walking despite errors
		}
		if !info.IsDir() && strings.HasSuffix(strings.ToLower(info.Name()), ".mp3") {
			totalFiles++
			totalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	stats["cache_directory"] = dir
	stats["cached_files"] = totalFiles
	stats["total_size_mb"] = float64(totalSize) / (1024 * 1024)
	return stats, nil
}
