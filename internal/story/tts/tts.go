// Package tts provides local speech synthesis engines used when the story
// service cannot provide narration audio.
package tts

import "picturebook/internal/story/media"

type Config struct {
	Type      string
	Voice     string
	Volume    float64
	CachePath string
}

// Engine speaks utterances one at a time. Speaking while a previous utterance
// is still running cancels the previous one.
type Engine interface {
	Speak(u media.Utterance, ev media.Events) (media.Handle, error)
	// Cancel stops whatever the engine is speaking. Safe to call when idle.
	Cancel() error
	IsPlaying() bool
	SetVoice(voice string) error
	GetAvailableVoices() ([]string, error)
}

// CacheableEngine extends Engine with cache management capabilities
type CacheableEngine interface {
	Engine
	GetCacheStats() (map[string]interface{}, error)
	ClearCache() error
}
