package tts

import (
	"strings"
	"sync"
	"time"

	"picturebook/internal/story/media"

	"github.com/fatih/color"
)

// MockTTSEngine pretends to speak for a fixed duration.
type MockTTSEngine struct {
	mu       sync.Mutex
	duration time.Duration
	voice    string
	current  *mockUtterance
	spoken   []media.Utterance
}

type mockUtterance struct {
	timer   *time.Timer
	stopped bool
}

func NewMockTTSEngine(c Config) *MockTTSEngine {
	voice := c.Voice
	if voice == "" {
		voice = "default"
	}
	return &MockTTSEngine{
		duration: 2 * time.Second,
		voice:    voice,
	}
}

func (m *MockTTSEngine) Speak(u media.Utterance, ev media.Events) (media.Handle, error) {
	m.mu.Lock()
	m.cancelLocked()
	m.spoken = append(m.spoken, u)
	utt := &mockUtterance{}
	m.current = utt
	m.mu.Unlock()

	words := len(strings.Fields(u.Text))
	color.Yellow("🔊 Reading aloud %d words... (simulated for %v)", words, m.duration)
	ev.Start()

	m.mu.Lock()
	if !utt.stopped {
		utt.timer = time.AfterFunc(m.duration, func() {
			m.mu.Lock()
			if utt.stopped {
				m.mu.Unlock()
				return
			}
			utt.stopped = true
			if m.current == utt {
				m.current = nil
			}
			m.mu.Unlock()
			ev.End()
		})
	}
	m.mu.Unlock()

	return media.HandleFunc(func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.stopLocked(utt)
		return nil
	}), nil
}

func (m *MockTTSEngine) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelLocked()
	return nil
}

func (m *MockTTSEngine) cancelLocked() {
	if m.current != nil {
		m.stopLocked(m.current)
	}
}

func (m *MockTTSEngine) stopLocked(utt *mockUtterance) {
	if !utt.stopped {
		utt.stopped = true
		if utt.timer != nil {
			utt.timer.Stop()
		}
	}
	if m.current == utt {
		m.current = nil
	}
}

func (m *MockTTSEngine) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Spoken returns every utterance passed to Speak so far.
func (m *MockTTSEngine) Spoken() []media.Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]media.Utterance(nil), m.spoken...)
}

func (m *MockTTSEngine) SetVoice(voice string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voice = voice
	return nil
}

func (m *MockTTSEngine) GetAvailableVoices() ([]string, error) {
	return []string{"mock-voice"}, nil
}
