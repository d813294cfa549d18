// Cross-platform eSpeak implementation
package tts

import (
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"picturebook/internal/story/media"

	"github.com/sirupsen/logrus"
)

// ESpeakEngine implements TTS using eSpeak/eSpeak-NG
type ESpeakEngine struct {
	path    string
	config  Config
	current *espeakRun
	mutex   sync.Mutex
}

type espeakRun struct {
	cmd       *exec.Cmd
	cancelled bool
}

// newESpeakEngine creates a new eSpeak TTS engine
func newESpeakEngine(config Config) (*ESpeakEngine, error) {
	espeakPath, err := findESpeakExecutable()
	if err != nil {
		return nil, fmt.Errorf("eSpeak not found: %w", err)
	}

	if err := exec.Command(espeakPath, "--version").Run(); err != nil {
		return nil, fmt.Errorf("eSpeak test failed: %w", err)
	}

	return &ESpeakEngine{
		path:   espeakPath,
		config: config,
	}, nil
}

func findESpeakExecutable() (string, error) {
	candidates := []string{"espeak-ng", "espeak"}

	for _, candidate := range candidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("eSpeak executable not found in PATH")
}

// espeakArgs maps an utterance onto eSpeak flags. Rate and pitch are
// multipliers of eSpeak's defaults (175 wpm, pitch 50).
func espeakArgs(config Config, u media.Utterance) []string {
	args := []string{}

	voice := config.Voice
	if voice == "" || voice == "default" {
		voice = espeakLanguage(u.Language)
	}
	if voice != "" {
		args = append(args, "-v", voice)
	}

	rate := u.Rate
	if rate <= 0 {
		rate = 1.0
	}
	args = append(args, "-s", strconv.Itoa(int(math.Round(175*rate))))

	if u.Pitch > 0 {
		pitch := int(math.Round(50 * u.Pitch))
		if pitch > 99 {
			pitch = 99
		}
		args = append(args, "-p", strconv.Itoa(pitch))
	}

	volume := config.Volume
	if volume <= 0 {
		volume = 1.0
	}
	args = append(args, "-a", strconv.Itoa(int(math.Round(100*volume))))

	return append(args, u.Text)
}

// espeakLanguage turns a BCP-47 tag like "ja-JP" into an eSpeak voice ("ja").
func espeakLanguage(tag string) string {
	lang, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(lang)
}

func (e *ESpeakEngine) Speak(u media.Utterance, ev media.Events) (media.Handle, error) {
	e.mutex.Lock()
	e.cancelLocked()

	run := &espeakRun{cmd: exec.Command(e.path, espeakArgs(e.config, u)...)}
	if err := run.cmd.Start(); err != nil {
		e.mutex.Unlock()
		return nil, fmt.Errorf("failed to start eSpeak: %w", err)
	}
	e.current = run
	e.mutex.Unlock()

	ev.Start()

	go func() {
		err := run.cmd.Wait()

		e.mutex.Lock()
		cancelled := run.cancelled
		if e.current == run {
			e.current = nil
		}
		e.mutex.Unlock()

		if cancelled {
			return
		}
		if err != nil {
			logrus.WithError(err).Warn("eSpeak exited with error")
			ev.Error(err)
			return
		}
		ev.End()
	}()

	return media.HandleFunc(func() error {
		e.mutex.Lock()
		defer e.mutex.Unlock()
		return e.stopLocked(run)
	}), nil
}

func (e *ESpeakEngine) Cancel() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.cancelLocked()
}

func (e *ESpeakEngine) cancelLocked() error {
	if e.current == nil {
		return nil
	}
	return e.stopLocked(e.current)
}

func (e *ESpeakEngine) stopLocked(run *espeakRun) error {
	if e.current == run {
		e.current = nil
	}
	if run.cancelled {
		return nil
	}
	run.cancelled = true
	if run.cmd.Process == nil {
		return nil
	}
	return terminateProcess(run.cmd)
}

func (e *ESpeakEngine) SetVoice(voice string) error {
	voices, err := e.GetAvailableVoices()
	if err != nil {
		return err
	}

	voiceFound := false
	for _, v := range voices {
		if v == voice {
			voiceFound = true
			break
		}
	}

	if !voiceFound {
		return fmt.Errorf("voice '%s' not available", voice)
	}

	e.mutex.Lock()
	e.config.Voice = voice
	e.mutex.Unlock()
	return nil
}

func (e *ESpeakEngine) IsPlaying() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.current != nil
}

func (e *ESpeakEngine) GetAvailableVoices() ([]string, error) {
	output, err := exec.Command(e.path, "--voices").Output()
	if err != nil {
		return nil, err
	}

	return parseESpeakVoices(string(output)), nil
}

func parseESpeakVoices(output string) []string {
	lines := strings.Split(output, "\n")
	voices := make([]string, 0)

	for i, line := range lines {
		// Skip header line
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}

		// Pty Language Age/Gender VoiceName File Other Languages
		fields := strings.Fields(line)
		if len(fields) >= 4 {
			voices = append(voices, fields[3])
		}
	}

	return voices
}
