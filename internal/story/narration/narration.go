// Package narration reads page text aloud, preferring audio generated by the
// story service and falling back to local speech synthesis.
package narration

import (
	"context"
	"sync"
	"time"

	"picturebook/internal/metrics"
	"picturebook/internal/story/media"

	"github.com/sirupsen/logrus"
)

const (
	tierAudio     = "audio"
	tierSynthesis = "synthesis"
)

// AudioSource generates narration audio for text and returns its URL.
type AudioSource interface {
	GenerateAudio(ctx context.Context, text, language string) (string, error)
}

// Player plays remote narration audio.
type Player interface {
	Play(ctx context.Context, url string, ev media.Events) (media.Handle, error)
}

// Synthesizer speaks text locally.
type Synthesizer interface {
	Speak(u media.Utterance, ev media.Events) (media.Handle, error)
	Cancel() error
}

type Options struct {
	Enabled bool
	// Language is sent to the audio generator ("ja").
	Language string
	// VoiceLanguage is used for local synthesis ("ja-JP").
	VoiceLanguage string
	Rate          float64
	Pitch         float64
	// Cooldown keeps the read-aloud control disabled after a toggle.
	Cooldown time.Duration
}

// State is a snapshot of the narration state.
type State struct {
	Enabled        bool
	Playing        bool
	Narrated       bool
	ControlEnabled bool
}

// Controller owns narration for the current page. At most one playback
// handle is alive at any time.
type Controller struct {
	audio   AudioSource
	player  Player
	synth   Synthesizer
	opts    Options
	metrics *metrics.Metrics
	log     *logrus.Entry

	onChange func(State)

	mu             sync.Mutex
	enabled        bool
	narrated       bool
	playing        bool
	active         bool
	controlEnabled bool
	coolingDown    bool
	handle         media.Handle
	cancel         context.CancelFunc
	gen            uint64
	text           string
	cooldown       *time.Timer
}

type Option func(*Controller)

// WithMetrics records narration tiers into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithStateListener registers fn to receive every state change.
func WithStateListener(fn func(State)) Option {
	return func(c *Controller) {
		c.onChange = fn
	}
}

func New(audio AudioSource, player Player, synth Synthesizer, opts Options, options ...Option) *Controller {
	c := &Controller{
		audio:          audio,
		player:         player,
		synth:          synth,
		opts:           opts,
		enabled:        opts.Enabled,
		controlEnabled: true,
		log:            logrus.WithField("component", "narration"),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// State returns the current narration state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	return State{
		Enabled:        c.enabled,
		Playing:        c.playing,
		Narrated:       c.narrated,
		ControlEnabled: c.controlEnabled,
	}
}

func (c *Controller) notify() {
	if c.onChange == nil {
		return
	}
	c.onChange(c.State())
}

// ReadPage narrates text once per page. It does nothing when narration is
// disabled or the page was already narrated; while a narration is running
// it restarts instead of stacking a second playback.
func (c *Controller) ReadPage(text string) {
	c.mu.Lock()
	c.text = text
	if !c.enabled || text == "" {
		c.mu.Unlock()
		return
	}

	var stop func()
	if c.active {
		stop = c.stopLocked()
	} else if c.narrated {
		c.mu.Unlock()
		return
	}
	start := c.startLocked(text)
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	start()
	c.notify()
}

// ResetPage stops narration and forgets that the page was narrated. Called
// on every page transition.
func (c *Controller) ResetPage() {
	c.mu.Lock()
	stop := c.stopLocked()
	c.narrated = false
	c.text = ""
	c.mu.Unlock()

	stop()
	c.notify()
}

// Stop cancels any narration. Safe to call when nothing is playing.
func (c *Controller) Stop() {
	c.mu.Lock()
	wasActive := c.active
	stop := c.stopLocked()
	c.mu.Unlock()

	stop()
	if wasActive {
		c.notify()
	}
}

// Toggle switches narration off while it is running, or on (re-reading the
// current page) while it is not. It reports false when the control is still
// cooling down from the previous toggle.
func (c *Controller) Toggle() bool {
	c.mu.Lock()
	if !c.controlEnabled {
		c.mu.Unlock()
		return false
	}
	c.controlEnabled = false
	c.coolingDown = true
	if c.cooldown != nil {
		c.cooldown.Stop()
	}
	c.cooldown = time.AfterFunc(c.opts.Cooldown, c.enableControl)

	var after func()
	if c.active {
		after = c.stopLocked()
		c.enabled = false
		c.log.Debug("Narration switched off")
	} else {
		c.enabled = true
		c.narrated = false
		if c.text != "" {
			after = c.startLocked(c.text)
		}
		c.log.Debug("Narration switched on")
	}
	c.mu.Unlock()

	if after != nil {
		after()
	}
	c.notify()
	return true
}

func (c *Controller) enableControl() {
	c.mu.Lock()
	c.coolingDown = false
	c.controlEnabled = true
	c.mu.Unlock()
	c.notify()
}

// Close stops narration and pending timers.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.cooldown != nil && c.cooldown.Stop() {
		c.coolingDown = false
		c.controlEnabled = true
	}
	c.mu.Unlock()
	c.Stop()
}

// startLocked marks the page narrated and returns the function launching the
// audio request for a fresh generation.
func (c *Controller) startLocked(text string) func() {
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.active = true
	c.narrated = true

	return func() {
		go c.run(ctx, gen, text)
	}
}

// stopLocked invalidates the current generation and returns the function
// releasing its resources. The returned function must run without c.mu held.
func (c *Controller) stopLocked() func() {
	c.gen++
	h := c.handle
	cancel := c.cancel
	c.handle = nil
	c.cancel = nil
	c.active = false
	c.playing = false

	return func() {
		if cancel != nil {
			cancel()
		}
		if h != nil {
			if err := h.Stop(); err != nil {
				c.log.WithError(err).Debug("Failed to stop narration audio")
			}
		}
		if err := c.synth.Cancel(); err != nil {
			c.log.WithError(err).Debug("Failed to cancel speech synthesis")
		}
	}
}

// current reports whether gen is still the live generation.
func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Controller) run(ctx context.Context, gen uint64, text string) {
	url, err := c.audio.GenerateAudio(ctx, text, c.opts.Language)

	// Switching narration off while the request was in flight stops the
	// generation, so a stale gen also covers the disabled case.
	if !c.current(gen) {
		c.log.Debug("Discarding narration audio for a stopped narration")
		return
	}

	if err != nil {
		c.log.WithError(err).Info("Narration audio unavailable, using speech synthesis")
		c.synthesize(gen, text)
		return
	}

	h, err := c.player.Play(ctx, url, c.events(gen, tierAudio, text))
	if err != nil {
		c.log.WithError(err).WithField("url", url).Warn("Failed to play narration audio, using speech synthesis")
		c.synthesize(gen, text)
		return
	}
	c.attach(gen, h)
}

func (c *Controller) synthesize(gen uint64, text string) {
	if !c.current(gen) {
		return
	}

	u := media.Utterance{
		Text:     text,
		Language: c.opts.VoiceLanguage,
		Rate:     c.opts.Rate,
		Pitch:    c.opts.Pitch,
	}
	h, err := c.synth.Speak(u, c.events(gen, tierSynthesis, text))
	if err != nil {
		c.log.WithError(err).Warn("Speech synthesis failed")
		c.finish(gen)
		return
	}
	c.attach(gen, h)
}

// attach records h as the live handle, or stops it when gen was superseded
// while playback was starting.
func (c *Controller) attach(gen uint64, h media.Handle) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		h.Stop()
		return
	}
	if c.active {
		c.handle = h
	}
	c.mu.Unlock()
}

func (c *Controller) events(gen uint64, tier, text string) media.Events {
	return media.Events{
		OnStart: func() {
			c.mu.Lock()
			if gen != c.gen {
				c.mu.Unlock()
				return
			}
			c.playing = true
			c.mu.Unlock()

			c.metrics.Narration(tier)
			c.log.WithField("tier", tier).Debug("Narration started")
			c.notify()
		},
		OnEnd: func() {
			c.finish(gen)
		},
		OnError: func(err error) {
			if tier != tierAudio {
				c.log.WithError(err).Warn("Speech synthesis error")
				c.finish(gen)
				return
			}

			c.mu.Lock()
			if gen != c.gen {
				c.mu.Unlock()
				return
			}
			c.handle = nil
			c.playing = false
			c.mu.Unlock()

			c.log.WithError(err).Warn("Narration audio error, using speech synthesis")
			go c.synthesize(gen, text)
		},
	}
}

// finish ends the generation's narration and re-enables the control unless
// a toggle cooldown is still running.
func (c *Controller) finish(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.active = false
	c.playing = false
	c.handle = nil
	c.cancel = nil
	// a pending toggle cooldown re-enables the control itself
	if !c.coolingDown {
		c.controlEnabled = true
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.notify()
}
