package narration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"picturebook/internal/story/media"

	"github.com/stretchr/testify/require"
)

type fakeAudio struct {
	mu    sync.Mutex
	url   string
	err   error
	gate  chan struct{}
	calls []string
}

func (f *fakeAudio) GenerateAudio(ctx context.Context, text, language string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.url, f.err
}

func (f *fakeAudio) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAudio) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeHandle struct {
	mu      sync.Mutex
	stopped int
}

func (h *fakeHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped++
	return nil
}

func (h *fakeHandle) stopCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

type playback struct {
	source string
	events media.Events
	handle *fakeHandle
}

// fakeOutput stands in for both the audio player and the speech engine.
type fakeOutput struct {
	mu        sync.Mutex
	err       error
	plays     []*playback
	cancelled int
}

func (f *fakeOutput) start(source string, ev media.Events) (media.Handle, error) {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return nil, f.err
	}
	f.mu.Unlock()

	// playback is recorded only after it has started
	ev.Start()
	pb := &playback{source: source, events: ev, handle: &fakeHandle{}}
	f.mu.Lock()
	f.plays = append(f.plays, pb)
	f.mu.Unlock()
	return pb.handle, nil
}

func (f *fakeOutput) Play(ctx context.Context, url string, ev media.Events) (media.Handle, error) {
	return f.start(url, ev)
}

func (f *fakeOutput) Speak(u media.Utterance, ev media.Events) (media.Handle, error) {
	return f.start(u.Text, ev)
}

func (f *fakeOutput) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
	return nil
}

func (f *fakeOutput) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plays)
}

func (f *fakeOutput) play(i int) *playback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays[i]
}

func (f *fakeOutput) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func defaultOptions() Options {
	return Options{
		Enabled:       true,
		Language:      "ja",
		VoiceLanguage: "ja-JP",
		Rate:          0.8,
		Pitch:         1.2,
		Cooldown:      20 * time.Millisecond,
	}
}

func newController(audio *fakeAudio, opts Options) (*Controller, *fakeOutput, *fakeOutput) {
	player := &fakeOutput{}
	synth := &fakeOutput{}
	return New(audio, player, synth, opts), player, synth
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 2*time.Millisecond)
}

func TestReadPagePlaysGeneratedAudioOnce(t *testing.T) {
	audio := &fakeAudio{url: "https://audio/1.mp3"}
	c, player, synth := newController(audio, defaultOptions())

	c.ReadPage("むかしむかし")
	waitFor(t, func() bool { return player.count() == 1 })
	require.Equal(t, "https://audio/1.mp3", player.play(0).source)
	require.True(t, c.State().Playing)

	player.play(0).events.End()
	require.False(t, c.State().Playing)
	require.True(t, c.State().Narrated)

	c.ReadPage("むかしむかし")
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, 1, audio.callCount())
	require.Equal(t, 0, synth.count())
}

func TestReadPageDisabledIsNoop(t *testing.T) {
	opts := defaultOptions()
	opts.Enabled = false
	audio := &fakeAudio{url: "https://audio/1.mp3"}
	c, _, _ := newController(audio, opts)

	c.ReadPage("hello")
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, 0, audio.callCount())
	require.False(t, c.State().Narrated)
}

func TestFallsBackToSynthesisWhenAudioUnavailable(t *testing.T) {
	audio := &fakeAudio{err: errors.New("no audio")}
	c, player, synth := newController(audio, defaultOptions())

	c.ReadPage("こんにちは")
	waitFor(t, func() bool { return synth.count() == 1 })
	require.Equal(t, 0, player.count())
	require.Equal(t, "こんにちは", synth.play(0).source)
	require.True(t, c.State().Playing)
}

func TestFallsBackToSynthesisWhenPlaybackFails(t *testing.T) {
	audio := &fakeAudio{url: "https://audio/broken.mp3"}
	c, player, synth := newController(audio, defaultOptions())
	player.err = errors.New("decode failed")

	c.ReadPage("hello")
	waitFor(t, func() bool { return synth.count() == 1 })
	require.True(t, c.State().Playing)
}

func TestAudioErrorEventFallsBackOneTier(t *testing.T) {
	audio := &fakeAudio{url: "https://audio/1.mp3"}
	c, player, synth := newController(audio, defaultOptions())

	c.ReadPage("hello")
	waitFor(t, func() bool { return player.count() == 1 })

	player.play(0).events.Error(errors.New("media error"))
	waitFor(t, func() bool { return synth.count() == 1 })

	synth.play(0).events.Error(errors.New("synthesis error"))
	state := c.State()
	require.False(t, state.Playing)
	require.True(t, state.ControlEnabled)
	require.Equal(t, 1, synth.count())
}

func TestRapidReadPageNeverStacksHandles(t *testing.T) {
	audio := &fakeAudio{url: "https://audio/1.mp3", gate: make(chan struct{})}
	c, player, _ := newController(audio, defaultOptions())

	c.ReadPage("hello")
	c.ReadPage("hello")
	waitFor(t, func() bool { return audio.callCount() == 2 })
	close(audio.gate)

	waitFor(t, func() bool { return player.count() == 1 })
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, 1, player.count())
}

func TestReadPageWhilePlayingRestarts(t *testing.T) {
	audio := &fakeAudio{url: "https://audio/1.mp3"}
	c, player, _ := newController(audio, defaultOptions())

	c.ReadPage("hello")
	waitFor(t, func() bool { return player.count() == 1 })

	c.ReadPage("hello")
	waitFor(t, func() bool { return player.count() == 2 })

	first := player.play(0).handle
	waitFor(t, func() bool { return first.stopCount() == 1 })
	require.Equal(t, 0, player.play(1).handle.stopCount())

	// the superseded playback can no longer change state
	player.play(0).events.End()
	require.True(t, c.State().Playing)
}

func TestStopIsIdempotent(t *testing.T) {
	audio := &fakeAudio{url: "https://audio/1.mp3"}
	c, player, synth := newController(audio, defaultOptions())

	c.ReadPage("hello")
	waitFor(t, func() bool { return player.count() == 1 })

	c.Stop()
	require.False(t, c.State().Playing)
	h := player.play(0).handle
	waitFor(t, func() bool { return h.stopCount() == 1 })
	require.Equal(t, 1, synth.cancelCount())

	before := c.State()
	c.Stop()
	require.Equal(t, before, c.State())
	require.Equal(t, 1, h.stopCount())
}

func TestToggleOffWhileRequestInFlightDiscardsAudio(t *testing.T) {
	audio := &fakeAudio{url: "https://audio/1.mp3", gate: make(chan struct{})}
	c, player, synth := newController(audio, defaultOptions())

	c.ReadPage("hello")
	waitFor(t, func() bool { return audio.callCount() == 1 })

	require.True(t, c.Toggle())
	require.False(t, c.State().Enabled)
	close(audio.gate)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, player.count())
	require.Equal(t, 0, synth.count())
}

func TestToggleRestartsNarrationAndCoolsDown(t *testing.T) {
	opts := defaultOptions()
	opts.Cooldown = 150 * time.Millisecond
	audio := &fakeAudio{url: "https://audio/1.mp3"}
	c, player, _ := newController(audio, opts)

	c.ReadPage("hello")
	waitFor(t, func() bool { return player.count() == 1 })
	player.play(0).events.End()
	waitFor(t, func() bool { return c.State().ControlEnabled })

	require.True(t, c.Toggle())
	require.False(t, c.State().ControlEnabled)
	waitFor(t, func() bool { return player.count() == 2 })
	require.True(t, c.State().Enabled)

	// second press during the cooldown is swallowed
	require.False(t, c.Toggle())
	require.True(t, c.State().Playing)

	waitFor(t, func() bool { return c.State().ControlEnabled })
	require.True(t, c.Toggle())
	state := c.State()
	require.False(t, state.Playing)
	require.False(t, state.Enabled)
	require.Equal(t, 1, player.play(1).handle.stopCount())

	// opted out: the next page is not read automatically
	c.ResetPage()
	c.ReadPage("next page")
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, 2, audio.callCount())
}

func TestResetPageAllowsNarratingNextPage(t *testing.T) {
	audio := &fakeAudio{url: "https://audio/1.mp3"}
	c, player, _ := newController(audio, defaultOptions())

	c.ReadPage("page one")
	waitFor(t, func() bool { return player.count() == 1 })
	player.play(0).events.End()

	c.ResetPage()
	require.False(t, c.State().Narrated)

	c.ReadPage("page two")
	waitFor(t, func() bool { return player.count() == 2 })
	require.Equal(t, []string{"page one", "page two"}, audio.texts())
}

func TestStateListenerReceivesChanges(t *testing.T) {
	var mu sync.Mutex
	var states []State
	audio := &fakeAudio{url: "https://audio/1.mp3"}
	player := &fakeOutput{}
	c := New(audio, player, &fakeOutput{}, defaultOptions(), WithStateListener(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))

	c.ReadPage("hello")
	waitFor(t, func() bool { return player.count() == 1 })
	player.play(0).events.End()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	require.False(t, states[len(states)-1].Playing)
}

func TestShortNarrationDoesNotEndToggleCooldown(t *testing.T) {
	opts := defaultOptions()
	opts.Enabled = false
	opts.Cooldown = 150 * time.Millisecond
	audio := &fakeAudio{url: "https://audio/1.mp3"}
	c, player, _ := newController(audio, opts)

	c.ReadPage("hello")
	require.True(t, c.Toggle())
	waitFor(t, func() bool { return player.count() == 1 })

	player.play(0).events.End()
	state := c.State()
	require.False(t, state.Playing)
	require.False(t, state.ControlEnabled)
	require.False(t, c.Toggle())
	require.True(t, c.State().Enabled)

	waitFor(t, func() bool { return c.State().ControlEnabled })
}

func TestCloseReleasesPendingCooldown(t *testing.T) {
	opts := defaultOptions()
	opts.Cooldown = time.Hour
	c, _, _ := newController(&fakeAudio{url: "https://audio/1.mp3"}, opts)

	require.True(t, c.Toggle())
	require.False(t, c.State().ControlEnabled)

	c.Close()
	require.True(t, c.State().ControlEnabled)
}
