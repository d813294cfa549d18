// Package nest drives a story from its first page to its last: it talks to
// the story service, keeps the page count, and coordinates narration, image
// polling and rendering on every page transition.
package nest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"picturebook/internal/domain/story"
	"picturebook/internal/metrics"
	"picturebook/internal/story/agent"
	"picturebook/internal/story/poller"

	"github.com/sirupsen/logrus"
)

var (
	ErrBusy            = errors.New("a page is still loading")
	ErrContinuePending = errors.New("next page is not ready yet")
	ErrStoryComplete   = errors.New("story is complete")
	ErrNoStory         = errors.New("no story in progress")
)

const (
	msgPreparationFailed = "物語の準備中にエラーが発生しました。もう一度お試しください。"
	msgChoiceFailed      = "選択の送信中にエラーが発生しました。もう一度お試しください。"
)

type Mode string

const (
	// ModeSplit uses the start/next/image-status endpoints.
	ModeSplit Mode = "split"
	// ModeLegacy uses the combined endpoint and scrapes its free text.
	ModeLegacy Mode = "legacy"
)

// StoryService is the remote story service.
type StoryService interface {
	Start(ctx context.Context, topic string) (*agent.StartResponse, error)
	Next(ctx context.Context, sessionID string) (*agent.NextResponse, error)
	Send(ctx context.Context, input, sessionID string) (*agent.LegacyResponse, error)
}

type Narrator interface {
	ReadPage(text string)
	ResetPage()
	Stop()
}

type ImagePoller interface {
	Start(sessionID string, currentPage int, notify func(poller.Result)) bool
	Stop()
}

// Renderer paints what the controller produces.
type Renderer interface {
	ShowIdle()
	ShowLoading(topic string)
	ShowPage(page story.PageState)
	ShowTerminal(page story.PageState)
	SetContinueEnabled(enabled bool)
	Notify(message string)
}

type Controller struct {
	service  StoryService
	narrator Narrator
	poller   ImagePoller
	renderer Renderer

	mode            Mode
	maxPages        int
	enableOnFailure bool
	metrics         *metrics.Metrics
	log             *logrus.Entry

	mu              sync.Mutex
	state           State
	epoch           uint64
	session         string
	topic           string
	page            *story.PageState
	continueEnabled bool
}

type Option func(*Controller)

func WithMode(mode Mode) Option {
	return func(c *Controller) {
		c.mode = mode
	}
}

func WithMaxPages(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithEnableOnPollFailure enables the continue control when the image
// readiness poll fails instead of leaving it pending.
func WithEnableOnPollFailure(enable bool) Option {
	return func(c *Controller) {
		c.enableOnFailure = enable
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

func NewController(service StoryService, narrator Narrator, imagePoller ImagePoller, renderer Renderer, opts ...Option) *Controller {
	c := &Controller{
		service:  service,
		narrator: narrator,
		poller:   imagePoller,
		renderer: renderer,
		mode:     ModeSplit,
		maxPages: story.DefaultMaxPages,
		state:    StateIdle,
		log:      logrus.WithField("component", "nest"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current page-flow state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the service session id, empty when running on demo pages.
func (c *Controller) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Page returns the page on display.
func (c *Controller) Page() (story.PageState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page == nil {
		return story.PageState{}, false
	}
	return *c.page, true
}

func (c *Controller) ContinueEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.continueEnabled
}

// StartStory begins a new story about topic, discarding any story in
// progress. When the service cannot be reached a demo page is shown instead.
func (c *Controller) StartStory(ctx context.Context, topic string) error {
	c.mu.Lock()
	next, err := Transition(c.state, EventStart)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	c.state = next
	c.epoch++
	epoch := c.epoch
	c.session = ""
	c.topic = topic
	c.page = nil
	c.continueEnabled = false
	c.mu.Unlock()

	c.leavePage()
	c.renderer.ShowLoading(topic)

	log := c.log.WithField("topic", topic)
	log.Info("Starting story")

	var (
		page    story.PageState
		session string
	)
	switch c.mode {
	case ModeLegacy:
		page, session, err = c.startLegacy(ctx, topic)
	default:
		page, session, err = c.startSplit(ctx, topic)
	}
	if err != nil {
		log.WithError(err).Error("Failed to prepare story")
		if c.abort(epoch) {
			c.renderer.Notify(msgPreparationFailed)
			c.renderer.ShowIdle()
		}
		return err
	}

	c.display(epoch, page, session)
	return nil
}

func (c *Controller) startSplit(ctx context.Context, topic string) (story.PageState, string, error) {
	resp, err := c.service.Start(ctx, topic)
	if errors.Is(err, agent.ErrUnavailable) {
		c.log.WithError(err).Warn("Story service unavailable, showing demo page")
		return story.FallbackPage(topic, 1, c.maxPages), "", nil
	}
	if err != nil {
		return story.PageState{}, "", err
	}

	return story.PageState{
		PageIndex: 1,
		MaxPages:  c.maxPages,
		Text:      resp.TextResult,
		ImageURL:  agent.Deref(resp.ImageURL),
		Choices:   []string{story.ChoiceContinue},
	}, resp.SessionID, nil
}

func (c *Controller) startLegacy(ctx context.Context, topic string) (story.PageState, string, error) {
	resp, err := c.service.Send(ctx, story.StartPrompt(topic), "")
	if errors.Is(err, agent.ErrUnavailable) {
		c.log.WithError(err).Warn("Story service unavailable, showing demo page")
		return story.FallbackOpening(topic, c.maxPages), "", nil
	}
	if err != nil {
		return story.PageState{}, "", err
	}

	parsed := story.ParseResponse(resp.Result)
	text := story.OpeningText(parsed.Text, topic)
	return c.legacyPage(1, text, parsed), resp.SessionID, nil
}

func (c *Controller) legacyPage(index int, text string, parsed story.ParsedStory) story.PageState {
	page := story.PageState{
		PageIndex: index,
		MaxPages:  c.maxPages,
		Text:      text,
		ImageURL:  parsed.ImageURL,
		Choices:   parsed.Choices,
	}
	if index >= c.maxPages || story.HasEndMarker(text) {
		page.IsTerminal = true
		page.Choices = []string{}
	}
	return page
}

// ContinueStory fetches the next page. It fails with ErrContinuePending until
// the next illustration is ready, and with ErrStoryComplete once the last
// page was reached.
func (c *Controller) ContinueStory(ctx context.Context) error {
	if c.mode == ModeLegacy {
		return c.SelectChoice(ctx, story.ChoiceKeepGoing, 0)
	}

	c.mu.Lock()
	if err := c.checkDisplayingLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if !c.continueEnabled {
		c.mu.Unlock()
		return ErrContinuePending
	}
	if c.page.PageIndex >= c.maxPages {
		c.finishLocked()
		return ErrStoryComplete
	}

	epoch, index := c.beginLoadingLocked(EventContinue)
	session, topic := c.session, c.topic
	c.mu.Unlock()

	c.leavePage()
	c.renderer.ShowLoading(topic)

	log := c.log.WithFields(logrus.Fields{"session_id": session, "page": index})
	if session == "" {
		log.Debug("No session, continuing with demo pages")
		c.display(epoch, story.FallbackPage(topic, index, c.maxPages), "")
		return nil
	}

	resp, err := c.service.Next(ctx, session)
	if err != nil {
		log.WithError(err).Warn("Failed to fetch next page, showing demo page")
		c.display(epoch, story.FallbackPage(topic, index, c.maxPages), session)
		return nil
	}

	page := story.PageState{
		PageIndex: index,
		MaxPages:  c.maxPages,
		Text:      resp.TextResult,
		ImageURL:  agent.Deref(resp.ImageURL),
		Choices:   []string{story.ChoiceContinue},
	}
	if index >= c.maxPages || story.HasEndMarker(page.Text) {
		page.IsTerminal = true
		page.Choices = []string{}
	}
	c.display(epoch, page, session)
	return nil
}

// SelectChoice sends the chosen branch to the service and shows the page it
// produces. Choosing the restart action starts over instead.
func (c *Controller) SelectChoice(ctx context.Context, choice string, index int) error {
	switch choice {
	case story.ChoiceRestart:
		c.NewStory()
		return nil
	case story.ChoiceContinue:
		return c.ContinueStory(ctx)
	}

	c.mu.Lock()
	if err := c.checkDisplayingLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.page.PageIndex >= c.maxPages {
		c.finishLocked()
		return ErrStoryComplete
	}

	previous := *c.page
	epoch, pageIndex := c.beginLoadingLocked(EventChoose)
	session, topic := c.session, c.topic
	c.mu.Unlock()

	c.leavePage()
	c.renderer.ShowLoading(topic)

	log := c.log.WithFields(logrus.Fields{"session_id": session, "page": pageIndex, "choice": choice})
	resp, err := c.service.Send(ctx, story.ChoicePrompt(choice), session)
	if errors.Is(err, agent.ErrUnavailable) {
		log.WithError(err).Warn("Story service unavailable, showing demo page")
		c.display(epoch, story.FallbackChoice(choice, index, pageIndex, c.maxPages), session)
		return nil
	}
	if err != nil {
		log.WithError(err).Error("Failed to submit choice")
		c.restore(epoch, previous)
		return err
	}

	if resp.SessionID != "" {
		session = resp.SessionID
	}
	parsed := story.ParseResponse(resp.Result)
	text := story.ContinuationText(parsed.Text)
	c.display(epoch, c.legacyPage(pageIndex, text, parsed), session)
	return nil
}

// NewStory abandons the current story and returns to the idle screen. Every
// in-flight request and timer of the old story is discarded.
func (c *Controller) NewStory() {
	c.mu.Lock()
	c.state, _ = Transition(c.state, EventReset)
	c.epoch++
	c.session = ""
	c.topic = ""
	c.page = nil
	c.continueEnabled = false
	c.mu.Unlock()

	c.leavePage()
	c.renderer.ShowIdle()
	c.log.Debug("Story reset")
}

func (c *Controller) checkDisplayingLocked() error {
	switch c.state {
	case StateDisplaying:
		return nil
	case StateLoading:
		return ErrBusy
	case StateTerminal:
		return ErrStoryComplete
	default:
		return ErrNoStory
	}
}

// beginLoadingLocked moves to Loading for the page after the current one and
// returns the new epoch and page index.
func (c *Controller) beginLoadingLocked(event Event) (uint64, int) {
	c.state, _ = Transition(c.state, event)
	c.epoch++
	c.continueEnabled = false
	return c.epoch, c.page.PageIndex + 1
}

// finishLocked ends the story on the current page. It releases c.mu.
func (c *Controller) finishLocked() {
	c.state, _ = Transition(c.state, EventFinished)
	c.epoch++
	page := *c.page
	page.IsTerminal = true
	page.Choices = []string{}
	c.page = &page
	c.continueEnabled = false
	c.mu.Unlock()

	c.poller.Stop()
	c.narrator.Stop()
	c.renderer.SetContinueEnabled(false)
	c.renderer.ShowTerminal(page)
	c.log.WithField("page", page.PageIndex).Info("Story complete")
}

// leavePage tears down everything tied to the page being left.
func (c *Controller) leavePage() {
	c.poller.Stop()
	c.narrator.ResetPage()
	c.renderer.SetContinueEnabled(false)
}

// abort returns to Idle after a failed start. It reports false when the
// request was superseded.
func (c *Controller) abort(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return false
	}
	c.state, _ = Transition(c.state, EventFailed)
	c.epoch++
	return true
}

// restore shows previous again after a failed choice submission and re-arms
// the continue gate that leaving the page tore down. The page is not read
// aloud a second time.
func (c *Controller) restore(epoch uint64, previous story.PageState) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.state, _ = Transition(c.state, EventLoaded)
	c.page = &previous
	session := c.session
	c.mu.Unlock()

	c.renderer.Notify(msgChoiceFailed)
	c.renderer.ShowPage(previous)
	c.gateContinue(epoch, session, previous)
}

// display makes page the current page: exactly one render, then narration
// and, unless the page is the last one, image polling.
func (c *Controller) display(epoch uint64, page story.PageState, session string) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		c.log.WithField("page", page.PageIndex).Debug("Discarding superseded page")
		return
	}
	event := EventLoaded
	if page.IsTerminal {
		event = EventFinished
	}
	c.state, _ = Transition(c.state, event)
	c.page = &page
	c.session = session
	c.mu.Unlock()

	source := "service"
	if page.Fallback {
		source = "fallback"
	}
	c.metrics.Page(source)
	c.log.WithFields(logrus.Fields{
		"session_id": session,
		"page":       page.PageIndex,
		"terminal":   page.IsTerminal,
		"source":     source,
	}).Info("Showing page")

	if page.IsTerminal {
		c.renderer.ShowTerminal(page)
		c.narrator.ReadPage(page.Text)
		return
	}

	c.renderer.ShowPage(page)
	c.narrator.ReadPage(page.Text)
	c.gateContinue(epoch, session, page)
}

// gateContinue polls for the next illustration, or enables continue right
// away when there is nothing to poll.
func (c *Controller) gateContinue(epoch uint64, session string, page story.PageState) {
	if c.mode == ModeLegacy {
		return
	}
	if !c.poller.Start(session, page.PageIndex, c.onImageStatus(epoch)) {
		c.enableContinue(epoch)
	}
}

func (c *Controller) onImageStatus(epoch uint64) func(poller.Result) {
	return func(res poller.Result) {
		if res.Err != nil && !c.enableOnFailure {
			c.log.WithError(res.Err).Info("Image readiness unknown, continue stays pending")
			return
		}
		c.enableContinue(epoch)
	}
}

func (c *Controller) enableContinue(epoch uint64) {
	c.mu.Lock()
	if epoch != c.epoch || c.state != StateDisplaying {
		c.mu.Unlock()
		c.log.Debug("Ignoring readiness for a page no longer shown")
		return
	}
	if c.continueEnabled {
		c.mu.Unlock()
		c.log.Debug("Continue already enabled")
		return
	}
	c.continueEnabled = true
	c.mu.Unlock()

	c.renderer.SetContinueEnabled(true)
}
