// Package view renders the story flow on a terminal.
package view

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"picturebook/internal/cli/scheme/colours"
	"picturebook/internal/domain/story"
	"picturebook/internal/story/narration"

	"github.com/charmbracelet/glamour"
	"github.com/sirupsen/logrus"
)

var loadingMessages = []string{
	"お話を準備しています...",
	"魔法をかけています...",
	"キャラクターたちが準備中...",
	"素敵な物語を作っています...",
}

const defaultLoadingInterval = time.Second

// MarkdownFunc renders page text for the terminal.
type MarkdownFunc func(string) (string, error)

// NewMarkdown returns a glamour renderer that adapts to the terminal
// background.
func NewMarkdown() MarkdownFunc {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		logrus.WithError(err).Warn("Markdown renderer unavailable, printing plain text")
		return plain
	}
	return r.Render
}

func plain(s string) (string, error) {
	return s + "\n", nil
}

// Terminal writes every page-flow update to out.
type Terminal struct {
	out             io.Writer
	markdown        MarkdownFunc
	loadingInterval time.Duration

	mu              sync.Mutex
	stopLoading     chan struct{}
	continueEnabled bool
	narration       narration.State
}

type Option func(*Terminal)

func WithMarkdown(fn MarkdownFunc) Option {
	return func(t *Terminal) {
		t.markdown = fn
	}
}

// WithLoadingInterval sets how often the loading message changes.
func WithLoadingInterval(d time.Duration) Option {
	return func(t *Terminal) {
		if d > 0 {
			t.loadingInterval = d
		}
	}
}

func NewTerminal(out io.Writer, opts ...Option) *Terminal {
	t := &Terminal{
		out:             out,
		markdown:        plain,
		loadingInterval: defaultLoadingInterval,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Terminal) ShowIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLoadingLocked()

	fmt.Fprintln(t.out)
	colours.Title.Fprintln(t.out, "🐰 みまもりうさぎの読み聞かせ 🐰")
	colours.Info.Fprintln(t.out, "新しいお話のテーマを入力してください (q で終了)")
}

// ShowLoading prints a loading message and rotates it until the next
// update.
func (t *Terminal) ShowLoading(topic string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLoadingLocked()

	fmt.Fprintln(t.out)
	if topic != "" {
		colours.Title.Fprintf(t.out, "📖 %s\n", topic)
	}
	colours.Info.Fprintln(t.out, "⏳ "+loadingMessages[0])

	stop := make(chan struct{})
	t.stopLoading = stop
	go t.rotate(stop)
}

func (t *Terminal) rotate(stop <-chan struct{}) {
	ticker := time.NewTicker(t.loadingInterval)
	defer ticker.Stop()

	for i := 1; ; i++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		t.mu.Lock()
		select {
		case <-stop:
			t.mu.Unlock()
			return
		default:
		}
		colours.Info.Fprintln(t.out, "⏳ "+loadingMessages[i%len(loadingMessages)])
		t.mu.Unlock()
	}
}

func (t *Terminal) cancelLoadingLocked() {
	if t.stopLoading != nil {
		close(t.stopLoading)
		t.stopLoading = nil
	}
}

func (t *Terminal) ShowPage(page story.PageState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLoadingLocked()

	t.printPageLocked(page)
	for i, choice := range page.Choices {
		if choice == story.ChoiceContinue {
			continue
		}
		colours.Choice.Fprintf(t.out, "  %d. %s\n", i+1, choice)
	}
	t.printControlsLocked(page)
}

func (t *Terminal) ShowTerminal(page story.PageState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLoadingLocked()

	t.printPageLocked(page)
	colours.Success.Fprintln(t.out, "🌟 おしまい 🌟")
	colours.Prompt.Fprintln(t.out, "[n] 新しいお話を始める  [r] 読み上げ  [q] 終了")
}

func (t *Terminal) printPageLocked(page story.PageState) {
	fmt.Fprintln(t.out)
	colours.Page.Fprintf(t.out, "── %d / %d ──\n", page.PageIndex, page.MaxPages)
	if page.Fallback {
		colours.Warning.Fprintln(t.out, "(デモモード)")
	}

	text, err := t.markdown(page.Text)
	if err != nil {
		text = page.Text + "\n"
	}
	fmt.Fprint(t.out, text)

	if page.HasImage() {
		colours.Info.Fprintf(t.out, "🖼  %s\n", page.ImageURL)
	}
}

func (t *Terminal) printControlsLocked(page story.PageState) {
	var controls []string
	if slices.Contains(page.Choices, story.ChoiceContinue) {
		controls = append(controls, "[c] つづき")
	}
	controls = append(controls, "[r] 読み上げ", "[n] 新しいお話", "[q] 終了")
	colours.Prompt.Fprintln(t.out, strings.Join(controls, "  "))
}

// SetContinueEnabled reports changes of the continue control.
func (t *Terminal) SetContinueEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.continueEnabled == enabled {
		return
	}
	t.continueEnabled = enabled
	if enabled {
		colours.Success.Fprintln(t.out, "✨ 次のページの絵ができました！ [c] でつづきへ")
	}
}

// Notify shows a blocking error message.
func (t *Terminal) Notify(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLoadingLocked()
	colours.Error.Fprintf(t.out, "❌ %s\n", message)
}

// ShowNarration reflects the read-aloud control. It is meant to be
// registered as a narration state listener.
func (t *Terminal) ShowNarration(state narration.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.narration
	t.narration = state
	if prev.Playing == state.Playing {
		return
	}
	if state.Playing {
		colours.Disabled.Fprintln(t.out, "🔊 読み上げ中... [r] 停止")
	} else {
		colours.Disabled.Fprintln(t.out, "🔈 読み上げ")
	}
}

// Close stops the loading rotation.
func (t *Terminal) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLoadingLocked()
}
