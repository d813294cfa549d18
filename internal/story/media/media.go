// Package media defines the narration primitives shared by remote audio
// playback and local speech synthesis.
package media

// Utterance is a piece of text to be spoken.
type Utterance struct {
	Text     string
	Language string
	Rate     float64
	Pitch    float64
}

// Events receives playback lifecycle notifications. Any field may be nil.
// Implementations fire OnStart at most once and then exactly one of OnEnd or
// OnError, unless the playback is stopped through its Handle first.
type Events struct {
	OnStart func()
	OnEnd   func()
	OnError func(error)
}

func (e Events) Start() {
	if e.OnStart != nil {
		e.OnStart()
	}
}

func (e Events) End() {
	if e.OnEnd != nil {
		e.OnEnd()
	}
}

func (e Events) Error(err error) {
	if e.OnError != nil {
		e.OnError(err)
	}
}

// Handle controls one running playback.
type Handle interface {
	// Stop ends playback without firing OnEnd or OnError. It is safe to call
	// more than once.
	Stop() error
}

// HandleFunc adapts a function to Handle.
type HandleFunc func() error

func (f HandleFunc) Stop() error { return f() }
