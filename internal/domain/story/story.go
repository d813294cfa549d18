package story

import (
	"regexp"
	"strings"
)

// DefaultMaxPages is the number of pages a story is capped at.
const DefaultMaxPages = 3

// Choice labels offered by the page flow.
const (
	ChoiceContinue = "continue"
	ChoiceRestart  = "start new story"

	ChoiceKeepGoing = "continue the story"
	ChoiceOther     = "make another choice"
)

// PageState is one rendered page of a story. A new value is built for every
// transition; pages are never mutated in place.
type PageState struct {
	PageIndex  int      `json:"page_index"`
	MaxPages   int      `json:"max_pages"`
	Text       string   `json:"text"`
	ImageURL   string   `json:"image_url,omitempty"`
	Choices    []string `json:"choices"`
	IsTerminal bool     `json:"is_terminal"`

	// Fallback is set when the page was synthesized locally after the
	// service could not be reached.
	Fallback bool `json:"fallback,omitempty"`
}

// HasImage reports whether the page carries an illustration.
func (p PageState) HasImage() bool {
	return p.ImageURL != ""
}

// IsLast reports whether no further page may follow this one.
func (p PageState) IsLast() bool {
	return p.PageIndex >= p.MaxPages
}

// ParsedStory is the result of scraping a legacy free-text response.
type ParsedStory struct {
	Text     string   `json:"text"`
	Choices  []string `json:"choices"`
	HasImage bool     `json:"has_image"`
	ImageURL string   `json:"image_url,omitempty"`
}

var (
	endMarkers = []string{"おしまい", "めでたし"}

	// "The End" only as a closing phrase, not "the endless" or "the end of".
	englishEndPattern = regexp.MustCompile(`(?i)\bthe end\b\s*(?:[.!。！*_"'」)]|$)`)
)

// HasEndMarker reports whether text announces that the story is finished.
func HasEndMarker(text string) bool {
	for _, marker := range endMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return englishEndPattern.MatchString(text)
}
