package story

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	ordinalChoicePattern = regexp.MustCompile(`(\d+)\.\s*([^\n\r]+)`)
	boldChoicePattern    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	ordinalLinePattern   = regexp.MustCompile(`^\d+\.`)

	imageMarkdownPattern = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	imageAltPattern      = regexp.MustCompile(`!\[[^\]]*\]`)
	imageURLLinePattern  = regexp.MustCompile(`(?:画像URL|(?i:image url)):\s*https?://\S+`)
	storageImagePattern  = regexp.MustCompile(`https://storage\.googleapis\.com/[^\s)]+\.png`)
	blankRunPattern      = regexp.MustCompile(`\n\s*\n\s*\n`)

	illustrationBoilerplate = []*regexp.Regexp{
		regexp.MustCompile(`素敵な絵ができたよ！見てみて！\s*`),
		regexp.MustCompile(`わあ！見て！これが.*?絵だよ！\s*`),
	}

	imagePhrases = []string{"画像URL:", "絵ができたよ", "画像が"}
)

// ParseResponse scrapes story text, choices and image hints out of a free-text
// response from the combined storytelling endpoint.
func ParseResponse(raw string) ParsedStory {
	if raw == "" {
		return ParsedStory{Text: "", Choices: []string{}}
	}

	parsed := ParsedStory{
		HasImage: detectImage(raw),
		ImageURL: ExtractImageURL(raw),
	}

	choices := extractChoices(raw)
	parsed.Text = StripImageArtifacts(storyText(raw, choices))

	switch {
	case HasEndMarker(raw):
		parsed.Choices = []string{ChoiceRestart}
	case len(choices) == 0:
		parsed.Choices = []string{ChoiceKeepGoing, ChoiceOther}
	default:
		parsed.Choices = choices
	}
	return parsed
}

// ExtractImageURL returns the first hosted illustration URL in raw, if any.
func ExtractImageURL(raw string) string {
	return storageImagePattern.FindString(raw)
}

// StripImageArtifacts removes image URL lines, markdown images and
// illustration announcements from text. Applying it twice changes nothing.
func StripImageArtifacts(text string) string {
	for {
		next := stripOnce(text)
		if next == text {
			return next
		}
		text = next
	}
}

func stripOnce(text string) string {
	text = imageURLLinePattern.ReplaceAllString(text, "")
	text = imageMarkdownPattern.ReplaceAllString(text, "")
	for _, re := range illustrationBoilerplate {
		text = re.ReplaceAllString(text, "")
	}
	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func detectImage(raw string) bool {
	if imageAltPattern.MatchString(raw) {
		return true
	}
	if strings.Contains(strings.ToLower(raw), "image url:") {
		return true
	}
	for _, phrase := range imagePhrases {
		if strings.Contains(raw, phrase) {
			return true
		}
	}
	return false
}

func extractChoices(raw string) []string {
	var choices []string
	for _, m := range ordinalChoicePattern.FindAllStringSubmatch(raw, -1) {
		choice := strings.TrimSpace(m[2])
		if acceptableChoice(choice) && !strings.Contains(choice, "URL") {
			choices = append(choices, choice)
		}
	}
	if len(choices) > 0 {
		return choices
	}

	for _, m := range boldChoicePattern.FindAllStringSubmatch(raw, -1) {
		choice := strings.TrimSpace(m[1])
		if acceptableChoice(choice) {
			choices = append(choices, choice)
		}
	}
	return choices
}

// acceptableChoice filters out stray markdown and URL fragments that look
// like list items.
func acceptableChoice(choice string) bool {
	n := utf8.RuneCountInString(choice)
	return n > 3 && n < 100 && !strings.Contains(choice, "png")
}

// storyText keeps everything before the trailing choice list.
func storyText(raw string, choices []string) string {
	if len(choices) == 0 {
		return raw
	}

	if idx := strings.LastIndex(raw, fmt.Sprintf("%d.", len(choices))); idx != -1 {
		lines := strings.Split(raw[:idx], "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			if strings.TrimSpace(lines[i]) != "" && !ordinalLinePattern.MatchString(lines[i]) {
				return strings.TrimSpace(strings.Join(lines[:i+1], "\n"))
			}
		}
		return raw
	}

	if idx := strings.LastIndex(raw, "**"); idx != -1 {
		return strings.TrimSpace(raw[:idx])
	}
	return raw
}
