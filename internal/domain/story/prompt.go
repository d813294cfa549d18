package story

import "fmt"

// Prompts sent to the combined storytelling endpoint.
const (
	startPrompt  = "%sの読み聞かせを始めてください。インタラクティブなお話をお願いします。"
	choicePrompt = "ユーザーの選択: %s。この選択に基づいて物語を続けてください。"

	defaultOpening      = "%sのお話を始めましょう。"
	defaultContinuation = "物語が続きます..."
)

// StartPrompt asks the service to begin an interactive story about topic.
func StartPrompt(topic string) string {
	return fmt.Sprintf(startPrompt, topic)
}

// ChoicePrompt asks the service to continue the story after choice.
func ChoicePrompt(choice string) string {
	return fmt.Sprintf(choicePrompt, choice)
}

// OpeningText returns text, or a generic opening when the service sent none.
func OpeningText(text, topic string) string {
	if text == "" {
		return fmt.Sprintf(defaultOpening, topic)
	}
	return text
}

// ContinuationText returns text, or a generic continuation line.
func ContinuationText(text string) string {
	if text == "" {
		return defaultContinuation
	}
	return text
}
