package agent

// StartRequest opens a new story session.
type StartRequest struct {
	Topic string `json:"topic"`
}

// StartResponse carries the first page of a new session.
type StartResponse struct {
	SessionID  string  `json:"session_id"`
	TextResult string  `json:"text_result"`
	ImageURL   *string `json:"image_url"`
}

// NextRequest asks for the following page of a session.
type NextRequest struct {
	SessionID string `json:"session_id"`
}

// NextResponse carries one follow-up page.
type NextResponse struct {
	TextResult string  `json:"text_result"`
	ImageURL   *string `json:"image_url"`
}

// ImageStatusResponse reports whether the next page's illustration exists.
type ImageStatusResponse struct {
	HasNextImage bool `json:"has_next_image"`
}

// AudioRequest asks the service to synthesize narration audio.
type AudioRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// AudioResponse points at generated narration audio.
type AudioResponse struct {
	Success  bool    `json:"success"`
	AudioURL *string `json:"audio_url"`
}

// LegacyRequest is the body of the combined storytelling endpoint.
type LegacyRequest struct {
	Input     string `json:"input"`
	SessionID string `json:"session_id,omitempty"`
}

// LegacyResponse is the free-text answer of the combined endpoint.
type LegacyResponse struct {
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
