// Package agent talks to the remote storytelling service.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"picturebook/internal/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnavailable wraps transport failures and non-2xx responses.
	ErrUnavailable = errors.New("story service unavailable")
	// ErrNoAudio is returned when audio generation yields no usable URL.
	ErrNoAudio = errors.New("no narration audio generated")
)

const (
	pathStart       = "/agent/storytelling/start"
	pathNext        = "/agent/storytelling/next"
	pathImageStatus = "/agent/storytelling/image-status/"
	pathAudio       = "/agent/storytelling/generate-audio"
	pathLegacy      = "/agent/storytelling"
)

// Client is an HTTP client for the storytelling endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
	log        *logrus.Entry
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMetrics records request outcomes into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a client rooted at baseURL (e.g. "http://localhost:8080").
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: logrus.WithField("component", "agent"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens a session for topic and returns its first page.
func (c *Client) Start(ctx context.Context, topic string) (*StartResponse, error) {
	var resp StartResponse
	if err := c.do(ctx, http.MethodPost, pathStart, "start", StartRequest{Topic: topic}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Next fetches the following page of sessionID.
func (c *Client) Next(ctx context.Context, sessionID string) (*NextResponse, error) {
	var resp NextResponse
	if err := c.do(ctx, http.MethodPost, pathNext, "next", NextRequest{SessionID: sessionID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ImageStatus reports whether the illustration for page is ready.
func (c *Client) ImageStatus(ctx context.Context, sessionID string, page int) (bool, error) {
	path := pathImageStatus + url.PathEscape(sessionID) + "?page=" + strconv.Itoa(page)

	var resp ImageStatusResponse
	if err := c.do(ctx, http.MethodGet, path, "image-status", nil, &resp); err != nil {
		return false, err
	}
	return resp.HasNextImage, nil
}

// GenerateAudio asks the service to render text as speech and returns the
// audio URL.
func (c *Client) GenerateAudio(ctx context.Context, text, language string) (string, error) {
	var resp AudioResponse
	if err := c.do(ctx, http.MethodPost, pathAudio, "generate-audio", AudioRequest{Text: text, Language: language}, &resp); err != nil {
		return "", err
	}
	audioURL := Deref(resp.AudioURL)
	if !resp.Success || audioURL == "" {
		return "", ErrNoAudio
	}
	return audioURL, nil
}

// Send posts free-text input to the combined storytelling endpoint.
func (c *Client) Send(ctx context.Context, input, sessionID string) (*LegacyResponse, error) {
	var resp LegacyResponse
	if err := c.do(ctx, http.MethodPost, pathLegacy, "legacy", LegacyRequest{Input: input, SessionID: sessionID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path, endpoint string, body, out any) error {
	requestID := uuid.NewString()
	log := c.log.WithFields(logrus.Fields{
		"endpoint":   endpoint,
		"request_id": requestID,
	})

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", endpoint, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)

	log.Debug("Calling story service")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.Request(endpoint, "transport_error")
		log.WithError(err).Warn("Story service request failed")
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.Request(endpoint, "http_"+strconv.Itoa(resp.StatusCode))
		log.WithField("status", resp.StatusCode).Warn("Story service returned non-2xx status")
		return fmt.Errorf("%w: %s returned status %d", ErrUnavailable, endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.metrics.Request(endpoint, "decode_error")
		log.WithError(err).Warn("Failed to decode story service response")
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}

	c.metrics.Request(endpoint, "ok")
	return nil
}
