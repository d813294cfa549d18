package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", 2*time.Second)
}

func TestStartSendsTopicAndDecodesSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/agent/storytelling/start", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NotEmpty(t, r.Header.Get("X-Request-Id"))

		var req StartRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "forest", req.Topic)

		_, _ = w.Write([]byte(`{"session_id":"s1","text_result":"Once upon a time...","image_url":null}`))
	})

	resp, err := c.Start(context.Background(), "forest")
	require.NoError(t, err)
	require.Equal(t, "s1", resp.SessionID)
	require.Equal(t, "Once upon a time...", resp.TextResult)
	require.Nil(t, resp.ImageURL)
}

func TestNextCarriesSessionID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/agent/storytelling/next", r.URL.Path)
		var req NextRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "s1", req.SessionID)
		_, _ = w.Write([]byte(`{"text_result":"page two","image_url":"https://img/2.png"}`))
	})

	resp, err := c.Next(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, "page two", resp.TextResult)
	require.Equal(t, "https://img/2.png", Deref(resp.ImageURL))
}

func TestImageStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/agent/storytelling/image-status/s1", r.URL.Path)
		require.Equal(t, "2", r.URL.Query().Get("page"))
		_, _ = w.Write([]byte(`{"has_next_image":true}`))
	})

	ready, err := c.ImageStatus(context.Background(), "s1", 2)
	require.NoError(t, err)
	require.True(t, ready)
}

func TestGenerateAudio(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr error
	}{
		{name: "usable url", body: `{"success":true,"audio_url":"https://a/1.mp3"}`, want: "https://a/1.mp3"},
		{name: "unsuccessful", body: `{"success":false,"audio_url":null}`, wantErr: ErrNoAudio},
		{name: "empty url", body: `{"success":true,"audio_url":""}`, wantErr: ErrNoAudio},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var req AudioRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				require.Equal(t, "ja", req.Language)
				_, _ = w.Write([]byte(tc.body))
			})

			got, err := c.GenerateAudio(context.Background(), "こんにちは", "ja")
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestSendLegacy(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/agent/storytelling", r.URL.Path)
		var req LegacyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "hello", req.Input)
		require.Empty(t, req.SessionID)
		_, _ = w.Write([]byte(`{"result":"text","session_id":"legacy-1"}`))
	})

	resp, err := c.Send(context.Background(), "hello", "")
	require.NoError(t, err)
	require.Equal(t, "text", resp.Result)
	require.Equal(t, "legacy-1", resp.SessionID)
}

func TestNon2xxIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Next(context.Background(), "s1")
	require.ErrorIs(t, err, ErrUnavailable)
	require.Contains(t, err.Error(), "502")
}

func TestTransportErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Start(context.Background(), "forest")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestMalformedBodyIsNotUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})

	_, err := c.Start(context.Background(), "forest")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrUnavailable))
	require.Contains(t, err.Error(), "decode")
}
