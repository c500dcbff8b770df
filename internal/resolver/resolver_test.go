// ABOUTME: Tests for the resolver client against a stub sidecar
// ABOUTME: Covers ID validation, success, failure, and URL expiry
package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRejectsInvalidID(t *testing.T) {
	c := New("http://127.0.0.1:5000", zerolog.Nop())

	for _, id := range []string{"", "short", "way-too-long-for-an-id", "bad id here"} {
		_, err := c.Resolve(context.Background(), id)
		assert.ErrorIs(t, err, ErrInvalidID, "id %q", id)
	}
}

func TestResolveSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract/dQw4w9WgXcQ", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"audio_url": "https://cdn.example/audio.webm?expire=1",
			"title": "Never Gonna Give You Up",
			"duration": 212,
			"format": "webm",
			"content_type": "audio/webm",
			"bitrate": "variable",
			"client": "ios"
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, zerolog.Nop())
	info, err := c.Resolve(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example/audio.webm?expire=1", info.URL)
	assert.Equal(t, "Never Gonna Give You Up", info.Title)
	assert.Equal(t, 212.0, info.Duration)
	assert.Equal(t, "audio/webm", info.ContentType)
	assert.False(t, info.Expired(info.ResolvedAt.Add(4*time.Minute)))
	assert.True(t, info.Expired(info.ResolvedAt.Add(6*time.Minute)))
}

func TestResolveExtractionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success": false, "error": "Extraction echouee: blocked", "audio_url": null}`))
	}))
	defer srv.Close()

	c := New(srv.URL, zerolog.Nop())
	_, err := c.Resolve(context.Background(), "dQw4w9WgXcQ")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestResolveTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(srv.URL, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Resolve(ctx, "dQw4w9WgXcQ")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestInfoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/info/dQw4w9WgXcQ", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"title": "Never Gonna Give You Up",
			"duration": 212,
			"description": "Official music video"
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, zerolog.Nop())
	info, err := c.Info(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)

	assert.Equal(t, "Never Gonna Give You Up", info.Title)
	assert.Equal(t, 212.0, info.Duration)
	assert.Equal(t, "Official music video", info.Description)
}

func TestInfoRejectsInvalidID(t *testing.T) {
	c := New("http://127.0.0.1:5000", zerolog.Nop())

	_, err := c.Info(context.Background(), "not an id")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestInfoLookupFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success": false, "error": "Video non accessible"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, zerolog.Nop())
	_, err := c.Info(context.Background(), "dQw4w9WgXcQ")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.Write([]byte(`{"status":"healthy"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, zerolog.Nop())
	assert.True(t, c.Healthy(context.Background()))

	srv.Close()
	assert.False(t, c.Healthy(context.Background()))
}
