// ABOUTME: HTTP client for the audio URL extraction sidecar
// ABOUTME: Resolved URLs are short-lived and must be treated as expiring
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrInvalidID rejects video IDs before they reach the sidecar.
	ErrInvalidID = errors.New("invalid video id")

	// ErrUnavailable means the sidecar answered but could not extract.
	ErrUnavailable = errors.New("audio unavailable")

	// ErrTimeout means the extraction did not finish in time.
	ErrTimeout = errors.New("resolver timeout")
)

// videoIDPattern matches the 11-character IDs the extractor accepts.
var videoIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)

const (
	// URLLifetime is how long a resolved URL stays usable. Callers must
	// re-resolve after it.
	URLLifetime = 5 * time.Minute

	requestTimeout = 30 * time.Second
)

// AudioInfo is a resolved direct audio URL with its format details.
type AudioInfo struct {
	URL         string
	Title       string
	Duration    float64 // seconds, 0 when unknown
	Format      string
	ContentType string
	Bitrate     string
	ResolvedAt  time.Time
}

// Expired reports whether the URL should be re-resolved.
func (a *AudioInfo) Expired(now time.Time) bool {
	return now.Sub(a.ResolvedAt) >= URLLifetime
}

// Client talks to the extraction sidecar.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// New creates a resolver client for the sidecar at baseURL.
func New(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

type extractResponse struct {
	Success     bool    `json:"success"`
	AudioURL    string  `json:"audio_url"`
	Title       string  `json:"title"`
	Duration    float64 `json:"duration"`
	Format      string  `json:"format"`
	ContentType string  `json:"content_type"`
	Bitrate     string  `json:"bitrate"`
	Client      string  `json:"client"`
	Error       string  `json:"error"`
}

// Resolve returns a direct audio URL for the given video ID.
func (c *Client) Resolve(ctx context.Context, videoID string) (*AudioInfo, error) {
	if !videoIDPattern.MatchString(videoID) {
		return nil, ErrInvalidID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/extract/"+videoID, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var body extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: bad response: %v", ErrUnavailable, err)
	}

	if !body.Success || body.AudioURL == "" {
		c.logger.Warn().Str("video", videoID).Str("error", body.Error).Msg("extraction failed")
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, body.Error)
	}

	c.logger.Debug().
		Str("video", videoID).
		Str("format", body.Format).
		Str("client", body.Client).
		Msg("audio url resolved")

	return &AudioInfo{
		URL:         body.AudioURL,
		Title:       body.Title,
		Duration:    body.Duration,
		Format:      body.Format,
		ContentType: body.ContentType,
		Bitrate:     body.Bitrate,
		ResolvedAt:  time.Now(),
	}, nil
}

// VideoInfo is display metadata without a resolved audio URL.
type VideoInfo struct {
	Title       string
	Duration    float64 // seconds, 0 when unknown
	Description string
}

type infoResponse struct {
	Success     bool    `json:"success"`
	Title       string  `json:"title"`
	Duration    float64 `json:"duration"`
	Description string  `json:"description"`
	Error       string  `json:"error"`
}

// Info fetches metadata for a video without extracting an audio URL.
// Cheaper than Resolve when only the title and duration are needed, for
// example when a track is queued long before it plays.
func (c *Client) Info(ctx context.Context, videoID string) (*VideoInfo, error) {
	if !videoIDPattern.MatchString(videoID) {
		return nil, ErrInvalidID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/info/"+videoID, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var body infoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: bad response: %v", ErrUnavailable, err)
	}

	if !body.Success {
		c.logger.Warn().Str("video", videoID).Str("error", body.Error).Msg("info lookup failed")
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, body.Error)
	}

	return &VideoInfo{
		Title:       body.Title,
		Duration:    body.Duration,
		Description: body.Description,
	}, nil
}

// Healthy reports whether the sidecar's health endpoint answers.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
