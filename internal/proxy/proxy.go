// ABOUTME: HTTP byte-range pass-through from resolved audio URLs to clients
// ABOUTME: Caches resolutions until the upstream URL expires
package proxy

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/syncjam/syncjam-go/internal/resolver"
)

// Handler streams upstream audio to browsers, forwarding range requests.
type Handler struct {
	resolver *resolver.Client
	http     *http.Client
	logger   zerolog.Logger

	mu    sync.Mutex
	cache map[string]*resolver.AudioInfo
}

// New creates a stream proxy backed by the given resolver.
func New(r *resolver.Client, logger zerolog.Logger) *Handler {
	return &Handler{
		resolver: r,
		http:     &http.Client{Timeout: 0}, // streams run long; no global timeout
		logger:   logger,
		cache:    make(map[string]*resolver.AudioInfo),
	}
}

// ServeHTTP handles GET /stream/{id}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")

	info, err := h.resolve(r, videoID)
	if err != nil {
		switch {
		case errors.Is(err, resolver.ErrInvalidID):
			http.Error(w, "invalid video id", http.StatusBadRequest)
		case errors.Is(err, resolver.ErrTimeout):
			http.Error(w, "resolver timeout", http.StatusGatewayTimeout)
		default:
			http.Error(w, "audio unavailable", http.StatusNotFound)
		}
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, info.URL, nil)
	if err != nil {
		http.Error(w, "bad upstream url", http.StatusBadGateway)
		return
	}
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		h.logger.Warn().Err(err).Str("video", videoID).Msg("upstream fetch failed")
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for _, header := range []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges"} {
		if v := resp.Header.Get(header); v != "" {
			w.Header().Set(header, v)
		}
	}
	if w.Header().Get("Content-Type") == "" && info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		// Client disconnects mid-stream are routine.
		h.logger.Debug().Err(err).Str("video", videoID).Msg("stream copy ended")
	}
}

func (h *Handler) resolve(r *http.Request, videoID string) (*resolver.AudioInfo, error) {
	h.mu.Lock()
	cached, ok := h.cache[videoID]
	h.mu.Unlock()
	if ok && !cached.Expired(time.Now()) {
		return cached, nil
	}

	info, err := h.resolver.Resolve(r.Context(), videoID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.cache[videoID] = info
	h.mu.Unlock()
	return info, nil
}
