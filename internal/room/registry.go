// ABOUTME: Registry of connected client sessions
// ABOUTME: Tracks measured latency and the epoch-scoped ready flag
package room

import (
	"errors"
	"sync"

	"github.com/syncjam/syncjam-go/pkg/protocol"
)

// ErrLatencyOutOfRange is returned for negative round trips (client clock
// skew) or latencies past the plausible bound. Such samples are dropped,
// not clamped.
var ErrLatencyOutOfRange = errors.New("latency measurement out of range")

// Session is one connected client. Ready is scoped to the current
// playback epoch and reset on every Preparing entry.
type Session struct {
	ID         string
	LatencyMs  float64
	LastPingAt int64
	Ready      bool
}

// Registry holds the currently connected sessions. Sessions are ephemeral:
// created on connect, destroyed on disconnect, never snapshotted.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Attach registers a session. Attaching an existing ID returns the live
// session unchanged.
func (r *Registry) Attach(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := &Session{ID: id}
	r.sessions[id] = s
	return s
}

// Detach removes a session, releasing its ready bit.
func (r *Registry) Detach(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// RecordLatency stores half the round trip as the session's one-way
// latency. Rejects rttMs < 0 and latencies above MaxLatencyMs.
func (r *Registry) RecordLatency(id string, rttMs float64, nowMs int64) (float64, error) {
	if rttMs < 0 {
		return 0, ErrLatencyOutOfRange
	}
	latency := rttMs / 2
	if latency > protocol.MaxLatencyMs {
		return 0, ErrLatencyOutOfRange
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.LatencyMs = latency
		s.LastPingAt = nowMs
	}
	return latency, nil
}

// MarkReady sets the session's ready bit. Reports whether the session
// exists.
func (r *Registry) MarkReady(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.Ready = true
	return true
}

// ResetReadyAll clears every session's ready bit for a new epoch.
func (r *Registry) ResetReadyAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		s.Ready = false
	}
}

// SnapshotReady reports how many sessions are ready out of the total.
func (r *Registry) SnapshotReady() (ready, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		total++
		if s.Ready {
			ready++
		}
	}
	return ready, total
}

// AllReady reports ready convergence: at least one session, all ready.
func (r *Registry) AllReady() bool {
	ready, total := r.SnapshotReady()
	return total > 0 && ready == total
}

// Count returns the number of attached sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
