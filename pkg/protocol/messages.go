// ABOUTME: SyncJam wire message type definitions
// ABOUTME: Defines the envelope and typed payloads for both directions
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is the top-level wrapper for all protocol messages.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Client -> server message types.
const (
	TypePing            = "ping"
	TypePlay            = "play"
	TypePause           = "pause"
	TypeSkip            = "skip"
	TypePrevious        = "previous"
	TypeJumpTo          = "jumpTo"
	TypeSeek            = "seek"
	TypeAddToQueue      = "addToQueue"
	TypeRemoveFromQueue = "removeFromQueue"
	TypeReorderQueue    = "reorderQueue"
	TypeReadyToPlay     = "readyToPlay"
)

// Server -> client message types.
const (
	TypeRoomState        = "roomState"
	TypeQueueUpdate      = "queueUpdate"
	TypePlayerUpdate     = "playerUpdate"
	TypePreparePlayback  = "preparePlayback"
	TypeSynchronizedPlay = "synchronizedPlay"
	TypeSyncTime         = "syncTime"
	TypePong             = "pong"
	TypeForceReload      = "forceReload"
)

// Track is the immutable descriptor the coordinator schedules. Everything
// beyond id, source, and duration is opaque display metadata forwarded
// verbatim.
type Track struct {
	ID       string          `json:"id"`
	Source   string          `json:"source"`
	Duration float64         `json:"duration"` // seconds
	Meta     json.RawMessage `json:"meta,omitempty"`
}

// Ping carries the client's send timestamp in Unix milliseconds.
type Ping struct {
	ClientTimestamp int64 `json:"clientTimestamp"`
}

// Pong echoes the client timestamp and reports the server's half-RTT
// latency estimate in milliseconds.
type Pong struct {
	ClientTimestamp int64   `json:"clientTimestamp"`
	ServerTimestamp int64   `json:"serverTimestamp"`
	Latency         float64 `json:"latency"`
}

// JumpTo selects a queue index.
type JumpTo struct {
	Index int `json:"index"`
}

// Seek moves the playhead within the current track.
type Seek struct {
	Seconds float64 `json:"seconds"`
}

// RemoveFromQueue removes the track at the given index.
type RemoveFromQueue struct {
	Index int `json:"index"`
}

// ReorderQueue replaces the whole queue. The client-supplied index is a
// hint; the server recomputes it from the previously-current track id.
type ReorderQueue struct {
	Queue             []Track `json:"queue"`
	CurrentTrackIndex int     `json:"currentTrackIndex"`
}

// ReadyToPlay confirms pre-buffering for a playback epoch.
type ReadyToPlay struct {
	Epoch uint64 `json:"epoch"`
}

// RoomState is the full authoritative snapshot, sent on connect and after
// every queue or index change.
type RoomState struct {
	Queue             []Track `json:"queue"`
	CurrentTrackIndex int     `json:"currentTrackIndex"`
	Mode              string  `json:"mode"`
	IsPlaying         bool    `json:"isPlaying"`
	CurrentTime       float64 `json:"currentTime"`
	Epoch             uint64  `json:"epoch"`
}

// PlayerUpdate reports a transport change that does not open a new epoch.
type PlayerUpdate struct {
	IsPlaying   bool    `json:"isPlaying"`
	CurrentTime float64 `json:"currentTime"`
	StartWallMs *int64  `json:"startWallMs,omitempty"`
}

// PreparePlayback opens a playback epoch and asks clients to pre-buffer.
type PreparePlayback struct {
	TrackIndex      int     `json:"trackIndex"`
	StartTime       float64 `json:"startTime"`
	ServerTimestamp int64   `json:"serverTimestamp"`
	Epoch           uint64  `json:"epoch"`
}

// SynchronizedPlay starts playback for a converged (or timed-out) epoch.
type SynchronizedPlay struct {
	StartTime       float64 `json:"startTime"`
	ServerTimestamp int64   `json:"serverTimestamp"`
	IsPlaying       bool    `json:"isPlaying"`
	Epoch           uint64  `json:"epoch"`
}

// SyncTime is the authoritative clock broadcast while playing.
type SyncTime struct {
	CurrentTime       float64 `json:"currentTime"`
	IsPlaying         bool    `json:"isPlaying"`
	CurrentTrackIndex int     `json:"currentTrackIndex"`
	ServerTimestamp   int64   `json:"serverTimestamp"`
	Epoch             uint64  `json:"epoch"`
}

// DecodePayload re-marshals an envelope payload into a typed struct.
func DecodePayload(payload interface{}, dst interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}
