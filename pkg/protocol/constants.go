// ABOUTME: Wire-visible timing constants shared by server and client
// ABOUTME: Values are part of the protocol contract, not tuning knobs
package protocol

import "time"

const (
	// SyncInterval is the period of the authoritative syncTime broadcast.
	SyncInterval = 100 * time.Millisecond

	// ReadyTimeout bounds how long a slow client can hold the room in
	// Preparing before playback starts anyway.
	ReadyTimeout = 10 * time.Second

	// PlayPauseCooldown filters duplicate and racing transport commands.
	PlayPauseCooldown = 300 * time.Millisecond

	// NavPrepareDelay lets clients tear down the previous track's audio
	// pipeline before the next pre-buffer starts.
	NavPrepareDelay = 500 * time.Millisecond

	// PingInterval is the client latency measurement period.
	PingInterval = 5 * time.Second

	// MaxLatencyMs is the upper bound on a plausible one-way latency.
	// Measurements past it are dropped, not clamped.
	MaxLatencyMs = 10000

	// MinPrebuffer is how many seconds of media must be buffered ahead
	// of the start position before a client reports ready.
	MinPrebuffer = 3.0

	// PrebufferTimeout bounds the client-side buffering wait.
	PrebufferTimeout = 10 * time.Second

	// DriftSoft is the normal correction threshold in seconds;
	// DriftSoftDegraded applies after more than two consecutive
	// corrections.
	DriftSoft         = 0.3
	DriftSoftDegraded = 0.5

	// DriftHard is the threshold above which the client seeks instead of
	// nudging the playback rate.
	DriftHard = 1.0

	// ClientResyncCooldown rate-limits corrections; DegradedCooldown
	// replaces it after MaxConsecutiveResyncs corrections in a row.
	ClientResyncCooldown  = 2 * time.Second
	DegradedCooldown      = 5 * time.Second
	MaxConsecutiveResyncs = 3

	// ResyncRecovery is how long without corrections before the client
	// leaves the degraded window.
	ResyncRecovery = 10 * time.Second

	// SoftCorrectionDuration is how long the playback rate stays nudged.
	SoftCorrectionDuration = 500 * time.Millisecond

	// RateFast and RateSlow are the soft correction playback rates.
	RateFast = 1.10
	RateSlow = 0.90

	// UICooldown is the client-side play/pause button cooldown. The
	// server cooldown is the authoritative defense.
	UICooldown = 400 * time.Millisecond

	// TransitionWindow is how long after an index change the client
	// ignores syncTime to avoid chasing stale targets.
	TransitionWindow = 3 * time.Second
)
