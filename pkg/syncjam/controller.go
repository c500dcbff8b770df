// ABOUTME: Client playback controller: pre-buffer, scheduled start, drift correction
// ABOUTME: Follows the server's epoch-tagged broadcasts and keeps the media element on time
package syncjam

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/syncjam/syncjam-go/internal/clock"
	"github.com/syncjam/syncjam-go/pkg/protocol"
)

// State is the controller's playback state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePreBuffering
	StatePlaying
	StatePaused
	StateSoftCorrecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePreBuffering:
		return "prebuffering"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateSoftCorrecting:
		return "softCorrecting"
	default:
		return "unknown"
	}
}

const (
	watchdogInterval = 2 * time.Second
	stallThreshold   = 3 * time.Second
	maxReloads       = 2

	prebufferPoll = 50 * time.Millisecond
)

// Config wires a controller's collaborators.
type Config struct {
	Media Media

	// StreamURL maps a track to a playable URL. Connect installs a
	// default pointing at the server's stream proxy when nil.
	StreamURL func(protocol.Track) string

	Clock  clock.Clock
	Logger zerolog.Logger
}

// Controller mirrors the room's authoritative state onto a local media
// element. All message handling and commands go through one mutex, so the
// transport's read loop and the clock's timers never race.
type Controller struct {
	mu sync.Mutex

	media     Media
	streamURL func(protocol.Track) string
	clock     clock.Clock
	logger    zerolog.Logger

	// sendFn delivers a command to the server. Installed by Connect.
	sendFn func(protocol.Message) error

	state         State
	epoch         uint64
	queue         []protocol.Track
	currentIndex  int
	isPlaying     bool
	loadedTrackID string

	latencyMs        float64
	serverTimeOffset int64 // serverNow - clientNow, milliseconds

	transitionUntilMs  int64
	lastCorrectionMs   int64
	consecutiveResyncs int
	softTimer          clock.Timer

	lastButtonMs int64

	lastMediaTime  float64
	lastProgressMs int64
	reloads        int
	watchdog       clock.Timer

	conn *wsConn
}

// NewController builds a controller around a media element. It does not
// connect; call Connect or install sendFn and feed HandleMessage directly.
func NewController(cfg Config) *Controller {
	c := &Controller{
		media:     cfg.Media,
		streamURL: cfg.StreamURL,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
	if c.clock == nil {
		c.clock = clock.NewSystem()
	}
	now := c.clock.NowMs()
	c.lastCorrectionMs = now - protocol.DegradedCooldown.Milliseconds()
	c.lastButtonMs = now - protocol.UICooldown.Milliseconds()
	c.lastProgressMs = now
	return c
}

// startWatchdog arms the stall detector. Connect calls this once the
// transport is up. Monitoring starts from a fresh baseline so playhead
// history from before the watchdog existed cannot count as a stall.
func (c *Controller) startWatchdog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchdog == nil {
		c.lastMediaTime = c.media.CurrentTime()
		c.lastProgressMs = c.clock.NowMs()
		c.watchdog = c.clock.AfterFunc(watchdogInterval, c.watchdogCheck)
	}
}

// State reports the controller's playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Latency reports the last accepted one-way latency estimate in ms.
func (c *Controller) Latency() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latencyMs
}

// Queue reports the mirrored queue and current index.
func (c *Controller) Queue() ([]protocol.Track, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Track, len(c.queue))
	copy(out, c.queue)
	return out, c.currentIndex
}

// HandleMessage routes one server message. The transport's read loop calls
// this for every frame.
func (c *Controller) HandleMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypePong:
		var p protocol.Pong
		if protocol.DecodePayload(msg.Payload, &p) == nil {
			c.handlePong(p)
		}
	case protocol.TypeRoomState:
		var s protocol.RoomState
		if protocol.DecodePayload(msg.Payload, &s) == nil {
			c.handleRoomState(s)
		}
	case protocol.TypeQueueUpdate:
		var s protocol.RoomState
		if protocol.DecodePayload(msg.Payload, &s) == nil {
			c.handleQueueUpdate(s)
		}
	case protocol.TypePreparePlayback:
		var p protocol.PreparePlayback
		if protocol.DecodePayload(msg.Payload, &p) == nil {
			c.handlePrepare(p)
		}
	case protocol.TypeSynchronizedPlay:
		var p protocol.SynchronizedPlay
		if protocol.DecodePayload(msg.Payload, &p) == nil {
			c.handleSynchronizedPlay(p)
		}
	case protocol.TypeSyncTime:
		var s protocol.SyncTime
		if protocol.DecodePayload(msg.Payload, &s) == nil {
			c.handleSyncTime(s)
		}
	case protocol.TypePlayerUpdate:
		var p protocol.PlayerUpdate
		if protocol.DecodePayload(msg.Payload, &p) == nil {
			c.handlePlayerUpdate(p)
		}
	case protocol.TypeForceReload:
		c.handleForceReload()
	default:
		c.logger.Debug().Str("type", msg.Type).Msg("unhandled message")
	}
}

func (c *Controller) handlePong(p protocol.Pong) {
	now := c.clock.NowMs()

	c.mu.Lock()
	defer c.mu.Unlock()

	if p.Latency < 0 || p.Latency > protocol.MaxLatencyMs {
		return
	}
	c.latencyMs = p.Latency
	c.serverTimeOffset = p.ServerTimestamp - now
}

func (c *Controller) handleRoomState(s protocol.RoomState) {
	now := c.clock.NowMs()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue = s.Queue
	c.epoch = s.Epoch
	c.isPlaying = s.IsPlaying
	if s.CurrentTrackIndex != c.currentIndex {
		c.transitionUntilMs = now + protocol.TransitionWindow.Milliseconds()
	}
	c.currentIndex = s.CurrentTrackIndex

	// Late joiner into a live room: load the current track and fall in.
	if s.IsPlaying && s.CurrentTrackIndex >= 0 && s.CurrentTrackIndex < len(s.Queue) {
		track := s.Queue[s.CurrentTrackIndex]
		if err := c.loadLocked(track); err != nil {
			c.logger.Error().Err(err).Str("track", track.ID).Msg("load failed")
			return
		}
		c.media.Seek(s.CurrentTime + c.latencyMs/1000)
		c.media.Play()
		c.state = StatePlaying
		c.transitionUntilMs = now + protocol.TransitionWindow.Milliseconds()
	}
}

func (c *Controller) handleQueueUpdate(s protocol.RoomState) {
	now := c.clock.NowMs()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue = s.Queue
	c.epoch = s.Epoch
	c.isPlaying = s.IsPlaying
	if s.CurrentTrackIndex != c.currentIndex {
		c.transitionUntilMs = now + protocol.TransitionWindow.Milliseconds()
	}
	c.currentIndex = s.CurrentTrackIndex
}

func (c *Controller) handlePrepare(p protocol.PreparePlayback) {
	c.mu.Lock()

	if p.TrackIndex < 0 || p.TrackIndex >= len(c.queue) {
		c.mu.Unlock()
		c.logger.Warn().Int("index", p.TrackIndex).Msg("prepare for unknown track")
		return
	}

	c.epoch = p.Epoch
	c.currentIndex = p.TrackIndex
	c.state = StateLoading
	track := c.queue[p.TrackIndex]

	if err := c.loadLocked(track); err != nil {
		c.mu.Unlock()
		c.logger.Error().Err(err).Str("track", track.ID).Msg("load failed, skipping")
		c.send(protocol.TypeSkip, nil)
		return
	}

	c.state = StatePreBuffering
	c.reloads = 0
	deadline := c.clock.NowMs() + protocol.PrebufferTimeout.Milliseconds()

	// Fast path: already buffered past the start position.
	if c.media.BufferedAhead() >= protocol.MinPrebuffer {
		c.finishPrepareLocked(p)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	go c.waitForBuffer(p, deadline)
}

// waitForBuffer polls until enough media is buffered or the deadline
// passes, then reports ready. A timed-out client still reports ready so
// the room does not stall on it.
func (c *Controller) waitForBuffer(p protocol.PreparePlayback, deadlineMs int64) {
	for {
		c.mu.Lock()
		if c.epoch != p.Epoch || c.state != StatePreBuffering {
			c.mu.Unlock()
			return
		}
		if c.media.BufferedAhead() >= protocol.MinPrebuffer || c.clock.NowMs() >= deadlineMs {
			c.finishPrepareLocked(p)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		time.Sleep(prebufferPoll)
	}
}

func (c *Controller) finishPrepareLocked(p protocol.PreparePlayback) {
	c.media.Seek(p.StartTime)
	c.logger.Debug().Uint64("epoch", p.Epoch).Float64("startTime", p.StartTime).Msg("ready")
	c.send(protocol.TypeReadyToPlay, protocol.ReadyToPlay{Epoch: p.Epoch})
}

func (c *Controller) handleSynchronizedPlay(p protocol.SynchronizedPlay) {
	now := c.clock.NowMs()

	c.mu.Lock()
	defer c.mu.Unlock()

	if p.Epoch != c.epoch {
		c.logger.Debug().Uint64("epoch", p.Epoch).Uint64("current", c.epoch).Msg("stale synchronizedPlay")
		return
	}

	// Compensate for the broadcast's time in flight plus our measured
	// one-way latency before starting.
	elapsedMs := float64(now + c.serverTimeOffset - p.ServerTimestamp)
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	target := p.StartTime + elapsedMs/1000 + c.latencyMs/1000

	c.media.Seek(target)
	c.media.Play()
	c.isPlaying = true
	c.state = StatePlaying
	c.transitionUntilMs = now + time.Second.Milliseconds()
	c.lastProgressMs = now
	c.lastMediaTime = c.media.CurrentTime()
}

func (c *Controller) handleSyncTime(s protocol.SyncTime) {
	now := c.clock.NowMs()

	c.mu.Lock()
	defer c.mu.Unlock()

	if s.Epoch != c.epoch || !s.IsPlaying {
		return
	}
	if c.state == StateLoading || c.state == StatePreBuffering {
		return
	}
	if now < c.transitionUntilMs {
		return
	}
	// No stacked corrections while a rate nudge is active.
	if c.state == StateSoftCorrecting {
		return
	}
	if c.state != StatePlaying {
		return
	}

	// A quiet stretch ends the degraded window.
	if now-c.lastCorrectionMs >= protocol.ResyncRecovery.Milliseconds() {
		c.consecutiveResyncs = 0
	}

	drift := s.CurrentTime - c.media.CurrentTime()
	abs := math.Abs(drift)

	threshold := protocol.DriftSoft
	if c.consecutiveResyncs > 2 {
		threshold = protocol.DriftSoftDegraded
	}
	if abs < threshold {
		return
	}

	cooldown := protocol.ClientResyncCooldown
	if c.consecutiveResyncs >= protocol.MaxConsecutiveResyncs {
		cooldown = protocol.DegradedCooldown
	}
	if now-c.lastCorrectionMs < cooldown.Milliseconds() {
		return
	}

	c.lastCorrectionMs = now
	c.consecutiveResyncs++

	if abs >= protocol.DriftHard {
		target := s.CurrentTime + c.latencyMs/1000
		c.logger.Info().Float64("drift", drift).Float64("target", target).Msg("hard resync")
		c.media.Seek(target)
		return
	}

	rate := protocol.RateFast
	if drift < 0 {
		rate = protocol.RateSlow
	}
	c.logger.Debug().Float64("drift", drift).Float64("rate", rate).Msg("soft correction")
	c.media.SetRate(rate)
	c.state = StateSoftCorrecting
	c.softTimer = c.clock.AfterFunc(protocol.SoftCorrectionDuration, c.endSoftCorrection)
}

func (c *Controller) endSoftCorrection() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateSoftCorrecting {
		return
	}
	c.media.SetRate(1.0)
	c.state = StatePlaying
}

func (c *Controller) handlePlayerUpdate(p protocol.PlayerUpdate) {
	now := c.clock.NowMs()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !p.IsPlaying {
		if c.softTimer != nil {
			c.softTimer.Stop()
		}
		c.media.SetRate(1.0)
		c.media.Pause()
		c.isPlaying = false
		if c.state != StateIdle {
			c.state = StatePaused
		}
		if math.Abs(c.media.CurrentTime()-p.CurrentTime) > protocol.DriftSoft {
			c.media.Seek(p.CurrentTime)
		}
		return
	}

	// A seek within the running track. No new epoch, so jump directly.
	c.isPlaying = true
	target := p.CurrentTime
	if p.StartWallMs != nil {
		serverNow := now + c.serverTimeOffset
		target = float64(serverNow-*p.StartWallMs) / 1000
	}
	c.media.Seek(target + c.latencyMs/1000)
	if c.state == StatePaused || c.state == StateIdle {
		c.media.Play()
		c.state = StatePlaying
	}
	c.transitionUntilMs = now + time.Second.Milliseconds()
}

func (c *Controller) handleForceReload() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info().Msg("server requested reload")
	c.reloadLocked()
}

// loadLocked points the media element at a track's stream unless it is
// already loaded.
func (c *Controller) loadLocked(track protocol.Track) error {
	if track.ID == c.loadedTrackID {
		return nil
	}
	url := track.ID
	if c.streamURL != nil {
		url = c.streamURL(track)
	}
	if err := c.media.Load(url); err != nil {
		return err
	}
	c.loadedTrackID = track.ID
	return nil
}

// reloadLocked re-loads the current track and restores the playhead.
func (c *Controller) reloadLocked() {
	if c.currentIndex < 0 || c.currentIndex >= len(c.queue) {
		return
	}
	track := c.queue[c.currentIndex]
	pos := c.media.CurrentTime()

	c.loadedTrackID = ""
	if err := c.loadLocked(track); err != nil {
		c.logger.Error().Err(err).Str("track", track.ID).Msg("reload failed")
		return
	}
	c.media.Seek(pos)
	if c.isPlaying {
		c.media.Play()
	}
}

// watchdogCheck fires every two seconds. If playback should be advancing
// but the playhead has not moved for three seconds, it reloads the stream,
// and past two reloads gives up and asks the room to skip.
func (c *Controller) watchdogCheck() {
	now := c.clock.NowMs()

	c.mu.Lock()
	defer func() {
		c.watchdog = c.clock.AfterFunc(watchdogInterval, c.watchdogCheck)
		c.mu.Unlock()
	}()

	if !c.isPlaying || (c.state != StatePlaying && c.state != StateSoftCorrecting) {
		c.lastMediaTime = c.media.CurrentTime()
		c.lastProgressMs = now
		return
	}

	t := c.media.CurrentTime()
	if t != c.lastMediaTime {
		c.lastMediaTime = t
		c.lastProgressMs = now
		return
	}
	if now-c.lastProgressMs < stallThreshold.Milliseconds() {
		return
	}

	if c.reloads >= maxReloads {
		c.logger.Warn().Str("track", c.loadedTrackID).Msg("stalled past reload limit, skipping")
		c.send(protocol.TypeSkip, nil)
		c.reloads = 0
		c.lastProgressMs = now
		return
	}

	c.logger.Warn().Str("track", c.loadedTrackID).Msg("playback stalled, reloading")
	c.reloadLocked()
	c.reloads++
	c.lastProgressMs = now
}

// send delivers a command. Safe to call with the mutex held; the transport
// write path does not call back into the controller.
func (c *Controller) send(msgType string, payload interface{}) {
	if c.sendFn == nil {
		return
	}
	if err := c.sendFn(protocol.Message{Type: msgType, Payload: payload}); err != nil {
		c.logger.Error().Err(err).Str("type", msgType).Msg("send failed")
	}
}

// PressPlay sends a play command, debounced against double-taps. The
// server's transport cooldown remains the authoritative filter.
func (c *Controller) PressPlay() {
	c.pressTransport(protocol.TypePlay)
}

// PressPause sends a pause command, debounced against double-taps.
func (c *Controller) PressPause() {
	c.pressTransport(protocol.TypePause)
}

func (c *Controller) pressTransport(msgType string) {
	now := c.clock.NowMs()

	c.mu.Lock()
	defer c.mu.Unlock()

	if now-c.lastButtonMs < protocol.UICooldown.Milliseconds() {
		return
	}
	c.lastButtonMs = now
	c.send(msgType, nil)
}

// Skip asks the room to advance to the next track.
func (c *Controller) Skip() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.send(protocol.TypeSkip, nil)
}

// Previous asks the room to go back one track.
func (c *Controller) Previous() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.send(protocol.TypePrevious, nil)
}

// JumpTo asks the room to select a queue index.
func (c *Controller) JumpTo(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.send(protocol.TypeJumpTo, protocol.JumpTo{Index: index})
}

// SeekTo asks the room to move the shared playhead.
func (c *Controller) SeekTo(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.send(protocol.TypeSeek, protocol.Seek{Seconds: seconds})
}

// AddToQueue appends a track to the shared queue.
func (c *Controller) AddToQueue(track protocol.Track) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.send(protocol.TypeAddToQueue, track)
}

// RemoveFromQueue removes the track at index from the shared queue.
func (c *Controller) RemoveFromQueue(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.send(protocol.TypeRemoveFromQueue, protocol.RemoveFromQueue{Index: index})
}

// ReorderQueue proposes a new queue order.
func (c *Controller) ReorderQueue(queue []protocol.Track, currentIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.send(protocol.TypeReorderQueue, protocol.ReorderQueue{
		Queue:             queue,
		CurrentTrackIndex: currentIndex,
	})
}
