// ABOUTME: Authoritative playback state machine for the listening room
// ABOUTME: Serializes commands, runs pre-buffer epochs, and owns the virtual clock
package room

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/syncjam/syncjam-go/internal/clock"
	"github.com/syncjam/syncjam-go/pkg/protocol"
)

// Mode is the coordinator state.
type Mode int

const (
	ModeIdle Mode = iota
	ModePreparing
	ModePlaying
	ModePaused
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModePreparing:
		return "preparing"
	case ModePlaying:
		return "playing"
	case ModePaused:
		return "paused"
	}
	return "unknown"
}

// Broadcaster fans events out to attached clients. Implementations must
// not block: a slow consumer must never stall a state transition.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{})
	SendTo(sessionID, msgType string, payload interface{})
}

// Snapshot is the persistable subset of room state. Sessions are
// ephemeral and never snapshotted.
type Snapshot struct {
	Queue             []protocol.Track `json:"queue"`
	CurrentTrackIndex int              `json:"currentTrackIndex"`
	Mode              string           `json:"mode"`
	CurrentTime       float64          `json:"currentTime"`
}

// SnapshotStore persists room state best-effort. Absence of a snapshot
// is not an error; in-memory state stays authoritative.
type SnapshotStore interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Healthy(ctx context.Context) bool
}

// Config wires the coordinator's collaborators.
type Config struct {
	Clock       clock.Clock
	Broadcaster Broadcaster
	Snapshots   SnapshotStore // optional
	Logger      zerolog.Logger
}

// Coordinator owns the room: queue, mode, epoch, and the virtual
// playback clock. All mutations are serialized through its mutex; every
// broadcast for a mutation is emitted before the next mutation runs.
type Coordinator struct {
	mu       sync.Mutex
	clock    clock.Clock
	registry *Registry
	bcast    Broadcaster
	snaps    SnapshotStore
	log      zerolog.Logger

	queue       Queue
	mode        Mode
	currentTime float64 // authoritative while not Playing
	startWallMs int64   // defined while Playing
	epoch       uint64

	lastTransportMs int64

	readyTimer clock.Timer
	navTimer   clock.Timer
	tickTimer  clock.Timer
}

// NewCoordinator creates an idle room.
func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{
		clock:           cfg.Clock,
		registry:        NewRegistry(),
		bcast:           cfg.Broadcaster,
		snaps:           cfg.Snapshots,
		log:             cfg.Logger,
		mode:            ModeIdle,
		lastTransportMs: -int64(protocol.PlayPauseCooldown / time.Millisecond),
	}
}

// Registry exposes the session registry for the transport layer.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Restore hydrates queue, index, mode, and currentTime from a snapshot.
// A snapshot taken mid-playback resumes paused; the virtual clock does
// not survive a restart.
func (c *Coordinator) Restore(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue.Replace(snap.Queue, snap.CurrentTrackIndex)
	c.currentTime = snap.CurrentTime
	switch {
	case c.queue.Len() == 0:
		c.mode = ModeIdle
		c.currentTime = 0
	case snap.Mode == ModeIdle.String():
		c.mode = ModeIdle
	default:
		c.mode = ModePaused
	}

	c.log.Info().
		Int("tracks", c.queue.Len()).
		Int("index", c.queue.CurrentIndex()).
		Str("mode", c.mode.String()).
		Msg("room state restored from snapshot")
}

// Connect attaches a session and sends it the full room state. A client
// joining mid-Preparing also gets the pending preparePlayback so it can
// buffer and report ready.
func (c *Coordinator) Connect(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.registry.Attach(sessionID)
	now := c.clock.NowMs()
	c.bcast.SendTo(sessionID, protocol.TypeRoomState, c.stateLocked(now))

	if c.mode == ModePreparing {
		c.bcast.SendTo(sessionID, protocol.TypePreparePlayback, protocol.PreparePlayback{
			TrackIndex:      c.queue.CurrentIndex(),
			StartTime:       c.currentTime,
			ServerTimestamp: now,
			Epoch:           c.epoch,
		})
	}

	c.log.Info().Str("session", sessionID).Int("clients", c.registry.Count()).Msg("client connected")
}

// Disconnect detaches a session. Releasing its ready bit may complete
// ready convergence; emptying the room cancels any in-flight prepare.
func (c *Coordinator) Disconnect(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.registry.Detach(sessionID)
	c.log.Info().Str("session", sessionID).Int("clients", c.registry.Count()).Msg("client disconnected")

	if c.mode != ModePreparing {
		return
	}
	if c.registry.Count() == 0 {
		c.cancelTimersLocked()
		c.mode = ModePaused
		c.log.Info().Msg("room emptied during prepare, pausing")
		return
	}
	if c.registry.AllReady() {
		c.startPlayingLocked("last unready client left")
	}
}

// HandlePing measures latency from the client-reported timestamp and
// replies with a pong. Negative or absurd round trips are dropped.
func (c *Coordinator) HandlePing(sessionID string, clientTs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.NowMs()
	latency, err := c.registry.RecordLatency(sessionID, float64(now-clientTs), now)
	if err != nil {
		c.log.Debug().Str("session", sessionID).Int64("clientTs", clientTs).Msg("ping dropped")
		return
	}

	c.bcast.SendTo(sessionID, protocol.TypePong, protocol.Pong{
		ClientTimestamp: clientTs,
		ServerTimestamp: now,
		Latency:         latency,
	})
}

// Play opens a new playback epoch from Idle or Paused.
func (c *Coordinator) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.NowMs()
	if c.inCooldownLocked(now, "play") {
		return
	}
	if c.mode == ModePlaying {
		c.log.Debug().Msg("play ignored: already playing")
		return
	}
	if c.queue.Len() == 0 {
		c.log.Debug().Msg("play ignored: empty queue")
		return
	}

	c.lastTransportMs = now
	c.cancelTimersLocked()
	c.beginEpochLocked()
	c.mode = ModePreparing
	c.sendPrepareLocked(now)
}

// Pause freezes the virtual clock. A pause during Preparing cancels the
// in-flight prepare.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.NowMs()
	if c.inCooldownLocked(now, "pause") {
		return
	}

	switch c.mode {
	case ModePlaying:
		c.lastTransportMs = now
		c.currentTime = float64(now-c.startWallMs) / 1000
		c.mode = ModePaused
		c.stopTickLocked()
		c.bcast.Broadcast(protocol.TypePlayerUpdate, protocol.PlayerUpdate{
			IsPlaying:   false,
			CurrentTime: c.currentTime,
		})
		c.saveSnapshotLocked()
	case ModePreparing:
		c.lastTransportMs = now
		c.cancelTimersLocked()
		c.mode = ModePaused
		c.bcast.Broadcast(protocol.TypePlayerUpdate, protocol.PlayerUpdate{
			IsPlaying:   false,
			CurrentTime: c.currentTime,
		})
		c.saveSnapshotLocked()
	default:
		c.log.Debug().Str("mode", c.mode.String()).Msg("pause ignored")
	}
}

// Skip advances to the next track.
func (c *Coordinator) Skip() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.queue.Advance() {
		c.log.Debug().Msg("skip ignored: no next track")
		return
	}
	c.afterNavigationLocked()
}

// Previous moves back one track.
func (c *Coordinator) Previous() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.queue.Retreat() {
		c.log.Debug().Msg("previous ignored: no previous track")
		return
	}
	c.afterNavigationLocked()
}

// JumpTo selects an arbitrary queue index. Jumping to the current index
// restarts the track from zero.
func (c *Coordinator) JumpTo(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.queue.JumpTo(index); err != nil {
		c.log.Debug().Int("index", index).Msg("jumpTo dropped: index out of range")
		return
	}
	c.afterNavigationLocked()
}

// Seek moves the playhead within the current track without opening a new
// epoch.
func (c *Coordinator) Seek(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seconds < 0 || c.queue.Len() == 0 {
		c.log.Debug().Float64("seconds", seconds).Msg("seek dropped")
		return
	}

	now := c.clock.NowMs()
	c.currentTime = seconds

	update := protocol.PlayerUpdate{
		IsPlaying:   c.mode == ModePlaying,
		CurrentTime: seconds,
	}
	if c.mode == ModePlaying {
		c.startWallMs = now - int64(seconds*1000)
		start := c.startWallMs
		update.StartWallMs = &start
	}
	c.bcast.Broadcast(protocol.TypePlayerUpdate, update)
	c.saveSnapshotLocked()
}

// AddToQueue appends a track and broadcasts the new state.
func (c *Coordinator) AddToQueue(t protocol.Track) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.ID == "" || t.Duration <= 0 {
		c.log.Debug().Str("id", t.ID).Float64("duration", t.Duration).Msg("addToQueue dropped: invalid track")
		return
	}

	c.queue.Append(t)
	c.broadcastQueueLocked()
	c.saveSnapshotLocked()
}

// RemoveFromQueue removes the track at the given index. Removing the
// track that is currently loaded stops playback.
func (c *Coordinator) RemoveFromQueue(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removedCurrent, err := c.queue.RemoveAt(index)
	if err != nil {
		c.log.Debug().Int("index", index).Msg("removeFromQueue dropped: index out of range")
		return
	}

	if removedCurrent {
		c.stopTickLocked()
		c.cancelTimersLocked()
		c.mode = ModePaused
		c.currentTime = 0
	}
	c.broadcastQueueLocked()
	c.saveSnapshotLocked()
}

// Reorder replaces the queue. If the previously current track survived
// the reorder, playback follows it to its new slot; otherwise the room
// stops on the fallback index.
func (c *Coordinator) Reorder(tracks []protocol.Track, clientIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevID := ""
	if cur, ok := c.queue.Current(); ok {
		prevID = cur.ID
	}

	c.queue.Replace(tracks, clientIndex)

	cur, ok := c.queue.Current()
	if !ok || cur.ID != prevID {
		if c.mode == ModePlaying || c.mode == ModePreparing {
			c.stopTickLocked()
			c.cancelTimersLocked()
			c.mode = ModePaused
			c.currentTime = 0
		}
	}
	c.broadcastQueueLocked()
	c.saveSnapshotLocked()
}

// ReadyToPlay records a client's pre-buffer confirmation for an epoch.
// Stale epochs are dropped. Convergence of every attached session starts
// playback immediately.
func (c *Coordinator) ReadyToPlay(sessionID string, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		c.log.Debug().
			Str("session", sessionID).
			Uint64("got", epoch).
			Uint64("want", c.epoch).
			Msg("readyToPlay dropped: stale epoch")
		return
	}

	c.registry.MarkReady(sessionID)

	if c.mode == ModePreparing && c.registry.AllReady() {
		c.startPlayingLocked("all clients ready")
	}
}

// Stats reports health-endpoint facts about the room.
type Stats struct {
	Clients  int
	Mode     string
	QueueLen int
}

// Stats returns a health summary.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Clients:  c.registry.Count(),
		Mode:     c.mode.String(),
		QueueLen: c.queue.Len(),
	}
}

// State returns the current room snapshot as sent to clients.
func (c *Coordinator) State() protocol.RoomState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(c.clock.NowMs())
}

// --- internals, all called with c.mu held ---

func (c *Coordinator) inCooldownLocked(now int64, cmd string) bool {
	if now-c.lastTransportMs < protocol.PlayPauseCooldown.Milliseconds() {
		c.log.Debug().Str("command", cmd).Int64("sinceMs", now-c.lastTransportMs).Msg("transport command dropped by cooldown")
		return true
	}
	return false
}

// beginEpochLocked opens a new playback epoch: every ready bit is
// cleared and the epoch counter strictly increases.
func (c *Coordinator) beginEpochLocked() {
	c.registry.ResetReadyAll()
	c.epoch++
}

func (c *Coordinator) sendPrepareLocked(now int64) {
	c.bcast.Broadcast(protocol.TypePreparePlayback, protocol.PreparePlayback{
		TrackIndex:      c.queue.CurrentIndex(),
		StartTime:       c.currentTime,
		ServerTimestamp: now,
		Epoch:           c.epoch,
	})
	c.armReadyTimeoutLocked()
}

func (c *Coordinator) armReadyTimeoutLocked() {
	epochAt := c.epoch
	c.readyTimer = c.clock.AfterFunc(protocol.ReadyTimeout, func() {
		c.readyTimeoutFired(epochAt)
	})
}

func (c *Coordinator) readyTimeoutFired(epochAt uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModePreparing || c.epoch != epochAt {
		return
	}
	ready, total := c.registry.SnapshotReady()
	c.log.Warn().Int("ready", ready).Int("total", total).Msg("ready timeout elapsed, starting with partial readiness")
	c.startPlayingLocked("ready timeout")
}

func (c *Coordinator) startPlayingLocked(reason string) {
	if t := c.readyTimer; t != nil {
		t.Stop()
		c.readyTimer = nil
	}

	now := c.clock.NowMs()
	c.startWallMs = now - int64(c.currentTime*1000)
	c.mode = ModePlaying

	c.bcast.Broadcast(protocol.TypeSynchronizedPlay, protocol.SynchronizedPlay{
		StartTime:       c.currentTime,
		ServerTimestamp: now,
		IsPlaying:       true,
		Epoch:           c.epoch,
	})
	c.armTickLocked()

	c.log.Info().
		Uint64("epoch", c.epoch).
		Float64("startTime", c.currentTime).
		Str("reason", reason).
		Msg("synchronized playback started")
}

// afterNavigationLocked applies the common tail of skip/previous/jumpTo
// and end-of-track: new epoch, immediate queueUpdate, and a delayed
// preparePlayback when the room was live. The delay lets clients tear
// down the previous track's audio pipeline first.
func (c *Coordinator) afterNavigationLocked() {
	wasLive := c.mode == ModePlaying || c.mode == ModePreparing

	c.stopTickLocked()
	c.cancelTimersLocked()
	c.currentTime = 0
	c.beginEpochLocked()

	// Leave Playing before broadcasting so the queueUpdate reports the
	// reset playhead, not the dying virtual clock.
	if wasLive {
		c.mode = ModePreparing
	} else {
		c.mode = ModePaused
	}
	c.broadcastQueueLocked()

	if wasLive {
		epochAt := c.epoch
		c.navTimer = c.clock.AfterFunc(protocol.NavPrepareDelay, func() {
			c.navPrepareFired(epochAt)
		})
	}
	c.saveSnapshotLocked()
}

func (c *Coordinator) navPrepareFired(epochAt uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModePreparing || c.epoch != epochAt {
		return
	}
	c.sendPrepareLocked(c.clock.NowMs())
}

func (c *Coordinator) cancelTimersLocked() {
	if t := c.readyTimer; t != nil {
		t.Stop()
		c.readyTimer = nil
	}
	if t := c.navTimer; t != nil {
		t.Stop()
		c.navTimer = nil
	}
}

func (c *Coordinator) broadcastQueueLocked() {
	c.bcast.Broadcast(protocol.TypeQueueUpdate, c.stateLocked(c.clock.NowMs()))
}

func (c *Coordinator) stateLocked(now int64) protocol.RoomState {
	current := c.currentTime
	if c.mode == ModePlaying {
		current = float64(now-c.startWallMs) / 1000
	}
	return protocol.RoomState{
		Queue:             c.queue.Tracks(),
		CurrentTrackIndex: c.queue.CurrentIndex(),
		Mode:              c.mode.String(),
		IsPlaying:         c.mode == ModePlaying,
		CurrentTime:       current,
		Epoch:             c.epoch,
	}
}

// saveSnapshotLocked persists state best-effort off the command path.
func (c *Coordinator) saveSnapshotLocked() {
	if c.snaps == nil {
		return
	}
	snap := Snapshot{
		Queue:             c.queue.Tracks(),
		CurrentTrackIndex: c.queue.CurrentIndex(),
		Mode:              c.mode.String(),
		CurrentTime:       c.currentTime,
	}
	store := c.snaps
	logger := c.log
	go func() {
		if err := store.Save(context.Background(), snap); err != nil {
			logger.Warn().Err(err).Msg("snapshot save failed")
		}
	}()
}
