// ABOUTME: Fixed-period sync broadcaster driving clients while Playing
// ABOUTME: Emits authoritative syncTime and raises end-of-track advance
package room

import (
	"github.com/syncjam/syncjam-go/pkg/protocol"
)

// armTickLocked schedules the next sync tick. The tick re-arms itself
// while the room stays in Playing, so the ticker is implicitly suspended
// by any transition that leaves Playing or bumps the epoch: a tick from
// a stale epoch is a no-op and never carries stale state.
func (c *Coordinator) armTickLocked() {
	epochAt := c.epoch
	c.tickTimer = c.clock.AfterFunc(protocol.SyncInterval, func() {
		c.tick(epochAt)
	})
}

func (c *Coordinator) tick(epochAt uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModePlaying || c.epoch != epochAt {
		return
	}

	now := c.clock.NowMs()
	current := float64(now-c.startWallMs) / 1000
	c.currentTime = current

	if track, ok := c.queue.Current(); ok && current >= track.Duration {
		c.endOfTrackLocked()
		return
	}

	c.bcast.Broadcast(protocol.TypeSyncTime, protocol.SyncTime{
		CurrentTime:       current,
		IsPlaying:         true,
		CurrentTrackIndex: c.queue.CurrentIndex(),
		ServerTimestamp:   now,
		Epoch:             c.epoch,
	})
	c.armTickLocked()
}

// endOfTrackLocked advances to the next track through the normal
// navigation path, or parks the room paused at zero when the queue is
// exhausted. The current tick is not re-armed, which stops the ticker.
func (c *Coordinator) endOfTrackLocked() {
	c.log.Info().Int("index", c.queue.CurrentIndex()).Msg("end of track")

	if c.queue.Advance() {
		c.afterNavigationLocked()
		return
	}

	c.mode = ModePaused
	c.currentTime = 0
	c.bcast.Broadcast(protocol.TypePlayerUpdate, protocol.PlayerUpdate{
		IsPlaying:   false,
		CurrentTime: 0,
	})
	c.saveSnapshotLocked()
}

func (c *Coordinator) stopTickLocked() {
	if t := c.tickTimer; t != nil {
		t.Stop()
		c.tickTimer = nil
	}
}
