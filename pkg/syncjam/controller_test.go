// ABOUTME: Controller tests with a fake clock and a fake media element
// ABOUTME: Covers pre-buffer, scheduled start, drift correction, and the stall watchdog
package syncjam

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncjam/syncjam-go/internal/clock"
	"github.com/syncjam/syncjam-go/pkg/protocol"
)

type fakeMedia struct {
	mu sync.Mutex

	loads    []string
	loadErr  error
	seeks    []float64
	rates    []float64
	pos      float64
	buffered float64
	playing  bool
}

func (m *fakeMedia) Load(url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return m.loadErr
	}
	m.loads = append(m.loads, url)
	return nil
}

func (m *fakeMedia) Seek(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeks = append(m.seeks, seconds)
	m.pos = seconds
}

func (m *fakeMedia) Play() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = true
}

func (m *fakeMedia) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
}

func (m *fakeMedia) SetRate(rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates = append(m.rates, rate)
}

func (m *fakeMedia) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

func (m *fakeMedia) BufferedAhead() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buffered
}

func (m *fakeMedia) setPos(pos float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = pos
}

func (m *fakeMedia) lastSeek() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.seeks) == 0 {
		return -1
	}
	return m.seeks[len(m.seeks)-1]
}

func (m *fakeMedia) lastRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rates) == 0 {
		return 1.0
	}
	return m.rates[len(m.rates)-1]
}

type sendRecorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (r *sendRecorder) send(msg protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *sendRecorder) ofType(msgType string) []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Message
	for _, m := range r.msgs {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func newTestController(t *testing.T) (*Controller, *fakeMedia, *clock.Fake, *sendRecorder) {
	t.Helper()

	media := &fakeMedia{buffered: 10}
	fc := clock.NewFake(1_000_000)
	rec := &sendRecorder{}

	c := NewController(Config{
		Media:     media,
		Clock:     fc,
		Logger:    zerolog.Nop(),
		StreamURL: func(tr protocol.Track) string { return "http://room/stream/" + tr.ID },
	})
	c.sendFn = rec.send
	return c, media, fc, rec
}

var testTrack = protocol.Track{ID: "dQw4w9WgXcQ", Source: "youtube", Duration: 212}

func queueMsg(tracks []protocol.Track, index int, epoch uint64, playing bool) protocol.Message {
	return protocol.Message{Type: protocol.TypeQueueUpdate, Payload: protocol.RoomState{
		Queue:             tracks,
		CurrentTrackIndex: index,
		Mode:              "paused",
		IsPlaying:         playing,
		Epoch:             epoch,
	}}
}

func syncMsg(current float64, index int, epoch uint64, ts int64) protocol.Message {
	return protocol.Message{Type: protocol.TypeSyncTime, Payload: protocol.SyncTime{
		CurrentTime:       current,
		IsPlaying:         true,
		CurrentTrackIndex: index,
		ServerTimestamp:   ts,
		Epoch:             epoch,
	}}
}

// prime walks the controller through queue, prepare, and start, then moves
// past the one second post-start transition window.
func prime(t *testing.T, c *Controller, fc *clock.Fake) {
	t.Helper()

	c.HandleMessage(queueMsg([]protocol.Track{testTrack}, 0, 0, false))
	c.HandleMessage(protocol.Message{Type: protocol.TypePreparePlayback, Payload: protocol.PreparePlayback{
		TrackIndex: 0, StartTime: 0, ServerTimestamp: fc.NowMs(), Epoch: 1,
	}})
	c.HandleMessage(protocol.Message{Type: protocol.TypeSynchronizedPlay, Payload: protocol.SynchronizedPlay{
		StartTime: 0, ServerTimestamp: fc.NowMs(), IsPlaying: true, Epoch: 1,
	}})
	require.Equal(t, StatePlaying, c.State())
	fc.Advance(1100 * time.Millisecond)
}

func TestPongUpdatesLatencyAndOffset(t *testing.T) {
	c, _, fc, _ := newTestController(t)

	c.HandleMessage(protocol.Message{Type: protocol.TypePong, Payload: protocol.Pong{
		ClientTimestamp: fc.NowMs() - 80,
		ServerTimestamp: fc.NowMs() + 250,
		Latency:         40,
	}})
	assert.Equal(t, 40.0, c.Latency())
	assert.Equal(t, int64(250), c.serverTimeOffset)

	// Implausible latency measurements are dropped.
	c.HandleMessage(protocol.Message{Type: protocol.TypePong, Payload: protocol.Pong{
		ServerTimestamp: fc.NowMs(),
		Latency:         20000,
	}})
	assert.Equal(t, 40.0, c.Latency())
}

func TestPrepareBufferedReportsReady(t *testing.T) {
	c, media, fc, rec := newTestController(t)

	c.HandleMessage(queueMsg([]protocol.Track{testTrack}, 0, 0, false))
	c.HandleMessage(protocol.Message{Type: protocol.TypePreparePlayback, Payload: protocol.PreparePlayback{
		TrackIndex: 0, StartTime: 12.5, ServerTimestamp: fc.NowMs(), Epoch: 3,
	}})

	ready := rec.ofType(protocol.TypeReadyToPlay)
	require.Len(t, ready, 1)
	var r protocol.ReadyToPlay
	require.NoError(t, protocol.DecodePayload(ready[0].Payload, &r))
	assert.Equal(t, uint64(3), r.Epoch)

	assert.Equal(t, []string{"http://room/stream/dQw4w9WgXcQ"}, media.loads)
	assert.Equal(t, 12.5, media.lastSeek())
}

func TestPrepareTimeoutStillReportsReady(t *testing.T) {
	c, media, fc, rec := newTestController(t)
	media.buffered = 1 // never reaches the minimum

	c.HandleMessage(queueMsg([]protocol.Track{testTrack}, 0, 0, false))
	c.HandleMessage(protocol.Message{Type: protocol.TypePreparePlayback, Payload: protocol.PreparePlayback{
		TrackIndex: 0, StartTime: 0, ServerTimestamp: fc.NowMs(), Epoch: 1,
	}})

	require.Empty(t, rec.ofType(protocol.TypeReadyToPlay))

	fc.Advance(protocol.PrebufferTimeout)
	require.Eventually(t, func() bool {
		return len(rec.ofType(protocol.TypeReadyToPlay)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLoadFailureEscalatesToSkip(t *testing.T) {
	c, media, fc, rec := newTestController(t)
	media.loadErr = errors.New("stream unavailable")

	c.HandleMessage(queueMsg([]protocol.Track{testTrack}, 0, 0, false))
	c.HandleMessage(protocol.Message{Type: protocol.TypePreparePlayback, Payload: protocol.PreparePlayback{
		TrackIndex: 0, StartTime: 0, ServerTimestamp: fc.NowMs(), Epoch: 1,
	}})

	assert.Len(t, rec.ofType(protocol.TypeSkip), 1)
	assert.Empty(t, rec.ofType(protocol.TypeReadyToPlay))
}

func TestSynchronizedPlayCompensatesForDelay(t *testing.T) {
	c, media, fc, _ := newTestController(t)

	c.HandleMessage(protocol.Message{Type: protocol.TypePong, Payload: protocol.Pong{
		ServerTimestamp: fc.NowMs(), Latency: 100,
	}})

	c.HandleMessage(queueMsg([]protocol.Track{testTrack}, 0, 0, false))
	c.HandleMessage(protocol.Message{Type: protocol.TypePreparePlayback, Payload: protocol.PreparePlayback{
		TrackIndex: 0, StartTime: 0, ServerTimestamp: fc.NowMs(), Epoch: 1,
	}})

	// The broadcast was stamped 50ms ago in server time.
	c.HandleMessage(protocol.Message{Type: protocol.TypeSynchronizedPlay, Payload: protocol.SynchronizedPlay{
		StartTime: 0, ServerTimestamp: fc.NowMs() - 50, IsPlaying: true, Epoch: 1,
	}})

	assert.InDelta(t, 0.15, media.lastSeek(), 0.001)
	assert.True(t, media.playing)
	assert.Equal(t, StatePlaying, c.State())
}

func TestStaleSynchronizedPlayIgnored(t *testing.T) {
	c, media, fc, _ := newTestController(t)

	c.HandleMessage(queueMsg([]protocol.Track{testTrack}, 0, 0, false))
	c.HandleMessage(protocol.Message{Type: protocol.TypePreparePlayback, Payload: protocol.PreparePlayback{
		TrackIndex: 0, StartTime: 0, ServerTimestamp: fc.NowMs(), Epoch: 2,
	}})

	c.HandleMessage(protocol.Message{Type: protocol.TypeSynchronizedPlay, Payload: protocol.SynchronizedPlay{
		StartTime: 0, ServerTimestamp: fc.NowMs(), IsPlaying: true, Epoch: 1,
	}})

	assert.False(t, media.playing)
	assert.NotEqual(t, StatePlaying, c.State())
}

func TestSyncTimeWithinThresholdIgnored(t *testing.T) {
	c, media, fc, _ := newTestController(t)
	prime(t, c, fc)

	media.setPos(10.0)
	seeks := len(media.seeks)
	c.HandleMessage(syncMsg(10.2, 0, 1, fc.NowMs()))

	assert.Len(t, media.seeks, seeks)
	assert.Empty(t, media.rates)
}

func TestSoftCorrectionNudgesRate(t *testing.T) {
	c, media, fc, _ := newTestController(t)
	prime(t, c, fc)

	// Server is half a second ahead: speed up.
	media.setPos(10.0)
	c.HandleMessage(syncMsg(10.5, 0, 1, fc.NowMs()))
	assert.Equal(t, protocol.RateFast, media.lastRate())
	assert.Equal(t, StateSoftCorrecting, c.State())

	// Further syncTime is suppressed while the nudge runs.
	c.HandleMessage(syncMsg(11.0, 0, 1, fc.NowMs()))
	assert.Len(t, media.rates, 1)

	fc.Advance(protocol.SoftCorrectionDuration)
	assert.Equal(t, 1.0, media.lastRate())
	assert.Equal(t, StatePlaying, c.State())
}

func TestSoftCorrectionSlowsWhenAhead(t *testing.T) {
	c, media, fc, _ := newTestController(t)
	prime(t, c, fc)

	media.setPos(10.5)
	c.HandleMessage(syncMsg(10.0, 0, 1, fc.NowMs()))
	assert.Equal(t, protocol.RateSlow, media.lastRate())
}

func TestHardDriftSeeks(t *testing.T) {
	c, media, fc, _ := newTestController(t)

	c.HandleMessage(protocol.Message{Type: protocol.TypePong, Payload: protocol.Pong{
		ServerTimestamp: fc.NowMs(), Latency: 80,
	}})
	prime(t, c, fc)

	media.setPos(10.0)
	c.HandleMessage(syncMsg(11.5, 0, 1, fc.NowMs()))

	assert.InDelta(t, 11.58, media.lastSeek(), 0.001)
	assert.Empty(t, media.rates)
	assert.Equal(t, StatePlaying, c.State())
}

func TestCorrectionCooldown(t *testing.T) {
	c, media, fc, _ := newTestController(t)
	prime(t, c, fc)

	media.setPos(10.0)
	c.HandleMessage(syncMsg(11.5, 0, 1, fc.NowMs()))
	require.Len(t, media.seeks, 3) // prepare, start, hard resync

	// Still drifting 100ms later, but inside the cooldown.
	fc.Advance(100 * time.Millisecond)
	media.setPos(10.0)
	c.HandleMessage(syncMsg(11.5, 0, 1, fc.NowMs()))
	assert.Len(t, media.seeks, 3)

	fc.Advance(protocol.ClientResyncCooldown)
	c.HandleMessage(syncMsg(11.5, 0, 1, fc.NowMs()))
	assert.Len(t, media.seeks, 4)
}

func TestDegradedThresholdAfterRepeatedCorrections(t *testing.T) {
	c, media, fc, _ := newTestController(t)
	prime(t, c, fc)

	// Three soft corrections in a row.
	for i := 0; i < 3; i++ {
		media.setPos(10.0)
		c.HandleMessage(syncMsg(10.4, 0, 1, fc.NowMs()))
		fc.Advance(protocol.SoftCorrectionDuration)
		fc.Advance(protocol.ClientResyncCooldown)
	}
	require.Len(t, media.rates, 6) // three nudges plus three restores

	// Drift under the degraded threshold no longer triggers.
	media.setPos(10.0)
	c.HandleMessage(syncMsg(10.4, 0, 1, fc.NowMs()))
	assert.Len(t, media.rates, 6)

	// Larger drift is still held back by the degraded cooldown.
	c.HandleMessage(syncMsg(10.7, 0, 1, fc.NowMs()))
	assert.Len(t, media.rates, 6)

	fc.Advance(protocol.DegradedCooldown)
	c.HandleMessage(syncMsg(10.7, 0, 1, fc.NowMs()))
	assert.Len(t, media.rates, 7)
}

func TestQuietStretchResetsDegradedWindow(t *testing.T) {
	c, media, fc, _ := newTestController(t)
	prime(t, c, fc)

	for i := 0; i < 3; i++ {
		media.setPos(10.0)
		c.HandleMessage(syncMsg(10.4, 0, 1, fc.NowMs()))
		fc.Advance(protocol.SoftCorrectionDuration)
		fc.Advance(protocol.ClientResyncCooldown)
	}

	// Ten quiet seconds later the normal threshold applies again.
	fc.Advance(protocol.ResyncRecovery)
	media.setPos(10.0)
	c.HandleMessage(syncMsg(10.4, 0, 1, fc.NowMs()))
	assert.Equal(t, protocol.RateFast, media.lastRate())
	assert.Equal(t, StateSoftCorrecting, c.State())
}

func TestTransitionWindowSuppressesSyncTime(t *testing.T) {
	c, media, fc, _ := newTestController(t)
	prime(t, c, fc)

	two := []protocol.Track{testTrack, {ID: "aaaaaaaaaaa", Source: "youtube", Duration: 100}}
	c.HandleMessage(queueMsg(two, 1, 1, true))

	media.setPos(10.0)
	seeks := len(media.seeks)
	c.HandleMessage(syncMsg(50.0, 1, 1, fc.NowMs()))
	assert.Len(t, media.seeks, seeks)

	fc.Advance(protocol.TransitionWindow)
	c.HandleMessage(syncMsg(50.0, 1, 1, fc.NowMs()))
	assert.Len(t, media.seeks, seeks+1)
}

func TestStaleEpochSyncTimeIgnored(t *testing.T) {
	c, media, fc, _ := newTestController(t)
	prime(t, c, fc)

	media.setPos(10.0)
	seeks := len(media.seeks)
	c.HandleMessage(syncMsg(50.0, 0, 7, fc.NowMs()))
	assert.Len(t, media.seeks, seeks)
}

func TestPlayerUpdatePauses(t *testing.T) {
	c, media, fc, _ := newTestController(t)
	prime(t, c, fc)

	media.setPos(45.0)
	c.HandleMessage(protocol.Message{Type: protocol.TypePlayerUpdate, Payload: protocol.PlayerUpdate{
		IsPlaying: false, CurrentTime: 42.0,
	}})

	assert.False(t, media.playing)
	assert.Equal(t, StatePaused, c.State())
	assert.Equal(t, 42.0, media.lastSeek())
}

func TestPlayerUpdateSeekWhilePlaying(t *testing.T) {
	c, media, fc, _ := newTestController(t)
	prime(t, c, fc)

	wall := fc.NowMs() - 30_000
	c.HandleMessage(protocol.Message{Type: protocol.TypePlayerUpdate, Payload: protocol.PlayerUpdate{
		IsPlaying: true, CurrentTime: 30.0, StartWallMs: &wall,
	}})

	assert.InDelta(t, 30.0, media.lastSeek(), 0.001)
	assert.True(t, media.playing)
}

func TestLateJoinerFallsIn(t *testing.T) {
	c, media, fc, _ := newTestController(t)
	_ = fc

	c.HandleMessage(protocol.Message{Type: protocol.TypeRoomState, Payload: protocol.RoomState{
		Queue:             []protocol.Track{testTrack},
		CurrentTrackIndex: 0,
		Mode:              "playing",
		IsPlaying:         true,
		CurrentTime:       30.0,
		Epoch:             4,
	}})

	assert.Len(t, media.loads, 1)
	assert.InDelta(t, 30.0, media.lastSeek(), 0.001)
	assert.True(t, media.playing)
	assert.Equal(t, StatePlaying, c.State())
}

func TestButtonCooldown(t *testing.T) {
	c, _, fc, rec := newTestController(t)

	c.PressPlay()
	c.PressPlay()
	assert.Len(t, rec.ofType(protocol.TypePlay), 1)

	fc.Advance(protocol.UICooldown)
	c.PressPause()
	assert.Len(t, rec.ofType(protocol.TypePause), 1)
}

func TestWatchdogReloadsThenSkips(t *testing.T) {
	c, media, fc, rec := newTestController(t)
	prime(t, c, fc)
	c.startWatchdog()

	// Playhead never moves: two reloads, then a skip.
	fc.Advance(12 * time.Second)

	assert.Len(t, media.loads, 3)
	assert.Len(t, rec.ofType(protocol.TypeSkip), 1)
}

func TestWatchdogQuietWhileProgressing(t *testing.T) {
	c, media, fc, rec := newTestController(t)
	prime(t, c, fc)
	c.startWatchdog()

	for i := 0; i < 6; i++ {
		media.setPos(float64(i + 1))
		fc.Advance(2 * time.Second)
	}

	assert.Len(t, media.loads, 1)
	assert.Empty(t, rec.ofType(protocol.TypeSkip))
}

func TestWatchdogBaselineStartsAtArming(t *testing.T) {
	c, media, fc, _ := newTestController(t)
	prime(t, c, fc)

	// The playhead has sat at the same position for over a second before
	// the watchdog arms. That history must not count toward a stall.
	c.startWatchdog()
	fc.Advance(2 * time.Second)

	assert.Len(t, media.loads, 1)
}

func TestForceReloadRestoresPosition(t *testing.T) {
	c, media, fc, _ := newTestController(t)
	prime(t, c, fc)
	media.setPos(25.0)

	c.HandleMessage(protocol.Message{Type: protocol.TypeForceReload})

	assert.Len(t, media.loads, 2)
	assert.Equal(t, 25.0, media.lastSeek())
	assert.True(t, media.playing)
}
