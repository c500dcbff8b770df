// ABOUTME: Ordered track queue with a current index
// ABOUTME: Mutations preserve index correctness across removals and reorders
package room

import (
	"errors"

	"github.com/syncjam/syncjam-go/pkg/protocol"
)

// ErrIndexOutOfRange is returned for queue operations addressing a slot
// that does not exist.
var ErrIndexOutOfRange = errors.New("queue index out of range")

// Queue is the ordered track list. currentIndex is in [0, len) whenever
// the queue is non-empty, and 0 when empty.
type Queue struct {
	tracks  []protocol.Track
	current int
}

// Len returns the number of queued tracks.
func (q *Queue) Len() int {
	return len(q.tracks)
}

// CurrentIndex returns the index of the current track.
func (q *Queue) CurrentIndex() int {
	return q.current
}

// Current returns the current track, if any.
func (q *Queue) Current() (protocol.Track, bool) {
	if len(q.tracks) == 0 {
		return protocol.Track{}, false
	}
	return q.tracks[q.current], true
}

// Tracks returns a copy of the queue contents.
func (q *Queue) Tracks() []protocol.Track {
	out := make([]protocol.Track, len(q.tracks))
	copy(out, q.tracks)
	return out
}

// Append adds a track at the end.
func (q *Queue) Append(t protocol.Track) {
	q.tracks = append(q.tracks, t)
}

// RemoveAt removes the track at i, shifting currentIndex to preserve
// playback continuity. It reports whether the current track itself was
// removed; the coordinator pauses in that case.
func (q *Queue) RemoveAt(i int) (removedCurrent bool, err error) {
	if i < 0 || i >= len(q.tracks) {
		return false, ErrIndexOutOfRange
	}

	q.tracks = append(q.tracks[:i], q.tracks[i+1:]...)

	switch {
	case i < q.current:
		q.current--
	case i == q.current:
		removedCurrent = true
		// Removing the current last track rewinds to the first remaining
		// one rather than clamping to the new tail.
		if q.current >= len(q.tracks) {
			q.current = 0
		}
	}
	if len(q.tracks) == 0 {
		q.current = 0
	}
	return removedCurrent, nil
}

// Replace swaps in a reordered queue. The previous current track is
// located by id in the new order; the client-supplied index is only a
// fallback for when that track is gone.
func (q *Queue) Replace(tracks []protocol.Track, clientIndex int) {
	prevID := ""
	if cur, ok := q.Current(); ok {
		prevID = cur.ID
	}

	q.tracks = make([]protocol.Track, len(tracks))
	copy(q.tracks, tracks)

	if len(q.tracks) == 0 {
		q.current = 0
		return
	}

	for i, t := range q.tracks {
		if prevID != "" && t.ID == prevID {
			q.current = i
			return
		}
	}

	if clientIndex < 0 || clientIndex >= len(q.tracks) {
		clientIndex = 0
	}
	q.current = clientIndex
}

// JumpTo moves currentIndex to i.
func (q *Queue) JumpTo(i int) error {
	if i < 0 || i >= len(q.tracks) {
		return ErrIndexOutOfRange
	}
	q.current = i
	return nil
}

// Advance moves to the next track. Reports whether a next track existed.
func (q *Queue) Advance() bool {
	if q.current+1 >= len(q.tracks) {
		return false
	}
	q.current++
	return true
}

// Retreat moves to the previous track. Reports whether one existed.
func (q *Queue) Retreat() bool {
	if q.current == 0 || len(q.tracks) == 0 {
		return false
	}
	q.current--
	return true
}
