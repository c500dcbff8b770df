// ABOUTME: Media element abstraction the controller drives
// ABOUTME: Implemented by internal/media for native playback and by test fakes
package syncjam

// Media is the playback element under the controller's control. Positions
// and buffer depths are in seconds. Implementations must tolerate Seek and
// SetRate before Play.
type Media interface {
	// Load points the element at a stream URL and starts buffering.
	Load(url string) error

	// Seek moves the playhead.
	Seek(seconds float64)

	Play()
	Pause()

	// SetRate adjusts the playback rate. 1.0 is normal speed.
	SetRate(rate float64)

	// CurrentTime reports the current playhead position.
	CurrentTime() float64

	// BufferedAhead reports how many seconds past the playhead are
	// already buffered.
	BufferedAhead() float64
}
