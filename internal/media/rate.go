// ABOUTME: Linear-interpolation rate converter for 16-bit stereo PCM
// ABOUTME: One knob covers device rate conversion and drift-correction nudges
package media

import (
	"encoding/binary"
	"sync"
)

const channels = 2

// rateConverter resamples interleaved 16-bit stereo PCM by linear
// interpolation. The consumption ratio is input frames per output frame,
// so values above 1.0 play faster and below 1.0 slower.
type rateConverter struct {
	mu   sync.Mutex
	pos  float64
	prev [channels]int16
}

// process converts one chunk of little-endian PCM bytes at the given
// ratio. A ratio of 1.0 still runs through interpolation so nudges join
// without clicks.
func (c *rateConverter) process(in []byte, ratio float64) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	inFrames := len(in) / (2 * channels)
	if inFrames == 0 {
		return nil
	}

	sample := func(frame, ch int) int16 {
		if frame < 0 {
			return c.prev[ch]
		}
		off := (frame*channels + ch) * 2
		return int16(binary.LittleEndian.Uint16(in[off:]))
	}

	outFrames := int(float64(inFrames)/ratio) + 2
	out := make([]byte, 0, outFrames*channels*2)

	// pos starts relative to the frame before this chunk.
	for {
		idx := int(c.pos) - 1
		if idx >= inFrames-1 {
			break
		}
		frac := c.pos - float64(int(c.pos))
		for ch := 0; ch < channels; ch++ {
			s1 := sample(idx, ch)
			s2 := sample(idx+1, ch)
			v := float64(s1)*(1.0-frac) + float64(s2)*frac
			var b [2]byte
			binary.LittleEndian.PutUint16(b[:], uint16(int16(v)))
			out = append(out, b[0], b[1])
		}
		c.pos += ratio
	}

	// Carry the last frame and the fractional position into the next
	// chunk.
	for ch := 0; ch < channels; ch++ {
		c.prev[ch] = sample(inFrames-1, ch)
	}
	c.pos -= float64(inFrames)
	return out
}

// reset drops interpolation state, for use after a seek.
func (c *rateConverter) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = 0
	c.prev = [channels]int16{}
}
