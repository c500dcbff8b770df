// ABOUTME: Native media element: progressive download, mp3 decode, oto output
// ABOUTME: Satisfies the controller's Media interface including rate nudges
package media

import (
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/ebitengine/oto/v3"
	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/rs/zerolog"
)

const (
	bytesPerFrame = 2 * channels // 16-bit stereo
	pumpChunk     = 8 * 1024
)

// Player decodes an mp3 stream and feeds the audio device. The device
// context is created once per process at the first track's sample rate;
// later tracks are rate-converted to it.
type Player struct {
	mu     sync.Mutex
	cond   *sync.Cond
	logger zerolog.Logger
	client *http.Client

	otoCtx  *oto.Context
	devRate int

	// decMu serializes decoder access between the pump and Seek.
	decMu sync.Mutex
	dec   *mp3.Decoder

	buf        *downloadBuffer
	sampleRate int
	totalPCM   int64
	streamLen  int64

	conv rateConverter

	playing  bool
	rate     float64
	posBytes int64
	gen      int

	pipeW  *io.PipeWriter
	player *oto.Player
}

// NewPlayer creates an idle player. The audio device opens lazily on the
// first Load.
func NewPlayer(logger zerolog.Logger) *Player {
	p := &Player{
		logger: logger,
		client: &http.Client{}, // streaming: no overall timeout
		rate:   1.0,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Load starts downloading and decoding a stream URL. It returns once the
// decoder has parsed the stream header; buffering continues behind it.
func (p *Player) Load(url string) error {
	resp, err := p.client.Get(url)
	if err != nil {
		return fmt.Errorf("fetch stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("fetch stream: status %d", resp.StatusCode)
	}

	buf := newDownloadBuffer(resp.ContentLength)
	go func() {
		defer resp.Body.Close()
		buf.fill(resp.Body)
	}()

	dec, err := mp3.NewDecoder(buf)
	if err != nil {
		buf.abort(err)
		return fmt.Errorf("decode stream: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.openDeviceLocked(dec.SampleRate()); err != nil {
		return err
	}

	// Retire the previous track's pump and pipe.
	p.gen++
	p.cond.Broadcast()
	if p.pipeW != nil {
		p.pipeW.Close()
	}
	if p.player != nil {
		p.player.Close()
	}
	if p.buf != nil {
		p.buf.abort(io.ErrClosedPipe)
	}

	p.buf = buf
	p.dec = dec
	p.sampleRate = dec.SampleRate()
	p.totalPCM = dec.Length()
	p.streamLen = resp.ContentLength
	p.posBytes = 0
	p.conv.reset()

	pr, pw := io.Pipe()
	p.pipeW = pw
	p.player = p.otoCtx.NewPlayer(pr)
	p.player.Play()

	go p.pump(p.gen, dec, pw)

	p.logger.Debug().
		Str("url", url).
		Int("sampleRate", p.sampleRate).
		Int64("pcmBytes", p.totalPCM).
		Msg("stream loaded")
	return nil
}

// openDeviceLocked creates the oto context on first use. oto allows one
// context per process, so a later rate mismatch is absorbed by the
// converter instead.
func (p *Player) openDeviceLocked(sampleRate int) error {
	if p.otoCtx != nil {
		return nil
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return fmt.Errorf("open audio device: %w", err)
	}
	<-ready
	p.otoCtx = ctx
	p.devRate = sampleRate
	return nil
}

// pump decodes PCM and feeds the device pipe until the track ends or a
// newer Load retires it.
func (p *Player) pump(gen int, dec *mp3.Decoder, pw *io.PipeWriter) {
	in := make([]byte, pumpChunk)
	for {
		p.mu.Lock()
		for !p.playing && p.gen == gen {
			p.cond.Wait()
		}
		if p.gen != gen {
			p.mu.Unlock()
			return
		}
		ratio := p.rate * float64(p.sampleRate) / float64(p.devRate)
		p.mu.Unlock()

		p.decMu.Lock()
		n, err := dec.Read(in)
		p.decMu.Unlock()

		if n > 0 {
			p.mu.Lock()
			p.posBytes += int64(n)
			p.mu.Unlock()

			out := p.conv.process(in[:n], ratio)
			if len(out) > 0 {
				if _, werr := pw.Write(out); werr != nil {
					return
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				p.logger.Warn().Err(err).Msg("decode error")
			}
			// Let the device drain; the room's ticker ends the track.
			pw.Close()
			return
		}
	}
}

// Seek moves the playhead. Positions past the downloaded edge make the
// next decode block until the data arrives.
func (p *Player) Seek(seconds float64) {
	p.mu.Lock()
	if p.dec == nil {
		p.mu.Unlock()
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	offset := int64(seconds*float64(p.sampleRate)) * bytesPerFrame
	if p.totalPCM > 0 && offset > p.totalPCM {
		offset = p.totalPCM
	}
	dec := p.dec
	p.posBytes = offset
	p.conv.reset()
	p.mu.Unlock()

	p.decMu.Lock()
	if _, err := dec.Seek(offset, io.SeekStart); err != nil {
		p.logger.Warn().Err(err).Float64("seconds", seconds).Msg("seek failed")
	}
	p.decMu.Unlock()
}

// Play resumes the pump.
func (p *Player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
	p.cond.Broadcast()
}

// Pause stops the pump. The device drains its short buffer and goes
// silent.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
}

// SetRate nudges the playback rate. 1.0 is normal speed.
func (p *Player) SetRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rate <= 0 {
		rate = 1.0
	}
	p.rate = rate
}

// CurrentTime reports the playhead position in seconds.
func (p *Player) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sampleRate == 0 {
		return 0
	}
	return float64(p.posBytes) / float64(p.sampleRate*bytesPerFrame)
}

// BufferedAhead estimates how many seconds past the playhead are already
// downloaded, assuming a roughly constant bitrate.
func (p *Player) BufferedAhead() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buf == nil || p.sampleRate == 0 {
		return 0
	}

	duration := float64(p.totalPCM) / float64(p.sampleRate*bytesPerFrame)
	pos := float64(p.posBytes) / float64(p.sampleRate*bytesPerFrame)

	if p.buf.complete() {
		return duration - pos
	}
	if p.streamLen <= 0 || duration == 0 {
		return 0
	}

	bufferedSec := float64(p.buf.downloaded()) / float64(p.streamLen) * duration
	ahead := bufferedSec - pos
	if ahead < 0 {
		return 0
	}
	return ahead
}

// Close tears down the current track and the device player.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gen++
	p.playing = false
	p.cond.Broadcast()
	if p.pipeW != nil {
		p.pipeW.Close()
		p.pipeW = nil
	}
	if p.player != nil {
		p.player.Close()
		p.player = nil
	}
	if p.buf != nil {
		p.buf.abort(io.ErrClosedPipe)
	}
	if p.otoCtx != nil {
		p.otoCtx.Suspend()
	}
}
