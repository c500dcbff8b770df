// ABOUTME: Blocking in-memory buffer for a progressive stream download
// ABOUTME: Reads past the downloaded edge wait instead of failing
package media

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// downloadBuffer accumulates a stream as it downloads and serves it as an
// io.ReadSeeker. Reads past the downloaded edge block until the data
// arrives or the download ends.
type downloadBuffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	data []byte
	off  int64

	total int64 // content length, -1 when unknown
	done  bool
	err   error
}

func newDownloadBuffer(total int64) *downloadBuffer {
	b := &downloadBuffer{total: total}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// fill drains r into the buffer. Run it in its own goroutine.
func (b *downloadBuffer) fill(r io.Reader) {
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)

		b.mu.Lock()
		if n > 0 {
			b.data = append(b.data, chunk[:n]...)
		}
		if err != nil {
			b.done = true
			if !errors.Is(err, io.EOF) {
				b.err = err
			}
			if b.total < 0 {
				b.total = int64(len(b.data))
			}
			b.cond.Broadcast()
			b.mu.Unlock()
			return
		}
		b.cond.Broadcast()
		b.mu.Unlock()
	}
}

// abort ends all blocked reads with an error.
func (b *downloadBuffer) abort(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done = true
	if b.err == nil {
		b.err = err
	}
	b.cond.Broadcast()
}

func (b *downloadBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.off >= int64(len(b.data)) && !b.done {
		b.cond.Wait()
	}
	if b.off >= int64(len(b.data)) {
		if b.err != nil {
			return 0, b.err
		}
		return 0, io.EOF
	}

	n := copy(p, b.data[b.off:])
	b.off += int64(n)
	return n, nil
}

func (b *downloadBuffer) Seek(offset int64, whence int) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = b.off
	case io.SeekEnd:
		if b.total < 0 {
			return 0, fmt.Errorf("stream length unknown")
		}
		base = b.total
	default:
		return 0, fmt.Errorf("bad whence %d", whence)
	}

	pos := base + offset
	if pos < 0 {
		return 0, fmt.Errorf("negative seek")
	}
	b.off = pos
	return pos, nil
}

// downloaded reports how many bytes have arrived so far.
func (b *downloadBuffer) downloaded() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.data))
}

// complete reports whether the download has ended.
func (b *downloadBuffer) complete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}
