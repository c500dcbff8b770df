// ABOUTME: Tests for the progressive download buffer
// ABOUTME: Covers blocking reads at the download edge, seeks, and abort
package media

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadAfterCompleteDownload(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 1000)
	b := newDownloadBuffer(int64(len(data)))
	b.fill(bytes.NewReader(data))

	got, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.True(t, b.complete())
	assert.Equal(t, int64(1000), b.downloaded())
}

func TestReadBlocksUntilDataArrives(t *testing.T) {
	b := newDownloadBuffer(4)
	pr, pw := io.Pipe()
	go b.fill(pr)

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 4)
		n, _ := io.ReadFull(b, buf)
		done <- buf[:n]
	}()

	select {
	case <-done:
		t.Fatal("read returned before any data arrived")
	case <-time.After(50 * time.Millisecond):
	}

	pw.Write([]byte{1, 2, 3, 4})
	pw.Close()

	select {
	case got := <-done:
		assert.Equal(t, []byte{1, 2, 3, 4}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("read never completed")
	}
}

func TestSeekWithinKnownLength(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	b := newDownloadBuffer(int64(len(data)))
	b.fill(bytes.NewReader(data))

	pos, err := b.Seek(-2, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos)

	got := make([]byte, 2)
	_, err = io.ReadFull(b, got)
	require.NoError(t, err)
	assert.Equal(t, []byte{6, 7}, got)
}

func TestSeekEndWithUnknownLengthFails(t *testing.T) {
	b := newDownloadBuffer(-1)

	_, err := b.Seek(0, io.SeekEnd)
	assert.Error(t, err)
}

func TestAbortUnblocksReaders(t *testing.T) {
	b := newDownloadBuffer(100)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Read(make([]byte, 10))
		errCh <- err
	}()

	b.abort(errors.New("torn down"))

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read never unblocked")
	}
}
