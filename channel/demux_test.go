package channel

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-sec/crucible/errors"
)

func feedAll(t *testing.T, d *demuxer, stream []byte, chunkSizes []int) {
	t.Helper()
	offset := 0
	for _, size := range chunkSizes {
		if offset >= len(stream) {
			break
		}
		end := offset + size
		if end > len(stream) {
			end = len(stream)
		}
		require.NoError(t, d.feed(stream[offset:end]))
		offset = end
	}
	if offset < len(stream) {
		require.NoError(t, d.feed(stream[offset:]))
	}
}

func TestDemuxWholeStream(t *testing.T) {
	stream := muxStream(
		muxFrame(selectorStdout, []byte("PORT   STATE SERVICE\n")),
		muxFrame(selectorStderr, []byte("warning: host seems down\n")),
		muxFrame(selectorStdout, []byte("80/tcp open  http\n")),
	)

	d := newDemuxer(1<<20, 0.8, nil)
	require.NoError(t, d.feed(stream))

	assert.Equal(t, "PORT   STATE SERVICE\n80/tcp open  http\n", string(d.Stdout()))
	assert.Equal(t, "warning: host seems down\n", string(d.Stderr()))
}

// Splitting the stream into arbitrarily-sized chunks must reconstruct
// byte-identical outputs as feeding the whole stream at once. Headers and
// payloads are deliberately split across chunk boundaries.
func TestDemuxChunkBoundaryAgnostic(t *testing.T) {
	var frames [][]byte
	for i := 0; i < 40; i++ {
		payload := make([]byte, 1+i*7)
		for j := range payload {
			payload[j] = byte(i + j)
		}
		sel := byte(selectorStdout)
		if i%3 == 0 {
			sel = selectorStderr
		}
		frames = append(frames, muxFrame(sel, payload))
	}
	stream := muxStream(frames...)

	whole := newDemuxer(1<<20, 0.8, nil)
	require.NoError(t, whole.feed(stream))

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		var sizes []int
		total := 0
		for total < len(stream) {
			n := 1 + rng.Intn(13)
			sizes = append(sizes, n)
			total += n
		}

		chunked := newDemuxer(1<<20, 0.8, nil)
		feedAll(t, chunked, stream, sizes)

		require.Equal(t, whole.Stdout(), chunked.Stdout(), "trial %d stdout", trial)
		require.Equal(t, whole.Stderr(), chunked.Stderr(), "trial %d stderr", trial)
	}
}

func TestDemuxSingleByteFeeds(t *testing.T) {
	stream := muxStream(
		muxFrame(selectorStdout, []byte("hello")),
		muxFrame(selectorStderr, []byte("world")),
	)

	d := newDemuxer(1<<20, 0.8, nil)
	for i := range stream {
		require.NoError(t, d.feed(stream[i:i+1]))
	}

	assert.Equal(t, "hello", string(d.Stdout()))
	assert.Equal(t, "world", string(d.Stderr()))
}

func TestDemuxOutputCap(t *testing.T) {
	d := newDemuxer(64, 0.8, nil)

	frame := muxFrame(selectorStdout, make([]byte, 32))
	require.NoError(t, d.feed(frame))
	require.NoError(t, d.feed(frame))

	err := d.feed(frame)
	require.Error(t, err)
	assert.True(t, errors.IsOutputLimit(err))
}

func TestDemuxOverCapFrameHeaderAborts(t *testing.T) {
	d := newDemuxer(64, 0.8, nil)

	// Header announces far more than the cap; the payload never arrives.
	header := make([]byte, frameHeaderSize)
	header[0] = selectorStdout
	binary.BigEndian.PutUint32(header[4:8], 1<<30)

	err := d.feed(header)
	require.Error(t, err)
	assert.True(t, errors.IsOutputLimit(err))
	assert.Empty(t, d.Stdout())
}

func TestDemuxOverCapFrameDoesNotBuffer(t *testing.T) {
	d := newDemuxer(64, 0.8, nil)

	header := make([]byte, frameHeaderSize)
	header[0] = selectorStdout
	binary.BigEndian.PutUint32(header[4:8], 1<<30)

	// Header split across reads: the cap must fire on the feed that
	// completes it, before any of the declared payload is buffered.
	require.NoError(t, d.feed(header[:5]))
	err := d.feed(header[5:])
	require.Error(t, err)
	assert.True(t, errors.IsOutputLimit(err))
}

func TestDemuxCapCountsBothChannels(t *testing.T) {
	d := newDemuxer(64, 0.8, nil)

	require.NoError(t, d.feed(muxFrame(selectorStdout, make([]byte, 40))))
	err := d.feed(muxFrame(selectorStderr, make([]byte, 40)))
	require.Error(t, err)
	assert.True(t, errors.IsOutputLimit(err))
}

func TestDemuxRejectsUnknownSelector(t *testing.T) {
	d := newDemuxer(1<<20, 0.8, nil)
	err := d.feed(muxFrame(7, []byte("x")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected stream selector")
}

func TestDemuxEmptyPayloadFrames(t *testing.T) {
	d := newDemuxer(1<<20, 0.8, nil)
	require.NoError(t, d.feed(muxStream(
		muxFrame(selectorStdout, nil),
		muxFrame(selectorStdout, []byte("data")),
	)))
	assert.Equal(t, "data", string(d.Stdout()))
}
