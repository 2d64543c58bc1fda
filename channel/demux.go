package channel

import (
	"bytes"
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/crucible-sec/crucible/errors"
)

// The exec stream multiplexes stdout and stderr with fixed 8-byte frame
// headers: byte 0 is the channel selector (1=stdout, 2=stderr), bytes 1-3
// are reserved, bytes 4-7 carry the big-endian payload length. Frames repeat
// until stream end.
const frameHeaderSize = 8

const (
	selectorStdin  = 0
	selectorStdout = 1
	selectorStderr = 2
)

// demuxer incrementally separates the interleaved stream. It is
// chunk-boundary agnostic: network delivery may split a header or payload
// across reads in any way, so a carry-over buffer holds any trailing partial
// unit between feeds.
type demuxer struct {
	stdout bytes.Buffer
	stderr bytes.Buffer
	carry  []byte

	limit  int64
	warnAt int64
	total  int64
	warned bool

	log *zap.SugaredLogger
}

func newDemuxer(limit int64, warnRatio float64, log *zap.SugaredLogger) *demuxer {
	return &demuxer{
		limit:  limit,
		warnAt: int64(float64(limit) * warnRatio),
		log:    log,
	}
}

// feed consumes one read's worth of stream bytes. Only complete
// header+payload units are moved into the output accumulators; a trailing
// partial unit is re-buffered for the next feed. Returns ErrOutputLimit once
// accumulated payload bytes exceed the limit, or as soon as a frame header
// declares a payload that would; after that the stream must be discarded.
func (d *demuxer) feed(chunk []byte) error {
	if len(d.carry) > 0 {
		chunk = append(d.carry, chunk...)
		d.carry = nil
	}

	for {
		if len(chunk) < frameHeaderSize {
			break
		}
		payloadLen := int(binary.BigEndian.Uint32(chunk[4:frameHeaderSize]))

		// Enforce the cap from the declared length, before waiting for the
		// payload to arrive: a single frame header may announce more bytes
		// than the cap allows, and buffering toward it would grow the carry
		// without bound.
		if d.total+int64(payloadLen) > d.limit {
			return errors.Wrapf(errors.ErrOutputLimit,
				"accumulated output %d bytes exceeds cap %d", d.total+int64(payloadLen), d.limit)
		}
		if len(chunk) < frameHeaderSize+payloadLen {
			break
		}

		selector := chunk[0]
		payload := chunk[frameHeaderSize : frameHeaderSize+payloadLen]

		d.total += int64(payloadLen)
		if !d.warned && d.total >= d.warnAt {
			d.warned = true
			if d.log != nil {
				d.log.Warnw("Command output approaching cap",
					"accumulated_bytes", d.total,
					"cap_bytes", d.limit,
				)
			}
		}

		switch selector {
		case selectorStdout, selectorStdin:
			d.stdout.Write(payload)
		case selectorStderr:
			d.stderr.Write(payload)
		default:
			return errors.Newf("unexpected stream selector %d", selector)
		}

		chunk = chunk[frameHeaderSize+payloadLen:]
	}

	if len(chunk) > 0 {
		// Copy: the caller owns (and will reuse) the read buffer.
		d.carry = append([]byte(nil), chunk...)
	}
	return nil
}

// Stdout returns the accumulated primary channel bytes.
func (d *demuxer) Stdout() []byte { return d.stdout.Bytes() }

// Stderr returns the accumulated secondary channel bytes.
func (d *demuxer) Stderr() []byte { return d.stderr.Bytes() }
