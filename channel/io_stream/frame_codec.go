// Package libsimconnect_channel_iostream provides IO stream channel implementation for libsimconnect.
// It handles TCP/Unix socket/Named pipe/WebSocket connections with size prefixed frames.
package libsimconnect_channel_iostream

import (
	"errors"

	error_code "github.com/atframework/libsimconnect-go/error_code"
	protocol "github.com/atframework/libsimconnect-go/protocol"
)

// Frame format:
// +----------------+--------------------------------+
// | Size (4 bytes) | Rest of header + body          |
// +----------------+--------------------------------+
//
// - Size: total frame length including the size field itself (little-endian)

const (
	// SizeFieldSize is the size of the leading length field in bytes
	SizeFieldSize = 4
)

var (
	// ErrInvalidFrameLength indicates the frame length is smaller than any valid header
	ErrInvalidFrameLength = errors.New("invalid frame length")
	// ErrFrameTooLarge indicates the frame exceeds the receive limit and is being skipped
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrIncompleteFrame indicates the frame is incomplete (need more data)
	ErrIncompleteFrame = errors.New("incomplete frame data")
)

// UnpackFrameResult contains the result of unpacking a frame.
type UnpackFrameResult struct {
	// Frame is the complete frame including its header
	Frame []byte
	// Consumed is the total number of bytes consumed from the input buffer
	Consumed int
	// FrameSize is the size announced by the frame header
	FrameSize uint32
	// Error indicates any error that occurred during unpacking
	Error error
	// ErrorCode is the libsimconnect error code
	ErrorCode error_code.ErrorType
}

// UnpackFrame attempts to unpack a frame from the input buffer.
// limit == 0 disables the size check.
//
// If the buffer doesn't contain a complete frame, Error will be ErrIncompleteFrame.
// If the size field is above limit, Error will be ErrFrameTooLarge and Consumed covers
// the part of the frame present in data.
func UnpackFrame(data []byte, limit uint64) UnpackFrameResult {
	result := UnpackFrameResult{
		ErrorCode: error_code.EN_SIMCONNECT_ERR_SUCCESS,
	}

	if len(data) < SizeFieldSize {
		result.Error = ErrIncompleteFrame
		result.ErrorCode = error_code.EN_SIMCONNECT_ERR_NO_DATA
		return result
	}

	frameSize := protocol.PeekFrameSize(data)
	result.FrameSize = frameSize
	if frameSize < protocol.MinFrameSize {
		result.Error = ErrInvalidFrameLength
		result.ErrorCode = error_code.EN_SIMCONNECT_ERR_INVALID_SIZE
		return result
	}

	if limit > 0 && uint64(frameSize) > limit {
		result.Error = ErrFrameTooLarge
		result.ErrorCode = error_code.EN_SIMCONNECT_ERR_INVALID_SIZE
		result.Consumed = len(data)
		if uint64(result.Consumed) > uint64(frameSize) {
			result.Consumed = int(frameSize)
		}
		return result
	}

	if uint64(len(data)) < uint64(frameSize) {
		result.Error = ErrIncompleteFrame
		result.ErrorCode = error_code.EN_SIMCONNECT_ERR_NO_DATA
		return result
	}

	result.Frame = data[:frameSize]
	result.Consumed = int(frameSize)
	return result
}

// FrameReader reassembles frames from stream reads.
type FrameReader struct {
	buf   []byte // buf[off:] is received but not yet returned
	off   int
	limit uint64 // largest accepted frame, 0 for unlimited

	// skipRemaining counts bytes of an oversized frame still to arrive
	skipRemaining uint64
}

// NewFrameReader creates a reader with room for initialCapacity bytes before growing.
func NewFrameReader(initialCapacity int, limit uint64) *FrameReader {
	if initialCapacity <= 0 {
		initialCapacity = protocol.RequestHeaderSize
	}
	return &FrameReader{buf: make([]byte, 0, initialCapacity), limit: limit}
}

// Write buffers data and returns len(data). Bytes of a skipped oversized frame are dropped.
func (r *FrameReader) Write(data []byte) int {
	n := len(data)
	if r.skipRemaining > 0 {
		drop := min(uint64(len(data)), r.skipRemaining)
		r.skipRemaining -= drop
		data = data[drop:]
	}

	if r.off > 0 && len(r.buf)+len(data) > cap(r.buf) {
		r.buf = r.buf[:copy(r.buf, r.buf[r.off:])]
		r.off = 0
	}
	r.buf = append(r.buf, data...)
	return n
}

// ReadFrame returns the next complete frame, a copy that later writes do not touch.
// Error is ErrIncompleteFrame until enough bytes arrived.
func (r *FrameReader) ReadFrame() UnpackFrameResult {
	result := UnpackFrame(r.buf[r.off:], r.limit)
	if result.Error == nil {
		result.Frame = append([]byte(nil), result.Frame...)
	} else if errors.Is(result.Error, ErrFrameTooLarge) {
		r.skipRemaining = uint64(result.FrameSize) - uint64(result.Consumed)
	}

	r.off += result.Consumed
	if r.off == len(r.buf) {
		r.buf, r.off = r.buf[:0], 0
	}
	return result
}

// Available returns the number of buffered bytes not yet returned.
func (r *FrameReader) Available() int {
	return len(r.buf) - r.off
}

// Skipping reports whether the reader is discarding the tail of an oversized frame.
func (r *FrameReader) Skipping() bool {
	return r.skipRemaining > 0
}

// Reset drops buffered bytes and any pending skip.
func (r *FrameReader) Reset() {
	r.buf, r.off = r.buf[:0], 0
	r.skipRemaining = 0
}
