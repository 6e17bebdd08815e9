package libsimconnect_channel_iostream

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTestFrame(size int, fill byte) []byte {
	frame := make([]byte, size)
	for i := range frame {
		frame[i] = fill
	}
	binary.LittleEndian.PutUint32(frame[0:4], uint32(size))
	return frame
}

// TestUnpackFrameIncomplete verifies a partial frame asks for more data
func TestUnpackFrameIncomplete(t *testing.T) {
	// Arrange
	frame := makeTestFrame(20, 0xAA)

	// Act
	short := UnpackFrame(frame[:3], 0)
	partial := UnpackFrame(frame[:19], 0)

	// Assert
	assert.ErrorIs(t, short.Error, ErrIncompleteFrame)
	assert.ErrorIs(t, partial.Error, ErrIncompleteFrame)
	assert.Equal(t, 0, partial.Consumed)
}

// TestUnpackFrameInvalidLength verifies sizes below the header size are rejected
func TestUnpackFrameInvalidLength(t *testing.T) {
	// Arrange
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data, 4)

	// Act
	result := UnpackFrame(data, 0)

	// Assert
	assert.ErrorIs(t, result.Error, ErrInvalidFrameLength)
}

// TestFrameReaderSplitFrame verifies a frame split over several writes is reassembled
func TestFrameReaderSplitFrame(t *testing.T) {
	// Arrange
	reader := NewFrameReader(8, 0)
	frame := makeTestFrame(40, 0x11)

	// Act
	reader.Write(frame[:5])
	first := reader.ReadFrame()
	reader.Write(frame[5:30])
	second := reader.ReadFrame()
	reader.Write(frame[30:])
	third := reader.ReadFrame()

	// Assert
	assert.ErrorIs(t, first.Error, ErrIncompleteFrame)
	assert.ErrorIs(t, second.Error, ErrIncompleteFrame)
	require.NoError(t, third.Error)
	assert.Equal(t, frame, third.Frame)
	assert.Equal(t, 0, reader.Available())
}

// TestFrameReaderCoalescedFrames verifies several frames in one write are read one by one
func TestFrameReaderCoalescedFrames(t *testing.T) {
	// Arrange
	reader := NewFrameReader(16, 0)
	a := makeTestFrame(12, 0x01)
	b := makeTestFrame(24, 0x02)
	c := makeTestFrame(16, 0x03)
	stream := append(append(append([]byte{}, a...), b...), c[:10]...)

	// Act
	reader.Write(stream)
	got := []UnpackFrameResult{reader.ReadFrame(), reader.ReadFrame(), reader.ReadFrame()}
	reader.Write(c[10:])
	last := reader.ReadFrame()

	// Assert
	require.NoError(t, got[0].Error)
	require.NoError(t, got[1].Error)
	assert.ErrorIs(t, got[2].Error, ErrIncompleteFrame)
	require.NoError(t, last.Error)
	assert.Equal(t, a, got[0].Frame)
	assert.Equal(t, b, got[1].Frame)
	assert.Equal(t, c, last.Frame)
}

// TestFrameReaderFrameIsCopied verifies returned frames are not overwritten by later writes
func TestFrameReaderFrameIsCopied(t *testing.T) {
	// Arrange
	reader := NewFrameReader(16, 0)
	a := makeTestFrame(12, 0x01)
	reader.Write(a)
	first := reader.ReadFrame()

	// Act
	reader.Write(makeTestFrame(12, 0x02))
	_ = reader.ReadFrame()

	// Assert
	assert.Equal(t, a, first.Frame)
}

// TestFrameReaderSkipsOversizedFrame verifies an oversized frame is skipped across writes
func TestFrameReaderSkipsOversizedFrame(t *testing.T) {
	// Arrange
	reader := NewFrameReader(16, 32)
	big := makeTestFrame(100, 0xEE)
	small := makeTestFrame(16, 0x05)

	// Act
	reader.Write(big[:50])
	skipped := reader.ReadFrame()
	skipping := reader.Skipping()
	reader.Write(append(append([]byte{}, big[50:]...), small...))
	next := reader.ReadFrame()

	// Assert
	assert.ErrorIs(t, skipped.Error, ErrFrameTooLarge)
	assert.Equal(t, uint32(100), skipped.FrameSize)
	assert.True(t, skipping)
	require.NoError(t, next.Error)
	assert.Equal(t, small, next.Frame)
	assert.False(t, reader.Skipping())
}

// TestFrameReaderReset verifies reset drops buffered data
func TestFrameReaderReset(t *testing.T) {
	reader := NewFrameReader(0, 0)
	reader.Write([]byte{1, 2, 3})
	assert.Equal(t, 3, reader.Available())

	reader.Reset()
	assert.Equal(t, 0, reader.Available())
}
