package libsimconnect_buffer

import (
	"encoding/binary"
	"errors"
	"math"
)

// Error codes
var (
	ErrNoData     = errors.New("no data available")
	ErrBuffLimit  = errors.New("buffer limit reached")
	ErrInvalidArg = errors.New("invalid argument")
)

// Fixed string widths used on the wire.
const (
	StringSize8   = 8
	StringSize32  = 32
	StringSize64  = 64
	StringSize128 = 128
	StringSize256 = 256
	StringSize260 = 260
)

// BufferBlock is a little-endian read cursor over a received message body.
// It keeps a "used" offset the same way a pop operation would.
type BufferBlock struct {
	data []byte // The underlying data buffer
	used int    // How many bytes have been consumed from the front
}

// NewBufferBlockFromSlice creates a BufferBlock wrapping an existing slice
func NewBufferBlockFromSlice(data []byte) *BufferBlock {
	return &BufferBlock{
		data: data,
		used: 0,
	}
}

// Data returns the unread portion of the buffer (after used offset)
func (b *BufferBlock) Data() []byte {
	if b == nil || b.used >= len(b.data) {
		return nil
	}
	return b.data[b.used:]
}

// Used returns the number of bytes consumed so far
func (b *BufferBlock) Used() int {
	if b == nil {
		return 0
	}
	return b.used
}

// Size returns the number of unread bytes
func (b *BufferBlock) Size() int {
	if b == nil || b.used >= len(b.data) {
		return 0
	}
	return len(b.data) - b.used
}

// Pop consumes n bytes and returns them
func (b *BufferBlock) Pop(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrInvalidArg
	}
	if b.Size() < n {
		return nil, ErrNoData
	}
	out := b.data[b.used : b.used+n]
	b.used += n
	return out, nil
}

func (b *BufferBlock) ReadUint32() (uint32, error) {
	raw, err := b.Pop(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(raw), nil
}

func (b *BufferBlock) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

func (b *BufferBlock) ReadUint64() (uint64, error) {
	raw, err := b.Pop(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(raw), nil
}

func (b *BufferBlock) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return int64(v), err
}

func (b *BufferBlock) ReadFloat32() (float32, error) {
	v, err := b.ReadUint32()
	return math.Float32frombits(v), err
}

func (b *BufferBlock) ReadFloat64() (float64, error) {
	v, err := b.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadFixedString reads a NUL padded string of exactly size bytes.
func (b *BufferBlock) ReadFixedString(size int) (string, error) {
	raw, err := b.Pop(size)
	if err != nil {
		return "", err
	}
	return TrimFixedString(raw), nil
}

// TrimFixedString cuts a NUL padded field at its first NUL byte.
func TrimFixedString(raw []byte) string {
	for i, c := range raw {
		if c == 0 {
			return string(raw[:i])
		}
	}
	return string(raw)
}

// BufferWriter builds a little-endian message body.
type BufferWriter struct {
	data  []byte
	limit int
}

// NewBufferWriter creates a writer. limit <= 0 means unlimited.
func NewBufferWriter(capacity int, limit int) *BufferWriter {
	if capacity < 0 {
		capacity = 0
	}
	return &BufferWriter{
		data:  make([]byte, 0, capacity),
		limit: limit,
	}
}

// Bytes returns the written data
func (w *BufferWriter) Bytes() []byte {
	return w.data
}

// Len returns the number of bytes written
func (w *BufferWriter) Len() int {
	return len(w.data)
}

func (w *BufferWriter) grow(n int) ([]byte, error) {
	if w.limit > 0 && len(w.data)+n > w.limit {
		return nil, ErrBuffLimit
	}
	start := len(w.data)
	w.data = append(w.data, make([]byte, n)...)
	return w.data[start:], nil
}

func (w *BufferWriter) WriteBytes(in []byte) error {
	dst, err := w.grow(len(in))
	if err != nil {
		return err
	}
	copy(dst, in)
	return nil
}

func (w *BufferWriter) WriteUint32(v uint32) error {
	dst, err := w.grow(4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(dst, v)
	return nil
}

func (w *BufferWriter) WriteInt32(v int32) error {
	return w.WriteUint32(uint32(v))
}

func (w *BufferWriter) WriteUint64(v uint64) error {
	dst, err := w.grow(8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(dst, v)
	return nil
}

func (w *BufferWriter) WriteInt64(v int64) error {
	return w.WriteUint64(uint64(v))
}

func (w *BufferWriter) WriteFloat32(v float32) error {
	return w.WriteUint32(math.Float32bits(v))
}

func (w *BufferWriter) WriteFloat64(v float64) error {
	return w.WriteUint64(math.Float64bits(v))
}

// WriteFixedString writes s NUL padded to size bytes. The last byte is always NUL,
// so strings longer than size-1 are truncated.
func (w *BufferWriter) WriteFixedString(s string, size int) error {
	if size <= 0 {
		return ErrInvalidArg
	}
	dst, err := w.grow(size)
	if err != nil {
		return err
	}
	n := len(s)
	if n > size-1 {
		n = size - 1
	}
	copy(dst, s[:n])
	return nil
}
