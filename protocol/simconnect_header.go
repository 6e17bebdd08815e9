// Package libsimconnect_protocol defines the frames exchanged with the simulation host.
//
// Client to host frame:
//
//	+-------------+----------------+-------------+---------------+-------------+
//	| Size (u32)  | Version (u32)  | Kind (u32)  | SendID (u32)  | Body        |
//	+-------------+----------------+-------------+---------------+-------------+
//
// Host to client frame:
//
//	+-------------+----------------+---------------+-------------+
//	| Size (u32)  | Version (u32)  | RecvID (u32)  | Body        |
//	+-------------+----------------+---------------+-------------+
//
// Size covers the whole frame including the header. All fields are little-endian.
package libsimconnect_protocol

import (
	"encoding/binary"
	"fmt"

	buffer "github.com/atframework/libsimconnect-go/buffer"
	error_code "github.com/atframework/libsimconnect-go/error_code"
)

const (
	// ProtocolVersion is the version announced by this client.
	ProtocolVersion uint32 = 6
	// ProtocolMinimalVersion is the oldest version a host accepts.
	ProtocolMinimalVersion uint32 = 4

	RequestHeaderSize = 16
	RecvHeaderSize    = 12
	// MinFrameSize is the smallest valid frame in either direction.
	MinFrameSize = RecvHeaderSize

	requestKindMask uint32 = 0xF0000000
)

// RequestHeader is the header of a client to host frame.
type RequestHeader struct {
	Size    uint32
	Version uint32
	Kind    RequestKind
	SendID  uint32
}

// RecvHeader is the header of a host to client frame.
type RecvHeader struct {
	Size    uint32
	Version uint32
	RecvID  RecvID
}

// Request is a client to host message body.
type Request interface {
	Kind() RequestKind
	Encode(w *buffer.BufferWriter) error
	Decode(b *buffer.BufferBlock) error
}

// Recv is a host to client message body.
type Recv interface {
	RecvID() RecvID
	Encode(w *buffer.BufferWriter) error
	Decode(b *buffer.BufferBlock) error
}

// PeekFrameSize returns the size field of a frame, or 0 if fewer than 4 bytes are available.
func PeekFrameSize(data []byte) uint32 {
	if len(data) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(data[0:4])
}

// PackRequest encodes a full client to host frame.
func PackRequest(version uint32, sendID uint32, req Request, limit int) ([]byte, error) {
	if req == nil {
		return nil, error_code.EN_SIMCONNECT_ERR_PARAMS
	}

	w := buffer.NewBufferWriter(RequestHeaderSize+64, limit)
	// size is patched after the body is written
	_ = w.WriteUint32(0)
	_ = w.WriteUint32(version)
	_ = w.WriteUint32(requestKindMask | uint32(req.Kind()))
	_ = w.WriteUint32(sendID)
	if err := req.Encode(w); err != nil {
		return nil, fmt.Errorf("pack %s: %w", req.Kind().String(), packError(err))
	}

	out := w.Bytes()
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(out)))
	return out, nil
}

// UnpackRequest decodes the header and body of a client to host frame.
func UnpackRequest(frame []byte) (RequestHeader, Request, error) {
	var head RequestHeader
	block := buffer.NewBufferBlockFromSlice(frame)
	if block.Size() < RequestHeaderSize {
		return head, nil, error_code.EN_SIMCONNECT_ERR_INVALID_SIZE
	}

	head.Size, _ = block.ReadUint32()
	head.Version, _ = block.ReadUint32()
	rawKind, _ := block.ReadUint32()
	head.SendID, _ = block.ReadUint32()
	if int(head.Size) != len(frame) {
		return head, nil, error_code.EN_SIMCONNECT_ERR_INVALID_SIZE
	}
	if rawKind&requestKindMask != requestKindMask {
		return head, nil, error_code.EN_SIMCONNECT_ERR_UNPACK
	}
	head.Kind = RequestKind(rawKind &^ requestKindMask)

	req := NewRequest(head.Kind)
	if req == nil {
		return head, nil, fmt.Errorf("unpack request kind %d: %w", uint32(head.Kind), error_code.EN_SIMCONNECT_ERR_UNPACK)
	}
	if err := req.Decode(block); err != nil {
		return head, nil, fmt.Errorf("unpack %s: %w", head.Kind.String(), unpackError(err))
	}
	return head, req, nil
}

// PackRecv encodes a full host to client frame.
func PackRecv(version uint32, msg Recv, limit int) ([]byte, error) {
	if msg == nil {
		return nil, error_code.EN_SIMCONNECT_ERR_PARAMS
	}

	w := buffer.NewBufferWriter(RecvHeaderSize+64, limit)
	_ = w.WriteUint32(0)
	_ = w.WriteUint32(version)
	_ = w.WriteUint32(uint32(msg.RecvID()))
	if err := msg.Encode(w); err != nil {
		return nil, fmt.Errorf("pack %s: %w", msg.RecvID().String(), packError(err))
	}

	out := w.Bytes()
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(out)))
	return out, nil
}

// UnpackRecvHeader decodes the header of a host to client frame and returns the body.
func UnpackRecvHeader(frame []byte) (RecvHeader, []byte, error) {
	var head RecvHeader
	block := buffer.NewBufferBlockFromSlice(frame)
	if block.Size() < RecvHeaderSize {
		return head, nil, error_code.EN_SIMCONNECT_ERR_INVALID_SIZE
	}

	head.Size, _ = block.ReadUint32()
	head.Version, _ = block.ReadUint32()
	rawID, _ := block.ReadUint32()
	head.RecvID = RecvID(rawID)
	if int(head.Size) != len(frame) {
		return head, nil, error_code.EN_SIMCONNECT_ERR_INVALID_SIZE
	}
	return head, block.Data(), nil
}

// UnpackRecv decodes a host to client frame into its typed body.
func UnpackRecv(frame []byte) (RecvHeader, Recv, error) {
	head, body, err := UnpackRecvHeader(frame)
	if err != nil {
		return head, nil, err
	}

	msg := NewRecv(head.RecvID)
	if msg == nil {
		return head, nil, fmt.Errorf("unpack recv id %d: %w", uint32(head.RecvID), error_code.EN_SIMCONNECT_ERR_UNPACK)
	}
	if err := msg.Decode(buffer.NewBufferBlockFromSlice(body)); err != nil {
		return head, nil, fmt.Errorf("unpack %s: %w", head.RecvID.String(), unpackError(err))
	}
	return head, msg, nil
}

func packError(err error) error {
	if err == buffer.ErrBuffLimit {
		return error_code.EN_SIMCONNECT_ERR_BUFF_LIMIT
	}
	if _, ok := err.(error_code.ErrorType); ok {
		return err
	}
	return error_code.EN_SIMCONNECT_ERR_PACK
}

func unpackError(err error) error {
	if _, ok := err.(error_code.ErrorType); ok {
		return err
	}
	return error_code.EN_SIMCONNECT_ERR_UNPACK
}
