package libsimconnect_protocol

import (
	"fmt"

	buffer "github.com/atframework/libsimconnect-go/buffer"
	error_code "github.com/atframework/libsimconnect-go/error_code"
	types "github.com/atframework/libsimconnect-go/types"
)

// RecvID identifies a host to client message.
type RecvID uint32

const (
	RecvIDNull                RecvID = 0
	RecvIDException           RecvID = 1
	RecvIDOpen                RecvID = 2
	RecvIDQuit                RecvID = 3
	RecvIDEvent               RecvID = 4
	RecvIDEventFilename       RecvID = 6
	RecvIDEventFrame          RecvID = 7
	RecvIDSimObjectData       RecvID = 8
	RecvIDSimObjectDataByType RecvID = 9
	RecvIDSystemState         RecvID = 15
	RecvIDAck                 RecvID = 0x100
)

var recvIDNames = map[RecvID]string{
	RecvIDNull:                "NULL",
	RecvIDException:           "EXCEPTION",
	RecvIDOpen:                "OPEN",
	RecvIDQuit:                "QUIT",
	RecvIDEvent:               "EVENT",
	RecvIDEventFilename:       "EVENT_FILENAME",
	RecvIDEventFrame:          "EVENT_FRAME",
	RecvIDSimObjectData:       "SIMOBJECT_DATA",
	RecvIDSimObjectDataByType: "SIMOBJECT_DATA_BYTYPE",
	RecvIDSystemState:         "SYSTEM_STATE",
	RecvIDAck:                 "ACK",
}

func (id RecvID) String() string {
	if s, ok := recvIDNames[id]; ok {
		return s
	}
	return fmt.Sprintf("RecvID(%d)", uint32(id))
}

// NewRecv creates an empty body for id, nil if the id is unknown.
func NewRecv(id RecvID) Recv {
	switch id {
	case RecvIDNull:
		return &RecvNull{}
	case RecvIDException:
		return &RecvException{}
	case RecvIDOpen:
		return &RecvOpen{}
	case RecvIDQuit:
		return &RecvQuit{}
	case RecvIDEvent:
		return &RecvEvent{}
	case RecvIDEventFilename:
		return &RecvEventFilename{}
	case RecvIDEventFrame:
		return &RecvEventFrame{}
	case RecvIDSimObjectData:
		return &RecvSimObjectData{}
	case RecvIDSimObjectDataByType:
		return &RecvSimObjectData{ByType: true}
	case RecvIDSystemState:
		return &RecvSystemState{}
	case RecvIDAck:
		return &RecvAck{}
	default:
		return nil
	}
}

type RecvNull struct{}

func (*RecvNull) RecvID() RecvID { return RecvIDNull }

func (*RecvNull) Encode(*buffer.BufferWriter) error { return nil }

func (*RecvNull) Decode(*buffer.BufferBlock) error { return nil }

type RecvQuit struct{}

func (*RecvQuit) RecvID() RecvID { return RecvIDQuit }

func (*RecvQuit) Encode(*buffer.BufferWriter) error { return nil }

func (*RecvQuit) Decode(*buffer.BufferBlock) error { return nil }

type RecvAck struct {
	SendID uint32
}

func (*RecvAck) RecvID() RecvID { return RecvIDAck }

func (m *RecvAck) Encode(w *buffer.BufferWriter) error {
	return w.WriteUint32(m.SendID)
}

func (m *RecvAck) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.SendID = fr.u32()
	return fr.err
}

type RecvException struct {
	Exception error_code.HostException
	SendID    uint32
	Index     uint32
}

func (*RecvException) RecvID() RecvID { return RecvIDException }

func (m *RecvException) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.Exception))
	fw.u32(m.SendID)
	fw.u32(m.Index)
	return fw.err
}

func (m *RecvException) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.Exception = error_code.HostException(fr.u32())
	m.SendID = fr.u32()
	m.Index = fr.u32()
	return fr.err
}

// AsError converts the exception into the error returned to the caller.
func (m *RecvException) AsError() *error_code.HostExceptionError {
	return &error_code.HostExceptionError{
		Exception: m.Exception,
		SendID:    m.SendID,
		Index:     m.Index,
	}
}

type RecvOpen struct {
	ApplicationName    string
	ApplicationVersion [2]uint32
	ApplicationBuild   [2]uint32
	SimConnectVersion  [2]uint32
	SimConnectBuild    [2]uint32
	Reserved1          uint32
	Reserved2          uint32
}

func (*RecvOpen) RecvID() RecvID { return RecvIDOpen }

func (m *RecvOpen) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.str(m.ApplicationName, buffer.StringSize256)
	for _, pair := range [][2]uint32{m.ApplicationVersion, m.ApplicationBuild, m.SimConnectVersion, m.SimConnectBuild} {
		fw.u32(pair[0])
		fw.u32(pair[1])
	}
	fw.u32(m.Reserved1)
	fw.u32(m.Reserved2)
	return fw.err
}

func (m *RecvOpen) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.ApplicationName = fr.str(buffer.StringSize256)
	for _, pair := range []*[2]uint32{&m.ApplicationVersion, &m.ApplicationBuild, &m.SimConnectVersion, &m.SimConnectBuild} {
		pair[0] = fr.u32()
		pair[1] = fr.u32()
	}
	m.Reserved1 = fr.u32()
	m.Reserved2 = fr.u32()
	return fr.err
}

type RecvEvent struct {
	GroupID types.GroupID
	EventID types.ClientEventID
	Data    uint32
}

func (*RecvEvent) RecvID() RecvID { return RecvIDEvent }

func (m *RecvEvent) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.GroupID))
	fw.u32(uint32(m.EventID))
	fw.u32(m.Data)
	return fw.err
}

func (m *RecvEvent) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.GroupID = types.GroupID(fr.u32())
	m.EventID = types.ClientEventID(fr.u32())
	m.Data = fr.u32()
	return fr.err
}

type RecvEventFilename struct {
	RecvEvent
	FileName string
	Flags    uint32
}

func (*RecvEventFilename) RecvID() RecvID { return RecvIDEventFilename }

func (m *RecvEventFilename) Encode(w *buffer.BufferWriter) error {
	if err := m.RecvEvent.Encode(w); err != nil {
		return err
	}
	fw := fieldWriter{w: w}
	fw.str(m.FileName, buffer.StringSize260)
	fw.u32(m.Flags)
	return fw.err
}

func (m *RecvEventFilename) Decode(b *buffer.BufferBlock) error {
	if err := m.RecvEvent.Decode(b); err != nil {
		return err
	}
	fr := fieldReader{b: b}
	m.FileName = fr.str(buffer.StringSize260)
	m.Flags = fr.u32()
	return fr.err
}

type RecvEventFrame struct {
	RecvEvent
	FrameRate float32
	SimSpeed  float32
}

func (*RecvEventFrame) RecvID() RecvID { return RecvIDEventFrame }

func (m *RecvEventFrame) Encode(w *buffer.BufferWriter) error {
	if err := m.RecvEvent.Encode(w); err != nil {
		return err
	}
	fw := fieldWriter{w: w}
	fw.f32(m.FrameRate)
	fw.f32(m.SimSpeed)
	return fw.err
}

func (m *RecvEventFrame) Decode(b *buffer.BufferBlock) error {
	if err := m.RecvEvent.Decode(b); err != nil {
		return err
	}
	fr := fieldReader{b: b}
	m.FrameRate = fr.f32()
	m.SimSpeed = fr.f32()
	return fr.err
}

// RecvSimObjectData carries SIMOBJECT_DATA and, with ByType set, SIMOBJECT_DATA_BYTYPE.
type RecvSimObjectData struct {
	ByType bool

	RequestID   types.RequestID
	ObjectID    types.ObjectID
	DefineID    types.DefinitionID
	Flags       types.RequestFlag
	EntryNumber uint32
	OutOf       uint32
	DefineCount uint32
	Data        []byte
}

func (m *RecvSimObjectData) RecvID() RecvID {
	if m.ByType {
		return RecvIDSimObjectDataByType
	}
	return RecvIDSimObjectData
}

func (m *RecvSimObjectData) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.RequestID))
	fw.u32(uint32(m.ObjectID))
	fw.u32(uint32(m.DefineID))
	fw.u32(uint32(m.Flags))
	fw.u32(m.EntryNumber)
	fw.u32(m.OutOf)
	fw.u32(m.DefineCount)
	fw.raw(m.Data)
	return fw.err
}

func (m *RecvSimObjectData) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.RequestID = types.RequestID(fr.u32())
	m.ObjectID = types.ObjectID(fr.u32())
	m.DefineID = types.DefinitionID(fr.u32())
	m.Flags = types.RequestFlag(fr.u32())
	m.EntryNumber = fr.u32()
	m.OutOf = fr.u32()
	m.DefineCount = fr.u32()
	m.Data = fr.rest()
	return fr.err
}

type RecvSystemState struct {
	RequestID types.RequestID
	Integer   uint32
	Float     float32
	String    string
}

func (*RecvSystemState) RecvID() RecvID { return RecvIDSystemState }

func (m *RecvSystemState) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.RequestID))
	fw.u32(m.Integer)
	fw.f32(m.Float)
	fw.str(m.String, buffer.StringSize260)
	return fw.err
}

func (m *RecvSystemState) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.RequestID = types.RequestID(fr.u32())
	m.Integer = fr.u32()
	m.Float = fr.f32()
	m.String = fr.str(buffer.StringSize260)
	return fr.err
}
