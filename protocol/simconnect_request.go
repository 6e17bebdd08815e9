package libsimconnect_protocol

import (
	"fmt"

	buffer "github.com/atframework/libsimconnect-go/buffer"
	types "github.com/atframework/libsimconnect-go/types"
)

// RequestKind is the ordinal of a client to host request.
type RequestKind uint32

const (
	RequestKindOpen                              RequestKind = 0x01
	RequestKindMapClientEventToSimEvent          RequestKind = 0x04
	RequestKindTransmitClientEvent               RequestKind = 0x05
	RequestKindAddClientEventToNotificationGroup RequestKind = 0x07
	RequestKindRemoveClientEvent                 RequestKind = 0x08
	RequestKindSetNotificationGroupPriority      RequestKind = 0x09
	RequestKindAddToDataDefinition               RequestKind = 0x0C
	RequestKindClearDataDefinition               RequestKind = 0x0D
	RequestKindRequestDataOnSimObject            RequestKind = 0x0E
	RequestKindRequestDataOnSimObjectType        RequestKind = 0x0F
	RequestKindSetDataOnSimObject                RequestKind = 0x10
	RequestKindMapInputEventToClientEvent        RequestKind = 0x11
	RequestKindSetInputGroupPriority             RequestKind = 0x12
	RequestKindRemoveInputEvent                  RequestKind = 0x13
	RequestKindSetInputGroupState                RequestKind = 0x15
	RequestKindSubscribeToSystemEvent            RequestKind = 0x17
	RequestKindUnsubscribeFromSystemEvent        RequestKind = 0x18
	RequestKindRequestSystemState                RequestKind = 0x35
)

var requestKindNames = map[RequestKind]string{
	RequestKindOpen:                              "Open",
	RequestKindMapClientEventToSimEvent:          "MapClientEventToSimEvent",
	RequestKindTransmitClientEvent:               "TransmitClientEvent",
	RequestKindAddClientEventToNotificationGroup: "AddClientEventToNotificationGroup",
	RequestKindRemoveClientEvent:                 "RemoveClientEvent",
	RequestKindSetNotificationGroupPriority:      "SetNotificationGroupPriority",
	RequestKindAddToDataDefinition:               "AddToDataDefinition",
	RequestKindClearDataDefinition:               "ClearDataDefinition",
	RequestKindRequestDataOnSimObject:            "RequestDataOnSimObject",
	RequestKindRequestDataOnSimObjectType:        "RequestDataOnSimObjectType",
	RequestKindSetDataOnSimObject:                "SetDataOnSimObject",
	RequestKindMapInputEventToClientEvent:        "MapInputEventToClientEvent",
	RequestKindSetInputGroupPriority:             "SetInputGroupPriority",
	RequestKindRemoveInputEvent:                  "RemoveInputEvent",
	RequestKindSetInputGroupState:                "SetInputGroupState",
	RequestKindSubscribeToSystemEvent:            "SubscribeToSystemEvent",
	RequestKindUnsubscribeFromSystemEvent:        "UnsubscribeFromSystemEvent",
	RequestKindRequestSystemState:                "RequestSystemState",
}

func (k RequestKind) String() string {
	if s, ok := requestKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("RequestKind(%d)", uint32(k))
}

// NeedsAck reports whether the host acknowledges the request with an ACK frame.
// Open is answered by OPEN, data and state requests by their data frames.
func (k RequestKind) NeedsAck() bool {
	switch k {
	case RequestKindOpen, RequestKindRequestDataOnSimObjectType, RequestKindRequestSystemState:
		return false
	default:
		return true
	}
}

// NewRequest creates an empty request body for kind, nil if the kind is unknown.
func NewRequest(kind RequestKind) Request {
	switch kind {
	case RequestKindOpen:
		return &OpenRequest{}
	case RequestKindMapClientEventToSimEvent:
		return &MapClientEventToSimEventRequest{}
	case RequestKindTransmitClientEvent:
		return &TransmitClientEventRequest{}
	case RequestKindAddClientEventToNotificationGroup:
		return &AddClientEventToNotificationGroupRequest{}
	case RequestKindRemoveClientEvent:
		return &RemoveClientEventRequest{}
	case RequestKindSetNotificationGroupPriority:
		return &SetNotificationGroupPriorityRequest{}
	case RequestKindAddToDataDefinition:
		return &AddToDataDefinitionRequest{}
	case RequestKindClearDataDefinition:
		return &ClearDataDefinitionRequest{}
	case RequestKindRequestDataOnSimObject:
		return &RequestDataOnSimObjectRequest{}
	case RequestKindRequestDataOnSimObjectType:
		return &RequestDataOnSimObjectTypeRequest{}
	case RequestKindSetDataOnSimObject:
		return &SetDataOnSimObjectRequest{}
	case RequestKindMapInputEventToClientEvent:
		return &MapInputEventToClientEventRequest{}
	case RequestKindSetInputGroupPriority:
		return &SetInputGroupPriorityRequest{}
	case RequestKindRemoveInputEvent:
		return &RemoveInputEventRequest{}
	case RequestKindSetInputGroupState:
		return &SetInputGroupStateRequest{}
	case RequestKindSubscribeToSystemEvent:
		return &SubscribeToSystemEventRequest{}
	case RequestKindUnsubscribeFromSystemEvent:
		return &UnsubscribeFromSystemEventRequest{}
	case RequestKindRequestSystemState:
		return &RequestSystemStateRequest{}
	default:
		return nil
	}
}

// fieldReader collects the first error of a sequence of reads.
type fieldReader struct {
	b   *buffer.BufferBlock
	err error
}

func (r *fieldReader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.b.ReadUint32()
	r.err = err
	return v
}

func (r *fieldReader) f32() float32 {
	if r.err != nil {
		return 0
	}
	v, err := r.b.ReadFloat32()
	r.err = err
	return v
}

func (r *fieldReader) str(size int) string {
	if r.err != nil {
		return ""
	}
	v, err := r.b.ReadFixedString(size)
	r.err = err
	return v
}

func (r *fieldReader) rest() []byte {
	if r.err != nil {
		return nil
	}
	raw := r.b.Data()
	out := make([]byte, len(raw))
	copy(out, raw)
	_, r.err = r.b.Pop(len(raw))
	return out
}

// fieldWriter collects the first error of a sequence of writes.
type fieldWriter struct {
	w   *buffer.BufferWriter
	err error
}

func (w *fieldWriter) u32(v uint32) {
	if w.err == nil {
		w.err = w.w.WriteUint32(v)
	}
}

func (w *fieldWriter) f32(v float32) {
	if w.err == nil {
		w.err = w.w.WriteFloat32(v)
	}
}

func (w *fieldWriter) str(s string, size int) {
	if w.err == nil {
		w.err = w.w.WriteFixedString(s, size)
	}
}

func (w *fieldWriter) raw(in []byte) {
	if w.err == nil {
		w.err = w.w.WriteBytes(in)
	}
}

type OpenRequest struct {
	AppName string
}

func (*OpenRequest) Kind() RequestKind { return RequestKindOpen }

func (m *OpenRequest) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.str(m.AppName, buffer.StringSize256)
	return fw.err
}

func (m *OpenRequest) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.AppName = fr.str(buffer.StringSize256)
	return fr.err
}

type MapClientEventToSimEventRequest struct {
	EventID   types.ClientEventID
	EventName string
}

func (*MapClientEventToSimEventRequest) Kind() RequestKind {
	return RequestKindMapClientEventToSimEvent
}

func (m *MapClientEventToSimEventRequest) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.EventID))
	fw.str(m.EventName, buffer.StringSize256)
	return fw.err
}

func (m *MapClientEventToSimEventRequest) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.EventID = types.ClientEventID(fr.u32())
	m.EventName = fr.str(buffer.StringSize256)
	return fr.err
}

type TransmitClientEventRequest struct {
	ObjectID types.ObjectID
	EventID  types.ClientEventID
	Data     uint32
	GroupID  types.GroupID
	Flags    types.EventFlag
}

func (*TransmitClientEventRequest) Kind() RequestKind { return RequestKindTransmitClientEvent }

func (m *TransmitClientEventRequest) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.ObjectID))
	fw.u32(uint32(m.EventID))
	fw.u32(m.Data)
	fw.u32(uint32(m.GroupID))
	fw.u32(uint32(m.Flags))
	return fw.err
}

func (m *TransmitClientEventRequest) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.ObjectID = types.ObjectID(fr.u32())
	m.EventID = types.ClientEventID(fr.u32())
	m.Data = fr.u32()
	m.GroupID = types.GroupID(fr.u32())
	m.Flags = types.EventFlag(fr.u32())
	return fr.err
}

type AddClientEventToNotificationGroupRequest struct {
	GroupID  types.GroupID
	EventID  types.ClientEventID
	Maskable bool
}

func (*AddClientEventToNotificationGroupRequest) Kind() RequestKind {
	return RequestKindAddClientEventToNotificationGroup
}

func (m *AddClientEventToNotificationGroupRequest) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.GroupID))
	fw.u32(uint32(m.EventID))
	fw.u32(boolToUint32(m.Maskable))
	return fw.err
}

func (m *AddClientEventToNotificationGroupRequest) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.GroupID = types.GroupID(fr.u32())
	m.EventID = types.ClientEventID(fr.u32())
	m.Maskable = fr.u32() != 0
	return fr.err
}

type RemoveClientEventRequest struct {
	GroupID types.GroupID
	EventID types.ClientEventID
}

func (*RemoveClientEventRequest) Kind() RequestKind { return RequestKindRemoveClientEvent }

func (m *RemoveClientEventRequest) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.GroupID))
	fw.u32(uint32(m.EventID))
	return fw.err
}

func (m *RemoveClientEventRequest) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.GroupID = types.GroupID(fr.u32())
	m.EventID = types.ClientEventID(fr.u32())
	return fr.err
}

type SetNotificationGroupPriorityRequest struct {
	GroupID  types.GroupID
	Priority types.GroupPriority
}

func (*SetNotificationGroupPriorityRequest) Kind() RequestKind {
	return RequestKindSetNotificationGroupPriority
}

func (m *SetNotificationGroupPriorityRequest) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.GroupID))
	fw.u32(uint32(m.Priority))
	return fw.err
}

func (m *SetNotificationGroupPriorityRequest) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.GroupID = types.GroupID(fr.u32())
	m.Priority = types.GroupPriority(fr.u32())
	return fr.err
}

type AddToDataDefinitionRequest struct {
	DefineID  types.DefinitionID
	DatumName string
	UnitsName string
	DataType  types.DataType
	Epsilon   float32
	DatumID   uint32
}

func (*AddToDataDefinitionRequest) Kind() RequestKind { return RequestKindAddToDataDefinition }

func (m *AddToDataDefinitionRequest) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.DefineID))
	fw.str(m.DatumName, buffer.StringSize256)
	fw.str(m.UnitsName, buffer.StringSize256)
	fw.u32(uint32(m.DataType))
	fw.f32(m.Epsilon)
	fw.u32(m.DatumID)
	return fw.err
}

func (m *AddToDataDefinitionRequest) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.DefineID = types.DefinitionID(fr.u32())
	m.DatumName = fr.str(buffer.StringSize256)
	m.UnitsName = fr.str(buffer.StringSize256)
	m.DataType = types.DataType(fr.u32())
	m.Epsilon = fr.f32()
	m.DatumID = fr.u32()
	return fr.err
}

type ClearDataDefinitionRequest struct {
	DefineID types.DefinitionID
}

func (*ClearDataDefinitionRequest) Kind() RequestKind { return RequestKindClearDataDefinition }

func (m *ClearDataDefinitionRequest) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.DefineID))
	return fw.err
}

func (m *ClearDataDefinitionRequest) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.DefineID = types.DefinitionID(fr.u32())
	return fr.err
}

type RequestDataOnSimObjectRequest struct {
	RequestID types.RequestID
	DefineID  types.DefinitionID
	ObjectID  types.ObjectID
	Period    types.WirePeriod
	Flags     types.RequestFlag
	Origin    uint32
	Interval  uint32
	Limit     uint32
}

func (*RequestDataOnSimObjectRequest) Kind() RequestKind {
	return RequestKindRequestDataOnSimObject
}

func (m *RequestDataOnSimObjectRequest) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.RequestID))
	fw.u32(uint32(m.DefineID))
	fw.u32(uint32(m.ObjectID))
	fw.u32(uint32(m.Period))
	fw.u32(uint32(m.Flags))
	fw.u32(m.Origin)
	fw.u32(m.Interval)
	fw.u32(m.Limit)
	return fw.err
}

func (m *RequestDataOnSimObjectRequest) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.RequestID = types.RequestID(fr.u32())
	m.DefineID = types.DefinitionID(fr.u32())
	m.ObjectID = types.ObjectID(fr.u32())
	m.Period = types.WirePeriod(fr.u32())
	m.Flags = types.RequestFlag(fr.u32())
	m.Origin = fr.u32()
	m.Interval = fr.u32()
	m.Limit = fr.u32()
	return fr.err
}

type RequestDataOnSimObjectTypeRequest struct {
	RequestID    types.RequestID
	DefineID     types.DefinitionID
	RadiusMeters uint32
	ObjectType   types.SimObjectType
}

func (*RequestDataOnSimObjectTypeRequest) Kind() RequestKind {
	return RequestKindRequestDataOnSimObjectType
}

func (m *RequestDataOnSimObjectTypeRequest) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.RequestID))
	fw.u32(uint32(m.DefineID))
	fw.u32(m.RadiusMeters)
	fw.u32(uint32(m.ObjectType))
	return fw.err
}

func (m *RequestDataOnSimObjectTypeRequest) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.RequestID = types.RequestID(fr.u32())
	m.DefineID = types.DefinitionID(fr.u32())
	m.RadiusMeters = fr.u32()
	m.ObjectType = types.SimObjectType(fr.u32())
	return fr.err
}

type SetDataOnSimObjectRequest struct {
	DefineID   types.DefinitionID
	ObjectID   types.ObjectID
	Flags      types.RequestFlag
	ArrayCount uint32
	UnitSize   uint32
	Data       []byte
}

func (*SetDataOnSimObjectRequest) Kind() RequestKind { return RequestKindSetDataOnSimObject }

func (m *SetDataOnSimObjectRequest) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.DefineID))
	fw.u32(uint32(m.ObjectID))
	fw.u32(uint32(m.Flags))
	fw.u32(m.ArrayCount)
	fw.u32(m.UnitSize)
	fw.raw(m.Data)
	return fw.err
}

func (m *SetDataOnSimObjectRequest) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.DefineID = types.DefinitionID(fr.u32())
	m.ObjectID = types.ObjectID(fr.u32())
	m.Flags = types.RequestFlag(fr.u32())
	m.ArrayCount = fr.u32()
	m.UnitSize = fr.u32()
	m.Data = fr.rest()
	return fr.err
}

type MapInputEventToClientEventRequest struct {
	GroupID         types.InputGroupID
	InputDefinition string
	DownEventID     types.ClientEventID
	DownValue       uint32
	UpEventID       types.ClientEventID
	UpValue         uint32
	Maskable        bool
}

func (*MapInputEventToClientEventRequest) Kind() RequestKind {
	return RequestKindMapInputEventToClientEvent
}

func (m *MapInputEventToClientEventRequest) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.GroupID))
	fw.str(m.InputDefinition, buffer.StringSize256)
	fw.u32(uint32(m.DownEventID))
	fw.u32(m.DownValue)
	fw.u32(uint32(m.UpEventID))
	fw.u32(m.UpValue)
	fw.u32(boolToUint32(m.Maskable))
	return fw.err
}

func (m *MapInputEventToClientEventRequest) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.GroupID = types.InputGroupID(fr.u32())
	m.InputDefinition = fr.str(buffer.StringSize256)
	m.DownEventID = types.ClientEventID(fr.u32())
	m.DownValue = fr.u32()
	m.UpEventID = types.ClientEventID(fr.u32())
	m.UpValue = fr.u32()
	m.Maskable = fr.u32() != 0
	return fr.err
}

type SetInputGroupPriorityRequest struct {
	GroupID  types.InputGroupID
	Priority types.GroupPriority
}

func (*SetInputGroupPriorityRequest) Kind() RequestKind { return RequestKindSetInputGroupPriority }

func (m *SetInputGroupPriorityRequest) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.GroupID))
	fw.u32(uint32(m.Priority))
	return fw.err
}

func (m *SetInputGroupPriorityRequest) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.GroupID = types.InputGroupID(fr.u32())
	m.Priority = types.GroupPriority(fr.u32())
	return fr.err
}

type RemoveInputEventRequest struct {
	GroupID         types.InputGroupID
	InputDefinition string
}

func (*RemoveInputEventRequest) Kind() RequestKind { return RequestKindRemoveInputEvent }

func (m *RemoveInputEventRequest) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.GroupID))
	fw.str(m.InputDefinition, buffer.StringSize256)
	return fw.err
}

func (m *RemoveInputEventRequest) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.GroupID = types.InputGroupID(fr.u32())
	m.InputDefinition = fr.str(buffer.StringSize256)
	return fr.err
}

type SetInputGroupStateRequest struct {
	GroupID types.InputGroupID
	State   types.State
}

func (*SetInputGroupStateRequest) Kind() RequestKind { return RequestKindSetInputGroupState }

func (m *SetInputGroupStateRequest) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.GroupID))
	fw.u32(uint32(m.State))
	return fw.err
}

func (m *SetInputGroupStateRequest) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.GroupID = types.InputGroupID(fr.u32())
	m.State = types.State(fr.u32())
	return fr.err
}

type SubscribeToSystemEventRequest struct {
	EventID   types.ClientEventID
	EventName string
}

func (*SubscribeToSystemEventRequest) Kind() RequestKind {
	return RequestKindSubscribeToSystemEvent
}

func (m *SubscribeToSystemEventRequest) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.EventID))
	fw.str(m.EventName, buffer.StringSize256)
	return fw.err
}

func (m *SubscribeToSystemEventRequest) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.EventID = types.ClientEventID(fr.u32())
	m.EventName = fr.str(buffer.StringSize256)
	return fr.err
}

type UnsubscribeFromSystemEventRequest struct {
	EventID types.ClientEventID
}

func (*UnsubscribeFromSystemEventRequest) Kind() RequestKind {
	return RequestKindUnsubscribeFromSystemEvent
}

func (m *UnsubscribeFromSystemEventRequest) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.EventID))
	return fw.err
}

func (m *UnsubscribeFromSystemEventRequest) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.EventID = types.ClientEventID(fr.u32())
	return fr.err
}

type RequestSystemStateRequest struct {
	RequestID types.RequestID
	State     string
}

func (*RequestSystemStateRequest) Kind() RequestKind { return RequestKindRequestSystemState }

func (m *RequestSystemStateRequest) Encode(w *buffer.BufferWriter) error {
	fw := fieldWriter{w: w}
	fw.u32(uint32(m.RequestID))
	fw.str(m.State, buffer.StringSize256)
	return fw.err
}

func (m *RequestSystemStateRequest) Decode(b *buffer.BufferBlock) error {
	fr := fieldReader{b: b}
	m.RequestID = types.RequestID(fr.u32())
	m.State = fr.str(buffer.StringSize256)
	return fr.err
}

func boolToUint32(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}
