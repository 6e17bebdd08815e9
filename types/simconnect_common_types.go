package libsimconnect_types

import (
	"context"
	"fmt"
	"strings"
	"time"

	error_code "github.com/atframework/libsimconnect-go/error_code"
)

type ErrorType = error_code.ErrorType

type (
	DefinitionID   uint32
	RequestID      uint32
	ClientEventID  uint32
	GroupID        uint32
	InputGroupID   uint32
	ObjectID       uint32
	DatumID        uint32
	SendID         uint32
	NotificationID uint32
)

const (
	// ObjectIDUser is the user aircraft.
	ObjectIDUser ObjectID = 0
	// UnusedID marks an optional identifier field as not set.
	UnusedID uint32 = 0xFFFFFFFF
)

// DataType is the numeric or string layout of one simulation variable.
type DataType uint32

const (
	DataTypeInvalid DataType = iota
	DataTypeInt32
	DataTypeInt64
	DataTypeFloat32
	DataTypeFloat64
	DataTypeString8
	DataTypeString32
	DataTypeString64
	DataTypeString128
	DataTypeString256
	DataTypeString260
	DataTypeStringV
	DataTypeInitPosition
	DataTypeMarkerState
	DataTypeWaypoint
	DataTypeLatLonAlt
	DataTypeXYZ
	DataTypeMax
)

var dataTypeNames = map[DataType]string{
	DataTypeInt32:     "int32",
	DataTypeInt64:     "int64",
	DataTypeFloat32:   "float32",
	DataTypeFloat64:   "float64",
	DataTypeString8:   "string8",
	DataTypeString32:  "string32",
	DataTypeString64:  "string64",
	DataTypeString128: "string128",
	DataTypeString256: "string256",
	DataTypeString260: "string260",
	DataTypeLatLonAlt: "latlonalt",
	DataTypeXYZ:       "xyz",
}

// Size returns the encoded size of one value, 0 for types the client can not lay out.
func (t DataType) Size() int {
	switch t {
	case DataTypeInt32, DataTypeFloat32:
		return 4
	case DataTypeInt64, DataTypeFloat64:
		return 8
	case DataTypeString8:
		return 8
	case DataTypeString32:
		return 32
	case DataTypeString64:
		return 64
	case DataTypeString128:
		return 128
	case DataTypeString256:
		return 256
	case DataTypeString260:
		return 260
	case DataTypeLatLonAlt, DataTypeXYZ:
		return 24
	default:
		return 0
	}
}

// IsString reports whether the type is a fixed width string.
func (t DataType) IsString() bool {
	return t >= DataTypeString8 && t <= DataTypeString260
}

func (t DataType) String() string {
	if s, ok := dataTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("datatype(%d)", uint32(t))
}

// ParseDataType accepts the names returned by DataType.String, case-insensitive.
func ParseDataType(s string) (DataType, bool) {
	ls := strings.ToLower(strings.TrimSpace(s))
	for t, name := range dataTypeNames {
		if name == ls {
			return t, true
		}
	}
	return DataTypeInvalid, false
}

// WirePeriod is the host side period value.
type WirePeriod uint32

const (
	WirePeriodNever WirePeriod = iota
	WirePeriodOnce
	WirePeriodVisualFrame
	WirePeriodSimFrame
	WirePeriodSecond
)

// RequestFlag is a bit set attached to data requests.
type RequestFlag uint32

const (
	RequestFlagDefault RequestFlag = 0
	RequestFlagChanged RequestFlag = 0x01
	RequestFlagTagged  RequestFlag = 0x02
)

// Period is the update policy of a data request.
type Period int32

const (
	PeriodOnce Period = iota
	PeriodEveryFrame
	PeriodEverySecond
	PeriodOnChange
)

var periodNames = [...]string{"once", "every-frame", "every-second", "on-change"}

func (p Period) String() string {
	if p >= 0 && int(p) < len(periodNames) {
		return periodNames[p]
	}
	return fmt.Sprintf("period(%d)", int32(p))
}

// Wire converts the policy to the host period and the flags it implies.
func (p Period) Wire() (WirePeriod, RequestFlag) {
	switch p {
	case PeriodOnce:
		return WirePeriodOnce, RequestFlagDefault
	case PeriodEveryFrame:
		return WirePeriodSimFrame, RequestFlagDefault
	case PeriodEverySecond:
		return WirePeriodSecond, RequestFlagDefault
	case PeriodOnChange:
		return WirePeriodSimFrame, RequestFlagChanged
	default:
		return WirePeriodNever, RequestFlagDefault
	}
}

// ParsePeriod accepts the names returned by Period.String.
func ParsePeriod(s string) (Period, bool) {
	ls := strings.ToLower(strings.TrimSpace(s))
	for i, name := range periodNames {
		if name == ls {
			return Period(i), true
		}
	}
	return PeriodOnce, false
}

// SimObjectType selects objects for requests by type.
type SimObjectType uint32

const (
	SimObjectTypeUser SimObjectType = iota
	SimObjectTypeAll
	SimObjectTypeAircraft
	SimObjectTypeHelicopter
	SimObjectTypeBoat
	SimObjectTypeGround
)

// GroupPriority orders notification and input groups, lower is higher priority.
type GroupPriority uint32

const (
	GroupPriorityHighest         GroupPriority = 1
	GroupPriorityHighestMaskable GroupPriority = 10000000
	GroupPriorityStandard        GroupPriority = 1900000000
	GroupPriorityDefault         GroupPriority = 2000000000
	GroupPriorityLowest          GroupPriority = 4000000000
)

// State is an on/off switch for input groups.
type State uint32

const (
	StateOff State = 0
	StateOn  State = 1
)

// EventFlag modifies TransmitClientEvent.
type EventFlag uint32

const (
	EventFlagDefault           EventFlag = 0
	EventFlagGroupIDIsPriority EventFlag = 0x10
)

// ConnectionStatus is the client facade state.
type ConnectionStatus int32

const (
	ConnectionStatusDisconnected ConnectionStatus = 0
	ConnectionStatusConnecting   ConnectionStatus = 1
	ConnectionStatusConnected    ConnectionStatus = 2
)

func (s ConnectionStatus) String() string {
	switch s {
	case ConnectionStatusDisconnected:
		return "disconnected"
	case ConnectionStatusConnecting:
		return "connecting"
	case ConnectionStatusConnected:
		return "connected"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

type ClientConfigure struct {
	EventLoopContext context.Context

	AppName         string
	Address         string
	ProtocolVersion uint32

	// ===== 超时配置 =====
	HandshakeTimeout time.Duration // Open 握手超时
	RequestTimeout   time.Duration // 需要确认的请求超时

	// ===== 投递配置 =====
	DeliveryQueueSize      int // 投递队列长度，满了以后丢弃并告警
	SubscriptionBufferSize int // 每个订阅的缓冲 channel 长度

	Channel IoStreamConfigure
}

// SetDefaultClientConfigure sets the default values for ClientConfigure.
func SetDefaultClientConfigure(conf *ClientConfigure) {
	if conf == nil {
		return
	}

	conf.EventLoopContext = nil
	conf.AppName = "libsimconnect-go"
	conf.Address = "ipv4://127.0.0.1:500"
	conf.ProtocolVersion = 0

	conf.HandshakeTimeout = 10 * time.Second
	conf.RequestTimeout = 5 * time.Second

	conf.DeliveryQueueSize = 1024
	conf.SubscriptionBufferSize = 64

	SetDefaultIoStreamConfigure(&conf.Channel)
}
