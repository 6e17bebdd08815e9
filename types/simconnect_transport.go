package libsimconnect_types

import (
	"context"
	"fmt"
	"time"
)

// IoStreamConfigure tunes a framed stream channel. The client and the host share it.
type IoStreamConfigure struct {
	Keepalive time.Duration
	NoDelay   bool

	// ===== 队列与包大小 =====
	WriteQueueSize         int    // 每个连接的待发送帧数量
	SendBufferLimitSize    uint64 // 单帧发送上限，0 不限制
	ReceiveBufferLimitSize uint64 // 单帧接收上限，超过会跳过该帧

	ConfirmTimeout time.Duration // 建连与 websocket 握手超时

	// ===== 容错阈值 =====
	MaxReadNetEgainCount             uint64 // 连续读超时次数上限
	MaxReadCheckBlockSizeFailedCount uint64 // 超长帧次数上限，超过断开
}

// SetDefaultIoStreamConfigure sets the default values for IoStreamConfigure.
func SetDefaultIoStreamConfigure(conf *IoStreamConfigure) {
	if conf == nil {
		return
	}

	*conf = IoStreamConfigure{
		Keepalive:                        time.Minute,
		NoDelay:                          true,
		WriteQueueSize:                   1024,
		SendBufferLimitSize:              1 << 20,
		ReceiveBufferLimitSize:           1 << 20,
		ConfirmTimeout:                   30 * time.Second,
		MaxReadNetEgainCount:             1000,
		MaxReadCheckBlockSizeFailedCount: 3,
	}
}

// IoStreamCallbackEventType indexes IoStreamCallbackEventHandleSet.
type IoStreamCallbackEventType int32

const (
	IoStreamCallbackEventType_Accepted IoStreamCallbackEventType = iota
	IoStreamCallbackEventType_Connected
	IoStreamCallbackEventType_Disconnected
	// IoStreamCallbackEventType_Received carries one complete frame as privData
	IoStreamCallbackEventType_Received
	// IoStreamCallbackEventType_Written carries the frame that was flushed as privData
	IoStreamCallbackEventType_Written
	IoStreamCallbackEventType_Max
)

var ioStreamCallbackEventNames = [IoStreamCallbackEventType_Max]string{
	"accepted", "connected", "disconnected", "received", "written",
}

func (t IoStreamCallbackEventType) String() string {
	if t >= 0 && t < IoStreamCallbackEventType_Max {
		return ioStreamCallbackEventNames[t]
	}
	return fmt.Sprintf("iostream_event(%d)", int32(t))
}

// IoStreamCallbackFunc receives channel events. status is an error code, SUCCESS for
// anything but a failed disconnect.
type IoStreamCallbackFunc func(channel IoStreamChannel, conn IoStreamConnection, status int32, privData interface{})

// IoStreamCallbackEventHandleSet holds at most one callback per event type.
type IoStreamCallbackEventHandleSet struct {
	callbacks [IoStreamCallbackEventType_Max]IoStreamCallbackFunc
}

func (h *IoStreamCallbackEventHandleSet) GetCallback(eventType IoStreamCallbackEventType) IoStreamCallbackFunc {
	if eventType >= 0 && eventType < IoStreamCallbackEventType_Max {
		return h.callbacks[eventType]
	}
	return nil
}

// SetCallback replaces the callback of eventType, nil clears it.
func (h *IoStreamCallbackEventHandleSet) SetCallback(eventType IoStreamCallbackEventType, callback IoStreamCallbackFunc) {
	if eventType >= 0 && eventType < IoStreamCallbackEventType_Max {
		h.callbacks[eventType] = callback
	}
}

// IoStreamConnectionFlag is a bit in a connection's flag set.
type IoStreamConnectionFlag uint16

const (
	IoStreamConnectionFlag_Listen IoStreamConnectionFlag = 1 << iota
	IoStreamConnectionFlag_Connect
	IoStreamConnectionFlag_Accept
	IoStreamConnectionFlag_Writing
	IoStreamConnectionFlag_Closing
)

type IoStreamConnectionStatus uint16

const (
	IoStreamConnectionStatus_Created IoStreamConnectionStatus = iota
	IoStreamConnectionStatus_Connected
	IoStreamConnectionStatus_Disconnecting
	IoStreamConnectionStatus_Disconnected
)

// IoStreamConnection is one framed session of an IoStreamChannel.
type IoStreamConnection interface {
	GetAddress() string
	GetStatus() IoStreamConnectionStatus
	GetChannel() IoStreamChannel

	SetFlag(f IoStreamConnectionFlag, v bool)
	GetFlag(f IoStreamConnectionFlag) bool

	GetEventHandleSet() *IoStreamCallbackEventHandleSet

	// 上层会话对象挂在这里
	SetPrivateData(data interface{})
	GetPrivateData() interface{}
}

// IoStreamChannel owns listeners and connections that exchange whole frames.
type IoStreamChannel interface {
	GetContext() context.Context
	GetEventHandleSet() *IoStreamCallbackEventHandleSet

	Listen(addr string) ErrorType
	Connect(addr string) (IoStreamConnection, ErrorType)
	Send(conn IoStreamConnection, data []byte) ErrorType
	Disconnect(conn IoStreamConnection) ErrorType
	Close() ErrorType

	GetStatisticReadNetEgainCount() uint64
	GetStatisticCheckBlockSizeFailedCount() uint64
}
