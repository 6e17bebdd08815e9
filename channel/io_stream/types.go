package libsimconnect_channel_iostream

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	types "github.com/atframework/libsimconnect-go/types"
)

type (
	ErrorType                      = types.ErrorType
	IoStreamConfigure              = types.IoStreamConfigure
	IoStreamCallbackEventType      = types.IoStreamCallbackEventType
	IoStreamCallbackFunc           = types.IoStreamCallbackFunc
	IoStreamCallbackEventHandleSet = types.IoStreamCallbackEventHandleSet
	IoStreamConnectionFlag         = types.IoStreamConnectionFlag
	IoStreamConnectionStatus       = types.IoStreamConnectionStatus
)

var SetDefaultIoStreamConfigure = types.SetDefaultIoStreamConfigure

const (
	IoStreamCallbackEventTypeAccepted     = types.IoStreamCallbackEventType_Accepted
	IoStreamCallbackEventTypeConnected    = types.IoStreamCallbackEventType_Connected
	IoStreamCallbackEventTypeDisconnected = types.IoStreamCallbackEventType_Disconnected
	IoStreamCallbackEventTypeReceived     = types.IoStreamCallbackEventType_Received
	IoStreamCallbackEventTypeWritten      = types.IoStreamCallbackEventType_Written
	IoStreamCallbackEventTypeMax          = types.IoStreamCallbackEventType_Max

	IoStreamConnectionFlagListen  = types.IoStreamConnectionFlag_Listen
	IoStreamConnectionFlagConnect = types.IoStreamConnectionFlag_Connect
	IoStreamConnectionFlagAccept  = types.IoStreamConnectionFlag_Accept
	IoStreamConnectionFlagWriting = types.IoStreamConnectionFlag_Writing
	IoStreamConnectionFlagClosing = types.IoStreamConnectionFlag_Closing

	IoStreamConnectionStatusCreated       = types.IoStreamConnectionStatus_Created
	IoStreamConnectionStatusConnected     = types.IoStreamConnectionStatus_Connected
	IoStreamConnectionStatusDisconnecting = types.IoStreamConnectionStatus_Disconnecting
	IoStreamConnectionStatusDisconnected  = types.IoStreamConnectionStatus_Disconnected
)

// IoStreamConnection is a stream or websocket session owned by an IoStreamChannel.
type IoStreamConnection struct {
	channel *IoStreamChannel
	conn    net.Conn
	address string // peer, in channel address form

	mu             sync.RWMutex
	status         IoStreamConnectionStatus
	flags          uint32
	eventHandleSet IoStreamCallbackEventHandleSet
	privateData    interface{}

	frameReader *FrameReader
	writeQueue  chan []byte
	done        chan struct{} // closed once shutdown starts
	closed      atomic.Bool

	readEgainCount            uint64
	checkBlockSizeFailedCount uint64

	// first recorded reason wins, reported to the Disconnected callback
	disconnectOnce   sync.Once
	disconnectStatus int32
}

func (c *IoStreamConnection) setDisconnectReason(reason ErrorType) {
	c.disconnectOnce.Do(func() { c.disconnectStatus = int32(reason) })
}

func (c *IoStreamConnection) GetAddress() string { return c.address }

func (c *IoStreamConnection) GetChannel() types.IoStreamChannel { return c.channel }

// GetNetConn exposes the raw connection, a websocket adapter for ws:// sessions.
func (c *IoStreamConnection) GetNetConn() net.Conn { return c.conn }

func (c *IoStreamConnection) GetEventHandleSet() *IoStreamCallbackEventHandleSet {
	return &c.eventHandleSet
}

func (c *IoStreamConnection) GetStatus() IoStreamConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *IoStreamConnection) SetStatus(status IoStreamConnectionStatus) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

func (c *IoStreamConnection) SetFlag(f IoStreamConnectionFlag, v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v {
		c.flags |= uint32(f)
		return
	}
	c.flags &^= uint32(f)
}

func (c *IoStreamConnection) GetFlag(f IoStreamConnectionFlag) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.flags&uint32(f) != 0
}

func (c *IoStreamConnection) SetPrivateData(data interface{}) {
	c.mu.Lock()
	c.privateData = data
	c.mu.Unlock()
}

func (c *IoStreamConnection) GetPrivateData() interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.privateData
}

type listenerEntry struct {
	listener net.Listener
	server   *http.Server // set for ws:// listeners
	bound    string
}

// IoStreamChannel manages listeners and framed connections.
type IoStreamChannel struct {
	conf   IoStreamConfigure
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.RWMutex
	listeners      map[string]*listenerEntry // keyed by the address passed to Listen
	connections    map[net.Conn]*IoStreamConnection
	eventHandleSet IoStreamCallbackEventHandleSet
	closed         atomic.Bool

	statisticReadNetEgainCount         uint64
	statisticCheckBlockSizeFailedCount uint64
}

func (c *IoStreamChannel) GetContext() context.Context { return c.ctx }

func (c *IoStreamChannel) GetConfigure() *IoStreamConfigure { return &c.conf }

func (c *IoStreamChannel) GetEventHandleSet() *IoStreamCallbackEventHandleSet {
	return &c.eventHandleSet
}

// GetStatisticReadNetEgainCount counts read timeouts over all connections.
func (c *IoStreamChannel) GetStatisticReadNetEgainCount() uint64 {
	return atomic.LoadUint64(&c.statisticReadNetEgainCount)
}

// GetStatisticCheckBlockSizeFailedCount counts frames skipped for exceeding ReceiveBufferLimitSize.
func (c *IoStreamChannel) GetStatisticCheckBlockSizeFailedCount() uint64 {
	return atomic.LoadUint64(&c.statisticCheckBlockSizeFailedCount)
}

var _ types.IoStreamConnection = (*IoStreamConnection)(nil)
