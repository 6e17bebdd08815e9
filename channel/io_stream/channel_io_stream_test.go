package libsimconnect_channel_iostream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	error_code "github.com/atframework/libsimconnect-go/error_code"
	types "github.com/atframework/libsimconnect-go/types"
)

type loopbackRecorder struct {
	mu           sync.Mutex
	frames       [][]byte
	received     chan struct{}
	disconnected chan int32
}

func newLoopbackRecorder() *loopbackRecorder {
	return &loopbackRecorder{
		received:     make(chan struct{}, 64),
		disconnected: make(chan int32, 4),
	}
}

func (r *loopbackRecorder) bind(channel *IoStreamChannel) {
	handles := channel.GetEventHandleSet()
	handles.SetCallback(IoStreamCallbackEventTypeReceived, func(_ types.IoStreamChannel, _ types.IoStreamConnection, _ int32, privData interface{}) {
		frame, _ := privData.([]byte)
		r.mu.Lock()
		r.frames = append(r.frames, frame)
		r.mu.Unlock()
		r.received <- struct{}{}
	})
	handles.SetCallback(IoStreamCallbackEventTypeDisconnected, func(_ types.IoStreamChannel, _ types.IoStreamConnection, status int32, _ interface{}) {
		r.disconnected <- status
	})
}

func (r *loopbackRecorder) waitFrames(t *testing.T, n int) [][]byte {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.received:
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for frame %d", i)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.frames...)
}

func waitDisconnect(t *testing.T, ch <-chan int32) int32 {
	t.Helper()
	select {
	case status := <-ch:
		return status
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for disconnect")
		return 0
	}
}

func startLoopbackServer(t *testing.T, addr string) (*IoStreamChannel, *loopbackRecorder, string) {
	t.Helper()
	server := NewIoStreamChannel(context.Background(), nil)
	recorder := newLoopbackRecorder()
	recorder.bind(server)

	require.Equal(t, error_code.EN_SIMCONNECT_ERR_SUCCESS, server.Listen(addr))
	bound, ok := server.GetListenAddress(addr)
	require.True(t, ok)
	t.Cleanup(func() { server.Close() })
	return server, recorder, bound
}

// TestIoStreamChannelTCPLoopback verifies frames sent over TCP arrive whole and in order
func TestIoStreamChannelTCPLoopback(t *testing.T) {
	// Arrange
	_, recorder, bound := startLoopbackServer(t, "ipv4://127.0.0.1:0")
	client := NewIoStreamChannel(context.Background(), nil)
	defer client.Close()

	conn, errCode := client.Connect(bound)
	require.Equal(t, error_code.EN_SIMCONNECT_ERR_SUCCESS, errCode)

	first := makeTestFrame(16, 0x01)
	second := makeTestFrame(300, 0x02)

	// Act
	require.Equal(t, error_code.EN_SIMCONNECT_ERR_SUCCESS, client.Send(conn, first))
	require.Equal(t, error_code.EN_SIMCONNECT_ERR_SUCCESS, client.Send(conn, second))
	frames := recorder.waitFrames(t, 2)

	// Assert
	require.Len(t, frames, 2)
	assert.Equal(t, first, frames[0])
	assert.Equal(t, second, frames[1])
}

// TestIoStreamChannelWebSocketLoopback verifies frames sent over websocket arrive whole
func TestIoStreamChannelWebSocketLoopback(t *testing.T) {
	// Arrange
	_, recorder, bound := startLoopbackServer(t, "ws://127.0.0.1:0/simconnect")
	client := NewIoStreamChannel(context.Background(), nil)
	defer client.Close()

	conn, errCode := client.Connect(bound)
	require.Equal(t, error_code.EN_SIMCONNECT_ERR_SUCCESS, errCode)
	frame := makeTestFrame(64, 0x7F)

	// Act
	require.Equal(t, error_code.EN_SIMCONNECT_ERR_SUCCESS, client.Send(conn, frame))
	frames := recorder.waitFrames(t, 1)

	// Assert
	assert.Equal(t, frame, frames[0])
}

// TestIoStreamChannelPeerCloseReportsConnectionLost verifies a remote close is reported as connection lost
func TestIoStreamChannelPeerCloseReportsConnectionLost(t *testing.T) {
	// Arrange
	server, _, bound := startLoopbackServer(t, "ipv4://127.0.0.1:0")
	client := NewIoStreamChannel(context.Background(), nil)
	defer client.Close()
	clientRecorder := newLoopbackRecorder()
	clientRecorder.bind(client)

	_, errCode := client.Connect(bound)
	require.Equal(t, error_code.EN_SIMCONNECT_ERR_SUCCESS, errCode)
	require.Eventually(t, func() bool { return len(server.GetConnections()) == 1 }, 5*time.Second, 10*time.Millisecond)

	// Act
	for _, conn := range server.GetConnections() {
		server.Disconnect(conn)
	}
	status := waitDisconnect(t, clientRecorder.disconnected)

	// Assert
	assert.Equal(t, int32(error_code.EN_SIMCONNECT_ERR_CONNECTION_LOST), status)
}

// TestIoStreamChannelLocalDisconnectReportsSuccess verifies a local disconnect is reported with success
func TestIoStreamChannelLocalDisconnectReportsSuccess(t *testing.T) {
	// Arrange
	_, _, bound := startLoopbackServer(t, "ipv4://127.0.0.1:0")
	client := NewIoStreamChannel(context.Background(), nil)
	defer client.Close()
	recorder := newLoopbackRecorder()
	recorder.bind(client)

	conn, errCode := client.Connect(bound)
	require.Equal(t, error_code.EN_SIMCONNECT_ERR_SUCCESS, errCode)

	// Act
	client.Disconnect(conn)
	status := waitDisconnect(t, recorder.disconnected)

	// Assert
	assert.Equal(t, int32(error_code.EN_SIMCONNECT_ERR_SUCCESS), status)
	assert.Equal(t, error_code.EN_SIMCONNECT_ERR_CLOSING, client.Send(conn, makeTestFrame(16, 0)))
}

// TestIoStreamChannelOversizedFramesDropConnection verifies repeated oversized frames close the connection
func TestIoStreamChannelOversizedFramesDropConnection(t *testing.T) {
	// Arrange
	conf := &IoStreamConfigure{}
	SetDefaultIoStreamConfigure(conf)
	conf.ReceiveBufferLimitSize = 64
	conf.MaxReadCheckBlockSizeFailedCount = 1

	server := NewIoStreamChannel(context.Background(), conf)
	defer server.Close()
	recorder := newLoopbackRecorder()
	recorder.bind(server)
	require.Equal(t, error_code.EN_SIMCONNECT_ERR_SUCCESS, server.Listen("ipv4://127.0.0.1:0"))
	bound, _ := server.GetListenAddress("ipv4://127.0.0.1:0")

	client := NewIoStreamChannel(context.Background(), nil)
	defer client.Close()
	conn, errCode := client.Connect(bound)
	require.Equal(t, error_code.EN_SIMCONNECT_ERR_SUCCESS, errCode)

	// Act
	client.Send(conn, makeTestFrame(128, 0x01))
	client.Send(conn, makeTestFrame(16, 0x02))
	client.Send(conn, makeTestFrame(128, 0x03))
	frames := recorder.waitFrames(t, 1)
	status := waitDisconnect(t, recorder.disconnected)

	// Assert
	assert.Equal(t, makeTestFrame(16, 0x02), frames[0])
	assert.Equal(t, int32(error_code.EN_SIMCONNECT_ERR_INVALID_SIZE), status)
	assert.Equal(t, uint64(2), server.GetStatisticCheckBlockSizeFailedCount())
}

// TestIoStreamChannelInvalidAddress verifies unsupported or malformed addresses are rejected
func TestIoStreamChannelInvalidAddress(t *testing.T) {
	channel := NewIoStreamChannel(context.Background(), nil)
	defer channel.Close()

	assert.Equal(t, error_code.EN_SIMCONNECT_ERR_CHANNEL_ADDR_INVALID, channel.Listen("not an address"))
	assert.Equal(t, error_code.EN_SIMCONNECT_ERR_CHANNEL_NOT_SUPPORT, channel.Listen("udp://127.0.0.1:0"))

	_, errCode := channel.Connect("not an address")
	assert.Equal(t, error_code.EN_SIMCONNECT_ERR_CHANNEL_ADDR_INVALID, errCode)
}

// TestIoStreamChannelClosedRejectsOperations verifies a closed channel refuses new work
func TestIoStreamChannelClosedRejectsOperations(t *testing.T) {
	channel := NewIoStreamChannel(context.Background(), nil)
	channel.Close()

	assert.Equal(t, error_code.EN_SIMCONNECT_ERR_CHANNEL_CLOSING, channel.Listen("ipv4://127.0.0.1:0"))
	_, errCode := channel.Connect("ipv4://127.0.0.1:1")
	assert.Equal(t, error_code.EN_SIMCONNECT_ERR_CHANNEL_CLOSING, errCode)
	assert.Equal(t, error_code.EN_SIMCONNECT_ERR_CHANNEL_CLOSING, channel.Send(nil, nil))
}
