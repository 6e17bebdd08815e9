package libsimconnect_hostsim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	io_stream "github.com/atframework/libsimconnect-go/channel/io_stream"
	error_code "github.com/atframework/libsimconnect-go/error_code"
	impl "github.com/atframework/libsimconnect-go/impl"
	protocol "github.com/atframework/libsimconnect-go/protocol"
	types "github.com/atframework/libsimconnect-go/types"
)

// wireClient speaks the raw protocol to a host.
type wireClient struct {
	t       *testing.T
	channel *io_stream.IoStreamChannel
	conn    types.IoStreamConnection
	frames  chan []byte
	sendID  uint32
}

func startTestHost(t *testing.T) *Host {
	t.Helper()

	conf := HostConfigure{}
	SetDefaultHostConfigure(&conf)
	h, err := NewHost(&conf, nil)
	require.NoError(t, err)
	require.NoError(t, h.Start())
	t.Cleanup(h.Stop)
	return h
}

func dialHost(t *testing.T, h *Host) *wireClient {
	t.Helper()

	c := &wireClient{t: t, frames: make(chan []byte, 64)}
	c.channel = io_stream.NewIoStreamChannel(context.Background(), nil)
	c.channel.GetEventHandleSet().SetCallback(io_stream.IoStreamCallbackEventTypeReceived,
		func(_ types.IoStreamChannel, _ types.IoStreamConnection, _ int32, privData interface{}) {
			if frame, ok := privData.([]byte); ok {
				c.frames <- frame
			}
		})

	conn, code := c.channel.Connect(h.Address())
	require.Equal(t, error_code.EN_SIMCONNECT_ERR_SUCCESS, code)
	c.conn = conn
	t.Cleanup(func() { c.channel.Close() })
	return c
}

func (c *wireClient) sendVersion(version uint32, req protocol.Request) uint32 {
	c.t.Helper()
	c.sendID++
	frame, err := protocol.PackRequest(version, c.sendID, req, 0)
	require.NoError(c.t, err)
	require.Equal(c.t, error_code.EN_SIMCONNECT_ERR_SUCCESS, c.channel.Send(c.conn, frame))
	return c.sendID
}

func (c *wireClient) send(req protocol.Request) uint32 {
	c.t.Helper()
	return c.sendVersion(protocol.ProtocolVersion, req)
}

func (c *wireClient) recv() protocol.Recv {
	c.t.Helper()
	select {
	case frame := <-c.frames:
		_, msg, err := protocol.UnpackRecv(frame)
		require.NoError(c.t, err)
		return msg
	case <-time.After(5 * time.Second):
		c.t.Fatal("no response from host")
		return nil
	}
}

func (c *wireClient) expectNone() {
	c.t.Helper()
	select {
	case frame := <-c.frames:
		_, msg, _ := protocol.UnpackRecv(frame)
		c.t.Fatalf("unexpected response %T", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func (c *wireClient) open() {
	c.t.Helper()
	c.send(&protocol.OpenRequest{AppName: "wire"})
	_, ok := c.recv().(*protocol.RecvOpen)
	require.True(c.t, ok)
}

func (c *wireClient) expectAck(sendID uint32) {
	c.t.Helper()
	ack, ok := c.recv().(*protocol.RecvAck)
	require.True(c.t, ok)
	require.Equal(c.t, sendID, ack.SendID)
}

func (c *wireClient) expectException(sendID uint32, exception error_code.HostException) {
	c.t.Helper()
	ex, ok := c.recv().(*protocol.RecvException)
	require.True(c.t, ok)
	assert.Equal(c.t, sendID, ex.SendID)
	assert.Equal(c.t, exception, ex.Exception)
}

func (c *wireClient) defineAltitude(defineID types.DefinitionID) {
	c.t.Helper()
	id := c.send(&protocol.AddToDataDefinitionRequest{
		DefineID:  defineID,
		DatumName: "PLANE ALTITUDE",
		UnitsName: "feet",
		DataType:  types.DataTypeFloat64,
		DatumID:   types.UnusedID,
	})
	c.expectAck(id)
}

// TestHostRequiresOpen verifies requests before the handshake are rejected
func TestHostRequiresOpen(t *testing.T) {
	// Arrange
	h := startTestHost(t)
	c := dialHost(t, h)

	// Act
	id := c.send(&protocol.MapClientEventToSimEventRequest{EventID: 1, EventName: "AP_MASTER"})

	// Assert
	c.expectException(id, error_code.HostExceptionUnopened)
	assert.Equal(t, uint64(1), h.Stats().Exceptions)
}

// TestHostRejectsOldVersion verifies the handshake fails below the minimal protocol version
func TestHostRejectsOldVersion(t *testing.T) {
	// Arrange
	h := startTestHost(t)
	c := dialHost(t, h)

	// Act
	id := c.sendVersion(protocol.ProtocolMinimalVersion-1, &protocol.OpenRequest{AppName: "old"})

	// Assert
	c.expectException(id, error_code.HostExceptionVersionMismatch)
}

// TestHostValidatesRequests verifies unknown ids and names are answered with exceptions
func TestHostValidatesRequests(t *testing.T) {
	// Arrange
	h := startTestHost(t)
	c := dialHost(t, h)
	c.open()

	// Act
	badType := c.send(&protocol.AddToDataDefinitionRequest{DefineID: 1, DatumName: "ATC ID", DataType: types.DataTypeStringV})
	c.expectException(badType, error_code.HostExceptionInvalidDataType)
	unknownDef := c.send(&protocol.RequestDataOnSimObjectRequest{RequestID: 1, DefineID: 9, Period: types.WirePeriodOnce})
	c.expectException(unknownDef, error_code.HostExceptionUnrecognizedID)
	badEvent := c.send(&protocol.SubscribeToSystemEventRequest{EventID: 1, EventName: "NotAnEvent"})
	c.expectException(badEvent, error_code.HostExceptionNameUnrecognized)
	subscribe := c.send(&protocol.SubscribeToSystemEventRequest{EventID: 2, EventName: "Pause"})
	c.expectAck(subscribe)
	again := c.send(&protocol.SubscribeToSystemEventRequest{EventID: 2, EventName: "Pause"})
	c.expectException(again, error_code.HostExceptionAlreadySubscribed)
	mapped := c.send(&protocol.MapClientEventToSimEventRequest{EventID: 3, EventName: "GEAR_TOGGLE"})
	c.expectAck(mapped)
	badInput := c.send(&protocol.MapInputEventToClientEventRequest{GroupID: 1, InputDefinition: "ctrl+", DownEventID: 3})
	c.expectException(badInput, error_code.HostExceptionNameUnrecognized)

	// Assert
	assert.Equal(t, uint64(5), h.Stats().Exceptions)
	assert.Equal(t, uint64(8), h.Stats().RequestsHandled)
}

// TestHostIntervalAndLimit verifies skipped periods and the update limit of a data request
func TestHostIntervalAndLimit(t *testing.T) {
	// Arrange
	h := startTestHost(t)
	h.SetVariable("PLANE ALTITUDE", 500.0)
	c := dialHost(t, h)
	c.open()
	c.defineAltitude(1)
	id := c.send(&protocol.RequestDataOnSimObjectRequest{
		RequestID: 4,
		DefineID:  1,
		Period:    types.WirePeriodSimFrame,
		Interval:  1,
		Limit:     2,
	})
	c.expectAck(id)

	// Act
	var frames []uint64
	for i := 0; i < 6; i++ {
		h.Tick()
		select {
		case frame := <-c.frames:
			_, msg, err := protocol.UnpackRecv(frame)
			require.NoError(t, err)
			data, ok := msg.(*protocol.RecvSimObjectData)
			require.True(t, ok)
			assert.Equal(t, types.RequestID(4), data.RequestID)
			frames = append(frames, h.Stats().Frames)
		case <-time.After(100 * time.Millisecond):
		}
	}

	// Assert
	assert.Equal(t, []uint64{2, 4}, frames)
	require.Len(t, h.Sessions(), 1)
	assert.Equal(t, 0, h.Sessions()[0].DataRequests)
}

// TestHostDropAcks verifies acknowledgements can be suppressed while requests still apply
func TestHostDropAcks(t *testing.T) {
	// Arrange
	h := startTestHost(t)
	c := dialHost(t, h)
	c.open()
	h.SetDropAcks(true)

	// Act
	c.send(&protocol.MapClientEventToSimEventRequest{EventID: 1, EventName: "AP_MASTER"})
	c.expectNone()
	h.SetDropAcks(false)
	id := c.send(&protocol.AddClientEventToNotificationGroupRequest{GroupID: 0, EventID: 1})

	// Assert
	c.expectAck(id)
	assert.Equal(t, 1, h.FireEvent("ap_master", 7))
	ev, ok := c.recv().(*protocol.RecvEvent)
	require.True(t, ok)
	assert.Equal(t, uint32(7), ev.Data)
}

// TestHostFrameEvents verifies clock system events follow the frame counter
func TestHostFrameEvents(t *testing.T) {
	// Arrange
	h := startTestHost(t)
	c := dialHost(t, h)
	c.open()
	c.expectAck(c.send(&protocol.SubscribeToSystemEventRequest{EventID: 1, EventName: "Frame"}))
	c.expectAck(c.send(&protocol.SubscribeToSystemEventRequest{EventID: 2, EventName: "4sec"}))

	// Act
	for i := 0; i < 4*int(h.GetConfigure().FramesPerSecond); i++ {
		h.Tick()
	}

	// Assert
	frames, fourSec := 0, 0
	for i := 0; i < 4*int(h.GetConfigure().FramesPerSecond)+1; i++ {
		switch msg := c.recv().(type) {
		case *protocol.RecvEventFrame:
			frames++
			assert.Equal(t, float32(h.GetConfigure().FramesPerSecond), msg.FrameRate)
		case *protocol.RecvEvent:
			fourSec++
			assert.Equal(t, types.ClientEventID(2), msg.EventID)
		}
	}
	assert.Equal(t, 24, frames)
	assert.Equal(t, 1, fourSec)
}

// TestHostVersionMismatchSurfacesToClient verifies a client below the minimal version fails to connect
func TestHostVersionMismatchSurfacesToClient(t *testing.T) {
	// Arrange
	h := startTestHost(t)
	conf := types.ClientConfigure{}
	types.SetDefaultClientConfigure(&conf)
	conf.Address = h.Address()
	conf.ProtocolVersion = protocol.ProtocolMinimalVersion - 1
	c := impl.NewClient(&conf, nil)
	defer c.Close()

	// Act
	err := c.Connect(context.Background())

	// Assert
	assert.ErrorIs(t, err, error_code.EN_SIMCONNECT_ERR_UNSUPPORTED_VERSION)
	assert.Equal(t, types.ConnectionStatusDisconnected, c.GetStatus())
}

// TestHostTickWithoutSessions verifies the clock advances with nobody connected
func TestHostTickWithoutSessions(t *testing.T) {
	// Arrange
	h := startTestHost(t)

	// Act
	h.AdvanceSecond()

	// Assert
	assert.Equal(t, uint64(h.GetConfigure().FramesPerSecond), h.Stats().Frames)
	assert.Equal(t, 0, h.Stats().Sessions)
}
