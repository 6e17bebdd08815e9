package libsimconnect_message_handle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	error_code "github.com/atframework/libsimconnect-go/error_code"
	protocol "github.com/atframework/libsimconnect-go/protocol"
	types "github.com/atframework/libsimconnect-go/types"
)

func packRecv(t *testing.T, msg protocol.Recv) []byte {
	t.Helper()
	frame, err := protocol.PackRecv(protocol.ProtocolVersion, msg, 0)
	require.NoError(t, err)
	return frame
}

func waitResume(t *testing.T, exchange *PendingExchange) ResumeData {
	t.Helper()
	select {
	case data := <-exchange.Done():
		return data
	case <-time.After(5 * time.Second):
		t.Fatal("exchange did not resolve")
		return ResumeData{}
	}
}

// TestDispatcherAckResolvesExchange verifies an ack completes the exchange waiting for its send id
func TestDispatcherAckResolvesExchange(t *testing.T) {
	// Arrange
	d := CreateDispatcher(nil, 0)
	exchange, err := d.Await(AwaitOptions{Key: AwaitKey{Type: AwaitTypeAck, ID: 7}, SendID: 7})
	require.NoError(t, err)

	// Act
	err = d.Dispatch(packRecv(t, &protocol.RecvAck{SendID: 7}))
	data := waitResume(t, exchange)

	// Assert
	require.NoError(t, err)
	require.NoError(t, data.Error)
	assert.Equal(t, protocol.RecvIDAck, data.Header.RecvID)
	assert.Equal(t, 0, d.PendingCount())
	assert.Equal(t, uint64(0), d.Stats().ProtocolWarnings)
}

// TestDispatcherUnknownAckCountsWarning verifies an ack nobody waits for is counted, not fatal
func TestDispatcherUnknownAckCountsWarning(t *testing.T) {
	// Arrange
	d := CreateDispatcher(nil, 0)

	// Act
	err := d.Dispatch(packRecv(t, &protocol.RecvAck{SendID: 99}))

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), d.Stats().ProtocolWarnings)
	assert.Equal(t, uint64(1), d.Stats().Received)
}

// TestDispatcherExceptionFailsExchange verifies a host exception fails the exchange with its kind
func TestDispatcherExceptionFailsExchange(t *testing.T) {
	// Arrange
	d := CreateDispatcher(nil, 0)
	exchange, err := d.Await(AwaitOptions{Key: AwaitKey{Type: AwaitTypeAck, ID: 3}, SendID: 3})
	require.NoError(t, err)

	// Act
	d.Dispatch(packRecv(t, &protocol.RecvException{
		Exception: error_code.HostExceptionNameUnrecognized,
		SendID:    3,
		Index:     1,
	}))
	data := waitResume(t, exchange)

	// Assert
	require.Error(t, data.Error)
	assert.True(t, errors.Is(data.Error, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT))
	var hostErr *error_code.HostExceptionError
	require.True(t, errors.As(data.Error, &hostErr))
	assert.Equal(t, uint32(3), hostErr.SendID)
}

// TestDispatcherUnmatchedExceptionUsesSendRecord verifies unmatched exceptions reach the handler and are counted
func TestDispatcherUnmatchedExceptionUsesSendRecord(t *testing.T) {
	// Arrange
	d := CreateDispatcher(nil, 2)
	d.RecordSend(10, "first")
	d.RecordSend(11, "second")
	d.RecordSend(12, "third")
	var handled atomic.Int32
	d.RegisterHandler(protocol.RecvIDException, func(_ protocol.RecvHeader, msg protocol.Recv) error {
		handled.Add(1)
		return nil
	})

	// Act
	d.Dispatch(packRecv(t, &protocol.RecvException{Exception: error_code.HostExceptionGeneric, SendID: 11}))
	_, evictedFound := d.FindSendRecord(10)
	description, found := d.FindSendRecord(12)

	// Assert
	assert.Equal(t, int32(1), handled.Load())
	assert.Equal(t, uint64(1), d.Stats().ProtocolWarnings)
	assert.False(t, evictedFound, "oldest record should be evicted")
	assert.True(t, found)
	assert.Equal(t, "third", description)
}

// TestDispatcherTimeout verifies an unanswered exchange fails with a timeout
func TestDispatcherTimeout(t *testing.T) {
	// Arrange
	d := CreateDispatcher(nil, 0)
	exchange, err := d.Await(AwaitOptions{Key: AwaitKey{Type: AwaitTypeAck, ID: 1}, SendID: 1, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	// Act
	_, waitErr := exchange.Wait(context.Background())

	// Assert
	assert.True(t, errors.Is(waitErr, error_code.EN_SIMCONNECT_ERR_TIMEOUT))
	assert.Equal(t, 0, d.PendingCount())

	// A late ack is now unknown
	d.Dispatch(packRecv(t, &protocol.RecvAck{SendID: 1}))
	assert.Equal(t, uint64(1), d.Stats().ProtocolWarnings)
}

// TestDispatcherFailAll verifies every pending exchange fails and no new ones are accepted
func TestDispatcherFailAll(t *testing.T) {
	// Arrange
	d := CreateDispatcher(nil, 0)
	const n = 5
	exchanges := make([]*PendingExchange, 0, n)
	for i := uint32(1); i <= n; i++ {
		exchange, err := d.Await(AwaitOptions{Key: AwaitKey{Type: AwaitTypeAck, ID: i}, SendID: i})
		require.NoError(t, err)
		exchanges = append(exchanges, exchange)
	}

	// Act
	failed := d.FailAll(error_code.EN_SIMCONNECT_ERR_CONNECTION_LOST)
	_, awaitErr := d.Await(AwaitOptions{Key: AwaitKey{Type: AwaitTypeAck, ID: 100}})

	// Assert
	assert.Equal(t, n, failed)
	for _, exchange := range exchanges {
		data := waitResume(t, exchange)
		assert.True(t, errors.Is(data.Error, error_code.EN_SIMCONNECT_ERR_CONNECTION_LOST))
	}
	assert.True(t, errors.Is(awaitErr, error_code.EN_SIMCONNECT_ERR_CONNECTION_LOST))
}

// TestDispatcherDuplicateAwait verifies a key can not be awaited twice while pending
func TestDispatcherDuplicateAwait(t *testing.T) {
	d := CreateDispatcher(nil, 0)
	_, err := d.Await(AwaitOptions{Key: AwaitKey{Type: AwaitTypeSystemState, ID: 4}})
	require.NoError(t, err)

	_, err = d.Await(AwaitOptions{Key: AwaitKey{Type: AwaitTypeSystemState, ID: 4}})
	assert.True(t, errors.Is(err, error_code.EN_SIMCONNECT_ERR_PARAMS))
}

// TestDispatcherCancelledWait verifies a cancelled context removes the exchange
func TestDispatcherCancelledWait(t *testing.T) {
	// Arrange
	d := CreateDispatcher(nil, 0)
	exchange, err := d.Await(AwaitOptions{Key: AwaitKey{Type: AwaitTypeOpen}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Act
	_, waitErr := exchange.Wait(ctx)

	// Assert
	assert.True(t, errors.Is(waitErr, context.Canceled))
	assert.Equal(t, 0, d.PendingCount())
}

// TestDispatcherCollectsDataByType verifies every entry of a by type response is collected
func TestDispatcherCollectsDataByType(t *testing.T) {
	// Arrange
	d := CreateDispatcher(nil, 0)
	exchange, err := d.Await(AwaitOptions{Key: AwaitKey{Type: AwaitTypeDataByType, ID: 20}})
	require.NoError(t, err)

	// Act
	for i := uint32(1); i <= 3; i++ {
		d.Dispatch(packRecv(t, &protocol.RecvSimObjectData{
			ByType:      true,
			RequestID:   20,
			ObjectID:    types.ObjectID(i),
			EntryNumber: i,
			OutOf:       3,
		}))
	}
	data := waitResume(t, exchange)

	// Assert
	require.NoError(t, data.Error)
	require.Len(t, data.Messages, 3)
	for i, msg := range data.Messages {
		entry := msg.(*protocol.RecvSimObjectData)
		assert.Equal(t, types.ObjectID(i+1), entry.ObjectID)
	}
}

// TestDispatcherEmptyDataByType verifies an empty by type response completes with no entries
func TestDispatcherEmptyDataByType(t *testing.T) {
	d := CreateDispatcher(nil, 0)
	exchange, err := d.Await(AwaitOptions{Key: AwaitKey{Type: AwaitTypeDataByType, ID: 21}})
	require.NoError(t, err)

	d.Dispatch(packRecv(t, &protocol.RecvSimObjectData{ByType: true, RequestID: 21}))
	data := waitResume(t, exchange)

	require.NoError(t, data.Error)
	assert.Empty(t, data.Messages)
}

// TestDispatcherRoutesUnsolicited verifies events go to the registered handler and unhandled ones warn
func TestDispatcherRoutesUnsolicited(t *testing.T) {
	// Arrange
	d := CreateDispatcher(nil, 0)
	var got *protocol.RecvEvent
	d.RegisterHandler(protocol.RecvIDEvent, func(_ protocol.RecvHeader, msg protocol.Recv) error {
		got = msg.(*protocol.RecvEvent)
		return nil
	})

	// Act
	d.Dispatch(packRecv(t, &protocol.RecvEvent{GroupID: 1, EventID: 42, Data: 5}))
	d.Dispatch(packRecv(t, &protocol.RecvQuit{}))
	d.Dispatch(packRecv(t, &protocol.RecvNull{}))

	// Assert
	require.NotNil(t, got)
	assert.Equal(t, types.ClientEventID(42), got.EventID)
	assert.Equal(t, uint64(1), d.Stats().ProtocolWarnings, "only the unhandled quit should warn")
}

// TestDispatcherUndecodableFrame verifies malformed frames are dropped with a warning
func TestDispatcherUndecodableFrame(t *testing.T) {
	d := CreateDispatcher(nil, 0)
	frame := packRecv(t, &protocol.RecvAck{SendID: 1})

	err := d.Dispatch(frame[:protocol.RecvHeaderSize])

	assert.Error(t, err)
	assert.Equal(t, uint64(1), d.Stats().ProtocolWarnings)
}
