package libsimconnect_impl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	error_code "github.com/atframework/libsimconnect-go/error_code"
	message_handle "github.com/atframework/libsimconnect-go/message_handle"
	protocol "github.com/atframework/libsimconnect-go/protocol"
	types "github.com/atframework/libsimconnect-go/types"
)

func dataNote(sub *Subscription, entry uint32) Notification {
	return Notification{Subscription: sub, Data: &SimData{RequestID: sub.requestID, EntryNumber: entry}}
}

func waitClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not finish")
	}
}

// TestDeliveryQueueKeepsOrder verifies notifications of a subscription arrive in arrival order
func TestDeliveryQueueKeepsOrder(t *testing.T) {
	// Arrange
	q := newDeliveryQueue(16)
	defer q.close()
	sub := newSubscription(nil, SubscriptionKindData, &subscriptionOptions{}, 8)

	// Act
	for i := uint32(1); i <= 3; i++ {
		require.True(t, q.offer(deliveryItem{sub: sub, note: dataNote(sub, i)}))
	}
	q.push(deliveryItem{sub: sub, finish: true})

	var got []uint32
	for note := range sub.C() {
		got = append(got, note.Data.EntryNumber)
	}

	// Assert
	assert.Equal(t, []uint32{1, 2, 3}, got)
	assert.Equal(t, uint64(3), sub.Delivered())
	waitClosed(t, sub)
}

// TestDeliveryQueueDiscardsAfterCancel verifies nothing is delivered once unsubscribing started
func TestDeliveryQueueDiscardsAfterCancel(t *testing.T) {
	// Arrange
	q := newDeliveryQueue(16)
	defer q.close()
	sub := newSubscription(nil, SubscriptionKindData, &subscriptionOptions{}, 8)
	sub.cancel()

	// Act
	q.offer(deliveryItem{sub: sub, note: dataNote(sub, 1)})
	q.push(deliveryItem{sub: sub, finish: true})
	waitClosed(t, sub)

	// Assert
	_, open := <-sub.C()
	assert.False(t, open)
	assert.Equal(t, uint64(0), sub.Delivered())
	assert.Equal(t, uint64(1), q.discarded.Load())
}

// TestDeliveryQueueHandlerSubscription verifies handler subscriptions are called in order
func TestDeliveryQueueHandlerSubscription(t *testing.T) {
	// Arrange
	q := newDeliveryQueue(16)
	defer q.close()
	var got []uint32
	sub := newSubscription(nil, SubscriptionKindData, &subscriptionOptions{handler: func(n Notification) {
		got = append(got, n.Data.EntryNumber)
	}}, 8)

	// Act
	q.offer(deliveryItem{sub: sub, note: dataNote(sub, 1)})
	q.offer(deliveryItem{sub: sub, note: dataNote(sub, 2), last: true})
	waitClosed(t, sub)

	// Assert
	assert.Nil(t, sub.C())
	assert.Equal(t, []uint32{1, 2}, got)
}

// TestDeliveryQueueFullDropsAndCounts verifies offer never blocks on a full queue
func TestDeliveryQueueFullDropsAndCounts(t *testing.T) {
	// Arrange
	q := &deliveryQueue{
		items:   make(chan deliveryItem, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	sub := newSubscription(nil, SubscriptionKindData, &subscriptionOptions{}, 1)

	// Act
	first := q.offer(deliveryItem{sub: sub, note: dataNote(sub, 1)})
	second := q.offer(deliveryItem{sub: sub, note: dataNote(sub, 2)})

	// Assert
	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, uint64(1), q.dropped.Load())
	assert.Equal(t, uint64(1), sub.dropped.Load())
}

// TestDeliveryQueueCloseFinishesPending verifies stopping the queue still closes queued subscriptions
func TestDeliveryQueueCloseFinishesPending(t *testing.T) {
	// Arrange
	q := newDeliveryQueue(16)
	sub := newSubscription(nil, SubscriptionKindData, &subscriptionOptions{}, 8)

	// Act
	q.close()
	q.push(deliveryItem{sub: sub, finish: true})

	// Assert
	waitClosed(t, sub)
	assert.True(t, sub.Cancelled())
}

// TestDeliveryQueuePushFromHandlerWhileFull verifies a handler can finish its subscription while notifications fill the queue
func TestDeliveryQueuePushFromHandlerWhileFull(t *testing.T) {
	// Arrange
	q := newDeliveryQueue(1)
	release := make(chan struct{})
	pushed := make(chan struct{})
	var sub *Subscription
	sub = newSubscription(nil, SubscriptionKindData, &subscriptionOptions{handler: func(Notification) {
		<-release
		sub.cancel()
		q.push(deliveryItem{sub: sub, finish: true})
		close(pushed)
	}}, 1)

	// Act
	require.True(t, q.offer(deliveryItem{sub: sub, note: dataNote(sub, 1)}))
	require.Eventually(t, func() bool { return q.offer(deliveryItem{sub: sub, note: dataNote(sub, 2)}) }, time.Second, time.Millisecond)
	close(release)

	// Assert
	select {
	case <-pushed:
	case <-time.After(5 * time.Second):
		t.Fatal("push from the handler blocked")
	}
	waitClosed(t, sub)
	assert.Equal(t, uint64(1), sub.Delivered())

	closed := make(chan struct{})
	go func() {
		q.close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("close blocked")
	}
}

func newTestSession(c *Client) *session {
	s := &session{
		dispatcher: message_handle.CreateDispatcher(c.logger, 0),
		version:    protocol.ProtocolVersion,
	}
	c.registerHandlers(s)
	return s
}

// TestHandleDataDiscardsLateUpdate verifies an update for a cancelled request is dropped silently
func TestHandleDataDiscardsLateUpdate(t *testing.T) {
	// Arrange
	c := NewClient(nil, nil)
	defer c.Close()
	s := newTestSession(c)
	defineAltitudeSpeed(t, c.registry, 1)
	def, err := c.registry.Acquire(1)
	require.NoError(t, err)

	sub := newSubscription(c, SubscriptionKindData, &subscriptionOptions{}, 8)
	sub.requestID = c.allocRequestID()
	sub.definitionID = 1
	sub.definition = def
	sub.period = types.PeriodEveryFrame
	c.dataSubs[sub.requestID] = sub
	sub.cancel()

	data, err := def.Encode([]interface{}{1000.0, 90})
	require.NoError(t, err)

	// Act
	err = c.handleData(s, &protocol.RecvSimObjectData{RequestID: sub.requestID, DefineID: 1, Data: data, EntryNumber: 1, OutOf: 1, DefineCount: 2})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Stats().LateDiscarded)
	assert.Equal(t, uint64(0), s.dispatcher.Stats().ProtocolWarnings)
	assert.Equal(t, uint64(0), sub.Delivered())
}

// TestHandleDataUnknownRequestWarns verifies data for an id never handed out is a protocol warning
func TestHandleDataUnknownRequestWarns(t *testing.T) {
	// Arrange
	c := NewClient(nil, nil)
	defer c.Close()
	s := newTestSession(c)

	// Act
	err := c.handleData(s, &protocol.RecvSimObjectData{RequestID: 500})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.dispatcher.Stats().ProtocolWarnings)
	assert.Equal(t, uint64(0), c.Stats().LateDiscarded)
}

// TestHandleEventUnknownIDWarns verifies events for ids never handed out are protocol warnings
func TestHandleEventUnknownIDWarns(t *testing.T) {
	// Arrange
	c := NewClient(nil, nil)
	defer c.Close()
	s := newTestSession(c)

	// Act
	err := c.handleEvent(s, &protocol.RecvEvent{EventID: 77})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.dispatcher.Stats().ProtocolWarnings)
}

// TestOperationsRequireConnection verifies host operations fail fast while disconnected
func TestOperationsRequireConnection(t *testing.T) {
	// Arrange
	c := NewClient(nil, nil)
	defer c.Close()
	require.NoError(t, c.DefineVariable(1, "PLANE ALTITUDE", "feet", types.DataTypeFloat64))

	// Act
	_, errData := c.RequestData(context.Background(), 1, types.PeriodOnce)
	_, errEvent := c.SubscribeEvent(context.Background(), "Pause")

	// Assert
	assert.ErrorIs(t, errData, error_code.EN_SIMCONNECT_ERR_NOT_CONNECTED)
	assert.ErrorIs(t, errEvent, error_code.EN_SIMCONNECT_ERR_NOT_CONNECTED)
	assert.Equal(t, types.ConnectionStatusDisconnected, c.GetStatus())
	assert.Equal(t, 0, c.registry.LiveRequests(1))
}
