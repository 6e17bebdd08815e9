package libsimconnect_bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	error_code "github.com/atframework/libsimconnect-go/error_code"
)

func dialHub(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// TestWebSocketHubFansOut verifies every connected client receives a published update
func TestWebSocketHubFansOut(t *testing.T) {
	// Arrange
	hub := NewWebSocketHub(nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/simconnect"
	first := dialHub(t, url)
	second := dialHub(t, url)
	require.Eventually(t, func() bool { return hub.SessionCount() == 2 }, 5*time.Second, 10*time.Millisecond)

	// Act
	require.NoError(t, hub.Publish(context.Background(), []byte(`{"kind":"event"}`)))

	// Assert
	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		messageType, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, messageType)
		assert.JSONEq(t, `{"kind":"event"}`, string(payload))
	}
}

// TestWebSocketHubRejectsOtherPaths verifies only the configured path is upgraded
func TestWebSocketHubRejectsOtherPaths(t *testing.T) {
	// Arrange
	hub := NewWebSocketHub(&WebSocketHubOptions{Path: "/updates"}, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	// Act
	rsp, err := http.Get(srv.URL + "/other")

	// Assert
	require.NoError(t, err)
	rsp.Body.Close()
	assert.Equal(t, http.StatusNotFound, rsp.StatusCode)
	assert.Equal(t, "websocket:/updates", hub.Name())
}

// TestWebSocketHubClose verifies closing disconnects clients and refuses later publishes
func TestWebSocketHubClose(t *testing.T) {
	// Arrange
	hub := NewWebSocketHub(nil, nil)
	require.NoError(t, hub.Listen("127.0.0.1:0"))
	conn := dialHub(t, "ws://"+hub.Address()+"/simconnect")
	require.Eventually(t, func() bool { return hub.SessionCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	// Act
	require.NoError(t, hub.Close())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, readErr := conn.ReadMessage()

	// Assert
	assert.True(t, websocket.IsCloseError(readErr, websocket.CloseGoingAway))
	assert.Equal(t, 0, hub.SessionCount())
	assert.ErrorIs(t, hub.Publish(context.Background(), []byte("late")), error_code.EN_SIMCONNECT_ERR_CHANNEL_CLOSING)
}
