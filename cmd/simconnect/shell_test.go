package main

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	libsimconnect_config "github.com/atframework/libsimconnect-go/config"
	hostsim "github.com/atframework/libsimconnect-go/hostsim"
)

// syncBuffer collects notifications printed from the delivery goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startShell(t *testing.T) (*hostsim.Host, *shell, *syncBuffer) {
	t.Helper()

	conf := hostsim.HostConfigure{}
	hostsim.SetDefaultHostConfigure(&conf)
	h, err := hostsim.NewHost(&conf, nil)
	require.NoError(t, err)
	seedWorld(h)
	require.NoError(t, h.Start())
	t.Cleanup(h.Stop)

	app := &appContext{
		conf:    libsimconnect_config.Default(),
		logger:  slog.Default(),
		address: h.Address(),
	}
	out := &syncBuffer{}
	sh := newShell(app, out)
	sh.timeout = 5 * time.Second
	t.Cleanup(sh.close)
	return h, sh, out
}

// TestShellRequiresConnection verifies commands report a missing session
func TestShellRequiresConnection(t *testing.T) {
	// Arrange
	_, sh, _ := startShell(t)

	// Act
	result := sh.Execute("state Sim")

	// Assert
	assert.Contains(t, result, "EN_SIMCONNECT_ERR_NOT_CONNECTED")
	assert.Equal(t, "disconnected", sh.Execute("status"))
	assert.Contains(t, sh.Execute("nope"), "unknown command")
	assert.Contains(t, sh.Execute("help"), "event transmit")
}

// TestShellDataSubscription verifies define, request and unsubscribe through the shell
func TestShellDataSubscription(t *testing.T) {
	// Arrange
	h, sh, out := startShell(t)
	require.Contains(t, sh.Execute("connect"), "connected to")
	require.Equal(t, "definition 1 has 1 variables", sh.Execute(`define 1 "PLANE ALTITUDE" feet float64`))

	// Act
	requested := sh.Execute("request 1 every-frame")
	require.Eventually(t, func() bool {
		h.Tick()
		return strings.Contains(out.String(), `"PLANE ALTITUDE"`)
	}, 5*time.Second, 20*time.Millisecond)
	listed := sh.Execute("subs")
	stopped := sh.Execute("unsubscribe 1")

	// Assert
	assert.Equal(t, "request 1 on definition 1, every-frame", requested)
	assert.Contains(t, listed, "definition 1, every-frame")
	assert.Contains(t, stopped, "request 1 stopped after")
	assert.Contains(t, out.String(), "1500")
	assert.Contains(t, sh.Execute("unsubscribe 1"), "no subscription")
}

// TestShellQueries verifies one shot commands answer from the host
func TestShellQueries(t *testing.T) {
	// Arrange
	_, sh, out := startShell(t)
	require.Contains(t, sh.Execute("connect"), "connected to")
	require.Contains(t, sh.Execute(`define 2 TITLE "" string256`), "definition 2")

	// Act
	state := sh.Execute("state AircraftLoaded")
	byType := sh.Execute("bytype 2 5000 aircraft")
	unknown := sh.Execute("state NotAState")
	stats := sh.Execute("stats")

	// Assert
	assert.Contains(t, state, "C172")
	assert.Equal(t, "2 objects", byType)
	assert.Contains(t, out.String(), "Boeing 737-800")
	assert.Contains(t, unknown, "host exception")
	assert.Contains(t, stats, "goroutines:")
	assert.Contains(t, stats, "client: connected")
}

// TestShellEvents verifies event subscription, transmit and input mapping
func TestShellEvents(t *testing.T) {
	// Arrange
	h, sh, out := startShell(t)
	require.Contains(t, sh.Execute("connect"), "connected to")

	// Act
	subscribed := sh.Execute("event subscribe AP_MASTER")
	transmitted := sh.Execute("event transmit AP_MASTER 1")
	mapped := sh.Execute("input map AP_MASTER Shift+A 4")
	enabled := sh.Execute("input state 4 on")
	h.FireInput("Shift+A")
	notTransmitted := sh.Execute("event transmit GEAR_TOGGLE")

	// Assert
	assert.Contains(t, subscribed, "event AP_MASTER has id")
	assert.Equal(t, "transmitted AP_MASTER with 1", transmitted)
	assert.Equal(t, "Shift+A mapped to AP_MASTER in input group 4", mapped)
	assert.Equal(t, "input group 4 on", enabled)
	assert.Contains(t, notTransmitted, "EN_SIMCONNECT_ERR_EVENT_NOT_FOUND")
	assert.Eventually(t, func() bool {
		return strings.Count(out.String(), `"AP_MASTER"`) >= 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "unsubscribed AP_MASTER", sh.Execute("event unsubscribe AP_MASTER"))
	assert.Equal(t, "disconnected", sh.Execute("disconnect"))
}
