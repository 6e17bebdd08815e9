package libsimconnect_bridge

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	error_code "github.com/atframework/libsimconnect-go/error_code"
)

type WebSocketHubOptions struct {
	Path             string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// SendQueueSize is the number of updates buffered per session, a full queue drops updates
	SendQueueSize int
	MaxSessions   int
	// Binary sends binary messages instead of text messages
	Binary bool
}

func SetDefaultWebSocketHubOptions(opts *WebSocketHubOptions) {
	opts.Path = "/simconnect"
	opts.HandshakeTimeout = 5 * time.Second
	opts.WriteTimeout = 5 * time.Second
	opts.SendQueueSize = 64
	opts.MaxSessions = 256
	opts.Binary = false
}

type webSocketSession struct {
	sessionID  uint64
	connection *websocket.Conn

	sendQueue chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *webSocketSession) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// WebSocketHub fans updates out to every connected websocket client.
type WebSocketHub struct {
	opts   WebSocketHubOptions
	logger *slog.Logger

	upgrader websocket.Upgrader

	sessions           map[uint64]*webSocketSession
	sessionIdAllocator atomic.Uint64
	sessionLock        sync.Mutex

	webServerInstance *http.Server
	listener          net.Listener

	dropped atomic.Uint64
	closing atomic.Bool
	wg      sync.WaitGroup
}

func NewWebSocketHub(opts *WebSocketHubOptions, logger *slog.Logger) *WebSocketHub {
	if logger == nil {
		logger = slog.Default()
	}
	conf := WebSocketHubOptions{}
	SetDefaultWebSocketHubOptions(&conf)
	if opts != nil {
		if opts.Path != "" {
			conf.Path = opts.Path
		}
		if opts.HandshakeTimeout > 0 {
			conf.HandshakeTimeout = opts.HandshakeTimeout
		}
		if opts.WriteTimeout > 0 {
			conf.WriteTimeout = opts.WriteTimeout
		}
		if opts.SendQueueSize > 0 {
			conf.SendQueueSize = opts.SendQueueSize
		}
		if opts.MaxSessions > 0 {
			conf.MaxSessions = opts.MaxSessions
		}
		conf.Binary = opts.Binary
	}

	ret := &WebSocketHub{
		opts:     conf,
		logger:   logger,
		sessions: make(map[uint64]*webSocketSession),
	}
	ret.upgrader = websocket.Upgrader{
		HandshakeTimeout: conf.HandshakeTimeout,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	ret.sessionIdAllocator.Store(uint64(time.Now().UnixNano()))
	return ret
}

func (h *WebSocketHub) Name() string { return "websocket:" + h.opts.Path }

// Listen serves the hub on address in a background goroutine.
func (h *WebSocketHub) Listen(address string) error {
	if h.closing.Load() {
		return error_code.EN_SIMCONNECT_ERR_CLOSING
	}

	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/", h)
	h.listener = l
	h.webServerInstance = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: h.opts.HandshakeTimeout,
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.webServerInstance.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("websocket hub server error", "address", address, "error", err)
		}
	}()
	return nil
}

// Address returns the listening address, empty before Listen.
func (h *WebSocketHub) Address() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, h.opts.Path) {
		http.NotFound(w, r)
		return
	}
	if h.closing.Load() {
		http.Error(w, "Bridge is closing", http.StatusServiceUnavailable)
		return
	}

	h.sessionLock.Lock()
	full := len(h.sessions) >= h.opts.MaxSessions
	h.sessionLock.Unlock()
	if full {
		http.Error(w, "Max connections reached", http.StatusBadGateway)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	session := &webSocketSession{
		sessionID:  h.sessionIdAllocator.Add(1),
		connection: conn,
		sendQueue:  make(chan []byte, h.opts.SendQueueSize),
		closed:     make(chan struct{}),
	}
	h.addSession(session)

	h.wg.Add(2)
	go h.handleSessionRead(session)
	go h.handleSessionWrite(session)
}

func (h *WebSocketHub) addSession(session *webSocketSession) {
	h.sessionLock.Lock()
	defer h.sessionLock.Unlock()

	h.sessions[session.sessionID] = session
	h.logger.Info("websocket session added", "client", session.connection.RemoteAddr().String(), "session_id", session.sessionID)
}

func (h *WebSocketHub) removeSession(session *webSocketSession) {
	h.sessionLock.Lock()
	defer h.sessionLock.Unlock()

	if _, ok := h.sessions[session.sessionID]; !ok {
		return
	}
	delete(h.sessions, session.sessionID)
	h.logger.Info("websocket session removed", "client", session.connection.RemoteAddr().String(), "session_id", session.sessionID)
}

// handleSessionRead only watches for the peer going away, clients never send updates.
func (h *WebSocketHub) handleSessionRead(session *webSocketSession) {
	defer h.wg.Done()
	defer session.close()

	for {
		if _, _, err := session.connection.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket unexpected close", "error", err, "session_id", session.sessionID)
			}
			return
		}
	}
}

func (h *WebSocketHub) handleSessionWrite(session *webSocketSession) {
	defer h.wg.Done()
	defer h.removeSession(session)
	defer session.connection.Close()

	messageType := websocket.TextMessage
	if h.opts.Binary {
		messageType = websocket.BinaryMessage
	}

	for {
		select {
		case <-session.closed:
			deadline := time.Now().Add(h.opts.WriteTimeout)
			_ = session.connection.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Bridge closing"), deadline)
			return
		case payload := <-session.sendQueue:
			_ = session.connection.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := session.connection.WriteMessage(messageType, payload); err != nil {
				h.logger.Warn("websocket write failed", "error", err, "session_id", session.sessionID)
				session.close()
				return
			}
		}
	}
}

// Publish queues payload on every session. Sessions with a full queue miss the update.
func (h *WebSocketHub) Publish(_ context.Context, payload []byte) error {
	if h.closing.Load() {
		return error_code.EN_SIMCONNECT_ERR_CHANNEL_CLOSING
	}

	h.sessionLock.Lock()
	defer h.sessionLock.Unlock()
	for _, session := range h.sessions {
		select {
		case session.sendQueue <- payload:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// SessionCount returns the number of connected clients.
func (h *WebSocketHub) SessionCount() int {
	h.sessionLock.Lock()
	defer h.sessionLock.Unlock()
	return len(h.sessions)
}

// Dropped returns the number of per session updates lost to full queues.
func (h *WebSocketHub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every session and stops the server started by Listen.
func (h *WebSocketHub) Close() error {
	if !h.closing.CompareAndSwap(false, true) {
		return nil
	}

	h.sessionLock.Lock()
	for _, session := range h.sessions {
		session.close()
	}
	h.sessionLock.Unlock()

	var err error
	if h.webServerInstance != nil {
		ctx, cancel := context.WithTimeout(context.Background(), h.opts.WriteTimeout)
		err = h.webServerInstance.Shutdown(ctx)
		cancel()
	}
	h.wg.Wait()
	return err
}
