package libsimconnect_channel_iostream

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"

	channel_utility "github.com/atframework/libsimconnect-go/channel/utility"
	error_code "github.com/atframework/libsimconnect-go/error_code"
	types "github.com/atframework/libsimconnect-go/types"
)

const (
	DefaultWriteQueueSize = 1024
	DefaultReadBufferSize = 64 * 1024
)

// streamNetworks maps a channel scheme to the network name used by net.Dial and net.Listen.
// websocket schemes ride on plain tcp below the handshake.
var streamNetworks = map[string]string{
	"ipv4": "tcp4",
	"ipv6": "tcp6",
	"dns":  "tcp",
	"ws":   "tcp",
	"wss":  "tcp",
	"unix": "unix",
	"pipe": "unix",
}

func isLocalSocketScheme(scheme string) bool {
	return scheme == "unix" || scheme == "pipe"
}

// NewIoStreamChannel creates a channel, a nil conf uses SetDefaultIoStreamConfigure.
func NewIoStreamChannel(ctx context.Context, conf *IoStreamConfigure) *IoStreamChannel {
	if ctx == nil {
		ctx = context.Background()
	}

	ret := &IoStreamChannel{
		listeners:   make(map[string]*listenerEntry),
		connections: make(map[net.Conn]*IoStreamConnection),
	}
	ret.ctx, ret.cancel = context.WithCancel(ctx)

	if conf == nil {
		SetDefaultIoStreamConfigure(&ret.conf)
	} else {
		ret.conf = *conf
	}
	return ret
}

// Listen binds addr and serves incoming sessions.
//
//	ipv4://host:port, ipv6://host:port, dns://host:port
//	unix://path, pipe://path
//	ws://host:port/path (one websocket binary message per frame)
func (c *IoStreamChannel) Listen(addr string) error_code.ErrorType {
	if c.closed.Load() {
		return error_code.EN_SIMCONNECT_ERR_CHANNEL_CLOSING
	}

	target, ok := channel_utility.MakeAddress(addr)
	if !ok {
		return error_code.EN_SIMCONNECT_ERR_CHANNEL_ADDR_INVALID
	}
	network, hostport, ok := streamEndpoint(target)
	if !ok {
		return error_code.EN_SIMCONNECT_ERR_CHANNEL_NOT_SUPPORT
	}

	l, err := net.Listen(network, hostport)
	if err != nil {
		return error_code.EN_SIMCONNECT_ERR_SOCK_BIND_FAILED
	}

	entry := &listenerEntry{listener: l, bound: boundAddress(target, l.Addr())}
	if channel_utility.IsWebSocketScheme(target.Scheme) {
		entry.server = c.newWebSocketServer(target)
	}

	c.mu.Lock()
	c.listeners[addr] = entry
	c.mu.Unlock()

	if entry.server == nil {
		go c.acceptLoop(l, target)
	} else {
		go entry.server.Serve(l)
	}
	return error_code.EN_SIMCONNECT_ERR_SUCCESS
}

// GetListenAddress returns where a previous Listen(addr) is bound, port 0 resolved.
func (c *IoStreamChannel) GetListenAddress(addr string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if entry, ok := c.listeners[addr]; ok {
		return entry.bound, true
	}
	return "", false
}

// Connect dials addr and returns the established connection.
func (c *IoStreamChannel) Connect(addr string) (types.IoStreamConnection, error_code.ErrorType) {
	if c.closed.Load() {
		return nil, error_code.EN_SIMCONNECT_ERR_CHANNEL_CLOSING
	}

	target, ok := channel_utility.MakeAddress(addr)
	if !ok {
		return nil, error_code.EN_SIMCONNECT_ERR_CHANNEL_ADDR_INVALID
	}

	dial := c.dialStream
	if channel_utility.IsWebSocketScheme(target.Scheme) {
		dial = c.dialWebSocket
	}
	netConn, res := dial(target)
	if res != error_code.EN_SIMCONNECT_ERR_SUCCESS {
		return nil, res
	}

	conn := c.track(netConn, target.Address, IoStreamConnectionFlagConnect)
	c.emit(IoStreamCallbackEventTypeConnected, conn, 0, nil)
	c.serve(conn)
	return conn, error_code.EN_SIMCONNECT_ERR_SUCCESS
}

func dialFailure(err error) error_code.ErrorType {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return error_code.EN_SIMCONNECT_ERR_CHANNEL_CLOSING
	}
	return error_code.EN_SIMCONNECT_ERR_SOCK_CONNECT_FAILED
}

func (c *IoStreamChannel) dialStream(target *channel_utility.ChannelAddress) (net.Conn, error_code.ErrorType) {
	network, hostport, ok := streamEndpoint(target)
	if !ok {
		return nil, error_code.EN_SIMCONNECT_ERR_CHANNEL_NOT_SUPPORT
	}

	d := net.Dialer{Timeout: c.conf.ConfirmTimeout, KeepAlive: c.conf.Keepalive}
	netConn, err := d.DialContext(c.ctx, network, hostport)
	if err != nil {
		return nil, dialFailure(err)
	}
	c.tuneSocket(netConn)
	return netConn, error_code.EN_SIMCONNECT_ERR_SUCCESS
}

func (c *IoStreamChannel) dialWebSocket(target *channel_utility.ChannelAddress) (net.Conn, error_code.ErrorType) {
	u := url.URL{
		Scheme: target.Scheme,
		Host:   net.JoinHostPort(target.Host, strconv.Itoa(target.Port)),
		Path:   target.Path,
	}
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.conf.ConfirmTimeout,
	}
	ws, _, err := d.DialContext(c.ctx, u.String(), nil)
	if err != nil {
		return nil, dialFailure(err)
	}
	return newWebSocketConn(ws), error_code.EN_SIMCONNECT_ERR_SUCCESS
}

func (c *IoStreamChannel) newWebSocketServer(target *channel_utility.ChannelAddress) *http.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	mux := http.NewServeMux()
	mux.HandleFunc(target.Path, func(w http.ResponseWriter, r *http.Request) {
		if c.closed.Load() {
			http.Error(w, "closing", http.StatusServiceUnavailable)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		host, port := splitHostPort(r.RemoteAddr)
		peer := channel_utility.MakeAddressFromComponents(target.Scheme, host, port)
		c.accepted(newWebSocketConn(ws), peer.Address)
	})

	return &http.Server{
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return c.ctx },
	}
}

// Send queues a complete frame. A full write queue fails with BUFF_LIMIT instead of blocking.
func (c *IoStreamChannel) Send(conn types.IoStreamConnection, data []byte) error_code.ErrorType {
	if c.closed.Load() {
		return error_code.EN_SIMCONNECT_ERR_CHANNEL_CLOSING
	}

	ioConn, _ := conn.(*IoStreamConnection)
	if ioConn == nil || ioConn.closed.Load() || ioConn.GetStatus() != IoStreamConnectionStatusConnected {
		return error_code.EN_SIMCONNECT_ERR_CLOSING
	}
	if limit := c.conf.SendBufferLimitSize; limit > 0 && uint64(len(data)) > limit {
		return error_code.EN_SIMCONNECT_ERR_INVALID_SIZE
	}

	select {
	case ioConn.writeQueue <- data:
		return error_code.EN_SIMCONNECT_ERR_SUCCESS
	case <-ioConn.done:
		return error_code.EN_SIMCONNECT_ERR_CLOSING
	case <-c.ctx.Done():
		return error_code.EN_SIMCONNECT_ERR_CHANNEL_CLOSING
	default:
		return error_code.EN_SIMCONNECT_ERR_BUFF_LIMIT
	}
}

// Disconnect closes conn, its Disconnected callback reports SUCCESS unless a failure came first.
func (c *IoStreamChannel) Disconnect(conn types.IoStreamConnection) error_code.ErrorType {
	ioConn, _ := conn.(*IoStreamConnection)
	if ioConn == nil {
		return error_code.EN_SIMCONNECT_ERR_PARAMS
	}
	return c.shutdown(ioConn, error_code.EN_SIMCONNECT_ERR_SUCCESS)
}

// Close stops every listener and connection. Calling it again is a no-op.
func (c *IoStreamChannel) Close() error_code.ErrorType {
	if c.closed.Swap(true) {
		return error_code.EN_SIMCONNECT_ERR_SUCCESS
	}
	c.cancel()

	c.mu.Lock()
	entries := c.listeners
	c.listeners = make(map[string]*listenerEntry)
	c.mu.Unlock()

	for _, entry := range entries {
		if entry.server != nil {
			entry.server.Close()
		} else {
			entry.listener.Close()
		}
	}

	for _, conn := range c.GetConnections() {
		c.shutdown(conn, error_code.EN_SIMCONNECT_ERR_CHANNEL_CLOSING)
	}
	return error_code.EN_SIMCONNECT_ERR_SUCCESS
}

// GetConnections snapshots the live connections.
func (c *IoStreamChannel) GetConnections() []*IoStreamConnection {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ret := make([]*IoStreamConnection, 0, len(c.connections))
	for _, conn := range c.connections {
		ret = append(ret, conn)
	}
	return ret
}

func (c *IoStreamChannel) acceptLoop(l net.Listener, target *channel_utility.ChannelAddress) {
	for {
		netConn, err := l.Accept()
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		if c.closed.Load() {
			netConn.Close()
			return
		}

		c.tuneSocket(netConn)

		var peer *channel_utility.ChannelAddress
		if isLocalSocketScheme(target.Scheme) {
			peer = channel_utility.MakeAddressFromComponents(target.Scheme, target.Host, 0)
		} else {
			host, port := splitHostPort(netConn.RemoteAddr().String())
			peer = channel_utility.MakeAddressFromComponents(target.Scheme, host, port)
		}
		c.accepted(netConn, peer.Address)
	}
}

func (c *IoStreamChannel) accepted(netConn net.Conn, peer string) {
	conn := c.track(netConn, peer, IoStreamConnectionFlagAccept)
	c.emit(IoStreamCallbackEventTypeAccepted, conn, 0, nil)
	c.serve(conn)
}

func (c *IoStreamChannel) serve(conn *IoStreamConnection) {
	go c.readLoop(conn)
	go c.writeLoop(conn)
}

// readFailure maps a read error to the disconnect reason, retry reports a timeout worth waiting out.
func (c *IoStreamChannel) readFailure(conn *IoStreamConnection, err error) (reason error_code.ErrorType, retry bool) {
	if errors.Is(err, io.EOF) {
		return error_code.EN_SIMCONNECT_ERR_CONNECTION_LOST, false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() && c.ctx.Err() == nil {
		atomic.AddUint64(&c.statisticReadNetEgainCount, 1)
		if atomic.AddUint64(&conn.readEgainCount, 1) <= c.conf.MaxReadNetEgainCount {
			return error_code.EN_SIMCONNECT_ERR_SUCCESS, true
		}
	}
	return error_code.EN_SIMCONNECT_ERR_READ_FAILED, false
}

// deliverFrames feeds chunk into the frame reader and emits every complete frame.
// It returns false once the stream has to be dropped.
func (c *IoStreamChannel) deliverFrames(conn *IoStreamConnection, chunk []byte) bool {
	conn.frameReader.Write(chunk)

	for {
		result := conn.frameReader.ReadFrame()
		switch {
		case result.Error == nil:
			c.emit(IoStreamCallbackEventTypeReceived, conn, 0, result.Frame)

		case errors.Is(result.Error, ErrIncompleteFrame):
			return true

		case errors.Is(result.Error, ErrFrameTooLarge):
			// the reader already skipped the oversized frame
			atomic.AddUint64(&c.statisticCheckBlockSizeFailedCount, 1)
			if atomic.AddUint64(&conn.checkBlockSizeFailedCount, 1) > c.conf.MaxReadCheckBlockSizeFailedCount {
				conn.setDisconnectReason(error_code.EN_SIMCONNECT_ERR_INVALID_SIZE)
				return false
			}

		default:
			conn.setDisconnectReason(result.ErrorCode)
			return false
		}
	}
}

func (c *IoStreamChannel) readLoop(conn *IoStreamConnection) {
	defer func() {
		reason := error_code.EN_SIMCONNECT_ERR_READ_FAILED
		if c.ctx.Err() != nil {
			reason = error_code.EN_SIMCONNECT_ERR_CHANNEL_CLOSING
		}
		c.shutdown(conn, reason)

		conn.SetStatus(IoStreamConnectionStatusDisconnected)
		c.emit(IoStreamCallbackEventTypeDisconnected, conn, conn.disconnectStatus, nil)
	}()

	buf := make([]byte, DefaultReadBufferSize)
	for c.ctx.Err() == nil && !conn.closed.Load() && conn.GetStatus() == IoStreamConnectionStatusConnected {
		n, err := conn.conn.Read(buf)
		if err != nil {
			reason, retry := c.readFailure(conn, err)
			if retry {
				continue
			}
			if reason != error_code.EN_SIMCONNECT_ERR_READ_FAILED {
				conn.setDisconnectReason(reason)
			}
			return
		}

		if n > 0 && !c.deliverFrames(conn, buf[:n]) {
			return
		}
	}
}

func writeFull(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (c *IoStreamChannel) writeLoop(conn *IoStreamConnection) {
	for {
		var data []byte
		select {
		case <-c.ctx.Done():
			return
		case <-conn.done:
			return
		case data = <-conn.writeQueue:
		}

		if conn.closed.Load() || conn.GetStatus() != IoStreamConnectionStatusConnected {
			return
		}

		conn.SetFlag(IoStreamConnectionFlagWriting, true)
		err := writeFull(conn.conn, data)
		conn.SetFlag(IoStreamConnectionFlagWriting, false)
		if err != nil {
			c.shutdown(conn, error_code.EN_SIMCONNECT_ERR_WRITE_FAILED)
			return
		}

		c.emit(IoStreamCallbackEventTypeWritten, conn, 0, data)
	}
}

// track wraps netConn and registers it as a live connection.
func (c *IoStreamChannel) track(netConn net.Conn, peer string, flag IoStreamConnectionFlag) *IoStreamConnection {
	queueSize := c.conf.WriteQueueSize
	if queueSize <= 0 {
		queueSize = DefaultWriteQueueSize
	}

	conn := &IoStreamConnection{
		channel:     c,
		conn:        netConn,
		address:     peer,
		status:      IoStreamConnectionStatusConnected,
		flags:       uint32(flag),
		frameReader: NewFrameReader(DefaultReadBufferSize, c.conf.ReceiveBufferLimitSize),
		writeQueue:  make(chan []byte, queueSize),
		done:        make(chan struct{}),
	}

	c.mu.Lock()
	c.connections[netConn] = conn
	c.mu.Unlock()
	return conn
}

// shutdown records reason, unless one was recorded already, and tears the connection down once.
func (c *IoStreamChannel) shutdown(conn *IoStreamConnection, reason error_code.ErrorType) error_code.ErrorType {
	conn.setDisconnectReason(reason)
	if conn.closed.Swap(true) {
		return error_code.EN_SIMCONNECT_ERR_SUCCESS
	}

	conn.mu.Lock()
	conn.status = IoStreamConnectionStatusDisconnecting
	conn.flags |= uint32(IoStreamConnectionFlagClosing)
	conn.mu.Unlock()

	close(conn.done)
	if conn.conn != nil {
		conn.conn.Close()
	}

	c.mu.Lock()
	delete(c.connections, conn.conn)
	c.mu.Unlock()
	return error_code.EN_SIMCONNECT_ERR_SUCCESS
}

func streamEndpoint(target *channel_utility.ChannelAddress) (network string, hostport string, ok bool) {
	scheme := strings.ToLower(target.Scheme)
	network, ok = streamNetworks[scheme]
	if !ok {
		return "", "", false
	}
	if isLocalSocketScheme(scheme) {
		return network, target.Host, true
	}
	return network, net.JoinHostPort(target.Host, strconv.Itoa(target.Port)), true
}

func (c *IoStreamChannel) tuneSocket(netConn net.Conn) {
	tcp, ok := netConn.(*net.TCPConn)
	if !ok {
		return
	}
	if c.conf.NoDelay {
		tcp.SetNoDelay(true)
	}
	if c.conf.Keepalive > 0 {
		tcp.SetKeepAlive(true)
		tcp.SetKeepAlivePeriod(c.conf.Keepalive)
	}
}

// emit runs the channel callback and then the per connection one.
func (c *IoStreamChannel) emit(eventType IoStreamCallbackEventType, conn *IoStreamConnection, status int32, data []byte) {
	if eventType < 0 || eventType >= IoStreamCallbackEventTypeMax {
		return
	}

	var priv interface{}
	if data != nil {
		priv = data
	}

	c.mu.RLock()
	fn := c.eventHandleSet.GetCallback(eventType)
	c.mu.RUnlock()
	if fn != nil {
		fn(c, conn, status, priv)
	}

	if conn == nil {
		return
	}
	conn.mu.RLock()
	fn = conn.eventHandleSet.GetCallback(eventType)
	conn.mu.RUnlock()
	if fn != nil {
		fn(c, conn, status, priv)
	}
}

// boundAddress renders a listener's local address in channel address form.
func boundAddress(requested *channel_utility.ChannelAddress, local net.Addr) string {
	if isLocalSocketScheme(requested.Scheme) {
		return requested.Address
	}

	host, port := splitHostPort(local.String())
	if requested.Scheme == "dns" || requested.Host != "" && net.ParseIP(requested.Host) == nil {
		host = requested.Host
	}
	ret := channel_utility.MakeAddressFromComponents(requested.Scheme, host, port).Address
	if channel_utility.IsWebSocketScheme(requested.Scheme) {
		ret += requested.Path
	}
	return ret
}

// splitHostPort tolerates a missing or malformed port, which yields 0.
func splitHostPort(addr string) (string, int) {
	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.Trim(addr, "[]"), 0
	}
	port, _ := strconv.Atoi(portText)
	return host, port
}

var _ types.IoStreamChannel = (*IoStreamChannel)(nil)
