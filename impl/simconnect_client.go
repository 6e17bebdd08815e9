// Package libsimconnect_impl is the client side of the simulation host protocol: connection
// state, data definitions, event subscriptions and notification delivery.
package libsimconnect_impl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	io_stream "github.com/atframework/libsimconnect-go/channel/io_stream"
	error_code "github.com/atframework/libsimconnect-go/error_code"
	log "github.com/atframework/libsimconnect-go/log"
	message_handle "github.com/atframework/libsimconnect-go/message_handle"
	protocol "github.com/atframework/libsimconnect-go/protocol"
	types "github.com/atframework/libsimconnect-go/types"
)

// DefaultNotificationGroupID is the group mapped client events are added to.
const DefaultNotificationGroupID types.GroupID = 0

const sendRecordCapacity = 256

// HostInfo is what the host reported in its handshake response.
type HostInfo struct {
	ApplicationName    string
	ApplicationVersion [2]uint32
	ApplicationBuild   [2]uint32
	SimConnectVersion  [2]uint32
	SimConnectBuild    [2]uint32
	ProtocolVersion    uint32
}

// SystemState is the answer to RequestSystemState.
type SystemState struct {
	Integer uint32
	Float   float32
	String  string
}

// StateChange describes a connection status transition. Reason is nil for transitions the
// caller asked for.
type StateChange struct {
	From   types.ConnectionStatus
	To     types.ConnectionStatus
	Reason error
}

// ClientStats is a snapshot of client counters. Counters accumulate across reconnects.
type ClientStats struct {
	Status             types.ConnectionStatus
	Connects           uint64
	SentRequests       uint64
	Received           uint64
	ProtocolWarnings   uint64
	LateDiscarded      uint64
	Delivered          uint64
	DeliveryDropped    uint64
	PendingRequests    int
	DataSubscriptions  int
	EventSubscriptions int
	LastSentPacketID   uint32
}

// session is the state bound to one transport connection.
type session struct {
	conn       types.IoStreamConnection
	dispatcher *message_handle.Dispatcher
	version    uint32
}

// Client talks to one simulation host. It is safe for concurrent use.
type Client struct {
	conf   types.ClientConfigure
	logger *slog.Logger
	ctx    context.Context

	channel  *io_stream.IoStreamChannel
	registry *Registry
	events   *EventTable
	queue    *deliveryQueue

	mu       sync.Mutex
	status   types.ConnectionStatus
	current  *session
	hostInfo *HostInfo
	closed   bool

	stateHandler     func(StateChange)
	exceptionHandler func(err *error_code.HostExceptionError, request string)

	// sendMu serializes send id allocation with the write, so ids reach the host in order
	sendMu        sync.Mutex
	nextSendID    uint32
	idMu          sync.Mutex
	nextRequestID types.RequestID

	dataMu   sync.Mutex
	dataSubs map[types.RequestID]*Subscription
	groupMu  sync.Mutex
	groups   map[types.GroupID]bool

	lastSentPacketID atomic.Uint32
	sentRequests     atomic.Uint64
	connects         atomic.Uint64
	lateDiscarded    atomic.Uint64
	// counters of dispatchers of closed connections
	receivedBase atomic.Uint64
	warningsBase atomic.Uint64
}

// NewClient creates a disconnected client. conf nil uses the defaults, logger nil uses
// slog.Default().
func NewClient(conf *types.ClientConfigure, logger *slog.Logger) *Client {
	c := &Client{
		logger:        logger,
		registry:      CreateRegistry(),
		events:        CreateEventTable(1),
		status:        types.ConnectionStatusDisconnected,
		nextSendID:    0,
		nextRequestID: 1,
		dataSubs:      make(map[types.RequestID]*Subscription),
		groups:        make(map[types.GroupID]bool),
	}
	if conf != nil {
		c.conf = *conf
	} else {
		types.SetDefaultClientConfigure(&c.conf)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.conf.ProtocolVersion == 0 {
		c.conf.ProtocolVersion = protocol.ProtocolVersion
	}

	c.ctx = c.conf.EventLoopContext
	if c.ctx == nil {
		c.ctx = context.Background()
	}

	c.queue = newDeliveryQueue(c.conf.DeliveryQueueSize)
	c.channel = io_stream.NewIoStreamChannel(c.ctx, &c.conf.Channel)
	c.channel.GetEventHandleSet().SetCallback(io_stream.IoStreamCallbackEventTypeReceived, c.onReceived)
	c.channel.GetEventHandleSet().SetCallback(io_stream.IoStreamCallbackEventTypeDisconnected, c.onDisconnected)
	return c
}

func (c *Client) GetLogger() *slog.Logger {
	return c.logger
}

func (c *Client) GetContext() context.Context {
	return c.ctx
}

func (c *Client) GetConfigure() *types.ClientConfigure {
	return &c.conf
}

// GetRegistry returns the data definitions of the client.
func (c *Client) GetRegistry() *Registry {
	return c.registry
}

// GetEventTable returns the event subscriptions of the client.
func (c *Client) GetEventTable() *EventTable {
	return c.events
}

func (c *Client) GetStatus() types.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) IsConnected() bool {
	return c.GetStatus() == types.ConnectionStatusConnected
}

// GetHostInfo returns the handshake response of the current connection, nil when not
// connected.
func (c *Client) GetHostInfo() *HostInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hostInfo == nil {
		return nil
	}
	ret := *c.hostInfo
	return &ret
}

// GetLastSentPacketID returns the send id of the last frame handed to the transport.
func (c *Client) GetLastSentPacketID() uint32 {
	return c.lastSentPacketID.Load()
}

// SetStateHandler registers a callback for status transitions. It runs on the delivery
// goroutine, transitions arrive in the order they happened.
func (c *Client) SetStateHandler(handler func(StateChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHandler = handler
}

// SetExceptionHandler registers a callback for host exceptions no request waits for. request
// describes the request that raised it, when it is still recorded.
func (c *Client) SetExceptionHandler(handler func(err *error_code.HostExceptionError, request string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exceptionHandler = handler
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() ClientStats {
	c.mu.Lock()
	status := c.status
	current := c.current
	c.mu.Unlock()

	ret := ClientStats{
		Status:             status,
		Connects:           c.connects.Load(),
		SentRequests:       c.sentRequests.Load(),
		Received:           c.receivedBase.Load(),
		ProtocolWarnings:   c.warningsBase.Load(),
		LateDiscarded:      c.lateDiscarded.Load(),
		Delivered:          c.queue.delivered.Load(),
		DeliveryDropped:    c.queue.dropped.Load(),
		EventSubscriptions: c.events.Len(),
		LastSentPacketID:   c.lastSentPacketID.Load(),
	}
	if current != nil {
		ds := current.dispatcher.Stats()
		ret.Received += ds.Received
		ret.ProtocolWarnings += ds.ProtocolWarnings
		ret.PendingRequests = ds.Pending
	}

	c.dataMu.Lock()
	ret.DataSubscriptions = len(c.dataSubs)
	c.dataMu.Unlock()
	return ret
}

func (c *Client) LogDebug(msg string, args ...any) {
	c.logWithConnection(slog.LevelDebug, msg, args...)
}

func (c *Client) LogInfo(msg string, args ...any) {
	c.logWithConnection(slog.LevelInfo, msg, args...)
}

func (c *Client) LogWarn(msg string, args ...any) {
	c.logWithConnection(slog.LevelWarn, msg, args...)
}

func (c *Client) LogError(errcode error_code.ErrorType, msg string, args ...any) {
	if c.logger == nil || !c.logger.Enabled(c.ctx, slog.LevelError) {
		return
	}

	args = append(args, slog.String("error_code", errcode.String()))
	c.logWithConnection(slog.LevelError, msg, args...)
}

func (c *Client) logWithConnection(level slog.Level, msg string, args ...any) {
	if c.logger == nil || !c.logger.Enabled(c.ctx, level) {
		return
	}

	args = append(args,
		slog.String("application", c.conf.AppName),
		slog.String("address", c.conf.Address),
	)

	// caller of LogDebug, LogInfo, LogWarn or LogError
	log.LogInner(c.logger, time.Now(), log.GetCaller(2), c.ctx, level, msg, args...)
}

// Connect opens the transport and performs the version handshake. It returns nil when
// already connected and EN_SIMCONNECT_ERR_ALREADY_CONNECTING while another Connect runs.
func (c *Client) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = c.ctx
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return error_code.EN_SIMCONNECT_ERR_CLOSING
	}
	switch c.status {
	case types.ConnectionStatusConnected:
		c.mu.Unlock()
		return nil
	case types.ConnectionStatusConnecting:
		c.mu.Unlock()
		return error_code.EN_SIMCONNECT_ERR_ALREADY_CONNECTING
	}

	s := &session{
		dispatcher: message_handle.CreateDispatcher(c.logger, sendRecordCapacity),
		version:    c.conf.ProtocolVersion,
	}
	c.registerHandlers(s)
	c.current = s
	c.hostInfo = nil
	c.setStatusLocked(types.ConnectionStatusConnecting, nil)
	c.mu.Unlock()

	conn, code := c.channel.Connect(c.conf.Address)
	if code != error_code.EN_SIMCONNECT_ERR_SUCCESS {
		c.LogError(code, "connect to host failed")
		c.teardown(s, code)
		return fmt.Errorf("connect %s: %w", c.conf.Address, code)
	}

	c.mu.Lock()
	if c.current != s {
		c.mu.Unlock()
		c.channel.Disconnect(conn)
		return fmt.Errorf("connect %s: %w", c.conf.Address, error_code.EN_SIMCONNECT_ERR_CONNECTION_LOST)
	}
	s.conn = conn
	c.mu.Unlock()

	// the read loop may have failed before the connection was recorded
	if conn.GetStatus() != io_stream.IoStreamConnectionStatusConnected {
		c.teardown(s, error_code.EN_SIMCONNECT_ERR_CONNECTION_LOST)
		return fmt.Errorf("connect %s: %w", c.conf.Address, error_code.EN_SIMCONNECT_ERR_CONNECTION_LOST)
	}

	exchange, err := c.post(s, &protocol.OpenRequest{AppName: c.conf.AppName},
		message_handle.AwaitTypeOpen, 0, c.conf.HandshakeTimeout)
	if err != nil {
		c.teardown(s, err)
		return fmt.Errorf("handshake: %w", err)
	}

	resume, err := exchange.Wait(ctx)
	if err != nil {
		c.teardown(s, err)
		return fmt.Errorf("handshake: %w", err)
	}

	if resume.Header.Version < protocol.ProtocolMinimalVersion {
		c.teardown(s, error_code.EN_SIMCONNECT_ERR_UNSUPPORTED_VERSION)
		return fmt.Errorf("host protocol version %d: %w", resume.Header.Version, error_code.EN_SIMCONNECT_ERR_UNSUPPORTED_VERSION)
	}

	open, _ := resume.Message.(*protocol.RecvOpen)
	info := &HostInfo{ProtocolVersion: resume.Header.Version}
	if open != nil {
		info.ApplicationName = open.ApplicationName
		info.ApplicationVersion = open.ApplicationVersion
		info.ApplicationBuild = open.ApplicationBuild
		info.SimConnectVersion = open.SimConnectVersion
		info.SimConnectBuild = open.SimConnectBuild
	}

	c.mu.Lock()
	if c.current != s {
		c.mu.Unlock()
		return fmt.Errorf("handshake: %w", error_code.EN_SIMCONNECT_ERR_CONNECTION_LOST)
	}
	c.hostInfo = info
	c.setStatusLocked(types.ConnectionStatusConnected, nil)
	c.mu.Unlock()

	c.connects.Add(1)
	c.LogInfo("connected to host", "host_application", info.ApplicationName, "host_protocol", info.ProtocolVersion)
	return nil
}

// Disconnect closes the connection. Pending requests fail with
// EN_SIMCONNECT_ERR_CONNECTION_LOST and every subscription ends.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	c.teardown(s, nil)
	return nil
}

// Close disconnects and stops the delivery goroutine. The client can not be used afterwards.
// Close waits for the delivery goroutine, so handlers must use Disconnect instead.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.Disconnect()
	c.channel.Close()
	c.queue.close()
	return nil
}

func (c *Client) setStatusLocked(status types.ConnectionStatus, reason error) {
	if c.status == status {
		return
	}

	change := StateChange{From: c.status, To: status, Reason: reason}
	c.status = status
	handler := c.stateHandler

	if handler != nil {
		c.queue.push(deliveryItem{fn: func() { handler(change) }})
	}
}

// teardown drops the session s. It is a no-op when s is not the current session.
func (c *Client) teardown(s *session, reason error) bool {
	c.mu.Lock()
	if c.current != s {
		c.mu.Unlock()
		return false
	}
	conn := s.conn
	c.current = nil
	c.hostInfo = nil
	c.setStatusLocked(types.ConnectionStatusDisconnected, reason)
	c.mu.Unlock()

	if conn != nil {
		c.channel.Disconnect(conn)
	}

	failed := s.dispatcher.FailAll(error_code.EN_SIMCONNECT_ERR_CONNECTION_LOST)
	ds := s.dispatcher.Stats()
	c.receivedBase.Add(ds.Received)
	c.warningsBase.Add(ds.ProtocolWarnings)

	c.dataMu.Lock()
	dataSubs := make([]*Subscription, 0, len(c.dataSubs))
	for id, sub := range c.dataSubs {
		dataSubs = append(dataSubs, sub)
		delete(c.dataSubs, id)
	}
	c.dataMu.Unlock()

	c.groupMu.Lock()
	c.groups = make(map[types.GroupID]bool)
	c.groupMu.Unlock()

	c.registry.ResetConnection()
	entries := c.events.Reset()

	for _, sub := range dataSubs {
		sub.cancel()
		c.queue.push(deliveryItem{sub: sub, finish: true})
	}
	for _, entry := range entries {
		if sub, ok := c.boundSubscription(entry); ok {
			sub.cancel()
			c.queue.push(deliveryItem{sub: sub, finish: true})
		}
	}

	if reason == nil {
		c.LogInfo("disconnected", "failed_requests", failed)
	} else {
		var code error_code.ErrorType
		if !errors.As(reason, &code) {
			code = error_code.EN_SIMCONNECT_ERR_CONNECTION_LOST
		}
		c.LogError(code, "connection lost", "failed_requests", failed, "reason", reason)
	}
	return true
}

func (c *Client) boundSubscription(entry *EventSubscription) (*Subscription, bool) {
	c.events.mu.Lock()
	defer c.events.mu.Unlock()
	return entry.subscription, entry.subscription != nil
}

func (c *Client) currentSession() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != types.ConnectionStatusConnected || c.current == nil {
		return nil, error_code.EN_SIMCONNECT_ERR_NOT_CONNECTED
	}
	return c.current, nil
}

func (c *Client) sessionMatches(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == s
}

func (c *Client) onReceived(_ types.IoStreamChannel, conn types.IoStreamConnection, _ int32, privData interface{}) {
	frame, ok := privData.([]byte)
	if !ok {
		return
	}

	c.mu.Lock()
	s := c.current
	var current types.IoStreamConnection
	if s != nil {
		current = s.conn
	}
	c.mu.Unlock()

	// frames of a replaced connection
	if s == nil || (current != nil && current != conn) {
		return
	}
	s.dispatcher.Dispatch(frame)
}

func (c *Client) onDisconnected(_ types.IoStreamChannel, conn types.IoStreamConnection, status int32, _ interface{}) {
	c.mu.Lock()
	s := c.current
	var current types.IoStreamConnection
	if s != nil {
		current = s.conn
	}
	c.mu.Unlock()

	if s == nil || current != conn {
		return
	}

	reason := error_code.ErrorType(status)
	if reason == error_code.EN_SIMCONNECT_ERR_SUCCESS {
		reason = error_code.EN_SIMCONNECT_ERR_CONNECTION_LOST
	}
	c.teardown(s, reason)
}

func (c *Client) registerHandlers(s *session) {
	d := s.dispatcher
	d.RegisterHandler(protocol.RecvIDSimObjectData, func(header protocol.RecvHeader, msg protocol.Recv) error {
		return c.handleData(s, msg)
	})
	for _, id := range []protocol.RecvID{protocol.RecvIDEvent, protocol.RecvIDEventFilename, protocol.RecvIDEventFrame} {
		d.RegisterHandler(id, func(header protocol.RecvHeader, msg protocol.Recv) error {
			return c.handleEvent(s, msg)
		})
	}
	d.RegisterHandler(protocol.RecvIDQuit, func(header protocol.RecvHeader, msg protocol.Recv) error {
		c.LogInfo("host quit")
		c.teardown(s, fmt.Errorf("host quit: %w", error_code.EN_SIMCONNECT_ERR_CONNECTION_LOST))
		return nil
	})
	d.RegisterHandler(protocol.RecvIDException, func(header protocol.RecvHeader, msg protocol.Recv) error {
		m, ok := msg.(*protocol.RecvException)
		if !ok {
			return nil
		}
		c.mu.Lock()
		handler := c.exceptionHandler
		c.mu.Unlock()
		if handler == nil {
			return nil
		}

		hostErr := m.AsError()
		description, _ := d.FindSendRecord(m.SendID)
		if !c.queue.offer(deliveryItem{fn: func() { handler(hostErr, description) }}) {
			c.LogWarn("delivery queue full, drop host exception", "exception", m.Exception.String())
		}
		return nil
	})
}

func (c *Client) allocRequestID() types.RequestID {
	c.idMu.Lock()
	defer c.idMu.Unlock()

	id := c.nextRequestID
	c.nextRequestID++
	return id
}

func (c *Client) requestAllocated(id types.RequestID) bool {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	return id != 0 && id < c.nextRequestID
}

func describeRequest(req protocol.Request) string {
	return req.Kind().String() + " " + strings.TrimPrefix(fmt.Sprintf("%+v", req), "&")
}

// post sends req on s. A non zero awaitType registers the exchange completed by the response,
// for acks awaitID is replaced by the send id.
func (c *Client) post(s *session, req protocol.Request, awaitType message_handle.AwaitType, awaitID uint32, timeout time.Duration) (*message_handle.PendingExchange, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.nextSendID++
	if c.nextSendID == 0 {
		c.nextSendID = 1
	}
	sendID := c.nextSendID

	var exchange *message_handle.PendingExchange
	if awaitType != 0 {
		if awaitType == message_handle.AwaitTypeAck {
			awaitID = sendID
		}
		var err error
		exchange, err = s.dispatcher.Await(message_handle.AwaitOptions{
			Key:     message_handle.AwaitKey{Type: awaitType, ID: awaitID},
			SendID:  sendID,
			Timeout: timeout,
		})
		if err != nil {
			return nil, err
		}
	}

	frame, err := protocol.PackRequest(s.version, sendID, req, int(c.conf.Channel.SendBufferLimitSize))
	if err != nil {
		if exchange != nil {
			exchange.Cancel(err)
		}
		return nil, err
	}

	if code := c.channel.Send(s.conn, frame); code != error_code.EN_SIMCONNECT_ERR_SUCCESS {
		if code == error_code.EN_SIMCONNECT_ERR_CLOSING || code == error_code.EN_SIMCONNECT_ERR_CHANNEL_CLOSING {
			code = error_code.EN_SIMCONNECT_ERR_CONNECTION_LOST
		}
		if exchange != nil {
			exchange.Cancel(code)
		}
		return nil, fmt.Errorf("send %s: %w", req.Kind().String(), code)
	}

	c.lastSentPacketID.Store(sendID)
	c.sentRequests.Add(1)
	s.dispatcher.RecordSend(sendID, describeRequest(req))
	c.LogDebug("request sent", "kind", req.Kind().String(), "send_id", sendID)
	return exchange, nil
}

// call sends a request the host acknowledges and waits for the ack.
func (c *Client) call(ctx context.Context, s *session, req protocol.Request) error {
	exchange, err := c.post(s, req, message_handle.AwaitTypeAck, 0, c.conf.RequestTimeout)
	if err != nil {
		return err
	}
	_, err = exchange.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", req.Kind().String(), err)
	}
	return nil
}

// DefineVariable appends a variable to a data definition. It fails with
// EN_SIMCONNECT_ERR_DUPLICATE_DEFINITION once the definition was used by a request.
func (c *Client) DefineVariable(id types.DefinitionID, name string, unit string, dataType types.DataType) error {
	return c.registry.DefineVariable(id, Variable{
		Name:     name,
		Unit:     unit,
		DataType: dataType,
		DatumID:  types.UnusedID,
	})
}

// AddVariable is DefineVariable with full control over epsilon and datum id.
func (c *Client) AddVariable(id types.DefinitionID, v Variable) error {
	return c.registry.DefineVariable(id, v)
}

// uploadDefinition sends the definition to the host once per connection.
func (c *Client) uploadDefinition(ctx context.Context, s *session, def *DataDefinition) error {
	def.uploadMu.Lock()
	defer def.uploadMu.Unlock()

	if c.registry.isUploaded(def) {
		return nil
	}

	for i := range def.variables {
		v := &def.variables[i]
		err := c.call(ctx, s, &protocol.AddToDataDefinitionRequest{
			DefineID:  def.id,
			DatumName: v.Name,
			UnitsName: v.Unit,
			DataType:  v.DataType,
			Epsilon:   v.Epsilon,
			DatumID:   v.DatumID,
		})
		if err != nil {
			if i > 0 {
				// drop the partial definition, the ack is not waited for
				c.post(s, &protocol.ClearDataDefinitionRequest{DefineID: def.id}, 0, 0, 0)
			}
			return fmt.Errorf("upload definition %d variable %s: %w", def.id, v.Name, err)
		}
	}

	if c.sessionMatches(s) {
		c.registry.markUploaded(def)
	}
	return nil
}

// RequestData starts a data request on a definition, finalizing it. Updates are delivered
// to the returned subscription until it is unsubscribed, the connection ends or, for
// types.PeriodOnce, after the first update.
func (c *Client) RequestData(ctx context.Context, id types.DefinitionID, period types.Period, opts ...SubscriptionOption) (*Subscription, error) {
	s, err := c.currentSession()
	if err != nil {
		return nil, err
	}

	def, err := c.registry.Acquire(id)
	if err != nil {
		return nil, err
	}

	if err = c.uploadDefinition(ctx, s, def); err != nil {
		c.registry.Release(id)
		return nil, err
	}

	o := subscriptionOptions{objectID: types.ObjectIDUser}
	for _, opt := range opts {
		opt(&o)
	}

	sub := newSubscription(c, SubscriptionKindData, &o, c.conf.SubscriptionBufferSize)
	sub.requestID = c.allocRequestID()
	sub.definitionID = id
	sub.definition = def
	sub.objectID = o.objectID
	sub.period = period

	wirePeriod, flags := period.Wire()
	if o.tagged {
		flags |= types.RequestFlagTagged
	}
	sub.flags = flags

	// routed before sending, the first update may arrive right after the ack
	c.dataMu.Lock()
	c.dataSubs[sub.requestID] = sub
	c.dataMu.Unlock()

	err = c.call(ctx, s, &protocol.RequestDataOnSimObjectRequest{
		RequestID: sub.requestID,
		DefineID:  id,
		ObjectID:  o.objectID,
		Period:    wirePeriod,
		Flags:     flags,
		Interval:  o.interval,
		Limit:     o.limit,
	})
	if err != nil {
		sub.cancel()
		c.endDataSubscription(sub)
		return nil, err
	}

	c.LogDebug("data requested", "request_id", uint32(sub.requestID), "definition_id", uint32(id), "period", period.String())
	return sub, nil
}

// removeDataRoute removes the routing entry of sub, reporting whether it was still routed.
func (c *Client) removeDataRoute(sub *Subscription) bool {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()

	if c.dataSubs[sub.requestID] != sub {
		return false
	}
	delete(c.dataSubs, sub.requestID)
	return true
}

func (c *Client) endDataSubscription(sub *Subscription) {
	if c.removeDataRoute(sub) {
		c.registry.Release(sub.definitionID)
	}
	c.queue.push(deliveryItem{sub: sub, finish: true})
}

func (c *Client) handleData(s *session, msg protocol.Recv) error {
	m, ok := msg.(*protocol.RecvSimObjectData)
	if !ok {
		return nil
	}

	c.dataMu.Lock()
	sub := c.dataSubs[m.RequestID]
	c.dataMu.Unlock()

	if sub == nil {
		if c.requestAllocated(m.RequestID) {
			c.lateDiscarded.Add(1)
			return nil
		}
		s.dispatcher.ProtocolWarning("data for unknown request", "request_id", uint32(m.RequestID))
		return nil
	}
	if sub.Cancelled() {
		c.lateDiscarded.Add(1)
		return nil
	}

	var values []SimValue
	var err error
	if m.Flags&types.RequestFlagTagged != 0 {
		values, err = sub.definition.DecodeTagged(m.Data, m.DefineCount)
	} else {
		values, err = sub.definition.Decode(m.Data)
	}
	if err != nil {
		return fmt.Errorf("request %d: %w", uint32(m.RequestID), err)
	}

	note := Notification{
		Subscription: sub,
		Data: &SimData{
			RequestID:    m.RequestID,
			ObjectID:     m.ObjectID,
			DefinitionID: m.DefineID,
			Fingerprint:  sub.definition.Fingerprint(),
			Flags:        m.Flags,
			EntryNumber:  m.EntryNumber,
			OutOf:        m.OutOf,
			Values:       values,
			Received:     time.Now(),
		},
	}

	once := sub.period == types.PeriodOnce
	if once {
		if c.removeDataRoute(sub) {
			c.registry.Release(sub.definitionID)
		}
	}

	if !c.queue.offer(deliveryItem{sub: sub, note: note, last: once}) {
		c.LogWarn("delivery queue full, drop data", "request_id", uint32(m.RequestID))
		if once {
			c.queue.push(deliveryItem{sub: sub, finish: true})
		}
	}
	return nil
}

func (c *Client) handleEvent(s *session, msg protocol.Recv) error {
	ev := &SimEvent{Received: time.Now()}
	var base *protocol.RecvEvent
	switch m := msg.(type) {
	case *protocol.RecvEvent:
		base = m
	case *protocol.RecvEventFilename:
		base = &m.RecvEvent
		ev.FileName = m.FileName
	case *protocol.RecvEventFrame:
		base = &m.RecvEvent
		ev.FrameRate = m.FrameRate
		ev.SimSpeed = m.SimSpeed
	default:
		return nil
	}
	ev.EventID = base.EventID
	ev.GroupID = base.GroupID
	ev.Data = base.Data

	sub, ok := c.events.Subscription(base.EventID)
	if !ok {
		if c.events.Allocated(base.EventID) {
			c.lateDiscarded.Add(1)
			return nil
		}
		s.dispatcher.ProtocolWarning("event for unknown id", "event_id", uint32(base.EventID))
		return nil
	}
	if sub.Cancelled() {
		c.lateDiscarded.Add(1)
		return nil
	}
	ev.Name = sub.EventName()

	if !c.queue.offer(deliveryItem{sub: sub, note: Notification{Subscription: sub, Event: ev}}) {
		c.LogWarn("delivery queue full, drop event", "event", ev.Name)
	}
	return nil
}

func (c *Client) unsubscribe(ctx context.Context, sub *Subscription) error {
	if sub.kind == SubscriptionKindEvent {
		if sub.event == nil {
			return error_code.EN_SIMCONNECT_ERR_PARAMS
		}
		return c.unsubscribeEvent(ctx, sub.event, sub)
	}

	if !sub.unsubscribing.CompareAndSwap(false, true) {
		return nil
	}
	sub.cancel()

	c.dataMu.Lock()
	routed := c.dataSubs[sub.requestID] == sub
	c.dataMu.Unlock()
	if !routed {
		c.queue.push(deliveryItem{sub: sub, finish: true})
		return nil
	}

	s, err := c.currentSession()
	if err != nil {
		// the connection ended, teardown already finished the subscription
		return nil
	}

	err = c.call(ctx, s, &protocol.RequestDataOnSimObjectRequest{
		RequestID: sub.requestID,
		DefineID:  sub.definitionID,
		ObjectID:  sub.objectID,
		Period:    types.WirePeriodNever,
	})
	c.endDataSubscription(sub)
	if err != nil {
		return fmt.Errorf("unsubscribe request %d: %w", uint32(sub.requestID), err)
	}

	c.LogDebug("data request stopped", "request_id", uint32(sub.requestID), "delivered", sub.Delivered())
	return nil
}

// ClearDefinition removes a data definition. It fails with
// EN_SIMCONNECT_ERR_DEFINITION_IN_USE while a data request uses it.
func (c *Client) ClearDefinition(ctx context.Context, id types.DefinitionID) error {
	def, err := c.registry.CheckRemovable(id)
	if err != nil {
		return err
	}

	if c.registry.isUploaded(def) {
		s, err := c.currentSession()
		if err == nil {
			if err = c.call(ctx, s, &protocol.ClearDataDefinitionRequest{DefineID: id}); err != nil {
				return err
			}
		}
	}

	_, err = c.registry.Remove(id)
	return err
}

// SetData writes values, in declaration order, to the variables of a definition on object.
func (c *Client) SetData(ctx context.Context, id types.DefinitionID, object types.ObjectID, values []interface{}) error {
	s, err := c.currentSession()
	if err != nil {
		return err
	}

	def, err := c.registry.Finalize(id)
	if err != nil {
		return err
	}

	data, err := def.Encode(values)
	if err != nil {
		return err
	}

	if err = c.uploadDefinition(ctx, s, def); err != nil {
		return err
	}

	return c.call(ctx, s, &protocol.SetDataOnSimObjectRequest{
		DefineID: id,
		ObjectID: object,
		Flags:    types.RequestFlagDefault,
		UnitSize: uint32(len(data)),
		Data:     data,
	})
}

// SetTaggedData writes only the named variables of a definition on object.
func (c *Client) SetTaggedData(ctx context.Context, id types.DefinitionID, object types.ObjectID, values map[string]interface{}) error {
	s, err := c.currentSession()
	if err != nil {
		return err
	}

	def, err := c.registry.Finalize(id)
	if err != nil {
		return err
	}

	indexes := make([]int, 0, len(values))
	ordered := make([]interface{}, 0, len(values))
	seen := make(map[string]bool, len(values))
	for i := range def.variables {
		key := strings.ToLower(def.variables[i].Name)
		for name, value := range values {
			if strings.ToLower(name) == key && !seen[key] {
				seen[key] = true
				indexes = append(indexes, i)
				ordered = append(ordered, value)
			}
		}
	}
	if len(indexes) != len(values) {
		return fmt.Errorf("set tagged data on definition %d: unknown variable: %w", id, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	}

	data, err := EncodeTaggedValues(def.variables, indexes, ordered)
	if err != nil {
		return err
	}

	if err = c.uploadDefinition(ctx, s, def); err != nil {
		return err
	}

	return c.call(ctx, s, &protocol.SetDataOnSimObjectRequest{
		DefineID:   id,
		ObjectID:   object,
		Flags:      types.RequestFlagTagged,
		ArrayCount: uint32(len(indexes)),
		UnitSize:   uint32(len(data)),
		Data:       data,
	})
}

// RequestDataByType reads a definition from every object of objectType within radius meters
// of the user aircraft. The result is empty when no object matches.
func (c *Client) RequestDataByType(ctx context.Context, id types.DefinitionID, radiusMeters uint32, objectType types.SimObjectType) ([]*SimData, error) {
	s, err := c.currentSession()
	if err != nil {
		return nil, err
	}

	def, err := c.registry.Finalize(id)
	if err != nil {
		return nil, err
	}
	if err = c.uploadDefinition(ctx, s, def); err != nil {
		return nil, err
	}

	requestID := c.allocRequestID()
	exchange, err := c.post(s, &protocol.RequestDataOnSimObjectTypeRequest{
		RequestID:    requestID,
		DefineID:     id,
		RadiusMeters: radiusMeters,
		ObjectType:   objectType,
	}, message_handle.AwaitTypeDataByType, uint32(requestID), c.conf.RequestTimeout)
	if err != nil {
		return nil, err
	}

	resume, err := exchange.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("request data by type %d: %w", uint32(requestID), err)
	}

	now := time.Now()
	ret := make([]*SimData, 0, len(resume.Messages))
	for _, msg := range resume.Messages {
		m, ok := msg.(*protocol.RecvSimObjectData)
		if !ok {
			continue
		}
		values, err := def.Decode(m.Data)
		if err != nil {
			return nil, fmt.Errorf("request data by type %d object %d: %w", uint32(requestID), uint32(m.ObjectID), err)
		}
		ret = append(ret, &SimData{
			RequestID:    requestID,
			ObjectID:     m.ObjectID,
			DefinitionID: id,
			Fingerprint:  def.Fingerprint(),
			Flags:        m.Flags,
			EntryNumber:  m.EntryNumber,
			OutOf:        m.OutOf,
			Values:       values,
			Received:     now,
		})
	}
	return ret, nil
}

// RequestSystemState queries a host state such as "AircraftLoaded" or "Sim".
func (c *Client) RequestSystemState(ctx context.Context, state string) (SystemState, error) {
	s, err := c.currentSession()
	if err != nil {
		return SystemState{}, err
	}
	if strings.TrimSpace(state) == "" {
		return SystemState{}, fmt.Errorf("request empty system state: %w", error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	}

	requestID := c.allocRequestID()
	exchange, err := c.post(s, &protocol.RequestSystemStateRequest{RequestID: requestID, State: state},
		message_handle.AwaitTypeSystemState, uint32(requestID), c.conf.RequestTimeout)
	if err != nil {
		return SystemState{}, err
	}

	resume, err := exchange.Wait(ctx)
	if err != nil {
		return SystemState{}, fmt.Errorf("request system state %s: %w", state, err)
	}

	m, ok := resume.Message.(*protocol.RecvSystemState)
	if !ok {
		return SystemState{}, fmt.Errorf("request system state %s: %w", state, error_code.EN_SIMCONNECT_ERR_UNPACK)
	}
	return SystemState{Integer: m.Integer, Float: m.Float, String: m.String}, nil
}

// SubscribeEvent subscribes to a system event or a simulation event by name. Subscribing an
// already subscribed name returns the existing subscription, its options are kept. A name
// whose unsubscribe is still in flight is registered again once the removal finished.
func (c *Client) SubscribeEvent(ctx context.Context, name string, opts ...SubscriptionOption) (*Subscription, error) {
	if _, err := c.currentSession(); err != nil {
		return nil, err
	}

	o := subscriptionOptions{group: DefaultNotificationGroupID}
	for _, opt := range opts {
		opt(&o)
	}

	for {
		entry, created, err := c.events.Reserve(name, o.group)
		if err != nil {
			return nil, err
		}
		if created {
			return c.subscribeEntry(ctx, entry, &o)
		}

		if !c.events.Draining(entry) {
			select {
			case <-entry.ready:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if entry.err != nil {
				return nil, entry.err
			}
			sub, ok := c.boundSubscription(entry)
			if ok && !sub.Cancelled() && !c.events.Draining(entry) {
				return sub, nil
			}
		}

		select {
		case <-entry.removed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) subscribeEntry(ctx context.Context, entry *EventSubscription, o *subscriptionOptions) (*Subscription, error) {
	sub := newSubscription(c, SubscriptionKindEvent, o, c.conf.SubscriptionBufferSize)
	sub.event = entry
	c.events.Bind(entry, sub)

	s, err := c.currentSession()
	if err == nil {
		err = c.registerEvent(ctx, s, entry)
	}
	c.events.Complete(entry, err)
	if err != nil {
		sub.cancel()
		c.queue.push(deliveryItem{sub: sub, finish: true})
		return nil, fmt.Errorf("subscribe event %s: %w", entry.Name, err)
	}

	c.LogDebug("event subscribed", "event", entry.Name, "event_id", uint32(entry.ID), "kind", entry.Kind.String())
	return sub, nil
}

func (c *Client) registerEvent(ctx context.Context, s *session, entry *EventSubscription) error {
	if entry.Kind == EventKindSystem {
		return c.call(ctx, s, &protocol.SubscribeToSystemEventRequest{EventID: entry.ID, EventName: entry.Name})
	}

	if err := c.call(ctx, s, &protocol.MapClientEventToSimEventRequest{EventID: entry.ID, EventName: entry.Name}); err != nil {
		return err
	}
	if err := c.call(ctx, s, &protocol.AddClientEventToNotificationGroupRequest{GroupID: entry.GroupID, EventID: entry.ID}); err != nil {
		return err
	}

	c.groupMu.Lock()
	prioritized := c.groups[entry.GroupID]
	c.groupMu.Unlock()
	if prioritized {
		return nil
	}
	return c.SetNotificationGroupPriority(ctx, entry.GroupID, types.GroupPriorityHighest)
}

// SetNotificationGroupPriority sets the priority of a notification group.
func (c *Client) SetNotificationGroupPriority(ctx context.Context, group types.GroupID, priority types.GroupPriority) error {
	s, err := c.currentSession()
	if err != nil {
		return err
	}
	if err = c.call(ctx, s, &protocol.SetNotificationGroupPriorityRequest{GroupID: group, Priority: priority}); err != nil {
		return err
	}

	c.groupMu.Lock()
	c.groups[group] = true
	c.groupMu.Unlock()
	return nil
}

// UnsubscribeEvent removes an event subscription by name.
func (c *Client) UnsubscribeEvent(ctx context.Context, name string) error {
	entry, ok := c.events.Lookup(name)
	if !ok {
		return fmt.Errorf("unsubscribe event %s: %w", name, error_code.EN_SIMCONNECT_ERR_EVENT_NOT_FOUND)
	}
	sub, _ := c.boundSubscription(entry)
	return c.unsubscribeEvent(ctx, entry, sub)
}

// unsubscribeEvent leaves the entry untouched until its registration settled. Once the
// removal started the entry always leaves the table, whatever the host answers.
func (c *Client) unsubscribeEvent(ctx context.Context, entry *EventSubscription, sub *Subscription) error {
	select {
	case <-entry.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	if !c.events.BeginRemoval(entry) {
		return nil
	}
	if sub != nil {
		sub.unsubscribing.Store(true)
		sub.cancel()
	}

	finish := func() {
		c.events.Remove(entry)
		if sub != nil {
			c.queue.push(deliveryItem{sub: sub, finish: true})
		}
	}

	if entry.err != nil {
		finish()
		return nil
	}

	s, err := c.currentSession()
	if err != nil {
		finish()
		return nil
	}

	if entry.Kind == EventKindSystem {
		err = c.call(ctx, s, &protocol.UnsubscribeFromSystemEventRequest{EventID: entry.ID})
	} else {
		for _, m := range c.events.Inputs(entry) {
			if err = c.call(ctx, s, &protocol.RemoveInputEventRequest{GroupID: m.GroupID, InputDefinition: m.Spec}); err != nil {
				break
			}
		}
		if err == nil {
			err = c.call(ctx, s, &protocol.RemoveClientEventRequest{GroupID: entry.GroupID, EventID: entry.ID})
		}
	}
	finish()
	if err != nil {
		return fmt.Errorf("unsubscribe event %s: %w", entry.Name, err)
	}

	c.LogDebug("event unsubscribed", "event", entry.Name, "event_id", uint32(entry.ID))
	return nil
}

// MapInput maps a key or joystick input to a subscribed client event. The input expression is checked
// locally, one the host does not recognise fails with EN_SIMCONNECT_ERR_INVALID_INPUT too.
// The input group is switched on when it is first used.
func (c *Client) MapInput(ctx context.Context, id types.ClientEventID, spec string, group types.InputGroupID) error {
	entry, err := c.events.CheckInput(id, spec)
	if err != nil {
		return err
	}

	s, err := c.currentSession()
	if err != nil {
		return err
	}

	err = c.call(ctx, s, &protocol.MapInputEventToClientEventRequest{
		GroupID:         group,
		InputDefinition: spec,
		DownEventID:     id,
		UpEventID:       types.ClientEventID(types.UnusedID),
	})
	if err != nil {
		return fmt.Errorf("map input %q to %s: %w", spec, entry.Name, err)
	}

	if c.events.AddInput(entry, InputMapping{GroupID: group, Spec: spec}) {
		return c.SetInputGroupState(ctx, group, types.StateOn)
	}
	return nil
}

// SetInputGroupState switches an input group on or off.
func (c *Client) SetInputGroupState(ctx context.Context, group types.InputGroupID, state types.State) error {
	s, err := c.currentSession()
	if err != nil {
		return err
	}
	if err = c.call(ctx, s, &protocol.SetInputGroupStateRequest{GroupID: group, State: state}); err != nil {
		return err
	}
	c.events.SetGroupState(group, state)
	return nil
}

// SetInputGroupPriority sets the priority of an input group.
func (c *Client) SetInputGroupPriority(ctx context.Context, group types.InputGroupID, priority types.GroupPriority) error {
	s, err := c.currentSession()
	if err != nil {
		return err
	}
	return c.call(ctx, s, &protocol.SetInputGroupPriorityRequest{GroupID: group, Priority: priority})
}

// TransmitEvent fires a mapped client event on the user aircraft with the highest priority.
func (c *Client) TransmitEvent(ctx context.Context, id types.ClientEventID, data uint32) error {
	entry, ok := c.events.Get(id)
	if !ok {
		return fmt.Errorf("transmit event %d: %w", id, error_code.EN_SIMCONNECT_ERR_EVENT_NOT_FOUND)
	}
	if entry.Kind != EventKindClient {
		return fmt.Errorf("transmit system event %s: %w", entry.Name, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	}

	s, err := c.currentSession()
	if err != nil {
		return err
	}
	return c.call(ctx, s, &protocol.TransmitClientEventRequest{
		ObjectID: types.ObjectIDUser,
		EventID:  id,
		Data:     data,
		GroupID:  types.GroupID(types.GroupPriorityHighest),
		Flags:    types.EventFlagGroupIDIsPriority,
	})
}
