// Package libsimconnect_hostsim is an in-process simulation host. It speaks the host side of
// the wire protocol over the io stream channel, keeps a variable store per simulation object
// and drives periodic data requests and system events from a frame clock.
package libsimconnect_hostsim

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	io_stream "github.com/atframework/libsimconnect-go/channel/io_stream"
	error_code "github.com/atframework/libsimconnect-go/error_code"
	impl "github.com/atframework/libsimconnect-go/impl"
	protocol "github.com/atframework/libsimconnect-go/protocol"
	types "github.com/atframework/libsimconnect-go/types"
)

type HostConfigure struct {
	ListenAddress   string
	AppName         string
	ProtocolVersion uint32

	// ===== 帧时钟 =====
	FramesPerSecond uint32        // 每秒的模拟帧数，EverySecond 请求按它分频
	FrameInterval   time.Duration // 自动推进帧的间隔，0 表示只能手动 Tick

	WorkerPoolSize int // 推进帧时并发处理会话的协程池大小

	Channel types.IoStreamConfigure
}

func SetDefaultHostConfigure(conf *HostConfigure) {
	if conf == nil {
		return
	}

	conf.ListenAddress = "ipv4://127.0.0.1:0"
	conf.AppName = "libsimconnect-go hostsim"
	conf.ProtocolVersion = protocol.ProtocolVersion
	conf.FramesPerSecond = 6
	conf.FrameInterval = 0
	conf.WorkerPoolSize = 16
	types.SetDefaultIoStreamConfigure(&conf.Channel)
}

// SimObject is one object of the simulated world.
type SimObject struct {
	ID   types.ObjectID
	Type types.SimObjectType
	// DistanceMeters from the user aircraft, used by by type requests
	DistanceMeters uint32
	variables      map[string]interface{}
}

// SessionInfo describes a connected client.
type SessionInfo struct {
	ID           string
	Address      string
	AppName      string
	Opened       bool
	DataRequests int
	Events       int
}

// HostStats is a snapshot of host counters.
type HostStats struct {
	Frames          uint64
	Sessions        int
	RequestsHandled uint64
	Exceptions      uint64
	DataSent        uint64
	EventsSent      uint64
}

// TransmitHandler observes client events transmitted to the host.
type TransmitHandler func(session string, eventName string, data uint32)

// Host is the simulated host.
type Host struct {
	conf    HostConfigure
	logger  *slog.Logger
	channel *io_stream.IoStreamChannel
	pool    *ants.PoolWithFunc

	mu       sync.RWMutex
	sessions map[types.IoStreamConnection]*hostSession
	objects  map[types.ObjectID]*SimObject
	states   map[string]impl.SystemState
	onSend   TransmitHandler

	frame    atomic.Uint64
	dropAcks atomic.Bool
	started  atomic.Bool
	address  string

	stop    chan struct{}
	stopped sync.WaitGroup

	requestsHandled atomic.Uint64
	exceptions      atomic.Uint64
	dataSent        atomic.Uint64
	eventsSent      atomic.Uint64
}

type tickTask struct {
	session *hostSession
	frame   uint64
	wg      *sync.WaitGroup
}

// NewHost creates a stopped host. conf nil uses the defaults, logger nil uses slog.Default().
func NewHost(conf *HostConfigure, logger *slog.Logger) (*Host, error) {
	h := &Host{
		logger:   logger,
		sessions: make(map[types.IoStreamConnection]*hostSession),
		objects:  make(map[types.ObjectID]*SimObject),
		states:   make(map[string]impl.SystemState),
		stop:     make(chan struct{}),
	}
	if conf != nil {
		h.conf = *conf
	} else {
		SetDefaultHostConfigure(&h.conf)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.conf.FramesPerSecond == 0 {
		h.conf.FramesPerSecond = 6
	}
	if h.conf.ProtocolVersion == 0 {
		h.conf.ProtocolVersion = protocol.ProtocolVersion
	}
	if h.conf.WorkerPoolSize <= 0 {
		h.conf.WorkerPoolSize = 16
	}

	var err error
	h.pool, err = ants.NewPoolWithFunc(h.conf.WorkerPoolSize, func(args interface{}) {
		task, ok := args.(*tickTask)
		if !ok {
			h.logger.Error("tick pool args type error")
			return
		}
		defer task.wg.Done()
		h.tickSession(task.session, task.frame)
	},
		ants.WithPanicHandler(func(a any) {
			h.logger.Error("tick worker panic", "info", a)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create tick pool: %w", err)
	}

	h.objects[types.ObjectIDUser] = &SimObject{
		ID:        types.ObjectIDUser,
		Type:      types.SimObjectTypeAircraft,
		variables: make(map[string]interface{}),
	}
	h.states["aircraftloaded"] = impl.SystemState{String: `SimObjects\Airplanes\hostsim\aircraft.cfg`}
	h.states["flightloaded"] = impl.SystemState{String: `flights\hostsim.flt`}
	h.states["flightplan"] = impl.SystemState{}
	h.states["dialogmode"] = impl.SystemState{Integer: 0}
	h.states["sim"] = impl.SystemState{Integer: 1}

	h.channel = io_stream.NewIoStreamChannel(nil, &h.conf.Channel)
	h.channel.GetEventHandleSet().SetCallback(io_stream.IoStreamCallbackEventTypeAccepted, h.onAccepted)
	h.channel.GetEventHandleSet().SetCallback(io_stream.IoStreamCallbackEventTypeReceived, h.onReceived)
	h.channel.GetEventHandleSet().SetCallback(io_stream.IoStreamCallbackEventTypeDisconnected, h.onDisconnected)
	return h, nil
}

func (h *Host) GetLogger() *slog.Logger {
	return h.logger
}

func (h *Host) GetConfigure() *HostConfigure {
	return &h.conf
}

// Start listens on the configured address and starts the frame clock when FrameInterval > 0.
func (h *Host) Start() error {
	if h.started.Swap(true) {
		return nil
	}

	if code := h.channel.Listen(h.conf.ListenAddress); code != error_code.EN_SIMCONNECT_ERR_SUCCESS {
		return fmt.Errorf("listen %s: %w", h.conf.ListenAddress, code)
	}
	h.address, _ = h.channel.GetListenAddress(h.conf.ListenAddress)

	if h.conf.FrameInterval > 0 {
		h.stopped.Add(1)
		go h.runClock()
	}

	h.logger.Info("hostsim listening", "address", h.address, "frames_per_second", h.conf.FramesPerSecond)
	return nil
}

// Address returns the bound listen address, with the real port when port 0 was requested.
func (h *Host) Address() string {
	return h.address
}

// Stop closes every connection and releases the tick pool.
func (h *Host) Stop() {
	if !h.started.Load() {
		h.pool.Release()
		return
	}

	select {
	case <-h.stop:
		return
	default:
		close(h.stop)
	}
	h.stopped.Wait()
	h.channel.Close()
	h.pool.Release()
}

func (h *Host) runClock() {
	defer h.stopped.Done()

	ticker := time.NewTicker(h.conf.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.Tick()
		}
	}
}

// SetDropAcks makes the host process requests without acknowledging them.
func (h *Host) SetDropAcks(drop bool) {
	h.dropAcks.Store(drop)
}

// SetTransmitHandler observes transmitted client events.
func (h *Host) SetTransmitHandler(handler TransmitHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSend = handler
}

// SetSystemState sets the answer of a RequestSystemState query.
func (h *Host) SetSystemState(name string, state impl.SystemState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states[strings.ToLower(name)] = state
}

// AddObject adds or replaces a simulation object.
func (h *Host) AddObject(id types.ObjectID, objectType types.SimObjectType, distanceMeters uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	obj, ok := h.objects[id]
	if !ok {
		obj = &SimObject{ID: id, variables: make(map[string]interface{})}
		h.objects[id] = obj
	}
	obj.Type = objectType
	obj.DistanceMeters = distanceMeters
}

// SetVariable sets a variable of the user aircraft.
func (h *Host) SetVariable(name string, value interface{}) {
	h.SetObjectVariable(types.ObjectIDUser, name, value)
}

// SetObjectVariable sets a variable of an object, creating the object as an aircraft if needed.
func (h *Host) SetObjectVariable(id types.ObjectID, name string, value interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	obj, ok := h.objects[id]
	if !ok {
		obj = &SimObject{ID: id, Type: types.SimObjectTypeAircraft, variables: make(map[string]interface{})}
		h.objects[id] = obj
	}
	obj.variables[variableKey(name)] = value
}

// Variable returns a variable of the user aircraft.
func (h *Host) Variable(name string) (interface{}, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	v, ok := h.objects[types.ObjectIDUser].variables[variableKey(name)]
	return v, ok
}

func variableKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Sessions lists the connected clients ordered by nothing in particular.
func (h *Host) Sessions() []SessionInfo {
	sessions := h.snapshotSessions()
	ret := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		ret = append(ret, s.info())
	}
	return ret
}

// Stats returns a snapshot of host counters.
func (h *Host) Stats() HostStats {
	h.mu.RLock()
	sessions := len(h.sessions)
	h.mu.RUnlock()

	return HostStats{
		Frames:          h.frame.Load(),
		Sessions:        sessions,
		RequestsHandled: h.requestsHandled.Load(),
		Exceptions:      h.exceptions.Load(),
		DataSent:        h.dataSent.Load(),
		EventsSent:      h.eventsSent.Load(),
	}
}

func (h *Host) snapshotSessions() []*hostSession {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ret := make([]*hostSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		ret = append(ret, s)
	}
	return ret
}

// Quit tells every client the host is shutting down.
func (h *Host) Quit() int {
	count := 0
	for _, s := range h.snapshotSessions() {
		s.mu.Lock()
		if s.opened && h.send(s, &protocol.RecvQuit{}) {
			count++
		}
		s.mu.Unlock()
	}
	return count
}

// DropConnections closes every client connection from the host side.
func (h *Host) DropConnections() int {
	sessions := h.snapshotSessions()
	for _, s := range sessions {
		h.channel.Disconnect(s.conn)
	}
	return len(sessions)
}

func (h *Host) onAccepted(_ types.IoStreamChannel, conn types.IoStreamConnection, _ int32, _ interface{}) {
	s := newHostSession(conn)

	h.mu.Lock()
	h.sessions[conn] = s
	h.mu.Unlock()

	h.logger.Debug("hostsim session accepted", "session", s.id.String(), "address", conn.GetAddress())
}

func (h *Host) onDisconnected(_ types.IoStreamChannel, conn types.IoStreamConnection, status int32, _ interface{}) {
	h.mu.Lock()
	s, ok := h.sessions[conn]
	delete(h.sessions, conn)
	h.mu.Unlock()

	if ok {
		h.logger.Debug("hostsim session closed", "session", s.id.String(), "status", error_code.ErrorType(status).String())
	}
}

func (h *Host) onReceived(_ types.IoStreamChannel, conn types.IoStreamConnection, _ int32, privData interface{}) {
	frame, ok := privData.([]byte)
	if !ok {
		return
	}

	h.mu.RLock()
	s := h.sessions[conn]
	h.mu.RUnlock()
	if s == nil {
		return
	}

	header, req, err := protocol.UnpackRequest(frame)
	if err != nil {
		h.logger.Warn("hostsim drop undecodable request", "session", s.id.String(), "error", err)
		if header.SendID != 0 {
			s.mu.Lock()
			h.raise(s, header.SendID, error_code.HostExceptionSizeMismatch, 0)
			s.mu.Unlock()
		}
		return
	}

	h.requestsHandled.Add(1)
	s.mu.Lock()
	after := h.handleRequest(s, header, req)
	s.mu.Unlock()

	if after != nil {
		after()
	}
}

// send packs and queues msg for s, s.mu must be held.
func (h *Host) send(s *hostSession, msg protocol.Recv) bool {
	frame, err := protocol.PackRecv(h.conf.ProtocolVersion, msg, int(h.conf.Channel.SendBufferLimitSize))
	if err != nil {
		h.logger.Error("hostsim pack response failed", "recv_id", msg.RecvID().String(), "error", err)
		return false
	}
	if code := h.channel.Send(s.conn, frame); code != error_code.EN_SIMCONNECT_ERR_SUCCESS {
		h.logger.Warn("hostsim send failed", "session", s.id.String(), "recv_id", msg.RecvID().String(), "error_code", code.String())
		return false
	}
	return true
}

func (h *Host) ack(s *hostSession, sendID uint32) {
	if h.dropAcks.Load() {
		return
	}
	h.send(s, &protocol.RecvAck{SendID: sendID})
}

func (h *Host) raise(s *hostSession, sendID uint32, exception error_code.HostException, index uint32) {
	h.exceptions.Add(1)
	h.send(s, &protocol.RecvException{Exception: exception, SendID: sendID, Index: index})
}
