package libsimconnect_hostsim

import (
	"bytes"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	error_code "github.com/atframework/libsimconnect-go/error_code"
	impl "github.com/atframework/libsimconnect-go/impl"
	protocol "github.com/atframework/libsimconnect-go/protocol"
	types "github.com/atframework/libsimconnect-go/types"
)

type hostDataRequest struct {
	requestID types.RequestID
	defineID  types.DefinitionID
	objectID  types.ObjectID
	period    types.WirePeriod
	flags     types.RequestFlag
	interval  uint32
	limit     uint32

	skipped uint32
	sent    uint32
	last    [][]byte
}

type hostInput struct {
	group     types.InputGroupID
	eventID   types.ClientEventID
	downValue uint32
}

type hostSession struct {
	id   uuid.UUID
	conn types.IoStreamConnection

	mu      sync.Mutex
	appName string
	opened  bool

	definitions  map[types.DefinitionID][]impl.Variable
	requests     map[types.RequestID]*hostDataRequest
	clientEvents map[types.ClientEventID]string
	eventGroups  map[types.ClientEventID]types.GroupID
	priorities   map[types.GroupID]types.GroupPriority
	systemEvents map[types.ClientEventID]string
	inputs       map[string]hostInput
	inputGroups  map[types.InputGroupID]types.State
}

func newHostSession(conn types.IoStreamConnection) *hostSession {
	return &hostSession{
		id:           uuid.New(),
		conn:         conn,
		definitions:  make(map[types.DefinitionID][]impl.Variable),
		requests:     make(map[types.RequestID]*hostDataRequest),
		clientEvents: make(map[types.ClientEventID]string),
		eventGroups:  make(map[types.ClientEventID]types.GroupID),
		priorities:   make(map[types.GroupID]types.GroupPriority),
		systemEvents: make(map[types.ClientEventID]string),
		inputs:       make(map[string]hostInput),
		inputGroups:  make(map[types.InputGroupID]types.State),
	}
}

func (s *hostSession) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionInfo{
		ID:           s.id.String(),
		Address:      s.conn.GetAddress(),
		AppName:      s.appName,
		Opened:       s.opened,
		DataRequests: len(s.requests),
		Events:       len(s.clientEvents) + len(s.systemEvents),
	}
}

// handleRequest runs with s.mu held. The returned func, if any, runs after s.mu is released.
func (h *Host) handleRequest(s *hostSession, header protocol.RequestHeader, req protocol.Request) func() {
	if open, ok := req.(*protocol.OpenRequest); ok {
		if header.Version < protocol.ProtocolMinimalVersion {
			h.raise(s, header.SendID, error_code.HostExceptionVersionMismatch, 0)
			return nil
		}
		s.appName = open.AppName
		s.opened = true
		h.send(s, &protocol.RecvOpen{
			ApplicationName:    h.conf.AppName,
			ApplicationVersion: [2]uint32{1, 0},
			ApplicationBuild:   [2]uint32{1, 0},
			SimConnectVersion:  [2]uint32{h.conf.ProtocolVersion, 0},
			SimConnectBuild:    [2]uint32{1, 0},
		})
		h.logger.Info("hostsim session opened", "session", s.id.String(), "application", open.AppName)
		return nil
	}

	if !s.opened {
		h.raise(s, header.SendID, error_code.HostExceptionUnopened, 0)
		return nil
	}

	exception, index := h.apply(s, req)
	if exception != error_code.HostExceptionNone {
		h.raise(s, header.SendID, exception, index)
		return nil
	}

	if req.Kind().NeedsAck() {
		h.ack(s, header.SendID)
	}

	// answers sent after the ack
	switch m := req.(type) {
	case *protocol.RequestDataOnSimObjectRequest:
		if m.Period == types.WirePeriodOnce {
			if r, ok := s.requests[m.RequestID]; ok {
				h.sendData(s, r)
				delete(s.requests, m.RequestID)
			}
		}
	case *protocol.RequestDataOnSimObjectTypeRequest:
		h.sendDataByType(s, m)
	case *protocol.RequestSystemStateRequest:
		h.sendSystemState(s, m)
	case *protocol.TransmitClientEventRequest:
		return h.transmit(s, m)
	}
	return nil
}

// apply changes the session state for req, returning the exception to raise and the index of
// the offending parameter.
func (h *Host) apply(s *hostSession, req protocol.Request) (error_code.HostException, uint32) {
	switch m := req.(type) {
	case *protocol.AddToDataDefinitionRequest:
		if m.DataType.Size() == 0 {
			return error_code.HostExceptionInvalidDataType, 4
		}
		if strings.TrimSpace(m.DatumName) == "" {
			return error_code.HostExceptionNameUnrecognized, 2
		}
		s.definitions[m.DefineID] = append(s.definitions[m.DefineID], impl.Variable{
			Name:     m.DatumName,
			Unit:     m.UnitsName,
			DataType: m.DataType,
			Epsilon:  m.Epsilon,
			DatumID:  m.DatumID,
		})

	case *protocol.ClearDataDefinitionRequest:
		if _, ok := s.definitions[m.DefineID]; !ok {
			return error_code.HostExceptionUnrecognizedID, 1
		}
		delete(s.definitions, m.DefineID)

	case *protocol.RequestDataOnSimObjectRequest:
		if m.Period == types.WirePeriodNever {
			delete(s.requests, m.RequestID)
			return error_code.HostExceptionNone, 0
		}
		if _, ok := s.definitions[m.DefineID]; !ok {
			return error_code.HostExceptionUnrecognizedID, 2
		}
		if m.Period > types.WirePeriodSecond {
			return error_code.HostExceptionInvalidEnum, 4
		}
		h.mu.RLock()
		_, known := h.objects[m.ObjectID]
		h.mu.RUnlock()
		if !known {
			return error_code.HostExceptionUnrecognizedID, 3
		}
		s.requests[m.RequestID] = &hostDataRequest{
			requestID: m.RequestID,
			defineID:  m.DefineID,
			objectID:  m.ObjectID,
			period:    m.Period,
			flags:     m.Flags,
			interval:  m.Interval,
			limit:     m.Limit,
		}

	case *protocol.RequestDataOnSimObjectTypeRequest:
		if _, ok := s.definitions[m.DefineID]; !ok {
			return error_code.HostExceptionUnrecognizedID, 2
		}

	case *protocol.SetDataOnSimObjectRequest:
		return h.setData(s, m)

	case *protocol.MapClientEventToSimEventRequest:
		if _, ok := s.clientEvents[m.EventID]; ok {
			return error_code.HostExceptionEventIDDuplicate, 1
		}
		if strings.TrimSpace(m.EventName) == "" {
			return error_code.HostExceptionNameUnrecognized, 2
		}
		s.clientEvents[m.EventID] = m.EventName

	case *protocol.AddClientEventToNotificationGroupRequest:
		if _, ok := s.clientEvents[m.EventID]; !ok {
			return error_code.HostExceptionUnrecognizedID, 2
		}
		s.eventGroups[m.EventID] = m.GroupID

	case *protocol.RemoveClientEventRequest:
		if g, ok := s.eventGroups[m.EventID]; !ok || g != m.GroupID {
			return error_code.HostExceptionUnrecognizedID, 2
		}
		delete(s.eventGroups, m.EventID)
		delete(s.clientEvents, m.EventID)

	case *protocol.SetNotificationGroupPriorityRequest:
		s.priorities[m.GroupID] = m.Priority

	case *protocol.TransmitClientEventRequest:
		if _, ok := s.clientEvents[m.EventID]; !ok {
			return error_code.HostExceptionUnrecognizedID, 2
		}

	case *protocol.MapInputEventToClientEventRequest:
		if !types.IsValidInputSpec(m.InputDefinition) {
			return error_code.HostExceptionNameUnrecognized, 2
		}
		if _, ok := s.clientEvents[m.DownEventID]; !ok {
			return error_code.HostExceptionUnrecognizedID, 3
		}
		s.inputs[strings.ToLower(m.InputDefinition)] = hostInput{group: m.GroupID, eventID: m.DownEventID, downValue: m.DownValue}
		if _, ok := s.inputGroups[m.GroupID]; !ok {
			s.inputGroups[m.GroupID] = types.StateOff
		}

	case *protocol.RemoveInputEventRequest:
		key := strings.ToLower(m.InputDefinition)
		if in, ok := s.inputs[key]; !ok || in.group != m.GroupID {
			return error_code.HostExceptionNameUnrecognized, 2
		}
		delete(s.inputs, key)

	case *protocol.SetInputGroupStateRequest:
		if _, ok := s.inputGroups[m.GroupID]; !ok {
			return error_code.HostExceptionUnrecognizedID, 1
		}
		s.inputGroups[m.GroupID] = m.State

	case *protocol.SetInputGroupPriorityRequest:
		if _, ok := s.inputGroups[m.GroupID]; !ok {
			return error_code.HostExceptionUnrecognizedID, 1
		}

	case *protocol.SubscribeToSystemEventRequest:
		if _, ok := types.LookupSystemEvent(m.EventName); !ok {
			return error_code.HostExceptionNameUnrecognized, 2
		}
		if _, ok := s.systemEvents[m.EventID]; ok {
			return error_code.HostExceptionAlreadySubscribed, 1
		}
		s.systemEvents[m.EventID] = strings.ToLower(m.EventName)

	case *protocol.UnsubscribeFromSystemEventRequest:
		if _, ok := s.systemEvents[m.EventID]; !ok {
			return error_code.HostExceptionUnrecognizedID, 1
		}
		delete(s.systemEvents, m.EventID)

	case *protocol.RequestSystemStateRequest:
		h.mu.RLock()
		_, ok := h.states[strings.ToLower(m.State)]
		h.mu.RUnlock()
		if !ok {
			return error_code.HostExceptionNameUnrecognized, 2
		}
	}

	return error_code.HostExceptionNone, 0
}

func (h *Host) setData(s *hostSession, m *protocol.SetDataOnSimObjectRequest) (error_code.HostException, uint32) {
	variables, ok := s.definitions[m.DefineID]
	if !ok {
		return error_code.HostExceptionUnrecognizedID, 1
	}

	var values []impl.SimValue
	var err error
	if m.Flags&types.RequestFlagTagged != 0 {
		values, err = impl.DecodeTaggedValues(variables, m.Data, m.ArrayCount)
	} else {
		values, err = impl.DecodeValues(variables, m.Data)
	}
	if err != nil {
		return error_code.HostExceptionDataError, 6
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	obj, ok := h.objects[m.ObjectID]
	if !ok {
		return error_code.HostExceptionUnrecognizedID, 2
	}
	for _, v := range values {
		obj.variables[variableKey(v.Name)] = v.Value
	}
	return error_code.HostExceptionNone, 0
}

// objectValues reads the variables of a definition from an object, unknown variables are zero.
func (h *Host) objectValues(id types.ObjectID, variables []impl.Variable) ([]interface{}, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	obj, ok := h.objects[id]
	if !ok {
		return nil, false
	}
	values := make([]interface{}, len(variables))
	for i := range variables {
		v, ok := obj.variables[variableKey(variables[i].Name)]
		if !ok {
			v = zeroValue(variables[i].DataType)
		}
		values[i] = v
	}
	return values, true
}

func zeroValue(t types.DataType) interface{} {
	switch t {
	case types.DataTypeInt32:
		return int32(0)
	case types.DataTypeInt64:
		return int64(0)
	case types.DataTypeFloat32:
		return float32(0)
	case types.DataTypeLatLonAlt, types.DataTypeXYZ:
		return [3]float64{}
	default:
		if t.IsString() {
			return ""
		}
		return float64(0)
	}
}

// sendData sends one update of r, honouring the changed and tagged flags. s.mu must be held.
func (h *Host) sendData(s *hostSession, r *hostDataRequest) bool {
	variables := s.definitions[r.defineID]
	values, ok := h.objectValues(r.objectID, variables)
	if !ok {
		return false
	}

	parts := make([][]byte, len(variables))
	for i := range variables {
		part, err := impl.EncodeValues(variables[i:i+1], values[i:i+1])
		if err != nil {
			h.logger.Warn("hostsim encode variable failed", "variable", variables[i].Name, "error", err)
			return false
		}
		parts[i] = part
	}

	changedOnly := r.flags&types.RequestFlagChanged != 0 && r.last != nil
	indexes := make([]int, 0, len(variables))
	for i := range parts {
		if !changedOnly || !bytes.Equal(parts[i], r.last[i]) {
			indexes = append(indexes, i)
		}
	}
	if len(indexes) == 0 {
		return false
	}

	msg := &protocol.RecvSimObjectData{
		RequestID:   r.requestID,
		ObjectID:    r.objectID,
		DefineID:    r.defineID,
		Flags:       r.flags,
		EntryNumber: 1,
		OutOf:       1,
	}
	if r.flags&types.RequestFlagTagged != 0 {
		selected := make([]interface{}, 0, len(indexes))
		for _, i := range indexes {
			selected = append(selected, values[i])
		}
		data, err := impl.EncodeTaggedValues(variables, indexes, selected)
		if err != nil {
			return false
		}
		msg.Data = data
		msg.DefineCount = uint32(len(indexes))
	} else {
		msg.Data = bytes.Join(parts, nil)
		msg.DefineCount = uint32(len(variables))
	}

	if !h.send(s, msg) {
		return false
	}
	r.last = parts
	r.sent++
	h.dataSent.Add(1)
	return true
}

func (h *Host) sendDataByType(s *hostSession, m *protocol.RequestDataOnSimObjectTypeRequest) {
	variables := s.definitions[m.DefineID]

	h.mu.RLock()
	ids := make([]types.ObjectID, 0, len(h.objects))
	for id, obj := range h.objects {
		if matchObjectType(obj, m.ObjectType) && (obj.ID == types.ObjectIDUser || obj.DistanceMeters <= m.RadiusMeters) {
			ids = append(ids, id)
		}
	}
	h.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if len(ids) == 0 {
		h.send(s, &protocol.RecvSimObjectData{ByType: true, RequestID: m.RequestID, DefineID: m.DefineID})
		return
	}

	for n, id := range ids {
		values, ok := h.objectValues(id, variables)
		if !ok {
			continue
		}
		data, err := impl.EncodeValues(variables, values)
		if err != nil {
			h.logger.Warn("hostsim encode object failed", "object_id", uint32(id), "error", err)
			continue
		}
		h.send(s, &protocol.RecvSimObjectData{
			ByType:      true,
			RequestID:   m.RequestID,
			ObjectID:    id,
			DefineID:    m.DefineID,
			EntryNumber: uint32(n + 1),
			OutOf:       uint32(len(ids)),
			DefineCount: uint32(len(variables)),
			Data:        data,
		})
		h.dataSent.Add(1)
	}
}

func matchObjectType(obj *SimObject, t types.SimObjectType) bool {
	switch t {
	case types.SimObjectTypeUser:
		return obj.ID == types.ObjectIDUser
	case types.SimObjectTypeAll:
		return true
	default:
		return obj.Type == t
	}
}

func (h *Host) sendSystemState(s *hostSession, m *protocol.RequestSystemStateRequest) {
	h.mu.RLock()
	state := h.states[strings.ToLower(m.State)]
	h.mu.RUnlock()

	h.send(s, &protocol.RecvSystemState{
		RequestID: m.RequestID,
		Integer:   state.Integer,
		Float:     state.Float,
		String:    state.String,
	})
}

// transmit returns the fan out of a transmitted event to every session that maps the same
// simulation event. from.mu must be held.
func (h *Host) transmit(from *hostSession, m *protocol.TransmitClientEventRequest) func() {
	name := from.clientEvents[m.EventID]
	sessionID := from.id.String()

	return func() {
		h.mu.RLock()
		handler := h.onSend
		h.mu.RUnlock()
		if handler != nil {
			handler(sessionID, name, m.Data)
		}

		h.fire(name, m.Data, "")
	}
}

// notifyClientEvent sends name to s if it maps it into a notification group. s.mu must be held.
func (h *Host) notifyClientEvent(s *hostSession, name string, data uint32) int {
	count := 0
	for id, mapped := range s.clientEvents {
		if !strings.EqualFold(mapped, name) {
			continue
		}
		group, ok := s.eventGroups[id]
		if !ok {
			continue
		}
		if h.send(s, &protocol.RecvEvent{GroupID: group, EventID: id, Data: data}) {
			h.eventsSent.Add(1)
			count++
		}
	}
	return count
}

// notifySystemEvent sends a system event to s if subscribed. s.mu must be held.
func (h *Host) notifySystemEvent(s *hostSession, name string, data uint32, fileName string) int {
	key := strings.ToLower(name)
	kind, _ := types.LookupSystemEvent(key)

	count := 0
	for id, subscribed := range s.systemEvents {
		if subscribed != key {
			continue
		}

		base := protocol.RecvEvent{GroupID: types.GroupID(types.UnusedID), EventID: id, Data: data}
		var msg protocol.Recv
		switch kind {
		case types.SystemEventKindFilename:
			msg = &protocol.RecvEventFilename{RecvEvent: base, FileName: fileName}
		case types.SystemEventKindFrame:
			msg = &protocol.RecvEventFrame{RecvEvent: base, FrameRate: float32(h.conf.FramesPerSecond), SimSpeed: 1}
		default:
			msg = &base
		}
		if h.send(s, msg) {
			h.eventsSent.Add(1)
			count++
		}
	}
	return count
}

// FireEvent raises a system event or a simulation event on every session, returning the
// number of notifications sent.
func (h *Host) FireEvent(name string, data uint32) int {
	return h.fire(name, data, "")
}

// FireFilenameEvent raises a filename system event such as FlightLoaded.
func (h *Host) FireFilenameEvent(name string, fileName string) int {
	return h.fire(name, 0, fileName)
}

func (h *Host) fire(name string, data uint32, fileName string) int {
	count := 0
	for _, s := range h.snapshotSessions() {
		s.mu.Lock()
		if _, ok := types.LookupSystemEvent(name); ok {
			count += h.notifySystemEvent(s, name, data, fileName)
		} else {
			count += h.notifyClientEvent(s, name, data)
		}
		s.mu.Unlock()
	}
	return count
}

// FireInput simulates a key or joystick input, sessions with the input mapped in an enabled
// group receive the down event.
func (h *Host) FireInput(spec string) int {
	key := strings.ToLower(strings.TrimSpace(spec))
	count := 0
	for _, s := range h.snapshotSessions() {
		s.mu.Lock()
		if in, ok := s.inputs[key]; ok && s.inputGroups[in.group] == types.StateOn {
			if h.send(s, &protocol.RecvEvent{GroupID: types.GroupID(in.group), EventID: in.eventID, Data: in.downValue}) {
				h.eventsSent.Add(1)
				count++
			}
		}
		s.mu.Unlock()
	}
	return count
}

// Tick advances the frame clock by one frame and serves due data requests and clock events.
func (h *Host) Tick() {
	frame := h.frame.Add(1)

	var wg sync.WaitGroup
	for _, s := range h.snapshotSessions() {
		wg.Add(1)
		if err := h.pool.Invoke(&tickTask{session: s, frame: frame, wg: &wg}); err != nil {
			wg.Done()
			h.logger.Warn("hostsim submit tick failed", "session", s.id.String(), "error", err)
		}
	}
	wg.Wait()
}

// AdvanceSecond ticks one simulated second worth of frames.
func (h *Host) AdvanceSecond() {
	for i := uint32(0); i < h.conf.FramesPerSecond; i++ {
		h.Tick()
	}
}

func (h *Host) tickSession(s *hostSession, frame uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return
	}

	fps := uint64(h.conf.FramesPerSecond)
	secondDue := frame%fps == 0

	for id, r := range s.requests {
		due := false
		switch r.period {
		case types.WirePeriodVisualFrame, types.WirePeriodSimFrame:
			due = true
		case types.WirePeriodSecond:
			due = secondDue
		}
		if !due {
			continue
		}

		if r.skipped < r.interval {
			r.skipped++
			continue
		}
		r.skipped = 0

		h.sendData(s, r)
		if r.limit > 0 && r.sent >= r.limit {
			delete(s.requests, id)
		}
	}

	h.notifySystemEvent(s, "frame", 0, "")
	h.notifySystemEvent(s, "6hz", 0, "")
	if secondDue {
		h.notifySystemEvent(s, "1sec", 0, "")
	}
	if frame%(4*fps) == 0 {
		h.notifySystemEvent(s, "4sec", 0, "")
	}
}
