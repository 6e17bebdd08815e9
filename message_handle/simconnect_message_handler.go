// Package libsimconnect_message_handle routes host frames to the exchange waiting for them or
// to the handler registered for their receive id.
package libsimconnect_message_handle

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	error_code "github.com/atframework/libsimconnect-go/error_code"
	protocol "github.com/atframework/libsimconnect-go/protocol"
)

// AwaitType selects which kind of host message completes an exchange.
type AwaitType uint32

const (
	AwaitTypeAck AwaitType = iota + 1
	AwaitTypeOpen
	AwaitTypeSystemState
	AwaitTypeDataByType
)

func (t AwaitType) String() string {
	switch t {
	case AwaitTypeAck:
		return "ack"
	case AwaitTypeOpen:
		return "open"
	case AwaitTypeSystemState:
		return "system-state"
	case AwaitTypeDataByType:
		return "data-by-type"
	default:
		return fmt.Sprintf("AwaitType(%d)", uint32(t))
	}
}

// AwaitKey identifies a pending exchange. ID is the send id for acks and the request id for
// request scoped responses.
type AwaitKey struct {
	Type AwaitType
	ID   uint32
}

// AwaitOptions describes an exchange to wait for.
type AwaitOptions struct {
	Key AwaitKey
	// SendID of the request, used to match host exceptions. 0 disables exception matching.
	SendID uint32
	// Timeout <= 0 waits until the exchange is resolved or failed.
	Timeout time.Duration
}

// ResumeData is what a pending exchange resolves to.
type ResumeData struct {
	Header  protocol.RecvHeader
	Message protocol.Recv
	// Messages holds every entry of a multi part response, in arrival order
	Messages []protocol.Recv
	Error    error
}

// MessageHandler handles an unsolicited host message. It runs on the transport read goroutine
// and must not block.
type MessageHandler func(header protocol.RecvHeader, msg protocol.Recv) error

// DispatcherStats is a snapshot of dispatcher counters.
type DispatcherStats struct {
	Received         uint64
	ProtocolWarnings uint64
	Pending          int
}

type sendRecord struct {
	sendID      uint32
	description string
}

// Dispatcher correlates host responses with pending exchanges. One dispatcher serves one
// connection, once failed it refuses new exchanges.
type Dispatcher struct {
	logger *slog.Logger

	mu        sync.Mutex
	pending   map[AwaitKey]*PendingExchange
	bySendID  map[uint32]*PendingExchange
	handlers  map[protocol.RecvID]MessageHandler
	failedErr error

	recordMu    sync.Mutex
	records     []sendRecord
	recordIndex int

	received         atomic.Uint64
	protocolWarnings atomic.Uint64
}

// CreateDispatcher creates a dispatcher remembering the last recordCapacity send records.
func CreateDispatcher(logger *slog.Logger, recordCapacity int) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if recordCapacity <= 0 {
		recordCapacity = 256
	}
	return &Dispatcher{
		logger:   logger,
		pending:  make(map[AwaitKey]*PendingExchange),
		bySendID: make(map[uint32]*PendingExchange),
		handlers: make(map[protocol.RecvID]MessageHandler),
		records:  make([]sendRecord, 0, recordCapacity),
	}
}

// GetLogger returns the dispatcher logger.
func (d *Dispatcher) GetLogger() *slog.Logger {
	return d.logger
}

// RegisterHandler sets the handler of an unsolicited receive id, nil removes it.
func (d *Dispatcher) RegisterHandler(id protocol.RecvID, handler MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if handler == nil {
		delete(d.handlers, id)
		return
	}
	d.handlers[id] = handler
}

// Await registers an exchange. It must be called before the request is sent.
func (d *Dispatcher) Await(options AwaitOptions) (*PendingExchange, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failedErr != nil {
		return nil, d.failedErr
	}
	if _, ok := d.pending[options.Key]; ok {
		return nil, fmt.Errorf("await %s %d already pending: %w", options.Key.Type, options.Key.ID, error_code.EN_SIMCONNECT_ERR_PARAMS)
	}
	if options.SendID != 0 {
		if _, ok := d.bySendID[options.SendID]; ok {
			return nil, fmt.Errorf("await send id %d already pending: %w", options.SendID, error_code.EN_SIMCONNECT_ERR_PARAMS)
		}
	}

	exchange := &PendingExchange{
		dispatcher: d,
		options:    options,
		resume:     make(chan ResumeData, 1),
	}
	d.pending[options.Key] = exchange
	if options.SendID != 0 {
		d.bySendID[options.SendID] = exchange
	}

	if options.Timeout > 0 {
		exchange.timer = time.AfterFunc(options.Timeout, func() {
			d.finish(exchange, ResumeData{
				Error: fmt.Errorf("await %s %d after %s: %w", options.Key.Type, options.Key.ID, options.Timeout, error_code.EN_SIMCONNECT_ERR_TIMEOUT),
			})
		})
	}

	return exchange, nil
}

// FailAll resolves every pending exchange with err and refuses new ones.
// Returns the number of exchanges failed.
func (d *Dispatcher) FailAll(err error) int {
	d.mu.Lock()
	if d.failedErr == nil {
		d.failedErr = err
	}
	victims := make([]*PendingExchange, 0, len(d.pending))
	for _, exchange := range d.pending {
		victims = append(victims, exchange)
	}
	d.mu.Unlock()

	failed := 0
	for _, exchange := range victims {
		if d.finish(exchange, ResumeData{Error: err}) {
			failed++
		}
	}
	return failed
}

// PendingCount returns the number of unresolved exchanges.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Received:         d.received.Load(),
		ProtocolWarnings: d.protocolWarnings.Load(),
		Pending:          d.PendingCount(),
	}
}

// RecordSend remembers a description of the request sent with sendID, it is reported when the
// host raises an exception nobody waits for.
func (d *Dispatcher) RecordSend(sendID uint32, description string) {
	d.recordMu.Lock()
	defer d.recordMu.Unlock()

	record := sendRecord{sendID: sendID, description: description}
	if len(d.records) < cap(d.records) {
		d.records = append(d.records, record)
		return
	}
	d.records[d.recordIndex] = record
	d.recordIndex = (d.recordIndex + 1) % len(d.records)
}

// FindSendRecord returns the description recorded for sendID.
func (d *Dispatcher) FindSendRecord(sendID uint32) (string, bool) {
	d.recordMu.Lock()
	defer d.recordMu.Unlock()

	for i := range d.records {
		if d.records[i].sendID == sendID {
			return d.records[i].description, true
		}
	}
	return "", false
}

// Dispatch decodes one host frame and routes it. Errors are non fatal, the frame is dropped.
func (d *Dispatcher) Dispatch(frame []byte) error {
	d.received.Add(1)

	header, msg, err := protocol.UnpackRecv(frame)
	if err != nil {
		d.ProtocolWarning("drop undecodable frame", "recv_id", header.RecvID.String(), "size", len(frame), "error", err)
		return err
	}

	switch m := msg.(type) {
	case *protocol.RecvAck:
		if !d.resolve(AwaitKey{Type: AwaitTypeAck, ID: m.SendID}, header, msg) {
			d.ProtocolWarning("ack for unknown send id", "send_id", m.SendID)
		}
		return nil
	case *protocol.RecvOpen:
		if !d.resolve(AwaitKey{Type: AwaitTypeOpen}, header, msg) {
			d.ProtocolWarning("unexpected open response", "application", m.ApplicationName)
		}
		return nil
	case *protocol.RecvSystemState:
		if !d.resolve(AwaitKey{Type: AwaitTypeSystemState, ID: uint32(m.RequestID)}, header, msg) {
			d.ProtocolWarning("system state for unknown request", "request_id", uint32(m.RequestID))
		}
		return nil
	case *protocol.RecvException:
		return d.dispatchException(header, m)
	case *protocol.RecvSimObjectData:
		if m.ByType {
			if !d.collect(header, m) {
				d.ProtocolWarning("data by type for unknown request", "request_id", uint32(m.RequestID))
			}
			return nil
		}
	}

	d.mu.Lock()
	handler := d.handlers[header.RecvID]
	d.mu.Unlock()

	if handler == nil {
		if header.RecvID != protocol.RecvIDNull {
			d.ProtocolWarning("no handler for message", "recv_id", header.RecvID.String())
		}
		return nil
	}

	if err := handler(header, msg); err != nil {
		d.logger.Warn("message handler failed", "recv_id", header.RecvID.String(), "error", err)
		return err
	}
	return nil
}

func (d *Dispatcher) dispatchException(header protocol.RecvHeader, m *protocol.RecvException) error {
	hostErr := m.AsError()

	d.mu.Lock()
	exchange := d.bySendID[m.SendID]
	handler := d.handlers[protocol.RecvIDException]
	d.mu.Unlock()

	if exchange != nil && d.finish(exchange, ResumeData{Header: header, Message: m, Error: hostErr}) {
		return nil
	}

	description, ok := d.FindSendRecord(m.SendID)
	if !ok {
		description = "send record not found"
	}
	d.ProtocolWarning("unmatched host exception", "exception", m.Exception.String(),
		"send_id", m.SendID, "index", m.Index, "request", description)

	if handler != nil {
		return handler(header, m)
	}
	return nil
}

func (d *Dispatcher) resolve(key AwaitKey, header protocol.RecvHeader, msg protocol.Recv) bool {
	d.mu.Lock()
	exchange := d.pending[key]
	d.mu.Unlock()

	if exchange == nil {
		return false
	}
	return d.finish(exchange, ResumeData{Header: header, Message: msg})
}

// collect appends one entry of a by type response, the exchange completes on the last entry.
// An empty result arrives as a single entry with OutOf 0.
func (d *Dispatcher) collect(header protocol.RecvHeader, m *protocol.RecvSimObjectData) bool {
	key := AwaitKey{Type: AwaitTypeDataByType, ID: uint32(m.RequestID)}

	d.mu.Lock()
	exchange := d.pending[key]
	if exchange == nil || exchange.finished {
		d.mu.Unlock()
		return false
	}
	if m.OutOf > 0 {
		exchange.collected = append(exchange.collected, m)
	}
	done := m.OutOf == 0 || m.EntryNumber >= m.OutOf
	collected := exchange.collected
	d.mu.Unlock()

	if done {
		d.finish(exchange, ResumeData{Header: header, Message: m, Messages: collected})
	}
	return true
}

func (d *Dispatcher) finish(exchange *PendingExchange, data ResumeData) bool {
	d.mu.Lock()
	if exchange.finished {
		d.mu.Unlock()
		return false
	}
	exchange.finished = true
	if d.pending[exchange.options.Key] == exchange {
		delete(d.pending, exchange.options.Key)
	}
	if exchange.options.SendID != 0 && d.bySendID[exchange.options.SendID] == exchange {
		delete(d.bySendID, exchange.options.SendID)
	}
	d.mu.Unlock()

	if exchange.timer != nil {
		exchange.timer.Stop()
	}
	exchange.resume <- data
	return true
}

// ProtocolWarning logs and counts a non fatal protocol anomaly.
func (d *Dispatcher) ProtocolWarning(msg string, args ...any) {
	d.protocolWarnings.Add(1)
	d.logger.Warn(msg, append(args, "kind", error_code.EN_SIMCONNECT_ERR_PROTOCOL_WARNING.String())...)
}
