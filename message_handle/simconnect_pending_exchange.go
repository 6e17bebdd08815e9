package libsimconnect_message_handle

import (
	"context"
	"fmt"
	"time"

	error_code "github.com/atframework/libsimconnect-go/error_code"
	protocol "github.com/atframework/libsimconnect-go/protocol"
)

// PendingExchange is a request waiting for its host response. It resolves exactly once.
type PendingExchange struct {
	dispatcher *Dispatcher
	options    AwaitOptions
	timer      *time.Timer

	// guarded by dispatcher.mu
	finished  bool
	collected []protocol.Recv

	resume chan ResumeData
}

// GetKey returns the key the exchange is registered under.
func (p *PendingExchange) GetKey() AwaitKey {
	return p.options.Key
}

// GetSendID returns the send id used for exception matching.
func (p *PendingExchange) GetSendID() uint32 {
	return p.options.SendID
}

// Done returns a channel receiving the resume data once.
func (p *PendingExchange) Done() <-chan ResumeData {
	return p.resume
}

// Wait blocks until the exchange resolves or ctx ends. A cancelled wait removes the exchange.
func (p *PendingExchange) Wait(ctx context.Context) (ResumeData, error) {
	select {
	case data := <-p.resume:
		return data, data.Error
	case <-ctx.Done():
		p.Cancel(ctx.Err())
		data := <-p.resume
		return data, data.Error
	}
}

// Cancel resolves the exchange with err if it is still pending.
func (p *PendingExchange) Cancel(err error) bool {
	if err == nil {
		err = error_code.EN_SIMCONNECT_ERR_CLOSING
	}
	return p.dispatcher.finish(p, ResumeData{
		Error: fmt.Errorf("await %s %d cancelled: %w", p.options.Key.Type, p.options.Key.ID, err),
	})
}
