// Package libsimconnect_bridge forwards data updates and events of a client to Redis pub/sub
// and websocket listeners.
package libsimconnect_bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	error_code "github.com/atframework/libsimconnect-go/error_code"
	impl "github.com/atframework/libsimconnect-go/impl"
	types "github.com/atframework/libsimconnect-go/types"
)

type Options struct {
	DefinitionID types.DefinitionID
	Period       types.Period
	Variables    []impl.Variable
	Events       []string
	Format       Format
	// QueueSize bounds notifications waiting for the sinks, overflow is dropped
	QueueSize int
}

type Stats struct {
	Published uint64
	Failed    uint64
	Dropped   uint64
}

// Bridge subscribes on a connected client and publishes every notification to its sinks.
type Bridge struct {
	client *impl.Client
	opts   Options
	sinks  []Sink
	logger *slog.Logger

	queue chan impl.Notification

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

func NewBridge(client *impl.Client, opts Options, sinks ...Sink) *Bridge {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return &Bridge{
		client: client,
		opts:   opts,
		sinks:  sinks,
		logger: client.GetLogger(),
		queue:  make(chan impl.Notification, opts.QueueSize),
	}
}

func (b *Bridge) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Failed:    b.failed.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// enqueue runs on the client delivery goroutine and must not block.
func (b *Bridge) enqueue(n impl.Notification) {
	select {
	case b.queue <- n:
	default:
		b.dropped.Add(1)
	}
}

func (b *Bridge) subscribe(ctx context.Context) ([]*impl.Subscription, error) {
	var subs []*impl.Subscription
	if len(b.opts.Variables) > 0 {
		for _, v := range b.opts.Variables {
			if err := b.client.AddVariable(b.opts.DefinitionID, v); err != nil {
				return subs, fmt.Errorf("define %s: %w", v.Name, err)
			}
		}
		sub, err := b.client.RequestData(ctx, b.opts.DefinitionID, b.opts.Period, impl.WithHandler(b.enqueue))
		if err != nil {
			return subs, err
		}
		subs = append(subs, sub)
	}

	for _, name := range b.opts.Events {
		sub, err := b.client.SubscribeEvent(ctx, name, impl.WithHandler(b.enqueue))
		if err != nil {
			return subs, fmt.Errorf("subscribe %s: %w", name, err)
		}
		subs = append(subs, sub)
	}

	if len(subs) == 0 {
		return nil, fmt.Errorf("nothing to bridge: %w", error_code.EN_SIMCONNECT_ERR_PARAMS)
	}
	return subs, nil
}

// Run blocks until ctx is done or the subscriptions end with the connection.
func (b *Bridge) Run(ctx context.Context) error {
	subs, err := b.subscribe(ctx)
	defer func() {
		for _, sub := range subs {
			if !sub.Cancelled() {
				_ = sub.Unsubscribe(context.Background())
			}
		}
	}()
	if err != nil {
		return err
	}

	b.logger.Info("bridge started", "variables", len(b.opts.Variables), "events", len(b.opts.Events),
		"sinks", len(b.sinks), "format", b.opts.Format.String())

	for {
		select {
		case <-ctx.Done():
			b.flush()
			return nil
		case <-subs[0].Done():
			b.flush()
			if ctx.Err() != nil {
				return nil
			}
			return error_code.EN_SIMCONNECT_ERR_CONNECTION_LOST
		case n := <-b.queue:
			b.publish(ctx, n)
		}
	}
}

func (b *Bridge) flush() {
	for {
		select {
		case n := <-b.queue:
			b.publish(context.Background(), n)
		default:
			return
		}
	}
}

func (b *Bridge) publish(ctx context.Context, n impl.Notification) {
	msg, err := EncodeNotification(n)
	if err != nil {
		b.failed.Add(1)
		b.logger.Warn("bridge encode failed", "error", err)
		return
	}
	payload, err := Marshal(msg, b.opts.Format)
	if err != nil {
		b.failed.Add(1)
		b.logger.Warn("bridge marshal failed", "error", err)
		return
	}

	for _, sink := range b.sinks {
		if err := sink.Publish(ctx, payload); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			b.failed.Add(1)
			b.logger.Warn("bridge publish failed", "sink", sink.Name(), "error", err)
			continue
		}
		b.published.Add(1)
	}
}

// Close closes every sink.
func (b *Bridge) Close() error {
	var errs []error
	for _, sink := range b.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
