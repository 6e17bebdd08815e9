package libsimconnect_impl

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	types "github.com/atframework/libsimconnect-go/types"
)

// SubscriptionKind tells what a subscription delivers.
type SubscriptionKind int32

const (
	SubscriptionKindData SubscriptionKind = iota
	SubscriptionKindEvent
)

// SimData is one delivered data update.
type SimData struct {
	RequestID    types.RequestID
	ObjectID     types.ObjectID
	DefinitionID types.DefinitionID
	Fingerprint  uint32
	Flags        types.RequestFlag
	// EntryNumber and OutOf are set for by type responses, 1-based
	EntryNumber uint32
	OutOf       uint32
	Values      []SimValue
	Received    time.Time
}

// Get returns the value of a variable by name, case-insensitive.
func (d *SimData) Get(name string) (SimValue, bool) {
	key := normalizeEventName(name)
	for i := range d.Values {
		if normalizeEventName(d.Values[i].Name) == key {
			return d.Values[i], true
		}
	}
	return SimValue{}, false
}

// SimEvent is one delivered event notification.
type SimEvent struct {
	EventID types.ClientEventID
	Name    string
	GroupID types.GroupID
	Data    uint32
	// FileName is set for filename system events
	FileName string
	// FrameRate and SimSpeed are set for frame system events
	FrameRate float32
	SimSpeed  float32
	Received  time.Time
}

// Notification is what a subscription delivers, exactly one of Data and Event is set.
type Notification struct {
	Subscription *Subscription
	Data         *SimData
	Event        *SimEvent
}

// NotificationHandler consumes notifications on the delivery goroutine.
type NotificationHandler func(Notification)

// SubscriptionOption configures a subscription.
type SubscriptionOption func(*subscriptionOptions)

type subscriptionOptions struct {
	handler    NotificationHandler
	bufferSize int
	tagged     bool
	objectID   types.ObjectID
	interval   uint32
	limit      uint32
	group      types.GroupID
}

// WithHandler delivers through handler instead of the subscription channel.
func WithHandler(handler NotificationHandler) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.handler = handler
	}
}

// WithBufferSize overrides the channel buffer of the subscription.
func WithBufferSize(size int) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.bufferSize = size
	}
}

// WithTagged requests tagged data, only changed variables are sent with on-change.
func WithTagged() SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.tagged = true
	}
}

// WithObject targets an object other than the user aircraft.
func WithObject(id types.ObjectID) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.objectID = id
	}
}

// WithInterval skips interval periods between updates and stops after limit updates, 0 for no limit.
func WithInterval(interval uint32, limit uint32) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.interval = interval
		o.limit = limit
	}
}

// WithNotificationGroup adds a mapped client event to group instead of the default group.
func WithNotificationGroup(group types.GroupID) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.group = group
	}
}

// Subscription is a data request or an event subscription. Notifications arrive on C() unless
// a handler was given.
type Subscription struct {
	client *Client
	kind   SubscriptionKind

	requestID    types.RequestID
	definitionID types.DefinitionID
	objectID     types.ObjectID
	period       types.Period
	flags        types.RequestFlag
	definition   *DataDefinition
	event        *EventSubscription

	handler NotificationHandler
	ch      chan Notification

	// cancelled is closed once unsubscribing starts, deliveries stop from then on
	cancelled     chan struct{}
	cancelOnce    sync.Once
	unsubscribing atomic.Bool
	// done is closed by the delivery goroutine after the last notification
	done      chan struct{}
	closeOnce sync.Once

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func newSubscription(client *Client, kind SubscriptionKind, opts *subscriptionOptions, defaultBuffer int) *Subscription {
	s := &Subscription{
		client:    client,
		kind:      kind,
		handler:   opts.handler,
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
	}
	if s.handler == nil {
		size := opts.bufferSize
		if size <= 0 {
			size = defaultBuffer
		}
		s.ch = make(chan Notification, size)
	}
	return s
}

// Kind returns what the subscription delivers.
func (s *Subscription) Kind() SubscriptionKind {
	return s.kind
}

// C returns the notification channel. It is closed after the subscription ended and every
// notification was delivered. nil for handler subscriptions.
func (s *Subscription) C() <-chan Notification {
	return s.ch
}

// Done is closed when the subscription delivered its last notification.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// RequestID returns the data request id, 0 for events.
func (s *Subscription) RequestID() types.RequestID {
	return s.requestID
}

// DefinitionID returns the data definition of a data request.
func (s *Subscription) DefinitionID() types.DefinitionID {
	return s.definitionID
}

// Period returns the update period of a data request.
func (s *Subscription) Period() types.Period {
	return s.period
}

// EventID returns the client event id, 0 for data requests.
func (s *Subscription) EventID() types.ClientEventID {
	if s.event == nil {
		return 0
	}
	return s.event.ID
}

// EventName returns the subscribed event name.
func (s *Subscription) EventName() string {
	if s.event == nil {
		return ""
	}
	return s.event.Name
}

// Delivered returns the number of notifications handed to the consumer.
func (s *Subscription) Delivered() uint64 {
	return s.delivered.Load()
}

// Cancelled reports whether unsubscribing started.
func (s *Subscription) Cancelled() bool {
	select {
	case <-s.cancelled:
		return true
	default:
		return false
	}
}

func (s *Subscription) cancel() {
	s.cancelOnce.Do(func() {
		close(s.cancelled)
	})
}

// Unsubscribe stops the subscription and waits for the host to acknowledge. Nothing is
// delivered after Unsubscribe started.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	return s.client.unsubscribe(ctx, s)
}

type deliveryItem struct {
	sub  *Subscription
	note Notification
	// finish closes the subscription after previously queued notifications
	finish bool
	// last closes the subscription after note was delivered
	last bool
	fn   func()
}

// deliveryQueue hands notifications from the transport goroutine to consumers. Only its
// goroutine sends to or closes subscription channels while it runs.
//
// Notifications go through the bounded items lane and are dropped when it is full. Control
// items (closing a subscription, state callbacks) go through an unbounded lane, so push never
// blocks and a handler running on the delivery goroutine can unsubscribe or disconnect.
type deliveryQueue struct {
	items   chan deliveryItem
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once

	ctlMu    sync.Mutex
	control  []deliveryItem
	finished bool // the goroutine exited, push finishes items itself
	wake     chan struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
	discarded atomic.Uint64
}

func newDeliveryQueue(size int) *deliveryQueue {
	if size <= 0 {
		size = 1024
	}
	q := &deliveryQueue{
		items:   make(chan deliveryItem, size),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}
	go q.run()
	return q
}

// offer enqueues a notification without blocking, false when the queue is full.
func (q *deliveryQueue) offer(item deliveryItem) bool {
	select {
	case q.items <- item:
		return true
	default:
		q.dropped.Add(1)
		if item.sub != nil {
			item.sub.dropped.Add(1)
		}
		return false
	}
}

// push enqueues a control item. It never blocks and keeps the order of pushes.
func (q *deliveryQueue) push(item deliveryItem) {
	q.ctlMu.Lock()
	if q.finished {
		q.ctlMu.Unlock()
		q.abandon(item)
		return
	}
	q.control = append(q.control, item)
	q.ctlMu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *deliveryQueue) takeControl() []deliveryItem {
	q.ctlMu.Lock()
	defer q.ctlMu.Unlock()
	ret := q.control
	q.control = nil
	return ret
}

// abandon finishes the subscription of an item the stopped queue will not deliver.
func (q *deliveryQueue) abandon(item deliveryItem) {
	if (item.finish || item.last) && item.sub != nil {
		item.sub.cancel()
		q.closeSubscription(item.sub)
	}
}

func (q *deliveryQueue) run() {
	defer close(q.stopped)

	for {
		select {
		case <-q.stop:
			q.drain()
			return
		case <-q.wake:
			// notifications offered before the control items go first
			control := q.takeControl()
			for n := len(q.items); n > 0; n-- {
				q.handle(<-q.items)
			}
			for _, item := range control {
				q.handle(item)
			}
		case item := <-q.items:
			q.handle(item)
		}
	}
}

func (q *deliveryQueue) drain() {
	q.ctlMu.Lock()
	pending := q.control
	q.control = nil
	q.finished = true
	q.ctlMu.Unlock()

	for _, item := range pending {
		q.abandon(item)
	}
	for {
		select {
		case item := <-q.items:
			q.abandon(item)
		default:
			return
		}
	}
}

func (q *deliveryQueue) handle(item deliveryItem) {
	if item.fn != nil {
		item.fn()
		return
	}

	sub := item.sub
	if sub == nil {
		return
	}

	if item.finish {
		sub.cancel()
		q.closeSubscription(sub)
		return
	}

	if item.last {
		defer q.closeSubscription(sub)
	}

	if sub.Cancelled() {
		q.discarded.Add(1)
		return
	}

	if sub.handler != nil {
		sub.handler(item.note)
		sub.delivered.Add(1)
		q.delivered.Add(1)
		return
	}

	select {
	case sub.ch <- item.note:
		sub.delivered.Add(1)
		q.delivered.Add(1)
	case <-sub.cancelled:
		q.discarded.Add(1)
	case <-q.stop:
		q.discarded.Add(1)
	}
}

func (q *deliveryQueue) closeSubscription(sub *Subscription) {
	sub.closeOnce.Do(func() {
		if sub.ch != nil {
			close(sub.ch)
		}
		close(sub.done)
	})
}

func (q *deliveryQueue) close() {
	q.once.Do(func() {
		close(q.stop)
	})
	<-q.stopped
}
