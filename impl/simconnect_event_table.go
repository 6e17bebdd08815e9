package libsimconnect_impl

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	error_code "github.com/atframework/libsimconnect-go/error_code"
	types "github.com/atframework/libsimconnect-go/types"
)

// EventKind tells how an event name is registered with the host.
type EventKind int32

const (
	// EventKindSystem is a host system event, subscribed with SubscribeToSystemEvent
	EventKindSystem EventKind = iota
	// EventKindClient is a simulation event mapped to a client event id
	EventKindClient
)

func (k EventKind) String() string {
	if k == EventKindSystem {
		return "system"
	}
	return "client"
}

// InputMapping binds an input spec to a client event within an input group.
type InputMapping struct {
	GroupID types.InputGroupID
	Spec    string
}

// EventSubscription is one registered event name.
type EventSubscription struct {
	ID         types.ClientEventID
	Name       string
	Kind       EventKind
	SystemKind types.SystemEventKind
	GroupID    types.GroupID

	inputs []InputMapping

	// ready is closed when the host registration finished, err holds its outcome
	ready chan struct{}
	err   error

	// removed is closed once the entry left the table
	removed  chan struct{}
	retired  bool
	draining bool

	subscription *Subscription
}

// EventTable tracks event names and their client event ids.
type EventTable struct {
	mu     sync.Mutex
	byName map[string]*EventSubscription
	byID   map[types.ClientEventID]*EventSubscription

	// nextID is never reset, ids are not reused
	nextID types.ClientEventID
	groups map[types.InputGroupID]types.State
}

// CreateEventTable creates an empty table. Event ids start at firstID.
func CreateEventTable(firstID types.ClientEventID) *EventTable {
	if firstID == 0 {
		firstID = 1
	}
	return &EventTable{
		byName: make(map[string]*EventSubscription),
		byID:   make(map[types.ClientEventID]*EventSubscription),
		nextID: firstID,
		groups: make(map[types.InputGroupID]types.State),
	}
}

func normalizeEventName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Reserve returns the entry of name, creating it with a fresh id when missing.
// created is true for the caller that must complete the host registration.
func (t *EventTable) Reserve(name string, group types.GroupID) (entry *EventSubscription, created bool, err error) {
	key := normalizeEventName(name)
	if key == "" {
		return nil, false, fmt.Errorf("subscribe empty event name: %w", error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byName[key]; ok {
		return existing, false, nil
	}

	entry = &EventSubscription{
		ID:      t.nextID,
		Name:    strings.TrimSpace(name),
		Kind:    EventKindClient,
		GroupID: group,
		ready:   make(chan struct{}),
		removed: make(chan struct{}),
	}
	if kind, ok := types.LookupSystemEvent(key); ok {
		entry.Kind = EventKindSystem
		entry.SystemKind = kind
	}
	t.nextID++

	t.byName[key] = entry
	t.byID[entry.ID] = entry
	return entry, true, nil
}

// Complete finishes the registration of a reserved entry. A failed entry is removed so the
// name can be subscribed again.
func (t *EventTable) Complete(entry *EventSubscription, err error) {
	t.mu.Lock()
	entry.err = err
	if err != nil {
		t.removeLocked(entry)
	}
	t.mu.Unlock()

	close(entry.ready)
}

// BeginRemoval marks entry as leaving the table. Only the first caller gets true, a
// removed entry never does.
func (t *EventTable) BeginRemoval(entry *EventSubscription) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry.draining || entry.retired {
		return false
	}
	entry.draining = true
	return true
}

// Draining reports whether entry is being removed or already gone.
func (t *EventTable) Draining(entry *EventSubscription) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return entry.draining || entry.retired
}

// Inputs returns a copy of the input mappings of entry.
func (t *EventTable) Inputs(entry *EventSubscription) []InputMapping {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]InputMapping, len(entry.inputs))
	copy(out, entry.inputs)
	return out
}

// Bind attaches the subscription delivering notifications of entry.
func (t *EventTable) Bind(entry *EventSubscription, sub *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry.subscription = sub
}

// Subscription returns the subscription bound to an event id.
func (t *EventTable) Subscription(id types.ClientEventID) (*Subscription, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.byID[id]
	if !ok || entry.subscription == nil {
		return nil, false
	}
	return entry.subscription, true
}

// Get returns the entry of an event id.
func (t *EventTable) Get(id types.ClientEventID) (*EventSubscription, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.byID[id]
	return entry, ok
}

// Lookup returns the entry of an event name.
func (t *EventTable) Lookup(name string) (*EventSubscription, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.byName[normalizeEventName(name)]
	return entry, ok
}

// Allocated reports whether id was handed out by this table.
func (t *EventTable) Allocated(id types.ClientEventID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return id != 0 && id < t.nextID
}

// CheckInput validates a mapping request without changing the table.
func (t *EventTable) CheckInput(id types.ClientEventID, spec string) (*EventSubscription, error) {
	if !types.IsValidInputSpec(spec) {
		return nil, fmt.Errorf("input spec %q: %w", spec, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.byID[id]
	if !ok {
		return nil, fmt.Errorf("event %d: %w", id, error_code.EN_SIMCONNECT_ERR_EVENT_NOT_FOUND)
	}
	if entry.Kind != EventKindClient {
		return nil, fmt.Errorf("map input to system event %s: %w", entry.Name, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	}
	for _, m := range entry.inputs {
		if strings.EqualFold(m.Spec, spec) {
			return nil, fmt.Errorf("input %q already mapped to %s: %w", spec, entry.Name, error_code.EN_SIMCONNECT_ERR_DUPLICATE_DEFINITION)
		}
	}
	return entry, nil
}

// AddInput records a mapping acknowledged by the host. It reports whether the input group
// is new and still has to be switched on.
func (t *EventTable) AddInput(entry *EventSubscription, mapping InputMapping) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry.inputs = append(entry.inputs, mapping)
	_, known := t.groups[mapping.GroupID]
	if !known {
		t.groups[mapping.GroupID] = types.StateOff
	}
	return !known
}

// SetGroupState records the state of an input group.
func (t *EventTable) SetGroupState(group types.InputGroupID, state types.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.groups[group] = state
}

// GroupState returns the recorded state of an input group.
func (t *EventTable) GroupState(group types.InputGroupID) (types.State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.groups[group]
	return state, ok
}

// Remove deletes an entry.
func (t *EventTable) Remove(entry *EventSubscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(entry)
}

func (t *EventTable) removeLocked(entry *EventSubscription) {
	if t.byID[entry.ID] == entry {
		delete(t.byID, entry.ID)
	}
	key := normalizeEventName(entry.Name)
	if t.byName[key] == entry {
		delete(t.byName, key)
	}
	retireLocked(entry)
}

func retireLocked(entry *EventSubscription) {
	if !entry.retired {
		entry.retired = true
		close(entry.removed)
	}
}

// Reset forgets every entry and input group, ids keep increasing.
func (t *EventTable) Reset() []*EventSubscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*EventSubscription, 0, len(t.byID))
	for _, entry := range t.byID {
		retireLocked(entry)
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	t.byName = make(map[string]*EventSubscription)
	t.byID = make(map[types.ClientEventID]*EventSubscription)
	t.groups = make(map[types.InputGroupID]types.State)
	return out
}

// Len returns the number of entries.
func (t *EventTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}
