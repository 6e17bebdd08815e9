package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/spf13/cobra"

	libsimconnect_bridge "github.com/atframework/libsimconnect-go/bridge"
	error_code "github.com/atframework/libsimconnect-go/error_code"
	impl "github.com/atframework/libsimconnect-go/impl"
	types "github.com/atframework/libsimconnect-go/types"
)

var objectTypeNames = map[string]types.SimObjectType{
	"user":       types.SimObjectTypeUser,
	"all":        types.SimObjectTypeAll,
	"aircraft":   types.SimObjectTypeAircraft,
	"helicopter": types.SimObjectTypeHelicopter,
	"boat":       types.SimObjectTypeBoat,
	"ground":     types.SimObjectTypeGround,
}

var priorityNames = map[string]types.GroupPriority{
	"highest":          types.GroupPriorityHighest,
	"highest-maskable": types.GroupPriorityHighestMaskable,
	"standard":         types.GroupPriorityStandard,
	"default":          types.GroupPriorityDefault,
	"lowest":           types.GroupPriorityLowest,
}

type shell struct {
	app     *appContext
	root    *CommandNode
	out     io.Writer
	rl      *readline.Instance
	timeout time.Duration
	started time.Time

	mu     sync.Mutex
	client *impl.Client
	data   map[types.RequestID]*impl.Subscription
	events map[string]*impl.Subscription
}

func newShell(app *appContext, out io.Writer) *shell {
	sh := &shell{
		app:     app,
		root:    newCommandRoot(),
		out:     out,
		timeout: 10 * time.Second,
		started: time.Now(),
		data:    make(map[types.RequestID]*impl.Subscription),
		events:  make(map[string]*impl.Subscription),
	}
	sh.registerCommands()
	return sh
}

func (sh *shell) registerCommands() {
	sh.root.Register([]string{"connect"}, cmdConnect, "", "open the session with the host", nil)
	sh.root.Register([]string{"disconnect"}, cmdDisconnect, "", "close the session", nil)
	sh.root.Register([]string{"status"}, cmdStatus, "", "connection status and host information", nil)
	sh.root.Register([]string{"stats"}, cmdStats, "", "client counters and process resources", nil)

	sh.root.Register([]string{"define"}, cmdDefine, "<definition-id> <name> <unit> [type]", "add a variable to a definition", nil)
	sh.root.Register([]string{"clear"}, cmdClear, "<definition-id>", "clear a definition", nil)
	sh.root.Register([]string{"request"}, cmdRequest, "<definition-id> <period> [tagged] [object-id]", "subscribe to a definition",
		func(string) []string { return []string{"once", "every-frame", "every-second", "on-change"} })
	sh.root.Register([]string{"unsubscribe"}, cmdUnsubscribe, "<request-id>", "stop a data subscription", sh.completeRequests)
	sh.root.Register([]string{"subs"}, cmdSubscriptions, "", "list subscriptions", nil)
	sh.root.Register([]string{"set"}, cmdSet, "<definition-id> <object-id> <value>...", "write values to an object", nil)
	sh.root.Register([]string{"bytype"}, cmdByType, "<definition-id> <radius-meters> <object-type>", "request data of nearby objects",
		func(string) []string { return sortedKeys(objectTypeNames) })
	sh.root.Register([]string{"state"}, cmdState, "<name>", "query a system state",
		func(string) []string { return []string{"AircraftLoaded", "DialogMode", "FlightLoaded", "FlightPlan", "Sim"} })

	sh.root.Register([]string{"event", "subscribe"}, cmdEventSubscribe, "<name> [group-id]", "subscribe to an event", nil)
	sh.root.Register([]string{"event", "unsubscribe"}, cmdEventUnsubscribe, "<name>", "stop an event subscription", sh.completeEvents)
	sh.root.Register([]string{"event", "transmit"}, cmdEventTransmit, "<name> [data]", "transmit a subscribed client event", sh.completeEvents)
	sh.root.Register([]string{"event", "priority"}, cmdEventPriority, "<group-id> <priority>", "set a notification group priority",
		func(string) []string { return sortedKeys(priorityNames) })

	sh.root.Register([]string{"input", "map"}, cmdInputMap, "<event> <input> <group-id>", "map an input to a subscribed client event", sh.completeEvents)
	sh.root.Register([]string{"input", "state"}, cmdInputState, "<group-id> <on|off>", "enable or disable an input group",
		func(string) []string { return []string{"on", "off"} })
	sh.root.Register([]string{"input", "priority"}, cmdInputPriority, "<group-id> <priority>", "set an input group priority",
		func(string) []string { return sortedKeys(priorityNames) })
}

func sortedKeys[T any](m map[string]T) []string {
	ret := make([]string, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

func (sh *shell) completeRequests(string) []string {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	ret := make([]string, 0, len(sh.data))
	for id := range sh.data {
		ret = append(ret, strconv.FormatUint(uint64(id), 10))
	}
	sort.Strings(ret)
	return ret
}

func (sh *shell) completeEvents(string) []string {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	ret := make([]string, 0, len(sh.events))
	for _, sub := range sh.events {
		ret = append(ret, sub.EventName())
	}
	sort.Strings(ret)
	return ret
}

func (sh *shell) print(text string) {
	fmt.Fprintln(sh.out, text)
	if sh.rl != nil {
		sh.rl.Refresh()
	}
}

// printNotification runs on the client delivery goroutine.
func (sh *shell) printNotification(n impl.Notification) {
	msg, err := libsimconnect_bridge.EncodeNotification(n)
	if err != nil {
		sh.print("notification: " + err.Error())
		return
	}
	payload, err := libsimconnect_bridge.Marshal(msg, libsimconnect_bridge.FormatJSON)
	if err != nil {
		sh.print("notification: " + err.Error())
		return
	}
	sh.print(string(payload))
}

func (sh *shell) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), sh.timeout)
}

func (sh *shell) connected() (*impl.Client, error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.client == nil {
		return nil, error_code.EN_SIMCONNECT_ERR_NOT_CONNECTED
	}
	return sh.client, nil
}

// Execute runs one line and returns what should be printed.
func (sh *shell) Execute(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	args, node := sh.root.Find(input)
	if node == sh.root {
		if strings.EqualFold(strings.TrimSpace(input), "help") {
			return AllHelpString(sh.root)
		}
		return "unknown command: " + input
	}
	if node.Func == nil {
		return AllHelpString(node)
	}
	return node.Func(sh, args)
}

func (sh *shell) close() {
	sh.mu.Lock()
	c := sh.client
	sh.client = nil
	sh.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

func errorResult(err error) string {
	var hostErr *error_code.HostExceptionError
	if errors.As(err, &hostErr) {
		return fmt.Sprintf("host exception %s at parameter %d", hostErr.Exception.String(), hostErr.Index)
	}
	return "error: " + err.Error()
}

func parseUint32(value string) (uint32, error) {
	v, err := strconv.ParseUint(value, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", value, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	}
	return uint32(v), nil
}

func parseValue(t types.DataType, value string) (interface{}, error) {
	switch t {
	case types.DataTypeInt32, types.DataTypeInt64:
		return strconv.ParseInt(value, 0, 64)
	case types.DataTypeFloat32, types.DataTypeFloat64:
		return strconv.ParseFloat(value, 64)
	case types.DataTypeLatLonAlt, types.DataTypeXYZ:
		parts := strings.Split(value, ",")
		if len(parts) != 3 {
			return nil, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT
		}
		var out [3]float64
		for i := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default:
		return value, nil
	}
}

func cmdConnect(sh *shell, _ []string) string {
	sh.mu.Lock()
	if sh.client != nil {
		sh.mu.Unlock()
		return "already connected"
	}
	sh.mu.Unlock()

	ctx, cancel := sh.context()
	defer cancel()
	c, err := sh.app.connect(ctx)
	if err != nil {
		return errorResult(err)
	}
	c.SetExceptionHandler(func(err *error_code.HostExceptionError, request string) {
		sh.print(fmt.Sprintf("host exception %s for %s, send id %d", err.Exception.String(), request, err.SendID))
	})

	sh.mu.Lock()
	sh.client = c
	sh.mu.Unlock()
	return "connected to " + c.GetConfigure().Address
}

func cmdDisconnect(sh *shell, _ []string) string {
	c, err := sh.connected()
	if err != nil {
		return errorResult(err)
	}
	sh.mu.Lock()
	sh.client = nil
	sh.data = make(map[types.RequestID]*impl.Subscription)
	sh.events = make(map[string]*impl.Subscription)
	sh.mu.Unlock()

	if err := c.Close(); err != nil {
		return errorResult(err)
	}
	return "disconnected"
}

func cmdStatus(sh *shell, _ []string) string {
	c, err := sh.connected()
	if err != nil {
		return types.ConnectionStatusDisconnected.String()
	}
	info := c.GetHostInfo()
	if info == nil {
		return c.GetStatus().String()
	}
	return fmt.Sprintf("%s to %s, application %s %d.%d build %d.%d, protocol %d", c.GetStatus().String(),
		c.GetConfigure().Address, info.ApplicationName, info.ApplicationVersion[0], info.ApplicationVersion[1],
		info.ApplicationBuild[0], info.ApplicationBuild[1], info.ProtocolVersion)
}

func cmdStats(sh *shell, _ []string) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("uptime: %s\n", time.Since(sh.started).Round(time.Second)))
	builder.WriteString(fmt.Sprintf("goroutines: %d\n", runtime.NumGoroutine()))

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := p.MemoryInfo(); err == nil {
			builder.WriteString(fmt.Sprintf("process rss: %d MB\n", info.RSS/(1024*1024)))
		}
		if cpuPercent, err := p.CPUPercent(); err == nil {
			builder.WriteString(fmt.Sprintf("process cpu: %.2f%%\n", cpuPercent))
		}
		if threads, err := p.NumThreads(); err == nil {
			builder.WriteString(fmt.Sprintf("process threads: %d\n", threads))
		}
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		builder.WriteString(fmt.Sprintf("system memory: %d MB total, %.1f%% used\n", vmem.Total/(1024*1024), vmem.UsedPercent))
	}

	c, err := sh.connected()
	if err != nil {
		builder.WriteString("client: disconnected")
		return builder.String()
	}
	stats := c.Stats()
	builder.WriteString(fmt.Sprintf("client: %s, connects %d, sent %d, received %d, pending %d\n",
		stats.Status.String(), stats.Connects, stats.SentRequests, stats.Received, stats.PendingRequests))
	builder.WriteString(fmt.Sprintf("delivery: delivered %d, dropped %d, late %d, protocol warnings %d\n",
		stats.Delivered, stats.DeliveryDropped, stats.LateDiscarded, stats.ProtocolWarnings))
	builder.WriteString(fmt.Sprintf("subscriptions: data %d, events %d, last packet %d",
		stats.DataSubscriptions, stats.EventSubscriptions, stats.LastSentPacketID))
	return builder.String()
}

func cmdDefine(sh *shell, args []string) string {
	if len(args) < 3 {
		return "usage: define <definition-id> <name> <unit> [type]"
	}
	c, err := sh.connected()
	if err != nil {
		return errorResult(err)
	}
	id, err := parseUint32(args[0])
	if err != nil {
		return errorResult(err)
	}
	dataType := types.DataTypeFloat64
	if len(args) > 3 {
		t, ok := types.ParseDataType(args[3])
		if !ok {
			return "unknown data type " + args[3]
		}
		dataType = t
	}

	if err := c.DefineVariable(types.DefinitionID(id), args[1], args[2], dataType); err != nil {
		return errorResult(err)
	}
	def, _ := c.GetRegistry().Get(types.DefinitionID(id))
	return fmt.Sprintf("definition %d has %d variables", id, len(def.Variables()))
}

func cmdClear(sh *shell, args []string) string {
	if len(args) != 1 {
		return "usage: clear <definition-id>"
	}
	c, err := sh.connected()
	if err != nil {
		return errorResult(err)
	}
	id, err := parseUint32(args[0])
	if err != nil {
		return errorResult(err)
	}
	ctx, cancel := sh.context()
	defer cancel()
	if err := c.ClearDefinition(ctx, types.DefinitionID(id)); err != nil {
		return errorResult(err)
	}
	return fmt.Sprintf("definition %d cleared", id)
}

func cmdRequest(sh *shell, args []string) string {
	if len(args) < 2 {
		return "usage: request <definition-id> <period> [tagged] [object-id]"
	}
	c, err := sh.connected()
	if err != nil {
		return errorResult(err)
	}
	id, err := parseUint32(args[0])
	if err != nil {
		return errorResult(err)
	}
	period, ok := types.ParsePeriod(args[1])
	if !ok {
		return "unknown period " + args[1]
	}

	opts := []impl.SubscriptionOption{impl.WithHandler(sh.printNotification)}
	for _, extra := range args[2:] {
		if strings.EqualFold(extra, "tagged") {
			opts = append(opts, impl.WithTagged())
			continue
		}
		object, err := parseUint32(extra)
		if err != nil {
			return errorResult(err)
		}
		opts = append(opts, impl.WithObject(types.ObjectID(object)))
	}

	ctx, cancel := sh.context()
	defer cancel()
	sub, err := c.RequestData(ctx, types.DefinitionID(id), period, opts...)
	if err != nil {
		return errorResult(err)
	}
	if period != types.PeriodOnce {
		sh.mu.Lock()
		sh.data[sub.RequestID()] = sub
		sh.mu.Unlock()
	}
	return fmt.Sprintf("request %d on definition %d, %s", sub.RequestID(), id, period.String())
}

func cmdUnsubscribe(sh *shell, args []string) string {
	if len(args) != 1 {
		return "usage: unsubscribe <request-id>"
	}
	id, err := parseUint32(args[0])
	if err != nil {
		return errorResult(err)
	}
	sh.mu.Lock()
	sub, ok := sh.data[types.RequestID(id)]
	delete(sh.data, types.RequestID(id))
	sh.mu.Unlock()
	if !ok {
		return fmt.Sprintf("no subscription with request id %d", id)
	}

	ctx, cancel := sh.context()
	defer cancel()
	if err := sub.Unsubscribe(ctx); err != nil {
		return errorResult(err)
	}
	return fmt.Sprintf("request %d stopped after %d updates", id, sub.Delivered())
}

func cmdSubscriptions(sh *shell, _ []string) string {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	table := [][]string{{"Kind", "Id", "Detail"}}
	for _, id := range sortedRequestIDs(sh.data) {
		sub := sh.data[id]
		table = append(table, []string{"data", strconv.FormatUint(uint64(id), 10),
			fmt.Sprintf("definition %d, %s, %d delivered", sub.DefinitionID(), sub.Period().String(), sub.Delivered())})
	}
	for _, name := range sortedKeys(sh.events) {
		sub := sh.events[name]
		table = append(table, []string{"event", strconv.FormatUint(uint64(sub.EventID()), 10),
			fmt.Sprintf("%s, %d delivered", sub.EventName(), sub.Delivered())})
	}
	return print3Cols(table)
}

func sortedRequestIDs(m map[types.RequestID]*impl.Subscription) []types.RequestID {
	ret := make([]types.RequestID, 0, len(m))
	for id := range m {
		ret = append(ret, id)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

func cmdSet(sh *shell, args []string) string {
	if len(args) < 3 {
		return "usage: set <definition-id> <object-id> <value>..."
	}
	c, err := sh.connected()
	if err != nil {
		return errorResult(err)
	}
	id, err := parseUint32(args[0])
	if err != nil {
		return errorResult(err)
	}
	object, err := parseUint32(args[1])
	if err != nil {
		return errorResult(err)
	}
	def, ok := c.GetRegistry().Get(types.DefinitionID(id))
	if !ok {
		return errorResult(error_code.EN_SIMCONNECT_ERR_DEFINITION_NOT_FOUND)
	}
	variables := def.Variables()
	if len(args)-2 != len(variables) {
		return fmt.Sprintf("definition %d takes %d values", id, len(variables))
	}

	values := make([]interface{}, 0, len(variables))
	for i := range variables {
		v, err := parseValue(variables[i].DataType, args[i+2])
		if err != nil {
			return fmt.Sprintf("value of %s: %s", variables[i].Name, err.Error())
		}
		values = append(values, v)
	}

	ctx, cancel := sh.context()
	defer cancel()
	if err := c.SetData(ctx, types.DefinitionID(id), types.ObjectID(object), values); err != nil {
		return errorResult(err)
	}
	return fmt.Sprintf("set %d values on object %d", len(values), object)
}

func cmdByType(sh *shell, args []string) string {
	if len(args) != 3 {
		return "usage: bytype <definition-id> <radius-meters> <object-type>"
	}
	c, err := sh.connected()
	if err != nil {
		return errorResult(err)
	}
	id, err := parseUint32(args[0])
	if err != nil {
		return errorResult(err)
	}
	radius, err := parseUint32(args[1])
	if err != nil {
		return errorResult(err)
	}
	objectType, ok := objectTypeNames[strings.ToLower(args[2])]
	if !ok {
		return "unknown object type " + args[2]
	}

	ctx, cancel := sh.context()
	defer cancel()
	results, err := c.RequestDataByType(ctx, types.DefinitionID(id), radius, objectType)
	if err != nil {
		return errorResult(err)
	}
	for _, data := range results {
		sh.printNotification(impl.Notification{Data: data})
	}
	return fmt.Sprintf("%d objects", len(results))
}

func cmdState(sh *shell, args []string) string {
	if len(args) != 1 {
		return "usage: state <name>"
	}
	c, err := sh.connected()
	if err != nil {
		return errorResult(err)
	}
	ctx, cancel := sh.context()
	defer cancel()
	state, err := c.RequestSystemState(ctx, args[0])
	if err != nil {
		return errorResult(err)
	}
	return fmt.Sprintf("%s: integer %d, float %g, string %q", args[0], state.Integer, state.Float, state.String)
}

func cmdEventSubscribe(sh *shell, args []string) string {
	if len(args) < 1 || len(args) > 2 {
		return "usage: event subscribe <name> [group-id]"
	}
	c, err := sh.connected()
	if err != nil {
		return errorResult(err)
	}
	opts := []impl.SubscriptionOption{impl.WithHandler(sh.printNotification)}
	if len(args) == 2 {
		group, err := parseUint32(args[1])
		if err != nil {
			return errorResult(err)
		}
		opts = append(opts, impl.WithNotificationGroup(types.GroupID(group)))
	}

	ctx, cancel := sh.context()
	defer cancel()
	sub, err := c.SubscribeEvent(ctx, args[0], opts...)
	if err != nil {
		return errorResult(err)
	}
	sh.mu.Lock()
	sh.events[strings.ToLower(args[0])] = sub
	sh.mu.Unlock()
	return fmt.Sprintf("event %s has id %d", sub.EventName(), sub.EventID())
}

func cmdEventUnsubscribe(sh *shell, args []string) string {
	if len(args) != 1 {
		return "usage: event unsubscribe <name>"
	}
	c, err := sh.connected()
	if err != nil {
		return errorResult(err)
	}
	ctx, cancel := sh.context()
	defer cancel()
	if err := c.UnsubscribeEvent(ctx, args[0]); err != nil {
		return errorResult(err)
	}
	sh.mu.Lock()
	delete(sh.events, strings.ToLower(args[0]))
	sh.mu.Unlock()
	return "unsubscribed " + args[0]
}

func (sh *shell) eventID(name string) (types.ClientEventID, error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sub, ok := sh.events[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("%s is not subscribed: %w", name, error_code.EN_SIMCONNECT_ERR_EVENT_NOT_FOUND)
	}
	return sub.EventID(), nil
}

func cmdEventTransmit(sh *shell, args []string) string {
	if len(args) < 1 || len(args) > 2 {
		return "usage: event transmit <name> [data]"
	}
	c, err := sh.connected()
	if err != nil {
		return errorResult(err)
	}
	id, err := sh.eventID(args[0])
	if err != nil {
		return errorResult(err)
	}
	var data uint32
	if len(args) == 2 {
		if data, err = parseUint32(args[1]); err != nil {
			return errorResult(err)
		}
	}

	ctx, cancel := sh.context()
	defer cancel()
	if err := c.TransmitEvent(ctx, id, data); err != nil {
		return errorResult(err)
	}
	return fmt.Sprintf("transmitted %s with %d", args[0], data)
}

func parsePriority(value string) (types.GroupPriority, error) {
	if p, ok := priorityNames[strings.ToLower(value)]; ok {
		return p, nil
	}
	v, err := parseUint32(value)
	return types.GroupPriority(v), err
}

func cmdEventPriority(sh *shell, args []string) string {
	if len(args) != 2 {
		return "usage: event priority <group-id> <priority>"
	}
	c, err := sh.connected()
	if err != nil {
		return errorResult(err)
	}
	group, err := parseUint32(args[0])
	if err != nil {
		return errorResult(err)
	}
	priority, err := parsePriority(args[1])
	if err != nil {
		return errorResult(err)
	}

	ctx, cancel := sh.context()
	defer cancel()
	if err := c.SetNotificationGroupPriority(ctx, types.GroupID(group), priority); err != nil {
		return errorResult(err)
	}
	return fmt.Sprintf("notification group %d priority %d", group, priority)
}

func cmdInputMap(sh *shell, args []string) string {
	if len(args) != 3 {
		return "usage: input map <event> <input> <group-id>"
	}
	c, err := sh.connected()
	if err != nil {
		return errorResult(err)
	}
	id, err := sh.eventID(args[0])
	if err != nil {
		return errorResult(err)
	}
	group, err := parseUint32(args[2])
	if err != nil {
		return errorResult(err)
	}

	ctx, cancel := sh.context()
	defer cancel()
	if err := c.MapInput(ctx, id, args[1], types.InputGroupID(group)); err != nil {
		return errorResult(err)
	}
	return fmt.Sprintf("%s mapped to %s in input group %d", args[1], args[0], group)
}

func cmdInputState(sh *shell, args []string) string {
	if len(args) != 2 {
		return "usage: input state <group-id> <on|off>"
	}
	c, err := sh.connected()
	if err != nil {
		return errorResult(err)
	}
	group, err := parseUint32(args[0])
	if err != nil {
		return errorResult(err)
	}
	var state types.State
	switch strings.ToLower(args[1]) {
	case "on":
		state = types.StateOn
	case "off":
		state = types.StateOff
	default:
		return "state must be on or off"
	}

	ctx, cancel := sh.context()
	defer cancel()
	if err := c.SetInputGroupState(ctx, types.InputGroupID(group), state); err != nil {
		return errorResult(err)
	}
	return fmt.Sprintf("input group %d %s", group, strings.ToLower(args[1]))
}

func cmdInputPriority(sh *shell, args []string) string {
	if len(args) != 2 {
		return "usage: input priority <group-id> <priority>"
	}
	c, err := sh.connected()
	if err != nil {
		return errorResult(err)
	}
	group, err := parseUint32(args[0])
	if err != nil {
		return errorResult(err)
	}
	priority, err := parsePriority(args[1])
	if err != nil {
		return errorResult(err)
	}

	ctx, cancel := sh.context()
	defer cancel()
	if err := c.SetInputGroupPriority(ctx, types.InputGroupID(group), priority); err != nil {
		return errorResult(err)
	}
	return fmt.Sprintf("input group %d priority %d", group, priority)
}

// run reads lines until quit or end of input.
func (sh *shell) run() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[32msimconnect»\033[0m ",
		AutoComplete:    sh.root.NewCompleter(),
		HistoryFile:     sh.historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	sh.rl = rl
	sh.out = rl.Stdout()
	defer func() { sh.rl = nil }()

	fmt.Fprintln(sh.out, "Enter 'quit' to Exit, 'help' for commands, 'Tab' to AutoComplete")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "quit" || line == "exit" {
			return nil
		}
		if result := sh.Execute(line); result != "" {
			fmt.Fprintln(sh.out, strings.TrimRight(result, "\n"))
		}
	}
}

func (sh *shell) historyFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return dir + string(os.PathSeparator) + "simconnect_history"
}

func newShellCommand(app *appContext) *cobra.Command {
	var autoConnect bool

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive client shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			sh := newShell(app, cmd.OutOrStdout())
			defer sh.close()
			if autoConnect {
				fmt.Fprintln(cmd.OutOrStdout(), sh.Execute("connect"))
			}
			return sh.run()
		},
	}
	cmd.Flags().BoolVar(&autoConnect, "connect", true, "connect before the first prompt")
	return cmd
}
