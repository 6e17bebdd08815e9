// Package libsimconnect_config loads client, host, log and bridge settings from a YAML or TOML
// file and applies SIMCONNECT_ environment overrides on top.
package libsimconnect_config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	durationpb "google.golang.org/protobuf/types/known/durationpb"
	"gopkg.in/yaml.v3"

	libsimconnect_bridge "github.com/atframework/libsimconnect-go/bridge"
	error_code "github.com/atframework/libsimconnect-go/error_code"
	hostsim "github.com/atframework/libsimconnect-go/hostsim"
	impl "github.com/atframework/libsimconnect-go/impl"
	libsimconnect_log "github.com/atframework/libsimconnect-go/log"
	types "github.com/atframework/libsimconnect-go/types"
)

// EnvPrefix prefixes every environment override, e.g. SIMCONNECT_CLIENT_REQUEST_TIMEOUT.
const EnvPrefix = "SIMCONNECT"

type ChannelSection struct {
	Keepalive              string `yaml:"keepalive" toml:"keepalive"`
	NoDelay                bool   `yaml:"no_delay" toml:"no_delay"`
	WriteQueueSize         int    `yaml:"write_queue_size" toml:"write_queue_size"`
	SendBufferLimitSize    string `yaml:"send_buffer_limit_size" toml:"send_buffer_limit_size"`
	ReceiveBufferLimitSize string `yaml:"receive_buffer_limit_size" toml:"receive_buffer_limit_size"`
	ConfirmTimeout         string `yaml:"confirm_timeout" toml:"confirm_timeout"`
}

type ClientSection struct {
	AppName         string `yaml:"app_name" toml:"app_name"`
	Address         string `yaml:"address" toml:"address"`
	ProtocolVersion uint32 `yaml:"protocol_version" toml:"protocol_version"`

	HandshakeTimeout string `yaml:"handshake_timeout" toml:"handshake_timeout"`
	RequestTimeout   string `yaml:"request_timeout" toml:"request_timeout"`

	DeliveryQueueSize      int `yaml:"delivery_queue_size" toml:"delivery_queue_size"`
	SubscriptionBufferSize int `yaml:"subscription_buffer_size" toml:"subscription_buffer_size"`

	Channel ChannelSection `yaml:"channel" toml:"channel"`
}

type HostSection struct {
	ListenAddress   string         `yaml:"listen_address" toml:"listen_address"`
	AppName         string         `yaml:"app_name" toml:"app_name"`
	FramesPerSecond uint32         `yaml:"frames_per_second" toml:"frames_per_second"`
	FrameInterval   string         `yaml:"frame_interval" toml:"frame_interval"`
	WorkerPoolSize  int            `yaml:"worker_pool_size" toml:"worker_pool_size"`
	Channel         ChannelSection `yaml:"channel" toml:"channel"`
}

type BridgeVariable struct {
	Name string `yaml:"name" toml:"name"`
	Unit string `yaml:"unit" toml:"unit"`
	Type string `yaml:"type" toml:"type"`
}

type BridgeSection struct {
	DefinitionID uint32           `yaml:"definition_id" toml:"definition_id"`
	Period       string           `yaml:"period" toml:"period"`
	Variables    []BridgeVariable `yaml:"variables" toml:"variables"`
	Events       []string         `yaml:"events" toml:"events"`
	Format       string           `yaml:"format" toml:"format"`
	QueueSize    int              `yaml:"queue_size" toml:"queue_size"`

	RedisAddress  string `yaml:"redis_address" toml:"redis_address"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`
	RedisChannel  string `yaml:"redis_channel" toml:"redis_channel"`

	WebSocketListen string `yaml:"websocket_listen" toml:"websocket_listen"`
	WebSocketPath   string `yaml:"websocket_path" toml:"websocket_path"`
}

// Configure is the whole configuration document.
type Configure struct {
	Client ClientSection                  `yaml:"client" toml:"client"`
	Log    libsimconnect_log.LogConfigure `yaml:"log" toml:"log"`
	Host   HostSection                    `yaml:"host" toml:"host"`
	Bridge BridgeSection                  `yaml:"bridge" toml:"bridge"`
}

// Default returns the configuration used when no file is given.
func Default() *Configure {
	return &Configure{
		Client: ClientSection{
			AppName:                "libsimconnect-go",
			Address:                "ipv4://127.0.0.1:500",
			HandshakeTimeout:       "10s",
			RequestTimeout:         "5s",
			DeliveryQueueSize:      1024,
			SubscriptionBufferSize: 64,
			Channel:                defaultChannelSection(),
		},
		Log: libsimconnect_log.LogConfigure{
			Level: "info",
			Sinks: []libsimconnect_log.LogSinkConfigure{{Type: "stderr"}},
		},
		Host: HostSection{
			ListenAddress:   "ipv4://127.0.0.1:500",
			AppName:         "libsimconnect-go hostsim",
			FramesPerSecond: 6,
			FrameInterval:   "166ms",
			WorkerPoolSize:  16,
			Channel:         defaultChannelSection(),
		},
		Bridge: BridgeSection{
			DefinitionID:  1,
			Period:        "every-second",
			Format:        "json",
			QueueSize:     256,
			RedisChannel:  "simconnect",
			WebSocketPath: "/simconnect",
		},
	}
}

func defaultChannelSection() ChannelSection {
	return ChannelSection{
		Keepalive:              "60s",
		NoDelay:                true,
		WriteQueueSize:         1024,
		SendBufferLimitSize:    "1MB",
		ReceiveBufferLimitSize: "1MB",
		ConfirmTimeout:         "30s",
	}
}

// Load reads path, choosing the decoder by extension, and applies environment overrides.
// An empty path only applies the overrides to Default().
func Load(path string) (*Configure, error) {
	conf := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, conf)
		case ".toml":
			_, err = toml.Decode(string(data), conf)
		default:
			return nil, fmt.Errorf("config %s: unknown extension: %w", path, error_code.EN_SIMCONNECT_ERR_PARAMS)
		}
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := LoadFromEnvironment(EnvPrefix, conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// LoadFromEnvironment overrides fields from PREFIX_SECTION_FIELD variables. Lists take comma
// separated values, lists of sections are not overridable.
func LoadFromEnvironment(prefix string, conf *Configure) error {
	return dumpEnvironmentIntoStruct(strings.ToUpper(prefix), reflect.ValueOf(conf).Elem())
}

func dumpEnvironmentIntoStruct(prefix string, dst reflect.Value) error {
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		fd := t.Field(i)
		name := strings.Split(fd.Tag.Get("yaml"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		key := prefix + "_" + strings.ToUpper(name)
		field := dst.Field(i)

		if field.Kind() == reflect.Struct {
			if err := dumpEnvironmentIntoStruct(key, field); err != nil {
				return err
			}
			continue
		}

		envVal, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if err := parseField(envVal, field); err != nil {
			return fmt.Errorf("environment %s=%q: %w", key, envVal, err)
		}
	}
	return nil
}

func parseField(value string, field reflect.Value) error {
	value = skipSpace(value)
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(v)
	case reflect.Int, reflect.Int32, reflect.Int64:
		v, err := strconv.ParseInt(value, 0, 64)
		if err != nil {
			return err
		}
		field.SetInt(v)
	case reflect.Uint32, reflect.Uint64:
		v, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return err
		}
		field.SetUint(v)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return error_code.EN_SIMCONNECT_ERR_PARAMS
		}
		parts := strings.Split(value, ",")
		out := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			if p = skipSpace(p); p != "" {
				out = reflect.Append(out, reflect.ValueOf(p))
			}
		}
		field.Set(out)
	default:
		return error_code.EN_SIMCONNECT_ERR_PARAMS
	}
	return nil
}

// ToClientConfigure converts the client section.
func (c *Configure) ToClientConfigure(out *types.ClientConfigure) error {
	types.SetDefaultClientConfigure(out)
	s := &c.Client

	out.AppName = s.AppName
	out.Address = s.Address
	out.ProtocolVersion = s.ProtocolVersion
	out.DeliveryQueueSize = s.DeliveryQueueSize
	out.SubscriptionBufferSize = s.SubscriptionBufferSize

	var err error
	if out.HandshakeTimeout, err = parseDuration("client.handshake_timeout", s.HandshakeTimeout); err != nil {
		return err
	}
	if out.RequestTimeout, err = parseDuration("client.request_timeout", s.RequestTimeout); err != nil {
		return err
	}
	return s.Channel.apply("client.channel", &out.Channel)
}

// ToHostConfigure converts the host section.
func (c *Configure) ToHostConfigure(out *hostsim.HostConfigure) error {
	hostsim.SetDefaultHostConfigure(out)
	s := &c.Host

	out.ListenAddress = s.ListenAddress
	out.AppName = s.AppName
	out.FramesPerSecond = s.FramesPerSecond
	out.WorkerPoolSize = s.WorkerPoolSize

	var err error
	if out.FrameInterval, err = parseDuration("host.frame_interval", s.FrameInterval); err != nil {
		return err
	}
	return s.Channel.apply("host.channel", &out.Channel)
}

func (s *ChannelSection) apply(path string, out *types.IoStreamConfigure) error {
	types.SetDefaultIoStreamConfigure(out)
	out.NoDelay = s.NoDelay
	if s.WriteQueueSize > 0 {
		out.WriteQueueSize = s.WriteQueueSize
	}

	var err error
	if out.Keepalive, err = parseDuration(path+".keepalive", s.Keepalive); err != nil {
		return err
	}
	if out.ConfirmTimeout, err = parseDuration(path+".confirm_timeout", s.ConfirmTimeout); err != nil {
		return err
	}
	if out.SendBufferLimitSize, err = parseSize(path+".send_buffer_limit_size", s.SendBufferLimitSize); err != nil {
		return err
	}
	if out.ReceiveBufferLimitSize, err = parseSize(path+".receive_buffer_limit_size", s.ReceiveBufferLimitSize); err != nil {
		return err
	}
	return nil
}

// BridgePeriod parses the bridge period name.
func (c *Configure) BridgePeriod() (types.Period, error) {
	p, ok := types.ParsePeriod(c.Bridge.Period)
	if !ok {
		return p, fmt.Errorf("bridge.period %q: %w", c.Bridge.Period, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	}
	return p, nil
}

// ToBridgeOptions converts the subscription part of the bridge section.
func (c *Configure) ToBridgeOptions(out *libsimconnect_bridge.Options) error {
	s := &c.Bridge
	period, err := c.BridgePeriod()
	if err != nil {
		return err
	}
	format, ok := libsimconnect_bridge.ParseFormat(s.Format)
	if !ok {
		return fmt.Errorf("bridge.format %q: %w", s.Format, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	}

	out.DefinitionID = types.DefinitionID(s.DefinitionID)
	out.Period = period
	out.Format = format
	out.QueueSize = s.QueueSize
	out.Events = append([]string(nil), s.Events...)
	out.Variables = make([]impl.Variable, 0, len(s.Variables))
	for i := range s.Variables {
		dataType, ok := types.ParseDataType(s.Variables[i].Type)
		if !ok {
			return fmt.Errorf("bridge.variables[%d].type %q: %w", i, s.Variables[i].Type, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
		}
		out.Variables = append(out.Variables, impl.Variable{
			Name:     s.Variables[i].Name,
			Unit:     s.Variables[i].Unit,
			DataType: dataType,
			DatumID:  types.UnusedID,
		})
	}
	return nil
}

// ToRedisSinkOptions returns false when no redis address is configured.
func (c *Configure) ToRedisSinkOptions() (libsimconnect_bridge.RedisSinkOptions, bool) {
	s := &c.Bridge
	return libsimconnect_bridge.RedisSinkOptions{
		Address:  s.RedisAddress,
		Password: s.RedisPassword,
		DB:       s.RedisDB,
		Channel:  s.RedisChannel,
	}, s.RedisAddress != ""
}

// BuildLogger creates the logger of the log section. The returned func closes its writers.
func (c *Configure) BuildLogger() (*slog.Logger, func(), error) {
	return libsimconnect_log.NewLoggerFromConfigure(&c.Log)
}

func parseDuration(path string, value string) (time.Duration, error) {
	if skipSpace(value) == "" {
		return 0, nil
	}
	d, err := pickDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return d.AsDuration(), nil
}

func parseSize(path string, value string) (uint64, error) {
	if skipSpace(value) == "" {
		return 0, nil
	}
	v, err := pickSize(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func skipSpace(str string) string {
	return strings.TrimSpace(str)
}

// pickNumber reads a leading integer, decimal or 0x/0o prefixed, and returns the rest.
func pickNumber(str string, ignoreNegative bool) (int64, string, error) {
	negative := false
	if len(str) > 0 && str[0] == '-' {
		negative = true
		str = skipSpace(str[1:])
	}

	base := 10
	if strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X") {
		str = str[2:]
		base = 16
	} else if strings.HasPrefix(str, "0o") || strings.HasPrefix(str, "0O") {
		str = str[2:]
		base = 8
	}

	index := 0
	for ; index < len(str); index++ {
		ch := str[index]
		isDigit := ch >= '0' && ch <= '9'
		if base == 16 {
			isDigit = isDigit || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
		}
		if base == 8 {
			isDigit = ch >= '0' && ch <= '7'
		}
		if !isDigit {
			break
		}
	}
	if index == 0 {
		return 0, str, fmt.Errorf("no number in %q: %w", str, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	}

	val, err := strconv.ParseInt(str[:index], base, 64)
	if err != nil {
		return 0, str, err
	}
	if negative && !ignoreNegative {
		val = -val
	}
	return val, str[index:], nil
}

// pickDuration parses "<number><unit>", units from ns to weeks, into a protobuf Duration.
func pickDuration(value string) (*durationpb.Duration, error) {
	originValue := value
	tmVal, rest, err := pickNumber(skipSpace(value), false)
	if err != nil {
		return nil, err
	}

	var unit time.Duration
	switch strings.ToLower(skipSpace(rest)) {
	case "":
		if tmVal != 0 {
			return nil, fmt.Errorf("pickDuration missing unit: %s: %w", originValue, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
		}
		unit = time.Second
	case "s", "sec", "second", "seconds":
		unit = time.Second
	case "ms", "millisecond", "milliseconds":
		unit = time.Millisecond
	case "us", "microsecond", "microseconds":
		unit = time.Microsecond
	case "ns", "nanosecond", "nanoseconds":
		unit = time.Nanosecond
	case "m", "minute", "minutes":
		unit = time.Minute
	case "h", "hour", "hours":
		unit = time.Hour
	case "d", "day", "days":
		unit = 24 * time.Hour
	case "w", "week", "weeks":
		unit = 7 * 24 * time.Hour
	default:
		return nil, fmt.Errorf("pickDuration unsupported value: %s: %w", originValue, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	}

	return durationpb.New(time.Duration(tmVal) * unit), nil
}

// pickSize parses "<number><unit>", units b, kb, mb, gb.
func pickSize(value string) (uint64, error) {
	baseVal, rest, err := pickNumber(skipSpace(value), true)
	if err != nil {
		return 0, err
	}

	unit := strings.ToLower(skipSpace(rest))
	switch unit {
	case "", "b":
		return uint64(baseVal), nil
	case "kb":
		return uint64(baseVal) * 1024, nil
	case "mb":
		return uint64(baseVal) * 1024 * 1024, nil
	case "gb":
		return uint64(baseVal) * 1024 * 1024 * 1024, nil
	default:
		return 0, fmt.Errorf("pickSize unsupported unit: %s: %w", unit, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	}
}
