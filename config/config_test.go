package libsimconnect_config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	libsimconnect_bridge "github.com/atframework/libsimconnect-go/bridge"
	error_code "github.com/atframework/libsimconnect-go/error_code"
	hostsim "github.com/atframework/libsimconnect-go/hostsim"
	types "github.com/atframework/libsimconnect-go/types"
)

// TestPickDuration verifies the duration grammar of configuration values
func TestPickDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"10s":     10 * time.Second,
		"1500ms":  1500 * time.Millisecond,
		" 2 m ":   2 * time.Minute,
		"3 hours": 3 * time.Hour,
		"1w":      7 * 24 * time.Hour,
		"250us":   250 * time.Microsecond,
		"0x10s":   16 * time.Second,
		"0":       0,
	}
	for input, expected := range cases {
		d, err := pickDuration(input)
		require.NoError(t, err, input)
		assert.Equal(t, expected, d.AsDuration(), input)
	}

	for _, input := range []string{"5", "abc", "5 parsecs"} {
		_, err := pickDuration(input)
		assert.ErrorIs(t, err, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT, input)
	}
}

// TestPickSize verifies the size grammar of configuration values
func TestPickSize(t *testing.T) {
	cases := map[string]uint64{
		"10":    10,
		"64b":   64,
		"512KB": 512 * 1024,
		"4 mb":  4 * 1024 * 1024,
		"1GB":   1024 * 1024 * 1024,
	}
	for input, expected := range cases {
		v, err := pickSize(input)
		require.NoError(t, err, input)
		assert.Equal(t, expected, v, input)
	}

	_, err := pickSize("1tb")
	assert.ErrorIs(t, err, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
}

// TestLoadYaml verifies a YAML file overrides defaults section by section
func TestLoadYaml(t *testing.T) {
	// Arrange
	path := filepath.Join("testdata", "simconnect.yaml")

	// Act
	conf, err := Load(path)
	require.NoError(t, err)
	client := types.ClientConfigure{}
	require.NoError(t, conf.ToClientConfigure(&client))
	host := hostsim.HostConfigure{}
	require.NoError(t, conf.ToHostConfigure(&host))
	period, err := conf.BridgePeriod()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "yaml-client", client.AppName)
	assert.Equal(t, "ipv4://10.0.0.2:500", client.Address)
	assert.Equal(t, 3*time.Second, client.HandshakeTimeout)
	assert.Equal(t, 1500*time.Millisecond, client.RequestTimeout)
	assert.Equal(t, 256, client.DeliveryQueueSize)
	assert.Equal(t, 64, client.SubscriptionBufferSize)
	assert.Equal(t, 2*time.Minute, client.Channel.Keepalive)
	assert.Equal(t, uint64(4*1024*1024), client.Channel.SendBufferLimitSize)
	assert.Equal(t, uint64(512*1024), client.Channel.ReceiveBufferLimitSize)

	assert.Equal(t, "ipv4://0.0.0.0:500", host.ListenAddress)
	assert.Equal(t, uint32(30), host.FramesPerSecond)
	assert.Equal(t, 33*time.Millisecond, host.FrameInterval)

	assert.Equal(t, "debug", conf.Log.Level)
	require.Len(t, conf.Log.Sinks, 1)
	assert.Equal(t, "stdout", conf.Log.Sinks[0].Type)

	assert.Equal(t, types.PeriodOnChange, period)
	require.Len(t, conf.Bridge.Variables, 2)
	assert.Equal(t, "AIRSPEED INDICATED", conf.Bridge.Variables[1].Name)
	assert.Equal(t, []string{"Pause", "FlightLoaded"}, conf.Bridge.Events)
	assert.Equal(t, "sim", conf.Bridge.RedisChannel)
}

// TestLoadToml verifies a TOML file is decoded into the same document
func TestLoadToml(t *testing.T) {
	// Arrange
	path := filepath.Join("testdata", "simconnect.toml")

	// Act
	conf, err := Load(path)
	require.NoError(t, err)
	client := types.ClientConfigure{}
	require.NoError(t, conf.ToClientConfigure(&client))

	// Assert
	assert.Equal(t, "toml-client", client.AppName)
	assert.Equal(t, 2*time.Second, client.RequestTimeout)
	assert.Equal(t, 10*time.Second, client.HandshakeTimeout)
	assert.Equal(t, time.Minute, client.Channel.ConfirmTimeout)
	assert.Equal(t, uint32(12), conf.Host.FramesPerSecond)
	assert.Equal(t, 4, conf.Host.WorkerPoolSize)
	assert.Equal(t, "warn", conf.Log.Level)
	assert.Equal(t, []string{"1sec"}, conf.Bridge.Events)
	require.Len(t, conf.Bridge.Variables, 1)
	assert.Equal(t, "float64", conf.Bridge.Variables[0].Type)
	assert.Equal(t, "127.0.0.1:8080", conf.Bridge.WebSocketListen)
}

// TestLoadEnvironmentOverrides verifies SIMCONNECT_ variables win over the file
func TestLoadEnvironmentOverrides(t *testing.T) {
	// Arrange
	t.Setenv("SIMCONNECT_CLIENT_APP_NAME", "from-env")
	t.Setenv("SIMCONNECT_CLIENT_REQUEST_TIMEOUT", "250ms")
	t.Setenv("SIMCONNECT_CLIENT_CHANNEL_NO_DELAY", "false")
	t.Setenv("SIMCONNECT_HOST_FRAMES_PER_SECOND", "0x3c")
	t.Setenv("SIMCONNECT_BRIDGE_EVENTS", "Pause, Crashed ,")
	t.Setenv("SIMCONNECT_LOG_LEVEL", "error")

	// Act
	conf, err := Load(filepath.Join("testdata", "simconnect.yaml"))
	require.NoError(t, err)
	client := types.ClientConfigure{}
	require.NoError(t, conf.ToClientConfigure(&client))

	// Assert
	assert.Equal(t, "from-env", client.AppName)
	assert.Equal(t, 250*time.Millisecond, client.RequestTimeout)
	assert.False(t, client.Channel.NoDelay)
	assert.Equal(t, uint32(60), conf.Host.FramesPerSecond)
	assert.Equal(t, []string{"Pause", "Crashed"}, conf.Bridge.Events)
	assert.Equal(t, "error", conf.Log.Level)
}

// TestLoadRejectsBadInput verifies malformed values surface as errors
func TestLoadRejectsBadInput(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	unknown := filepath.Join(dir, "simconnect.ini")
	require.NoError(t, os.WriteFile(unknown, []byte("a=b"), 0o600))
	badDuration := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badDuration, []byte("client:\n  request_timeout: soon\n"), 0o600))

	// Act
	_, errExt := Load(unknown)
	_, errMissing := Load(filepath.Join(dir, "missing.yaml"))
	conf, errLoad := Load(badDuration)
	require.NoError(t, errLoad)
	errConvert := conf.ToClientConfigure(&types.ClientConfigure{})
	t.Setenv("SIMCONNECT_HOST_WORKER_POOL_SIZE", "many")
	_, errEnv := Load("")

	// Assert
	assert.ErrorIs(t, errExt, error_code.EN_SIMCONNECT_ERR_PARAMS)
	assert.ErrorIs(t, errMissing, os.ErrNotExist)
	assert.ErrorIs(t, errConvert, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	assert.Error(t, errEnv)
}

// TestBuildLoggerWritesFileSink verifies the log section drives a rotating file sink
func TestBuildLoggerWritesFileSink(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "simconnect.log")
	conf := Default()
	conf.Log.Sinks[0].Type = "file"
	conf.Log.Sinks[0].Path = path
	conf.Log.Sinks[0].MaxSizeMB = 1

	// Act
	logger, closeFn, err := conf.BuildLogger()
	require.NoError(t, err)
	logger.Info("configured", "app", conf.Client.AppName)
	closeFn()

	// Assert
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "configured")
}

// TestToBridgeOptions verifies bridge variables are parsed into client variables
func TestToBridgeOptions(t *testing.T) {
	// Arrange
	conf, err := Load(filepath.Join("testdata", "simconnect.yaml"))
	require.NoError(t, err)

	// Act
	opts := libsimconnect_bridge.Options{}
	require.NoError(t, conf.ToBridgeOptions(&opts))
	redisOpts, useRedis := conf.ToRedisSinkOptions()
	conf.Bridge.Variables[0].Type = "float128"
	errType := conf.ToBridgeOptions(&libsimconnect_bridge.Options{})

	// Assert
	assert.Equal(t, types.DefinitionID(1), opts.DefinitionID)
	assert.Equal(t, types.PeriodOnChange, opts.Period)
	assert.Equal(t, libsimconnect_bridge.FormatJSON, opts.Format)
	require.Len(t, opts.Variables, 2)
	assert.Equal(t, types.DataTypeFloat64, opts.Variables[0].DataType)
	assert.Equal(t, types.DataTypeInt32, opts.Variables[1].DataType)
	assert.Equal(t, types.UnusedID, opts.Variables[1].DatumID)
	assert.True(t, useRedis)
	assert.Equal(t, "127.0.0.1:6379", redisOpts.Address)
	assert.Equal(t, "sim", redisOpts.Channel)
	assert.ErrorIs(t, errType, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
}
