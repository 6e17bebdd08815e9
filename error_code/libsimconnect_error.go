package libsimconnect_error_code

import "fmt"

// ErrorType is the client side error code of libsimconnect.
//
// Values are negative so they never collide with host exception codes, which are
// reported separately through HostException.
type ErrorType int32

const (
	EN_SIMCONNECT_ERR_SUCCESS ErrorType = 0

	EN_SIMCONNECT_ERR_PARAMS              ErrorType = -1
	EN_SIMCONNECT_ERR_INNER               ErrorType = -2
	EN_SIMCONNECT_ERR_NO_DATA             ErrorType = -3
	EN_SIMCONNECT_ERR_BUFF_LIMIT          ErrorType = -4
	EN_SIMCONNECT_ERR_INVALID_SIZE        ErrorType = -8
	EN_SIMCONNECT_ERR_UNPACK              ErrorType = -12
	EN_SIMCONNECT_ERR_PACK                ErrorType = -13
	EN_SIMCONNECT_ERR_UNSUPPORTED_VERSION ErrorType = -14
	EN_SIMCONNECT_ERR_CLOSING             ErrorType = -15

	EN_SIMCONNECT_ERR_CONNECTION_LOST    ErrorType = -65
	EN_SIMCONNECT_ERR_NOT_CONNECTED      ErrorType = -66
	EN_SIMCONNECT_ERR_ALREADY_CONNECTING ErrorType = -67
	EN_SIMCONNECT_ERR_TIMEOUT            ErrorType = -68
	EN_SIMCONNECT_ERR_PROTOCOL_WARNING   ErrorType = -69
	EN_SIMCONNECT_ERR_HOST_EXCEPTION     ErrorType = -70

	EN_SIMCONNECT_ERR_DUPLICATE_DEFINITION ErrorType = -101
	EN_SIMCONNECT_ERR_DEFINITION_NOT_FOUND ErrorType = -102
	EN_SIMCONNECT_ERR_DEFINITION_IN_USE    ErrorType = -103
	EN_SIMCONNECT_ERR_INVALID_INPUT        ErrorType = -104
	EN_SIMCONNECT_ERR_EVENT_NOT_FOUND      ErrorType = -105
	EN_SIMCONNECT_ERR_REQUEST_NOT_FOUND    ErrorType = -106

	EN_SIMCONNECT_ERR_CHANNEL_ADDR_INVALID ErrorType = -203
	EN_SIMCONNECT_ERR_CHANNEL_CLOSING      ErrorType = -204
	EN_SIMCONNECT_ERR_CHANNEL_NOT_SUPPORT  ErrorType = -205

	EN_SIMCONNECT_ERR_SOCK_BIND_FAILED    ErrorType = -401
	EN_SIMCONNECT_ERR_SOCK_CONNECT_FAILED ErrorType = -403
	EN_SIMCONNECT_ERR_WRITE_FAILED        ErrorType = -603
	EN_SIMCONNECT_ERR_READ_FAILED         ErrorType = -604

	EN_SIMCONNECT_ERR_MIN ErrorType = -999
)

// String returns the same content as Strerror.
func (e ErrorType) String() string {
	return simconnectStrerror(e)
}

// Error implements the built-in error interface, so ErrorType can be returned as an error.
func (e ErrorType) Error() string {
	return simconnectStrerror(e)
}

// Strerror returns:
//   - For known codes: "<ENUM_NAME>(<code>): <message>"
//   - For unknown codes: "SIMCONNECT_ERROR_TYPE(<code>): unknown"
func Strerror(errcode ErrorType) string {
	return simconnectStrerror(errcode)
}

func buildErrorString(code ErrorType, name, message string) string {
	return fmt.Sprintf("%s(%d): %s", name, int32(code), message)
}

var knownErrorStringByCode = map[ErrorType]string{
	EN_SIMCONNECT_ERR_SUCCESS: buildErrorString(EN_SIMCONNECT_ERR_SUCCESS, "EN_SIMCONNECT_ERR_SUCCESS", "success"),

	EN_SIMCONNECT_ERR_PARAMS:              buildErrorString(EN_SIMCONNECT_ERR_PARAMS, "EN_SIMCONNECT_ERR_PARAMS", "parameter error"),
	EN_SIMCONNECT_ERR_INNER:               buildErrorString(EN_SIMCONNECT_ERR_INNER, "EN_SIMCONNECT_ERR_INNER", "inner error"),
	EN_SIMCONNECT_ERR_NO_DATA:             buildErrorString(EN_SIMCONNECT_ERR_NO_DATA, "EN_SIMCONNECT_ERR_NO_DATA", "no data"),
	EN_SIMCONNECT_ERR_BUFF_LIMIT:          buildErrorString(EN_SIMCONNECT_ERR_BUFF_LIMIT, "EN_SIMCONNECT_ERR_BUFF_LIMIT", "buffer limit"),
	EN_SIMCONNECT_ERR_INVALID_SIZE:        buildErrorString(EN_SIMCONNECT_ERR_INVALID_SIZE, "EN_SIMCONNECT_ERR_INVALID_SIZE", "invalid size"),
	EN_SIMCONNECT_ERR_UNPACK:              buildErrorString(EN_SIMCONNECT_ERR_UNPACK, "EN_SIMCONNECT_ERR_UNPACK", "unpack failed"),
	EN_SIMCONNECT_ERR_PACK:                buildErrorString(EN_SIMCONNECT_ERR_PACK, "EN_SIMCONNECT_ERR_PACK", "pack failed"),
	EN_SIMCONNECT_ERR_UNSUPPORTED_VERSION: buildErrorString(EN_SIMCONNECT_ERR_UNSUPPORTED_VERSION, "EN_SIMCONNECT_ERR_UNSUPPORTED_VERSION", "unsupported version"),
	EN_SIMCONNECT_ERR_CLOSING:             buildErrorString(EN_SIMCONNECT_ERR_CLOSING, "EN_SIMCONNECT_ERR_CLOSING", "closing"),

	EN_SIMCONNECT_ERR_CONNECTION_LOST:    buildErrorString(EN_SIMCONNECT_ERR_CONNECTION_LOST, "EN_SIMCONNECT_ERR_CONNECTION_LOST", "connection lost"),
	EN_SIMCONNECT_ERR_NOT_CONNECTED:      buildErrorString(EN_SIMCONNECT_ERR_NOT_CONNECTED, "EN_SIMCONNECT_ERR_NOT_CONNECTED", "not connected"),
	EN_SIMCONNECT_ERR_ALREADY_CONNECTING: buildErrorString(EN_SIMCONNECT_ERR_ALREADY_CONNECTING, "EN_SIMCONNECT_ERR_ALREADY_CONNECTING", "already connecting or connected"),
	EN_SIMCONNECT_ERR_TIMEOUT:            buildErrorString(EN_SIMCONNECT_ERR_TIMEOUT, "EN_SIMCONNECT_ERR_TIMEOUT", "operation timeout"),
	EN_SIMCONNECT_ERR_PROTOCOL_WARNING:   buildErrorString(EN_SIMCONNECT_ERR_PROTOCOL_WARNING, "EN_SIMCONNECT_ERR_PROTOCOL_WARNING", "protocol warning"),
	EN_SIMCONNECT_ERR_HOST_EXCEPTION:     buildErrorString(EN_SIMCONNECT_ERR_HOST_EXCEPTION, "EN_SIMCONNECT_ERR_HOST_EXCEPTION", "host exception"),

	EN_SIMCONNECT_ERR_DUPLICATE_DEFINITION: buildErrorString(EN_SIMCONNECT_ERR_DUPLICATE_DEFINITION, "EN_SIMCONNECT_ERR_DUPLICATE_DEFINITION", "definition already finalized"),
	EN_SIMCONNECT_ERR_DEFINITION_NOT_FOUND: buildErrorString(EN_SIMCONNECT_ERR_DEFINITION_NOT_FOUND, "EN_SIMCONNECT_ERR_DEFINITION_NOT_FOUND", "definition not found"),
	EN_SIMCONNECT_ERR_DEFINITION_IN_USE:    buildErrorString(EN_SIMCONNECT_ERR_DEFINITION_IN_USE, "EN_SIMCONNECT_ERR_DEFINITION_IN_USE", "definition referenced by a request"),
	EN_SIMCONNECT_ERR_INVALID_INPUT:        buildErrorString(EN_SIMCONNECT_ERR_INVALID_INPUT, "EN_SIMCONNECT_ERR_INVALID_INPUT", "invalid input"),
	EN_SIMCONNECT_ERR_EVENT_NOT_FOUND:      buildErrorString(EN_SIMCONNECT_ERR_EVENT_NOT_FOUND, "EN_SIMCONNECT_ERR_EVENT_NOT_FOUND", "event not found"),
	EN_SIMCONNECT_ERR_REQUEST_NOT_FOUND:    buildErrorString(EN_SIMCONNECT_ERR_REQUEST_NOT_FOUND, "EN_SIMCONNECT_ERR_REQUEST_NOT_FOUND", "request not found"),

	EN_SIMCONNECT_ERR_CHANNEL_ADDR_INVALID: buildErrorString(EN_SIMCONNECT_ERR_CHANNEL_ADDR_INVALID, "EN_SIMCONNECT_ERR_CHANNEL_ADDR_INVALID", "channel address invalid"),
	EN_SIMCONNECT_ERR_CHANNEL_CLOSING:      buildErrorString(EN_SIMCONNECT_ERR_CHANNEL_CLOSING, "EN_SIMCONNECT_ERR_CHANNEL_CLOSING", "channel closing"),
	EN_SIMCONNECT_ERR_CHANNEL_NOT_SUPPORT:  buildErrorString(EN_SIMCONNECT_ERR_CHANNEL_NOT_SUPPORT, "EN_SIMCONNECT_ERR_CHANNEL_NOT_SUPPORT", "channel not supported"),

	EN_SIMCONNECT_ERR_SOCK_BIND_FAILED:    buildErrorString(EN_SIMCONNECT_ERR_SOCK_BIND_FAILED, "EN_SIMCONNECT_ERR_SOCK_BIND_FAILED", "socket bind failed"),
	EN_SIMCONNECT_ERR_SOCK_CONNECT_FAILED: buildErrorString(EN_SIMCONNECT_ERR_SOCK_CONNECT_FAILED, "EN_SIMCONNECT_ERR_SOCK_CONNECT_FAILED", "socket connect failed"),
	EN_SIMCONNECT_ERR_WRITE_FAILED:        buildErrorString(EN_SIMCONNECT_ERR_WRITE_FAILED, "EN_SIMCONNECT_ERR_WRITE_FAILED", "write failed"),
	EN_SIMCONNECT_ERR_READ_FAILED:         buildErrorString(EN_SIMCONNECT_ERR_READ_FAILED, "EN_SIMCONNECT_ERR_READ_FAILED", "read failed"),
}

func simconnectStrerror(errcode ErrorType) string {
	if s, ok := knownErrorStringByCode[errcode]; ok {
		return s
	}
	return buildErrorString(errcode, "SIMCONNECT_ERROR_TYPE", "unknown")
}
