package libsimconnect_error_code

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrerrorKnownCodes(t *testing.T) {
	// Arrange
	cases := []struct {
		code ErrorType
		want string
	}{
		{EN_SIMCONNECT_ERR_SUCCESS, "EN_SIMCONNECT_ERR_SUCCESS(0): success"},
		{EN_SIMCONNECT_ERR_PARAMS, "EN_SIMCONNECT_ERR_PARAMS(-1): parameter error"},
		{EN_SIMCONNECT_ERR_CONNECTION_LOST, "EN_SIMCONNECT_ERR_CONNECTION_LOST(-65): connection lost"},
		{EN_SIMCONNECT_ERR_TIMEOUT, "EN_SIMCONNECT_ERR_TIMEOUT(-68): operation timeout"},
		{EN_SIMCONNECT_ERR_DUPLICATE_DEFINITION, "EN_SIMCONNECT_ERR_DUPLICATE_DEFINITION(-101): definition already finalized"},
		{EN_SIMCONNECT_ERR_INVALID_INPUT, "EN_SIMCONNECT_ERR_INVALID_INPUT(-104): invalid input"},
		{EN_SIMCONNECT_ERR_WRITE_FAILED, "EN_SIMCONNECT_ERR_WRITE_FAILED(-603): write failed"},
	}

	// Act + Assert
	for _, tc := range cases {
		assert.Equal(t, tc.want, Strerror(tc.code))
		assert.Equal(t, tc.want, tc.code.String())
		assert.Equal(t, tc.want, tc.code.Error())
	}
}

func TestStrerrorUnknownCode(t *testing.T) {
	// Arrange
	unknown := ErrorType(-123456)

	// Act
	got := Strerror(unknown)

	// Assert
	assert.Equal(t, "SIMCONNECT_ERROR_TYPE(-123456): unknown", got)
}

func TestHostExceptionNames(t *testing.T) {
	assert.Equal(t, "SIMCONNECT_EXCEPTION_NONE", HostExceptionNone.String())
	assert.Equal(t, "SIMCONNECT_EXCEPTION_NAME_UNRECOGNIZED", HostExceptionNameUnrecognized.String())
	assert.Equal(t, "SIMCONNECT_EXCEPTION_SET_INPUT_EVENT_FAILED", HostExceptionSetInputEventFailed.String())
	assert.Equal(t, "UNKNOWN_EXCEPTION(9999)", HostException(9999).String())
}

func TestHostExceptionErrorMatchesKind(t *testing.T) {
	// Arrange
	var err error = &HostExceptionError{Exception: HostExceptionNameUnrecognized, SendID: 7, Index: 2}
	wrapped := fmt.Errorf("map input: %w", err)

	// Act + Assert
	assert.True(t, errors.Is(wrapped, EN_SIMCONNECT_ERR_INVALID_INPUT))
	assert.False(t, errors.Is(wrapped, EN_SIMCONNECT_ERR_TIMEOUT))

	var hostErr *HostExceptionError
	assert.True(t, errors.As(wrapped, &hostErr))
	assert.Equal(t, uint32(7), hostErr.SendID)
	assert.Contains(t, hostErr.Error(), "SIMCONNECT_EXCEPTION_NAME_UNRECOGNIZED")
}

func TestHostExceptionKindDefault(t *testing.T) {
	assert.Equal(t, EN_SIMCONNECT_ERR_HOST_EXCEPTION, HostExceptionTooManyRequests.Kind())
	assert.Equal(t, EN_SIMCONNECT_ERR_DUPLICATE_DEFINITION, HostExceptionDuplicateID.Kind())
	assert.Equal(t, EN_SIMCONNECT_ERR_UNSUPPORTED_VERSION, HostExceptionVersionMismatch.Kind())
}
