package libsimconnect_error_code

import "fmt"

// HostException is the exception code reported by the simulation host in an EXCEPTION
// message. Values are kept identical to the SDK so logs can be compared with the host's.
type HostException uint32

const (
	HostExceptionNone HostException = iota
	HostExceptionGeneric
	HostExceptionSizeMismatch
	HostExceptionUnrecognizedID
	HostExceptionUnopened
	HostExceptionVersionMismatch
	HostExceptionTooManyGroups
	HostExceptionNameUnrecognized
	HostExceptionTooManyEventNames
	HostExceptionEventIDDuplicate
	HostExceptionTooManyMaps
	HostExceptionTooManyObjects
	HostExceptionTooManyRequests
	HostExceptionWeatherInvalidPort
	HostExceptionWeatherInvalidMetar
	HostExceptionWeatherUnableToGetObservation
	HostExceptionWeatherUnableToCreateStation
	HostExceptionWeatherUnableToRemoveStation
	HostExceptionInvalidDataType
	HostExceptionInvalidDataSize
	HostExceptionDataError
	HostExceptionInvalidArray
	HostExceptionCreateObjectFailed
	HostExceptionLoadFlightplanFailed
	HostExceptionOperationInvalidForObjectType
	HostExceptionIllegalOperation
	HostExceptionAlreadySubscribed
	HostExceptionInvalidEnum
	HostExceptionDefinitionError
	HostExceptionDuplicateID
	HostExceptionDatumID
	HostExceptionOutOfBounds
	HostExceptionAlreadyCreated
	HostExceptionObjectOutsideRealityBubble
	HostExceptionObjectContainer
	HostExceptionObjectAI
	HostExceptionObjectATC
	HostExceptionObjectSchedule
	HostExceptionJetwayData
	HostExceptionActionNotFound
	HostExceptionNotAnAction
	HostExceptionIncorrectActionParams
	HostExceptionGetInputEventFailed
	HostExceptionSetInputEventFailed
)

var hostExceptionNames = [...]string{
	"SIMCONNECT_EXCEPTION_NONE",
	"SIMCONNECT_EXCEPTION_ERROR",
	"SIMCONNECT_EXCEPTION_SIZE_MISMATCH",
	"SIMCONNECT_EXCEPTION_UNRECOGNIZED_ID",
	"SIMCONNECT_EXCEPTION_UNOPENED",
	"SIMCONNECT_EXCEPTION_VERSION_MISMATCH",
	"SIMCONNECT_EXCEPTION_TOO_MANY_GROUPS",
	"SIMCONNECT_EXCEPTION_NAME_UNRECOGNIZED",
	"SIMCONNECT_EXCEPTION_TOO_MANY_EVENT_NAMES",
	"SIMCONNECT_EXCEPTION_EVENT_ID_DUPLICATE",
	"SIMCONNECT_EXCEPTION_TOO_MANY_MAPS",
	"SIMCONNECT_EXCEPTION_TOO_MANY_OBJECTS",
	"SIMCONNECT_EXCEPTION_TOO_MANY_REQUESTS",
	"SIMCONNECT_EXCEPTION_WEATHER_INVALID_PORT",
	"SIMCONNECT_EXCEPTION_WEATHER_INVALID_METAR",
	"SIMCONNECT_EXCEPTION_WEATHER_UNABLE_TO_GET_OBSERVATION",
	"SIMCONNECT_EXCEPTION_WEATHER_UNABLE_TO_CREATE_STATION",
	"SIMCONNECT_EXCEPTION_WEATHER_UNABLE_TO_REMOVE_STATION",
	"SIMCONNECT_EXCEPTION_INVALID_DATA_TYPE",
	"SIMCONNECT_EXCEPTION_INVALID_DATA_SIZE",
	"SIMCONNECT_EXCEPTION_DATA_ERROR",
	"SIMCONNECT_EXCEPTION_INVALID_ARRAY",
	"SIMCONNECT_EXCEPTION_CREATE_OBJECT_FAILED",
	"SIMCONNECT_EXCEPTION_LOAD_FLIGHTPLAN_FAILED",
	"SIMCONNECT_EXCEPTION_OPERATION_INVALID_FOR_OBJECT_TYPE",
	"SIMCONNECT_EXCEPTION_ILLEGAL_OPERATION",
	"SIMCONNECT_EXCEPTION_ALREADY_SUBSCRIBED",
	"SIMCONNECT_EXCEPTION_INVALID_ENUM",
	"SIMCONNECT_EXCEPTION_DEFINITION_ERROR",
	"SIMCONNECT_EXCEPTION_DUPLICATE_ID",
	"SIMCONNECT_EXCEPTION_DATUM_ID",
	"SIMCONNECT_EXCEPTION_OUT_OF_BOUNDS",
	"SIMCONNECT_EXCEPTION_ALREADY_CREATED",
	"SIMCONNECT_EXCEPTION_OBJECT_OUTSIDE_REALITY_BUBBLE",
	"SIMCONNECT_EXCEPTION_OBJECT_CONTAINER",
	"SIMCONNECT_EXCEPTION_OBJECT_AI",
	"SIMCONNECT_EXCEPTION_OBJECT_ATC",
	"SIMCONNECT_EXCEPTION_OBJECT_SCHEDULE",
	"SIMCONNECT_EXCEPTION_JETWAY_DATA",
	"SIMCONNECT_EXCEPTION_ACTION_NOT_FOUND",
	"SIMCONNECT_EXCEPTION_NOT_AN_ACTION",
	"SIMCONNECT_EXCEPTION_INCORRECT_ACTION_PARAMS",
	"SIMCONNECT_EXCEPTION_GET_INPUT_EVENT_FAILED",
	"SIMCONNECT_EXCEPTION_SET_INPUT_EVENT_FAILED",
}

func (e HostException) String() string {
	if int(e) < len(hostExceptionNames) {
		return hostExceptionNames[e]
	}
	return fmt.Sprintf("UNKNOWN_EXCEPTION(%d)", uint32(e))
}

// Kind maps the host exception to the client error kind it is reported as.
func (e HostException) Kind() ErrorType {
	switch e {
	case HostExceptionNameUnrecognized, HostExceptionInvalidDataType, HostExceptionInvalidEnum:
		return EN_SIMCONNECT_ERR_INVALID_INPUT
	case HostExceptionDuplicateID, HostExceptionEventIDDuplicate:
		return EN_SIMCONNECT_ERR_DUPLICATE_DEFINITION
	case HostExceptionVersionMismatch:
		return EN_SIMCONNECT_ERR_UNSUPPORTED_VERSION
	case HostExceptionUnopened:
		return EN_SIMCONNECT_ERR_NOT_CONNECTED
	default:
		return EN_SIMCONNECT_ERR_HOST_EXCEPTION
	}
}

// HostExceptionError is returned when the host rejects a request.
type HostExceptionError struct {
	Exception HostException
	SendID    uint32
	// Index is the 1-based parameter index the host blamed, 0 if unknown.
	Index uint32
}

func (e *HostExceptionError) Error() string {
	return fmt.Sprintf("host exception %s on packet %d (parameter %d)", e.Exception.String(), e.SendID, e.Index)
}

// Unwrap lets errors.Is match the client error kind of the exception.
func (e *HostExceptionError) Unwrap() error {
	return e.Exception.Kind()
}
