package libsimconnect_bridge

import (
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/types/known/structpb"

	error_code "github.com/atframework/libsimconnect-go/error_code"
	impl "github.com/atframework/libsimconnect-go/impl"
)

// Format selects the payload encoding of published updates.
type Format int32

const (
	FormatJSON Format = iota
	// FormatText is the protobuf text format, meant for debugging
	FormatText
)

func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, true
	case "text", "prototext":
		return FormatText, true
	default:
		return FormatJSON, false
	}
}

func (f Format) String() string {
	if f == FormatText {
		return "text"
	}
	return "json"
}

// EncodeData converts a data update to a protobuf Struct. Values keep the definition order.
func EncodeData(d *impl.SimData) (*structpb.Struct, error) {
	values := make([]interface{}, 0, len(d.Values))
	for i := range d.Values {
		v, err := encodeValue(d.Values[i].Value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", d.Values[i].Name, err)
		}
		values = append(values, map[string]interface{}{
			"name":  d.Values[i].Name,
			"unit":  d.Values[i].Unit,
			"type":  d.Values[i].DataType.String(),
			"value": v,
		})
	}

	return structpb.NewStruct(map[string]interface{}{
		"kind":          "data",
		"request_id":    uint32(d.RequestID),
		"object_id":     uint32(d.ObjectID),
		"definition_id": uint32(d.DefinitionID),
		"fingerprint":   fmt.Sprintf("%08x", d.Fingerprint),
		"entry_number":  d.EntryNumber,
		"out_of":        d.OutOf,
		"values":        values,
		"received":      d.Received.UTC().Format(time.RFC3339Nano),
	})
}

// EncodeEvent converts an event notification to a protobuf Struct.
func EncodeEvent(e *impl.SimEvent) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"kind":     "event",
		"name":     e.Name,
		"event_id": uint32(e.EventID),
		"group_id": uint32(e.GroupID),
		"data":     e.Data,
		"received": e.Received.UTC().Format(time.RFC3339Nano),
	}
	if e.FileName != "" {
		fields["file_name"] = e.FileName
	}
	if e.FrameRate != 0 || e.SimSpeed != 0 {
		fields["frame_rate"] = e.FrameRate
		fields["sim_speed"] = e.SimSpeed
	}
	return structpb.NewStruct(fields)
}

// EncodeNotification converts whichever part of n is set.
func EncodeNotification(n impl.Notification) (*structpb.Struct, error) {
	switch {
	case n.Data != nil:
		return EncodeData(n.Data)
	case n.Event != nil:
		return EncodeEvent(n.Event)
	default:
		return nil, error_code.EN_SIMCONNECT_ERR_PARAMS
	}
}

// Marshal serializes an encoded update.
func Marshal(msg *structpb.Struct, format Format) ([]byte, error) {
	if format == FormatText {
		return prototext.MarshalOptions{Multiline: true}.Marshal(msg)
	}
	return protojson.MarshalOptions{UseProtoNames: true}.Marshal(msg)
}

func encodeValue(value interface{}) (interface{}, error) {
	switch x := value.(type) {
	case [3]float64:
		return []interface{}{x[0], x[1], x[2]}, nil
	case int32, int64, float32, float64, string:
		return x, nil
	default:
		return nil, fmt.Errorf("value type %T: %w", value, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	}
}
