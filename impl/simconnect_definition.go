package libsimconnect_impl

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/spaolacci/murmur3"

	buffer "github.com/atframework/libsimconnect-go/buffer"
	error_code "github.com/atframework/libsimconnect-go/error_code"
	types "github.com/atframework/libsimconnect-go/types"
)

// Variable is one simulation variable of a data definition.
type Variable struct {
	Name     string
	Unit     string
	DataType types.DataType
	Epsilon  float32
	// DatumID tags the variable in tagged responses, types.UnusedID uses its index
	DatumID uint32
}

// Tag returns the datum id used for the variable at index in tagged responses.
func (v *Variable) Tag(index int) uint32 {
	if v.DatumID == types.UnusedID {
		return uint32(index)
	}
	return v.DatumID
}

// SimValue is one decoded variable value. Value holds int32, int64, float32, float64, string
// or [3]float64 depending on DataType.
type SimValue struct {
	Name     string
	Unit     string
	DataType types.DataType
	Value    interface{}
}

// Float64 converts numeric values.
func (v SimValue) Float64() (float64, bool) {
	switch x := v.Value.(type) {
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

// DataDefinition is an ordered group of variables. It becomes immutable once finalized.
type DataDefinition struct {
	id        types.DefinitionID
	variables []Variable

	finalized    bool
	liveRequests int
	uploaded     bool

	// uploadMu serializes uploading the definition to the host
	uploadMu sync.Mutex
}

// GetID returns the definition id.
func (d *DataDefinition) GetID() types.DefinitionID {
	return d.id
}

// Variables returns a copy of the variables in declaration order.
func (d *DataDefinition) Variables() []Variable {
	out := make([]Variable, len(d.variables))
	copy(out, d.variables)
	return out
}

// Size returns the untagged payload size.
func (d *DataDefinition) Size() int {
	size := 0
	for i := range d.variables {
		size += d.variables[i].DataType.Size()
	}
	return size
}

// Fingerprint hashes the ordered layout, equal layouts have equal fingerprints.
func (d *DataDefinition) Fingerprint() uint32 {
	return LayoutFingerprint(d.variables)
}

// LayoutFingerprint is murmur3 over name, unit and type of every variable in order.
func LayoutFingerprint(variables []Variable) uint32 {
	h := murmur3.New32()
	for i := range variables {
		fmt.Fprintf(h, "%s\x00%s\x00%d\x00", strings.ToLower(variables[i].Name), strings.ToLower(variables[i].Unit), uint32(variables[i].DataType))
	}
	return h.Sum32()
}

// Decode reads an untagged payload, one value per variable in declaration order.
func (d *DataDefinition) Decode(data []byte) ([]SimValue, error) {
	return DecodeValues(d.variables, data)
}

// DecodeTagged reads count (datum id, value) pairs. Only the variables present are returned.
func (d *DataDefinition) DecodeTagged(data []byte, count uint32) ([]SimValue, error) {
	return DecodeTaggedValues(d.variables, data, count)
}

// Encode writes values in declaration order.
func (d *DataDefinition) Encode(values []interface{}) ([]byte, error) {
	return EncodeValues(d.variables, values)
}

// DecodeValues reads one value per variable in order.
func DecodeValues(variables []Variable, data []byte) ([]SimValue, error) {
	block := buffer.NewBufferBlockFromSlice(data)
	out := make([]SimValue, 0, len(variables))
	for i := range variables {
		value, err := readValue(block, variables[i].DataType)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", variables[i].Name, error_code.EN_SIMCONNECT_ERR_UNPACK)
		}
		out = append(out, SimValue{Name: variables[i].Name, Unit: variables[i].Unit, DataType: variables[i].DataType, Value: value})
	}
	return out, nil
}

// DecodeTaggedValues reads count tagged values. Values are returned in declaration order.
func DecodeTaggedValues(variables []Variable, data []byte, count uint32) ([]SimValue, error) {
	byTag := make(map[uint32]int, len(variables))
	for i := range variables {
		byTag[variables[i].Tag(i)] = i
	}

	block := buffer.NewBufferBlockFromSlice(data)
	indexes := make([]int, 0, count)
	values := make(map[int]interface{}, count)
	for n := uint32(0); n < count; n++ {
		tag, err := block.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("decode tag %d: %w", n, error_code.EN_SIMCONNECT_ERR_UNPACK)
		}
		index, ok := byTag[tag]
		if !ok {
			return nil, fmt.Errorf("decode unknown datum id %d: %w", tag, error_code.EN_SIMCONNECT_ERR_UNPACK)
		}
		value, err := readValue(block, variables[index].DataType)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", variables[index].Name, error_code.EN_SIMCONNECT_ERR_UNPACK)
		}
		if _, seen := values[index]; !seen {
			indexes = append(indexes, index)
		}
		values[index] = value
	}

	sort.Ints(indexes)
	out := make([]SimValue, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, SimValue{Name: variables[i].Name, Unit: variables[i].Unit, DataType: variables[i].DataType, Value: values[i]})
	}
	return out, nil
}

// EncodeValues writes values for the variables in order, converting numeric kinds.
func EncodeValues(variables []Variable, values []interface{}) ([]byte, error) {
	if len(values) != len(variables) {
		return nil, fmt.Errorf("encode %d values for %d variables: %w", len(values), len(variables), error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	}

	w := buffer.NewBufferWriter(sizeOf(variables), 0)
	for i := range variables {
		if err := writeValue(w, variables[i].DataType, values[i]); err != nil {
			return nil, fmt.Errorf("encode %s: %w", variables[i].Name, err)
		}
	}
	return w.Bytes(), nil
}

// EncodeTaggedValues writes (datum id, value) pairs for the selected variable indexes.
func EncodeTaggedValues(variables []Variable, indexes []int, values []interface{}) ([]byte, error) {
	if len(indexes) != len(values) {
		return nil, fmt.Errorf("encode %d tagged values for %d indexes: %w", len(values), len(indexes), error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	}

	w := buffer.NewBufferWriter(sizeOf(variables)+4*len(indexes), 0)
	for n, i := range indexes {
		if i < 0 || i >= len(variables) {
			return nil, fmt.Errorf("encode index %d: %w", i, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
		}
		w.WriteUint32(variables[i].Tag(i))
		if err := writeValue(w, variables[i].DataType, values[n]); err != nil {
			return nil, fmt.Errorf("encode %s: %w", variables[i].Name, err)
		}
	}
	return w.Bytes(), nil
}

func sizeOf(variables []Variable) int {
	size := 0
	for i := range variables {
		size += variables[i].DataType.Size()
	}
	return size
}

func readValue(block *buffer.BufferBlock, t types.DataType) (interface{}, error) {
	switch t {
	case types.DataTypeInt32:
		return block.ReadInt32()
	case types.DataTypeInt64:
		return block.ReadInt64()
	case types.DataTypeFloat32:
		return block.ReadFloat32()
	case types.DataTypeFloat64:
		return block.ReadFloat64()
	case types.DataTypeLatLonAlt, types.DataTypeXYZ:
		var out [3]float64
		for i := range out {
			v, err := block.ReadFloat64()
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default:
		if t.IsString() {
			return block.ReadFixedString(t.Size())
		}
		return nil, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT
	}
}

func writeValue(w *buffer.BufferWriter, t types.DataType, value interface{}) error {
	switch t {
	case types.DataTypeInt32:
		v, ok := toInt64(value)
		if !ok || v < math.MinInt32 || v > math.MaxInt32 {
			return error_code.EN_SIMCONNECT_ERR_INVALID_INPUT
		}
		return w.WriteInt32(int32(v))
	case types.DataTypeInt64:
		v, ok := toInt64(value)
		if !ok {
			return error_code.EN_SIMCONNECT_ERR_INVALID_INPUT
		}
		return w.WriteInt64(v)
	case types.DataTypeFloat32:
		v, ok := toFloat64(value)
		if !ok {
			return error_code.EN_SIMCONNECT_ERR_INVALID_INPUT
		}
		return w.WriteFloat32(float32(v))
	case types.DataTypeFloat64:
		v, ok := toFloat64(value)
		if !ok {
			return error_code.EN_SIMCONNECT_ERR_INVALID_INPUT
		}
		return w.WriteFloat64(v)
	case types.DataTypeLatLonAlt, types.DataTypeXYZ:
		v, ok := value.([3]float64)
		if !ok {
			return error_code.EN_SIMCONNECT_ERR_INVALID_INPUT
		}
		for i := range v {
			if err := w.WriteFloat64(v[i]); err != nil {
				return err
			}
		}
		return nil
	default:
		s, ok := value.(string)
		if !ok || !t.IsString() {
			return error_code.EN_SIMCONNECT_ERR_INVALID_INPUT
		}
		return w.WriteFixedString(s, t.Size())
	}
}

func toInt64(value interface{}) (int64, bool) {
	switch x := value.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func toFloat64(value interface{}) (float64, bool) {
	switch x := value.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		v, ok := toInt64(value)
		return float64(v), ok
	}
}

// Registry tracks the data definitions of a client.
type Registry struct {
	mu          sync.Mutex
	definitions map[types.DefinitionID]*DataDefinition
}

// CreateRegistry creates an empty registry.
func CreateRegistry() *Registry {
	return &Registry{
		definitions: make(map[types.DefinitionID]*DataDefinition),
	}
}

// DefineVariable appends a variable to a definition, creating it on first use.
func (r *Registry) DefineVariable(id types.DefinitionID, v Variable) error {
	if strings.TrimSpace(v.Name) == "" {
		return fmt.Errorf("define %d: empty variable name: %w", id, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	}
	if v.DataType.Size() == 0 {
		return fmt.Errorf("define %d %s: unsupported data type %s: %w", id, v.Name, v.DataType, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.definitions[id]
	if !ok {
		def = &DataDefinition{id: id}
		r.definitions[id] = def
	}
	if def.finalized {
		return fmt.Errorf("define %d %s after it was requested: %w", id, v.Name, error_code.EN_SIMCONNECT_ERR_DUPLICATE_DEFINITION)
	}

	def.variables = append(def.variables, v)
	return nil
}

// Get returns a definition.
func (r *Registry) Get(id types.DefinitionID) (*DataDefinition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.definitions[id]
	return def, ok
}

// Finalize freezes a definition. It fails for unknown or empty definitions.
func (r *Registry) Finalize(id types.DefinitionID) (*DataDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.definitions[id]
	if !ok || len(def.variables) == 0 {
		return nil, fmt.Errorf("definition %d: %w", id, error_code.EN_SIMCONNECT_ERR_DEFINITION_NOT_FOUND)
	}
	def.finalized = true
	return def, nil
}

// Acquire finalizes a definition and counts a live request on it.
func (r *Registry) Acquire(id types.DefinitionID) (*DataDefinition, error) {
	def, err := r.Finalize(id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	def.liveRequests++
	r.mu.Unlock()
	return def, nil
}

// Release drops a live request count.
func (r *Registry) Release(id types.DefinitionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if def, ok := r.definitions[id]; ok && def.liveRequests > 0 {
		def.liveRequests--
	}
}

// LiveRequests returns the number of live requests on a definition.
func (r *Registry) LiveRequests(id types.DefinitionID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if def, ok := r.definitions[id]; ok {
		return def.liveRequests
	}
	return 0
}

// Remove deletes a definition without live requests. It reports whether the host knew it.
func (r *Registry) Remove(id types.DefinitionID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.definitions[id]
	if !ok {
		return false, fmt.Errorf("definition %d: %w", id, error_code.EN_SIMCONNECT_ERR_DEFINITION_NOT_FOUND)
	}
	if def.liveRequests > 0 {
		return false, fmt.Errorf("definition %d has %d live requests: %w", id, def.liveRequests, error_code.EN_SIMCONNECT_ERR_DEFINITION_IN_USE)
	}
	delete(r.definitions, id)
	return def.uploaded, nil
}

// CheckRemovable fails like Remove would, without removing.
func (r *Registry) CheckRemovable(id types.DefinitionID) (*DataDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.definitions[id]
	if !ok {
		return nil, fmt.Errorf("definition %d: %w", id, error_code.EN_SIMCONNECT_ERR_DEFINITION_NOT_FOUND)
	}
	if def.liveRequests > 0 {
		return nil, fmt.Errorf("definition %d has %d live requests: %w", id, def.liveRequests, error_code.EN_SIMCONNECT_ERR_DEFINITION_IN_USE)
	}
	return def, nil
}

// ResetConnection forgets host side state, definitions must be uploaded again and no request is
// live anymore.
func (r *Registry) ResetConnection() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, def := range r.definitions {
		def.uploaded = false
		def.liveRequests = 0
	}
}

// IDs returns every definition id in ascending order.
func (r *Registry) IDs() []types.DefinitionID {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.DefinitionID, 0, len(r.definitions))
	for id := range r.definitions {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) isUploaded(def *DataDefinition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return def.uploaded
}

func (r *Registry) markUploaded(def *DataDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def.uploaded = true
}
