package libsimconnect_impl

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	error_code "github.com/atframework/libsimconnect-go/error_code"
	types "github.com/atframework/libsimconnect-go/types"
)

// TestEventTableReserveIsIdempotent verifies a name keeps its id no matter the spelling
func TestEventTableReserveIsIdempotent(t *testing.T) {
	// Arrange
	table := CreateEventTable(1)

	// Act
	first, created, err := table.Reserve("AP_MASTER", 0)
	require.NoError(t, err)
	again, createdAgain, errAgain := table.Reserve("  ap_master ", 0)

	// Assert
	require.NoError(t, errAgain)
	assert.True(t, created)
	assert.False(t, createdAgain)
	assert.Same(t, first, again)
	assert.Equal(t, types.ClientEventID(1), first.ID)
	assert.Equal(t, EventKindClient, first.Kind)
}

// TestEventTableDetectsSystemEvents verifies system event names are classified with their shape
func TestEventTableDetectsSystemEvents(t *testing.T) {
	// Arrange
	table := CreateEventTable(1)

	// Act
	pause, _, err := table.Reserve("Pause", 0)
	require.NoError(t, err)
	loaded, _, err := table.Reserve("FlightLoaded", 0)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, EventKindSystem, pause.Kind)
	assert.Equal(t, types.SystemEventKindPlain, pause.SystemKind)
	assert.Equal(t, types.SystemEventKindFilename, loaded.SystemKind)
}

// TestEventTableFailedRegistrationFreesName verifies a failed registration can be retried with a new id
func TestEventTableFailedRegistrationFreesName(t *testing.T) {
	// Arrange
	table := CreateEventTable(1)
	entry, _, err := table.Reserve("GEAR_TOGGLE", 0)
	require.NoError(t, err)

	// Act
	table.Complete(entry, errors.New("host refused"))
	retry, created, err := table.Reserve("GEAR_TOGGLE", 0)

	// Assert
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, entry.ID, retry.ID)
	assert.True(t, table.Allocated(entry.ID))
	_, ok := table.Get(entry.ID)
	assert.False(t, ok)
}

// TestEventTableRejectsEmptyName verifies blank event names are invalid input
func TestEventTableRejectsEmptyName(t *testing.T) {
	// Arrange
	table := CreateEventTable(1)

	// Act
	_, _, err := table.Reserve("   ", 0)

	// Assert
	assert.ErrorIs(t, err, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	assert.Equal(t, 0, table.Len())
}

// TestEventTableCheckInput verifies input specs are validated before anything is sent
func TestEventTableCheckInput(t *testing.T) {
	// Arrange
	table := CreateEventTable(1)
	client, _, _ := table.Reserve("AP_MASTER", 0)
	system, _, _ := table.Reserve("Pause", 0)

	// Act
	_, errSpec := table.CheckInput(client.ID, "Shift+Nope+")
	_, errSystem := table.CheckInput(system.ID, "Shift+A")
	_, errMissing := table.CheckInput(99, "Shift+A")
	entry, errOK := table.CheckInput(client.ID, "Shift+A")
	newGroup := table.AddInput(entry, InputMapping{GroupID: 5, Spec: "Shift+A"})
	_, errDup := table.CheckInput(client.ID, "shift+a")

	// Assert
	assert.ErrorIs(t, errSpec, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	assert.ErrorIs(t, errSystem, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	assert.ErrorIs(t, errMissing, error_code.EN_SIMCONNECT_ERR_EVENT_NOT_FOUND)
	assert.NoError(t, errOK)
	assert.True(t, newGroup)
	assert.ErrorIs(t, errDup, error_code.EN_SIMCONNECT_ERR_DUPLICATE_DEFINITION)
	assert.Len(t, table.Inputs(client), 1)
}

// TestEventTableResetKeepsIDsIncreasing verifies ids are never reused after a reset
func TestEventTableResetKeepsIDsIncreasing(t *testing.T) {
	// Arrange
	table := CreateEventTable(1)
	a, _, _ := table.Reserve("AP_MASTER", 0)
	b, _, _ := table.Reserve("Pause", 0)

	// Act
	dropped := table.Reset()
	c, _, err := table.Reserve("AP_MASTER", 0)

	// Assert
	require.NoError(t, err)
	require.Len(t, dropped, 2)
	assert.Equal(t, a.ID, dropped[0].ID)
	assert.Equal(t, b.ID, dropped[1].ID)
	assert.Greater(t, c.ID, b.ID)
	assert.Equal(t, 1, table.Len())
}

// TestEventTableInputsWhileMapping verifies input mappings can be read while others are added
func TestEventTableInputsWhileMapping(t *testing.T) {
	// Arrange
	table := CreateEventTable(1)
	entry, _, err := table.Reserve("GEAR_TOGGLE", 0)
	require.NoError(t, err)
	const n = 64

	// Act
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			table.AddInput(entry, InputMapping{GroupID: types.InputGroupID(i % 4), Spec: fmt.Sprintf("Shift+%d", i)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			inputs := table.Inputs(entry)
			assert.LessOrEqual(t, len(inputs), n)
		}
	}()
	wg.Wait()

	// Assert
	inputs := table.Inputs(entry)
	require.Len(t, inputs, n)
	assert.Equal(t, "Shift+0", inputs[0].Spec)
	inputs[0].Spec = "changed"
	assert.Equal(t, "Shift+0", table.Inputs(entry)[0].Spec)
}

// TestEventTableRemovalSignalsWaiters verifies a removed entry is draining and its removal is observable
func TestEventTableRemovalSignalsWaiters(t *testing.T) {
	// Arrange
	table := CreateEventTable(1)
	entry, _, err := table.Reserve("AP_MASTER", 0)
	require.NoError(t, err)
	table.Complete(entry, nil)

	// Act
	first := table.BeginRemoval(entry)
	second := table.BeginRemoval(entry)
	same, created, _ := table.Reserve("ap_master", 0)
	draining := table.Draining(same)
	table.Remove(entry)
	fresh, createdFresh, _ := table.Reserve("AP_MASTER", 0)

	// Assert
	assert.True(t, first)
	assert.False(t, second)
	assert.False(t, created)
	assert.Same(t, entry, same)
	assert.True(t, draining)
	assert.True(t, createdFresh)
	assert.NotSame(t, entry, fresh)
	assert.False(t, table.Draining(fresh))
	select {
	case <-entry.removed:
	default:
		t.Fatal("removal not signalled")
	}
	assert.False(t, table.BeginRemoval(entry))
}

// TestEventTableResetSignalsRemoval verifies a reset releases everyone waiting on an entry
func TestEventTableResetSignalsRemoval(t *testing.T) {
	// Arrange
	table := CreateEventTable(1)
	entry, _, err := table.Reserve("Pause", 0)
	require.NoError(t, err)

	// Act
	table.Reset()

	// Assert
	select {
	case <-entry.removed:
	default:
		t.Fatal("removal not signalled")
	}
	assert.True(t, table.Draining(entry))
}
