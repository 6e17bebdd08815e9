package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	error_code "github.com/atframework/libsimconnect-go/error_code"
	types "github.com/atframework/libsimconnect-go/types"
)

// TestSplitArgsQuotes verifies quoted arguments keep their blanks
func TestSplitArgsQuotes(t *testing.T) {
	assert.Equal(t, []string{"define", "1", "PLANE ALTITUDE", "feet"}, splitArgs(`define 1 "PLANE ALTITUDE" feet`))
	assert.Equal(t, []string{"state", "it's"}, splitArgs(`state it\'s`))
	assert.Equal(t, []string{"a", "", "b"}, splitArgs(`a "" b`))
	assert.Empty(t, splitArgs("   "))
}

// TestCommandTreeFind verifies nested commands resolve and leave the remaining args
func TestCommandTreeFind(t *testing.T) {
	// Arrange
	root := newCommandRoot()
	root.Register([]string{"event", "subscribe"}, func(*shell, []string) string { return "ok" }, "<name>", "subscribe", nil)
	root.Register([]string{"status"}, func(*shell, []string) string { return "ok" }, "", "status", nil)

	// Act
	args, node := root.Find("EVENT Subscribe Pause 3")
	groupArgs, group := root.Find("event")
	_, unknown := root.Find("nope")

	// Assert
	assert.Equal(t, []string{"Pause", "3"}, args)
	assert.Equal(t, "event subscribe", node.SelfHelpString()[0])
	assert.Empty(t, groupArgs)
	assert.Nil(t, group.Func)
	assert.Same(t, root, unknown)
	help := AllHelpString(root)
	assert.Contains(t, help, "event subscribe")
	assert.Contains(t, help, "status")
	assert.NotNil(t, root.NewCompleter())
}

// TestParseVariableFlag verifies NAME:unit:type parsing and its defaults
func TestParseVariableFlag(t *testing.T) {
	// Act
	full, errFull := parseVariableFlag("AIRSPEED INDICATED:knots:int32")
	short, errShort := parseVariableFlag("PLANE ALTITUDE")
	_, errType := parseVariableFlag("X:feet:float128")
	_, errName := parseVariableFlag(":feet")

	// Assert
	require.NoError(t, errFull)
	require.NoError(t, errShort)
	assert.Equal(t, "knots", full.Unit)
	assert.Equal(t, types.DataTypeInt32, full.DataType)
	assert.Equal(t, types.DataTypeFloat64, short.DataType)
	assert.Equal(t, types.UnusedID, short.DatumID)
	assert.ErrorIs(t, errType, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	assert.ErrorIs(t, errName, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
}
