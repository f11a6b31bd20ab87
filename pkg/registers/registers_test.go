package registers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	def, err := Lookup("ACTIVE_POWER")
	require.NoError(t, err)
	assert.Equal(t, uint16(32080), def.Address)
	assert.Equal(t, uint16(2), def.Quantity)
	assert.Equal(t, I32, def.Kind)
	assert.Equal(t, "W", def.Unit)

	_, err = Lookup("NOT_A_REGISTER")
	assert.Error(t, err)
}

func TestResolveKeepsOrder(t *testing.T) {
	names := []string{"GRID_FREQUENCY", "ACTIVE_POWER", "PV_01_VOLTAGE"}
	defs, err := Resolve(names)
	require.NoError(t, err)
	require.Len(t, defs, 3)
	for i, def := range defs {
		assert.Equal(t, names[i], def.Name)
	}
}

func TestResolveUnknownName(t *testing.T) {
	_, err := Resolve([]string{"ACTIVE_POWER", "BOGUS"})
	assert.ErrorContains(t, err, "BOGUS")
}

func TestStatusText(t *testing.T) {
	assert.Equal(t, "On-grid", StatusText(0x0200))
	assert.Equal(t, "Standby: initializing", StatusText(0))
	assert.Equal(t, "Unknown status: 4660", StatusText(0x1234))
}
