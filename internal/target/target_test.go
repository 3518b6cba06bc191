package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKnownTarget(t *testing.T) {
	tg, err := Lookup("at89c51snd1c")
	require.NoError(t, err)
	assert.Equal(t, Class8051, tg.Class)
	assert.Equal(t, uint32(0x10000), tg.MemorySize)
	assert.True(t, tg.HonorInterfaceClass)
}

func TestLookupUnknownTarget(t *testing.T) {
	_, err := Lookup("does-not-exist")
	assert.Error(t, err)
}

func TestAllReturnsACopy(t *testing.T) {
	all := All()
	require.NotEmpty(t, all)
	all[0].Name = "mutated"
	again, _ := Lookup(table[0].Name)
	assert.NotEqual(t, "mutated", again.Name)
}

func TestSTM32TargetPresent(t *testing.T) {
	tg, err := Lookup("stm32f103")
	require.NoError(t, err)
	assert.Equal(t, ClassSTM32, tg.Class)
	assert.Equal(t, uint16(0x0483), tg.VendorID)
}
