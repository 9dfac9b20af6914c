package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGPUGroups(t *testing.T) {
	t.Run("MultiDigitGroups", func(t *testing.T) {
		groups, err := ParseGPUGroups("01,23,45,67")
		require.NoError(t, err)
		assert.Equal(t, []string{"0,1", "2,3", "4,5", "6,7"}, groups)
	})

	t.Run("SingleDigitGroups", func(t *testing.T) {
		groups, err := ParseGPUGroups("0,1,2,3")
		require.NoError(t, err)
		assert.Equal(t, []string{"0", "1", "2", "3"}, groups)
	})

	t.Run("WhitespaceTrimmed", func(t *testing.T) {
		groups, err := ParseGPUGroups("01, 23")
		require.NoError(t, err)
		assert.Equal(t, []string{"0,1", "2,3"}, groups)
	})

	t.Run("EmptyToken", func(t *testing.T) {
		_, err := ParseGPUGroups("01,,23")
		assert.ErrorIs(t, err, ErrEmptyGroup)
	})

	t.Run("EmptySpec", func(t *testing.T) {
		_, err := ParseGPUGroups("")
		assert.ErrorIs(t, err, ErrEmptyGroup)
	})
}

func TestPlan(t *testing.T) {
	t.Run("PairedGPUs", func(t *testing.T) {
		placements, err := Plan("01,23,45,67", 8000)
		require.NoError(t, err)
		require.Len(t, placements, 4)
		for i, p := range placements {
			assert.Equal(t, i, p.Index)
			assert.Equal(t, 8000+i, p.Port)
		}
		assert.Equal(t, "0,1", placements[0].GPUs)
		assert.Equal(t, "6,7", placements[3].GPUs)
	})

	t.Run("SingleGPUs", func(t *testing.T) {
		placements, err := Plan("0,1,2,3", 8000)
		require.NoError(t, err)
		require.Len(t, placements, 4)
		assert.Equal(t, []int{8000, 8001, 8002, 8003}, Ports(placements))
		for i, p := range placements {
			assert.Len(t, p.GPUs, 1, "placement %d should hold one device", i)
		}
	})

	t.Run("MalformedSpec", func(t *testing.T) {
		placements, err := Plan("01,", 8000)
		assert.ErrorIs(t, err, ErrEmptyGroup)
		assert.Nil(t, placements)
	})
}
