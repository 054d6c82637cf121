package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionHashBytes(t *testing.T) {
	b := make([]byte, 32)
	b[7], b[15], b[19], b[27] = 1, 2, 3, 13

	assert.Equal(t, uint32(0), PartitionHashBytes(b[:20], 4), "too short")
	assert.Equal(t, uint32(0), PartitionHashBytes(b, 1))
	assert.Equal(t, uint32(13&3), PartitionHashBytes(b, 4))

	hash := uint32(1)<<24 | uint32(2)<<16 | uint32(3)<<8 | 13
	assert.Equal(t, hash%3, PartitionHashBytes(b, 3))

	for mod := uint32(2); mod < 20; mod++ {
		assert.Less(t, PartitionHashBytes(b, mod), mod)
	}
}
