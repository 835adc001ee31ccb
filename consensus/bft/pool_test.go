package bft

import (
	"testing"

	"github.com/cbdx/go-cbdx/common"
	"github.com/stretchr/testify/assert"
)

func TestVotePoolCountsDistinctVoters(t *testing.T) {
	assert := assert.New(t)

	pool := NewVotePool()
	hash := common.BytesToHash([]byte{0x01})

	assert.Equal(1, pool.Add(1, hash, "r0"))
	assert.Equal(2, pool.Add(1, hash, "r1"))

	// Duplicates from the same replica must not inflate the tally.
	assert.Equal(2, pool.Add(1, hash, "r1"))
	assert.Equal(2, pool.Count(1, hash))

	assert.Equal(3, pool.Add(1, hash, "r2"))
	assert.ElementsMatch([]string{"r0", "r1", "r2"}, pool.Voters(1, hash))
}

func TestVotePoolSeparatesViewsAndHashes(t *testing.T) {
	assert := assert.New(t)

	pool := NewVotePool()
	hashA := common.BytesToHash([]byte{0xaa})
	hashB := common.BytesToHash([]byte{0xbb})

	pool.Add(1, hashA, "r0")
	pool.Add(1, hashB, "r0")
	pool.Add(2, hashA, "r0")

	assert.Equal(1, pool.Count(1, hashA))
	assert.Equal(1, pool.Count(1, hashB))
	assert.Equal(1, pool.Count(2, hashA))
	assert.Equal(0, pool.Count(2, hashB))
	assert.Nil(pool.Voters(2, hashB))
}

func TestVotePoolClear(t *testing.T) {
	assert := assert.New(t)

	pool := NewVotePool()
	hash := common.BytesToHash([]byte{0x7f})

	pool.Add(1, hash, "r0")
	pool.Add(2, hash, "r0")
	pool.Add(3, hash, "r0")

	pool.Clear(2)
	assert.Equal(1, pool.Count(1, hash))
	assert.Equal(0, pool.Count(2, hash))

	pool.ClearBelow(3)
	assert.Equal(0, pool.Count(1, hash))
	assert.Equal(1, pool.Count(3, hash))
}
