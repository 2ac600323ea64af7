package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsSnapshotTotalSumsMastery(t *testing.T) {
	snap := StatsSnapshot{Mastery: map[int64]int64{1: 100, 2: 250, 3: 50}}
	assert.Equal(t, int64(400), snap.Total())

	assert.Zero(t, StatsSnapshot{}.Total())
}

func TestStatsSnapshotCloneDoesNotAliasMaps(t *testing.T) {
	snap := StatsSnapshot{
		Mastery: map[int64]int64{1: 100},
		Tiers:   map[string]int{"solo": 4},
	}

	clone := snap.Clone()
	clone.Mastery[1] = 999
	clone.Mastery[2] = 5
	clone.Tiers["solo"] = 9

	assert.Equal(t, int64(100), snap.Mastery[1])
	assert.NotContains(t, snap.Mastery, int64(2))
	assert.Equal(t, 4, snap.Tiers["solo"])
}
