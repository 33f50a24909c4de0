package beam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row16(v float64) []float64 {
	amps := make([]float64, NumDipoles)
	for i := range amps {
		amps[i] = v
	}
	return amps
}

func TestDedupTiles(t *testing.T) {
	// Tiles 0, 2 and 3 share a pattern; tile 1 differs only by a dead dipole
	// (delay 32) in place of a delay of 3.
	base := []uint32{3, 2, 1, 0, 3, 2, 1, 0, 3, 2, 1, 0, 3, 2, 1, 0}
	dead := []uint32{32, 2, 1, 0, 3, 2, 1, 0, 3, 2, 1, 0, 3, 2, 1, 0}
	ampsA := row16(1)
	ampsB := row16(1)
	ampsB[0] = 0

	delays := [][]uint32{base, dead, base, base}
	amps := [][]float64{ampsA, ampsA, ampsB, ampsA}

	unique, tileMap := DedupTiles(delays, amps)
	require.Len(t, unique, 3)
	assert.Equal(t, []int32{0, 1, 2, 0}, tileMap)
	assert.Equal(t, base, unique[0].Delays)
	assert.Equal(t, dead, unique[1].Delays)
	assert.Equal(t, ampsB, unique[2].Amps)
}

func TestDedupTilesSentinelNeverCoalesced(t *testing.T) {
	real3 := []uint32{3, 2, 1, 0, 3, 2, 1, 0, 3, 2, 1, 0, 3, 2, 1, 0}
	dead := []uint32{32, 2, 1, 0, 3, 2, 1, 0, 3, 2, 1, 0, 3, 2, 1, 0}
	unique, tileMap := DedupTiles([][]uint32{real3, dead}, [][]float64{row16(1), row16(1)})
	require.Len(t, unique, 2)
	assert.NotEqual(t, tileMap[0], tileMap[1])
}

func TestDedupTilesAmpWidth(t *testing.T) {
	// A 16-amp config and a 32-amp config with the same leading values are
	// different tiles.
	delays := []uint32{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	amps16 := row16(1)
	amps32 := make([]float64, 2*NumDipoles)
	for i := range amps32 {
		amps32[i] = 1
	}
	unique, _ := DedupTiles([][]uint32{delays, delays}, [][]float64{amps16, amps32})
	assert.Len(t, unique, 2)
}

func TestDedupFreqs(t *testing.T) {
	freqs := []uint32{150e6, 200e6, 250e6, 150e6, 200e6, 250000001}
	unique, freqMap := DedupFreqs(freqs)
	require.Equal(t, []uint32{150e6, 200e6, 250e6, 250000001}, unique)
	assert.Equal(t, []int32{0, 1, 2, 0, 1, 3}, freqMap)
}

func TestDedupFreqsExactEquality(t *testing.T) {
	// 250e6 and 250000001 are one Hz apart and must stay distinct.
	unique, _ := DedupFreqs([]uint32{250e6, 250000001, 250e6})
	assert.Len(t, unique, 2)
}

func TestDedupEmpty(t *testing.T) {
	uniqueTiles, tileMap := DedupTiles(nil, nil)
	assert.Empty(t, uniqueTiles)
	assert.Empty(t, tileMap)

	uniqueFreqs, freqMap := DedupFreqs(nil)
	assert.Empty(t, uniqueFreqs)
	assert.Empty(t, freqMap)
}
