package beam

import (
	"encoding/binary"
	"math"
)

// TileConfig is one tile's dipole settings: 16 delays and 16 or 32 amplitude
// gains. Two configs are the same tile, for deduplication, iff both slices
// are elementwise equal; amplitude equality is exact bit equality since the
// values are caller-supplied constants, never computed.
type TileConfig struct {
	Delays []uint32
	Amps   []float64
}

func tileKey(delays []uint32, amps []float64) string {
	buf := make([]byte, 0, 4*len(delays)+8*len(amps)+1)
	for _, d := range delays {
		buf = binary.LittleEndian.AppendUint32(buf, d)
	}
	// Separate the sections so a 16-amp config can never collide with a
	// 32-amp config.
	buf = append(buf, byte(len(amps)))
	for _, a := range amps {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(a))
	}
	return string(buf)
}

// DedupTiles collapses the tile table into its unique configurations plus an
// index map from each original row to its unique index. Unique configs keep
// first-occurrence order. Rows must already be validated (16 delays, 16 or 32
// amps each). Empty input yields empty outputs.
func DedupTiles(delays [][]uint32, amps [][]float64) ([]TileConfig, []int32) {
	unique := make([]TileConfig, 0, len(delays))
	tileMap := make([]int32, len(delays))
	seen := make(map[string]int32, len(delays))
	for i := range delays {
		key := tileKey(delays[i], amps[i])
		idx, ok := seen[key]
		if !ok {
			idx = int32(len(unique))
			seen[key] = idx
			unique = append(unique, TileConfig{Delays: delays[i], Amps: amps[i]})
		}
		tileMap[i] = idx
	}
	return unique, tileMap
}

// DedupFreqs collapses a frequency list into its unique values plus an index
// map, keeping first-occurrence order. Equality is exact integer equality;
// any snapping to the coefficient table happens elsewhere.
func DedupFreqs(freqs []uint32) ([]uint32, []int32) {
	unique := make([]uint32, 0, len(freqs))
	freqMap := make([]int32, len(freqs))
	seen := make(map[uint32]int32, len(freqs))
	for i, f := range freqs {
		idx, ok := seen[f]
		if !ok {
			idx = int32(len(unique))
			seen[f] = idx
			unique = append(unique, f)
		}
		freqMap[i] = idx
	}
	return unique, freqMap
}
