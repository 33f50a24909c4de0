package beam

import (
	"math"
	"math/cmplx"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func testEntries() []StoreEntry {
	return []StoreEntry{
		{FreqHz: 150e6, GainX: [2]float64{1.00, 0.00}, GainY: [2]float64{0.97, 0.03}},
		{FreqHz: 200e6, GainX: [2]float64{0.95, 0.05}, GainY: [2]float64{0.93, 0.02}},
		{FreqHz: 250e6, GainX: [2]float64{0.90, 0.08}, GainY: [2]float64{0.88, 0.04}},
	}
}

func testBeam(t *testing.T) *Beam {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coeffs.json")
	require.NoError(t, WriteStore(path, testEntries()))
	b, err := New(path)
	require.NoError(t, err)
	return b
}

func zenithDelays() []uint32 { return make([]uint32, NumDipoles) }

func unitAmps() []float64 {
	amps := make([]float64, NumDipoles)
	for i := range amps {
		amps[i] = 1
	}
	return amps
}

func jonesSlices(j Jones) []float64 {
	f := j.Floats()
	return f[:]
}

func TestNewMissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestNewFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coeffs.json")
	require.NoError(t, WriteStore(path, testEntries()))
	t.Setenv(EnvCoeffFile, path)

	b, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, []uint32{150e6, 200e6, 250e6}, b.Freqs())
}

func TestNewFromEnvUnset(t *testing.T) {
	t.Setenv(EnvCoeffFile, "")
	_, err := NewFromEnv()
	require.Error(t, err)
}

func TestStoreDuplicateFreq(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coeffs.json")
	entries := testEntries()
	entries = append(entries, entries[0])
	require.NoError(t, WriteStore(path, entries))
	_, err := LoadStore(path)
	require.Error(t, err)
}

func TestClosestFreq(t *testing.T) {
	b := testBeam(t)
	assert.Equal(t, uint32(150e6), b.ClosestFreq(100e6))
	assert.Equal(t, uint32(150e6), b.ClosestFreq(150e6))
	assert.Equal(t, uint32(200e6), b.ClosestFreq(190e6))
	assert.Equal(t, uint32(250e6), b.ClosestFreq(250000001))
	assert.Equal(t, uint32(250e6), b.ClosestFreq(400e6))
}

func TestCalcJonesValidation(t *testing.T) {
	b := testBeam(t)

	_, err := b.CalcJones(0, 0, 150e6, make([]uint32, 15), unitAmps(), false, nil, false)
	require.Error(t, err)

	_, err = b.CalcJones(0, 0, 150e6, zenithDelays(), make([]float64, 17), false, nil, false)
	require.Error(t, err)

	_, err = b.CalcJonesArray([]float64{0, 1}, []float64{0}, 150e6, zenithDelays(), unitAmps(), false, nil, false)
	require.Error(t, err)
}

func TestZeroAmpsYieldZeroJones(t *testing.T) {
	b := testBeam(t)
	for _, za := range []float64{0, 0.3, 1.1} {
		j, err := b.CalcJones(0.8, za, 150e6, zenithDelays(), make([]float64, NumDipoles), true, nil, false)
		require.NoError(t, err)
		for i := 0; i < 4; i++ {
			assert.Zero(t, j[i])
		}
	}
}

func TestNonzeroAmpsYieldNonzeroJones(t *testing.T) {
	b := testBeam(t)
	j, err := b.CalcJones(0.7, 0.4, 150e6, zenithDelays(), unitAmps(), false, nil, false)
	require.NoError(t, err)
	nonzero := false
	for i := 0; i < 4; i++ {
		if cmplx.Abs(j[i]) > 0 {
			nonzero = true
		}
	}
	assert.True(t, nonzero)
}

func TestNormalizationAtZenith(t *testing.T) {
	b := testBeam(t)
	j, err := b.CalcJones(0, 0, 150e6, zenithDelays(), unitAmps(), true, nil, false)
	require.NoError(t, err)
	// A zenith-pointed tile normalised to its own zenith response has unit
	// off-diagonal magnitudes at zenith.
	assert.InDelta(t, 1.0, cmplx.Abs(j[1]), 1e-12)
	assert.InDelta(t, 1.0, cmplx.Abs(j[2]), 1e-12)
}

func TestNormalizationChangesResponse(t *testing.T) {
	b := testBeam(t)
	raw, err := b.CalcJones(0.7, 0.4, 200e6, zenithDelays(), unitAmps(), false, nil, false)
	require.NoError(t, err)
	norm, err := b.CalcJones(0.7, 0.4, 200e6, zenithDelays(), unitAmps(), true, nil, false)
	require.NoError(t, err)
	assert.NotEqual(t, raw, norm)
}

func TestLatitudeChangesResponse(t *testing.T) {
	b := testBeam(t)
	lat := -0.4660608448386394

	without, err := b.CalcJones(0.7, 0.6, 150e6, zenithDelays(), unitAmps(), false, nil, false)
	require.NoError(t, err)
	with, err := b.CalcJones(0.7, 0.6, 150e6, zenithDelays(), unitAmps(), false, &lat, false)
	require.NoError(t, err)

	assert.False(t, floats.EqualApprox(jonesSlices(without), jonesSlices(with), 1e-9),
		"parallactic-angle correction should change the response away from zenith")
}

func TestIAUOrderViaEngine(t *testing.T) {
	b := testBeam(t)
	plain, err := b.CalcJones(0.5, 0.3, 150e6, zenithDelays(), unitAmps(), false, nil, false)
	require.NoError(t, err)
	iau, err := b.CalcJones(0.5, 0.3, 150e6, zenithDelays(), unitAmps(), false, nil, true)
	require.NoError(t, err)
	assert.Equal(t, plain.IAU(), iau)
}

func TestSeparateXYGains(t *testing.T) {
	b := testBeam(t)
	amps32 := make([]float64, 2*NumDipoles)
	for i := 0; i < NumDipoles; i++ {
		amps32[i] = 1 // X at full gain
	}
	// All Y gains zero: second row must vanish, first must not.
	j, err := b.CalcJones(0.4, 0.5, 150e6, zenithDelays(), amps32, false, nil, false)
	require.NoError(t, err)
	assert.NotZero(t, cmplx.Abs(j[0])+cmplx.Abs(j[1]))
	assert.Zero(t, j[2])
	assert.Zero(t, j[3])
}

func TestDeadDipoleDiffers(t *testing.T) {
	b := testBeam(t)
	delays := zenithDelays()
	dead := zenithDelays()
	dead[5] = DelaySentinel

	alive, err := b.CalcJones(0.3, 0.2, 150e6, delays, unitAmps(), false, nil, false)
	require.NoError(t, err)
	partial, err := b.CalcJones(0.3, 0.2, 150e6, dead, unitAmps(), false, nil, false)
	require.NoError(t, err)
	assert.NotEqual(t, alive, partial)
}

func TestCalcJonesArrayOrdering(t *testing.T) {
	b := testBeam(t)
	n := 257 // not a multiple of typical worker counts
	az := make([]float64, n)
	za := make([]float64, n)
	for i := range az {
		az[i] = 0.45 + float64(i)/1000
		za[i] = 0.45 + float64(i)/1000
	}
	lat := -0.46

	batch, err := b.CalcJonesArray(az, za, 200e6, zenithDelays(), unitAmps(), true, &lat, true)
	require.NoError(t, err)
	require.Len(t, batch, n)

	// The parallel path must agree entry for entry with single-direction
	// calls, regardless of scheduling.
	for i := 0; i < n; i++ {
		single, err := b.CalcJones(az[i], za[i], 200e6, zenithDelays(), unitAmps(), true, &lat, true)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i], "direction %d", i)
	}
}

func TestCalcJonesMatrixShape(t *testing.T) {
	b := testBeam(t)
	az := []float64{0.1, 0.2, 0.3}
	za := []float64{0.2, 0.3, 0.4}
	freqs := []uint32{150e6, 150e6, 200e6}

	steered := zenithDelays()
	steered[0] = 3
	delays := [][]uint32{zenithDelays(), steered}
	amps := [][]float64{unitAmps(), unitAmps()}

	out, err := b.CalcJonesMatrix(az, za, freqs, delays, amps, false, nil, false)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Len(t, out[0], 3)
	require.Len(t, out[0][0], 3)

	// Indexed by original position: the duplicated frequency rows match.
	assert.Equal(t, out[0][0], out[0][1])
	// Different tiles differ.
	assert.NotEqual(t, out[0][0][0], out[1][0][0])
}

func TestParallacticAngleZenithSouth(t *testing.T) {
	// Looking due south from a southern site, the source is on the meridian
	// and the parallactic angle is 0 or pi, never anything else.
	q := ParallacticAngle(math.Pi, 0.3, -0.46)
	assert.True(t, math.Abs(math.Sin(q)) < 1e-9, "q = %v", q)
}
