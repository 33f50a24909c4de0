package beam

import (
	"math"
	"math/cmplx"

	"github.com/pkg/errors"
)

// Tile geometry. A tile is a 4x4 grid of crossed dipoles over a ground plane,
// steered by a per-dipole delay line in integer steps.
const (
	// NumDipoles is the number of dipoles in a tile.
	NumDipoles = 16
	// DelaySentinel marks a dead dipole. It must never compare equal to a
	// real delay value, including in deduplication.
	DelaySentinel = 32

	// DipoleSeparationM is the grid spacing in metres.
	DipoleSeparationM = 1.10
	// DipoleHeightM is the dipole height over the ground plane in metres.
	DipoleHeightM = 0.278

	delayStepS   = 435e-12
	speedOfLight = 299792458.0
)

// CoeffBlock holds the per-dipole complex weights for one (tile, frequency)
// pair: everything the direction evaluation needs. Blocks are immutable after
// preparation and safe for concurrent Eval calls.
type CoeffBlock struct {
	FreqHz uint32
	WX     [NumDipoles]complex128
	WY     [NumDipoles]complex128
}

// ValidateTile checks one tile's dipole settings: exactly 16 delays and
// either 16 or 32 amplitude gains.
func ValidateTile(delays []uint32, amps []float64) error {
	if len(delays) != NumDipoles {
		return errors.Errorf("expected %d dipole delays, got %d", NumDipoles, len(delays))
	}
	if len(amps) != NumDipoles && len(amps) != 2*NumDipoles {
		return errors.Errorf("expected %d or %d dipole amps, got %d", NumDipoles, 2*NumDipoles, len(amps))
	}
	return nil
}

// PrepareCoeffs builds the coefficient block for one tile configuration at
// the closest available frequency. 16 amps apply to both polarisations; 32
// amps are X gains followed by Y gains.
func (s *Store) PrepareCoeffs(freqHz uint32, delays []uint32, amps []float64) (*CoeffBlock, error) {
	if err := ValidateTile(delays, amps); err != nil {
		return nil, err
	}
	freq := s.ClosestFreq(freqHz)
	gx, gy := s.gains(freq)

	block := &CoeffBlock{FreqHz: freq}
	for i := 0; i < NumDipoles; i++ {
		if delays[i] == DelaySentinel {
			continue // dead dipole, weights stay zero
		}
		ampX := amps[i]
		ampY := amps[i]
		if len(amps) == 2*NumDipoles {
			ampY = amps[NumDipoles+i]
		}
		phase := -2 * math.Pi * float64(freq) * delayStepS * float64(delays[i])
		e := cmplx.Rect(1, phase)
		block.WX[i] = complex(ampX, 0) * gx * e
		block.WY[i] = complex(ampY, 0) * gy * e
	}
	return block, nil
}

// Wavenumber returns 2*pi*f/c for the block's (snapped) frequency.
func (c *CoeffBlock) Wavenumber() float64 {
	return 2 * math.Pi * float64(c.FreqHz) / speedOfLight
}

// Eval computes the raw beam response for one direction, before any
// normalisation, parallactic-angle correction or re-ordering. az is measured
// north through east; za is the zenith angle. Both are radians.
func (c *CoeffBlock) Eval(az, za float64) Jones {
	saz, caz := math.Sincos(az)
	sza, cza := math.Sincos(za)

	// Direction cosines: l east, m north.
	l := sza * saz
	m := sza * caz
	k := 2 * math.Pi * float64(c.FreqHz) / speedOfLight

	var afx, afy complex128
	for i := 0; i < NumDipoles; i++ {
		x := (float64(i%4) - 1.5) * DipoleSeparationM
		y := (1.5 - float64(i/4)) * DipoleSeparationM
		e := cmplx.Rect(1, k*(x*l+y*m))
		afx += c.WX[i] * e
		afy += c.WY[i] * e
	}

	// Ground-plane reflection factor.
	gp := complex(2*math.Sin(k*DipoleHeightM*cza), 0)
	afx *= gp
	afy *= gp

	// Project the array factors through the short-dipole element patterns.
	return Jones{
		afx * complex(cza*saz, 0),
		afx * complex(caz, 0),
		afy * complex(cza*caz, 0),
		afy * complex(-saz, 0),
	}
}

// ZenithScales returns the reciprocal zenith-response magnitudes for the two
// rows. Scaling a response by these normalises it so the tile's own zenith
// response has unit magnitude. A zero zenith response (for example an
// all-zero amplitude vector) leaves the scale at 1 so zero matrices stay
// zero rather than becoming NaN.
func (c *CoeffBlock) ZenithScales() (sx, sy float64) {
	z := c.Eval(0, 0)
	sx, sy = 1, 1
	if nx := cmplx.Abs(z[1]); nx > 0 {
		sx = 1 / nx
	}
	if ny := cmplx.Abs(z[2]); ny > 0 {
		sy = 1 / ny
	}
	return sx, sy
}
