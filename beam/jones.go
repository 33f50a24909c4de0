package beam

import (
	"math"

	"gonum.org/v1/gonum/cmplxs"
)

// Jones is a 2x2 complex beam-response matrix, stored row-major:
// [j00, j01, j10, j11]. The first row is the response of the X (east-west)
// dipoles, the second the Y (north-south) dipoles.
type Jones [4]complex128

// IAU returns the matrix with its entries re-ordered to the IAU convention:
// entry 0 swaps with 3 and entry 1 swaps with 2. Applying it twice gives back
// the original matrix.
func (j Jones) IAU() Jones {
	return Jones{j[3], j[2], j[1], j[0]}
}

// Rotated right-multiplies the matrix by a rotation of angle q radians.
func (j Jones) Rotated(q float64) Jones {
	s, c := math.Sincos(q)
	cs := complex(c, 0)
	sn := complex(s, 0)
	return Jones{
		j[0]*cs + j[1]*sn,
		-j[0]*sn + j[1]*cs,
		j[2]*cs + j[3]*sn,
		-j[2]*sn + j[3]*cs,
	}
}

// ScaledRows multiplies the first row by sx and the second row by sy.
func (j Jones) ScaledRows(sx, sy float64) Jones {
	out := j
	cmplxs.Scale(complex(sx, 0), out[:2])
	cmplxs.Scale(complex(sy, 0), out[2:])
	return out
}

// Floats unpacks the matrix into 8 float64 values, real and imaginary parts
// interleaved. Complex numbers cannot cross the C ABI, so this is the wire
// form used by the exported functions.
func (j Jones) Floats() [8]float64 {
	return [8]float64{
		real(j[0]), imag(j[0]),
		real(j[1]), imag(j[1]),
		real(j[2]), imag(j[2]),
		real(j[3]), imag(j[3]),
	}
}
