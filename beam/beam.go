package beam

import (
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Beam is the host compute engine. It owns the loaded coefficient store and
// nothing else; all calls are read-only and safe to run concurrently.
type Beam struct {
	store *Store
}

// New creates a beam engine from a coefficient file.
func New(coeffFile string) (*Beam, error) {
	store, err := LoadStore(coeffFile)
	if err != nil {
		return nil, err
	}
	return &Beam{store: store}, nil
}

// NewFromEnv creates a beam engine from the coefficient file named by the
// TILEBEAM_COEFF_FILE environment variable.
func NewFromEnv() (*Beam, error) {
	path := os.Getenv(EnvCoeffFile)
	if path == "" {
		return nil, errors.Errorf("environment variable %s is not set", EnvCoeffFile)
	}
	return New(path)
}

// Store returns the engine's coefficient store.
func (b *Beam) Store() *Store { return b.store }

// Freqs returns the frequencies available in the coefficient store.
func (b *Beam) Freqs() []uint32 { return b.store.Freqs() }

// ClosestFreq returns the available frequency nearest to target.
func (b *Beam) ClosestFreq(target uint32) uint32 { return b.store.ClosestFreq(target) }

// PrepareCoeffs builds the coefficient block for one tile configuration at
// the closest available frequency.
func (b *Beam) PrepareCoeffs(freqHz uint32, delays []uint32, amps []float64) (*CoeffBlock, error) {
	return b.store.PrepareCoeffs(freqHz, delays, amps)
}

// finish applies the post-processing pipeline shared by every compute path:
// zenith normalisation, then the parallactic-angle rotation when a latitude
// is supplied, then the IAU re-ordering.
func finish(j Jones, az, za float64, sx, sy float64, latitude *float64, iauOrder bool) Jones {
	j = j.ScaledRows(sx, sy)
	if latitude != nil {
		j = j.Rotated(ParallacticAngle(az, za, *latitude))
	}
	if iauOrder {
		j = j.IAU()
	}
	return j
}

// CalcJones computes the beam response for a single direction. latitude may
// be nil, which skips the parallactic-angle correction entirely.
func (b *Beam) CalcJones(az, za float64, freqHz uint32, delays []uint32, amps []float64,
	normToZenith bool, latitude *float64, iauOrder bool) (Jones, error) {

	block, err := b.store.PrepareCoeffs(freqHz, delays, amps)
	if err != nil {
		return Jones{}, err
	}
	sx, sy := 1.0, 1.0
	if normToZenith {
		sx, sy = block.ZenithScales()
	}
	return finish(block.Eval(az, za), az, za, sx, sy, latitude, iauOrder), nil
}

// CalcJonesArray computes beam responses for many directions of one tile and
// frequency. Directions are evaluated in parallel; the output order always
// matches the input order because each worker writes into its own pre-sized
// slots.
func (b *Beam) CalcJonesArray(az, za []float64, freqHz uint32, delays []uint32, amps []float64,
	normToZenith bool, latitude *float64, iauOrder bool) ([]Jones, error) {

	if len(az) != len(za) {
		return nil, errors.Errorf("mismatched direction lists: %d az, %d za", len(az), len(za))
	}
	block, err := b.store.PrepareCoeffs(freqHz, delays, amps)
	if err != nil {
		return nil, err
	}
	sx, sy := 1.0, 1.0
	if normToZenith {
		sx, sy = block.ZenithScales()
	}

	out := make([]Jones, len(az))
	var wg sync.WaitGroup
	numWorkers := runtime.NumCPU()
	chunkSize := (len(az) + numWorkers - 1) / numWorkers

	for w := 0; w < numWorkers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > len(az) {
			end = len(az)
		}
		if start >= end {
			break
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				out[i] = finish(block.Eval(az[i], za[i]), az[i], za[i], sx, sy, latitude, iauOrder)
			}
		}(start, end)
	}
	wg.Wait()

	return out, nil
}

// CalcJonesMatrix computes responses for every (tile, frequency, direction)
// combination, indexed by original position: result[tile][freq][direction].
// No deduplication happens on this path; repeated rows are simply recomputed.
func (b *Beam) CalcJonesMatrix(az, za []float64, freqs []uint32, delays [][]uint32, amps [][]float64,
	normToZenith bool, latitude *float64, iauOrder bool) ([][][]Jones, error) {

	if len(delays) != len(amps) {
		return nil, errors.Errorf("mismatched tile tables: %d delay rows, %d amp rows", len(delays), len(amps))
	}
	klog.V(1).Infof("host batch compute: %d tiles x %d freqs x %d directions",
		len(delays), len(freqs), len(az))

	out := make([][][]Jones, len(delays))
	for t := range delays {
		out[t] = make([][]Jones, len(freqs))
		for f, freq := range freqs {
			row, err := b.CalcJonesArray(az, za, freq, delays[t], amps[t], normToZenith, latitude, iauOrder)
			if err != nil {
				return nil, errors.Wrapf(err, "tile %d, freq %d Hz", t, freq)
			}
			out[t][f] = row
		}
	}
	return out, nil
}
