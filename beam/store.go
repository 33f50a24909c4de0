package beam

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// EnvCoeffFile names the environment variable holding the coefficient file
// path for NewFromEnv.
const EnvCoeffFile = "TILEBEAM_COEFF_FILE"

// StoreEntry is one frequency's element gains in the coefficient file. The
// gains are the per-frequency complex response of a single X and Y dipole
// element, expressed as [real, imaginary] pairs so the file stays plain JSON.
type StoreEntry struct {
	FreqHz uint32     `json:"freq_hz"`
	GainX  [2]float64 `json:"gain_x"`
	GainY  [2]float64 `json:"gain_y"`
}

type storeFile struct {
	Entries []StoreEntry `json:"entries"`
}

// Store holds the loaded coefficient table. It is read-only after loading and
// safe for concurrent use.
type Store struct {
	freqs []uint32 // ascending
	gainX map[uint32]complex128
	gainY map[uint32]complex128
}

// LoadStore reads a coefficient file from disk.
func LoadStore(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read coefficient file %q", path)
	}
	var f storeFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrapf(err, "parse coefficient file %q", path)
	}
	if len(f.Entries) == 0 {
		return nil, errors.Errorf("coefficient file %q has no frequency entries", path)
	}

	s := &Store{
		freqs: make([]uint32, 0, len(f.Entries)),
		gainX: make(map[uint32]complex128, len(f.Entries)),
		gainY: make(map[uint32]complex128, len(f.Entries)),
	}
	for _, e := range f.Entries {
		if _, ok := s.gainX[e.FreqHz]; ok {
			return nil, errors.Errorf("coefficient file %q lists frequency %d Hz twice", path, e.FreqHz)
		}
		s.freqs = append(s.freqs, e.FreqHz)
		s.gainX[e.FreqHz] = complex(e.GainX[0], e.GainX[1])
		s.gainY[e.FreqHz] = complex(e.GainY[0], e.GainY[1])
	}
	sort.Slice(s.freqs, func(i, j int) bool { return s.freqs[i] < s.freqs[j] })

	klog.V(1).Infof("loaded coefficient store %q: %d frequencies (%d..%d Hz)",
		path, len(s.freqs), s.freqs[0], s.freqs[len(s.freqs)-1])
	return s, nil
}

// WriteStore writes a coefficient file. It exists for tooling and tests; the
// library never writes stores on its own.
func WriteStore(path string, entries []StoreEntry) error {
	raw, err := json.MarshalIndent(storeFile{Entries: entries}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode coefficient store")
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.Wrapf(err, "write coefficient file %q", path)
	}
	return nil
}

// Freqs returns the available frequencies in ascending order. The slice is a
// copy; callers may keep it.
func (s *Store) Freqs() []uint32 {
	out := make([]uint32, len(s.freqs))
	copy(out, s.freqs)
	return out
}

// ClosestFreq returns the available frequency nearest to target. Ties resolve
// to the lower frequency.
func (s *Store) ClosestFreq(target uint32) uint32 {
	best := s.freqs[0]
	bestDiff := absDiff(best, target)
	for _, f := range s.freqs[1:] {
		if d := absDiff(f, target); d < bestDiff {
			best = f
			bestDiff = d
		}
	}
	return best
}

func absDiff(a, b uint32) uint64 {
	if a > b {
		return uint64(a - b)
	}
	return uint64(b - a)
}

func (s *Store) gains(freqHz uint32) (gx, gy complex128) {
	return s.gainX[freqHz], s.gainY[freqHz]
}
