// C ABI for the tilebeam library. Build with:
//
//	go build -buildmode=c-shared -o libtilebeam.so ./cabi
//
// Every function returns an int32 status code: 0 success, 1 engine error,
// 2 validation error, -1 intercepted internal failure. On a nonzero code the
// error message is retrievable with TileBeamLastErrorLength and
// TileBeamLastErrorMessage. Handles are opaque; free each exactly once and
// never use it afterwards.
package main

/*
#include <stdint.h>
#include <stdlib.h>
*/
import "C"

import (
	"unsafe"

	"github.com/phasedarray/tilebeam/beam"
	"github.com/phasedarray/tilebeam/ffi"
	"github.com/phasedarray/tilebeam/gpu"
)

var (
	beams    = ffi.NewRegistry[*beam.Beam]()
	gpuBeams = ffi.NewRegistry[*gpu.Beam]()
)

// Flag validation happens before any caller pointer is dereferenced. The
// helpers take plain Go types so the boundary checks are testable without cgo.

func parseBool(name string, v uint8) (bool, error) {
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ffi.Invalidf("a value other than 0 or 1 was used for %s", name)
	}
}

func checkNumAmps(numAmps uint32) (int, error) {
	if numAmps != 16 && numAmps != 32 {
		return 0, ffi.Invalidf("a value other than 16 or 32 was used for num_amps")
	}
	return int(numAmps), nil
}

func f64Slice(p *C.double, n int) []float64 {
	s := (*[1 << 30]float64)(unsafe.Pointer(p))[:n:n]
	out := make([]float64, n)
	copy(out, s)
	return out
}

func u32Slice(p *C.uint32_t, n int) []uint32 {
	s := (*[1 << 30]uint32)(unsafe.Pointer(p))[:n:n]
	out := make([]uint32, n)
	copy(out, s)
	return out
}

func optLatitude(p *C.double) *float64 {
	if p == nil {
		return nil
	}
	lat := float64(*p)
	return &lat
}

func writeJones(dst *C.double, j beam.Jones) {
	out := (*[1 << 30]float64)(unsafe.Pointer(dst))[:8:8]
	f := j.Floats()
	copy(out, f[:])
}

//export NewTileBeam
func NewTileBeam(coeffFile *C.char, beamHandle *C.uintptr_t) C.int32_t {
	return C.int32_t(ffi.Guard(func() error {
		b, err := beam.New(C.GoString(coeffFile))
		if err != nil {
			return err
		}
		*beamHandle = C.uintptr_t(beams.Put(b))
		return nil
	}))
}

//export NewTileBeamFromEnv
func NewTileBeamFromEnv(beamHandle *C.uintptr_t) C.int32_t {
	return C.int32_t(ffi.Guard(func() error {
		b, err := beam.NewFromEnv()
		if err != nil {
			return err
		}
		*beamHandle = C.uintptr_t(beams.Put(b))
		return nil
	}))
}

//export TileBeamCalcJones
func TileBeamCalcJones(beamHandle C.uintptr_t, azRad, zaRad C.double, freqHz C.uint32_t,
	delays *C.uint32_t, amps *C.double, numAmps C.uint32_t, normToZenith C.uint8_t,
	latitudeRad *C.double, iauOrder C.uint8_t, jones *C.double) C.int32_t {

	return C.int32_t(ffi.Guard(func() error {
		nAmps, err := checkNumAmps(uint32(numAmps))
		if err != nil {
			return err
		}
		norm, err := parseBool("norm_to_zenith", uint8(normToZenith))
		if err != nil {
			return err
		}
		iau, err := parseBool("iau_order", uint8(iauOrder))
		if err != nil {
			return err
		}
		b, err := beams.Get(uintptr(beamHandle))
		if err != nil {
			return err
		}

		j, err := b.CalcJones(float64(azRad), float64(zaRad), uint32(freqHz),
			u32Slice(delays, beam.NumDipoles), f64Slice(amps, nAmps),
			norm, optLatitude(latitudeRad), iau)
		if err != nil {
			return err
		}
		writeJones(jones, j)
		return nil
	}))
}

//export TileBeamCalcJonesArray
func TileBeamCalcJonesArray(beamHandle C.uintptr_t, numAzza C.uint32_t, azRad, zaRad *C.double,
	freqHz C.uint32_t, delays *C.uint32_t, amps *C.double, numAmps C.uint32_t,
	normToZenith C.uint8_t, latitudeRad *C.double, iauOrder C.uint8_t, jones *C.double) C.int32_t {

	return C.int32_t(ffi.Guard(func() error {
		nAmps, err := checkNumAmps(uint32(numAmps))
		if err != nil {
			return err
		}
		norm, err := parseBool("norm_to_zenith", uint8(normToZenith))
		if err != nil {
			return err
		}
		iau, err := parseBool("iau_order", uint8(iauOrder))
		if err != nil {
			return err
		}
		b, err := beams.Get(uintptr(beamHandle))
		if err != nil {
			return err
		}

		n := int(numAzza)
		results, err := b.CalcJonesArray(f64Slice(azRad, n), f64Slice(zaRad, n),
			uint32(freqHz), u32Slice(delays, beam.NumDipoles), f64Slice(amps, nAmps),
			norm, optLatitude(latitudeRad), iau)
		if err != nil {
			return err
		}
		out := (*[1 << 28]float64)(unsafe.Pointer(jones))[: 8*n : 8*n]
		for i, j := range results {
			f := j.Floats()
			copy(out[8*i:8*i+8], f[:])
		}
		return nil
	}))
}

//export TileBeamNumFreqs
func TileBeamNumFreqs(beamHandle C.uintptr_t, numFreqs *C.uint32_t) C.int32_t {
	return C.int32_t(ffi.Guard(func() error {
		b, err := beams.Get(uintptr(beamHandle))
		if err != nil {
			return err
		}
		*numFreqs = C.uint32_t(len(b.Freqs()))
		return nil
	}))
}

//export TileBeamFreqs
func TileBeamFreqs(beamHandle C.uintptr_t, freqsOut *C.uint32_t) C.int32_t {
	return C.int32_t(ffi.Guard(func() error {
		b, err := beams.Get(uintptr(beamHandle))
		if err != nil {
			return err
		}
		freqs := b.Freqs()
		out := (*[1 << 30]uint32)(unsafe.Pointer(freqsOut))[:len(freqs):len(freqs)]
		copy(out, freqs)
		return nil
	}))
}

//export TileBeamClosestFreq
func TileBeamClosestFreq(beamHandle C.uintptr_t, freqHz C.uint32_t, closest *C.uint32_t) C.int32_t {
	return C.int32_t(ffi.Guard(func() error {
		b, err := beams.Get(uintptr(beamHandle))
		if err != nil {
			return err
		}
		*closest = C.uint32_t(b.ClosestFreq(uint32(freqHz)))
		return nil
	}))
}

//export FreeTileBeam
func FreeTileBeam(beamHandle C.uintptr_t) C.int32_t {
	return C.int32_t(ffi.Guard(func() error {
		_, err := beams.Remove(uintptr(beamHandle))
		return err
	}))
}

//export NewGpuTileBeam
func NewGpuTileBeam(beamHandle C.uintptr_t, freqsHz *C.uint32_t, delays *C.uint32_t, amps *C.double,
	numFreqs, numTiles, numAmps C.uint32_t, normToZenith C.uint8_t, gpuHandle *C.uintptr_t) C.int32_t {

	return C.int32_t(ffi.Guard(func() error {
		nAmps, err := checkNumAmps(uint32(numAmps))
		if err != nil {
			return err
		}
		norm, err := parseBool("norm_to_zenith", uint8(normToZenith))
		if err != nil {
			return err
		}
		b, err := beams.Get(uintptr(beamHandle))
		if err != nil {
			return err
		}

		nTiles := int(numTiles)
		flatDelays := u32Slice(delays, nTiles*beam.NumDipoles)
		flatAmps := f64Slice(amps, nTiles*nAmps)
		delayRows := make([][]uint32, nTiles)
		ampRows := make([][]float64, nTiles)
		for t := 0; t < nTiles; t++ {
			delayRows[t] = flatDelays[t*beam.NumDipoles : (t+1)*beam.NumDipoles]
			ampRows[t] = flatAmps[t*nAmps : (t+1)*nAmps]
		}

		gb, err := gpu.Prepare(b, u32Slice(freqsHz, int(numFreqs)), delayRows, ampRows, norm)
		if err != nil {
			return err
		}
		*gpuHandle = C.uintptr_t(gpuBeams.Put(gb))
		return nil
	}))
}

//export GpuTileBeamCalcJones
func GpuTileBeamCalcJones(gpuHandle C.uintptr_t, numAzza C.uint32_t, azRad, zaRad *C.double,
	latitudeRad *C.double, iauOrder C.uint8_t, jones *C.float) C.int32_t {

	return C.int32_t(ffi.Guard(func() error {
		iau, err := parseBool("iau_order", uint8(iauOrder))
		if err != nil {
			return err
		}
		gb, err := gpuBeams.Get(uintptr(gpuHandle))
		if err != nil {
			return err
		}

		n := int(numAzza)
		tensor, err := gb.CalcJones(f64Slice(azRad, n), f64Slice(zaRad, n), optLatitude(latitudeRad), iau)
		if err != nil {
			return err
		}
		out := (*[1 << 28]float32)(unsafe.Pointer(jones))[:len(tensor.Data):len(tensor.Data)]
		copy(out, tensor.Data)
		return nil
	}))
}

//export GpuTileBeamNumUniqueTiles
func GpuTileBeamNumUniqueTiles(gpuHandle C.uintptr_t) C.int32_t {
	gb, err := gpuBeams.Get(uintptr(gpuHandle))
	if err != nil {
		ffi.SetLastError(err.Error())
		return -1
	}
	return C.int32_t(gb.NumUniqueTiles())
}

//export GpuTileBeamNumUniqueFreqs
func GpuTileBeamNumUniqueFreqs(gpuHandle C.uintptr_t) C.int32_t {
	gb, err := gpuBeams.Get(uintptr(gpuHandle))
	if err != nil {
		ffi.SetLastError(err.Error())
		return -1
	}
	return C.int32_t(gb.NumUniqueFreqs())
}

//export GpuTileBeamTileMap
func GpuTileBeamTileMap(gpuHandle C.uintptr_t, mapOut *C.int32_t) C.int32_t {
	return C.int32_t(ffi.Guard(func() error {
		gb, err := gpuBeams.Get(uintptr(gpuHandle))
		if err != nil {
			return err
		}
		m := gb.TileMap()
		out := (*[1 << 30]int32)(unsafe.Pointer(mapOut))[:len(m):len(m)]
		copy(out, m)
		return nil
	}))
}

//export GpuTileBeamFreqMap
func GpuTileBeamFreqMap(gpuHandle C.uintptr_t, mapOut *C.int32_t) C.int32_t {
	return C.int32_t(ffi.Guard(func() error {
		gb, err := gpuBeams.Get(uintptr(gpuHandle))
		if err != nil {
			return err
		}
		m := gb.FreqMap()
		out := (*[1 << 30]int32)(unsafe.Pointer(mapOut))[:len(m):len(m)]
		copy(out, m)
		return nil
	}))
}

//export FreeGpuTileBeam
func FreeGpuTileBeam(gpuHandle C.uintptr_t) C.int32_t {
	return C.int32_t(ffi.Guard(func() error {
		gb, err := gpuBeams.Remove(uintptr(gpuHandle))
		if err != nil {
			return err
		}
		gb.Free()
		return nil
	}))
}

//export TileBeamLastErrorLength
func TileBeamLastErrorLength() C.int32_t {
	return C.int32_t(ffi.LastErrorLength())
}

// lastErrorMessage copies the last error into a caller buffer. The length is
// validated before the unsafe slice is built from it, so a hostile bufLen
// yields -1 instead of a runtime fault.
func lastErrorMessage(buf unsafe.Pointer, bufLen int32) int32 {
	if buf == nil || bufLen <= 0 {
		return -1
	}
	dst := (*[1 << 30]byte)(buf)[:int(bufLen):int(bufLen)]
	return int32(ffi.CopyLastError(dst))
}

//export TileBeamLastErrorMessage
func TileBeamLastErrorMessage(buf *C.char, bufLen C.int32_t) C.int32_t {
	return C.int32_t(lastErrorMessage(unsafe.Pointer(buf), int32(bufLen)))
}

func main() {}
