package gpu

import (
	"math"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/phasedarray/tilebeam/beam"
)

// floatsPerBlock is the flattened size of one coefficient block: 16 X weights
// then 16 Y weights, re/im interleaved.
const floatsPerBlock = 4 * beam.NumDipoles

// Beam computes beam responses on the GPU for a fixed set of tiles and
// frequencies. Construction deduplicates both lists and uploads coefficient
// blocks for the unique (tile, frequency) cross product only, so repeated
// inputs cost no extra device memory or transfer.
//
// A Beam is immutable after Prepare; different tiles or frequencies need a
// new Beam. Calls sharing one Beam must be externally synchronized: the
// device buffers have no internal lock. Free releases the device buffers
// exactly once; the owner must not use the Beam afterwards.
type Beam struct {
	ctx *Context

	numUniqueTiles int
	numUniqueFreqs int
	tileMap        []int32
	freqMap        []int32

	coeffBuf *wgpu.Buffer
	pairBuf  *wgpu.Buffer
	dTileMap *wgpu.Buffer
	dFreqMap *wgpu.Buffer

	pipeline        *wgpu.ComputePipeline
	bindGroupLayout *wgpu.BindGroupLayout
	workgroupX      uint32
}

// JonesTensor is a host-resident GPU result: one Jones matrix per (unique
// tile, unique frequency, direction), 8 float32 values each, re/im
// interleaved. Use the engine's TileMap and FreqMap to recover results for
// the original input positions.
type JonesTensor struct {
	UniqueTiles   int
	UniqueFreqs   int
	NumDirections int
	Data          []float32
}

// At returns the matrix for a unique tile index, unique frequency index and
// direction index.
func (t *JonesTensor) At(tile, freq, dir int) beam.Jones {
	o := ((tile*t.UniqueFreqs+freq)*t.NumDirections + dir) * 8
	d := t.Data[o : o+8]
	return beam.Jones{
		complex(float64(d[0]), float64(d[1])),
		complex(float64(d[2]), float64(d[3])),
		complex(float64(d[4]), float64(d[5])),
		complex(float64(d[6]), float64(d[7])),
	}
}

// Prepare builds a GPU engine from a host engine plus the observation's
// frequencies and tile table. delays rows hold 16 entries, amps rows 16 or
// 32; every row is one tile.
func Prepare(b *beam.Beam, freqs []uint32, delays [][]uint32, amps [][]float64, normToZenith bool) (*Beam, error) {
	if len(delays) != len(amps) {
		return nil, errors.Errorf("mismatched tile tables: %d delay rows, %d amp rows", len(delays), len(amps))
	}
	if len(delays) == 0 {
		return nil, errors.New("no tiles supplied")
	}
	if len(freqs) == 0 {
		return nil, errors.New("no frequencies supplied")
	}
	// Validate every row before any device work.
	for i := range delays {
		if err := beam.ValidateTile(delays[i], amps[i]); err != nil {
			return nil, errors.Wrapf(err, "tile %d", i)
		}
	}

	ctx, err := GetContext()
	if err != nil {
		return nil, err
	}

	// Snap every frequency to the coefficient table before deduplicating, so
	// two requested frequencies that resolve to the same table entry share
	// one coefficient block.
	snapped := make([]uint32, len(freqs))
	for i, f := range freqs {
		snapped[i] = b.ClosestFreq(f)
	}

	uniqueTiles, tileMap := beam.DedupTiles(delays, amps)
	uniqueFreqs, freqMap := beam.DedupFreqs(snapped)
	klog.V(1).Infof("gpu prepare: %d tiles -> %d unique, %d freqs -> %d unique",
		len(delays), len(uniqueTiles), len(freqs), len(uniqueFreqs))

	// One coefficient block per unique (tile, freq) pair, flattened to f32.
	numPairs := len(uniqueTiles) * len(uniqueFreqs)
	coeffs := make([]float32, 0, numPairs*floatsPerBlock)
	pairParams := make([]float32, 0, numPairs*4)
	for _, tile := range uniqueTiles {
		for _, freq := range uniqueFreqs {
			block, err := b.PrepareCoeffs(freq, tile.Delays, tile.Amps)
			if err != nil {
				return nil, errors.Wrapf(err, "freq %d Hz", freq)
			}
			for _, w := range block.WX {
				coeffs = append(coeffs, float32(real(w)), float32(imag(w)))
			}
			for _, w := range block.WY {
				coeffs = append(coeffs, float32(real(w)), float32(imag(w)))
			}
			sx, sy := 1.0, 1.0
			if normToZenith {
				sx, sy = block.ZenithScales()
			}
			pairParams = append(pairParams,
				float32(block.Wavenumber()), float32(sx), float32(sy), 0)
		}
	}

	gb := &Beam{
		ctx:            ctx,
		numUniqueTiles: len(uniqueTiles),
		numUniqueFreqs: len(uniqueFreqs),
		tileMap:        tileMap,
		freqMap:        freqMap,
		workgroupX:     ctx.WorkgroupX,
	}

	storage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
	if gb.coeffBuf, err = NewFloatBuffer(coeffs, storage); err != nil {
		gb.Free()
		return nil, errors.Wrap(err, "coefficient buffer")
	}
	if gb.pairBuf, err = NewFloatBuffer(pairParams, storage); err != nil {
		gb.Free()
		return nil, errors.Wrap(err, "pair parameter buffer")
	}
	if gb.dTileMap, err = NewInt32Buffer(tileMap, storage); err != nil {
		gb.Free()
		return nil, errors.Wrap(err, "device tile map")
	}
	if gb.dFreqMap, err = NewInt32Buffer(freqMap, storage); err != nil {
		gb.Free()
		return nil, errors.Wrap(err, "device freq map")
	}

	if err = gb.compile(); err != nil {
		gb.Free()
		return nil, err
	}
	return gb, nil
}

func (gb *Beam) compile() error {
	shader := generateBeamShader(gb.workgroupX, beam.DipoleSeparationM, beam.DipoleHeightM)
	module, err := gb.ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "TileBeam_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shader},
	})
	if err != nil {
		return errors.Wrap(err, "shader compile")
	}

	gb.bindGroupLayout, err = gb.ctx.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "TileBeam_BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}}, // az
			{Binding: 1, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}}, // za
			{Binding: 2, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}}, // coeffs
			{Binding: 3, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}}, // pair params
			{Binding: 4, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform}},         // params
			{Binding: 5, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}},         // out
		},
	})
	if err != nil {
		return errors.Wrap(err, "create bind group layout")
	}

	pipelineLayout, err := gb.ctx.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "TileBeam_Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{gb.bindGroupLayout},
	})
	if err != nil {
		return errors.Wrap(err, "create pipeline layout")
	}

	gb.pipeline, err = gb.ctx.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  "TileBeam_Pipe",
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return errors.Wrap(err, "pipeline create")
	}
	module.Release()
	return nil
}

// NumUniqueTiles returns the deduplicated tile count.
func (gb *Beam) NumUniqueTiles() int { return gb.numUniqueTiles }

// NumUniqueFreqs returns the deduplicated frequency count.
func (gb *Beam) NumUniqueFreqs() int { return gb.numUniqueFreqs }

// TileMap returns the host copy of the original-tile to unique-tile index
// map. The caller must not modify it.
func (gb *Beam) TileMap() []int32 { return gb.tileMap }

// FreqMap returns the host copy of the original-frequency to unique-frequency
// index map. The caller must not modify it.
func (gb *Beam) FreqMap() []int32 { return gb.freqMap }

// DeviceTileMap returns the device-resident tile map, borrowed from the
// engine for pipelining with downstream device consumers. It is destroyed by
// Free.
func (gb *Beam) DeviceTileMap() *wgpu.Buffer { return gb.dTileMap }

// DeviceFreqMap returns the device-resident frequency map, borrowed from the
// engine. It is destroyed by Free.
func (gb *Beam) DeviceFreqMap() *wgpu.Buffer { return gb.dFreqMap }

// ResultFloats returns the number of float32 values a result buffer needs for
// the given direction count.
func (gb *Beam) ResultFloats(numDirections int) int {
	return gb.numUniqueTiles * gb.numUniqueFreqs * numDirections * 8
}

type computeParams struct {
	numDirections uint32
	latitude      *float64
	iauOrder      bool
}

func (gb *Beam) uniformData(p computeParams) []float32 {
	hasLat := uint32(0)
	lat := float32(0)
	if p.latitude != nil {
		hasLat = 1
		lat = float32(*p.latitude)
	}
	iau := uint32(0)
	if p.iauOrder {
		iau = 1
	}
	return []float32{
		math.Float32frombits(p.numDirections),
		math.Float32frombits(uint32(gb.numUniqueTiles * gb.numUniqueFreqs)),
		math.Float32frombits(hasLat),
		math.Float32frombits(iau),
		lat, 0, 0, 0,
	}
}

// CalcJonesDevice runs the batched computation over directions already
// resident on the device and leaves the results in dJones, which must hold at
// least ResultFloats(numDirections) float32 values. Semantics are identical
// to CalcJones.
func (gb *Beam) CalcJonesDevice(dAz, dZa *wgpu.Buffer, numDirections int,
	latitude *float64, iauOrder bool, dJones *wgpu.Buffer) error {

	if gb.pipeline == nil {
		return errors.New("gpu beam has been freed")
	}
	if numDirections <= 0 {
		return errors.Errorf("invalid direction count %d", numDirections)
	}

	uniform := gb.uniformData(computeParams{
		numDirections: uint32(numDirections),
		latitude:      latitude,
		iauOrder:      iauOrder,
	})
	uniformBuf, err := gb.ctx.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Contents: wgpu.ToBytes(uniform),
		Usage:    wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return errors.Wrap(err, "uniform buffer")
	}
	defer uniformBuf.Destroy()

	bindGroup, err := gb.ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "TileBeam_Bind",
		Layout: gb.bindGroupLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: dAz, Size: dAz.GetSize()},
			{Binding: 1, Buffer: dZa, Size: dZa.GetSize()},
			{Binding: 2, Buffer: gb.coeffBuf, Size: gb.coeffBuf.GetSize()},
			{Binding: 3, Buffer: gb.pairBuf, Size: gb.pairBuf.GetSize()},
			{Binding: 4, Buffer: uniformBuf, Size: uniformBuf.GetSize()},
			{Binding: 5, Buffer: dJones, Size: dJones.GetSize()},
		},
	})
	if err != nil {
		return errors.Wrap(err, "create bind group")
	}
	defer bindGroup.Release()

	encoder, err := gb.ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return errors.Wrap(err, "create command encoder")
	}
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(gb.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	total := uint32(gb.numUniqueTiles*gb.numUniqueFreqs) * uint32(numDirections)
	pass.DispatchWorkgroups((total+gb.workgroupX-1)/gb.workgroupX, 1, 1)
	pass.End()

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return errors.Wrap(err, "finish command")
	}
	gb.ctx.Queue.Submit(cmd)
	pollWait(gb.ctx)
	return nil
}

// CalcJones computes responses for the given directions and returns them in
// host memory. The result is indexed by unique tile and frequency indices;
// partial results are never returned on error.
func (gb *Beam) CalcJones(az, za []float64, latitude *float64, iauOrder bool) (*JonesTensor, error) {
	if len(az) != len(za) {
		return nil, errors.Errorf("mismatched direction lists: %d az, %d za", len(az), len(za))
	}
	if len(az) == 0 {
		return nil, errors.New("no directions supplied")
	}

	az32 := make([]float32, len(az))
	za32 := make([]float32, len(za))
	for i := range az {
		az32[i] = float32(az[i])
		za32[i] = float32(za[i])
	}

	readOnly := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
	dAz, err := NewFloatBuffer(az32, readOnly)
	if err != nil {
		return nil, errors.Wrap(err, "azimuth buffer")
	}
	defer dAz.Destroy()
	dZa, err := NewFloatBuffer(za32, readOnly)
	if err != nil {
		return nil, errors.Wrap(err, "zenith angle buffer")
	}
	defer dZa.Destroy()

	n := gb.ResultFloats(len(az))
	dJones, err := gb.ctx.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "TileBeam_Out",
		Size:  uint64(n * 4),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, errors.Wrap(err, "result buffer")
	}
	defer dJones.Destroy()

	if err := gb.CalcJonesDevice(dAz, dZa, len(az), latitude, iauOrder, dJones); err != nil {
		return nil, err
	}

	data, err := ReadFloats(dJones, n)
	if err != nil {
		return nil, errors.Wrap(err, "read results")
	}
	return &JonesTensor{
		UniqueTiles:   gb.numUniqueTiles,
		UniqueFreqs:   gb.numUniqueFreqs,
		NumDirections: len(az),
		Data:          data,
	}, nil
}

// Free destroys the engine's device buffers and pipeline. Call it exactly
// once; the engine is unusable afterwards.
func (gb *Beam) Free() {
	if gb.coeffBuf != nil {
		gb.coeffBuf.Destroy()
		gb.coeffBuf = nil
	}
	if gb.pairBuf != nil {
		gb.pairBuf.Destroy()
		gb.pairBuf = nil
	}
	if gb.dTileMap != nil {
		gb.dTileMap.Destroy()
		gb.dTileMap = nil
	}
	if gb.dFreqMap != nil {
		gb.dFreqMap.Destroy()
		gb.dFreqMap = nil
	}
	if gb.pipeline != nil {
		gb.pipeline.Release()
		gb.pipeline = nil
	}
	gb.bindGroupLayout = nil
}
