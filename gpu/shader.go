package gpu

import "fmt"

// generateBeamShader produces the WGSL kernel evaluating one Jones matrix per
// (unique tile, unique frequency, direction) triple. It is the same analytic
// dipole-array model as the host path, in f32: per-dipole weights were
// prepared host-side, so the kernel only applies geometry, the ground-plane
// factor, the element projection and the post-processing steps.
//
// Buffer layout per (tile, freq) pair: 64 floats of coefficients (16 X
// weights then 16 Y weights, re/im interleaved) and one vec4 of pair params
// (wavenumber k, row scale X, row scale Y, unused).
func generateBeamShader(wgx uint32, separationM, heightM float64) string {
	return fmt.Sprintf(`
struct Params {
    num_directions: u32,
    num_pairs: u32,
    has_latitude: u32,
    iau_order: u32,
    latitude_rad: f32,
    pad0: f32,
    pad1: f32,
    pad2: f32,
};

@group(0) @binding(0) var<storage, read>       az : array<f32>;
@group(0) @binding(1) var<storage, read>       za : array<f32>;
@group(0) @binding(2) var<storage, read>       coeffs : array<f32>;
@group(0) @binding(3) var<storage, read>       pairs : array<vec4<f32>>;
@group(0) @binding(4) var<uniform>             params : Params;
@group(0) @binding(5) var<storage, read_write> out : array<f32>;

const SEPARATION: f32 = %g;
const HEIGHT: f32 = %g;

fn cmul(a: vec2<f32>, b: vec2<f32>) -> vec2<f32> {
    return vec2<f32>(a.x * b.x - a.y * b.y, a.x * b.y + a.y * b.x);
}

@compute @workgroup_size(%d, 1, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let idx = gid.x;
    let total = params.num_pairs * params.num_directions;
    if (idx >= total) {
        return;
    }
    let pair = idx / params.num_directions;
    let dir = idx %% params.num_directions;

    let a = az[dir];
    let z = za[dir];
    let saz = sin(a);
    let caz = cos(a);
    let sza = sin(z);
    let cza = cos(z);
    let l = sza * saz;
    let m = sza * caz;

    let p = pairs[pair];
    let k = p.x;

    var afx = vec2<f32>(0.0, 0.0);
    var afy = vec2<f32>(0.0, 0.0);
    let base = pair * 64u;
    for (var i = 0u; i < 16u; i++) {
        let x = (f32(i %% 4u) - 1.5) * SEPARATION;
        let y = (1.5 - f32(i / 4u)) * SEPARATION;
        let ph = k * (x * l + y * m);
        let e = vec2<f32>(cos(ph), sin(ph));
        let wx = vec2<f32>(coeffs[base + 2u * i], coeffs[base + 2u * i + 1u]);
        let wy = vec2<f32>(coeffs[base + 32u + 2u * i], coeffs[base + 32u + 2u * i + 1u]);
        afx += cmul(wx, e);
        afy += cmul(wy, e);
    }

    let gp = 2.0 * sin(k * HEIGHT * cza);
    afx *= gp;
    afy *= gp;

    var j00 = afx * (cza * saz) * p.y;
    var j01 = afx * caz * p.y;
    var j10 = afy * (cza * caz) * p.z;
    var j11 = afy * (-saz) * p.z;

    if (params.has_latitude == 1u) {
        let el = 1.5707963267948966 - z;
        let sel = sin(el);
        let cel = cos(el);
        let slat = sin(params.latitude_rad);
        let clat = cos(params.latitude_rad);
        let sdec = sel * slat + cel * clat * caz;
        let dec = asin(sdec);
        let ha = atan2(-saz * cel, sel * clat - cel * slat * caz);
        let q = atan2(sin(ha), tan(params.latitude_rad) * cos(dec) - sdec * cos(ha));
        let cq = cos(q);
        let sq = sin(q);
        let r00 = j00 * cq + j01 * sq;
        let r01 = -j00 * sq + j01 * cq;
        let r10 = j10 * cq + j11 * sq;
        let r11 = -j10 * sq + j11 * cq;
        j00 = r00;
        j01 = r01;
        j10 = r10;
        j11 = r11;
    }

    if (params.iau_order == 1u) {
        let t0 = j00;
        let t1 = j01;
        j00 = j11;
        j01 = j10;
        j10 = t1;
        j11 = t0;
    }

    let o = idx * 8u;
    out[o] = j00.x;
    out[o + 1u] = j00.y;
    out[o + 2u] = j01.x;
    out[o + 3u] = j01.y;
    out[o + 4u] = j10.x;
    out[o + 5u] = j10.y;
    out[o + 6u] = j11.x;
    out[o + 7u] = j11.y;
}
`, separationM, heightM, wgx)
}
