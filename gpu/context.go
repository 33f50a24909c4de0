package gpu

import (
	"strings"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/phasedarray/tilebeam/detector"
)

// Context holds the single WebGPU context for the process.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue

	// WorkgroupX is the 1D workgroup size the probe recommended for this
	// adapter. Shaders are generated with this value.
	WorkgroupX uint32

	once sync.Once
}

var ctx Context

// GetContext returns the singleton GPU context, initializing it if necessary.
func GetContext() (*Context, error) {
	var initErr error
	ctx.once.Do(func() {
		ctx.Instance = wgpu.CreateInstance(nil)
		if ctx.Instance == nil {
			initErr = errors.New("failed to create WebGPU instance")
			return
		}

		// Prefer a discrete adapter when one is present.
		for _, a := range ctx.Instance.EnumerateAdapters(nil) {
			info := a.GetInfo()
			klog.V(1).Infof("adapter: %s (vendor %s, type %d)", info.Name, info.VendorName, info.AdapterType)
			if strings.Contains(strings.ToLower(info.Name), "nvidia") ||
				strings.Contains(strings.ToLower(info.VendorName), "nvidia") {
				ctx.Adapter = a
				break
			}
		}

		tryInit := func(opts *wgpu.RequestAdapterOptions) error {
			if ctx.Adapter != nil {
				return nil
			}
			var err error
			ctx.Adapter, err = ctx.Instance.RequestAdapter(opts)
			return err
		}

		if ctx.Adapter == nil {
			initErr = tryInit(&wgpu.RequestAdapterOptions{
				PowerPreference: wgpu.PowerPreferenceHighPerformance,
			})
		}
		if initErr != nil && ctx.Adapter == nil {
			klog.Warningf("high performance adapter failed: %v, falling back", initErr)
			initErr = tryInit(&wgpu.RequestAdapterOptions{
				PowerPreference: wgpu.PowerPreferenceLowPower,
			})
		}
		if initErr != nil && ctx.Adapter == nil {
			klog.Warningf("low power adapter failed: %v, trying default", initErr)
			initErr = tryInit(nil)
		}
		if ctx.Adapter == nil {
			initErr = errors.Errorf("all adapter attempts failed: %v", initErr)
			return
		}

		info := ctx.Adapter.GetInfo()
		klog.V(1).Infof("using GPU adapter: %s (vendor %s)", info.Name, info.VendorName)

		var err error
		ctx.Device, err = ctx.Adapter.RequestDevice(nil)
		if err != nil {
			initErr = err
			return
		}
		ctx.Queue = ctx.Device.GetQueue()
		ctx.WorkgroupX = recommendWorkgroup()
	})

	if initErr != nil {
		return nil, initErr
	}
	if ctx.Device == nil || ctx.Queue == nil {
		return nil, errors.New("WebGPU device or queue not initialized")
	}
	return &ctx, nil
}

// EnsureGPU reports whether a usable GPU context can be created. Tests use it
// to skip on machines without an adapter.
func EnsureGPU() error {
	_, err := GetContext()
	return err
}

func recommendWorkgroup() uint32 {
	rep, err := detector.Probe()
	if err != nil {
		klog.Warningf("capability probe failed: %v, defaulting workgroup to 64", err)
		return 64
	}
	wgx := rep.Recommended.WorkgroupX
	if wgx == 0 {
		wgx = 64
	}
	if wgx > rep.Limits.MaxComputeWorkgroupSizeX {
		wgx = rep.Limits.MaxComputeWorkgroupSizeX
	}
	return wgx
}

// pollWait blocks until all submitted device work has completed. Required
// before reading results or destroying buffers, especially on tiled GPUs.
func pollWait(c *Context) {
	c.Device.Poll(true, nil)
}
