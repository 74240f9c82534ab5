// Package backdrop implements the backdrop accumulation stage of a
// tile-based vector graphics rasterizer. For every draw object it turns the
// per-tile winding deltas left behind by coarse rasterization into absolute
// winding numbers, by computing an inclusive prefix sum along each row of
// the object's tile block.
//
// The stage runs either as a WGSL compute shader on a WebGPU device or as a
// CPU kernel over the same byte layouts. Both backends consume the same
// recordings and produce bit-identical tile buffers.
package backdrop

import (
	"honnef.co/go/backdrop/engine/wgpu_engine"
	"honnef.co/go/backdrop/renderer"
	"honnef.co/go/safeish"
	"honnef.co/go/wgpu"
)

type RendererOptions struct {
	// UseCPU runs the stage on the CPU. No device or queue is needed and
	// results are written into the caller's tile slice directly.
	UseCPU bool
}

// Renderer records and executes the backdrop stage.
type Renderer struct {
	engine *wgpu_engine.Engine
	useCPU bool
}

// NewRenderer creates all pipelines on dev. dev may be nil when
// options.UseCPU is set.
func NewRenderer(dev *wgpu.Device, options *RendererOptions) *Renderer {
	useCPU := options != nil && options.UseCPU
	eng := wgpu_engine.New(dev, &wgpu_engine.RendererOptions{UseCPU: useCPU})
	return &Renderer{
		engine: eng,
		useCPU: useCPU,
	}
}

// RenderBackdrop runs the backdrop stage over paths and tiles using config.
// tiles holds each path's tile block at the offset named by its Tiles
// field, with winding deltas in the Backdrop fields; afterwards those
// fields hold row-wise inclusive prefix sums.
//
// On the CPU backend the sums are written into tiles in place and the
// returned proxy needs no readback. On the GPU backend the result is
// copied to a staging buffer which ReadTiles maps and returns.
func (r *Renderer) RenderBackdrop(
	queue *wgpu.Queue,
	config *renderer.RenderConfig,
	paths []renderer.Path,
	tiles []renderer.Tile,
) (renderer.BufferProxy, error) {
	var recording renderer.Recording
	tileBuf := renderer.RecordBackdrop(&recording, r.engine.Shaders(), config, paths, tiles)
	if !r.useCPU {
		recording.Download(tileBuf)
	}
	recording.FreeBuffer(tileBuf)
	err := r.engine.RunRecording(queue, &recording, nil, "backdrop")
	return tileBuf, err
}

// ReadTiles blocks until the staging copy of a downloaded tile buffer is
// mapped and returns its contents. It must only be used on the GPU
// backend; the CPU backend mutates the caller's tiles in place.
func (r *Renderer) ReadTiles(buf renderer.BufferProxy) ([]renderer.Tile, error) {
	staging, ok := r.engine.GetDownload(buf)
	if !ok {
		panic("tile buffer was never downloaded")
	}
	ch := staging.Map(r.engine.Device, wgpu.MapModeRead, 0, int(buf.Size))
	if err := <-ch; err != nil {
		staging.Unmap()
		r.engine.FreeDownload(buf)
		return nil, err
	}
	data := safeish.SliceCast[[]renderer.Tile](staging.ReadOnlyMappedRange(0, int(buf.Size)))
	out := make([]renderer.Tile, len(data))
	copy(out, data)
	staging.Unmap()
	r.engine.FreeDownload(buf)
	return out, nil
}

func (r *Renderer) Engine() *wgpu_engine.Engine {
	return r.engine
}
