// Package wgpu_engine executes recordings on WebGPU devices, with an
// optional CPU execution mode that runs the compute kernels on the host
// instead. Both modes consume the same recordings and produce bit-identical
// buffer contents.
package wgpu_engine

import (
	"honnef.co/go/backdrop/engine/wgpu_engine/shaders"
	"honnef.co/go/backdrop/engine/wgpu_engine/shaders/cpu"
	"honnef.co/go/backdrop/renderer"
	"honnef.co/go/wgpu"
)

type RendererOptions struct {
	// UseCPU runs compute kernels on the CPU. Uploads and dispatches then
	// operate on the uploaded byte slices directly and no device is needed.
	UseCPU bool
	// ParallelShaderInitialization collects all shaders during
	// registration and builds their pipelines in one batch at the end of
	// New, instead of one at a time as they are registered.
	ParallelShaderInitialization bool
}

var bindTypeMapping = [...]renderer.BindType{
	shaders.Buffer:      renderer.BindTypeBuffer,
	shaders.BufReadOnly: renderer.BindTypeBufReadOnly,
	shaders.Uniform:     renderer.BindTypeUniform,
}

// New returns an engine with all compute pipelines created on dev. If
// options.UseCPU is set, dev may be nil.
func New(dev *wgpu.Device, options *RendererOptions) *Engine {
	if options == nil {
		options = &RendererOptions{}
	}
	eng := &Engine{
		Device: dev,
		pool: resourcePool{
			bufs: map[bufferProperties][]*wgpu.Buffer{},
		},
		bindMap: bindMap{
			bufMap:        map[renderer.ResourceID]*bindMapBuffer{},
			pendingClears: map[renderer.ResourceID]struct{}{},
		},
		downloads: map[renderer.ResourceID]*wgpu.Buffer{},
		UseCPU:    options.UseCPU,
	}
	if options.ParallelShaderInitialization {
		eng.UseParallelInitialization()
	}
	eng.fullShaders = eng.newFullShaders()
	eng.buildShadersIfNeeded(1)
	return eng
}

func (eng *Engine) Shaders() *renderer.FullShaders {
	return eng.fullShaders
}

func (eng *Engine) newFullShaders() *renderer.FullShaders {
	add := func(s shaders.ComputeShader, kernel func(uint32, []cpu.CPUBinding) error) renderer.ShaderID {
		layout := make([]renderer.BindType, len(s.Bindings))
		for i, b := range s.Bindings {
			layout[i] = bindTypeMapping[b]
		}
		return eng.addShader(s.Name, s.WGSL, layout, kernel)
	}

	return &renderer.FullShaders{
		Backdrop: add(shaders.Collection.Backdrop, cpu.Backdrop),
	}
}
