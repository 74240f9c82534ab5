package wgpu_engine

// OPT reuse bind groups

import (
	"fmt"
	"math"
	"math/bits"

	"honnef.co/go/backdrop/engine/wgpu_engine/shaders/cpu"
	"honnef.co/go/backdrop/renderer"
	"honnef.co/go/wgpu"
)

type uninitializedShader struct {
	Wgsl     []byte
	Label    string
	Entries  []wgpu.BindGroupLayoutEntry
	ShaderID renderer.ShaderID
}

type Engine struct {
	Device              *wgpu.Device
	shaders             []shader
	pool                resourcePool
	bindMap             bindMap
	downloads           map[renderer.ResourceID]*wgpu.Buffer
	shadersToInitialize []uninitializedShader
	UseCPU              bool

	fullShaders *renderer.FullShaders
}

type wgpuShader struct {
	label           string
	pipeline        *wgpu.ComputePipeline
	bindGroupLayout *wgpu.BindGroupLayout
}

type cpuShader struct {
	shader func(uint32, []cpu.CPUBinding) error
}

type shader struct {
	Label string
	WGPU  *wgpuShader
	CPU   *cpuShader
}

func (s shader) Select() any {
	if s.CPU != nil {
		return s.CPU
	} else if s.WGPU != nil {
		return s.WGPU
	} else {
		panic(fmt.Sprintf("no available shader for %s", s.Label))
	}
}

type ExternalResource interface {
	// Currently always ExternalBuffer
}

// ExternalBuffer maps a proxy to a caller-owned GPU buffer, bypassing the
// engine's buffer pool.
type ExternalBuffer struct {
	Proxy  renderer.BufferProxy
	Buffer *wgpu.Buffer
}

type materializedBuffer interface {
	// One of *wgpu.Buffer and []byte
}

type bindMapBuffer struct {
	Buffer materializedBuffer
	Label  string
}

type bindMap struct {
	bufMap        map[renderer.ResourceID]*bindMapBuffer
	pendingClears map[renderer.ResourceID]struct{}
}

type bufferProperties struct {
	size   uint64
	usages wgpu.BufferUsage
}

type resourcePool struct {
	bufs map[bufferProperties][]*wgpu.Buffer
}

type transientBindMap struct {
	bufs map[renderer.ResourceID]transientBuf
}

type transientBuf interface {
	// One of []byte and *wgpu.Buffer
}

func (eng *Engine) UseParallelInitialization() {
	if eng.shadersToInitialize != nil {
		return
	}
	eng.shadersToInitialize = []uninitializedShader{}
}

func (eng *Engine) buildShadersIfNeeded(numThreads int) {
	if eng.shadersToInitialize == nil {
		return
	}
	newShaders := eng.shadersToInitialize
	// XXX implement parallelism
	for _, s := range newShaders {
		sh := eng.createComputePipeline(s.Label, s.Wgsl, s.Entries)
		if int(s.ShaderID) >= len(eng.shaders) {
			if cap(eng.shaders) <= int(s.ShaderID) {
				c := make([]shader, s.ShaderID+1)
				copy(c, eng.shaders)
				eng.shaders = c
			} else {
				eng.shaders = eng.shaders[:s.ShaderID+1]
			}
		}
		eng.shaders[s.ShaderID] = shader{Label: s.Label, WGPU: &sh}
	}
	eng.shadersToInitialize = nil
}

func (eng *Engine) addShader(
	label string,
	wgsl []byte,
	layout []renderer.BindType,
	cpuKernel func(uint32, []cpu.CPUBinding) error,
) renderer.ShaderID {
	add := func(shader shader) renderer.ShaderID {
		id := len(eng.shaders)
		eng.shaders = append(eng.shaders, shader)
		return renderer.ShaderID(id)
	}

	if eng.UseCPU {
		if cpuKernel == nil {
			panic(fmt.Sprintf("no CPU implementation for %s", label))
		}
		return add(shader{
			Label: label,
			CPU:   &cpuShader{shader: cpuKernel},
		})
	}

	entries := make([]wgpu.BindGroupLayoutEntry, len(layout))
	for i, bindType := range layout {
		switch bindType {
		case renderer.BindTypeBuffer, renderer.BindTypeBufReadOnly:
			var typ wgpu.BufferBindingType
			if bindType == renderer.BindTypeBuffer {
				typ = wgpu.BufferBindingTypeStorage
			} else {
				typ = wgpu.BufferBindingTypeReadOnlyStorage
			}
			entries[i] = wgpu.BindGroupLayoutEntry{
				Binding:    uint32(i),
				Visibility: wgpu.ShaderStageCompute,
				Buffer: &wgpu.BufferBindingLayout{
					Type:             typ,
					HasDynamicOffset: false,
					MinBindingSize:   0,
				},
			}
		case renderer.BindTypeUniform:
			entries[i] = wgpu.BindGroupLayoutEntry{
				Binding:    uint32(i),
				Visibility: wgpu.ShaderStageCompute,
				Buffer: &wgpu.BufferBindingLayout{
					Type:             wgpu.BufferBindingTypeUniform,
					HasDynamicOffset: false,
					MinBindingSize:   0,
				},
			}
		default:
			panic(fmt.Sprintf("invalid bind type %d", bindType))
		}
	}

	if eng.shadersToInitialize != nil {
		id := add(shader{Label: label})
		eng.shadersToInitialize = append(eng.shadersToInitialize, uninitializedShader{
			Wgsl:     wgsl,
			Label:    label,
			Entries:  entries,
			ShaderID: id,
		})
		return id
	}

	sh := eng.createComputePipeline(label, wgsl, entries)
	return add(shader{
		Label: label,
		WGPU:  &sh,
	})
}

// RunRecording executes a recording. On the GPU backend, commands are
// encoded and submitted to queue. On the CPU backend, dispatches run
// synchronously in order, writing through the uploaded byte slices, and
// queue may be nil.
//
// Binding and bounds violations detected by CPU kernels abort the run with
// an error before the offending dispatch mutates anything.
func (eng *Engine) RunRecording(
	queue *wgpu.Queue,
	recording *renderer.Recording,
	externalResources []ExternalResource,
	label string,
) error {
	freeBufs := map[renderer.ResourceID]struct{}{}
	transientMap := newTransientBindMap(externalResources)

	var encoder *wgpu.CommandEncoder
	if !eng.UseCPU {
		encoder = eng.Device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
		defer encoder.Release()
	}

	var runErr error
	for _, cmd := range recording.Commands {
		if runErr != nil {
			// Keep honoring frees so that a failed run still releases its
			// buffers.
			if free, ok := cmd.(*renderer.FreeBuffer); ok {
				freeBufs[free.Buffer.ID] = struct{}{}
			}
			continue
		}
		switch cmd := cmd.(type) {
		case *renderer.Upload:
			bufProxy := cmd.Buffer
			bytes := cmd.Data
			transientMap.bufs[bufProxy.ID] = bytes
			if eng.UseCPU {
				eng.bindMap.bufMap[bufProxy.ID] = &bindMapBuffer{
					Buffer: bytes,
					Label:  bufProxy.Name,
				}
			} else {
				usage := wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst | wgpu.BufferUsageStorage
				buf := eng.pool.getBuf(bufProxy.Size, bufProxy.Name, usage, eng.Device)
				queue.WriteBuffer(buf, 0, bytes)
				eng.bindMap.insertBuf(bufProxy, buf)
			}

		case *renderer.UploadUniform:
			bufProxy := cmd.Buffer
			bytes := cmd.Data
			transientMap.bufs[bufProxy.ID] = bytes
			if eng.UseCPU {
				eng.bindMap.bufMap[bufProxy.ID] = &bindMapBuffer{
					Buffer: bytes,
					Label:  bufProxy.Name,
				}
			} else {
				usage := wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
				buf := eng.pool.getBuf(bufProxy.Size, bufProxy.Name, usage, eng.Device)
				queue.WriteBuffer(buf, 0, bytes)
				eng.bindMap.insertBuf(bufProxy, buf)
			}

		case *renderer.Dispatch:
			sh := eng.shaders[cmd.Shader]
			switch s := sh.Select().(type) {
			case *cpuShader:
				resources := transientMap.createCPUResources(&eng.bindMap, cmd.Bindings)
				if err := s.shader(cmd.WorkgroupSize[0], resources); err != nil {
					runErr = fmt.Errorf("%s: %s: %w", label, sh.Label, err)
				}
			case *wgpuShader:
				bindGroup := transientMap.createBindGroup(
					&eng.bindMap,
					&eng.pool,
					eng.Device,
					queue,
					encoder,
					s.bindGroupLayout,
					cmd.Bindings,
				)

				cpass := encoder.BeginComputePass(&wgpu.ComputePassDescriptor{
					Label: sh.Label,
				})
				cpass.SetPipeline(s.pipeline)
				cpass.SetBindGroup(0, bindGroup, nil)
				cpass.DispatchWorkgroups(cmd.WorkgroupSize[0], cmd.WorkgroupSize[1], cmd.WorkgroupSize[2])
				cpass.End()
				bindGroup.Release()
				cpass.Release()
			default:
				panic(fmt.Sprintf("unhandled type %T", s))
			}

		case *renderer.Download:
			proxy := cmd.Buffer
			srcBuf, ok := eng.bindMap.getGPUBuf(proxy.ID)
			if !ok {
				panic("tried using unavailable buffer for download")
			}
			usage := wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst
			buf := eng.pool.getBuf(proxy.Size, "download", usage, eng.Device)
			encoder.CopyBufferToBuffer(srcBuf, 0, buf, 0, proxy.Size)
			eng.downloads[proxy.ID] = buf

		case *renderer.Clear:
			proxy := cmd.Buffer
			offset := cmd.Offset
			size := cmd.Size
			if buf, ok := eng.bindMap.getBuf(proxy); ok {
				switch b := buf.Buffer.(type) {
				case *wgpu.Buffer:
					encoder.ClearBuffer(b, offset, uint64(size))
				case []byte:
					slice := b[offset:]
					if size >= 0 {
						slice = slice[:size]
					}
					clear(slice)
				default:
					panic(fmt.Sprintf("unhandled type %T", b))
				}
			} else {
				eng.bindMap.pendingClears[proxy.ID] = struct{}{}
			}

		case *renderer.FreeBuffer:
			freeBufs[cmd.Buffer.ID] = struct{}{}

		default:
			panic(fmt.Sprintf("unhandled command %T", cmd))
		}
	}

	if !eng.UseCPU && runErr == nil {
		cmd := encoder.Finish(nil)
		queue.Submit(cmd)
		cmd.Release()
	}

	for id := range freeBufs {
		buf, ok := eng.bindMap.bufMap[id]
		if ok {
			delete(eng.bindMap.bufMap, id)
			if gpuBuf, ok := buf.Buffer.(*wgpu.Buffer); ok {
				props := bufferProperties{
					size:   gpuBuf.Size(),
					usages: gpuBuf.Usage(),
				}
				// TODO(dh): add a method to resourcePool to return buffers
				eng.pool.bufs[props] = append(eng.pool.bufs[props], gpuBuf)
			}
		}
	}
	return runErr
}

// GetDownload returns the mappable staging buffer a Download command copied
// a buffer into.
func (eng *Engine) GetDownload(buf renderer.BufferProxy) (*wgpu.Buffer, bool) {
	got, ok := eng.downloads[buf.ID]
	return got, ok
}

func (eng *Engine) FreeDownload(buf renderer.BufferProxy) {
	delete(eng.downloads, buf.ID)
}

func (eng *Engine) createComputePipeline(
	label string,
	wgsl []byte,
	entries []wgpu.BindGroupLayoutEntry,
) wgpuShader {
	shaderModule := eng.Device.CreateShaderModule(wgpu.ShaderModuleDescriptor{
		Label:  label,
		Source: wgpu.ShaderSourceWGSL(wgsl),
	})
	bindGroupLayout := eng.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Entries: entries,
	})
	computePipelineLayout := eng.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{bindGroupLayout},
	})
	pipeline := eng.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  label,
		Layout: computePipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     shaderModule,
			EntryPoint: "main",
		},
	})
	computePipelineLayout.Release()

	return wgpuShader{
		label:           label,
		pipeline:        pipeline,
		bindGroupLayout: bindGroupLayout,
	}
}

func (m *bindMap) insertBuf(proxy renderer.BufferProxy, buffer *wgpu.Buffer) {
	m.bufMap[proxy.ID] = &bindMapBuffer{
		Buffer: buffer,
		Label:  proxy.Name,
	}
}

func (m *bindMap) getGPUBuf(id renderer.ResourceID) (*wgpu.Buffer, bool) {
	mbuf, ok := m.bufMap[id]
	if !ok {
		return nil, false
	}
	buf, ok := mbuf.Buffer.(*wgpu.Buffer)
	return buf, ok
}

func (m *bindMap) getCPUBuf(id renderer.ResourceID) cpu.CPUBinding {
	buf, ok := m.bufMap[id].Buffer.([]byte)
	if !ok {
		panic("getting CPU buffer, but it's on GPU")
	}
	return cpu.CPUBuffer(buf)
}

func (m *bindMap) materializeCPUBuf(proxy renderer.BufferProxy) {
	if _, ok := m.bufMap[proxy.ID]; !ok {
		// A fresh allocation is zeroed, which satisfies any clear recorded
		// before the buffer existed.
		delete(m.pendingClears, proxy.ID)
		buffer := make([]byte, proxy.Size)
		m.bufMap[proxy.ID] = &bindMapBuffer{
			Buffer: buffer,
			Label:  proxy.Name,
		}
	}
}

func (m *bindMap) getBuf(proxy renderer.BufferProxy) (*bindMapBuffer, bool) {
	b, ok := m.bufMap[proxy.ID]
	return b, ok
}

func (pool *resourcePool) getBuf(
	size uint64,
	name string,
	usage wgpu.BufferUsage,
	dev *wgpu.Device,
) *wgpu.Buffer {
	const sizeClassBits = 1

	roundedSize := poolSizeClass(size, sizeClassBits)
	props := bufferProperties{
		size:   roundedSize,
		usages: usage,
	}
	if bufVec, ok := pool.bufs[props]; ok {
		if len(bufVec) > 0 {
			buf := bufVec[len(bufVec)-1]
			bufVec = bufVec[:len(bufVec)-1]
			pool.bufs[props] = bufVec
			return buf
		}
	}
	return dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: name,
		Size:  roundedSize,
		Usage: usage,
	})
}

func poolSizeClass(x uint64, numBits uint32) uint64 {
	if x > 1<<numBits {
		a := bits.LeadingZeros64(x - 1)
		b := (x - 1) | (((math.MaxUint64 / 2) >> numBits) >> a)
		return b + 1
	} else {
		return 1 << numBits
	}
}

func (b *bindMapBuffer) uploadIfNeeded(
	proxy renderer.BufferProxy,
	dev *wgpu.Device,
	queue *wgpu.Queue,
	pool *resourcePool,
) {
	cpuBuf, ok := b.Buffer.([]byte)
	if !ok {
		return
	}
	usage := wgpu.BufferUsageCopySrc |
		wgpu.BufferUsageCopyDst |
		wgpu.BufferUsageStorage
	buf := pool.getBuf(proxy.Size, proxy.Name, usage, dev)
	queue.WriteBuffer(buf, 0, cpuBuf)
	b.Buffer = buf
}

func newTransientBindMap(externalResources []ExternalResource) transientBindMap {
	bufs := map[renderer.ResourceID]transientBuf{}
	for _, res := range externalResources {
		switch res := res.(type) {
		case ExternalBuffer:
			bufs[res.Proxy.ID] = res.Buffer
		default:
			panic(fmt.Sprintf("unhandled type %T", res))
		}
	}
	return transientBindMap{
		bufs: bufs,
	}
}

func (m *transientBindMap) createBindGroup(
	bindMap *bindMap,
	pool *resourcePool,
	dev *wgpu.Device,
	queue *wgpu.Queue,
	encoder *wgpu.CommandEncoder,
	layout *wgpu.BindGroupLayout,
	bindings []renderer.ResourceProxy,
) *wgpu.BindGroup {
	for _, proxy := range bindings {
		switch proxy := proxy.(type) {
		case renderer.BufferProxy:
			if _, ok := m.bufs[proxy.ID]; ok {
				continue
			}
			if o, ok := bindMap.bufMap[proxy.ID]; ok {
				o.uploadIfNeeded(proxy, dev, queue, pool)
			} else {
				usage := wgpu.BufferUsageCopySrc |
					wgpu.BufferUsageCopyDst |
					wgpu.BufferUsageStorage
				buf := pool.getBuf(proxy.Size, proxy.Name, usage, dev)
				if _, ok := bindMap.pendingClears[proxy.ID]; ok {
					delete(bindMap.pendingClears, proxy.ID)
					encoder.ClearBuffer(buf, 0, buf.Size())
				}
				bindMap.bufMap[proxy.ID] = &bindMapBuffer{
					Buffer: buf,
					Label:  proxy.Name,
				}
			}
		default:
			panic(fmt.Sprintf("unhandled type %T", proxy))
		}
	}

	entries := make([]wgpu.BindGroupEntry, len(bindings))
	for i, proxy := range bindings {
		switch proxy := proxy.(type) {
		case renderer.BufferProxy:
			var buf *wgpu.Buffer
			switch b := m.bufs[proxy.ID].(type) {
			case *wgpu.Buffer:
				buf = b
			default:
				var ok bool
				buf, ok = bindMap.getGPUBuf(proxy.ID)
				if !ok {
					panic("unexpected ok == false")
				}
			}
			entries[i] = wgpu.BindGroupEntry{
				Binding: uint32(i),
				Buffer:  buf,
				Size:    ^uint64(0),
			}
		default:
			panic(fmt.Sprintf("unhandled type %T", proxy))
		}
	}

	return dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Layout:  layout,
		Entries: entries,
	})
}

// createCPUResources resolves proxies to the byte slices backing them, in
// binding order. Uploaded buffers alias the upload's data; scratch buffers
// are materialized on first use.
func (m *transientBindMap) createCPUResources(
	bindMap *bindMap,
	bindings []renderer.ResourceProxy,
) []cpu.CPUBinding {
	for _, resource := range bindings {
		switch resource := resource.(type) {
		case renderer.BufferProxy:
			switch tbuf := m.bufs[resource.ID].(type) {
			case []byte:
			case *wgpu.Buffer:
				panic("buffer was already materialized on GPU")
			case nil:
				bindMap.materializeCPUBuf(resource)
			default:
				panic(fmt.Sprintf("unhandled type %T", tbuf))
			}
		default:
			panic(fmt.Sprintf("unhandled type %T", resource))
		}
	}

	out := make([]cpu.CPUBinding, len(bindings))
	for i, resource := range bindings {
		switch resource := resource.(type) {
		case renderer.BufferProxy:
			switch tbuf := m.bufs[resource.ID].(type) {
			case []byte:
				out[i] = cpu.CPUBuffer(tbuf)
			default:
				out[i] = bindMap.getCPUBuf(resource.ID)
			}
		default:
			panic(fmt.Sprintf("unhandled type %T", resource))
		}
	}
	return out
}
