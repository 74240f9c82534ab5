package wgpu_engine

import (
	"errors"
	"testing"

	"honnef.co/go/backdrop/engine/wgpu_engine/shaders"
	"honnef.co/go/backdrop/engine/wgpu_engine/shaders/cpu"
	"honnef.co/go/backdrop/renderer"
	"honnef.co/go/safeish"
	"honnef.co/go/wgpu"
)

func TestRunRecordingCPU(t *testing.T) {
	eng := New(nil, &RendererOptions{UseCPU: true})

	layout := renderer.Layout{NumDrawObjects: 1, NumPaths: 1}
	config := renderer.NewRenderConfig(&layout, 32, 32, nil, 4)
	paths := []renderer.Path{{Bbox: [4]uint32{0, 0, 2, 2}, Tiles: 0}}
	tiles := []renderer.Tile{
		{Backdrop: 1}, {Backdrop: 2},
		{Backdrop: 3}, {Backdrop: 4},
	}

	var rec renderer.Recording
	renderer.RecordBackdrop(&rec, eng.Shaders(), config, paths, tiles)
	if err := eng.RunRecording(nil, &rec, nil, "test"); err != nil {
		t.Fatalf("RunRecording: %v", err)
	}

	// Uploads alias the caller's slices, so the dispatch wrote the result
	// into tiles directly.
	want := []int32{1, 3, 3, 7}
	for i, w := range want {
		if tiles[i].Backdrop != w {
			t.Errorf("tile %d: got backdrop %d, want %d", i, tiles[i].Backdrop, w)
		}
	}
}

func TestRunRecordingCPUPropagatesKernelError(t *testing.T) {
	eng := New(nil, &RendererOptions{UseCPU: true})

	layout := renderer.Layout{NumDrawObjects: 1, NumPaths: 1}
	config := renderer.NewRenderConfig(&layout, 32, 32, nil, 1)
	// The 2x2 block does not fit in a single tile.
	paths := []renderer.Path{{Bbox: [4]uint32{0, 0, 2, 2}, Tiles: 0}}
	tiles := []renderer.Tile{{Backdrop: 9}}

	var rec renderer.Recording
	renderer.RecordBackdrop(&rec, eng.Shaders(), config, paths, tiles)
	err := eng.RunRecording(nil, &rec, nil, "test")
	if !errors.Is(err, cpu.ErrBounds) {
		t.Fatalf("got error %v, want %v", err, cpu.ErrBounds)
	}
	if tiles[0].Backdrop != 9 {
		t.Error("failed dispatch mutated the tile buffer")
	}
}

// A failed run must still honor the recording's frees; bindings from a
// failed dispatch must not accumulate in the engine.
func TestRunRecordingCPUErrorReleasesBuffers(t *testing.T) {
	eng := New(nil, &RendererOptions{UseCPU: true})

	layout := renderer.Layout{NumDrawObjects: 1, NumPaths: 1}
	config := renderer.NewRenderConfig(&layout, 32, 32, nil, 1)
	paths := []renderer.Path{{Bbox: [4]uint32{0, 0, 2, 2}, Tiles: 0}}
	tiles := make([]renderer.Tile, 1)

	var rec renderer.Recording
	tileBuf := renderer.RecordBackdrop(&rec, eng.Shaders(), config, paths, tiles)
	rec.FreeBuffer(tileBuf)
	if err := eng.RunRecording(nil, &rec, nil, "test"); err == nil {
		t.Fatal("expected an error for an oversized tile block")
	}
	if len(eng.bindMap.bufMap) != 0 {
		t.Errorf("%d bindings retained after a failed run", len(eng.bindMap.bufMap))
	}
}

func TestRunRecordingCPUClear(t *testing.T) {
	eng := New(nil, &RendererOptions{UseCPU: true})

	data := []byte{1, 2, 3, 4}
	var rec renderer.Recording
	buf := rec.Upload("scratch", data)
	rec.ClearAll(buf)
	if err := eng.RunRecording(nil, &rec, nil, "test"); err != nil {
		t.Fatalf("RunRecording: %v", err)
	}
	// The upload aliases data, so the clear writes through to it.
	for i, b := range data {
		if b != 0 {
			t.Errorf("byte %d is %d after clear, want 0", i, b)
		}
	}
}

// A clear recorded before the buffer exists is tracked and satisfied when
// the buffer is materialized for a dispatch.
func TestRunRecordingCPUPendingClear(t *testing.T) {
	eng := New(nil, &RendererOptions{UseCPU: true})

	layout := renderer.Layout{NumDrawObjects: 1, NumPaths: 1}
	config := renderer.NewRenderConfig(&layout, 32, 32, nil, 4)
	paths := []renderer.Path{{Bbox: [4]uint32{0, 0, 2, 2}, Tiles: 0}}

	var rec renderer.Recording
	cfgBuf := rec.UploadUniform("config", safeish.AsBytes(config.Gpu()))
	pathBuf := rec.Upload("paths", safeish.SliceCast[[]byte](paths))
	tileBuf := renderer.NewBufferProxy(4*8, "tiles")
	rec.ClearAll(tileBuf)
	rec.Dispatch(eng.Shaders().Backdrop, config.WorkgroupCounts().Backdrop,
		[]renderer.ResourceProxy{cfgBuf, pathBuf, tileBuf})
	if err := eng.RunRecording(nil, &rec, nil, "test"); err != nil {
		t.Fatalf("RunRecording: %v", err)
	}
	if len(eng.bindMap.pendingClears) != 0 {
		t.Errorf("%d pending clears left after the buffer was materialized", len(eng.bindMap.pendingClears))
	}
	got := eng.bindMap.getCPUBuf(tileBuf.ID).(cpu.CPUBuffer)
	if uint64(len(got)) != tileBuf.Size {
		t.Fatalf("materialized buffer holds %d bytes, want %d", len(got), tileBuf.Size)
	}
	for i, b := range got {
		if b != 0 {
			t.Errorf("byte %d is %d, want 0", i, b)
		}
	}
}

// With parallel initialization enabled, registration only queues shaders;
// pipelines are built in one batch afterwards.
func TestParallelInitializationDefersPipelines(t *testing.T) {
	eng := &Engine{
		pool: resourcePool{
			bufs: map[bufferProperties][]*wgpu.Buffer{},
		},
		bindMap: bindMap{
			bufMap:        map[renderer.ResourceID]*bindMapBuffer{},
			pendingClears: map[renderer.ResourceID]struct{}{},
		},
		downloads: map[renderer.ResourceID]*wgpu.Buffer{},
	}
	eng.UseParallelInitialization()

	s := shaders.Collection.Backdrop
	id := eng.addShader(s.Name, s.WGSL,
		[]renderer.BindType{renderer.BindTypeUniform, renderer.BindTypeBufReadOnly, renderer.BindTypeBuffer}, nil)
	if sh := eng.shaders[id]; sh.WGPU != nil || sh.CPU != nil {
		t.Error("pipeline was built during registration")
	}
	if len(eng.shadersToInitialize) != 1 {
		t.Fatalf("%d shaders queued, want 1", len(eng.shadersToInitialize))
	}
	if queued := eng.shadersToInitialize[0]; queued.ShaderID != id || queued.Label != s.Name {
		t.Errorf("queued shader is (%d, %q), want (%d, %q)", queued.ShaderID, queued.Label, id, s.Name)
	}
}

func TestEngineRegistersCPUShaders(t *testing.T) {
	eng := New(nil, &RendererOptions{UseCPU: true})
	id := eng.Shaders().Backdrop
	sh := eng.shaders[id]
	if _, ok := sh.Select().(*cpuShader); !ok {
		t.Fatalf("shader %q selected %T, want a CPU shader", sh.Label, sh.Select())
	}
}

func TestPoolSizeClass(t *testing.T) {
	tests := []struct {
		in   uint64
		want uint64
	}{
		{0, 2},
		{1, 2},
		{2, 2},
		{3, 3},
		{4, 4},
		{5, 6},
		{1023, 1024},
		{1025, 1536},
	}
	for _, tt := range tests {
		if got := poolSizeClass(tt.in, 1); got != tt.want {
			t.Errorf("poolSizeClass(%d, 1) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
