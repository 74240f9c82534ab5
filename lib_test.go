package backdrop

import (
	"testing"

	"honnef.co/go/backdrop/renderer"
)

func TestRenderBackdropCPU(t *testing.T) {
	r := NewRenderer(nil, &RendererOptions{UseCPU: true})

	// Two draw objects with disjoint tile blocks in a shared buffer.
	layout := renderer.Layout{NumDrawObjects: 2, NumPaths: 2}
	config := renderer.NewRenderConfig(&layout, 64, 48, nil, 6)
	paths := []renderer.Path{
		{Bbox: [4]uint32{0, 0, 2, 1}, Tiles: 0},
		{Bbox: [4]uint32{1, 1, 3, 3}, Tiles: 2},
	}
	tiles := []renderer.Tile{
		{Backdrop: 1}, {Backdrop: -1},
		{Backdrop: 2}, {Backdrop: 2},
		{Backdrop: -3}, {Backdrop: 3},
	}

	if _, err := r.RenderBackdrop(nil, config, paths, tiles); err != nil {
		t.Fatalf("RenderBackdrop: %v", err)
	}

	want := []int32{1, 0, 2, 4, -3, 0}
	for i, w := range want {
		if tiles[i].Backdrop != w {
			t.Errorf("tile %d: got backdrop %d, want %d", i, tiles[i].Backdrop, w)
		}
	}
}

func TestRenderBackdropCPUReportsViolations(t *testing.T) {
	r := NewRenderer(nil, &RendererOptions{UseCPU: true})

	layout := renderer.Layout{NumDrawObjects: 1, NumPaths: 1}
	config := renderer.NewRenderConfig(&layout, 64, 48, nil, 2)
	paths := []renderer.Path{{Bbox: [4]uint32{0, 0, 4, 4}, Tiles: 0}}
	tiles := make([]renderer.Tile, 2)

	if _, err := r.RenderBackdrop(nil, config, paths, tiles); err == nil {
		t.Fatal("expected an error for an oversized tile block")
	}
}
